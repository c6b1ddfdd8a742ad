// Package bot answers owner-only Telegram commands for run history and
// retraction.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"postbot/internal/retention"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
	"postbot/pkg/tgui"
)

type RunRetractor interface {
	RetractRun(ctx context.Context, runID string) (retention.Outcome, error)
	Sweep(ctx context.Context) (retention.Outcome, error)
}

type Request struct {
	Msg  *kit.Message
	Chat kit.ChatTarget
	Args []string
}

type HandlerFunc func(ctx context.Context, req *Request) (tgui.H, error)

type Command struct {
	Name        string
	Usage       string
	Description string
	Handle      HandlerFunc
}

type Bot struct {
	msg     kit.Messenger
	store   storage.Store
	runs    RunRetractor
	log     logx.Logger
	timeout time.Duration

	mu     sync.RWMutex
	owners []int64

	cmds map[string]Command
}

func New(msg kit.Messenger, store storage.Store, runs RunRetractor, owners []int64, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		msg:     msg,
		store:   store,
		runs:    runs,
		log:     log.With(logx.String("comp", "bot")),
		timeout: 2 * time.Minute,
		owners:  slices.Clone(owners),
		cmds:    map[string]Command{},
	}
	b.register(
		Command{Name: "help", Description: "list commands", Handle: b.help},
		Command{Name: "runs", Usage: "[n]", Description: "recent runs", Handle: b.listRuns},
		Command{Name: "run", Usage: "<id>", Description: "run details", Handle: b.showRun},
		Command{Name: "retract", Usage: "<id>", Description: "delete every live post of a run", Handle: b.retract},
		Command{Name: "sweep", Description: "retract posts past retention age now", Handle: b.sweep},
	)
	b.cmds["start"] = b.cmds["help"]
	return b
}

func (b *Bot) register(cmds ...Command) {
	for _, c := range cmds {
		b.cmds[c.Name] = c
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (b *Bot) SetOwners(owners []int64) {
	b.mu.Lock()
	b.owners = slices.Clone(owners)
	b.mu.Unlock()
}

func (b *Bot) isOwner(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Contains(b.owners, id)
}

// Run consumes updates until ctx is done or the channel closes.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				b.Handle(ctx, up.Message)
			}
		}
	}
}

// Handle dispatches one message. Non-commands and non-owners are ignored.
func (b *Bot) Handle(ctx context.Context, m *kit.Message) {
	toks := tokenize(m.Text)
	if len(toks) == 0 {
		return
	}
	name, ok := commandName(toks[0])
	if !ok {
		return
	}
	cmd, ok := b.cmds[name]
	if !ok {
		return
	}
	log := b.log.With(logx.String("cmd", name), logx.Int64("from", m.FromID))
	if !b.isOwner(m.FromID) {
		log.Debug("command denied (not owner)")
		return
	}

	req := &Request{
		Msg:  m,
		Chat: kit.ChatTarget{ChatID: strconv.FormatInt(m.ChatID, 10)},
		Args: toks[1:],
	}
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	out, err := b.invoke(cctx, cmd, req)
	if err != nil {
		log.Warn("command failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		out = tgui.Concat("⚠️ ", tgui.Esc(err.Error()))
	} else {
		log.Debug("command done", logx.Duration("took", time.Since(start)))
	}
	if out == "" {
		return
	}
	if _, err := b.msg.SendText(cctx, req.Chat, out.String(), &kit.SendOptions{ParseMode: tgui.ParseModeHTML, DisablePreview: true}); err != nil {
		log.Warn("reply failed", logx.Err(err))
	}
}

func (b *Bot) invoke(ctx context.Context, cmd Command, req *Request) (out tgui.H, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cmd.Handle(ctx, req)
}

func (b *Bot) help(context.Context, *Request) (tgui.H, error) {
	names := make([]string, 0, len(b.cmds))
	for n := range b.cmds {
		if n != "start" {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	lines := []tgui.H{tgui.B("Commands")}
	for _, n := range names {
		c := b.cmds[n]
		usage := "/" + c.Name
		if c.Usage != "" {
			usage += " " + c.Usage
		}
		lines = append(lines, tgui.Concat(tgui.Code(usage), " ", tgui.Esc(c.Description)))
	}
	return tgui.JoinH("\n", lines...), nil
}

func (b *Bot) listRuns(ctx context.Context, req *Request) (tgui.H, error) {
	if b.store == nil {
		return "", storage.ErrDisabled
	}
	n := 10
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 || v > 50 {
			return "", errors.New("usage: /runs [1..50]")
		}
		n = v
	}
	runs, err := b.store.RecentRuns(ctx, n)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return tgui.I("No runs recorded."), nil
	}
	lines := []tgui.H{tgui.B("Recent runs")}
	for _, r := range runs {
		mark := "✅"
		if !r.Success {
			mark = "❌"
		}
		lines = append(lines, tgui.Concat(tgui.H(mark), " ", tgui.Code(r.ID), " ", tgui.Esc(r.FinishedAt.UTC().Format("2006-01-02 15:04"))))
	}
	return tgui.JoinH("\n", lines...), nil
}

func (b *Bot) showRun(ctx context.Context, req *Request) (tgui.H, error) {
	if b.store == nil {
		return "", storage.ErrDisabled
	}
	if len(req.Args) != 1 {
		return "", errors.New("usage: /run <id>")
	}
	r, err := b.store.GetRun(ctx, req.Args[0])
	if err != nil {
		return "", err
	}
	live, err := b.store.LivePosts(ctx, r.ID)
	if err != nil {
		return "", err
	}
	status := "success"
	if !r.Success {
		status = "failed"
	}
	lines := []tgui.H{
		tgui.Concat(tgui.B("Run "), tgui.Code(r.ID)),
		tgui.Concat("Status: ", tgui.Esc(status)),
		tgui.Concat("Source: ", tgui.Esc(r.SourceLink)),
	}
	if r.FinalURL != "" {
		lines = append(lines, tgui.Concat("Final: ", tgui.Esc(r.FinalURL)))
	}
	if r.Error != "" {
		lines = append(lines, tgui.Concat("Error: ", tgui.I(r.Error)))
	}
	lines = append(lines, tgui.Esc(fmt.Sprintf("Live posts: %d", len(live))))
	return tgui.JoinH("\n", lines...), nil
}

func (b *Bot) retract(ctx context.Context, req *Request) (tgui.H, error) {
	if b.runs == nil {
		return "", storage.ErrDisabled
	}
	if len(req.Args) != 1 {
		return "", errors.New("usage: /retract <id>")
	}
	out, err := b.runs.RetractRun(ctx, req.Args[0])
	if err != nil {
		return "", err
	}
	return outcomeText("Retracted", out), nil
}

func (b *Bot) sweep(ctx context.Context, _ *Request) (tgui.H, error) {
	if b.runs == nil {
		return "", storage.ErrDisabled
	}
	out, err := b.runs.Sweep(ctx)
	if err != nil {
		return "", err
	}
	return outcomeText("Swept", out), nil
}

func outcomeText(verb string, out retention.Outcome) tgui.H {
	h := tgui.Concat(tgui.B(verb), tgui.Esc(fmt.Sprintf(" %d/%d posts", out.Retracted, out.Attempted)))
	if out.Error != "" {
		h = tgui.Concat(h, "\n", tgui.Pre(strings.TrimSpace(out.Error)))
	}
	return h
}
