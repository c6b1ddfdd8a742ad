// Package report renders the operator summary of a run and delivers it to
// the admin chat.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"postbot/internal/pipeline"
	"postbot/internal/post"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
	"postbot/pkg/tgui"
)

var ErrNoAdminChat = errors.New("report: admin chat not configured")

const rule = "─────────────────"

// Escaped-width budgets for the quoted request, so the whole report fits in
// one Telegram message (4096 chars) and the <pre> block is never split.
const (
	maxQuotedCaption = 2000
	maxQuotedLink    = 400
)

var stageLabels = map[pipeline.Stage]string{
	pipeline.StageDeobfuscate: "Link resolver",
	pipeline.StagePage:        "Content page",
	pipeline.StageLock:        "Lock chain",
	pipeline.StageShorten:     "URL shortener",
	pipeline.StageCaption:     "AI caption",
	pipeline.StageTelegram:    "Telegram",
}

type Reporter struct {
	msg   kit.Messenger
	admin kit.ChatTarget
	log   logx.Logger

	mu    sync.RWMutex
	names map[string]string
}

// New returns a reporter sending to adminChat. names maps channel ids to
// display names.
func New(msg kit.Messenger, adminChat string, names map[string]string, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Reporter{msg: msg, admin: kit.ChatTarget{ChatID: strings.TrimSpace(adminChat)}, log: log.With(logx.String("comp", "report"))}
	r.SetChannelNames(names)
	return r
}

// SetChannelNames swaps the channel directory (config reload).
func (r *Reporter) SetChannelNames(names map[string]string) {
	cp := make(map[string]string, len(names))
	for k, v := range names {
		cp[k] = v
	}
	r.mu.Lock()
	r.names = cp
	r.mu.Unlock()
}

func (r *Reporter) channelName(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n := strings.TrimSpace(r.names[id]); n != "" {
		return n
	}
	return id
}

func (r *Reporter) Report(ctx context.Context, req pipeline.Request, res pipeline.Result) error {
	if r.admin.ChatID == "" {
		return ErrNoAdminChat
	}
	text := r.Render(req, res)
	_, err := r.msg.SendText(ctx, r.admin, text.String(), &kit.SendOptions{ParseMode: tgui.ParseModeHTML, DisablePreview: true})
	if err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	r.log.Debug("report sent", logx.String("run_id", res.RunID))
	return nil
}

// Render builds the report body.
func (r *Reporter) Render(req pipeline.Request, res pipeline.Result) tgui.H {
	var b strings.Builder
	line := func(h tgui.H) { b.WriteString(h.String()); b.WriteByte('\n') }

	if res.Success {
		line(tgui.Concat("✅ ", tgui.B("Post Successful")))
	} else {
		line(tgui.Concat("❌ ", tgui.B("Post Failed")))
	}
	if res.RunID != "" {
		line(tgui.Concat("Run: ", tgui.Code(res.RunID)))
	}
	if res.Error != "" {
		line(tgui.I(res.Error))
	}

	line(rule)
	line(tgui.B("Post Status"))
	if res.Artifacts.Telegram == nil || len(res.Artifacts.Telegram.Results) == 0 {
		line(tgui.I("No Telegram posts attempted."))
	}
	if res.Artifacts.Telegram != nil {
		for _, cr := range res.Artifacts.Telegram.Results {
			line(r.channelLine(cr))
		}
	}

	line(rule)
	line(tgui.B("Pipeline Summary"))
	for _, s := range pipeline.Stages {
		line(tgui.Concat("   ‣ ", tgui.Esc(stageLabels[s]), ": ", tgui.H(mark(res.Status[s]))))
	}

	if links := artifactLines(res.Artifacts); len(links) > 0 {
		line(rule)
		line(tgui.B("Generated Links"))
		for _, l := range links {
			line(l)
		}
	}

	line(rule)
	line(tgui.B("Original Content"))
	quote := "📝 Caption: " + clipEscaped(req.Caption, maxQuotedCaption) + "\n🔗 Link: " + clipEscaped(req.Link, maxQuotedLink)
	b.WriteString(tgui.Pre(quote).String())
	return tgui.H(b.String())
}

func (r *Reporter) channelLine(cr post.ChannelResult) tgui.H {
	name := r.channelName(cr.Channel)
	if cr.Success && cr.MessageID != 0 {
		if u := PostLink(cr.Channel, cr.MessageID); u != "" {
			return tgui.Concat("   ", tgui.Link(name, u), ": ✅")
		}
		return tgui.Concat("   ", tgui.Esc(name), ": ✅")
	}
	out := tgui.Concat("   ", tgui.Esc(name), ": ❌")
	if cr.Error != "" {
		out = tgui.Concat(out, " - ", tgui.I(cr.Error))
	}
	return out
}

func artifactLines(a pipeline.Artifacts) []tgui.H {
	var out []tgui.H
	add := func(icon, label, v string) {
		if v != "" {
			out = append(out, tgui.Concat(tgui.H("   "+icon+" "), tgui.B(label+":"), " ", tgui.Code(v)))
		}
	}
	add("🔗", "Resolved", a.Deobfuscated)
	add("🔗", "Page", a.Page)
	for i, l := range a.Locks {
		add("🔒", fmt.Sprintf("Lock %d", i+1), l)
	}
	add("🔗", "Shortened", a.Short)
	return out
}

// PostLink returns the public deep link of a message, or "" when the channel
// id has no resolvable path.
func PostLink(channel string, messageID int) string {
	switch {
	case strings.HasPrefix(channel, "@") && len(channel) > 1:
		return fmt.Sprintf("https://t.me/%s/%d", channel[1:], messageID)
	case strings.HasPrefix(channel, "-100") && len(channel) > 4:
		return fmt.Sprintf("https://t.me/c/%s/%d", channel[4:], messageID)
	}
	return ""
}

// clipEscaped cuts s on a rune boundary so that its HTML-escaped form stays
// within budget runes, marking the cut with "…".
func clipEscaped(s string, budget int) string {
	if utf8.RuneCountInString(tgui.Esc(s).String()) <= budget {
		return s
	}
	budget-- // room for the marker
	used := 0
	for i, r := range s {
		w := utf8.RuneCountInString(tgui.Esc(string(r)).String())
		if used+w > budget {
			return s[:i] + "…"
		}
		used += w
	}
	return s
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}
