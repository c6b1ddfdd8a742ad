package publish

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// Target is one previously published message.
type Target struct {
	Channel   string `json:"chatId"`
	MessageID int    `json:"messageId"`
}

// Retraction is the outcome of a fan-out delete. Error holds one
// "Channel <id>: <reason>" line per failed deletion.
type Retraction struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Failed  []Target `json:"-"`
}

type Retractor struct {
	msg         kit.Messenger
	concurrency int
	log         logx.Logger
}

func NewRetractor(msg kit.Messenger, concurrency int, log logx.Logger) *Retractor {
	if concurrency <= 0 {
		concurrency = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retractor{msg: msg, concurrency: concurrency, log: log.With(logx.String("comp", "retract"))}
}

// Retract deletes every target independently.
func (r *Retractor) Retract(ctx context.Context, targets []Target) Retraction {
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, t := range targets {
		g.Go(func() error {
			errs[i] = r.deleteOne(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	out := Retraction{Success: true}
	var lines []string
	for i, err := range errs {
		if err == nil {
			continue
		}
		out.Success = false
		out.Failed = append(out.Failed, targets[i])
		lines = append(lines, fmt.Sprintf("Channel %s: %v", targets[i].Channel, err))
	}
	out.Error = strings.Join(lines, "\n")
	r.log.Info("retraction done",
		logx.Int("targets", len(targets)),
		logx.Int("failed", len(out.Failed)),
	)
	return out
}

func (r *Retractor) deleteOne(ctx context.Context, t Target) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if err := r.msg.Delete(ctx, kit.MessageRef{ChatID: t.Channel, MessageID: t.MessageID}); err != nil {
		r.log.Warn("delete failed", logx.String("channel", t.Channel), logx.Int("message_id", t.MessageID), logx.Err(err))
		return err
	}
	return nil
}
