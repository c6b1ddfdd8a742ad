// Package publish fans content out to messaging channels and retracts it
// later. Every channel is attempted independently; one failure never blocks
// or cancels another.
package publish

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"postbot/internal/pick"
	"postbot/internal/post"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// DefaultVIPTitles are the decorative labels of the promotional button.
var DefaultVIPTitles = []string{
	"💎 Join VIP Megas 💎",
	"✨ Join VIP Megas ✨",
	"🚀 Join VIP Megas 🚀",
	"🔥 Join VIP Megas 🔥",
	"🌟 Join VIP Megas 🌟",
	"💖 Join VIP Megas 💖",
}

const (
	DefaultPremiumText = "👑 Premium Content 👑"
	DefaultPremiumURL  = "https://t.me/+WxLO3q9bnxJkYTZk"
	DefaultVIPURL      = "https://t.me/+JhcI36kVQedlNWM8"
)

// Buttons configures the fixed keyboard rows.
type Buttons struct {
	PremiumText string
	PremiumURL  string
	VIPTitles   []string
	VIPURL      string
}

type Config struct {
	// Concurrency bounds in-flight sends; zero means 4.
	Concurrency int
	// RatePerSec throttles sends across all channels; zero disables it.
	RatePerSec float64
	Burst      int
	Buttons    Buttons
}

// Post is one delivery job: the same photo and caption to every channel.
type Post struct {
	Photo      kit.Photo
	Caption    string
	Link       string
	Channels   []string
	Buttons    bool
	Placement  post.Placement
	ButtonText string
}

type Publisher struct {
	msg     kit.Messenger
	cfg     Config
	picker  pick.Picker
	limiter *rate.Limiter
	log     logx.Logger
}

func New(msg kit.Messenger, cfg Config, picker pick.Picker, log logx.Logger) *Publisher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Buttons.PremiumText == "" {
		cfg.Buttons.PremiumText = DefaultPremiumText
	}
	if cfg.Buttons.PremiumURL == "" {
		cfg.Buttons.PremiumURL = DefaultPremiumURL
	}
	if len(cfg.Buttons.VIPTitles) == 0 {
		cfg.Buttons.VIPTitles = DefaultVIPTitles
	}
	if cfg.Buttons.VIPURL == "" {
		cfg.Buttons.VIPURL = DefaultVIPURL
	}
	if picker == nil {
		picker = pick.NewRandom(0)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &Publisher{msg: msg, cfg: cfg, picker: picker, limiter: lim, log: log.With(logx.String("comp", "publish"))}
}

// Keyboard builds the inline keyboard for p, or nil when buttons are off.
// Rows: the link button (only when placement includes a button and a link
// exists), the premium button, then a randomly titled VIP button. The last two
// are always present.
func (pb *Publisher) Keyboard(p Post) *kit.Keyboard {
	if !p.Buttons {
		return nil
	}
	b := pb.cfg.Buttons
	kb := &kit.Keyboard{}
	if p.Placement.LinkInButton() && p.Link != "" && p.ButtonText != "" {
		kb.Rows = append(kb.Rows, []kit.Button{{Text: p.ButtonText, URL: p.Link}})
	}
	kb.Rows = append(kb.Rows,
		[]kit.Button{{Text: b.PremiumText, URL: b.PremiumURL}},
		[]kit.Button{{Text: pb.picker.Pick(b.VIPTitles), URL: b.VIPURL}},
	)
	return kb
}

// Publish sends p to every channel and returns one result per channel in
// input order. The report's Success is the AND over all results.
func (pb *Publisher) Publish(ctx context.Context, p Post) post.Report {
	results := make([]post.ChannelResult, len(p.Channels))
	opt := &kit.SendOptions{Keyboard: pb.Keyboard(p)}

	var g errgroup.Group
	g.SetLimit(pb.cfg.Concurrency)
	for i, ch := range p.Channels {
		g.Go(func() error {
			results[i] = pb.sendOne(ctx, ch, p, opt)
			return nil
		})
	}
	_ = g.Wait()

	rep := post.NewReport(results)
	pb.log.Info("publish done",
		logx.Int("channels", len(results)),
		logx.Int("delivered", len(rep.Successful())),
		logx.Bool("success", rep.Success),
	)
	return rep
}

func (pb *Publisher) sendOne(ctx context.Context, channel string, p Post, opt *kit.SendOptions) (res post.ChannelResult) {
	defer func() {
		if r := recover(); r != nil {
			res = post.Failed(channel, fmt.Errorf("panic: %v", r))
		}
	}()
	if p.Photo.Empty() {
		return post.Failed(channel, fmt.Errorf("no image provided"))
	}
	if pb.limiter != nil {
		if err := pb.limiter.Wait(ctx); err != nil {
			return post.Failed(channel, err)
		}
	}
	start := time.Now()
	ref, err := pb.msg.SendPhoto(ctx, kit.ChatTarget{ChatID: channel}, p.Photo, p.Caption, opt)
	if err != nil {
		pb.log.Warn("channel send failed", logx.String("channel", channel), logx.Err(err))
		return post.Failed(channel, err)
	}
	pb.log.Debug("channel send ok",
		logx.String("channel", channel),
		logx.Int("message_id", ref.MessageID),
		logx.Duration("took", time.Since(start)),
	)
	return post.Delivered(channel, ref.MessageID)
}
