// Package retention retracts published posts: a whole run on request, or
// every live post older than a maximum age on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"postbot/internal/eventbus"
	"postbot/internal/publish"
	"postbot/internal/storage"
	logx "postbot/pkg/logx"
)

var ErrNothingToRetract = errors.New("retention: run has no live posts")

type Config struct {
	Enabled bool
	// Schedule is a 5-field cron spec or descriptor; default "@every 1h".
	Schedule string
	MaxAge   time.Duration
	// Batch bounds posts retracted per sweep; default 100.
	Batch    int
	Timezone string
}

type Retractor interface {
	Retract(ctx context.Context, targets []publish.Target) publish.Retraction
}

// Outcome summarizes one retraction pass.
type Outcome struct {
	RunID     string `json:"run_id,omitempty"`
	Attempted int    `json:"attempted"`
	Retracted int    `json:"retracted"`
	publish.Retraction
}

type Service struct {
	cfg       Config
	store     storage.Store
	retractor Retractor
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	mu     sync.Mutex
	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, store storage.Store, retractor Retractor, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		retractor: retractor,
		bus:       bus,
		log:       log.With(logx.String("comp", "retention")),
		now:       time.Now,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// RetractRun deletes every live post of runID and marks the deleted ones.
func (s *Service) RetractRun(ctx context.Context, runID string) (Outcome, error) {
	if s.store == nil {
		return Outcome{}, storage.ErrDisabled
	}
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return Outcome{}, err
	}
	posts, err := s.store.LivePosts(ctx, runID)
	if err != nil {
		return Outcome{}, err
	}
	if len(posts) == 0 {
		return Outcome{RunID: runID}, ErrNothingToRetract
	}
	out, err := s.retract(ctx, posts)
	out.RunID = runID
	return out, err
}

// Sweep retracts live posts older than MaxAge.
func (s *Service) Sweep(ctx context.Context) (Outcome, error) {
	if s.store == nil {
		return Outcome{}, storage.ErrDisabled
	}
	if s.cfg.MaxAge <= 0 {
		return Outcome{}, errors.New("retention: max_age must be positive")
	}
	posts, err := s.store.LivePostsBefore(ctx, s.now().Add(-s.cfg.MaxAge), s.cfg.Batch)
	if err != nil {
		return Outcome{}, err
	}
	if len(posts) == 0 {
		return Outcome{Retraction: publish.Retraction{Success: true}}, nil
	}
	out, err := s.retract(ctx, posts)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeSwept, Data: out})
	return out, err
}

func (s *Service) retract(ctx context.Context, posts []storage.Post) (Outcome, error) {
	targets := make([]publish.Target, len(posts))
	for i, p := range posts {
		targets[i] = publish.Target{Channel: p.Channel, MessageID: p.MessageID}
	}
	res := s.retractor.Retract(ctx, targets)

	failed := make(map[publish.Target]bool, len(res.Failed))
	for _, f := range res.Failed {
		failed[f] = true
	}
	done := make([]storage.Post, 0, len(posts))
	for i, p := range posts {
		if !failed[targets[i]] {
			done = append(done, p)
		}
	}
	out := Outcome{Attempted: len(posts), Retracted: len(done), Retraction: res}
	if err := s.store.MarkRetracted(ctx, done, s.now()); err != nil {
		return out, fmt.Errorf("mark retracted: %w", err)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeRetracted, Data: out})
	return out, nil
}

// Start schedules Sweep. It is a no-op when retention is disabled.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.store == nil {
		return fmt.Errorf("retention: %w", storage.ErrDisabled)
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("retention: timezone: %w", err)
		}
		loc = l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	cl := cronLogger{s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		out, err := s.Sweep(ctx)
		if err != nil {
			s.log.Warn("sweep failed", logx.Err(err))
			return
		}
		if out.Attempted > 0 {
			s.log.Info("sweep done", logx.Int("attempted", out.Attempted), logx.Int("retracted", out.Retracted))
		}
	}); err != nil {
		return fmt.Errorf("retention: schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("retention started", logx.String("schedule", s.cfg.Schedule), logx.Duration("max_age", s.cfg.MaxAge))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("retention stop timed out")
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
