package retention

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"postbot/internal/publish"
	"postbot/internal/storage"
	logx "postbot/pkg/logx"
)

type fakeRetractor struct {
	fail  map[string]bool
	calls [][]publish.Target
}

func (f *fakeRetractor) Retract(_ context.Context, targets []publish.Target) publish.Retraction {
	f.calls = append(f.calls, targets)
	out := publish.Retraction{Success: true}
	for _, t := range targets {
		if f.fail[t.Channel] {
			out.Success = false
			out.Failed = append(out.Failed, t)
			out.Error = "Channel " + t.Channel + ": message can't be deleted"
		}
	}
	return out
}

var t0 = time.UnixMilli(1_700_000_000_000)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	_ = st.SaveRun(ctx, storage.Run{ID: "old", StartedAt: t0}, []storage.Post{
		{Channel: "@a", MessageID: 1, PostedAt: t0},
		{Channel: "@b", MessageID: 2, PostedAt: t0},
	})
	_ = st.SaveRun(ctx, storage.Run{ID: "new", StartedAt: t0.Add(48 * time.Hour)}, []storage.Post{
		{Channel: "@a", MessageID: 3, PostedAt: t0.Add(48 * time.Hour)},
	})
	return st
}

func TestSweepRetractsOldPosts(t *testing.T) {
	st := newStore(t)
	fr := &fakeRetractor{fail: map[string]bool{"@b": true}}
	s := New(Config{MaxAge: 24 * time.Hour}, st, fr, nil, logx.Nop())
	s.now = func() time.Time { return t0.Add(49 * time.Hour) }

	out, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if out.Attempted != 2 || out.Retracted != 1 || out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	live, _ := st.LivePosts(context.Background(), "old")
	if len(live) != 1 || live[0].Channel != "@b" {
		t.Fatalf("failed deletion must stay live: %+v", live)
	}
	if live, _ := st.LivePosts(context.Background(), "new"); len(live) != 1 {
		t.Fatalf("young post retracted: %+v", live)
	}
}

func TestRetractRun(t *testing.T) {
	st := newStore(t)
	fr := &fakeRetractor{}
	s := New(Config{}, st, fr, nil, logx.Nop())

	out, err := s.RetractRun(context.Background(), "old")
	if err != nil || !out.Success || out.Retracted != 2 || out.RunID != "old" {
		t.Fatalf("RetractRun = %+v, %v", out, err)
	}
	if _, err := s.RetractRun(context.Background(), "old"); !errors.Is(err, ErrNothingToRetract) {
		t.Fatalf("second retraction err = %v", err)
	}
	if _, err := s.RetractRun(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing run err = %v", err)
	}
	if len(fr.calls) != 1 {
		t.Fatalf("retractor calls = %d", len(fr.calls))
	}
}

func TestDisabledStore(t *testing.T) {
	s := New(Config{Enabled: true, MaxAge: time.Hour}, nil, &fakeRetractor{}, nil, logx.Nop())
	if _, err := s.Sweep(context.Background()); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("Sweep err = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("Start err = %v", err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(Config{Enabled: true, Schedule: "not a schedule", MaxAge: time.Hour}, newStore(t), &fakeRetractor{}, nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected schedule error")
	}
	ok := New(Config{Enabled: true, Schedule: "@every 1h", MaxAge: time.Hour}, newStore(t), &fakeRetractor{}, nil, logx.Nop())
	if err := ok.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok.Stop(ctx)
}
