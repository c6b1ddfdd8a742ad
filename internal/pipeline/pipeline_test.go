package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"postbot/internal/caption"
	"postbot/internal/eventbus"
	"postbot/internal/lock"
	"postbot/internal/post"
	"postbot/internal/publish"
)

const special = "-1002213784572"

type fakeDeobf struct {
	err   error
	calls int
}

func (f *fakeDeobf) Resolve(_ context.Context, link string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://direct.example/" + strings.TrimPrefix(link, "https://src.example/"), nil
}

type fakePage struct {
	err   error
	calls int
}

func (f *fakePage) Publish(context.Context, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://page.example/abc", nil
}

type fakeLocker struct {
	failAt int
	calls  int
}

func (f *fakeLocker) Lock(_ context.Context, _, target string) (string, error) {
	f.calls++
	if f.calls == f.failAt {
		return "", errors.New("locker quota exceeded")
	}
	return fmt.Sprintf("https://lock.example/%d", f.calls), nil
}

type fakeShortener struct {
	err   error
	panic bool
	calls int
}

func (f *fakeShortener) Shorten(_ context.Context, u string) (string, error) {
	f.calls++
	if f.panic {
		panic("shortener exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	return "https://short.example/" + strings.TrimPrefix(u, "https://lock.example/"), nil
}

// aiFormatter mimics the remote formatter's two-line output.
type aiFormatter struct{ err error }

func (aiFormatter) Name() string { return "ai" }
func (a aiFormatter) Format(_ context.Context, in caption.Input) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "🌴 Model: " + lock.SubjectName(in.Caption) + "\n📦 Mega: " + in.Link, nil
}

type fakePublisher struct {
	mu    sync.Mutex
	fail  map[string]bool
	posts []publish.Post
	next  int
}

func (f *fakePublisher) Publish(_ context.Context, p publish.Post) post.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, p)
	var out []post.ChannelResult
	for _, ch := range p.Channels {
		if f.fail[ch] {
			out = append(out, post.Failed(ch, errors.New("Bad Request: chat not found")))
			continue
		}
		f.next++
		out = append(out, post.Delivered(ch, 500+f.next))
	}
	return post.NewReport(out)
}

type fakeReporter struct {
	calls []Result
	err   error
}

func (f *fakeReporter) Report(_ context.Context, _ Request, res Result) error {
	f.calls = append(f.calls, res)
	return f.err
}

type harness struct {
	deobf    *fakeDeobf
	page     *fakePage
	locker   *fakeLocker
	short    *fakeShortener
	ai       aiFormatter
	pub      *fakePublisher
	reporter *fakeReporter
	bus      eventbus.Bus
}

func newHarness() *harness {
	return &harness{
		deobf:    &fakeDeobf{},
		page:     &fakePage{},
		locker:   &fakeLocker{},
		short:    &fakeShortener{},
		pub:      &fakePublisher{},
		reporter: &fakeReporter{},
		bus:      eventbus.New(),
	}
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(Deps{
		Deobfuscator: h.deobf,
		PageHost:     h.page,
		Locker:       h.locker,
		Shortener:    h.short,
		Captions:     caption.NewStrategy(logxNop(), h.ai),
		Publisher:    h.pub,
		Reporter:     h.reporter,
		Bus:          h.bus,
		NewID:        func() string { return "run-1" },
	}, Options{SpecialChannel: special, DefaultButtonText: "Download"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func request(channels ...string) Request {
	return Request{
		Image:   Image{URL: "https://img.example/1.jpg"},
		Caption: "Model: Aria\n\nmore text",
		Link:    "https://src.example/1",
		Settings: Settings{
			Placement: post.PlacementCaption,
			LockCount: 2,
			Channels:  channels,
		},
	}
}

func TestExampleRun(t *testing.T) {
	h := newHarness()
	res := h.pipeline(t).Run(context.Background(), request("@chanA"))

	if !res.Success || res.Error != "" {
		t.Fatalf("run failed: %+v", res)
	}
	if diff := cmp.Diff([]string{"https://lock.example/2", "https://lock.example/1"}, res.Artifacts.Locks); diff != "" {
		t.Fatalf("locks mismatch (-want +got):\n%s", diff)
	}
	if res.FinalURL != "https://short.example/2" {
		t.Fatalf("final url = %q", res.FinalURL)
	}
	if res.Caption != "🌴 Model: Aria\n📦 Mega: https://short.example/2" {
		t.Fatalf("caption = %q", res.Caption)
	}
	if len(res.Posts()) != 1 || res.Posts()[0].Channel != "@chanA" || res.Posts()[0].MessageID == 0 {
		t.Fatalf("posts = %+v", res.Posts())
	}
	wantStatus := Status{StageDeobfuscate: true, StagePage: true, StageLock: true, StageShorten: true, StageCaption: true, StageTelegram: true}
	if diff := cmp.Diff(wantStatus, res.Status); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
	if len(h.reporter.calls) != 1 || h.reporter.calls[0].RunID != "run-1" {
		t.Fatalf("reporter calls = %d", len(h.reporter.calls))
	}
	if got := h.pub.posts[0]; !got.Buttons || got.Link != res.FinalURL || got.ButtonText != "Download" {
		t.Fatalf("regular post = %+v", got)
	}
}

func TestShortenerFailureKeepsOuterLock(t *testing.T) {
	h := newHarness()
	h.short.err = errors.New("both providers failed")
	res := h.pipeline(t).Run(context.Background(), request("@chanA"))

	if !res.Success {
		t.Fatalf("degraded shortening must not fail the run: %+v", res)
	}
	if res.FinalURL != "https://lock.example/2" || res.FinalURL != res.Artifacts.Locks[0] {
		t.Fatalf("final url = %q, locks = %v", res.FinalURL, res.Artifacts.Locks)
	}
	if res.Status[StageShorten] || res.Artifacts.Short != "" {
		t.Fatalf("shorten should be unset: %+v", res)
	}
	if h.pub.posts[0].Link != "https://lock.example/2" {
		t.Fatalf("published link = %q", h.pub.posts[0].Link)
	}
}

func TestSpecialChannelRouting(t *testing.T) {
	h := newHarness()
	req := request("@chanA", special)
	req.Settings.Placement = post.PlacementButton
	res := h.pipeline(t).Run(context.Background(), req)

	if !res.Success || len(h.pub.posts) != 2 {
		t.Fatalf("res = %+v, posts = %d", res, len(h.pub.posts))
	}
	sp := h.pub.posts[0]
	if diff := cmp.Diff([]string{special}, sp.Channels); diff != "" {
		t.Fatalf("special must be published first and alone: %s", diff)
	}
	if sp.Buttons || sp.Placement != post.PlacementCaption || sp.Link != "https://page.example/abc" {
		t.Fatalf("special post = %+v", sp)
	}
	if !strings.Contains(sp.Caption, "https://page.example/abc") {
		t.Fatalf("special caption = %q", sp.Caption)
	}
	reg := h.pub.posts[1]
	if !reg.Buttons || reg.Placement != post.PlacementButton || reg.Channels[0] != "@chanA" {
		t.Fatalf("regular post = %+v", reg)
	}
	if len(res.Artifacts.Telegram.Results) != 2 {
		t.Fatalf("aggregate results = %+v", res.Artifacts.Telegram)
	}
}

func TestSpecialOnlySkipsLockStages(t *testing.T) {
	h := newHarness()
	res := h.pipeline(t).Run(context.Background(), request(special))

	if !res.Success {
		t.Fatalf("res = %+v", res)
	}
	if h.locker.calls != 0 || h.short.calls != 0 {
		t.Fatalf("lock/shorten should be skipped: lock=%d short=%d", h.locker.calls, h.short.calls)
	}
	if res.FinalURL != "https://page.example/abc" || res.Caption != h.pub.posts[0].Caption {
		t.Fatalf("final = %q caption = %q", res.FinalURL, res.Caption)
	}
	if res.Status[StageLock] || res.Artifacts.Locks != nil {
		t.Fatalf("lock stage should be absent: %+v", res)
	}
	if !res.Status[StageCaption] || res.Artifacts.Caption == "" {
		t.Fatalf("special caption should go through the caption stage: %+v", res)
	}
}

func TestNoImageAbortsBeforeExternalCalls(t *testing.T) {
	h := newHarness()
	req := request("@chanA")
	req.Image = Image{}
	res := h.pipeline(t).Run(context.Background(), req)

	if res.Success || !errors.Is(res.Err, ErrNoImage) || res.Error != "no image provided" {
		t.Fatalf("res = %+v", res)
	}
	if h.deobf.calls+h.page.calls+h.locker.calls+len(h.pub.posts) != 0 {
		t.Fatalf("external calls were made")
	}
	if len(h.reporter.calls) != 1 {
		t.Fatalf("operator report not attempted")
	}
	for _, s := range Stages {
		if v, ok := res.Status[s]; !ok || v {
			t.Fatalf("status[%s] = %v, %v", s, v, ok)
		}
	}
}

func TestPartialChannelFailure(t *testing.T) {
	h := newHarness()
	h.pub.fail = map[string]bool{"@b": true}
	res := h.pipeline(t).Run(context.Background(), request("@a", "@b", "@c"))

	if res.Success || !errors.Is(res.Err, ErrChannelsFailed) || res.Status[StageTelegram] {
		t.Fatalf("res = %+v", res)
	}
	results := res.Artifacts.Telegram.Results
	if len(results) != 3 {
		t.Fatalf("results = %+v", results)
	}
	for _, r := range results {
		if r.Channel == "@b" {
			if r.Success || r.Error == "" || r.MessageID != 0 {
				t.Fatalf("failed entry = %+v", r)
			}
			continue
		}
		if !r.Success || r.MessageID == 0 || r.Error != "" {
			t.Fatalf("delivered entry = %+v", r)
		}
	}
}

func TestFatalStages(t *testing.T) {
	t.Run("deobfuscate", func(t *testing.T) {
		h := newHarness()
		h.deobf.err = errors.New("no result")
		res := h.pipeline(t).Run(context.Background(), request("@a"))
		if res.Success || !IsFatal(res.Err) || h.page.calls != 0 {
			t.Fatalf("res = %+v", res)
		}
		if !strings.Contains(res.Error, "deobfuscate") || res.FinalURL != "" {
			t.Fatalf("res = %+v", res)
		}
	})
	t.Run("page", func(t *testing.T) {
		h := newHarness()
		h.page.err = errors.New("secondary host unavailable")
		res := h.pipeline(t).Run(context.Background(), request("@a"))
		if res.Success || !IsFatal(res.Err) || !res.Status[StageDeobfuscate] || res.Status[StagePage] {
			t.Fatalf("res = %+v", res)
		}
	})
	t.Run("lock iteration", func(t *testing.T) {
		h := newHarness()
		h.locker.failAt = 2
		res := h.pipeline(t).Run(context.Background(), request(special, "@a"))
		if res.Success || !IsFatal(res.Err) || !errors.Is(res.Err, lock.ErrLock) {
			t.Fatalf("res = %+v", res)
		}
		if res.Artifacts.Locks != nil || res.Status[StageLock] || h.short.calls != 0 {
			t.Fatalf("partial lock chain surfaced: %+v", res)
		}
		if len(h.pub.posts) != 1 || res.Artifacts.Telegram == nil || len(res.Artifacts.Telegram.Results) != 1 {
			t.Fatalf("special delivery should be kept in artifacts: %+v", res.Artifacts.Telegram)
		}
		if len(h.reporter.calls) != 1 {
			t.Fatalf("aborted run must still be reported")
		}
	})
}

func TestPanicBecomesCriticalResult(t *testing.T) {
	h := newHarness()
	h.short.panic = true
	res := h.pipeline(t).Run(context.Background(), request("@a"))
	if res.Success || !errors.Is(res.Err, ErrCritical) {
		t.Fatalf("res = %+v", res)
	}
	if !res.Status[StageLock] || len(res.Artifacts.Locks) != 2 {
		t.Fatalf("partial state lost: %+v", res)
	}
	if len(h.reporter.calls) != 1 {
		t.Fatalf("critical failure must still be reported")
	}
}

func TestReporterFailureDoesNotChangeResult(t *testing.T) {
	h := newHarness()
	h.reporter.err = errors.New("admin chat not found")
	res := h.pipeline(t).Run(context.Background(), request("@a"))
	if !res.Success || res.Error != "" {
		t.Fatalf("res = %+v", res)
	}
}

func TestCaptionFallbackIsDegraded(t *testing.T) {
	h := newHarness()
	h.ai = aiFormatter{err: errors.New("quota")}
	res := h.pipeline(t).Run(context.Background(), request("@a"))
	if !res.Success || res.Status[StageCaption] {
		t.Fatalf("res = %+v", res)
	}
	if res.Caption != "Model: Aria\n\nmore text\n\nhttps://short.example/2" {
		t.Fatalf("caption = %q", res.Caption)
	}
}

func TestRunIgnoresCallerCancellation(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := h.pipeline(t).Run(ctx, request("@a")); !res.Success {
		t.Fatalf("res = %+v", res)
	}
}

func TestStageEvents(t *testing.T) {
	h := newHarness()
	ch, unsub := h.bus.Subscribe(32, eventbus.TypeStage)
	defer unsub()
	h.short.err = errors.New("down")
	h.pipeline(t).Run(context.Background(), request("@a"))

	var got []string
	timeout := time.After(time.Second)
	for len(got) < 6 {
		select {
		case e := <-ch:
			ev := e.Data.(StageEvent)
			got = append(got, fmt.Sprintf("%s:%v", ev.Stage, ev.OK))
		case <-timeout:
			t.Fatalf("events so far: %v", got)
		}
	}
	want := []string{"deobfuscate:true", "page:true", "lock:true", "shorten:false", "caption:true", "telegram:true"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRequiresStages(t *testing.T) {
	if _, err := New(Deps{}, Options{}); err == nil {
		t.Fatalf("expected error")
	}
}
