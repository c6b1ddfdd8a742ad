package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"postbot/internal/pipeline"
	"postbot/internal/post"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type fakeMessenger struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
	err  error
}

func (f *fakeMessenger) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.to, f.text, f.opt = to, text, opt
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, f.err
}

func (f *fakeMessenger) SendPhoto(context.Context, kit.ChatTarget, kit.Photo, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, errors.New("not used")
}

func (f *fakeMessenger) Delete(context.Context, kit.MessageRef) error { return errors.New("not used") }

func TestPostLink(t *testing.T) {
	cases := map[string]string{
		"@chan":          "https://t.me/chan/42",
		"-1002213784572": "https://t.me/c/2213784572/42",
		"12345":          "",
		"@":              "",
	}
	for ch, want := range cases {
		if got := PostLink(ch, 42); got != want {
			t.Fatalf("PostLink(%q) = %q, want %q", ch, got, want)
		}
	}
}

func TestReportSuccess(t *testing.T) {
	fm := &fakeMessenger{}
	r := New(fm, "8172893406", map[string]string{"-1001": "Main <Channel>"}, logx.Nop())

	rep := post.NewReport([]post.ChannelResult{post.Delivered("-1001", 7), post.Failed("@b", errors.New("chat not found"))})
	res := pipeline.Result{
		RunID:   "run-1",
		Success: false,
		Error:   "one or more channels failed to post",
		Status:  pipeline.Status{pipeline.StageDeobfuscate: true, pipeline.StagePage: true, pipeline.StageLock: true},
		Artifacts: pipeline.Artifacts{
			Deobfuscated: "https://direct/1",
			Page:         "https://page/1",
			Locks:        []string{"https://lock/2", "https://lock/1"},
			Telegram:     &rep,
		},
	}
	req := pipeline.Request{Caption: "Model: A & B", Link: "https://src/1"}
	if err := r.Report(context.Background(), req, res); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if fm.to.ChatID != "8172893406" || fm.opt.ParseMode != "HTML" || !fm.opt.DisablePreview {
		t.Fatalf("send target/options = %+v %+v", fm.to, fm.opt)
	}
	for _, want := range []string{
		"❌ <b>Post Failed</b>",
		`<a href="https://t.me/c/1/7">Main &lt;Channel&gt;</a>: ✅`,
		"@b: ❌ - <i>chat not found</i>",
		"‣ Lock chain: ✅",
		"‣ URL shortener: ❌",
		"<b>Lock 1:</b> <code>https://lock/2</code>",
		"<b>Lock 2:</b> <code>https://lock/1</code>",
		"📝 Caption: Model: A &amp; B",
	} {
		if !strings.Contains(fm.text, want) {
			t.Fatalf("report missing %q:\n%s", want, fm.text)
		}
	}
	if strings.Contains(fm.text, "Shortened") {
		t.Fatalf("unreached artifacts must not be listed:\n%s", fm.text)
	}
}

func TestReportAbortedRun(t *testing.T) {
	r := New(&fakeMessenger{}, "1", nil, logx.Nop())
	out := r.Render(pipeline.Request{}, pipeline.Result{Error: "no image provided"}).String()
	for _, want := range []string{"<i>no image provided</i>", "No Telegram posts attempted.", "‣ Telegram: ❌"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Generated Links") {
		t.Fatalf("no links section expected:\n%s", out)
	}
}

func TestReportErrors(t *testing.T) {
	if err := New(&fakeMessenger{}, "", nil, logx.Nop()).Report(context.Background(), pipeline.Request{}, pipeline.Result{}); !errors.Is(err, ErrNoAdminChat) {
		t.Fatalf("err = %v", err)
	}
	fm := &fakeMessenger{err: errors.New("Forbidden: bot was blocked")}
	if err := New(fm, "1", nil, logx.Nop()).Report(context.Background(), pipeline.Request{}, pipeline.Result{}); err == nil {
		t.Fatalf("expected send error")
	}
}

func TestReportClipsLongCaption(t *testing.T) {
	fm := &fakeMessenger{}
	r := New(fm, "1", nil, logx.Nop())
	req := pipeline.Request{Caption: strings.Repeat("a<", 2500), Link: "https://src/1"}
	if err := r.Report(context.Background(), req, pipeline.Result{RunID: "run-1", Success: true}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if n := utf8.RuneCountInString(fm.text); n > 4000 {
		t.Fatalf("report is %d runes, want one message", n)
	}
	if strings.Count(fm.text, "<pre>") != 1 || strings.Count(fm.text, "</pre>") != 1 {
		t.Fatalf("pre block not balanced:\n%s", fm.text)
	}
	if !strings.Contains(fm.text, "…\n🔗 Link: https://src/1</pre>") {
		t.Fatalf("caption not clipped before the link:\n%s", fm.text[len(fm.text)-200:])
	}
}

func TestClipEscaped(t *testing.T) {
	cases := []struct {
		in     string
		budget int
		want   string
	}{
		{"short", 10, "short"},
		{"héllo wörld", 6, "héllo…"},
		{"a&b&c", 8, "a&b…"},
	}
	for _, tc := range cases {
		got := clipEscaped(tc.in, tc.budget)
		if got != tc.want {
			t.Fatalf("clipEscaped(%q, %d) = %q, want %q", tc.in, tc.budget, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("clipEscaped(%q) produced invalid UTF-8", tc.in)
		}
	}
}
