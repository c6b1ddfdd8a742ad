package publish

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"postbot/internal/pick"
	"postbot/internal/post"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sent struct {
	Channel string
	Caption string
	Photo   kit.Photo
	Opt     *kit.SendOptions
}

type fakeMessenger struct {
	mu      sync.Mutex
	fail    map[string]error
	panicOn string
	sent    []sent
	deleted []kit.MessageRef
	nextID  int
}

func (f *fakeMessenger) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, errors.New("not used")
}

func (f *fakeMessenger) SendPhoto(_ context.Context, to kit.ChatTarget, photo kit.Photo, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if to.ChatID == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{Channel: to.ChatID, Caption: caption, Photo: photo, Opt: opt})
	if err := f.fail[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 100 + f.nextID}, nil
}

func (f *fakeMessenger) Delete(_ context.Context, ref kit.MessageRef) error {
	if ref.ChatID == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return f.fail[ref.ChatID]
}

func testButtons() Buttons {
	return Buttons{PremiumURL: "https://t.me/+premium", VIPTitles: []string{"a", "b"}, VIPURL: "https://t.me/+vip"}
}

func TestKeyboardRows(t *testing.T) {
	pb := New(&fakeMessenger{}, Config{Buttons: testButtons()}, pick.Fixed(1), logx.Nop())
	base := Post{Buttons: true, Link: "https://short/1", ButtonText: "Download"}

	cases := []struct {
		name      string
		placement post.Placement
		link      string
		want      [][]kit.Button
	}{
		{"button", post.PlacementButton, base.Link, [][]kit.Button{
			{{Text: "Download", URL: "https://short/1"}},
			{{Text: DefaultPremiumText, URL: "https://t.me/+premium"}},
			{{Text: "b", URL: "https://t.me/+vip"}},
		}},
		{"caption", post.PlacementCaption, base.Link, [][]kit.Button{
			{{Text: DefaultPremiumText, URL: "https://t.me/+premium"}},
			{{Text: "b", URL: "https://t.me/+vip"}},
		}},
		{"both without link", post.PlacementBoth, "", [][]kit.Button{
			{{Text: DefaultPremiumText, URL: "https://t.me/+premium"}},
			{{Text: "b", URL: "https://t.me/+vip"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			p.Placement, p.Link = tc.placement, tc.link
			if diff := cmp.Diff(tc.want, pb.Keyboard(p).Rows); diff != "" {
				t.Fatalf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if kb := pb.Keyboard(Post{Buttons: false, Link: "x", Placement: post.PlacementBoth}); kb != nil {
		t.Fatalf("buttons disabled should yield nil keyboard, got %+v", kb)
	}
}

func TestKeyboardDefaultDestinations(t *testing.T) {
	pb := New(nil, Config{}, pick.Fixed(0), logx.Nop())
	kb := pb.Keyboard(Post{Buttons: true, Placement: post.PlacementCaption, Link: "https://short/1", ButtonText: "Download"})
	want := [][]kit.Button{
		{{Text: DefaultPremiumText, URL: DefaultPremiumURL}},
		{{Text: DefaultVIPTitles[0], URL: DefaultVIPURL}},
	}
	if diff := cmp.Diff(want, kb.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishIsolatesFailures(t *testing.T) {
	fm := &fakeMessenger{fail: map[string]error{"@b": errors.New("chat not found")}, panicOn: "@c"}
	pb := New(fm, Config{Concurrency: 2, Buttons: testButtons()}, pick.Fixed(0), logx.Nop())

	rep := pb.Publish(context.Background(), Post{
		Photo:     kit.Photo{URL: "https://img/1.jpg"},
		Caption:   "cap",
		Link:      "https://short/1",
		Channels:  []string{"@a", "@b", "@c", "@d"},
		Buttons:   true,
		Placement: post.PlacementCaption,
	})
	if rep.Success {
		t.Fatalf("report should fail")
	}
	if len(rep.Results) != 4 {
		t.Fatalf("results = %d", len(rep.Results))
	}
	for i, ch := range []string{"@a", "@b", "@c", "@d"} {
		r := rep.Results[i]
		if r.Channel != ch {
			t.Fatalf("result %d channel = %q, want %q", i, r.Channel, ch)
		}
		wantOK := ch == "@a" || ch == "@d"
		if r.Success != wantOK {
			t.Fatalf("%s success = %v", ch, r.Success)
		}
		if wantOK && (r.MessageID == 0 || r.Error != "") {
			t.Fatalf("%s should carry only a message id: %+v", ch, r)
		}
		if !wantOK && (r.MessageID != 0 || r.Error == "") {
			t.Fatalf("%s should carry only an error: %+v", ch, r)
		}
	}
	if !strings.Contains(rep.Results[1].Error, "chat not found") {
		t.Fatalf("error text = %q", rep.Results[1].Error)
	}
}

func TestPublishWithoutButtons(t *testing.T) {
	fm := &fakeMessenger{}
	pb := New(fm, Config{Buttons: testButtons(), RatePerSec: 100}, pick.Fixed(0), logx.Nop())
	rep := pb.Publish(context.Background(), Post{
		Photo:     kit.Photo{Data: []byte{0xff, 0xd8}, URL: "https://img/ignored.jpg"},
		Caption:   "special",
		Link:      "https://page/1",
		Channels:  []string{"-1001"},
		Placement: post.PlacementCaption,
	})
	if !rep.Success || len(fm.sent) != 1 {
		t.Fatalf("report = %+v, sent = %d", rep, len(fm.sent))
	}
	if !fm.sent[0].Opt.Keyboard.Empty() {
		t.Fatalf("keyboard should be empty: %+v", fm.sent[0].Opt.Keyboard)
	}
	if len(fm.sent[0].Photo.Data) != 2 {
		t.Fatalf("embedded payload not forwarded")
	}
}

func TestPublishNoImage(t *testing.T) {
	fm := &fakeMessenger{}
	rep := New(fm, Config{}, nil, logx.Nop()).Publish(context.Background(), Post{Channels: []string{"@a"}})
	if rep.Success || len(fm.sent) != 0 {
		t.Fatalf("report = %+v, sent = %d", rep, len(fm.sent))
	}
}

func TestRetractOneFailure(t *testing.T) {
	fm := &fakeMessenger{fail: map[string]error{"@b": errors.New("message can't be deleted")}}
	out := NewRetractor(fm, 1, logx.Nop()).Retract(context.Background(), []Target{
		{Channel: "@a", MessageID: 1},
		{Channel: "@b", MessageID: 2},
		{Channel: "@c", MessageID: 3},
	})
	if out.Success {
		t.Fatalf("retraction should fail")
	}
	lines := strings.Split(out.Error, "\n")
	if len(lines) != 1 || lines[0] != "Channel @b: message can't be deleted" {
		t.Fatalf("error lines = %q", lines)
	}
	if len(fm.deleted) != 3 {
		t.Fatalf("deletions attempted = %d, want 3", len(fm.deleted))
	}
	if diff := cmp.Diff([]Target{{Channel: "@b", MessageID: 2}}, out.Failed); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}
}

func TestRetractAllOK(t *testing.T) {
	fm := &fakeMessenger{panicOn: "@x"}
	out := NewRetractor(fm, 0, logx.Nop()).Retract(context.Background(), []Target{{Channel: "@a", MessageID: 1}})
	if !out.Success || out.Error != "" {
		t.Fatalf("out = %+v", out)
	}
	out = NewRetractor(fm, 0, logx.Nop()).Retract(context.Background(), []Target{{Channel: "@x", MessageID: 1}})
	if out.Success || !strings.Contains(out.Error, "panic") {
		t.Fatalf("panicking delete should be isolated: %+v", out)
	}
}
