package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recordingLocker struct {
	calls  []string
	failAt int
}

func (r *recordingLocker) Lock(_ context.Context, title, target string) (string, error) {
	r.calls = append(r.calls, title+" -> "+target)
	n := len(r.calls)
	if n == r.failAt {
		return "", errors.New("quota exceeded")
	}
	return fmt.Sprintf("https://lock/%d", n), nil
}

func TestWrapProducesOuterFirst(t *testing.T) {
	for k := 1; k <= MaxCount; k++ {
		t.Run(fmt.Sprint(k), func(t *testing.T) {
			l := &recordingLocker{}
			chain, err := Wrap(context.Background(), l, "https://page/x", k, "Aria")
			if err != nil {
				t.Fatalf("Wrap: %v", err)
			}
			if len(chain) != k {
				t.Fatalf("len(chain) = %d, want %d", len(chain), k)
			}
			want := fmt.Sprintf("https://lock/%d", k)
			if chain.Outer() != want || chain[0] != want {
				t.Fatalf("outer = %q, want %q", chain.Outer(), want)
			}
			if chain[k-1] != "https://lock/1" {
				t.Fatalf("innermost = %q", chain[k-1])
			}
		})
	}
}

func TestWrapTitlesAndTargets(t *testing.T) {
	l := &recordingLocker{}
	if _, err := Wrap(context.Background(), l, "https://page/x", 2, "Aria"); err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	want := []string{
		"🔐 Aria | Unlocks Remaining: 2/2 🔓 -> https://page/x",
		"🔐 Aria | Unlocks Remaining: 1/2 🔓 -> https://lock/1",
	}
	if diff := cmp.Diff(want, l.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}

	single := &recordingLocker{}
	if _, err := Wrap(context.Background(), single, "https://page/x", 1, "Aria"); err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if single.calls[0] != "🔐 Aria | Final Unlock 🔓 -> https://page/x" {
		t.Fatalf("single title = %q", single.calls[0])
	}
}

func TestWrapFailureIsTotal(t *testing.T) {
	l := &recordingLocker{failAt: 2}
	chain, err := Wrap(context.Background(), l, "https://page/x", 3, "Aria")
	if !errors.Is(err, ErrLock) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "iteration 2") {
		t.Fatalf("err should name the iteration: %v", err)
	}
	if chain != nil {
		t.Fatalf("partial chain returned: %v", chain)
	}
	if len(l.calls) != 2 {
		t.Fatalf("locker called %d times after failure", len(l.calls))
	}
}

func TestSubjectName(t *testing.T) {
	cases := map[string]string{
		"Model: Aria\n\nmore text": "Aria",
		"model:Bella":              "Bella",
		"  Cora  \nline two":       "Cora",
		"":                         DefaultSubject,
	}
	for in, want := range cases {
		if got := SubjectName(in); got != want {
			t.Fatalf("SubjectName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeCount(t *testing.T) {
	if n, err := NormalizeCount(0); err != nil || n != 1 {
		t.Fatalf("NormalizeCount(0) = %d, %v", n, err)
	}
	if _, err := NormalizeCount(4); !errors.Is(err, ErrBadCount) {
		t.Fatalf("NormalizeCount(4) err = %v", err)
	}
}

func TestLockrClient(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/lockers" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var in struct{ Title, Target string }
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		if in.Target == "" || in.Title == "" {
			t.Errorf("missing fields: %+v", in)
		}
		if in.Target == "https://bad" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"message":"invalid target"}`)
			return
		}
		if in.Target == "https://empty" {
			_, _ = io.WriteString(w, `{"data":{}}`)
			return
		}
		_, _ = fmt.Fprintf(w, `{"data":{"url":"https://lockr.test/%d"}}`, n.Add(1))
	}))
	defer srv.Close()

	l := NewLockr(LockrConfig{BaseURL: srv.URL, Token: "secret"})
	chain, err := Wrap(context.Background(), l, "https://page/x", 2, "Aria")
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if diff := cmp.Diff(Chain{"https://lockr.test/2", "https://lockr.test/1"}, chain); diff != "" {
		t.Fatalf("chain mismatch (-want +got):\n%s", diff)
	}
	if _, err := l.Lock(context.Background(), "t", "https://bad"); err == nil {
		t.Fatalf("expected error on 422")
	}
	if _, err := l.Lock(context.Background(), "t", "https://empty"); !errors.Is(err, ErrNoURL) {
		t.Fatalf("err = %v", err)
	}
}
