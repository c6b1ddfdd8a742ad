package shorten

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	logx "postbot/pkg/logx"
)

func newServer(t *testing.T, tiny, isgd func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api-create.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") != "https://lock/outer" {
			t.Errorf("tinyurl url = %q", r.URL.Query().Get("url"))
		}
		tiny(w)
	})
	mux.HandleFunc("/create.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "simple" {
			t.Errorf("is.gd format = %q", r.URL.Query().Get("format"))
		}
		isgd(w)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func chainFor(srv *httptest.Server) *Chain {
	return NewChain(logx.Nop(), TinyURL(srv.URL, 0), IsGd(srv.URL, 0))
}

func body(s string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) { _, _ = io.WriteString(w, s) }
}

func status(code int) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

func TestPrimaryWins(t *testing.T) {
	srv := newServer(t, body("https://tinyurl.com/abc\n"), func(http.ResponseWriter) {
		t.Errorf("secondary should not be called")
	})
	got, err := chainFor(srv).Shorten(context.Background(), "https://lock/outer")
	if err != nil || got != "https://tinyurl.com/abc" {
		t.Fatalf("Shorten() = %q, %v", got, err)
	}
}

func TestFallsBackToSecondary(t *testing.T) {
	cases := map[string]func(http.ResponseWriter){
		"error status": status(http.StatusInternalServerError),
		"empty body":   body(""),
		"error marker": body("Error: invalid url"),
	}
	for name, primary := range cases {
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, primary, body("https://is.gd/xyz"))
			got, err := chainFor(srv).Shorten(context.Background(), "https://lock/outer")
			if err != nil || got != "https://is.gd/xyz" {
				t.Fatalf("Shorten() = %q, %v", got, err)
			}
		})
	}
}

func TestBothFail(t *testing.T) {
	srv := newServer(t, status(http.StatusBadGateway), body("Error, database unavailable"))
	got, err := chainFor(srv).Shorten(context.Background(), "https://lock/outer")
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("secondary rejection should be reported: %v", err)
	}
	if got != "" {
		t.Fatalf("got = %q", got)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	got := truncate(strings.Repeat("é", 100), 80)
	if !utf8.ValidString(got) {
		t.Fatalf("invalid UTF-8: %q", got)
	}
	if want := strings.Repeat("é", 80) + "..."; got != want {
		t.Fatalf("truncate = %q, want %q", got, want)
	}
	if got := truncate("ok", 80); got != "ok" {
		t.Fatalf("truncate short = %q", got)
	}
}
