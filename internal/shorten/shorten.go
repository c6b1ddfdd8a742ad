// Package shorten shortens URLs through an ordered list of plain-text
// shortener services. Shortening is best effort: callers keep the long URL
// when every provider fails.
package shorten

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"postbot/internal/httpx"
	logx "postbot/pkg/logx"
)

var (
	ErrNoResult    = errors.New("shorten: no result")
	ErrInvalidBody = errors.New("shorten: invalid response")
)

type Provider interface {
	Name() string
	Shorten(ctx context.Context, longURL string) (string, error)
}

// Chain returns the first provider result.
type Chain struct {
	providers []Provider
	log       logx.Logger
}

func NewChain(log logx.Logger, providers ...Provider) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{providers: providers, log: log}
}

// Shorten returns ErrNoResult (joined with each provider error) when nothing
// worked.
func (c *Chain) Shorten(ctx context.Context, longURL string) (string, error) {
	errs := []error{ErrNoResult}
	for _, p := range c.providers {
		short, err := p.Shorten(ctx, longURL)
		if err == nil {
			return short, nil
		}
		c.log.Debug("shortener failed", logx.String("provider", p.Name()), logx.Err(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return "", errors.Join(errs...)
}

// Validator accepts or rejects a trimmed response body.
type Validator func(body string) bool

// NoErrorMarker accepts any non-empty body without the word "Error".
func NoErrorMarker(body string) bool {
	return body != "" && !strings.Contains(body, "Error")
}

// HTTPScheme accepts bodies that start with http.
func HTTPScheme(body string) bool {
	return strings.HasPrefix(body, "http")
}

// TextAPI is a shortener answering GET {endpoint}{query-escaped url} with the
// short URL as plain text.
type TextAPI struct {
	name     string
	endpoint string
	valid    Validator
	http     *http.Client
}

func NewTextAPI(name, endpoint string, valid Validator, timeout time.Duration) *TextAPI {
	if valid == nil {
		valid = NoErrorMarker
	}
	return &TextAPI{name: name, endpoint: endpoint, valid: valid, http: httpx.NewClient(timeout)}
}

// TinyURL builds the primary provider. An empty base uses the public service.
func TinyURL(base string, timeout time.Duration) *TextAPI {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = "https://tinyurl.com"
	}
	return NewTextAPI("tinyurl", base+"/api-create.php?url=", NoErrorMarker, timeout)
}

// IsGd builds the secondary provider.
func IsGd(base string, timeout time.Duration) *TextAPI {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = "https://is.gd"
	}
	return NewTextAPI("isgd", base+"/create.php?format=simple&url=", HTTPScheme, timeout)
}

func (p *TextAPI) Name() string { return p.name }

func (p *TextAPI) Shorten(ctx context.Context, longURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+url.QueryEscape(longURL), nil)
	if err != nil {
		return "", err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus(p.name, resp); err != nil {
		return "", err
	}
	b, err := httpx.ReadBody(resp)
	if err != nil {
		return "", err
	}
	body := strings.TrimSpace(string(b))
	if !p.valid(body) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBody, truncate(body, 80))
	}
	return body, nil
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
