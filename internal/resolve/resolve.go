// Package resolve turns a protected (ad-gated) link into the direct link it
// points at, using a bypass API.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"postbot/internal/httpx"
)

var (
	ErrEmptyLink = errors.New("resolve: empty link")
	ErrNoResult  = errors.New("resolve: response has no result")
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls GET {base}/premium/bypass?url=<link> with an x-api-key header
// and expects {"result": "<direct url>"}.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

func New(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.bypass.vip"
	}
	return &Client{base: base, apiKey: cfg.APIKey, http: httpx.NewClient(cfg.Timeout)}
}

func (c *Client) Resolve(ctx context.Context, link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", ErrEmptyLink
	}
	u := c.base + "/premium/bypass?url=" + url.QueryEscape(link)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus("resolve", resp); err != nil {
		return "", err
	}

	var out struct {
		Result string `json:"result"`
	}
	body, err := httpx.ReadBody(resp)
	if err != nil {
		return "", fmt.Errorf("resolve: read body: %w", err)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("resolve: decode: %w", err)
	}
	if strings.TrimSpace(out.Result) == "" {
		return "", ErrNoResult
	}
	return strings.TrimSpace(out.Result), nil
}
