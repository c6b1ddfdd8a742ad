package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"postbot/internal/httpx"
)

type LockrConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Lockr talks to a lockr-style locker API:
// POST {base}/api/v1/lockers {"title","target"} -> {"data":{"url"}}.
type Lockr struct {
	base  string
	token string
	http  *http.Client
}

func NewLockr(cfg LockrConfig) *Lockr {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://lockr.so"
	}
	return &Lockr{base: base, token: cfg.Token, http: httpx.NewClient(cfg.Timeout)}
}

func (l *Lockr) Lock(ctx context.Context, title, target string) (string, error) {
	payload, err := json.Marshal(map[string]string{"title": title, "target": target})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.base+"/api/v1/lockers", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.token)

	resp, err := l.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create locker: %w", err)
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus("create locker", resp); err != nil {
		return "", err
	}
	body, err := httpx.ReadBody(resp)
	if err != nil {
		return "", err
	}
	var out struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("create locker: decode: %w", err)
	}
	u := strings.TrimSpace(out.Data.URL)
	if u == "" {
		return "", ErrNoURL
	}
	return u, nil
}
