package pagehost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"

	"postbot/internal/httpx"
	"postbot/internal/pick"
)

const csrfField = "csrfmiddlewaretoken"

type RentryConfig struct {
	BaseURL string
	Timeout time.Duration
	Titles  []string
	Promos  []Promo
}

// Rentry publishes pages on a rentry-style markdown host: a landing page GET
// yields a session cookie plus a csrf token, then a form POST creates the page.
type Rentry struct {
	base    string
	timeout time.Duration
	titles  []string
	promos  []Promo
	picker  pick.Picker
}

func NewRentry(cfg RentryConfig, picker pick.Picker) *Rentry {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://rentry.co"
	}
	titles := cfg.Titles
	if len(titles) == 0 {
		titles = DefaultTitles
	}
	if picker == nil {
		picker = pick.NewRandom(0)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Rentry{base: base, timeout: timeout, titles: titles, promos: cfg.Promos, picker: picker}
}

func (r *Rentry) Name() string { return "rentry" }

func (r *Rentry) Publish(ctx context.Context, link string) (string, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: r.timeout, Jar: jar}

	token, err := r.fetchToken(ctx, client)
	if err != nil {
		return "", err
	}

	text, err := RenderPage(r.picker.Pick(r.titles), link, r.promos)
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	form := url.Values{csrfField: {token}, "text": {text}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/api/new", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", httpx.UserAgent)
	req.Header.Set("Referer", r.base+"/")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus("create page", resp); err != nil {
		return "", err
	}
	body, err := httpx.ReadBody(resp)
	if err != nil {
		return "", err
	}

	var out struct {
		Status   string `json:"status"`
		Content  string `json:"content"`
		URL      string `json:"url"`
		URLShort string `json:"url_short"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("create page: decode: %w", err)
	}
	if out.Status != "" && out.Status != "200" {
		return "", fmt.Errorf("create page: status %s: %s", out.Status, out.Content)
	}
	id := strings.TrimSpace(out.URLShort)
	if id == "" {
		id = strings.TrimSpace(out.URL)
	}
	if id == "" {
		return "", ErrNoPageID
	}
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		return id, nil
	}
	return r.base + "/" + strings.TrimLeft(id, "/"), nil
}

func (r *Rentry) fetchToken(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", httpx.UserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("landing page: %w", err)
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus("landing page", resp); err != nil {
		return "", err
	}
	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("landing page: parse: %w", err)
	}
	if token := findInputValue(doc, csrfField); token != "" {
		return token, nil
	}
	return "", ErrTokenNotFound
}

// findInputValue returns the value of the first <input name=name>.
func findInputValue(n *html.Node, name string) string {
	if n.Type == html.ElementNode && n.Data == "input" && attr(n, "name") == name {
		return attr(n, "value")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v := findInputValue(c, name); v != "" {
			return v
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
