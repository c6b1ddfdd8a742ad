package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

var (
	knownShorteners = map[string]bool{"tinyurl": true, "isgd": true}
	knownCaptioners = map[string]bool{"gemini": true, "openai": true}
)

// Validate checks the config and returns every problem found, each prefixed
// with its field path.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required")
	}
	if strings.TrimSpace(c.Telegram.AdminChat) == "" {
		add("telegram.admin_chat is required")
	}
	dur("telegram.poll_timeout", c.Telegram.PollTimeout)

	seen := map[string]bool{}
	special := 0
	for i, ch := range c.Channels {
		id := strings.TrimSpace(ch.ID)
		switch {
		case id == "":
			add("channels[%d].id is required", i)
		case seen[id]:
			add("channels[%d].id %q is duplicated", i, id)
		}
		seen[id] = true
		if ch.Special {
			special++
		}
	}
	if special > 1 {
		add("channels: at most one channel may be special (got %d)", special)
	}

	if c.Publish.Concurrency < 0 {
		add("publish.concurrency must be >= 0")
	}
	if c.Publish.RatePerSec < 0 {
		add("publish.rate_per_sec must be >= 0")
	}

	s := c.Services
	dur("services.resolver.timeout", s.Resolver.Timeout)
	dur("services.page_host.timeout", s.PageHost.Timeout)
	dur("services.lock.timeout", s.Lock.Timeout)
	dur("services.shortener.timeout", s.Shortener.Timeout)
	dur("services.caption.gemini.timeout", s.Caption.Gemini.Timeout)
	dur("services.caption.openai.timeout", s.Caption.OpenAI.Timeout)
	for i, p := range s.PageHost.Promos {
		if strings.TrimSpace(p.URL) == "" {
			add("services.page_host.promos[%d].url is required", i)
		}
	}
	for i, p := range s.Shortener.Providers {
		if !knownShorteners[strings.ToLower(p)] {
			add("services.shortener.providers[%d]: unknown provider %q", i, p)
		}
	}
	for i, p := range s.Caption.Providers {
		if !knownCaptioners[strings.ToLower(p)] {
			add("services.caption.providers[%d]: unknown provider %q", i, p)
		}
	}

	dur("pipeline.report_timeout", c.Pipeline.ReportTimeout)

	if st := c.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			add("storage.driver: unknown driver %q", st.Driver)
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	if r := c.Retention; r != nil && r.Enabled {
		if c.Storage == nil || strings.TrimSpace(c.Storage.Driver) == "" || strings.EqualFold(c.Storage.Driver, "none") {
			add("retention.enabled requires a storage driver")
		}
		if d, err := ParseDurationField("retention.max_age", r.MaxAge); err != nil {
			errs = append(errs, err)
		} else if d <= 0 {
			add("retention.max_age must be positive")
		}
		if r.Schedule != "" {
			p := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
			if _, err := p.Parse(r.Schedule); err != nil {
				add("retention.schedule: %v", err)
			}
		}
	}

	if sv := c.Server; sv != nil && sv.Enabled {
		dur("server.read_timeout", sv.ReadTimeout)
		dur("server.write_timeout", sv.WriteTimeout)
		if !isLoopback(sv.Addr) && strings.TrimSpace(sv.Token) == "" && !sv.AllowInsecure {
			add("server.token is required when server.addr is not loopback (or set allow_insecure)")
		}
	}

	return errors.Join(errs...)
}

func isLoopback(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
