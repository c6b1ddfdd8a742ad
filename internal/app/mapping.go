package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"postbot/internal/caption"
	"postbot/internal/config"
	"postbot/internal/pagehost"
	"postbot/internal/pick"
	"postbot/internal/publish"
	"postbot/internal/retention"
	"postbot/internal/server"
	"postbot/internal/shorten"
	"postbot/internal/storage"
	logx "postbot/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapRetention(cfg *config.Config) (retention.Config, error) {
	if cfg.Retention == nil {
		return retention.Config{}, nil
	}
	r := cfg.Retention
	maxAge, err := config.ParseDurationField("retention.max_age", r.MaxAge)
	if err != nil {
		return retention.Config{}, err
	}
	return retention.Config{
		Enabled:  r.Enabled,
		Schedule: r.Schedule,
		MaxAge:   maxAge,
		Batch:    r.Batch,
		Timezone: r.Timezone,
	}, nil
}

func mapServer(cfg *config.Config) (server.Config, bool, error) {
	if cfg.Server == nil || !cfg.Server.Enabled {
		return server.Config{}, false, nil
	}
	sv := cfg.Server
	rt, err := config.ParseDurationOrDefault("server.read_timeout", sv.ReadTimeout, 30*time.Second)
	if err != nil {
		return server.Config{}, false, err
	}
	// A run holds the request open until every stage and channel is done.
	wt, err := config.ParseDurationOrDefault("server.write_timeout", sv.WriteTimeout, 5*time.Minute)
	if err != nil {
		return server.Config{}, false, err
	}
	return server.Config{
		Addr:          sv.Addr,
		Token:         sv.Token,
		AllowInsecure: sv.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   2 * time.Minute,
		MaxBodyBytes:  sv.MaxBodyBytes,
		Pprof:         sv.Pprof,
	}, true, nil
}

func mapPublish(cfg *config.Config) publish.Config {
	p := cfg.Publish
	return publish.Config{
		Concurrency: p.Concurrency,
		RatePerSec:  p.RatePerSec,
		Burst:       p.Burst,
		Buttons: publish.Buttons{
			PremiumText: p.PremiumText,
			PremiumURL:  p.PremiumURL,
			VIPTitles:   p.VIPTitles,
			VIPURL:      p.VIPURL,
		},
	}
}

func buildPageHost(cfg *config.Config, picker pick.Picker, log logx.Logger) (*pagehost.Chain, error) {
	ph := cfg.Services.PageHost
	timeout, err := config.ParseDurationOrDefault("services.page_host.timeout", ph.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	promos := make([]pagehost.Promo, 0, len(ph.Promos))
	for _, p := range ph.Promos {
		promos = append(promos, pagehost.Promo{Label: p.Label, URL: p.URL})
	}
	primary := pagehost.NewRentry(pagehost.RentryConfig{
		BaseURL: ph.BaseURL,
		Timeout: timeout,
		Titles:  ph.Titles,
		Promos:  promos,
	}, picker)
	secondary := strings.TrimSpace(ph.Secondary)
	if secondary == "" {
		secondary = "secondary"
	}
	return pagehost.NewChain(log, primary, pagehost.Disabled(secondary)), nil
}

func buildShortener(cfg *config.Config, log logx.Logger) (*shorten.Chain, error) {
	sc := cfg.Services.Shortener
	timeout, err := config.ParseDurationOrDefault("services.shortener.timeout", sc.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	names := sc.Providers
	if len(names) == 0 {
		names = []string{"tinyurl", "isgd"}
	}
	var providers []shorten.Provider
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "tinyurl":
			providers = append(providers, shorten.TinyURL(sc.TinyURLURL, timeout))
		case "isgd":
			providers = append(providers, shorten.IsGd(sc.IsGdURL, timeout))
		}
	}
	return shorten.NewChain(log, providers...), nil
}

// buildCaptions creates the remote formatters in configured order. A
// provider without credentials is skipped; the local template remains.
func buildCaptions(ctx context.Context, cfg *config.Config, log logx.Logger) (*caption.Strategy, error) {
	cc := cfg.Services.Caption
	names := cc.Providers
	if len(names) == 0 {
		names = []string{"gemini"}
	}
	var remotes []caption.Formatter
	for _, n := range names {
		var (
			f   caption.Formatter
			err error
		)
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "gemini":
			var timeout time.Duration
			if timeout, err = config.ParseDurationOrDefault("services.caption.gemini.timeout", cc.Gemini.Timeout, 30*time.Second); err != nil {
				return nil, err
			}
			f, err = caption.NewGemini(ctx, caption.GeminiConfig{
				APIKey:  cc.Gemini.APIKey,
				Model:   cc.Gemini.Model,
				BaseURL: cc.Gemini.BaseURL,
				Timeout: timeout,
			})
		case "openai":
			var timeout time.Duration
			if timeout, err = config.ParseDurationOrDefault("services.caption.openai.timeout", cc.OpenAI.Timeout, 30*time.Second); err != nil {
				return nil, err
			}
			f, err = caption.NewOpenAI(caption.OpenAIConfig{
				APIKey:  cc.OpenAI.APIKey,
				Model:   cc.OpenAI.Model,
				BaseURL: cc.OpenAI.BaseURL,
				Timeout: timeout,
			})
		default:
			continue
		}
		if errors.Is(err, caption.ErrNotAvailable) {
			log.Warn("caption provider skipped", logx.String("provider", n), logx.Err(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		remotes = append(remotes, f)
	}
	return caption.NewStrategy(log, remotes...), nil
}
