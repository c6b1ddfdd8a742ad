// Package app wires configuration, logging, the pipeline and its
// collaborators into one process and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postbot/internal/bot"
	"postbot/internal/config"
	"postbot/internal/eventbus"
	"postbot/internal/lock"
	"postbot/internal/pick"
	"postbot/internal/pipeline"
	"postbot/internal/publish"
	"postbot/internal/report"
	"postbot/internal/resolve"
	"postbot/internal/retention"
	"postbot/internal/runtime/supervisor"
	"postbot/internal/server"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	telegram "postbot/internal/transport/telegram/adapter"
	logx "postbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	pipe      *pipeline.Pipeline
	retractor *publish.Retractor
	reporter  *report.Reporter
	retention *retention.Service
	server    *server.Server
	bot       *bot.Bot

	special  string
	commands bool

	sup     *supervisor.Supervisor
	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component. Nothing is
// started; one-shot commands use the accessors and then Close.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(ctx, cfgm, cfg, nil)
}

// build wires the app. msg replaces the Telegram adapter when non-nil.
func build(ctx context.Context, cfgm *config.Manager, cfg *config.Config, msg kit.Adapter) (a *App, err error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	if msg == nil {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			APIURL:      cfg.Telegram.APIURL,
			PollTimeout: pollTimeout,
		}, bootLog)
		if err != nil {
			return nil, err
		}
		msg = ad
	}

	// Telegram logging starts disabled so Apply does not warn about a missing
	// target; the target is set and the final config applied right after.
	logCfg := mapLogging(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg, msg)
	logSvc.SetTelegramTarget(kit.ChatTarget{ChatID: strings.TrimSpace(cfg.Telegram.AdminChat), ThreadID: cfg.Logging.Telegram.ThreadID})
	logSvc.Apply(logCfg)
	defer func() {
		if err != nil {
			_ = logSvc.Close()
		}
	}()
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	bus := eventbus.New()

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root)
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
		defer func() {
			if err != nil {
				_ = store.Close()
			}
		}()
	}

	picker := pick.NewRandom(cfg.Pipeline.Seed)

	resolverTimeout, err := config.ParseDurationOrDefault("services.resolver.timeout", cfg.Services.Resolver.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	lockTimeout, err := config.ParseDurationOrDefault("services.lock.timeout", cfg.Services.Lock.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	reportTimeout, err := config.ParseDurationOrDefault("pipeline.report_timeout", cfg.Pipeline.ReportTimeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	pages, err := buildPageHost(cfg, picker, root.With(logx.String("comp", "pagehost")))
	if err != nil {
		return nil, err
	}
	shortener, err := buildShortener(cfg, root.With(logx.String("comp", "shorten")))
	if err != nil {
		return nil, err
	}
	captions, err := buildCaptions(ctx, cfg, root.With(logx.String("comp", "caption")))
	if err != nil {
		return nil, err
	}

	reporter := report.New(msg, cfg.Telegram.AdminChat, cfg.ChannelNames(), root)
	var recorder pipeline.Recorder
	if store != nil {
		recorder = storeRecorder{store: store}
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Deobfuscator: resolve.New(resolve.Config{
			BaseURL: cfg.Services.Resolver.BaseURL,
			APIKey:  cfg.Services.Resolver.APIKey,
			Timeout: resolverTimeout,
		}),
		PageHost: pages,
		Locker: lock.NewLockr(lock.LockrConfig{
			BaseURL: cfg.Services.Lock.BaseURL,
			Token:   cfg.Services.Lock.Token,
			Timeout: lockTimeout,
		}),
		Shortener: shortener,
		Captions:  captions,
		Publisher: publish.New(msg, mapPublish(cfg), picker, root),
		Reporter:  reporter,
		Recorder:  recorder,
		Bus:       bus,
		Log:       root,
	}, pipeline.Options{
		SpecialChannel:    cfg.SpecialChannel(),
		DefaultButtonText: cfg.Pipeline.DefaultButtonText,
		ReportTimeout:     reportTimeout,
	})
	if err != nil {
		return nil, err
	}

	retractor := publish.NewRetractor(msg, cfg.Publish.Concurrency, root)
	rc, err := mapRetention(cfg)
	if err != nil {
		return nil, err
	}
	ret := retention.New(rc, store, retractor, bus, root)

	a = &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   msg,
		pipe:      pipe,
		retractor: retractor,
		reporter:  reporter,
		retention: ret,
		special:   cfg.SpecialChannel(),
		commands:  cfg.Telegram.Commands,
		updates:   make(chan kit.Update, 256),
	}

	svCfg, enabled, err := mapServer(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		deps := server.Deps{Pipeline: pipe, Retractor: retractor, Store: store, Log: root}
		if store != nil {
			deps.Runs = ret
		}
		a.server = server.New(svCfg, deps)
	}
	if cfg.Telegram.Commands {
		var runs bot.RunRetractor
		if store != nil {
			runs = ret
		}
		a.bot = bot.New(msg, store, runs, cfg.Telegram.OwnerUserIDs, root)
	}
	return a, nil
}

func (a *App) Log() logx.Logger              { return a.log }
func (a *App) Pipeline() *pipeline.Pipeline  { return a.pipe }
func (a *App) Retractor() *publish.Retractor { return a.retractor }
func (a *App) Retention() *retention.Service { return a.retention }
func (a *App) Store() storage.Store          { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the long-lived services: command polling, retention, the HTTP
// API, event logging and config hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if a.bot != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go0("commands.dispatch", func(c context.Context) { a.bot.Run(c, a.updates) })
	}
	if err := a.retention.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.server != nil {
		a.sup.GoRestart("http.serve", a.server.Serve, 500*time.Millisecond, 10*time.Second)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		logEvents(c, a.log.With(logx.String("comp", "events")), events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	notifySystemd(a.log, sdReady)
	a.log.Info("app started",
		logx.Bool("http", a.server != nil),
		logx.Bool("commands", a.bot != nil),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig hot-applies logging, channel names and owners. Everything
// else needs a restart and is only reported.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.SetTelegramTarget(kit.ChatTarget{ChatID: strings.TrimSpace(next.Telegram.AdminChat), ThreadID: next.Logging.Telegram.ThreadID})
	a.logs.Apply(mapLogging(next))
	a.reporter.SetChannelNames(next.ChannelNames())
	if a.bot != nil {
		a.bot.SetOwners(next.Telegram.OwnerUserIDs)
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	if s := next.SpecialChannel(); s != a.special {
		a.log.Warn("special channel changed; restart required", logx.String("special", s))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// Stop shuts services down in reverse order, bounding each step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, sdStopping)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step timeout", logx.String("name", name), logx.Duration("max", max))
		}
	}

	step("retention", 3*time.Second, func(c context.Context) error { a.retention.Stop(c); return nil })
	if a.bot != nil {
		step("adapter", 2*time.Second, a.adapter.Stop)
	}
	// Wait for supervised goroutines (http, config watch/reload, dispatcher).
	step("supervisor", 6*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.Close()
}

// Close releases storage and logging sinks.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
