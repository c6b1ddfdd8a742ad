// Package pipeline runs one post through the link-transformation stages and
// fans it out to the selected channels:
//
//	deobfuscate -> page -> [special publish] -> (lock -> shorten -> caption -> publish) -> aggregate -> report
//
// Deobfuscation, page hosting and every lock layer are fatal. Shortening and
// caption formatting degrade to fallbacks. Channel failures are isolated.
// The report step runs exactly once per run, whatever the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"postbot/internal/caption"
	"postbot/internal/eventbus"
	"postbot/internal/lock"
	"postbot/internal/post"
	"postbot/internal/publish"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type Deobfuscator interface {
	Resolve(ctx context.Context, link string) (string, error)
}

type PageHost interface {
	Publish(ctx context.Context, link string) (string, error)
}

type Shortener interface {
	Shorten(ctx context.Context, longURL string) (string, error)
}

type CaptionFormatter interface {
	Format(ctx context.Context, in caption.Input) caption.Result
}

type Publisher interface {
	Publish(ctx context.Context, p publish.Post) post.Report
}

// Reporter delivers the operator summary of a finished run.
type Reporter interface {
	Report(ctx context.Context, req Request, res Result) error
}

// Recorder persists a finished run.
type Recorder interface {
	RecordRun(ctx context.Context, req Request, res Result) error
}

type Deps struct {
	Deobfuscator Deobfuscator
	PageHost     PageHost
	Locker       lock.Locker
	Shortener    Shortener
	Captions     CaptionFormatter
	Publisher    Publisher

	// Optional.
	Reporter Reporter
	Recorder Recorder
	Bus      eventbus.Bus
	Log      logx.Logger
	Now      func() time.Time
	NewID    func() string
}

type Options struct {
	// SpecialChannel is published to first with the bare page link, no
	// buttons and no lock chain.
	SpecialChannel    string
	DefaultButtonText string
	ReportTimeout     time.Duration
}

type Pipeline struct {
	d   Deps
	opt Options
	bus eventbus.Bus
	log logx.Logger
}

func New(d Deps, opt Options) (*Pipeline, error) {
	switch {
	case d.Deobfuscator == nil:
		return nil, errors.New("pipeline: deobfuscator is required")
	case d.PageHost == nil:
		return nil, errors.New("pipeline: page host is required")
	case d.Locker == nil:
		return nil, errors.New("pipeline: locker is required")
	case d.Shortener == nil:
		return nil, errors.New("pipeline: shortener is required")
	case d.Captions == nil:
		return nil, errors.New("pipeline: caption formatter is required")
	case d.Publisher == nil:
		return nil, errors.New("pipeline: publisher is required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.Bus == nil {
		d.Bus = eventbus.New()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if opt.DefaultButtonText == "" {
		opt.DefaultButtonText = "📥 Download"
	}
	if opt.ReportTimeout <= 0 {
		opt.ReportTimeout = 15 * time.Second
	}
	return &Pipeline{d: d, opt: opt, bus: d.Bus, log: d.Log.With(logx.String("comp", "pipeline"))}, nil
}

// run is the state owned by one invocation.
type run struct {
	p   *Pipeline
	id  string
	req Request
	pc  Context
	log logx.Logger

	started  time.Time
	finalURL string
	caption  string
	reports  []post.Report
}

// Run executes req to a terminal state and reports it. It never returns an
// error; failures are described by the Result. Cancellation of ctx is not
// propagated to the stages: once started, a run always finishes.
func (p *Pipeline) Run(ctx context.Context, req Request) Result {
	ctx = context.WithoutCancel(ctx)
	r := &run{p: p, id: p.d.NewID(), req: req, pc: NewContext(), started: p.d.Now()}
	r.log = p.log.With(logx.String("run_id", r.id))
	r.log.Info("run started", logx.Int("channels", len(req.Settings.Channels)))

	res := r.guarded(ctx)
	p.finish(ctx, r, res)
	return res
}

func (r *run) guarded(ctx context.Context) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("run panicked", logx.Any("panic", rec))
			res = r.result(post.Merge(r.reports...), fmt.Errorf("%w: %v", ErrCritical, rec))
		}
	}()
	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) Result {
	req, err := r.req.Normalize(r.p.opt.DefaultButtonText)
	if err != nil {
		return r.result(post.Report{}, err)
	}
	r.req = req
	photo := kit.Photo{Data: req.Image.Data, URL: req.Image.URL, FileName: "image.jpg"}

	// Fatal prefix.
	start := time.Now()
	direct, err := r.p.d.Deobfuscator.Resolve(ctx, req.Link)
	r.emit(StageDeobfuscate, start, err, err != nil)
	if err != nil {
		return r.result(post.Report{}, fatal(StageDeobfuscate, err))
	}
	r.pc = r.pc.Succeed(StageDeobfuscate, func(a *Artifacts) { a.Deobfuscated = direct })

	start = time.Now()
	page, err := r.p.d.PageHost.Publish(ctx, direct)
	r.emit(StagePage, start, err, err != nil)
	if err != nil {
		return r.result(post.Report{}, fatal(StagePage, err))
	}
	r.pc = r.pc.Succeed(StagePage, func(a *Artifacts) { a.Page = page })
	r.finalURL = page

	special, regular := splitChannels(req.Settings.Channels, r.p.opt.SpecialChannel)

	if special != "" {
		text := r.formatCaption(ctx, caption.Input{Caption: req.Caption, Link: page, Placement: post.PlacementCaption})
		rep := r.publish(ctx, publish.Post{
			Photo:     photo,
			Caption:   text,
			Link:      page,
			Channels:  []string{special},
			Placement: post.PlacementCaption,
		})
		r.reports = append(r.reports, rep)
		r.caption = text
	}

	if len(regular) > 0 {
		start = time.Now()
		chain, err := lock.Wrap(ctx, r.p.d.Locker, page, req.Settings.LockCount, lock.SubjectName(req.Caption))
		r.emit(StageLock, start, err, err != nil)
		if err != nil {
			return r.result(post.Merge(r.reports...), fatal(StageLock, err))
		}
		r.pc = r.pc.Succeed(StageLock, func(a *Artifacts) { a.Locks = chain })
		r.finalURL = chain.Outer()

		start = time.Now()
		short, err := r.p.d.Shortener.Shorten(ctx, chain.Outer())
		r.emit(StageShorten, start, err, false)
		if err != nil {
			r.log.Warn("shortening failed, keeping locked url", logx.Err(err))
		} else {
			r.pc = r.pc.Succeed(StageShorten, func(a *Artifacts) { a.Short = short })
			r.finalURL = short
		}

		text := r.formatCaption(ctx, caption.Input{Caption: req.Caption, Link: r.finalURL, Placement: req.Settings.Placement})
		r.caption = text
		r.reports = append(r.reports, r.publish(ctx, publish.Post{
			Photo:      photo,
			Caption:    text,
			Link:       r.finalURL,
			Channels:   regular,
			Buttons:    true,
			Placement:  req.Settings.Placement,
			ButtonText: req.Settings.ButtonText,
		}))
	}

	if r.caption == "" {
		r.caption = r.formatCaption(ctx, caption.Input{Caption: req.Caption, Link: page, Placement: post.PlacementCaption})
	}

	agg := post.Merge(r.reports...)
	if agg.Success {
		r.pc = r.pc.Succeed(StageTelegram, nil)
		return r.result(agg, nil)
	}
	return r.result(agg, ErrChannelsFailed)
}

func (r *run) formatCaption(ctx context.Context, in caption.Input) string {
	start := time.Now()
	res := r.p.d.Captions.Format(ctx, in)
	var err error
	if res.Degraded {
		err = errors.New("remote formatter unavailable, used local template")
	}
	r.emit(StageCaption, start, err, false)
	if res.Degraded {
		r.pc = r.pc.Record(func(a *Artifacts) { a.Caption = res.Text })
	} else {
		r.pc = r.pc.Succeed(StageCaption, func(a *Artifacts) { a.Caption = res.Text })
	}
	return res.Text
}

func (r *run) publish(ctx context.Context, p publish.Post) post.Report {
	start := time.Now()
	rep := r.p.d.Publisher.Publish(ctx, p)
	var err error
	if !rep.Success {
		err = ErrChannelsFailed
	}
	r.emit(StageTelegram, start, err, false)
	return rep
}

// result builds the Result from the current context. Delivery results
// collected before an abort are kept so they can still be retracted.
func (r *run) result(rep post.Report, err error) Result {
	if len(rep.Results) > 0 {
		r.pc = r.pc.Record(func(a *Artifacts) { a.Telegram = &rep })
	}
	res := Result{
		RunID:      r.id,
		Success:    err == nil && rep.Success,
		Status:     r.pc.Status(),
		Artifacts:  r.pc.Artifacts(),
		StartedAt:  r.started,
		FinishedAt: r.p.d.Now(),
	}
	if r.pc.Done(StagePage) {
		res.FinalURL = r.finalURL
		res.Caption = r.caption
	}
	if err != nil {
		res.Err = err
		res.Error = err.Error()
	}
	return res
}

func (p *Pipeline) finish(ctx context.Context, r *run, res Result) {
	log := r.log.With(logx.Bool("success", res.Success))
	if res.Success {
		log.Info("run finished", logx.String("final_url", res.FinalURL))
	} else {
		log.Error("run failed", logx.String("error", res.Error), logx.Bool("fatal", IsFatal(res.Err)))
	}

	p.bus.Publish(eventbus.Event{Type: eventbus.TypeRunDone, Data: RunEvent{
		RunID:    res.RunID,
		Success:  res.Success,
		Error:    res.Error,
		Channels: len(res.Posts()),
	}})

	if p.d.Recorder != nil {
		isolate(log, "record run", func() error { return p.d.Recorder.RecordRun(ctx, r.req, res) })
	}
	if p.d.Reporter != nil {
		rctx, cancel := context.WithTimeout(ctx, p.opt.ReportTimeout)
		defer cancel()
		isolate(log, "operator report", func() error { return p.d.Reporter.Report(rctx, r.req, res) })
	}
}

// isolate runs fn and logs its failure or panic.
func isolate(log logx.Logger, what string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn(what+" panicked", logx.Any("panic", rec))
		}
	}()
	if err := fn(); err != nil {
		log.Warn(what+" failed", logx.Err(err))
	}
}

func splitChannels(ids []string, specialID string) (special string, regular []string) {
	for _, id := range ids {
		if specialID != "" && id == specialID {
			special = id
			continue
		}
		regular = append(regular, id)
	}
	return special, regular
}
