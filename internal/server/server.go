// Package server exposes the pipeline and retraction over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"postbot/internal/pipeline"
	"postbot/internal/publish"
	"postbot/internal/retention"
	"postbot/internal/storage"
	logx "postbot/pkg/logx"
)

// Config controls the HTTP API.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodyBytes bounds request bodies; default 20 MiB.
	MaxBodyBytes int64
	// Pprof mounts net/http/pprof under /debug/pprof (behind auth).
	Pprof bool
}

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Result
}

type Retractor interface {
	Retract(ctx context.Context, targets []publish.Target) publish.Retraction
}

type RunRetractor interface {
	RetractRun(ctx context.Context, runID string) (retention.Outcome, error)
}

// Deps are the collaborators behind the routes. Store and Runs may be nil
// when history is disabled; the run routes then answer 503.
type Deps struct {
	Pipeline  Runner
	Retractor Retractor
	Runs      RunRetractor
	Store     storage.Store
	Log       logx.Logger
}

type Server struct {
	cfg    Config
	d      Deps
	log    logx.Logger
	engine *gin.Engine
}

func New(cfg Config, d Deps) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 20 << 20
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, d: d, log: log.With(logx.String("comp", "http"))}
	s.engine = s.routes()
	return s
}

// Handler returns the gin engine (for tests and embedding).
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery(), s.accessLog(), s.limitBody())

	e.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := e.Group("/api/v1", s.auth())
	api.POST("/posts", s.handleProcess)
	api.POST("/posts/delete", s.handleDelete)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.POST("/runs/:id/retract", s.handleRetractRun)

	if s.cfg.Pprof {
		dbg := e.Group("/debug/pprof", s.auth())
		dbg.GET("/", gin.WrapF(hpprof.Index))
		dbg.GET("/:name", func(c *gin.Context) { pprofHandler(c.Param("name")).ServeHTTP(c.Writer, c.Request) })
	}
	return e
}

// Serve listens until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.cfg.Addr
	// Safety: prevent accidental public exposure without auth.
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return errors.New("http refused to start: non-loopback addr requires token or allow_insecure")
	}
	if s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("http running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(cctx)
	}()

	s.log.Info("http started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		s.log.Info("http stopped")
		return nil
	}
	return err
}

func (s *Server) auth() gin.HandlerFunc {
	tok := strings.TrimSpace(s.cfg.Token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		const p = "Bearer "
		ah := c.GetHeader("Authorization")
		if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", "Bearer")
		respondError(c, http.StatusUnauthorized, "unauthorized", nil)
		c.Abort()
	}
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

func pprofHandler(name string) http.Handler {
	switch name {
	case "cmdline":
		return http.HandlerFunc(hpprof.Cmdline)
	case "profile":
		return http.HandlerFunc(hpprof.Profile)
	case "symbol":
		return http.HandlerFunc(hpprof.Symbol)
	case "trace":
		return http.HandlerFunc(hpprof.Trace)
	default:
		return hpprof.Handler(name)
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
