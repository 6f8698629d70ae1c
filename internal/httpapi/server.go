// Package httpapi is the HTTP surface: the public calendar feed, the owner
// API used by the front end, the auth provider hook and /metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"touchbase/internal/auth"
	"touchbase/internal/clock"
	"touchbase/internal/feed"
	"touchbase/internal/interaction"
	"touchbase/internal/meetings"
	"touchbase/internal/metrics"
	"touchbase/internal/reconcile"
	"touchbase/internal/storage"
	logx "touchbase/pkg/logx"
)

const (
	DefaultAddr            = "127.0.0.1:8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	limiterCacheSize       = 4096
)

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// BaseURL prefixes feed URLs returned by the owner API. Empty means the
	// request's own scheme and host.
	BaseURL string

	// FeedRate limits requests per feed token; 0 disables limiting.
	FeedRate  rate.Limit
	FeedBurst int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = DefaultAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.FeedRate > 0 && c.FeedBurst <= 0 {
		c.FeedBurst = max(1, int(c.FeedRate))
	}
	return c
}

// Deps are the collaborators behind the routes. Reconcile, Metrics and
// Auth may be nil; their routes then answer 404 or record nothing.
type Deps struct {
	Store        storage.Store
	Interactions *interaction.Service
	Views        *meetings.ViewCache
	Feed         *feed.Generator
	Tokens       *feed.Tokens
	Auth         *auth.Events
	Reconcile    *reconcile.Job
	Metrics      *metrics.Metrics
	Clock        clock.Clock
	Location     *time.Location
}

type Server struct {
	cfg      Config
	deps     Deps
	log      logx.Logger
	engine   *gin.Engine
	limiters *lru.Cache[string, *rate.Limiter]
}

func New(cfg Config, deps Deps, log logx.Logger) (*Server, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	deps.Clock = clock.Or(deps.Clock)
	limiters, err := lru.New[string, *rate.Limiter](limiterCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		log:      log.With(logx.String("comp", "http")),
		limiters: limiters,
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.engine }

// Serve listens on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
		_ = srv.Close()
	}
	<-errCh
	return nil
}

// limiter returns the token's bucket, or nil when limiting is off.
func (s *Server) limiter(token string) *rate.Limiter {
	if s.cfg.FeedRate <= 0 {
		return nil
	}
	if l, ok := s.limiters.Get(token); ok {
		return l
	}
	l := rate.NewLimiter(s.cfg.FeedRate, s.cfg.FeedBurst)
	if prev, ok, _ := s.limiters.PeekOrAdd(token, l); ok {
		return prev
	}
	return l
}
