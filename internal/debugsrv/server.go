// Package debugsrv runs the optional operator listener: net/http/pprof plus
// JSON snapshots of the task engine, scheduler and supervisors.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback addr needs Token or AllowInsecure.
package debugsrv

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"touchbase/internal/runtime/supervisor"
	logx "touchbase/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

var ErrInsecureBind = errors.New("debug listener refused: non-loopback addr requires token or allow_insecure")

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	MutexProfileFraction int
	BlockProfileRate     int
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

type Service struct {
	mu    sync.Mutex
	log   logx.Logger
	cfg   Config
	state map[string]func() any

	sup *supervisor.Supervisor
	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log.With(logx.String("comp", "debug")), state: map[string]func() any{}}
}

// Expose registers fn under name in /debug/state. fn runs on every request.
func (s *Service) Expose(name string, fn func() any) {
	s.mu.Lock()
	s.state[name] = fn
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound listener address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg, starting, stopping or restarting the listener
// as needed. Safe to call during hot reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case needsRestart(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	return a.addr() != b.addr() || a.Token != b.Token || a.AllowInsecure != b.AllowInsecure
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Start is idempotent. The listener runs under its own supervisor with
// restart backoff and never cancels the app.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	applyRuntimeRates(s.cfg)
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	s.sup.GoRestart("debug.serve", s.serveOnce, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("debug listener stop", logx.Err(err))
	}
	s.log.Info("debug listener stopped")
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	addr := cur.addr()
	if cur.Token == "" && !isLoopbackAddr(addr) {
		if !cur.AllowInsecure {
			s.log.Error("debug listener refused to start", logx.String("addr", addr))
			return ErrInsecureBind
		}
		s.log.Warn("debug listener running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(cur.Token),
		ReadHeaderTimeout: 5 * time.Second,
		// profile and trace stream for their whole ?seconds= window
		WriteTimeout: 2 * time.Minute,
	}

	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.srv == srv {
			s.srv, s.ln = nil, nil
		}
		s.mu.Unlock()
	}()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("debug listener started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug listener exited unexpectedly")
	}
	return err
}

// Handler serves /healthz, /debug/state and /debug/pprof/*. A non-empty
// token is required as "Authorization: Bearer" or ?token=.
func (s *Service) Handler(token string) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	dbg := r.Group("/debug", requireToken(token))
	dbg.GET("/state", s.serveState)
	dbg.GET("/pprof/*name", servePprof)
	dbg.POST("/pprof/*name", servePprof)
	return r
}

func (s *Service) serveState(c *gin.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.state))
	fns := make(map[string]func() any, len(s.state))
	for name, fn := range s.state {
		names = append(names, name)
		fns[name] = fn
	}
	s.mu.Unlock()
	sort.Strings(names)

	out := make(gin.H, len(names))
	for _, name := range names {
		out[name] = fns[name]()
	}
	c.JSON(http.StatusOK, out)
}

func servePprof(c *gin.Context) {
	switch strings.TrimPrefix(c.Param("name"), "/") {
	case "cmdline":
		hpprof.Cmdline(c.Writer, c.Request)
	case "profile":
		hpprof.Profile(c.Writer, c.Request)
	case "symbol":
		hpprof.Symbol(c.Writer, c.Request)
	case "trace":
		hpprof.Trace(c.Writer, c.Request)
	default:
		// Index serves named profiles (heap, goroutine, ...) from the path
		hpprof.Index(c.Writer, c.Request)
	}
}

func requireToken(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			return
		}
		got := c.Query("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatus(http.StatusUnauthorized)
		}
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
