package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"touchbase/internal/feed"
	"touchbase/internal/interaction"
	"touchbase/internal/storage"
	logx "touchbase/pkg/logx"
)

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.recovery(), s.observe())

	r.GET("/healthz", s.health)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	r.GET("/feed/:token", s.serveFeed)

	api := r.Group("/api")
	api.POST("/auth/events", s.authEvent)

	owner := api.Group("/owners/:owner")
	owner.GET("/dashboard", s.dashboard)
	owner.GET("/checkins", s.listCheckIns)
	owner.POST("/checkins", s.scheduleCheckIn)
	owner.POST("/checkins/:id/complete", s.completeCheckIn)
	owner.PUT("/checkins/:id/status", s.setStatus)
	owner.DELETE("/checkins/:id", s.deleteCheckIn)
	owner.PUT("/contacts/:id/frequency", s.setFrequency)
	owner.GET("/feed", s.feedInfo)
	owner.POST("/feed/rotate", s.rotateFeed)
	owner.POST("/reconcile", s.reconcileNow)
	return r
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.log.Error("http handler panic", logx.String("path", c.Request.URL.Path), logx.Any("panic", rec))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// observe logs each request at debug level and records its latency.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		took := time.Since(start)
		route := c.FullPath()
		s.deps.Metrics.HTTPRequest(route, c.Writer.Status(), took.Seconds())
		if s.log.Enabled(logx.LevelDebug) {
			s.log.Debug("http request",
				logx.String("method", c.Request.Method),
				logx.String("route", route),
				logx.Int("status", c.Writer.Status()),
				logx.Duration("took", took),
			)
		}
	}
}

// fail maps err onto a status code and a JSON body.
func (s *Server) fail(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &verrs):
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
		return
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, interaction.ErrNoContact),
		errors.Is(err, feed.ErrUnknownToken):
		code = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalid),
		errors.Is(err, interaction.ErrInvalidStatus),
		errors.Is(err, interaction.ErrFutureDate),
		errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, storage.ErrDisabled):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", logx.String("path", c.Request.URL.Path), logx.Err(err))
		c.AbortWithStatusJSON(code, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

func isValidation(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}
