package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"touchbase/internal/auth"
	"touchbase/internal/checkin"
	"touchbase/internal/feed"
	"touchbase/internal/interaction"
	"touchbase/internal/meetings"
	"touchbase/internal/status"
	"touchbase/internal/storage"
	logx "touchbase/pkg/logx"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "storage": s.deps.Store != nil})
}

// serveFeed is the only unauthenticated route; the token is the credential.
func (s *Server) serveFeed(c *gin.Context) {
	token := strings.TrimSuffix(c.Param("token"), ".ics")
	if l := s.limiter(token); l != nil && !l.Allow() {
		s.deps.Metrics.FeedRequest(http.StatusTooManyRequests)
		retry := max(1, int(math.Ceil(1/float64(l.Limit()))))
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	owner, err := s.deps.Tokens.Resolve(c.Request.Context(), token)
	if err != nil {
		code := http.StatusNotFound
		if !errors.Is(err, feed.ErrUnknownToken) {
			s.log.Warn("feed token lookup failed", logx.Err(err))
			code = http.StatusInternalServerError
		}
		s.deps.Metrics.FeedRequest(code)
		c.AbortWithStatus(code)
		return
	}

	var buf bytes.Buffer
	if err := s.deps.Feed.Render(c.Request.Context(), &buf, owner); err != nil {
		s.log.Error("feed render failed", logx.String("owner", owner), logx.Err(err))
		s.deps.Metrics.FeedRequest(http.StatusInternalServerError)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	s.deps.Metrics.FeedRequest(http.StatusOK)
	c.Header("Cache-Control", "private, max-age=300")
	c.Header("Content-Disposition", `inline; filename="touchbase.ics"`)
	c.Data(http.StatusOK, feed.ContentType(), buf.Bytes())
}

type authEventRequest struct {
	Owner string `json:"owner" binding:"required,max=128"`
	Kind  string `json:"kind" binding:"required"`
}

func (s *Server) authEvent(c *gin.Context) {
	if s.deps.Auth == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	var req authEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bindError(err))
		return
	}
	kind, err := auth.ParseKind(req.Kind)
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.deps.Auth.Publish(req.Owner, kind); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"owner": req.Owner, "kind": kind})
}

func (s *Server) dashboard(c *gin.Context) {
	d, hit, err := s.deps.Views.Get(c.Request.Context(), c.Param("owner"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.deps.Metrics.DashboardView(hit)
	c.JSON(http.StatusOK, d)
}

// listCheckIns returns the aggregated next/missed lists; ?all=1 lifts the
// per-list cap.
func (s *Server) listCheckIns(c *gin.Context) {
	owner := c.Param("owner")
	rows, err := s.deps.Store.ListCheckIns(c.Request.Context(), storage.CheckInFilter{
		OwnerID:   owner,
		ContactID: c.Query("contact"),
		Statuses:  []checkin.Status{checkin.Scheduled, checkin.Missed},
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	now := s.deps.Clock.Now()
	all, _ := strconv.ParseBool(c.DefaultQuery("all", "0"))
	var (
		next   meetings.Upcoming
		missed []checkin.CheckIn
	)
	if all {
		next, missed = meetings.NextAll(rows, now, s.deps.Location), meetings.MissedAll(rows, now, s.deps.Location)
	} else {
		next, missed = meetings.Next(rows, now, s.deps.Location), meetings.Missed(rows, now, s.deps.Location)
	}
	c.JSON(http.StatusOK, gin.H{"next": next, "missed": missed})
}

type scheduleRequest struct {
	ContactID string `json:"contact_id" binding:"required,max=128"`
	Date      string `json:"date" binding:"required"`
	Type      string `json:"type" binding:"omitempty,oneof=planned suggested"`
	Notes     string `json:"notes" binding:"max=2000"`
}

func (s *Server) scheduleCheckIn(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bindError(err))
		return
	}
	date, ok := status.ParseDate(req.Date, s.deps.Location)
	if !ok {
		s.fail(c, fmt.Errorf("%w: unparseable date %q", errBadRequest, req.Date))
		return
	}
	ci, err := s.deps.Interactions.Schedule(c.Request.Context(), c.Param("owner"), interaction.ScheduleRequest{
		ContactID: req.ContactID,
		Date:      date,
		Type:      checkin.Type(req.Type),
		Notes:     req.Notes,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ci)
}

func (s *Server) completeCheckIn(c *gin.Context) {
	ci, err := s.deps.Interactions.Complete(c.Request.Context(), c.Param("owner"), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ci)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) setStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bindError(err))
		return
	}
	st, err := checkin.ParseStatus(req.Status)
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %v", interaction.ErrInvalidStatus, err))
		return
	}
	ci, err := s.deps.Interactions.SetStatus(c.Request.Context(), c.Param("owner"), c.Param("id"), st)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ci)
}

func (s *Server) deleteCheckIn(c *gin.Context) {
	if err := s.deps.Interactions.Delete(c.Request.Context(), c.Param("owner"), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type frequencyRequest struct {
	Frequency string `json:"frequency" binding:"required"`
}

func (s *Server) setFrequency(c *gin.Context) {
	var req frequencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bindError(err))
		return
	}
	freq, ok := checkin.ParseFrequency(req.Frequency)
	if !ok {
		s.fail(c, fmt.Errorf("%w: unknown frequency %q", errBadRequest, req.Frequency))
		return
	}
	contact, err := s.deps.Interactions.SetFrequency(c.Request.Context(), c.Param("owner"), c.Param("id"), freq)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (s *Server) feedInfo(c *gin.Context) {
	tok, err := s.deps.Tokens.Get(c.Request.Context(), c.Param("owner"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok.Token, "url": feed.URL(s.baseURL(c), tok.Token), "created_at": tok.CreatedAt})
}

func (s *Server) rotateFeed(c *gin.Context) {
	tok, err := s.deps.Tokens.Rotate(c.Request.Context(), c.Param("owner"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok.Token, "url": feed.URL(s.baseURL(c), tok.Token), "created_at": tok.CreatedAt})
}

// reconcileNow runs the job inline. The cooldown still applies, so repeated
// calls inside the window return skipped=true.
func (s *Server) reconcileNow(c *gin.Context) {
	if s.deps.Reconcile == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	res, err := s.deps.Reconcile.Run(c.Request.Context(), c.Param("owner"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) baseURL(c *gin.Context) string {
	if s.cfg.BaseURL != "" {
		return s.cfg.BaseURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + c.Request.Host
}

// bindError keeps validator errors intact (fail renders their fields) and
// marks everything else, e.g. malformed JSON, as a bad request.
func bindError(err error) error {
	if isValidation(err) {
		return err
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}
