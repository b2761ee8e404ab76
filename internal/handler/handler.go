package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/geo"
)

// Accounts resolves roster actors and stores refresh tokens.
type Accounts interface {
	ActorExists(ctx context.Context, role attendance.Authority, id string) (bool, error)
	SaveRefreshToken(ctx context.Context, actorID string, role attendance.Authority, token string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (bool, error)
}

// AuditLog lists recorded marks.
type AuditLog interface {
	ListAudit(ctx context.Context, studentID, subjectCode string, limit, offset int) ([]attendance.AuditEntry, error)
}

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) bool

// Tokens configures token issuance.
type Tokens struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Handler struct {
	svc      *attendance.Service
	tracker  *geo.Tracker
	accounts Accounts // nil when no roster backend is configured
	audit    AuditLog // nil when no roster backend is configured
	tokens   Tokens
	checks   map[string]Check
	now      func() time.Time
}

func New(svc *attendance.Service, tracker *geo.Tracker, accounts Accounts, audit AuditLog, tokens Tokens, checks map[string]Check) *Handler {
	return &Handler{
		svc:      svc,
		tracker:  tracker,
		accounts: accounts,
		audit:    audit,
		tokens:   tokens,
		checks:   checks,
		now:      time.Now,
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for _, name := range names {
		ok := h.checks[name](ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Responses ----------

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}

// failErr maps service errors onto HTTP statuses.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrInvalidRequest):
		fail(c, http.StatusBadRequest, err.Error())
	case attendance.IsRetryable(err):
		log.Printf("handler: %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, "attendance storage is temporarily unavailable, please retry")
	default:
		log.Printf("handler: %s %s: %v", c.Request.Method, c.FullPath(), err)
		fail(c, http.StatusInternalServerError, "internal error")
	}
}

func decisionJSON(c *gin.Context, d attendance.Decision) {
	body := gin.H{"success": d.Accepted}
	if d.Accepted {
		body["message"] = "attendance recorded"
		body["status"] = d.Record.Status
		body["record"] = d.Record
	} else {
		body["message"] = d.Reason.Message()
		body["reason"] = d.Reason
	}
	if d.Verdict != nil {
		body["verdict"] = gin.H{
			"inside":          d.Verdict.Inside,
			"distance_meters": d.Verdict.DistanceMeters,
			"accuracy_meters": d.Verdict.Sample.AccuracyMeters,
		}
	}
	status := http.StatusOK
	if !d.Accepted {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, body)
}
