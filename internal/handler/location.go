package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/auth"
	"geoattend/internal/geo"
)

// locationReport is either a fix or a sensor error code (1 permission denied,
// 2 position unavailable, 3 timeout).
type locationReport struct {
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	AccuracyMeters float64    `json:"accuracy_meters"`
	CapturedAt     *time.Time `json:"captured_at"`
	ErrorCode      int        `json:"error_code"`
}

// ReportLocation feeds the caller's tracking session, starting it on first use.
func (h *Handler) ReportLocation(c *gin.Context) {
	if h.tracker == nil {
		fail(c, http.StatusServiceUnavailable, "location tracking not configured")
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	var req locationReport
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if req.ErrorCode != 0 {
		if err := h.tracker.ReportError(claims.Subject, geo.ErrorFromCode(req.ErrorCode)); err != nil {
			fail(c, http.StatusConflict, err.Error())
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "error recorded"})
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		fail(c, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	s := geo.Sample{Latitude: *req.Latitude, Longitude: *req.Longitude, AccuracyMeters: req.AccuracyMeters, CapturedAt: h.now()}
	if req.CapturedAt != nil {
		s.CapturedAt = *req.CapturedAt
	}
	if err := h.tracker.Report(claims.Subject, s); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "location recorded"})
}

// CurrentLocation reports whether the session holds a fresh sample and how it
// relates to the campus geofence.
func (h *Handler) CurrentLocation(c *gin.Context) {
	if h.tracker == nil {
		fail(c, http.StatusServiceUnavailable, "location tracking not configured")
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	s, ok := h.tracker.Current(claims.Subject)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "available": false})
		return
	}
	v := geo.Evaluate(s, h.svc.Geofence())
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"available": true,
		"sample":    s,
		"verdict": gin.H{
			"inside":          v.Inside,
			"distance_meters": v.DistanceMeters,
			"accuracy_meters": s.AccuracyMeters,
		},
	})
}

// StopLocation ends the caller's tracking session.
func (h *Handler) StopLocation(c *gin.Context) {
	if h.tracker == nil {
		fail(c, http.StatusServiceUnavailable, "location tracking not configured")
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	h.tracker.Stop(claims.Subject)
	c.Status(http.StatusNoContent)
}
