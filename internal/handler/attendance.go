package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/geo"
)

// ---------- Student self-mark ----------

type selfMarkRequest struct {
	SubjectCode    string     `json:"subject_code" binding:"required"`
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	AccuracyMeters *float64   `json:"accuracy_meters"`
	CapturedAt     *time.Time `json:"captured_at"`
}

// sample returns the fix carried in the request, if any. A fix without a capture
// time is taken as captured on arrival.
func (r selfMarkRequest) sample(now time.Time) (*geo.Sample, bool) {
	if r.Latitude == nil || r.Longitude == nil {
		return nil, false
	}
	s := &geo.Sample{Latitude: *r.Latitude, Longitude: *r.Longitude, CapturedAt: now}
	if r.AccuracyMeters != nil {
		s.AccuracyMeters = *r.AccuracyMeters
	}
	if r.CapturedAt != nil {
		s.CapturedAt = *r.CapturedAt
	}
	return s, true
}

// SubmitSelf marks the calling student for today. Without coordinates in the body
// the latest sample of the student's tracking session is used.
func (h *Handler) SubmitSelf(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req selfMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if (req.Latitude == nil) != (req.Longitude == nil) {
		fail(c, http.StatusBadRequest, "latitude and longitude must be sent together")
		return
	}
	sample, ok := req.sample(h.now())
	if !ok && h.tracker != nil {
		if cur, found := h.tracker.Current(claims.Subject); found {
			sample = &cur
		}
	}

	d, err := h.svc.SubmitStudentAttendance(c.Request.Context(), claims.Subject, req.SubjectCode, sample)
	if err != nil {
		failErr(c, err)
		return
	}
	decisionJSON(c, d)
}

// ---------- Teacher override ----------

type overrideRequest struct {
	StudentID   string  `json:"student_id" binding:"required"`
	SubjectCode string  `json:"subject_code" binding:"required"`
	Status      string  `json:"status" binding:"required"`
	Notes       *string `json:"notes"`
}

// Override records a teacher mark for a student today.
func (h *Handler) Override(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.svc.SubmitTeacherAttendance(c.Request.Context(), claims.Subject, req.StudentID, req.SubjectCode,
		attendance.Status(req.Status), req.Notes)
	if err != nil {
		failErr(c, err)
		return
	}
	decisionJSON(c, d)
}

// ---------- Reads ----------

// TodayStatus returns today's record. Students read their own; teachers name the
// student with ?student_id=.
func (h *Handler) TodayStatus(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	studentID := claims.Subject
	if claims.Role == auth.RoleTeacher {
		studentID = c.Query("student_id")
		if studentID == "" {
			fail(c, http.StatusBadRequest, "student_id is required")
			return
		}
	} else if q := c.Query("student_id"); q != "" && q != claims.Subject {
		fail(c, http.StatusForbidden, "students may only read their own attendance")
		return
	}

	rec, err := h.svc.TodayStatus(c.Request.Context(), studentID, c.Query("subject_code"))
	if err != nil {
		failErr(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "not marked yet", "status": "not_marked"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "marked", "status": rec.Status, "record": rec})
}

// SubjectDay lists every record of a subject on ?day= (default today).
func (h *Handler) SubjectDay(c *gin.Context) {
	recs, err := h.svc.SubjectDay(c.Request.Context(), c.Param("code"), c.Query("day"))
	if err != nil {
		failErr(c, err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "records": recs})
}

// ListAudit pages through the mark audit trail.
func (h *Handler) ListAudit(c *gin.Context) {
	if h.audit == nil {
		fail(c, http.StatusServiceUnavailable, "audit trail not configured")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	entries, err := h.audit.ListAudit(c.Request.Context(), c.Query("student_id"), c.Query("subject_code"), limit, offset)
	if err != nil {
		failErr(c, err)
		return
	}
	if entries == nil {
		entries = []attendance.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entries": entries})
}
