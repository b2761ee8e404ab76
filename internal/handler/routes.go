package handler

import (
	"github.com/gin-gonic/gin"

	"geoattend/internal/auth"
)

// Routes mounts the API on r. limiter, when non-nil, runs after authentication so
// it can key on the actor.
func (h *Handler) Routes(r gin.IRouter, limiter gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.POST("/tokens", h.IssueToken)
	v1.POST("/tokens/refresh", h.RefreshToken)

	authed := v1.Group("", auth.RequireActor(h.tokens.SigningKey, h.tokens.Issuer))
	if limiter != nil {
		authed.Use(limiter)
	}

	students := authed.Group("", auth.RequireRole(auth.RoleStudent))
	students.POST("/attendance/self", h.SubmitSelf)
	students.POST("/location", h.ReportLocation)
	students.GET("/location", h.CurrentLocation)
	students.DELETE("/location", h.StopLocation)

	teachers := authed.Group("", auth.RequireRole(auth.RoleTeacher))
	teachers.POST("/attendance/override", h.Override)
	teachers.GET("/subjects/:code/attendance", h.SubjectDay)
	teachers.GET("/audit", h.ListAudit)

	authed.GET("/attendance/today", h.TodayStatus)
}
