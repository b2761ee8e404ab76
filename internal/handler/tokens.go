package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
)

type tokenRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Role    string `json:"role" binding:"required,oneof=student teacher"`
}

// IssueToken hands a token pair to a student or teacher on the roster.
func (h *Handler) IssueToken(c *gin.Context) {
	if h.accounts == nil {
		fail(c, http.StatusServiceUnavailable, "roster not configured")
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := h.accounts.ActorExists(c.Request.Context(), attendance.Authority(req.Role), req.ActorID)
	if err != nil {
		failErr(c, err)
		return
	}
	if !ok {
		fail(c, http.StatusNotFound, "unknown "+req.Role)
		return
	}
	h.issue(c, req.ActorID, req.Role, http.StatusCreated)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshToken rotates a refresh token. Each refresh token works once.
func (h *Handler) RefreshToken(c *gin.Context) {
	if h.accounts == nil {
		fail(c, http.StatusServiceUnavailable, "roster not configured")
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	claims, err := auth.ParseKind(req.RefreshToken, h.tokens.SigningKey, h.tokens.Issuer, auth.KindRefresh)
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	ok, err := h.accounts.ConsumeRefreshToken(c.Request.Context(), req.RefreshToken, h.now())
	if err != nil {
		failErr(c, err)
		return
	}
	if !ok {
		fail(c, http.StatusUnauthorized, "refresh token already used or revoked")
		return
	}
	h.issue(c, claims.Subject, claims.Role, http.StatusOK)
}

func (h *Handler) issue(c *gin.Context, actorID, role string, status int) {
	tokens, err := auth.Issue(actorID, role, h.tokens.Issuer, h.tokens.SigningKey, h.tokens.AccessTTL, h.tokens.RefreshTTL)
	if err != nil {
		fail(c, http.StatusInternalServerError, "token issue failed")
		return
	}
	if err := h.accounts.SaveRefreshToken(c.Request.Context(), actorID, attendance.Authority(role), tokens.RefreshToken, tokens.RefreshExp); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(status, gin.H{
		"success":       true,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}
