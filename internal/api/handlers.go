package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"trading-dashboard/internal/auth"
	"trading-dashboard/internal/mode"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"stream_state": s.streamMgr.State().String(),
		"timestamp":    time.Now(),
	})
}

// handleLogin exchanges the operator password for a session token.
func (s *Server) handleLogin(c *gin.Context) {
	if s.authService == nil {
		errorResponse(c, http.StatusNotFound, "authentication is disabled")
		return
	}

	if !s.rateLimiter.Allow(c.ClientIP()) {
		errorResponse(c, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "password is required")
		return
	}

	pair, err := s.authService.Login(req.Password)
	if err != nil {
		errorResponse(c, http.StatusUnauthorized, "invalid password")
		return
	}

	c.JSON(http.StatusOK, pair)
}

// handleGetMode returns the authoritative trading mode, degrading to the
// Redis snapshot and then the in-memory advisory copy when the remote
// service is down. Degraded responses are marked stale.
func (s *Server) handleGetMode(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	status, err := s.controller.CurrentMode(ctx)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"mode":    status.Mode,
			"message": status.Message,
			"stale":   false,
		})
		return
	}

	s.logger.Warn().Err(err).Msg("mode service unavailable, serving cached mode")

	if s.modeCache != nil {
		if snapshot, cerr := s.modeCache.ReadSnapshot(ctx); cerr == nil {
			c.JSON(http.StatusOK, gin.H{
				"success":   true,
				"mode":      snapshot.Mode,
				"message":   snapshot.Message,
				"stale":     true,
				"synced_at": snapshot.Timestamp,
			})
			return
		}
	}

	if cached, syncedAt := s.controller.CachedMode(); cached != nil {
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"mode":      cached.Mode,
			"message":   cached.Message,
			"stale":     true,
			"synced_at": syncedAt,
		})
		return
	}

	errorResponse(c, http.StatusServiceUnavailable, "trading mode unavailable")
}

// handleChangeMode runs the guarded mode transition. Failure reasons are
// surfaced precisely: wrong confirmation text, bad token and remote
// rejection each map to their own status and message.
func (s *Server) handleChangeMode(c *gin.Context) {
	var req struct {
		Mode             string `json:"mode" binding:"required"`
		ConfirmationText string `json:"confirmation_text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	target, err := mode.ParseMode(req.Mode)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	status, err := s.controller.RequestChange(ctx, target, req.ConfirmationText)
	if err != nil {
		var confirmErr *mode.ConfirmationError
		var remoteErr *mode.RemoteError
		switch {
		case errors.Is(err, mode.ErrChangePending):
			errorResponse(c, http.StatusConflict, err.Error())
		case errors.Is(err, mode.ErrTokenUnavailable), errors.Is(err, mode.ErrModeUnavailable):
			errorResponse(c, http.StatusBadGateway, err.Error())
		case errors.As(err, &confirmErr):
			errorResponse(c, http.StatusForbidden, confirmErr.Reason)
		case errors.As(err, &remoteErr):
			errorResponse(c, http.StatusUnprocessableEntity, remoteErr.Detail)
		default:
			errorResponse(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.hub.Broadcast(modeStatusEvent(status))

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"mode":      status.Mode,
		"message":   status.Message,
		"timestamp": status.Timestamp,
	})
}

// handleModeAudit returns recent mode change attempts, newest first.
func (s *Server) handleModeAudit(c *gin.Context) {
	if s.auditLog == nil {
		errorResponse(c, http.StatusServiceUnavailable, "audit log not available")
		return
	}

	limitStr := c.DefaultQuery("limit", "100")
	limit, _ := strconv.Atoi(limitStr)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	events, err := s.auditLog.ListRecent(ctx, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to fetch audit history: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"events":  events,
		"count":   len(events),
	})
}

// handleStreamStatus reports the realtime channel state so the dashboard
// can render its connected/reconnecting indicator.
func (s *Server) handleStreamStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"state":              s.streamMgr.State().String(),
		"reconnect_attempts": s.streamMgr.ReconnectAttempts(),
		"clients":            s.hub.ClientCount(),
	})
}

// subject returns the authenticated session subject, if any.
func subject(c *gin.Context) string {
	if v, ok := c.Get(auth.ContextKeySubject); ok {
		if sub, ok := v.(string); ok {
			return sub
		}
	}
	return ""
}
