package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/waypoint/internal/auth"
	"github.com/MarcoPoloResearchLab/waypoint/internal/mail"
	"github.com/MarcoPoloResearchLab/waypoint/internal/monitor"
	"github.com/MarcoPoloResearchLab/waypoint/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type signInRequestPayload struct {
	Token string `json:"token"`
}

type sessionResponsePayload struct {
	SignedIn bool   `json:"signed_in"`
	Owner    string `json:"owner,omitempty"`
	Email    string `json:"email,omitempty"`
	Restored int    `json:"restored_watches,omitempty"`
}

// handleSignIn accepts a token from the body, the bearer header or the session cookie.
func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInRequestPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	var (
		claims auth.SessionClaims
		err    error
	)
	if token := strings.TrimSpace(request.Token); token != "" {
		claims, err = h.validator.ValidateToken(token)
	} else {
		claims, err = h.validator.ValidateRequest(c.Request)
	}
	if err != nil {
		h.logTokenFailure(err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	owner, err := h.users.ResolveOwner(ctx, claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to resolve owner", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_unavailable"})
		return
	}

	if err := h.sessions.SignIn(owner, claims); err != nil {
		h.logger.Error("failed to sign in", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign_in_failed"})
		return
	}

	restored := h.restoreWatches(c, owner)
	c.JSON(http.StatusOK, sessionResponsePayload{
		SignedIn: true,
		Owner:    owner,
		Email:    h.sessions.CurrentEmail(),
		Restored: restored,
	})
}

// restoreWatches registers the owner's enabled watches with the monitor and returns how many it accepted.
func (h *httpHandler) restoreWatches(c *gin.Context, owner string) int {
	ctx := c.Request.Context()
	watches, err := h.records.ListActiveWatches(ctx, owner)
	if err != nil {
		h.logger.Warn("failed to load watches for monitoring", zap.String("user_id", owner), zap.Error(err))
		return 0
	}
	restored := 0
	for _, watch := range watches {
		target, ok := watch.Target()
		if !ok {
			continue
		}
		if err := h.monitor.Watch(ctx, target); err != nil {
			h.logger.Warn("failed to restore watch", zap.String("watch_id", watch.ID), zap.Error(err))
			continue
		}
		restored++
	}
	return restored
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	owner, signedIn := h.sessions.CurrentOwner()
	h.sessions.SignOut()
	if signedIn {
		h.alerts.CloseOwner(owner)
	}
	if err := h.monitor.StopAll(c.Request.Context()); err != nil && !errors.Is(err, monitor.ErrStopped) {
		h.logger.Warn("failed to stop monitoring on sign out", zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSessionStatus(c *gin.Context) {
	owner, ok := h.sessions.CurrentOwner()
	if !ok {
		c.JSON(http.StatusOK, sessionResponsePayload{SignedIn: false})
		return
	}
	c.JSON(http.StatusOK, sessionResponsePayload{
		SignedIn: true,
		Owner:    owner,
		Email:    h.sessions.CurrentEmail(),
	})
}

func (h *httpHandler) logTokenFailure(err error) {
	if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
		h.logger.Info("token validation failed", zap.Error(err))
		return
	}
	h.logger.Warn("token validation failed", zap.Error(err))
}

type passwordResetRequestPayload struct {
	Email string `json:"email"`
}

// handlePasswordReset answers the same way whether or not the address is known.
func (h *httpHandler) handlePasswordReset(c *gin.Context) {
	var request passwordResetRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || !strings.Contains(request.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	accepted := gin.H{"status": "accepted"}
	if h.mailer == nil {
		h.logger.Warn("password reset requested without a configured mailer")
		c.JSON(http.StatusAccepted, accepted)
		return
	}

	ctx := c.Request.Context()
	identity, err := h.users.LookupByEmail(ctx, request.Email)
	if err != nil {
		if !errors.Is(err, users.ErrUnknownEmail) {
			h.logger.Error("failed to look up reset address", zap.Error(err))
		}
		c.JSON(http.StatusAccepted, accepted)
		return
	}

	if err := h.mailer.SendPasswordReset(ctx, identity.Email); err != nil {
		level := zap.ErrorLevel
		if errors.Is(err, mail.ErrInvalidRecipient) {
			level = zap.WarnLevel
		}
		h.logger.Log(level, "password reset delivery failed", zap.String("user_id", identity.UserID), zap.Error(err))
	}
	c.JSON(http.StatusAccepted, accepted)
}
