package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// WhitelistChecker decides whether a user may use the API at all.
type WhitelistChecker interface {
	IsAllowed(ctx context.Context, userID string) (bool, error)
}

// StaticWhitelist allows a fixed set of users. An empty list allows everyone.
type StaticWhitelist []string

func (w StaticWhitelist) IsAllowed(_ context.Context, userID string) (bool, error) {
	if len(w) == 0 {
		return true, nil
	}
	for _, id := range w {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// AnyWhitelist allows a user accepted by any of its checkers.
type AnyWhitelist []WhitelistChecker

func (w AnyWhitelist) IsAllowed(ctx context.Context, userID string) (bool, error) {
	var firstErr error
	for _, checker := range w {
		ok, err := checker.IsAllowed(ctx, userID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}

// WhitelistMiddleware runs after AuthMiddleware and rejects users the checker
// does not allow.
func WhitelistMiddleware(checker WhitelistChecker, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "user id not found", "")
			return
		}

		allowed, err := checker.IsAllowed(c.Request.Context(), userID)
		if err != nil {
			logger.Error("whitelist check failed", "user_id", userID, "error", err)
			abort(c, http.StatusServiceUnavailable, "whitelist unavailable", err.Error())
			return
		}
		if !allowed {
			abort(c, http.StatusForbidden, "access denied", "account is not on the whitelist")
			return
		}
		c.Next()
	}
}

// AdminMiddleware allows only the configured admin user ids.
func AdminMiddleware(adminIDs []string) gin.HandlerFunc {
	admins := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok || !admins[userID] {
			abort(c, http.StatusForbidden, "admin access required", "")
			return
		}
		c.Next()
	}
}

// CronSecretMiddleware checks the shared secret sent by the scheduler, either
// as a bearer token or in X-Cron-Secret. An empty secret rejects everything.
func CronSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			abort(c, http.StatusServiceUnavailable, "cron secret not configured", "")
			return
		}

		provided := c.GetHeader("X-Cron-Secret")
		if provided == "" {
			provided = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			abort(c, http.StatusUnauthorized, "invalid cron secret", "")
			return
		}
		c.Next()
	}
}
