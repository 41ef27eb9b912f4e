package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/careline/careline-server/internal/auth"
	"github.com/careline/careline-server/internal/core"
)

const (
	// ContextKeyUserID is the context key for the authenticated user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUsername is the context key for the username.
	ContextKeyUsername = "username"
	// ContextKeyRole is the context key for the caller role.
	ContextKeyRole = "role"
)

// AuthMiddleware validates the bearer token and stores the caller identity
// in the request context. Every role check downstream reads this identity;
// it is never re-derived per endpoint.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			logger.Debug().Msg("missing bearer token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyRole, core.Role(claims.Role))

		c.Next()
	}
}

// bearerToken extracts the token from the Authorization header, falling back
// to the "token" query parameter for WebSocket clients that cannot set headers.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

// caller returns the authenticated identity stored by AuthMiddleware.
func caller(c *gin.Context) (int64, core.Role, bool) {
	idVal, ok := c.Get(ContextKeyUserID)
	if !ok {
		return 0, "", false
	}
	id, ok := idVal.(int64)
	if !ok {
		return 0, "", false
	}
	roleVal, ok := c.Get(ContextKeyRole)
	if !ok {
		return 0, "", false
	}
	role, ok := roleVal.(core.Role)
	if !ok {
		return 0, "", false
	}
	return id, role, true
}

// LoggerMiddleware logs HTTP requests after they complete.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
