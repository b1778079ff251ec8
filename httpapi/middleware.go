package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kazini-app/go-kazini-auth"
)

const (
	requestIDHeader = "X-Request-Id"
	adminRole       = "admin"
)

// requestLogger tags each request with an id and logs it once done.
func requestLogger(logger auth.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if strings.TrimSpace(rid) == "" {
			rid = uuid.NewString()
		}
		c.Set("request_id", rid)
		c.Writer.Header().Set(requestIDHeader, rid)

		start := time.Now()
		c.Next()

		logger.Debug("request",
			"request_id", rid,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// withUser puts the current user, if any, on the request context.
func (s *Server) withUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := s.session.User(); user != nil {
			c.Request = c.Request.WithContext(auth.WithContext(c.Request.Context(), user))
		}
		c.Next()
	}
}

// requireUser rejects anonymous calls and asks the presentation layer to
// show the login surface.
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.FromContext(c.Request.Context()); !ok {
			s.session.RequestAuth()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error": gin.H{
					"message":   "sign in required",
					"text_code": "SIGN_IN_REQUIRED",
				},
			})
			return
		}
		c.Next()
	}
}

func (s *Server) requireRoute(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.CanAccessFromContext(c.Request.Context(), route) {
			s.respondError(c, auth.ErrForbiddenRoute.Clone().WithMetadata(map[string]any{"route": route}))
			return
		}
		c.Next()
	}
}

func (s *Server) requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, ok := auth.FromContext(c.Request.Context()); !ok || user.Role != role {
			s.respondError(c, auth.ErrRoleRequired.Clone().WithMetadata(map[string]any{"role": role}))
			return
		}
		c.Next()
	}
}
