package security

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

const adminPathPrefix = "/v1/admin"

// AccessLogMiddleware logs each HTTP request with the authenticated caller,
// method, route, status and duration. Paths listed in skipPaths pass through
// without logging.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
		}
		// Set by AuthMiddleware further down the chain.
		if userID := GetUserID(c); userID != "" {
			fields = append(fields, "userId", userID)
		}
		if route := c.FullPath(); route != "" && route != c.Request.URL.Path {
			fields = append(fields, "route", route)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		log.Info("HTTP request", fields...)
	}
}

// AdminAuditMiddleware logs admin API calls with the caller, their effective
// admin role and the justification they gave. With requireJustification set,
// admin requests lacking one (?justification= or X-Justification) are
// rejected before reaching the handler.
func AdminAuditMiddleware(requireJustification bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, adminPathPrefix) {
			c.Next()
			return
		}
		justification := Justification(c)
		if requireJustification && justification == "" {
			c.AbortWithStatusJSON(400, gin.H{"code": "validation_error", "error": "justification is required"})
			return
		}

		c.Next()

		role := EffectiveAdminRole(c)
		if role == "" {
			role = "none"
		}
		log.Info("Admin audit",
			"caller", GetUserID(c),
			"role", role,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"clientIP", c.ClientIP(),
			"justification", justification,
		)
	}
}

// Justification returns the reason an admin caller gave for the request.
func Justification(c *gin.Context) string {
	if j := strings.TrimSpace(c.Query("justification")); j != "" {
		return j
	}
	return strings.TrimSpace(c.GetHeader("X-Justification"))
}
