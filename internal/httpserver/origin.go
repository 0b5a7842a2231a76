package httpserver

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/auth"
)

// originFilter rejects browser requests from origins not in allowed. Requests
// without an Origin header pass. "*" allows any origin.
func originFilter(allowed []string) gin.HandlerFunc {
	wildcard := slices.Contains(allowed, "*")
	return func(c *gin.Context) {
		origin := strings.TrimRight(strings.TrimSpace(c.GetHeader("Origin")), "/")
		if origin == "" {
			c.Next()
			return
		}
		if !wildcard && !slices.ContainsFunc(allowed, func(o string) bool { return strings.EqualFold(strings.TrimRight(o, "/"), origin) }) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Expose-Headers", requestIDHeader)
		c.Writer.Header().Add("Vary", "Origin")

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.Header("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			if requestHeaders := strings.TrimSpace(c.GetHeader("Access-Control-Request-Headers")); requestHeaders != "" {
				c.Header("Access-Control-Allow-Headers", requestHeaders)
			}
			c.Header("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// bearerAuth requires "Authorization: Bearer <token>". An empty token
// disables the check.
func bearerAuth(token string) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	v := auth.SharedSecretVerifier{Expected: token}
	return func(c *gin.Context) {
		scheme, credential, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}
		if err := v.Verify(strings.TrimSpace(credential)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
