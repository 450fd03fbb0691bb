package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminGuard admits requests from the listed IPs or carrying the admin key.
// With neither configured, all requests are allowed.
func AdminGuard(key string, ips []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(ips))
	for _, ip := range ips {
		allowed[ip] = true
	}
	return func(c *gin.Context) {
		if key == "" && len(allowed) == 0 {
			c.Next()
			return
		}
		if allowed[c.ClientIP()] {
			c.Next()
			return
		}
		if key != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader(AdminKeyHeader)), []byte(key)) == 1 {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
	}
}
