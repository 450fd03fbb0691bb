package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/raidloot/server/cache"
	"github.com/kasuganosora/raidloot/server/config"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
)

const (
	MemberKey = "member"
	TokenKey  = "token"

	sessionPrefix = "session:"
)

// MemberResolver loads the member a credential belongs to.
type MemberResolver interface {
	Get(ctx context.Context, id string) (*model.Member, error)
}

// SessionKey is the cache key holding a live token's session.
func SessionKey(token string) string { return sessionPrefix + token }

// SessionTTL is how long a session lives without use. It never exceeds the
// token lifetime.
func SessionTTL(sec config.SecurityConfig) time.Duration {
	if sec.SessionIdle > 0 && (sec.JWTTTLH <= 0 || sec.SessionIdle < sec.JWTTTLH) {
		return sec.SessionIdle
	}
	return sec.JWTTTLH
}

// Auth validates the Bearer JWT, checks the session cache and loads the
// member. A member removed from the roster loses access immediately.
func Auth(sec config.SecurityConfig, c cache.Cache, members MemberResolver) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := bearer(ctx)
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, SessionKey(tokenStr))
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}
		if sec.SessionIdle > 0 {
			// sliding idle window; the token's own expiry still caps it
			_ = c.Expire(cacheCtx, SessionKey(tokenStr), SessionTTL(sec))
		}

		m, err := members.Get(ctx.Request.Context(), claims.MemberID)
		if err != nil {
			if errors.Is(err, raid.ErrNotFound) {
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "member no longer exists"})
				return
			}
			ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		ctx.Set(TokenKey, tokenStr)
		ctx.Set(MemberKey, m)
		ctx.Next()
	}
}

// bearer reads the token from the Authorization header, falling back to the
// access_token query parameter for EventSource and WebSocket clients that
// cannot set headers.
func bearer(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if header != "" {
		return ""
	}
	return c.Query("access_token")
}

// CurrentMember returns the authenticated member, or nil.
func CurrentMember(c *gin.Context) *model.Member {
	if v, exists := c.Get(MemberKey); exists {
		if m, ok := v.(*model.Member); ok {
			return m
		}
	}
	return nil
}

// GetToken returns the bearer token of the current request.
func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}

// RequirePermission rejects members below min.
func RequirePermission(min model.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := CurrentMember(c)
		if m == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		if !m.Permission.AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permission"})
			return
		}
		c.Next()
	}
}

// RequireSelfOr lets a member act on their own record (the :param path
// value) and otherwise requires min.
func RequireSelfOr(param string, min model.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := CurrentMember(c)
		if m == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		if m.ID != c.Param(param) && !m.Permission.AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permission"})
			return
		}
		c.Next()
	}
}
