package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/raidloot/server/audit"
	"github.com/kasuganosora/raidloot/server/cache"
	"github.com/kasuganosora/raidloot/server/config"
	mw "github.com/kasuganosora/raidloot/server/middleware"
	"github.com/kasuganosora/raidloot/server/raid"
	"github.com/kasuganosora/raidloot/server/raid/roster"
	"go.uber.org/zap"
)

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	members *roster.Directory
	cache   cache.Cache
	sec     config.SecurityConfig
	audit   *audit.Service
	logger  *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(members *roster.Directory, c cache.Cache, sec config.SecurityConfig, auditSvc *audit.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{members: members, cache: c, sec: sec, audit: auditSvc, logger: logger}
}

type loginRequest struct {
	Name string `json:"name" binding:"required,max=64"`
	Pin  string `json:"pin" binding:"required,numeric,min=4,max=8"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	m, err := h.members.VerifyPin(c.Request.Context(), req.Name, req.Pin)
	if errors.Is(err, roster.ErrBadCredentials) {
		h.logger.Info("login rejected", zap.String("name", req.Name), zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	token, err := h.issue(c.Request.Context(), m.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Set(mw.MemberKey, m)
	recordAudit(h.audit, c, "auth.login", gin.H{"name": req.Name}, time.Now(), nil)

	c.JSON(http.StatusOK, gin.H{
		"token":  token,
		"member": m,
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(mw.GetToken(c)))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. The new session is claimed before
// the old one is dropped, so a failed rotation leaves the caller logged in.
func (h *AuthHandler) Refresh(c *gin.Context) {
	m := mw.CurrentMember(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	token, err := h.issue(ctx, m.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	_ = h.cache.Del(ctx, mw.SessionKey(mw.GetToken(c)))
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, mw.CurrentMember(c))
}

func (h *AuthHandler) issue(ctx context.Context, memberID string) (string, error) {
	token, err := mw.GenerateToken(memberID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := claimSession(ctx, h.cache, token, memberID, mw.SessionTTL(h.sec)); err != nil {
		return "", err
	}
	return token, nil
}

// claimSession stores a new session and refuses to overwrite a live one.
func claimSession(ctx context.Context, c cache.Cache, token, memberID string, ttl time.Duration) error {
	ok, err := c.SetNX(ctx, mw.SessionKey(token), memberID, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return &raid.ConflictError{Entity: "session", Key: memberID}
	}
	return nil
}
