package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/raidloot/server/audit"
	"github.com/kasuganosora/raidloot/server/raid"
	"github.com/kasuganosora/raidloot/server/raid/loot"
	"github.com/kasuganosora/raidloot/server/raid/week"
	"go.uber.org/zap"
)

// WeekHandler serves the week ledger.
type WeekHandler struct {
	weeks  *week.Ledger
	engine *loot.Engine
	audit  *audit.Service
	logger *zap.Logger
}

func NewWeekHandler(weeks *week.Ledger, engine *loot.Engine, auditSvc *audit.Service, logger *zap.Logger) *WeekHandler {
	return &WeekHandler{weeks: weeks, engine: engine, audit: auditSvc, logger: logger}
}

func weekParam(c *gin.Context) (int, error) {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil || n < 1 {
		return 0, raid.Invalid("number", "must be a positive integer")
	}
	return n, nil
}

// List handles GET /api/weeks.
func (h *WeekHandler) List(c *gin.Context) {
	ws, err := h.weeks.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weeks": ws})
}

// Current handles GET /api/weeks/current.
func (h *WeekHandler) Current(c *gin.Context) {
	w, err := h.weeks.GetCurrent(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type createWeekRequest struct {
	Number     int  `json:"number" binding:"required,min=1"`
	SetCurrent bool `json:"set_current"`
}

// Create handles POST /api/weeks.
func (h *WeekHandler) Create(c *gin.Context) {
	start := time.Now()
	var req createWeekRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	w, err := h.weeks.Create(ctx, req.Number)
	if err == nil && req.SetCurrent {
		w, err = h.weeks.SetCurrent(ctx, req.Number)
	}
	recordAudit(h.audit, c, "week.create", req, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// SetCurrent handles PUT /api/weeks/:number/current.
func (h *WeekHandler) SetCurrent(c *gin.Context) {
	start := time.Now()
	n, err := weekParam(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	w, err := h.weeks.SetCurrent(c.Request.Context(), n)
	recordAudit(h.audit, c, "week.set_current", gin.H{"number": n}, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// Delete handles DELETE /api/weeks/:number. The week's assignments go with
// it; acquisition flags stay.
func (h *WeekHandler) Delete(c *gin.Context) {
	start := time.Now()
	n, err := weekParam(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	removed, err := h.engine.DeleteWeek(c.Request.Context(), n)
	recordAudit(h.audit, c, "week.delete", gin.H{"number": n}, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed_assignments": len(removed)})
}
