package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/raidloot/server/audit"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid/loot"
	"github.com/kasuganosora/raidloot/server/raid/roster"
	"github.com/kasuganosora/raidloot/server/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles administrator endpoints.
type AdminHandler struct {
	members *roster.Directory
	engine  *loot.Engine
	audit   *audit.Service
	sched   *scheduler.Scheduler
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	members *roster.Directory,
	engine *loot.Engine,
	auditSvc *audit.Service,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{members: members, engine: engine, audit: auditSvc, sched: sched, logger: logger}
}

// Audit returns recent audit entries.
// GET /api/admin/audit?actor_id=&limit=
func (h *AdminHandler) Audit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := h.audit.Recent(c.Request.Context(), c.Query("actor_id"), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs, "count": len(logs)})
}

type setPermissionRequest struct {
	Permission model.Permission `json:"permission" binding:"required,oneof=User Manager Administrator"`
}

// SetPermission changes a member's access level.
// PUT /api/admin/members/:id/permission
func (h *AdminHandler) SetPermission(c *gin.Context) {
	start := time.Now()
	var req setPermissionRequest
	if !bindJSON(c, &req) {
		return
	}
	id := c.Param("id")
	m, err := h.members.SetPermission(c.Request.Context(), id, req.Permission)
	recordAudit(h.audit, c, "member.set_permission", gin.H{"id": id, "permission": req.Permission}, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("member permission changed",
		zap.String("member_id", m.ID),
		zap.String("permission", string(m.Permission)))
	c.JSON(http.StatusOK, m)
}

// Stats returns entity totals and the scheduler's registered tasks.
// GET /api/ops/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	members, weeks, assignments, err := h.engine.Totals(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var tasks []string
	if h.sched != nil {
		tasks = h.sched.ListTickers()
	}
	c.JSON(http.StatusOK, gin.H{
		"members":         members,
		"weeks":           weeks,
		"assignments":     assignments,
		"scheduler_tasks": tasks,
	})
}
