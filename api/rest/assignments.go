package rest

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/raidloot/server/audit"
	"github.com/kasuganosora/raidloot/server/export"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"github.com/kasuganosora/raidloot/server/raid/eligibility"
	"github.com/kasuganosora/raidloot/server/raid/ledger"
	"github.com/kasuganosora/raidloot/server/raid/loot"
	"github.com/kasuganosora/raidloot/server/raid/roster"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AssignmentHandler serves the assignment ledger and drop resolution.
type AssignmentHandler struct {
	engine  *loot.Engine
	ledger  *ledger.Ledger
	members *roster.Directory
	audit   *audit.Service
	logger  *zap.Logger
}

func NewAssignmentHandler(engine *loot.Engine, l *ledger.Ledger, members *roster.Directory, auditSvc *audit.Service, logger *zap.Logger) *AssignmentHandler {
	return &AssignmentHandler{engine: engine, ledger: l, members: members, audit: auditSvc, logger: logger}
}

func queryInt(c *gin.Context, name string) (int, bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, raid.Invalid(name, "must be an integer")
	}
	return n, true, nil
}

// List handles GET /api/assignments?week=&floor=&member_id=.
func (h *AssignmentHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	week, hasWeek, err := queryInt(c, "week")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	floor, hasFloor, err := queryInt(c, "floor")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if hasFloor && !hasWeek {
		respondError(c, h.logger, raid.Invalid("week", "required with floor"))
		return
	}

	var rows []model.LootAssignment
	switch {
	case c.Query("member_id") != "":
		rows, err = h.ledger.ListByMember(ctx, c.Query("member_id"))
	case hasFloor:
		rows, err = h.ledger.ListByFloorAndWeek(ctx, floor, week)
	case hasWeek:
		rows, err = h.ledger.ListByWeek(ctx, week)
	default:
		rows, err = h.ledger.List(ctx)
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": rows, "count": len(rows)})
}

// Get handles GET /api/assignments/:id.
func (h *AssignmentHandler) Get(c *gin.Context) {
	a, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type createAssignmentRequest struct {
	Floor             int            `json:"floor" binding:"required,min=1"`
	Week              int            `json:"week" binding:"min=0"`
	Slot              *model.Slot    `json:"slot" binding:"omitempty,slot"`
	IsUpgradeMaterial bool           `json:"is_upgrade_material"`
	IsArmorMaterial   bool           `json:"is_armor_material"`
	MemberID          string         `json:"member_id" binding:"required"`
	Bucket            model.SpecType `json:"bucket" binding:"required,spec"`
}

func (r createAssignmentRequest) target() model.Target {
	return model.Target{Slot: r.Slot, IsUpgradeMaterial: r.IsUpgradeMaterial, IsArmorMaterial: r.IsArmorMaterial}
}

// Create handles POST /api/assignments. When the record is committed but the
// recipient's acquisition flag could not be updated, the record is returned
// with the error so the flag can be set by hand.
func (h *AssignmentHandler) Create(c *gin.Context) {
	start := time.Now()
	var req createAssignmentRequest
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.engine.Assign(c.Request.Context(), loot.AssignRequest{
		Floor:    req.Floor,
		Week:     req.Week,
		Target:   req.target(),
		MemberID: req.MemberID,
		Bucket:   req.Bucket,
	})
	recordAudit(h.audit, c, "assignment.create", req, start, err)
	if err != nil {
		if a != nil {
			h.logger.Error("assignment stored without acquisition update",
				zap.String("assignment_id", a.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":      "assignment stored but acquisition update failed",
				"assignment": a,
			})
			return
		}
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

type reassignRequest struct {
	MemberID string         `json:"member_id" binding:"required"`
	Bucket   model.SpecType `json:"bucket" binding:"required,spec"`
}

// Reassign handles PUT /api/assignments/:id.
func (h *AssignmentHandler) Reassign(c *gin.Context) {
	start := time.Now()
	var req reassignRequest
	if !bindJSON(c, &req) {
		return
	}
	id := c.Param("id")
	a, err := h.engine.Reassign(c.Request.Context(), id, req.MemberID, req.Bucket)
	recordAudit(h.audit, c, "assignment.reassign", gin.H{"id": id, "body": req}, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Delete handles DELETE /api/assignments/:id.
func (h *AssignmentHandler) Delete(c *gin.Context) {
	start := time.Now()
	id := c.Param("id")
	removed, err := h.engine.Undo(c.Request.Context(), id)
	recordAudit(h.audit, c, "assignment.undo", gin.H{"id": id}, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, removed)
}

// Resolve handles GET /api/assignments/resolve?floor=&slot=|material=&spec=.
// material is "upgrade" or "armor".
func (h *AssignmentHandler) Resolve(c *gin.Context) {
	floor, _, err := queryInt(c, "floor")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	d := eligibility.Drop{Floor: floor, SpecHint: model.SpecType(c.Query("spec"))}
	if s := c.Query("slot"); s != "" {
		d.Target = model.SlotTarget(model.Slot(s))
	}
	switch m := c.Query("material"); m {
	case "":
	case "upgrade":
		d.Target.IsUpgradeMaterial = true
	case "armor":
		d.Target.IsArmorMaterial = true
	default:
		respondError(c, h.logger, raid.Invalid("material", fmt.Sprintf("unknown material %q", m)))
		return
	}

	res, err := h.engine.Resolve(c.Request.Context(), d)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Export handles GET /api/assignments/export?week=N as an xlsx download.
// Without week every assignment is exported.
func (h *AssignmentHandler) Export(c *gin.Context) {
	week, _, err := queryInt(c, "week")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	data, err := export.Report(c.Request.Context(), h.ledger, h.members, week)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	name := "assignments.xlsx"
	if week > 0 {
		name = fmt.Sprintf("assignments-week-%d.xlsx", week)
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, xlsxContentType, data)
}
