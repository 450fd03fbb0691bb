package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/raidloot/server/audit"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"github.com/kasuganosora/raidloot/server/raid/roster"
	"go.uber.org/zap"
)

// GearFetcher resolves a gear planner link into a BiS list.
type GearFetcher interface {
	Fetch(ctx context.Context, link string) ([]model.GearItem, error)
}

// MemberHandler serves the member directory.
type MemberHandler struct {
	members *roster.Directory
	gear    GearFetcher
	audit   *audit.Service
	logger  *zap.Logger
}

func NewMemberHandler(members *roster.Directory, gear GearFetcher, auditSvc *audit.Service, logger *zap.Logger) *MemberHandler {
	return &MemberHandler{members: members, gear: gear, audit: auditSvc, logger: logger}
}

// List handles GET /api/members.
func (h *MemberHandler) List(c *gin.Context) {
	ms, err := h.members.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": ms, "count": len(ms)})
}

// Get handles GET /api/members/:id.
func (h *MemberHandler) Get(c *gin.Context) {
	m, err := h.members.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type createMemberRequest struct {
	Name string     `json:"name" binding:"required,max=64"`
	Role model.Role `json:"role" binding:"omitempty,oneof=DPS Support"`
}

// Create handles POST /api/members. The generated PIN is only ever returned
// here.
func (h *MemberHandler) Create(c *gin.Context) {
	start := time.Now()
	var req createMemberRequest
	if !bindJSON(c, &req) {
		return
	}
	m, pin, err := h.members.Create(c.Request.Context(), req.Name, req.Role)
	recordAudit(h.audit, c, "member.create", req, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"member": m, "pin": pin})
}

type updateMemberRequest struct {
	Name     *string     `json:"name" binding:"omitempty,max=64"`
	Role     *model.Role `json:"role" binding:"omitempty,oneof=DPS Support"`
	ImageURL *string     `json:"image_url" binding:"omitempty,max=512"`
}

// Update handles PATCH /api/members/:id.
func (h *MemberHandler) Update(c *gin.Context) {
	start := time.Now()
	var req updateMemberRequest
	if !bindJSON(c, &req) {
		return
	}
	m, err := h.members.Update(c.Request.Context(), c.Param("id"), roster.Patch{
		Name:     req.Name,
		Role:     req.Role,
		ImageURL: req.ImageURL,
	})
	recordAudit(h.audit, c, "member.update", req, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Delete handles DELETE /api/members/:id. Assignments naming the member are
// kept.
func (h *MemberHandler) Delete(c *gin.Context) {
	start := time.Now()
	id := c.Param("id")
	err := h.members.Delete(c.Request.Context(), id)
	recordAudit(h.audit, c, "member.delete", gin.H{"id": id}, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setBisRequest struct {
	Link  *string          `json:"link" binding:"omitempty,max=128"`
	Items []model.GearItem `json:"items" binding:"dive"`
}

// SetBis handles PUT /api/members/:id/bis/:spec.
func (h *MemberHandler) SetBis(c *gin.Context) {
	start := time.Now()
	var req setBisRequest
	if !bindJSON(c, &req) {
		return
	}
	spec := model.SpecType(c.Param("spec"))
	m, err := h.members.SetBisLink(c.Request.Context(), c.Param("id"), spec, req.Link, req.Items)
	recordAudit(h.audit, c, "member.set_bis", gin.H{"spec": spec, "link": req.Link, "items": len(req.Items)}, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type importBisRequest struct {
	Link string `json:"link" binding:"required,max=128"`
}

// ImportBis handles POST /api/members/:id/bis/:spec/import: the list behind
// the link is fetched from the gear planner and applied as SetBis would.
func (h *MemberHandler) ImportBis(c *gin.Context) {
	start := time.Now()
	var req importBisRequest
	if !bindJSON(c, &req) {
		return
	}
	spec := model.SpecType(c.Param("spec"))
	if err := raid.ValidateGearSet(spec); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if h.gear == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gear import is not configured"})
		return
	}

	ctx := c.Request.Context()
	items, err := h.gear.Fetch(ctx, req.Link)
	if err != nil {
		recordAudit(h.audit, c, "member.import_bis", req, start, err)
		respondError(c, h.logger, err)
		return
	}
	m, err := h.members.SetBisLink(ctx, c.Param("id"), spec, &req.Link, items)
	recordAudit(h.audit, c, "member.import_bis", req, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type setPinRequest struct {
	Pin string `json:"pin" binding:"required"`
}

// SetPin handles PUT /api/members/:id/pin.
func (h *MemberHandler) SetPin(c *gin.Context) {
	start := time.Now()
	var req setPinRequest
	if !bindJSON(c, &req) {
		return
	}
	id := c.Param("id")
	err := h.members.SetPin(c.Request.Context(), id, req.Pin)
	recordAudit(h.audit, c, "member.set_pin", gin.H{"id": id}, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
