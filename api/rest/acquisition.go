package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/raidloot/server/audit"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"github.com/kasuganosora/raidloot/server/raid/acquisition"
	"github.com/kasuganosora/raidloot/server/raid/loot"
	"go.uber.org/zap"
)

// AcquisitionHandler reads and flips acquisition flags. Writes go through the
// engine so observers hear about them.
type AcquisitionHandler struct {
	engine *loot.Engine
	store  *acquisition.Store
	audit  *audit.Service
	logger *zap.Logger
}

func NewAcquisitionHandler(engine *loot.Engine, store *acquisition.Store, auditSvc *audit.Service, logger *zap.Logger) *AcquisitionHandler {
	return &AcquisitionHandler{engine: engine, store: store, audit: auditSvc, logger: logger}
}

// History handles GET /api/members/:id/acquisition: every row under every
// link the member has used.
func (h *AcquisitionHandler) History(c *gin.Context) {
	rows, err := h.store.ListForMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"states": rows})
}

// Current handles GET /api/members/:id/acquisition/:spec: the flags under the
// spec's active link.
func (h *AcquisitionHandler) Current(c *gin.Context) {
	states, link, err := h.store.CurrentStates(c.Request.Context(), c.Param("id"), model.SpecType(c.Param("spec")))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": link, "states": states})
}

type setAcquisitionRequest struct {
	// Link selects a historical link; omitted means the active one.
	Link                    *string `json:"link"`
	IsAcquired              *bool   `json:"is_acquired"`
	UpgradeMaterialAcquired *bool   `json:"upgrade_material_acquired"`
}

// Set handles PUT /api/members/:id/acquisition/:spec/:slot.
func (h *AcquisitionHandler) Set(c *gin.Context) {
	start := time.Now()
	var req setAcquisitionRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.IsAcquired == nil && req.UpgradeMaterialAcquired == nil {
		respondError(c, h.logger, raid.Invalid("body", "is_acquired or upgrade_material_acquired required"))
		return
	}

	ctx := c.Request.Context()
	k := acquisition.Key{
		MemberID: c.Param("id"),
		Spec:     model.SpecType(c.Param("spec")),
		Slot:     model.Slot(c.Param("slot")),
	}
	if req.Link != nil {
		k.Link = *req.Link
	} else {
		_, link, err := h.store.CurrentStates(ctx, k.MemberID, k.Spec)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		k.Link = link
	}

	var changed bool
	err := func() error {
		if req.IsAcquired != nil {
			ch, err := h.engine.SetAcquired(ctx, k, *req.IsAcquired)
			if err != nil {
				return err
			}
			changed = changed || ch
		}
		if req.UpgradeMaterialAcquired != nil {
			ch, err := h.engine.SetUpgradeMaterialAcquired(ctx, k, *req.UpgradeMaterialAcquired)
			if err != nil {
				return err
			}
			changed = changed || ch
		}
		return nil
	}()
	recordAudit(h.audit, c, "acquisition.set", gin.H{"key": k, "body": req}, start, err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	st, err := h.store.GetState(ctx, k)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": k, "state": st, "changed": changed})
}
