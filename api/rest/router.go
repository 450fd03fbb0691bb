package rest

import (
	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/raidloot/server/middleware"
	"github.com/kasuganosora/raidloot/server/model"
)

// Handlers groups every REST handler mounted by Register.
type Handlers struct {
	Auth        *AuthHandler
	Members     *MemberHandler
	Acquisition *AcquisitionHandler
	Weeks       *WeekHandler
	Assignments *AssignmentHandler
	Admin       *AdminHandler
}

// Register mounts the API under api. auth authenticates the caller; ops
// guards the machine-facing /ops routes.
func Register(api *gin.RouterGroup, auth, ops gin.HandlerFunc, h Handlers) {
	RegisterValidators()

	manager := mw.RequirePermission(model.PermissionManager)
	admin := mw.RequirePermission(model.PermissionAdministrator)
	selfOrManager := mw.RequireSelfOr("id", model.PermissionManager)
	selfOrAdmin := mw.RequireSelfOr("id", model.PermissionAdministrator)

	authG := api.Group("/auth")
	authG.POST("/login", h.Auth.Login)
	authG.POST("/logout", auth, h.Auth.Logout)
	authG.POST("/refresh", auth, h.Auth.Refresh)
	authG.GET("/me", auth, h.Auth.Me)

	membersG := api.Group("/members", auth)
	membersG.GET("", h.Members.List)
	membersG.POST("", admin, h.Members.Create)
	membersG.GET("/:id", h.Members.Get)
	membersG.PATCH("/:id", selfOrManager, h.Members.Update)
	membersG.DELETE("/:id", admin, h.Members.Delete)
	membersG.PUT("/:id/pin", selfOrAdmin, h.Members.SetPin)
	membersG.PUT("/:id/bis/:spec", selfOrManager, h.Members.SetBis)
	membersG.POST("/:id/bis/:spec/import", selfOrManager, h.Members.ImportBis)
	membersG.GET("/:id/acquisition", h.Acquisition.History)
	membersG.GET("/:id/acquisition/:spec", h.Acquisition.Current)
	membersG.PUT("/:id/acquisition/:spec/:slot", selfOrManager, h.Acquisition.Set)

	weeksG := api.Group("/weeks", auth)
	weeksG.GET("", h.Weeks.List)
	weeksG.GET("/current", h.Weeks.Current)
	weeksG.POST("", manager, h.Weeks.Create)
	weeksG.PUT("/:number/current", manager, h.Weeks.SetCurrent)
	weeksG.DELETE("/:number", manager, h.Weeks.Delete)

	assignG := api.Group("/assignments", auth)
	assignG.GET("", h.Assignments.List)
	assignG.GET("/resolve", h.Assignments.Resolve)
	assignG.GET("/export", h.Assignments.Export)
	assignG.GET("/:id", h.Assignments.Get)
	assignG.POST("", manager, h.Assignments.Create)
	assignG.PUT("/:id", manager, h.Assignments.Reassign)
	assignG.DELETE("/:id", manager, h.Assignments.Delete)

	adminG := api.Group("/admin", auth, admin)
	adminG.GET("/audit", h.Admin.Audit)
	adminG.PUT("/members/:id/permission", h.Admin.SetPermission)

	opsG := api.Group("/ops", ops)
	opsG.GET("/stats", h.Admin.Stats)
}
