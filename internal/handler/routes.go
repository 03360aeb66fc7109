package handler

import (
	"github.com/gin-gonic/gin"
)

// Routes bundles the trust subsystem handlers.
type Routes struct {
	PendingActions *PendingActionHandler
	Audit          *AuditHandler
	Reauth         *ReauthHandler
	Notifications  *NotificationHandler
}

// Register mounts every endpoint on an already authenticated admin group.
func (r Routes) Register(api *gin.RouterGroup) {
	pending := api.Group("/pending-actions")
	pending.POST("", r.PendingActions.Create)
	pending.GET("", r.PendingActions.List)
	pending.GET("/:id", r.PendingActions.Get)
	pending.POST("/:id/approve", r.PendingActions.Approve)
	pending.POST("/:id/reject", r.PendingActions.Reject)
	pending.POST("/:id/execute", r.PendingActions.Execute)
	pending.POST("/:id/cancel", r.PendingActions.Cancel)

	audit := api.Group("/audit-log")
	audit.GET("", r.Audit.List)
	audit.GET("/verify", r.Audit.Verify)
	audit.GET("/export", r.Audit.Export)

	api.POST("/reauth", r.Reauth.Reauthenticate)
	api.GET("/notifications", r.Notifications.Recent)
}
