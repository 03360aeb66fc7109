package service

import (
	"strings"

	"github.com/noah-isme/mentor-trust-api/internal/models"
)

// Action identifiers executed through the two-person rule.
const (
	ActionUserDelete         = "user.delete"
	ActionUserPermanentBan   = "user.permanent_ban"
	ActionBulkDelete         = "bulk.delete"
	ActionDataPurge          = "data.purge"
	ActionUserDeactivate     = "user.deactivate"
	ActionUserBan            = "user.ban"
	ActionBulkDeactivate     = "bulk.deactivate"
	ActionDataExport         = "data.export"
	ActionSessionForceLogout = "session.force_logout"
)

var actionRiskLevels = map[string]models.RiskLevel{
	// low
	"audit.view":     models.RiskLow,
	"user.view":      models.RiskLow,
	"mentor.view":    models.RiskLow,
	"session.view":   models.RiskLow,
	"stats.view":     models.RiskLow,
	"search.perform": models.RiskLow,
	"note.add":       models.RiskLow,
	"note.view":      models.RiskLow,
	"filter.save":    models.RiskLow,
	"reauth.success": models.RiskLow,

	// medium
	"mentor.approve":     models.RiskMedium,
	"mentor.deny":        models.RiskMedium,
	"session.cancel":     models.RiskMedium,
	"session.reschedule": models.RiskMedium,
	"user.activate":      models.RiskMedium,
	"notification.send":  models.RiskMedium,
	"bulk.approve":       models.RiskMedium,

	// high
	ActionUserDeactivate:     models.RiskHigh,
	ActionUserBan:            models.RiskHigh,
	ActionBulkDeactivate:     models.RiskHigh,
	ActionDataExport:         models.RiskHigh,
	ActionSessionForceLogout: models.RiskHigh,

	// critical
	ActionUserDelete:       models.RiskCritical,
	ActionUserPermanentBan: models.RiskCritical,
	ActionBulkDelete:       models.RiskCritical,
	ActionDataPurge:        models.RiskCritical,
}

var actionLabels = map[string]string{
	ActionUserDelete:         "Delete user",
	ActionUserPermanentBan:   "Permanently ban user",
	ActionBulkDelete:         "Bulk delete users",
	ActionDataPurge:          "Purge data",
	ActionUserDeactivate:     "Deactivate user",
	ActionUserBan:            "Ban user",
	ActionBulkDeactivate:     "Bulk deactivate users",
	ActionDataExport:         "Export data",
	ActionSessionForceLogout: "Force logout",
	"mentor.approve":         "Approve mentor",
	"mentor.deny":            "Deny mentor",
	"session.cancel":         "Cancel session",
	"session.reschedule":     "Reschedule session",
	"user.activate":          "Activate user",
	"notification.send":      "Send notification",
	"bulk.approve":           "Bulk approve",
	"reauth.success":         "Re-authenticated",
	"pending.create":         "Request approval",
	"pending.approve":        "Approve request",
	"pending.reject":         "Reject request",
	"pending.cancel":         "Cancel request",
	"pending.expire":         "Expire request",
}

// Classify returns the risk tier of an action. Unknown actions are medium.
func Classify(action string) models.RiskLevel {
	if level, ok := actionRiskLevels[action]; ok {
		return level
	}
	return models.RiskMedium
}

// RequiresApproval reports whether the action must pass the two-person rule.
func RequiresApproval(action string) bool {
	return Classify(action) == models.RiskCritical
}

// RequiresReauth reports whether the caller must have re-entered their password.
func RequiresReauth(action string) bool {
	level := Classify(action)
	return level == models.RiskHigh || level == models.RiskCritical
}

// ActionLabel returns the human readable label of an action, deriving one
// from the identifier when none is registered ("mentor.verify" -> "Mentor verify").
func ActionLabel(action string) string {
	if label, ok := actionLabels[action]; ok {
		return label
	}
	label := strings.NewReplacer(".", " ", "_", " ").Replace(strings.TrimSpace(action))
	if label == "" {
		return ""
	}
	return strings.ToUpper(label[:1]) + label[1:]
}
