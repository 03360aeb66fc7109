package dto

// CreatePendingActionRequest is the payload for requesting a risk-critical action.
type CreatePendingActionRequest struct {
	Action      string                 `json:"action" validate:"required,max=100"`
	ActionLabel string                 `json:"actionLabel" validate:"omitempty,max=200"`
	TargetType  string                 `json:"targetType" validate:"required,target_type"`
	TargetID    string                 `json:"targetId" validate:"omitempty,max=64"`
	TargetIDs   []string               `json:"targetIds" validate:"omitempty,max=500,dive,required,max=64"`
	TargetName  string                 `json:"targetName" validate:"omitempty,max=255"`
	Reason      string                 `json:"reason" validate:"required,max=2000"`
	Details     map[string]interface{} `json:"details"`
}

// RejectPendingActionRequest carries the mandatory rejection reason.
type RejectPendingActionRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// PendingActionQuery holds list query parameters.
type PendingActionQuery struct {
	Status string `form:"status"`
	Page   int    `form:"page"`
	Limit  int    `form:"limit"`
}

