package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// PendingActionStatus captures the lifecycle of a two-person-rule request.
type PendingActionStatus string

const (
	PendingStatusPending   PendingActionStatus = "pending"
	PendingStatusApproved  PendingActionStatus = "approved"
	PendingStatusRejected  PendingActionStatus = "rejected"
	PendingStatusExecuted  PendingActionStatus = "executed"
	PendingStatusCancelled PendingActionStatus = "cancelled"
	PendingStatusExpired   PendingActionStatus = "expired"
)

// Terminal reports whether no further transition may leave this status.
func (s PendingActionStatus) Terminal() bool {
	switch s {
	case PendingStatusExecuted, PendingStatusRejected, PendingStatusCancelled, PendingStatusExpired:
		return true
	}
	return false
}

// Valid reports whether the status is a known lifecycle state.
func (s PendingActionStatus) Valid() bool {
	return s == PendingStatusPending || s == PendingStatusApproved || s.Terminal()
}

// PendingAction is a risk-critical request awaiting a second administrator.
type PendingAction struct {
	ID                string              `db:"id" json:"id"`
	RequestedBy       string              `db:"requested_by" json:"requestedBy"`
	RequestedByName   string              `db:"requested_by_name" json:"requestedByName"`
	Action            string              `db:"action" json:"action"`
	ActionLabel       string              `db:"action_label" json:"actionLabel"`
	RiskLevel         RiskLevel           `db:"risk_level" json:"riskLevel"`
	RequiresApproval  bool                `db:"-" json:"requiresApproval"`
	TargetType        TargetType          `db:"target_type" json:"targetType"`
	TargetID          string              `db:"target_id" json:"targetId,omitempty"`
	TargetIDs         pq.StringArray      `db:"target_ids" json:"targetIds,omitempty"`
	TargetName        string              `db:"target_name" json:"targetName,omitempty"`
	Reason            string              `db:"reason" json:"reason"`
	Details           types.JSONText      `db:"details" json:"details"`
	Status            PendingActionStatus `db:"status" json:"status"`
	ApprovedBy        *string             `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt        *time.Time          `db:"approved_at" json:"approvedAt,omitempty"`
	RejectedBy        *string             `db:"rejected_by" json:"rejectedBy,omitempty"`
	RejectedAt        *time.Time          `db:"rejected_at" json:"rejectedAt,omitempty"`
	RejectionReason   *string             `db:"rejection_reason" json:"rejectionReason,omitempty"`
	CancelledAt       *time.Time          `db:"cancelled_at" json:"cancelledAt,omitempty"`
	ExecutedAt        *time.Time          `db:"executed_at" json:"executedAt,omitempty"`
	ExecutionResult   types.JSONText      `db:"execution_result" json:"executionResult"`
	ExecutionError    *string             `db:"execution_error" json:"executionError,omitempty"`
	ExpiresAt         time.Time           `db:"expires_at" json:"expiresAt"`
	ReauthenticatedAt *time.Time          `db:"reauthenticated_at" json:"reauthenticatedAt,omitempty"`
	IPAddress         string              `db:"ip_address" json:"ipAddress"`
	UserAgent         string              `db:"user_agent" json:"userAgent"`
	CreatedAt         time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updatedAt"`
}

// PendingActionFilter constrains listing queries.
type PendingActionFilter struct {
	Status             []PendingActionStatus
	RequestedBy        string
	ExcludeRequestedBy string
	NotExpiredAt       *time.Time
	Limit              int
	Offset             int
}

// PendingActionTransition is a guarded compare-and-swap update: it applies
// only while the stored status still equals From.
type PendingActionTransition struct {
	ID              string
	From            PendingActionStatus
	To              PendingActionStatus
	At              time.Time
	ActorID         string
	RejectionReason *string
}

// PendingActionList bundles a page of requests with the approval counter.
type PendingActionList struct {
	Items              []PendingAction `json:"items"`
	Total              int             `json:"total"`
	PendingForApproval int             `json:"pendingForApproval"`
}

// ExecutionOutcome is what an ActionExecutor returned for a request.
type ExecutionOutcome struct {
	PendingActionID string                 `json:"pendingActionId"`
	Action          string                 `json:"action"`
	Result          map[string]interface{} `json:"result"`
	Error           string                 `json:"error,omitempty"`
}

// SweepReport summarises one run of the background sweeper.
type SweepReport struct {
	Expired int       `json:"expired" yaml:"expired"`
	Purged  int64     `json:"purged" yaml:"purged"`
	RanAt   time.Time `json:"ranAt" yaml:"ranAt"`
}
