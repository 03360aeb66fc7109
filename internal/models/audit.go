package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// Audit action identifiers emitted by the trust subsystem itself. Executed
// pending actions are recorded under their own action id (e.g. user.delete).
const (
	AuditActionPendingCreate  = "pending.create"
	AuditActionPendingApprove = "pending.approve"
	AuditActionPendingReject  = "pending.reject"
	AuditActionPendingCancel  = "pending.cancel"
	AuditActionPendingExpire  = "pending.expire"
	AuditActionReauthSuccess  = "reauth.success"
)

// GenesisHash is the previousHash of the first ledger record.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditChanges captures the before/after state of an audited action and the
// top-level fields whose JSON representation differs between them.
type AuditChanges struct {
	Before types.JSONText `json:"before"`
	After  types.JSONText `json:"after"`
	Diff   []string       `json:"diff"`
}

// Value implements driver.Valuer so changes persist as a single JSONB column.
func (c AuditChanges) Value() (driver.Value, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}

// Scan implements sql.Scanner.
func (c *AuditChanges) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = AuditChanges{}
		return nil
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("unsupported audit changes type %T", src)
	}
}

// AuditRecord is one immutable, hash-chained entry of the audit ledger.
type AuditRecord struct {
	ID             string         `db:"id" json:"id"`
	SequenceNumber int64          `db:"sequence_number" json:"sequenceNumber"`
	Hash           string         `db:"hash" json:"hash"`
	PreviousHash   string         `db:"previous_hash" json:"previousHash"`
	ActorID        string         `db:"actor_id" json:"actorId"`
	ActorName      string         `db:"actor_name" json:"actorName"`
	Action         string         `db:"action" json:"action"`
	ActionLabel    string         `db:"action_label" json:"actionLabel"`
	TargetType     string         `db:"target_type" json:"targetType"`
	TargetID       string         `db:"target_id" json:"targetId,omitempty"`
	TargetIDs      pq.StringArray `db:"target_ids" json:"targetIds,omitempty"`
	TargetName     string         `db:"target_name" json:"targetName,omitempty"`
	Changes        AuditChanges   `db:"changes" json:"changes"`
	Reason         string         `db:"reason" json:"reason,omitempty"`
	RiskLevel      RiskLevel      `db:"risk_level" json:"riskLevel"`
	IPAddress      string         `db:"ip_address" json:"ipAddress"`
	UserAgent      string         `db:"user_agent" json:"userAgent"`
	Metadata       types.JSONText `db:"metadata" json:"metadata"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
}

// AuditEntry is the caller-supplied content of a record before the ledger
// assigns its sequence number and hashes.
type AuditEntry struct {
	Actor       Actor
	Action      string
	ActionLabel string
	TargetType  string
	TargetID    string
	TargetIDs   []string
	TargetName  string
	Before      interface{}
	After       interface{}
	Reason      string
	RiskLevel   RiskLevel
	Metadata    map[string]interface{}
}

// LedgerHead is the tail of the chain: the last allocated sequence and its hash.
type LedgerHead struct {
	LastSequence int64  `db:"last_sequence" json:"lastSequence"`
	LastHash     string `db:"last_hash" json:"lastHash"`
}

// Chain issue kinds reported by verification.
const (
	ChainIssueHashMismatch = "hash_mismatch"
	ChainIssueSequenceGap  = "sequence_gap"
	ChainIssueLinkBroken   = "link_broken"
)

// ChainIssue is one integrity discrepancy keyed by sequence number.
type ChainIssue struct {
	SequenceNumber int64  `json:"sequenceNumber" yaml:"sequenceNumber"`
	Kind           string `json:"kind" yaml:"kind"`
	Message        string `json:"message" yaml:"message"`
	Expected       string `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual         string `json:"actual,omitempty" yaml:"actual,omitempty"`
}

// ChainVerification is the result of verifying a closed sequence range.
type ChainVerification struct {
	IsValid      bool         `json:"isValid" yaml:"isValid"`
	Issues       []ChainIssue `json:"issues" yaml:"issues"`
	CheckedCount int          `json:"checkedCount" yaml:"checkedCount"`
	StartSeq     int64        `json:"startSeq" yaml:"startSeq"`
	EndSeq       int64        `json:"endSeq" yaml:"endSeq"`
}

// AuditRecordFilter constrains ledger listings.
type AuditRecordFilter struct {
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	StartSeq   int64
	EndSeq     int64
	Limit      int
	Offset     int
}
