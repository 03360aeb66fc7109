package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	"github.com/noah-isme/mentor-trust-api/internal/repository"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
	"github.com/noah-isme/mentor-trust-api/pkg/middleware/requestid"
)

const (
	defaultVerifyBatchSize = 500
	exportPageSize         = 200
)

type ledgerStore interface {
	Append(ctx context.Context, seal repository.SealFunc) (*models.AuditRecord, error)
	Head(ctx context.Context) (*models.LedgerHead, error)
	ListRange(ctx context.Context, fromSeq, toSeq int64, limit int) ([]models.AuditRecord, error)
	List(ctx context.Context, filter models.AuditRecordFilter) ([]models.AuditRecord, int, error)
	Update(ctx context.Context, record *models.AuditRecord) error
	Delete(ctx context.Context, sequenceNumber int64) error
}

type ledgerMetrics interface {
	ObserveLedgerAppend(duration time.Duration, err error)
	ObserveChainVerification(valid bool, checked int)
}

// AuditLedgerService appends hash-chained audit records and verifies the chain.
type AuditLedgerService struct {
	store     ledgerStore
	logger    *zap.Logger
	metrics   ledgerMetrics
	now       func() time.Time
	newID     func() string
	batchSize int
	maxRange  int64
	maxExport int
}

// AuditLedgerOption configures the ledger service.
type AuditLedgerOption func(*AuditLedgerService)

// WithLedgerMetrics wires Prometheus instrumentation.
func WithLedgerMetrics(metrics ledgerMetrics) AuditLedgerOption {
	return func(s *AuditLedgerService) {
		s.metrics = metrics
	}
}

// WithLedgerClock overrides the clock used to stamp records.
func WithLedgerClock(now func() time.Time) AuditLedgerOption {
	return func(s *AuditLedgerService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLedgerLimits bounds verification ranges and export sizes. Zero keeps the default.
func WithLedgerLimits(verifyBatch int, maxRange int64, maxExport int) AuditLedgerOption {
	return func(s *AuditLedgerService) {
		if verifyBatch > 0 {
			s.batchSize = verifyBatch
		}
		if maxRange > 0 {
			s.maxRange = maxRange
		}
		if maxExport > 0 {
			s.maxExport = maxExport
		}
	}
}

// NewAuditLedgerService constructs the ledger service.
func NewAuditLedgerService(store ledgerStore, logger *zap.Logger, opts ...AuditLedgerOption) *AuditLedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AuditLedgerService{
		store:     store,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		batchSize: defaultVerifyBatchSize,
		maxExport: 5000,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Append stores a new record at the tail of the chain. Sequence allocation and
// linking happen inside the store's transaction, so concurrent callers always
// receive distinct, contiguous sequence numbers.
func (s *AuditLedgerService) Append(ctx context.Context, entry models.AuditEntry) (*models.AuditRecord, error) {
	if strings.TrimSpace(entry.Action) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "audit action is required")
	}
	if strings.TrimSpace(entry.Actor.ID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "audit actor is required")
	}
	if entry.Actor.RequestID == "" {
		entry.Actor.RequestID = requestid.FromContext(ctx)
	}

	base, err := s.buildRecord(entry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "audit payload is not valid JSON")
	}

	started := time.Now()
	record, err := s.store.Append(ctx, func(head models.LedgerHead) (*models.AuditRecord, error) {
		sealed := *base
		sealed.SequenceNumber = head.LastSequence + 1
		sealed.PreviousHash = head.LastHash
		if sealed.PreviousHash == "" {
			sealed.PreviousHash = models.GenesisHash
		}
		hash, err := ComputeRecordHash(&sealed)
		if err != nil {
			return nil, err
		}
		sealed.Hash = hash
		return &sealed, nil
	})
	if s.metrics != nil {
		s.metrics.ObserveLedgerAppend(time.Since(started), err)
	}
	if err != nil {
		s.logger.Error("audit append failed", zap.String("action", entry.Action), zap.String("actor_id", entry.Actor.ID), zap.Error(err))
		var typed *appErrors.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append audit record")
	}
	s.logger.Debug("audit record appended",
		zap.Int64("sequence", record.SequenceNumber),
		zap.String("action", record.Action),
		zap.String("hash", record.Hash),
	)
	return record, nil
}

func (s *AuditLedgerService) buildRecord(entry models.AuditEntry) (*models.AuditRecord, error) {
	before, err := canonicalJSON(entry.Before)
	if err != nil {
		return nil, fmt.Errorf("before: %w", err)
	}
	after, err := canonicalJSON(entry.After)
	if err != nil {
		return nil, fmt.Errorf("after: %w", err)
	}
	diff, err := diffFields(before, after)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	fields := make(map[string]interface{}, len(entry.Metadata)+1)
	for k, v := range entry.Metadata {
		fields[k] = v
	}
	if entry.Actor.RequestID != "" {
		fields["requestId"] = entry.Actor.RequestID
	}
	metadata := types.JSONText(`{}`)
	if len(fields) > 0 {
		if metadata, err = canonicalJSON(fields); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
	}

	risk := entry.RiskLevel
	if !risk.Valid() {
		risk = Classify(entry.Action)
	}
	label := entry.ActionLabel
	if label == "" {
		label = ActionLabel(entry.Action)
	}
	targetIDs := pq.StringArray{}
	for _, id := range entry.TargetIDs {
		targetIDs = append(targetIDs, id)
	}

	return &models.AuditRecord{
		ID:          s.newID(),
		ActorID:     entry.Actor.ID,
		ActorName:   entry.Actor.Name,
		Action:      entry.Action,
		ActionLabel: label,
		TargetType:  entry.TargetType,
		TargetID:    entry.TargetID,
		TargetIDs:   targetIDs,
		TargetName:  entry.TargetName,
		Changes:     models.AuditChanges{Before: before, After: after, Diff: diff},
		Reason:      entry.Reason,
		RiskLevel:   risk,
		IPAddress:   entry.Actor.IPAddress,
		UserAgent:   entry.Actor.UserAgent,
		Metadata:    metadata,
		// Postgres keeps microseconds; hashing the truncated instant keeps the
		// stored record re-derivable.
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}, nil
}

// VerifyChain recomputes the hash of every record in [startSeq, endSeq] and
// checks contiguity and back-links. A zero startSeq means 1, a zero endSeq
// means the current tail. The scan reports every discrepancy it finds.
func (s *AuditLedgerService) VerifyChain(ctx context.Context, startSeq, endSeq int64) (*models.ChainVerification, error) {
	if startSeq < 0 || endSeq < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sequence bounds must be positive")
	}
	head, err := s.store.Head(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ledger head")
	}
	if startSeq == 0 {
		startSeq = 1
	}
	if endSeq == 0 || endSeq > head.LastSequence {
		endSeq = head.LastSequence
	}

	result := &models.ChainVerification{IsValid: true, Issues: []models.ChainIssue{}, StartSeq: startSeq, EndSeq: endSeq}
	if endSeq < startSeq {
		s.observeVerification(result)
		return result, nil
	}
	if s.maxRange > 0 && endSeq-startSeq+1 > s.maxRange {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("verification range is limited to %d records", s.maxRange))
	}

	var prev *models.AuditRecord
	if startSeq > 1 {
		anchor, err := s.store.ListRange(ctx, startSeq-1, startSeq-1, 1)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit records")
		}
		if len(anchor) == 1 {
			prev = &anchor[0]
		}
	}

	expected := startSeq
	cursor := startSeq
	for cursor <= endSeq {
		batch, err := s.store.ListRange(ctx, cursor, endSeq, s.batchSize)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit records")
		}
		for i := range batch {
			record := batch[i]
			result.CheckedCount++
			if record.SequenceNumber != expected {
				result.Issues = append(result.Issues, models.ChainIssue{
					SequenceNumber: record.SequenceNumber,
					Kind:           models.ChainIssueSequenceGap,
					Message:        fmt.Sprintf("expected sequence %d, found %d", expected, record.SequenceNumber),
				})
			}
			if issue, ok := checkLink(prev, &record); !ok {
				result.Issues = append(result.Issues, issue)
			}
			if issue, ok := checkHash(&record); !ok {
				result.Issues = append(result.Issues, issue)
			}
			expected = record.SequenceNumber + 1
			prev = &batch[i]
		}
		if len(batch) < s.batchSize {
			break
		}
		cursor = batch[len(batch)-1].SequenceNumber + 1
	}
	if expected <= endSeq {
		result.Issues = append(result.Issues, models.ChainIssue{
			SequenceNumber: expected,
			Kind:           models.ChainIssueSequenceGap,
			Message:        fmt.Sprintf("records %d-%d are missing", expected, endSeq),
		})
	}

	result.IsValid = len(result.Issues) == 0
	s.observeVerification(result)
	if !result.IsValid {
		s.logger.Warn("audit chain verification failed",
			zap.Int64("start_seq", startSeq),
			zap.Int64("end_seq", endSeq),
			zap.Int("issues", len(result.Issues)),
		)
	}
	return result, nil
}

func (s *AuditLedgerService) observeVerification(result *models.ChainVerification) {
	if s.metrics != nil {
		s.metrics.ObserveChainVerification(result.IsValid, result.CheckedCount)
	}
}

func checkLink(prev, record *models.AuditRecord) (models.ChainIssue, bool) {
	var want string
	switch {
	case record.SequenceNumber == 1:
		want = models.GenesisHash
	case prev != nil && prev.SequenceNumber == record.SequenceNumber-1:
		want = prev.Hash
	default:
		// predecessor missing; reported as a gap
		return models.ChainIssue{}, true
	}
	if record.PreviousHash == want {
		return models.ChainIssue{}, true
	}
	return models.ChainIssue{
		SequenceNumber: record.SequenceNumber,
		Kind:           models.ChainIssueLinkBroken,
		Message:        "previousHash does not match the preceding record",
		Expected:       want,
		Actual:         record.PreviousHash,
	}, false
}

func checkHash(record *models.AuditRecord) (models.ChainIssue, bool) {
	computed, err := ComputeRecordHash(record)
	if err != nil {
		return models.ChainIssue{
			SequenceNumber: record.SequenceNumber,
			Kind:           models.ChainIssueHashMismatch,
			Message:        fmt.Sprintf("record content cannot be canonicalized: %v", err),
			Actual:         record.Hash,
		}, false
	}
	if computed == record.Hash {
		return models.ChainIssue{}, true
	}
	return models.ChainIssue{
		SequenceNumber: record.SequenceNumber,
		Kind:           models.ChainIssueHashMismatch,
		Message:        "stored hash does not match recomputed content hash",
		Expected:       computed,
		Actual:         record.Hash,
	}, false
}

// List returns a page of records matching the filter, newest first.
func (s *AuditLedgerService) List(ctx context.Context, filter models.AuditRecordFilter) ([]models.AuditRecord, int, error) {
	records, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit records")
	}
	return records, total, nil
}

// Export collects up to the configured maximum of records for download.
func (s *AuditLedgerService) Export(ctx context.Context, filter models.AuditRecordFilter) ([]models.AuditRecord, error) {
	filter.Limit = exportPageSize
	filter.Offset = 0
	var all []models.AuditRecord
	for len(all) < s.maxExport {
		page, total, err := s.store.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export audit records")
		}
		all = append(all, page...)
		filter.Offset += len(page)
		if len(page) < exportPageSize || filter.Offset >= total {
			break
		}
	}
	if len(all) > s.maxExport {
		all = all[:s.maxExport]
	}
	return all, nil
}

// Update is refused unconditionally.
func (s *AuditLedgerService) Update(ctx context.Context, record *models.AuditRecord) error {
	return s.store.Update(ctx, record)
}

// Delete is refused unconditionally.
func (s *AuditLedgerService) Delete(ctx context.Context, sequenceNumber int64) error {
	return s.store.Delete(ctx, sequenceNumber)
}

type hashChanges struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Diff   []string        `json:"diff"`
}

type hashPayload struct {
	SequenceNumber int64           `json:"sequenceNumber"`
	ActorID        string          `json:"actorId"`
	ActorName      string          `json:"actorName"`
	Action         string          `json:"action"`
	ActionLabel    string          `json:"actionLabel"`
	TargetType     string          `json:"targetType"`
	TargetID       string          `json:"targetId"`
	TargetIDs      []string        `json:"targetIds"`
	TargetName     string          `json:"targetName"`
	Changes        hashChanges     `json:"changes"`
	Reason         string          `json:"reason"`
	RiskLevel      string          `json:"riskLevel"`
	IPAddress      string          `json:"ipAddress"`
	UserAgent      string          `json:"userAgent"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      string          `json:"createdAt"`
}

// ComputeRecordHash returns hex(sha256(canonical(record) || previousHash)).
// The stored hash itself is excluded from the canonical form.
func ComputeRecordHash(record *models.AuditRecord) (string, error) {
	before, err := canonicalRaw(record.Changes.Before)
	if err != nil {
		return "", err
	}
	after, err := canonicalRaw(record.Changes.After)
	if err != nil {
		return "", err
	}
	metadata, err := canonicalRaw(record.Metadata)
	if err != nil {
		return "", err
	}
	diff := record.Changes.Diff
	if diff == nil {
		diff = []string{}
	}
	targetIDs := []string(record.TargetIDs)
	if targetIDs == nil {
		targetIDs = []string{}
	}

	payload, err := json.Marshal(hashPayload{
		SequenceNumber: record.SequenceNumber,
		ActorID:        record.ActorID,
		ActorName:      record.ActorName,
		Action:         record.Action,
		ActionLabel:    record.ActionLabel,
		TargetType:     record.TargetType,
		TargetID:       record.TargetID,
		TargetIDs:      targetIDs,
		TargetName:     record.TargetName,
		Changes:        hashChanges{Before: before, After: after, Diff: diff},
		Reason:         record.Reason,
		RiskLevel:      string(record.RiskLevel),
		IPAddress:      record.IPAddress,
		UserAgent:      record.UserAgent,
		Metadata:       metadata,
		CreatedAt:      record.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("marshal hash payload: %w", err)
	}

	sum := sha256.New()
	sum.Write(payload)
	sum.Write([]byte(record.PreviousHash))
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// canonicalJSON marshals v into its RFC 8785 form: sorted keys, no
// whitespace, ES6 number rendering. Postgres jsonb reorders keys and rewrites
// numbers on storage, so hashing must not depend on either.
func canonicalJSON(v interface{}) (types.JSONText, error) {
	var raw []byte
	switch value := v.(type) {
	case nil:
		return types.JSONText(`null`), nil
	case types.JSONText:
		raw = value
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	canonical, err := canonicalRaw(raw)
	if err != nil {
		return nil, err
	}
	return types.JSONText(canonical), nil
}

func canonicalRaw(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`null`), nil
	}
	value := jsontext.Value(bytes.Clone(raw))
	if err := value.Canonicalize(); err != nil {
		return nil, err
	}
	return json.RawMessage(value), nil
}

// diffFields lists the top-level keys whose JSON value differs between the
// before and after objects. Non-object states contribute no keys.
func diffFields(before, after []byte) ([]string, error) {
	beforeFields, err := objectFields(before)
	if err != nil {
		return nil, err
	}
	afterFields, err := objectFields(after)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(beforeFields)+len(afterFields))
	for k := range beforeFields {
		keys[k] = struct{}{}
	}
	for k := range afterFields {
		keys[k] = struct{}{}
	}

	diff := make([]string, 0, len(keys))
	for k := range keys {
		b, inBefore := beforeFields[k]
		a, inAfter := afterFields[k]
		if inBefore != inAfter || !bytes.Equal(b, a) {
			diff = append(diff, k)
		}
	}
	sort.Strings(diff)
	return diff, nil
}

func objectFields(raw []byte) (map[string][]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(fields))
	for k, v := range fields {
		canonical, err := canonicalRaw(v)
		if err != nil {
			return nil, err
		}
		out[k] = canonical
	}
	return out, nil
}
