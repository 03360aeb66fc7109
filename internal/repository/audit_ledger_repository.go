package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
)

// immutableRecordCode is the SQLSTATE raised by the audit_records mutation trigger.
const immutableRecordCode = "P0001"

const auditRecordColumns = `id, sequence_number, hash, previous_hash, actor_id, actor_name, action, action_label,
       target_type, target_id, target_ids, target_name, changes, reason, risk_level, ip_address, user_agent,
       metadata, created_at`

// SealFunc receives the locked ledger head and returns the fully hashed record
// that must occupy sequence head.LastSequence+1.
type SealFunc func(head models.LedgerHead) (*models.AuditRecord, error)

// AuditLedgerRepository persists the append-only audit chain.
type AuditLedgerRepository struct {
	db *sqlx.DB
}

// NewAuditLedgerRepository constructs the repository.
func NewAuditLedgerRepository(db *sqlx.DB) *AuditLedgerRepository {
	return &AuditLedgerRepository{db: db}
}

// Append allocates the next sequence number under a row lock on the ledger
// head, inserts the sealed record and advances the head in one transaction.
// Concurrent appenders queue on the lock, so sequence numbers are gap-free and
// every record links to its predecessor.
func (r *AuditLedgerRepository) Append(ctx context.Context, seal SealFunc) (record *models.AuditRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ledger append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var head models.LedgerHead
	const headQuery = `SELECT last_sequence, last_hash FROM audit_ledger_head WHERE id = 1 FOR UPDATE`
	if err = tx.GetContext(ctx, &head, headQuery); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ledger head row missing: %w", err)
		}
		return nil, fmt.Errorf("lock ledger head: %w", err)
	}

	record, err = seal(head)
	if err != nil {
		return nil, err
	}
	if record.SequenceNumber != head.LastSequence+1 || record.PreviousHash != head.LastHash {
		err = fmt.Errorf("sealed record %d does not extend ledger head %d", record.SequenceNumber, head.LastSequence)
		return nil, err
	}

	const insertQuery = `INSERT INTO audit_records (` + auditRecordColumns + `)
	VALUES (:id, :sequence_number, :hash, :previous_hash, :actor_id, :actor_name, :action, :action_label,
	        :target_type, :target_id, :target_ids, :target_name, :changes, :reason, :risk_level, :ip_address, :user_agent,
	        :metadata, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, record); err != nil {
		err = mapLedgerWriteError(err, fmt.Sprintf("insert audit record %d", record.SequenceNumber))
		return nil, err
	}

	const advanceQuery = `UPDATE audit_ledger_head SET last_sequence = $1, last_hash = $2 WHERE id = 1 AND last_sequence = $3`
	result, err := tx.ExecContext(ctx, advanceQuery, record.SequenceNumber, record.Hash, head.LastSequence)
	if err != nil {
		return nil, fmt.Errorf("advance ledger head: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check ledger head rows: %w", err)
	}
	if rows != 1 {
		err = fmt.Errorf("ledger head moved during append of %d", record.SequenceNumber)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger append: %w", err)
	}
	return record, nil
}

// Head returns the current tail of the chain.
func (r *AuditLedgerRepository) Head(ctx context.Context) (*models.LedgerHead, error) {
	const query = `SELECT last_sequence, last_hash FROM audit_ledger_head WHERE id = 1`
	var head models.LedgerHead
	if err := r.db.GetContext(ctx, &head, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.LedgerHead{LastHash: models.GenesisHash}, nil
		}
		return nil, fmt.Errorf("load ledger head: %w", err)
	}
	return &head, nil
}

// ListRange returns up to limit records with fromSeq <= sequence_number <= toSeq in ascending order.
func (r *AuditLedgerRepository) ListRange(ctx context.Context, fromSeq, toSeq int64, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + auditRecordColumns + ` FROM audit_records
	WHERE sequence_number >= $1 AND sequence_number <= $2
	ORDER BY sequence_number ASC LIMIT $3`
	var records []models.AuditRecord
	if err := r.db.SelectContext(ctx, &records, query, fromSeq, toSeq, limit); err != nil {
		return nil, fmt.Errorf("list audit range %d-%d: %w", fromSeq, toSeq, err)
	}
	return records, nil
}

// List returns records matching the filter, newest first.
func (r *AuditLedgerRepository) List(ctx context.Context, filter models.AuditRecordFilter) ([]models.AuditRecord, int, error) {
	where, args := auditFilterClause(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_records` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + auditRecordColumns + ` FROM audit_records` + where +
		fmt.Sprintf(" ORDER BY sequence_number DESC LIMIT %d OFFSET %d", limit, offset)

	var records []models.AuditRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit records: %w", err)
	}
	return records, total, nil
}

// Update always fails: persisted audit records cannot change.
func (r *AuditLedgerRepository) Update(ctx context.Context, record *models.AuditRecord) error {
	seq := int64(0)
	if record != nil {
		seq = record.SequenceNumber
	}
	return appErrors.Clone(appErrors.ErrImmutabilityViolation, fmt.Sprintf("audit record %d cannot be updated", seq))
}

// Delete always fails: persisted audit records cannot be removed.
func (r *AuditLedgerRepository) Delete(ctx context.Context, sequenceNumber int64) error {
	return appErrors.Clone(appErrors.ErrImmutabilityViolation, fmt.Sprintf("audit record %d cannot be deleted", sequenceNumber))
}

// CheckImmutabilityGuard confirms that the database refuses changes to stored
// records. It rewrites the oldest record inside a transaction that is always
// rolled back; an empty ledger passes.
func (r *AuditLedgerRepository) CheckImmutabilityGuard(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immutability check: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `UPDATE audit_records SET reason = reason
	WHERE sequence_number = (SELECT MIN(sequence_number) FROM audit_records)`
	result, err := tx.ExecContext(ctx, query)
	if err != nil {
		if isImmutableRecordError(err) {
			return nil
		}
		return fmt.Errorf("immutability check: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("immutability check rows: %w", err)
	}
	if rows > 0 {
		return errors.New("audit_records accepted an update: immutability trigger is missing")
	}
	return nil
}

// mapLedgerWriteError reports trigger refusals as immutability violations.
func mapLedgerWriteError(err error, op string) error {
	if isImmutableRecordError(err) {
		return appErrors.Wrap(err, appErrors.ErrImmutabilityViolation.Code, appErrors.ErrImmutabilityViolation.Status, op+": audit record is immutable")
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isImmutableRecordError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == immutableRecordCode
}

func auditFilterClause(filter models.AuditRecordFilter) (string, []interface{}) {
	conditions := make([]string, 0, 6)
	args := make([]interface{}, 0, 6)
	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.TargetType != "" {
		args = append(args, filter.TargetType)
		conditions = append(conditions, fmt.Sprintf("target_type = $%d", len(args)))
	}
	if filter.TargetID != "" {
		args = append(args, filter.TargetID)
		conditions = append(conditions, fmt.Sprintf("target_id = $%d", len(args)))
	}
	if filter.StartSeq > 0 {
		args = append(args, filter.StartSeq)
		conditions = append(conditions, fmt.Sprintf("sequence_number >= $%d", len(args)))
	}
	if filter.EndSeq > 0 {
		args = append(args, filter.EndSeq)
		conditions = append(conditions, fmt.Sprintf("sequence_number <= $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
