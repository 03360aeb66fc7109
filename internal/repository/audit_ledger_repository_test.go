package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
)

var auditRecordRowColumns = []string{
	"id", "sequence_number", "hash", "previous_hash", "actor_id", "actor_name", "action", "action_label",
	"target_type", "target_id", "target_ids", "target_name", "changes", "reason", "risk_level", "ip_address",
	"user_agent", "metadata", "created_at",
}

func sealNext(hash string) SealFunc {
	return func(head models.LedgerHead) (*models.AuditRecord, error) {
		return &models.AuditRecord{
			ID:             "rec-" + hash,
			SequenceNumber: head.LastSequence + 1,
			Hash:           hash,
			PreviousHash:   head.LastHash,
			ActorID:        "admin-1",
			Action:         models.AuditActionPendingCreate,
			TargetType:     string(models.TargetUser),
			TargetID:       "user-9",
			Changes:        models.AuditChanges{Before: types.JSONText(`null`), After: types.JSONText(`{"status":"pending"}`), Diff: []string{"status"}},
			RiskLevel:      models.RiskCritical,
			Metadata:       types.JSONText(`{}`),
			CreatedAt:      time.Now().UTC(),
		}, nil
	}
}

func TestAuditLedgerRepositoryAppendAdvancesHead(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAuditLedgerRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT last_sequence, last_hash FROM audit_ledger_head WHERE id = 1 FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence", "last_hash"}).AddRow(4, "hash-4"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_records")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE audit_ledger_head SET last_sequence = $1, last_hash = $2")).
		WithArgs(int64(5), "hash-5", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := repo.Append(context.Background(), sealNext("hash-5"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), record.SequenceNumber)
	assert.Equal(t, "hash-4", record.PreviousHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLedgerRepositoryAppendRollsBackWhenHeadMoved(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAuditLedgerRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_ledger_head WHERE id = 1 FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence", "last_hash"}).AddRow(0, models.GenesisHash))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_records")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE audit_ledger_head")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Append(context.Background(), sealNext("hash-1"))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLedgerRepositoryAppendRejectsRecordNotExtendingHead(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAuditLedgerRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_ledger_head WHERE id = 1 FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence", "last_hash"}).AddRow(2, "hash-2"))
	mock.ExpectRollback()

	_, err := repo.Append(context.Background(), func(head models.LedgerHead) (*models.AuditRecord, error) {
		return &models.AuditRecord{SequenceNumber: head.LastSequence + 2, PreviousHash: head.LastHash}, nil
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLedgerRepositoryAppendSealFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAuditLedgerRepository(db)
	sealErr := errors.New("canonicalize failed")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_ledger_head WHERE id = 1 FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence", "last_hash"}).AddRow(0, models.GenesisHash))
	mock.ExpectRollback()

	_, err := repo.Append(context.Background(), func(models.LedgerHead) (*models.AuditRecord, error) {
		return nil, sealErr
	})
	require.ErrorIs(t, err, sealErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLedgerRepositoryListRange(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAuditLedgerRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(auditRecordRowColumns).
		AddRow("rec-1", 1, "h1", models.GenesisHash, "admin-1", "Ada", "pending.create", "Delete User",
			"user", "user-9", "{}", "", `{"before":null,"after":{"status":"pending"},"diff":["status"]}`, "cleanup",
			"critical", "10.0.0.1", "curl", `{}`, now).
		AddRow("rec-2", 2, "h2", "h1", "admin-2", "Bo", "pending.approve", "Delete User",
			"pending", "pa-1", "{}", "", `{"before":{"status":"pending"},"after":{"status":"approved"},"diff":["status"]}`, "",
			"critical", "10.0.0.2", "curl", `{"pendingActionId":"pa-1"}`, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE sequence_number >= $1 AND sequence_number <= $2")).
		WithArgs(int64(1), int64(10), 500).
		WillReturnRows(rows)

	records, err := repo.ListRange(context.Background(), 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "h1", records[1].PreviousHash)
	assert.Equal(t, []string{"status"}, records[0].Changes.Diff)
	assert.JSONEq(t, `{"status":"pending"}`, string(records[0].Changes.After))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLedgerRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAuditLedgerRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_records WHERE actor_id = $1 AND action = $2")).
		WithArgs("admin-1", "user.delete").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY sequence_number DESC LIMIT 50 OFFSET 0")).
		WithArgs("admin-1", "user.delete").
		WillReturnRows(sqlmock.NewRows(auditRecordRowColumns).
			AddRow("rec-7", 7, "h7", "h6", "admin-1", "Ada", "user.delete", "Delete User",
				"user", "user-9", "{}", "Sam", `{"before":null,"after":{"deleted":true},"diff":["deleted"]}`, "",
				"critical", "", "", `{}`, time.Now()))

	records, total, err := repo.List(context.Background(), models.AuditRecordFilter{ActorID: "admin-1", Action: "user.delete"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "Sam", records[0].TargetName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLedgerRepositoryRefusesMutation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAuditLedgerRepository(db)
	err := repo.Update(context.Background(), &models.AuditRecord{SequenceNumber: 3})
	require.ErrorIs(t, err, appErrors.ErrImmutabilityViolation)

	err = repo.Delete(context.Background(), 3)
	require.ErrorIs(t, err, appErrors.ErrImmutabilityViolation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLedgerRepositoryAppendMapsTriggerRefusal(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAuditLedgerRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_ledger_head WHERE id = 1 FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence", "last_hash"}).AddRow(7, "hash-7"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_records")).
		WillReturnError(&pq.Error{Code: "P0001", Message: "audit record is immutable"})
	mock.ExpectRollback()

	_, err := repo.Append(context.Background(), sealNext("hash-8"))
	require.ErrorIs(t, err, appErrors.ErrImmutabilityViolation)
	assert.Equal(t, "IMMUTABILITY_VIOLATION", appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLedgerRepositoryAppendKeepsOtherInsertErrors(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewAuditLedgerRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_ledger_head WHERE id = 1 FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence", "last_hash"}).AddRow(7, "hash-7"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_records")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	_, err := repo.Append(context.Background(), sealNext("hash-8"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, appErrors.ErrImmutabilityViolation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLedgerRepositoryCheckImmutabilityGuard(t *testing.T) {
	const guardQuery = "UPDATE audit_records SET reason = reason"

	t.Run("trigger refuses update", func(t *testing.T) {
		db, mock, cleanup := newMock(t)
		defer cleanup()
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(guardQuery)).
			WillReturnError(&pq.Error{Code: "P0001", Message: "audit record is immutable"})
		mock.ExpectRollback()

		require.NoError(t, NewAuditLedgerRepository(db).CheckImmutabilityGuard(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty ledger", func(t *testing.T) {
		db, mock, cleanup := newMock(t)
		defer cleanup()
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(guardQuery)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		require.NoError(t, NewAuditLedgerRepository(db).CheckImmutabilityGuard(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("trigger missing", func(t *testing.T) {
		db, mock, cleanup := newMock(t)
		defer cleanup()
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(guardQuery)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		err := NewAuditLedgerRepository(db).CheckImmutabilityGuard(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "immutability trigger is missing")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
