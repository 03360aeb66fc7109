package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mentor-trust-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestFindUserByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "role", "is_verified", "is_banned", "banned_at", "ban_reason", "created_at", "updated_at"}).
		AddRow("u-1", "mentor@example.com", "hash", "Mira Mentor", string(models.RoleMentor), true, false, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1 LIMIT 1")).
		WithArgs("u-1").
		WillReturnRows(rows)

	user, err := repo.FindByID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Mira Mentor", user.DisplayName())
	assert.True(t, user.Verified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserWithProfiles(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM mentor_profiles WHERE user_id = $1")).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM student_profiles WHERE user_id = $1")).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.DeleteWithProfiles(context.Background(), "u-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserWithProfilesMissingUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM mentor_profiles").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM student_profiles").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.DeleteWithProfiles(context.Background(), "ghost")
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteManyUsers(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM mentor_profiles WHERE user_id = ANY($1)")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM student_profiles WHERE user_id = ANY($1)")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = ANY($1)")).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	deleted, err := repo.DeleteMany(context.Background(), []string{"u-1", "u-2", "u-3"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteManyUsersEmpty(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	deleted, err := repo.DeleteMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBanUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET is_banned = TRUE, is_verified = FALSE")).
		WithArgs("u-1", at, "harassment").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Ban(context.Background(), "u-1", "harassment", at))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET is_banned = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Ban(context.Background(), "ghost", "spam", at)
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindProfiles(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM mentor_profiles p JOIN users u")).
		WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "full_name"}).AddRow("m-1", "u-1", "Mira Mentor"))
	mentor, err := repo.FindMentorByID(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, "Mira Mentor", mentor.DisplayName())

	mock.ExpectQuery(regexp.QuoteMeta("FROM student_profiles p JOIN users u")).
		WithArgs("s-404").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindStudentByID(context.Background(), "s-404")
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
