package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/mentor-trust-api/internal/models"
)

const userColumns = `id, email, password_hash, full_name, role, is_verified, is_banned, banned_at, ban_reason, created_at, updated_at`

// UserRepository provides database access for platform accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// DeleteWithProfiles removes a user together with its mentor and student
// profiles in one transaction.
func (r *UserRepository) DeleteWithProfiles(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete user: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM mentor_profiles WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("delete mentor profile: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM student_profiles WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("delete student profile: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deleted user rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete user: %w", err)
	}
	return nil
}

// DeleteMany removes the given users and their profiles, returning how many
// user rows were deleted.
func (r *UserRepository) DeleteMany(ctx context.Context, ids []string) (deleted int64, err error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk delete users: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	arg := pq.Array(ids)
	if _, err = tx.ExecContext(ctx, `DELETE FROM mentor_profiles WHERE user_id = ANY($1)`, arg); err != nil {
		return 0, fmt.Errorf("bulk delete mentor profiles: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM student_profiles WHERE user_id = ANY($1)`, arg); err != nil {
		return 0, fmt.Errorf("bulk delete student profiles: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ANY($1)`, arg)
	if err != nil {
		return 0, fmt.Errorf("bulk delete users: %w", err)
	}
	deleted, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check bulk deleted rows: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk delete users: %w", err)
	}
	return deleted, nil
}

// Ban permanently bans a user and clears its verification flag.
func (r *UserRepository) Ban(ctx context.Context, id, reason string, at time.Time) error {
	const query = `UPDATE users SET is_banned = TRUE, is_verified = FALSE, banned_at = $2, ban_reason = $3, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, at, reason)
	if err != nil {
		return fmt.Errorf("ban user: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check banned user rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
