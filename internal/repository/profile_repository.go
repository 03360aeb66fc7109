package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mentor-trust-api/internal/models"
)

// ProfileRepository reads mentor and student profiles joined with their user.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository constructs the repository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// FindMentorByID returns the mentor profile with the given id.
func (r *ProfileRepository) FindMentorByID(ctx context.Context, id string) (*models.Profile, error) {
	const query = `SELECT p.id, p.user_id, u.full_name FROM mentor_profiles p JOIN users u ON u.id = p.user_id WHERE p.id = $1`
	return r.find(ctx, query, id, "mentor")
}

// FindStudentByID returns the student profile with the given id.
func (r *ProfileRepository) FindStudentByID(ctx context.Context, id string) (*models.Profile, error) {
	const query = `SELECT p.id, p.user_id, u.full_name FROM student_profiles p JOIN users u ON u.id = p.user_id WHERE p.id = $1`
	return r.find(ctx, query, id, "student")
}

func (r *ProfileRepository) find(ctx context.Context, query, id, kind string) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.GetContext(ctx, &profile, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find %s profile: %w", kind, err)
	}
	return &profile, nil
}
