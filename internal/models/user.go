package models

import "time"

// UserRole represents the available roles on the mentorship platform.
type UserRole string

const (
	RoleSuperAdmin UserRole = "superadmin"
	RoleAdmin      UserRole = "admin"
	RoleMentor     UserRole = "mentor"
	RoleStudent    UserRole = "student"
)

// User represents a platform account stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"fullName"`
	Role         UserRole   `db:"role" json:"role"`
	Verified     bool       `db:"is_verified" json:"isVerified"`
	Banned       bool       `db:"is_banned" json:"isBanned"`
	BannedAt     *time.Time `db:"banned_at" json:"bannedAt,omitempty"`
	BanReason    *string    `db:"ban_reason" json:"banReason,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

// DisplayName implements Nameable.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}

// Profile is a mentor or student profile joined with its owning user.
type Profile struct {
	ID       string `db:"id" json:"id"`
	UserID   string `db:"user_id" json:"userId"`
	FullName string `db:"full_name" json:"fullName"`
}

// DisplayName implements Nameable.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	return p.FullName
}

// Pagination describes paging metadata.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
}
