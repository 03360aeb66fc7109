package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// ReauthRequest carries the password used to confirm a sensitive action.
type ReauthRequest struct {
	Password string `json:"password" validate:"required,max=1024"`
}

// ReauthResponse reports the recorded re-authentication instant.
type ReauthResponse struct {
	ReauthTimestamp int64 `json:"reauthTimestamp"`
	ExpiresIn       int64 `json:"expiresIn"`
}

// JWTClaims represents the JWT payload issued by the platform auth service.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Actor identifies the principal behind an administrative call together with
// the request metadata captured on audit records.
type Actor struct {
	ID        string
	Name      string
	Role      UserRole
	IPAddress string
	UserAgent string
	RequestID string
}

// SystemActor is used for transitions performed by background jobs.
func SystemActor() Actor {
	return Actor{ID: "system", Name: "system", IPAddress: "system", UserAgent: "trust-sweeper"}
}
