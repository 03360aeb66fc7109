package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/mentor-trust-api/internal/models"
	appErrors "github.com/noah-isme/mentor-trust-api/pkg/errors"
)

type credentialStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type reauthStore interface {
	Mark(ctx context.Context, userID string, at time.Time, window time.Duration) error
	Last(ctx context.Context, userID string) (time.Time, bool, error)
}

type auditAppender interface {
	Append(ctx context.Context, entry models.AuditEntry) (*models.AuditRecord, error)
}

// ReauthService confirms an admin's password before sensitive actions.
type ReauthService struct {
	users  credentialStore
	store  reauthStore
	audit  auditAppender
	window    time.Duration
	logger    *zap.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewReauthService constructs the service.
func NewReauthService(users credentialStore, store reauthStore, audit auditAppender, window time.Duration, logger *zap.Logger) *ReauthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &ReauthService{
		users:     users,
		store:     store,
		audit:     audit,
		window:    window,
		logger:    logger,
		validator: validator.New(),
		now:       time.Now,
	}
}

// Reauthenticate checks the password of actor and opens a re-auth window.
func (s *ReauthService) Reauthenticate(ctx context.Context, actor models.Actor, password string) (*models.ReauthResponse, error) {
	if strings.TrimSpace(password) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "password is required")
	}
	if err := s.validator.Struct(models.ReauthRequest{Password: password}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid password payload")
	}
	user, err := s.users.FindByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUnauthorized
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Banned {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account is banned")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("reauthentication failed", zap.String("user_id", actor.ID), zap.String("ip", actor.IPAddress))
		return nil, appErrors.ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.store.Mark(ctx, actor.ID, now, s.window); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record reauthentication")
	}
	if s.audit != nil {
		if _, err := s.audit.Append(ctx, models.AuditEntry{
			Actor:      actor,
			Action:     models.AuditActionReauthSuccess,
			TargetType: string(models.TargetSystem),
			TargetID:   actor.ID,
			TargetName: user.DisplayName(),
			RiskLevel:  models.RiskLow,
			Metadata:   map[string]interface{}{"windowSeconds": int64(s.window / time.Second)},
		}); err != nil {
			s.logger.Warn("failed to audit reauthentication", zap.Error(err))
		}
	}

	return &models.ReauthResponse{ReauthTimestamp: now.UnixMilli(), ExpiresIn: s.window.Milliseconds()}, nil
}

// LastReauth returns the caller's re-auth instant when it is still inside the window.
func (s *ReauthService) LastReauth(ctx context.Context, userID string) (*time.Time, error) {
	at, ok, err := s.store.Last(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok || s.now().Sub(at) > s.window {
		return nil, nil
	}
	return &at, nil
}
