package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/mentor-trust-api/internal/models"
)

// TargetResolver resolves display names of action targets through lookups
// registered per target type.
type TargetResolver struct {
	lookups map[models.TargetType]models.TargetLookup
	logger  *zap.Logger
}

// NewTargetResolver constructs an empty resolver.
func NewTargetResolver(logger *zap.Logger) *TargetResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TargetResolver{lookups: make(map[models.TargetType]models.TargetLookup), logger: logger}
}

// Register binds a lookup to a target type, replacing any previous one.
func (r *TargetResolver) Register(targetType models.TargetType, lookup models.TargetLookup) *TargetResolver {
	if lookup != nil {
		r.lookups[targetType] = lookup
	}
	return r
}

// Resolve returns the display name of the target, or "" when the type has no
// lookup or the lookup fails.
func (r *TargetResolver) Resolve(ctx context.Context, targetType models.TargetType, id string) string {
	if r == nil || strings.TrimSpace(id) == "" {
		return ""
	}
	lookup, ok := r.lookups[targetType]
	if !ok {
		return ""
	}
	entity, err := lookup.LookupNameable(ctx, id)
	if err != nil || entity == nil {
		if err != nil {
			r.logger.Debug("target name lookup failed", zap.String("target_type", string(targetType)), zap.String("target_id", id), zap.Error(err))
		}
		return ""
	}
	return entity.DisplayName()
}
