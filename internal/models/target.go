package models

import "context"

// TargetType tags the kind of entity an administrative action points at.
type TargetType string

const (
	TargetUser         TargetType = "user"
	TargetMentor       TargetType = "mentor"
	TargetStudent      TargetType = "student"
	TargetSession      TargetType = "session"
	TargetConnection   TargetType = "connection"
	TargetNotification TargetType = "notification"
	TargetSystem       TargetType = "system"
	TargetBulk         TargetType = "bulk"
	TargetPending      TargetType = "pending"
)

// Valid reports whether callers may submit requests against this target type.
func (t TargetType) Valid() bool {
	switch t {
	case TargetUser, TargetMentor, TargetStudent, TargetSession, TargetConnection,
		TargetNotification, TargetSystem, TargetBulk:
		return true
	}
	return false
}

// Nameable is implemented by every entity that can appear as an action target.
type Nameable interface {
	DisplayName() string
}

// TargetLookup loads a Nameable entity of one target type by id.
type TargetLookup interface {
	LookupNameable(ctx context.Context, id string) (Nameable, error)
}

// TargetLookupFunc adapts a function into a TargetLookup.
type TargetLookupFunc func(ctx context.Context, id string) (Nameable, error)

// LookupNameable implements TargetLookup.
func (f TargetLookupFunc) LookupNameable(ctx context.Context, id string) (Nameable, error) {
	return f(ctx, id)
}
