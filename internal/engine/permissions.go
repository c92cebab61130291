package engine

import (
	"sieve-backend/internal/metadata"
	"sieve-backend/internal/spec"
)

// ReadScope returns the row-level scope for a user reading an entity, or
// nil when no scoping applies. The result composes into query plans with
// And, so an unscoped entity costs nothing.
func ReadScope(user *metadata.UserContext, entity *metadata.Entity) spec.Specification {
	if entity.Ownership == "" {
		return nil
	}
	if user == nil || user.IsAdmin() {
		return nil
	}
	owner, id := entity.Ownership, user.ID
	return func(root spec.Root, q *spec.Query, b spec.Builder) spec.Predicate {
		return b.Compare(owner, spec.OpEq, id)
	}
}
