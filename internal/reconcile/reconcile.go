// Package reconcile holds the pure decision rules the entity stores use to
// merge locally-originated optimistic records with server-confirmed ones.
// Correlation by natural key is entity-specific and lives with the models;
// everything here is generic over models.Record.
package reconcile

import "github.com/Akintomiwa200/aagc-sub000/internal/models"

// Supersedes reports whether incoming should replace existing when both
// represent the same logical entity.
//
// Rules, in order: a server-confirmed record always beats a local-pending
// one; a pending record never beats a confirmed one; among two confirmed
// records the newer revision wins and a tie keeps the existing record
// (first-writer-stable).
func Supersedes(existing, incoming models.Record) bool {
	if existing.RecOrigin() == models.OriginLocalPending {
		return incoming.RecOrigin() == models.OriginServerConfirmed
	}
	if incoming.RecOrigin() == models.OriginLocalPending {
		return false
	}
	return incoming.Rev() > existing.Rev()
}

// IsDuplicate reports whether incoming is a redelivery of existing: same id
// with a revision marker not newer than what is stored. Applying a
// duplicate must be a no-op.
func IsDuplicate(existing, incoming models.Record) bool {
	if existing.Key() != incoming.Key() {
		return false
	}
	if existing.RecOrigin() == models.OriginLocalPending {
		// A confirmed record under a pending id cannot happen (different id
		// spaces), so same-key means a repeated local write.
		return incoming.RecOrigin() == models.OriginLocalPending
	}
	return incoming.Rev() <= existing.Rev()
}
