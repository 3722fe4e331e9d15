// Package gamification persists per-identity gamification state in the
// local database.
package gamification

import (
	"context"

	"github.com/Akintomiwa200/aagc-sub000/internal/models"
)

// Repository stores one GamificationState row per identity.
//
// Load returns a zero state (not an error) for identities without a row —
// a first authenticated session starts from nothing. The dirty flag marks
// states whose backend mirror push has not yet succeeded.
type Repository interface {
	Load(ctx context.Context, identity string) (models.GamificationState, bool, error)
	Save(ctx context.Context, identity string, st models.GamificationState, dirty bool) error
}
