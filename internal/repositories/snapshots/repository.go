// Package snapshots persists each entity store's last-known contents so the
// UI has immediate (possibly stale) data at process start, before the first
// resync completes.
package snapshots

import (
	"context"

	"github.com/Akintomiwa200/aagc-sub000/internal/models"
)

// Repository stores one JSON snapshot per (identity, entity kind).
// Load returns common.ErrorNotFound when no snapshot exists yet.
type Repository interface {
	Save(ctx context.Context, identity string, kind models.EntityKind, payload []byte) error
	Load(ctx context.Context, identity string, kind models.EntityKind) ([]byte, error)
	Clear(ctx context.Context, identity string) error
}
