package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Akintomiwa200/aagc-sub000/internal/common"
	"github.com/Akintomiwa200/aagc-sub000/internal/dbx"
	"github.com/Akintomiwa200/aagc-sub000/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save upserts the snapshot for one (identity, kind).
func (r *SQLiteRepository) Save(ctx context.Context, identity string, kind models.EntityKind, payload []byte) error {
	query := `INSERT INTO snapshots (identity, kind, payload, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(identity, kind) DO UPDATE SET payload = excluded.payload,
				updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, identity, string(kind), payload, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot payload.
func (r *SQLiteRepository) Load(ctx context.Context, identity string, kind models.EntityKind) ([]byte, error) {
	query := `SELECT payload FROM snapshots WHERE identity = ? AND kind = ?`

	var payload []byte
	err := r.db.QueryRowContext(ctx, query, identity, string(kind)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return payload, nil
}

// Clear removes all snapshots for an identity, e.g. on logout.
func (r *SQLiteRepository) Clear(ctx context.Context, identity string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return nil
}
