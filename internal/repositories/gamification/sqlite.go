package gamification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

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

func (r *SQLiteRepository) Load(ctx context.Context, identity string) (models.GamificationState, bool, error) {
	var st models.GamificationState

	query := `SELECT points, streak_days, last_active_date, badges, dirty FROM gamification WHERE identity = ?`

	var badges string
	var dirty int
	err := r.db.QueryRowContext(ctx, query, identity).
		Scan(&st.Points, &st.StreakDays, &st.LastActiveDate, &badges, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GamificationState{}, false, nil
	}
	if err != nil {
		return st, false, fmt.Errorf("failed to load gamification state: %w", err)
	}

	if err := json.Unmarshal([]byte(badges), &st.Badges); err != nil {
		return st, false, fmt.Errorf("failed to decode badges: %w", err)
	}
	return st, dirty != 0, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, identity string, st models.GamificationState, dirty bool) error {
	badges, err := json.Marshal(st.Badges)
	if err != nil {
		return fmt.Errorf("failed to encode badges: %w", err)
	}
	if st.Badges == nil {
		badges = []byte("[]")
	}

	query := `INSERT INTO gamification (identity, points, streak_days, last_active_date, badges, dirty)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(identity) DO UPDATE SET points = excluded.points,
				streak_days = excluded.streak_days,
				last_active_date = excluded.last_active_date,
				badges = excluded.badges,
				dirty = excluded.dirty
	`
	d := 0
	if dirty {
		d = 1
	}
	_, err = r.db.ExecContext(ctx, query,
		identity, st.Points, st.StreakDays, string(st.LastActiveDate), string(badges), d)
	if err != nil {
		return fmt.Errorf("failed to upsert gamification state: %w", err)
	}
	return nil
}
