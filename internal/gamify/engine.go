// Package gamify derives points, streaks, and badges from confirmed user
// actions. Optimistic (local-pending) activity never reaches this engine:
// awarding points for an action that ultimately fails is worse than
// awarding them a second late.
package gamify

import (
	"context"
	"sync"
	"time"

	"github.com/Akintomiwa200/aagc-sub000/internal/logging"
	"github.com/Akintomiwa200/aagc-sub000/internal/models"
	"github.com/Akintomiwa200/aagc-sub000/internal/repositories/gamification"
	"github.com/Akintomiwa200/aagc-sub000/internal/transport"
)

// Action is a confirmed, point-bearing user action.
type Action string

const (
	ActionPrayerConfirmed Action = "prayer-confirmed"
	ActionEventRegistered Action = "event-registered"
	ActionDevotionalRead  Action = "devotional-read"
	ActionFriendAccepted  Action = "friend-accepted"
)

// pointValues is the fixed point table. Unknown actions award nothing.
var pointValues = map[Action]int{
	ActionPrayerConfirmed: 20,
	ActionEventRegistered: 30,
	ActionDevotionalRead:  10,
	ActionFriendAccepted:  15,
}

// Badge pairs a badge id with the cumulative point threshold unlocking it.
type Badge struct {
	ID        string
	Threshold int
}

// badgeTable is ordered ascending by threshold; the scan after a point
// change walks it in order and unlocks everything newly reached.
var badgeTable = []Badge{
	{ID: "first-steps", Threshold: 50},
	{ID: "faithful-100", Threshold: 100},
	{ID: "devoted-250", Threshold: 250},
	{ID: "pillar-500", Threshold: 500},
	{ID: "shepherd-1000", Threshold: 1000},
}

// Publisher mirrors state changes to the backend. Satisfied by
// *transport.Manager.
type Publisher interface {
	Publish(ctx context.Context, cmd transport.Command) error
}

// Engine owns one identity's gamification state. State changes persist
// locally before the method returns; the backend mirror is fire-and-forget
// with retry on the next change.
type Engine struct {
	identity string
	repo     gamification.Repository
	pub      Publisher
	log      logging.Logger
	now      func() time.Time

	mu    sync.Mutex
	state models.GamificationState
	dirty bool // last mirror push failed; retry on next change
}

// New constructs an engine for the given identity.
func New(identity string, repo gamification.Repository, pub Publisher, log logging.Logger) *Engine {
	return &Engine{
		identity: identity,
		repo:     repo,
		pub:      pub,
		log:      log.With("module", "gamify", "identity", identity),
		now:      time.Now,
	}
}

// Load restores the persisted state for this identity. A missing row means
// a first session and starts from zero.
func (e *Engine) Load(ctx context.Context) error {
	st, dirty, err := e.repo.Load(ctx, e.identity)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.state = st
	e.dirty = dirty
	e.mu.Unlock()

	if dirty {
		e.push(st)
	}
	return nil
}

// State returns a copy of the current state.
func (e *Engine) State() models.GamificationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Award applies one confirmed action: points, then the daily streak touch,
// then the badge scan. Unknown actions are ignored.
func (e *Engine) Award(ctx context.Context, action Action) {
	pts, ok := pointValues[action]
	if !ok {
		e.log.Warn(ctx, "ignoring unknown action", "action", string(action))
		return
	}

	e.mu.Lock()
	e.touchStreakLocked()
	e.state.Points += pts
	e.unlockBadgesLocked(ctx)
	st := e.state.Clone()
	e.persistLocked(ctx, st)
	e.mu.Unlock()

	e.log.Debug(ctx, "action awarded", "action", string(action), "points", st.Points, "streak", st.StreakDays)
	e.push(st)
}

// ApplyCorrection overwrites local state with a backend-issued correction.
// This is the only path on which values may decrease.
func (e *Engine) ApplyCorrection(ctx context.Context, corrected models.GamificationState) {
	e.mu.Lock()
	e.state = corrected.Clone()
	st := e.state.Clone()
	e.persistLocked(ctx, st)
	e.mu.Unlock()

	e.log.Info(ctx, "applied backend correction", "points", st.Points)
}

// Reset drops the in-memory state on logout. The persisted row stays for
// the identity's next session.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = models.GamificationState{}
	e.dirty = false
}

// touchStreakLocked runs the at-most-once-per-day streak update against the
// user's local calendar.
func (e *Engine) touchStreakLocked() {
	today := models.DateOf(e.now())
	last := e.state.LastActiveDate

	switch {
	case last == today:
		return
	case last != "" && last.AddDays(1) == today:
		e.state.StreakDays++
	default:
		e.state.StreakDays = 1
	}
	e.state.LastActiveDate = today
}

func (e *Engine) unlockBadgesLocked(ctx context.Context) {
	for _, b := range badgeTable {
		if e.state.Points < b.Threshold {
			break
		}
		if !e.state.HasBadge(b.ID) {
			e.state.AddBadge(b.ID)
			e.log.Info(ctx, "badge unlocked", "badge", b.ID, "points", e.state.Points)
		}
	}
}

// persistLocked saves synchronously with the dirty flag set: the mirror
// push has not happened yet. A crash before the push only costs one
// redundant push next session.
func (e *Engine) persistLocked(ctx context.Context, st models.GamificationState) {
	if err := e.repo.Save(ctx, e.identity, st, true); err != nil {
		e.log.Error(ctx, "persisting gamification state failed", "error", err)
	}
}

// push mirrors the state to the backend without blocking the caller.
func (e *Engine) push(st models.GamificationState) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := e.pub.Publish(ctx, transport.Command{Op: "gamification", Payload: st})

		e.mu.Lock()
		e.dirty = err != nil
		if err == nil {
			cur := e.state.Clone()
			if serr := e.repo.Save(ctx, e.identity, cur, false); serr != nil {
				e.log.Error(ctx, "clearing dirty flag failed", "error", serr)
			}
		}
		e.mu.Unlock()

		if err != nil {
			e.log.Warn(ctx, "mirroring gamification state failed, will retry on next change", "error", err)
		}
	}()
}
