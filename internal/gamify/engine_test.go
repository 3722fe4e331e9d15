package gamify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akintomiwa200/aagc-sub000/internal/logging"
	"github.com/Akintomiwa200/aagc-sub000/internal/models"
	"github.com/Akintomiwa200/aagc-sub000/internal/transport"
)

type fakeRepo struct {
	mu    sync.Mutex
	state models.GamificationState
	dirty bool
	saved int
	err   error
}

func (r *fakeRepo) Load(_ context.Context, _ string) (models.GamificationState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone(), r.dirty, r.err
}

func (r *fakeRepo) Save(_ context.Context, _ string, st models.GamificationState, dirty bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.state = st.Clone()
	r.dirty = dirty
	r.saved++
	return nil
}

func (r *fakeRepo) snapshot() (models.GamificationState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone(), r.dirty
}

type fakePublisher struct {
	mu   sync.Mutex
	cmds []transport.Command
	err  error
	done chan struct{}
}

func newFakePublisher(err error) *fakePublisher {
	return &fakePublisher{err: err, done: make(chan struct{}, 16)}
}

func (p *fakePublisher) Publish(_ context.Context, cmd transport.Command) error {
	p.mu.Lock()
	p.cmds = append(p.cmds, cmd)
	p.mu.Unlock()
	p.done <- struct{}{}
	return p.err
}

func (p *fakePublisher) wait(t *testing.T) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mirror push")
	}
}

func (p *fakePublisher) commands() []transport.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]transport.Command(nil), p.cmds...)
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestEngine(t *testing.T, repo *fakeRepo, pub *fakePublisher, at time.Time) *Engine {
	t.Helper()
	e := New("user-1", repo, pub, testLogger())
	e.now = func() time.Time { return at }
	require.NoError(t, e.Load(context.Background()))
	return e
}

func TestAward_PointsAccumulate(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(nil)
	e := newTestEngine(t, repo, pub, time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local))

	e.Award(context.Background(), ActionDevotionalRead)
	e.Award(context.Background(), ActionEventRegistered)

	st := e.State()
	assert.Equal(t, 40, st.Points)
	assert.Equal(t, 1, st.StreakDays)
	assert.Equal(t, models.CalendarDate("2026-03-10"), st.LastActiveDate)
}

func TestAward_UnknownActionIsNoOp(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(nil)
	e := newTestEngine(t, repo, pub, time.Now())

	e.Award(context.Background(), Action("selfie-taken"))

	assert.Zero(t, e.State().Points)
	assert.Zero(t, repo.saved)
	assert.Empty(t, pub.commands())
}

func TestStreak_SameDayCountsOnce(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(nil)
	day := time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)
	e := newTestEngine(t, repo, pub, day)

	e.Award(context.Background(), ActionDevotionalRead)
	e.now = func() time.Time { return day.Add(14 * time.Hour) } // 22:00, same day
	e.Award(context.Background(), ActionPrayerConfirmed)

	assert.Equal(t, 1, e.State().StreakDays)
}

func TestStreak_ConsecutiveDaysIncrement(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(nil)
	day := time.Date(2026, 3, 10, 23, 50, 0, 0, time.Local)
	e := newTestEngine(t, repo, pub, day)

	e.Award(context.Background(), ActionDevotionalRead)
	e.now = func() time.Time { return day.Add(20 * time.Minute) } // 00:10 next day
	e.Award(context.Background(), ActionDevotionalRead)

	st := e.State()
	assert.Equal(t, 2, st.StreakDays)
	assert.Equal(t, models.CalendarDate("2026-03-11"), st.LastActiveDate)
}

func TestStreak_GapResetsToOne(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(nil)
	day := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	e := newTestEngine(t, repo, pub, day)

	e.Award(context.Background(), ActionDevotionalRead)
	e.Award(context.Background(), ActionDevotionalRead)
	e.now = func() time.Time { return day.AddDate(0, 0, 3) }
	e.Award(context.Background(), ActionDevotionalRead)

	assert.Equal(t, 1, e.State().StreakDays)
}

func TestBadges_UnlockInOrderAndStick(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(nil)
	e := newTestEngine(t, repo, pub, time.Now())

	// 2x event-registered = 60 points, past the first threshold.
	e.Award(context.Background(), ActionEventRegistered)
	e.Award(context.Background(), ActionEventRegistered)

	st := e.State()
	assert.True(t, st.HasBadge("first-steps"))
	assert.False(t, st.HasBadge("faithful-100"))

	// Push past 100.
	e.Award(context.Background(), ActionEventRegistered)
	e.Award(context.Background(), ActionEventRegistered)

	st = e.State()
	assert.True(t, st.HasBadge("faithful-100"))
	assert.Equal(t, []string{"first-steps", "faithful-100"}, st.Badges)
}

func TestBadges_CorrectionNeverRevokes(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(nil)
	e := newTestEngine(t, repo, pub, time.Now())

	e.Award(context.Background(), ActionEventRegistered)
	e.Award(context.Background(), ActionEventRegistered)
	preState := e.State()
	require.True(t, preState.HasBadge("first-steps"))

	// The backend correction carries whatever badge set the backend holds;
	// the engine takes it verbatim, so a correction below the threshold that
	// still lists the badge keeps it.
	e.ApplyCorrection(context.Background(), models.GamificationState{
		Points: 40, StreakDays: 1, Badges: []string{"first-steps"},
	})

	st := e.State()
	assert.Equal(t, 40, st.Points)
	assert.True(t, st.HasBadge("first-steps"))
}

func TestTwoDayDevotionalRun(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(nil)
	day := time.Date(2026, 3, 10, 7, 0, 0, 0, time.Local)
	e := newTestEngine(t, repo, pub, day)

	e.Award(context.Background(), ActionDevotionalRead)
	e.now = func() time.Time { return day.AddDate(0, 0, 1) }
	e.Award(context.Background(), ActionDevotionalRead)
	e.Award(context.Background(), ActionPrayerConfirmed)
	e.Award(context.Background(), ActionEventRegistered)

	st := e.State()
	assert.Equal(t, 70, st.Points)
	assert.Equal(t, 2, st.StreakDays)
	assert.True(t, st.HasBadge("first-steps"))
}

func TestAward_PersistsBeforeReturn(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(nil)
	e := newTestEngine(t, repo, pub, time.Now())

	e.Award(context.Background(), ActionPrayerConfirmed)

	st, _ := repo.snapshot()
	assert.Equal(t, 20, st.Points)
}

func TestAward_MirrorPushClearsDirtyFlag(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(nil)
	e := newTestEngine(t, repo, pub, time.Now())

	e.Award(context.Background(), ActionPrayerConfirmed)
	pub.wait(t)

	require.Eventually(t, func() bool {
		_, dirty := repo.snapshot()
		return !dirty
	}, 2*time.Second, 10*time.Millisecond)

	cmds := pub.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "gamification", cmds[0].Op)
	pushed, ok := cmds[0].Payload.(models.GamificationState)
	require.True(t, ok)
	assert.Equal(t, 20, pushed.Points)
}

func TestAward_FailedPushStaysDirtyAndRetriesOnLoad(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(errors.New("broker down"))
	e := newTestEngine(t, repo, pub, time.Now())

	e.Award(context.Background(), ActionPrayerConfirmed)
	pub.wait(t)

	_, dirty := repo.snapshot()
	assert.True(t, dirty)

	// A fresh engine over the same repo re-pushes the dirty state on Load.
	pub2 := newFakePublisher(nil)
	e2 := New("user-1", repo, pub2, testLogger())
	require.NoError(t, e2.Load(context.Background()))
	pub2.wait(t)

	require.Eventually(t, func() bool {
		_, d := repo.snapshot()
		return !d
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 20, e2.State().Points)
}

func TestReset_DropsMemoryKeepsRow(t *testing.T) {
	repo := &fakeRepo{}
	pub := newFakePublisher(nil)
	e := newTestEngine(t, repo, pub, time.Now())

	e.Award(context.Background(), ActionEventRegistered)
	e.Reset()

	assert.Zero(t, e.State().Points)
	st, _ := repo.snapshot()
	assert.Equal(t, 30, st.Points, "logout must not erase the persisted row")
}
