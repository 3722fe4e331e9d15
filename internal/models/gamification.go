package models

import (
	"slices"
	"time"
)

// CalendarDate is a local calendar day in "2006-01-02" form. Streaks are
// calendar-based in the user's zone, not UTC-instant-based.
type CalendarDate string

// DateOf truncates t to its local calendar day.
func DateOf(t time.Time) CalendarDate {
	return CalendarDate(t.Format("2006-01-02"))
}

// AddDays returns the calendar day n days after d.
func (d CalendarDate) AddDays(n int) CalendarDate {
	t, err := time.ParseInLocation("2006-01-02", string(d), time.Local)
	if err != nil {
		return d
	}
	return DateOf(t.AddDate(0, 0, n))
}

// GamificationState is the derived points/streak/badge state. It is mutated
// only by the gamification engine and only in response to confirmed events;
// values never decrease except by explicit backend correction.
type GamificationState struct {
	Points         int          `json:"points"`
	StreakDays     int          `json:"streak_days"`
	LastActiveDate CalendarDate `json:"last_active_date"`
	Badges         []string     `json:"badges"`
}

// HasBadge reports whether the badge is already unlocked.
func (s *GamificationState) HasBadge(id string) bool {
	return slices.Contains(s.Badges, id)
}

// AddBadge unlocks a badge; already-unlocked badges are kept as-is.
func (s *GamificationState) AddBadge(id string) {
	if !s.HasBadge(id) {
		s.Badges = append(s.Badges, id)
	}
}

// Clone returns a deep copy safe to hand to observers.
func (s *GamificationState) Clone() GamificationState {
	out := *s
	out.Badges = slices.Clone(s.Badges)
	return out
}
