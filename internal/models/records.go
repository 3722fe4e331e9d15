package models

import "time"

// Event is a church event the user can register for. Registration is an
// optimistic keyed update: the pending copy flips Registered and bumps the
// attendee count before the backend confirms.
type Event struct {
	Meta
	Title         string    `json:"title"`
	StartsAt      time.Time `json:"starts_at"`
	Location      string    `json:"location"`
	AttendeeCount int       `json:"attendee_count"`
	Registered    bool      `json:"registered"`
}

// PrayerRequest is a prayer submitted by a community member.
type PrayerRequest struct {
	Meta
	Author      string    `json:"author"`
	Body        string    `json:"body"`
	AmenCount   int       `json:"amen_count"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Notification is a server-generated notification; the only local mutation
// is marking it read.
type Notification struct {
	Meta
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// FriendRequestStatus enumerates the lifecycle of a friend request.
type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestDeclined FriendRequestStatus = "declined"
)

// FriendRequest links two users. Sending one is an optimistic create.
type FriendRequest struct {
	Meta
	FromUser string              `json:"from_user"`
	ToUser   string              `json:"to_user"`
	Status   FriendRequestStatus `json:"status"`
}

// CorrelatePrayerRequests returns a natural-key correlator for prayers: the
// same author submitting at (nearly) the same instant. Ids are deliberately
// excluded — the two records are in different id spaces by construction.
func CorrelatePrayerRequests(window time.Duration) func(pending, confirmed PrayerRequest) bool {
	return func(pending, confirmed PrayerRequest) bool {
		if pending.Author != confirmed.Author {
			return false
		}
		d := confirmed.SubmittedAt.Sub(pending.SubmittedAt)
		if d < 0 {
			d = -d
		}
		return d <= window
	}
}

// CorrelateFriendRequests matches on the (from, to) user pair.
func CorrelateFriendRequests(pending, confirmed FriendRequest) bool {
	return pending.FromUser == confirmed.FromUser && pending.ToUser == confirmed.ToUser
}
