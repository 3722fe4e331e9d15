// Package models holds the domain records cached by the sync layer and the
// shared enums describing their lifecycle on the wire.
package models

import (
	"strings"

	"github.com/google/uuid"
)

// ConnState is the process-wide connection lifecycle state. Transitions are
// driven only by the transport manager.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reauthenticating
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reauthenticating:
		return "reauthenticating"
	default:
		return "unknown"
	}
}

// EntityKind tags which cache a record belongs to.
type EntityKind string

const (
	KindEvent         EntityKind = "event"
	KindPrayerRequest EntityKind = "prayer-request"
	KindNotification  EntityKind = "notification"
	KindFriendRequest EntityKind = "friend-request"
)

// KnownKind reports whether k is an entity kind this client understands.
// Unknown kinds are dropped, not rejected, for forward compatibility.
func KnownKind(k EntityKind) bool {
	switch k {
	case KindEvent, KindPrayerRequest, KindNotification, KindFriendRequest:
		return true
	}
	return false
}

// Operation is the server-side mutation carried by a push frame.
// OpResyncComplete terminates a resync replay for one entity kind.
type Operation string

const (
	OpCreated        Operation = "created"
	OpUpdated        Operation = "updated"
	OpDeleted        Operation = "deleted"
	OpResyncComplete Operation = "resync-complete"
)

// KnownOperation reports whether op is understood by this client.
func KnownOperation(op Operation) bool {
	switch op {
	case OpCreated, OpUpdated, OpDeleted, OpResyncComplete:
		return true
	}
	return false
}

// Origin distinguishes records the user created optimistically from records
// the backend has confirmed.
type Origin string

const (
	OriginLocalPending    Origin = "local-pending"
	OriginServerConfirmed Origin = "server-confirmed"
)

const localIDPrefix = "local-"

// NewLocalID returns a fresh client-temporary record id. The prefix keeps
// the two id spaces distinguishable until the server id is known.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id belongs to the client-temporary id space.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// Record is the generic shape shared by every cached domain record.
//
// Rev is the server revision marker in unix milliseconds; it is zero for
// local-pending records, which use the pending origin as their logical
// revision marker instead.
type Record interface {
	Key() string
	Rev() int64
	RecOrigin() Origin
}

// Meta carries the identity, revision, and origin of a record. Concrete
// records embed it to satisfy Record.
type Meta struct {
	ID       string `json:"id"`
	Revision int64  `json:"revision"`
	Origin   Origin `json:"origin"`
}

func (m Meta) Key() string       { return m.ID }
func (m Meta) Rev() int64        { return m.Revision }
func (m Meta) RecOrigin() Origin { return m.Origin }
