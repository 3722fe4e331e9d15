// Package envelope validates and classifies inbound push frames into typed
// domain records. Malformed frames are reported, never coerced into
// zero-value records; unknown kinds and operations are distinguishable so
// the dispatcher can drop them without failing.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Akintomiwa200/aagc-sub000/internal/models"
)

var (
	// ErrUnknownKind marks a frame for an entity kind this client does not
	// understand. Dropped for forward compatibility, never fatal.
	ErrUnknownKind = errors.New("unknown entity kind")

	// ErrUnknownOp marks a frame with an operation this client does not
	// understand. Dropped for forward compatibility, never fatal.
	ErrUnknownOp = errors.New("unknown operation")
)

// DecodeError describes a frame that could not be turned into a domain
// record. It wraps the underlying cause so errors.Is works against the
// sentinels above.
type DecodeError struct {
	Reason string
	cause  error
}

func (e *DecodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.cause)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.cause }

func decodeErr(reason string, cause error) *DecodeError {
	return &DecodeError{Reason: reason, cause: cause}
}

// Envelope is the classified form of one push frame.
type Envelope struct {
	Kind     models.EntityKind `json:"entity_kind"`
	Op       models.Operation  `json:"operation"`
	Revision int64             `json:"revision"`
	Payload  json.RawMessage   `json:"payload"`
}

// Decode parses and validates one raw frame. The returned error is always a
// *DecodeError; callers log it and drop the frame.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, decodeErr("malformed frame", err)
	}
	if env.Kind == "" {
		return nil, decodeErr("missing entity kind tag", nil)
	}
	if env.Op == "" {
		return nil, decodeErr("missing operation tag", nil)
	}
	if !models.KnownKind(env.Kind) {
		return nil, decodeErr(fmt.Sprintf("kind %q", env.Kind), ErrUnknownKind)
	}
	if !models.KnownOperation(env.Op) {
		return nil, decodeErr(fmt.Sprintf("operation %q", env.Op), ErrUnknownOp)
	}
	if needsPayload(env.Op) && len(env.Payload) == 0 {
		return nil, decodeErr(fmt.Sprintf("%s %s frame without payload", env.Kind, env.Op), nil)
	}
	return &env, nil
}

func needsPayload(op models.Operation) bool {
	return op == models.OpCreated || op == models.OpUpdated || op == models.OpDeleted
}

// DeletedKey extracts the record id from a deleted frame's payload.
func (e *Envelope) DeletedKey() (string, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return "", decodeErr("malformed deleted payload", err)
	}
	if p.ID == "" {
		return "", decodeErr("deleted payload without id", nil)
	}
	return p.ID, nil
}

// confirm stamps the wire payload's metadata: records arriving on the push
// channel are server-confirmed by definition, and a payload missing its own
// revision inherits the envelope's.
func (e *Envelope) confirm(m *models.Meta) error {
	if m.ID == "" {
		return decodeErr(fmt.Sprintf("%s payload without id", e.Kind), nil)
	}
	if m.Revision == 0 {
		m.Revision = e.Revision
	}
	if m.Revision == 0 {
		return decodeErr(fmt.Sprintf("%s payload without revision", e.Kind), nil)
	}
	m.Origin = models.OriginServerConfirmed
	return nil
}

// EventRecord decodes the payload as an Event.
func (e *Envelope) EventRecord() (models.Event, error) {
	var rec models.Event
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		return rec, decodeErr("malformed event payload", err)
	}
	if rec.Title == "" {
		return rec, decodeErr("event payload without title", nil)
	}
	if err := e.confirm(&rec.Meta); err != nil {
		return rec, err
	}
	return rec, nil
}

// PrayerRequestRecord decodes the payload as a PrayerRequest.
func (e *Envelope) PrayerRequestRecord() (models.PrayerRequest, error) {
	var rec models.PrayerRequest
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		return rec, decodeErr("malformed prayer-request payload", err)
	}
	if rec.Author == "" {
		return rec, decodeErr("prayer-request payload without author", nil)
	}
	if err := e.confirm(&rec.Meta); err != nil {
		return rec, err
	}
	return rec, nil
}

// NotificationRecord decodes the payload as a Notification.
func (e *Envelope) NotificationRecord() (models.Notification, error) {
	var rec models.Notification
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		return rec, decodeErr("malformed notification payload", err)
	}
	if rec.Title == "" {
		return rec, decodeErr("notification payload without title", nil)
	}
	if err := e.confirm(&rec.Meta); err != nil {
		return rec, err
	}
	return rec, nil
}

// FriendRequestRecord decodes the payload as a FriendRequest.
func (e *Envelope) FriendRequestRecord() (models.FriendRequest, error) {
	var rec models.FriendRequest
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		return rec, decodeErr("malformed friend-request payload", err)
	}
	if rec.FromUser == "" || rec.ToUser == "" {
		return rec, decodeErr("friend-request payload without user pair", nil)
	}
	if err := e.confirm(&rec.Meta); err != nil {
		return rec, err
	}
	return rec, nil
}
