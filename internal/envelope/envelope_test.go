package envelope

import (
	"errors"
	"testing"

	"github.com/Akintomiwa200/aagc-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Valid(t *testing.T) {
	frame := []byte(`{
		"entity_kind": "prayer-request",
		"operation": "created",
		"revision": 1700000000000,
		"payload": {"id": "srv-42", "author": "user-1", "body": "for healing", "submitted_at": "2026-08-27T10:00:00Z"}
	}`)

	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, models.KindPrayerRequest, env.Kind)
	assert.Equal(t, models.OpCreated, env.Op)

	rec, err := env.PrayerRequestRecord()
	require.NoError(t, err)
	assert.Equal(t, "srv-42", rec.ID)
	assert.Equal(t, models.OriginServerConfirmed, rec.Origin)
	assert.Equal(t, int64(1700000000000), rec.Revision, "revision inherited from envelope")
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{{{`},
		{"missing kind", `{"operation": "created", "payload": {"id": "x"}}`},
		{"missing operation", `{"entity_kind": "event", "payload": {"id": "x"}}`},
		{"created without payload", `{"entity_kind": "event", "operation": "created"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			require.Error(t, err)
			var de *DecodeError
			assert.True(t, errors.As(err, &de))
		})
	}
}

func TestDecode_UnknownKindAndOp(t *testing.T) {
	_, err := Decode([]byte(`{"entity_kind": "sermon-series", "operation": "created", "payload": {"id": "x"}}`))
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode([]byte(`{"entity_kind": "event", "operation": "archived", "payload": {"id": "x"}}`))
	require.ErrorIs(t, err, ErrUnknownOp)
}

func TestDecode_ResyncCompleteNeedsNoPayload(t *testing.T) {
	env, err := Decode([]byte(`{"entity_kind": "friend-request", "operation": "resync-complete"}`))
	require.NoError(t, err)
	assert.Equal(t, models.OpResyncComplete, env.Op)
}

func TestRecordDecoding_RequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		get   func(*Envelope) error
	}{
		{
			"event without title",
			`{"entity_kind": "event", "operation": "created", "revision": 1, "payload": {"id": "e1"}}`,
			func(e *Envelope) error { _, err := e.EventRecord(); return err },
		},
		{
			"prayer without author",
			`{"entity_kind": "prayer-request", "operation": "created", "revision": 1, "payload": {"id": "p1", "body": "b"}}`,
			func(e *Envelope) error { _, err := e.PrayerRequestRecord(); return err },
		},
		{
			"notification without id",
			`{"entity_kind": "notification", "operation": "created", "revision": 1, "payload": {"title": "hi"}}`,
			func(e *Envelope) error { _, err := e.NotificationRecord(); return err },
		},
		{
			"friend request without target",
			`{"entity_kind": "friend-request", "operation": "created", "revision": 1, "payload": {"id": "f1", "from_user": "me"}}`,
			func(e *Envelope) error { _, err := e.FriendRequestRecord(); return err },
		},
		{
			"created without any revision",
			`{"entity_kind": "event", "operation": "created", "payload": {"id": "e1", "title": "Easter"}}`,
			func(e *Envelope) error { _, err := e.EventRecord(); return err },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			require.Error(t, tt.get(env))
		})
	}
}

func TestDeletedKey(t *testing.T) {
	env, err := Decode([]byte(`{"entity_kind": "notification", "operation": "deleted", "payload": {"id": "n9"}}`))
	require.NoError(t, err)

	id, err := env.DeletedKey()
	require.NoError(t, err)
	assert.Equal(t, "n9", id)

	env, err = Decode([]byte(`{"entity_kind": "notification", "operation": "deleted", "payload": {}}`))
	require.NoError(t, err)
	_, err = env.DeletedKey()
	require.Error(t, err)
}
