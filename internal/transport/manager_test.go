package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akintomiwa200/aagc-sub000/internal/common"
	"github.com/Akintomiwa200/aagc-sub000/internal/logging"
	"github.com/Akintomiwa200/aagc-sub000/internal/models"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig(addr string) Config {
	return Config{
		RedisURL:             "redis://" + addr,
		ReconnectBase:        10 * time.Millisecond,
		ReconnectCap:         50 * time.Millisecond,
		ReconnectMaxAttempts: 3,
	}
}

type frameSink struct {
	mu     sync.Mutex
	frames []string
}

func (f *frameSink) handle(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, string(frame))
}

func (f *frameSink) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

func TestStart_ConnectsAndDeliversFramesInOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireUserAuth("user-1", "token")

	m := New(testConfig(mr.Addr()), testLogger())
	sink := &frameSink{}
	m.OnFrame(sink.handle)

	require.NoError(t, m.Start(context.Background(), "user-1", "token"))
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.State() == models.Connected
	}, 2*time.Second, 10*time.Millisecond)

	mr.Publish(common.PushChannelPrefix+"user-1", `{"n":1}`)
	mr.Publish(common.PushChannelPrefix+"user-1", `{"n":2}`)
	mr.Publish(common.PushChannelPrefix+"user-1", `{"n":3}`)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, sink.snapshot())
}

func TestStart_EmitsResyncRequest(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireUserAuth("user-1", "token")

	// Listen on the command channel the way the backend would.
	backend := redis.NewClient(&redis.Options{Addr: mr.Addr(), Username: "user-1", Password: "token"})
	defer backend.Close()
	sub := backend.Subscribe(context.Background(), common.CommandChannelPrefix+"user-1")
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	m := New(testConfig(mr.Addr()), testLogger())
	require.NoError(t, m.Start(context.Background(), "user-1", "token"))
	defer m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &cmd))
	assert.Equal(t, "resync", cmd.Op)
}

func TestStart_BadCredentialGoesReauthenticating(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireUserAuth("user-1", "good-token")

	m := New(testConfig(mr.Addr()), testLogger())
	authExpired := make(chan struct{}, 1)
	m.OnAuthExpired(func() { authExpired <- struct{}{} })

	require.NoError(t, m.Start(context.Background(), "user-1", "revoked-token"))
	defer m.Stop()

	select {
	case <-authExpired:
	case <-time.After(2 * time.Second):
		t.Fatal("auth-expired signal never fired")
	}
	assert.Equal(t, models.Reauthenticating, m.State())
}

func TestStart_UnreachableEndpointSurfacesPersistentFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close() // nothing is listening anymore

	m := New(testConfig(addr), testLogger())
	failed := make(chan error, 1)
	m.OnPersistentFailure(func(err error) { failed <- err })

	require.NoError(t, m.Start(context.Background(), "user-1", "token"))
	defer m.Stop()

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, common.ErrReconnectExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("persistent-failure signal never fired")
	}
	assert.Equal(t, models.Disconnected, m.State())
}

func TestStop_NoFramesAfterReturn(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireUserAuth("user-1", "token")

	m := New(testConfig(mr.Addr()), testLogger())
	sink := &frameSink{}
	m.OnFrame(sink.handle)

	require.NoError(t, m.Start(context.Background(), "user-1", "token"))
	require.Eventually(t, func() bool {
		return m.State() == models.Connected
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	assert.Equal(t, models.Disconnected, m.State())

	mr.Publish(common.PushChannelPrefix+"user-1", `{"late":true}`)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sink.snapshot())
}

func TestStart_Twice(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireUserAuth("user-1", "token")

	m := New(testConfig(mr.Addr()), testLogger())
	require.NoError(t, m.Start(context.Background(), "user-1", "token"))
	defer m.Stop()

	assert.ErrorIs(t, m.Start(context.Background(), "user-1", "token"), ErrAlreadyStarted)
}

func TestPublish_WhileDisconnected(t *testing.T) {
	mr := miniredis.RunT(t)

	m := New(testConfig(mr.Addr()), testLogger())
	err := m.Publish(context.Background(), Command{Op: "resync"})
	assert.ErrorIs(t, err, common.ErrNotConnected)
}

func TestPublish_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireUserAuth("user-1", "token")

	backend := redis.NewClient(&redis.Options{Addr: mr.Addr(), Username: "user-1", Password: "token"})
	defer backend.Close()
	sub := backend.Subscribe(context.Background(), common.CommandChannelPrefix+"user-1")
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	m := New(testConfig(mr.Addr()), testLogger())
	require.NoError(t, m.Start(context.Background(), "user-1", "token"))
	defer m.Stop()
	require.Eventually(t, func() bool {
		return m.State() == models.Connected
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Publish(context.Background(), Command{
		Op:      "submit",
		Kind:    models.KindPrayerRequest,
		Payload: map[string]string{"body": "for peace"},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var cmd Command
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &cmd))
		if cmd.Op == "resync" {
			continue // emitted on connect
		}
		assert.Equal(t, "submit", cmd.Op)
		assert.Equal(t, models.KindPrayerRequest, cmd.Kind)
		return
	}
}

// The backoff sequence itself: each delay is at least the previous one and
// never exceeds the ceiling, and attempts stop after the configured count.
func TestBackoff_MonotoneAndCapped(t *testing.T) {
	m := New(Config{
		ReconnectBase:        100 * time.Millisecond,
		ReconnectCap:         400 * time.Millisecond,
		ReconnectMaxAttempts: 6,
	}, testLogger())

	b := m.newBackoff()

	var prev time.Duration
	attempts := 0
	for {
		d, stop := b.Next()
		if stop {
			break
		}
		attempts++
		assert.GreaterOrEqual(t, d, prev, "delay must not shrink")
		assert.LessOrEqual(t, d, 400*time.Millisecond, "delay must respect the ceiling")
		prev = d
	}
	assert.Equal(t, 6, attempts)
}

func TestIsAuthErr(t *testing.T) {
	assert.False(t, isAuthErr(nil))
	assert.False(t, isAuthErr(context.Canceled))
	assert.True(t, isAuthErr(errWith("WRONGPASS invalid username-password pair")))
	assert.True(t, isAuthErr(errWith("NOAUTH Authentication required.")))
}

type errWith string

func (e errWith) Error() string { return string(e) }
