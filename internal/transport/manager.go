// Package transport owns the lifecycle of the persistent push connection to
// the backend: connect, authenticate, detect loss, back off, reconnect. It
// performs no business logic — every inbound frame is handed, in arrival
// order, to the single registered handler.
//
// The backend exposes a per-identity Redis endpoint: push frames arrive on
// the pub/sub channel "push:<identity>", and client commands (resync
// requests, optimistic writes, gamification mirrors) are published to
// "cmd:<identity>". The bearer token rides along as the connection
// credential, so authentication happens at connect time with no separate
// round trip.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/Akintomiwa200/aagc-sub000/internal/common"
	"github.com/Akintomiwa200/aagc-sub000/internal/logging"
	"github.com/Akintomiwa200/aagc-sub000/internal/models"
)

// ErrAlreadyStarted is returned by Start when the manager is running.
// Call Stop first, e.g. when supplying a fresh credential.
var ErrAlreadyStarted = errors.New("transport already started")

// Command is an outbound message to the backend's command channel.
type Command struct {
	Op      string            `json:"op"`
	Kind    models.EntityKind `json:"entity_kind,omitempty"`
	Payload any               `json:"payload,omitempty"`
}

// Config tunes reconnect behavior.
type Config struct {
	RedisURL             string
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	ReconnectMaxAttempts uint64
}

// Manager maintains one authenticated connection. All callbacks are
// registered before Start and run on the manager's goroutine.
type Manager struct {
	cfg Config
	log logging.Logger

	state atomic.Int32

	handler             func(frame []byte)
	onConnected         func()
	onAuthExpired       func()
	onPersistentFailure func(error)

	mu       sync.Mutex
	running  bool
	identity string
	client   *redis.Client
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a stopped manager.
func New(cfg Config, log logging.Logger) *Manager {
	return &Manager{cfg: cfg, log: log.With("module", "transport")}
}

// OnFrame registers the single inbound frame handler.
func (m *Manager) OnFrame(h func(frame []byte)) { m.handler = h }

// OnConnected fires after each successful handshake, before the resync
// request goes out — the right moment to begin a resync replay.
func (m *Manager) OnConnected(f func()) { m.onConnected = f }

// OnAuthExpired fires when the credential is rejected. The manager never
// retries with a known-bad credential; call Stop, obtain a fresh credential,
// and Start again.
func (m *Manager) OnAuthExpired(f func()) { m.onAuthExpired = f }

// OnPersistentFailure fires after the configured number of consecutive
// reconnect attempts all failed.
func (m *Manager) OnPersistentFailure(f func(error)) { m.onPersistentFailure = f }

// State returns the current connection state.
func (m *Manager) State() models.ConnState {
	return models.ConnState(m.state.Load())
}

func (m *Manager) setState(s models.ConnState) {
	m.state.Store(int32(s))
}

// Start opens the connection for the given identity, authenticating with
// the bearer credential. It returns once the connect loop is running.
func (m *Manager) Start(ctx context.Context, identity, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyStarted
	}

	opts, err := redis.ParseURL(m.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse push endpoint url: %w", err)
	}
	opts.Username = identity
	opts.Password = credential

	runCtx, cancel := context.WithCancel(ctx)
	m.identity = identity
	m.client = redis.NewClient(opts)
	m.cancel = cancel
	m.running = true
	m.setState(models.Connecting)

	m.wg.Add(1)
	go m.run(runCtx, m.client)
	return nil
}

// Stop tears the connection down. Safe to call from any state; when it
// returns, no further frames will be delivered and all backoff timers are
// cancelled.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	client := m.client
	m.running = false
	m.cancel = nil
	m.client = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	_ = client.Close()

	// Reauthenticating survives Stop: the credential problem is still
	// there until a fresh Start succeeds.
	if m.State() != models.Reauthenticating {
		m.setState(models.Disconnected)
	}
}

// Publish sends a command to the backend's command channel over the live
// connection. Returns common.ErrNotConnected while the push link is down —
// callers treat that as an immediate write failure.
func (m *Manager) Publish(ctx context.Context, cmd Command) error {
	m.mu.Lock()
	client := m.client
	identity := m.identity
	m.mu.Unlock()

	if client == nil || m.State() != models.Connected {
		return common.ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := client.Publish(ctx, common.CommandChannelPrefix+identity, data).Err(); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, client *redis.Client) {
	defer m.wg.Done()

	for {
		if ctx.Err() != nil {
			m.setState(models.Disconnected)
			return
		}

		sub, err := m.establish(ctx, client)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				m.setState(models.Disconnected)
			case isAuthErr(err):
				m.log.Warn(ctx, "credential rejected", "error", err)
				m.setState(models.Reauthenticating)
				if m.onAuthExpired != nil {
					m.onAuthExpired()
				}
			default:
				m.log.Error(ctx, "reconnect attempts exhausted", "error", err)
				m.setState(models.Disconnected)
				if m.onPersistentFailure != nil {
					m.onPersistentFailure(fmt.Errorf("%w: %w", common.ErrReconnectExhausted, err))
				}
			}
			return
		}

		m.setState(models.Connected)
		m.log.Info(ctx, "connected", "identity", m.identity)
		if m.onConnected != nil {
			m.onConnected()
		}
		if err := m.requestResync(ctx, client); err != nil {
			m.log.Warn(ctx, "resync request failed", "error", err)
		}

		err = m.receive(ctx, sub)
		_ = sub.Close()

		if ctx.Err() != nil {
			m.setState(models.Disconnected)
			return
		}
		if isAuthErr(err) {
			m.log.Warn(ctx, "credential rejected mid-session", "error", err)
			m.setState(models.Reauthenticating)
			if m.onAuthExpired != nil {
				m.onAuthExpired()
			}
			return
		}
		m.setState(models.Disconnected)
		m.log.Warn(ctx, "connection lost, reconnecting", "error", err)
	}
}

// establish subscribes to the push channel, retrying transport failures
// with capped exponential backoff. Auth rejections are terminal.
func (m *Manager) establish(ctx context.Context, client *redis.Client) (*redis.PubSub, error) {
	var sub *redis.PubSub

	err := retry.Do(ctx, m.newBackoff(), func(ctx context.Context) error {
		m.setState(models.Connecting)

		ps := client.Subscribe(ctx, common.PushChannelPrefix+m.identity)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			if isAuthErr(err) {
				return fmt.Errorf("%w: %w", common.ErrUnauthorized, err)
			}
			m.setState(models.Disconnected)
			m.log.Warn(ctx, "connect attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		sub = ps
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (m *Manager) newBackoff() retry.Backoff {
	b := retry.NewExponential(m.cfg.ReconnectBase)
	b = retry.WithCappedDuration(m.cfg.ReconnectCap, b)
	b = retry.WithMaxRetries(m.cfg.ReconnectMaxAttempts, b)
	return b
}

// receive pumps frames to the handler in arrival order until the
// connection breaks or ctx is cancelled.
func (m *Manager) receive(ctx context.Context, sub *redis.PubSub) error {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		if m.handler != nil {
			m.handler([]byte(msg.Payload))
		}
	}
}

// requestResync asks the backend to re-emit created events for all live
// records, so state rebuilds after any connectivity gap.
func (m *Manager) requestResync(ctx context.Context, client *redis.Client) error {
	data, err := json.Marshal(Command{Op: "resync"})
	if err != nil {
		return err
	}
	return client.Publish(ctx, common.CommandChannelPrefix+m.identity, data).Err()
}

// isAuthErr classifies credential rejections from the server. These are
// never retried automatically.
func isAuthErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "NOAUTH") ||
		strings.Contains(msg, "WRONGPASS") ||
		strings.Contains(msg, "NOPERM") ||
		strings.Contains(msg, "INVALID USERNAME-PASSWORD")
}
