// Package services wires the sync layer together: one SyncService owns the
// per-kind stores, the push connection, the gamification engine, and the
// local persistence, and exposes the operations the UI layer calls.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Akintomiwa200/aagc-sub000/internal/common"
	"github.com/Akintomiwa200/aagc-sub000/internal/config"
	"github.com/Akintomiwa200/aagc-sub000/internal/envelope"
	"github.com/Akintomiwa200/aagc-sub000/internal/gamify"
	"github.com/Akintomiwa200/aagc-sub000/internal/identity"
	"github.com/Akintomiwa200/aagc-sub000/internal/logging"
	"github.com/Akintomiwa200/aagc-sub000/internal/models"
	"github.com/Akintomiwa200/aagc-sub000/internal/repositories"
	"github.com/Akintomiwa200/aagc-sub000/internal/store"
	"github.com/Akintomiwa200/aagc-sub000/internal/transport"
)

// WriteFailure describes an optimistic write whose backend publish failed
// and was rolled back.
type WriteFailure struct {
	Kind models.EntityKind
	ID   string
	Err  error
}

// SyncService is the live state layer for one signed-in identity.
type SyncService struct {
	cfg   *config.Config
	log   logging.Logger
	repos *repositories.Repositories
	tm    *transport.Manager

	events         *store.Store[models.Event]
	prayers        *store.Store[models.PrayerRequest]
	notifications  *store.Store[models.Notification]
	friendRequests *store.Store[models.FriendRequest]

	onWriteFailure func(WriteFailure)
	onAuthExpired  func()
	onOffline      func(error)

	mu            sync.Mutex
	started       bool
	identity      string
	engine        *gamify.Engine
	resyncing     map[models.EntityKind]bool
	awaitRegister map[string]struct{} // event ids with an unconfirmed registration
	unsubscribe   []func()
	persister     *persister
}

// New constructs a stopped service. The transport manager is injected so
// tests can point it at a fake backend.
func New(cfg *config.Config, repos *repositories.Repositories, tm *transport.Manager, log logging.Logger) *SyncService {
	s := &SyncService{
		cfg:   cfg,
		log:   log.With("module", "services"),
		repos: repos,
		tm:    tm,
	}
	s.events = store.New[models.Event](models.KindEvent, nil, cfg.CorrelationWindow, log)
	s.prayers = store.New(models.KindPrayerRequest, models.CorrelatePrayerRequests(cfg.CorrelationWindow), cfg.CorrelationWindow, log)
	s.notifications = store.New[models.Notification](models.KindNotification, nil, cfg.CorrelationWindow, log)
	s.friendRequests = store.New(models.KindFriendRequest, models.CorrelateFriendRequests, cfg.CorrelationWindow, log)
	return s
}

// OnWriteFailure registers the callback fired after a rolled-back optimistic
// write. Register before Start.
func (s *SyncService) OnWriteFailure(f func(WriteFailure)) { s.onWriteFailure = f }

// OnAuthExpired registers the callback fired when the backend rejects the
// credential. Register before Start.
func (s *SyncService) OnAuthExpired(f func()) { s.onAuthExpired = f }

// OnOffline registers the callback fired when reconnecting has been given
// up. Cached data stays served; a later Start retries. Register before Start.
func (s *SyncService) OnOffline(f func(error)) { s.onOffline = f }

// Start brings the service up for the identity carried by the bearer
// credential: restores cached snapshots, restores gamification state, and
// opens the push connection.
func (s *SyncService) Start(ctx context.Context, credential string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return transport.ErrAlreadyStarted
	}
	id := identity.FromToken(credential)
	engine := gamify.New(id, s.repos.Gamification, s.tm, s.log)
	s.identity = id
	s.resyncing = make(map[models.EntityKind]bool)
	s.awaitRegister = make(map[string]struct{})
	s.engine = engine
	s.started = true
	s.mu.Unlock()

	s.restoreSnapshots(ctx, id)
	if err := engine.Load(ctx); err != nil {
		s.abortStart()
		return fmt.Errorf("restore gamification state: %w", err)
	}

	s.persister = newPersister(s.repos.Snapshots, id, s.log)
	s.subscribePersistence()

	s.tm.OnFrame(s.handleFrame)
	s.tm.OnConnected(s.beginResync)
	s.tm.OnAuthExpired(func() {
		s.log.Warn(ctx, "credential rejected, reauthentication required")
		if s.onAuthExpired != nil {
			s.onAuthExpired()
		}
	})
	s.tm.OnPersistentFailure(func(err error) {
		s.log.Warn(ctx, "gave up reconnecting, serving cached data", "error", err)
		if s.onOffline != nil {
			s.onOffline(err)
		}
	})

	if err := s.tm.Start(ctx, id, credential); err != nil {
		s.abortStart()
		return fmt.Errorf("start transport: %w", err)
	}
	s.log.Info(ctx, "sync service started", "identity", id)
	return nil
}

// abortStart unwinds a partially completed Start.
func (s *SyncService) abortStart() {
	s.mu.Lock()
	s.started = false
	unsub := s.unsubscribe
	s.unsubscribe = nil
	p := s.persister
	s.persister = nil
	s.mu.Unlock()

	for _, u := range unsub {
		u()
	}
	if p != nil {
		p.close()
	}
}

// Stop closes the connection and flushes pending snapshot writes. Cached
// state stays in memory and on disk for the next Start.
func (s *SyncService) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	unsub := s.unsubscribe
	s.unsubscribe = nil
	p := s.persister
	s.persister = nil
	s.mu.Unlock()

	s.tm.Stop()
	for _, u := range unsub {
		u()
	}
	if p != nil {
		p.close()
	}
}

// Logout stops the service and erases everything tied to the identity: the
// in-memory stores, the persisted snapshots, and the in-memory gamification
// state. The gamification row stays for the identity's next session.
func (s *SyncService) Logout(ctx context.Context) error {
	s.Stop()

	s.events.Clear()
	s.prayers.Clear()
	s.notifications.Clear()
	s.friendRequests.Clear()

	s.mu.Lock()
	id := s.identity
	engine := s.engine
	s.identity = ""
	s.mu.Unlock()

	if engine != nil {
		engine.Reset()
	}
	if id == "" {
		return nil
	}
	if err := s.repos.Snapshots.Clear(ctx, id); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	s.log.Info(ctx, "logged out", "identity", id)
	return nil
}

// ConnState returns the connection lifecycle state.
func (s *SyncService) ConnState() models.ConnState { return s.tm.State() }

// Identity returns the signed-in identity, empty when logged out.
func (s *SyncService) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Events lists the cached events in application order.
func (s *SyncService) Events() []models.Event { return s.events.List() }

// PrayerRequests lists the cached prayer requests in application order.
func (s *SyncService) PrayerRequests() []models.PrayerRequest { return s.prayers.List() }

// Notifications lists the cached notifications in application order.
func (s *SyncService) Notifications() []models.Notification { return s.notifications.List() }

// FriendRequests lists the cached friend requests in application order.
func (s *SyncService) FriendRequests() []models.FriendRequest { return s.friendRequests.List() }

// Gamification returns a copy of the current gamification state.
func (s *SyncService) Gamification() models.GamificationState {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return models.GamificationState{}
	}
	return engine.State()
}

// SubscribeEvents registers an observer on the event store.
func (s *SyncService) SubscribeEvents(obs store.Observer[models.Event]) func() {
	return s.events.Subscribe(obs)
}

// SubscribePrayerRequests registers an observer on the prayer-request store.
func (s *SyncService) SubscribePrayerRequests(obs store.Observer[models.PrayerRequest]) func() {
	return s.prayers.Subscribe(obs)
}

// SubscribeNotifications registers an observer on the notification store.
func (s *SyncService) SubscribeNotifications(obs store.Observer[models.Notification]) func() {
	return s.notifications.Subscribe(obs)
}

// SubscribeFriendRequests registers an observer on the friend-request store.
func (s *SyncService) SubscribeFriendRequests(obs store.Observer[models.FriendRequest]) func() {
	return s.friendRequests.Subscribe(obs)
}

// --- optimistic writes ---

// SubmitPrayer inserts the prayer locally and sends it to the backend. The
// pending record is visible immediately; if the send fails it is retracted
// and the write failure surfaced.
func (s *SyncService) SubmitPrayer(ctx context.Context, body string) (string, error) {
	s.mu.Lock()
	author := s.identity
	s.mu.Unlock()

	id, rec := s.prayers.UpsertLocal(func(meta models.Meta) models.PrayerRequest {
		return models.PrayerRequest{
			Meta:        meta,
			Author:      author,
			Body:        body,
			SubmittedAt: time.Now(),
		}
	})
	if !models.IsLocalID(id) {
		// Correlated against a confirmation that had already arrived.
		return id, nil
	}

	err := s.tm.Publish(ctx, transport.Command{Op: "submit", Kind: models.KindPrayerRequest, Payload: rec})
	if err != nil {
		if rerr := s.prayers.RetractLocal(id); rerr != nil {
			s.log.Error(ctx, "retracting failed prayer write", "id", id, "error", rerr)
		}
		s.failWrite(ctx, models.KindPrayerRequest, id, err)
		return "", fmt.Errorf("submit prayer: %w", err)
	}
	return id, nil
}

// SendFriendRequest inserts a pending friend request and sends it to the
// backend, with the same rollback semantics as SubmitPrayer.
func (s *SyncService) SendFriendRequest(ctx context.Context, toUser string) (string, error) {
	s.mu.Lock()
	from := s.identity
	s.mu.Unlock()

	id, rec := s.friendRequests.UpsertLocal(func(meta models.Meta) models.FriendRequest {
		return models.FriendRequest{
			Meta:     meta,
			FromUser: from,
			ToUser:   toUser,
			Status:   models.FriendRequestPending,
		}
	})
	if !models.IsLocalID(id) {
		return id, nil
	}

	err := s.tm.Publish(ctx, transport.Command{Op: "submit", Kind: models.KindFriendRequest, Payload: rec})
	if err != nil {
		if rerr := s.friendRequests.RetractLocal(id); rerr != nil {
			s.log.Error(ctx, "retracting failed friend-request write", "id", id, "error", rerr)
		}
		s.failWrite(ctx, models.KindFriendRequest, id, err)
		return "", fmt.Errorf("send friend request: %w", err)
	}
	return id, nil
}

// RegisterForEvent flips the registration flag optimistically and tells the
// backend. A failed send rolls the record back to its previous shape.
// Registering twice is a no-op.
func (s *SyncService) RegisterForEvent(ctx context.Context, eventID string) error {
	prev, ok := s.events.Get(eventID)
	if !ok {
		return common.ErrorNotFound
	}
	if prev.Registered {
		return nil
	}

	updated := prev
	updated.Registered = true
	updated.AttendeeCount++
	s.events.Restore(updated)

	s.mu.Lock()
	s.awaitRegister[eventID] = struct{}{}
	s.mu.Unlock()

	err := s.tm.Publish(ctx, transport.Command{
		Op:      "register",
		Kind:    models.KindEvent,
		Payload: map[string]string{"id": eventID},
	})
	if err != nil {
		s.events.Restore(prev)
		s.mu.Lock()
		delete(s.awaitRegister, eventID)
		s.mu.Unlock()
		s.failWrite(ctx, models.KindEvent, eventID, err)
		return fmt.Errorf("register for event: %w", err)
	}
	return nil
}

// MarkNotificationRead flips the read flag optimistically and tells the
// backend, rolling back on a failed send. Marking twice is a no-op.
func (s *SyncService) MarkNotificationRead(ctx context.Context, notificationID string) error {
	prev, ok := s.notifications.Get(notificationID)
	if !ok {
		return common.ErrorNotFound
	}
	if prev.Read {
		return nil
	}

	updated := prev
	updated.Read = true
	s.notifications.Restore(updated)

	err := s.tm.Publish(ctx, transport.Command{
		Op:      "mark-read",
		Kind:    models.KindNotification,
		Payload: map[string]string{"id": notificationID},
	})
	if err != nil {
		s.notifications.Restore(prev)
		s.failWrite(ctx, models.KindNotification, notificationID, err)
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// AcceptFriendRequest accepts an incoming request optimistically, rolling
// back on a failed send. Points for the acceptance are only awarded once the
// backend confirms it.
func (s *SyncService) AcceptFriendRequest(ctx context.Context, requestID string) error {
	prev, ok := s.friendRequests.Get(requestID)
	if !ok {
		return common.ErrorNotFound
	}
	if prev.Status == models.FriendRequestAccepted {
		return nil
	}

	updated := prev
	updated.Status = models.FriendRequestAccepted
	s.friendRequests.Restore(updated)

	err := s.tm.Publish(ctx, transport.Command{
		Op:      "accept",
		Kind:    models.KindFriendRequest,
		Payload: map[string]string{"id": requestID},
	})
	if err != nil {
		s.friendRequests.Restore(prev)
		s.failWrite(ctx, models.KindFriendRequest, requestID, err)
		return fmt.Errorf("accept friend request: %w", err)
	}
	return nil
}

// RecordDevotionalRead reports a finished devotional reading. Readings
// shorter than the dwell threshold earn nothing.
func (s *SyncService) RecordDevotionalRead(ctx context.Context, dwell time.Duration) {
	if dwell < s.cfg.DevotionalDwellThreshold {
		return
	}
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine != nil {
		engine.Award(ctx, gamify.ActionDevotionalRead)
	}
}

func (s *SyncService) failWrite(ctx context.Context, kind models.EntityKind, id string, err error) {
	s.log.Warn(ctx, "optimistic write rolled back", "kind", string(kind), "id", id, "error", err)
	if s.onWriteFailure != nil {
		s.onWriteFailure(WriteFailure{Kind: kind, ID: id, Err: err})
	}
}

// --- inbound frames ---

// beginResync marks every store as replaying. Runs on the transport
// goroutine right after each successful handshake.
func (s *SyncService) beginResync() {
	s.events.BeginResync()
	s.prayers.BeginResync()
	s.notifications.BeginResync()
	s.friendRequests.BeginResync()

	s.mu.Lock()
	for _, k := range []models.EntityKind{models.KindEvent, models.KindPrayerRequest, models.KindNotification, models.KindFriendRequest} {
		s.resyncing[k] = true
	}
	s.mu.Unlock()
}

// handleFrame is the single transport frame handler; frames arrive in order
// on the transport goroutine. Undecodable frames are logged and dropped.
func (s *SyncService) handleFrame(frame []byte) {
	ctx := context.Background()

	env, err := envelope.Decode(frame)
	if err != nil {
		if errors.Is(err, envelope.ErrUnknownKind) && s.tryGamificationCorrection(ctx, frame) {
			return
		}
		s.log.Warn(ctx, "dropping frame", "error", err)
		return
	}

	switch env.Kind {
	case models.KindEvent:
		s.applyEvent(ctx, env)
	case models.KindPrayerRequest:
		s.applyPrayerRequest(ctx, env)
	case models.KindNotification:
		s.applyNotification(ctx, env)
	case models.KindFriendRequest:
		s.applyFriendRequest(ctx, env)
	}
}

// tryGamificationCorrection handles the one frame kind outside the entity
// caches: a backend-issued gamification correction.
func (s *SyncService) tryGamificationCorrection(ctx context.Context, frame []byte) bool {
	var f struct {
		Kind    string                   `json:"entity_kind"`
		Payload models.GamificationState `json:"payload"`
	}
	if err := json.Unmarshal(frame, &f); err != nil || f.Kind != "gamification" {
		return false
	}
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine != nil {
		engine.ApplyCorrection(ctx, f.Payload)
	}
	return true
}

func (s *SyncService) applyEvent(ctx context.Context, env *envelope.Envelope) {
	if s.handleControl(env, s.events.EndResync) {
		return
	}
	if env.Op == models.OpDeleted {
		applyDeleted(ctx, s, env, s.events)
		return
	}
	rec, err := env.EventRecord()
	if err != nil {
		s.log.Warn(ctx, "dropping frame", "error", err)
		return
	}

	s.mu.Lock()
	_, awaiting := s.awaitRegister[rec.Key()]
	if awaiting && rec.Registered {
		delete(s.awaitRegister, rec.Key())
	}
	engine := s.engine
	s.mu.Unlock()

	s.events.Apply(store.ServerEvent[models.Event]{Op: env.Op, Record: rec})

	if awaiting && rec.Registered && engine != nil {
		engine.Award(ctx, gamify.ActionEventRegistered)
	}
}

func (s *SyncService) applyPrayerRequest(ctx context.Context, env *envelope.Envelope) {
	if s.handleControl(env, s.prayers.EndResync) {
		return
	}
	if env.Op == models.OpDeleted {
		applyDeleted(ctx, s, env, s.prayers)
		return
	}
	rec, err := env.PrayerRequestRecord()
	if err != nil {
		s.log.Warn(ctx, "dropping frame", "error", err)
		return
	}

	// A confirmed creation of the user's own prayer, seen for the first
	// time outside a resync replay, is the point-bearing moment. Redelivered
	// ids and replayed history never award.
	_, known := s.prayers.Get(rec.Key())
	s.mu.Lock()
	own := env.Op == models.OpCreated && rec.Author == s.identity && !known && !s.resyncing[models.KindPrayerRequest]
	engine := s.engine
	s.mu.Unlock()

	s.prayers.Apply(store.ServerEvent[models.PrayerRequest]{Op: env.Op, Record: rec})

	if own && engine != nil {
		engine.Award(ctx, gamify.ActionPrayerConfirmed)
	}
}

func (s *SyncService) applyNotification(ctx context.Context, env *envelope.Envelope) {
	if s.handleControl(env, s.notifications.EndResync) {
		return
	}
	if env.Op == models.OpDeleted {
		applyDeleted(ctx, s, env, s.notifications)
		return
	}
	rec, err := env.NotificationRecord()
	if err != nil {
		s.log.Warn(ctx, "dropping frame", "error", err)
		return
	}
	s.notifications.Apply(store.ServerEvent[models.Notification]{Op: env.Op, Record: rec})
}

func (s *SyncService) applyFriendRequest(ctx context.Context, env *envelope.Envelope) {
	if s.handleControl(env, s.friendRequests.EndResync) {
		return
	}
	if env.Op == models.OpDeleted {
		applyDeleted(ctx, s, env, s.friendRequests)
		return
	}
	rec, err := env.FriendRequestRecord()
	if err != nil {
		s.log.Warn(ctx, "dropping frame", "error", err)
		return
	}

	// Acceptance awards exactly on the not-accepted -> accepted transition
	// of a request the user is part of.
	prev, known := s.friendRequests.Get(rec.Key())
	s.mu.Lock()
	involved := rec.FromUser == s.identity || rec.ToUser == s.identity
	accepted := rec.Status == models.FriendRequestAccepted &&
		(!known || prev.Status != models.FriendRequestAccepted) &&
		involved && !s.resyncing[models.KindFriendRequest]
	engine := s.engine
	s.mu.Unlock()

	s.friendRequests.Apply(store.ServerEvent[models.FriendRequest]{Op: env.Op, Record: rec})

	if accepted && engine != nil {
		engine.Award(ctx, gamify.ActionFriendAccepted)
	}
}

// resyncingKind reports whether a resync replay is in flight for kind.
func (s *SyncService) resyncingKind(kind models.EntityKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncing[kind]
}

// handleControl intercepts the resync-complete control operation.
func (s *SyncService) handleControl(env *envelope.Envelope, endResync func()) bool {
	if env.Op != models.OpResyncComplete {
		return false
	}
	endResync()
	s.mu.Lock()
	s.resyncing[env.Kind] = false
	s.mu.Unlock()
	return true
}

func applyDeleted[T models.Record](ctx context.Context, s *SyncService, env *envelope.Envelope, st *store.Store[T]) {
	key, err := env.DeletedKey()
	if err != nil {
		s.log.Warn(ctx, "dropping frame", "error", err)
		return
	}
	st.Apply(store.ServerEvent[T]{Op: models.OpDeleted, Key: key})
}

// --- snapshot persistence ---

func (s *SyncService) restoreSnapshots(ctx context.Context, id string) {
	restoreSnapshot(ctx, s, id, s.events)
	restoreSnapshot(ctx, s, id, s.prayers)
	restoreSnapshot(ctx, s, id, s.notifications)
	restoreSnapshot(ctx, s, id, s.friendRequests)
}

func restoreSnapshot[T models.Record](ctx context.Context, s *SyncService, id string, st *store.Store[T]) {
	data, err := s.repos.Snapshots.Load(ctx, id, st.Kind())
	if errors.Is(err, common.ErrorNotFound) {
		return
	}
	if err != nil {
		s.log.Error(ctx, "loading snapshot failed", "kind", string(st.Kind()), "error", err)
		return
	}
	var recs []T
	if err := json.Unmarshal(data, &recs); err != nil {
		s.log.Error(ctx, "discarding corrupt snapshot", "kind", string(st.Kind()), "error", err)
		return
	}
	st.ReplaceAll(recs)
}

// subscribePersistence registers one observer per store that hands the new
// snapshot to the background persister. Observers run with the store lock
// held, so they only enqueue.
func (s *SyncService) subscribePersistence() {
	p := s.persister
	s.unsubscribe = append(s.unsubscribe,
		s.events.Subscribe(func(snap store.Snapshot[models.Event]) {
			p.enqueue(models.KindEvent, snap.Records)
		}),
		s.prayers.Subscribe(func(snap store.Snapshot[models.PrayerRequest]) {
			p.enqueue(models.KindPrayerRequest, snap.Records)
		}),
		s.notifications.Subscribe(func(snap store.Snapshot[models.Notification]) {
			p.enqueue(models.KindNotification, snap.Records)
		}),
		s.friendRequests.Subscribe(func(snap store.Snapshot[models.FriendRequest]) {
			p.enqueue(models.KindFriendRequest, snap.Records)
		}),
	)
}
