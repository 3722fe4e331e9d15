// Package store implements the per-entity-kind cache that reconciles
// server-pushed events with the user's optimistic writes. One Store instance
// exists per entity kind; it is the single mutable owner of its records.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/Akintomiwa200/aagc-sub000/internal/common"
	"github.com/Akintomiwa200/aagc-sub000/internal/logging"
	"github.com/Akintomiwa200/aagc-sub000/internal/models"
	"github.com/Akintomiwa200/aagc-sub000/internal/reconcile"
)

// ServerEvent is one decoded push or resync delivery addressed to a store.
// Key is set for deleted events; Record for created/updated ones.
type ServerEvent[T models.Record] struct {
	Op     models.Operation
	Key    string
	Record T
}

// Snapshot is the full ordered contents of a store after one committed
// mutation. Seq increases monotonically with each mutation, so observers
// can detect out-of-order delivery.
type Snapshot[T models.Record] struct {
	Seq     uint64
	Records []T
}

// Observer receives a snapshot after every committed mutation. Callbacks
// must be cheap and must not call back into the store: they run on the
// mutating goroutine with the store lock held.
type Observer[T models.Record] func(Snapshot[T])

// CorrelateFunc is the entity-specific natural-key match between a pending
// record and a confirmed one. It must never compare ids.
type CorrelateFunc[T models.Record] func(pending, confirmed T) bool

// Store is a keyed, insertion-ordered record cache. All mutations serialize
// on one mutex, so observers never see a half-applied state, and internal
// order is always the order operations were applied.
type Store[T models.Record] struct {
	kind      models.EntityKind
	correlate CorrelateFunc[T] // nil when the kind never correlates created events
	window    time.Duration
	now       func() time.Time
	log       logging.Logger

	mu         sync.Mutex
	order      []string
	byKey      map[string]T
	arrivedAt  map[string]time.Time // confirmed-created arrivals inside the correlation window
	resyncSeen map[string]struct{}  // non-nil while a resync replay is in flight
	seq        uint64

	obsMu     sync.Mutex
	observers map[int]Observer[T]
	nextObsID int
}

// New constructs a store for one entity kind. correlate may be nil for
// kinds whose optimistic writes are keyed updates rather than creates.
func New[T models.Record](kind models.EntityKind, correlate CorrelateFunc[T], window time.Duration, log logging.Logger) *Store[T] {
	return &Store[T]{
		kind:      kind,
		correlate: correlate,
		window:    window,
		now:       time.Now,
		log:       log.With("module", "store", "kind", string(kind)),
		byKey:     make(map[string]T),
		arrivedAt: make(map[string]time.Time),
		observers: make(map[int]Observer[T]),
	}
}

// Kind returns the entity kind this store caches.
func (s *Store[T]) Kind() models.EntityKind { return s.kind }

// UpsertLocal inserts an optimistic record and notifies observers
// immediately. The store assigns the client-temporary id and pending
// metadata; build completes the record from them.
//
// If a confirmed record that correlates arrived within the correlation
// window, the pending insert is elided and the confirmed record's id is
// returned instead: the action was already confirmed before the local write
// registered.
func (s *Store[T]) UpsertLocal(build func(meta models.Meta) T) (string, T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := models.Meta{ID: models.NewLocalID(), Origin: models.OriginLocalPending}
	rec := build(meta)

	if s.correlate != nil {
		if match, ok := s.recentConfirmedMatch(rec); ok {
			s.log.Debug(context.Background(), "optimistic write already confirmed",
				"local_id", meta.ID, "server_id", match.Key())
			return match.Key(), match
		}
	}

	s.insertLocked(rec)
	s.commitLocked()
	return meta.ID, rec
}

// Apply merges one server-originated event. Duplicate deliveries and
// deletes of unknown ids are no-ops; all error conditions are handled
// internally — nothing propagates to the caller.
func (s *Store[T]) Apply(ev ServerEvent[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Op {
	case models.OpCreated:
		s.applyCreatedLocked(ev.Record)
	case models.OpUpdated:
		s.applyUpdatedLocked(ev.Record)
	case models.OpDeleted:
		s.applyDeletedLocked(ev.Key)
	default:
		s.log.Warn(context.Background(), "dropping event with unhandled operation", "op", string(ev.Op))
	}
}

func (s *Store[T]) applyCreatedLocked(rec T) {
	s.markSeenLocked(rec.Key())

	if existing, ok := s.byKey[rec.Key()]; ok {
		if reconcile.IsDuplicate(existing, rec) {
			s.log.Debug(context.Background(), "dropping duplicate delivery", "id", rec.Key(), "rev", rec.Rev())
			return
		}
		if !reconcile.Supersedes(existing, rec) {
			return
		}
		s.byKey[rec.Key()] = rec
		s.commitLocked()
		return
	}

	if idx, old, ok := s.pendingMatchLocked(rec); ok {
		// Correlated: the confirmed record takes the pending record's slot
		// and the store is re-keyed to the server id.
		delete(s.byKey, old.Key())
		s.order[idx] = rec.Key()
		s.byKey[rec.Key()] = rec
		s.log.Debug(context.Background(), "reconciled optimistic record",
			"local_id", old.Key(), "server_id", rec.Key())
		s.commitLocked()
		return
	}

	s.insertLocked(rec)
	s.arrivedAt[rec.Key()] = s.now()
	s.commitLocked()
}

func (s *Store[T]) applyUpdatedLocked(rec T) {
	existing, ok := s.byKey[rec.Key()]
	if !ok {
		s.applyCreatedLocked(rec)
		return
	}
	if reconcile.IsDuplicate(existing, rec) {
		s.log.Debug(context.Background(), "dropping duplicate delivery", "id", rec.Key(), "rev", rec.Rev())
		return
	}
	if !reconcile.Supersedes(existing, rec) {
		return
	}
	s.byKey[rec.Key()] = rec
	s.commitLocked()
}

func (s *Store[T]) applyDeletedLocked(key string) {
	if _, ok := s.byKey[key]; !ok {
		// Removal of a not-present id is normal operation, not an error.
		return
	}
	s.removeLocked(key)
	s.commitLocked()
}

// RetractLocal removes a pending record whose backend write failed. The
// record must still be local-pending; confirmed records are never
// retracted this way.
func (s *Store[T]) RetractLocal(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[id]
	if !ok {
		return common.ErrorNotFound
	}
	if rec.RecOrigin() != models.OriginLocalPending {
		return common.ErrorNotPending
	}
	s.removeLocked(id)
	s.commitLocked()
	return nil
}

// Restore puts back a previously read record, replacing the current one
// under the same key (or re-inserting it). Used to roll back an optimistic
// keyed update after its backend write failed.
func (s *Store[T]) Restore(rec T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[rec.Key()]; ok {
		s.byKey[rec.Key()] = rec
	} else {
		s.insertLocked(rec)
	}
	s.commitLocked()
}

// Get returns the record stored under id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byKey[id]
	return rec, ok
}

// List returns the records in application order.
func (s *Store[T]) List() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Len returns the number of records.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Seq returns the sequence number of the last committed mutation.
func (s *Store[T]) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Subscribe registers an observer and returns its unsubscribe function.
// Unsubscribing during an in-flight notification is safe, including from
// inside the callback itself.
func (s *Store[T]) Subscribe(obs Observer[T]) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = obs

	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

// BeginResync marks the start of a resync replay: confirmed creates applied
// until EndResync count as live on the server.
func (s *Store[T]) BeginResync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncSeen = make(map[string]struct{})
}

// EndResync finishes a resync replay: confirmed records the server did not
// re-deliver are removed. Pending records survive — their confirmation may
// still be in flight.
func (s *Store[T]) EndResync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resyncSeen == nil {
		return
	}
	seen := s.resyncSeen
	s.resyncSeen = nil

	var removed bool
	for _, key := range append([]string(nil), s.order...) {
		rec := s.byKey[key]
		if rec.RecOrigin() == models.OriginLocalPending {
			continue
		}
		if _, ok := seen[key]; !ok {
			s.removeLocked(key)
			removed = true
		}
	}
	if removed {
		s.commitLocked()
	}
}

// ReplaceAll swaps in a persisted snapshot, e.g. at process start before
// the first connection attempt.
func (s *Store[T]) ReplaceAll(recs []T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	clear(s.byKey)
	clear(s.arrivedAt)
	for _, rec := range recs {
		if _, ok := s.byKey[rec.Key()]; ok {
			continue
		}
		s.insertLocked(rec)
	}
	s.commitLocked()
}

// Clear removes everything, e.g. on logout.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	clear(s.byKey)
	clear(s.arrivedAt)
	s.resyncSeen = nil
	s.commitLocked()
}

// --- internals, all called with s.mu held ---

func (s *Store[T]) insertLocked(rec T) {
	s.order = append(s.order, rec.Key())
	s.byKey[rec.Key()] = rec
}

func (s *Store[T]) removeLocked(key string) {
	delete(s.byKey, key)
	delete(s.arrivedAt, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store[T]) listLocked() []T {
	out := make([]T, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key])
	}
	return out
}

func (s *Store[T]) markSeenLocked(key string) {
	if s.resyncSeen != nil {
		s.resyncSeen[key] = struct{}{}
	}
}

// pendingMatchLocked finds the local-pending record the confirmed rec
// correlates with. More than one plausible match is a reconciliation
// ambiguity: it is never resolved silently — the newest pending record
// wins and the conflict is logged for inspection.
func (s *Store[T]) pendingMatchLocked(rec T) (int, T, bool) {
	var zero T
	if s.correlate == nil {
		return 0, zero, false
	}

	matchIdx := -1
	matches := 0
	for i, key := range s.order {
		cand := s.byKey[key]
		if cand.RecOrigin() != models.OriginLocalPending {
			continue
		}
		if s.correlate(cand, rec) {
			matches++
			matchIdx = i // keep the newest (latest-inserted) match
		}
	}
	if matchIdx < 0 {
		return 0, zero, false
	}
	if matches > 1 {
		s.log.Warn(context.Background(), "ambiguous correlation, newest pending record wins",
			"server_id", rec.Key(), "candidates", matches)
	}
	return matchIdx, s.byKey[s.order[matchIdx]], true
}

// recentConfirmedMatch checks whether a confirmed record that correlates
// with the pending rec arrived within the correlation window. Expired
// window entries are dropped on the way.
func (s *Store[T]) recentConfirmedMatch(pending T) (T, bool) {
	var zero T
	cutoff := s.now().Add(-s.window)
	for key, at := range s.arrivedAt {
		if at.Before(cutoff) {
			delete(s.arrivedAt, key)
			continue
		}
		cand, ok := s.byKey[key]
		if !ok {
			delete(s.arrivedAt, key)
			continue
		}
		if s.correlate(pending, cand) {
			return cand, true
		}
	}
	return zero, false
}

// commitLocked seals a mutation: bumps the sequence and notifies observers
// with the full ordered list. Runs with s.mu held so notifications are
// delivered in mutation order.
func (s *Store[T]) commitLocked() {
	s.seq++
	snap := Snapshot[T]{Seq: s.seq, Records: s.listLocked()}

	s.obsMu.Lock()
	obs := make([]Observer[T], 0, len(s.observers))
	for _, o := range s.observers {
		obs = append(obs, o)
	}
	s.obsMu.Unlock()

	for _, o := range obs {
		o(snap)
	}
}
