package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Akintomiwa200/aagc-sub000/internal/logging"
	"github.com/Akintomiwa200/aagc-sub000/internal/models"
	"github.com/Akintomiwa200/aagc-sub000/internal/repositories/snapshots"
)

const persistTimeout = 5 * time.Second

// persister writes store snapshots to the local database off the mutating
// goroutine. It keeps only the newest snapshot per kind: intermediate states
// are safe to skip, the last one is not.
type persister struct {
	repo snapshots.Repository
	id   string
	log  logging.Logger

	mu      sync.Mutex
	pending map[models.EntityKind]any

	signal chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

func newPersister(repo snapshots.Repository, id string, log logging.Logger) *persister {
	p := &persister{
		repo:    repo,
		id:      id,
		log:     log.With("module", "persister"),
		pending: make(map[models.EntityKind]any),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// enqueue replaces the pending snapshot for one kind. Never blocks; safe to
// call from store observers.
func (p *persister) enqueue(kind models.EntityKind, records any) {
	p.mu.Lock()
	p.pending[kind] = records
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// close flushes whatever is still pending and stops the loop.
func (p *persister) close() {
	close(p.done)
	p.wg.Wait()
}

func (p *persister) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.signal:
			p.flush()
		case <-p.done:
			p.flush()
			return
		}
	}
}

func (p *persister) flush() {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[models.EntityKind]any)
	p.mu.Unlock()

	for kind, records := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		data, err := json.Marshal(records)
		if err != nil {
			p.log.Error(ctx, "encoding snapshot failed", "kind", string(kind), "error", err)
			cancel()
			continue
		}
		if err := p.repo.Save(ctx, p.id, kind, data); err != nil {
			p.log.Error(ctx, "persisting snapshot failed", "kind", string(kind), "error", err)
		}
		cancel()
	}
}
