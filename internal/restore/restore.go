// Package restore implements the disaster-recovery restore pipeline
// (C6): a thin orchestrator over the event store's idempotent batch
// ingest, tracking session lifecycle so a finalized session refuses
// further batches.
package restore

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/eventstore"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

// Session tracks one restore session's lifecycle.
type Session struct {
	SessionID      string
	SourceDeviceID string
	finalized      bool
}

// Pipeline drives restore sessions over a shared event store. mu
// guards sessions: a mobile device's restore can legitimately submit
// batches over several HTTP requests handled by different goroutines,
// so StartSession/IngestBatch must not race on the map or on a
// session's finalized flag.
type Pipeline struct {
	store *eventstore.Store

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewPipeline binds a Pipeline to store.
func NewPipeline(store *eventstore.Store) *Pipeline {
	return &Pipeline{store: store, sessions: make(map[string]*Session)}
}

// StartSession opens a fresh restore session with a new UUID.
func (p *Pipeline) StartSession(sourceDeviceID string) *Session {
	s := &Session{SessionID: uuid.New().String(), SourceDeviceID: sourceDeviceID}
	p.mu.Lock()
	p.sessions[s.SessionID] = s
	p.mu.Unlock()
	return s
}

// IngestBatch ingests one batch for an open session. Refuses batches
// for a session already finalized; each batch is one atomic storage
// unit, never aborting the rest of the batch on a single event's
// hash mismatch. The finalized check-and-set holds mu for the whole
// call, not just the lookup, so two concurrent batches for the same
// session can't both observe finalized=false and both proceed.
func (p *Pipeline) IngestBatch(sessionID string, batch eventstore.ExportBatch, wallNowMs int64) (eventstore.ImportResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, ok := p.sessions[sessionID]
	if !ok {
		return eventstore.ImportResult{}, fmt.Errorf("restore: unknown session %s", sessionID)
	}
	if sess.finalized {
		return eventstore.ImportResult{}, fmt.Errorf("restore: session %s: %w", sessionID, errkind.ErrSessionFinalized)
	}

	result, err := p.store.ImportBatch(sessionID, sess.SourceDeviceID, batch, wallNowMs)
	if err != nil {
		return eventstore.ImportResult{}, err
	}
	if batch.IsFinal {
		sess.finalized = true
	}
	return result, nil
}

// Rejects returns every recorded hash-mismatch for a session.
func (p *Pipeline) Rejects(sessionID string) ([]eventstore.RestoreReject, error) {
	return p.store.RestoreRejects(sessionID)
}
