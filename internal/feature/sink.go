// Package feature implements the feature sink: fire-and-forget writes
// of per-entity feature vectors to an online store for low-latency reads by
// downstream ML scoring, plus a periodic materializer that backfills the
// online store from the offline record of recent writes.
package feature

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/metrics"
)

// Vector is one feature write: an entity's feature map at a point in time.
type Vector struct {
	EntityID  string
	Features  map[string]any
	Timestamp time.Time
}

// Store is the narrow interface the sink writes through. The default
// implementation is an in-process TTL map; a Redis- or similar-backed
// implementation can satisfy the same interface without touching the sink.
type Store interface {
	Write(v Vector) error
	ReadRecent(entityID string) (Vector, bool)
}

// Sink is fire-and-forget on the hot path in that a failing store never
// surfaces an error to the caller: failures are counted and logged, never
// propagated. Write calls the store synchronously, so a slow store slows
// the caller; there is no buffering or background worker.
type Sink struct {
	store  Store
	logger *zap.Logger

	mu       sync.Mutex
	failures int64
}

func NewSink(store Store, logger *zap.Logger) *Sink {
	return &Sink{store: store, logger: logger}
}

// Write performs a synchronous store write and returns once the store
// does. A failure is counted and logged and never reaches the caller; the
// stream pipeline calls Write inline for every processed message.
func (s *Sink) Write(v Vector) {
	if err := s.store.Write(v); err != nil {
		s.mu.Lock()
		s.failures++
		s.mu.Unlock()
		metrics.FeatureWriteFailuresTotal.WithLabelValues("online").Inc()
		s.logger.Warn("feature sink write failed", zap.String("entity_id", v.EntityID), zap.Error(err))
	}
}

// Failures returns the number of write failures observed so far, for
// metrics/health reporting.
func (s *Sink) Failures() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// MemStore is a concurrency-safe in-process Store with per-entity TTL
// eviction, the default Store implementation.
type MemStore struct {
	ttl time.Duration

	mu   sync.RWMutex
	data map[string]Vector
}

func NewMemStore(ttl time.Duration) *MemStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemStore{ttl: ttl, data: make(map[string]Vector)}
}

func (m *MemStore) Write(v Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[v.EntityID] = v
	return nil
}

func (m *MemStore) ReadRecent(entityID string) (Vector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[entityID]
	if !ok {
		return Vector{}, false
	}
	if time.Since(v.Timestamp) > m.ttl {
		return Vector{}, false
	}
	return v, true
}

// Evict removes entries older than the store's TTL. Intended to be called
// periodically alongside the materializer.
func (m *MemStore) Evict(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, v := range m.data {
		if now.Sub(v.Timestamp) > m.ttl {
			delete(m.data, k)
			removed++
		}
	}
	return removed
}
