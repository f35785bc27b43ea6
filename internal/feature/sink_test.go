package feature

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type failingStore struct{}

func (failingStore) Write(Vector) error               { return errors.New("store down") }
func (failingStore) ReadRecent(string) (Vector, bool) { return Vector{}, false }

func TestSink_WriteFailureNeverPanicsAndIsCounted(t *testing.T) {
	s := NewSink(failingStore{}, zap.NewNop())
	s.Write(Vector{EntityID: "10.0.0.1_65001", Features: map[string]any{"as_path_length": 3}, Timestamp: time.Now()})
	if s.Failures() != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", s.Failures())
	}
}

func TestMemStore_TTLEviction(t *testing.T) {
	store := NewMemStore(10 * time.Millisecond)
	store.Write(Vector{EntityID: "e1", Timestamp: time.Now()})

	if _, ok := store.ReadRecent("e1"); !ok {
		t.Fatal("expected to read back a fresh entry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := store.ReadRecent("e1"); ok {
		t.Fatal("expected expired entry to be invisible")
	}

	removed := store.Evict(time.Now())
	if removed != 1 {
		t.Fatalf("expected Evict to remove 1 stale entry, got %d", removed)
	}
}

type fakeOfflineSource struct {
	vectors []Vector
}

func (f fakeOfflineSource) RecentVectors(context.Context, time.Time) ([]Vector, error) {
	return f.vectors, nil
}

func TestMaterializer_BackfillsOnlineStore(t *testing.T) {
	online := NewMemStore(time.Minute)
	source := fakeOfflineSource{vectors: []Vector{
		{EntityID: "10.0.0.1_65001", Timestamp: time.Now()},
	}}
	m := NewMaterializer(source, online, time.Hour, zap.NewNop())

	m.materializeOnce(context.Background())

	if _, ok := online.ReadRecent("10.0.0.1_65001"); !ok {
		t.Fatal("expected materializer to backfill the online store")
	}
}
