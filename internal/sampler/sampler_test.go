package sampler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/whiteboard/backend/internal/db"
)

type countingSource struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (c *countingSource) Stats(ctx context.Context) (db.Stats, error) {
	n := c.calls.Add(1)
	if c.fail.Load() {
		return db.Stats{}, errors.New("store down")
	}
	return db.Stats{RoomCount: int(n), SnapshotCount: int(n) * 2}, nil
}

func waitForCalls(t *testing.T, src *countingSource, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for src.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected at least %d samples, got %d", n, src.calls.Load())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSamplerSamplesImmediatelyAndPeriodically(t *testing.T) {
	src := &countingSource{}
	s := New(src, Config{Interval: 5 * time.Millisecond, Timeout: time.Second}, zerolog.Nop())

	s.Start()
	waitForCalls(t, src, 3)
	s.Stop()

	last := s.Last()
	if last.RoomCount == 0 || last.SnapshotCount != last.RoomCount*2 {
		t.Errorf("Unexpected last sample %+v", last)
	}

	after := src.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if src.calls.Load() != after {
		t.Error("Sampler kept running after Stop")
	}
}

func TestSamplerKeepsLastSampleOnFailure(t *testing.T) {
	src := &countingSource{}
	s := New(src, Config{Interval: time.Hour, Timeout: time.Second}, zerolog.Nop())

	s.sample()
	want := s.Last()

	src.fail.Store(true)
	s.sample()

	if got := s.Last(); got != want {
		t.Errorf("Failed sample should keep %+v, got %+v", want, got)
	}
}

func TestSamplerAgainstMemoryStore(t *testing.T) {
	store := db.NewMemory()
	store.CreateIfAbsent(context.Background(), "r1")
	store.CreateIfAbsent(context.Background(), "r2")

	s := New(store, DefaultConfig(), zerolog.Nop())
	s.sample()

	if got := s.Last().RoomCount; got != 2 {
		t.Errorf("Expected 2 rooms, got %d", got)
	}
}
