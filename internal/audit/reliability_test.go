package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// flakyStorage падает первые failN вызовов, дальше работает.
type flakyStorage struct {
	mu    sync.Mutex
	calls int
	failN int
	saved int
}

func (s *flakyStorage) WriteBatch(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return errors.New("transient failure")
	}
	s.saved += len(events)
	return nil
}

func TestReliableStorageRetriesTransient(t *testing.T) {
	inner := &flakyStorage{failN: 2}
	rs := NewReliableStorage(inner)

	err := rs.WriteBatch(context.Background(), []Event{{ID: "1", Type: EventDecision}})
	if err != nil {
		t.Fatalf("transient failure must be retried away: %v", err)
	}
	if inner.calls != 3 || inner.saved != 1 {
		t.Fatalf("calls = %d, saved = %d", inner.calls, inner.saved)
	}
}

func TestReliableStoragePassesThrough(t *testing.T) {
	inner := &flakyStorage{}
	rs := NewReliableStorage(inner)

	if err := rs.WriteBatch(context.Background(), []Event{{ID: "1"}, {ID: "2"}}); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 || inner.saved != 2 {
		t.Fatalf("calls = %d, saved = %d", inner.calls, inner.saved)
	}
}

func TestReliableStorageGivesUp(t *testing.T) {
	inner := &flakyStorage{failN: 1000}
	rs := NewReliableStorage(inner)

	if err := rs.WriteBatch(context.Background(), []Event{{ID: "1"}}); err == nil {
		t.Fatal("persistent failure must surface")
	}
	// Ошибка дошла до Trail, а Trail — в операторский канал; здесь проверяем
	// только, что попыток было ровно столько, сколько задано
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3 attempts", inner.calls)
	}
}

func TestReliableStorageComposesWithTrail(t *testing.T) {
	inner := &flakyStorage{failN: 1}
	trail := NewTrail(NewReliableStorage(inner), zap.NewNop(), WithBatch(1, 0))
	trail.Start()

	trail.Log(Event{ID: "ev-1", Type: EventDecision, ProjectID: "demo"})
	trail.Stop()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if inner.saved != 1 {
		t.Fatalf("saved = %d, want 1 (retry inside the pipeline)", inner.saved)
	}
}
