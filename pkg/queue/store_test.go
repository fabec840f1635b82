package queue

import (
	"fmt"
	"os"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	tmp, err := os.MkdirTemp("", "store-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmp) })
	return NewStore(tmp), tmp
}

func addRecord(s *Store, id string, status JobStatus) {
	s.Add(&JobRecord{
		ID:         id,
		Job:        CallJob{TaskID: "task-" + id},
		Status:     status,
		EnqueuedAt: time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	})
}

func TestStoreAddGetUpdate(t *testing.T) {
	s, _ := newTestStore(t)
	addRecord(s, "a", JobPending)

	rec, ok := s.Get("a")
	if !ok || rec.Status != JobPending {
		t.Fatalf("unexpected record %+v ok=%v", rec, ok)
	}

	s.Update("a", func(r *JobRecord) {
		r.Status = JobCompleted
		r.CallSid = "CA1"
	})
	rec, _ = s.Get("a")
	if rec.Status != JobCompleted || rec.CallSid != "CA1" {
		t.Fatalf("update not applied: %+v", rec)
	}
	if rec.UpdatedAt.IsZero() {
		t.Fatalf("update should stamp UpdatedAt")
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	addRecord(s, "a", JobPending)

	rec, _ := s.Get("a")
	rec.Status = JobFailed

	again, _ := s.Get("a")
	if again.Status != JobPending {
		t.Fatalf("Get exposed internal state")
	}
}

func TestStorePendingIncludesRunning(t *testing.T) {
	s, _ := newTestStore(t)
	addRecord(s, "a", JobPending)
	addRecord(s, "b", JobRunning)
	addRecord(s, "c", JobCompleted)
	addRecord(s, "d", JobFailed)

	pending := s.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected pending+running, got %v", pending)
	}
	if pending[0].ID != "a" || pending[1].ID != "b" {
		t.Fatalf("expected oldest-first order, got %v", pending)
	}
}

func TestStorePruneKeepsNewestPerStatus(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < 5; i++ {
		addRecord(s, fmt.Sprintf("c%d", i), JobCompleted)
	}
	for i := 0; i < 3; i++ {
		addRecord(s, fmt.Sprintf("f%d", i), JobFailed)
	}
	addRecord(s, "p0", JobPending)

	dropped := s.Prune(2, 2)
	if dropped != 4 {
		t.Fatalf("expected 4 dropped, got %d", dropped)
	}

	// Oldest completed and failed records go first; pending is untouched.
	for _, gone := range []string{"c0", "c1", "c2", "f0"} {
		if _, ok := s.Get(gone); ok {
			t.Errorf("record %s should have been pruned", gone)
		}
	}
	for _, kept := range []string{"c3", "c4", "f1", "f2", "p0"} {
		if _, ok := s.Get(kept); !ok {
			t.Errorf("record %s should have been kept", kept)
		}
	}
}

func TestStorePruneNoopUnderCaps(t *testing.T) {
	s, _ := newTestStore(t)
	addRecord(s, "a", JobCompleted)
	if dropped := s.Prune(1000, 5000); dropped != 0 {
		t.Fatalf("expected no pruning under caps, dropped %d", dropped)
	}
}

func TestStoreCountByStatus(t *testing.T) {
	s, _ := newTestStore(t)
	addRecord(s, "a", JobCompleted)
	addRecord(s, "b", JobCompleted)
	addRecord(s, "c", JobFailed)

	if n := s.CountByStatus(JobCompleted); n != 2 {
		t.Fatalf("expected 2 completed, got %d", n)
	}
	if n := s.CountByStatus(JobPending); n != 0 {
		t.Fatalf("expected 0 pending, got %d", n)
	}
}

func TestStorePersistsAcrossReload(t *testing.T) {
	s, dir := newTestStore(t)
	addRecord(s, "a", JobCompleted)
	addRecord(s, "b", JobPending)
	s.Flush()

	reloaded := NewStore(dir)
	rec, ok := reloaded.Get("a")
	if !ok || rec.Status != JobCompleted {
		t.Fatalf("record a not reloaded: %+v ok=%v", rec, ok)
	}
	if pending := reloaded.Pending(); len(pending) != 1 || pending[0].ID != "b" {
		t.Fatalf("pending work lost across reload: %v", pending)
	}
}
