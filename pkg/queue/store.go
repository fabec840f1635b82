package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store holds job records in memory and mirrors them to a JSON file so
// queued work survives restarts. Retention keeps only the most recent
// completed and failed records; pending and running jobs are never pruned.
type Store struct {
	mu      sync.RWMutex
	records []*JobRecord
	byID    map[string]*JobRecord
	path    string
}

func NewStore(dataDir string) *Store {
	s := &Store{
		records: make([]*JobRecord, 0, 64),
		byID:    make(map[string]*JobRecord),
	}
	if dataDir == "" {
		return s
	}
	_ = os.MkdirAll(dataDir, 0755)
	s.path = filepath.Join(dataDir, "jobs.json")
	s.load()
	return s
}

func (s *Store) Add(rec *JobRecord) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.byID[rec.ID] = rec
	s.mu.Unlock()
	s.save()
}

func (s *Store) Get(id string) (JobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return JobRecord{}, false
	}
	return *rec, true
}

// Update applies fn to the record under the store lock and persists.
func (s *Store) Update(id string, fn func(*JobRecord)) {
	s.mu.Lock()
	if rec, ok := s.byID[id]; ok {
		fn(rec)
		rec.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()
	s.save()
}

// Pending returns jobs that still need a run, oldest first. Running jobs are
// included: after a crash they were interrupted mid-attempt and must be
// picked up again.
func (s *Store) Pending() []JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobRecord, 0)
	for _, rec := range s.records {
		if rec.Status == JobPending || rec.Status == JobRunning {
			out = append(out, *rec)
		}
	}
	return out
}

func (s *Store) CountByStatus(status JobStatus) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if rec.Status == status {
			n++
		}
	}
	return n
}

// Prune drops all but the most recent completedCap completed and failedCap
// failed records.
func (s *Store) Prune(completedCap, failedCap int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := 0
	failed := 0
	for _, rec := range s.records {
		switch rec.Status {
		case JobCompleted:
			completed++
		case JobFailed:
			failed++
		}
	}

	dropCompleted := completed - completedCap
	dropFailed := failed - failedCap
	if dropCompleted <= 0 && dropFailed <= 0 {
		return 0
	}

	kept := make([]*JobRecord, 0, len(s.records))
	dropped := 0
	for _, rec := range s.records {
		switch {
		case rec.Status == JobCompleted && dropCompleted > 0:
			dropCompleted--
			dropped++
			delete(s.byID, rec.ID)
		case rec.Status == JobFailed && dropFailed > 0:
			dropFailed--
			dropped++
			delete(s.byID, rec.ID)
		default:
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return dropped
}

// Flush forces a write of the current state to disk.
func (s *Store) Flush() {
	s.save()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var records []*JobRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return
	}
	s.records = records
	for _, rec := range records {
		s.byID[rec.ID] = rec
	}
}

func (s *Store) save() {
	if s.path == "" {
		return
	}
	s.mu.RLock()
	data, err := json.MarshalIndent(s.records, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, data, 0644)
}
