package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// RunFilter narrows a run listing.
type RunFilter struct {
	Status RunStatus
	Since  time.Time
	Limit  int
}

// RunStore persists extraction runs for status polling.
type RunStore interface {
	CreateRun(run *Run) error
	GetRun(id string) (*Run, error)
	UpdateRun(run *Run) error
	ListRuns(filter RunFilter) ([]*Run, error)
	DeleteRun(id string) error
	CleanupOldRuns(olderThan time.Duration) (int, error)
}

// MemoryRunStore is an in-memory implementation of RunStore.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryRunStore creates a new in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]*Run),
	}
}

// CreateRun stores a snapshot of a new run. The caller keeps its own
// struct and may mutate it freely; the stored record only changes
// through UpdateRun.
func (s *MemoryRunStore) CreateRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

// GetRun retrieves a run by ID.
func (s *MemoryRunStore) GetRun(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s not found", id)
	}

	// Return a copy to prevent external modification
	runCopy := *run
	return &runCopy, nil
}

// UpdateRun replaces an existing run with a snapshot of the given one.
// Storing a copy keeps the record private to the store: a caller mutating
// its Run after the update cannot race readers copying the record out.
func (s *MemoryRunStore) UpdateRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("run %s not found", run.ID)
	}

	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

// ListRuns returns runs matching the filter.
func (s *MemoryRunStore) ListRuns(filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Run

	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}

		if !filter.Since.IsZero() && run.CreatedAt.Before(filter.Since) {
			continue
		}

		runCopy := *run
		result = append(result, &runCopy)

		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}

	return result, nil
}

// DeleteRun removes a run from the store.
func (s *MemoryRunStore) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return fmt.Errorf("run %s not found", id)
	}

	delete(s.runs, id)
	return nil
}

// CleanupOldRuns removes finished runs older than the given duration.
func (s *MemoryRunStore) CleanupOldRuns(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0

	for id, run := range s.runs {
		// Only delete completed or failed runs
		if run.Status == RunStatusCompleted || run.Status == RunStatusFailed {
			if run.CreatedAt.Before(cutoff) {
				delete(s.runs, id)
				deleted++
			}
		}
	}

	return deleted, nil
}

// Stats returns counts per run status.
func (s *MemoryRunStore) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int{
		"total":     len(s.runs),
		"pending":   0,
		"running":   0,
		"completed": 0,
		"failed":    0,
	}

	for _, run := range s.runs {
		switch run.Status {
		case RunStatusPending:
			stats["pending"]++
		case RunStatusRunning:
			stats["running"]++
		case RunStatusCompleted:
			stats["completed"]++
		case RunStatusFailed:
			stats["failed"]++
		}
	}

	return stats
}
