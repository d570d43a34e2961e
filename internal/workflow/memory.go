package workflow

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Checkpoints do not survive a
// restart, so it only suits tests and one-off runs.
type MemoryStore struct {
	mu    sync.Mutex
	runs  []RunRecord
	steps map[string]map[string]json.RawMessage
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{steps: make(map[string]map[string]json.RawMessage)}
}

// CreateRun implements Store.
func (s *MemoryStore) CreateRun(_ context.Context, run RunRecord, liveAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.Workflow == run.Workflow && r.State == StateRunning && !r.HeartbeatAt.Before(liveAfter) {
			return ErrRunInProgress
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

// ClaimRun implements Store.
func (s *MemoryStore) ClaimRun(_ context.Context, id, owner string, liveAfter, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(id)
	if r == nil {
		return false, ErrRunNotFound
	}
	if r.State != StateRunning || !r.HeartbeatAt.Before(liveAfter) {
		return false, nil
	}
	r.Owner = owner
	r.HeartbeatAt = at
	return true, nil
}

// Heartbeat implements Store.
func (s *MemoryStore) Heartbeat(_ context.Context, id, owner string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(id)
	if r == nil || r.State != StateRunning || r.Owner != owner {
		return ErrLeaseLost
	}
	r.HeartbeatAt = at
	return nil
}

// LatestRun implements Store.
func (s *MemoryStore) LatestRun(_ context.Context, workflow string) (RunRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].Workflow == workflow {
			return s.runs[i], true, nil
		}
	}
	return RunRecord{}, false, nil
}

// FinishRun implements Store.
func (s *MemoryStore) FinishRun(_ context.Context, id, owner string, state State, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(id)
	if r == nil {
		return ErrRunNotFound
	}
	if r.Owner != owner {
		return ErrLeaseLost
	}
	r.State = state
	r.Error = errMsg
	r.FinishedAt = at
	return nil
}

// find returns the run with id. Caller holds s.mu.
func (s *MemoryStore) find(id string) *RunRecord {
	for i := range s.runs {
		if s.runs[i].ID == id {
			return &s.runs[i]
		}
	}
	return nil
}

// LoadStep implements Store.
func (s *MemoryStore) LoadStep(_ context.Context, runID, name string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.steps[runID][name]
	return out, ok, nil
}

// SaveStep implements Store.
func (s *MemoryStore) SaveStep(_ context.Context, runID, name string, output json.RawMessage, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steps[runID] == nil {
		s.steps[runID] = make(map[string]json.RawMessage)
	}
	s.steps[runID][name] = slices.Clone(output)
	return nil
}

// ListRuns implements Store.
func (s *MemoryStore) ListRuns(_ context.Context, workflow string, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RunRecord
	for i := len(s.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.runs[i].Workflow == workflow {
			out = append(out, s.runs[i])
		}
	}
	return out, nil
}

// Interface guard.
var _ Store = (*MemoryStore)(nil)
