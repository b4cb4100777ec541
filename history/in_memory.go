package history

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/underwriter/core"
)

// InMemoryStore is a volatile Store implementation keeping workflows in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Returned records and events are copies.
type InMemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*memWorkflow
}

type memWorkflow struct {
	rec    WorkflowRecord
	events []Event
	keys   map[string]struct{}
}

// NewInMemoryStore constructs an empty in‑memory history store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{workflows: make(map[string]*memWorkflow)}
}

// Create stores a new workflow record.
func (s *InMemoryStore) Create(rec WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[rec.ID]; ok {
		return fmt.Errorf("workflow %s: %w", rec.ID, core.ErrAlreadyExists)
	}

	s.workflows[rec.ID] = &memWorkflow{rec: rec.Clone(), keys: map[string]struct{}{}}

	return nil
}

// Get returns a copy of the workflow record.
func (s *InMemoryStore) Get(id string) (WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return WorkflowRecord{}, fmt.Errorf("workflow %s: %w", id, core.ErrNotFound)
	}

	return wf.rec.Clone(), nil
}

// List returns copies of every record ordered by creation time.
func (s *InMemoryStore) List() ([]WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]WorkflowRecord, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, wf.rec.Clone())
	}

	sortRecords(out)

	return out, nil
}

// Save replaces status and snapshot of an existing record.
func (s *InMemoryStore) Save(rec WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[rec.ID]
	if !ok {
		return fmt.Errorf("workflow %s: %w", rec.ID, core.ErrNotFound)
	}

	wf.rec.Status = rec.Status
	wf.rec.Snapshot = append(wf.rec.Snapshot[:0:0], rec.Snapshot...)
	wf.rec.UpdatedAt = rec.UpdatedAt

	return nil
}

// Append adds an event unless one with the same key exists.
func (s *InMemoryStore) Append(workflowID string, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return fmt.Errorf("workflow %s: %w", workflowID, core.ErrNotFound)
	}

	if _, dup := wf.keys[ev.Key]; dup {
		return nil
	}

	ev.Payload = append(ev.Payload[:0:0], ev.Payload...)
	wf.keys[ev.Key] = struct{}{}
	wf.events = append(wf.events, ev)

	return nil
}

// Events returns a defensive copy of the workflow's history.
func (s *InMemoryStore) Events(workflowID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, core.ErrNotFound)
	}

	out := make([]Event, len(wf.events))
	copy(out, wf.events)

	return out, nil
}

func sortRecords(recs []WorkflowRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}

		return recs[i].ID < recs[j].ID
	})
}
