package history

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType categorises history entries.
type EventType string

// History event types.
const (
	EventActivityCompleted EventType = "activity_completed"
	EventActivityFailed    EventType = "activity_failed"
	EventMarker            EventType = "marker"
	EventTimerStarted      EventType = "timer_started"
	EventSignalReceived    EventType = "signal_received"
	EventCancelRequested   EventType = "cancel_requested"
)

// Event is one immutable entry of a workflow's history. Key is unique per
// workflow; appending a second event with the same key is a no-op, which makes
// re-delivered activity outcomes harmless.
type Event struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Key        string          `json:"key"`
	Type       EventType       `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// NewEvent creates an event with a fresh id.
func NewEvent(workflowID, key string, typ EventType, payload json.RawMessage, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Key:        key,
		Type:       typ,
		Payload:    payload,
		RecordedAt: at.UTC(),
	}
}

// Status tells whether a workflow still needs an executor.
type Status string

// Workflow record statuses.
const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// WorkflowRecord is the durable header of a workflow: its immutable request
// and the latest state snapshot.
type WorkflowRecord struct {
	ID        string          `json:"id"`
	Request   json.RawMessage `json:"request"`
	Status    Status          `json:"status"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no byte slices with r.
func (r WorkflowRecord) Clone() WorkflowRecord {
	r.Request = append(json.RawMessage(nil), r.Request...)
	r.Snapshot = append(json.RawMessage(nil), r.Snapshot...)

	return r
}

// Store persists workflow records and their event history.
//
// Contract:
//   - Create fails with core.ErrAlreadyExists when the id is taken
//   - Get/Save/Append/Events fail with core.ErrNotFound for unknown ids
//   - Append is idempotent on (workflow id, event key)
//   - Events returns events in append order
//   - List returns records sorted by creation time, then id
type Store interface {
	Create(rec WorkflowRecord) error
	Get(id string) (WorkflowRecord, error)
	List() ([]WorkflowRecord, error)
	Save(rec WorkflowRecord) error
	Append(workflowID string, ev Event) error
	Events(workflowID string) ([]Event, error)
}
