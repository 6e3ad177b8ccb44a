package domain

import "time"

// ActorType enumerates who originated an event.
type ActorType string

const (
	ActorTypeUser    ActorType = "user"
	ActorTypeService ActorType = "service"
	ActorTypeAgent   ActorType = "agent"
)

// StreamType enumerates the ordering axis an event belongs to.
type StreamType string

const (
	StreamTypeRoom      StreamType = "room"
	StreamTypeWorkspace StreamType = "workspace"
	StreamTypeThread    StreamType = "thread"
)

// Actor identifies who caused an event.
type Actor struct {
	Type        ActorType `json:"type"`
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id,omitempty"`
}

// Stream identifies the ordering axis and key an event is appended to.
type Stream struct {
	Type StreamType `json:"type"`
	ID   string     `json:"id"`
}

// Scope carries the optional entity-scoping fields an event may narrow to.
type Scope struct {
	RoomID       string `json:"room_id,omitempty"`
	ThreadID     string `json:"thread_id,omitempty"`
	RunID        string `json:"run_id,omitempty"`
	StepID       string `json:"step_id,omitempty"`
	ExperimentID string `json:"experiment_id,omitempty"`
}

// Envelope is the immutable, canonical event record. Every mutation in the
// system is mediated by appending one of these through the event store.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	SchemaVersion  int             `json:"schema_version"`
	OccurredAt     time.Time       `json:"occurred_at"`
	WorkspaceID    string          `json:"workspace_id"`
	Scope          Scope           `json:"scope"`
	Actor          Actor           `json:"actor"`
	Stream         Stream          `json:"stream"`
	StreamPosition int64           `json:"stream_position"`
	CorrelationID  string          `json:"correlation_id"`
	CausationID    string          `json:"causation_id,omitempty"`
	Data           map[string]any  `json:"data"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	PolicyContext  map[string]any  `json:"policy_context,omitempty"`
	ModelContext   map[string]any  `json:"model_context,omitempty"`
	DisplayContext map[string]any  `json:"display_context,omitempty"`
}

// NewEventInput is the caller-supplied shape passed to appendToStream,
// before the store assigns event_id, stream_position, and (on first write)
// occurred_at.
type NewEventInput struct {
	EventType      string
	SchemaVersion  int
	OccurredAt     time.Time
	WorkspaceID    string
	Scope          Scope
	Actor          Actor
	Stream         Stream
	CorrelationID  string
	CausationID    string
	Data           map[string]any
	IdempotencyKey string
	PolicyContext  map[string]any
	ModelContext   map[string]any
	DisplayContext map[string]any
}
