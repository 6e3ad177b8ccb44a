package pipeline

import (
	"context"
	"time"

	"github.com/agentctl/core/internal/domain"
)

// Cursor is the pagination position: the total order is
// (updated_at, entity_type, entity_id).
type Cursor struct {
	UpdatedAt  time.Time
	EntityType domain.EntityKind
	EntityID   string
}

// SnapshotStore reads and writes pipeline projection rows.
type SnapshotStore interface {
	Upsert(ctx context.Context, row domain.PipelineSnapshotRow) error
	Page(ctx context.Context, workspaceID string, after *Cursor, limit int) ([]domain.PipelineSnapshotRow, error)
	WatermarkEventID(ctx context.Context, workspaceID string) (string, error)
}

// MaxPageSize is the upper bound on the limit query parameter.
const MaxPageSize = 200

// ClampLimit constrains a caller-supplied limit to [1, MaxPageSize].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// StageStats summarizes row counts per stage for the envelope response
// shape.
type StageStats map[domain.PipelineStage]int

// Envelope is the v2 "meta + stages" response shape.
type Envelope struct {
	Meta   EnvelopeMeta                          `json:"meta"`
	Stages map[domain.PipelineStage][]domain.PipelineSnapshotRow `json:"stages"`
}

// EnvelopeMeta carries pagination and freshness metadata.
type EnvelopeMeta struct {
	WatermarkEventID string     `json:"watermark_event_id"`
	Stats            StageStats `json:"stage_stats"`
	NextCursor       *Cursor    `json:"next_cursor,omitempty"`
}

// Service answers pipeline projection queries.
type Service struct {
	store SnapshotStore
}

// NewService constructs a pipeline query service.
func NewService(store SnapshotStore) *Service {
	return &Service{store: store}
}

// Flat returns the legacy flat-object response shape: a single page of
// rows ordered by the pagination cursor.
func (s *Service) Flat(ctx context.Context, workspaceID string, after *Cursor, limit int) ([]domain.PipelineSnapshotRow, error) {
	return s.store.Page(ctx, workspaceID, after, ClampLimit(limit))
}

// WatermarkEventID returns the event id of the most recently updated
// snapshot row for workspaceID, used by the streaming endpoint to detect
// whether anything has changed since its last push.
func (s *Service) WatermarkEventID(ctx context.Context, workspaceID string) (string, error) {
	return s.store.WatermarkEventID(ctx, workspaceID)
}

// AsEnvelope returns the v2 response shape for one page of rows.
func (s *Service) AsEnvelope(ctx context.Context, workspaceID string, after *Cursor, limit int) (Envelope, error) {
	limit = ClampLimit(limit)
	rows, err := s.store.Page(ctx, workspaceID, after, limit)
	if err != nil {
		return Envelope{}, err
	}

	watermark, err := s.store.WatermarkEventID(ctx, workspaceID)
	if err != nil {
		return Envelope{}, err
	}

	stats := make(StageStats)
	stages := make(map[domain.PipelineStage][]domain.PipelineSnapshotRow)
	for _, r := range rows {
		stats[r.Stage]++
		stages[r.Stage] = append(stages[r.Stage], r)
	}

	var next *Cursor
	if len(rows) == limit {
		last := rows[len(rows)-1]
		next = &Cursor{UpdatedAt: last.UpdatedAt, EntityType: last.EntityType, EntityID: last.EntityID}
	}

	return Envelope{
		Meta: EnvelopeMeta{
			WatermarkEventID: watermark,
			Stats:            stats,
			NextCursor:       next,
		},
		Stages: stages,
	}, nil
}

// ApplySnapshot resolves a snapshot's stage and upserts (or deletes) its
// pipeline row accordingly. Called by the pipeline projector inside the
// same transaction as the triggering event where a SnapshotStore
// implementation binds to *sql.Tx.
func ApplySnapshot(ctx context.Context, store SnapshotStore, snap domain.EntitySnapshot, lastEventID string) error {
	if Skip(snap) {
		return nil
	}
	stage, diagnostic := Resolve(snap)
	row := domain.PipelineSnapshotRow{
		WorkspaceID: snap.WorkspaceID,
		EntityType:  snap.EntityType,
		EntityID:    snap.EntityID,
		Stage:       stage,
		Diagnostic:  diagnostic,
		UpdatedAt:   snap.UpdatedAt,
		LastEventID: lastEventID,
	}
	return store.Upsert(ctx, row)
}
