package projector

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/eventstore"
	"github.com/agentctl/core/pkg/logger"
)

// WatermarkStore tracks, per workspace and projector name, the OccurredAt
// of the last event successfully applied by the catch-up worker.
type WatermarkStore interface {
	Get(ctx context.Context, workspaceID, projectorName string) (time.Time, error)
	Set(ctx context.Context, workspaceID, projectorName string, at time.Time) error
}

// DeadLetterStore records events that failed projection past the retry
// budget, surfaced by the health subsystem as DLQ backlog.
type DeadLetterStore interface {
	Record(ctx context.Context, workspaceID, eventID, projectorName, reason string, attempts int) error
	Backlog(ctx context.Context) (int, error)
}

// WorkspaceLister enumerates workspaces the catch-up worker should sweep.
type WorkspaceLister interface {
	ListWorkspaceIDs(ctx context.Context) ([]string, error)
}

// CatchUpWorker replays events past each projector's stored watermark,
// used when a consumer falls behind the synchronous write-path apply (a
// restarted projector, a new projector backfilling history, or a
// transient apply failure that rolled back a prior synchronous attempt).
type CatchUpWorker struct {
	db         *sql.DB
	events     eventstore.Store
	registry   *Registry
	watermarks WatermarkStore
	deadLetter DeadLetterStore
	workspaces WorkspaceLister
	log        *logger.Logger

	maxRetries int
	pageSize   int
}

// CatchUpConfig configures a CatchUpWorker.
type CatchUpConfig struct {
	MaxRetries int
	PageSize   int
	Logger     *logger.Logger
}

// NewCatchUpWorker constructs a worker wired to its dependencies.
func NewCatchUpWorker(db *sql.DB, events eventstore.Store, registry *Registry, watermarks WatermarkStore, deadLetter DeadLetterStore, workspaces WorkspaceLister, cfg CatchUpConfig) *CatchUpWorker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("projector_catchup")
	}
	return &CatchUpWorker{
		db: db, events: events, registry: registry,
		watermarks: watermarks, deadLetter: deadLetter, workspaces: workspaces,
		log: cfg.Logger, maxRetries: cfg.MaxRetries, pageSize: cfg.PageSize,
	}
}

// Tick runs one catch-up sweep across every known workspace.
func (w *CatchUpWorker) Tick(ctx context.Context) error {
	ids, err := w.workspaces.ListWorkspaceIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := w.sweepWorkspace(ctx, id); err != nil {
			w.log.WithField("workspace_id", id).WithError(err).Error("catch-up sweep failed")
		}
	}
	return nil
}

func (w *CatchUpWorker) sweepWorkspace(ctx context.Context, workspaceID string) error {
	// The registry has no global watermark; every registered projector
	// advances independently so a slow projector never blocks a fast one.
	for _, projectors := range w.registry.byKind {
		for _, p := range projectors {
			if err := w.sweepProjector(ctx, workspaceID, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *CatchUpWorker) sweepProjector(ctx context.Context, workspaceID string, p *Projector) error {
	since, err := w.watermarks.Get(ctx, workspaceID, p.Name)
	if err != nil {
		return err
	}

	eventTypes := make([]string, len(p.Kinds))
	for i, k := range p.Kinds {
		eventTypes[i] = string(k)
	}

	envs, err := w.events.ListSince(ctx, workspaceID, since, eventTypes, w.pageSize)
	if err != nil {
		return err
	}

	for _, env := range envs {
		if err := w.applyWithRetry(ctx, p, env); err != nil {
			w.log.WithField("event_id", env.EventID).WithField("projector", p.Name).WithError(err).
				Error("projector exhausted retries, routing to dead letter")
			if dlErr := w.deadLetter.Record(ctx, workspaceID, env.EventID, p.Name, err.Error(), w.maxRetries); dlErr != nil {
				return dlErr
			}
		}
		// Advance regardless of outcome: a dead-lettered event must not
		// wedge the watermark and block everything after it.
		if err := w.watermarks.Set(ctx, workspaceID, p.Name, env.OccurredAt); err != nil {
			return err
		}
	}
	return nil
}

func (w *CatchUpWorker) applyWithRetry(ctx context.Context, p *Projector, env domain.Envelope) error {
	var lastErr error
	for attempt := 0; attempt < w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 200 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		tx, err := w.db.BeginTx(ctx, nil)
		if err != nil {
			lastErr = err
			continue
		}
		if err := p.Apply(ctx, tx, env); err != nil {
			tx.Rollback()
			lastErr = err
			continue
		}
		if err := tx.Commit(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
