// Package projector applies committed events onto derived query tables. A
// projector is a pure function of (event, tx) -> row mutations, invoked
// synchronously in the same transaction as the append on the write path,
// and replayed by an async catch-up worker on the read path. Every
// projector must be idempotent: reapplying the same event is a no-op,
// typically via ON CONFLICT upserts or a last_event_id guard column.
package projector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/pkg/logger"
)

// Projector applies one committed event to its derived tables within tx.
type Projector struct {
	Name  string
	Kinds []EventKind
	Apply func(ctx context.Context, tx *sql.Tx, env domain.Envelope) error
}

// Registry dispatches events to every projector registered for that
// event's kind.
type Registry struct {
	byKind map[EventKind][]*Projector
	log    *logger.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefault("projector")
	}
	return &Registry{byKind: make(map[EventKind][]*Projector), log: log}
}

// Register adds p under each of its declared event kinds.
func (r *Registry) Register(p *Projector) {
	for _, k := range p.Kinds {
		r.byKind[k] = append(r.byKind[k], p)
	}
}

// ApplyInTx dispatches env to every registered projector for its event
// type, within the caller's transaction. A projector failure aborts the
// whole command: the caller is expected to roll back tx on a non-nil
// return.
func (r *Registry) ApplyInTx(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	kind := EventKind(env.EventType)
	projectors := r.byKind[kind]
	for _, p := range projectors {
		if err := p.Apply(ctx, tx, env); err != nil {
			return fmt.Errorf("projector %s: event %s: %w", p.Name, env.EventID, err)
		}
	}
	return nil
}

// KindsHandled reports whether any projector is registered for kind.
func (r *Registry) KindsHandled(kind EventKind) bool {
	return len(r.byKind[kind]) > 0
}

func (r *Registry) logEntry() *logrus.Entry {
	return r.log.WithField("component", "projector_registry")
}
