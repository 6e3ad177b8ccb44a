package projector

import (
	"context"
	"database/sql"

	"github.com/agentctl/core/internal/domain"
)

// NewCoreProjector materializes rooms, threads, and messages from their
// creation events. Conversation rows are append-only: nothing updates a
// room, thread, or message after creation, so ON CONFLICT DO NOTHING is
// sufficient for idempotent replay.
func NewCoreProjector() *Projector {
	return &Projector{
		Name:  "coreProjector",
		Kinds: []EventKind{EventRoomCreated, EventThreadCreated, EventMessageCreated},
		Apply: applyCore,
	}
}

func applyCore(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch EventKind(env.EventType) {
	case EventRoomCreated:
		return applyRoomCreated(ctx, tx, env)
	case EventThreadCreated:
		return applyThreadCreated(ctx, tx, env)
	case EventMessageCreated:
		return applyMessageCreated(ctx, tx, env)
	}
	return nil
}

func applyRoomCreated(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	name, _ := env.Data["name"].(string)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (id, workspace_id, name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, env.Scope.RoomID, env.WorkspaceID, name, env.OccurredAt)
	return err
}

func applyThreadCreated(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	title, _ := env.Data["title"].(string)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO threads (id, room_id, title, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, env.Scope.ThreadID, env.Scope.RoomID, title, env.OccurredAt)
	return err
}

func applyMessageCreated(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	id, _ := env.Data["message_id"].(string)
	body, _ := env.Data["body"].(string)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, author_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, id, env.Scope.ThreadID, env.Actor.ID, body, env.OccurredAt)
	return err
}
