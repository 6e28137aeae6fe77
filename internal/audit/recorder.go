// Package audit records catalog and grant mutations for compliance review.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type contextKey struct{}

// SystemActor is recorded when no actor identity is present in the context.
const SystemActor = "system"

// ContextWithActor stores the acting identity for downstream audit records.
func ContextWithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, contextKey{}, actorID)
}

// ActorFromContext returns the acting identity, or SystemActor when absent.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(contextKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}

// Record is a single audit trail entry.
type Record struct {
	ID     string
	At     time.Time
	Actor  string
	Action string
	Target string
	Detail map[string]any
}

// Store is the persistence port for audit records.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	List(ctx context.Context, limit int) ([]Record, error)
}

// Recorder writes audit records to a store and mirrors them to the log.
// A nil Recorder is valid and drops all records.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder constructs a Recorder. store may be nil to log only.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record persists one audit entry. Failures are logged, never propagated:
// an audit outage must not block the mutation that triggered it.
func (r *Recorder) Record(ctx context.Context, action, target string, detail map[string]any) {
	if r == nil {
		return
	}
	rec := Record{
		ID:     uuid.NewString(),
		At:     time.Now().UTC(),
		Actor:  ActorFromContext(ctx),
		Action: action,
		Target: target,
		Detail: detail,
	}
	r.logger.Info("audit",
		slog.String("actor", rec.Actor),
		slog.String("action", rec.Action),
		slog.String("target", rec.Target))
	if r.store == nil {
		return
	}
	if err := r.store.Insert(ctx, rec); err != nil {
		r.logger.Error("audit insert", slog.Any("error", err))
	}
}
