// Package audit writes append-only audit records for financial operations.
//
// The sink is best-effort by contract: a failed audit write is logged and
// swallowed, never propagated, so it can never abort the caller's transaction.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idgen"
)

// Event is a single audit record.
type Event struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"` // e.g. "intent.confirm", "ledger.credit"
	EntityID  string            `json:"entityId"`
	Actor     string            `json:"actor,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Store persists audit events.
type Store interface {
	Insert(ctx context.Context, ev *Event) error
}

// Sink is the fire-and-forget audit writer handed to services.
type Sink struct {
	store  Store
	logger *slog.Logger
}

// NewSink creates an audit sink. A nil store disables auditing.
func NewSink(store Store, logger *slog.Logger) *Sink {
	return &Sink{store: store, logger: logger}
}

// Log records an audit event. Errors are swallowed and logged at warn level.
func (s *Sink) Log(ctx context.Context, action, entityID string, details map[string]string) {
	if s == nil || s.store == nil {
		return
	}
	ev := &Event{
		ID:        idgen.WithPrefix("aud_"),
		Action:    action,
		EntityID:  entityID,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if err := s.store.Insert(ctx, ev); err != nil {
		s.logger.Warn("audit write failed", "action", action, "entity", entityID, "error", err)
	}
}
