// Package audit provides the fire-and-forget audit sink the response
// engine writes to. Sink failures are never surfaced to callers.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entry is one audit record. ActorType distinguishes users from anonymous
// IP-keyed actors; EntityType/EntityID point at the object acted on.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	Action      string    `json:"action"`
	Module      string    `json:"module"`
	ActorID     string    `json:"actor_id"`
	ActorType   string    `json:"actor_type"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sink accepts audit entries. Implementations must not block the caller
// on downstream failures; Record never returns an error by contract.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

// ZapSink writes audit entries to the structured log. It is the fallback
// sink when no database is configured, and useful in tests.
type ZapSink struct {
	logger *zap.SugaredLogger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("audit").Sugar()}
}

// Record implements Sink.
func (s *ZapSink) Record(_ context.Context, e Entry) {
	s.logger.Infow("audit",
		"action", e.Action,
		"module", e.Module,
		"actor_id", e.ActorID,
		"actor_type", e.ActorType,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"description", e.Description,
	)
}
