// Package notify delivers best-effort security alerts. Delivery failures
// are logged and counted, never propagated to the caller.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Alert severities, ordered.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is one security notification.
type Alert struct {
	Severity string                 `json:"severity"`
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// Channel sends alerts. Implementations are best-effort.
type Channel interface {
	SendAlert(ctx context.Context, a Alert) error
}

// LogChannel writes alerts to the structured log. It is the fallback
// channel when no broker is configured.
type LogChannel struct {
	logger *zap.SugaredLogger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger.Named("alerts").Sugar()}
}

// SendAlert implements Channel.
func (c *LogChannel) SendAlert(_ context.Context, a Alert) error {
	c.logger.Warnw("security alert",
		"severity", a.Severity,
		"title", a.Title,
		"message", a.Message,
		"details", a.Details,
	)
	return nil
}
