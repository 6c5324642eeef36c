// Package history provides read access to the append-only event log the
// risk checks consult, plus the write path used by the request layer.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Well-known event actions the assessor queries for.
const (
	ActionOperation     = "operation"
	ActionSecurityAlert = "security_alert"
	ActionBlocked       = "blocked"
)

// Event is one recorded actor event.
type Event struct {
	ID                uuid.UUID `json:"id"`
	ActorID           string    `json:"actor_id"`
	IPAddress         string    `json:"ip_address"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	Action            string    `json:"action"`
	Module            string    `json:"module,omitempty"`
	OperationType     string    `json:"operation_type,omitempty"`
	Country           string    `json:"country,omitempty"`
	Latitude          float64   `json:"latitude,omitempty"`
	Longitude         float64   `json:"longitude,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// HasGeolocation reports whether the event carries a usable location.
func (e *Event) HasGeolocation() bool {
	return e.Country != "" || e.Latitude != 0 || e.Longitude != 0
}

// Filter narrows event queries. Zero-value fields are ignored.
type Filter struct {
	ActorID   string
	IPAddress string
	Action    string
	Module    string
	Since     time.Time
}

// Reader is the read-only query interface over historical events.
// FindRecentEvents returns events ordered newest first.
type Reader interface {
	CountEvents(ctx context.Context, f Filter) (int64, error)
	FindRecentEvents(ctx context.Context, f Filter, limit int) ([]Event, error)
}

// Recorder appends events; the scoring core never writes, only the
// surrounding request layer does.
type Recorder interface {
	Append(ctx context.Context, e Event) error
}
