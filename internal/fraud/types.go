// Package fraud defines the domain model shared by the risk assessor,
// device fingerprint validator, and threat response engine.
package fraud

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel classifies an assessment's overall severity.
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota
	RiskLevelMedium
	RiskLevelHigh
	RiskLevelCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	case RiskLevelCritical:
		return "critical"
	}
	return "unknown"
}

// MarshalJSON renders risk levels as their string form.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Risk level score boundaries. A score at or above the boundary maps to
// that level.
const (
	CriticalScore = 91
	HighScore     = 71
	MediumScore   = 31
)

// RiskLevelForScore maps a 0-100 risk score onto its level.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= CriticalScore:
		return RiskLevelCritical
	case score >= HighScore:
		return RiskLevelHigh
	case score >= MediumScore:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// Action is the automated response taken for an assessed operation.
type Action int

const (
	ActionAllow Action = iota
	ActionLog
	ActionChallenge
	ActionRateLimit
	ActionBlock
	ActionEscalate
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionLog:
		return "log"
	case ActionChallenge:
		return "challenge"
	case ActionRateLimit:
		return "rate_limit"
	case ActionBlock:
		return "block"
	case ActionEscalate:
		return "escalate"
	}
	return "unknown"
}

// MarshalJSON renders actions as their string form.
func (a Action) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// Geolocation is the optional resolved location of the originating request.
type Geolocation struct {
	Country   string  `json:"country"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Operation describes the checkout/cart operation being scored.
// Prices are in currency minor units.
type Operation struct {
	Type          string          `json:"type"`
	Quantity      int             `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
}

// CartItem is one line of the cart the operation belongs to, supplied by
// the caller so the assessor never touches cart storage itself.
type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// DetectionContext is the immutable per-request input to the risk assessor.
type DetectionContext struct {
	UserID            string       `json:"user_id,omitempty"`
	IPAddress         string       `json:"ip_address"`
	UserAgent         string       `json:"user_agent"`
	DeviceFingerprint string       `json:"device_fingerprint,omitempty"`
	CartID            string       `json:"cart_id,omitempty"`
	Operation         Operation    `json:"operation"`
	CartItems         []CartItem   `json:"cart_items,omitempty"`
	Geolocation       *Geolocation `json:"geolocation,omitempty"`
	Timestamp         time.Time    `json:"timestamp"`
}

// Identifier resolves the blocking/audit key for this context:
// user id when known, otherwise IP address, otherwise "unknown".
func (c *DetectionContext) Identifier() string {
	if c.UserID != "" {
		return c.UserID
	}
	if c.IPAddress != "" {
		return c.IPAddress
	}
	return "unknown"
}

// RiskAssessment is the immutable result of one assessor run.
type RiskAssessment struct {
	RiskScore         int            `json:"risk_score"`
	RiskLevel         RiskLevel      `json:"risk_level"`
	ShouldBlock       bool           `json:"should_block"`
	TriggeredRules    []string       `json:"triggered_rules"`
	Details           map[string]int `json:"details"`
	AssessedAt        time.Time      `json:"assessed_at"`
	UserID            string         `json:"user_id,omitempty"`
	IPAddress         string         `json:"ip_address"`
	DeviceFingerprint string         `json:"device_fingerprint,omitempty"`
}

// Identifier mirrors DetectionContext.Identifier for the echoed fields.
func (a *RiskAssessment) Identifier() string {
	if a.UserID != "" {
		return a.UserID
	}
	if a.IPAddress != "" {
		return a.IPAddress
	}
	return "unknown"
}

// ResponseContext carries the identity and entity metadata the response
// engine keys block state and audit entries by.
type ResponseContext struct {
	UserID     string `json:"user_id,omitempty"`
	IPAddress  string `json:"ip_address"`
	UserAgent  string `json:"user_agent,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	Operation  string `json:"operation,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

// Block durations with special meaning.
const (
	DurationInstant   int64 = 0  // action completes immediately, no TTL
	DurationPermanent int64 = -1 // block never expires
)

// Response is the outcome of one ExecuteResponse call.
type Response struct {
	Action           Action                 `json:"action"`
	Reason           string                 `json:"reason"`
	DurationSeconds  int64                  `json:"duration_seconds"`
	NotificationSent bool                   `json:"notification_sent"`
	EscalationLevel  int                    `json:"escalation_level"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Statistics summarizes current block state.
type Statistics struct {
	ActiveBlocks        int            `json:"active_blocks"`
	PermanentBlocks     int            `json:"permanent_blocks"`
	ByRiskLevel         map[string]int `json:"by_risk_level"`
	MeanRemainingTTLSec float64        `json:"mean_remaining_ttl_seconds"`
}
