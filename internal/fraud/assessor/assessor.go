// Package assessor scores checkout operations for fraud risk by running
// ten independent checks concurrently and combining them into one
// weighted 0-100 score.
package assessor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veloria/fraudguard/internal/fraud"
	"github.com/veloria/fraudguard/internal/fraud/history"
	"github.com/veloria/fraudguard/pkg/metrics"
)

// Check names, reported in TriggeredRules and the details map.
const (
	CheckVelocity        = "velocity"
	CheckQuantityAnomaly = "quantity_anomaly"
	CheckPriceAnomaly    = "price_anomaly"
	CheckDeviceMismatch  = "device_mismatch"
	CheckGeoAnomaly      = "geo_anomaly"
	CheckBotTraffic      = "bot_traffic"
	CheckIPReputation    = "ip_reputation"
	CheckBehaviorPattern = "behavior_pattern"
	CheckTimeAnomaly     = "time_anomaly"
	CheckHistoricalRisk  = "historical_risk"
)

// Per-check weights. They deliberately sum to 1.5 rather than 1.0 so a
// few concurrent mid-strength triggers compound into criticality; the
// combined score is normalized against that 1.5 budget.
var checkWeights = map[string]float64{
	CheckVelocity:        0.15,
	CheckQuantityAnomaly: 0.20,
	CheckPriceAnomaly:    0.25,
	CheckDeviceMismatch:  0.10,
	CheckGeoAnomaly:      0.15,
	CheckBotTraffic:      0.20,
	CheckIPReputation:    0.10,
	CheckBehaviorPattern: 0.15,
	CheckTimeAnomaly:     0.10,
	CheckHistoricalRisk:  0.10,
}

// weightBudget is the sum of all check weights.
const weightBudget = 1.5

// Config carries the assessor's deployment knobs.
type Config struct {
	// PerCheckTimeout bounds each history-dependent check; a check that
	// exceeds it contributes zero.
	PerCheckTimeout time.Duration
	// HighRiskCountries is the ISO 3166-1 alpha-2 list the geolocation
	// check flags.
	HighRiskCountries []string
}

// Assessor runs fraud risk assessments. It is safe for concurrent use.
type Assessor struct {
	reader   history.Reader
	logger   *zap.Logger
	timeout  time.Duration
	highRisk map[string]struct{}
}

// New creates an assessor over the given event history reader.
func New(reader history.Reader, cfg Config, logger *zap.Logger) *Assessor {
	timeout := cfg.PerCheckTimeout
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	highRisk := make(map[string]struct{}, len(cfg.HighRiskCountries))
	for _, c := range cfg.HighRiskCountries {
		highRisk[normalizeCountry(c)] = struct{}{}
	}
	return &Assessor{
		reader:   reader,
		logger:   logger.Named("assessor"),
		timeout:  timeout,
		highRisk: highRisk,
	}
}

type checkFunc func(ctx context.Context, dc *fraud.DetectionContext) (int, error)

// Assess runs all checks concurrently and combines their sub-scores.
// It never fails for business conditions: missing context fields and
// collaborator errors each degrade to a zero sub-score.
func (a *Assessor) Assess(ctx context.Context, dc *fraud.DetectionContext) *fraud.RiskAssessment {
	start := time.Now()

	checks := []struct {
		name string
		fn   checkFunc
	}{
		{CheckVelocity, a.checkVelocity},
		{CheckQuantityAnomaly, a.checkQuantityAnomaly},
		{CheckPriceAnomaly, a.checkPriceAnomaly},
		{CheckDeviceMismatch, a.checkDeviceMismatch},
		{CheckGeoAnomaly, a.checkGeoAnomaly},
		{CheckBotTraffic, a.checkBotTraffic},
		{CheckIPReputation, a.checkIPReputation},
		{CheckBehaviorPattern, a.checkBehaviorPattern},
		{CheckTimeAnomaly, a.checkTimeAnomaly},
		{CheckHistoricalRisk, a.checkHistoricalRisk},
	}

	scores := make([]int, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, name string, fn checkFunc) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					scores[i] = 0
					metrics.CheckFailures.WithLabelValues(name).Inc()
					a.logger.Error("risk check panicked", zap.String("check", name), zap.Any("panic", r))
				}
			}()
			checkCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			score, err := fn(checkCtx, dc)
			if err != nil {
				metrics.CheckFailures.WithLabelValues(name).Inc()
				a.logger.Warn("risk check degraded to zero",
					zap.String("check", name),
					zap.String("identifier", dc.Identifier()),
					zap.Error(err))
				score = 0
			}
			scores[i] = capScore(score)
		}(i, c.name, c.fn)
	}
	wg.Wait()

	details := make(map[string]int, len(checks))
	triggered := make([]string, 0, len(checks))
	var weighted float64
	for i, c := range checks {
		details[c.name] = scores[i]
		metrics.CheckScores.WithLabelValues(c.name).Observe(float64(scores[i]))
		if scores[i] > 0 {
			triggered = append(triggered, c.name)
		}
		weighted += float64(scores[i]) * checkWeights[c.name]
	}

	riskScore := combineScore(weighted)
	level := fraud.RiskLevelForScore(riskScore)

	assessment := &fraud.RiskAssessment{
		RiskScore:         riskScore,
		RiskLevel:         level,
		ShouldBlock:       riskScore >= fraud.CriticalScore,
		TriggeredRules:    triggered,
		Details:           details,
		AssessedAt:        referenceTime(dc),
		UserID:            dc.UserID,
		IPAddress:         dc.IPAddress,
		DeviceFingerprint: dc.DeviceFingerprint,
	}

	metrics.AssessmentsTotal.WithLabelValues(level.String()).Inc()
	metrics.AssessmentLatency.Observe(time.Since(start).Seconds())
	a.logger.Debug("assessment complete",
		zap.String("identifier", dc.Identifier()),
		zap.Int("risk_score", riskScore),
		zap.String("risk_level", level.String()),
		zap.Strings("triggered_rules", triggered))

	return assessment
}

// combineScore normalizes the weighted sub-score sum against the 1.5
// weight budget onto the 0-100 scale. Each unit of weight covers ten
// points of the final scale, so strong concurrent triggers saturate.
func combineScore(weighted float64) int {
	score := int(weighted/weightBudget*10 + 0.5)
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func capScore(s int) int {
	if s > 100 {
		return 100
	}
	if s < 0 {
		return 0
	}
	return s
}

// referenceTime is the moment the operation happened; contexts without a
// timestamp are assessed as of now.
func referenceTime(dc *fraud.DetectionContext) time.Time {
	if dc.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return dc.Timestamp
}

// actorFilter keys history queries by user id when known, else by IP.
func actorFilter(dc *fraud.DetectionContext) history.Filter {
	if dc.UserID != "" {
		return history.Filter{ActorID: dc.UserID}
	}
	return history.Filter{IPAddress: dc.IPAddress}
}
