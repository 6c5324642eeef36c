package device

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/veloria/fraudguard/internal/fraud"
)

// similarity weights per compared signal. Browser family is a weaker
// signal than the exact-match components.
const (
	weightBrowser    = 0.8
	weightResolution = 1.0
	weightTimezone   = 1.0
	weightLanguage   = 1.0
	weightPlatform   = 1.0
	weightHardware   = 1.0
	weightCanvas     = 1.0

	totalWeight = weightBrowser + weightResolution + weightTimezone +
		weightLanguage + weightPlatform + weightHardware + weightCanvas
)

const (
	hardwareTolerance   = 2   // cores, for the similarity match
	hardwareAnomalyDiff = 4   // cores, beyond this flags hardware_change
	canvasAnomalyFloor  = 0.8 // canvas similarity below this flags a change
)

// Validate compares the current fingerprint against the actor's history.
// Empty history and exact id matches are trivially valid; otherwise the
// current fingerprint is scored against the most recent historical one.
func (v *Validator) Validate(current Fingerprint, history []Fingerprint) Validation {
	if len(history) == 0 {
		return Validation{
			IsValid:          true,
			ConsistencyScore: 100,
			Anomalies:        []string{},
			RiskLevel:        fraud.RiskLevelLow,
			Recommendation:   RecommendAllow,
		}
	}

	for i := range history {
		if history[i].ID == current.ID {
			return Validation{
				IsValid:          true,
				ConsistencyScore: 100,
				Anomalies:        []string{},
				RiskLevel:        fraud.RiskLevelLow,
				Recommendation:   RecommendAllow,
			}
		}
	}

	latest := history[0]
	score := similarity(current.Components, latest.Components)
	anomalies := detectAnomalies(current.Components, latest.Components)

	level := consistencyRiskLevel(score, len(anomalies))
	rec := recommendation(level, score)

	result := Validation{
		IsValid:          level != fraud.RiskLevelCritical,
		ConsistencyScore: score,
		Anomalies:        anomalies,
		RiskLevel:        level,
		Recommendation:   rec,
	}
	if level >= fraud.RiskLevelHigh {
		v.logger.Info("inconsistent device fingerprint",
			zap.String("fingerprint_id", current.ID),
			zap.Int("consistency_score", score),
			zap.Strings("anomalies", anomalies))
	}
	return result
}

// similarity computes the weighted match fraction across seven signals,
// scaled to 0-100.
func similarity(a, b Components) int {
	var matched float64

	if browserFamily(a.UserAgent) == browserFamily(b.UserAgent) {
		matched += weightBrowser
	}
	if a.ScreenWidth == b.ScreenWidth && a.ScreenHeight == b.ScreenHeight {
		matched += weightResolution
	}
	if a.Timezone == b.Timezone {
		matched += weightTimezone
	}
	if a.Language == b.Language {
		matched += weightLanguage
	}
	if a.Platform == b.Platform {
		matched += weightPlatform
	}
	if absInt(a.HardwareConcurrency-b.HardwareConcurrency) <= hardwareTolerance {
		matched += weightHardware
	}
	matched += weightCanvas * stringSimilarity(a.Canvas, b.Canvas)

	return int(matched/totalWeight*100 + 0.5)
}

// browserFamily extracts the leading product token of a user agent, which
// is stable across minor version churn.
func browserFamily(ua string) string {
	ua = strings.TrimSpace(ua)
	if i := strings.Index(ua, "/"); i >= 0 {
		return ua[:i]
	}
	return ua
}

// stringSimilarity is the normalized edit-distance similarity of two
// strings: 1 - levenshtein(a,b)/max(len). Two empty strings are identical.
func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(maxLen)
}

func detectAnomalies(current, last Components) []string {
	anomalies := []string{}
	if browserFamily(current.UserAgent) != browserFamily(last.UserAgent) {
		anomalies = append(anomalies, AnomalyBrowserChange)
	}
	if current.Platform != last.Platform {
		anomalies = append(anomalies, AnomalyPlatformChange)
	}
	if current.ScreenWidth != last.ScreenWidth || current.ScreenHeight != last.ScreenHeight {
		anomalies = append(anomalies, AnomalyResolutionChange)
	}
	if current.Timezone != last.Timezone {
		anomalies = append(anomalies, AnomalyTimezoneChange)
	}
	if absInt(current.HardwareConcurrency-last.HardwareConcurrency) > hardwareAnomalyDiff {
		anomalies = append(anomalies, AnomalyHardwareChange)
	}
	if stringSimilarity(current.Canvas, last.Canvas) < canvasAnomalyFloor {
		anomalies = append(anomalies, AnomalyCanvasChange)
	}
	return anomalies
}

func consistencyRiskLevel(score, anomalies int) fraud.RiskLevel {
	switch {
	case score > 90 && anomalies == 0:
		return fraud.RiskLevelLow
	case score > 70 && anomalies <= 1:
		return fraud.RiskLevelMedium
	case score > 50 && anomalies <= 3:
		return fraud.RiskLevelHigh
	default:
		return fraud.RiskLevelCritical
	}
}

func recommendation(level fraud.RiskLevel, score int) Recommendation {
	switch {
	case level == fraud.RiskLevelCritical || score < 30:
		return RecommendBlock
	case level == fraud.RiskLevelHigh || score < 50:
		return RecommendChallenge
	default:
		return RecommendAllow
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
