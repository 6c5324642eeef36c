package assessor

import (
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veloria/fraudguard/internal/fraud"
	"github.com/veloria/fraudguard/internal/fraud/history"
)

// Velocity thresholds.
const (
	velocityWindowOps   = 15  // ops per 60s that score the full tier
	velocityNearFactor  = 0.7 // fraction of the full tier that still scores
	burstWindowOps      = 5   // ops per 10s treated as a burst
	velocityTierScore   = 60
	velocityNearScore   = 40
	burstScore          = 40
)

func (a *Assessor) checkVelocity(ctx context.Context, dc *fraud.DetectionContext) (int, error) {
	if dc.UserID == "" && dc.IPAddress == "" {
		return 0, nil
	}
	now := referenceTime(dc)

	f := actorFilter(dc)
	f.Action = history.ActionOperation
	f.Since = now.Add(-60 * time.Second)
	n60, err := a.reader.CountEvents(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("velocity 60s window: %w", err)
	}

	f.Since = now.Add(-10 * time.Second)
	n10, err := a.reader.CountEvents(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("velocity 10s window: %w", err)
	}

	score := 0
	if n60 >= velocityWindowOps {
		score += velocityTierScore
	} else if float64(n60) >= velocityNearFactor*velocityWindowOps {
		score += velocityNearScore
	}
	if n10 >= burstWindowOps {
		score += burstScore
	}
	return score, nil
}

// Quantity thresholds.
const (
	quantityHigh      = 100
	quantityElevated  = 50
	cartTotalHigh     = 500
	cartItemHigh      = 50
)

func (a *Assessor) checkQuantityAnomaly(_ context.Context, dc *fraud.DetectionContext) (int, error) {
	score := 0
	switch q := dc.Operation.Quantity; {
	case q >= quantityHigh:
		score += 60
	case q >= quantityElevated:
		score += 30
	}

	total := 0
	itemSpike := false
	for _, item := range dc.CartItems {
		total += item.Quantity
		if item.Quantity >= cartItemHigh {
			itemSpike = true
		}
	}
	if total >= cartTotalHigh {
		score += 40
	}
	if itemSpike {
		score += 30
	}
	return score, nil
}

// Price thresholds in currency minor units.
var (
	priceFloor   = decimal.NewFromInt(100)
	priceCeiling = decimal.NewFromInt(10_000_000)
	discountMax  = decimal.NewFromFloat(0.9)
)

func (a *Assessor) checkPriceAnomaly(_ context.Context, dc *fraud.DetectionContext) (int, error) {
	price := dc.Operation.Price
	original := dc.Operation.OriginalPrice
	score := 0

	if price.IsPositive() && price.LessThan(priceFloor) {
		score += 80
	}
	if price.GreaterThan(priceCeiling) {
		score += 60
	}
	if original.IsPositive() && price.LessThan(original) {
		discount := original.Sub(price).Div(original)
		if discount.GreaterThan(discountMax) {
			score += 50
		}
	}
	return score, nil
}

const (
	fingerprintLookback  = 10 // recent events consulted for fingerprints
	fingerprintDiversity = 5  // distinct fingerprints beyond this is churn
)

func (a *Assessor) checkDeviceMismatch(ctx context.Context, dc *fraud.DetectionContext) (int, error) {
	if dc.DeviceFingerprint == "" {
		return 0, nil
	}
	if dc.UserID == "" && dc.IPAddress == "" {
		return 0, nil
	}

	events, err := a.reader.FindRecentEvents(ctx, actorFilter(dc), fingerprintLookback)
	if err != nil {
		return 0, fmt.Errorf("device fingerprint history: %w", err)
	}

	seen := make(map[string]struct{})
	matched := false
	for i := range events {
		fp := events[i].DeviceFingerprint
		if fp == "" {
			continue
		}
		seen[fp] = struct{}{}
		if fp == dc.DeviceFingerprint {
			matched = true
		}
	}

	score := 0
	if len(seen) > 0 && !matched {
		score += 40
	}
	if len(seen) > fingerprintDiversity {
		score += 30
	}
	return score, nil
}

const (
	impossibleSpeedKmh   = 800
	countryDiversity24h  = 3
	geoLookbackEvents    = 50
	minTravelElapsed     = time.Minute
)

func (a *Assessor) checkGeoAnomaly(ctx context.Context, dc *fraud.DetectionContext) (int, error) {
	geo := dc.Geolocation
	if geo == nil {
		return 0, nil
	}
	now := referenceTime(dc)
	score := 0

	if _, ok := a.highRisk[normalizeCountry(geo.Country)]; ok {
		score += 30
	}

	events, err := a.reader.FindRecentEvents(ctx, actorFilter(dc), geoLookbackEvents)
	if err != nil {
		return score, fmt.Errorf("geolocation history: %w", err)
	}

	// Impossible travel against the most recent located event.
	for i := range events {
		e := &events[i]
		if !e.HasGeolocation() || (e.Latitude == 0 && e.Longitude == 0) {
			continue
		}
		distKm := haversineKm(geo.Latitude, geo.Longitude, e.Latitude, e.Longitude)
		elapsed := now.Sub(e.CreatedAt)
		if elapsed < minTravelElapsed {
			elapsed = minTravelElapsed
		}
		if distKm/elapsed.Hours() > impossibleSpeedKmh {
			score += 70
		}
		break
	}

	// Country churn over the trailing 24h.
	cutoff := now.Add(-24 * time.Hour)
	countries := map[string]struct{}{normalizeCountry(geo.Country): {}}
	for i := range events {
		e := &events[i]
		if e.CreatedAt.Before(cutoff) || e.Country == "" {
			continue
		}
		countries[normalizeCountry(e.Country)] = struct{}{}
	}
	if len(countries) > countryDiversity24h {
		score += 40
	}
	return score, nil
}

var botMarkers = []string{
	"bot", "crawler", "spider", "scraper", "headless", "phantomjs",
	"selenium", "puppeteer", "playwright",
}

var toolingMarkers = []string{
	"curl", "wget", "python-requests", "python-urllib", "go-http-client",
	"java/", "postman", "insomnia", "httpie",
}

var staleOSMarkers = []string{
	"windows nt 5.", "windows 98", "windows xp", "android 2.", "android 4.0",
}

func (a *Assessor) checkBotTraffic(_ context.Context, dc *fraud.DetectionContext) (int, error) {
	ua := strings.ToLower(strings.TrimSpace(dc.UserAgent))
	if ua == "" {
		return 20, nil
	}
	score := 0
	if containsAny(ua, botMarkers) {
		score += 80
	} else if containsAny(ua, toolingMarkers) {
		score += 60
	}
	if containsAny(ua, staleOSMarkers) {
		score += 30
	}
	return score, nil
}

const (
	usersPerIP24h = 5
	ipsPerUser24h = 10
	ipLookback    = 500
)

func (a *Assessor) checkIPReputation(ctx context.Context, dc *fraud.DetectionContext) (int, error) {
	ip := net.ParseIP(dc.IPAddress)
	if ip == nil {
		return 0, nil
	}
	// Dev/test exemption: private and loopback ranges never score.
	if ip.IsLoopback() || ip.IsPrivate() {
		return 0, nil
	}
	now := referenceTime(dc)
	since := now.Add(-24 * time.Hour)
	score := 0

	shared, err := a.reader.FindRecentEvents(ctx, history.Filter{IPAddress: dc.IPAddress, Since: since}, ipLookback)
	if err != nil {
		return 0, fmt.Errorf("ip sharing history: %w", err)
	}
	users := make(map[string]struct{})
	for i := range shared {
		if shared[i].ActorID != "" {
			users[shared[i].ActorID] = struct{}{}
		}
	}
	if len(users) > usersPerIP24h {
		score += 40
	}

	if dc.UserID != "" {
		byUser, err := a.reader.FindRecentEvents(ctx, history.Filter{ActorID: dc.UserID, Since: since}, ipLookback)
		if err != nil {
			return score, fmt.Errorf("user ip history: %w", err)
		}
		ips := make(map[string]struct{})
		for i := range byUser {
			if byUser[i].IPAddress != "" {
				ips[byUser[i].IPAddress] = struct{}{}
			}
		}
		if len(ips) > ipsPerUser24h {
			score += 50
		}
	}
	return score, nil
}

const (
	repetitionMinOps  = 5
	rapidFireMinOps   = 3
	rapidFireMeanGap  = 500 * time.Millisecond
	behaviorLookback  = 100
)

func (a *Assessor) checkBehaviorPattern(ctx context.Context, dc *fraud.DetectionContext) (int, error) {
	if dc.UserID == "" && dc.IPAddress == "" {
		return 0, nil
	}
	now := referenceTime(dc)

	f := actorFilter(dc)
	f.Action = history.ActionOperation
	f.Since = now.Add(-5 * time.Minute)
	events, err := a.reader.FindRecentEvents(ctx, f, behaviorLookback)
	if err != nil {
		return 0, fmt.Errorf("behavior history: %w", err)
	}

	score := 0
	if len(events) >= repetitionMinOps {
		uniform := true
		for i := 1; i < len(events); i++ {
			if events[i].OperationType != events[0].OperationType {
				uniform = false
				break
			}
		}
		if uniform {
			score += 40
		}
	}
	if n := len(events); n >= rapidFireMinOps {
		// Events arrive newest first.
		span := events[0].CreatedAt.Sub(events[n-1].CreatedAt)
		if span/time.Duration(n-1) < rapidFireMeanGap {
			score += 50
		}
	}
	return score, nil
}

// checkTimeAnomaly flags operations in the 02:00-05:00 dead window of the
// context's local clock.
func (a *Assessor) checkTimeAnomaly(_ context.Context, dc *fraud.DetectionContext) (int, error) {
	hour := referenceTime(dc).Hour()
	if hour >= 2 && hour < 5 {
		return 20, nil
	}
	return 0, nil
}

const historyWindow = 30 * 24 * time.Hour

func (a *Assessor) checkHistoricalRisk(ctx context.Context, dc *fraud.DetectionContext) (int, error) {
	if dc.UserID == "" && dc.IPAddress == "" {
		return 0, nil
	}
	since := referenceTime(dc).Add(-historyWindow)
	score := 0

	f := actorFilter(dc)
	f.Action = history.ActionSecurityAlert
	f.Since = since
	alerts, err := a.reader.CountEvents(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("alert history: %w", err)
	}
	switch {
	case alerts > 10:
		score += 60
	case alerts > 5:
		score += 30
	}

	f.Action = history.ActionBlocked
	blocked, err := a.reader.CountEvents(ctx, f)
	if err != nil {
		return score, fmt.Errorf("block history: %w", err)
	}
	if blocked > 0 {
		score += 40
	}
	return score, nil
}

const earthRadiusKm = 6371.0

// haversineKm is the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func normalizeCountry(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
