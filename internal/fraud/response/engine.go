package response

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veloria/fraudguard/internal/fraud"
	"github.com/veloria/fraudguard/internal/fraud/audit"
	"github.com/veloria/fraudguard/internal/fraud/notify"
	"github.com/veloria/fraudguard/pkg/metrics"
)

// Policy thresholds, checked in descending order.
const (
	blockThreshold     = 91
	escalateThreshold  = 85
	rateLimitThreshold = 71
	challengeThreshold = 50
	logThreshold       = 31
)

// Block duration tiers.
const (
	blockTTLDefault = 15 * time.Minute
	blockTTLDay     = 24 * time.Hour
	blockTTLWeek    = 7 * 24 * time.Hour
	escalateTTL     = 15 * time.Minute
	rateLimitTTL    = time.Hour
)

// rateLimitMultiplier scales the caller's rate limits while a rate_limit
// response is in force.
const rateLimitMultiplier = 0.25

const auditModule = "threat_response"

// Config carries the engine's deployment knobs.
type Config struct {
	WhitelistIPs   []string
	WhitelistUsers []string
	SweepInterval  time.Duration
}

// Engine converts risk assessments into escalating responses and owns the
// sweep lifecycle over the injected block store.
type Engine struct {
	store    BlockStore
	audit    audit.Sink
	notifier notify.Channel
	logger   *zap.Logger

	whitelistIPs   map[string]struct{}
	whitelistUsers map[string]struct{}
	sweepInterval  time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewEngine builds an engine over the given collaborators. The sweeper
// does not run until Start is called.
func NewEngine(store BlockStore, sink audit.Sink, notifier notify.Channel, cfg Config, logger *zap.Logger) *Engine {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	e := &Engine{
		store:          store,
		audit:          sink,
		notifier:       notifier,
		logger:         logger.Named("response"),
		whitelistIPs:   toSet(cfg.WhitelistIPs),
		whitelistUsers: toSet(cfg.WhitelistUsers),
		sweepInterval:  interval,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	return e
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// Start launches the background expiry sweeper. Calling it more than
// once has no effect.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.started = true
		go e.sweepLoop(ctx)
	})
}

// Stop halts the sweeper and waits for it to exit. Safe to call whether
// or not Start ran.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	if e.started {
		<-e.doneCh
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Sweep(ctx)
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep removes every expired block. Correctness does not depend on it:
// expired entries are also lazily evicted on lookup.
func (e *Engine) Sweep(ctx context.Context) {
	blocks, err := e.store.All(ctx)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("block_store").Inc()
		e.logger.Error("sweep failed to list blocks", zap.Error(err))
		return
	}
	now := time.Now().UTC()
	removed := 0
	active := 0
	for i := range blocks {
		if blocks[i].Expired(now) {
			if err := e.store.Delete(ctx, blocks[i].Identifier); err != nil {
				e.logger.Error("sweep failed to delete block",
					zap.String("identifier", blocks[i].Identifier), zap.Error(err))
				continue
			}
			removed++
		} else {
			active++
		}
	}
	metrics.ActiveBlocks.Set(float64(active))
	if removed > 0 {
		e.logger.Debug("sweep removed expired blocks", zap.Int("removed", removed))
	}
}

// IsWhitelisted reports whether the context's user or IP is allowlisted.
func (e *Engine) IsWhitelisted(rc *fraud.ResponseContext) bool {
	if rc.UserID != "" {
		if _, ok := e.whitelistUsers[rc.UserID]; ok {
			return true
		}
	}
	if rc.IPAddress != "" {
		if _, ok := e.whitelistIPs[rc.IPAddress]; ok {
			return true
		}
	}
	return false
}

// IsBlocked reports whether the identifier has a live block, lazily
// evicting an expired entry it encounters.
func (e *Engine) IsBlocked(ctx context.Context, identifier string) (bool, *Block) {
	b, err := e.store.Get(ctx, identifier)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("block_store").Inc()
		e.logger.Error("block lookup failed", zap.String("identifier", identifier), zap.Error(err))
		return false, nil
	}
	if b == nil {
		return false, nil
	}
	if b.Expired(time.Now().UTC()) {
		if err := e.store.Delete(ctx, identifier); err != nil {
			e.logger.Error("failed to evict expired block", zap.String("identifier", identifier), zap.Error(err))
		}
		return false, nil
	}
	return true, b
}

// ReleaseBlock removes the identifier's block, expired or not.
func (e *Engine) ReleaseBlock(ctx context.Context, identifier string) error {
	if err := e.store.Delete(ctx, identifier); err != nil {
		return fmt.Errorf("failed to release block: %w", err)
	}
	e.audit.Record(ctx, audit.Entry{
		Action:      "threat.block_released",
		Module:      auditModule,
		ActorID:     identifier,
		ActorType:   "admin",
		Description: fmt.Sprintf("block released for %s", identifier),
	})
	return nil
}

// ExecuteResponse applies whitelist and existing-block checks, decides an
// action by threshold policy, applies its side effects, and audits the
// outcome. It never fails: collaborator errors degrade to logged no-ops.
func (e *Engine) ExecuteResponse(ctx context.Context, a *fraud.RiskAssessment, rc *fraud.ResponseContext) *fraud.Response {
	identifier := identifierOf(rc)

	var resp *fraud.Response
	switch {
	case e.IsWhitelisted(rc):
		resp = &fraud.Response{
			Action:          fraud.ActionAllow,
			Reason:          "identifier is whitelisted",
			DurationSeconds: fraud.DurationInstant,
			Metadata:        e.metadata(a),
		}
	default:
		if blocked, b := e.IsBlocked(ctx, identifier); blocked {
			// Do not re-score: the original reason and remaining TTL stand.
			resp = &fraud.Response{
				Action:          fraud.ActionBlock,
				Reason:          b.Reason,
				DurationSeconds: b.RemainingSeconds(time.Now().UTC()),
				EscalationLevel: 3,
				Metadata:        e.metadata(a),
			}
		} else {
			resp = e.decide(ctx, a, identifier)
		}
	}

	metrics.ResponsesTotal.WithLabelValues(resp.Action.String()).Inc()
	e.recordAudit(ctx, a, rc, identifier, resp)
	return resp
}

func (e *Engine) metadata(a *fraud.RiskAssessment) map[string]interface{} {
	return map[string]interface{}{
		"risk_score": a.RiskScore,
		"risk_level": a.RiskLevel.String(),
	}
}

// decide maps the risk score onto the response ladder and applies side
// effects for the chosen action.
func (e *Engine) decide(ctx context.Context, a *fraud.RiskAssessment, identifier string) *fraud.Response {
	score := a.RiskScore
	switch {
	case score >= blockThreshold:
		return e.respondBlock(ctx, a, identifier)
	case score >= escalateThreshold:
		return e.respondEscalate(ctx, a, identifier)
	case score >= rateLimitThreshold:
		return e.respondRateLimit(ctx, a, identifier)
	case score >= challengeThreshold:
		return &fraud.Response{
			Action:          fraud.ActionChallenge,
			Reason:          fmt.Sprintf("risk score %d requires verification challenge", score),
			DurationSeconds: fraud.DurationInstant,
			Metadata:        e.metadata(a),
		}
	case score >= logThreshold:
		return &fraud.Response{
			Action:          fraud.ActionLog,
			Reason:          fmt.Sprintf("risk score %d logged for review", score),
			DurationSeconds: fraud.DurationInstant,
			Metadata:        e.metadata(a),
		}
	default:
		return &fraud.Response{
			Action:          fraud.ActionAllow,
			Reason:          fmt.Sprintf("risk score %d within normal bounds", score),
			DurationSeconds: fraud.DurationInstant,
			Metadata:        e.metadata(a),
		}
	}
}

func (e *Engine) respondBlock(ctx context.Context, a *fraud.RiskAssessment, identifier string) *fraud.Response {
	repeat := e.wasBlockedBefore(ctx, identifier)
	duration := blockDuration(a.RiskScore, repeat)
	reason := fmt.Sprintf("blocked: risk score %d (%s)", a.RiskScore, a.RiskLevel)

	e.applyBlock(ctx, identifier, reason, a.RiskScore, duration)
	sent := e.sendAlert(ctx, notify.Alert{
		Severity: notify.SeverityCritical,
		Title:    "actor blocked",
		Message:  reason,
		Details:  alertDetails(a, identifier, duration),
	})

	meta := e.metadata(a)
	meta["repeat_offender"] = repeat
	return &fraud.Response{
		Action:           fraud.ActionBlock,
		Reason:           reason,
		DurationSeconds:  duration,
		NotificationSent: sent,
		EscalationLevel:  3,
		Metadata:         meta,
	}
}

func (e *Engine) respondEscalate(ctx context.Context, a *fraud.RiskAssessment, identifier string) *fraud.Response {
	reason := fmt.Sprintf("escalated: risk score %d requires review", a.RiskScore)
	duration := int64(escalateTTL.Seconds())

	// Admins are alerted before the hold is written.
	sent := e.sendAlert(ctx, notify.Alert{
		Severity: notify.SeverityCritical,
		Title:    "incident escalated",
		Message:  reason,
		Details:  alertDetails(a, identifier, duration),
	})
	e.applyBlock(ctx, identifier, reason, a.RiskScore, duration)

	return &fraud.Response{
		Action:           fraud.ActionEscalate,
		Reason:           reason,
		DurationSeconds:  duration,
		NotificationSent: sent,
		EscalationLevel:  2,
		Metadata:         e.metadata(a),
	}
}

func (e *Engine) respondRateLimit(ctx context.Context, a *fraud.RiskAssessment, identifier string) *fraud.Response {
	reason := fmt.Sprintf("rate limited: risk score %d", a.RiskScore)
	duration := int64(rateLimitTTL.Seconds())
	sent := e.sendAlert(ctx, notify.Alert{
		Severity: notify.SeverityWarning,
		Title:    "actor rate limited",
		Message:  reason,
		Details:  alertDetails(a, identifier, duration),
	})
	meta := e.metadata(a)
	meta["rate_limit_multiplier"] = rateLimitMultiplier
	return &fraud.Response{
		Action:           fraud.ActionRateLimit,
		Reason:           reason,
		DurationSeconds:  duration,
		NotificationSent: sent,
		EscalationLevel:  1,
		Metadata:         meta,
	}
}

// blockDuration picks the block TTL tier. Repeat offenders are held for a
// week regardless of where in the block band they scored.
func blockDuration(score int, repeat bool) int64 {
	switch {
	case score > 95:
		return fraud.DurationPermanent
	case score > 92 || repeat:
		return int64(blockTTLWeek.Seconds())
	case score > 91:
		return int64(blockTTLDay.Seconds())
	default:
		return int64(blockTTLDefault.Seconds())
	}
}

// wasBlockedBefore consults prior block history, including entries that
// expired but were never swept.
func (e *Engine) wasBlockedBefore(ctx context.Context, identifier string) bool {
	was, err := e.store.WasBlocked(ctx, identifier)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("block_store").Inc()
		e.logger.Error("repeat-offender lookup failed", zap.String("identifier", identifier), zap.Error(err))
		return false
	}
	return was
}

// applyBlock writes or overwrites the identifier's block entry.
// Last writer wins under concurrent critical assessments.
func (e *Engine) applyBlock(ctx context.Context, identifier, reason string, score int, durationSec int64) {
	now := time.Now().UTC()
	b := Block{
		Identifier: identifier,
		Reason:     reason,
		RiskScore:  score,
		CreatedAt:  now,
	}
	if durationSec == fraud.DurationPermanent {
		b.Permanent = true
	} else {
		b.ExpiresAt = now.Add(time.Duration(durationSec) * time.Second)
	}
	if err := e.store.Set(ctx, b); err != nil {
		metrics.CollaboratorFailures.WithLabelValues("block_store").Inc()
		e.logger.Error("failed to apply block", zap.String("identifier", identifier), zap.Error(err))
		return
	}
	e.logger.Info("block applied",
		zap.String("identifier", identifier),
		zap.Int("risk_score", score),
		zap.Int64("duration_seconds", durationSec))
}

func (e *Engine) sendAlert(ctx context.Context, a notify.Alert) bool {
	if err := e.notifier.SendAlert(ctx, a); err != nil {
		// Best effort; the channel already logged and counted the failure.
		return false
	}
	return true
}

func alertDetails(a *fraud.RiskAssessment, identifier string, durationSec int64) map[string]interface{} {
	return map[string]interface{}{
		"identifier":       identifier,
		"risk_score":       a.RiskScore,
		"risk_level":       a.RiskLevel.String(),
		"triggered_rules":  a.TriggeredRules,
		"duration_seconds": durationSec,
	}
}

func (e *Engine) recordAudit(ctx context.Context, a *fraud.RiskAssessment, rc *fraud.ResponseContext, identifier string, resp *fraud.Response) {
	actorType := "ip"
	if rc.UserID != "" {
		actorType = "user"
	} else if rc.IPAddress == "" {
		actorType = "unknown"
	}
	e.audit.Record(ctx, audit.Entry{
		Action:      "threat." + resp.Action.String(),
		Module:      auditModule,
		ActorID:     identifier,
		ActorType:   actorType,
		EntityType:  rc.EntityType,
		EntityID:    rc.EntityID,
		Description: fmt.Sprintf("%s (risk %d/%s): %s", resp.Action, a.RiskScore, a.RiskLevel, resp.Reason),
	})
}

// Statistics summarizes the stored blocks, including expired-but-unswept
// entries, whose remaining TTL clamps to zero.
func (e *Engine) Statistics(ctx context.Context) fraud.Statistics {
	stats := fraud.Statistics{
		ByRiskLevel: map[string]int{
			fraud.RiskLevelLow.String():      0,
			fraud.RiskLevelMedium.String():   0,
			fraud.RiskLevelHigh.String():     0,
			fraud.RiskLevelCritical.String(): 0,
		},
	}
	blocks, err := e.store.All(ctx)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("block_store").Inc()
		e.logger.Error("statistics failed to list blocks", zap.Error(err))
		return stats
	}

	now := time.Now().UTC()
	var ttlSum float64
	var ttlCount int
	for i := range blocks {
		b := &blocks[i]
		stats.ActiveBlocks++
		stats.ByRiskLevel[fraud.RiskLevelForScore(b.RiskScore).String()]++
		if b.Permanent {
			stats.PermanentBlocks++
			continue
		}
		ttlSum += float64(b.RemainingSeconds(now))
		ttlCount++
	}
	if ttlCount > 0 {
		stats.MeanRemainingTTLSec = ttlSum / float64(ttlCount)
	}
	metrics.ActiveBlocks.Set(float64(stats.ActiveBlocks))
	return stats
}

// identifierOf resolves the blocking key: user id, else IP, else the
// low-priority "unknown" bucket.
func identifierOf(rc *fraud.ResponseContext) string {
	if rc.UserID != "" {
		return rc.UserID
	}
	if rc.IPAddress != "" {
		return rc.IPAddress
	}
	return "unknown"
}
