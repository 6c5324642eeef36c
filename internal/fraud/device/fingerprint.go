// Package device builds content-addressed device fingerprints from raw
// client signals and validates identity consistency across sessions.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veloria/fraudguard/internal/fraud"
)

// Data carries the raw device signals collected client-side.
type Data struct {
	UserAgent           string   `json:"user_agent"`
	ScreenWidth         int      `json:"screen_width"`
	ScreenHeight        int      `json:"screen_height"`
	Timezone            string   `json:"timezone"`
	Language            string   `json:"language"`
	Platform            string   `json:"platform"`
	HardwareConcurrency int      `json:"hardware_concurrency"`
	DeviceMemory        int      `json:"device_memory"`
	Plugins             []string `json:"plugins"`
	Canvas              string   `json:"canvas"`
	WebGL               string   `json:"webgl"`
	Audio               string   `json:"audio"`
	Webdriver           bool     `json:"webdriver"`
}

// Components are the normalized signals the fingerprint id is derived from.
type Components struct {
	UserAgent           string   `json:"user_agent"`
	ScreenWidth         int      `json:"screen_width"`
	ScreenHeight        int      `json:"screen_height"`
	Timezone            string   `json:"timezone"`
	Language            string   `json:"language"`
	Platform            string   `json:"platform"`
	HardwareConcurrency int      `json:"hardware_concurrency"`
	DeviceMemory        int      `json:"device_memory"`
	Plugins             []string `json:"plugins"`
	Canvas              string   `json:"canvas"`
	WebGL               string   `json:"webgl"`
	Audio               string   `json:"audio"`
	Webdriver           bool     `json:"webdriver"`
}

// Fingerprint is the immutable generated identity of a device.
type Fingerprint struct {
	ID              string     `json:"fingerprint_id"`
	Components      Components `json:"components"`
	TrustScore      int        `json:"trust_score"`
	IsVirtualDevice bool       `json:"is_virtual_device"`
	IsBotLike       bool       `json:"is_bot_like"`
	GeneratedAt     time.Time  `json:"generated_at"`
}

// Recommendation is the validator's suggested handling of a session.
type Recommendation string

const (
	RecommendAllow     Recommendation = "allow"
	RecommendChallenge Recommendation = "challenge"
	RecommendBlock     Recommendation = "block"
)

// Anomaly tags reported by Validate.
const (
	AnomalyBrowserChange    = "browser_change"
	AnomalyPlatformChange   = "platform_change"
	AnomalyResolutionChange = "screen_resolution_change"
	AnomalyTimezoneChange   = "timezone_change"
	AnomalyHardwareChange   = "hardware_change"
	AnomalyCanvasChange     = "canvas_fingerprint_change"
)

// Validation is the transient result of comparing a fingerprint against
// an actor's history.
type Validation struct {
	IsValid          bool            `json:"is_valid"`
	ConsistencyScore int             `json:"consistency_score"`
	Anomalies        []string        `json:"anomalies"`
	RiskLevel        fraud.RiskLevel `json:"risk_level"`
	Recommendation   Recommendation  `json:"recommendation"`
}

// Validator generates and validates device fingerprints.
type Validator struct {
	logger *zap.Logger
}

func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{logger: logger.Named("device")}
}

// suspicious user-agent fragments that indicate automation rather than a
// real browser session.
var suspiciousUAMarkers = []string{
	"headless", "phantomjs", "selenium", "webdriver", "puppeteer",
	"playwright", "electron", "slimerjs", "nightmare",
}

// virtual machine / software rendering markers.
var vmMarkers = []string{
	"virtualbox", "vmware", "qemu", "kvm", "xen", "parallels", "hyper-v",
}

var softwareRasterizers = []string{
	"swiftshader", "llvmpipe", "software rasterizer",
}

var botUAMarkers = []string{
	"bot", "crawler", "spider", "scraper", "headless", "phantomjs",
	"selenium", "puppeteer", "playwright",
}

const shortSignal = 10 // signatures below this length carry no entropy

// Generate normalizes the raw signals, derives the content-addressed id,
// and scores device trust.
func (v *Validator) Generate(data Data) Fingerprint {
	c := normalize(data)
	fp := Fingerprint{
		ID:              componentHash(c),
		Components:      c,
		TrustScore:      trustScore(c),
		IsVirtualDevice: isVirtualDevice(c),
		IsBotLike:       isBotLike(c),
		GeneratedAt:     time.Now().UTC(),
	}
	if fp.IsBotLike || fp.IsVirtualDevice {
		v.logger.Debug("suspicious device fingerprinted",
			zap.String("fingerprint_id", fp.ID),
			zap.Bool("bot_like", fp.IsBotLike),
			zap.Bool("virtual", fp.IsVirtualDevice),
			zap.Int("trust_score", fp.TrustScore))
	}
	return fp
}

func normalize(d Data) Components {
	plugins := d.Plugins
	if plugins == nil {
		plugins = []string{}
	}
	return Components{
		UserAgent:           strings.ToLower(strings.TrimSpace(d.UserAgent)),
		ScreenWidth:         maxInt(d.ScreenWidth, 0),
		ScreenHeight:        maxInt(d.ScreenHeight, 0),
		Timezone:            strings.TrimSpace(d.Timezone),
		Language:            strings.ToLower(strings.TrimSpace(d.Language)),
		Platform:            strings.ToLower(strings.TrimSpace(d.Platform)),
		HardwareConcurrency: maxInt(d.HardwareConcurrency, 0),
		DeviceMemory:        maxInt(d.DeviceMemory, 0),
		Plugins:             plugins,
		Canvas:              d.Canvas,
		WebGL:               d.WebGL,
		Audio:               d.Audio,
		Webdriver:           d.Webdriver,
	}
}

// componentHash derives the fingerprint id from the canonical serialization
// of every normalized component; changing any one changes the id.
func componentHash(c Components) string {
	canonical := fmt.Sprintf("%s|%dx%d|%s|%s|%s|%d|%d|%s|%s|%s|%s|%t",
		c.UserAgent, c.ScreenWidth, c.ScreenHeight, c.Timezone, c.Language,
		c.Platform, c.HardwareConcurrency, c.DeviceMemory,
		strings.Join(c.Plugins, ","), c.Canvas, c.WebGL, c.Audio, c.Webdriver)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func trustScore(c Components) int {
	score := 100
	for _, marker := range suspiciousUAMarkers {
		if strings.Contains(c.UserAgent, marker) {
			score -= 30
			break
		}
	}
	if c.ScreenWidth == 0 || c.ScreenHeight == 0 {
		score -= 20
	}
	if c.ScreenWidth == 800 && c.ScreenHeight == 600 {
		score -= 15
	}
	if c.HardwareConcurrency == 0 {
		score -= 10
	}
	if c.HardwareConcurrency < 2 || c.HardwareConcurrency > 32 {
		score -= 10
	}
	if len(c.Canvas) < shortSignal {
		score -= 15
	}
	if len(c.WebGL) < shortSignal {
		score -= 10
	}
	if len(c.Plugins) == 0 {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

func isVirtualDevice(c Components) bool {
	for _, marker := range vmMarkers {
		if strings.Contains(c.UserAgent, marker) || strings.Contains(c.Platform, marker) {
			return true
		}
	}
	webgl := strings.ToLower(c.WebGL)
	for _, r := range softwareRasterizers {
		if strings.Contains(webgl, r) {
			return true
		}
	}
	return false
}

func isBotLike(c Components) bool {
	for _, marker := range botUAMarkers {
		if strings.Contains(c.UserAgent, marker) {
			return true
		}
	}
	if c.Webdriver {
		return true
	}
	// A device with no canvas, WebGL, or audio entropy at all is almost
	// certainly a non-browser client.
	if len(c.Canvas) < shortSignal && len(c.WebGL) < shortSignal && len(c.Audio) < shortSignal {
		return true
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
