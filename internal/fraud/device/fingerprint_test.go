package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func healthyDeviceData() Data {
	return Data{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		Timezone:            "Europe/Berlin",
		Language:            "de-DE",
		Platform:            "Win32",
		HardwareConcurrency: 8,
		DeviceMemory:        16,
		Plugins:             []string{"pdf-viewer", "widevine"},
		Canvas:              "c4nv4s-signature-1234567890",
		WebGL:               "webgl-angle-direct3d11-abcdef",
		Audio:               "audio-fp-998877665544",
	}
}

func TestGenerateDeterministic(t *testing.T) {
	v := NewValidator(zap.NewNop())

	first := v.Generate(healthyDeviceData())
	second := v.Generate(healthyDeviceData())
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, first.ID, 64)
}

func TestGenerateIDChangesWithAnyComponent(t *testing.T) {
	v := NewValidator(zap.NewNop())
	base := v.Generate(healthyDeviceData())

	mutations := map[string]func(*Data){
		"user agent":  func(d *Data) { d.UserAgent = "Mozilla/5.0 (X11; Linux x86_64)" },
		"screen":      func(d *Data) { d.ScreenWidth = 2560 },
		"timezone":    func(d *Data) { d.Timezone = "America/Bogota" },
		"language":    func(d *Data) { d.Language = "es-CO" },
		"platform":    func(d *Data) { d.Platform = "Linux" },
		"concurrency": func(d *Data) { d.HardwareConcurrency = 4 },
		"memory":      func(d *Data) { d.DeviceMemory = 8 },
		"plugins":     func(d *Data) { d.Plugins = []string{"pdf-viewer"} },
		"canvas":      func(d *Data) { d.Canvas = "different-canvas-signature" },
		"webgl":       func(d *Data) { d.WebGL = "different-webgl-signature" },
		"audio":       func(d *Data) { d.Audio = "different-audio-signature" },
		"webdriver":   func(d *Data) { d.Webdriver = true },
	}

	for name, mutate := range mutations {
		data := healthyDeviceData()
		mutate(&data)
		got := v.Generate(data)
		assert.NotEqual(t, base.ID, got.ID, "mutating %s should change the fingerprint id", name)
	}
}

func TestGenerateTrustScore(t *testing.T) {
	v := NewValidator(zap.NewNop())

	tests := []struct {
		name      string
		mutate    func(*Data)
		wantScore int
	}{
		{"healthy device", func(d *Data) {}, 100},
		{"headless user agent", func(d *Data) {
			d.UserAgent = "Mozilla/5.0 HeadlessChrome/120.0"
		}, 70},
		{"zero screen", func(d *Data) {
			d.ScreenWidth = 0
			d.ScreenHeight = 0
		}, 80},
		{"default bot resolution", func(d *Data) {
			d.ScreenWidth = 800
			d.ScreenHeight = 600
		}, 85},
		{"zero concurrency", func(d *Data) {
			// Scores both the zero-value and out-of-range deductions.
			d.HardwareConcurrency = 0
		}, 80},
		{"implausible concurrency", func(d *Data) {
			d.HardwareConcurrency = 64
		}, 90},
		{"short canvas", func(d *Data) {
			d.Canvas = "short"
		}, 85},
		{"missing webgl", func(d *Data) {
			d.WebGL = ""
		}, 90},
		{"no plugins", func(d *Data) {
			d.Plugins = nil
		}, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := healthyDeviceData()
			tt.mutate(&data)
			fp := v.Generate(data)
			assert.Equal(t, tt.wantScore, fp.TrustScore)
		})
	}
}

func TestGenerateTrustScoreFloor(t *testing.T) {
	v := NewValidator(zap.NewNop())
	fp := v.Generate(Data{UserAgent: "HeadlessChrome"})
	assert.Equal(t, 0, fp.TrustScore)
}

func TestGenerateBotDetection(t *testing.T) {
	v := NewValidator(zap.NewNop())

	t.Run("bot user agent", func(t *testing.T) {
		data := healthyDeviceData()
		data.UserAgent = "Googlebot/2.1 (+http://www.google.com/bot.html)"
		assert.True(t, v.Generate(data).IsBotLike)
	})

	t.Run("webdriver flag", func(t *testing.T) {
		data := healthyDeviceData()
		data.Webdriver = true
		assert.True(t, v.Generate(data).IsBotLike)
	})

	t.Run("missing rendering features", func(t *testing.T) {
		// A non-bot user agent with no canvas, WebGL, or audio entropy is
		// still treated as bot-like, and loses at least the canvas and
		// WebGL trust deductions.
		data := healthyDeviceData()
		data.Canvas = ""
		data.WebGL = ""
		data.Audio = ""
		fp := v.Generate(data)
		assert.True(t, fp.IsBotLike)
		assert.LessOrEqual(t, fp.TrustScore, 75)
	})

	t.Run("healthy device is not bot-like", func(t *testing.T) {
		assert.False(t, v.Generate(healthyDeviceData()).IsBotLike)
	})
}

func TestGenerateVirtualDeviceDetection(t *testing.T) {
	v := NewValidator(zap.NewNop())

	t.Run("vm marker in user agent", func(t *testing.T) {
		data := healthyDeviceData()
		data.UserAgent = "Mozilla/5.0 (VirtualBox guest)"
		assert.True(t, v.Generate(data).IsVirtualDevice)
	})

	t.Run("software rasterizer", func(t *testing.T) {
		data := healthyDeviceData()
		data.WebGL = "Google SwiftShader renderer string"
		assert.True(t, v.Generate(data).IsVirtualDevice)
	})

	t.Run("physical device", func(t *testing.T) {
		assert.False(t, v.Generate(healthyDeviceData()).IsVirtualDevice)
	})
}

func TestNormalizeFillsDefaults(t *testing.T) {
	v := NewValidator(zap.NewNop())
	fp := v.Generate(Data{UserAgent: "  Mozilla/5.0 TEST  "})
	require.NotNil(t, fp.Components.Plugins)
	assert.Empty(t, fp.Components.Plugins)
	assert.Equal(t, "mozilla/5.0 test", fp.Components.UserAgent)
	assert.Equal(t, 0, fp.Components.ScreenWidth)
}
