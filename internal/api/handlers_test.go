package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veloria/fraudguard/internal/fraud/assessor"
	"github.com/veloria/fraudguard/internal/fraud/audit"
	"github.com/veloria/fraudguard/internal/fraud/device"
	"github.com/veloria/fraudguard/internal/fraud/history"
	"github.com/veloria/fraudguard/internal/fraud/notify"
	"github.com/veloria/fraudguard/internal/fraud/response"
)

type testServer struct {
	router *gin.Engine
	events *history.MemoryStore
	blocks *response.MemoryStore
	engine *response.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	events := history.NewMemoryStore()
	blocks := response.NewMemoryStore()

	a := assessor.New(events, assessor.Config{PerCheckTimeout: time.Second}, logger)
	v := device.NewValidator(logger)
	e := response.NewEngine(blocks, audit.NewZapSink(logger), notify.NewLogChannel(logger), response.Config{}, logger)

	h := NewHandlers(a, v, e, events, logger)
	return &testServer{
		router: NewRouter(h, logger, gin.TestMode),
		events: events,
		blocks: blocks,
		engine: e,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func assessBody(overrides func(m map[string]interface{})) map[string]interface{} {
	m := map[string]interface{}{
		"user_id":    "u-1",
		"ip_address": "203.0.113.5",
		"user_agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		"operation": map[string]interface{}{
			"type":     "checkout",
			"quantity": 1,
			"price":    2500,
		},
	}
	if overrides != nil {
		overrides(m)
	}
	return m
}

type assessReply struct {
	Assessment struct {
		RiskScore   int            `json:"risk_score"`
		RiskLevel   string         `json:"risk_level"`
		ShouldBlock bool           `json:"should_block"`
		Details     map[string]int `json:"details"`
	} `json:"assessment"`
	Response struct {
		Action          string `json:"action"`
		Reason          string `json:"reason"`
		DurationSeconds int64  `json:"duration_seconds"`
	} `json:"response"`
}

func TestAssessCleanRequest(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/assess", assessBody(nil))
	require.Equal(t, http.StatusOK, w.Code)

	var reply assessReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "low", reply.Assessment.RiskLevel)
	assert.False(t, reply.Assessment.ShouldBlock)
	assert.Equal(t, "allow", reply.Response.Action)

	// The operation lands in the event history for future assessments.
	n, err := s.events.CountEvents(context.Background(), history.Filter{ActorID: "u-1", Action: history.ActionOperation})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAssessCriticalRequestBlocks(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/assess", assessBody(func(m map[string]interface{}) {
		m["operation"] = map[string]interface{}{
			"type":     "checkout",
			"quantity": 120,
			"price":    50,
		}
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var reply assessReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "critical", reply.Assessment.RiskLevel)
	assert.True(t, reply.Assessment.ShouldBlock)
	assert.Equal(t, "block", reply.Response.Action)

	blocked, _ := s.engine.IsBlocked(context.Background(), "u-1")
	assert.True(t, blocked)

	n, err := s.events.CountEvents(context.Background(), history.Filter{ActorID: "u-1", Action: history.ActionBlocked})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAssessValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing ip", assessBody(func(m map[string]interface{}) { delete(m, "ip_address") })},
		{"malformed ip", assessBody(func(m map[string]interface{}) { m["ip_address"] = "not-an-ip" })},
		{"missing operation", assessBody(func(m map[string]interface{}) { delete(m, "operation") })},
		{"bad country", assessBody(func(m map[string]interface{}) {
			m["geolocation"] = map[string]interface{}{"country": "DEU"}
		})},
		{"bad latitude", assessBody(func(m map[string]interface{}) {
			m["geolocation"] = map[string]interface{}{"country": "DE", "latitude": 123.0}
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/assess", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestFingerprintEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/fingerprint", map[string]interface{}{
		"user_agent":           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		"screen_width":         1920,
		"screen_height":        1080,
		"timezone":             "Europe/Berlin",
		"language":             "de-DE",
		"platform":             "Win32",
		"hardware_concurrency": 8,
		"plugins":              []string{"pdf-viewer"},
		"canvas":               "c4nv4s-signature-1234567890",
		"webgl":                "webgl-angle-direct3d11-abcdef",
		"audio":                "audio-fp-998877665544",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var fp device.Fingerprint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fp))
	assert.Len(t, fp.ID, 64)
	assert.Equal(t, 100, fp.TrustScore)
	assert.False(t, fp.IsBotLike)
}

func TestValidateFingerprintEndpoint(t *testing.T) {
	s := newTestServer(t)
	v := device.NewValidator(zap.NewNop())

	data := device.Data{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36",
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		Timezone:            "Europe/Berlin",
		Language:            "de-DE",
		Platform:            "Win32",
		HardwareConcurrency: 8,
		Plugins:             []string{"pdf-viewer"},
		Canvas:              "c4nv4s-signature-1234567890",
		WebGL:               "webgl-angle-direct3d11-abcdef",
		Audio:               "audio-fp-998877665544",
	}
	current := v.Generate(data)

	w := s.do(t, http.MethodPost, "/v1/fingerprint/validate", map[string]interface{}{
		"current": current,
		"history": []device.Fingerprint{current},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result device.Validation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.IsValid)
	assert.Equal(t, 100, result.ConsistencyScore)
}

func TestStatisticsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/statistics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 0, stats["active_blocks"])
}

func TestReleaseBlockEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.blocks.Set(ctx, response.Block{
		Identifier: "u-1",
		RiskScore:  96,
		Permanent:  true,
		CreatedAt:  now,
	}))

	w := s.do(t, http.MethodDelete, "/v1/blocks/u-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	blocked, _ := s.engine.IsBlocked(ctx, "u-1")
	assert.False(t, blocked)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
