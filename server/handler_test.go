package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respguard/circuitbreaker"
	"respguard/logger"
	"respguard/metrics"
	"respguard/processor"
	"respguard/retry"
	"respguard/types"
)

type staticGenerator struct{ reply string }

func (g staticGenerator) Generate(context.Context, string) (string, error) { return g.reply, nil }

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *Handler) {
	t.Helper()
	if opts.Processor == nil {
		opts.Processor = processor.New(processor.WithMetrics(metrics.NewCollector(50)))
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	h, err := NewHandler(opts)
	require.NoError(t, err)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, h
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestProcessEndpoint(t *testing.T) {
	var audit bytes.Buffer
	srv, h := newTestServer(t, Options{Audit: logger.NewAuditWriter(&audit, logger.AuditConfig{})})

	resp := postJSON(t, srv.URL+"/v1/process", ProcessRequest{Response: "```json\n{\"grade\":\"b\",\"coverage\":\"85%\"}\n```"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decodeResponse(t, resp)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "B", data["grade"])
	assert.Equal(t, 85.0, data["coverage"])

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.outcomes.WithLabelValues(types.AnalysisSchemaName, "true", "false")))
	assert.Contains(t, audit.String(), `"operation":"code_analysis"`)
}

func TestProcessEndpointErrors(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp := postJSON(t, srv.URL+"/v1/process", ProcessRequest{Response: "{}", Shape: "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	bad, err := http.Post(srv.URL+"/v1/process", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	get, err := http.Get(srv.URL + "/v1/process")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestProcessEndpointReportsFallback(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp := postJSON(t, srv.URL+"/v1/process", ProcessRequest{Response: ""})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeResponse(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["fallbackUsed"])
}

func TestAnalyzeEndpoint(t *testing.T) {
	p := processor.New()
	analyzer := processor.NewAnalyzer(p, staticGenerator{reply: `{"grade":"A","coverage":90}`}, retry.NewExecutor(retry.DefaultConfig()), nil)
	srv, _ := newTestServer(t, Options{Processor: p, Analyzer: analyzer})

	resp := postJSON(t, srv.URL+"/v1/analyze", AnalyzeRequest{Prompt: "review"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeResponse(t, resp)
	assert.Equal(t, "A", body["data"].(map[string]interface{})["grade"])

	empty := postJSON(t, srv.URL+"/v1/analyze", AnalyzeRequest{})
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)
}

func TestAnalyzeWithoutProvider(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp := postJSON(t, srv.URL+"/v1/analyze", AnalyzeRequest{Prompt: "review"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsExportImport(t *testing.T) {
	srv, h := newTestServer(t, Options{})
	postJSON(t, srv.URL+"/v1/process", ProcessRequest{Response: ""})

	resp, err := http.Get(srv.URL + "/v1/metrics")
	require.NoError(t, err)
	blob, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(blob), `"exportTime"`)

	h.processor.Metrics().Reset()
	assert.EqualValues(t, 0, h.processor.Metrics().Metrics().TotalErrors)

	imported, err := http.Post(srv.URL+"/v1/metrics", "application/json", bytes.NewReader(blob))
	require.NoError(t, err)
	defer imported.Body.Close()
	require.Equal(t, http.StatusOK, imported.StatusCode)
	assert.EqualValues(t, 1, h.processor.Metrics().Metrics().TotalErrors)

	stats, err := http.Get(srv.URL + "/v1/metrics/stats?top=1")
	require.NoError(t, err)
	defer stats.Body.Close()
	body := decodeResponse(t, stats)
	assert.Len(t, body["topErrorKinds"], 1)
}

func TestPrometheusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	postJSON(t, srv.URL+"/v1/process", ProcessRequest{Response: ""})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(text), `respguard_errors_total{kind="empty_response"} 1`)
	assert.Contains(t, string(text), `respguard_processed_responses_total{fallback="true",operation="code_analysis",success="false"} 1`)
}

func TestHealthEndpoint(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Hour}, nil)
	endpoints := []string{"http://a", "http://b"}
	breaker.InitializeKeys(endpoints)
	srv, _ := newTestServer(t, Options{Breaker: breaker, Endpoints: endpoints})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body := decodeResponse(t, resp)
	resp.Body.Close()
	assert.Equal(t, "ok", body["status"])

	breaker.RecordFailure("http://a")
	breaker.RecordFailure("http://b")
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body = decodeResponse(t, resp)
	resp.Body.Close()
	assert.Equal(t, "degraded", body["status"])
	assert.Len(t, body["endpoints"], 2)
}

func TestNewHandlerRequiresProcessor(t *testing.T) {
	_, err := NewHandler(Options{})
	assert.Error(t, err)
}
