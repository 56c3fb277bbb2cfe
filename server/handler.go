// Package server exposes response processing over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"respguard/circuitbreaker"
	"respguard/internal"
	"respguard/logger"
	"respguard/metrics"
	"respguard/processor"
	"respguard/types"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 4 << 20

// Options wires a Handler. Analyzer, Breaker and Audit may be nil.
type Options struct {
	Processor *processor.Processor
	Analyzer  *processor.Analyzer
	Breaker   *circuitbreaker.Breaker
	// Endpoints are reported by /health
	Endpoints []string
	Audit     *logger.AuditLogger
	Logger    logger.Sink
	// Registry receives the HTTP and collector metrics; a fresh one is used when nil
	Registry *prometheus.Registry
	Version  string
}

// Handler serves the processing API
type Handler struct {
	processor *processor.Processor
	analyzer  *processor.Analyzer
	breaker   *circuitbreaker.Breaker
	endpoints []string
	audit     *logger.AuditLogger
	logger    logger.Sink
	registry  *prometheus.Registry
	metrics   *httpMetrics
	version   string
}

// NewHandler creates a Handler and registers its metrics
func NewHandler(opts Options) (*Handler, error) {
	if opts.Processor == nil {
		return nil, errors.New("server: processor is required")
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if c := opts.Processor.Metrics(); c != nil {
		if err := reg.Register(metrics.NewPrometheusExporter(c)); err != nil {
			return nil, fmt.Errorf("register collector metrics: %w", err)
		}
	}
	return &Handler{
		processor: opts.Processor,
		analyzer:  opts.Analyzer,
		breaker:   opts.Breaker,
		endpoints: opts.Endpoints,
		audit:     opts.Audit,
		logger:    logger.OrNop(opts.Logger),
		registry:  reg,
		metrics:   newHTTPMetrics(reg),
		version:   opts.Version,
	}, nil
}

// Routes returns the HTTP routes
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.metrics.instrument("root", h.handleRoot))
	mux.HandleFunc("/health", h.metrics.instrument("health", h.handleHealth))
	mux.HandleFunc("/v1/process", h.metrics.instrument("process", h.handleProcess))
	mux.HandleFunc("/v1/analyze", h.metrics.instrument("analyze", h.handleAnalyze))
	mux.HandleFunc("/v1/metrics", h.metrics.instrument("metrics", h.handleMetrics))
	mux.HandleFunc("/v1/metrics/stats", h.metrics.instrument("stats", h.handleStats))
	mux.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	return mux
}

// ProcessRequest is the body of POST /v1/process
type ProcessRequest struct {
	Response string `json:"response"`
	// Shape names a registered shape; empty means the analysis shape
	Shape    string `json:"shape,omitempty"`
	FilePath string `json:"filePath,omitempty"`
}

// AnalyzeRequest is the body of POST /v1/analyze
type AnalyzeRequest struct {
	Prompt   string `json:"prompt"`
	FilePath string `json:"filePath,omitempty"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "respguard",
		"version": h.version,
		"status":  "running",
		"shapes":  h.processor.Registry().ListShapes(),
		"endpoints": []string{
			"GET /health - Health check",
			"POST /v1/process - Clean, recover and validate a model response",
			"POST /v1/analyze - Generate and process a code analysis",
			"GET|POST /v1/metrics - Export or import collector state",
			"GET /v1/metrics/stats - Detailed error statistics",
			"GET /metrics - Prometheus metrics",
		},
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	var ranked []circuitbreaker.Stats
	if h.breaker != nil && len(h.endpoints) > 0 {
		ranked = h.breaker.Ranked(h.endpoints)
		if ranked[0].State != circuitbreaker.StateClosed.String() {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"endpoints": ranked,
	})
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req ProcessRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, requestID := requestContext(r)
	shape := req.Shape
	if shape == "" {
		shape = types.AnalysisSchemaName
	}

	result, err := h.processor.ProcessNamed(ctx, req.Response, shape, processor.WithFilePath(req.FilePath))
	if errors.Is(err, processor.ErrUnknownShape) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.metrics.observeOutcome(shape, result.Success, result.FallbackUsed)
	h.auditResponse(requestID, shape, req.Response, result)
	w.Header().Set("X-Request-ID", requestID)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "no model provider configured")
		return
	}
	var req AnalyzeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	ctx, requestID := requestContext(r)
	gen, err := h.analyzer.Analyze(ctx, req.Prompt, processor.WithFilePath(req.FilePath))
	if err != nil {
		h.logger.Error(logger.ComponentServer, logger.CategoryError, requestID,
			"Analysis generation failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.metrics.observeOutcome("analysis", gen.Result.Success, gen.Result.FallbackUsed)
	h.auditResponse(requestID, "analysis", gen.Raw, gen.Result)
	w.Header().Set("X-Request-ID", requestID)
	writeJSON(w, http.StatusOK, gen.Result)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	collector := h.processor.Metrics()
	if collector == nil {
		writeError(w, http.StatusNotFound, "metrics collection is disabled")
		return
	}

	switch r.Method {
	case http.MethodGet:
		blob, err := collector.Export()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(blob)
	case http.MethodPost:
		blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := collector.Import(blob); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, collector.Metrics())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	top := 5
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "top must be an integer")
			return
		}
		top = n
	}
	writeJSON(w, http.StatusOK, h.processor.Metrics().DetailedStats(top))
}

func (h *Handler) auditResponse(requestID, operation, raw string, outcome interface{}) {
	if err := h.audit.LogResponse(requestID, operation, raw, outcome); err != nil {
		h.logger.Warn(logger.ComponentServer, logger.CategoryWarning, requestID,
			"Failed to write audit entry", map[string]interface{}{"error": err.Error()})
	}
}

// requestContext attaches the caller's X-Request-ID, or a new one
func requestContext(r *http.Request) (context.Context, string) {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return internal.WithRequestID(r.Context(), id), id
	}
	return internal.EnsureRequestID(r.Context())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
