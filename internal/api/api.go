// Package api exposes the dashboard HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Hilda2312/iot-uts/internal/control"
	"github.com/Hilda2312/iot-uts/internal/telemetry"
)

// TimestampLayout is the wire format of reading timestamps, always UTC.
const TimestampLayout = "2006-01-02 15:04:05"

// Summarizer builds the dashboard read model, see summary.Engine.
type Summarizer interface {
	Summary(ctx context.Context) (telemetry.Summary, error)
}

// Dispatcher validates and publishes relay commands, see control.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, requested string) (control.Command, error)
}

// LiveReader returns the most recently stored reading, if any.
type LiveReader interface {
	Get(ctx context.Context) (telemetry.Record, bool, error)
}

// APIHandler groups the HTTP handlers. live may be nil.
type APIHandler struct {
	summary Summarizer
	control Dispatcher
	live    LiveReader
	logger  *slog.Logger
}

// NewAPIHandler wires the handlers. Pass a nil live to leave out the live endpoint.
func NewAPIHandler(summary Summarizer, ctrl Dispatcher, live LiveReader, logger *slog.Logger) *APIHandler {
	return &APIHandler{summary: summary, control: ctrl, live: live, logger: logger}
}

// RegisterRoutes maps the dashboard endpoints onto mux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/data_sensor", h.handleSensorSummary)
	mux.HandleFunc("POST /api/control_relay", h.handleControlRelay)
	if h.live != nil {
		mux.HandleFunc("GET /api/data_sensor/live", h.handleLive)
	}
}

// Handler returns the full router: API routes, /health and /metrics,
// wrapped in the request ID and CORS middlewares.
func (h *APIHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return RequestIDMiddleware(CorsMiddleware(mux))
}

type readingDTO struct {
	Idx       int64   `json:"idx"`
	Suhun     float64 `json:"suhun"`
	Humid     float64 `json:"humid"`
	Kecerahan float64 `json:"kecerahan"`
	Timestamp string  `json:"timestamp"`
}

type monthYearDTO struct {
	MonthYear string `json:"month_year"`
}

// summaryResponse keeps the field names the dashboard frontend already reads.
type summaryResponse struct {
	SuhuMax  *float64       `json:"suhumax"`
	SuhuMin  *float64       `json:"suhumin"`
	SuhuRata *float64       `json:"suhurata"`
	Latest   []readingDTO   `json:"nilai_suhu_max_humid_max"`
	Monthly  []monthYearDTO `json:"month_year_max"`
}

func newSummaryResponse(s telemetry.Summary) summaryResponse {
	resp := summaryResponse{
		SuhuMax:  s.MaxC,
		SuhuMin:  s.MinC,
		SuhuRata: s.AvgC,
		Latest:   make([]readingDTO, 0, len(s.Latest)),
		Monthly:  make([]monthYearDTO, 0, len(s.MonthlyMaxima)),
	}
	for _, r := range s.Latest {
		resp.Latest = append(resp.Latest, readingDTO{
			Idx:       r.ID,
			Suhun:     r.TemperatureC,
			Humid:     r.HumidityPct,
			Kecerahan: r.LuxLevel,
			Timestamp: r.RecordedAt.UTC().Format(TimestampLayout),
		})
	}
	for _, m := range s.MonthlyMaxima {
		resp.Monthly = append(resp.Monthly, monthYearDTO{MonthYear: m.Label()})
	}
	return resp
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// handleSensorSummary: GET /api/data_sensor
func (h *APIHandler) handleSensorSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.summary.Summary(r.Context())
	if err != nil {
		h.logger.Error("Failed to build sensor summary", "request_id", RequestID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "Gagal mengambil data sensor dari database",
			Details: err.Error(),
		}, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryResponse(s), h.logger)
}

type controlRequest struct {
	Status string `json:"status"`
}

type controlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleControlRelay: POST /api/control_relay {"status":"ON"|"OFF"}
func (h *APIHandler) handleControlRelay(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, controlResponse{Message: "Body permintaan tidak valid."}, h.logger)
		return
	}

	cmd, err := h.control.Dispatch(r.Context(), req.Status)
	switch {
	case errors.Is(err, control.ErrInvalidState):
		writeJSON(w, http.StatusBadRequest, controlResponse{Message: `Status tidak valid. Gunakan "ON" atau "OFF".`}, h.logger)
	case err != nil:
		h.logger.Error("Relay command failed", "request_id", RequestID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, controlResponse{Message: "Gagal mengirim perintah ke ESP32"}, h.logger)
	default:
		writeJSON(w, http.StatusOK, controlResponse{
			Success: true,
			Message: fmt.Sprintf("Perintah %s berhasil dikirim.", cmd.Status),
		}, h.logger)
	}
}

type liveResponse struct {
	Suhu       float64 `json:"suhu"`
	Kelembaban float64 `json:"kelembaban"`
	Kecerahan  float64 `json:"kecerahan"`
	Timestamp  string  `json:"timestamp"`
}

// handleLive: GET /api/data_sensor/live
func (h *APIHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := h.live.Get(r.Context())
	if err != nil {
		h.logger.Error("Failed to read live cache", "request_id", RequestID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Gagal membaca data terkini", Details: err.Error()}, h.logger)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Belum ada data sensor"}, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, liveResponse{
		Suhu:       rec.TemperatureC,
		Kelembaban: rec.HumidityPct,
		Kecerahan:  rec.LuxLevel,
		Timestamp:  rec.RecordedAt.UTC().Format(TimestampLayout),
	}, h.logger)
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write JSON response", "error", err)
	}
}

// CorsMiddleware lets the browser dashboard call the API from another origin.
func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		// Preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware reuses the caller's X-Request-ID or mints one, and
// echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the id set by RequestIDMiddleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
