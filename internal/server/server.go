// Copyright (c) 2026 The ZeroETL Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the service's HTTP surface: a manual run trigger,
// liveness checks for Postgres and Redis, Prometheus metrics, and the
// optional zero-ETL integration dashboard.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeroetl/ingestion/internal/models"
	"github.com/zeroetl/ingestion/internal/monitoring"
)

// Runner performs one full ingestion run. Implemented by ingest.Service.
type Runner interface {
	RunFullIngestion(ctx context.Context) *models.IngestionSummary
}

// Pinger checks a backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IntegrationMonitor builds the CloudWatch health dashboard. Implemented
// by monitoring.Monitor.
type IntegrationMonitor interface {
	Dashboard(ctx context.Context, integrationID string, period time.Duration) (*monitoring.Dashboard, error)
}

// Handler serves the HTTP endpoints.
type Handler struct {
	runner        Runner
	db            Pinger
	queue         Pinger             // nil when no summary queue is configured
	monitor       IntegrationMonitor // nil when monitoring is disabled
	integrationID string
}

// HandlerConfig holds dependencies for the HTTP handler.
type HandlerConfig struct {
	Runner        Runner
	DB            Pinger
	Queue         Pinger
	Monitor       IntegrationMonitor
	IntegrationID string
}

// NewHandler creates the HTTP handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		runner:        cfg.Runner,
		db:            cfg.DB,
		queue:         cfg.Queue,
		monitor:       cfg.Monitor,
		integrationID: cfg.IntegrationID,
	}
}

// Routes builds the request mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.serveHealth)
	mux.HandleFunc("/health/integration", h.serveIntegration)
	mux.HandleFunc("/run", h.serveRun)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// serveHealth checks the backing connections.
func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
		return
	}
	if h.queue != nil {
		if err := h.queue.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "healthy"}`))
}

// serveRun triggers a synchronous full ingestion run. Responds 200 when
// every entity succeeded, 207 Multi-Status on partial failure; the body is
// the run summary either way.
func (h *Handler) serveRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slog.Info("manual ingestion run triggered", "remote", r.RemoteAddr)
	summary := h.runner.RunFullIngestion(r.Context())

	status := http.StatusOK
	if !summary.Success {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, summary)
}

// serveIntegration returns the CloudWatch dashboard for the zero-ETL
// integration. period_minutes defaults to 60.
func (h *Handler) serveIntegration(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		http.Error(w, "monitoring not configured", http.StatusNotFound)
		return
	}

	period := 60 * time.Minute
	if raw := r.URL.Query().Get("period_minutes"); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			period = time.Duration(minutes) * time.Minute
		}
	}

	dash, err := h.monitor.Dashboard(r.Context(), h.integrationID, period)
	if err != nil {
		slog.Error("integration dashboard failed", "error", err)
		http.Error(w, "dashboard query failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
