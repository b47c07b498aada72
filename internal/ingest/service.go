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

// Package ingest orchestrates the ingestion pipeline: for each entity kind,
// fetch from the API, transform to flat rows, and upsert together with the
// audit row in one transaction. Entities run strictly in FK order and one
// entity's failure never prevents attempting the next.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zeroetl/ingestion/internal/models"
	"github.com/zeroetl/ingestion/internal/store"
	"github.com/zeroetl/ingestion/internal/transform"
)

var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zeroetl_ingestion_runs_total",
		Help: "Total number of full ingestion runs",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zeroetl_ingestion_run_duration_seconds",
		Help:    "Duration of full ingestion runs",
		Buckets: prometheus.DefBuckets,
	})

	recordsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zeroetl_ingestion_records_fetched_total",
		Help: "Records fetched from the API per entity",
	}, []string{"entity"})

	entityFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zeroetl_ingestion_entity_failures_total",
		Help: "Failed per-entity ingestion attempts",
	}, []string{"entity"})
)

// FetchClient retrieves raw records for an entity kind. Implemented by
// placeholder.Client.
type FetchClient interface {
	Fetch(ctx context.Context, kind models.EntityType) ([]models.RawRecord, error)
}

// Store is the storage surface the orchestrator needs. Implemented by
// store.Store.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	UpsertUsers(ctx context.Context, tx pgx.Tx, rows []models.UserRow) (int, int, error)
	UpsertPosts(ctx context.Context, tx pgx.Tx, rows []models.PostRow) (int, int, error)
	UpsertComments(ctx context.Context, tx pgx.Tx, rows []models.CommentRow) (int, int, error)
	LogAttempt(ctx context.Context, tx pgx.Tx, a store.Attempt)
}

// SummaryPublisher receives completed run summaries. Implemented by
// queue.Publisher.
type SummaryPublisher interface {
	PublishSummary(ctx context.Context, summary *models.IngestionSummary) error
}

// Service orchestrates full ingestion runs.
type Service struct {
	client    FetchClient
	store     Store
	publisher SummaryPublisher // optional
}

// NewService creates the orchestrator. publisher may be nil when no summary
// queue is configured.
func NewService(client FetchClient, st Store, publisher SummaryPublisher) *Service {
	return &Service{
		client:    client,
		store:     st,
		publisher: publisher,
	}
}

// RunFullIngestion runs one complete ingestion: users, then posts, then
// comments. The order is fixed by the foreign keys and never configurable.
// It always returns a summary with exactly one result per entity kind; no
// per-entity error escapes to the caller.
func (s *Service) RunFullIngestion(ctx context.Context) *models.IngestionSummary {
	runID := uuid.New().String()
	startedAt := time.Now().UTC()
	slog.Info("starting full ingestion run", "run_id", runID)

	results := make([]models.IngestionResult, 0, len(models.EntityOrder))
	for _, kind := range models.EntityOrder {
		results = append(results, s.ingest(ctx, runID, kind))
	}

	completedAt := time.Now().UTC()

	totalRecords := 0
	overallSuccess := true
	var failed []models.EntityType
	for _, r := range results {
		totalRecords += r.RecordsFetched
		if !r.Success {
			overallSuccess = false
			failed = append(failed, r.EntityType)
		}
	}

	summary := &models.IngestionSummary{
		RunID:        runID,
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		Results:      results,
		TotalRecords: totalRecords,
		Success:      overallSuccess,
	}

	runsTotal.Inc()
	runDuration.Observe(completedAt.Sub(startedAt).Seconds())

	if s.publisher != nil {
		// Best effort — a queue outage must not change the run outcome.
		if err := s.publisher.PublishSummary(ctx, summary); err != nil {
			slog.Warn("failed to publish run summary", "run_id", runID, "error", err)
		}
	}

	if overallSuccess {
		slog.Info("full ingestion run completed",
			"run_id", runID,
			"total_records", totalRecords,
		)
	} else {
		slog.Error("full ingestion run completed with failures",
			"run_id", runID,
			"failed_entities", failed,
		)
	}

	return summary
}

// ingest runs the fetch → transform → upsert+log sequence for one entity
// kind. The upsert and its success audit row share a transaction; a failed
// attempt gets its own best-effort audit transaction instead.
func (s *Service) ingest(ctx context.Context, runID string, kind models.EntityType) models.IngestionResult {
	start := time.Now()
	slog.Info("starting entity ingestion", "run_id", runID, "entity", kind)

	raw, err := s.client.Fetch(ctx, kind)
	if err != nil {
		return s.failResult(ctx, runID, kind, start, err)
	}
	fetched := len(raw)
	recordsFetched.WithLabelValues(string(kind)).Add(float64(fetched))

	upsert, err := s.prepare(ctx, kind, raw)
	if err != nil {
		return s.failResult(ctx, runID, kind, start, err)
	}

	var inserted, updated int
	txErr := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		inserted, updated, err = upsert(tx)
		if err != nil {
			return err
		}
		s.store.LogAttempt(ctx, tx, store.Attempt{
			RunID:      runID,
			EntityType: kind,
			Fetched:    fetched,
			Inserted:   inserted,
			Updated:    updated,
			Status:     store.StatusSuccess,
			DurationMS: time.Since(start).Milliseconds(),
		})
		return nil
	})
	if txErr != nil {
		return s.failResult(ctx, runID, kind, start, txErr)
	}

	durationMS := time.Since(start).Milliseconds()
	slog.Info("entity ingestion completed",
		"run_id", runID,
		"entity", kind,
		"fetched", fetched,
		"inserted", inserted,
		"updated", updated,
		"duration_ms", durationMS,
	)

	return models.IngestionResult{
		EntityType:      kind,
		RecordsFetched:  fetched,
		RecordsInserted: inserted,
		RecordsUpdated:  updated,
		DurationMS:      durationMS,
		Success:         true,
	}
}

// prepare transforms the raw batch and returns the matching upsert bound to
// the flattened rows. Transform failures surface here, before any
// transaction is opened.
func (s *Service) prepare(ctx context.Context, kind models.EntityType, raw []models.RawRecord) (func(tx pgx.Tx) (int, int, error), error) {
	switch kind {
	case models.EntityUsers:
		rows, err := transform.Users(raw)
		if err != nil {
			return nil, err
		}
		return func(tx pgx.Tx) (int, int, error) {
			return s.store.UpsertUsers(ctx, tx, rows)
		}, nil
	case models.EntityPosts:
		rows, err := transform.Posts(raw)
		if err != nil {
			return nil, err
		}
		return func(tx pgx.Tx) (int, int, error) {
			return s.store.UpsertPosts(ctx, tx, rows)
		}, nil
	default:
		rows, err := transform.Comments(raw)
		if err != nil {
			return nil, err
		}
		return func(tx pgx.Tx) (int, int, error) {
			return s.store.UpsertComments(ctx, tx, rows)
		}, nil
	}
}

// failResult converts any per-entity error into a failed IngestionResult
// and writes a best-effort failed audit row in a fresh transaction. The
// audit write's own failure is logged and swallowed so it can never shadow
// the original error.
func (s *Service) failResult(ctx context.Context, runID string, kind models.EntityType, start time.Time, cause error) models.IngestionResult {
	durationMS := time.Since(start).Milliseconds()
	msg := cause.Error()
	entityFailures.WithLabelValues(string(kind)).Inc()

	slog.Error("entity ingestion failed",
		"run_id", runID,
		"entity", kind,
		"error", cause,
	)

	if logErr := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		s.store.LogAttempt(ctx, tx, store.Attempt{
			RunID:        runID,
			EntityType:   kind,
			Status:       store.StatusFailed,
			ErrorMessage: msg,
			DurationMS:   durationMS,
		})
		return nil
	}); logErr != nil {
		slog.Error("failed to record ingestion failure",
			"run_id", runID,
			"entity", kind,
			"error", logErr,
		)
	}

	return models.IngestionResult{
		EntityType:   kind,
		DurationMS:   durationMS,
		Success:      false,
		ErrorMessage: msg,
	}
}
