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

// Package schedule runs full ingestion on a fixed interval, replacing the
// external cron/EventBridge trigger when the service runs standalone.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/zeroetl/ingestion/internal/models"
)

// Runner performs one full ingestion run. Implemented by ingest.Service.
type Runner interface {
	RunFullIngestion(ctx context.Context) *models.IngestionSummary
}

// Scheduler triggers ingestion runs at a fixed interval.
type Scheduler struct {
	runner   Runner
	interval time.Duration
}

// NewScheduler creates a scheduler that triggers a run at the given interval.
func NewScheduler(runner Runner, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
	}
}

// Run starts the scheduling loop. It performs an immediate run, then one
// per interval, and blocks until the context is cancelled. Runs are strictly
// sequential — a tick that fires while a run is in flight waits for it.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("ingestion scheduler starting", "interval", s.interval)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ingestion scheduler stopping")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	summary := s.runner.RunFullIngestion(ctx)
	if summary.Success {
		slog.Info("scheduled run finished",
			"run_id", summary.RunID,
			"total_records", summary.TotalRecords,
		)
		return
	}
	slog.Error("scheduled run finished with failures", "run_id", summary.RunID)
}
