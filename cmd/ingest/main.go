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

// ZeroETL One-Shot Ingestion Command
//
// Standalone CLI that performs a single full ingestion run and prints the
// run summary as JSON. Intended for seeding new deployments and for ad-hoc
// runs from cron or CI.
//
// Usage:
//
//	go run ./cmd/ingest/ [--skip-queue] [--timeout 10m]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/zeroetl/ingestion/internal/config"
	"github.com/zeroetl/ingestion/internal/ingest"
	"github.com/zeroetl/ingestion/internal/placeholder"
	"github.com/zeroetl/ingestion/internal/queue"
	"github.com/zeroetl/ingestion/internal/store"
)

func main() {
	// Structured JSON logging on stderr; stdout carries the summary JSON.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	skipQueue := flag.Bool("skip-queue", false, "Do not publish the run summary to Redis")
	timeoutFlag := flag.String("timeout", "10m", "Overall run timeout (e.g. 5m, 1h)")
	flag.Parse()

	timeout, err := time.ParseDuration(*timeoutFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --timeout duration %q: %v\n", *timeoutFlag, err)
		os.Exit(1)
	}

	_ = godotenv.Load()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise storage", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis (optional for one-shot runs) ---
	var publisher ingest.SummaryPublisher
	var rdb *redis.Client
	if !*skipQueue {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()

		pub := queue.NewPublisher(rdb, cfg.SummariesQueue)
		if err := pub.Ping(ctx); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		publisher = pub
	}

	// --- API Fetch Client ---
	httpClient := &http.Client{Timeout: cfg.API.Timeout}
	if cfg.APIAuthConfigured() {
		creds := &clientcredentials.Config{
			ClientID:     cfg.API.ClientID,
			ClientSecret: cfg.API.ClientSecret,
			TokenURL:     cfg.API.TokenURL,
			Scopes:       cfg.API.Scopes,
		}
		httpClient = creds.Client(ctx)
		httpClient.Timeout = cfg.API.Timeout
	}

	client := placeholder.NewClient(placeholder.ClientConfig{
		HTTPClient:   httpClient,
		BaseURL:      cfg.API.BaseURL,
		RetryCount:   cfg.API.RetryCount,
		RetryBackoff: cfg.API.RetryBackoff,
	})

	// --- Run ---
	svc := ingest.NewService(client, st, publisher)
	summary := svc.RunFullIngestion(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		slog.Error("failed to encode run summary", "error", err)
		os.Exit(1)
	}

	if !summary.Success {
		os.Exit(1)
	}
}
