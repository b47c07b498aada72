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

// ZeroETL Ingestion Service
//
// Entry point for the ingestion service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis, ensuring the schema exists
//  3. Builds the API fetch client (OAuth2 client credentials when configured)
//  4. Runs the interval scheduler for periodic full ingestion runs
//  5. Serves the HTTP surface: /run, /health, /metrics, /health/integration
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/zeroetl/ingestion/internal/config"
	"github.com/zeroetl/ingestion/internal/ingest"
	"github.com/zeroetl/ingestion/internal/monitoring"
	"github.com/zeroetl/ingestion/internal/placeholder"
	"github.com/zeroetl/ingestion/internal/queue"
	"github.com/zeroetl/ingestion/internal/schedule"
	"github.com/zeroetl/ingestion/internal/server"
	"github.com/zeroetl/ingestion/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting ZeroETL ingestion service")

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"api_base_url", cfg.API.BaseURL,
		"run_interval", cfg.RunInterval,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
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
	slog.Info("connected to PostgreSQL")

	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise storage", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.SummariesQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

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
		slog.Info("API client credentials auth enabled", "token_url", cfg.API.TokenURL)
	}

	client := placeholder.NewClient(placeholder.ClientConfig{
		HTTPClient:   httpClient,
		BaseURL:      cfg.API.BaseURL,
		RetryCount:   cfg.API.RetryCount,
		RetryBackoff: cfg.API.RetryBackoff,
	})

	// --- CloudWatch Monitoring (optional) ---
	var monitor *monitoring.Monitor
	if cfg.MonitoringConfigured() {
		monitor, err = monitoring.NewMonitor(
			cfg.Monitoring.Region,
			cfg.Monitoring.Namespace,
			cfg.Monitoring.ServiceName,
		)
		if err != nil {
			slog.Error("failed to initialise CloudWatch monitor", "error", err)
			os.Exit(1)
		}
		slog.Info("CloudWatch monitoring enabled",
			"region", cfg.Monitoring.Region,
			"integration_id", cfg.Monitoring.IntegrationID,
		)
	}

	// --- Ingestion Orchestrator ---
	svc := ingest.NewService(client, st, publisher)

	// --- Scheduler ---
	scheduler := schedule.NewScheduler(svc, cfg.RunInterval)
	go scheduler.Run(ctx)

	// --- HTTP Server ---
	handlerCfg := server.HandlerConfig{
		Runner:        svc,
		DB:            st,
		Queue:         publisher,
		IntegrationID: cfg.Monitoring.IntegrationID,
	}
	if monitor != nil {
		handlerCfg.Monitor = monitor
	}
	handler := server.NewHandler(handlerCfg)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // /run is synchronous
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the scheduler

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("ingestion service listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("ingestion service stopped")
}
