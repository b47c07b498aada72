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

// Package queue publishes completed run summaries to Redis so downstream
// consumers (dashboards, alerting) can react without polling the audit
// table.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zeroetl/ingestion/internal/models"
)

// Publisher sends run summaries to a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// summaryMessage wraps a summary for Redis transport.
type summaryMessage struct {
	MessageID   string                   `json:"message_id"`
	PublishedAt string                   `json:"published_at"`
	Summary     *models.IngestionSummary `json:"summary"`
}

// PublishSummary serialises a run summary and pushes it to the queue.
func (p *Publisher) PublishSummary(ctx context.Context, summary *models.IngestionSummary) error {
	msg := summaryMessage{
		MessageID:   uuid.New().String(),
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
		Summary:     summary,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published run summary to queue",
		"message_id", msg.MessageID,
		"run_id", summary.RunID,
		"success", summary.Success,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
