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

// Package store provides the Postgres-backed storage layer: bulk idempotent
// upserts for the three entity tables, the ingestion audit log, and the
// transaction scope the orchestrator wraps them in.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zeroetl/ingestion/internal/models"
)

// Attempt statuses recorded in the ingestion_log table.
const (
	StatusStarted = "started"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Attempt describes one ingestion attempt for the audit log.
type Attempt struct {
	RunID        string
	EntityType   models.EntityType
	Fetched      int
	Inserted     int
	Updated      int
	Status       string
	ErrorMessage string
	DurationMS   int64
}

// Store provides upsert and audit-log operations against Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool. It ensures the
// entity and audit tables exist on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ingestion schema: %w", err)
	}
	slog.Info("ingestion store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id                   INTEGER PRIMARY KEY,
			name                 TEXT NOT NULL,
			username             TEXT NOT NULL,
			email                TEXT NOT NULL,
			phone                TEXT,
			website              TEXT,
			address_street       TEXT,
			address_suite        TEXT,
			address_city         TEXT,
			address_zipcode      TEXT,
			address_geo_lat      DOUBLE PRECISION,
			address_geo_lng      DOUBLE PRECISION,
			company_name         TEXT,
			company_catch_phrase TEXT,
			company_bs           TEXT,
			updated_at           TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS posts (
			id         INTEGER PRIMARY KEY,
			user_id    INTEGER NOT NULL REFERENCES users(id),
			title      TEXT NOT NULL,
			body       TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS comments (
			id         INTEGER PRIMARY KEY,
			post_id    INTEGER NOT NULL REFERENCES posts(id),
			name       TEXT NOT NULL,
			email      TEXT NOT NULL,
			body       TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS ingestion_log (
			id               BIGSERIAL PRIMARY KEY,
			run_id           TEXT NOT NULL,
			entity_type      TEXT NOT NULL,
			records_fetched  INTEGER NOT NULL DEFAULT 0,
			records_inserted INTEGER NOT NULL DEFAULT 0,
			records_updated  INTEGER NOT NULL DEFAULT 0,
			status           TEXT NOT NULL,
			error_message    TEXT,
			duration_ms      BIGINT,
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			completed_at     TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_ingestion_log_run ON ingestion_log(run_id);
		CREATE INDEX IF NOT EXISTS idx_ingestion_log_entity ON ingestion_log(entity_type);
	`)
	return err
}

// WithTx runs fn inside a transaction: commit on success, rollback and
// propagate fn's error otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpsertUsers bulk upserts user rows keyed on id, updating every non-key
// column on conflict (last-fetched-wins). Returns exact inserted and
// updated counts. Empty input performs no store I/O.
func (s *Store) UpsertUsers(ctx context.Context, tx pgx.Tx, rows []models.UserRow) (int, int, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	const cols = 15
	args := make([]any, 0, len(rows)*cols)
	for _, r := range rows {
		args = append(args,
			r.ID, r.Name, r.Username, r.Email, r.Phone, r.Website,
			r.AddressStreet, r.AddressSuite, r.AddressCity, r.AddressZipcode,
			r.AddressGeoLat, r.AddressGeoLng,
			r.CompanyName, r.CompanyCatchPhrase, r.CompanyBS,
		)
	}

	sql := `
		INSERT INTO users (
			id, name, username, email, phone, website,
			address_street, address_suite, address_city, address_zipcode,
			address_geo_lat, address_geo_lng,
			company_name, company_catch_phrase, company_bs
		) VALUES ` + valuesPlaceholders(len(rows), cols) + `
		ON CONFLICT (id) DO UPDATE SET
			name                 = EXCLUDED.name,
			username             = EXCLUDED.username,
			email                = EXCLUDED.email,
			phone                = EXCLUDED.phone,
			website              = EXCLUDED.website,
			address_street       = EXCLUDED.address_street,
			address_suite        = EXCLUDED.address_suite,
			address_city         = EXCLUDED.address_city,
			address_zipcode      = EXCLUDED.address_zipcode,
			address_geo_lat      = EXCLUDED.address_geo_lat,
			address_geo_lng      = EXCLUDED.address_geo_lng,
			company_name         = EXCLUDED.company_name,
			company_catch_phrase = EXCLUDED.company_catch_phrase,
			company_bs           = EXCLUDED.company_bs,
			updated_at           = NOW()
		RETURNING (xmax = 0)`

	inserted, updated, err := s.runUpsert(ctx, tx, models.EntityUsers, sql, args)
	if err != nil {
		return 0, 0, fmt.Errorf("batch upsert users: %w", err)
	}
	return inserted, updated, nil
}

// UpsertPosts bulk upserts post rows keyed on id.
func (s *Store) UpsertPosts(ctx context.Context, tx pgx.Tx, rows []models.PostRow) (int, int, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	const cols = 4
	args := make([]any, 0, len(rows)*cols)
	for _, r := range rows {
		args = append(args, r.ID, r.UserID, r.Title, r.Body)
	}

	sql := `
		INSERT INTO posts (id, user_id, title, body)
		VALUES ` + valuesPlaceholders(len(rows), cols) + `
		ON CONFLICT (id) DO UPDATE SET
			user_id    = EXCLUDED.user_id,
			title      = EXCLUDED.title,
			body       = EXCLUDED.body,
			updated_at = NOW()
		RETURNING (xmax = 0)`

	inserted, updated, err := s.runUpsert(ctx, tx, models.EntityPosts, sql, args)
	if err != nil {
		return 0, 0, fmt.Errorf("batch upsert posts: %w", err)
	}
	return inserted, updated, nil
}

// UpsertComments bulk upserts comment rows keyed on id.
func (s *Store) UpsertComments(ctx context.Context, tx pgx.Tx, rows []models.CommentRow) (int, int, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	const cols = 5
	args := make([]any, 0, len(rows)*cols)
	for _, r := range rows {
		args = append(args, r.ID, r.PostID, r.Name, r.Email, r.Body)
	}

	sql := `
		INSERT INTO comments (id, post_id, name, email, body)
		VALUES ` + valuesPlaceholders(len(rows), cols) + `
		ON CONFLICT (id) DO UPDATE SET
			post_id    = EXCLUDED.post_id,
			name       = EXCLUDED.name,
			email      = EXCLUDED.email,
			body       = EXCLUDED.body,
			updated_at = NOW()
		RETURNING (xmax = 0)`

	inserted, updated, err := s.runUpsert(ctx, tx, models.EntityComments, sql, args)
	if err != nil {
		return 0, 0, fmt.Errorf("batch upsert comments: %w", err)
	}
	return inserted, updated, nil
}

// runUpsert executes a RETURNING (xmax = 0) upsert and splits the affected
// rows into inserted vs updated. xmax is zero for freshly inserted tuples,
// which gives an exact split without a second round trip.
func (s *Store) runUpsert(ctx context.Context, tx pgx.Tx, entity models.EntityType, sql string, args []any) (int, int, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var inserted, updated int
	for rows.Next() {
		var isInsert bool
		if err := rows.Scan(&isInsert); err != nil {
			return 0, 0, err
		}
		if isInsert {
			inserted++
		} else {
			updated++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	slog.Info("records upserted",
		"entity", entity,
		"inserted", inserted,
		"updated", updated,
	)
	return inserted, updated, nil
}

// LogAttempt appends one audit row for an ingestion attempt. A logging
// failure is never surfaced to the caller — losing an audit row must not
// mask or override the real ingestion outcome. The insert runs in a
// savepoint: a failed statement would otherwise abort the surrounding
// transaction and roll back the upsert the row describes.
func (s *Store) LogAttempt(ctx context.Context, tx pgx.Tx, a Attempt) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		slog.Error("failed to open audit savepoint",
			"run_id", a.RunID,
			"entity", a.EntityType,
			"error", err,
		)
		return
	}

	// completed_at stays NULL while the attempt is still in flight.
	_, err = sp.Exec(ctx, `
		INSERT INTO ingestion_log (
			run_id, entity_type, records_fetched, records_inserted,
			records_updated, status, error_message, duration_ms, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8,
			CASE WHEN $6 != '`+StatusStarted+`' THEN NOW() ELSE NULL END
		)
	`, a.RunID, string(a.EntityType), a.Fetched, a.Inserted, a.Updated,
		a.Status, a.ErrorMessage, a.DurationMS)
	if err != nil {
		sp.Rollback(ctx)
		slog.Error("failed to write ingestion audit row",
			"run_id", a.RunID,
			"entity", a.EntityType,
			"status", a.Status,
			"error", err,
		)
		return
	}

	if err := sp.Commit(ctx); err != nil {
		slog.Error("failed to release audit savepoint",
			"run_id", a.RunID,
			"entity", a.EntityType,
			"error", err,
		)
		return
	}

	slog.Debug("ingestion attempt logged",
		"run_id", a.RunID,
		"entity", a.EntityType,
		"status", a.Status,
	)
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// valuesPlaceholders builds the ($1, ..), ($n+1, ..) fragment for a
// multi-row insert with the given shape.
func valuesPlaceholders(rowCount, cols int) string {
	var b strings.Builder
	arg := 1
	for row := 0; row < rowCount; row++ {
		if row > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for col := 0; col < cols; col++ {
			if col > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", arg)
			arg++
		}
		b.WriteByte(')')
	}
	return b.String()
}
