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

package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zeroetl/ingestion/internal/models"
)

// recordingTx is a fake pgx.Tx that records statements and savepoint
// lifecycle. Begin returns a nested recordingTx standing in for a
// savepoint; execErr propagates to it.
type recordingTx struct {
	beginErr   error
	execErr    error
	execSQL    []string
	savepoint  *recordingTx
	committed  bool
	rolledBack bool
}

func (t *recordingTx) Begin(_ context.Context) (pgx.Tx, error) {
	if t.beginErr != nil {
		return nil, t.beginErr
	}
	t.savepoint = &recordingTx{execErr: t.execErr}
	return t.savepoint, nil
}

func (t *recordingTx) Commit(_ context.Context) error {
	t.committed = true
	return nil
}

func (t *recordingTx) Rollback(_ context.Context) error {
	t.rolledBack = true
	return nil
}

func (t *recordingTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	t.execSQL = append(t.execSQL, sql)
	return pgconn.CommandTag{}, nil
}

func (t *recordingTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (t *recordingTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	panic("not implemented")
}

func (t *recordingTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *recordingTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *recordingTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *recordingTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *recordingTx) Conn() *pgx.Conn {
	panic("not implemented")
}

func testAttempt() Attempt {
	return Attempt{
		RunID:      "run-1",
		EntityType: models.EntityUsers,
		Fetched:    10,
		Inserted:   10,
		Status:     StatusSuccess,
		DurationMS: 42,
	}
}

// TestLogAttempt_WritesInsideSavepoint verifies the audit insert runs in a
// released savepoint, not directly on the caller's transaction.
func TestLogAttempt_WritesInsideSavepoint(t *testing.T) {
	st := &Store{}
	tx := &recordingTx{}

	st.LogAttempt(context.Background(), tx, testAttempt())

	if len(tx.execSQL) != 0 {
		t.Errorf("expected no statements on the outer transaction, got %d", len(tx.execSQL))
	}
	if tx.savepoint == nil {
		t.Fatal("expected a savepoint to be opened")
	}
	if len(tx.savepoint.execSQL) != 1 || !strings.Contains(tx.savepoint.execSQL[0], "ingestion_log") {
		t.Errorf("savepoint statements = %v, want one ingestion_log insert", tx.savepoint.execSQL)
	}
	if !tx.savepoint.committed {
		t.Error("savepoint should be released after a successful insert")
	}
}

// TestLogAttempt_InsertFailureConfinedToSavepoint verifies a failed audit
// insert rolls back only the savepoint, leaving the caller's transaction
// commitable.
func TestLogAttempt_InsertFailureConfinedToSavepoint(t *testing.T) {
	st := &Store{}
	tx := &recordingTx{execErr: errors.New("ingestion_log does not exist")}

	st.LogAttempt(context.Background(), tx, testAttempt())

	if tx.savepoint == nil {
		t.Fatal("expected a savepoint to be opened")
	}
	if !tx.savepoint.rolledBack {
		t.Error("failed insert should roll the savepoint back")
	}
	if tx.savepoint.committed {
		t.Error("failed savepoint must not be released")
	}
	if tx.rolledBack || tx.committed {
		t.Error("the outer transaction must be left untouched")
	}
}

// TestLogAttempt_SavepointOpenFailure verifies a savepoint failure is
// swallowed without touching the caller's transaction.
func TestLogAttempt_SavepointOpenFailure(t *testing.T) {
	st := &Store{}
	tx := &recordingTx{beginErr: errors.New("connection closed")}

	st.LogAttempt(context.Background(), tx, testAttempt())

	if len(tx.execSQL) != 0 {
		t.Errorf("expected no statements, got %v", tx.execSQL)
	}
	if tx.rolledBack || tx.committed {
		t.Error("the outer transaction must be left untouched")
	}
}

// TestValuesPlaceholders verifies the multi-row placeholder numbering.
func TestValuesPlaceholders(t *testing.T) {
	got := valuesPlaceholders(2, 3)
	want := "($1, $2, $3), ($4, $5, $6)"
	if got != want {
		t.Errorf("valuesPlaceholders(2, 3) = %q, want %q", got, want)
	}
}
