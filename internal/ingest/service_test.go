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

package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/zeroetl/ingestion/internal/models"
	"github.com/zeroetl/ingestion/internal/store"
)

// mockClient serves canned raw records per entity kind.
type mockClient struct {
	records map[models.EntityType][]models.RawRecord
	errs    map[models.EntityType]error
}

func (m *mockClient) Fetch(_ context.Context, kind models.EntityType) ([]models.RawRecord, error) {
	if err := m.errs[kind]; err != nil {
		return nil, err
	}
	return m.records[kind], nil
}

// mockStore records upserts and audit rows. Each WithTx call is counted so
// tests can check transaction boundaries. auditDown simulates an audit
// write failure, which the real store confines to a savepoint and swallows.
type mockStore struct {
	txCount    int
	users      []models.UserRow
	posts      []models.PostRow
	comments   []models.CommentRow
	attempts   []store.Attempt
	upsertErrs map[models.EntityType]error
	auditDown  bool
}

func (m *mockStore) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	m.txCount++
	return fn(nil)
}

func (m *mockStore) UpsertUsers(_ context.Context, _ pgx.Tx, rows []models.UserRow) (int, int, error) {
	if err := m.upsertErrs[models.EntityUsers]; err != nil {
		return 0, 0, err
	}
	m.users = append(m.users, rows...)
	return len(rows), 0, nil
}

func (m *mockStore) UpsertPosts(_ context.Context, _ pgx.Tx, rows []models.PostRow) (int, int, error) {
	if err := m.upsertErrs[models.EntityPosts]; err != nil {
		return 0, 0, err
	}
	m.posts = append(m.posts, rows...)
	return len(rows), 0, nil
}

func (m *mockStore) UpsertComments(_ context.Context, _ pgx.Tx, rows []models.CommentRow) (int, int, error) {
	if err := m.upsertErrs[models.EntityComments]; err != nil {
		return 0, 0, err
	}
	m.comments = append(m.comments, rows...)
	return len(rows), 0, nil
}

func (m *mockStore) LogAttempt(_ context.Context, _ pgx.Tx, a store.Attempt) {
	if m.auditDown {
		return
	}
	m.attempts = append(m.attempts, a)
}

func (m *mockStore) attemptFor(kind models.EntityType) (store.Attempt, bool) {
	for _, a := range m.attempts {
		if a.EntityType == kind {
			return a, true
		}
	}
	return store.Attempt{}, false
}

// mockPublisher captures published summaries.
type mockPublisher struct {
	summaries []*models.IngestionSummary
	err       error
}

func (m *mockPublisher) PublishSummary(_ context.Context, s *models.IngestionSummary) error {
	if m.err != nil {
		return m.err
	}
	m.summaries = append(m.summaries, s)
	return nil
}

func rawUser(id int) models.RawRecord {
	return models.RawRecord{
		"id":       float64(id),
		"name":     "Leanne Graham",
		"username": "Bret",
		"email":    "Sincere@april.biz",
	}
}

func rawPost(id, userID int) models.RawRecord {
	return models.RawRecord{
		"id":     float64(id),
		"userId": float64(userID),
		"title":  "t",
		"body":   "b",
	}
}

func rawComment(id, postID int) models.RawRecord {
	return models.RawRecord{
		"id":     float64(id),
		"postId": float64(postID),
		"name":   "n",
		"email":  "e",
		"body":   "b",
	}
}

func allEntityRecords() map[models.EntityType][]models.RawRecord {
	return map[models.EntityType][]models.RawRecord{
		models.EntityUsers:    {rawUser(1), rawUser(2)},
		models.EntityPosts:    {rawPost(1, 1), rawPost(2, 2), rawPost(3, 1)},
		models.EntityComments: {rawComment(1, 1)},
	}
}

// TestRunFullIngestion_AllSuccess verifies the happy path: three results in
// FK order, aggregated totals, a success audit row per entity, and one
// published summary.
func TestRunFullIngestion_AllSuccess(t *testing.T) {
	st := &mockStore{}
	pub := &mockPublisher{}
	svc := NewService(&mockClient{records: allEntityRecords()}, st, pub)

	summary := svc.RunFullIngestion(context.Background())

	if !summary.Success {
		t.Error("expected overall success")
	}
	if summary.RunID == "" {
		t.Error("expected a non-empty run ID")
	}
	if len(summary.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(summary.Results))
	}

	wantOrder := []models.EntityType{models.EntityUsers, models.EntityPosts, models.EntityComments}
	for i, kind := range wantOrder {
		if summary.Results[i].EntityType != kind {
			t.Errorf("results[%d] = %s, want %s", i, summary.Results[i].EntityType, kind)
		}
	}

	if summary.TotalRecords != 6 {
		t.Errorf("TotalRecords = %d, want 6", summary.TotalRecords)
	}
	if len(st.users) != 2 || len(st.posts) != 3 || len(st.comments) != 1 {
		t.Errorf("upserted %d/%d/%d rows, want 2/3/1", len(st.users), len(st.posts), len(st.comments))
	}

	if len(st.attempts) != 3 {
		t.Fatalf("expected 3 audit rows, got %d", len(st.attempts))
	}
	for _, a := range st.attempts {
		if a.Status != store.StatusSuccess {
			t.Errorf("attempt for %s has status %q, want success", a.EntityType, a.Status)
		}
		if a.RunID != summary.RunID {
			t.Errorf("attempt run_id = %q, want %q", a.RunID, summary.RunID)
		}
	}

	if len(pub.summaries) != 1 {
		t.Fatalf("expected 1 published summary, got %d", len(pub.summaries))
	}
}

// TestRunFullIngestion_FetchFailureIsolated verifies that a posts fetch
// failure does not stop users or comments, zeroes the failed entity's
// counts, and flips overall success.
func TestRunFullIngestion_FetchFailureIsolated(t *testing.T) {
	client := &mockClient{
		records: allEntityRecords(),
		errs: map[models.EntityType]error{
			models.EntityPosts: errors.New("API returned HTTP 503 for /posts"),
		},
	}
	st := &mockStore{}
	svc := NewService(client, st, nil)

	summary := svc.RunFullIngestion(context.Background())

	if summary.Success {
		t.Error("expected overall failure")
	}
	if len(summary.Results) != 3 {
		t.Fatalf("expected all 3 entities attempted, got %d results", len(summary.Results))
	}

	posts := summary.Results[1]
	if posts.Success {
		t.Error("posts result should be failed")
	}
	if posts.RecordsFetched != 0 || posts.RecordsInserted != 0 || posts.RecordsUpdated != 0 {
		t.Errorf("failed entity counts = %d/%d/%d, want all zero",
			posts.RecordsFetched, posts.RecordsInserted, posts.RecordsUpdated)
	}
	if posts.ErrorMessage == "" {
		t.Error("failed result should carry the error message")
	}

	if !summary.Results[0].Success || !summary.Results[2].Success {
		t.Error("users and comments should still succeed")
	}

	// users(2) + comments(1); the failed entity contributes zero.
	if summary.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", summary.TotalRecords)
	}

	a, ok := st.attemptFor(models.EntityPosts)
	if !ok {
		t.Fatal("expected a failed audit row for posts")
	}
	if a.Status != store.StatusFailed {
		t.Errorf("posts attempt status = %q, want failed", a.Status)
	}
	if a.ErrorMessage == "" {
		t.Error("failed attempt should carry the error message")
	}
}

// TestRunFullIngestion_UpsertFailureZeroesFetched verifies that an upsert
// failure after a successful fetch still reports zero records_fetched in
// the failed result.
func TestRunFullIngestion_UpsertFailureZeroesFetched(t *testing.T) {
	st := &mockStore{
		upsertErrs: map[models.EntityType]error{
			models.EntityUsers: errors.New("connection reset"),
		},
	}
	svc := NewService(&mockClient{records: allEntityRecords()}, st, nil)

	summary := svc.RunFullIngestion(context.Background())

	users := summary.Results[0]
	if users.Success {
		t.Error("users result should be failed")
	}
	if users.RecordsFetched != 0 {
		t.Errorf("RecordsFetched = %d, want 0 for a failed entity", users.RecordsFetched)
	}
	if summary.TotalRecords != 4 {
		t.Errorf("TotalRecords = %d, want 4 (posts + comments only)", summary.TotalRecords)
	}
}

// TestRunFullIngestion_FailedAuditInFreshTx verifies that the failed audit
// row gets its own transaction rather than reusing the rolled-back one.
func TestRunFullIngestion_FailedAuditInFreshTx(t *testing.T) {
	st := &mockStore{
		upsertErrs: map[models.EntityType]error{
			models.EntityComments: errors.New("deadlock detected"),
		},
	}
	svc := NewService(&mockClient{records: allEntityRecords()}, st, nil)

	svc.RunFullIngestion(context.Background())

	// users tx + posts tx + comments upsert tx + comments audit tx
	if st.txCount != 4 {
		t.Errorf("txCount = %d, want 4", st.txCount)
	}

	a, ok := st.attemptFor(models.EntityComments)
	if !ok {
		t.Fatal("expected a failed audit row for comments")
	}
	if a.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", a.Status)
	}
}

// TestRunFullIngestion_TransformFailure verifies that a malformed record
// fails its entity before any upsert happens.
func TestRunFullIngestion_TransformFailure(t *testing.T) {
	records := allEntityRecords()
	records[models.EntityUsers] = []models.RawRecord{
		{"id": float64(1)}, // missing name, username, email
	}
	st := &mockStore{}
	svc := NewService(&mockClient{records: records}, st, nil)

	summary := svc.RunFullIngestion(context.Background())

	if summary.Results[0].Success {
		t.Error("users result should be failed")
	}
	if len(st.users) != 0 {
		t.Errorf("no user rows should be upserted, got %d", len(st.users))
	}
	if !summary.Results[1].Success || !summary.Results[2].Success {
		t.Error("posts and comments should still succeed")
	}
}

// TestRunFullIngestion_AuditFailureDoesNotFailEntity verifies that losing
// the audit row leaves the upsert committed and the entity successful.
func TestRunFullIngestion_AuditFailureDoesNotFailEntity(t *testing.T) {
	st := &mockStore{auditDown: true}
	svc := NewService(&mockClient{records: allEntityRecords()}, st, nil)

	summary := svc.RunFullIngestion(context.Background())

	if !summary.Success {
		t.Error("a lost audit row must not fail the run")
	}
	for _, r := range summary.Results {
		if !r.Success {
			t.Errorf("%s result failed, want success", r.EntityType)
		}
	}
	if len(st.users) != 2 || len(st.posts) != 3 || len(st.comments) != 1 {
		t.Errorf("upserted %d/%d/%d rows, want 2/3/1", len(st.users), len(st.posts), len(st.comments))
	}
	if len(st.attempts) != 0 {
		t.Errorf("expected no audit rows recorded, got %d", len(st.attempts))
	}
}

// TestRunFullIngestion_PublishFailureIgnored verifies that a queue outage
// never changes the run outcome.
func TestRunFullIngestion_PublishFailureIgnored(t *testing.T) {
	pub := &mockPublisher{err: errors.New("redis: connection refused")}
	svc := NewService(&mockClient{records: allEntityRecords()}, &mockStore{}, pub)

	summary := svc.RunFullIngestion(context.Background())

	if !summary.Success {
		t.Error("publish failure must not fail the run")
	}
}

// TestRunFullIngestion_EmptyFetch verifies that zero records is a success,
// not an error.
func TestRunFullIngestion_EmptyFetch(t *testing.T) {
	client := &mockClient{
		records: map[models.EntityType][]models.RawRecord{
			models.EntityUsers:    {},
			models.EntityPosts:    {},
			models.EntityComments: {},
		},
	}
	st := &mockStore{}
	svc := NewService(client, st, nil)

	summary := svc.RunFullIngestion(context.Background())

	if !summary.Success {
		t.Error("empty fetches should still succeed")
	}
	if summary.TotalRecords != 0 {
		t.Errorf("TotalRecords = %d, want 0", summary.TotalRecords)
	}
	for _, a := range st.attempts {
		if a.Status != store.StatusSuccess {
			t.Errorf("attempt for %s = %q, want success", a.EntityType, a.Status)
		}
		if a.Fetched != 0 {
			t.Errorf("attempt fetched = %d, want 0", a.Fetched)
		}
	}
}
