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

// Package models defines the entity types fetched from the upstream API,
// their flattened relational row forms, and the per-run result types
// returned by the ingestion pipeline.
package models

import "time"

// EntityType identifies one of the three record categories processed by
// the pipeline.
type EntityType string

const (
	EntityUsers    EntityType = "users"
	EntityPosts    EntityType = "posts"
	EntityComments EntityType = "comments"
)

// EntityOrder is the fixed ingestion order. Users must land before posts
// (posts.user_id FK) and posts before comments (comments.post_id FK).
var EntityOrder = []EntityType{EntityUsers, EntityPosts, EntityComments}

// RawRecord is a single untyped JSON object as received from the source
// API. Shape is trusted at point of use; the transformer validates it.
type RawRecord map[string]any

// UserRow is a user flattened for the users table. Nested address and
// company objects become prefixed columns; optional fields are nil when
// the source omits them.
type UserRow struct {
	ID                 int
	Name               string
	Username           string
	Email              string
	Phone              *string
	Website            *string
	AddressStreet      *string
	AddressSuite       *string
	AddressCity        *string
	AddressZipcode     *string
	AddressGeoLat      *float64
	AddressGeoLng      *float64
	CompanyName        *string
	CompanyCatchPhrase *string
	CompanyBS          *string
}

// PostRow is a post flattened for the posts table.
type PostRow struct {
	ID     int
	UserID int
	Title  string
	Body   string
}

// CommentRow is a comment flattened for the comments table.
type CommentRow struct {
	ID     int
	PostID int
	Name   string
	Email  string
	Body   string
}

// IngestionResult describes the outcome of one entity's ingestion attempt
// within a run. ErrorMessage is non-empty exactly when Success is false.
type IngestionResult struct {
	EntityType      EntityType `json:"entity_type"`
	RecordsFetched  int        `json:"records_fetched"`
	RecordsInserted int        `json:"records_inserted"`
	RecordsUpdated  int        `json:"records_updated"`
	DurationMS      int64      `json:"duration_ms"`
	Success         bool       `json:"success"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// IngestionSummary aggregates the results of a complete run. Results holds
// one entry per entity type in ingestion order. TotalRecords is the sum of
// RecordsFetched across results; Success is the conjunction of all
// per-entity outcomes.
type IngestionSummary struct {
	RunID        string            `json:"run_id"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  time.Time         `json:"completed_at"`
	Results      []IngestionResult `json:"results"`
	TotalRecords int               `json:"total_records"`
	Success      bool              `json:"success"`
}
