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

// Package transform flattens raw API records into relational rows.
//
// All functions are pure and total over well-formed input: the same input
// always yields the same output and nothing is mutated. A single malformed
// record fails the whole batch for that entity kind — the caller commits
// the batch in one transaction, so partial output would be useless.
package transform

import (
	"fmt"
	"math"
	"strconv"

	"github.com/zeroetl/ingestion/internal/models"
)

// MappingError reports a missing or ill-typed required field in a raw record.
type MappingError struct {
	Entity models.EntityType
	Index  int
	Field  string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("transform %s: record %d: missing or invalid field %q", e.Entity, e.Index, e.Field)
}

// Users flattens raw user records into rows for the users table. Nested
// address and company objects become prefixed columns; absent nested
// objects leave their columns NULL rather than empty.
func Users(raw []models.RawRecord) ([]models.UserRow, error) {
	rows := make([]models.UserRow, 0, len(raw))
	for i, rec := range raw {
		row, err := user(rec, i)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func user(rec models.RawRecord, index int) (models.UserRow, error) {
	var row models.UserRow
	var ok bool

	if row.ID, ok = intField(rec, "id"); !ok {
		return row, &MappingError{Entity: models.EntityUsers, Index: index, Field: "id"}
	}
	if row.Name, ok = stringField(rec, "name"); !ok {
		return row, &MappingError{Entity: models.EntityUsers, Index: index, Field: "name"}
	}
	if row.Username, ok = stringField(rec, "username"); !ok {
		return row, &MappingError{Entity: models.EntityUsers, Index: index, Field: "username"}
	}
	if row.Email, ok = stringField(rec, "email"); !ok {
		return row, &MappingError{Entity: models.EntityUsers, Index: index, Field: "email"}
	}

	row.Phone = optionalString(rec, "phone")
	row.Website = optionalString(rec, "website")

	if address, ok := objectField(rec, "address"); ok {
		row.AddressStreet = optionalString(address, "street")
		row.AddressSuite = optionalString(address, "suite")
		row.AddressCity = optionalString(address, "city")
		row.AddressZipcode = optionalString(address, "zipcode")

		if geo, ok := objectField(address, "geo"); ok {
			lat, err := coordinate(geo, "lat")
			if err != nil {
				return row, &MappingError{Entity: models.EntityUsers, Index: index, Field: "address.geo.lat"}
			}
			lng, err := coordinate(geo, "lng")
			if err != nil {
				return row, &MappingError{Entity: models.EntityUsers, Index: index, Field: "address.geo.lng"}
			}
			row.AddressGeoLat = lat
			row.AddressGeoLng = lng
		}
	}

	if company, ok := objectField(rec, "company"); ok {
		row.CompanyName = optionalString(company, "name")
		row.CompanyCatchPhrase = optionalString(company, "catchPhrase")
		row.CompanyBS = optionalString(company, "bs")
	}

	return row, nil
}

// Posts flattens raw post records: userId becomes user_id, the rest is a
// direct field rename.
func Posts(raw []models.RawRecord) ([]models.PostRow, error) {
	rows := make([]models.PostRow, 0, len(raw))
	for i, rec := range raw {
		var row models.PostRow
		var ok bool
		if row.ID, ok = intField(rec, "id"); !ok {
			return nil, &MappingError{Entity: models.EntityPosts, Index: i, Field: "id"}
		}
		if row.UserID, ok = intField(rec, "userId"); !ok {
			return nil, &MappingError{Entity: models.EntityPosts, Index: i, Field: "userId"}
		}
		if row.Title, ok = stringField(rec, "title"); !ok {
			return nil, &MappingError{Entity: models.EntityPosts, Index: i, Field: "title"}
		}
		if row.Body, ok = stringField(rec, "body"); !ok {
			return nil, &MappingError{Entity: models.EntityPosts, Index: i, Field: "body"}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Comments flattens raw comment records: postId becomes post_id.
func Comments(raw []models.RawRecord) ([]models.CommentRow, error) {
	rows := make([]models.CommentRow, 0, len(raw))
	for i, rec := range raw {
		var row models.CommentRow
		var ok bool
		if row.ID, ok = intField(rec, "id"); !ok {
			return nil, &MappingError{Entity: models.EntityComments, Index: i, Field: "id"}
		}
		if row.PostID, ok = intField(rec, "postId"); !ok {
			return nil, &MappingError{Entity: models.EntityComments, Index: i, Field: "postId"}
		}
		if row.Name, ok = stringField(rec, "name"); !ok {
			return nil, &MappingError{Entity: models.EntityComments, Index: i, Field: "name"}
		}
		if row.Email, ok = stringField(rec, "email"); !ok {
			return nil, &MappingError{Entity: models.EntityComments, Index: i, Field: "email"}
		}
		if row.Body, ok = stringField(rec, "body"); !ok {
			return nil, &MappingError{Entity: models.EntityComments, Index: i, Field: "body"}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// intField reads a required integer field. JSON numbers decode as float64;
// only integral values are accepted, a fractional id is malformed input.
func intField(rec models.RawRecord, key string) (int, bool) {
	switch v := rec[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// stringField reads a required string field.
func stringField(rec models.RawRecord, key string) (string, bool) {
	s, ok := rec[key].(string)
	return s, ok
}

// optionalString reads an optional string field; absent or non-string
// values map to nil, never to an empty default.
func optionalString(rec models.RawRecord, key string) *string {
	if s, ok := rec[key].(string); ok {
		return &s
	}
	return nil
}

// objectField reads a nested JSON object.
func objectField(rec map[string]any, key string) (map[string]any, bool) {
	obj, ok := rec[key].(map[string]any)
	return obj, ok
}

// coordinate converts a geo coordinate to a float pointer. The source feed
// encodes coordinates as strings; absent, empty, and zero values all map
// to nil. Zero-as-absent mirrors the upstream feed's convention — an
// explicit "0" coordinate is indistinguishable from a missing one.
func coordinate(geo map[string]any, key string) (*float64, error) {
	var f float64
	switch v := geo[key].(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		f = parsed
	case float64:
		f = v
	default:
		return nil, fmt.Errorf("unsupported coordinate type %T", v)
	}

	if f == 0 {
		return nil, nil
	}
	return &f, nil
}
