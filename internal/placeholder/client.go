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

// Package placeholder provides an HTTP client for the JSONPlaceholder-style
// REST API the pipeline ingests from. A fetch either eventually succeeds or
// eventually fails after bounded retries; the orchestrator sees neither the
// retries nor the backoff.
package placeholder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zeroetl/ingestion/internal/models"
)

// APIError is returned when the upstream API answers with a non-2xx status.
type APIError struct {
	Status   int
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned HTTP %d for %s", e.Status, e.Endpoint)
}

// retryableStatuses are the HTTP statuses worth retrying: throttling and
// transient server-side failures.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client fetches raw entity records from the REST API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	retryCount   int
	retryBackoff time.Duration
}

// ClientConfig holds the configuration for the fetch client.
type ClientConfig struct {
	// HTTPClient is the transport to use. Pass an oauth2 client-credentials
	// client when the API requires auth; defaults to http.DefaultClient.
	HTTPClient   *http.Client
	BaseURL      string
	RetryCount   int
	RetryBackoff time.Duration
}

// NewClient creates a fetch client for the given API base URL.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	retries := cfg.RetryCount
	if retries < 1 {
		retries = 1
	}
	backoff := cfg.RetryBackoff
	if backoff == 0 {
		backoff = 500 * time.Millisecond
	}
	return &Client{
		httpClient:   httpClient,
		baseURL:      trimTrailingSlash(cfg.BaseURL),
		retryCount:   retries,
		retryBackoff: backoff,
	}
}

// Fetch retrieves all records for the given entity kind. Transient failures
// (network errors, HTTP 429/5xx) are retried with linear backoff up to the
// configured attempt count.
func (c *Client) Fetch(ctx context.Context, kind models.EntityType) ([]models.RawRecord, error) {
	endpoint, err := endpointFor(kind)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryBackoff):
			}
		}

		records, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			slog.Info("fetched records", "entity", kind, "count", len(records))
			return records, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		slog.Warn("fetch attempt failed, retrying",
			"entity", kind,
			"attempt", attempt+1,
			"error", err,
		)
	}

	return nil, fmt.Errorf("fetch %s failed after %d attempts: %w", kind, c.retryCount, lastErr)
}

// fetchOnce performs a single GET against the entity endpoint.
func (c *Client) fetchOnce(ctx context.Context, endpoint string) ([]models.RawRecord, error) {
	url := c.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		io.Copy(io.Discard, resp.Body)
		return nil, &APIError{Status: resp.StatusCode, Endpoint: endpoint}
	}

	var records []models.RawRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}

	return records, nil
}

// endpointFor maps an entity kind to its API path.
func endpointFor(kind models.EntityType) (string, error) {
	switch kind {
	case models.EntityUsers:
		return "/users", nil
	case models.EntityPosts:
		return "/posts", nil
	case models.EntityComments:
		return "/comments", nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

// isRetryable reports whether an error is worth another attempt. API errors
// are retried only for throttling/server statuses; everything else that is
// not an APIError is treated as a transport failure and retried.
func isRetryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return retryableStatuses[apiErr.Status]
	}
	return true
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
