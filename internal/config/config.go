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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// APIConfig holds settings for the upstream REST API.
type APIConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RetryCount   int
	RetryBackoff time.Duration

	// Optional OAuth2 client-credentials auth. When ClientID, ClientSecret
	// and TokenURL are all set, the fetch client authenticates every request.
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// MonitoringConfig holds optional CloudWatch settings for the zero-ETL
// integration health endpoint. Disabled when Region is empty.
type MonitoringConfig struct {
	Region        string
	IntegrationID string
	Namespace     string
	ServiceName   string
}

// Config holds all configuration for the ingestion service.
type Config struct {
	API APIConfig

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL       string
	SummariesQueue string

	// Scheduler
	RunInterval time.Duration

	// HTTP surface
	Port int

	Monitoring MonitoringConfig
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	API struct {
		BaseURL      string   `yaml:"base_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		TokenURL     string   `yaml:"token_url"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"api"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Summaries string `yaml:"summaries"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Monitoring struct {
		Region        string `yaml:"region"`
		IntegrationID string `yaml:"integration_id"`
		Namespace     string `yaml:"namespace"`
		ServiceName   string `yaml:"service_name"`
	} `yaml:"monitoring"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. The YAML file is optional;
// when absent, everything comes from the environment.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	var raw rawConfig
	if data, err := os.ReadFile(configPath); err == nil {
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL:      firstNonEmpty(raw.API.BaseURL, envOrDefault("API_BASE_URL", "https://jsonplaceholder.typicode.com")),
			Timeout:      envOrDefaultDuration("API_TIMEOUT", 30*time.Second),
			RetryCount:   envOrDefaultInt("API_RETRY_COUNT", 3),
			RetryBackoff: envOrDefaultDuration("API_RETRY_BACKOFF", 500*time.Millisecond),
			ClientID:     firstNonEmpty(raw.API.ClientID, os.Getenv("API_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.API.ClientSecret, os.Getenv("API_CLIENT_SECRET")),
			TokenURL:     firstNonEmpty(raw.API.TokenURL, os.Getenv("API_TOKEN_URL")),
			Scopes:       raw.API.Scopes,
		},
		DatabaseURL:    firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/zeroetl")),
		RedisURL:       firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		SummariesQueue: firstNonEmpty(raw.Redis.Queues.Summaries, envOrDefault("SUMMARIES_QUEUE", "ingestion_summaries")),
		RunInterval:    envOrDefaultDuration("RUN_INTERVAL", 1*time.Hour),
		Port:           envOrDefaultInt("PORT", 8080),
		Monitoring: MonitoringConfig{
			Region:        firstNonEmpty(raw.Monitoring.Region, os.Getenv("AWS_REGION")),
			IntegrationID: firstNonEmpty(raw.Monitoring.IntegrationID, os.Getenv("INTEGRATION_ID")),
			Namespace:     firstNonEmpty(raw.Monitoring.Namespace, envOrDefault("METRIC_NAMESPACE", "ZeroETL/Ingestion")),
			ServiceName:   firstNonEmpty(raw.Monitoring.ServiceName, envOrDefault("SERVICE_NAME", "zero-etl-ingest")),
		},
	}

	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database.url is required")
	}

	return cfg, nil
}

// APIAuthConfigured reports whether OAuth2 client-credentials auth is fully
// configured for the upstream API.
func (c *Config) APIAuthConfigured() bool {
	return c.API.ClientID != "" && c.API.ClientSecret != "" && c.API.TokenURL != ""
}

// MonitoringConfigured reports whether CloudWatch monitoring is enabled.
func (c *Config) MonitoringConfigured() bool {
	return c.Monitoring.Region != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
