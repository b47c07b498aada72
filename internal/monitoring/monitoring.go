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

// Package monitoring queries CloudWatch for the health of the zero-ETL
// integration: replication lag on the RDS side and the service's own
// error rate. Missing metrics report a NO_DATA status rather than an error
// so the health endpoint stays usable before the first datapoints land.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
)

// Integration status values, ordered by severity.
const (
	StatusHealthy  = "HEALTHY"
	StatusWarning  = "WARNING"
	StatusCritical = "CRITICAL"
	StatusNoData   = "NO_DATA"
	StatusNotFound = "NOT_FOUND"
)

// Lag thresholds for replication status.
const (
	warningLag  = 300 * time.Second
	criticalLag = 900 * time.Second
)

// LagReport summarises replication lag for a zero-ETL integration.
type LagReport struct {
	IntegrationID string   `json:"integration_id"`
	PeriodMinutes int      `json:"period_minutes"`
	Datapoints    int      `json:"datapoints"`
	AverageLagSec *float64 `json:"average_lag_seconds"`
	MaxLagSec     *float64 `json:"max_lag_seconds"`
	Status        string   `json:"status"`
	Timestamp     string   `json:"timestamp,omitempty"`
}

// ErrorReport summarises the service's error rate over a period.
type ErrorReport struct {
	ServiceName      string  `json:"service_name"`
	PeriodMinutes    int     `json:"period_minutes"`
	TotalErrors      int     `json:"total_errors"`
	TotalRuns        int     `json:"total_runs"`
	ErrorRatePercent float64 `json:"error_rate_percent"`
}

// Dashboard combines both reports with an overall status.
type Dashboard struct {
	Timestamp     string       `json:"timestamp"`
	PeriodMinutes int          `json:"period_minutes"`
	Errors        *ErrorReport `json:"errors"`
	Replication   *LagReport   `json:"replication,omitempty"`
	OverallStatus string       `json:"overall_status"`
}

// Monitor queries CloudWatch metrics for the integration.
type Monitor struct {
	cw        *cloudwatch.CloudWatch
	namespace string
	service   string
}

// NewMonitor creates a CloudWatch monitor for the given region. namespace
// and service identify the custom metrics the ingestion service's agent
// publishes under.
func NewMonitor(region, namespace, service string) (*Monitor, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}

	return &Monitor{
		cw:        cloudwatch.New(sess),
		namespace: namespace,
		service:   service,
	}, nil
}

// ReplicationLag retrieves replication lag statistics for a zero-ETL
// integration over the given period.
func (m *Monitor) ReplicationLag(ctx context.Context, integrationID string, period time.Duration) (*LagReport, error) {
	end := time.Now().UTC()
	start := end.Add(-period)
	minutes := int(period.Minutes())

	report := &LagReport{
		IntegrationID: integrationID,
		PeriodMinutes: minutes,
	}

	out, err := m.cw.GetMetricStatisticsWithContext(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String("AWS/RDS"),
		MetricName: aws.String("ZeroETLIntegrationLatency"),
		Dimensions: []*cloudwatch.Dimension{
			{
				Name:  aws.String("IntegrationIdentifier"),
				Value: aws.String(integrationID),
			},
		},
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		Period:     aws.Int64(300),
		Statistics: []*string{aws.String("Average"), aws.String("Maximum")},
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == "ResourceNotFoundException" {
			slog.Warn("replication lag metric not found", "integration", integrationID)
			report.Status = StatusNotFound
			return report, nil
		}
		return nil, fmt.Errorf("get replication lag metrics: %w", err)
	}

	if len(out.Datapoints) == 0 {
		slog.Warn("no replication lag datapoints", "integration", integrationID)
		report.Status = StatusNoData
		return report, nil
	}

	latest := latestDatapoint(out.Datapoints)
	avg := aws.Float64Value(latest.Average)
	max := aws.Float64Value(latest.Maximum)

	report.Datapoints = len(out.Datapoints)
	report.AverageLagSec = aws.Float64(avg)
	report.MaxLagSec = aws.Float64(max)
	report.Timestamp = aws.TimeValue(latest.Timestamp).Format(time.RFC3339)

	report.Status = StatusHealthy
	if avg > warningLag.Seconds() {
		report.Status = StatusWarning
	}
	if avg > criticalLag.Seconds() {
		report.Status = StatusCritical
	}

	slog.Info("replication lag queried",
		"integration", integrationID,
		"avg_lag_seconds", avg,
		"status", report.Status,
	)
	return report, nil
}

// ErrorRate retrieves the service's error count and run count from the
// custom metric namespace and computes the failure percentage.
func (m *Monitor) ErrorRate(ctx context.Context, period time.Duration) (*ErrorReport, error) {
	end := time.Now().UTC()
	start := end.Add(-period)
	seconds := int64(period.Seconds())

	errors, err := m.sumMetric(ctx, "Errors", start, end, seconds)
	if err != nil {
		return nil, fmt.Errorf("get error metrics: %w", err)
	}
	runs, err := m.sumMetric(ctx, "Runs", start, end, seconds)
	if err != nil {
		return nil, fmt.Errorf("get run metrics: %w", err)
	}

	report := &ErrorReport{
		ServiceName:   m.service,
		PeriodMinutes: int(period.Minutes()),
		TotalErrors:   int(errors),
		TotalRuns:     int(runs),
	}
	if runs > 0 {
		report.ErrorRatePercent = errors / runs * 100
	}

	return report, nil
}

// Dashboard combines error and replication reports into one health view.
// integrationID may be empty, in which case replication lag is skipped.
func (m *Monitor) Dashboard(ctx context.Context, integrationID string, period time.Duration) (*Dashboard, error) {
	errReport, err := m.ErrorRate(ctx, period)
	if err != nil {
		return nil, err
	}

	dash := &Dashboard{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		PeriodMinutes: int(period.Minutes()),
		Errors:        errReport,
		OverallStatus: StatusHealthy,
	}

	if errReport.ErrorRatePercent > 5 {
		dash.OverallStatus = StatusWarning
	}
	if errReport.ErrorRatePercent > 20 {
		dash.OverallStatus = StatusCritical
	}

	if integrationID != "" {
		lag, err := m.ReplicationLag(ctx, integrationID, period)
		if err != nil {
			return nil, err
		}
		dash.Replication = lag
		if lag.Status == StatusWarning || lag.Status == StatusCritical {
			dash.OverallStatus = lag.Status
		}
	}

	slog.Info("integration dashboard generated", "overall_status", dash.OverallStatus)
	return dash, nil
}

// sumMetric totals a Sum statistic for one custom metric over the window.
func (m *Monitor) sumMetric(ctx context.Context, metricName string, start, end time.Time, periodSeconds int64) (float64, error) {
	out, err := m.cw.GetMetricStatisticsWithContext(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(m.namespace),
		MetricName: aws.String(metricName),
		Dimensions: []*cloudwatch.Dimension{
			{
				Name:  aws.String("ServiceName"),
				Value: aws.String(m.service),
			},
		},
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		Period:     aws.Int64(periodSeconds),
		Statistics: []*string{aws.String("Sum")},
	})
	if err != nil {
		return 0, err
	}

	var total float64
	for _, dp := range out.Datapoints {
		total += aws.Float64Value(dp.Sum)
	}
	return total, nil
}

// latestDatapoint returns the most recent datapoint by timestamp.
func latestDatapoint(points []*cloudwatch.Datapoint) *cloudwatch.Datapoint {
	sorted := make([]*cloudwatch.Datapoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return aws.TimeValue(sorted[i].Timestamp).After(aws.TimeValue(sorted[j].Timestamp))
	})
	return sorted[0]
}
