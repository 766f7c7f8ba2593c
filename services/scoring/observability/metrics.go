// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the scoring service.
//
// # Description
//
// Metrics cover the scoring pipeline (assessment counts by risk level,
// latency), batch jobs, admission decisions, and the compliance journal.
// They are exposed on /metrics for Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "heatguard"

// Subsystem for scoring metrics.
const scoringSubsystem = "scoring"

// ScoringMetrics holds all Prometheus metrics for the scoring service.
//
// # Fields
//
//   - AssessmentsTotal: Counter of assessments by risk level and status
//   - AssessmentDuration: Histogram of single-assessment latency
//   - BatchSize: Histogram of scored batch sizes
//   - BatchJobsTotal: Counter of async jobs by terminal state
//   - RateLimitedTotal: Counter of rejected requests
//   - AuthFailuresTotal: Counter of authentication/authorization failures
//   - JournalDropsTotal: Counter of journal records dropped under load
//   - ActiveAssessments: Gauge of in-flight scoring work
type ScoringMetrics struct {
	// AssessmentsTotal counts assessments by risk level and status.
	// Labels: level (Safe, Caution, Warning, Danger), status (success, error)
	AssessmentsTotal *prometheus.CounterVec

	// AssessmentDuration measures single-assessment latency in seconds.
	AssessmentDuration prometheus.Histogram

	// BatchSize measures how many samples batch requests carry.
	BatchSize prometheus.Histogram

	// BatchJobsTotal counts async batch jobs by terminal state.
	// Labels: state (completed, failed, cancelled)
	BatchJobsTotal *prometheus.CounterVec

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal prometheus.Counter

	// AuthFailuresTotal counts admission rejections.
	// Labels: reason (unauthenticated, forbidden)
	AuthFailuresTotal *prometheus.CounterVec

	// JournalDropsTotal counts compliance records dropped under load.
	JournalDropsTotal prometheus.Counter

	// ActiveAssessments tracks in-flight scoring work.
	ActiveAssessments prometheus.Gauge
}

// DefaultMetrics is the singleton instance. Initialized by InitMetrics().
var DefaultMetrics *ScoringMetrics

// InitMetrics creates and registers all metrics. Call once at startup;
// duplicate registration panics.
func InitMetrics() *ScoringMetrics {
	DefaultMetrics = &ScoringMetrics{
		AssessmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: scoringSubsystem,
				Name:      "assessments_total",
				Help:      "Total worker assessments by risk level and status",
			},
			[]string{"level", "status"},
		),

		AssessmentDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: scoringSubsystem,
				Name:      "assessment_duration_seconds",
				Help:      "Single-assessment latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),

		BatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: scoringSubsystem,
				Name:      "batch_size",
				Help:      "Number of samples per batch request",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),

		BatchJobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: scoringSubsystem,
				Name:      "batch_jobs_total",
				Help:      "Async batch jobs by terminal state",
			},
			[]string{"state"},
		),

		RateLimitedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: scoringSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),

		AuthFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: scoringSubsystem,
				Name:      "auth_failures_total",
				Help:      "Admission rejections by reason",
			},
			[]string{"reason"},
		),

		JournalDropsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: scoringSubsystem,
				Name:      "journal_drops_total",
				Help:      "Compliance journal records dropped under load",
			},
		),

		ActiveAssessments: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: scoringSubsystem,
				Name:      "active_assessments",
				Help:      "In-flight scoring operations",
			},
		),
	}
	return DefaultMetrics
}

// RecordAssessment records one completed assessment.
func (m *ScoringMetrics) RecordAssessment(level string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.AssessmentsTotal.WithLabelValues(level, status).Inc()
	if success {
		m.AssessmentDuration.Observe(seconds)
	}
}

// RecordBatch records a scored batch.
func (m *ScoringMetrics) RecordBatch(size int) {
	m.BatchSize.Observe(float64(size))
}

// RecordJobState records a job reaching a terminal state.
func (m *ScoringMetrics) RecordJobState(state string) {
	m.BatchJobsTotal.WithLabelValues(state).Inc()
}

// RecordAuthFailure records an admission rejection.
func (m *ScoringMetrics) RecordAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}
