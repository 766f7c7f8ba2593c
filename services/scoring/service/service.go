// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package service orchestrates the scoring pipeline.
//
// # Description
//
// The service wires validation, imputation, normalization, model
// inference, scoring, and compliance emission into single-sample and
// batch operations. Batch scoring fans out across a bounded worker pool
// with per-item error isolation: one bad or panicking sample never takes
// down its batch.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/thermasense/heatguard/services/scoring/compliance"
	"github.com/thermasense/heatguard/services/scoring/heatindex"
	"github.com/thermasense/heatguard/services/scoring/model"
	"github.com/thermasense/heatguard/services/scoring/observability"
	"github.com/thermasense/heatguard/services/scoring/preprocess"
	"github.com/thermasense/heatguard/services/scoring/schema"
	"github.com/thermasense/heatguard/services/scoring/scorer"
	"github.com/thermasense/heatguard/services/scoring/validation"
)

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the scoring service.
type Config struct {
	// ConservativeBias added to standard scores when conservative scoring
	// is requested; scorer.DefaultConservativeBias when zero.
	ConservativeBias float64

	// BatchSizeLimit caps synchronous batch requests.
	BatchSizeLimit int

	// MaxConcurrent bounds the batch worker pool.
	MaxConcurrent int

	// BatchAlertShare is the high-risk share at which a batch alert is
	// journaled; 0.25 when zero.
	BatchAlertShare float64

	// PredictionTimeout bounds one sample's trip through the pipeline.
	// Zero disables the per-item deadline.
	PredictionTimeout time.Duration

	// HeatIndexWarningF and HeatIndexDangerF are the °F policy
	// thresholds; scorer defaults when zero. The danger threshold also
	// gates high-risk alert emission.
	HeatIndexWarningF float64
	HeatIndexDangerF  float64
}

const (
	defaultBatchSizeLimit  = 1000
	defaultMaxConcurrent   = 100
	defaultBatchAlertShare = 0.25
)

// ErrTimeout reports that a per-item deadline expired between pipeline
// stages.
var ErrTimeout = errors.New("scoring deadline exceeded")

// dangerF resolves the configured danger threshold.
func (c Config) dangerF() float64 {
	if c.HeatIndexDangerF > 0 {
		return c.HeatIndexDangerF
	}
	return scorer.DefaultHeatIndexDangerF
}

// =============================================================================
// Service
// =============================================================================

// Service runs the scoring pipeline.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	cfg     Config
	host    *model.Host
	journal *compliance.Journal
	logger  *slog.Logger
	sem     chan struct{}
}

// New builds a Service. journal may be nil when compliance logging is
// disabled.
func New(cfg Config, host *model.Host, journal *compliance.Journal, logger *slog.Logger) *Service {
	if cfg.BatchSizeLimit <= 0 {
		cfg.BatchSizeLimit = defaultBatchSizeLimit
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.BatchAlertShare <= 0 {
		cfg.BatchAlertShare = defaultBatchAlertShare
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		host:    host,
		journal: journal,
		logger:  logger,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// BatchSizeLimit exposes the configured cap for handler validation.
func (s *Service) BatchSizeLimit() int { return s.cfg.BatchSizeLimit }

// Options select per-request scoring behavior.
type Options struct {
	// ModelName picks the artifact; the default artifact when empty.
	ModelName string

	// Conservative applies the safety bias. Handlers default this to true.
	Conservative bool

	// SkipJournal suppresses compliance emission for this request. The
	// zero value keeps the journal on.
	SkipJournal bool
}

// Assessment is one scored worker sample.
type Assessment struct {
	RequestID         string
	WorkerID          string
	Class             string
	Confidence        float64
	Probabilities     map[string]float64
	StandardScore     float64
	RiskScore         float64
	Level             scorer.Level
	Recommendations   []string
	RequiresAttention bool
	HeatIndexF        float64
	HeatIndexBand     compliance.Band
	TemperatureC      float64
	HumidityPct       float64
	DataQuality       float64
	Warnings          []string
	ImputedCount      int
	BiasApplied       bool
	BiasValue         float64
	ModelName         string
	ProcessedAt       time.Time
	ProcessingMs      float64
}

// =============================================================================
// Single Sample
// =============================================================================

// ScoreSample runs the full pipeline on one raw sample.
//
// # Outputs
//
//   - *Assessment: The scored assessment.
//   - error: validation.*Error for bad input, model.ErrUnavailable
//     (wrapped) when no artifact can be served.
func (s *Service) ScoreSample(ctx context.Context, raw map[string]any, workerID string, opts Options) (*Assessment, error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "service.score_sample")
	defer span.End()
	if m := observability.DefaultMetrics; m != nil {
		m.ActiveAssessments.Inc()
		defer m.ActiveAssessments.Dec()
	}

	cleaned, err := validation.ValidateSample(raw, workerID)
	if err != nil {
		s.recordMetric("", false, 0)
		return nil, err
	}
	a, err := s.scoreCleaned(ctx, cleaned, opts)
	if err != nil {
		s.recordMetric("", false, 0)
		return nil, err
	}
	s.recordMetric(string(a.Level), true, time.Since(start).Seconds())

	if !opts.SkipJournal {
		s.emitAssessment(a)
	}
	return a, nil
}

// scoreCleaned runs the pipeline stages after validation. A per-item
// deadline, when configured, is checked at each stage boundary.
func (s *Service) scoreCleaned(ctx context.Context, cleaned *validation.Cleaned, opts Options) (*Assessment, error) {
	start := time.Now()
	if s.cfg.PredictionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PredictionTimeout)
		defer cancel()
	}
	if err := checkpoint(ctx, "validation"); err != nil {
		return nil, err
	}

	rec, err := preprocess.Impute(cleaned)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	vector := preprocess.Normalize(rec, true)
	if err := checkpoint(ctx, "preprocessing"); err != nil {
		return nil, err
	}

	_, probs, artifact, err := s.host.Predict(opts.ModelName, vector)
	if err != nil {
		return nil, err
	}
	if err := checkpoint(ctx, "inference"); err != nil {
		return nil, err
	}

	tempC := rec.Values[schema.Temperature]
	rh := rec.Values[schema.Humidity]
	hiF := heatindex.ComputeFromCelsius(tempC, rh)

	result := scorer.Score(artifact.Classes, probs, hiF, scorer.Config{
		Conservative:      opts.Conservative,
		ConservativeBias:  s.cfg.ConservativeBias,
		HeatIndexWarningF: s.cfg.HeatIndexWarningF,
		HeatIndexDangerF:  s.cfg.HeatIndexDangerF,
	})

	reported := schema.Count - len(rec.Imputed)
	requiredReported := 0
	for _, name := range schema.Required() {
		if _, ok := cleaned.Features[name]; ok {
			requiredReported++
		}
	}

	return &Assessment{
		RequestID:         uuid.NewString(),
		WorkerID:          rec.WorkerID,
		Class:             result.Class,
		Confidence:        result.Confidence,
		Probabilities:     result.Probabilities,
		StandardScore:     result.StandardScore,
		RiskScore:         result.RiskScore,
		Level:             result.Level,
		Recommendations:   result.Recommendations,
		RequiresAttention: result.RequiresAttention,
		HeatIndexF:        hiF,
		HeatIndexBand:     compliance.BandFor(hiF),
		TemperatureC:      tempC,
		HumidityPct:       rh,
		DataQuality:       scorer.DataQuality(reported, schema.Count, requiredReported, len(schema.Required())),
		Warnings:          cleaned.Warnings,
		ImputedCount:      len(rec.Imputed),
		BiasApplied:       result.BiasApplied,
		BiasValue:         result.Bias,
		ModelName:         artifact.Name,
		ProcessedAt:       time.Now().UTC(),
		ProcessingMs:      float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

// =============================================================================
// Batch
// =============================================================================

// ItemResult is one batch slot: an assessment or the error that replaced it.
type ItemResult struct {
	Index      int
	Assessment *Assessment
	Err        error
}

// BatchSummary aggregates a scored batch.
type BatchSummary struct {
	BatchID       string `json:"batch_id"`
	Size          int    `json:"size"`
	Scored        int    `json:"scored"`
	Failed        int    `json:"failed"`
	HighRiskCount int    `json:"high_risk_count"`

	// LevelCounts and BandCounts distribute scored items by risk level
	// and heat-index band.
	LevelCounts map[string]int          `json:"level_counts"`
	BandCounts  map[compliance.Band]int `json:"heat_index_band_counts"`

	MinRiskScore    float64 `json:"min_risk_score"`
	AvgRiskScore    float64 `json:"avg_risk_score"`
	MedianRiskScore float64 `json:"median_risk_score"`
	MaxRiskScore    float64 `json:"max_risk_score"`

	// AttentionFraction is the share of scored items flagged for
	// immediate attention.
	AttentionFraction float64 `json:"attention_fraction"`

	Duration time.Duration `json:"duration_ns"`
}

// BatchOutcome is the full result of a batch run, order preserving.
type BatchOutcome struct {
	Results []ItemResult
	Summary BatchSummary
}

// ScoreBatch validates and scores a batch across the worker pool.
//
// # Description
//
// Validation failures occupy their slot as errors; surviving samples are
// scored concurrently, bounded by MaxConcurrent. A panic inside one item
// is recovered into that item's error. Results keep input order.
func (s *Service) ScoreBatch(ctx context.Context, inputs []validation.BatchInput, opts Options) (*BatchOutcome, error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "service.score_batch")
	defer span.End()

	cleaned, failures, err := validation.ValidateBatch(inputs, s.cfg.BatchSizeLimit)
	if err != nil {
		return nil, err
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordBatch(len(inputs))
	}

	results := make([]ItemResult, len(inputs))
	for _, f := range failures {
		results[f.Index] = ItemResult{Index: f.Index, Err: f.Err}
	}
	s.scoreCleanedBatch(ctx, cleaned, opts, results)

	summary := s.Summarize(results, time.Since(start))
	if !opts.SkipJournal {
		s.EmitBatch(results, summary)
	}

	return &BatchOutcome{Results: results, Summary: summary}, nil
}

// ScoreItems scores a chunk without batch-level validation or journal
// emission. Every input occupies its slot, failed or scored; the async
// scheduler aggregates chunks itself and journals once per job.
func (s *Service) ScoreItems(ctx context.Context, inputs []validation.BatchInput, opts Options) []ItemResult {
	results := make([]ItemResult, len(inputs))
	cleaned := make([]*validation.Cleaned, len(inputs))
	for i, in := range inputs {
		c, err := validation.ValidateSample(in.Raw, in.WorkerID)
		if err != nil {
			results[i] = ItemResult{Index: i, Err: err}
			continue
		}
		cleaned[i] = c
	}
	s.scoreCleanedBatch(ctx, cleaned, opts, results)
	return results
}

// scoreCleanedBatch fans cleaned samples across the worker pool, filling
// results in place. Nil cleaned slots are left untouched.
func (s *Service) scoreCleanedBatch(ctx context.Context, cleaned []*validation.Cleaned, opts Options, results []ItemResult) {
	done := make(chan int, len(cleaned))
	launched := 0
	for i, c := range cleaned {
		if c == nil {
			continue
		}
		launched++
		go func(i int, c *validation.Cleaned) {
			defer func() {
				if r := recover(); r != nil {
					results[i] = ItemResult{Index: i, Err: fmt.Errorf("scoring panicked: %v", r)}
					s.logger.Error("batch item panic",
						slog.Int("index", i),
						slog.Any("panic", r))
				}
				done <- i
			}()

			s.sem <- struct{}{}
			defer func() { <-s.sem }()

			a, err := s.scoreCleaned(ctx, c, opts)
			results[i] = ItemResult{Index: i, Assessment: a, Err: err}
		}(i, c)
	}
	for n := 0; n < launched; n++ {
		<-done
	}
}

// Summarize folds item results into batch statistics: counts by level
// and band, min/mean/median/max risk, and the attention fraction.
func (s *Service) Summarize(results []ItemResult, dur time.Duration) BatchSummary {
	sum := BatchSummary{
		BatchID:     uuid.NewString(),
		Size:        len(results),
		LevelCounts: make(map[string]int),
		BandCounts:  make(map[compliance.Band]int),
		Duration:    dur,
	}
	var total float64
	var attention int
	var scores []float64
	for _, r := range results {
		if r.Err != nil || r.Assessment == nil {
			sum.Failed++
			continue
		}
		sum.Scored++
		total += r.Assessment.RiskScore
		scores = append(scores, r.Assessment.RiskScore)
		sum.LevelCounts[string(r.Assessment.Level)]++
		sum.BandCounts[r.Assessment.HeatIndexBand]++
		if r.Assessment.RequiresAttention {
			attention++
		}
		if r.Assessment.Level == scorer.LevelWarning || r.Assessment.Level == scorer.LevelDanger {
			sum.HighRiskCount++
		}
	}
	if sum.Scored > 0 {
		sort.Float64s(scores)
		sum.MinRiskScore = scores[0]
		sum.MaxRiskScore = scores[len(scores)-1]
		sum.MedianRiskScore = median(scores)
		sum.AvgRiskScore = total / float64(sum.Scored)
		sum.AttentionFraction = float64(attention) / float64(sum.Scored)
	}
	return sum
}

// median of an ascending-sorted, non-empty slice.
func median(sorted []float64) float64 {
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// checkpoint reports a deadline or cancellation hit between pipeline
// stages.
func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, stage)
		}
		return err
	}
	return nil
}

// =============================================================================
// Compliance Emission
// =============================================================================

// emitAssessment journals the full prediction echo, plus an alert record
// when the score or heat index crosses the alert thresholds.
func (s *Service) emitAssessment(a *Assessment) {
	if s.journal == nil {
		return
	}
	workRest := a.Level == scorer.LevelWarning || a.Level == scorer.LevelDanger
	medical := a.Level == scorer.LevelDanger || a.HeatIndexBand == compliance.BandExtremeDanger
	rec := compliance.Record{
		Kind:               compliance.KindAssessment,
		WorkerID:           a.WorkerID,
		RiskScore:          a.RiskScore,
		StandardScore:      a.StandardScore,
		RiskLevel:          string(a.Level),
		PredictedClass:     a.Class,
		Confidence:         a.Confidence,
		ClassProbabilities: a.Probabilities,
		Recommendations:    a.Recommendations,
		HeatIndexF:         a.HeatIndexF,
		HeatIndexBand:      a.HeatIndexBand,
		TemperatureC:       a.TemperatureC,
		HumidityPct:        a.HumidityPct,
		RequiresAttention:  a.RequiresAttention,
		WorkRestRequired:   workRest,
		MedicalAttention:   medical,
	}
	s.emit(rec)

	var reasons []string
	if a.RiskScore > scorer.ThresholdDanger {
		reasons = append(reasons,
			fmt.Sprintf("risk score %.2f exceeds %.2f", a.RiskScore, scorer.ThresholdDanger))
	}
	if a.HeatIndexF >= s.cfg.dangerF() {
		reasons = append(reasons,
			fmt.Sprintf("heat index %.0f °F at or above the %.0f °F danger threshold",
				a.HeatIndexF, s.cfg.dangerF()))
	}
	if len(reasons) == 0 {
		return
	}

	alert := rec
	alert.Kind = compliance.KindHighRiskAlert
	alert.AlertReasons = reasons
	if len(alert.Recommendations) > 3 {
		alert.Recommendations = alert.Recommendations[:3]
	}
	s.emit(alert)
}

// EmitBatch journals the batch summary, plus an alert when the high-risk
// share crosses the configured threshold.
func (s *Service) EmitBatch(results []ItemResult, sum BatchSummary) {
	if s.journal == nil {
		return
	}
	rec := compliance.Record{
		Kind:              compliance.KindBatchSummary,
		BatchID:           sum.BatchID,
		BatchSize:         sum.Size,
		ScoredCount:       sum.Scored,
		FailedCount:       sum.Failed,
		HighRiskCount:     sum.HighRiskCount,
		LevelCounts:       sum.LevelCounts,
		BandCounts:        sum.BandCounts,
		MinRiskScore:      sum.MinRiskScore,
		AvgRiskScore:      sum.AvgRiskScore,
		MedianRiskScore:   sum.MedianRiskScore,
		MaxRiskScore:      sum.MaxRiskScore,
		AttentionFraction: sum.AttentionFraction,
	}
	s.emit(rec)

	if sum.Scored > 0 && float64(sum.HighRiskCount)/float64(sum.Scored) >= s.cfg.BatchAlertShare {
		rec.Kind = compliance.KindBatchAlert
		rec.Recommendations = []string{
			"Rotate crews out of direct heat exposure",
			"Increase rest-cycle frequency across the site",
			"Verify hydration supplies at every station",
		}
		s.emit(rec)
		s.logger.Warn("batch high-risk alert",
			slog.String("batch_id", sum.BatchID),
			slog.Int("high_risk", sum.HighRiskCount),
			slog.Int("scored", sum.Scored))
	}
}

// emit queues a journal record, counting drops in metrics.
func (s *Service) emit(rec compliance.Record) {
	if !s.journal.Emit(rec) {
		if m := observability.DefaultMetrics; m != nil {
			m.JournalDropsTotal.Inc()
		}
	}
}

// recordMetric is a nil-safe metrics helper.
func (s *Service) recordMetric(level string, success bool, seconds float64) {
	if m := observability.DefaultMetrics; m != nil {
		if level == "" {
			level = "unknown"
		}
		m.RecordAssessment(level, success, seconds)
	}
}
