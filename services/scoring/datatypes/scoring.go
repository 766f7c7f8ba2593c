// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request and response structures for the
// scoring API.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/thermasense/heatguard/services/scoring/service"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxBatchSamples caps synchronous batch requests.
	MaxBatchSamples = 1000

	// MaxAsyncSamples caps asynchronous job submissions.
	MaxAsyncSamples = 10000

	// MaxWorkerIDLength bounds caller-supplied worker identifiers.
	MaxWorkerIDLength = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// scoringValidate is the validator instance for scoring datatypes.
var scoringValidate *validator.Validate

func init() {
	scoringValidate = validator.New()
}

// =============================================================================
// Options
// =============================================================================

// ScoreOptions tune one scoring request. Every field is optional; the
// conservative bias and compliance logging both default to on.
type ScoreOptions struct {
	UseConservative *bool  `json:"use_conservative"`
	LogCompliance   *bool  `json:"log_compliance"`
	Model           string `json:"model" validate:"omitempty,max=128"`

	// Priority is honored for async submissions only.
	Priority string `json:"priority" validate:"omitempty,oneof=high normal low"`
}

// conservative resolves the bias flag, nil meaning on.
func (o *ScoreOptions) conservative() bool {
	return o == nil || o.UseConservative == nil || *o.UseConservative
}

// logCompliance resolves the journal flag, nil meaning on.
func (o *ScoreOptions) logCompliance() bool {
	return o == nil || o.LogCompliance == nil || *o.LogCompliance
}

// model returns the requested artifact name, empty for the default.
func (o *ScoreOptions) model() string {
	if o == nil {
		return ""
	}
	return o.Model
}

// =============================================================================
// Requests
// =============================================================================

// PredictRequest is the body of POST /predict.
//
// # Fields
//
//   - Data: Required flat map of feature name to value, with an optional
//     worker_id entry. Unknown names are ignored; missing optional
//     features are imputed.
//   - Options: Per-request behavior; see ScoreOptions.
type PredictRequest struct {
	Data    map[string]any `json:"data" validate:"required,min=1"`
	Options *ScoreOptions  `json:"options"`
}

// Validate checks structural constraints.
func (r *PredictRequest) Validate() error {
	return scoringValidate.Struct(r)
}

// ServiceOptions maps request options onto the scoring pipeline's.
func (r *PredictRequest) ServiceOptions() service.Options {
	return service.Options{
		ModelName:    r.Options.model(),
		Conservative: r.Options.conservative(),
		SkipJournal:  !r.Options.logCompliance(),
	}
}

// BatchPredictRequest is the body of POST /predict_batch.
type BatchPredictRequest struct {
	Data    []map[string]any `json:"data" validate:"required,min=1,max=1000"`
	Options *ScoreOptions    `json:"options"`
}

// Validate checks structural constraints.
func (r *BatchPredictRequest) Validate() error {
	return scoringValidate.Struct(r)
}

// ServiceOptions maps request options onto the scoring pipeline's.
func (r *BatchPredictRequest) ServiceOptions() service.Options {
	return service.Options{
		ModelName:    r.Options.model(),
		Conservative: r.Options.conservative(),
		SkipJournal:  !r.Options.logCompliance(),
	}
}

// AsyncBatchRequest is the body of POST /predict_batch_async.
type AsyncBatchRequest struct {
	Data    []map[string]any `json:"data" validate:"required,min=1,max=10000"`
	Options *ScoreOptions    `json:"options"`
}

// Validate checks structural constraints.
func (r *AsyncBatchRequest) Validate() error {
	return scoringValidate.Struct(r)
}

// ServiceOptions maps request options onto the scoring pipeline's.
func (r *AsyncBatchRequest) ServiceOptions() service.Options {
	return service.Options{
		ModelName:    r.Options.model(),
		Conservative: r.Options.conservative(),
		SkipJournal:  !r.Options.logCompliance(),
	}
}

// Priority returns the requested queue priority, "normal" when unset.
func (r *AsyncBatchRequest) Priority() string {
	if r.Options == nil || r.Options.Priority == "" {
		return "normal"
	}
	return r.Options.Priority
}

// =============================================================================
// Responses
// =============================================================================

// PredictionResult is the JSON shape of one scored assessment.
type PredictionResult struct {
	RequestID                  string             `json:"request_id"`
	WorkerID                   string             `json:"worker_id"`
	Timestamp                  time.Time          `json:"timestamp"`
	RiskScore                  float64            `json:"risk_score"`
	RiskScoreStandard          float64            `json:"risk_score_standard"`
	RiskLevel                  string             `json:"risk_level"`
	Confidence                 float64            `json:"confidence"`
	TemperatureC               float64            `json:"temperature_c"`
	TemperatureF               float64            `json:"temperature_f"`
	HumidityPct                float64            `json:"humidity_pct"`
	HeatIndexF                 float64            `json:"heat_index_f"`
	HeatIndexBand              string             `json:"heat_index_band"`
	OSHARecommendations        []string           `json:"osha_recommendations"`
	RequiresImmediateAttention bool               `json:"requires_immediate_attention"`
	ConservativeBiasApplied    bool               `json:"conservative_bias_applied"`
	ConservativeBiasValue      float64            `json:"conservative_bias_value"`
	PredictedClass             string             `json:"predicted_class"`
	ClassProbabilities         map[string]float64 `json:"class_probabilities"`
	ProcessingTimeMs           float64            `json:"processing_time_ms"`
	DataQualityScore           float64            `json:"data_quality_score"`
	ImputedFeatureCount        int                `json:"imputed_feature_count"`
	ValidationWarnings         []string           `json:"validation_warnings"`
	Model                      string             `json:"model"`
}

// FromAssessment maps a domain assessment onto the wire shape.
func FromAssessment(a *service.Assessment) PredictionResult {
	warnings := a.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return PredictionResult{
		RequestID:                  a.RequestID,
		WorkerID:                   a.WorkerID,
		Timestamp:                  a.ProcessedAt,
		RiskScore:                  a.RiskScore,
		RiskScoreStandard:          a.StandardScore,
		RiskLevel:                  string(a.Level),
		Confidence:                 a.Confidence,
		TemperatureC:               a.TemperatureC,
		TemperatureF:               a.TemperatureC*9.0/5.0 + 32.0,
		HumidityPct:                a.HumidityPct,
		HeatIndexF:                 a.HeatIndexF,
		HeatIndexBand:              string(a.HeatIndexBand),
		OSHARecommendations:        a.Recommendations,
		RequiresImmediateAttention: a.RequiresAttention,
		ConservativeBiasApplied:    a.BiasApplied,
		ConservativeBiasValue:      a.BiasValue,
		PredictedClass:             a.Class,
		ClassProbabilities:         a.Probabilities,
		ProcessingTimeMs:           a.ProcessingMs,
		DataQualityScore:           a.DataQuality,
		ImputedFeatureCount:        a.ImputedCount,
		ValidationWarnings:         warnings,
		Model:                      a.ModelName,
	}
}

// BatchItem is one slot of a batch response.
type BatchItem struct {
	Index  int               `json:"index"`
	Result *PredictionResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// BatchPredictResponse is the body of a synchronous batch reply.
type BatchPredictResponse struct {
	BatchID string               `json:"batch_id"`
	Results []BatchItem          `json:"results"`
	Summary service.BatchSummary `json:"summary"`
}

// FromBatchOutcome maps a batch outcome onto the wire shape.
func FromBatchOutcome(out *service.BatchOutcome) BatchPredictResponse {
	resp := BatchPredictResponse{
		BatchID: out.Summary.BatchID,
		Results: make([]BatchItem, len(out.Results)),
		Summary: out.Summary,
	}
	for i, r := range out.Results {
		item := BatchItem{Index: r.Index}
		if r.Err != nil {
			item.Error = r.Err.Error()
		} else if r.Assessment != nil {
			pr := FromAssessment(r.Assessment)
			item.Result = &pr
		}
		resp.Results[i] = item
	}
	return resp
}

// JobSubmitResponse acknowledges an asynchronous submission.
type JobSubmitResponse struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	BatchSize   int       `json:"batch_size"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewErrorResponse builds an error envelope with the current time.
func NewErrorResponse(message, detail string) ErrorResponse {
	return ErrorResponse{
		Error:     message,
		Detail:    detail,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
