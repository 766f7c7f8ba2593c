// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package compliance maintains the tamper-evident heat-safety journal.
//
// # Description
//
// Every assessment and batch run is recorded as a JSON line in a
// dedicated journal file. Records form a hash chain: each carries the
// SHA-256 of the previous record, so any edit to the file breaks
// verification from that point on. The journal backs workplace safety
// reporting and exists independently of the operational logs.
package compliance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// GenesisHash is the PrevHash of the first record in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Kind discriminates journal record types.
type Kind string

const (
	// KindAssessment records one scored worker sample.
	KindAssessment Kind = "assessment"

	// KindHighRiskAlert records an assessment whose risk score or heat
	// index crossed the alert thresholds. Alerts duplicate the assessment
	// payload and add reasons plus the top immediate actions.
	KindHighRiskAlert Kind = "high_risk_alert"

	// KindBatchSummary records the aggregate outcome of a batch run.
	KindBatchSummary Kind = "batch_summary"

	// KindBatchAlert records a batch whose high-risk share crossed the
	// alert threshold.
	KindBatchAlert Kind = "batch_alert"
)

// =============================================================================
// Heat Index Bands
// =============================================================================

// Band classifies a heat index per the standard exposure categories.
type Band string

const (
	BandNormal         Band = "Normal"
	BandCaution        Band = "Caution"
	BandExtremeCaution Band = "Extreme Caution"
	BandDanger         Band = "Danger"
	BandExtremeDanger  Band = "Extreme Danger"
)

// BandFor classifies a heat index in °F.
func BandFor(heatIndexF float64) Band {
	switch {
	case heatIndexF >= 125:
		return BandExtremeDanger
	case heatIndexF >= 103:
		return BandDanger
	case heatIndexF >= 90:
		return BandExtremeCaution
	case heatIndexF >= 80:
		return BandCaution
	default:
		return BandNormal
	}
}

// =============================================================================
// Records
// =============================================================================

// Record is one journal entry. Assessment fields are zero for batch
// records and vice versa.
type Record struct {
	Sequence  int64  `json:"sequence"`
	Timestamp string `json:"timestamp"`
	Kind      Kind   `json:"kind"`

	// Assessment fields: the full prediction echo plus the compliance
	// flags derived from it.
	WorkerID           string             `json:"worker_id,omitempty"`
	RiskScore          float64            `json:"risk_score,omitempty"`
	StandardScore      float64            `json:"risk_score_standard,omitempty"`
	RiskLevel          string             `json:"risk_level,omitempty"`
	PredictedClass     string             `json:"predicted_class,omitempty"`
	Confidence         float64            `json:"confidence,omitempty"`
	ClassProbabilities map[string]float64 `json:"class_probabilities,omitempty"`
	Recommendations    []string           `json:"recommendations,omitempty"`
	HeatIndexF         float64            `json:"heat_index_f,omitempty"`
	HeatIndexBand      Band               `json:"heat_index_band,omitempty"`
	TemperatureC       float64            `json:"temperature_c,omitempty"`
	HumidityPct        float64            `json:"humidity_pct,omitempty"`
	RequiresAttention  bool               `json:"requires_attention,omitempty"`
	WorkRestRequired   bool               `json:"work_rest_required,omitempty"`
	MedicalAttention   bool               `json:"medical_attention_recommended,omitempty"`

	// AlertReasons name the thresholds a high-risk alert crossed. Only
	// set on KindHighRiskAlert records.
	AlertReasons []string `json:"alert_reasons,omitempty"`

	// Batch fields.
	BatchID           string         `json:"batch_id,omitempty"`
	BatchSize         int            `json:"batch_size,omitempty"`
	ScoredCount       int            `json:"scored_count,omitempty"`
	FailedCount       int            `json:"failed_count,omitempty"`
	HighRiskCount     int            `json:"high_risk_count,omitempty"`
	LevelCounts       map[string]int `json:"level_counts,omitempty"`
	BandCounts        map[Band]int   `json:"band_counts,omitempty"`
	MinRiskScore      float64        `json:"min_risk_score,omitempty"`
	AvgRiskScore      float64        `json:"avg_risk_score,omitempty"`
	MedianRiskScore   float64        `json:"median_risk_score,omitempty"`
	MaxRiskScore      float64        `json:"max_risk_score,omitempty"`
	AttentionFraction float64        `json:"attention_fraction,omitempty"`

	// Chain linkage.
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

// computeRecordHash hashes a record's fields (excluding EntryHash) in a
// stable order for chain linking. Map fields are folded in key order so
// the digest does not depend on iteration order.
func computeRecordHash(r Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s|%s|%.6f|%.6f|%s|%s|%.6f|%.4f|%s|%.4f|%.4f|%t|%t|%t",
		r.Sequence,
		r.Timestamp,
		r.Kind,
		r.WorkerID,
		r.RiskScore,
		r.StandardScore,
		r.RiskLevel,
		r.PredictedClass,
		r.Confidence,
		r.HeatIndexF,
		r.HeatIndexBand,
		r.TemperatureC,
		r.HumidityPct,
		r.RequiresAttention,
		r.WorkRestRequired,
		r.MedicalAttention,
	)
	for _, class := range sortedKeys(r.ClassProbabilities) {
		fmt.Fprintf(&b, "|%s=%.6f", class, r.ClassProbabilities[class])
	}
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "|%s", rec)
	}
	for _, reason := range r.AlertReasons {
		fmt.Fprintf(&b, "|%s", reason)
	}
	fmt.Fprintf(&b, "|%s|%d|%d|%d|%d|%.6f|%.6f|%.6f|%.6f|%.6f",
		r.BatchID,
		r.BatchSize,
		r.ScoredCount,
		r.FailedCount,
		r.HighRiskCount,
		r.MinRiskScore,
		r.AvgRiskScore,
		r.MedianRiskScore,
		r.MaxRiskScore,
		r.AttentionFraction,
	)
	for _, level := range sortedKeys(r.LevelCounts) {
		fmt.Fprintf(&b, "|%s=%d", level, r.LevelCounts[level])
	}
	for _, band := range sortedBands(r.BandCounts) {
		fmt.Fprintf(&b, "|%s=%d", band, r.BandCounts[band])
	}
	fmt.Fprintf(&b, "|%s", r.PrevHash)

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}

// sortedKeys returns the map's keys in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedBands returns the band keys in ascending name order.
func sortedBands(m map[Band]int) []Band {
	bands := make([]Band, 0, len(m))
	for b := range m {
		bands = append(bands, b)
	}
	sort.Slice(bands, func(i, k int) bool { return bands[i] < bands[k] })
	return bands
}
