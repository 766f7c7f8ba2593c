// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scorer turns classifier probabilities into a worker risk
// assessment.
//
// # Description
//
// The scorer maps each comfort class to a risk point value, folds the
// class probabilities into a single standard score, applies the
// conservative bias, and classifies the biased score into one of four
// risk levels. It also owns the recommendation policy: every level has a
// baseline set of actions, extended by heat-index advisories, and the
// result is never empty.
//
// All functions are pure.
package scorer

import "fmt"

// =============================================================================
// Risk Levels
// =============================================================================

// Level is a worker risk classification.
type Level string

const (
	LevelSafe    Level = "Safe"
	LevelCaution Level = "Caution"
	LevelWarning Level = "Warning"
	LevelDanger  Level = "Danger"
)

// Score thresholds between levels. A score equal to a threshold belongs
// to the higher level.
const (
	ThresholdCaution = 0.25
	ThresholdWarning = 0.50
	ThresholdDanger  = 0.75
)

// DefaultConservativeBias is added to every standard score so the system
// errs toward overprotection.
const DefaultConservativeBias = 0.15

// Default heat-index policy thresholds in °F. Deployments override them
// through Config. The danger threshold also forces immediate attention
// regardless of the model score.
const (
	DefaultHeatIndexWarningF = 80.0
	DefaultHeatIndexDangerF  = 90.0
)

// Upper heat-index policy boundaries in °F. These come from the exposure
// policy itself and are not configurable.
const (
	suspendWorkHeatIndexF = 105.0
	ceaseWorkHeatIndexF   = 130.0
)

// LevelFor classifies a risk score.
func LevelFor(score float64) Level {
	switch {
	case score >= ThresholdDanger:
		return LevelDanger
	case score >= ThresholdWarning:
		return LevelWarning
	case score >= ThresholdCaution:
		return LevelCaution
	default:
		return LevelSafe
	}
}

// =============================================================================
// Scoring
// =============================================================================

// ClassPoints returns the risk point value per class for an n-class
// model, spaced evenly from 0 (most comfortable) to 0.9 (least). The
// shipped 4-class model yields 0, 0.3, 0.6, 0.9.
func ClassPoints(n int) []float64 {
	points := make([]float64, n)
	if n < 2 {
		if n == 1 {
			points[0] = 0.9
		}
		return points
	}
	for i := range points {
		points[i] = 0.9 * float64(i) / float64(n-1)
	}
	return points
}

// StandardScore is the probability-weighted sum of class points.
func StandardScore(probs []float64) float64 {
	points := ClassPoints(len(probs))
	var s float64
	for i, p := range probs {
		s += p * points[i]
	}
	return s
}

// ApplyBias shifts a standard score by the conservative bias, capped at 1.
func ApplyBias(score, bias float64) float64 {
	s := score + bias
	if s > 1 {
		return 1
	}
	if s < 0 {
		return 0
	}
	return s
}

// =============================================================================
// Assessment
// =============================================================================

// Config tunes the scorer. Zero values take the defaults.
type Config struct {
	// ConservativeBias added to the standard score; DefaultConservativeBias
	// when zero. Set Conservative to false to skip the bias entirely.
	ConservativeBias float64

	// Conservative applies the bias when true.
	Conservative bool

	// HeatIndexWarningF and HeatIndexDangerF override the policy
	// thresholds; DefaultHeatIndexWarningF and DefaultHeatIndexDangerF
	// when zero.
	HeatIndexWarningF float64
	HeatIndexDangerF  float64
}

// warningF resolves the warning threshold.
func (c Config) warningF() float64 {
	if c.HeatIndexWarningF > 0 {
		return c.HeatIndexWarningF
	}
	return DefaultHeatIndexWarningF
}

// dangerF resolves the danger threshold.
func (c Config) dangerF() float64 {
	if c.HeatIndexDangerF > 0 {
		return c.HeatIndexDangerF
	}
	return DefaultHeatIndexDangerF
}

// Result is one scored assessment.
type Result struct {
	// Class is the most probable comfort class label.
	Class string

	// Confidence is the probability of Class.
	Confidence float64

	// Probabilities maps every class label to its probability.
	Probabilities map[string]float64

	// StandardScore is the unbiased probability-weighted score.
	StandardScore float64

	// RiskScore is the served score: StandardScore plus the conservative
	// bias when enabled, in [0,1].
	RiskScore float64

	// Level classifies RiskScore.
	Level Level

	// Recommendations is the action list for this level and heat index.
	// Never empty.
	Recommendations []string

	// RequiresAttention flags workers needing an immediate response.
	RequiresAttention bool

	// BiasApplied reports whether the conservative bias shifted RiskScore.
	BiasApplied bool

	// Bias is the shift that was applied; zero when BiasApplied is false.
	Bias float64
}

// Score folds classifier output and the ambient heat index into an
// assessment.
//
// # Inputs
//
//   - classes: Ordered class labels from the artifact.
//   - probs: Probability per class, same order.
//   - heatIndexF: Apparent temperature in °F for the sample's conditions.
//   - cfg: Bias configuration.
func Score(classes []string, probs []float64, heatIndexF float64, cfg Config) Result {
	bias := 0.0
	if cfg.Conservative {
		bias = cfg.ConservativeBias
		if bias == 0 {
			bias = DefaultConservativeBias
		}
	}

	std := StandardScore(probs)
	risk := ApplyBias(std, bias)
	level := LevelFor(risk)

	best := 0
	probMap := make(map[string]float64, len(classes))
	for i, c := range classes {
		probMap[c] = probs[i]
		if probs[i] > probs[best] {
			best = i
		}
	}

	return Result{
		Class:             classes[best],
		Confidence:        probs[best],
		Probabilities:     probMap,
		StandardScore:     std,
		RiskScore:         risk,
		Level:             level,
		Recommendations:   advise(level, heatIndexF, cfg.warningF(), cfg.dangerF()),
		RequiresAttention: risk > ThresholdDanger || heatIndexF >= cfg.dangerF() || level == LevelDanger,
		BiasApplied:       cfg.Conservative,
		Bias:              bias,
	}
}

// =============================================================================
// Recommendation Policy
// =============================================================================

// baseline recommendations per level; heat-index advisories are appended.
var baseline = map[Level][]string{
	LevelSafe: {
		"Continue normal work routine",
		"Maintain regular hydration",
	},
	LevelCaution: {
		"Increase water intake to 8 oz every 15-20 minutes",
		"Take breaks in shade or a cool area every hour",
		"Monitor for early heat stress symptoms",
	},
	LevelWarning: {
		"Mandatory 15 minute rest breaks every hour",
		"Drink water every 15 minutes",
		"Move to an air-conditioned area when possible",
		"Notify supervisor of working conditions",
	},
	LevelDanger: {
		"Stop strenuous outdoor work immediately",
		"Move to an air-conditioned environment",
		"Initiate active cooling and continuous medical monitoring",
		"Contact medical personnel",
		"Supervisor and safety officer must be notified",
	},
}

// Recommendations builds the action list for a level under the given
// heat index at the default policy thresholds. The result is never
// empty.
func Recommendations(level Level, heatIndexF float64) []string {
	return advise(level, heatIndexF, DefaultHeatIndexWarningF, DefaultHeatIndexDangerF)
}

// advise appends the heat-index band advisory to the level baseline.
// Bands run warning, danger, suspend, cease; a heat index below the
// warning threshold adds nothing.
func advise(level Level, heatIndexF, warnF, dangerF float64) []string {
	base, ok := baseline[level]
	if !ok {
		base = baseline[LevelCaution]
	}
	out := append([]string(nil), base...)

	switch {
	case heatIndexF >= ceaseWorkHeatIndexF:
		out = append(out, fmt.Sprintf("Heat index %.0f °F: cease all outdoor work", heatIndexF))
	case heatIndexF >= suspendWorkHeatIndexF:
		out = append(out, fmt.Sprintf("Heat index %.0f °F: suspend outdoor work where possible", heatIndexF))
	case heatIndexF >= dangerF:
		out = append(out, fmt.Sprintf("Heat index %.0f °F: postpone non-essential outdoor work", heatIndexF))
	case heatIndexF >= warnF:
		out = append(out, fmt.Sprintf("Heat index %.0f °F: use caution and schedule shade breaks", heatIndexF))
	}
	return out
}

// =============================================================================
// Data Quality
// =============================================================================

// DataQuality scores how complete a sample was before imputation.
//
// Reported features carry 80% of the weight; having the full required
// set carries the remaining 20%.
func DataQuality(reported, total, requiredReported, requiredTotal int) float64 {
	if total <= 0 || requiredTotal <= 0 {
		return 0
	}
	q := 0.8*float64(reported)/float64(total) + 0.2*float64(requiredReported)/float64(requiredTotal)
	if q > 1 {
		return 1
	}
	if q < 0 {
		return 0
	}
	return q
}
