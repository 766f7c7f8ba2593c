// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package preprocess completes validated samples into model-ready vectors.
//
// # Description
//
// Three pure stages operate on a cleaned sample:
//
//  1. Impute: fill every schema feature the device did not report,
//     using physiological rules where they exist (age-adjusted heart
//     rate, the 60000/HR reciprocal between heart rate and NN interval)
//     and schema defaults otherwise.
//  2. Derive: compute best-effort auxiliary indicators (heat stress
//     factor, age risk, RMSSD stress) used for reporting. Derived values
//     are not model inputs.
//  3. Normalize: min-max scale the completed record to [0,1] per the
//     schema ranges, emitting the vector in canonical order.
//
// After Impute, every feature named by the schema holds a finite value.
package preprocess

import (
	"fmt"
	"math"

	"github.com/thermasense/heatguard/services/scoring/schema"
	"github.com/thermasense/heatguard/services/scoring/validation"
)

// =============================================================================
// Record
// =============================================================================

// Record is a fully-imputed sample.
type Record struct {
	// WorkerID carries through from validation.
	WorkerID string

	// Values maps every schema feature to a finite value.
	Values map[string]float64

	// Imputed lists the features that were filled by rule or default
	// rather than reported by the device. Used for data-quality scoring.
	Imputed []string

	// Derived holds the auxiliary indicators from Derive.
	Derived map[string]float64
}

// =============================================================================
// Imputation
// =============================================================================

// Impute completes a cleaned sample so that every schema feature has a
// finite value.
//
// # Imputation Rules
//
//   - mean_hr:  75 − 0.5·(age−30), clamped to [50,100]
//   - mean_nni: 60000 / mean_hr (reciprocal rule), and vice versa
//   - rmssd:    40 − 0.5·(age−30), +5 for female subjects, floor 10
//   - sdnn:     50 − 0.3·(age−30), floor 20
//   - any other HRV feature: 0.0
//   - demographics/environment: schema defaults
//
// # Outputs
//
//   - *Record: Completed record with the imputed-feature list.
//   - error: Non-nil only if a value is non-finite after imputation,
//     which indicates corrupted input.
func Impute(c *validation.Cleaned) (*Record, error) {
	r := &Record{
		WorkerID: c.WorkerID,
		Values:   make(map[string]float64, schema.Count),
	}
	for name, v := range c.Features {
		r.Values[name] = v
	}

	age, hasAge := r.Values[schema.Age]
	if !hasAge {
		age = schema.Default(schema.Age)
		r.impute(schema.Age, age)
	}
	female := r.Values[schema.Gender] == 0

	// Heart rate and NN interval are reciprocal; fill one from the other
	// before falling back to the age-adjusted baseline.
	hr, hasHR := r.Values[schema.MeanHR]
	nni, hasNNI := r.Values[schema.MeanNNI]
	switch {
	case !hasHR && hasNNI && nni > 0:
		hr = 60000 / nni
		r.impute(schema.MeanHR, hr)
	case !hasHR:
		hr = clamp(75-0.5*(age-30), 50, 100)
		r.impute(schema.MeanHR, hr)
	}
	if !hasNNI {
		if hr > 0 {
			r.impute(schema.MeanNNI, 60000/hr)
		} else {
			r.impute(schema.MeanNNI, schema.Default(schema.MeanNNI))
		}
	}

	if _, ok := r.Values[schema.RMSSD]; !ok {
		v := 40 - 0.5*(age-30)
		if female {
			v += 5
		}
		r.impute(schema.RMSSD, math.Max(v, 10))
	}
	if _, ok := r.Values[schema.SDNN]; !ok {
		r.impute(schema.SDNN, math.Max(50-0.3*(age-30), 20))
	}

	// Everything still missing: HRV features go to zero, the rest take
	// their schema defaults.
	for _, name := range schema.Features() {
		if _, ok := r.Values[name]; ok {
			continue
		}
		if schema.IsHRV(name) {
			r.impute(name, 0)
		} else {
			r.impute(name, schema.Default(name))
		}
	}

	for name, v := range r.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("feature %s is non-finite after imputation", name)
		}
	}

	r.Derived = Derive(r.Values)
	return r, nil
}

// impute records a rule-filled value.
func (r *Record) impute(name string, v float64) {
	r.Values[name] = v
	r.Imputed = append(r.Imputed, name)
}

// =============================================================================
// Derived Features
// =============================================================================

// Derived indicator names.
const (
	HeatStressFactor = "heat_stress_factor"
	AgeRiskFactor    = "age_risk_factor"
	StressIndicator  = "stress_indicator"
)

// Derive computes the auxiliary indicators from a completed value map.
// Each indicator is best-effort: it is emitted only when its inputs are
// present in the map.
func Derive(values map[string]float64) map[string]float64 {
	out := make(map[string]float64, 3)

	temp, hasTemp := values[schema.Temperature]
	rh, hasRH := values[schema.Humidity]
	if hasTemp && hasRH {
		factor := 1.0
		if temp > 26 {
			factor += (temp - 26) / 10
		}
		if rh > 50 {
			factor += (rh - 50) / 100
		}
		out[HeatStressFactor] = math.Min(factor, 2.0)
	}

	if age, ok := values[schema.Age]; ok {
		out[AgeRiskFactor] = 1 + math.Max(0, (age-40)*0.01)
	}

	if rmssd, ok := values[schema.RMSSD]; ok {
		out[StressIndicator] = clamp((50-rmssd)/40, 0, 1)
	}

	return out
}

// =============================================================================
// Normalization
// =============================================================================

// Normalize emits the model input vector in canonical schema order.
//
// # Inputs
//
//   - r: A completed record (every schema feature present).
//   - scale: When true, min-max normalize each value to [0,1] using the
//     schema range, clamping to the endpoints. When false, raw values
//     are emitted.
//
// # Outputs
//
//   - []float64: Vector of length schema.Count in schema order.
func Normalize(r *Record, scale bool) []float64 {
	vec := make([]float64, 0, schema.Count)
	for _, f := range schema.Definitions() {
		v := r.Values[f.Name]
		if scale {
			span := f.Max - f.Min
			v = clamp((v-f.Min)/span, 0, 1)
		}
		vec = append(vec, v)
	}
	return vec
}

// =============================================================================
// Batch Variant
// =============================================================================

// BatchResult reports the outcome of preprocessing a batch row.
type BatchResult struct {
	Index  int
	Record *Record
	Err    error
}

// ImputeBatch applies Impute row-wise. Rows that fail are reported and
// dropped; the survivors keep their original index.
func ImputeBatch(cleaned []*validation.Cleaned) []BatchResult {
	out := make([]BatchResult, 0, len(cleaned))
	for i, c := range cleaned {
		if c == nil {
			out = append(out, BatchResult{Index: i, Err: fmt.Errorf("row %d: no validated sample", i)})
			continue
		}
		rec, err := Impute(c)
		out = append(out, BatchResult{Index: i, Record: rec, Err: err})
	}
	return out
}

// clamp bounds x to [lo, hi].
func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
