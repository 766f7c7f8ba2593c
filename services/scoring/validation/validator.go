// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation cleans loosely-typed worker samples before scoring.
//
// # Description
//
// The validator turns a raw map of feature values (as decoded from JSON)
// into a cleaned numeric record the preprocessor can consume. Validation
// is deliberately forgiving for optional fields, since the model must
// always receive a usable vector, and strict only where the business
// rules demand it:
//
//   - Required features missing or non-numeric fail validation.
//   - Age below 16 or humidity outside [0,100] fail validation.
//   - Everything else is coerced, defaulted, or clamped with a warning.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/thermasense/heatguard/services/scoring/schema"
)

// =============================================================================
// Errors
// =============================================================================

// Error describes a validation failure for a single sample.
type Error struct {
	// Field is the feature that failed, or "batch" for batch-level failures.
	Field string

	// Reason is a human-readable explanation.
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// =============================================================================
// Business Rule Bounds
// =============================================================================

const (
	// MinAge is the hard lower bound; younger subjects fail validation.
	MinAge = 16

	// MaxAge is the soft upper bound; older subjects are clamped with a warning.
	MaxAge = 80

	// extremeTempC marks temperatures that trigger an extreme-conditions warning.
	extremeTempC = 50

	// Heart-rate sanity bounds; values outside warn and clamp.
	minHeartRate = 30
	maxHeartRate = 220

	// MaxWorkerIDLength bounds sanitized worker identifiers.
	MaxWorkerIDLength = 100
)

// workerIDPattern strips everything outside the allowed identifier alphabet.
var workerIDPattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// =============================================================================
// Result Types
// =============================================================================

// Cleaned is a validated sample ready for preprocessing.
type Cleaned struct {
	// WorkerID is the sanitized (or generated) worker identifier.
	WorkerID string

	// Features holds every feature that was present in the input,
	// coerced to a finite float64 and clamped to its canonical range.
	// Missing optional features are absent here; the preprocessor
	// imputes them.
	Features map[string]float64

	// Warnings lists every clamp, default substitution, and business
	// rule advisory raised while cleaning.
	Warnings []string
}

// BatchItemError records a per-index failure inside a batch.
type BatchItemError struct {
	Index int
	Err   *Error
}

// =============================================================================
// Single-Sample Validation
// =============================================================================

// ValidateSample cleans one raw sample.
//
// # Inputs
//
//   - raw: Feature name → value as decoded from JSON. Values may be
//     float64, integers, json-style strings, or booleans for gender.
//   - workerID: Optional caller-supplied identifier; sanitized here.
//
// # Outputs
//
//   - *Cleaned: The cleaned record. Nil on failure.
//   - error: *Error when a required field or business rule fails.
func ValidateSample(raw map[string]any, workerID string) (*Cleaned, error) {
	out := &Cleaned{
		WorkerID: SanitizeWorkerID(workerID),
		Features: make(map[string]float64, len(raw)),
	}

	// Required features first: missing or uncoercible is a hard failure.
	for _, name := range schema.Required() {
		v, present := raw[name]
		if !present {
			return nil, &Error{Field: name, Reason: "required feature is missing"}
		}
		f, ok := coerce(v)
		if !ok || !isFinite(f) {
			return nil, &Error{Field: name, Reason: "required feature is not a finite number"}
		}
		out.Features[name] = f
	}

	// Business rules that fail validation outright.
	if age := out.Features[schema.Age]; age < MinAge {
		return nil, &Error{Field: schema.Age, Reason: fmt.Sprintf("age %.0f is below the minimum of %d", age, MinAge)}
	}
	if rh := out.Features[schema.Humidity]; rh < 0 || rh > 100 {
		return nil, &Error{Field: schema.Humidity, Reason: fmt.Sprintf("humidity %.1f%% outside [0,100]", rh)}
	}

	// Business rules that only warn.
	if age := out.Features[schema.Age]; age > MaxAge {
		out.warn("age %.0f above supported range, clamped to %d", age, MaxAge)
		out.Features[schema.Age] = MaxAge
	}
	if temp := out.Features[schema.Temperature]; math.Abs(temp) > extremeTempC {
		out.warn("extreme temperature %.1f °C", temp)
	}
	if hr := out.Features[schema.MeanHR]; hr < minHeartRate || hr > maxHeartRate {
		out.warn("heart rate %.0f bpm outside physiological range [%d,%d]", hr, minHeartRate, maxHeartRate)
	}

	// Optional features: coerce, default on garbage, clamp to range.
	for name, v := range raw {
		if _, done := out.Features[name]; done {
			continue
		}
		if schema.Index(name) < 0 {
			// Unknown keys are ignored silently; devices often send
			// firmware metadata alongside the telemetry.
			continue
		}
		f, ok := coerce(v)
		if !ok || !isFinite(f) {
			def := schema.Default(name)
			out.warn("feature %s is not numeric, using default %.2f", name, def)
			out.Features[name] = def
			continue
		}
		out.Features[name] = f
	}

	// Clamp everything to the canonical ranges. The age special case above
	// already ran, so a wider-than-canonical age survives only up to MaxAge.
	for name, v := range out.Features {
		if name == schema.Age {
			continue
		}
		min, max, ok := schema.Range(name)
		if !ok {
			continue
		}
		if v < min {
			out.warn("feature %s=%.2f below range, clamped to %.2f", name, v, min)
			out.Features[name] = min
		} else if v > max {
			out.warn("feature %s=%.2f above range, clamped to %.2f", name, v, max)
			out.Features[name] = max
		}
	}

	return out, nil
}

// warn appends a formatted warning.
func (c *Cleaned) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// =============================================================================
// Batch Validation
// =============================================================================

// BatchInput is one raw sample plus its caller-supplied identifier.
type BatchInput struct {
	Raw      map[string]any
	WorkerID string
}

// ValidateBatch cleans a list of samples.
//
// # Description
//
// Each sample is validated independently; failures are collected per
// index and do not abort the batch. The batch as a whole fails only when
// it is empty, exceeds maxSize, or no sample validates.
//
// # Outputs
//
//   - []*Cleaned: Cleaned samples, nil at failed indices (len == input len).
//   - []BatchItemError: Per-index failures.
//   - error: Batch-level failure (*Error), or nil.
func ValidateBatch(inputs []BatchInput, maxSize int) ([]*Cleaned, []BatchItemError, error) {
	if len(inputs) == 0 {
		return nil, nil, &Error{Field: "batch", Reason: "batch is empty"}
	}
	if maxSize > 0 && len(inputs) > maxSize {
		return nil, nil, &Error{Field: "batch", Reason: fmt.Sprintf("batch size %d exceeds limit %d", len(inputs), maxSize)}
	}

	cleaned := make([]*Cleaned, len(inputs))
	var failures []BatchItemError
	valid := 0
	for i, in := range inputs {
		c, err := ValidateSample(in.Raw, in.WorkerID)
		if err != nil {
			var verr *Error
			if e, ok := err.(*Error); ok {
				verr = e
			} else {
				verr = &Error{Field: "sample", Reason: err.Error()}
			}
			failures = append(failures, BatchItemError{Index: i, Err: verr})
			continue
		}
		cleaned[i] = c
		valid++
	}

	if valid == 0 {
		return nil, failures, &Error{Field: "batch", Reason: "no sample passed validation"}
	}
	return cleaned, failures, nil
}

// =============================================================================
// Helpers
// =============================================================================

// SanitizeWorkerID restricts an identifier to [A-Za-z0-9._-] and at most
// MaxWorkerIDLength characters. An empty result is replaced with a
// generated identifier. Sanitization is idempotent.
func SanitizeWorkerID(id string) string {
	id = workerIDPattern.ReplaceAllString(strings.TrimSpace(id), "")
	if len(id) > MaxWorkerIDLength {
		id = id[:MaxWorkerIDLength]
	}
	if id == "" {
		return fmt.Sprintf("worker_%d", time.Now().UnixMilli())
	}
	return id
}

// coerce converts a decoded JSON value to float64.
func coerce(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// isFinite reports whether f is neither NaN nor ±Inf.
func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
