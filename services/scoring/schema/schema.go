// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package schema defines the canonical feature schema for worker telemetry.
//
// # Description
//
// The schema is the single source of truth for the 50 input features the
// scoring model consumes: two demographic features, two environmental
// features, and 46 heart-rate-variability (HRV) metrics. The ordering is
// stable and shared by every component in the pipeline: the validator,
// the preprocessor, and the model host all address features by the order
// defined here.
//
// # Feature Groups
//
//   - demographic: gender, age
//   - environmental: temperature_c, humidity_pct
//   - hrv_time: time-domain HRV metrics (mean_nni, sdnn, rmssd, ...)
//   - hrv_geometric: triangular_index, tinn
//   - hrv_frequency: spectral power metrics (vlf, lf, hf, ...)
//   - hrv_nonlinear: Poincaré and entropy metrics (sd1, sd2, sampen, ...)
//   - hrv_statistical: distribution metrics (kurtosis_nni, iqr_nni, ...)
//
// # Thread Safety
//
// All data in this package is immutable after init. Safe for concurrent use.
package schema

// =============================================================================
// Feature Groups
// =============================================================================

// Group categorizes a feature for imputation and reporting purposes.
type Group string

const (
	GroupDemographic   Group = "demographic"
	GroupEnvironmental Group = "environmental"
	GroupHRVTime       Group = "hrv_time"
	GroupHRVGeometric  Group = "hrv_geometric"
	GroupHRVFrequency  Group = "hrv_frequency"
	GroupHRVNonlinear  Group = "hrv_nonlinear"
	GroupHRVStatistic  Group = "hrv_statistical"
)

// =============================================================================
// Feature Definition
// =============================================================================

// Feature describes a single named input feature.
type Feature struct {
	// Name is the canonical feature identifier.
	Name string

	// Group is the feature category.
	Group Group

	// Min and Max bound the canonical value range used for clamping
	// and min-max normalization.
	Min float64
	Max float64

	// Default is the value imputed when the feature is absent and no
	// context-dependent rule applies (see the preprocess package).
	Default float64
}

// Canonical feature names referenced throughout the pipeline.
const (
	Gender      = "gender"
	Age         = "age"
	Temperature = "temperature_c"
	Humidity    = "humidity_pct"
	MeanHR      = "mean_hr"
	MeanNNI     = "mean_nni"
	RMSSD       = "rmssd"
	SDNN        = "sdnn"
)

// features is the ordered list of all 50 model inputs. The order is load
// bearing: the model artifact declares the same order and the preprocessor
// emits vectors in this order.
var features = []Feature{
	// Demographics
	{Name: Gender, Group: GroupDemographic, Min: 0, Max: 1, Default: 0},
	{Name: Age, Group: GroupDemographic, Min: 18, Max: 65, Default: 30},

	// Environment
	{Name: Temperature, Group: GroupEnvironmental, Min: -10, Max: 50, Default: 22},
	{Name: Humidity, Group: GroupEnvironmental, Min: 0, Max: 100, Default: 50},

	// HRV time domain
	{Name: MeanNNI, Group: GroupHRVTime, Min: 270, Max: 1200, Default: 800},
	{Name: "median_nni", Group: GroupHRVTime, Min: 270, Max: 1200, Default: 800},
	{Name: "range_nni", Group: GroupHRVTime, Min: 0, Max: 2000, Default: 200},
	{Name: SDNN, Group: GroupHRVTime, Min: 0, Max: 250, Default: 50},
	{Name: "sdsd", Group: GroupHRVTime, Min: 0, Max: 200, Default: 30},
	{Name: RMSSD, Group: GroupHRVTime, Min: 0, Max: 200, Default: 40},
	{Name: "cvsd", Group: GroupHRVTime, Min: 0, Max: 1, Default: 0.05},
	{Name: "cvnni", Group: GroupHRVTime, Min: 0, Max: 1, Default: 0.06},
	{Name: "nni_50", Group: GroupHRVTime, Min: 0, Max: 600, Default: 50},
	{Name: "pnni_50", Group: GroupHRVTime, Min: 0, Max: 100, Default: 15},
	{Name: "nni_20", Group: GroupHRVTime, Min: 0, Max: 600, Default: 120},
	{Name: "pnni_20", Group: GroupHRVTime, Min: 0, Max: 100, Default: 40},
	{Name: MeanHR, Group: GroupHRVTime, Min: 30, Max: 220, Default: 75},
	{Name: "max_hr", Group: GroupHRVTime, Min: 30, Max: 230, Default: 95},
	{Name: "min_hr", Group: GroupHRVTime, Min: 25, Max: 200, Default: 60},
	{Name: "std_hr", Group: GroupHRVTime, Min: 0, Max: 50, Default: 5},

	// HRV geometric
	{Name: "triangular_index", Group: GroupHRVGeometric, Min: 0, Max: 60, Default: 12},
	{Name: "tinn", Group: GroupHRVGeometric, Min: 0, Max: 600, Default: 150},

	// HRV frequency domain
	{Name: "total_power", Group: GroupHRVFrequency, Min: 0, Max: 10000, Default: 2500},
	{Name: "vlf", Group: GroupHRVFrequency, Min: 0, Max: 3000, Default: 700},
	{Name: "lf", Group: GroupHRVFrequency, Min: 0, Max: 4000, Default: 900},
	{Name: "hf", Group: GroupHRVFrequency, Min: 0, Max: 4000, Default: 800},
	{Name: "lf_hf_ratio", Group: GroupHRVFrequency, Min: 0, Max: 10, Default: 1.5},
	{Name: "lfnu", Group: GroupHRVFrequency, Min: 0, Max: 100, Default: 55},
	{Name: "hfnu", Group: GroupHRVFrequency, Min: 0, Max: 100, Default: 45},
	{Name: "lf_peak", Group: GroupHRVFrequency, Min: 0.04, Max: 0.15, Default: 0.1},
	{Name: "hf_peak", Group: GroupHRVFrequency, Min: 0.15, Max: 0.4, Default: 0.25},

	// HRV non-linear
	{Name: "sd1", Group: GroupHRVNonlinear, Min: 0, Max: 150, Default: 28},
	{Name: "sd2", Group: GroupHRVNonlinear, Min: 0, Max: 300, Default: 65},
	{Name: "ratio_sd2_sd1", Group: GroupHRVNonlinear, Min: 0, Max: 10, Default: 2.3},
	{Name: "csi", Group: GroupHRVNonlinear, Min: 0, Max: 15, Default: 2.8},
	{Name: "cvi", Group: GroupHRVNonlinear, Min: 0, Max: 10, Default: 4.5},
	{Name: "modified_csi", Group: GroupHRVNonlinear, Min: 0, Max: 5000, Default: 500},
	{Name: "sampen", Group: GroupHRVNonlinear, Min: 0, Max: 3, Default: 1.5},
	{Name: "apen", Group: GroupHRVNonlinear, Min: 0, Max: 3, Default: 1.1},
	{Name: "dfa_alpha_1", Group: GroupHRVNonlinear, Min: 0, Max: 2, Default: 1.0},
	{Name: "dfa_alpha_2", Group: GroupHRVNonlinear, Min: 0, Max: 2, Default: 0.95},

	// HRV statistical
	{Name: "kurtosis_nni", Group: GroupHRVStatistic, Min: -3, Max: 15, Default: 0.5},
	{Name: "skewness_nni", Group: GroupHRVStatistic, Min: -5, Max: 5, Default: 0},
	{Name: "iqr_nni", Group: GroupHRVStatistic, Min: 0, Max: 500, Default: 60},
	{Name: "mad_nni", Group: GroupHRVStatistic, Min: 0, Max: 300, Default: 35},
	{Name: "percentile_25_nni", Group: GroupHRVStatistic, Min: 250, Max: 1150, Default: 760},
	{Name: "percentile_75_nni", Group: GroupHRVStatistic, Min: 280, Max: 1300, Default: 840},
	{Name: "std_first_diff", Group: GroupHRVStatistic, Min: 0, Max: 200, Default: 30},
	{Name: "energy_nni", Group: GroupHRVStatistic, Min: 0, Max: 1e9, Default: 4e7},
	{Name: "entropy_nni", Group: GroupHRVStatistic, Min: 0, Max: 12, Default: 7},
	{Name: "mean_abs_dev_hr", Group: GroupHRVStatistic, Min: 0, Max: 40, Default: 4},
}

// required is the subset of features that must be present in every sample.
// Everything else can be imputed.
var required = []string{Gender, Age, Temperature, Humidity, MeanHR, MeanNNI}

// index maps feature name to its position in the canonical order.
var index map[string]int

// byName maps feature name to its definition.
var byName map[string]Feature

func init() {
	index = make(map[string]int, len(features))
	byName = make(map[string]Feature, len(features))
	for i, f := range features {
		index[f.Name] = i
		byName[f.Name] = f
	}
}

// =============================================================================
// Public API
// =============================================================================

// Count is the number of model input features.
const Count = 50

// Features returns the canonical ordered list of feature names.
//
// The returned slice is a copy; callers may mutate it freely.
func Features() []string {
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = f.Name
	}
	return names
}

// Definitions returns the ordered list of full feature definitions.
func Definitions() []Feature {
	defs := make([]Feature, len(features))
	copy(defs, features)
	return defs
}

// Required returns the feature names that must be present in a sample.
func Required() []string {
	names := make([]string, len(required))
	copy(names, required)
	return names
}

// IsRequired reports whether name is a required feature.
func IsRequired(name string) bool {
	for _, r := range required {
		if r == name {
			return true
		}
	}
	return false
}

// Range returns the canonical (min, max) for a feature.
//
// # Outputs
//
//   - min, max: The clamping and normalization bounds.
//   - ok: False if the feature is not part of the schema.
func Range(name string) (min, max float64, ok bool) {
	f, exists := byName[name]
	if !exists {
		return 0, 0, false
	}
	return f.Min, f.Max, true
}

// Default returns the schema-level default for a feature, or 0 if the
// feature is unknown. Context-sensitive imputation (age-adjusted heart
// rate, reciprocal NN interval) lives in the preprocess package; this is
// the static fallback.
func Default(name string) float64 {
	return byName[name].Default
}

// Index returns the position of a feature in the canonical order.
//
// # Outputs
//
//   - int: Zero-based position, or -1 if unknown.
func Index(name string) int {
	if i, ok := index[name]; ok {
		return i
	}
	return -1
}

// Lookup returns the full definition for a feature name.
func Lookup(name string) (Feature, bool) {
	f, ok := byName[name]
	return f, ok
}

// IsHRV reports whether the feature belongs to any HRV group.
func IsHRV(name string) bool {
	f, ok := byName[name]
	if !ok {
		return false
	}
	switch f.Group {
	case GroupHRVTime, GroupHRVGeometric, GroupHRVFrequency, GroupHRVNonlinear, GroupHRVStatistic:
		return true
	}
	return false
}
