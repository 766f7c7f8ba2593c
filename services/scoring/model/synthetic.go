// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import (
	"time"

	"github.com/thermasense/heatguard/services/scoring/schema"
)

// DefaultArtifactName is the artifact the service falls back to when the
// caller does not pick one.
const DefaultArtifactName = "thermal_comfort_v1"

// DefaultClasses are the comfort labels of the shipped classifier, ordered
// most comfortable first.
var DefaultClasses = []string{"neutral", "slightly_warm", "warm", "hot"}

// Synthetic builds the bundled thermal-comfort classifier in memory.
//
// # Description
//
// The classifier is an ordered multinomial logit over the normalized
// feature vector. Each class logit is a scaled copy of a single thermal
// load score (temperature, humidity, heart rate, age, inverse RMSSD),
// with intercepts placed so the class boundaries fall at realistic
// workplace conditions: a 25 °C office scores neutral, 30 °C at 65% RH
// scores slightly warm, and 40 °C with an elevated heart rate scores hot.
//
// The same parameters are written to disk by the demo bootstrap, so file
// loading and the in-memory fallback agree exactly.
func Synthetic(name string) *Artifact {
	if name == "" {
		name = DefaultArtifactName
	}

	load := make([]float64, schema.Count)
	load[schema.Index(schema.Temperature)] = 4.0
	load[schema.Index(schema.Humidity)] = 1.5
	load[schema.Index(schema.MeanHR)] = 2.5
	load[schema.Index(schema.Age)] = 0.5
	load[schema.Index(schema.RMSSD)] = -1.0

	gains := []float64{0, 8, 16, 24}
	intercepts := []float64{0, -34.4, -73.2, -114}

	weights := make([][]float64, len(gains))
	for k, g := range gains {
		row := make([]float64, schema.Count)
		for j, w := range load {
			row[j] = g * w
		}
		weights[k] = row
	}

	return &Artifact{
		Name:         name,
		Classes:      append([]string(nil), DefaultClasses...),
		FeatureOrder: schema.Features(),
		Weights:      weights,
		Intercepts:   intercepts,
		LoadedAt:     time.Now().UTC(),
	}
}
