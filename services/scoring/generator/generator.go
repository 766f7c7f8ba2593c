// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generator builds synthetic worker samples for demos and load
// testing. Generated samples always pass validation.
package generator

import (
	"fmt"
	"math/rand/v2"

	"github.com/thermasense/heatguard/services/scoring/schema"
)

// Random returns one plausible worker sample with randomized vitals and
// environment.
func Random(workerID string) map[string]any {
	hr := 60 + rand.Float64()*80
	raw := map[string]any{
		schema.Gender:      float64(rand.IntN(2)),
		schema.Age:         18 + rand.Float64()*47,
		schema.Temperature: 20 + rand.Float64()*25,
		schema.Humidity:    30 + rand.Float64()*60,
		schema.MeanHR:      hr,
		schema.MeanNNI:     60000 / hr,
		schema.RMSSD:       10 + rand.Float64()*70,
		schema.SDNN:        20 + rand.Float64()*80,
		"pnni_50":          rand.Float64() * 40,
		"lf_hf_ratio":      0.5 + rand.Float64()*3,
		"sd1":              5 + rand.Float64()*40,
		"sd2":              20 + rand.Float64()*80,
	}
	if workerID != "" {
		raw["worker_id"] = workerID
	}
	return raw
}

// rampPoint interpolates environment and vitals between a cool baseline
// and severe heat, frac in [0,1].
func rampPoint(frac float64) map[string]any {
	hr := 65 + 70*frac
	return map[string]any{
		schema.Gender:      1.0,
		schema.Age:         35.0,
		schema.Temperature: 22 + 20*frac,
		schema.Humidity:    40 + 45*frac,
		schema.MeanHR:      hr,
		schema.MeanNNI:     60000 / hr,
		schema.RMSSD:       55 - 45*frac,
		schema.SDNN:        70 - 40*frac,
	}
}

// RampUp returns steps samples moving from comfortable conditions into
// severe heat stress. Useful for demonstrating the escalation of risk
// levels.
func RampUp(steps int) []map[string]any {
	if steps < 2 {
		steps = 2
	}
	out := make([]map[string]any, steps)
	for i := range out {
		out[i] = rampPoint(float64(i) / float64(steps-1))
		out[i]["worker_id"] = fmt.Sprintf("ramp_up_%02d", i)
	}
	return out
}

// RampDown returns steps samples recovering from severe heat stress back
// to comfortable conditions.
func RampDown(steps int) []map[string]any {
	if steps < 2 {
		steps = 2
	}
	out := make([]map[string]any, steps)
	for i := range out {
		out[i] = rampPoint(1 - float64(i)/float64(steps-1))
		out[i]["worker_id"] = fmt.Sprintf("ramp_down_%02d", i)
	}
	return out
}
