// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package model hosts the trained comfort classifier.
//
// # Description
//
// An Artifact is a fixed-shape multinomial classifier over the canonical
// feature schema: one weight vector and intercept per comfort class,
// evaluated as softmax(Wx + b). Artifacts are serialized as JSON files in
// the model directory and are immutable once loaded, so a single instance
// can serve concurrent Predict calls without locking.
//
// The Host (host.go) adds caching: named artifacts with TTL-based reload
// and LRU eviction.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/thermasense/heatguard/services/scoring/schema"
)

// =============================================================================
// Artifact
// =============================================================================

// Artifact is a loaded comfort classifier. All fields are read-only after
// load; Predict is safe for concurrent use.
type Artifact struct {
	// Name is the artifact identifier (file stem).
	Name string `json:"name"`

	// Classes are the ordered class labels, most comfortable first.
	Classes []string `json:"classes"`

	// FeatureOrder must match the canonical schema order exactly.
	FeatureOrder []string `json:"feature_order"`

	// Weights holds one row per class, one column per feature.
	Weights [][]float64 `json:"weights"`

	// Intercepts holds one bias term per class.
	Intercepts []float64 `json:"intercepts"`

	// LoadedAt is set by the loader; zero for synthetic artifacts built
	// in memory.
	LoadedAt time.Time `json:"-"`
}

// Validate checks the artifact shape against the schema.
func (a *Artifact) Validate() error {
	if len(a.Classes) < 2 {
		return fmt.Errorf("artifact %s: need at least 2 classes, got %d", a.Name, len(a.Classes))
	}
	if len(a.FeatureOrder) != schema.Count {
		return fmt.Errorf("artifact %s: feature order has %d entries, want %d", a.Name, len(a.FeatureOrder), schema.Count)
	}
	for i, name := range schema.Features() {
		if a.FeatureOrder[i] != name {
			return fmt.Errorf("artifact %s: feature_order[%d] = %q, schema expects %q", a.Name, i, a.FeatureOrder[i], name)
		}
	}
	if len(a.Weights) != len(a.Classes) {
		return fmt.Errorf("artifact %s: %d weight rows for %d classes", a.Name, len(a.Weights), len(a.Classes))
	}
	for k, row := range a.Weights {
		if len(row) != schema.Count {
			return fmt.Errorf("artifact %s: weight row %d has %d columns, want %d", a.Name, k, len(row), schema.Count)
		}
	}
	if len(a.Intercepts) != len(a.Classes) {
		return fmt.Errorf("artifact %s: %d intercepts for %d classes", a.Name, len(a.Intercepts), len(a.Classes))
	}
	return nil
}

// Predict evaluates the classifier on a vector in schema order.
//
// # Inputs
//
//   - vector: Normalized feature vector of length schema.Count.
//
// # Outputs
//
//   - int: Index of the most probable class.
//   - []float64: Probability per class, summing to 1.
//   - error: Non-nil on a shape mismatch.
func (a *Artifact) Predict(vector []float64) (int, []float64, error) {
	if len(vector) != schema.Count {
		return 0, nil, fmt.Errorf("artifact %s: vector has %d features, want %d", a.Name, len(vector), schema.Count)
	}

	logits := make([]float64, len(a.Classes))
	for k := range a.Classes {
		sum := a.Intercepts[k]
		row := a.Weights[k]
		for j, x := range vector {
			sum += row[j] * x
		}
		logits[k] = sum
	}

	probs := softmax(logits)
	best := 0
	for k, p := range probs {
		if p > probs[best] {
			best = k
		}
	}
	return best, probs, nil
}

// softmax converts logits to probabilities with the usual max-shift for
// numerical stability.
func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, l := range logits[1:] {
		if l > max {
			max = l
		}
	}
	probs := make([]float64, len(logits))
	var z float64
	for k, l := range logits {
		e := math.Exp(l - max)
		probs[k] = e
		z += e
	}
	for k := range probs {
		probs[k] /= z
	}
	return probs
}

// =============================================================================
// Loading
// =============================================================================

// LoadArtifact reads and validates <dir>/<name>.json.
func LoadArtifact(name, dir string) (*Artifact, error) {
	path := filepath.Join(dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", name, err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", name, err)
	}
	if a.Name == "" {
		a.Name = name
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.LoadedAt = time.Now().UTC()
	return &a, nil
}

// WriteArtifact serializes an artifact to <dir>/<name>.json. Used by the
// demo bootstrap and by tests that exercise the file loader.
func WriteArtifact(a *Artifact, dir string) error {
	if err := a.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", a.Name, err)
	}
	path := filepath.Join(dir, a.Name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", a.Name, err)
	}
	return nil
}
