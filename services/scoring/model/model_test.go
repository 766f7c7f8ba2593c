// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermasense/heatguard/services/scoring/schema"
)

// vectorWith builds a normalized vector with the given feature values;
// everything else is zero.
func vectorWith(values map[string]float64) []float64 {
	vec := make([]float64, schema.Count)
	for name, v := range values {
		vec[schema.Index(name)] = v
	}
	return vec
}

// coolOffice is a 25 °C, 50% RH desk worker at rest, normalized.
func coolOffice() []float64 {
	return vectorWith(map[string]float64{
		schema.Temperature: 35.0 / 60.0,  // 25 °C in [−10,50]
		schema.Humidity:    0.5,          // 50%
		schema.MeanHR:      45.0 / 190.0, // 75 bpm in [30,220]
		schema.Age:         12.0 / 47.0,  // 30 in [18,65]
		schema.RMSSD:       0.2,          // 40 ms in [0,200]
	})
}

// extremeHeat is a 43 °C, 90% RH site with an elevated heart rate.
func extremeHeat() []float64 {
	return vectorWith(map[string]float64{
		schema.Temperature: 53.0 / 60.0,
		schema.Humidity:    0.9,
		schema.MeanHR:      120.0 / 190.0,
		schema.Age:         37.0 / 47.0,
		schema.RMSSD:       0.04,
	})
}

func TestSynthetic_Shape(t *testing.T) {
	a := Synthetic("")
	require.NoError(t, a.Validate())
	assert.Equal(t, DefaultArtifactName, a.Name)
	assert.Equal(t, []string{"neutral", "slightly_warm", "warm", "hot"}, a.Classes)
}

func TestArtifact_Predict(t *testing.T) {
	a := Synthetic("")

	t.Run("cool conditions score neutral", func(t *testing.T) {
		best, probs, err := a.Predict(coolOffice())
		require.NoError(t, err)
		assert.Equal(t, 0, best)
		assert.Greater(t, probs[0], 0.9)
	})

	t.Run("extreme heat scores hot", func(t *testing.T) {
		best, probs, err := a.Predict(extremeHeat())
		require.NoError(t, err)
		assert.Equal(t, 3, best)
		assert.Greater(t, probs[3], 0.9)
	})

	t.Run("probabilities sum to one", func(t *testing.T) {
		_, probs, err := a.Predict(extremeHeat())
		require.NoError(t, err)
		var sum float64
		for _, p := range probs {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	})

	t.Run("wrong vector length fails", func(t *testing.T) {
		_, _, err := a.Predict(make([]float64, 3))
		assert.Error(t, err)
	})
}

func TestArtifact_FileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteArtifact(Synthetic("custom_model"), dir))

	loaded, err := LoadArtifact("custom_model", dir)
	require.NoError(t, err)
	assert.Equal(t, "custom_model", loaded.Name)
	assert.False(t, loaded.LoadedAt.IsZero())

	best, _, err := loaded.Predict(extremeHeat())
	require.NoError(t, err)
	assert.Equal(t, 3, best)
}

func TestLoadArtifact_RejectsBadShape(t *testing.T) {
	dir := t.TempDir()
	bad := Synthetic("bad_model")
	bad.Intercepts = bad.Intercepts[:2]
	require.Error(t, WriteArtifact(bad, dir), "mismatched intercepts must not serialize")
}

func TestHost_CacheAndEviction(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"m1", "m2", "m3"} {
		require.NoError(t, WriteArtifact(Synthetic(name), dir))
	}

	h := NewHost(HostConfig{ModelDir: dir, MaxEntries: 2})

	t.Run("repeat gets are cache hits", func(t *testing.T) {
		_, err := h.Get("m1")
		require.NoError(t, err)
		_, err = h.Get("m1")
		require.NoError(t, err)
		info, ok := h.Info("m1")
		require.True(t, ok)
		assert.Equal(t, uint64(1), info.Hits, "second Get should hit the cache")
	})

	t.Run("lru eviction keeps the cap", func(t *testing.T) {
		_, err := h.Get("m2")
		require.NoError(t, err)
		_, err = h.Get("m3")
		require.NoError(t, err)
		assert.Len(t, h.Cached(), 2)
		_, ok := h.Info("m1")
		assert.False(t, ok, "oldest entry should be evicted")
	})

	t.Run("clear empties the cache", func(t *testing.T) {
		h.Clear()
		assert.Empty(t, h.Cached())
	})
}

func TestHost_Unavailable(t *testing.T) {
	h := NewHost(HostConfig{ModelDir: t.TempDir()})
	_, err := h.Get("missing_model")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestHost_SyntheticFallback(t *testing.T) {
	h := NewHost(HostConfig{ModelDir: t.TempDir(), AllowSynthetic: true})
	a, err := h.Get("")
	require.NoError(t, err)
	assert.Equal(t, DefaultArtifactName, a.Name)
	assert.True(t, h.Healthy())
}
