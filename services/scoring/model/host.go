// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrUnavailable is returned when an artifact cannot be loaded.
var ErrUnavailable = errors.New("model artifact unavailable")

const (
	// DefaultTTL is how long a cached artifact is served before reload.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxEntries caps the artifact cache; least recently used
	// entries are evicted past this.
	DefaultMaxEntries = 10
)

// HostConfig configures a Host.
type HostConfig struct {
	// ModelDir is the directory holding artifact JSON files.
	ModelDir string

	// TTL overrides DefaultTTL when positive.
	TTL time.Duration

	// MaxEntries overrides DefaultMaxEntries when positive.
	MaxEntries int

	// AllowSynthetic enables the in-memory fallback for the default
	// artifact when no file is present. Intended for development and
	// tests; production deployments ship the artifact file.
	AllowSynthetic bool

	Logger *slog.Logger
}

// entry is one cached artifact.
type entry struct {
	artifact   *Artifact
	loadedAt   time.Time
	lastAccess time.Time
	hits       uint64
}

// Host caches named artifacts with TTL-based reload and LRU eviction.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The mutex guards only the
// cache map; inference runs on immutable artifacts outside the lock, and
// concurrent loads of the same artifact collapse through singleflight.
type Host struct {
	cfg    HostConfig
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	group singleflight.Group
}

// NewHost builds a Host. Defaults are applied for zero-valued config
// fields.
func NewHost(cfg HostConfig) *Host {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Get returns the artifact for name, loading it on a cache miss or after
// TTL expiry.
//
// # Outputs
//
//   - *Artifact: The cached or freshly loaded artifact.
//   - error: ErrUnavailable (wrapped) when the artifact cannot be loaded.
func (h *Host) Get(name string) (*Artifact, error) {
	if name == "" {
		name = DefaultArtifactName
	}

	now := time.Now()
	h.mu.Lock()
	if e, ok := h.entries[name]; ok && now.Sub(e.loadedAt) < h.cfg.TTL {
		e.lastAccess = now
		e.hits++
		a := e.artifact
		h.mu.Unlock()
		return a, nil
	}
	h.mu.Unlock()

	// Collapse concurrent loads of the same name into one file read.
	v, err, _ := h.group.Do(name, func() (any, error) {
		return h.load(name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

// load reads the artifact and installs it in the cache.
func (h *Host) load(name string) (*Artifact, error) {
	a, err := LoadArtifact(name, h.cfg.ModelDir)
	if err != nil {
		if h.cfg.AllowSynthetic && name == DefaultArtifactName {
			h.logger.Warn("artifact file missing, serving synthetic classifier",
				slog.String("artifact", name),
				slog.String("model_dir", h.cfg.ModelDir))
			a = Synthetic(name)
		} else {
			h.logger.Error("artifact load failed",
				slog.String("artifact", name),
				slog.String("error", err.Error()))
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, name, err)
		}
	}

	now := time.Now()
	h.mu.Lock()
	h.entries[name] = &entry{artifact: a, loadedAt: now, lastAccess: now}
	h.evictLocked()
	h.mu.Unlock()

	h.logger.Info("artifact loaded",
		slog.String("artifact", name),
		slog.Int("classes", len(a.Classes)))
	return a, nil
}

// evictLocked drops least recently used entries past MaxEntries. Caller
// holds h.mu.
func (h *Host) evictLocked() {
	for len(h.entries) > h.cfg.MaxEntries {
		var oldest string
		var oldestAt time.Time
		for name, e := range h.entries {
			if oldest == "" || e.lastAccess.Before(oldestAt) {
				oldest = name
				oldestAt = e.lastAccess
			}
		}
		delete(h.entries, oldest)
		h.logger.Info("artifact evicted", slog.String("artifact", oldest))
	}
}

// Predict runs inference with the named artifact.
func (h *Host) Predict(name string, vector []float64) (int, []float64, *Artifact, error) {
	a, err := h.Get(name)
	if err != nil {
		return 0, nil, nil, err
	}
	best, probs, err := a.Predict(vector)
	if err != nil {
		return 0, nil, nil, err
	}
	return best, probs, a, nil
}

// ArtifactInfo is a point-in-time description of one cached artifact.
type ArtifactInfo struct {
	Name       string    `json:"name"`
	Classes    []string  `json:"classes"`
	LoadedAt   time.Time `json:"loaded_at"`
	LastAccess time.Time `json:"last_access"`
	Hits       uint64    `json:"hits"`
}

// Info describes the named artifact if cached; found is false otherwise.
func (h *Host) Info(name string) (ArtifactInfo, bool) {
	if name == "" {
		name = DefaultArtifactName
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[name]
	if !ok {
		return ArtifactInfo{}, false
	}
	return ArtifactInfo{
		Name:       name,
		Classes:    append([]string(nil), e.artifact.Classes...),
		LoadedAt:   e.loadedAt,
		LastAccess: e.lastAccess,
		Hits:       e.hits,
	}, true
}

// Cached lists every cached artifact.
func (h *Host) Cached() []ArtifactInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ArtifactInfo, 0, len(h.entries))
	for name, e := range h.entries {
		out = append(out, ArtifactInfo{
			Name:       name,
			Classes:    append([]string(nil), e.artifact.Classes...),
			LoadedAt:   e.loadedAt,
			LastAccess: e.lastAccess,
			Hits:       e.hits,
		})
	}
	return out
}

// Healthy reports whether the default artifact can be served right now.
func (h *Host) Healthy() bool {
	_, err := h.Get(DefaultArtifactName)
	return err == nil
}

// Clear empties the cache. The next Get reloads from disk.
func (h *Host) Clear() {
	h.mu.Lock()
	h.entries = make(map[string]*entry)
	h.mu.Unlock()
}
