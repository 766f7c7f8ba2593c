// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package health aggregates component checks for the liveness, readiness,
// and detailed health endpoints.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is a component or overall health grade.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component is one checked dependency.
type Component struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`

	// Critical components gate readiness; non-critical ones only degrade.
	Critical bool `json:"-"`
}

// Check probes one component.
type Check func(ctx context.Context) Component

// Overall is the aggregated health report.
type Overall struct {
	Status     Status               `json:"status"`
	Components map[string]Component `json:"components"`
	CheckedAt  time.Time            `json:"checked_at"`
}

// Registry holds named component checks.
//
// # Thread Safety
//
// Add and the evaluation methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Add registers a named check, replacing any previous one.
func (r *Registry) Add(name string, check Check) {
	r.mu.Lock()
	r.checks[name] = check
	r.mu.Unlock()
}

// Detailed runs every check and aggregates.
//
// Aggregation: any unhealthy component makes the overall status
// unhealthy; otherwise any degraded component degrades it.
func (r *Registry) Detailed(ctx context.Context) Overall {
	r.mu.RLock()
	checks := make(map[string]Check, len(r.checks))
	for name, c := range r.checks {
		checks[name] = c
	}
	r.mu.RUnlock()

	out := Overall{
		Status:     StatusHealthy,
		Components: make(map[string]Component, len(checks)),
		CheckedAt:  time.Now().UTC(),
	}
	for name, check := range checks {
		c := check(ctx)
		out.Components[name] = c
		switch c.Status {
		case StatusUnhealthy:
			out.Status = StatusUnhealthy
		case StatusDegraded:
			if out.Status == StatusHealthy {
				out.Status = StatusDegraded
			}
		}
	}
	return out
}

// Ready reports whether every critical component is serviceable. A
// degraded critical component still counts as ready.
func (r *Registry) Ready(ctx context.Context) (bool, Overall) {
	overall := r.Detailed(ctx)
	for _, c := range overall.Components {
		if c.Critical && c.Status == StatusUnhealthy {
			return false, overall
		}
	}
	return true, overall
}

// Healthy builds a passing component.
func Healthy(detail string, critical bool) Component {
	return Component{Status: StatusHealthy, Detail: detail, Critical: critical}
}

// Degraded builds a degraded component.
func Degraded(detail string, critical bool) Component {
	return Component{Status: StatusDegraded, Detail: detail, Critical: critical}
}

// Unhealthy builds a failing component.
func Unhealthy(detail string, critical bool) Component {
	return Component{Status: StatusUnhealthy, Detail: detail, Critical: critical}
}
