// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package health

import (
	"context"
	"testing"
)

func static(c Component) Check {
	return func(context.Context) Component { return c }
}

func TestDetailed_Aggregation(t *testing.T) {
	ctx := context.Background()

	t.Run("all healthy", func(t *testing.T) {
		r := NewRegistry()
		r.Add("model", static(Healthy("loaded", true)))
		r.Add("journal", static(Healthy("", false)))

		overall := r.Detailed(ctx)
		if overall.Status != StatusHealthy {
			t.Errorf("status = %s, want healthy", overall.Status)
		}
		if len(overall.Components) != 2 {
			t.Errorf("components = %d, want 2", len(overall.Components))
		}
	})

	t.Run("one degraded degrades the whole", func(t *testing.T) {
		r := NewRegistry()
		r.Add("model", static(Healthy("", true)))
		r.Add("journal", static(Degraded("records dropped", false)))

		if got := r.Detailed(ctx).Status; got != StatusDegraded {
			t.Errorf("status = %s, want degraded", got)
		}
	})

	t.Run("unhealthy dominates degraded", func(t *testing.T) {
		r := NewRegistry()
		r.Add("model", static(Unhealthy("no artifact", true)))
		r.Add("journal", static(Degraded("", false)))

		if got := r.Detailed(ctx).Status; got != StatusUnhealthy {
			t.Errorf("status = %s, want unhealthy", got)
		}
	})
}

func TestReady(t *testing.T) {
	ctx := context.Background()

	t.Run("critical failure blocks readiness", func(t *testing.T) {
		r := NewRegistry()
		r.Add("model", static(Unhealthy("no artifact", true)))
		ready, _ := r.Ready(ctx)
		if ready {
			t.Error("expected not ready")
		}
	})

	t.Run("non-critical failure keeps readiness", func(t *testing.T) {
		r := NewRegistry()
		r.Add("model", static(Healthy("", true)))
		r.Add("redis", static(Unhealthy("connection refused", false)))
		ready, overall := r.Ready(ctx)
		if !ready {
			t.Error("expected ready despite non-critical failure")
		}
		if overall.Status != StatusUnhealthy {
			t.Errorf("overall still reports %s, want unhealthy", overall.Status)
		}
	})

	t.Run("degraded critical component stays ready", func(t *testing.T) {
		r := NewRegistry()
		r.Add("model", static(Degraded("fallback artifact", true)))
		if ready, _ := r.Ready(ctx); !ready {
			t.Error("degraded critical component should remain ready")
		}
	})
}
