// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitMetrics(t *testing.T) {
	m := InitMetrics()
	if m == nil {
		t.Fatal("InitMetrics() returned nil")
	}
	if DefaultMetrics != m {
		t.Error("DefaultMetrics not set to the initialized instance")
	}

	if m.AssessmentsTotal == nil {
		t.Error("AssessmentsTotal is nil")
	}
	if m.AssessmentDuration == nil {
		t.Error("AssessmentDuration is nil")
	}
	if m.BatchSize == nil {
		t.Error("BatchSize is nil")
	}
	if m.BatchJobsTotal == nil {
		t.Error("BatchJobsTotal is nil")
	}
	if m.RateLimitedTotal == nil {
		t.Error("RateLimitedTotal is nil")
	}
	if m.AuthFailuresTotal == nil {
		t.Error("AuthFailuresTotal is nil")
	}
	if m.JournalDropsTotal == nil {
		t.Error("JournalDropsTotal is nil")
	}
	if m.ActiveAssessments == nil {
		t.Error("ActiveAssessments is nil")
	}

	t.Run("record assessment", func(t *testing.T) {
		m.RecordAssessment("Safe", true, 0.012)
		m.RecordAssessment("Safe", true, 0.008)
		m.RecordAssessment("unknown", false, 0)

		if got := testutil.ToFloat64(m.AssessmentsTotal.WithLabelValues("Safe", "success")); got != 2 {
			t.Errorf("success count = %v, want 2", got)
		}
		if got := testutil.ToFloat64(m.AssessmentsTotal.WithLabelValues("unknown", "error")); got != 1 {
			t.Errorf("error count = %v, want 1", got)
		}
	})

	t.Run("record job state", func(t *testing.T) {
		m.RecordJobState("completed")
		m.RecordJobState("cancelled")
		if got := testutil.ToFloat64(m.BatchJobsTotal.WithLabelValues("completed")); got != 1 {
			t.Errorf("completed count = %v, want 1", got)
		}
	})

	t.Run("record auth failure", func(t *testing.T) {
		m.RecordAuthFailure("forbidden")
		if got := testutil.ToFloat64(m.AuthFailuresTotal.WithLabelValues("forbidden")); got != 1 {
			t.Errorf("forbidden count = %v, want 1", got)
		}
	})

	t.Run("active gauge balances", func(t *testing.T) {
		m.ActiveAssessments.Inc()
		m.ActiveAssessments.Inc()
		m.ActiveAssessments.Dec()
		if got := testutil.ToFloat64(m.ActiveAssessments); got != 1 {
			t.Errorf("active = %v, want 1", got)
		}
		m.ActiveAssessments.Dec()
	})
}
