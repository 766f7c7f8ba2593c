// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermasense/heatguard/services/scoring/compliance"
	"github.com/thermasense/heatguard/services/scoring/datatypes"
	"github.com/thermasense/heatguard/services/scoring/handlers"
	"github.com/thermasense/heatguard/services/scoring/model"
	"github.com/thermasense/heatguard/services/scoring/scheduler"
	"github.com/thermasense/heatguard/services/scoring/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stack is the wired pipeline behind the handlers under test.
type stack struct {
	svc     *service.Service
	sched   *scheduler.Scheduler
	host    *model.Host
	journal *compliance.Journal
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()

	host := model.NewHost(model.HostConfig{
		ModelDir:       filepath.Join(dir, "models"),
		AllowSynthetic: true,
	})
	journal, err := compliance.NewJournal(compliance.Config{
		Path: filepath.Join(dir, "journal.ndjson"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	svc := service.New(service.Config{}, host, journal, nil)

	sched := scheduler.New(scheduler.Config{Workers: 1, ChunkSize: 10}, svc, nil)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(sched.Stop)

	return &stack{svc: svc, sched: sched, host: host, journal: journal}
}

func postJSON(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func safeSample(workerID string) gin.H {
	s := gin.H{
		"gender": 1, "age": 30,
		"temperature_c": 25.0, "humidity_pct": 50.0,
		"mean_hr": 75.0, "mean_nni": 800.0,
	}
	if workerID != "" {
		s["worker_id"] = workerID
	}
	return s
}

func dangerSample(workerID string) gin.H {
	s := gin.H{
		"gender": 1, "age": 55,
		"temperature_c": 43.0, "humidity_pct": 90.0,
		"mean_hr": 150.0, "mean_nni": 400.0,
		"rmssd": 8.0,
	}
	if workerID != "" {
		s["worker_id"] = workerID
	}
	return s
}

// =============================================================================
// Predict
// =============================================================================

func TestPredict(t *testing.T) {
	s := newStack(t)
	r := gin.New()
	r.POST("/predict", handlers.Predict(s.svc))

	t.Run("scores a safe sample", func(t *testing.T) {
		w := postJSON(r, "/predict", gin.H{"data": safeSample("w1")})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		res := decode[datatypes.PredictionResult](t, w)
		assert.Equal(t, "w1", res.WorkerID)
		assert.Equal(t, "Safe", res.RiskLevel)
		assert.False(t, res.RequiresImmediateAttention)
		assert.NotEmpty(t, res.OSHARecommendations)
		assert.NotEmpty(t, res.RequestID)
		assert.True(t, res.ConservativeBiasApplied, "bias defaults on")
		assert.GreaterOrEqual(t, res.RiskScore, res.RiskScoreStandard)
		assert.InDelta(t, 77.0, res.TemperatureF, 1e-9)
		assert.Equal(t, model.DefaultArtifactName, res.Model)
	})

	t.Run("flags a danger sample", func(t *testing.T) {
		w := postJSON(r, "/predict", gin.H{"data": dangerSample("")})
		require.Equal(t, http.StatusOK, w.Code)

		res := decode[datatypes.PredictionResult](t, w)
		assert.Equal(t, "Danger", res.RiskLevel)
		assert.True(t, res.RequiresImmediateAttention)
		assert.Equal(t, "Extreme Danger", res.HeatIndexBand)
	})

	t.Run("options disable the bias", func(t *testing.T) {
		w := postJSON(r, "/predict", gin.H{
			"data":    safeSample(""),
			"options": gin.H{"use_conservative": false},
		})
		require.Equal(t, http.StatusOK, w.Code)

		res := decode[datatypes.PredictionResult](t, w)
		assert.False(t, res.ConservativeBiasApplied)
		assert.Zero(t, res.ConservativeBiasValue)
		assert.InDelta(t, res.RiskScoreStandard, res.RiskScore, 1e-9)
	})

	t.Run("missing required feature is 422", func(t *testing.T) {
		sample := safeSample("")
		delete(sample, "temperature_c")
		w := postJSON(r, "/predict", gin.H{"data": sample})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		res := decode[datatypes.ErrorResponse](t, w)
		assert.Contains(t, res.Detail, "temperature_c")
	})

	t.Run("empty data map is 422", func(t *testing.T) {
		w := postJSON(r, "/predict", gin.H{"data": gin.H{}})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte("{not json")))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// =============================================================================
// Batch
// =============================================================================

func TestPredictBatch(t *testing.T) {
	s := newStack(t)
	r := gin.New()
	r.POST("/predict_batch", handlers.PredictBatch(s.svc))

	t.Run("mixed batch keeps order and isolates failures", func(t *testing.T) {
		bad := safeSample("b")
		delete(bad, "mean_hr")
		w := postJSON(r, "/predict_batch", gin.H{"data": []gin.H{
			safeSample("a"),
			bad,
			dangerSample("c"),
		}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		res := decode[datatypes.BatchPredictResponse](t, w)
		require.Len(t, res.Results, 3)
		assert.NotNil(t, res.Results[0].Result)
		assert.NotEmpty(t, res.Results[1].Error)
		assert.Nil(t, res.Results[1].Result)
		assert.NotNil(t, res.Results[2].Result)
		assert.Equal(t, "a", res.Results[0].Result.WorkerID)
		assert.Equal(t, 2, res.Summary.Scored)
		assert.Equal(t, 1, res.Summary.Failed)
		assert.Equal(t, 1, res.Summary.HighRiskCount)
		assert.NotEmpty(t, res.BatchID)
	})

	t.Run("empty batch is 422", func(t *testing.T) {
		w := postJSON(r, "/predict_batch", gin.H{"data": []gin.H{}})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

// =============================================================================
// Asynchronous Jobs
// =============================================================================

func jobRouter(s *stack) *gin.Engine {
	r := gin.New()
	r.POST("/predict_batch_async", handlers.SubmitBatchJob(s.sched))
	r.GET("/batch_status/:job_id", handlers.BatchStatus(s.sched))
	r.GET("/batch_results/:job_id", handlers.BatchResults(s.sched))
	r.GET("/batch_jobs", handlers.ListBatchJobs(s.sched))
	r.DELETE("/batch_job/:job_id", handlers.CancelBatchJob(s.sched))
	return r
}

func waitForTerminal(t *testing.T, r *gin.Engine, jobID string) scheduler.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := get(r, "/batch_status/"+jobID)
		require.Equal(t, http.StatusOK, w.Code)
		st := decode[scheduler.Status](t, w)
		if st.State.Terminal() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return scheduler.Status{}
}

func TestBatchJobLifecycle(t *testing.T) {
	s := newStack(t)
	r := jobRouter(s)

	samples := make([]gin.H, 12)
	for i := range samples {
		samples[i] = safeSample("job-w")
	}
	w := postJSON(r, "/predict_batch_async", gin.H{
		"data":    samples,
		"options": gin.H{"priority": "high"},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	sub := decode[datatypes.JobSubmitResponse](t, w)
	require.NotEmpty(t, sub.JobID)
	assert.Equal(t, "submitted", sub.Status)
	assert.Equal(t, 12, sub.BatchSize)

	st := waitForTerminal(t, r, sub.JobID)
	assert.Equal(t, scheduler.StateCompleted, st.State)
	assert.Equal(t, 12, st.Processed)
	assert.InDelta(t, 1.0, st.Progress, 1e-9)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 12, st.Summary.Scored)

	res := get(r, "/batch_results/"+sub.JobID)
	require.Equal(t, http.StatusOK, res.Code)
	body := decode[struct {
		Job     scheduler.Status      `json:"job"`
		Results []datatypes.BatchItem `json:"results"`
	}](t, res)
	assert.Len(t, body.Results, 12)
	assert.NotNil(t, body.Results[0].Result)

	// Terminal jobs cannot be cancelled.
	cancel := httptest.NewRequest(http.MethodDelete, "/batch_job/"+sub.JobID, nil)
	cw := httptest.NewRecorder()
	r.ServeHTTP(cw, cancel)
	assert.Equal(t, http.StatusConflict, cw.Code)

	list := get(r, "/batch_jobs")
	require.Equal(t, http.StatusOK, list.Code)
	jobs := decode[struct {
		Jobs      []scheduler.Status `json:"jobs"`
		Completed int                `json:"completed"`
	}](t, list)
	assert.NotEmpty(t, jobs.Jobs)
	assert.GreaterOrEqual(t, jobs.Completed, 1)

	filtered := get(r, "/batch_jobs?status=cancelled")
	require.Equal(t, http.StatusOK, filtered.Code)
	none := decode[struct {
		Jobs []scheduler.Status `json:"jobs"`
	}](t, filtered)
	assert.Empty(t, none.Jobs, "status filter should exclude completed jobs")
}

func TestBatchJobErrors(t *testing.T) {
	s := newStack(t)
	r := jobRouter(s)

	t.Run("unknown job is 404", func(t *testing.T) {
		w := get(r, "/batch_status/no-such-job")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown priority is 422", func(t *testing.T) {
		w := postJSON(r, "/predict_batch_async", gin.H{
			"data":    []gin.H{safeSample("")},
			"options": gin.H{"priority": "urgent"},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("empty submission is 422", func(t *testing.T) {
		w := postJSON(r, "/predict_batch_async", gin.H{"data": []gin.H{}})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

// =============================================================================
// Fixture Generators
// =============================================================================

func TestGenerateEndpoints(t *testing.T) {
	s := newStack(t)
	r := gin.New()
	r.GET("/generate_random", handlers.GenerateRandom(s.svc))
	r.GET("/generate_ramp_up", handlers.GenerateRampUp(s.svc))
	r.GET("/generate_ramp_down", handlers.GenerateRampDown(s.svc))

	t.Run("random samples all score", func(t *testing.T) {
		w := get(r, "/generate_random?count=5")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		res := decode[datatypes.BatchPredictResponse](t, w)
		assert.Equal(t, 5, res.Summary.Scored)
		assert.Zero(t, res.Summary.Failed)
	})

	t.Run("ramp up ends in danger", func(t *testing.T) {
		w := get(r, "/generate_ramp_up?steps=12")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[datatypes.BatchPredictResponse](t, w)
		require.Len(t, res.Results, 12)
		first := res.Results[0].Result
		last := res.Results[11].Result
		require.NotNil(t, first)
		require.NotNil(t, last)
		assert.Equal(t, "Safe", first.RiskLevel)
		assert.Equal(t, "Danger", last.RiskLevel)
	})

	t.Run("ramp down ends safe", func(t *testing.T) {
		w := get(r, "/generate_ramp_down?steps=8")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[datatypes.BatchPredictResponse](t, w)
		require.Len(t, res.Results, 8)
		last := res.Results[7].Result
		require.NotNil(t, last)
		assert.Equal(t, "Safe", last.RiskLevel)
	})

	t.Run("count clamps to the cap", func(t *testing.T) {
		w := get(r, "/generate_random?count=100000")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[datatypes.BatchPredictResponse](t, w)
		assert.Equal(t, 100, res.Summary.Size)
	})
}

// =============================================================================
// Models and Compliance
// =============================================================================

func TestModelEndpoints(t *testing.T) {
	s := newStack(t)
	r := gin.New()
	r.GET("/model_info", handlers.ModelInfo(s.host))
	r.GET("/models", handlers.ListModels(s.host))

	w := get(r, "/model_info")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info := decode[model.ArtifactInfo](t, w)
	assert.Equal(t, model.DefaultArtifactName, info.Name)
	assert.Len(t, info.Classes, 4)

	lw := get(r, "/models")
	require.Equal(t, http.StatusOK, lw.Code)
	list := decode[struct {
		Count int `json:"count"`
	}](t, lw)
	assert.Equal(t, 1, list.Count)
}

func TestComplianceEndpoints(t *testing.T) {
	s := newStack(t)
	r := gin.New()
	r.POST("/predict", handlers.Predict(s.svc))
	r.GET("/compliance/report", handlers.ComplianceReport(s.journal))
	r.GET("/compliance/records", handlers.ComplianceRecords(s.journal))
	r.GET("/compliance/verify", handlers.ComplianceVerify(s.journal))

	// Journal one assessment synchronously so queries see it.
	postJSON(r, "/predict", gin.H{"data": dangerSample("audit-w")})
	_, err := s.journal.Append(compliance.Record{Kind: compliance.KindAssessment, WorkerID: "direct-w"})
	require.NoError(t, err)

	t.Run("report aggregates and verifies", func(t *testing.T) {
		w := get(r, "/compliance/report?hours=1")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		rep := decode[compliance.Report](t, w)
		assert.True(t, rep.ChainValid)
		assert.GreaterOrEqual(t, rep.TotalAssessments, 1)
	})

	t.Run("records filter by worker", func(t *testing.T) {
		w := get(r, "/compliance/records?worker_id=direct-w")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[struct {
			Records []compliance.Record `json:"records"`
			Count   int                 `json:"count"`
		}](t, w)
		require.Equal(t, 1, res.Count)
		assert.Equal(t, "direct-w", res.Records[0].WorkerID)
	})

	t.Run("bad since parameter is 400", func(t *testing.T) {
		w := get(r, "/compliance/records?since=yesterday")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("verify reports an intact chain", func(t *testing.T) {
		w := get(r, "/compliance/verify")
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[struct {
			ChainValid bool  `json:"chain_valid"`
			BreakIndex int64 `json:"break_index"`
		}](t, w)
		assert.True(t, res.ChainValid)
		assert.Equal(t, int64(-1), res.BreakIndex)
	})

	t.Run("disabled journal is 503", func(t *testing.T) {
		dr := gin.New()
		dr.GET("/compliance/report", handlers.ComplianceReport(nil))
		w := get(dr, "/compliance/report")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
