// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

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

	"github.com/thermasense/heatguard/services/scoring/admission"
	"github.com/thermasense/heatguard/services/scoring/compliance"
	"github.com/thermasense/heatguard/services/scoring/health"
	"github.com/thermasense/heatguard/services/scoring/model"
	"github.com/thermasense/heatguard/services/scoring/scheduler"
	"github.com/thermasense/heatguard/services/scoring/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	writeKey = "sk-write"
	readKey  = "sk-read"
	adminKey = "sk-admin"
)

func newRouter(t *testing.T, limit int) *gin.Engine {
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
	sched := scheduler.New(scheduler.Config{Workers: 1}, svc, nil)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(sched.Stop)

	registry := health.NewRegistry()
	registry.Add("model", func(ctx context.Context) health.Component {
		if host.Healthy() {
			return health.Healthy("", true)
		}
		return health.Unhealthy("default artifact unavailable", true)
	})

	auth := admission.NewAuthenticator(admission.NewStaticStoreFromKeys(map[string][]admission.Permission{
		writeKey: {admission.PermRead, admission.PermWrite},
		readKey:  {admission.PermRead},
		adminKey: {admission.PermAdmin},
	}), nil)

	router := gin.New()
	SetupRoutes(router, Deps{
		Service:   svc,
		Scheduler: sched,
		Host:      host,
		Journal:   journal,
		Registry:  registry,
		Auth:      auth,
		Limiter:   admission.NewMemoryLimiter(limit, time.Minute),
	})
	return router
}

func do(r *gin.Engine, method, path, key string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		buf, _ := json.Marshal(body)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func predictBody() gin.H {
	return gin.H{"data": gin.H{
		"gender": 1, "age": 30,
		"temperature_c": 25.0, "humidity_pct": 50.0,
		"mean_hr": 75.0, "mean_nni": 800.0,
	}}
}

func TestPublicEndpoints(t *testing.T) {
	r := newRouter(t, 100)

	for _, path := range []string{"/health", "/health/simple", "/readiness", "/liveness"} {
		w := do(r, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := do(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestPermissionBoundaries(t *testing.T) {
	r := newRouter(t, 100)

	t.Run("predict requires a key", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/v1/predict", "", predictBody())
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("write key scores", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/v1/predict", writeKey, predictBody())
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("write key drives the fixture endpoints", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/v1/generate_random?count=2", writeKey, nil)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("read key cannot score", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/v1/predict", readKey, predictBody())
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("read key lists jobs and models", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/v1/batch_jobs", readKey, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		w = do(r, http.MethodGet, "/api/v1/models", readKey, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("read key cannot read compliance", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/v1/compliance/report", readKey, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin key reads compliance", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/v1/compliance/report", adminKey, nil)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("admin key implies write", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/v1/predict", adminKey, predictBody())
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRateLimitApplies(t *testing.T) {
	r := newRouter(t, 2)

	for i := 0; i < 2; i++ {
		w := do(r, http.MethodGet, "/api/v1/model_info", readKey, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(r, http.MethodGet, "/api/v1/model_info", readKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	// Other credentials keep their own window.
	w = do(r, http.MethodGet, "/api/v1/compliance/verify", adminKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownJobIs404(t *testing.T) {
	r := newRouter(t, 100)
	w := do(r, http.MethodGet, "/api/v1/batch_status/missing", readKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
