// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the scoring endpoints onto a Gin engine.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thermasense/heatguard/services/scoring/admission"
	"github.com/thermasense/heatguard/services/scoring/compliance"
	"github.com/thermasense/heatguard/services/scoring/handlers"
	"github.com/thermasense/heatguard/services/scoring/health"
	"github.com/thermasense/heatguard/services/scoring/middleware"
	"github.com/thermasense/heatguard/services/scoring/model"
	"github.com/thermasense/heatguard/services/scoring/scheduler"
	"github.com/thermasense/heatguard/services/scoring/service"
)

// Deps carries everything the route table needs.
type Deps struct {
	Service   *service.Service
	Scheduler *scheduler.Scheduler
	Host      *model.Host
	Journal   *compliance.Journal
	Registry  *health.Registry
	Auth      *admission.Authenticator
	Limiter   admission.Limiter

	// APIKeyHeader overrides the default credential header when set.
	APIKeyHeader string
}

// SetupRoutes registers every endpoint.
//
// # Description
//
// Health and metrics endpoints are unauthenticated so probes and the
// scrape job need no credentials. Everything under /api/v1 requires an
// API key: scoring, job submission, cancellation, and the fixture
// endpoints need the write permission; status, result, and model
// queries need read; the compliance surface needs admin. Rate limiting
// applies per credential after authentication.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.DetailedHealth(deps.Registry))
	router.GET("/health/simple", handlers.SimpleHealth(deps.Registry))
	router.GET("/readiness", handlers.Readiness(deps.Registry))
	router.GET("/liveness", handlers.Liveness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		write := v1.Group("",
			middleware.Auth(deps.Auth, deps.APIKeyHeader, admission.PermWrite),
			middleware.RateLimit(deps.Limiter))
		{
			write.POST("/predict", handlers.Predict(deps.Service))
			write.POST("/predict_batch", handlers.PredictBatch(deps.Service))
			write.POST("/predict_batch_async", handlers.SubmitBatchJob(deps.Scheduler))
			write.DELETE("/batch_job/:job_id", handlers.CancelBatchJob(deps.Scheduler))
			write.GET("/generate_random", handlers.GenerateRandom(deps.Service))
			write.GET("/generate_ramp_up", handlers.GenerateRampUp(deps.Service))
			write.GET("/generate_ramp_down", handlers.GenerateRampDown(deps.Service))
		}

		read := v1.Group("",
			middleware.Auth(deps.Auth, deps.APIKeyHeader, admission.PermRead),
			middleware.RateLimit(deps.Limiter))
		{
			read.GET("/batch_status/:job_id", handlers.BatchStatus(deps.Scheduler))
			read.GET("/batch_results/:job_id", handlers.BatchResults(deps.Scheduler))
			read.GET("/batch_jobs", handlers.ListBatchJobs(deps.Scheduler))
			read.GET("/model_info", handlers.ModelInfo(deps.Host))
			read.GET("/models", handlers.ListModels(deps.Host))
		}

		// Compliance surface is admin only; reports name workers.
		admin := v1.Group("/compliance",
			middleware.Auth(deps.Auth, deps.APIKeyHeader, admission.PermAdmin))
		{
			admin.GET("/report", handlers.ComplianceReport(deps.Journal))
			admin.GET("/records", handlers.ComplianceRecords(deps.Journal))
			admin.GET("/verify", handlers.ComplianceVerify(deps.Journal))
		}
	}
}
