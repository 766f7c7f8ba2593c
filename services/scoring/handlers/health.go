// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thermasense/heatguard/services/scoring/health"
)

// DetailedHealth runs every component check and reports the breakdown.
//
// GET /health. Always 200: the body carries the component states, and a
// dashboard polling this endpoint needs the breakdown even when the
// instance is unhealthy.
func DetailedHealth(registry *health.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, registry.Detailed(c.Request.Context()))
	}
}

// SimpleHealth is the single-status probe.
//
// GET /health/simple. 200 only when every component is healthy; a
// degraded or unhealthy component turns it into 503.
func SimpleHealth(registry *health.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		overall := registry.Detailed(c.Request.Context())
		status := http.StatusOK
		if overall.Status != health.StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": overall.Status})
	}
}

// Readiness gates traffic on the critical components.
//
// GET /readiness. 503 when any critical component is unhealthy; a
// degraded component keeps the instance in rotation.
func Readiness(registry *health.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ready, overall := registry.Ready(c.Request.Context())
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, overall)
	}
}

// Liveness reports that the process is serving requests.
//
// GET /liveness. Always 200; orchestrators restart on failure to
// respond, not on body content.
func Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
