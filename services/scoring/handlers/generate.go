// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thermasense/heatguard/services/scoring/datatypes"
	"github.com/thermasense/heatguard/services/scoring/generator"
	"github.com/thermasense/heatguard/services/scoring/service"
)

// maxGenerated caps fixture endpoints so a demo cannot occupy the whole
// batch worker pool.
const maxGenerated = 100

// intQuery parses a bounded integer query parameter.
func intQuery(c *gin.Context, name string, def, min, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// scoreGenerated runs generated samples through the batch pipeline.
func scoreGenerated(c *gin.Context, svc *service.Service, samples []map[string]any) {
	out, err := svc.ScoreBatch(c.Request.Context(), batchInputs(samples), service.Options{Conservative: true})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, datatypes.FromBatchOutcome(out))
}

// GenerateRandom scores randomly generated worker samples.
//
// GET /generate_random?count=N. Useful for smoke tests and demos
// without real device telemetry.
func GenerateRandom(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		count := intQuery(c, "count", 1, 1, maxGenerated)
		samples := make([]map[string]any, count)
		for i := range samples {
			samples[i] = generator.Random("random_" + strconv.Itoa(i))
		}
		scoreGenerated(c, svc, samples)
	}
}

// GenerateRampUp scores a scenario escalating from comfortable conditions
// into severe heat stress.
//
// GET /generate_ramp_up?steps=N. The scored sequence demonstrates the
// risk levels crossing from safe through danger.
func GenerateRampUp(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		steps := intQuery(c, "steps", 12, 2, maxGenerated)
		scoreGenerated(c, svc, generator.RampUp(steps))
	}
}

// GenerateRampDown scores a recovery scenario from severe heat stress
// back to comfortable conditions.
//
// GET /generate_ramp_down?steps=N.
func GenerateRampDown(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		steps := intQuery(c, "steps", 12, 2, maxGenerated)
		scoreGenerated(c, svc, generator.RampDown(steps))
	}
}
