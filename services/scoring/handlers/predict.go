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

	"github.com/thermasense/heatguard/services/scoring/datatypes"
	"github.com/thermasense/heatguard/services/scoring/service"
	"github.com/thermasense/heatguard/services/scoring/validation"
)

// workerIDOf pulls the optional worker_id out of a raw sample. The
// validator skips unknown keys, so the entry may stay in the map.
func workerIDOf(raw map[string]any) string {
	id, _ := raw["worker_id"].(string)
	return id
}

// batchInputs maps raw samples onto validation inputs, lifting each
// sample's worker_id alongside its features.
func batchInputs(data []map[string]any) []validation.BatchInput {
	inputs := make([]validation.BatchInput, len(data))
	for i, raw := range data {
		inputs[i] = validation.BatchInput{Raw: raw, WorkerID: workerIDOf(raw)}
	}
	return inputs
}

// Predict scores one worker sample.
//
// # Description
//
// POST /predict. The body wraps a flat feature map under "data" with
// optional "options"; the response is the full assessment including
// risk score, level, heat index band, and recommendations. The
// conservative bias applies unless the request explicitly disables it.
func Predict(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PredictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			invalidRequest(c, err)
			return
		}

		a, err := svc.ScoreSample(c.Request.Context(), req.Data, workerIDOf(req.Data), req.ServiceOptions())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.FromAssessment(a))
	}
}

// PredictBatch scores up to the configured batch limit synchronously.
//
// # Description
//
// POST /predict_batch. Samples are scored concurrently with per-item
// error isolation: a bad sample occupies its slot as an error while the
// rest of the batch proceeds. The reply preserves input order and
// carries a batch summary.
func PredictBatch(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.BatchPredictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			invalidRequest(c, err)
			return
		}

		out, err := svc.ScoreBatch(c.Request.Context(), batchInputs(req.Data), req.ServiceOptions())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.FromBatchOutcome(out))
	}
}
