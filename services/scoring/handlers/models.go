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

	"github.com/thermasense/heatguard/services/scoring/model"
)

// ModelInfo describes the active classifier artifact.
//
// # Description
//
// GET /model_info?name=X. The default artifact when name is omitted.
// Loads the artifact on demand, so the reply doubles as a warm-up probe.
func ModelInfo(host *model.Host) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Query("name")
		artifact, err := host.Get(name)
		if err != nil {
			respondError(c, err)
			return
		}
		info, _ := host.Info(artifact.Name)
		c.JSON(http.StatusOK, info)
	}
}

// ListModels lists every cached artifact.
//
// GET /models.
func ListModels(host *model.Host) gin.HandlerFunc {
	return func(c *gin.Context) {
		cached := host.Cached()
		c.JSON(http.StatusOK, gin.H{"models": cached, "count": len(cached)})
	}
}
