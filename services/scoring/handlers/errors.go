// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP endpoints of the scoring service.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thermasense/heatguard/services/scoring/admission"
	"github.com/thermasense/heatguard/services/scoring/datatypes"
	"github.com/thermasense/heatguard/services/scoring/model"
	"github.com/thermasense/heatguard/services/scoring/scheduler"
	"github.com/thermasense/heatguard/services/scoring/service"
	"github.com/thermasense/heatguard/services/scoring/validation"
)

// respondError maps pipeline errors to HTTP statuses with the uniform
// error envelope. Semantically invalid samples are 422; only a body the
// decoder cannot parse is 400. Unrecognized errors become an opaque 500
// so internal detail never leaks to callers.
func respondError(c *gin.Context, err error) {
	var vErr *validation.Error
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusUnprocessableEntity,
			datatypes.NewErrorResponse("validation failed", vErr.Error()))
	case errors.Is(err, admission.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized,
			datatypes.NewErrorResponse("unauthorized", "invalid or missing API key"))
	case errors.Is(err, admission.ErrForbidden):
		c.JSON(http.StatusForbidden,
			datatypes.NewErrorResponse("forbidden", "credential lacks required permission"))
	case errors.Is(err, admission.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests,
			datatypes.NewErrorResponse("rate limit exceeded", ""))
	case errors.Is(err, scheduler.ErrNotFound):
		c.JSON(http.StatusNotFound,
			datatypes.NewErrorResponse("job not found", err.Error()))
	case errors.Is(err, scheduler.ErrConflict):
		c.JSON(http.StatusConflict,
			datatypes.NewErrorResponse("job state conflict", err.Error()))
	case errors.Is(err, scheduler.ErrBusy):
		c.JSON(http.StatusServiceUnavailable,
			datatypes.NewErrorResponse("scheduler at capacity", "retry the submission later"))
	case errors.Is(err, model.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable,
			datatypes.NewErrorResponse("model unavailable", err.Error()))
	case errors.Is(err, service.ErrTimeout):
		c.JSON(http.StatusServiceUnavailable,
			datatypes.NewErrorResponse("scoring timed out", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError,
			datatypes.NewErrorResponse("internal error", ""))
	}
}

// bindError is the envelope for malformed request bodies.
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest,
		datatypes.NewErrorResponse("invalid request body", err.Error()))
}

// invalidRequest is the envelope for well-formed bodies that fail
// structural validation.
func invalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity,
		datatypes.NewErrorResponse("validation failed", err.Error()))
}
