// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thermasense/heatguard/services/scoring/admission"
	"github.com/thermasense/heatguard/services/scoring/datatypes"
	"github.com/thermasense/heatguard/services/scoring/observability"
)

// RateLimit enforces the per-credential sliding window.
//
// # Description
//
// Must run after Auth: the window key is the credential hash, so every
// device sharing a credential shares its budget. A credential carrying
// its own RateLimitPerMinute gets that window capacity, a zero blocking
// it outright; everyone else uses the deployment default. Responses
// carry X-RateLimit-Limit and X-RateLimit-Remaining; rejections add
// X-RateLimit-Reset and Retry-After. A limiter error fails open rather
// than refusing traffic.
func RateLimit(limiter admission.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, ok := Credential(c)
		if !ok {
			// Route is misconfigured (RateLimit without Auth); do not
			// punish the caller for it.
			c.Next()
			return
		}

		limit := admission.DefaultLimit
		if cred.RateLimitPerMinute != nil {
			limit = *cred.RateLimitPerMinute
		}
		d, err := limiter.Allow(c.Request.Context(), cred.Hash, limit)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
		if !d.Allowed {
			if m := observability.DefaultMetrics; m != nil {
				m.RateLimitedTotal.Inc()
			}
			retry := int(d.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(d.RetryAfter).Unix()))
			c.Header("Retry-After", fmt.Sprintf("%d", retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				datatypes.NewErrorResponse("rate limit exceeded",
					fmt.Sprintf("limit of %d requests per window reached", d.Limit)))
			return
		}
		c.Next()
	}
}
