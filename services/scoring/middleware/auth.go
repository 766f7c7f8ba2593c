// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the scoring service.
//
// # Admission Flow
//
// The auth middleware extracts the API key from the configured header,
// resolves it through the admission layer, checks the route's required
// permission, and stores the credential in the Gin context for the rate
// limiter and handlers downstream.
//
//	Request
//	   │
//	   ▼
//	Auth (X-API-Key → credential, permission check)
//	   │
//	   ▼
//	RateLimit (sliding window per credential)
//	   │
//	   ▼
//	Handler
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thermasense/heatguard/services/scoring/admission"
	"github.com/thermasense/heatguard/services/scoring/datatypes"
	"github.com/thermasense/heatguard/services/scoring/observability"
)

// DefaultAPIKeyHeader carries the credential when no header is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// credentialKey is the Gin context key for the resolved credential.
const credentialKey = "heatguard_credential"

// Credential retrieves the authenticated credential from the context.
func Credential(c *gin.Context) (*admission.Credential, bool) {
	v, ok := c.Get(credentialKey)
	if !ok {
		return nil, false
	}
	cred, ok := v.(*admission.Credential)
	return cred, ok
}

// Auth authenticates the request and checks perm.
//
// # Inputs
//
//   - auth: The admission authenticator.
//   - header: API key header name; DefaultAPIKeyHeader when empty.
//   - perm: Permission the route requires.
func Auth(auth *admission.Authenticator, header string, perm admission.Permission) gin.HandlerFunc {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return func(c *gin.Context) {
		cred, err := auth.Authenticate(c.Request.Context(), c.GetHeader(header))
		if err != nil {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordAuthFailure("unauthenticated")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				datatypes.NewErrorResponse("unauthorized", "invalid or missing API key"))
			return
		}
		if err := auth.Authorize(cred, perm); err != nil {
			reason := "forbidden"
			status := http.StatusForbidden
			if errors.Is(err, admission.ErrUnauthenticated) {
				reason = "unauthenticated"
				status = http.StatusUnauthorized
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordAuthFailure(reason)
			}
			c.AbortWithStatusJSON(status,
				datatypes.NewErrorResponse(reason, "credential lacks permission "+string(perm)))
			return
		}
		c.Set(credentialKey, cred)
		c.Next()
	}
}
