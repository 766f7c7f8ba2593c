// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thermasense/heatguard/services/scoring/compliance"
	"github.com/thermasense/heatguard/services/scoring/datatypes"
)

// journalDisabled is the reply when the deployment runs without a
// compliance journal.
func journalDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable,
		datatypes.NewErrorResponse("compliance journal disabled", ""))
}

// ComplianceReport summarizes journal activity for a safety review.
//
// # Description
//
// GET /compliance/report?hours=N (default 24). The report aggregates
// assessments by risk level and heat index band and includes the hash
// chain verdict, so a tampered journal is visible in the report itself.
func ComplianceReport(journal *compliance.Journal) gin.HandlerFunc {
	return func(c *gin.Context) {
		if journal == nil {
			journalDisabled(c)
			return
		}
		hours := intQuery(c, "hours", 24, 1, 24*365)
		rep, err := journal.Summarize(time.Now().Add(-time.Duration(hours) * time.Hour))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}

// ComplianceRecords queries raw journal records.
//
// # Description
//
// GET /compliance/records with optional worker_id (comma-separated set),
// kind, since/until (RFC 3339), and limit query parameters. Records
// return oldest first; an unreadable journal yields an empty set with
// degraded set to true.
func ComplianceRecords(journal *compliance.Journal) gin.HandlerFunc {
	return func(c *gin.Context) {
		if journal == nil {
			journalDisabled(c)
			return
		}

		filter := compliance.Filter{
			Kind:  compliance.Kind(c.Query("kind")),
			Limit: intQuery(c, "limit", 100, 1, 1000),
		}
		if raw := c.Query("worker_id"); raw != "" {
			for _, id := range strings.Split(raw, ",") {
				if id = strings.TrimSpace(id); id != "" {
					filter.WorkerIDs = append(filter.WorkerIDs, id)
				}
			}
		}
		var ok bool
		if filter.Since, ok = timeQuery(c, "since"); !ok {
			return
		}
		if filter.Until, ok = timeQuery(c, "until"); !ok {
			return
		}

		records, degraded := journal.Query(filter)
		if records == nil {
			records = []compliance.Record{}
		}
		c.JSON(http.StatusOK, gin.H{
			"records":  records,
			"count":    len(records),
			"degraded": degraded,
		})
	}
}

// timeQuery parses an optional RFC 3339 query parameter, answering 400
// itself on a malformed value.
func timeQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest,
			datatypes.NewErrorResponse("invalid "+name+" parameter", "expected RFC 3339 timestamp"))
		return time.Time{}, false
	}
	return t, true
}

// ComplianceVerify checks the journal's hash chain on demand.
//
// GET /compliance/verify.
func ComplianceVerify(journal *compliance.Journal) gin.HandlerFunc {
	return func(c *gin.Context) {
		if journal == nil {
			journalDisabled(c)
			return
		}
		valid, breakIndex, err := journal.VerifyChain()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"chain_valid": valid,
			"break_index": breakIndex,
			"status":      journal.Stat(),
		})
	}
}
