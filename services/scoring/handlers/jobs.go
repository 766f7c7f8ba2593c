// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thermasense/heatguard/services/scoring/datatypes"
	"github.com/thermasense/heatguard/services/scoring/scheduler"
)

// jobResultsResponse pairs a terminal job snapshot with its results.
type jobResultsResponse struct {
	Job     scheduler.Status      `json:"job"`
	Results []datatypes.BatchItem `json:"results"`
}

// jobListResponse is the body of the job listing endpoint.
type jobListResponse struct {
	Jobs      []scheduler.Status `json:"jobs"`
	Pending   int                `json:"pending"`
	Running   int                `json:"running"`
	Completed int                `json:"completed"`
}

// SubmitBatchJob queues an asynchronous scoring job.
//
// # Description
//
// POST /predict_batch_async. Accepts up to ten times the synchronous
// batch limit and replies 202 with a job ID for polling. High-priority
// jobs jump the queue; submissions at capacity get 503.
func SubmitBatchJob(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AsyncBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			invalidRequest(c, err)
			return
		}

		id, err := sched.Submit(batchInputs(req.Data), req.ServiceOptions(),
			scheduler.Priority(req.Priority()))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, datatypes.JobSubmitResponse{
			JobID:       id,
			Status:      "submitted",
			BatchSize:   len(req.Data),
			SubmittedAt: time.Now().UTC(),
		})
	}
}

// BatchStatus reports a job's progress.
//
// GET /batch_status/:job_id.
func BatchStatus(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := sched.Status(c.Param("job_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// BatchResults returns the per-sample results of a finished job.
//
// # Description
//
// GET /batch_results/:job_id. Replies 409 while the job is still
// pending or running and 404 once it has been swept.
func BatchResults(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, st, err := sched.Results(c.Param("job_id"))
		if err != nil {
			respondError(c, err)
			return
		}

		items := make([]datatypes.BatchItem, len(results))
		for i, r := range results {
			item := datatypes.BatchItem{Index: r.Index}
			if r.Err != nil {
				item.Error = r.Err.Error()
			} else if r.Assessment != nil {
				pr := datatypes.FromAssessment(r.Assessment)
				item.Result = &pr
			}
			items[i] = item
		}
		c.JSON(http.StatusOK, jobResultsResponse{Job: st, Results: items})
	}
}

// CancelBatchJob cancels a pending or running job.
//
// DELETE /batch_job/:job_id. Running jobs stop at the next chunk
// boundary, so the reply may still show the job as running.
func CancelBatchJob(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := sched.Cancel(c.Param("job_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// ListBatchJobs lists known jobs, newest first.
//
// GET /batch_jobs. An optional ?status= narrows the listing to one
// state; an unknown state simply matches nothing.
func ListBatchJobs(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs := sched.List()
		if want := c.Query("status"); want != "" {
			filtered := jobs[:0]
			for _, st := range jobs {
				if string(st.State) == want {
					filtered = append(filtered, st)
				}
			}
			jobs = filtered
		}

		pending, running, completed := sched.Counts()
		c.JSON(http.StatusOK, jobListResponse{
			Jobs:      jobs,
			Pending:   pending,
			Running:   running,
			Completed: completed,
		})
	}
}
