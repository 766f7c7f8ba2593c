// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler runs asynchronous batch scoring jobs.
//
// # Description
//
// Callers submit a batch and poll for status and results. Jobs move
// through a strict state machine (pending → running → completed, failed,
// or cancelled), are picked by priority, and are scored chunk by chunk so
// cancellation takes effect at the next chunk boundary. A background
// sweeper expires old completed jobs using the ticker + done channel
// pattern.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thermasense/heatguard/services/scoring/observability"
	"github.com/thermasense/heatguard/services/scoring/service"
	"github.com/thermasense/heatguard/services/scoring/validation"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound means the job ID is unknown or already swept.
	ErrNotFound = errors.New("job not found")

	// ErrConflict means the operation does not apply to the job's state.
	ErrConflict = errors.New("operation conflicts with job state")

	// ErrBusy means the scheduler is at its pending-job capacity.
	ErrBusy = errors.New("scheduler at capacity")
)

// =============================================================================
// States and Priorities
// =============================================================================

// State is a job lifecycle phase.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether a state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Priority orders pending jobs.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// rank maps priorities to pick order; higher picks first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the scheduler.
type Config struct {
	// MaxSamples caps how many samples one job may carry. Default 10000.
	MaxSamples int

	// MaxPending caps queued plus running jobs. Default 100.
	MaxPending int

	// ChunkSize is how many samples are scored between cancellation
	// checks; clamped to [10, 1000]. Default 100.
	ChunkSize int

	// Workers is how many jobs run concurrently. Default 2.
	Workers int

	// SweepInterval is how often expired jobs are collected. Default 1h.
	SweepInterval time.Duration

	// RetentionTTL is how long terminal jobs stay queryable. Default 24h.
	RetentionTTL time.Duration

	// MaxCompleted caps retained terminal jobs; the least recently
	// finished are dropped past it. Default 100.
	MaxCompleted int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxSamples:    10000,
		MaxPending:    100,
		ChunkSize:     100,
		Workers:       2,
		SweepInterval: time.Hour,
		RetentionTTL:  24 * time.Hour,
		MaxCompleted:  100,
	}
}

// normalize applies defaults and clamps.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MaxSamples <= 0 {
		c.MaxSamples = d.MaxSamples
	}
	if c.MaxPending <= 0 {
		c.MaxPending = d.MaxPending
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.ChunkSize < 10 {
		c.ChunkSize = 10
	}
	if c.ChunkSize > 1000 {
		c.ChunkSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.RetentionTTL <= 0 {
		c.RetentionTTL = d.RetentionTTL
	}
	if c.MaxCompleted <= 0 {
		c.MaxCompleted = d.MaxCompleted
	}
	return c
}

// =============================================================================
// Jobs
// =============================================================================

// job is the scheduler's internal record. All fields are guarded by the
// scheduler mutex except where noted.
type job struct {
	id       string
	priority Priority
	state    State

	inputs []validation.BatchInput
	opts   service.Options

	total     int
	processed int
	results   []service.ItemResult
	summary   *service.BatchSummary
	errMsg    string

	submittedAt time.Time
	startedAt   time.Time
	completedAt time.Time

	// cancelled is checked at chunk boundaries without the lock.
	cancelled chan struct{}
}

// Status is a cloned, caller-safe job snapshot.
type Status struct {
	ID          string                `json:"job_id"`
	State       State                 `json:"state"`
	Priority    Priority              `json:"priority"`
	Total       int                   `json:"total_samples"`
	Processed   int                   `json:"processed_samples"`
	Progress    float64               `json:"progress"`
	Error       string                `json:"error,omitempty"`
	Summary     *service.BatchSummary `json:"summary,omitempty"`
	SubmittedAt time.Time             `json:"submitted_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// snapshotLocked clones the job's visible state. Caller holds s.mu.
func (j *job) snapshotLocked() Status {
	st := Status{
		ID:          j.id,
		State:       j.state,
		Priority:    j.priority,
		Total:       j.total,
		Processed:   j.processed,
		Error:       j.errMsg,
		SubmittedAt: j.submittedAt,
	}
	if j.total > 0 {
		st.Progress = float64(j.processed) / float64(j.total)
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		st.StartedAt = &t
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		st.CompletedAt = &t
	}
	if j.summary != nil {
		sum := *j.summary
		st.Summary = &sum
	}
	return st
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler owns the job queue and worker pool.
//
// # Thread Safety
//
// All public methods are thread-safe; a single mutex guards the queue and
// both job maps.
type Scheduler struct {
	cfg    Config
	svc    *service.Service
	logger *slog.Logger

	mu        sync.Mutex
	queue     []*job
	active    map[string]*job
	completed map[string]*job

	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New builds a Scheduler over svc.
func New(cfg Config, svc *service.Service, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg.normalize(),
		svc:       svc,
		logger:    logger,
		active:    make(map[string]*job),
		completed: make(map[string]*job),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the workers and the sweeper. Calling Start twice is an
// error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx)
	}
	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info("batch scheduler started",
		slog.Int("workers", s.cfg.Workers),
		slog.Int("chunk_size", s.cfg.ChunkSize))
	return nil
}

// Stop shuts down workers and the sweeper, cancelling running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, j := range s.active {
		if j.state == StateRunning {
			select {
			case <-j.cancelled:
			default:
				close(j.cancelled)
			}
		}
	}
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	s.logger.Info("batch scheduler stopped")
}

// =============================================================================
// Public API
// =============================================================================

// Submit queues a batch job and returns its ID.
//
// # Outputs
//
//   - string: The job ID.
//   - error: ErrBusy at capacity; a validation error for an empty,
//     oversized, or badly prioritized submission.
func (s *Scheduler) Submit(inputs []validation.BatchInput, opts service.Options, priority Priority) (string, error) {
	if len(inputs) == 0 {
		return "", fmt.Errorf("job has no samples")
	}
	if len(inputs) > s.cfg.MaxSamples {
		return "", fmt.Errorf("job size %d exceeds limit %d", len(inputs), s.cfg.MaxSamples)
	}
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return "", fmt.Errorf("unknown priority %q", priority)
	}

	j := &job{
		id:          uuid.NewString(),
		priority:    priority,
		state:       StatePending,
		inputs:      inputs,
		opts:        opts,
		total:       len(inputs),
		submittedAt: time.Now().UTC(),
		cancelled:   make(chan struct{}),
	}

	s.mu.Lock()
	if len(s.queue)+len(s.active) >= s.cfg.MaxPending {
		s.mu.Unlock()
		return "", ErrBusy
	}
	s.queue = append(s.queue, j)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	s.logger.Info("batch job submitted",
		slog.String("job_id", j.id),
		slog.Int("samples", j.total),
		slog.String("priority", string(priority)))
	return j.id, nil
}

// Status returns a snapshot of the job.
func (s *Scheduler) Status(id string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.findLocked(id); j != nil {
		return j.snapshotLocked(), nil
	}
	return Status{}, ErrNotFound
}

// Results returns the per-item results of a terminal job.
//
// # Outputs
//
//   - []service.ItemResult: Order-preserving results.
//   - Status: The job snapshot.
//   - error: ErrNotFound for unknown jobs, ErrConflict while the job is
//     still pending or running.
func (s *Scheduler) Results(id string) ([]service.ItemResult, Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.findLocked(id)
	if j == nil {
		return nil, Status{}, ErrNotFound
	}
	// completedAt distinguishes a finalized job from one marked cancelled
	// whose execution loop has not reached a chunk boundary yet.
	if !j.state.Terminal() || j.completedAt.IsZero() {
		return nil, Status{}, fmt.Errorf("%w: job is %s", ErrConflict, j.state)
	}
	results := make([]service.ItemResult, len(j.results))
	copy(results, j.results)
	return results, j.snapshotLocked(), nil
}

// Cancel requests cancellation.
//
// Pending jobs cancel immediately. Running jobs are marked Cancelled at
// once; the execution loop observes the request at the next chunk
// boundary and finalizes partial results. Cancelling a job that already
// finished is ErrConflict.
func (s *Scheduler) Cancel(id string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.findLocked(id)
	if j == nil {
		return Status{}, ErrNotFound
	}
	switch j.state {
	case StatePending:
		s.removeFromQueueLocked(id)
		s.finishLocked(j, StateCancelled, "cancelled before start")
		return j.snapshotLocked(), nil
	case StateRunning:
		j.state = StateCancelled
		select {
		case <-j.cancelled:
		default:
			close(j.cancelled)
		}
		return j.snapshotLocked(), nil
	default:
		return Status{}, fmt.Errorf("%w: job already %s", ErrConflict, j.state)
	}
}

// List snapshots every known job, newest submission first.
func (s *Scheduler) List() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.queue)+len(s.active)+len(s.completed))
	for _, j := range s.queue {
		out = append(out, j.snapshotLocked())
	}
	for _, j := range s.active {
		out = append(out, j.snapshotLocked())
	}
	for _, j := range s.completed {
		out = append(out, j.snapshotLocked())
	}
	for i := 0; i < len(out); i++ {
		for k := i + 1; k < len(out); k++ {
			if out[k].SubmittedAt.After(out[i].SubmittedAt) {
				out[i], out[k] = out[k], out[i]
			}
		}
	}
	return out
}

// Counts reports queue depth for readiness checks.
func (s *Scheduler) Counts() (pending, running, completed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), len(s.active), len(s.completed)
}

// =============================================================================
// Internals
// =============================================================================

// findLocked looks a job up across all holding areas. Caller holds s.mu.
func (s *Scheduler) findLocked(id string) *job {
	for _, j := range s.queue {
		if j.id == id {
			return j
		}
	}
	if j, ok := s.active[id]; ok {
		return j
	}
	if j, ok := s.completed[id]; ok {
		return j
	}
	return nil
}

// removeFromQueueLocked drops a pending job. Caller holds s.mu.
func (s *Scheduler) removeFromQueueLocked(id string) {
	for i, j := range s.queue {
		if j.id == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// nextLocked pops the highest-priority pending job, FIFO within a
// priority. Caller holds s.mu.
func (s *Scheduler) nextLocked() *job {
	best := -1
	for i, j := range s.queue {
		if best < 0 || j.priority.rank() > s.queue[best].priority.rank() {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	j := s.queue[best]
	s.queue = append(s.queue[:best], s.queue[best+1:]...)
	return j
}

// finishLocked moves a job to a terminal state and into the completed
// map, enforcing the retention cap. Caller holds s.mu.
func (s *Scheduler) finishLocked(j *job, state State, errMsg string) {
	j.state = state
	j.errMsg = errMsg
	j.completedAt = time.Now().UTC()
	delete(s.active, j.id)
	s.completed[j.id] = j
	j.inputs = nil

	for len(s.completed) > s.cfg.MaxCompleted {
		var oldest *job
		for _, c := range s.completed {
			if oldest == nil || c.completedAt.Before(oldest.completedAt) {
				oldest = c
			}
		}
		delete(s.completed, oldest.id)
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordJobState(string(state))
	}
}

// workerLoop picks and runs jobs until shutdown.
func (s *Scheduler) workerLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		j := s.nextLocked()
		if j != nil {
			j.state = StateRunning
			j.startedAt = time.Now().UTC()
			s.active[j.id] = j
		}
		s.mu.Unlock()

		if j == nil {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}

		s.runJob(ctx, j)

		select {
		case <-s.done:
			return
		default:
		}
	}
}

// runJob scores a job chunk by chunk.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	start := time.Now()
	results := make([]service.ItemResult, 0, j.total)

	for offset := 0; offset < j.total; offset += s.cfg.ChunkSize {
		select {
		case <-j.cancelled:
			s.mu.Lock()
			j.results = results
			s.finishLocked(j, StateCancelled, fmt.Sprintf("cancelled after %d of %d samples", len(results), j.total))
			s.mu.Unlock()
			s.logger.Info("batch job cancelled",
				slog.String("job_id", j.id),
				slog.Int("processed", len(results)))
			return
		case <-ctx.Done():
			s.mu.Lock()
			j.results = results
			s.finishLocked(j, StateFailed, "scheduler shutting down")
			s.mu.Unlock()
			return
		default:
		}

		end := offset + s.cfg.ChunkSize
		if end > j.total {
			end = j.total
		}
		chunk := s.svc.ScoreItems(ctx, j.inputs[offset:end], j.opts)
		for _, r := range chunk {
			r.Index += offset
			results = append(results, r)
		}

		s.mu.Lock()
		j.processed = len(results)
		s.mu.Unlock()
	}

	summary := s.svc.Summarize(results, time.Since(start))
	if !j.opts.SkipJournal {
		s.svc.EmitBatch(results, summary)
	}

	s.mu.Lock()
	j.results = results
	j.summary = &summary
	s.finishLocked(j, StateCompleted, "")
	s.mu.Unlock()

	s.logger.Info("batch job completed",
		slog.String("job_id", j.id),
		slog.Int("scored", summary.Scored),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration))
}

// sweepLoop expires old terminal jobs on a fixed interval.
func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep removes terminal jobs older than the retention TTL.
func (s *Scheduler) sweep() {
	cutoff := time.Now().Add(-s.cfg.RetentionTTL)
	s.mu.Lock()
	removed := 0
	for id, j := range s.completed {
		if j.completedAt.Before(cutoff) {
			delete(s.completed, id)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		s.logger.Info("swept expired batch jobs", slog.Int("removed", removed))
	}
}
