// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermasense/heatguard/services/scoring/model"
	"github.com/thermasense/heatguard/services/scoring/service"
	"github.com/thermasense/heatguard/services/scoring/validation"
)

func newTestScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	host := model.NewHost(model.HostConfig{ModelDir: t.TempDir(), AllowSynthetic: true})
	svc := service.New(service.Config{}, host, nil, nil)
	return New(cfg, svc, nil)
}

func sample() map[string]any {
	return map[string]any{
		"gender": 1, "age": 30,
		"temperature_c": 25.0, "humidity_pct": 50.0,
		"mean_hr": 75.0, "mean_nni": 800.0,
	}
}

func batchOf(n int) []validation.BatchInput {
	inputs := make([]validation.BatchInput, n)
	for i := range inputs {
		inputs[i] = validation.BatchInput{Raw: sample(), WorkerID: "w"}
	}
	return inputs
}

// waitForState polls until the job reaches want or the deadline passes.
func waitForState(t *testing.T, s *Scheduler, id string, want State) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.Status(id)
		require.NoError(t, err)
		if st.State == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := s.Status(id)
	t.Fatalf("job %s never reached %s, stuck at %s", id, want, st.State)
	return Status{}
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := newTestScheduler(t, Config{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	id, err := s.Submit(batchOf(3), service.Options{Conservative: true}, PriorityNormal)
	require.NoError(t, err)

	st := waitForState(t, s, id, StateCompleted)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Processed)
	assert.InDelta(t, 1.0, st.Progress, 1e-9)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 3, st.Summary.Scored)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.CompletedAt)

	results, _, err := s.Results(id)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Index, "results keep submission order")
		assert.NotNil(t, r.Assessment)
	}
}

func TestScheduler_InvalidSamplesAreIsolated(t *testing.T) {
	s := newTestScheduler(t, Config{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	bad := sample()
	bad["age"] = 5
	inputs := []validation.BatchInput{
		{Raw: sample(), WorkerID: "ok"},
		{Raw: bad, WorkerID: "bad"},
	}
	id, err := s.Submit(inputs, service.Options{}, PriorityNormal)
	require.NoError(t, err)

	st := waitForState(t, s, id, StateCompleted)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 1, st.Summary.Scored)
	assert.Equal(t, 1, st.Summary.Failed)

	results, _, err := s.Results(id)
	require.NoError(t, err)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}

func TestScheduler_SubmitValidation(t *testing.T) {
	s := newTestScheduler(t, Config{MaxSamples: 2, MaxPending: 1})

	t.Run("empty job rejected", func(t *testing.T) {
		_, err := s.Submit(nil, service.Options{}, PriorityNormal)
		assert.Error(t, err)
	})

	t.Run("oversized job rejected", func(t *testing.T) {
		_, err := s.Submit(batchOf(3), service.Options{}, PriorityNormal)
		assert.Error(t, err)
	})

	t.Run("unknown priority rejected", func(t *testing.T) {
		_, err := s.Submit(batchOf(1), service.Options{}, Priority("urgent"))
		assert.Error(t, err)
	})

	t.Run("capacity returns ErrBusy", func(t *testing.T) {
		_, err := s.Submit(batchOf(1), service.Options{}, PriorityNormal)
		require.NoError(t, err)
		_, err = s.Submit(batchOf(1), service.Options{}, PriorityNormal)
		assert.ErrorIs(t, err, ErrBusy)
	})
}

func TestScheduler_StatusAndResultsErrors(t *testing.T) {
	// Not started: submitted jobs stay pending.
	s := newTestScheduler(t, Config{})

	_, err := s.Status("no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := s.Submit(batchOf(1), service.Options{}, PriorityNormal)
	require.NoError(t, err)

	_, _, err = s.Results(id)
	assert.ErrorIs(t, err, ErrConflict, "results of a pending job conflict")
}

func TestScheduler_CancelPending(t *testing.T) {
	s := newTestScheduler(t, Config{})

	id, err := s.Submit(batchOf(2), service.Options{}, PriorityNormal)
	require.NoError(t, err)

	st, err := s.Cancel(id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, st.State)

	_, err = s.Cancel(id)
	assert.ErrorIs(t, err, ErrConflict, "cancelling a terminal job conflicts")
}

func TestScheduler_CancelStopsAtChunkBoundary(t *testing.T) {
	s := newTestScheduler(t, Config{ChunkSize: 10})

	id, err := s.Submit(batchOf(25), service.Options{}, PriorityNormal)
	require.NoError(t, err)

	// Drive the job directly with cancellation already requested: the
	// first chunk boundary must observe it.
	s.mu.Lock()
	j := s.findLocked(id)
	require.NotNil(t, j)
	s.removeFromQueueLocked(id)
	j.state = StateRunning
	s.active[id] = j
	close(j.cancelled)
	s.mu.Unlock()

	s.runJob(context.Background(), j)

	st, err := s.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, st.State)
	assert.Equal(t, 0, st.Processed)
}

func TestScheduler_CancelRunningMarksImmediately(t *testing.T) {
	s := newTestScheduler(t, Config{ChunkSize: 10})

	id, err := s.Submit(batchOf(25), service.Options{}, PriorityNormal)
	require.NoError(t, err)

	// Stage the job as running without a worker, so the window between the
	// cancel request and the chunk boundary stays open.
	s.mu.Lock()
	j := s.findLocked(id)
	require.NotNil(t, j)
	s.removeFromQueueLocked(id)
	j.state = StateRunning
	s.active[id] = j
	s.mu.Unlock()

	st, err := s.Cancel(id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, st.State, "cancel must be visible before the execution loop reacts")

	st, err = s.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, st.State)

	_, _, err = s.Results(id)
	assert.ErrorIs(t, err, ErrConflict, "results stay unavailable until partials are finalized")

	s.runJob(context.Background(), j)

	results, st, err := s.Results(id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, st.State)
	assert.Empty(t, results)
	require.NotNil(t, st.CompletedAt)
}

func TestScheduler_PriorityOrder(t *testing.T) {
	s := newTestScheduler(t, Config{})

	lowID, err := s.Submit(batchOf(1), service.Options{}, PriorityLow)
	require.NoError(t, err)
	normalID, err := s.Submit(batchOf(1), service.Options{}, PriorityNormal)
	require.NoError(t, err)
	highID, err := s.Submit(batchOf(1), service.Options{}, PriorityHigh)
	require.NoError(t, err)

	s.mu.Lock()
	first := s.nextLocked()
	second := s.nextLocked()
	third := s.nextLocked()
	s.mu.Unlock()

	assert.Equal(t, highID, first.id)
	assert.Equal(t, normalID, second.id)
	assert.Equal(t, lowID, third.id)
}

func TestScheduler_SweepAndRetentionCap(t *testing.T) {
	s := newTestScheduler(t, Config{MaxCompleted: 2, RetentionTTL: time.Hour})

	makeTerminal := func(id string, age time.Duration) {
		j := &job{id: id, state: StateRunning, cancelled: make(chan struct{})}
		s.mu.Lock()
		s.active[id] = j
		s.finishLocked(j, StateCompleted, "")
		j.completedAt = time.Now().Add(-age)
		s.mu.Unlock()
	}

	t.Run("retention cap drops the oldest", func(t *testing.T) {
		makeTerminal("j1", 30*time.Minute)
		makeTerminal("j2", 20*time.Minute)
		makeTerminal("j3", 10*time.Minute)

		_, _, completed := s.Counts()
		assert.Equal(t, 2, completed)
		_, err := s.Status("j1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("sweep expires old jobs", func(t *testing.T) {
		makeTerminal("j4", 25*time.Hour)
		s.sweep()
		_, err := s.Status("j4")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestScheduler_List(t *testing.T) {
	s := newTestScheduler(t, Config{})

	_, err := s.Submit(batchOf(1), service.Options{}, PriorityNormal)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	secondID, err := s.Submit(batchOf(1), service.Options{}, PriorityNormal)
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, secondID, list[0].ID, "newest submission first")
}
