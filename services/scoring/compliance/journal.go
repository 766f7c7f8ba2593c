// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compliance

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// journalFileMode restricts the journal to owner read/write. The journal
// names workers alongside physiological risk scores, which is sensitive
// on its own.
const journalFileMode = 0600

const (
	// DefaultMaxBytes triggers rotation once the journal file passes it.
	DefaultMaxBytes = 50 << 20

	// DefaultMaxGenerations bounds how many rotated files are kept.
	DefaultMaxGenerations = 5

	// DefaultQueueSize is the async emission buffer. Emissions past a
	// full buffer are dropped and counted rather than blocking scoring.
	DefaultQueueSize = 256
)

// Config configures a Journal.
type Config struct {
	// Path of the journal file. Rotated generations append ".1", ".2", ….
	Path string

	// MaxBytes rotation threshold; DefaultMaxBytes when zero.
	MaxBytes int64

	// MaxGenerations rotated files kept; DefaultMaxGenerations when zero.
	MaxGenerations int

	// QueueSize of the async writer; DefaultQueueSize when zero.
	QueueSize int

	Logger *slog.Logger
}

// Journal is the hash-chained heat-safety journal.
//
// # Description
//
// Append writes synchronously under a mutex and extends the hash chain.
// Emit queues a record for a single background writer so the scoring
// path never blocks on disk; a full queue drops the record and counts
// the drop, which flips the journal into degraded mode until Close.
//
// Rotation starts a fresh chain per generation: the rotated file stays
// verifiable on its own, and the live file restarts from GenesisHash.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Journal struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	file     *os.File
	size     int64
	sequence int64
	prevHash string

	queue   chan Record
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewJournal opens (or continues) the journal at cfg.Path and starts the
// background writer.
func NewJournal(cfg Config) (*Journal, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxGenerations <= 0 {
		cfg.MaxGenerations = DefaultMaxGenerations
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, journalFileMode)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{
		cfg:      cfg,
		logger:   cfg.Logger,
		file:     file,
		prevHash: GenesisHash,
		queue:    make(chan Record, cfg.QueueSize),
		done:     make(chan struct{}),
	}

	if err := j.initChainState(); err != nil {
		file.Close()
		return nil, fmt.Errorf("init journal chain: %w", err)
	}
	if fi, err := file.Stat(); err == nil {
		j.size = fi.Size()
	}

	j.wg.Add(1)
	go j.writeLoop()

	j.logger.Info("compliance journal opened",
		slog.String("path", cfg.Path),
		slog.Int64("starting_sequence", j.sequence))
	return j, nil
}

// initChainState continues the chain from the last record of an existing
// file, or starts fresh at the genesis hash.
func (j *Journal) initChainState() error {
	file, err := os.Open(j.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var last Record
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if r.Sequence > 0 {
			last = r
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if last.Sequence > 0 {
		j.sequence = last.Sequence
		j.prevHash = last.EntryHash
	}
	return nil
}

// =============================================================================
// Writing
// =============================================================================

// Append writes a record synchronously and returns it with its chain
// fields populated.
func (j *Journal) Append(r Record) (Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(r)
}

// appendLocked extends the chain and writes one record. Caller holds j.mu.
func (j *Journal) appendLocked(r Record) (Record, error) {
	j.sequence++
	r.Sequence = j.sequence
	if r.Timestamp == "" {
		r.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	r.PrevHash = j.prevHash
	r.EntryHash = computeRecordHash(r)

	data, err := json.Marshal(r)
	if err != nil {
		j.sequence--
		return Record{}, fmt.Errorf("marshal journal record: %w", err)
	}
	n, err := j.file.Write(append(data, '\n'))
	if err != nil {
		j.sequence--
		j.failed.Add(1)
		return Record{}, fmt.Errorf("write journal record: %w", err)
	}

	j.prevHash = r.EntryHash
	j.size += int64(n)
	if j.size >= j.cfg.MaxBytes {
		if err := j.rotateLocked(); err != nil {
			j.logger.Error("journal rotation failed", slog.String("error", err.Error()))
		}
	}
	return r, nil
}

// Emit queues a record for the background writer. A full queue drops the
// record, counts the drop, and returns false.
func (j *Journal) Emit(r Record) bool {
	select {
	case j.queue <- r:
		return true
	default:
		j.dropped.Add(1)
		j.logger.Warn("journal queue full, record dropped", slog.String("kind", string(r.Kind)))
		return false
	}
}

// writeLoop drains the emission queue until Close.
func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case r := <-j.queue:
			if _, err := j.Append(r); err != nil {
				j.logger.Error("async journal write failed", slog.String("error", err.Error()))
			}
		case <-j.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case r := <-j.queue:
					if _, err := j.Append(r); err != nil {
						j.logger.Error("async journal write failed", slog.String("error", err.Error()))
					}
				default:
					return
				}
			}
		}
	}
}

// rotateLocked renames the live file to the next generation and starts a
// fresh chain. Caller holds j.mu.
func (j *Journal) rotateLocked() error {
	if err := j.file.Close(); err != nil {
		return err
	}

	// Shift generations: path.N-1 → path.N, oldest falls off.
	for gen := j.cfg.MaxGenerations - 1; gen >= 1; gen-- {
		from := fmt.Sprintf("%s.%d", j.cfg.Path, gen)
		to := fmt.Sprintf("%s.%d", j.cfg.Path, gen+1)
		if gen == j.cfg.MaxGenerations-1 {
			os.Remove(to)
		}
		os.Rename(from, to)
	}
	if err := os.Rename(j.cfg.Path, j.cfg.Path+".1"); err != nil {
		return err
	}

	file, err := os.OpenFile(j.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, journalFileMode)
	if err != nil {
		return err
	}
	j.file = file
	j.size = 0
	j.sequence = 0
	j.prevHash = GenesisHash
	j.logger.Info("compliance journal rotated", slog.String("path", j.cfg.Path))
	return nil
}

// Close stops the background writer, drains the queue, and closes the file.
func (j *Journal) Close() error {
	close(j.done)
	j.wg.Wait()
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// =============================================================================
// Status
// =============================================================================

// Status is a point-in-time journal health snapshot.
type Status struct {
	Path     string `json:"path"`
	Sequence int64  `json:"sequence"`
	Dropped  int64  `json:"dropped_records"`
	Failed   int64  `json:"failed_writes"`
	Degraded bool   `json:"degraded"`
}

// Stat reports the journal's health. Degraded means at least one record
// was dropped or failed to persist since the journal opened, so reports
// may be incomplete.
func (j *Journal) Stat() Status {
	j.mu.Lock()
	seq := j.sequence
	j.mu.Unlock()
	dropped := j.dropped.Load()
	failed := j.failed.Load()
	return Status{
		Path:     j.cfg.Path,
		Sequence: seq,
		Dropped:  dropped,
		Failed:   failed,
		Degraded: dropped > 0 || failed > 0,
	}
}

// =============================================================================
// Verification and Queries
// =============================================================================

// VerifyChain checks the live file's hash chain.
//
// # Outputs
//
//   - valid: True when every link and entry hash checks out.
//   - breakIndex: Index of the first broken record, −1 when valid.
//   - error: Non-nil when the file cannot be read.
func (j *Journal) VerifyChain() (valid bool, breakIndex int64, err error) {
	file, err := os.Open(j.cfg.Path)
	if err != nil {
		return false, -1, fmt.Errorf("open journal for verification: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	prevHash := GenesisHash
	var index int64
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if r.Sequence == 0 {
			continue
		}
		if r.PrevHash != prevHash {
			return false, index, nil
		}
		if computeRecordHash(r) != r.EntryHash {
			return false, index, nil
		}
		prevHash = r.EntryHash
		index++
	}
	if err := scanner.Err(); err != nil {
		return false, -1, fmt.Errorf("read journal: %w", err)
	}
	return true, -1, nil
}

// Filter narrows a journal query. Zero fields match everything.
type Filter struct {
	// WorkerIDs restricts results to the given worker id set.
	WorkerIDs []string

	Kind Kind

	// Since and Until bound the record timestamp, inclusive of Since and
	// exclusive of Until.
	Since time.Time
	Until time.Time

	Limit int
}

// matchesWorker reports whether the record's worker is in the filter set.
func (f Filter) matchesWorker(id string) bool {
	if len(f.WorkerIDs) == 0 {
		return true
	}
	return slices.Contains(f.WorkerIDs, id)
}

// Query scans the live file and returns matching records, oldest first.
//
// # Outputs
//
//   - []Record: Matching records in append order.
//   - degraded: True when the file was unavailable or any line failed to
//     parse; results may be empty or incomplete.
func (j *Journal) Query(f Filter) ([]Record, bool) {
	file, err := os.Open(j.cfg.Path)
	if err != nil {
		j.logger.Warn("journal unavailable for query", slog.String("error", err.Error()))
		return nil, true
	}
	defer file.Close()

	degraded := false
	var out []Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			degraded = true
			continue
		}
		if r.Sequence == 0 {
			continue
		}
		if !f.matchesWorker(r.WorkerID) {
			continue
		}
		if f.Kind != "" && r.Kind != f.Kind {
			continue
		}
		if !f.Since.IsZero() || !f.Until.IsZero() {
			ts, err := time.Parse(time.RFC3339, r.Timestamp)
			if err != nil {
				degraded = true
				continue
			}
			if !f.Since.IsZero() && ts.Before(f.Since) {
				continue
			}
			if !f.Until.IsZero() && !ts.Before(f.Until) {
				continue
			}
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		j.logger.Warn("journal read failed mid-query", slog.String("error", err.Error()))
		degraded = true
	}
	return out, degraded
}

// Report summarizes journal activity since a cutoff.
type Report struct {
	Since            string         `json:"since"`
	TotalAssessments int            `json:"total_assessments"`
	HighRiskAlerts   int            `json:"high_risk_alerts"`
	BatchSummaries   int            `json:"batch_summaries"`
	ByLevel          map[string]int `json:"by_level"`
	ByBand           map[Band]int   `json:"by_band"`
	AttentionCount   int            `json:"attention_count"`
	ChainValid       bool           `json:"chain_valid"`
	Degraded         bool           `json:"degraded"`
}

// Summarize builds a safety report from records since the cutoff.
func (j *Journal) Summarize(since time.Time) (Report, error) {
	records, degraded := j.Query(Filter{Since: since})
	valid, _, err := j.VerifyChain()
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Since:      since.UTC().Format(time.RFC3339),
		ByLevel:    make(map[string]int),
		ByBand:     make(map[Band]int),
		ChainValid: valid,
		Degraded:   degraded || j.Stat().Degraded,
	}
	for _, r := range records {
		switch r.Kind {
		case KindAssessment:
			rep.TotalAssessments++
			rep.ByLevel[r.RiskLevel]++
			rep.ByBand[r.HeatIndexBand]++
			if r.RequiresAttention {
				rep.AttentionCount++
			}
		case KindHighRiskAlert:
			rep.HighRiskAlerts++
		case KindBatchSummary, KindBatchAlert:
			rep.BatchSummaries++
		}
	}
	return rep, nil
}
