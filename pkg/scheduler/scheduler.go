// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package scheduler runs the periodic maintenance pass: embedding
// backfill, decay recomputation, expiry archival, and purge of
// archived rows whose snapshots are durable.
package scheduler

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tejzpr/mnemo-mcp/internal/embeddings"
	"github.com/tejzpr/mnemo-mcp/internal/index"
	"github.com/tejzpr/mnemo-mcp/internal/store"
)

// Options configures the maintenance scheduler
type Options struct {
	Interval          time.Duration
	BackfillBatchSize int
	ExpiryThreshold   float64
}

// Scheduler handles periodic maintenance of the memory store
type Scheduler struct {
	records  *store.RecordStore
	backfill *embeddings.Service
	idx      *index.HNSW
	opts     Options
	logger   *log.Logger
	stopChan chan bool
}

// NewScheduler creates a new scheduler
func NewScheduler(records *store.RecordStore, backfill *embeddings.Service, idx *index.HNSW, opts Options, logger *log.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.BackfillBatchSize <= 0 {
		opts.BackfillBatchSize = 50
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		records:  records,
		backfill: backfill,
		idx:      idx,
		opts:     opts,
		logger:   logger,
		stopChan: make(chan bool),
	}
}

// Start begins the scheduler
func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.opts.Interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.runMaintenance()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.stopChan <- true
}

// runMaintenance runs one maintenance pass. Each step is independent;
// a failing step is logged and the rest still run.
func (s *Scheduler) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Interval)
	defer cancel()

	if s.backfill != nil {
		if filled, err := s.backfill.Sweep(ctx, s.opts.BackfillBatchSize); err != nil {
			s.logger.Warn("embedding backfill sweep failed", "error", err)
		} else if filled > 0 {
			s.logger.Info("embedding backfill sweep", "filled", filled)
		}
	}

	if updated, err := s.records.DecaySweep(ctx, time.Now()); err != nil {
		s.logger.Warn("decay sweep failed", "error", err)
	} else if updated > 0 {
		s.logger.Debug("decay sweep", "updated", updated)
	}

	if s.opts.ExpiryThreshold > 0 {
		expired, err := s.records.ExpireSweep(ctx, s.opts.ExpiryThreshold)
		if err != nil {
			s.logger.Warn("expiry sweep failed", "error", err)
		}
		// Records archived so far come out of the index even when the
		// sweep stopped early.
		for _, id := range expired {
			s.idx.Remove(id)
		}
		if len(expired) > 0 {
			s.logger.Info("expiry sweep", "archived", len(expired))
		}
	}

	if purged, err := s.records.Purge(ctx); err != nil {
		s.logger.Warn("purge failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("purged archived records", "count", purged)
	}
}
