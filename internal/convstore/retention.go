package convstore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// defaultSweepFloor is the shortest interval the retention sweep is allowed
// to run at, regardless of how short RETENTION_WINDOW is configured
// (spec.md §4.3's "periodic sweep", sharpened per the original
// implementation's hourly/six-hourly interval jobs).
const defaultSweepFloor = 5 * time.Minute

// RetentionSweeper periodically purges messages older than retention (and
// the stale sessions they leave empty), confirmed against the original implementation's
// two scheduled cleanup jobs (conversation purge, expired-context purge).
type RetentionSweeper struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewRetentionSweeper builds a sweeper that purges messages older than
// retention, ticking at retention/4 but never faster than defaultSweepFloor.
func NewRetentionSweeper(store Store, retention time.Duration, logger *zap.Logger) *RetentionSweeper {
	interval := retention / 4
	if interval < defaultSweepFloor {
		interval = defaultSweepFloor
	}
	return &RetentionSweeper{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (r *RetentionSweeper) Start() {
	go r.loop()
}

// Stop signals the sweep loop to exit and waits for it to do so.
func (r *RetentionSweeper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *RetentionSweeper) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *RetentionSweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cutoff := time.Now().Add(-r.retention)
	n, err := r.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("retention sweep purged messages", zap.Int("count", n))
	}
}

// windowSweepFloor bounds how often the window sweep may run, independent
// of RetentionSweeper's own floor: the window cache is meant to be pruned
// much sooner than a session is eligible for full retention purge.
const windowSweepFloor = time.Minute

// WindowSweeper is the second of the two independently-ticked sweep
// goroutines (spec.md §7): where RetentionSweeper purges the database of
// messages past RETENTION_WINDOW, WindowSweeper evicts the in-memory
// session-window cache of entries past the session idle timeout, so a store
// serving many distinct users doesn't hold one stale *Session per user
// forever between purges.
type WindowSweeper struct {
	store    Store
	maxIdle  time.Duration
	interval time.Duration
	logger   *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewWindowSweeper builds a sweeper that evicts window-cache entries idle
// longer than maxIdle, ticking at maxIdle/4 but never faster than
// windowSweepFloor.
func NewWindowSweeper(store Store, maxIdle time.Duration, logger *zap.Logger) *WindowSweeper {
	interval := maxIdle / 4
	if interval < windowSweepFloor {
		interval = windowSweepFloor
	}
	return &WindowSweeper{
		store:    store,
		maxIdle:  maxIdle,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (w *WindowSweeper) Start() { go w.loop() }

// Stop signals the sweep loop to exit and waits for it to do so.
func (w *WindowSweeper) Stop() {
	close(w.stop)
	<-w.done
}

func (w *WindowSweeper) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if n := w.store.PruneWindow(w.maxIdle); n > 0 {
				w.logger.Info("window sweep evicted cache entries", zap.Int("count", n))
			}
		}
	}
}
