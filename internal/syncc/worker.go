package syncc

import (
	"context"
	"log"
	"sync"
	"time"
)

// Worker drives the Coordinator on a schedule: accept pending welcomes,
// then sync every active group, repeating on an interval. Grounded on
// the teacher's sync.Worker (same Start/Stop/Running/LastSync/SyncNow
// shape, same "log and keep going" tolerance for a failing cycle).
type Worker struct {
	coordinator    *Coordinator
	installationID string
	interval       time.Duration

	stopCh chan struct{}
	doneCh chan struct{}

	mu       sync.RWMutex
	running  bool
	lastSync time.Time
}

// WorkerConfig configures a Worker's schedule.
type WorkerConfig struct {
	// Interval between sync cycles (default: 30 seconds).
	Interval time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with default values.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{Interval: 30 * time.Second}
}

// NewWorker returns a Worker that drives coordinator for installationID.
func NewWorker(coordinator *Coordinator, installationID string, cfg WorkerConfig) *Worker {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultWorkerConfig().Interval
	}
	return &Worker{
		coordinator:    coordinator,
		installationID: installationID,
		interval:       cfg.Interval,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start begins the background sync loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop gracefully stops the worker, blocking until the current cycle finishes.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

// Running reports whether the worker's loop is active.
func (w *Worker) Running() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// LastSync returns the time of the last completed sync cycle.
func (w *Worker) LastSync() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastSync
}

// SyncNow triggers an immediate sync cycle, outside the ticker schedule.
func (w *Worker) SyncNow(ctx context.Context) error {
	return w.cycle(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	if err := w.cycle(ctx); err != nil {
		log.Printf("[sync] initial sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.cycle(ctx); err != nil {
				log.Printf("[sync] sync failed: %v", err)
			}
		}
	}
}

func (w *Worker) cycle(ctx context.Context) error {
	err := w.coordinator.SyncAllWelcomesAndGroups(ctx, w.installationID)

	w.mu.Lock()
	w.lastSync = time.Now()
	w.mu.Unlock()

	return err
}
