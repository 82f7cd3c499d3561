// Package workers runs periodic maintenance jobs.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Worker is a job run once at start and then every Interval.
type Worker interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

type WorkerManager struct {
	workers []Worker
	timeout time.Duration
	logger  zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewWorkerManager bounds every run by timeout.
func NewWorkerManager(timeout time.Duration, logger zerolog.Logger) *WorkerManager {
	return &WorkerManager{
		timeout:  timeout,
		logger:   logger.With().Str("component", "workers").Logger(),
		stopChan: make(chan struct{}),
	}
}

func (wm *WorkerManager) RegisterWorker(w Worker) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wm.workers = append(wm.workers, w)
	wm.logger.Info().Str("worker", w.Name()).Dur("interval", w.Interval()).Msg("worker registered")
}

func (wm *WorkerManager) Start(ctx context.Context) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	for _, worker := range wm.workers {
		wm.wg.Add(1)
		go wm.runWorker(ctx, worker)
	}
	wm.logger.Info().Int("workers", len(wm.workers)).Msg("workers started")
}

func (wm *WorkerManager) runWorker(ctx context.Context, w Worker) {
	defer wm.wg.Done()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	wm.executeWorker(ctx, w)

	for {
		select {
		case <-ticker.C:
			wm.executeWorker(ctx, w)
		case <-ctx.Done():
			return
		case <-wm.stopChan:
			wm.logger.Debug().Str("worker", w.Name()).Msg("worker stopped")
			return
		}
	}
}

func (wm *WorkerManager) executeWorker(ctx context.Context, w Worker) {
	ctx, cancel := context.WithTimeout(ctx, wm.timeout)
	defer cancel()

	start := time.Now()
	if err := w.Run(ctx); err != nil {
		wm.logger.Error().Err(err).Str("worker", w.Name()).Msg("worker run failed")
		return
	}
	wm.logger.Debug().Str("worker", w.Name()).Dur("duration", time.Since(start)).Msg("worker run complete")
}

// Stop waits for running jobs to return. It is safe to call twice.
func (wm *WorkerManager) Stop() {
	wm.stopOnce.Do(func() { close(wm.stopChan) })
	wm.wg.Wait()
}

type WorkerStats struct {
	TotalWorkers int      `json:"total_workers"`
	WorkerNames  []string `json:"worker_names"`
}

func (wm *WorkerManager) GetStats() WorkerStats {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	names := make([]string, len(wm.workers))
	for i, w := range wm.workers {
		names[i] = w.Name()
	}
	return WorkerStats{
		TotalWorkers: len(wm.workers),
		WorkerNames:  names,
	}
}
