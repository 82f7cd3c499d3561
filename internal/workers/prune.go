package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type ReminderPruner interface {
	PruneReminders(ctx context.Context, cutoff time.Time) (int64, error)
}

type StatePruner interface {
	Prune(cutoff time.Time) int
}

// PruneWorker deletes settled reminders older than the retention period.
type PruneWorker struct {
	store     ReminderPruner
	states    StatePruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

func NewPruneWorker(store ReminderPruner, states StatePruner, retention, interval time.Duration, logger zerolog.Logger) *PruneWorker {
	return &PruneWorker{
		store:     store,
		states:    states,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger,
	}
}

func (w *PruneWorker) Name() string            { return "prune" }
func (w *PruneWorker) Interval() time.Duration { return w.interval }

func (w *PruneWorker) Run(ctx context.Context) error {
	cutoff := w.now().Add(-w.retention)

	rows, err := w.store.PruneReminders(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pruning reminders: %w", err)
	}
	states := w.states.Prune(cutoff)

	w.logger.Info().Int64("rows", rows).Int("states", states).Time("cutoff", cutoff).Msg("reminders pruned")
	return nil
}
