package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mealcue/pkg/models"
)

type SettingsLister interface {
	ListSettings(ctx context.Context) ([]models.ScheduleSettings, error)
}

type DayScheduler interface {
	ScheduleDay(ctx context.Context, settings models.ScheduleSettings) ([]models.Reminder, error)
}

// RolloverWorker reschedules every stored schedule so reminders for the
// next occurrence of each meal exist. Reminder ids carry the meal date, so
// reruns replace instead of duplicating.
type RolloverWorker struct {
	settings  SettingsLister
	scheduler DayScheduler
	interval  time.Duration
	logger    zerolog.Logger
}

func NewRolloverWorker(settings SettingsLister, scheduler DayScheduler, interval time.Duration, logger zerolog.Logger) *RolloverWorker {
	return &RolloverWorker{settings: settings, scheduler: scheduler, interval: interval, logger: logger}
}

func (w *RolloverWorker) Name() string            { return "rollover" }
func (w *RolloverWorker) Interval() time.Duration { return w.interval }

func (w *RolloverWorker) Run(ctx context.Context) error {
	all, err := w.settings.ListSettings(ctx)
	if err != nil {
		return fmt.Errorf("listing schedules: %w", err)
	}

	total := 0
	for _, s := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		reminders, err := w.scheduler.ScheduleDay(ctx, s)
		if err != nil {
			w.logger.Error().Err(err).Str("user_id", s.UserID).Msg("rollover failed")
			continue
		}
		total += len(reminders)
	}

	w.logger.Info().Int("users", len(all)).Int("reminders", total).Msg("schedules rolled over")
	return nil
}
