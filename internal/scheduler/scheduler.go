// Package scheduler turns meal-time settings into reminders and hands them
// to the timer dispatcher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mealcue/internal/database"
	"mealcue/internal/dispatch"
	"mealcue/pkg/models"
)

type Store interface {
	SaveSettings(ctx context.Context, settings models.ScheduleSettings) error
	SaveReminders(ctx context.Context, reminders []models.Reminder) error
	ListPendingReminders(ctx context.Context) ([]database.StoredReminder, error)
	DeleteReminder(ctx context.Context, id string) error
	DeleteUserReminders(ctx context.Context, userID string) (int64, error)
	DeleteAllPendingReminders(ctx context.Context) (int64, error)
}

type Dispatcher interface {
	Schedule(task dispatch.Task) bool
	Cancel(id string) bool
	CancelTag(tag string) int
	CancelOwner(owner string) int
	CancelAll() int
	Pending() []dispatch.Task
}

// Presenter shows notifications when tasks fire.
type Presenter interface {
	Present(ctx context.Context, r models.Reminder) bool
	Show(ctx context.Context, rec models.NotificationRecord) bool
}

// Lifecycle guards the Scheduled → Fired transition.
type Lifecycle interface {
	Begin(ctx context.Context, id string) error
	Fire(ctx context.Context, id string) error
	Forget(id string)
}

type Options struct {
	PrepLead      time.Duration
	RestoreWindow time.Duration
	Location      *time.Location
	Now           func() time.Time
}

type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	presenter  Presenter
	lifecycle  Lifecycle
	opts       Options
	logger     zerolog.Logger
}

func New(store Store, dispatcher Dispatcher, presenter Presenter, lifecycle Lifecycle, opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		presenter:  presenter,
		lifecycle:  lifecycle,
		opts:       opts,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// BuildDay computes the reminders for every enabled slot. Slots with an
// invalid time are reported in errs and skipped.
func (s *Scheduler) BuildDay(settings models.ScheduleSettings, now time.Time) (reminders []models.Reminder, errs []error) {
	for _, meal := range models.MealTypes {
		if !settings.Enabled[meal] {
			continue
		}
		raw, ok := settings.Times[meal]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w: missing", meal, ErrInvalidTime))
			continue
		}
		tod, err := ParseTimeOfDay(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", meal, err))
			continue
		}

		mealAt := NextOccurrence(now, tod, s.opts.Location)
		critical := settings.Critical[meal]

		reminders = append(reminders,
			models.Reminder{
				ID:           models.ReminderID(settings.UserID, meal, models.Prep, mealAt),
				UserID:       settings.UserID,
				MealType:     meal,
				ReminderType: models.Prep,
				ReminderTime: mealAt.Add(-s.opts.PrepLead),
				IsCritical:   critical,
			},
			models.Reminder{
				ID:           models.ReminderID(settings.UserID, meal, models.Action, mealAt),
				UserID:       settings.UserID,
				MealType:     meal,
				ReminderType: models.Action,
				ReminderTime: mealAt,
				IsCritical:   critical,
			},
		)
	}
	return reminders, errs
}

// ScheduleDay persists settings, computes the day's reminders and submits
// them. Persistence failures are logged; scheduling continues in memory.
func (s *Scheduler) ScheduleDay(ctx context.Context, settings models.ScheduleSettings) ([]models.Reminder, error) {
	if settings.UserID == "" {
		return nil, errors.New("settings without user id")
	}

	reminders, errs := s.BuildDay(settings, s.opts.Now())
	for _, err := range errs {
		s.logger.Warn().Err(err).Str("user_id", settings.UserID).Msg("skipping meal slot")
	}

	if err := s.store.SaveSettings(ctx, settings); err != nil {
		s.logger.Error().Err(err).Str("user_id", settings.UserID).Msg("failed to persist schedule settings")
	}

	s.dropStale(ctx, settings.UserID, reminders)

	accepted := make([]models.Reminder, 0, len(reminders))
	for _, r := range reminders {
		if err := s.lifecycle.Begin(ctx, r.ID); err != nil {
			s.logger.Debug().Err(err).Str("id", r.ID).Msg("reminder already past scheduling")
			continue
		}
		accepted = append(accepted, r)
	}

	if err := s.store.SaveReminders(ctx, accepted); err != nil {
		s.logger.Error().Err(err).Str("user_id", settings.UserID).Msg("failed to persist reminders, keeping in-memory schedule")
	}

	for _, r := range accepted {
		s.dispatch(r)
	}

	s.logger.Info().Str("user_id", settings.UserID).Int("reminders", len(accepted)).Msg("day scheduled")
	return accepted, nil
}

// dropStale cancels the user's pending generated reminders that the new
// schedule no longer contains, e.g. a slot that was disabled. Reminders the
// page registered and scheduled notifications are left alone.
func (s *Scheduler) dropStale(ctx context.Context, userID string, keep []models.Reminder) {
	ids := make(map[string]bool, len(keep))
	for _, r := range keep {
		ids[r.ID] = true
	}

	for _, t := range s.dispatcher.Pending() {
		if t.Owner != userID || ids[t.ID] || !models.IsGeneratedReminderID(userID, t.ID) {
			continue
		}
		if s.dispatcher.Cancel(t.ID) {
			s.lifecycle.Forget(t.ID)
			if err := s.store.DeleteReminder(ctx, t.ID); err != nil {
				s.logger.Error().Err(err).Str("id", t.ID).Msg("failed to delete stale reminder")
			}
		}
	}
}

// Submit schedules a single reminder, persisting it first.
func (s *Scheduler) Submit(ctx context.Context, r models.Reminder) error {
	if err := s.lifecycle.Begin(ctx, r.ID); err != nil {
		return err
	}
	if err := s.store.SaveReminders(ctx, []models.Reminder{r}); err != nil {
		s.logger.Error().Err(err).Str("id", r.ID).Msg("failed to persist reminder, keeping in-memory schedule")
	}
	s.dispatch(r)
	return nil
}

func (s *Scheduler) dispatch(r models.Reminder) {
	s.dispatcher.Schedule(dispatch.Task{
		ID:    r.ID,
		Owner: r.UserID,
		Tag:   models.Tag(r.ID),
		At:    r.ReminderTime,
		Fire:  func() { s.fire(r) },
	})
}

func (s *Scheduler) fire(r models.Reminder) {
	ctx := context.Background()
	if err := s.lifecycle.Fire(ctx, r.ID); err != nil {
		s.logger.Warn().Err(err).Str("id", r.ID).Msg("reminder not fireable")
		return
	}
	s.presenter.Present(ctx, r)
}

// SubmitNotification schedules an arbitrary page-supplied notification.
func (s *Scheduler) SubmitNotification(userID, id string, at time.Time, rec models.NotificationRecord) {
	rec.UserID = userID
	s.dispatcher.Schedule(dispatch.Task{
		ID:    notificationTaskID(userID, id),
		Owner: userID,
		Tag:   rec.Tag,
		At:    at,
		Fire:  func() { s.presenter.Show(context.Background(), rec) },
	})
}

func notificationTaskID(userID, id string) string {
	return "notif:" + userID + ":" + id
}

// Pending lists the user's tasks that have not fired, soonest first.
// Scheduled notifications are reported under the id the page gave them.
func (s *Scheduler) Pending(userID string) []models.PendingNotification {
	out := make([]models.PendingNotification, 0)
	for _, t := range s.dispatcher.Pending() {
		if t.Owner != userID {
			continue
		}
		id := strings.TrimPrefix(t.ID, notificationTaskID(userID, ""))
		out = append(out, models.PendingNotification{ID: id, Tag: t.Tag, ScheduledFor: t.At.UnixMilli()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor < out[j].ScheduledFor })
	return out
}

// Cancel stops one reminder and removes it from storage.
func (s *Scheduler) Cancel(ctx context.Context, id string) bool {
	ok := s.dispatcher.Cancel(id)
	s.lifecycle.Forget(id)
	if err := s.store.DeleteReminder(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("failed to delete reminder")
	}
	return ok
}

// CancelTag stops every pending task of the user carrying tag.
func (s *Scheduler) CancelTag(ctx context.Context, userID, tag string) int {
	n := 0
	for _, t := range s.dispatcher.Pending() {
		if t.Owner != userID || t.Tag != tag {
			continue
		}
		if s.dispatcher.Cancel(t.ID) {
			n++
			if _, isReminder := models.ReminderIDFromTag(tag); isReminder {
				s.lifecycle.Forget(t.ID)
				if err := s.store.DeleteReminder(ctx, t.ID); err != nil {
					s.logger.Error().Err(err).Str("id", t.ID).Msg("failed to delete reminder")
				}
			}
		}
	}
	return n
}

// CancelUser stops every pending task of a user.
func (s *Scheduler) CancelUser(ctx context.Context, userID string) int {
	for _, t := range s.dispatcher.Pending() {
		if t.Owner == userID {
			s.lifecycle.Forget(t.ID)
		}
	}
	n := s.dispatcher.CancelOwner(userID)
	if _, err := s.store.DeleteUserReminders(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to delete user reminders")
	}
	return n
}

// CancelAll stops every pending task. Calling it again is a no-op.
func (s *Scheduler) CancelAll(ctx context.Context) int {
	for _, t := range s.dispatcher.Pending() {
		s.lifecycle.Forget(t.ID)
	}
	n := s.dispatcher.CancelAll()
	if _, err := s.store.DeleteAllPendingReminders(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to delete pending reminders")
	}
	return n
}

// Restore resubmits reminders persisted by a previous run. Ones older than
// RestoreWindow are discarded; other past-due ones fire immediately.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	stored, err := s.store.ListPendingReminders(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading pending reminders: %w", err)
	}

	cutoff := s.opts.Now().Add(-s.opts.RestoreWindow)
	restored := 0
	for _, sr := range stored {
		if sr.ReminderTime.Before(cutoff) {
			if err := s.store.DeleteReminder(ctx, sr.ID); err != nil {
				s.logger.Error().Err(err).Str("id", sr.ID).Msg("failed to discard expired reminder")
			}
			continue
		}
		if err := s.lifecycle.Begin(ctx, sr.ID); err != nil {
			continue
		}
		s.dispatch(sr.Reminder)
		restored++
	}

	s.logger.Info().Int("restored", restored).Int("stored", len(stored)).Msg("reminders restored")
	return restored, nil
}
