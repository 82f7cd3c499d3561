package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealcue/internal/database"
	"mealcue/internal/dispatch"
	"mealcue/internal/router"
	"mealcue/pkg/models"
)

var epoch = time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at   time.Time
	f    func()
	done bool
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) dispatch.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return &stopper{clock: c, t: t}
}

type stopper struct {
	clock *manualClock
	t     *manualTimer
}

func (s *stopper) Stop() bool {
	s.clock.mu.Lock()
	defer s.clock.mu.Unlock()
	was := !s.t.done
	s.t.done = true
	return was
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type memStore struct {
	mu        sync.Mutex
	settings  map[string]models.ScheduleSettings
	reminders map[string]database.StoredReminder
	failSave  bool
}

func newMemStore() *memStore {
	return &memStore{
		settings:  make(map[string]models.ScheduleSettings),
		reminders: make(map[string]database.StoredReminder),
	}
}

var errDown = errors.New("database down")

func (s *memStore) SaveSettings(_ context.Context, settings models.ScheduleSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errDown
	}
	s.settings[settings.UserID] = settings
	return nil
}

func (s *memStore) SaveReminders(_ context.Context, rs []models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errDown
	}
	for _, r := range rs {
		s.reminders[r.ID] = database.StoredReminder{Reminder: r, State: models.StateScheduled}
	}
	return nil
}

func (s *memStore) ListPendingReminders(context.Context) ([]database.StoredReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.StoredReminder
	for _, r := range s.reminders {
		if r.State == models.StateScheduled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) DeleteReminder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reminders, id)
	return nil
}

func (s *memStore) DeleteUserReminders(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.reminders {
		if r.UserID == userID {
			delete(s.reminders, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteAllPendingReminders(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.reminders))
	s.reminders = make(map[string]database.StoredReminder)
	return n, nil
}

func (s *memStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reminders[id]
	return ok
}

type fakePresenter struct {
	mu        sync.Mutex
	presented []models.Reminder
	shown     []models.NotificationRecord
}

func (p *fakePresenter) Present(_ context.Context, r models.Reminder) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presented = append(p.presented, r)
	return true
}

func (p *fakePresenter) Show(_ context.Context, rec models.NotificationRecord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, rec)
	return true
}

func (p *fakePresenter) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, r := range p.presented {
		out = append(out, r.ID)
	}
	return out
}

type fixture struct {
	clock      *manualClock
	store      *memStore
	dispatcher *dispatch.Dispatcher
	presenter  *fakePresenter
	tracker    *router.Tracker
	sched      *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:     &manualClock{now: epoch},
		store:     newMemStore(),
		presenter: &fakePresenter{},
		tracker:   router.NewTracker(nil, zerolog.Nop()),
	}
	f.dispatcher = dispatch.New(f.clock, zerolog.Nop())
	f.sched = New(f.store, f.dispatcher, f.presenter, f.tracker, Options{
		PrepLead:      30 * time.Minute,
		RestoreWindow: 12 * time.Hour,
		Location:      time.UTC,
		Now:           f.clock.Now,
	}, zerolog.Nop())
	return f
}

func settingsFor(user string) models.ScheduleSettings {
	return models.ScheduleSettings{
		UserID: user,
		Times: map[models.MealType]string{
			models.Breakfast: "08:00",
			models.Lunch:     "12:30",
			models.Dinner:    "bogus",
		},
		Enabled: map[models.MealType]bool{
			models.Breakfast: true,
			models.Lunch:     true,
			models.Dinner:    true,
		},
		Critical: map[models.MealType]bool{models.Lunch: true},
	}
}

func TestBuildDay(t *testing.T) {
	f := newFixture(t)

	reminders, errs := f.sched.BuildDay(settingsFor("u1"), epoch)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrInvalidTime)

	require.Len(t, reminders, 4)
	assert.Equal(t, "u1-breakfast-prep-20261019", reminders[0].ID)
	assert.Equal(t, time.Date(2026, 10, 19, 7, 30, 0, 0, time.UTC), reminders[0].ReminderTime)
	assert.Equal(t, "u1-breakfast-action-20261019", reminders[1].ID)
	assert.Equal(t, time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC), reminders[1].ReminderTime)
	assert.True(t, reminders[3].IsCritical)
	assert.False(t, reminders[1].IsCritical)
}

func TestBuildDaySkipsDisabled(t *testing.T) {
	f := newFixture(t)
	s := settingsFor("u1")
	s.Enabled[models.Breakfast] = false
	s.Enabled[models.Dinner] = false

	reminders, errs := f.sched.BuildDay(s, epoch)
	assert.Empty(t, errs)
	require.Len(t, reminders, 2)
	assert.Equal(t, models.Lunch, reminders[0].MealType)
}

func TestScheduleDayDispatchesAndFires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	accepted, err := f.sched.ScheduleDay(ctx, settingsFor("u1"))
	require.NoError(t, err)
	assert.Len(t, accepted, 4)
	assert.Equal(t, 4, f.dispatcher.Len())
	assert.True(t, f.store.has("u1-lunch-action-20261019"))

	f.clock.Advance(31 * time.Minute)
	assert.Equal(t, []string{"u1-breakfast-prep-20261019"}, f.presenter.ids())

	state, ok := f.tracker.State(ctx, "u1-breakfast-prep-20261019")
	require.True(t, ok)
	assert.Equal(t, models.StateFired, state)
}

func TestPastPrepFiresImmediately(t *testing.T) {
	f := newFixture(t)
	s := models.ScheduleSettings{
		UserID:  "u1",
		Times:   map[models.MealType]string{models.Breakfast: "07:10"},
		Enabled: map[models.MealType]bool{models.Breakfast: true},
	}

	_, err := f.sched.ScheduleDay(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1-breakfast-prep-20261019"}, f.presenter.ids())
	assert.True(t, f.dispatcher.Has("u1-breakfast-action-20261019"))
}

func TestSubmitWithinThresholdFiresSynchronously(t *testing.T) {
	f := newFixture(t)
	r := models.Reminder{
		ID:           "u1-breakfast-action-20261019",
		UserID:       "u1",
		MealType:     models.Breakfast,
		ReminderType: models.Action,
		ReminderTime: epoch.Add(500 * time.Millisecond),
	}

	require.NoError(t, f.sched.Submit(context.Background(), r))
	assert.Equal(t, []string{r.ID}, f.presenter.ids())
	assert.Equal(t, 0, f.dispatcher.Len())

	// once fired, the same id cannot be scheduled again
	err := f.sched.Submit(context.Background(), r)
	assert.ErrorIs(t, err, router.ErrAlreadyFired)
	assert.Len(t, f.presenter.ids(), 1)
}

func TestPersistenceFailureStillSchedules(t *testing.T) {
	f := newFixture(t)
	f.store.failSave = true

	accepted, err := f.sched.ScheduleDay(context.Background(), settingsFor("u1"))
	require.NoError(t, err)
	assert.Len(t, accepted, 4)
	assert.Equal(t, 4, f.dispatcher.Len())
	assert.False(t, f.store.has("u1-breakfast-action-20261019"))
}

func TestRescheduleDropsDisabledSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := settingsFor("u1")

	_, err := f.sched.ScheduleDay(ctx, s)
	require.NoError(t, err)
	require.Equal(t, 4, f.dispatcher.Len())

	s.Enabled[models.Lunch] = false
	_, err = f.sched.ScheduleDay(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, 2, f.dispatcher.Len())
	assert.False(t, f.dispatcher.Has("u1-lunch-action-20261019"))
	assert.False(t, f.store.has("u1-lunch-action-20261019"))
}

func TestRescheduleKeepsPageReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := settingsFor("u1")

	_, err := f.sched.ScheduleDay(ctx, s)
	require.NoError(t, err)

	water := models.Reminder{
		ID:           models.ScopedReminderID("u1", "water-1"),
		UserID:       "u1",
		MealType:     models.MorningSnack,
		ReminderType: models.Action,
		ReminderTime: epoch.Add(3 * time.Hour),
	}
	require.NoError(t, f.sched.Submit(ctx, water))
	f.sched.SubmitNotification("u1", "n1", epoch.Add(3*time.Hour), models.NotificationRecord{
		Title: "Lunch prep",
		Tag:   models.Tag("u1-lunch-prep-custom"),
	})

	// an hourly rollover rerun
	_, err = f.sched.ScheduleDay(ctx, s)
	require.NoError(t, err)

	assert.True(t, f.dispatcher.Has(water.ID))
	assert.True(t, f.dispatcher.Has(notificationTaskID("u1", "n1")))
	assert.True(t, f.store.has(water.ID))

	f.clock.Advance(3 * time.Hour)
	assert.Contains(t, f.presenter.ids(), water.ID)
	require.Len(t, f.presenter.shown, 1)
	assert.Equal(t, "Lunch prep", f.presenter.shown[0].Title)
}

func TestPendingListsUserTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sched.ScheduleDay(ctx, settingsFor("u1"))
	require.NoError(t, err)
	_, err = f.sched.ScheduleDay(ctx, settingsFor("u2"))
	require.NoError(t, err)
	f.sched.SubmitNotification("u1", "n1", epoch.Add(45*time.Minute), models.NotificationRecord{Tag: "water"})

	pending := f.sched.Pending("u1")
	require.Len(t, pending, 5)
	assert.Equal(t, "u1-breakfast-prep-20261019", pending[0].ID)
	assert.Equal(t, epoch.Add(30*time.Minute).UnixMilli(), pending[0].ScheduledFor)
	assert.Equal(t, "n1", pending[1].ID)
	assert.Equal(t, "water", pending[1].Tag)
}

func TestScheduleDayRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.sched.ScheduleDay(context.Background(), models.ScheduleSettings{})
	assert.Error(t, err)
}

func TestCancelVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sched.ScheduleDay(ctx, settingsFor("u1"))
	require.NoError(t, err)
	_, err = f.sched.ScheduleDay(ctx, settingsFor("u2"))
	require.NoError(t, err)
	require.Equal(t, 8, f.dispatcher.Len())

	assert.True(t, f.sched.Cancel(ctx, "u1-breakfast-prep-20261019"))
	assert.False(t, f.store.has("u1-breakfast-prep-20261019"))

	assert.Equal(t, 1, f.sched.CancelTag(ctx, "u1", models.Tag("u1-breakfast-action-20261019")))
	assert.Equal(t, 0, f.sched.CancelTag(ctx, "u2", models.Tag("u1-lunch-action-20261019")))

	assert.Equal(t, 2, f.sched.CancelUser(ctx, "u1"))
	assert.Equal(t, 4, f.dispatcher.Len())

	assert.Equal(t, 4, f.sched.CancelAll(ctx))
	assert.Equal(t, 0, f.sched.CancelAll(ctx))

	f.clock.Advance(24 * time.Hour)
	assert.Empty(t, f.presenter.ids())
}

func TestSubmitNotification(t *testing.T) {
	f := newFixture(t)
	rec := models.NotificationRecord{Title: "Hydrate", Tag: "water"}

	f.sched.SubmitNotification("u1", "n1", epoch.Add(time.Hour), rec)
	assert.Equal(t, 1, f.dispatcher.Len())

	f.clock.Advance(time.Hour)
	require.Len(t, f.presenter.shown, 1)
	assert.Equal(t, "u1", f.presenter.shown[0].UserID)
	assert.Equal(t, "Hydrate", f.presenter.shown[0].Title)
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mk := func(id string, at time.Time) models.Reminder {
		return models.Reminder{ID: id, UserID: "u1", MealType: models.Lunch, ReminderType: models.Action, ReminderTime: at}
	}
	require.NoError(t, f.store.SaveReminders(ctx, []models.Reminder{
		mk("expired", epoch.Add(-13*time.Hour)),
		mk("overdue", epoch.Add(-time.Hour)),
		mk("future", epoch.Add(time.Hour)),
	}))

	n, err := f.sched.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.False(t, f.store.has("expired"))
	assert.Equal(t, []string{"overdue"}, f.presenter.ids())
	assert.True(t, f.dispatcher.Has("future"))
}
