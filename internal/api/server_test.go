package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealcue/internal/database"
	"mealcue/internal/workers"
	"mealcue/pkg/models"
)

type fakeStore struct {
	pingErr  error
	settings map[string]*models.ScheduleSettings
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetSettings(_ context.Context, userID string) (*models.ScheduleSettings, error) {
	s, ok := f.settings[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ListReminders(_ context.Context, userID string) ([]database.StoredReminder, error) {
	return []database.StoredReminder{{
		Reminder: models.Reminder{ID: userID + "-lunch-action-20261019", UserID: userID, MealType: models.Lunch, ReminderType: models.Action},
		State:    models.StateFired,
	}}, nil
}

type fakeScheduler struct {
	got       *models.ScheduleSettings
	cancelled string
}

func (f *fakeScheduler) ScheduleDay(_ context.Context, s models.ScheduleSettings) ([]models.Reminder, error) {
	f.got = &s
	return []models.Reminder{{ID: s.UserID + "-breakfast-prep-20261019"}, {ID: s.UserID + "-breakfast-action-20261019"}}, nil
}

func (f *fakeScheduler) CancelUser(_ context.Context, userID string) int {
	f.cancelled = userID
	return 4
}

type fakeNotifications struct{}

func (fakeNotifications) List(userID string) []models.NotificationRecord {
	return []models.NotificationRecord{{UserID: userID, Title: "Breakfast Time"}}
}
func (fakeNotifications) Count() int { return 1 }

type fakeHub struct{}

func (fakeHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}
func (fakeHub) Stats() (int, int) { return 2, 3 }

type fixedLen int

func (n fixedLen) Len() int { return int(n) }

type fakeLogs []string

func (l fakeLogs) Lines() []string { return l }

type fakeWorkers struct{}

func (fakeWorkers) GetStats() workers.WorkerStats {
	return workers.WorkerStats{TotalWorkers: 2, WorkerNames: []string{"rollover", "prune"}}
}

type fakeCache struct{}

func (fakeCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("shell " + r.URL.Path))
}
func (fakeCache) Current() string { return "mealcue-static-abc" }

func newTestServer(store *fakeStore, sched *fakeScheduler) http.Handler {
	return NewServer(Deps{
		Store:         store,
		Scheduler:     sched,
		Notifications: fakeNotifications{},
		Hub:           fakeHub{},
		Pending:       fixedLen(5),
		Logs:          fakeLogs{"a", "b"},
		Workers:       fakeWorkers{},
		Cache:         fakeCache{},
	}, zerolog.Nop()).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	store := &fakeStore{}
	h := newTestServer(store, &fakeScheduler{})

	rec, body := do(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	store.pingErr = errors.New("down")
	rec, body = do(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestStatsAndLogs(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakeScheduler{})

	_, body := do(t, h, http.MethodGet, "/api/stats", "")
	assert.EqualValues(t, 2, body["connected_users"])
	assert.EqualValues(t, 3, body["open_windows"])
	assert.EqualValues(t, 5, body["pending_reminders"])
	assert.Equal(t, true, body["db_status"])
	assert.Equal(t, "mealcue-static-abc", body["cache"])

	_, body = do(t, h, http.MethodGet, "/api/logs", "")
	assert.Equal(t, []any{"a", "b"}, body["logs"])
}

func TestPutSchedule(t *testing.T) {
	sched := &fakeScheduler{}
	h := newTestServer(&fakeStore{}, sched)

	rec, body := do(t, h, http.MethodPut, "/api/users/u1/schedule",
		`{"times":{"breakfast":"08:00"},"enabled":{"breakfast":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, sched.got)
	assert.Equal(t, "u1", sched.got.UserID)
	assert.Equal(t, "08:00", sched.got.Times[models.Breakfast])
	assert.Len(t, body["reminders"], 2)

	rec, _ = do(t, h, http.MethodPut, "/api/users/u1/schedule", `{"times":{"brunch":"10:00"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPut, "/api/users/u1/schedule", `{"userId":"u2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPut, "/api/users/u1/schedule", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSchedule(t *testing.T) {
	store := &fakeStore{settings: map[string]*models.ScheduleSettings{
		"u1": {UserID: "u1", Times: map[models.MealType]string{models.Dinner: "19:00"}},
	}}
	h := newTestServer(store, &fakeScheduler{})

	rec, body := do(t, h, http.MethodGet, "/api/users/u1/schedule", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"dinner": "19:00"}, body["times"])

	rec, _ = do(t, h, http.MethodGet, "/api/users/u9/schedule", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemindersAndNotifications(t *testing.T) {
	sched := &fakeScheduler{}
	h := newTestServer(&fakeStore{}, sched)

	_, body := do(t, h, http.MethodGet, "/api/users/u1/reminders", "")
	list := body["reminders"].([]any)
	require.Len(t, list, 1)
	first := list[0].(map[string]any)
	assert.Equal(t, "fired", first["state"])
	assert.Equal(t, "lunch", first["mealType"])

	_, body = do(t, h, http.MethodDelete, "/api/users/u1/reminders", "")
	assert.EqualValues(t, 4, body["cancelled"])
	assert.Equal(t, "u1", sched.cancelled)

	_, body = do(t, h, http.MethodGet, "/api/users/u1/notifications", "")
	assert.Len(t, body["notifications"], 1)

	rec, _ := do(t, h, http.MethodGet, "/api/users/bad!id/reminders", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFallthroughToCache(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakeScheduler{})

	rec, _ := do(t, h, http.MethodGet, "/icons/icon-192x192.png", "")
	assert.Equal(t, "shell /icons/icon-192x192.png", rec.Body.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m 3s", formatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "1h 0m 9s", formatDuration(time.Hour+9*time.Second))
}
