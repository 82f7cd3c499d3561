package router

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealcue/internal/protocol"
	"mealcue/pkg/models"
)

type fakeWindow struct {
	id, url string
	focusErr error

	mu      sync.Mutex
	focused int
	msgs    []any
}

func (w *fakeWindow) ID() string  { return w.id }
func (w *fakeWindow) URL() string { return w.url }

func (w *fakeWindow) Focus(context.Context) error {
	if w.focusErr != nil {
		return w.focusErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.focused++
	return nil
}

func (w *fakeWindow) PostMessage(_ context.Context, msg any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
	return nil
}

func (w *fakeWindow) messages() []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]any(nil), w.msgs...)
}

type fakeClients struct {
	windows []*fakeWindow
	opened  []string
}

func (c *fakeClients) MatchAll(string) []Window {
	out := make([]Window, 0, len(c.windows))
	for _, w := range c.windows {
		out = append(out, w)
	}
	return out
}

func (c *fakeClients) OpenWindow(_ context.Context, _ string, u string) error {
	c.opened = append(c.opened, u)
	return nil
}

type fakeCloser struct {
	closed []string
}

func (c *fakeCloser) Close(_ context.Context, _ string, tag string) {
	c.closed = append(c.closed, tag)
}

const rid = "u1-breakfast-action-20261019"

func newRouter(t *testing.T, clients *fakeClients) (*Router, *fakeCloser, *Tracker) {
	t.Helper()
	app, err := url.Parse("http://localhost:8080")
	require.NoError(t, err)

	tracker := NewTracker(nil, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, tracker.Begin(ctx, rid))
	require.NoError(t, tracker.Fire(ctx, rid))

	closer := &fakeCloser{}
	return New(clients, closer, tracker, app, zerolog.Nop()), closer, tracker
}

func TestActionClickPostsOncePerWindow(t *testing.T) {
	a := &fakeWindow{id: "a", url: "http://localhost:8080/"}
	b := &fakeWindow{id: "b", url: "http://localhost:8080/settings"}
	clients := &fakeClients{windows: []*fakeWindow{a, b}}
	r, closer, tracker := newRouter(t, clients)
	ctx := context.Background()

	n := r.Click(ctx, "u1", protocol.NotificationClick{
		Tag:    models.Tag(rid),
		Action: models.ActionEaten,
		Data:   models.NotificationData{MealType: models.Breakfast},
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{models.Tag(rid)}, closer.closed)

	for _, w := range []*fakeWindow{a, b} {
		msgs := w.messages()
		require.Len(t, msgs, 1)
		action, ok := msgs[0].(protocol.NotificationAction)
		require.True(t, ok)
		assert.Equal(t, models.ActionEaten, action.Action)
		assert.Equal(t, rid, action.ReminderID)
	}

	state, _ := tracker.State(ctx, rid)
	assert.Equal(t, models.StateActionTaken, state)

	// a second interaction on a settled reminder is ignored
	assert.Equal(t, 0, r.Click(ctx, "u1", protocol.NotificationClick{Tag: models.Tag(rid), Action: models.ActionSkip}))
	assert.Len(t, a.messages(), 1)
}

func TestBodyClickFocusesMatchingWindow(t *testing.T) {
	foreign := &fakeWindow{id: "x", url: "https://example.com/"}
	broken := &fakeWindow{id: "y", url: "http://localhost:8080/a", focusErr: errors.New("gone")}
	app := &fakeWindow{id: "z", url: "http://localhost:8080/b"}
	clients := &fakeClients{windows: []*fakeWindow{foreign, broken, app}}
	r, _, tracker := newRouter(t, clients)

	n := r.Click(context.Background(), "u1", protocol.NotificationClick{Tag: models.Tag(rid)})
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, foreign.focused)
	assert.Equal(t, 1, app.focused)
	assert.Empty(t, clients.opened)
	assert.Empty(t, app.messages())

	state, _ := tracker.State(context.Background(), rid)
	assert.Equal(t, models.StateClicked, state)
}

func TestBodyClickOpensWindowWhenNoneMatch(t *testing.T) {
	clients := &fakeClients{windows: []*fakeWindow{{id: "x", url: "https://example.com/"}}}
	r, _, _ := newRouter(t, clients)

	n := r.Click(context.Background(), "u1", protocol.NotificationClick{
		Tag:  models.Tag(rid),
		Data: models.NotificationData{URL: "http://localhost:8080/today"},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"http://localhost:8080/today"}, clients.opened)
}

func TestCloseNotifiesAsynchronously(t *testing.T) {
	w := &fakeWindow{id: "a", url: "http://localhost:8080/"}
	clients := &fakeClients{windows: []*fakeWindow{w}}
	r, closer, tracker := newRouter(t, clients)

	r.Close(context.Background(), "u1", protocol.NotificationClose{Tag: models.Tag(rid)})
	assert.Equal(t, []string{models.Tag(rid)}, closer.closed)

	assert.Eventually(t, func() bool { return len(w.messages()) == 1 }, time.Second, 5*time.Millisecond)
	dismissed, ok := w.messages()[0].(protocol.NotificationDismissed)
	require.True(t, ok)
	assert.Equal(t, rid, dismissed.ReminderID)

	state, _ := tracker.State(context.Background(), rid)
	assert.Equal(t, models.StateDismissed, state)
}

func TestUntrackedNotificationStillRouted(t *testing.T) {
	w := &fakeWindow{id: "a", url: "http://localhost:8080/"}
	r, _, _ := newRouter(t, &fakeClients{windows: []*fakeWindow{w}})

	n := r.Click(context.Background(), "u1", protocol.NotificationClick{Tag: "water", Action: models.ActionAcknowledge})
	assert.Equal(t, 1, n)
}

func TestForeignReminderIsNotSettled(t *testing.T) {
	w := &fakeWindow{id: "a", url: "http://localhost:8080/"}
	r, _, tracker := newRouter(t, &fakeClients{windows: []*fakeWindow{w}})
	ctx := context.Background()

	assert.Equal(t, 1, r.Click(ctx, "u2", protocol.NotificationClick{Tag: models.Tag(rid), Action: models.ActionEaten}))
	r.Close(ctx, "u1-breakfast", protocol.NotificationClose{Tag: models.Tag(rid)})

	state, _ := tracker.State(ctx, rid)
	assert.Equal(t, models.StateFired, state)

	// the owner can still act on it
	assert.Equal(t, 1, r.Click(ctx, "u1", protocol.NotificationClick{Tag: models.Tag(rid), Action: models.ActionEaten}))
	state, _ = tracker.State(ctx, rid)
	assert.Equal(t, models.StateActionTaken, state)
}
