// Package router handles what happens after a user interacts with a
// displayed notification.
package router

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mealcue/internal/protocol"
	"mealcue/pkg/models"
)

// Window is one open application page.
type Window interface {
	ID() string
	URL() string
	Focus(ctx context.Context) error
	PostMessage(ctx context.Context, msg any) error
}

// Clients enumerates a user's open windows and opens new ones.
type Clients interface {
	MatchAll(userID string) []Window
	OpenWindow(ctx context.Context, userID, url string) error
}

// Closer removes a displayed notification.
type Closer interface {
	Close(ctx context.Context, userID, tag string)
}

type Router struct {
	clients   Clients
	closer    Closer
	lifecycle *Tracker
	appURL    *url.URL
	now       func() time.Time
	logger    zerolog.Logger
}

func New(clients Clients, closer Closer, lifecycle *Tracker, appURL *url.URL, logger zerolog.Logger) *Router {
	return &Router{
		clients:   clients,
		closer:    closer,
		lifecycle: lifecycle,
		appURL:    appURL,
		now:       time.Now,
		logger:    logger.With().Str("component", "router").Logger(),
	}
}

// SetClients wires the window hub after construction.
func (r *Router) SetClients(c Clients) {
	r.clients = c
}

// Click handles a click on the notification body (empty action) or on one
// of its action buttons. It returns the number of windows messaged or
// focused/opened.
func (r *Router) Click(ctx context.Context, userID string, ev protocol.NotificationClick) int {
	tag, reminderID := resolve(ev.Tag, ev.Data.ReminderID)
	if ev.Data.ReminderID == "" {
		ev.Data.ReminderID = reminderID
	}

	if tag != "" {
		r.closer.Close(ctx, userID, tag)
	}

	to := models.StateActionTaken
	if ev.Action == models.ActionNone {
		to = models.StateClicked
	}
	if r.owned(userID, reminderID) {
		if err := r.lifecycle.Settle(ctx, reminderID, to); err != nil {
			r.logger.Warn().Err(err).Str("id", reminderID).Msg("ignoring repeated interaction")
			return 0
		}
	}

	if ev.Action != models.ActionNone {
		msg := protocol.NewNotificationAction(ev.Action, ev.Data, r.now())
		n := r.broadcast(ctx, userID, msg)
		r.logger.Info().Str("user_id", userID).Str("action", string(ev.Action)).Str("reminder_id", reminderID).Int("windows", n).Msg("notification action routed")
		return n
	}

	return r.focusOrOpen(ctx, userID, ev.Data.URL)
}

// Close handles a dismissal. Windows are told asynchronously.
func (r *Router) Close(ctx context.Context, userID string, ev protocol.NotificationClose) {
	tag, reminderID := resolve(ev.Tag, ev.Data.ReminderID)
	if tag != "" {
		r.closer.Close(ctx, userID, tag)
	}
	if reminderID == "" {
		return
	}
	if r.owned(userID, reminderID) {
		if err := r.lifecycle.Settle(ctx, reminderID, models.StateDismissed); err != nil {
			r.logger.Warn().Err(err).Str("id", reminderID).Msg("ignoring dismissal")
			return
		}
	}

	msg := protocol.NewNotificationDismissed(reminderID, r.now())
	go r.broadcast(context.WithoutCancel(ctx), userID, msg)
}

// owned reports whether userID may move reminderID's lifecycle. Ids the
// user does not own are still routed to their own windows, untracked.
func (r *Router) owned(userID, reminderID string) bool {
	if reminderID == "" {
		return false
	}
	if !models.OwnsReminder(userID, reminderID) {
		r.logger.Warn().Str("user_id", userID).Str("id", reminderID).Msg("interaction on foreign reminder id, not tracking")
		return false
	}
	return true
}

func (r *Router) broadcast(ctx context.Context, userID string, msg any) int {
	n := 0
	for _, w := range r.clients.MatchAll(userID) {
		if err := w.PostMessage(ctx, msg); err != nil {
			r.logger.Warn().Err(err).Str("window", w.ID()).Msg("post to window failed")
			continue
		}
		n++
	}
	return n
}

// focusOrOpen focuses the first window on the app origin; a new window is
// opened only when none exists.
func (r *Router) focusOrOpen(ctx context.Context, userID, target string) int {
	if target == "" {
		target = r.appURL.String()
	}

	for _, w := range r.clients.MatchAll(userID) {
		if !r.sameOrigin(w.URL()) {
			continue
		}
		if err := w.Focus(ctx); err != nil {
			r.logger.Warn().Err(err).Str("window", w.ID()).Msg("focus failed")
			continue
		}
		r.logger.Debug().Str("window", w.ID()).Msg("focused existing window")
		return 1
	}

	if err := r.clients.OpenWindow(ctx, userID, target); err != nil {
		r.logger.Error().Err(err).Str("user_id", userID).Msg("failed to open window")
		return 0
	}
	return 1
}

func (r *Router) sameOrigin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, r.appURL.Scheme) && strings.EqualFold(u.Host, r.appURL.Host)
}

// resolve fills whichever of tag and reminder id is missing.
func resolve(tag, reminderID string) (string, string) {
	if reminderID == "" {
		if id, ok := models.ReminderIDFromTag(tag); ok {
			reminderID = id
		}
	}
	if tag == "" && reminderID != "" {
		tag = models.Tag(reminderID)
	}
	return tag, reminderID
}
