package signaling

import (
	"context"
	"errors"
	"time"

	"mealcue/internal/protocol"
	"mealcue/pkg/models"
)

type Scheduler interface {
	Submit(ctx context.Context, r models.Reminder) error
	SubmitNotification(userID, id string, at time.Time, rec models.NotificationRecord)
	CancelTag(ctx context.Context, userID, tag string) int
	CancelUser(ctx context.Context, userID string) int
	Pending(userID string) []models.PendingNotification
}

// Notifications lists what is on screen.
type Notifications interface {
	List(userID string) []models.NotificationRecord
}

// Closer takes a displayed notification down on every surface.
type Closer interface {
	Close(ctx context.Context, userID, tag string)
}

type Gate interface {
	Request(ctx context.Context, userID string) (models.Permission, error)
	Record(ctx context.Context, userID string, state models.Permission, deviceToken string) error
}

type Router interface {
	Click(ctx context.Context, userID string, ev protocol.NotificationClick) int
	Close(ctx context.Context, userID string, ev protocol.NotificationClose)
}

type Services struct {
	Scheduler     Scheduler
	Notifications Notifications
	Closer        Closer
	Gate          Gate
	Router        Router
}

func (h *Hub) handleMessage(ctx context.Context, win *Window, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			h.logger.Warn().Err(err).Str("window", win.id).Msg("unknown message type")
			return
		}
		h.logger.Warn().Err(err).Str("window", win.id).Msg("rejected message")
		h.reply(ctx, win, protocol.NewError(err.Error()))
		return
	}

	if reg, ok := msg.(protocol.Register); ok {
		h.register(win, reg.UserID, reg.URL)
		h.logger.Info().Str("user_id", reg.UserID).Str("window", win.id).Msg("window registered")
		h.reply(ctx, win, protocol.Registered{Type: protocol.TypeRegistered, WindowID: win.id})
		if _, err := h.services.Gate.Request(ctx, reg.UserID); err != nil {
			h.logger.Error().Err(err).Str("user_id", reg.UserID).Msg("permission check failed")
		}
		return
	}

	userID := win.UserID()
	if userID == "" {
		h.reply(ctx, win, protocol.NewError("window not registered"))
		return
	}

	switch m := msg.(type) {
	case protocol.TestPing:
		h.reply(ctx, win, protocol.NewTestPong(time.Now()))

	case protocol.GetNotifications:
		h.reply(ctx, win, protocol.NotificationsResponse{
			Type:          protocol.TypeNotificationsResponse,
			Notifications: h.services.Notifications.List(userID),
			Pending:       h.services.Scheduler.Pending(userID),
		})

	case protocol.ScheduleNotification:
		h.services.Scheduler.SubmitNotification(userID, m.ID, m.At(), record(m.Notification))

	case protocol.CancelNotification:
		n := h.services.Scheduler.CancelTag(ctx, userID, m.Tag)
		h.services.Closer.Close(ctx, userID, m.Tag)
		h.logger.Debug().Str("user_id", userID).Str("tag", m.Tag).Int("cancelled", n).Msg("notification cancelled")

	case protocol.RegisterReminders:
		for _, p := range []*protocol.ReminderPayload{m.PrepReminder, m.ActionReminder} {
			if p == nil {
				continue
			}
			r := p.Reminder(userID)
			r.ID = models.ScopedReminderID(userID, r.ID)
			if err := h.services.Scheduler.Submit(ctx, r); err != nil {
				h.reply(ctx, win, protocol.NewError(err.Error()))
			}
		}

	case protocol.ClearAllReminders:
		n := h.services.Scheduler.CancelUser(ctx, userID)
		h.logger.Info().Str("user_id", userID).Int("cancelled", n).Msg("reminders cleared")

	case protocol.PermissionState:
		if err := h.services.Gate.Record(ctx, userID, m.Permission, m.DeviceToken); err != nil {
			h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to record permission")
			h.reply(ctx, win, protocol.NewError("failed to record permission"))
		}

	case protocol.NotificationClick:
		h.services.Router.Click(ctx, userID, m)

	case protocol.NotificationClose:
		h.services.Router.Close(ctx, userID, m)
	}
}

func (h *Hub) reply(ctx context.Context, win *Window, msg any) {
	if err := win.PostMessage(ctx, msg); err != nil {
		h.logger.Warn().Err(err).Str("window", win.id).Msg("reply failed")
	}
}

func record(o protocol.NotificationOptions) models.NotificationRecord {
	rec := models.NotificationRecord{
		Title:              o.Title,
		Body:               o.Body,
		Icon:               o.Icon,
		Badge:              o.Badge,
		Tag:                o.Tag,
		Actions:            o.Actions,
		RequireInteraction: o.RequireInteraction,
		Data:               o.Data,
	}
	if rec.Data.ReminderID == "" {
		if id, ok := models.ReminderIDFromTag(o.Tag); ok {
			rec.Data.ReminderID = id
		}
	}
	return rec
}
