// Package push turns fired reminders into notifications and delivers them
// to the notification tray and to the user's browsers via FCM web push.
package push

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mealcue/pkg/models"
)

// Surface is one place notifications are displayed.
type Surface interface {
	Name() string
	Show(ctx context.Context, rec models.NotificationRecord) error
	Close(ctx context.Context, userID, tag string) error
}

// Gate decides whether a user may be shown notifications.
type Gate interface {
	Allowed(ctx context.Context, userID string) bool
}

type Presenter struct {
	gate     Gate
	surfaces []Surface
	opts     Options
	now      func() time.Time
	logger   zerolog.Logger
}

func NewPresenter(gate Gate, opts Options, logger zerolog.Logger, surfaces ...Surface) *Presenter {
	return &Presenter{
		gate:     gate,
		surfaces: surfaces,
		opts:     opts,
		now:      time.Now,
		logger:   logger.With().Str("component", "presenter").Logger(),
	}
}

// Present composes and shows the notification for r. It reports whether at
// least one surface displayed it; failures are logged, never returned.
func (p *Presenter) Present(ctx context.Context, r models.Reminder) bool {
	return p.Show(ctx, Compose(r, p.opts, p.now()))
}

// Show displays rec on every surface.
func (p *Presenter) Show(ctx context.Context, rec models.NotificationRecord) bool {
	if p.gate != nil && !p.gate.Allowed(ctx, rec.UserID) {
		p.logger.Warn().Str("user_id", rec.UserID).Str("tag", rec.Tag).Msg("notification permission not granted, skipping")
		return false
	}

	if rec.Icon == "" {
		rec.Icon = p.opts.Icon
	}
	if rec.Badge == "" {
		rec.Badge = p.opts.Badge
	}
	if rec.Data.URL == "" {
		rec.Data.URL = p.opts.URL
	}
	rec.ShownAt = p.now()

	shown := false
	for _, s := range p.surfaces {
		if err := p.safeShow(ctx, s, rec); err != nil {
			p.logger.Error().Err(err).Str("surface", s.Name()).Str("tag", rec.Tag).Msg("failed to show notification")
			continue
		}
		shown = true
	}

	if shown {
		p.logger.Info().Str("user_id", rec.UserID).Str("tag", rec.Tag).Str("title", rec.Title).Msg("notification shown")
	}
	return shown
}

// Close removes a displayed notification from every surface.
func (p *Presenter) Close(ctx context.Context, userID, tag string) {
	for _, s := range p.surfaces {
		if err := s.Close(ctx, userID, tag); err != nil {
			p.logger.Error().Err(err).Str("surface", s.Name()).Str("tag", tag).Msg("failed to close notification")
		}
	}
}

func (p *Presenter) safeShow(ctx context.Context, s Surface, rec models.NotificationRecord) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("surface panicked: %v", v)
		}
	}()
	return s.Show(ctx, rec)
}
