// Package permission tracks whether each user has granted notification
// permission and asks their open windows when it is still undecided.
package permission

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mealcue/internal/protocol"
	"mealcue/pkg/models"
)

type Store interface {
	GetPermission(ctx context.Context, userID string) (models.Permission, error)
	SetPermission(ctx context.Context, userID string, state models.Permission) error
	AddDeviceToken(ctx context.Context, userID, token string) error
}

// Poster delivers a message to every open window of a user and returns how
// many received it.
type Poster interface {
	PostToUser(ctx context.Context, userID string, msg any) int
}

type Gate struct {
	store  Store
	poster Poster
	logger zerolog.Logger
}

func NewGate(store Store, poster Poster, logger zerolog.Logger) *Gate {
	return &Gate{
		store:  store,
		poster: poster,
		logger: logger.With().Str("component", "permission").Logger(),
	}
}

// SetPoster wires the window hub after construction; the hub itself needs
// the gate.
func (g *Gate) SetPoster(p Poster) {
	g.poster = p
}

func (g *Gate) Check(ctx context.Context, userID string) (models.Permission, error) {
	state, err := g.store.GetPermission(ctx, userID)
	if err != nil {
		return models.PermissionDefault, fmt.Errorf("checking permission for %s: %w", userID, err)
	}
	return state, nil
}

// Allowed reports whether notifications may be shown; storage errors deny.
func (g *Gate) Allowed(ctx context.Context, userID string) bool {
	state, err := g.Check(ctx, userID)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", userID).Msg("permission lookup failed")
		return false
	}
	return state == models.PermissionGranted
}

// Request asks the user's windows for permission when it is still default.
func (g *Gate) Request(ctx context.Context, userID string) (models.Permission, error) {
	state, err := g.Check(ctx, userID)
	if err != nil {
		return state, err
	}
	if state != models.PermissionDefault || g.poster == nil {
		return state, nil
	}

	n := g.poster.PostToUser(ctx, userID, protocol.RequestPermission{Type: protocol.TypeRequestPermission})
	g.logger.Info().Str("user_id", userID).Int("windows", n).Msg("permission requested")
	return state, nil
}

// Record stores the state a page reported, and its FCM token if any.
func (g *Gate) Record(ctx context.Context, userID string, state models.Permission, deviceToken string) error {
	if !state.Valid() {
		return fmt.Errorf("invalid permission state %q", state)
	}
	if err := g.store.SetPermission(ctx, userID, state); err != nil {
		return err
	}
	if deviceToken != "" && state == models.PermissionGranted {
		if err := g.store.AddDeviceToken(ctx, userID, deviceToken); err != nil {
			return err
		}
	}

	g.logger.Info().Str("user_id", userID).Str("state", string(state)).Bool("token", deviceToken != "").Msg("permission recorded")
	return nil
}
