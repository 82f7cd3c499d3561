package push

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"mealcue/pkg/models"
)

var ErrNoDevices = errors.New("no registered devices")

// TokenStore resolves a user's FCM registration tokens.
type TokenStore interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
	DeleteDeviceToken(ctx context.Context, token string) error
}

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FirebaseService mirrors notifications to the user's browsers through FCM
// web push, using the same tag so the browser replaces instead of stacking.
type FirebaseService struct {
	client multicastSender
	tokens TokenStore
	logger zerolog.Logger
}

// NewFirebaseService initialises the Firebase app and its Messaging client.
func NewFirebaseService(ctx context.Context, credentialsPath string, tokens TokenStore, logger zerolog.Logger) (*FirebaseService, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Messaging client: %w", err)
	}

	return newFirebaseService(client, tokens, logger), nil
}

func newFirebaseService(client multicastSender, tokens TokenStore, logger zerolog.Logger) *FirebaseService {
	return &FirebaseService{
		client: client,
		tokens: tokens,
		logger: logger.With().Str("component", "fcm").Logger(),
	}
}

func (s *FirebaseService) Name() string { return "fcm" }

// Show sends rec as a web push notification to every device of rec.UserID.
func (s *FirebaseService) Show(ctx context.Context, rec models.NotificationRecord) error {
	actions := make([]*messaging.WebpushNotificationAction, 0, len(rec.Actions))
	for _, a := range rec.Actions {
		actions = append(actions, &messaging.WebpushNotificationAction{
			Action: string(a.Action),
			Title:  a.Title,
			Icon:   a.Icon,
		})
	}

	urgency := "normal"
	if rec.Data.IsCritical {
		urgency = "high"
	}

	msg := &messaging.MulticastMessage{
		Data: map[string]string{
			"type":         "meal_reminder",
			"tag":          rec.Tag,
			"reminderId":   rec.Data.ReminderID,
			"mealType":     string(rec.Data.MealType),
			"reminderType": string(rec.Data.ReminderType),
			"isCritical":   strconv.FormatBool(rec.Data.IsCritical),
			"timestamp":    strconv.FormatInt(time.Now().Unix(), 10),
		},
		Webpush: &messaging.WebpushConfig{
			Headers: map[string]string{"Urgency": urgency},
			Notification: &messaging.WebpushNotification{
				Title:              rec.Title,
				Body:               rec.Body,
				Icon:               rec.Icon,
				Badge:              rec.Badge,
				Tag:                rec.Tag,
				RequireInteraction: rec.RequireInteraction,
				Actions:            actions,
				Data:               rec.Data,
			},
		},
	}
	if rec.Data.URL != "" {
		msg.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: rec.Data.URL}
	}

	// Users without a registered browser still get the tray.
	if err := s.send(ctx, rec.UserID, msg); !errors.Is(err, ErrNoDevices) {
		return err
	}
	return nil
}

// Close asks the user's browsers to close the notification with tag.
func (s *FirebaseService) Close(ctx context.Context, userID, tag string) error {
	err := s.send(ctx, userID, &messaging.MulticastMessage{
		Data: map[string]string{"type": "close_notification", "tag": tag},
	})
	if errors.Is(err, ErrNoDevices) {
		return nil
	}
	return err
}

// OpenWindow asks the user's browsers to open url.
func (s *FirebaseService) OpenWindow(ctx context.Context, userID, url string) error {
	return s.send(ctx, userID, &messaging.MulticastMessage{
		Data: map[string]string{"type": "open_window", "url": url},
		Webpush: &messaging.WebpushConfig{
			FCMOptions: &messaging.WebpushFCMOptions{Link: url},
		},
	})
}

func (s *FirebaseService) send(ctx context.Context, userID string, msg *messaging.MulticastMessage) error {
	tokens, err := s.tokens.DeviceTokens(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNoDevices)
	}
	msg.Tokens = tokens

	resp, err := s.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return fmt.Errorf("error sending web push: %w", err)
	}

	for i, r := range resp.Responses {
		if r.Success || i >= len(tokens) {
			continue
		}
		if IsInvalidTokenError(r.Error) {
			if err := s.tokens.DeleteDeviceToken(ctx, tokens[i]); err != nil {
				s.logger.Error().Err(err).Msg("failed to prune device token")
			} else {
				s.logger.Info().Str("user_id", userID).Msg("pruned unregistered device token")
			}
			continue
		}
		s.logger.Warn().Err(r.Error).Str("user_id", userID).Msg("web push delivery failed")
	}

	if resp.SuccessCount == 0 {
		return fmt.Errorf("web push failed for all %d devices", len(tokens))
	}

	s.logger.Debug().Str("user_id", userID).Int("success", resp.SuccessCount).Int("failure", resp.FailureCount).Msg("web push sent")
	return nil
}

// IsInvalidTokenError reports whether FCM rejected the token itself.
func IsInvalidTokenError(err error) bool {
	if err == nil {
		return false
	}
	return messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsSenderIDMismatch(err)
}
