// Package protocol defines the JSON messages exchanged between pages and the
// service. Each inbound kind decodes into its own struct and is validated
// before it reaches a handler.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mealcue/pkg/models"
)

type Type string

// Inbound (page → service).
const (
	TypeRegister             Type = "REGISTER"
	TypeScheduleNotification Type = "SCHEDULE_NOTIFICATION"
	TypeCancelNotification   Type = "CANCEL_NOTIFICATION"
	TypeGetNotifications     Type = "GET_NOTIFICATIONS"
	TypeRegisterReminders    Type = "REGISTER_REMINDERS"
	TypeClearAllReminders    Type = "CLEAR_ALL_REMINDERS"
	TypeTestPing             Type = "TEST_PING"
	TypePermissionState      Type = "PERMISSION_STATE"
	TypeNotificationClick    Type = "NOTIFICATION_CLICK"
	TypeNotificationClose    Type = "NOTIFICATION_CLOSE"
)

// Outbound (service → page).
const (
	TypeRegistered            Type = "REGISTERED"
	TypeNotificationAction    Type = "NOTIFICATION_ACTION"
	TypeNotificationDismissed Type = "NOTIFICATION_DISMISSED"
	TypeNotificationsResponse Type = "NOTIFICATIONS_RESPONSE"
	TypeTestPong              Type = "TEST_PONG"
	TypeShowNotification      Type = "SHOW_NOTIFICATION"
	TypeCloseNotification     Type = "CLOSE_NOTIFICATION"
	TypeFocusWindow           Type = "FOCUS_WINDOW"
	TypeRequestPermission     Type = "REQUEST_PERMISSION"
	TypeCacheActivated        Type = "CACHE_ACTIVATED"
	TypeError                 Type = "ERROR"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrInvalid     = errors.New("invalid message")
)

// Inbound is implemented by every page → service message.
type Inbound interface {
	Kind() Type
	Validate() error
}

type Register struct {
	UserID string `json:"userId"`
	URL    string `json:"url"`
}

// NotificationOptions mirrors the page's showNotification options.
type NotificationOptions struct {
	Title              string                      `json:"title"`
	Body               string                      `json:"body"`
	Icon               string                      `json:"icon,omitempty"`
	Badge              string                      `json:"badge,omitempty"`
	Tag                string                      `json:"tag"`
	Data               models.NotificationData     `json:"data"`
	RequireInteraction bool                        `json:"requireInteraction,omitempty"`
	Actions            []models.NotificationAction `json:"actions,omitempty"`
}

type ScheduleNotification struct {
	ID           string              `json:"id"`
	ScheduledFor int64               `json:"scheduledFor"`
	Notification NotificationOptions `json:"notification"`
}

// At converts ScheduledFor (unix milliseconds) to a time.
func (m ScheduleNotification) At() time.Time {
	return time.UnixMilli(m.ScheduledFor)
}

type CancelNotification struct {
	Tag string `json:"tag"`
}

type GetNotifications struct{}

// ReminderPayload is a reminder as sent by the page; ReminderTime is unix ms.
type ReminderPayload struct {
	ID           string              `json:"id"`
	MealType     models.MealType     `json:"mealType"`
	ReminderType models.ReminderType `json:"reminderType"`
	ReminderTime int64               `json:"reminderTime"`
	IsCritical   bool                `json:"isCritical"`
}

func (p ReminderPayload) Reminder(userID string) models.Reminder {
	return models.Reminder{
		ID:           p.ID,
		UserID:       userID,
		MealType:     p.MealType,
		ReminderType: p.ReminderType,
		ReminderTime: time.UnixMilli(p.ReminderTime),
		IsCritical:   p.IsCritical,
	}
}

type RegisterReminders struct {
	PrepReminder   *ReminderPayload `json:"prepReminder,omitempty"`
	ActionReminder *ReminderPayload `json:"actionReminder,omitempty"`
}

type ClearAllReminders struct{}

type TestPing struct{}

type PermissionState struct {
	Permission  models.Permission `json:"permission"`
	DeviceToken string            `json:"deviceToken,omitempty"`
}

// NotificationClick reports a click on a displayed notification; an empty
// Action is a click on the notification body.
type NotificationClick struct {
	Tag    string                  `json:"tag"`
	Action models.ActionID         `json:"action"`
	Data   models.NotificationData `json:"data"`
}

type NotificationClose struct {
	Tag  string                  `json:"tag"`
	Data models.NotificationData `json:"data"`
}

func (Register) Kind() Type             { return TypeRegister }
func (ScheduleNotification) Kind() Type { return TypeScheduleNotification }
func (CancelNotification) Kind() Type   { return TypeCancelNotification }
func (GetNotifications) Kind() Type     { return TypeGetNotifications }
func (RegisterReminders) Kind() Type    { return TypeRegisterReminders }
func (ClearAllReminders) Kind() Type    { return TypeClearAllReminders }
func (TestPing) Kind() Type             { return TypeTestPing }
func (PermissionState) Kind() Type      { return TypePermissionState }
func (NotificationClick) Kind() Type    { return TypeNotificationClick }
func (NotificationClose) Kind() Type    { return TypeNotificationClose }

func (m Register) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	if !models.ValidUserID(m.UserID) {
		return fmt.Errorf("%w: malformed userId", ErrInvalid)
	}
	return nil
}

func (m ScheduleNotification) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalid)
	case m.ScheduledFor <= 0:
		return fmt.Errorf("%w: scheduledFor is required", ErrInvalid)
	case m.Notification.Title == "":
		return fmt.Errorf("%w: notification.title is required", ErrInvalid)
	case m.Notification.Tag == "":
		return fmt.Errorf("%w: notification.tag is required", ErrInvalid)
	}
	return validateActions(m.Notification.Actions)
}

func (m CancelNotification) Validate() error {
	if m.Tag == "" {
		return fmt.Errorf("%w: tag is required", ErrInvalid)
	}
	return nil
}

func (GetNotifications) Validate() error  { return nil }
func (ClearAllReminders) Validate() error { return nil }
func (TestPing) Validate() error          { return nil }

func (p ReminderPayload) validate(want models.ReminderType) error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: reminder id is required", ErrInvalid)
	case !p.MealType.Valid():
		return fmt.Errorf("%w: unknown mealType %q", ErrInvalid, p.MealType)
	case p.ReminderType != want:
		return fmt.Errorf("%w: reminderType %q, want %q", ErrInvalid, p.ReminderType, want)
	case p.ReminderTime <= 0:
		return fmt.Errorf("%w: reminderTime is required", ErrInvalid)
	}
	return nil
}

func (m RegisterReminders) Validate() error {
	if m.PrepReminder == nil && m.ActionReminder == nil {
		return fmt.Errorf("%w: prepReminder or actionReminder is required", ErrInvalid)
	}
	if m.PrepReminder != nil {
		if err := m.PrepReminder.validate(models.Prep); err != nil {
			return err
		}
	}
	if m.ActionReminder != nil {
		if err := m.ActionReminder.validate(models.Action); err != nil {
			return err
		}
	}
	return nil
}

func (m PermissionState) Validate() error {
	if !m.Permission.Valid() {
		return fmt.Errorf("%w: unknown permission %q", ErrInvalid, m.Permission)
	}
	return nil
}

func (m NotificationClick) Validate() error {
	if m.Tag == "" && m.Data.ReminderID == "" {
		return fmt.Errorf("%w: tag or data.reminderId is required", ErrInvalid)
	}
	if !m.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalid, m.Action)
	}
	return nil
}

func (m NotificationClose) Validate() error {
	if m.Tag == "" && m.Data.ReminderID == "" {
		return fmt.Errorf("%w: tag or data.reminderId is required", ErrInvalid)
	}
	return nil
}

func validateActions(actions []models.NotificationAction) error {
	for _, a := range actions {
		if a.Action == models.ActionNone || !a.Action.Valid() {
			return fmt.Errorf("%w: unknown action %q", ErrInvalid, a.Action)
		}
	}
	return nil
}

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses raw into the struct for its type and validates it.
// Unknown types return ErrUnknownType; malformed ones ErrInvalid.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var msg Inbound
	switch env.Type {
	case TypeRegister:
		msg = &Register{}
	case TypeScheduleNotification:
		msg = &ScheduleNotification{}
	case TypeCancelNotification:
		msg = &CancelNotification{}
	case TypeGetNotifications:
		return GetNotifications{}, nil
	case TypeRegisterReminders:
		msg = &RegisterReminders{}
	case TypeClearAllReminders:
		return ClearAllReminders{}, nil
	case TypeTestPing:
		return TestPing{}, nil
	case TypePermissionState:
		msg = &PermissionState{}
	case TypeNotificationClick:
		msg = &NotificationClick{}
	case TypeNotificationClose:
		msg = &NotificationClose{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, env.Type, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return deref(msg), nil
}

// deref returns the value form so handlers can type-switch on values only.
func deref(m Inbound) Inbound {
	switch v := m.(type) {
	case *Register:
		return *v
	case *ScheduleNotification:
		return *v
	case *CancelNotification:
		return *v
	case *RegisterReminders:
		return *v
	case *PermissionState:
		return *v
	case *NotificationClick:
		return *v
	case *NotificationClose:
		return *v
	}
	return m
}
