package protocol

import (
	"time"

	"mealcue/pkg/models"
)

type Registered struct {
	Type     Type   `json:"type"`
	WindowID string `json:"windowId"`
}

type NotificationAction struct {
	Type         Type                `json:"type"`
	Action       models.ActionID     `json:"action"`
	ReminderID   string              `json:"reminderId"`
	MealType     models.MealType     `json:"mealType"`
	ReminderType models.ReminderType `json:"reminderType"`
	Timestamp    int64               `json:"timestamp"`
}

type NotificationDismissed struct {
	Type       Type   `json:"type"`
	ReminderID string `json:"reminderId"`
	Timestamp  int64  `json:"timestamp"`
}

// NotificationsResponse lists the user's displayed notifications and the
// scheduled ones that have not fired yet.
type NotificationsResponse struct {
	Type          Type                         `json:"type"`
	Notifications []models.NotificationRecord  `json:"notifications"`
	Pending       []models.PendingNotification `json:"pending"`
}

type TestPong struct {
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp"`
}

type ShowNotification struct {
	Type         Type                      `json:"type"`
	Notification models.NotificationRecord `json:"notification"`
}

type CloseNotification struct {
	Type Type   `json:"type"`
	Tag  string `json:"tag"`
}

type FocusWindow struct {
	Type Type   `json:"type"`
	URL  string `json:"url"`
}

type RequestPermission struct {
	Type Type `json:"type"`
}

type CacheActivated struct {
	Type  Type   `json:"type"`
	Cache string `json:"cache"`
}

type Error struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

func NewNotificationAction(action models.ActionID, data models.NotificationData, at time.Time) NotificationAction {
	return NotificationAction{
		Type:         TypeNotificationAction,
		Action:       action,
		ReminderID:   data.ReminderID,
		MealType:     data.MealType,
		ReminderType: data.ReminderType,
		Timestamp:    at.UnixMilli(),
	}
}

func NewNotificationDismissed(reminderID string, at time.Time) NotificationDismissed {
	return NotificationDismissed{Type: TypeNotificationDismissed, ReminderID: reminderID, Timestamp: at.UnixMilli()}
}

func NewTestPong(at time.Time) TestPong {
	return TestPong{Type: TypeTestPong, Timestamp: at.UnixMilli()}
}

func NewError(msg string) Error {
	return Error{Type: TypeError, Message: msg}
}
