package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type MealType string

const (
	Breakfast      MealType = "breakfast"
	Lunch          MealType = "lunch"
	Dinner         MealType = "dinner"
	MorningSnack   MealType = "morningSnack"
	AfternoonSnack MealType = "afternoonSnack"
)

// MealTypes lists every meal slot in day order.
var MealTypes = []MealType{Breakfast, MorningSnack, Lunch, AfternoonSnack, Dinner}

var mealNames = map[MealType]string{
	Breakfast:      "Breakfast",
	Lunch:          "Lunch",
	Dinner:         "Dinner",
	MorningSnack:   "Morning Snack",
	AfternoonSnack: "Afternoon Snack",
}

func (m MealType) Valid() bool {
	_, ok := mealNames[m]
	return ok
}

// DisplayName is the title-case label, e.g. "Morning Snack".
func (m MealType) DisplayName() string {
	if n, ok := mealNames[m]; ok {
		return n
	}
	return string(m)
}

type ReminderType string

const (
	Prep   ReminderType = "prep"
	Action ReminderType = "action"
)

func (r ReminderType) Valid() bool {
	return r == Prep || r == Action
}

type Reminder struct {
	ID           string       `json:"id"`
	UserID       string       `json:"userId"`
	MealType     MealType     `json:"mealType"`
	ReminderType ReminderType `json:"reminderType"`
	ReminderTime time.Time    `json:"reminderTime"`
	IsCritical   bool         `json:"isCritical"`
}

// ReminderID is the deterministic id for a (meal, type) slot on the day of mealAt.
func ReminderID(userID string, meal MealType, kind ReminderType, mealAt time.Time) string {
	return fmt.Sprintf("%s-%s-%s-%s", userID, meal, kind, mealAt.Format("20060102"))
}

// Tag is the notification deduplication key for a reminder id.
func Tag(reminderID string) string {
	return "meal-reminder-" + reminderID
}

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.@:-]{1,128}$`)

// ValidUserID reports whether id is an acceptable user id. It never contains
// the scope separator.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

const scopeSep = "/"

// ScopedReminderID namespaces a page-chosen reminder id under userID.
func ScopedReminderID(userID, id string) string {
	if strings.HasPrefix(id, userID+scopeSep) {
		return id
	}
	return userID + scopeSep + id
}

// IsGeneratedReminderID reports whether id has the ReminderID shape for userID.
func IsGeneratedReminderID(userID, id string) bool {
	rest, ok := strings.CutPrefix(id, userID+"-")
	if !ok {
		return false
	}
	parts := strings.Split(rest, "-")
	if len(parts) != 3 {
		return false
	}
	if !MealType(parts[0]).Valid() || !ReminderType(parts[1]).Valid() {
		return false
	}
	_, err := time.Parse("20060102", parts[2])
	return err == nil
}

// OwnsReminder reports whether reminder id belongs to userID, either as a
// generated id or a scoped page id.
func OwnsReminder(userID, id string) bool {
	return strings.HasPrefix(id, userID+scopeSep) || IsGeneratedReminderID(userID, id)
}

// ReminderIDFromTag reverses Tag; ok is false for foreign tags.
func ReminderIDFromTag(tag string) (string, bool) {
	id, ok := strings.CutPrefix(tag, "meal-reminder-")
	return id, ok && id != ""
}

// ScheduleSettings is the user's meal-time configuration.
type ScheduleSettings struct {
	UserID   string              `json:"userId"`
	Times    map[MealType]string `json:"times"`
	Enabled  map[MealType]bool   `json:"enabled"`
	Critical map[MealType]bool   `json:"critical,omitempty"`
}

// ActionID names a notification button; the empty id is a body click.
type ActionID string

const (
	ActionNone        ActionID = ""
	ActionEaten       ActionID = "eaten"
	ActionSnooze      ActionID = "snooze"
	ActionSkip        ActionID = "skip"
	ActionAcknowledge ActionID = "acknowledge"
	ActionEmergency   ActionID = "emergency"
)

func (a ActionID) Valid() bool {
	switch a {
	case ActionNone, ActionEaten, ActionSnooze, ActionSkip, ActionAcknowledge, ActionEmergency:
		return true
	}
	return false
}

type NotificationAction struct {
	Action ActionID `json:"action"`
	Title  string   `json:"title"`
	Icon   string   `json:"icon,omitempty"`
}

// NotificationData is the opaque payload carried by a displayed notification.
type NotificationData struct {
	ReminderID   string       `json:"reminderId,omitempty"`
	MealType     MealType     `json:"mealType,omitempty"`
	ReminderType ReminderType `json:"reminderType,omitempty"`
	IsCritical   bool         `json:"isCritical,omitempty"`
	URL          string       `json:"url,omitempty"`
}

// PendingNotification is a scheduled task that has not fired yet.
type PendingNotification struct {
	ID           string `json:"id"`
	Tag          string `json:"tag"`
	ScheduledFor int64  `json:"scheduledFor"`
}

type NotificationRecord struct {
	UserID             string               `json:"userId"`
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Icon               string               `json:"icon,omitempty"`
	Badge              string               `json:"badge,omitempty"`
	Tag                string               `json:"tag"`
	Actions            []NotificationAction `json:"actions,omitempty"`
	RequireInteraction bool                 `json:"requireInteraction,omitempty"`
	Data               NotificationData     `json:"data"`
	ShownAt            time.Time            `json:"shownAt"`
}

// State is a reminder's lifecycle position.
type State string

const (
	StateScheduled   State = "scheduled"
	StateFired       State = "fired"
	StateClicked     State = "clicked"
	StateActionTaken State = "action_taken"
	StateDismissed   State = "dismissed"
)

func (s State) Terminal() bool {
	return s == StateClicked || s == StateActionTaken || s == StateDismissed
}

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

func (p Permission) Valid() bool {
	return p == PermissionDefault || p == PermissionGranted || p == PermissionDenied
}
