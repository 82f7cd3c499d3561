package push

import (
	"fmt"
	"strings"
	"time"

	"mealcue/pkg/models"
)

// Options are the presentation constants applied to every reminder.
type Options struct {
	Icon     string
	Badge    string
	URL      string
	PrepLead time.Duration
}

// Compose derives the notification shown for a reminder firing at now.
func Compose(r models.Reminder, opts Options, now time.Time) models.NotificationRecord {
	meal := r.MealType.DisplayName()
	lower := strings.ToLower(meal)

	var title, body string
	var actions []models.NotificationAction

	switch r.ReminderType {
	case models.Prep:
		title = meal + " Coming Up"
		body = fmt.Sprintf("Your %s is in %s. Time to get ready.", lower, minutesLeft(r.ReminderTime.Add(opts.PrepLead), now, opts.PrepLead))
		actions = []models.NotificationAction{
			{Action: models.ActionAcknowledge, Title: "Got it"},
			{Action: models.ActionSnooze, Title: "Snooze"},
		}
	default:
		title = meal + " Time"
		body = fmt.Sprintf("It's time for your %s now.", lower)
		actions = []models.NotificationAction{
			{Action: models.ActionEaten, Title: "I've eaten"},
			{Action: models.ActionSnooze, Title: "Snooze"},
			{Action: models.ActionSkip, Title: "Skip"},
		}
	}

	if r.IsCritical {
		title = "Important: " + title
	}

	return models.NotificationRecord{
		UserID:             r.UserID,
		Title:              title,
		Body:               body,
		Icon:               opts.Icon,
		Badge:              opts.Badge,
		Tag:                models.Tag(r.ID),
		Actions:            actions,
		RequireInteraction: r.IsCritical,
		Data: models.NotificationData{
			ReminderID:   r.ID,
			MealType:     r.MealType,
			ReminderType: r.ReminderType,
			IsCritical:   r.IsCritical,
			URL:          opts.URL,
		},
	}
}

// minutesLeft formats the time until mealAt, rounded up and capped at lead.
// A prep reminder that fired late reports what is actually left.
func minutesLeft(mealAt, now time.Time, lead time.Duration) string {
	left := lead
	if !now.IsZero() && mealAt.Sub(now) < lead {
		left = mealAt.Sub(now)
	}
	n := int((left + time.Minute - 1) / time.Minute)
	if n <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}
