package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mealcue/pkg/models"
)

var ErrNotFound = errors.New("not found")

// StoredReminder is a reminder row with its lifecycle state.
type StoredReminder struct {
	models.Reminder
	State     models.State
	UpdatedAt time.Time
}

// SaveReminders upserts reminders in the scheduled state. Rows that already
// progressed past scheduled keep their state.
func (db *DB) SaveReminders(ctx context.Context, reminders []models.Reminder) error {
	if len(reminders) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, db.rebind(`
		INSERT INTO reminders (id, user_id, meal_type, reminder_type, reminder_time, is_critical, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			reminder_time = excluded.reminder_time,
			is_critical   = excluded.is_critical,
			updated_at    = excluded.updated_at
		WHERE reminders.state = 'scheduled'
	`))
	if err != nil {
		return fmt.Errorf("preparing reminder upsert: %w", err)
	}
	defer stmt.Close()

	now := nowMillis()
	for _, r := range reminders {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.UserID, string(r.MealType), string(r.ReminderType),
			millis(r.ReminderTime), r.IsCritical, string(models.StateScheduled), now,
		); err != nil {
			return fmt.Errorf("saving reminder %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reminders: %w", err)
	}
	return nil
}

func (db *DB) GetReminder(ctx context.Context, id string) (*StoredReminder, error) {
	row := db.queryRow(ctx, `
		SELECT id, user_id, meal_type, reminder_type, reminder_time, is_critical, state, updated_at
		FROM reminders WHERE id = ?
	`, id)

	r, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reminder %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return r, nil
}

// ListReminders returns a user's reminders ordered by fire time.
func (db *DB) ListReminders(ctx context.Context, userID string) ([]StoredReminder, error) {
	rows, err := db.query(ctx, `
		SELECT id, user_id, meal_type, reminder_type, reminder_time, is_critical, state, updated_at
		FROM reminders WHERE user_id = ? ORDER BY reminder_time ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()

	return scanReminders(rows)
}

// ListPendingReminders returns every reminder still in the scheduled state.
func (db *DB) ListPendingReminders(ctx context.Context) ([]StoredReminder, error) {
	rows, err := db.query(ctx, `
		SELECT id, user_id, meal_type, reminder_type, reminder_time, is_critical, state, updated_at
		FROM reminders WHERE state = ? ORDER BY reminder_time ASC
	`, string(models.StateScheduled))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reminders: %w", err)
	}
	defer rows.Close()

	return scanReminders(rows)
}

func (db *DB) UpdateReminderState(ctx context.Context, id string, state models.State) error {
	result, err := db.exec(ctx, `UPDATE reminders SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), nowMillis(), id)
	if err != nil {
		return fmt.Errorf("failed to update reminder state: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) DeleteReminder(ctx context.Context, id string) error {
	if _, err := db.exec(ctx, `DELETE FROM reminders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}
	return nil
}

// DeleteUserReminders removes a user's scheduled reminders and returns the count.
func (db *DB) DeleteUserReminders(ctx context.Context, userID string) (int64, error) {
	result, err := db.exec(ctx, `DELETE FROM reminders WHERE user_id = ? AND state = ?`,
		userID, string(models.StateScheduled))
	if err != nil {
		return 0, fmt.Errorf("failed to delete user reminders: %w", err)
	}
	return result.RowsAffected()
}

// DeleteAllPendingReminders removes every scheduled reminder.
func (db *DB) DeleteAllPendingReminders(ctx context.Context) (int64, error) {
	result, err := db.exec(ctx, `DELETE FROM reminders WHERE state = ?`, string(models.StateScheduled))
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending reminders: %w", err)
	}
	return result.RowsAffected()
}

// PruneReminders deletes rows that left the scheduled state before cutoff.
func (db *DB) PruneReminders(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.exec(ctx, `DELETE FROM reminders WHERE state <> ? AND updated_at < ?`,
		string(models.StateScheduled), millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune reminders: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*StoredReminder, error) {
	var (
		r            StoredReminder
		mealType     string
		reminderType string
		state        string
		reminderAt   int64
		updatedAt    int64
	)

	if err := row.Scan(&r.ID, &r.UserID, &mealType, &reminderType, &reminderAt, &r.IsCritical, &state, &updatedAt); err != nil {
		return nil, err
	}

	r.MealType = models.MealType(mealType)
	r.ReminderType = models.ReminderType(reminderType)
	r.ReminderTime = fromMillis(reminderAt)
	r.State = models.State(state)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

func scanReminders(rows *sql.Rows) ([]StoredReminder, error) {
	var out []StoredReminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminders: %w", err)
	}
	return out, nil
}
