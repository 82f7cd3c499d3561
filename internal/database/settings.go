package database

import (
	"context"
	"fmt"

	"mealcue/pkg/models"
)

// SaveSettings replaces the stored schedule for settings.UserID.
func (db *DB) SaveSettings(ctx context.Context, settings models.ScheduleSettings) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM schedule_settings WHERE user_id = ?`), settings.UserID); err != nil {
		return fmt.Errorf("clearing settings: %w", err)
	}

	now := nowMillis()
	for meal, tod := range settings.Times {
		if _, err := tx.ExecContext(ctx, db.rebind(`
			INSERT INTO schedule_settings (user_id, meal_type, time_of_day, enabled, critical, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), settings.UserID, string(meal), tod, settings.Enabled[meal], settings.Critical[meal], now); err != nil {
			return fmt.Errorf("saving %s settings: %w", meal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settings: %w", err)
	}
	return nil
}

// GetSettings returns the stored schedule for a user, or ErrNotFound.
func (db *DB) GetSettings(ctx context.Context, userID string) (*models.ScheduleSettings, error) {
	all, err := db.querySettings(ctx, `WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	s, ok := all[userID]
	if !ok {
		return nil, fmt.Errorf("settings for %s: %w", userID, ErrNotFound)
	}
	return s, nil
}

// ListSettings returns every user's stored schedule.
func (db *DB) ListSettings(ctx context.Context) ([]models.ScheduleSettings, error) {
	all, err := db.querySettings(ctx, ``)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScheduleSettings, 0, len(all))
	for _, s := range all {
		out = append(out, *s)
	}
	return out, nil
}

func (db *DB) querySettings(ctx context.Context, where string, args ...any) (map[string]*models.ScheduleSettings, error) {
	rows, err := db.query(ctx, `
		SELECT user_id, meal_type, time_of_day, enabled, critical
		FROM schedule_settings `+where+` ORDER BY user_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.ScheduleSettings)
	for rows.Next() {
		var (
			userID, meal, tod string
			enabled, critical bool
		)
		if err := rows.Scan(&userID, &meal, &tod, &enabled, &critical); err != nil {
			return nil, fmt.Errorf("failed to scan settings: %w", err)
		}

		s, ok := out[userID]
		if !ok {
			s = &models.ScheduleSettings{
				UserID:   userID,
				Times:    make(map[models.MealType]string),
				Enabled:  make(map[models.MealType]bool),
				Critical: make(map[models.MealType]bool),
			}
			out[userID] = s
		}
		m := models.MealType(meal)
		s.Times[m] = tod
		s.Enabled[m] = enabled
		if critical {
			s.Critical[m] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings: %w", err)
	}
	return out, nil
}
