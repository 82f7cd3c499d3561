package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mealcue/pkg/models"
)

func (db *DB) GetPermission(ctx context.Context, userID string) (models.Permission, error) {
	var state string
	err := db.queryRow(ctx, `SELECT state FROM notification_permissions WHERE user_id = ?`, userID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PermissionDefault, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get permission: %w", err)
	}
	return models.Permission(state), nil
}

func (db *DB) SetPermission(ctx context.Context, userID string, state models.Permission) error {
	_, err := db.exec(ctx, `
		INSERT INTO notification_permissions (user_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, userID, string(state), nowMillis())
	if err != nil {
		return fmt.Errorf("failed to set permission: %w", err)
	}
	return nil
}

// AddDeviceToken registers an FCM token; a token moves to the latest user.
func (db *DB) AddDeviceToken(ctx context.Context, userID, token string) error {
	_, err := db.exec(ctx, `
		INSERT INTO device_tokens (token, user_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET user_id = excluded.user_id
	`, token, userID, nowMillis())
	if err != nil {
		return fmt.Errorf("failed to add device token: %w", err)
	}
	return nil
}

func (db *DB) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.query(ctx, `SELECT token FROM device_tokens WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (db *DB) DeleteDeviceToken(ctx context.Context, token string) error {
	if _, err := db.exec(ctx, `DELETE FROM device_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete device token: %w", err)
	}
	return nil
}
