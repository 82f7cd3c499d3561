package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migrations are applied in order; append only.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schedule_settings (
		user_id     TEXT    NOT NULL,
		meal_type   TEXT    NOT NULL,
		time_of_day TEXT    NOT NULL,
		enabled     BOOLEAN NOT NULL DEFAULT FALSE,
		critical    BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at  BIGINT  NOT NULL,
		PRIMARY KEY (user_id, meal_type)
	)`,
	`CREATE TABLE IF NOT EXISTS reminders (
		id            TEXT    PRIMARY KEY,
		user_id       TEXT    NOT NULL,
		meal_type     TEXT    NOT NULL,
		reminder_type TEXT    NOT NULL,
		reminder_time BIGINT  NOT NULL,
		is_critical   BOOLEAN NOT NULL DEFAULT FALSE,
		state         TEXT    NOT NULL DEFAULT 'scheduled',
		updated_at    BIGINT  NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_user ON reminders (user_id, reminder_time)`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_state ON reminders (state, updated_at)`,
	`CREATE TABLE IF NOT EXISTS notification_permissions (
		user_id    TEXT   PRIMARY KEY,
		state      TEXT   NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS device_tokens (
		token      TEXT   PRIMARY KEY,
		user_id    TEXT   NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_tokens_user ON device_tokens (user_id)`,
}

func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at BIGINT  NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for i, stmt := range migrations {
		version := i + 1

		var exists int
		if err := db.queryRow(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, db.rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`), version, nowMillis()); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}

		log.Debug().Int("version", version).Msg("migration applied")
	}

	return nil
}
