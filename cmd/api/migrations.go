// cmd/api/migrations.go
// Schema for the notification tables. Users, meals and devices belong to the
// wider backend and are only read.

package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ispoon/ispoon-backend/internal/common/logger"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS notification_templates (
		id SERIAL PRIMARY KEY,
		type VARCHAR(50) NOT NULL UNIQUE,
		category VARCHAR(20) NOT NULL CHECK (category IN ('health', 'achievement', 'engagement', 'system')),
		priority VARCHAR(10) NOT NULL DEFAULT 'MEDIUM' CHECK (priority IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
		title_template TEXT NOT NULL,
		body_template TEXT NOT NULL,
		action_type VARCHAR(50),
		default_action_data JSONB NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS user_notification_preferences (
		user_id BIGINT PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		quiet_hours_start TIME NOT NULL DEFAULT '22:00',
		quiet_hours_end TIME NOT NULL DEFAULT '07:00',
		health_alerts_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		achievement_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		engagement_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		system_alerts_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		max_daily_notifications INTEGER NOT NULL DEFAULT 10 CHECK (max_daily_notifications > 0),
		weekly_digest_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		weekly_digest_day SMALLINT NOT NULL DEFAULT 0 CHECK (weekly_digest_day BETWEEN 0 AND 6),
		weekly_digest_time TIME NOT NULL DEFAULT '09:00',
		push_token TEXT,
		push_token_updated_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS notification_history (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		template_id INTEGER NOT NULL REFERENCES notification_templates(id),
		notification_type VARCHAR(50) NOT NULL,
		priority VARCHAR(10) NOT NULL CHECK (priority IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		action_type VARCHAR(50),
		action_data JSONB NOT NULL DEFAULT '{}',
		delivery_method VARCHAR(20) NOT NULL DEFAULT 'push',
		trigger_source JSONB NOT NULL DEFAULT '{}',
		scheduled_for TIMESTAMPTZ,
		delivery_status VARCHAR(20) NOT NULL DEFAULT 'pending'
			CHECK (delivery_status IN ('pending', 'sent', 'delivered', 'failed')),
		sent_at TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ,
		error_message TEXT,
		opened_at TIMESTAMPTZ,
		action_taken_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_notification_history_user_created
		ON notification_history (user_id, created_at DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_notification_history_pending
		ON notification_history (scheduled_for, created_at)
		WHERE delivery_status = 'pending'`,

	`CREATE INDEX IF NOT EXISTS idx_notification_history_created
		ON notification_history (created_at)`,

	`CREATE TABLE IF NOT EXISTS notification_throttle_log (
		user_id BIGINT NOT NULL,
		notification_type VARCHAR(50) NOT NULL,
		notification_date DATE NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, notification_type, notification_date)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_notification_throttle_date
		ON notification_throttle_log (notification_date)`,
}

// runMigrations creates the notification tables if they don't exist
func runMigrations(ctx context.Context, db *sqlx.DB) error {
	log := logger.WithModule("migrations")

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Info("schema up to date")
	return nil
}
