// internal/notification/repository.go

package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// TemplateStore resolves notification templates
type TemplateStore interface {
	// GetByType returns nil, nil when the type is unknown or inactive
	GetByType(ctx context.Context, notificationType string) (*NotificationTemplate, error)
	ListActive(ctx context.Context) ([]*NotificationTemplate, error)
	// CreateTemplate inserts a template unless its type already exists
	CreateTemplate(ctx context.Context, tmpl *NotificationTemplate) (bool, error)
}

// PreferenceStore holds per-user settings and the push token
type PreferenceStore interface {
	// GetPreference returns nil, nil when the user never wrote settings
	GetPreference(ctx context.Context, userID int64) (*Preference, error)
	UpsertPreference(ctx context.Context, userID int64, update PreferenceUpdate) (*Preference, error)
	SetPushToken(ctx context.Context, userID int64, token string) error
	// ClearPushToken removes token only if it is still the stored one
	ClearPushToken(ctx context.Context, userID int64, token string) (bool, error)
}

// LedgerStore is the durable record of notification instances
type LedgerStore interface {
	Insert(ctx context.Context, n *Notification) error
	// UpdateStatus applies a status transition; ErrInvalidTransition when the
	// row is missing or not in a state that allows it
	UpdateStatus(ctx context.Context, id int64, status DeliveryStatus, errMsg *string, at time.Time) error
	GetNotification(ctx context.Context, id int64) (*Notification, error)
	// Pending returns due pending rows. Rows inserted for immediate delivery
	// are skipped until they are older than grace, since Schedule is still
	// delivering them.
	Pending(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]*Notification, error)
	MarkOpened(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkActionTaken(ctx context.Context, id int64, at time.Time) (bool, error)
	History(ctx context.Context, userID int64, limit, offset int) ([]*Notification, error)
	// DeleteOlderThan purges non-pending rows created before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostgresRepository implements the template, preference and ledger stores
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const templateColumns = `
	id, type, category, priority, title_template, body_template,
	COALESCE(action_type, '') AS action_type, default_action_data,
	is_active, created_at, updated_at`

// GetByType retrieves the active template for a type
func (r *PostgresRepository) GetByType(ctx context.Context, notificationType string) (*NotificationTemplate, error) {
	var tmpl NotificationTemplate
	query := `SELECT ` + templateColumns + `
		FROM notification_templates
		WHERE type = $1 AND is_active = TRUE`

	err := r.db.GetContext(ctx, &tmpl, query, notificationType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", notificationType, err)
	}
	return &tmpl, nil
}

// ListActive returns active templates ordered by category then type
func (r *PostgresRepository) ListActive(ctx context.Context) ([]*NotificationTemplate, error) {
	query := `SELECT ` + templateColumns + `
		FROM notification_templates
		WHERE is_active = TRUE
		ORDER BY category, type`

	var templates []*NotificationTemplate
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// CreateTemplate inserts a template; existing types are left untouched
func (r *PostgresRepository) CreateTemplate(ctx context.Context, tmpl *NotificationTemplate) (bool, error) {
	query := `
		INSERT INTO notification_templates
			(type, category, priority, title_template, body_template, action_type, default_action_data, is_active)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		ON CONFLICT (type) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		tmpl.Type,
		tmpl.Category,
		tmpl.Priority,
		tmpl.TitleTemplate,
		tmpl.BodyTemplate,
		tmpl.ActionType,
		tmpl.DefaultActionData,
		tmpl.IsActive,
	).Scan(&tmpl.ID, &tmpl.CreatedAt, &tmpl.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create template %s: %w", tmpl.Type, err)
	}
	return true, nil
}

const preferenceColumns = `
	user_id, enabled,
	to_char(quiet_hours_start, 'HH24:MI') AS quiet_hours_start,
	to_char(quiet_hours_end, 'HH24:MI') AS quiet_hours_end,
	health_alerts_enabled, achievement_enabled, engagement_enabled, system_alerts_enabled,
	max_daily_notifications, weekly_digest_enabled, weekly_digest_day,
	to_char(weekly_digest_time, 'HH24:MI') AS weekly_digest_time,
	push_token, push_token_updated_at, created_at, updated_at`

// GetPreference retrieves a user's settings
func (r *PostgresRepository) GetPreference(ctx context.Context, userID int64) (*Preference, error) {
	var pref Preference
	query := `SELECT ` + preferenceColumns + `
		FROM user_notification_preferences
		WHERE user_id = $1`

	err := r.db.GetContext(ctx, &pref, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences for user %d: %w", userID, err)
	}
	return &pref, nil
}

// UpsertPreference applies a partial update over the stored row, or over
// the defaults when the user has none yet
func (r *PostgresRepository) UpsertPreference(ctx context.Context, userID int64, update PreferenceUpdate) (*Preference, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pref := DefaultPreference(userID)
	var current Preference
	err = tx.GetContext(ctx, &current, `SELECT `+preferenceColumns+`
		FROM user_notification_preferences
		WHERE user_id = $1
		FOR UPDATE`, userID)
	switch {
	case err == nil:
		pref = current
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("load preferences for user %d: %w", userID, err)
	}

	update.Apply(&pref)

	query := `
		INSERT INTO user_notification_preferences (
			user_id, enabled, quiet_hours_start, quiet_hours_end,
			health_alerts_enabled, achievement_enabled, engagement_enabled, system_alerts_enabled,
			max_daily_notifications, weekly_digest_enabled, weekly_digest_day, weekly_digest_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			health_alerts_enabled = EXCLUDED.health_alerts_enabled,
			achievement_enabled = EXCLUDED.achievement_enabled,
			engagement_enabled = EXCLUDED.engagement_enabled,
			system_alerts_enabled = EXCLUDED.system_alerts_enabled,
			max_daily_notifications = EXCLUDED.max_daily_notifications,
			weekly_digest_enabled = EXCLUDED.weekly_digest_enabled,
			weekly_digest_day = EXCLUDED.weekly_digest_day,
			weekly_digest_time = EXCLUDED.weekly_digest_time,
			updated_at = NOW()
		RETURNING ` + preferenceColumns

	var saved Preference
	err = tx.GetContext(ctx, &saved, query,
		userID,
		pref.Enabled,
		pref.QuietHoursStart,
		pref.QuietHoursEnd,
		pref.HealthAlertsEnabled,
		pref.AchievementEnabled,
		pref.EngagementEnabled,
		pref.SystemAlertsEnabled,
		pref.MaxDailyNotifications,
		pref.WeeklyDigestEnabled,
		pref.WeeklyDigestDay,
		pref.WeeklyDigestTime,
	)
	if err != nil {
		return nil, fmt.Errorf("save preferences for user %d: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &saved, nil
}

// SetPushToken stores the device token, creating a default row if needed
func (r *PostgresRepository) SetPushToken(ctx context.Context, userID int64, token string) error {
	query := `
		INSERT INTO user_notification_preferences (user_id, push_token, push_token_updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			push_token = EXCLUDED.push_token,
			push_token_updated_at = NOW(),
			updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, userID, token); err != nil {
		return fmt.Errorf("set push token for user %d: %w", userID, err)
	}
	return nil
}

// ClearPushToken nulls the token if it still matches the rejected one
func (r *PostgresRepository) ClearPushToken(ctx context.Context, userID int64, token string) (bool, error) {
	query := `
		UPDATE user_notification_preferences
		SET push_token = NULL, push_token_updated_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND push_token = $2`

	result, err := r.db.ExecContext(ctx, query, userID, token)
	if err != nil {
		return false, fmt.Errorf("clear push token for user %d: %w", userID, err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

const notificationColumns = `
	id, user_id, template_id, notification_type, priority, title, body,
	COALESCE(action_type, '') AS action_type, action_data, delivery_method,
	trigger_source, scheduled_for, delivery_status, sent_at, delivered_at,
	error_message, opened_at, action_taken_at, created_at`

// Insert writes a new ledger row and fills in its id and created_at
func (r *PostgresRepository) Insert(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notification_history (
			user_id, template_id, notification_type, priority, title, body,
			action_type, action_data, delivery_method, trigger_source,
			scheduled_for, delivery_status
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		n.UserID,
		n.TemplateID,
		n.Type,
		n.Priority,
		n.Title,
		n.Body,
		n.ActionType,
		n.ActionData,
		n.DeliveryMethod,
		n.TriggerSource,
		n.ScheduledFor,
		n.DeliveryStatus,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// UpdateStatus moves a row to status if its current state allows it
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id int64, status DeliveryStatus, errMsg *string, at time.Time) error {
	var from []string
	for _, s := range []DeliveryStatus{StatusPending, StatusSent} {
		if s.CanTransition(status) {
			from = append(from, string(s))
		}
	}
	if len(from) == 0 {
		return fmt.Errorf("%w: to %s", ErrInvalidTransition, status)
	}

	query := `
		UPDATE notification_history
		SET delivery_status = $2,
			error_message = $3,
			sent_at = CASE WHEN $2 = 'sent' THEN $4 ELSE sent_at END,
			delivered_at = CASE WHEN $2 = 'delivered' THEN $4 ELSE delivered_at END
		WHERE id = $1 AND delivery_status = ANY($5)`

	result, err := r.db.ExecContext(ctx, query, id, string(status), errMsg, at, pq.Array(from))
	if err != nil {
		return fmt.Errorf("update notification %d status: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: notification %d to %s", ErrInvalidTransition, id, status)
	}
	return nil
}

// GetNotification retrieves a ledger row by ID
func (r *PostgresRepository) GetNotification(ctx context.Context, id int64) (*Notification, error) {
	var n Notification
	query := `SELECT ` + notificationColumns + `
		FROM notification_history
		WHERE id = $1`

	err := r.db.GetContext(ctx, &n, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %d: %w", id, err)
	}
	return &n, nil
}

// Pending returns due pending rows, highest priority first, then oldest first
func (r *PostgresRepository) Pending(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notification_history
		WHERE delivery_status = 'pending'
		  AND (scheduled_for IS NULL OR scheduled_for <= $1)
		  AND (created_at <= $3 OR scheduled_for >= created_at + make_interval(secs => $4))
		ORDER BY
			CASE priority
				WHEN 'CRITICAL' THEN 4
				WHEN 'HIGH' THEN 3
				WHEN 'MEDIUM' THEN 2
				WHEN 'LOW' THEN 1
				ELSE 0
			END DESC,
			created_at ASC,
			id ASC
		LIMIT $2`

	var rows []*Notification
	if err := r.db.SelectContext(ctx, &rows, query, now, limit, now.Add(-grace), grace.Seconds()); err != nil {
		return nil, fmt.Errorf("select pending notifications: %w", err)
	}
	return rows, nil
}

// MarkOpened records the first time the client opened the notification
func (r *PostgresRepository) MarkOpened(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.touch(ctx, "opened_at", id, at)
}

// MarkActionTaken records the first time the client acted on the notification
func (r *PostgresRepository) MarkActionTaken(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.touch(ctx, "action_taken_at", id, at)
}

func (r *PostgresRepository) touch(ctx context.Context, column string, id int64, at time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE notification_history
		SET %[1]s = COALESCE(%[1]s, $2)
		WHERE id = $1`, column)

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("set %s on notification %d: %w", column, id, err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// History returns a user's notifications, newest first
func (r *PostgresRepository) History(ctx context.Context, userID int64, limit, offset int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notification_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows := []*Notification{}
	if err := r.db.SelectContext(ctx, &rows, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("notification history for user %d: %w", userID, err)
	}
	return rows, nil
}

// DeleteOlderThan purges settled rows created before cutoff
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM notification_history
		WHERE created_at < $1 AND delivery_status <> 'pending'`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old notifications: %w", err)
	}
	return result.RowsAffected()
}
