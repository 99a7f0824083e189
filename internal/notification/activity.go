// internal/notification/activity.go

package notification

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// GoalCandidate is a user's bite total for one day alongside their goal
type GoalCandidate struct {
	UserID     int64           `db:"user_id"`
	TotalBites int             `db:"total_bites"`
	DailyGoal  sql.NullFloat64 `db:"daily_goal"`
}

// Goal returns the user's daily goal, or fallback when none is set
func (c GoalCandidate) Goal(fallback int) int {
	if c.DailyGoal.Valid && c.DailyGoal.Float64 > 0 {
		return int(c.DailyGoal.Float64)
	}
	return fallback
}

// WeeklyStats aggregates daily_bite_breakdown over a window
type WeeklyStats struct {
	TotalBites  int64           `db:"total_bites"`
	AvgPace     sql.NullFloat64 `db:"avg_pace"`
	DaysTracked int             `db:"days_tracked"`
}

// ActivitySource supplies the meal and device data the trigger rules scan.
// Users without a preference row are treated as having the defaults.
type ActivitySource interface {
	DailyGoalCandidates(ctx context.Context, day string) ([]GoalCandidate, error)
	WeeklyDigestRecipients(ctx context.Context, weekday int) ([]int64, error)
	WeeklyStats(ctx context.Context, userID int64, from, to string) (*WeeklyStats, error)
	InactiveDeviceUsers(ctx context.Context, since time.Time) ([]int64, error)
}

// PostgresActivitySource reads the meal and device tables
type PostgresActivitySource struct {
	db *sqlx.DB
}

func NewPostgresActivitySource(db *sqlx.DB) *PostgresActivitySource {
	return &PostgresActivitySource{db: db}
}

// DailyGoalCandidates lists users with a bite total on day who still want
// achievement notifications
func (a *PostgresActivitySource) DailyGoalCandidates(ctx context.Context, day string) ([]GoalCandidate, error) {
	query := `
		SELECT dbb.user_id, dbb.total_bites,
			NULLIF(u.bite_goals->>'daily', '')::numeric AS daily_goal
		FROM daily_bite_breakdown dbb
		JOIN users u ON u.id = dbb.user_id
		LEFT JOIN user_notification_preferences unp ON unp.user_id = dbb.user_id
		WHERE dbb.date = $1::date
		  AND COALESCE(unp.enabled, TRUE)
		  AND COALESCE(unp.achievement_enabled, TRUE)
		ORDER BY dbb.user_id`

	var rows []GoalCandidate
	if err := a.db.SelectContext(ctx, &rows, query, day); err != nil {
		return nil, fmt.Errorf("daily goal candidates for %s: %w", day, err)
	}
	return rows, nil
}

// WeeklyDigestRecipients lists users whose digest day is weekday (0 = Sunday)
func (a *PostgresActivitySource) WeeklyDigestRecipients(ctx context.Context, weekday int) ([]int64, error) {
	query := `
		SELECT u.id
		FROM users u
		LEFT JOIN user_notification_preferences unp ON unp.user_id = u.id
		WHERE COALESCE(unp.enabled, TRUE)
		  AND COALESCE(unp.weekly_digest_enabled, TRUE)
		  AND COALESCE(unp.weekly_digest_day, $2) = $1
		ORDER BY u.id`

	var ids []int64
	if err := a.db.SelectContext(ctx, &ids, query, weekday, DefaultWeeklyDigestDay); err != nil {
		return nil, fmt.Errorf("weekly digest recipients for day %d: %w", weekday, err)
	}
	return ids, nil
}

// WeeklyStats sums a user's bites between from and to inclusive
func (a *PostgresActivitySource) WeeklyStats(ctx context.Context, userID int64, from, to string) (*WeeklyStats, error) {
	query := `
		SELECT
			COALESCE(SUM(total_bites), 0) AS total_bites,
			AVG(avg_pace_bpm) AS avg_pace,
			COUNT(*) AS days_tracked
		FROM daily_bite_breakdown
		WHERE user_id = $1
		  AND date >= $2::date
		  AND date <= $3::date`

	var stats WeeklyStats
	if err := a.db.GetContext(ctx, &stats, query, userID, from, to); err != nil {
		return nil, fmt.Errorf("weekly stats for user %d: %w", userID, err)
	}
	return &stats, nil
}

// InactiveDeviceUsers lists users whose most recent device sync is before
// since and who still want engagement notifications
func (a *PostgresActivitySource) InactiveDeviceUsers(ctx context.Context, since time.Time) ([]int64, error) {
	query := `
		SELECT d.user_id
		FROM devices d
		LEFT JOIN user_notification_preferences unp ON unp.user_id = d.user_id
		WHERE COALESCE(unp.enabled, TRUE)
		  AND COALESCE(unp.engagement_enabled, TRUE)
		GROUP BY d.user_id
		HAVING MAX(d.last_sync_at) < $1
		ORDER BY d.user_id`

	var ids []int64
	if err := a.db.SelectContext(ctx, &ids, query, since); err != nil {
		return nil, fmt.Errorf("inactive device users: %w", err)
	}
	return ids, nil
}
