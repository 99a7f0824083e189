// internal/notification/throttle.go

package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const dayLayout = "2006-01-02"

// DefaultMaxPerTypePerDay suppresses a second notification of the same type
// to the same user on the same day
const DefaultMaxPerTypePerDay = 1

// Reasons a notification was not allowed through
const (
	ReasonAllowed          = ""
	ReasonDisabled         = "disabled"
	ReasonQuietHours       = "quiet_hours"
	ReasonCategoryDisabled = "category_disabled"
	ReasonDuplicateType    = "duplicate_type"
	ReasonDailyCap         = "daily_cap"
)

// ThrottleStore keeps per user, per type, per day counters
type ThrottleStore interface {
	// Counts returns the count for notificationType and the sum over all types
	Counts(ctx context.Context, userID int64, notificationType, day string) (typeCount, total int, err error)
	Increment(ctx context.Context, userID int64, notificationType, day string) error
	// DeleteOlderThan removes counters for days strictly before day
	DeleteOlderThan(ctx context.Context, day string) (int64, error)
}

// Decision is the outcome of a throttle check
type Decision struct {
	Allowed bool
	Reason  string
}

// ThrottleGate decides whether a notification may be created right now
type ThrottleGate struct {
	prefs      PreferenceStore
	counters   ThrottleStore
	now        func() time.Time
	loc        *time.Location
	maxPerType int
}

// GateOption customises the ThrottleGate
type GateOption func(*ThrottleGate)

// WithGateClock overrides the clock used for quiet hours and day boundaries
func WithGateClock(now func() time.Time) GateOption {
	return func(g *ThrottleGate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithGateLocation sets the timezone that defines "today" and quiet hours
func WithGateLocation(loc *time.Location) GateOption {
	return func(g *ThrottleGate) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// WithMaxPerTypePerDay changes the duplicate-type limit
func WithMaxPerTypePerDay(n int) GateOption {
	return func(g *ThrottleGate) {
		if n > 0 {
			g.maxPerType = n
		}
	}
}

func NewThrottleGate(prefs PreferenceStore, counters ThrottleStore, opts ...GateOption) *ThrottleGate {
	g := &ThrottleGate{
		prefs:      prefs,
		counters:   counters,
		now:        time.Now,
		loc:        time.UTC,
		maxPerType: DefaultMaxPerTypePerDay,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check evaluates, in order: preference enabled, quiet hours (skipped for
// CRITICAL), category toggle, per-type daily limit, overall cap.
// A user without a preference row passes the preference checks but is
// still counted against the per-type limit and the default daily cap.
func (g *ThrottleGate) Check(ctx context.Context, userID int64, tmpl *NotificationTemplate) (Decision, error) {
	pref, err := g.prefs.GetPreference(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	now := g.now().In(g.loc)

	if pref == nil {
		def := DefaultPreference(userID)
		pref = &def
	} else {
		if !pref.Enabled {
			return Decision{Reason: ReasonDisabled}, nil
		}
		if tmpl.Priority != PriorityCritical && InQuietHours(pref.QuietHoursStart, pref.QuietHoursEnd, now) {
			return Decision{Reason: ReasonQuietHours}, nil
		}
		if !pref.CategoryEnabled(tmpl.Category) {
			return Decision{Reason: ReasonCategoryDisabled}, nil
		}
	}

	typeCount, total, err := g.counters.Counts(ctx, userID, tmpl.Type, now.Format(dayLayout))
	if err != nil {
		return Decision{}, fmt.Errorf("read throttle counters: %w", err)
	}
	if typeCount >= g.maxPerType {
		return Decision{Reason: ReasonDuplicateType}, nil
	}
	if pref.MaxDailyNotifications > 0 && total >= pref.MaxDailyNotifications {
		return Decision{Reason: ReasonDailyCap}, nil
	}

	return Decision{Allowed: true}, nil
}

// CanSend is Check reduced to a yes/no answer
func (g *ThrottleGate) CanSend(ctx context.Context, userID int64, tmpl *NotificationTemplate) (bool, error) {
	d, err := g.Check(ctx, userID, tmpl)
	return d.Allowed, err
}

// Record counts one issued notification against today's counters
func (g *ThrottleGate) Record(ctx context.Context, userID int64, notificationType string) error {
	return g.counters.Increment(ctx, userID, notificationType, g.Today())
}

// Purge drops counters older than the given number of days
func (g *ThrottleGate) Purge(ctx context.Context, days int) (int64, error) {
	cutoff := g.now().In(g.loc).AddDate(0, 0, -days).Format(dayLayout)
	return g.counters.DeleteOlderThan(ctx, cutoff)
}

// Today is the current day key in the gate's location
func (g *ThrottleGate) Today() string {
	return g.now().In(g.loc).Format(dayLayout)
}

// InQuietHours reports whether t falls inside the [start, end) time-of-day
// window. The window wraps midnight when start > end and is empty when
// start == end. Unparseable bounds mean no window.
func InQuietHours(start, end string, t time.Time) bool {
	s, ok := parseClock(start)
	if !ok {
		return false
	}
	e, ok := parseClock(end)
	if !ok {
		return false
	}
	if s == e {
		return false
	}

	cur := t.Hour()*3600 + t.Minute()*60 + t.Second()
	if s < e {
		return cur >= s && cur < e
	}
	return cur >= s || cur < e
}

// parseClock turns "HH:MM" or "HH:MM:SS" into seconds since midnight
func parseClock(v string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}

	limits := []int{23, 59, 59}
	units := []int{3600, 60, 1}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, false
		}
		total += n * units[i]
	}
	return total, true
}

// PostgresThrottleStore keeps counters in notification_throttle_log
type PostgresThrottleStore struct {
	db *sqlx.DB
}

func NewPostgresThrottleStore(db *sqlx.DB) *PostgresThrottleStore {
	return &PostgresThrottleStore{db: db}
}

// Counts returns today's count for one type and for all types
func (s *PostgresThrottleStore) Counts(ctx context.Context, userID int64, notificationType, day string) (int, int, error) {
	query := `
		SELECT
			COALESCE(SUM(count) FILTER (WHERE notification_type = $2), 0) AS type_count,
			COALESCE(SUM(count), 0) AS total_count
		FROM notification_throttle_log
		WHERE user_id = $1 AND notification_date = $3::date`

	var row struct {
		TypeCount  int `db:"type_count"`
		TotalCount int `db:"total_count"`
	}
	if err := s.db.GetContext(ctx, &row, query, userID, notificationType, day); err != nil {
		return 0, 0, err
	}
	return row.TypeCount, row.TotalCount, nil
}

// Increment bumps the counter for (user, type, day)
func (s *PostgresThrottleStore) Increment(ctx context.Context, userID int64, notificationType, day string) error {
	query := `
		INSERT INTO notification_throttle_log (user_id, notification_type, notification_date, count)
		VALUES ($1, $2, $3::date, 1)
		ON CONFLICT (user_id, notification_type, notification_date)
		DO UPDATE SET count = notification_throttle_log.count + 1`

	if _, err := s.db.ExecContext(ctx, query, userID, notificationType, day); err != nil {
		return fmt.Errorf("increment throttle counter: %w", err)
	}
	return nil
}

// DeleteOlderThan removes counters for days before day
func (s *PostgresThrottleStore) DeleteOlderThan(ctx context.Context, day string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM notification_throttle_log
		WHERE notification_date < $1::date`, day)
	if err != nil {
		return 0, fmt.Errorf("delete throttle counters: %w", err)
	}
	return result.RowsAffected()
}
