// internal/notification/models.go

package notification

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders notifications for delivery. LOW < MEDIUM < HIGH < CRITICAL.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Rank returns the ordinal of the priority; unknown values sort lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Category groups templates for the per-category preference toggles
type Category string

const (
	CategoryHealth      Category = "health"
	CategoryAchievement Category = "achievement"
	CategoryEngagement  Category = "engagement"
	CategorySystem      Category = "system"
)

// DeliveryStatus of a ledger row
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// CanTransition reports whether a row may move from s to next.
// pending -> sent|failed, sent -> delivered. Nothing else.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered
	default:
		return false
	}
}

// DeliveryMethodPush is the only delivery method currently wired
const DeliveryMethodPush = "push"

// Notification types produced by the trigger rules and the meal pipeline
const (
	TypeDailyGoalReached = "daily_goal_reached"
	TypeWeeklySummary    = "weekly_summary"
	TypeDeviceInactive   = "device_inactive"
	TypeFastEatingAlert  = "fast_eating_alert"
	TypeSystemAlert      = "system_alert"
	TypeLowBattery       = "low_battery"
	TypeTemperatureAlert = "temperature_alert"
)

// NotificationData is an opaque JSON object stored in a JSONB column
type NotificationData map[string]interface{}

// Scan implements sql.Scanner interface
func (nd *NotificationData) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*nd = NotificationData{}
		return nil
	case []byte:
		return json.Unmarshal(v, nd)
	case string:
		return json.Unmarshal([]byte(v), nd)
	default:
		return fmt.Errorf("notification data: unsupported type %T", value)
	}
}

// Value implements driver.Valuer interface
func (nd NotificationData) Value() (driver.Value, error) {
	if nd == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(nd)
}

// Merge returns a copy of nd overlaid with other. Keys in other win.
func (nd NotificationData) Merge(other map[string]interface{}) NotificationData {
	out := make(NotificationData, len(nd)+len(other))
	for k, v := range nd {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// NotificationTemplate is a named title/body format plus routing metadata
type NotificationTemplate struct {
	ID                int64            `json:"id" db:"id"`
	Type              string           `json:"type" db:"type"`
	Category          Category         `json:"category" db:"category"`
	Priority          Priority         `json:"priority" db:"priority"`
	TitleTemplate     string           `json:"title_template" db:"title_template"`
	BodyTemplate      string           `json:"body_template" db:"body_template"`
	ActionType        string           `json:"action_type" db:"action_type"`
	DefaultActionData NotificationData `json:"default_action_data" db:"default_action_data"`
	IsActive          bool             `json:"is_active" db:"is_active"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// TemplateSummary is the settings-screen view of a template
type TemplateSummary struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
}

// Preference holds a user's notification settings. One row per user.
type Preference struct {
	UserID                int64      `json:"user_id" db:"user_id"`
	Enabled               bool       `json:"enabled" db:"enabled"`
	QuietHoursStart       string     `json:"quiet_hours_start" db:"quiet_hours_start"`
	QuietHoursEnd         string     `json:"quiet_hours_end" db:"quiet_hours_end"`
	HealthAlertsEnabled   bool       `json:"health_alerts_enabled" db:"health_alerts_enabled"`
	AchievementEnabled    bool       `json:"achievement_enabled" db:"achievement_enabled"`
	EngagementEnabled     bool       `json:"engagement_enabled" db:"engagement_enabled"`
	SystemAlertsEnabled   bool       `json:"system_alerts_enabled" db:"system_alerts_enabled"`
	MaxDailyNotifications int        `json:"max_daily_notifications" db:"max_daily_notifications"`
	WeeklyDigestEnabled   bool       `json:"weekly_digest_enabled" db:"weekly_digest_enabled"`
	WeeklyDigestDay       int        `json:"weekly_digest_day" db:"weekly_digest_day"`
	WeeklyDigestTime      string     `json:"weekly_digest_time" db:"weekly_digest_time"`
	PushToken             *string    `json:"-" db:"push_token"`
	PushTokenUpdatedAt    *time.Time `json:"push_token_updated_at,omitempty" db:"push_token_updated_at"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// Preference defaults applied when a row is first created
const (
	DefaultQuietHoursStart       = "22:00"
	DefaultQuietHoursEnd         = "07:00"
	DefaultMaxDailyNotifications = 10
	DefaultWeeklyDigestDay       = 0 // Sunday
	DefaultWeeklyDigestTime      = "09:00"
)

// DefaultPreference returns the settings a user gets before changing anything
func DefaultPreference(userID int64) Preference {
	return Preference{
		UserID:                userID,
		Enabled:               true,
		QuietHoursStart:       DefaultQuietHoursStart,
		QuietHoursEnd:         DefaultQuietHoursEnd,
		HealthAlertsEnabled:   true,
		AchievementEnabled:    true,
		EngagementEnabled:     true,
		SystemAlertsEnabled:   true,
		MaxDailyNotifications: DefaultMaxDailyNotifications,
		WeeklyDigestEnabled:   true,
		WeeklyDigestDay:       DefaultWeeklyDigestDay,
		WeeklyDigestTime:      DefaultWeeklyDigestTime,
	}
}

// HasPushToken reports whether a delivery token is registered
func (p *Preference) HasPushToken() bool {
	return p != nil && p.PushToken != nil && *p.PushToken != ""
}

// CategoryEnabled looks up the toggle for a template category.
// Unknown categories are treated as enabled.
func (p *Preference) CategoryEnabled(c Category) bool {
	switch c {
	case CategoryHealth:
		return p.HealthAlertsEnabled
	case CategoryAchievement:
		return p.AchievementEnabled
	case CategoryEngagement:
		return p.EngagementEnabled
	case CategorySystem:
		return p.SystemAlertsEnabled
	default:
		return true
	}
}

// PreferenceUpdate is a partial preference write. Nil fields are left alone.
type PreferenceUpdate struct {
	Enabled               *bool   `json:"enabled"`
	QuietHoursStart       *string `json:"quiet_hours_start" validate:"omitempty,datetime=15:04"`
	QuietHoursEnd         *string `json:"quiet_hours_end" validate:"omitempty,datetime=15:04"`
	HealthAlertsEnabled   *bool   `json:"health_alerts_enabled"`
	AchievementEnabled    *bool   `json:"achievement_enabled"`
	EngagementEnabled     *bool   `json:"engagement_enabled"`
	SystemAlertsEnabled   *bool   `json:"system_alerts_enabled"`
	MaxDailyNotifications *int    `json:"max_daily_notifications" validate:"omitempty,gte=1,lte=100"`
	WeeklyDigestEnabled   *bool   `json:"weekly_digest_enabled"`
	WeeklyDigestDay       *int    `json:"weekly_digest_day" validate:"omitempty,gte=0,lte=6"`
	WeeklyDigestTime      *string `json:"weekly_digest_time" validate:"omitempty,datetime=15:04"`
}

// Apply copies the non-nil fields onto p
func (u PreferenceUpdate) Apply(p *Preference) {
	if u.Enabled != nil {
		p.Enabled = *u.Enabled
	}
	if u.QuietHoursStart != nil {
		p.QuietHoursStart = *u.QuietHoursStart
	}
	if u.QuietHoursEnd != nil {
		p.QuietHoursEnd = *u.QuietHoursEnd
	}
	if u.HealthAlertsEnabled != nil {
		p.HealthAlertsEnabled = *u.HealthAlertsEnabled
	}
	if u.AchievementEnabled != nil {
		p.AchievementEnabled = *u.AchievementEnabled
	}
	if u.EngagementEnabled != nil {
		p.EngagementEnabled = *u.EngagementEnabled
	}
	if u.SystemAlertsEnabled != nil {
		p.SystemAlertsEnabled = *u.SystemAlertsEnabled
	}
	if u.MaxDailyNotifications != nil {
		p.MaxDailyNotifications = *u.MaxDailyNotifications
	}
	if u.WeeklyDigestEnabled != nil {
		p.WeeklyDigestEnabled = *u.WeeklyDigestEnabled
	}
	if u.WeeklyDigestDay != nil {
		p.WeeklyDigestDay = *u.WeeklyDigestDay
	}
	if u.WeeklyDigestTime != nil {
		p.WeeklyDigestTime = *u.WeeklyDigestTime
	}
}

// Notification is one ledger row
type Notification struct {
	ID             int64            `json:"id" db:"id"`
	UserID         int64            `json:"user_id" db:"user_id"`
	TemplateID     int64            `json:"template_id" db:"template_id"`
	Type           string           `json:"type" db:"notification_type"`
	Priority       Priority         `json:"priority" db:"priority"`
	Title          string           `json:"title" db:"title"`
	Body           string           `json:"body" db:"body"`
	ActionType     string           `json:"action_type" db:"action_type"`
	ActionData     NotificationData `json:"action_data" db:"action_data"`
	DeliveryMethod string           `json:"delivery_method" db:"delivery_method"`
	TriggerSource  NotificationData `json:"trigger_source" db:"trigger_source"`
	ScheduledFor   *time.Time       `json:"scheduled_for,omitempty" db:"scheduled_for"`
	DeliveryStatus DeliveryStatus   `json:"delivery_status" db:"delivery_status"`
	SentAt         *time.Time       `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt    *time.Time       `json:"delivered_at,omitempty" db:"delivered_at"`
	ErrorMessage   *string          `json:"error_message,omitempty" db:"error_message"`
	OpenedAt       *time.Time       `json:"opened_at,omitempty" db:"opened_at"`
	ActionTakenAt  *time.Time       `json:"action_taken_at,omitempty" db:"action_taken_at"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// IsDue reports whether the row should be delivered at now
func (n *Notification) IsDue(now time.Time) bool {
	return n.ScheduledFor == nil || !n.ScheduledFor.After(now)
}

// Request/Response DTOs

// ScheduleRequest is the input to Service.Schedule
type ScheduleRequest struct {
	UserID        int64                  `json:"user_id" validate:"required,gt=0"`
	Type          string                 `json:"type" validate:"required,max=50"`
	Data          map[string]interface{} `json:"data"`
	TriggerSource NotificationData       `json:"trigger_source"`
	ScheduledFor  *time.Time             `json:"scheduled_for"`
}

// RegisterPushTokenRequest registers the device's current FCM token
type RegisterPushTokenRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"omitempty,oneof=ios android"`
}

// HistoryResponse is one page of a user's ledger
type HistoryResponse struct {
	Notifications []*Notification `json:"notifications"`
	Limit         int             `json:"limit"`
	Offset        int             `json:"offset"`
}
