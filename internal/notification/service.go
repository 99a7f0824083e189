// internal/notification/service.go

package notification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ispoon/ispoon-backend/internal/common/logger"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidTransition    = errors.New("invalid delivery status transition")
	ErrPushDisabled         = errors.New("push notifications are disabled")
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100

	// DefaultSweepGrace keeps the pending sweep away from rows that Schedule
	// is delivering synchronously
	DefaultSweepGrace = 30 * time.Second

	// FastEatingPaceThreshold is the bites-per-minute pace above which a
	// meal triggers a fast eating alert
	FastEatingPaceThreshold = 15.0
)

// Service is the notification API used by handlers and the scheduler
type Service interface {
	Schedule(ctx context.Context, req *ScheduleRequest) (*Notification, error)
	ProcessPending(ctx context.Context, batchSize int) int
	MarkOpened(ctx context.Context, notificationID int64) error
	MarkActionTaken(ctx context.Context, notificationID int64) error
	GetNotification(ctx context.Context, notificationID, userID int64) (*Notification, error)
	History(ctx context.Context, userID int64, limit, offset int) (*HistoryResponse, error)
	GetPreferences(ctx context.Context, userID int64) (*Preference, error)
	UpdatePreferences(ctx context.Context, userID int64, update PreferenceUpdate) (*Preference, error)
	RegisterPushToken(ctx context.Context, userID int64, req *RegisterPushTokenRequest) error
	ListTemplates(ctx context.Context) (map[Category][]TemplateSummary, error)
	CheckMealPace(ctx context.Context, userID, mealID int64, pace float64) (*Notification, error)
	CleanupOld(ctx context.Context, retentionDays int) (int64, error)
	CleanupThrottle(ctx context.Context, retentionDays int) (int64, error)
}

// Deliverer pushes a ledger row to the user's device
type Deliverer interface {
	Deliver(ctx context.Context, n *Notification)
}

// NotificationService ties together templates, throttling, the ledger and delivery
type NotificationService struct {
	templates TemplateStore
	prefs     PreferenceStore
	ledger    LedgerStore
	gate      *ThrottleGate
	delivery  Deliverer
	now       func() time.Time
	grace     time.Duration
	log       *zap.Logger
}

// ServiceOption customises the NotificationService
type ServiceOption func(*NotificationService)

// WithClock overrides the service clock
func WithClock(now func() time.Time) ServiceOption {
	return func(s *NotificationService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepGrace sets how old an immediate row must be before the sweep
// may pick it up
func WithSweepGrace(d time.Duration) ServiceOption {
	return func(s *NotificationService) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithLogger replaces the module logger
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *NotificationService) {
		if l != nil {
			s.log = l
		}
	}
}

func NewService(
	templates TemplateStore,
	prefs PreferenceStore,
	ledger LedgerStore,
	gate *ThrottleGate,
	delivery Deliverer,
	opts ...ServiceOption,
) *NotificationService {
	s := &NotificationService{
		templates: templates,
		prefs:     prefs,
		ledger:    ledger,
		gate:      gate,
		delivery:  delivery,
		now:       time.Now,
		grace:     DefaultSweepGrace,
		log:       logger.WithModule("notification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule creates a notification for req.UserID from the template for
// req.Type. It returns nil, nil when nothing was scheduled: the template is
// missing or inactive, or the throttle gate said no. Immediate notifications
// are delivered before returning; a failed delivery still returns the row.
func (s *NotificationService) Schedule(ctx context.Context, req *ScheduleRequest) (*Notification, error) {
	log := s.log.With(zap.Int64("user_id", req.UserID), zap.String("type", req.Type))

	tmpl, err := s.templates.GetByType(ctx, req.Type)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		log.Error("notification template missing or inactive")
		skippedTotal.WithLabelValues("template_missing").Inc()
		return nil, nil
	}

	decision, err := s.gate.Check(ctx, req.UserID, tmpl)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		log.Info("notification throttled", zap.String("reason", decision.Reason))
		skippedTotal.WithLabelValues(decision.Reason).Inc()
		return nil, nil
	}

	triggerSource := req.TriggerSource
	if triggerSource == nil {
		triggerSource = NotificationData{}
	}

	n := &Notification{
		UserID:         req.UserID,
		TemplateID:     tmpl.ID,
		Type:           tmpl.Type,
		Priority:       tmpl.Priority,
		Title:          Render(tmpl.TitleTemplate, req.Data),
		Body:           Render(tmpl.BodyTemplate, req.Data),
		ActionType:     tmpl.ActionType,
		ActionData:     tmpl.DefaultActionData.Merge(req.Data),
		DeliveryMethod: DeliveryMethodPush,
		TriggerSource:  triggerSource,
		ScheduledFor:   req.ScheduledFor,
		DeliveryStatus: StatusPending,
	}

	if err := s.ledger.Insert(ctx, n); err != nil {
		return nil, err
	}
	scheduledTotal.WithLabelValues(n.Type).Inc()

	if err := s.gate.Record(ctx, n.UserID, n.Type); err != nil {
		log.Warn("failed to increment throttle counter", zap.Int64("notification_id", n.ID), zap.Error(err))
	}

	log.Info("notification scheduled", zap.Int64("notification_id", n.ID))

	if n.IsDue(s.now()) {
		s.delivery.Deliver(ctx, n)
	}

	return n, nil
}

// ProcessPending delivers up to batchSize due pending notifications, highest
// priority first. Rows created for immediate delivery within the grace period
// are left to Schedule. Datastore errors are logged and reported as zero
// processed.
func (s *NotificationService) ProcessPending(ctx context.Context, batchSize int) int {
	if batchSize <= 0 {
		return 0
	}

	rows, err := s.ledger.Pending(ctx, s.now(), s.grace, batchSize)
	if err != nil {
		if isTransient(err) {
			s.log.Warn("pending sweep skipped, datastore unavailable", zap.Error(err))
		} else {
			s.log.Error("pending sweep failed", zap.Error(err))
		}
		return 0
	}

	processed := 0
	for _, n := range rows {
		if ctx.Err() != nil {
			break
		}
		s.delivery.Deliver(ctx, n)
		processed++
	}

	sweepProcessed.Add(float64(processed))
	if processed > 0 {
		s.log.Info("pending sweep delivered notifications", zap.Int("count", processed))
	}
	return processed
}

// MarkOpened sets opened_at once. Ownership must be verified by the caller.
func (s *NotificationService) MarkOpened(ctx context.Context, notificationID int64) error {
	ok, err := s.ledger.MarkOpened(ctx, notificationID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkActionTaken sets action_taken_at once. Ownership must be verified by the caller.
func (s *NotificationService) MarkActionTaken(ctx context.Context, notificationID int64) error {
	ok, err := s.ledger.MarkActionTaken(ctx, notificationID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return nil
}

// GetNotification returns a notification owned by userID
func (s *NotificationService) GetNotification(ctx context.Context, notificationID, userID int64) (*Notification, error) {
	n, err := s.ledger.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrNotificationNotFound
	}
	if n.UserID != userID {
		return nil, ErrUnauthorized
	}
	return n, nil
}

// History lists a user's notifications newest first
func (s *NotificationService) History(ctx context.Context, userID int64, limit, offset int) (*HistoryResponse, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.ledger.History(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []*Notification{}
	}

	return &HistoryResponse{Notifications: rows, Limit: limit, Offset: offset}, nil
}

// GetPreferences returns the stored settings, or the defaults if none exist yet
func (s *NotificationService) GetPreferences(ctx context.Context, userID int64) (*Preference, error) {
	pref, err := s.prefs.GetPreference(ctx, userID)
	if err != nil {
		return nil, err
	}
	if pref == nil {
		def := DefaultPreference(userID)
		return &def, nil
	}
	return pref, nil
}

// UpdatePreferences applies a partial update, creating the row if needed
func (s *NotificationService) UpdatePreferences(ctx context.Context, userID int64, update PreferenceUpdate) (*Preference, error) {
	return s.prefs.UpsertPreference(ctx, userID, update)
}

// RegisterPushToken stores the device's current token
func (s *NotificationService) RegisterPushToken(ctx context.Context, userID int64, req *RegisterPushTokenRequest) error {
	if req.Token == "" {
		return errors.New("push token is required")
	}
	if err := s.prefs.SetPushToken(ctx, userID, req.Token); err != nil {
		return err
	}
	s.log.Info("push token registered", zap.Int64("user_id", userID), zap.String("platform", req.Platform))
	return nil
}

// ListTemplates groups the active templates by category
func (s *NotificationService) ListTemplates(ctx context.Context) (map[Category][]TemplateSummary, error) {
	templates, err := s.templates.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	grouped := make(map[Category][]TemplateSummary)
	for _, t := range templates {
		grouped[t.Category] = append(grouped[t.Category], TemplateSummary{
			Type:        t.Type,
			Title:       t.TitleTemplate,
			Description: t.BodyTemplate,
			Priority:    t.Priority,
		})
	}
	return grouped, nil
}

// CheckMealPace schedules a fast eating alert when the meal's average pace
// is above FastEatingPaceThreshold
func (s *NotificationService) CheckMealPace(ctx context.Context, userID, mealID int64, pace float64) (*Notification, error) {
	if pace <= FastEatingPaceThreshold {
		return nil, nil
	}

	return s.Schedule(ctx, &ScheduleRequest{
		UserID:        userID,
		Type:          TypeFastEatingAlert,
		Data:          map[string]interface{}{"pace": math.Round(pace*10) / 10},
		TriggerSource: NotificationData{"meal_id": mealID},
	})
}

// CleanupOld purges settled ledger rows older than retentionDays
func (s *NotificationService) CleanupOld(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d", retentionDays)
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	return s.ledger.DeleteOlderThan(ctx, cutoff)
}

// CleanupThrottle drops throttle counters older than retentionDays
func (s *NotificationService) CleanupThrottle(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d", retentionDays)
	}
	return s.gate.Purge(ctx, retentionDays)
}
