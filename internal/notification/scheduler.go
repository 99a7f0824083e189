// internal/notification/scheduler.go

package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ispoon/ispoon-backend/internal/common/logger"
)

// Rule names, used in logs, metrics and trigger sources
const (
	RuleSweep         = "pending_sweep"
	RuleDailyGoal     = "daily_goal"
	RuleWeeklyDigest  = "weekly_digest"
	RuleInactivity    = "inactivity"
	RuleLedgerPurge   = "ledger_retention"
	RuleThrottlePurge = "throttle_retention"
)

const (
	trendConsistent   = "Great consistency!"
	trendEncourage    = "Keep it up!"
	consistentDays    = 5
	digestWindowDays  = 7
	defaultJobTimeout = 5 * time.Minute
)

// Scheduling is the part of the notification service the trigger rules drive
type Scheduling interface {
	Schedule(ctx context.Context, req *ScheduleRequest) (*Notification, error)
	ProcessPending(ctx context.Context, batchSize int) int
	CleanupOld(ctx context.Context, retentionDays int) (int64, error)
	CleanupThrottle(ctx context.Context, retentionDays int) (int64, error)
}

// Schedules holds the cron spec of every rule
type Schedules struct {
	Sweep         string
	DailyGoal     string
	WeeklyDigest  string
	Inactivity    string
	LedgerPurge   string
	ThrottlePurge string
}

// DefaultSchedules runs the sweep every minute and the rest once a day
func DefaultSchedules() Schedules {
	return Schedules{
		Sweep:         "* * * * *",
		DailyGoal:     "0 23 * * *",
		WeeklyDigest:  "0 20 * * *",
		Inactivity:    "0 14 * * *",
		LedgerPurge:   "0 3 * * *",
		ThrottlePurge: "0 4 * * *",
	}
}

// Scheduler owns the cron entries of the trigger rules. Each rule is
// independent: a failing rule is logged and never stops the others.
type Scheduler struct {
	service  Scheduling
	activity ActivitySource
	cron     *cron.Cron
	now      func() time.Time
	loc      *time.Location
	log      *zap.Logger

	schedules      Schedules
	sweepBatch     int
	ledgerDays     int
	throttleDays   int
	inactivityDays int
	defaultGoal    int
	jobTimeout     time.Duration

	mu         sync.Mutex
	registered bool
	started    bool
}

// SchedulerOption customises the Scheduler
type SchedulerOption func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing
func WithCron(c *cron.Cron) SchedulerOption {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithSchedulerClock overrides the clock used to compute days and cutoffs
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the timezone for cron specs and calendar days
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithSchedules overrides rule cron specs; empty fields keep their defaults
func WithSchedules(specs Schedules) SchedulerOption {
	return func(s *Scheduler) {
		setIf := func(dst *string, v string) {
			if v != "" {
				*dst = v
			}
		}
		setIf(&s.schedules.Sweep, specs.Sweep)
		setIf(&s.schedules.DailyGoal, specs.DailyGoal)
		setIf(&s.schedules.WeeklyDigest, specs.WeeklyDigest)
		setIf(&s.schedules.Inactivity, specs.Inactivity)
		setIf(&s.schedules.LedgerPurge, specs.LedgerPurge)
		setIf(&s.schedules.ThrottlePurge, specs.ThrottlePurge)
	}
}

// WithSweepBatch sets how many pending rows one sweep may deliver
func WithSweepBatch(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

// WithRetention sets ledger and throttle-counter retention in days
func WithRetention(ledgerDays, throttleDays int) SchedulerOption {
	return func(s *Scheduler) {
		if ledgerDays > 0 {
			s.ledgerDays = ledgerDays
		}
		if throttleDays > 0 {
			s.throttleDays = throttleDays
		}
	}
}

// WithInactivityDays sets how long a device may go without syncing
func WithInactivityDays(days int) SchedulerOption {
	return func(s *Scheduler) {
		if days > 0 {
			s.inactivityDays = days
		}
	}
}

// WithDefaultDailyGoal sets the goal used for users who never chose one
func WithDefaultDailyGoal(goal int) SchedulerOption {
	return func(s *Scheduler) {
		if goal > 0 {
			s.defaultGoal = goal
		}
	}
}

// WithJobTimeout bounds a single rule execution
func WithJobTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

func NewScheduler(service Scheduling, activity ActivitySource, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		service:        service,
		activity:       activity,
		now:            time.Now,
		loc:            time.UTC,
		log:            logger.WithModule("notification.scheduler"),
		schedules:      DefaultSchedules(),
		sweepBatch:     100,
		ledgerDays:     90,
		throttleDays:   30,
		inactivityDays: 3,
		defaultGoal:    50,
		jobTimeout:     defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		cl := cronLogger{s.log.Sugar()}
		s.cron = cron.New(
			cron.WithLocation(s.loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.DelayIfStillRunning(cl)),
		)
	}
	return s
}

type rule struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

func (s *Scheduler) rules() []rule {
	return []rule{
		{RuleSweep, s.schedules.Sweep, s.SweepPending},
		{RuleDailyGoal, s.schedules.DailyGoal, s.CheckDailyGoals},
		{RuleWeeklyDigest, s.schedules.WeeklyDigest, s.SendWeeklyDigests},
		{RuleInactivity, s.schedules.Inactivity, s.CheckInactiveDevices},
		{RuleLedgerPurge, s.schedules.LedgerPurge, s.PurgeLedger},
		{RuleThrottlePurge, s.schedules.ThrottlePurge, s.PurgeThrottleCounters},
	}
}

// Start registers every rule with cron and starts it
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if !s.registered {
		for _, r := range s.rules() {
			r := r
			if _, err := s.cron.AddFunc(r.spec, func() { s.execute(context.Background(), r) }); err != nil {
				return fmt.Errorf("schedule rule %s (%q): %w", r.name, r.spec, err)
			}
		}
		s.registered = true
	}

	s.cron.Start()
	s.started = true
	s.log.Info("notification scheduler started", zap.String("timezone", s.loc.String()))
	return nil
}

// Stop prevents new ticks; the returned context is done once running rules finish
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return s.cron.Stop()
}

// RunOnce executes every rule sequentially and joins their errors
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs error
	for _, r := range s.rules() {
		errs = multierr.Append(errs, s.execute(ctx, r))
	}
	return errs
}

func (s *Scheduler) execute(parent context.Context, r rule) error {
	ctx, cancel := context.WithTimeout(parent, s.jobTimeout)
	defer cancel()

	start := time.Now()
	err := r.run(ctx)
	log := s.log.With(zap.String("rule", r.name), zap.Duration("took", time.Since(start)))
	if err != nil {
		ruleRunsTotal.WithLabelValues(r.name, "error").Inc()
		log.Error("notification rule failed", zap.Error(err))
		return fmt.Errorf("%s: %w", r.name, err)
	}
	ruleRunsTotal.WithLabelValues(r.name, "ok").Inc()
	log.Debug("notification rule finished")
	return nil
}

func (s *Scheduler) today() time.Time {
	return s.now().In(s.loc)
}

func (s *Scheduler) source(rule string, extra NotificationData) NotificationData {
	src := NotificationData{"rule": rule, "run_id": uuid.NewString()}
	for k, v := range extra {
		src[k] = v
	}
	return src
}

// SweepPending delivers due pending notifications
func (s *Scheduler) SweepPending(ctx context.Context) error {
	s.service.ProcessPending(ctx, s.sweepBatch)
	return nil
}

// CheckDailyGoals congratulates users who met their goal yesterday
func (s *Scheduler) CheckDailyGoals(ctx context.Context) error {
	day := s.today().AddDate(0, 0, -1).Format(dayLayout)

	candidates, err := s.activity.DailyGoalCandidates(ctx, day)
	if err != nil {
		return err
	}

	src := s.source(RuleDailyGoal, NotificationData{"date": day})
	var errs error
	sent := 0
	for _, c := range candidates {
		goal := c.Goal(s.defaultGoal)
		if c.TotalBites < goal {
			continue
		}
		n, err := s.service.Schedule(ctx, &ScheduleRequest{
			UserID:        c.UserID,
			Type:          TypeDailyGoalReached,
			Data:          map[string]interface{}{"bites": c.TotalBites, "goal": goal},
			TriggerSource: src,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("user %d: %w", c.UserID, err))
			continue
		}
		if n != nil {
			sent++
		}
	}

	s.log.Info("daily goals checked",
		zap.String("date", day),
		zap.Int("candidates", len(candidates)),
		zap.Int("scheduled", sent))
	return errs
}

// SendWeeklyDigests summarises the trailing week for users whose digest day is today
func (s *Scheduler) SendWeeklyDigests(ctx context.Context) error {
	today := s.today()
	from := today.AddDate(0, 0, -(digestWindowDays - 1)).Format(dayLayout)
	to := today.Format(dayLayout)

	recipients, err := s.activity.WeeklyDigestRecipients(ctx, int(today.Weekday()))
	if err != nil {
		return err
	}

	src := s.source(RuleWeeklyDigest, NotificationData{"week_start": from})
	var errs error
	sent := 0
	for _, userID := range recipients {
		stats, err := s.activity.WeeklyStats(ctx, userID, from, to)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("user %d: %w", userID, err))
			continue
		}
		if stats == nil || stats.TotalBites <= 0 {
			continue
		}

		n, err := s.service.Schedule(ctx, &ScheduleRequest{
			UserID:        userID,
			Type:          TypeWeeklySummary,
			Data:          digestData(stats),
			TriggerSource: src,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("user %d: %w", userID, err))
			continue
		}
		if n != nil {
			sent++
		}
	}

	s.log.Info("weekly digests processed",
		zap.String("week_start", from),
		zap.Int("recipients", len(recipients)),
		zap.Int("scheduled", sent))
	return errs
}

func digestData(stats *WeeklyStats) map[string]interface{} {
	pace := "N/A"
	if stats.AvgPace.Valid {
		pace = fmt.Sprintf("%.1f", stats.AvgPace.Float64)
	}
	trend := trendEncourage
	if stats.DaysTracked >= consistentDays {
		trend = trendConsistent
	}
	return map[string]interface{}{
		"bites": stats.TotalBites,
		"pace":  pace,
		"trend": trend,
	}
}

// CheckInactiveDevices nudges users whose device has not synced recently
func (s *Scheduler) CheckInactiveDevices(ctx context.Context) error {
	today := s.today()
	since := today.AddDate(0, 0, -s.inactivityDays)

	users, err := s.activity.InactiveDeviceUsers(ctx, since)
	if err != nil {
		return err
	}

	src := s.source(RuleInactivity, NotificationData{"check_date": today.Format(dayLayout)})
	var errs error
	for _, userID := range users {
		if _, err := s.service.Schedule(ctx, &ScheduleRequest{
			UserID:        userID,
			Type:          TypeDeviceInactive,
			Data:          map[string]interface{}{"days": s.inactivityDays},
			TriggerSource: src,
		}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("user %d: %w", userID, err))
		}
	}

	s.log.Info("inactive devices checked", zap.Int("users", len(users)))
	return errs
}

// PurgeLedger removes settled notifications past retention
func (s *Scheduler) PurgeLedger(ctx context.Context) error {
	deleted, err := s.service.CleanupOld(ctx, s.ledgerDays)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info("old notifications purged", zap.Int64("deleted", deleted))
	}
	return nil
}

// PurgeThrottleCounters removes counters past retention
func (s *Scheduler) PurgeThrottleCounters(ctx context.Context) error {
	deleted, err := s.service.CleanupThrottle(ctx, s.throttleDays)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info("old throttle counters purged", zap.Int64("deleted", deleted))
	}
	return nil
}

// cronLogger routes cron's own logging into zap
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
