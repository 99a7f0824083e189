package notification

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clockAt(hour, min int) time.Time {
	return time.Date(2025, 3, 14, hour, min, 0, 0, time.UTC)
}

func TestInQuietHours(t *testing.T) {
	cases := []struct {
		name       string
		start, end string
		at         time.Time
		want       bool
	}{
		{"wrapping late evening", "22:00", "07:00", clockAt(23, 30), true},
		{"wrapping early morning", "22:00", "07:00", clockAt(6, 0), true},
		{"wrapping midday", "22:00", "07:00", clockAt(12, 0), false},
		{"wrapping start inclusive", "22:00", "07:00", clockAt(22, 0), true},
		{"wrapping end exclusive", "22:00", "07:00", clockAt(7, 0), false},
		{"same day inside", "13:00", "15:00", clockAt(14, 0), true},
		{"same day outside", "13:00", "15:00", clockAt(16, 0), false},
		{"seconds form", "22:00:00", "07:00:00", clockAt(23, 0), true},
		{"empty window", "08:00", "08:00", clockAt(8, 0), false},
		{"unparseable start", "late", "07:00", clockAt(23, 0), false},
		{"out of range", "25:00", "07:00", clockAt(23, 0), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InQuietHours(tc.start, tc.end, tc.at))
		})
	}
}

func newTestGate(store *memStore, counters *memThrottle, now time.Time) *ThrottleGate {
	return NewThrottleGate(store, counters, WithGateClock(fixedClock(now)))
}

func TestThrottleGateCheck(t *testing.T) {
	const userID = int64(7)
	midday := clockAt(12, 0)
	night := clockAt(23, 30)
	day := midday.Format(dayLayout)

	medium := &NotificationTemplate{Type: TypeDailyGoalReached, Category: CategoryAchievement, Priority: PriorityMedium}
	critical := &NotificationTemplate{Type: TypeTemperatureAlert, Category: CategoryHealth, Priority: PriorityCritical}

	cases := []struct {
		name  string
		pref  *Preference
		setup func(c *memThrottle)
		tmpl  *NotificationTemplate
		now   time.Time
		want  Decision
	}{
		{
			name: "no preference row is allowed",
			tmpl: medium,
			now:  night,
			want: Decision{Allowed: true},
		},
		{
			name:  "no preference row still limits a type to once a day",
			setup: func(c *memThrottle) { c.set(userID, TypeDailyGoalReached, day, 1) },
			tmpl:  medium,
			now:   midday,
			want:  Decision{Reason: ReasonDuplicateType},
		},
		{
			name: "no preference row uses the default daily cap",
			setup: func(c *memThrottle) {
				for i := 0; i < DefaultMaxDailyNotifications; i++ {
					c.set(userID, fmt.Sprintf("event_%d", i), day, 1)
				}
			},
			tmpl: critical,
			now:  midday,
			want: Decision{Reason: ReasonDailyCap},
		},
		{
			name: "disabled",
			pref: func() *Preference { p := DefaultPreference(userID); p.Enabled = false; return &p }(),
			tmpl: critical,
			now:  midday,
			want: Decision{Reason: ReasonDisabled},
		},
		{
			name: "quiet hours",
			pref: func() *Preference { p := DefaultPreference(userID); return &p }(),
			tmpl: medium,
			now:  night,
			want: Decision{Reason: ReasonQuietHours},
		},
		{
			name: "critical bypasses quiet hours",
			pref: func() *Preference { p := DefaultPreference(userID); return &p }(),
			tmpl: critical,
			now:  night,
			want: Decision{Allowed: true},
		},
		{
			name: "category disabled",
			pref: func() *Preference { p := DefaultPreference(userID); p.AchievementEnabled = false; return &p }(),
			tmpl: medium,
			now:  midday,
			want: Decision{Reason: ReasonCategoryDisabled},
		},
		{
			name:  "same type already sent today",
			pref:  func() *Preference { p := DefaultPreference(userID); return &p }(),
			setup: func(c *memThrottle) { c.set(userID, TypeDailyGoalReached, day, 1) },
			tmpl:  medium,
			now:   midday,
			want:  Decision{Reason: ReasonDuplicateType},
		},
		{
			name:  "yesterday's count does not block",
			pref:  func() *Preference { p := DefaultPreference(userID); return &p }(),
			setup: func(c *memThrottle) { c.set(userID, TypeDailyGoalReached, "2025-03-13", 1) },
			tmpl:  medium,
			now:   midday,
			want:  Decision{Allowed: true},
		},
		{
			name: "daily cap reached",
			pref: func() *Preference { p := DefaultPreference(userID); p.MaxDailyNotifications = 2; return &p }(),
			setup: func(c *memThrottle) {
				c.set(userID, TypeLowBattery, day, 1)
				c.set(userID, TypeSystemAlert, day, 1)
			},
			tmpl: medium,
			now:  midday,
			want: Decision{Reason: ReasonDailyCap},
		},
		{
			name: "daily cap applies to critical",
			pref: func() *Preference { p := DefaultPreference(userID); p.MaxDailyNotifications = 1; return &p }(),
			setup: func(c *memThrottle) {
				c.set(userID, TypeLowBattery, day, 1)
			},
			tmpl: critical,
			now:  midday,
			want: Decision{Reason: ReasonDailyCap},
		},
		{
			name: "other users do not count",
			pref: func() *Preference { p := DefaultPreference(userID); p.MaxDailyNotifications = 1; return &p }(),
			setup: func(c *memThrottle) {
				c.set(userID+1, TypeLowBattery, day, 5)
			},
			tmpl: medium,
			now:  midday,
			want: Decision{Allowed: true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore(fixedClock(tc.now))
			if tc.pref != nil {
				store.setPreference(*tc.pref)
			}
			counters := newMemThrottle()
			if tc.setup != nil {
				tc.setup(counters)
			}

			got, err := newTestGate(store, counters, tc.now).Check(context.Background(), userID, tc.tmpl)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestThrottleGateUsesLocationForQuietHours(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	store := newMemStore(time.Now)
	store.setPreference(DefaultPreference(1))

	// 20:30 UTC is 23:30 at UTC+3
	gate := NewThrottleGate(store, newMemThrottle(),
		WithGateClock(fixedClock(clockAt(20, 30))),
		WithGateLocation(loc))

	ok, err := gate.CanSend(context.Background(), 1, &NotificationTemplate{
		Type: TypeWeeklySummary, Category: CategoryEngagement, Priority: PriorityLow,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestThrottleGateMaxPerTypeOption(t *testing.T) {
	store := newMemStore(time.Now)
	store.setPreference(DefaultPreference(1))
	counters := newMemThrottle()
	now := clockAt(12, 0)
	counters.set(1, TypeLowBattery, now.Format(dayLayout), 1)

	gate := NewThrottleGate(store, counters, WithGateClock(fixedClock(now)), WithMaxPerTypePerDay(2))
	tmpl := &NotificationTemplate{Type: TypeLowBattery, Category: CategorySystem, Priority: PriorityMedium}

	ok, err := gate.CanSend(context.Background(), 1, tmpl)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, gate.Record(context.Background(), 1, TypeLowBattery))
	ok, err = gate.CanSend(context.Background(), 1, tmpl)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestThrottleGateErrors(t *testing.T) {
	tmpl := &NotificationTemplate{Type: TypeLowBattery, Category: CategorySystem, Priority: PriorityMedium}

	t.Run("preference store", func(t *testing.T) {
		store := newMemStore(time.Now)
		store.prefErr = errors.New("connection reset")
		_, err := newTestGate(store, newMemThrottle(), clockAt(12, 0)).Check(context.Background(), 1, tmpl)
		require.Error(t, err)
	})

	t.Run("counter store", func(t *testing.T) {
		store := newMemStore(time.Now)
		store.setPreference(DefaultPreference(1))
		counters := newMemThrottle()
		counters.countErr = errors.New("redis down")
		_, err := newTestGate(store, counters, clockAt(12, 0)).Check(context.Background(), 1, tmpl)
		require.ErrorContains(t, err, "read throttle counters")
	})
}

func TestThrottleGateRecordAndPurge(t *testing.T) {
	now := clockAt(12, 0)
	counters := newMemThrottle()
	gate := newTestGate(newMemStore(time.Now), counters, now)

	require.NoError(t, gate.Record(context.Background(), 3, TypeWeeklySummary))
	require.NoError(t, gate.Record(context.Background(), 3, TypeWeeklySummary))
	assert.Equal(t, 2, counters.get(3, TypeWeeklySummary, "2025-03-14"))
	assert.Equal(t, "2025-03-14", gate.Today())

	counters.set(3, TypeWeeklySummary, "2025-02-01", 4)
	counters.set(3, TypeWeeklySummary, "2025-02-12", 1)

	deleted, err := gate.Purge(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 0, counters.get(3, TypeWeeklySummary, "2025-02-01"))
	assert.Equal(t, 1, counters.get(3, TypeWeeklySummary, "2025-02-12"))
}
