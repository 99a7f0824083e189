package notification

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisThrottle(t *testing.T, days int) (*RedisThrottleStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisThrottleStore(client, days), srv
}

func TestRedisThrottleStoreCounts(t *testing.T) {
	store, _ := newRedisThrottle(t, 30)
	ctx := context.Background()

	typeCount, total, err := store.Counts(ctx, 1, TypeLowBattery, "2025-03-14")
	require.NoError(t, err)
	assert.Zero(t, typeCount)
	assert.Zero(t, total)

	require.NoError(t, store.Increment(ctx, 1, TypeLowBattery, "2025-03-14"))
	require.NoError(t, store.Increment(ctx, 1, TypeLowBattery, "2025-03-14"))
	require.NoError(t, store.Increment(ctx, 1, TypeSystemAlert, "2025-03-14"))
	require.NoError(t, store.Increment(ctx, 1, TypeSystemAlert, "2025-03-15"))
	require.NoError(t, store.Increment(ctx, 2, TypeLowBattery, "2025-03-14"))

	typeCount, total, err = store.Counts(ctx, 1, TypeLowBattery, "2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, 2, typeCount)
	assert.Equal(t, 3, total)

	typeCount, total, err = store.Counts(ctx, 1, TypeDeviceInactive, "2025-03-14")
	require.NoError(t, err)
	assert.Zero(t, typeCount)
	assert.Equal(t, 3, total)
}

func TestRedisThrottleStoreExpiry(t *testing.T) {
	store, srv := newRedisThrottle(t, 2)
	ctx := context.Background()

	require.NoError(t, store.Increment(ctx, 1, TypeLowBattery, "2025-03-14"))
	assert.Equal(t, 72*time.Hour, srv.TTL("notification:throttle:1:2025-03-14:total"))
	assert.Equal(t, 72*time.Hour, srv.TTL("notification:throttle:1:2025-03-14:type:low_battery"))

	srv.FastForward(73 * time.Hour)

	_, total, err := store.Counts(ctx, 1, TypeLowBattery, "2025-03-14")
	require.NoError(t, err)
	assert.Zero(t, total)

	deleted, err := store.DeleteOlderThan(ctx, "2025-03-20")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestRedisThrottleStoreCorruptCounter(t *testing.T) {
	store, srv := newRedisThrottle(t, 30)
	require.NoError(t, srv.Set("notification:throttle:1:2025-03-14:total", "many"))

	_, _, err := store.Counts(context.Background(), 1, TypeLowBattery, "2025-03-14")
	require.ErrorContains(t, err, "corrupt throttle counter")
}

func TestThrottleGateWithRedis(t *testing.T) {
	store, _ := newRedisThrottle(t, 30)
	prefs := newMemStore(time.Now)
	prefs.setPreference(DefaultPreference(1))
	gate := NewThrottleGate(prefs, store, WithGateClock(fixedClock(clockAt(12, 0))))
	tmpl := &NotificationTemplate{Type: TypeLowBattery, Category: CategorySystem, Priority: PriorityMedium}

	d, err := gate.Check(context.Background(), 1, tmpl)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.NoError(t, gate.Record(context.Background(), 1, TypeLowBattery))

	d, err = gate.Check(context.Background(), 1, tmpl)
	require.NoError(t, err)
	assert.Equal(t, ReasonDuplicateType, d.Reason)
}
