package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

func newTestCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *SlotCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewSlotCache(client, ttl)
}

func TestSlotCache_RoundTrip(t *testing.T) {
	mr, cache := newTestCache(t, time.Minute)
	ctx := context.Background()

	slot := &appointment.Slot{
		ID:        uuid.New(),
		StartTime: appointment.NewTimeOfDay(9, 0),
		EndTime:   appointment.NewTimeOfDay(9, 30),
		Period:    appointment.PeriodMorning,
		CreatedAt: time.Date(2025, time.November, 1, 8, 0, 0, 0, time.UTC),
	}

	miss, err := cache.Get(ctx, slot.ID)
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, cache.Set(ctx, slot))
	assert.True(t, mr.Exists("slot:"+slot.ID.String()))

	got, err := cache.Get(ctx, slot.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, slot.StartTime, got.StartTime)
	assert.Equal(t, slot.EndTime, got.EndTime)
	assert.Equal(t, slot.Period, got.Period)
	assert.True(t, slot.CreatedAt.Equal(got.CreatedAt))
}

func TestSlotCache_Expires(t *testing.T) {
	mr, cache := newTestCache(t, time.Minute)
	ctx := context.Background()

	slot := &appointment.Slot{ID: uuid.New(), StartTime: 600, EndTime: 630, Period: appointment.PeriodMorning}
	require.NoError(t, cache.Set(ctx, slot))

	mr.FastForward(2 * time.Minute)

	got, err := cache.Get(ctx, slot.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSlotCache_CorruptEntry(t *testing.T) {
	mr, cache := newTestCache(t, 0)
	id := uuid.New()
	require.NoError(t, mr.Set("slot:"+id.String(), "not json"))

	_, err := cache.Get(context.Background(), id)
	assert.Error(t, err)
}

func TestSlotCache_ServerDown(t *testing.T) {
	mr, cache := newTestCache(t, time.Minute)
	mr.Close()

	_, err := cache.Get(context.Background(), uuid.New())
	assert.Error(t, err)
}
