package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

const slotKeyPrefix = "slot:"

// SlotCache stores slot templates as JSON under slot:{id}.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ appointment.SlotCache = (*SlotCache)(nil)

func NewSlotCache(client *redis.Client, ttl time.Duration) *SlotCache {
	return &SlotCache{client: client, ttl: ttl}
}

type cachedSlot struct {
	ID        uuid.UUID          `json:"id"`
	StartTime int                `json:"start_minute"`
	EndTime   int                `json:"end_minute"`
	Period    appointment.Period `json:"period"`
	CreatedAt time.Time          `json:"created_at"`
}

func slotKey(id uuid.UUID) string {
	return slotKeyPrefix + id.String()
}

// Get returns nil, nil on a miss.
func (c *SlotCache) Get(ctx context.Context, id uuid.UUID) (*appointment.Slot, error) {
	data, err := c.client.Get(ctx, slotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get slot from cache: %w", err)
	}

	var cs cachedSlot
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("decode cached slot: %w", err)
	}

	return &appointment.Slot{
		ID:        cs.ID,
		StartTime: appointment.TimeOfDay(cs.StartTime),
		EndTime:   appointment.TimeOfDay(cs.EndTime),
		Period:    cs.Period,
		CreatedAt: cs.CreatedAt,
	}, nil
}

func (c *SlotCache) Set(ctx context.Context, slot *appointment.Slot) error {
	data, err := json.Marshal(cachedSlot{
		ID:        slot.ID,
		StartTime: int(slot.StartTime),
		EndTime:   int(slot.EndTime),
		Period:    slot.Period,
		CreatedAt: slot.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode slot: %w", err)
	}

	if err := c.client.Set(ctx, slotKey(slot.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set slot in cache: %w", err)
	}
	return nil
}
