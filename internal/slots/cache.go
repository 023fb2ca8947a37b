package slots

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
)

type cacheKey struct {
	providerID  uuid.UUID
	day         string // "2006-01-02"
	slotMinutes int
}

// Cache holds generated free-slot lists per (provider, day, duration). Any
// mutation that can change a day's bookings or availability must invalidate
// the affected entries, so a hit is always as fresh as the store.
type Cache struct {
	lru *lru.Cache[cacheKey, []time.Time]
}

func NewCache(size int) (*Cache, error) {
	c, err := lru.New[cacheKey, []time.Time](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

func (c *Cache) get(providerID uuid.UUID, day time.Time, slotMinutes int) ([]time.Time, bool) {
	return c.lru.Get(cacheKey{providerID, day.Format("2006-01-02"), slotMinutes})
}

func (c *Cache) put(providerID uuid.UUID, day time.Time, slotMinutes int, starts []time.Time) {
	c.lru.Add(cacheKey{providerID, day.Format("2006-01-02"), slotMinutes}, starts)
}

// InvalidateDay drops every cached duration for the provider's day.
func (c *Cache) InvalidateDay(providerID uuid.UUID, day time.Time) {
	dayKey := day.Format("2006-01-02")
	for _, k := range c.lru.Keys() {
		if k.providerID == providerID && k.day == dayKey {
			c.lru.Remove(k)
		}
	}
}

// InvalidateProvider drops every cached day for the provider. Used when the
// weekly schedule itself changes.
func (c *Cache) InvalidateProvider(providerID uuid.UUID) {
	for _, k := range c.lru.Keys() {
		if k.providerID == providerID {
			c.lru.Remove(k)
		}
	}
}
