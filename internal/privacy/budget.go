package privacy

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Budget tracks per-(actor, region) query counts in process memory.
//
// This is a best-effort throttle, deliberately not shared across service
// instances and allowed to be approximate. Counters expire on their own so
// the map stays bounded.
type Budget struct {
	counters *gocache.Cache
}

// NewBudget creates a budget tracker whose counters reset after window.
func NewBudget(window time.Duration) *Budget {
	return &Budget{counters: gocache.New(window, window/4)}
}

// Allow increments the counter for (actorID, regionKey) and reports whether
// the caller is still within ceiling queries for that region.
func (b *Budget) Allow(actorID, regionKey string, ceiling int) bool {
	key := fmt.Sprintf("%s|%s", actorID, regionKey)

	if err := b.counters.Add(key, 1, gocache.DefaultExpiration); err == nil {
		return ceiling >= 1
	}
	count, err := b.counters.IncrementInt(key, 1)
	if err != nil {
		// Counter expired between Add and Increment; start over.
		b.counters.Set(key, 1, gocache.DefaultExpiration)
		return ceiling >= 1
	}
	return count <= ceiling
}
