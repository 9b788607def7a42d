package routing

import (
	"context"
	"sync"
	"time"

	"jeeproute/internal/geo"
)

type cacheKey struct {
	start, end geo.Coordinate
}

type cacheEntry struct {
	route   Route
	fetched time.Time
}

// Cache keeps successful routes for a fixed max age. Zones never move, so a
// re-route within the window does not hit the router again. Failures are not
// cached.
type Cache struct {
	next   Service
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

func NewCache(next Service, maxAge time.Duration) *Cache {
	return &Cache{
		next:    next,
		maxAge:  maxAge,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

func (c *Cache) FetchPolyline(ctx context.Context, start, end geo.Coordinate) (Route, error) {
	key := cacheKey{start: start, end: end}
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Sub(e.fetched) < c.maxAge {
		return cloneRoute(e.route), nil
	}

	r, err := c.next.FetchPolyline(ctx, start, end)
	if err != nil {
		return Route{}, err
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{route: cloneRoute(r), fetched: c.now()}
	c.mu.Unlock()
	return r, nil
}

// Purge drops every cached route.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

func cloneRoute(r Route) Route {
	coords := make([]geo.Coordinate, len(r.Coordinates))
	copy(coords, r.Coordinates)
	return Route{Coordinates: coords, DistanceMeters: r.DistanceMeters}
}
