package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tuition-hub/benefit-resolver/internal/domain/catalog"
)

// CatalogCache stores catalog courses and tuition rates on top of Cache.
type CatalogCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewCatalogCache creates a CatalogCache. A non-positive ttl selects
// TTLCatalog.
func NewCatalogCache(cache *Cache, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = TTLCatalog
	}
	return &CatalogCache{cache: cache, ttl: ttl}
}

// GetCourses returns the cached courses among keys, and the keys that missed.
func (c *CatalogCache) GetCourses(ctx context.Context, keys []catalog.CourseKey) (map[catalog.CourseKey]catalog.Course, []catalog.CourseKey, error) {
	found := make(map[catalog.CourseKey]catalog.Course, len(keys))
	if len(keys) == 0 {
		return found, nil, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = CourseKey(k.String())
	}

	raw, err := c.cache.MGet(ctx, redisKeys...)
	if err != nil {
		return nil, keys, err
	}

	var missed []catalog.CourseKey
	for i, k := range keys {
		data, ok := raw[redisKeys[i]]
		if !ok {
			missed = append(missed, k)
			continue
		}
		var course catalog.Course
		if err := json.Unmarshal([]byte(data), &course); err != nil {
			missed = append(missed, k)
			continue
		}
		found[k] = course
	}
	return found, missed, nil
}

// SetCourses caches courses.
func (c *CatalogCache) SetCourses(ctx context.Context, courses map[catalog.CourseKey]catalog.Course) error {
	pairs := make(map[string]interface{}, len(courses))
	for k, course := range courses {
		pairs[CourseKey(k.String())] = course
	}
	return c.cache.MSet(ctx, pairs, c.ttl)
}

// GetTuitionRate returns a cached rate or ErrCacheMiss.
func (c *CatalogCache) GetTuitionRate(ctx context.Context, normalizedMajor string) (*catalog.TuitionRate, error) {
	var rate catalog.TuitionRate
	if err := c.cache.Get(ctx, TuitionRateKey(normalizedMajor), &rate); err != nil {
		return nil, err
	}
	return &rate, nil
}

// SetTuitionRate caches a rate.
func (c *CatalogCache) SetTuitionRate(ctx context.Context, rate *catalog.TuitionRate) error {
	if rate == nil {
		return nil
	}
	return c.cache.Set(ctx, TuitionRateKey(rate.NormalizedMajor), rate, c.ttl)
}

// InvalidateAll drops every catalog entry.
func (c *CatalogCache) InvalidateAll(ctx context.Context) error {
	return c.cache.DeleteByPattern(ctx, PrefixCatalog+"*")
}
