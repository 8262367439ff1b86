package multirun

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/warriorguo/blockflow/types"
)

const (
	usageCacheKey = "usage"
)

// UsageSource reports the current usage of the account, *client.Client is one.
type UsageSource interface {
	GetUsage(ctx context.Context) (*types.UsageSnapshot, error)
}

/**
 * Cache is the storage of usage snapshots. It is owned by whoever builds
 * the checkers, several checkers sharing a Cache share their snapshots.
 * *cache.Cache from go-cache satisfies it.
 */
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
}

func NewCache(ttl time.Duration) Cache {
	return cache.New(ttl, 2*ttl)
}

/**
 * QuotaChecker hands out usage snapshots, reusing a cached one until it
 * expires. Concurrent refreshes through the same checker collapse into a
 * single request.
 */
type QuotaChecker struct {
	source UsageSource
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
}

func NewQuotaChecker(source UsageSource, c Cache, ttl time.Duration) *QuotaChecker {
	if c == nil {
		c = NewCache(ttl)
	}
	return &QuotaChecker{
		source: source,
		cache:  c,
		ttl:    ttl,
	}
}

// Check returns the cached snapshot unless force is set or it has expired.
func (q *QuotaChecker) Check(ctx context.Context, force bool) (*types.UsageSnapshot, error) {
	if !force {
		if v, ok := q.cache.Get(usageCacheKey); ok {
			if usage, ok := v.(*types.UsageSnapshot); ok {
				return usage, nil
			}
		}
	}

	v, err, _ := q.group.Do(usageCacheKey, func() (interface{}, error) {
		usage, err := q.source.GetUsage(ctx)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to fetch usage")
		}
		q.cache.Set(usageCacheKey, usage, q.ttl)
		return usage, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.UsageSnapshot), nil
}
