// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"golang.org/x/sync/singleflight"
)

const (
	// defaultFeeCacheSize is the maximum number of distinct
	// (target, mode) estimates kept by a CachingEstimator.
	defaultFeeCacheSize = 100

	// defaultFeeCacheTTL is how long a cached estimate stays fresh.  Fee
	// conditions move on block cadence, so a sub-minute TTL keeps the
	// cache useful without serving stale rates.
	defaultFeeCacheTTL = 30 * time.Second
)

// StaticEstimator is a FeeEstimator that always returns the same rate.  It
// is used for offline operation and in tests.
type StaticEstimator struct {
	// Rate is the fee rate returned for every query, in sat/kvb.
	Rate btcutil.Amount
}

// EstimateRate returns the configured static rate.
//
// This is part of the FeeEstimator interface.
func (s StaticEstimator) EstimateRate(_ context.Context, _ uint32,
	_ EstimateMode) (btcutil.Amount, error) {

	if s.Rate <= 0 {
		return 0, ErrFeeUnavailable
	}
	return s.Rate, nil
}

// cachedRate is a fee rate with the time it was produced, stored in the LRU
// cache of a CachingEstimator.
type cachedRate struct {
	rate btcutil.Amount
	at   time.Time
}

// Size returns the cache weight of the entry.  Every entry weighs the same,
// making the cache capacity a simple entry count.
//
// This is part of the cache.Value interface.
func (c *cachedRate) Size() (uint64, error) {
	return 1, nil
}

// feeCacheKey identifies one estimate in the cache.
type feeCacheKey struct {
	target uint32
	mode   EstimateMode
}

// CachingEstimator wraps another FeeEstimator with a small TTL-bounded LRU
// cache and collapses concurrent queries for the same target into a single
// backend call.  Fee estimation backends are typically remote, so
// transaction construction paths should not fan out one RPC per request.
type CachingEstimator struct {
	estimator FeeEstimator
	ttl       time.Duration
	cache     *lru.Cache[feeCacheKey, *cachedRate]
	group     singleflight.Group
}

// NewCachingEstimator returns a CachingEstimator wrapping the passed
// estimator.  A non-positive ttl selects the default.
func NewCachingEstimator(estimator FeeEstimator,
	ttl time.Duration) *CachingEstimator {

	if ttl <= 0 {
		ttl = defaultFeeCacheTTL
	}
	return &CachingEstimator{
		estimator: estimator,
		ttl:       ttl,
		cache: lru.NewCache[feeCacheKey, *cachedRate](
			defaultFeeCacheSize,
		),
	}
}

// EstimateRate returns a cached estimate when one is fresh, and otherwise
// queries the wrapped estimator.  Concurrent cache misses for the same
// target share one backend call.
//
// This is part of the FeeEstimator interface.
func (c *CachingEstimator) EstimateRate(ctx context.Context,
	confTarget uint32, mode EstimateMode) (btcutil.Amount, error) {

	key := feeCacheKey{target: confTarget, mode: mode}

	entry, err := c.cache.Get(key)
	switch {
	case err == nil && time.Since(entry.at) < c.ttl:
		log.Tracef("Fee estimate cache hit for target=%d mode=%v: %v",
			confTarget, mode, entry.rate)
		return entry.rate, nil

	case err != nil && err != cache.ErrElementNotFound:
		return 0, err
	}

	flightKey := fmt.Sprintf("%d/%d", confTarget, mode)
	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		rate, err := c.estimator.EstimateRate(ctx, confTarget, mode)
		if err != nil {
			return nil, err
		}

		_, err = c.cache.Put(key, &cachedRate{
			rate: rate,
			at:   time.Now(),
		})
		if err != nil {
			return nil, err
		}

		log.Debugf("Cached fee estimate for target=%d mode=%v: %v",
			confTarget, mode, rate)

		return rate, nil
	})
	if err != nil {
		return 0, err
	}

	return v.(btcutil.Amount), nil
}
