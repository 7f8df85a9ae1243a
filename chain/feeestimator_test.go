// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// countingEstimator counts backend queries and serves a fixed rate.
type countingEstimator struct {
	rate  btcutil.Amount
	err   error
	calls atomic.Int32
}

func (c *countingEstimator) EstimateRate(_ context.Context, _ uint32,
	_ EstimateMode) (btcutil.Amount, error) {

	c.calls.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return c.rate, nil
}

// TestStaticEstimator checks the fixed rate estimator.
func TestStaticEstimator(t *testing.T) {
	t.Parallel()

	rate, err := StaticEstimator{Rate: 5000}.EstimateRate(
		context.Background(), 6, EstimateModeConservative,
	)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(5000), rate)

	// An unconfigured static estimator has no estimate to give.
	_, err = StaticEstimator{}.EstimateRate(
		context.Background(), 6, EstimateModeUnset,
	)
	require.ErrorIs(t, err, ErrFeeUnavailable)
}

// TestEstimateModeFromString checks mode parsing.
func TestEstimateModeFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    EstimateMode
		wantErr bool
	}{
		{in: "", want: EstimateModeUnset},
		{in: "unset", want: EstimateModeUnset},
		{in: "economical", want: EstimateModeEconomical},
		{in: "conservative", want: EstimateModeConservative},
		{in: "CONSERVATIVE", want: EstimateModeConservative},
		{in: "fast", wantErr: true},
	}
	for _, test := range tests {
		mode, err := EstimateModeFromString(test.in)
		if test.wantErr {
			require.ErrorIs(t, err, ErrInvalidEstimateMode,
				"input %q", test.in)
			continue
		}
		require.NoError(t, err, "input %q", test.in)
		require.Equal(t, test.want, mode, "input %q", test.in)
	}
}

// TestCachingEstimator checks cache hits, per-key separation, TTL expiry,
// and error passthrough.
func TestCachingEstimator(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("caches per target and mode", func(t *testing.T) {
		t.Parallel()

		backend := &countingEstimator{rate: 4000}
		caching := NewCachingEstimator(backend, time.Minute)

		for i := 0; i < 3; i++ {
			rate, err := caching.EstimateRate(
				ctx, 6, EstimateModeConservative,
			)
			require.NoError(t, err)
			require.Equal(t, btcutil.Amount(4000), rate)
		}
		require.EqualValues(t, 1, backend.calls.Load())

		// A different target or mode is a distinct cache entry.
		_, err := caching.EstimateRate(
			ctx, 3, EstimateModeConservative,
		)
		require.NoError(t, err)
		_, err = caching.EstimateRate(ctx, 6, EstimateModeEconomical)
		require.NoError(t, err)
		require.EqualValues(t, 3, backend.calls.Load())
	})

	t.Run("ttl expiry", func(t *testing.T) {
		t.Parallel()

		backend := &countingEstimator{rate: 4000}
		caching := NewCachingEstimator(backend, 25*time.Millisecond)

		_, err := caching.EstimateRate(ctx, 6, EstimateModeUnset)
		require.NoError(t, err)

		time.Sleep(50 * time.Millisecond)

		_, err = caching.EstimateRate(ctx, 6, EstimateModeUnset)
		require.NoError(t, err)
		require.EqualValues(t, 2, backend.calls.Load())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		t.Parallel()

		backend := &countingEstimator{err: ErrFeeUnavailable}
		caching := NewCachingEstimator(backend, time.Minute)

		_, err := caching.EstimateRate(ctx, 6, EstimateModeUnset)
		require.ErrorIs(t, err, ErrFeeUnavailable)

		// Once the backend recovers the next query succeeds.
		backend.err = nil
		backend.rate = 7000

		rate, err := caching.EstimateRate(ctx, 6, EstimateModeUnset)
		require.NoError(t, err)
		require.Equal(t, btcutil.Amount(7000), rate)
		require.EqualValues(t, 2, backend.calls.Load())
	})
}
