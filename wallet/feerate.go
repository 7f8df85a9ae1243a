// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/coinforge/coinforge/chain"
)

// SatPerKVByte is a fee rate in satoshis per kilo-virtual-byte.  This is
// the standard unit for fee estimation of segwit transactions.
type SatPerKVByte btcutil.Amount

const (
	// DefaultMaxFeeRate is the default maximum fee rate the wallet
	// considers sane, 1000 sat/vb expressed in sat/kvb.  Requests above
	// it are rejected to protect against fat-finger fee rates.
	DefaultMaxFeeRate SatPerKVByte = 1000 * 1000

	// DefaultConfTarget is the confirmation target used when the caller
	// neither provides an explicit rate nor a target.
	DefaultConfTarget uint32 = 6

	// DefaultRelayFeeRate is the default minimum relay fee rate, taken
	// from the mempool relay rules.
	DefaultRelayFeeRate = SatPerKVByte(txrules.DefaultRelayFeePerKb)
)

// String returns the rate formatted as sat/kvb.
func (r SatPerKVByte) String() string {
	return fmt.Sprintf("%d sat/kvb", int64(r))
}

// SatPerVByte converts a fee rate given in satoshis per virtual byte into
// the internal sat/kvb representation.  Precision beyond three decimal
// places of sat/vb cannot be represented on the wire and is truncated
// toward zero: 1.0005 sat/vb becomes 1000 sat/kvb, never 1001.  A small
// epsilon absorbs binary float error so rates like 1.001 do not truncate
// a full satoshi short.
func SatPerVByte(rate float64) SatPerKVByte {
	return SatPerKVByte(math.Floor(rate*1000 + 1e-6))
}

// FeeForVSize returns the fee for a transaction of the given virtual size
// at this rate, rounded up to the next satoshi so the resulting rate is
// never below the requested one.
func (r SatPerKVByte) FeeForVSize(vsize int) btcutil.Amount {
	fee := (int64(r)*int64(vsize) + 999) / 1000

	if fee < 0 || fee > int64(btcutil.MaxSatoshi) {
		fee = int64(btcutil.MaxSatoshi)
	}
	return btcutil.Amount(fee)
}

// FeePolicy describes how the fee rate of one request is determined.
// Exactly one of ExplicitRate or (ConfTarget, Mode) may be provided; when
// neither is set the wallet's configured defaults apply.
type FeePolicy struct {
	// ExplicitRate is the caller-provided fee rate, when given.
	ExplicitRate fn.Option[SatPerKVByte]

	// ConfTarget is the confirmation target in blocks for automatic
	// estimation, when given.
	ConfTarget fn.Option[uint32]

	// Mode selects the estimation bias.  It may only accompany a
	// confirmation target, never an explicit rate.
	Mode chain.EstimateMode

	// OverrideMinRelay permits explicit rates below the minimum relay
	// rate.  It exists to unblock manual low-fee crafting; only
	// positivity is checked when set.
	OverrideMinRelay bool
}

// ResolveFeeRate turns a fee policy into a concrete fee rate, consulting
// the fee estimator when no explicit rate was provided.
//
// The rules mirror the policy checks of the original RPC surface: an
// explicit rate conflicts with both a confirmation target and a non-unset
// estimate mode, must be positive, and must meet the minimum relay rate
// unless the override flag is set.  Estimated rates are floored at the
// minimum relay rate.
func resolveFeeRate(ctx context.Context, policy FeePolicy,
	estimator chain.FeeEstimator, minRelay, maxRate SatPerKVByte,
	defaultTarget uint32, defaultMode chain.EstimateMode) (SatPerKVByte,
	error) {

	if policy.ExplicitRate.IsSome() {
		explicit := policy.ExplicitRate.UnwrapOr(0)

		if policy.ConfTarget.IsSome() {
			return 0, ErrConflictingFeeSpec
		}
		if policy.Mode != chain.EstimateModeUnset {
			return 0, fmt.Errorf("%w: estimate mode %v",
				ErrConflictingFeeSpec, policy.Mode)
		}

		if explicit <= 0 {
			return 0, ErrFeeRateNotPositive
		}
		if !policy.OverrideMinRelay && explicit < minRelay {
			return 0, fmt.Errorf("%w: %v < %v", ErrFeeRateTooLow,
				explicit, minRelay)
		}
		if explicit > maxRate {
			return 0, fmt.Errorf("%w: %v > %v",
				ErrFeeRateTooLarge, explicit, maxRate)
		}

		return explicit, nil
	}

	target := policy.ConfTarget.UnwrapOr(defaultTarget)
	mode := policy.Mode
	if mode == chain.EstimateModeUnset {
		mode = defaultMode
	}

	estimated, err := estimator.EstimateRate(ctx, target, mode)
	if err != nil {
		return 0, err
	}

	rate := SatPerKVByte(estimated)
	if rate < minRelay {
		log.Debugf("Estimated fee rate %v below relay minimum, "+
			"using %v", rate, minRelay)
		rate = minRelay
	}
	if rate > maxRate {
		return 0, fmt.Errorf("%w: estimator returned %v",
			ErrFeeRateTooLarge, rate)
	}

	return rate, nil
}
