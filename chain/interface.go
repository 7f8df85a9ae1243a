// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain defines the interfaces the transaction construction engine
// expects from its chain-facing collaborators: a fee estimation oracle and a
// confirmed output lookup.  Implementations are expected to be backed by a
// full node or an SPV backend, but the engine only ever sees these
// interfaces.
package chain

import (
	"context"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrFeeUnavailable is returned by a FeeEstimator when no estimate can
	// be produced for the requested target, for example because the
	// backend has not observed enough transactions yet.
	ErrFeeUnavailable = errors.New("fee estimate unavailable")

	// ErrCoinNotFound is returned by a Query when the requested outpoint
	// does not exist or has already been spent.
	ErrCoinNotFound = errors.New("coin not found")

	// ErrInvalidEstimateMode is returned when an estimate mode string does
	// not name a known mode.
	ErrInvalidEstimateMode = errors.New("invalid estimate mode")
)

// EstimateMode selects the bias of a fee estimation: economical estimates
// react faster to recent blocks while conservative estimates are less prone
// to underpaying during fee spikes.
type EstimateMode uint8

const (
	// EstimateModeUnset leaves the choice of bias to the estimator.
	EstimateModeUnset EstimateMode = iota

	// EstimateModeEconomical requests a cheaper, more reactive estimate.
	EstimateModeEconomical

	// EstimateModeConservative requests a safer, slower moving estimate.
	EstimateModeConservative
)

// String returns the canonical lower-case name of the mode.
func (m EstimateMode) String() string {
	switch m {
	case EstimateModeUnset:
		return "unset"
	case EstimateModeEconomical:
		return "economical"
	case EstimateModeConservative:
		return "conservative"
	default:
		return "unknown"
	}
}

// EstimateModeFromString parses the string representation of an estimate
// mode.  Matching is case insensitive.  Unknown values return
// ErrInvalidEstimateMode.
func EstimateModeFromString(s string) (EstimateMode, error) {
	switch strings.ToLower(s) {
	case "unset", "":
		return EstimateModeUnset, nil
	case "economical":
		return EstimateModeEconomical, nil
	case "conservative":
		return EstimateModeConservative, nil
	default:
		return 0, ErrInvalidEstimateMode
	}
}

// FeeEstimator is the fee oracle consulted when the caller did not provide
// an explicit fee rate.  The returned amount is a fee rate in satoshis per
// kilo-virtual-byte (sat/kvb).
type FeeEstimator interface {
	// EstimateRate returns the fee rate estimated to confirm a
	// transaction within confTarget blocks.  ErrFeeUnavailable is
	// returned when the backend cannot produce an estimate.
	EstimateRate(ctx context.Context, confTarget uint32,
		mode EstimateMode) (btcutil.Amount, error)
}

// ConfirmedOutput describes a transaction output found on chain.  It is used
// when a caller supplies inputs that are not tracked by the wallet's own
// catalog and external solving data is required.
type ConfirmedOutput struct {
	// TxOut is the output's value and script.
	TxOut wire.TxOut

	// Height is the height of the block the output was confirmed in, or
	// zero when the output is still in the mempool.
	Height int32

	// Confirmations is the depth of the output at the time of the query.
	Confirmations int32
}

// Query looks up chain state the engine cannot derive on its own.
type Query interface {
	// FindCoin returns the output referenced by op, or ErrCoinNotFound.
	FindCoin(ctx context.Context, op wire.OutPoint) (*ConfirmedOutput,
		error)

	// BestHeight returns the height of the current chain tip.
	BestHeight(ctx context.Context) (int32, error)
}
