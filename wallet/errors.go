// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	// ErrNilIntent is returned when a nil transaction intent is provided.
	ErrNilIntent = errors.New("nil TxIntent")

	// ErrNoRecipients is returned when a transaction is requested without
	// any recipients.
	ErrNoRecipients = errors.New("no recipients")

	// ErrInvalidAddress is returned when a recipient address is nil or
	// does not belong to the configured network.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrDuplicateDestination is returned when two recipients of one
	// request pay to the same destination.  The wrapped message carries
	// the offending address.
	ErrDuplicateDestination = errors.New("duplicated address")

	// ErrAmountTooSmall is returned when a recipient amount is below the
	// network's minimum acceptable output value.
	ErrAmountTooSmall = errors.New("amount below dust threshold")

	// ErrInvalidSubtractFeeTarget is returned when a subtract-fee entry
	// does not reference any recipient of the request.
	ErrInvalidSubtractFeeTarget = errors.New(
		"invalid subtract fee target")

	// ErrConflictingFeeSpec is returned when both an explicit fee rate
	// and a confirmation target or estimate mode are provided.
	ErrConflictingFeeSpec = errors.New(
		"cannot specify both an explicit fee rate and a " +
			"confirmation target")

	// ErrFeeRateNotPositive is returned when an explicit fee rate is zero
	// or negative.
	ErrFeeRateNotPositive = errors.New("fee rate must be positive")

	// ErrFeeRateTooLow is returned when an explicit fee rate is below the
	// configured minimum relay rate and the override flag is not set.
	ErrFeeRateTooLow = errors.New("fee rate below minimum relay rate")

	// ErrFeeRateTooLarge is returned when a fee rate exceeds the
	// configured maximum sane fee rate.
	ErrFeeRateTooLarge = errors.New("fee rate too large")

	// ErrNoUsableInputs is returned when every candidate coin was
	// filtered out by the selection policy before any funding attempt
	// could be made.
	ErrNoUsableInputs = errors.New("no usable inputs under current policy")

	// ErrPreSelectedSpent is returned when a caller-specified input is
	// not present in the catalog snapshot.
	ErrPreSelectedSpent = errors.New("pre-selected input not available")

	// ErrDuplicateOutpoint is returned when the same outpoint is
	// specified multiple times in one request.
	ErrDuplicateOutpoint = errors.New("duplicated outpoint")

	// ErrFeeCalculationFailed is returned when the fee iteration of the
	// transaction builder does not converge.
	ErrFeeCalculationFailed = errors.New("fee calculation did not converge")

	// ErrAmountTooSmallAfterFee is returned when subtracting the fee from
	// a designated output drives its value below the dust threshold.
	ErrAmountTooSmallAfterFee = errors.New(
		"output amount too small after fee subtraction")

	// ErrInvalidChangePosition is returned when an explicit change
	// position lies outside [0, output count].
	ErrInvalidChangePosition = errors.New("change position out of range")

	// ErrUncompressedKey is returned when a witness spend resolves to an
	// uncompressed key.  Witness programs are only defined over
	// compressed keys, so such an input can never be signed.
	ErrUncompressedKey = errors.New(
		"witness spends require a compressed key")

	// ErrWalletLocked is returned when an operation requiring key access
	// is attempted while the session is locked.
	ErrWalletLocked = errors.New("wallet is locked")

	// ErrInvalidPassphrase is returned when an unlock attempt presents
	// the wrong passphrase.
	ErrInvalidPassphrase = errors.New("invalid passphrase")
)

// InsufficientFundsError describes a failed funding attempt: the amount
// that was requested, the fee that would have been required, and the total
// value that was actually available under the active selection policy.
type InsufficientFundsError struct {
	// TargetAmount is the total of all requested outputs.
	TargetAmount btcutil.Amount

	// RequiredFee is the fee estimate of the last attempted input set.
	RequiredFee btcutil.Amount

	// AvailableAmount is the summed value of all usable candidates.
	AvailableAmount btcutil.Amount
}

// Error describes the failure with all three amounts so the caller can
// render it without re-deriving context.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds available to construct "+
		"transaction: amount: %v, minimum fee: %v, available "+
		"amount: %v", e.TargetAmount, e.RequiredFee,
		e.AvailableAmount)
}

// ErrInsufficientFunds can be used with errors.Is to match any
// InsufficientFundsError regardless of its amounts.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Is reports whether the target matches the generic sentinel.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
