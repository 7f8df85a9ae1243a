// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Recipient is one requested payment of a transaction intent.
type Recipient struct {
	// Address is the destination the payment is made to.
	Address btcutil.Address

	// PkScript is a raw output script used when the destination has no
	// address form, such as a null data carrier.  It is only consulted
	// when Address is nil.
	PkScript []byte

	// Amount is the value paid to the destination before any fee
	// subtraction.
	Amount btcutil.Amount

	// SubtractFee designates this recipient as a fee bearer: its share
	// of the transaction fee is deducted from Amount instead of being
	// paid on top by the selected inputs.
	SubtractFee bool
}

// parsedOutputs is the normalized form of a recipient list: concrete wire
// outputs in recipient order, the indices of the fee bearing outputs, and
// the total requested value.
type parsedOutputs struct {
	outputs     []*wire.TxOut
	subtractFee []int
	target      btcutil.Amount
}

// normalizeRecipients validates a recipient list and converts it into wire
// outputs.
//
// Every address must belong to the configured network, appear at most
// once, and carry a positive amount that passes the relay sanity and dust
// checks.  The one exemption is a zero value null data script, which
// carries no spendable value and is never subject to the dust rules.
// Outputs designated as fee bearers are validated against the dust limit
// again after fee subtraction by the builder, since only then is their
// final value known.
func normalizeRecipients(recipients []Recipient, relayFee SatPerKVByte,
	chainParams *chaincfg.Params) (*parsedOutputs, error) {

	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	parsed := &parsedOutputs{
		outputs: make([]*wire.TxOut, 0, len(recipients)),
	}
	seen := fn.NewSet[string]()

	for i, recipient := range recipients {
		pkScript := recipient.PkScript
		encoded := fmt.Sprintf("output script %x", pkScript)

		switch {
		case recipient.Address != nil:
			if !recipient.Address.IsForNet(chainParams) {
				return nil, fmt.Errorf("%w: %v is not a %s "+
					"address", ErrInvalidAddress,
					recipient.Address.EncodeAddress(),
					chainParams.Name)
			}
			encoded = recipient.Address.EncodeAddress()

			var err error
			pkScript, err = txscript.PayToAddrScript(
				recipient.Address,
			)
			if err != nil {
				return nil, fmt.Errorf("%w: %v",
					ErrInvalidAddress, err)
			}

		case len(pkScript) == 0:
			return nil, fmt.Errorf("%w: recipient %d has no "+
				"destination", ErrInvalidAddress, i)
		}

		if seen.Contains(encoded) {
			return nil, fmt.Errorf("%w: %v",
				ErrDuplicateDestination, encoded)
		}
		seen.Add(encoded)

		txOut := wire.NewTxOut(int64(recipient.Amount), pkScript)

		// A zero value data carrier contributes nothing to the
		// funding target and cannot bear any fee.
		if recipient.Amount == 0 &&
			ScriptKindOf(pkScript) == KindNullData {

			if recipient.SubtractFee {
				return nil, fmt.Errorf("%w: data carrier "+
					"output %d cannot bear fees",
					ErrInvalidSubtractFeeTarget, i)
			}

			parsed.outputs = append(parsed.outputs, txOut)
			continue
		}

		if recipient.Amount <= 0 {
			return nil, fmt.Errorf("%w: recipient %v has "+
				"non-positive amount %v", ErrAmountTooSmall,
				encoded, recipient.Amount)
		}

		err := txrules.CheckOutput(txOut, btcutil.Amount(relayFee))
		if err != nil {
			return nil, fmt.Errorf("%w: recipient %v: %v",
				ErrAmountTooSmall, encoded, err)
		}

		parsed.outputs = append(parsed.outputs, txOut)
		parsed.target += recipient.Amount
		if recipient.SubtractFee {
			parsed.subtractFee = append(parsed.subtractFee, i)
		}
	}

	return parsed, nil
}

// MarkSubtractFee flags the recipients matching the passed addresses as
// fee bearers.  Each address must correspond to exactly one recipient of
// the slice; an address without a match yields
// ErrInvalidSubtractFeeTarget.  The recipients are modified in place.
func MarkSubtractFee(recipients []Recipient, addrs []btcutil.Address) error {
	byAddr := make(map[string]int, len(recipients))
	for i, recipient := range recipients {
		if recipient.Address == nil {
			continue
		}
		byAddr[recipient.Address.EncodeAddress()] = i
	}

	for _, addr := range addrs {
		if addr == nil {
			return fmt.Errorf("%w: nil address",
				ErrInvalidSubtractFeeTarget)
		}

		idx, ok := byAddr[addr.EncodeAddress()]
		if !ok {
			return fmt.Errorf("%w: %v does not match any "+
				"recipient", ErrInvalidSubtractFeeTarget,
				addr.EncodeAddress())
		}
		recipients[idx].SubtractFee = true
	}

	return nil
}
