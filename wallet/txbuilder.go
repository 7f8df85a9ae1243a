// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/coinforge/coinforge/coindb"
)

// ChangeSource provides change scripts for transaction creation.
type ChangeSource struct {
	// NewScript is a closure that produces a new change script.  It is
	// only invoked when the funded transaction actually carries change,
	// so no address is burned on changeless transactions.
	NewScript func() ([]byte, error)

	// ScriptSize is the size in bytes of the scripts produced by
	// NewScript, needed for fee estimation before a script exists.
	ScriptSize int
}

// AuthoredTx holds the state of a newly constructed, unsigned transaction
// together with everything needed to sign it and to account for it.
type AuthoredTx struct {
	// Tx is the unsigned transaction.
	Tx *wire.MsgTx

	// PrevScripts and PrevInputValues describe the outputs being spent,
	// index aligned with Tx.TxIn.
	PrevScripts     [][]byte
	PrevInputValues []btcutil.Amount

	// TotalInput is the summed value of all inputs.
	TotalInput btcutil.Amount

	// Fee is the absolute fee the transaction pays.
	Fee btcutil.Amount

	// ChangeIndex is the output index of the change output, or -1 when
	// the transaction has no change.
	ChangeIndex int

	// Reservation identifies the lease placed on the selected inputs so
	// concurrent funding attempts do not double spend them.  It is set
	// by the wallet, not the builder.
	Reservation coindb.LeaseID
}

// txBuilder assembles one unsigned transaction from normalized outputs
// and priced input candidates.
type txBuilder struct {
	outputs *parsedOutputs

	// mandatory are caller pre-selected inputs that must appear in the
	// transaction.  optional are the remaining policy approved
	// candidates the builder may draw from.
	mandatory []candidate
	optional  []candidate

	// available is the summed value of every coin usable under the
	// active policy, reported on funding failure.
	available btcutil.Amount

	rate     SatPerKVByte
	relayFee SatPerKVByte

	changeSource *ChangeSource
	changePos    fn.Option[int]

	avoidPartialSpends bool
	lockTime           uint32
	replaceable        bool

	shuf *shuffler
}

// build funds and assembles the unsigned transaction.  Recipients either
// pay the fee out of their own outputs or the selected inputs pay it on
// top, depending on whether any recipient was designated a fee bearer.
func (b *txBuilder) build() (*AuthoredTx, error) {
	if b.changePos.IsSome() {
		pos := b.changePos.UnwrapOr(0)
		if pos < 0 || pos > len(b.outputs.outputs) {
			return nil, fmt.Errorf("%w: %d with %d outputs",
				ErrInvalidChangePosition, pos,
				len(b.outputs.outputs))
		}
	}

	if len(b.outputs.subtractFee) > 0 {
		return b.buildSubtractFee()
	}
	return b.buildAddFee()
}

// buildAddFee funds the transaction with the fee paid on top of the
// requested outputs.
//
// Selection works on effective values: every input pays the fee its own
// size costs, and the needed amount covers the requested outputs plus the
// fee of the input-less transaction skeleton including a change output.
// Because the per-input fee share is rounded up, a selection that covers
// the need also covers the exact fee of the final transaction, so change
// can never go negative and no reselection loop is required.
func (b *txBuilder) buildAddFee() (*AuthoredTx, error) {
	target := b.outputs.target
	skeletonVSize := txsizes.EstimateVirtualSize(
		0, 0, 0, 0, b.outputs.outputs, b.changeSource.ScriptSize,
	)

	// The shared segwit marker and flag bytes belong to no single input,
	// so the per-input size estimates cannot absorb them.  They are
	// charged to the skeleton whenever a witness input may be selected,
	// otherwise a selection can come up one virtual byte short of the
	// final transaction.
	if hasWitnessCandidate(b.mandatory) || hasWitnessCandidate(b.optional) {
		skeletonVSize++
	}
	fixedFee := b.rate.FeeForVSize(skeletonVSize)

	selected := make([]candidate, 0, len(b.mandatory))
	selected = append(selected, b.mandatory...)

	var total, effectiveSum btcutil.Amount
	for _, cand := range b.mandatory {
		total += cand.coin.Amount
		effectiveSum += cand.effective
	}

	needed := target + fixedFee
	changeless := false

	if effectiveSum < needed {
		groups := groupCandidates(b.optional, b.avoidPartialSpends)
		extra, extraTotal, noChange, ok := selectGroups(
			groups, needed-effectiveSum,
			b.changeSource.ScriptSize, b.relayFee, b.shuf,
		)
		if !ok {
			return nil, &InsufficientFundsError{
				TargetAmount:    target,
				RequiredFee:     fixedFee,
				AvailableAmount: b.available,
			}
		}

		// The changeless shortcut only holds when nothing was
		// mandatory, as pre-selected inputs shift the surplus.
		changeless = noChange && len(b.mandatory) == 0

		selected = append(selected, extra...)
		total += extraTotal
	}

	p2pkh, p2tr, p2wpkh, nested := countInputKinds(selected)
	vsizeWithChange := txsizes.EstimateVirtualSize(
		p2pkh, p2tr, p2wpkh, nested, b.outputs.outputs,
		b.changeSource.ScriptSize,
	)
	feeWithChange := b.rate.FeeForVSize(vsizeWithChange)

	change := total - target - feeWithChange
	if change < 0 {
		// Effective value accounting makes the selection cover the
		// exact fee of the final transaction, so a shortfall here
		// means the size estimation and the selection disagree.
		return nil, fmt.Errorf("%w: %v short after selecting %d "+
			"inputs", ErrFeeCalculationFailed, -change,
			len(selected))
	}

	dustChange := changeless || isDustAmount(
		change, b.changeSource.ScriptSize, b.relayFee,
	)
	if dustChange {
		// The surplus is not worth an output; it is left to the
		// miner instead.
		return b.assemble(selected, total, total-target, 0)
	}

	return b.assemble(selected, total, feeWithChange, change)
}

// buildSubtractFee funds the transaction with the fee taken out of the
// designated recipient outputs.  The inputs only need to cover the face
// value of the requested outputs; the fee is split evenly across the fee
// bearers with any division remainder charged to the first one.
func (b *txBuilder) buildSubtractFee() (*AuthoredTx, error) {
	target := b.outputs.target

	selected := make([]candidate, 0, len(b.mandatory))
	selected = append(selected, b.mandatory...)

	var total btcutil.Amount
	for _, cand := range b.mandatory {
		total += cand.coin.Amount
	}

	changeless := false
	if total < target {
		groups := groupCandidates(b.optional, b.avoidPartialSpends)
		// Fee bearers pay for the inputs too, so groups are weighed
		// by face value rather than effective value here.
		for i := range groups {
			groups[i].effective = groups[i].amount
		}

		extra, extraTotal, noChange, ok := selectGroups(
			groups, target-total, b.changeSource.ScriptSize,
			b.relayFee, b.shuf,
		)
		if !ok {
			return nil, &InsufficientFundsError{
				TargetAmount:    target,
				AvailableAmount: b.available,
			}
		}

		changeless = noChange && len(b.mandatory) == 0
		selected = append(selected, extra...)
		total += extraTotal
	}

	p2pkh, p2tr, p2wpkh, nested := countInputKinds(selected)

	surplus := total - target
	haveChange := !changeless && !isDustAmount(
		surplus, b.changeSource.ScriptSize, b.relayFee,
	)

	changeScriptSize := 0
	if haveChange {
		changeScriptSize = b.changeSource.ScriptSize
	}
	vsize := txsizes.EstimateVirtualSize(
		p2pkh, p2tr, p2wpkh, nested, b.outputs.outputs,
		changeScriptSize,
	)
	subtracted := b.rate.FeeForVSize(vsize)

	if err := b.deductFee(subtracted); err != nil {
		return nil, err
	}

	if haveChange {
		return b.assemble(selected, total, subtracted, surplus)
	}
	// Without change the surplus joins the fee.
	return b.assemble(selected, total, subtracted+surplus, 0)
}

// deductFee spreads the fee across the designated fee bearing outputs,
// charging the division remainder to the first one.  Every reduced output
// must stay above the dust limit.
func (b *txBuilder) deductFee(fee btcutil.Amount) error {
	bearers := b.outputs.subtractFee
	share := fee / btcutil.Amount(len(bearers))
	remainder := fee % btcutil.Amount(len(bearers))

	for i, idx := range bearers {
		deduction := share
		if i == 0 {
			deduction += remainder
		}

		out := b.outputs.outputs[idx]
		out.Value -= int64(deduction)

		if out.Value <= 0 || txrules.IsDustOutput(
			out, btcutil.Amount(b.relayFee),
		) {

			return fmt.Errorf("%w: output %d reduced to %v",
				ErrAmountTooSmallAfterFee, idx,
				btcutil.Amount(out.Value))
		}
	}

	return nil
}

// assemble turns the selected inputs and final outputs into an unsigned
// wire transaction.  Inputs are shuffled, sequences are set according to
// replaceability and lock time, and a change output is inserted at the
// requested or a random position when changeAmount is non-zero.
func (b *txBuilder) assemble(selected []candidate, total btcutil.Amount,
	fee btcutil.Amount, changeAmount btcutil.Amount) (*AuthoredTx,
	error) {

	b.shuf.shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})

	sequence := uint32(wire.MaxTxInSequenceNum)
	switch {
	case b.replaceable:
		sequence = wire.MaxTxInSequenceNum - 2
	case b.lockTime != 0:
		sequence = wire.MaxTxInSequenceNum - 1
	}

	tx := &wire.MsgTx{
		Version:  wire.TxVersion,
		LockTime: b.lockTime,
	}
	prevScripts := make([][]byte, 0, len(selected))
	prevValues := make([]btcutil.Amount, 0, len(selected))

	for _, cand := range selected {
		txIn := wire.NewTxIn(&cand.coin.OutPoint, nil, nil)
		txIn.Sequence = sequence
		tx.AddTxIn(txIn)

		prevScripts = append(prevScripts, cand.coin.PkScript)
		prevValues = append(prevValues, cand.coin.Amount)
	}

	for _, out := range b.outputs.outputs {
		tx.AddTxOut(out)
	}

	changeIndex := -1
	if changeAmount > 0 {
		changeScript, err := b.changeSource.NewScript()
		if err != nil {
			return nil, err
		}
		changeOut := wire.NewTxOut(int64(changeAmount), changeScript)

		pos := b.shuf.intn(len(tx.TxOut) + 1)
		if b.changePos.IsSome() {
			pos = b.changePos.UnwrapOr(0)
		}

		tx.TxOut = append(tx.TxOut, nil)
		copy(tx.TxOut[pos+1:], tx.TxOut[pos:])
		tx.TxOut[pos] = changeOut
		changeIndex = pos
	} else if b.changePos.IsSome() {
		log.Warnf("Requested change position %d ignored: the "+
			"transaction carries no change output",
			b.changePos.UnwrapOr(0))
	}

	log.Debugf("Assembled unsigned transaction: %d %s, %d %s, fee %v",
		len(tx.TxIn), pickNoun(len(tx.TxIn), "input", "inputs"),
		len(tx.TxOut), pickNoun(len(tx.TxOut), "output", "outputs"),
		fee)

	return &AuthoredTx{
		Tx:              tx,
		PrevScripts:     prevScripts,
		PrevInputValues: prevValues,
		TotalInput:      total,
		Fee:             fee,
		ChangeIndex:     changeIndex,
	}, nil
}

// isDustAmount reports whether an output of the passed value with a
// script of the given size would be rejected as dust at the relay rate.
// The dust rules are published over concrete outputs only, so one is
// synthesized from the size.
func isDustAmount(amount btcutil.Amount, scriptSize int,
	relayFee SatPerKVByte) bool {

	return txrules.IsDustOutput(&wire.TxOut{
		Value:    int64(amount),
		PkScript: make([]byte, scriptSize),
	}, btcutil.Amount(relayFee))
}

// hasWitnessCandidate reports whether any candidate spends a witness
// output.
func hasWitnessCandidate(cands []candidate) bool {
	for _, cand := range cands {
		if cand.kind.Witness() {
			return true
		}
	}
	return false
}

// countInputKinds tallies the selected inputs by spend type for size
// estimation.  Witness script hash inputs are approximated as witness
// pubkey hash spends.
func countInputKinds(selected []candidate) (p2pkh, p2tr, p2wpkh,
	nested int) {

	for _, cand := range selected {
		switch cand.kind {
		case KindP2PKH:
			p2pkh++
		case KindP2TR:
			p2tr++
		case KindP2WPKH, KindP2WSH:
			p2wpkh++
		case KindNestedP2WPKH:
			nested++
		}
	}
	return p2pkh, p2tr, p2wpkh, nested
}
