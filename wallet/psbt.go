// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// FundPsbt performs coin selection for the intent and returns the funded
// transaction as a partially signed bitcoin transaction packet, together
// with the output index of the change output in the sorted packet, or -1
// when the transaction carries no change.
//
// The packet's inputs are decorated with the witness UTXO information
// needed by downstream signers.  Inputs and outputs are sorted according
// to BIP 69, so output positions requested in the intent do not survive
// into the packet.
func (w *Wallet) FundPsbt(ctx context.Context, intent *TxIntent) (
	*psbt.Packet, int32, error) {

	authored, err := w.CreateTransaction(ctx, intent)
	if err != nil {
		return nil, 0, err
	}

	return packetFromAuthoredTx(authored)
}

// packetFromAuthoredTx converts an authored transaction into a sorted
// PSBT packet with decorated inputs.
func packetFromAuthoredTx(authored *AuthoredTx) (*psbt.Packet, int32,
	error) {

	packet, err := psbt.NewFromUnsignedTx(authored.Tx)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to create packet: %w", err)
	}

	for i := range packet.Inputs {
		prevScript := authored.PrevScripts[i]

		// Witness spends are fully described by the previous output
		// alone.  Legacy inputs would need the entire previous
		// transaction, which the catalog does not carry, so they are
		// left for the signer to complete.
		if !ScriptKindOf(prevScript).Witness() {
			continue
		}

		packet.Inputs[i].WitnessUtxo = &wire.TxOut{
			Value:    int64(authored.PrevInputValues[i]),
			PkScript: prevScript,
		}
	}

	var changeOutput *wire.TxOut
	if authored.ChangeIndex >= 0 {
		changeOutput = authored.Tx.TxOut[authored.ChangeIndex]
	}

	if err := psbt.InPlaceSort(packet); err != nil {
		return nil, 0, fmt.Errorf("cannot sort psbt: %w", err)
	}

	// Sorting invalidates the original change index, so it is located
	// again in the sorted outputs.
	changeIndex, err := findChangeIndex(changeOutput, packet)
	if err != nil {
		return nil, 0, err
	}

	return packet, changeIndex, nil
}

// findChangeIndex returns the index of the change output within the
// sorted packet, or -1 when the transaction has no change.
func findChangeIndex(changeOutput *wire.TxOut, packet *psbt.Packet) (int32,
	error) {

	if changeOutput == nil {
		return -1, nil
	}

	for i, txOut := range packet.UnsignedTx.TxOut {
		if txOut.Value == changeOutput.Value &&
			bytes.Equal(txOut.PkScript, changeOutput.PkScript) {

			return int32(i), nil
		}
	}

	return 0, errors.New("change output missing from sorted packet")
}
