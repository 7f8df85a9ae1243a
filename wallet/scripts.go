// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// ScriptKind is the closed set of output script kinds the engine
// understands.  The set is fixed per chain version, so a tagged constant is
// used rather than an open interface hierarchy.
type ScriptKind uint8

const (
	// KindP2PKH is a pay-to-pubkey-hash output.
	KindP2PKH ScriptKind = iota

	// KindNestedP2WPKH is a pay-to-witness-pubkey-hash output nested in
	// P2SH.  Plain P2SH outputs are treated as nested witness spends for
	// size estimation, matching the worst common case.
	KindNestedP2WPKH

	// KindP2WPKH is a native pay-to-witness-pubkey-hash output.
	KindP2WPKH

	// KindP2WSH is a native pay-to-witness-script-hash output.
	KindP2WSH

	// KindP2TR is a taproot output.
	KindP2TR

	// KindNullData is an unspendable data carrier output.
	KindNullData
)

// ScriptKindOf classifies a public key script.  Anything that is not a
// recognized witness or data-carrier script classifies as P2PKH, which is
// the most conservative size assumption for fee estimation.
func ScriptKindOf(pkScript []byte) ScriptKind {
	switch {
	case txscript.IsPayToScriptHash(pkScript):
		return KindNestedP2WPKH

	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		return KindP2WPKH

	case txscript.IsPayToWitnessScriptHash(pkScript):
		return KindP2WSH

	case txscript.IsPayToTaproot(pkScript):
		return KindP2TR

	case txscript.IsNullData(pkScript):
		return KindNullData

	default:
		return KindP2PKH
	}
}

// Describe returns a short human readable name for the script kind.
func (k ScriptKind) Describe() string {
	switch k {
	case KindP2PKH:
		return "p2pkh"
	case KindNestedP2WPKH:
		return "p2sh-p2wpkh"
	case KindP2WPKH:
		return "p2wpkh"
	case KindP2WSH:
		return "p2wsh"
	case KindP2TR:
		return "p2tr"
	case KindNullData:
		return "nulldata"
	default:
		return "unknown"
	}
}

// EstimateInputSize returns the worst case number of virtual bytes an input
// spending an output of this kind adds to a transaction.  Data carrier
// outputs are unspendable and report zero.
func (k ScriptKind) EstimateInputSize() int {
	var baseSize, witnessWeight int
	switch k {
	case KindNestedP2WPKH:
		baseSize = txsizes.RedeemNestedP2WPKHInputSize
		witnessWeight = txsizes.RedeemP2WPKHInputWitnessWeight

	case KindP2WPKH, KindP2WSH:
		baseSize = txsizes.RedeemP2WPKHInputSize
		witnessWeight = txsizes.RedeemP2WPKHInputWitnessWeight

	case KindP2TR:
		baseSize = txsizes.RedeemP2TRInputSize
		witnessWeight = txsizes.RedeemP2TRInputWitnessWeight

	case KindNullData:
		return 0

	default:
		baseSize = txsizes.RedeemP2PKHInputSize
	}

	return baseSize +
		(witnessWeight+blockchain.WitnessScaleFactor-1)/
			blockchain.WitnessScaleFactor
}

// Witness reports whether spending an output of this kind contributes
// witness data.
func (k ScriptKind) Witness() bool {
	switch k {
	case KindNestedP2WPKH, KindP2WPKH, KindP2WSH, KindP2TR:
		return true
	default:
		return false
	}
}
