// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/coinforge/coinforge/coindb"
)

var testParams = &chaincfg.RegressionNetParams

// testKey holds a generated key pair with its p2wpkh script forms.
type testKey struct {
	priv     *btcec.PrivateKey
	addr     btcutil.Address
	pkScript []byte
}

// newTestKey generates a fresh key and its p2wpkh output script.
func newTestKey(t *testing.T) *testKey {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		pubKeyHash, testParams,
	)
	require.NoError(t, err)

	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return &testKey{priv: priv, addr: addr, pkScript: pkScript}
}

// testOutPoint returns a unique outpoint derived from n.
func testOutPoint(n uint32) wire.OutPoint {
	var hash chainhash.Hash
	binary.LittleEndian.PutUint32(hash[:4], n+1)
	return wire.OutPoint{Hash: hash, Index: n}
}

// testCoin returns a confirmed, safe, spendable p2wpkh coin.
func testCoin(t *testing.T, n uint32, amount btcutil.Amount) *coindb.Coin {
	t.Helper()

	key := newTestKey(t)
	return &coindb.Coin{
		OutPoint:      testOutPoint(n),
		Amount:        amount,
		PkScript:      key.pkScript,
		Height:        100,
		Received:      time.Unix(1700000000, 0),
		Spendable:     true,
		Solvable:      true,
		Safe:          true,
		Confirmations: 6,
		Address:       key.addr,
	}
}

// testTaprootCoin returns a confirmed, safe, spendable p2tr coin.
func testTaprootCoin(t *testing.T, n uint32,
	amount btcutil.Amount) *coindb.Coin {

	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	taprootKey := txscript.ComputeTaprootKeyNoScript(priv.PubKey())
	addr, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(taprootKey), testParams,
	)
	require.NoError(t, err)

	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	coin := testCoin(t, n, amount)
	coin.PkScript = pkScript
	coin.Address = addr
	return coin
}

// testChangeSource returns a change source paying to a fresh p2wpkh
// script.
func testChangeSource(t *testing.T) *ChangeSource {
	t.Helper()

	key := newTestKey(t)
	return &ChangeSource{
		NewScript:  func() ([]byte, error) { return key.pkScript, nil },
		ScriptSize: len(key.pkScript),
	}
}

// testRecipient returns a recipient paying a fresh p2wpkh address.
func testRecipient(t *testing.T, amount btcutil.Amount) Recipient {
	t.Helper()

	return Recipient{Address: newTestKey(t).addr, Amount: amount}
}

// candidateFromCoin prices a coin the same way the selection path does.
func candidateFromCoin(coin *coindb.Coin, rate SatPerKVByte) candidate {
	kind := ScriptKindOf(coin.PkScript)
	size := kind.EstimateInputSize()
	return candidate{
		coin:      coin,
		kind:      kind,
		inputSize: size,
		effective: coin.Amount - rate.FeeForVSize(size),
	}
}

// sumOutputs totals the values of the transaction outputs.
func sumOutputs(tx *wire.MsgTx) btcutil.Amount {
	var total btcutil.Amount
	for _, out := range tx.TxOut {
		total += btcutil.Amount(out.Value)
	}
	return total
}
