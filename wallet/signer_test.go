// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// errUnknownTestKey is returned by testSecrets for addresses it does not
// hold a key for.
var errUnknownTestKey = errors.New("no key for address")

// testSecrets is an in-memory secrets source keyed by encoded address.
type testSecrets struct {
	params *chaincfg.Params
	keys   map[string]*btcec.PrivateKey

	// uncompressed makes every key lookup report an uncompressed key.
	uncompressed bool
}

func newTestSecrets(keys ...*testKey) *testSecrets {
	s := &testSecrets{
		params: testParams,
		keys:   make(map[string]*btcec.PrivateKey),
	}
	for _, key := range keys {
		s.keys[key.addr.EncodeAddress()] = key.priv
	}
	return s
}

func (s *testSecrets) GetKey(addr btcutil.Address) (*btcec.PrivateKey, bool,
	error) {

	priv, ok := s.keys[addr.EncodeAddress()]
	if !ok {
		return nil, false, errUnknownTestKey
	}
	return priv, !s.uncompressed, nil
}

func (s *testSecrets) GetScript(addr btcutil.Address) ([]byte, error) {
	return nil, errUnknownTestKey
}

func (s *testSecrets) ChainParams() *chaincfg.Params {
	return s.params
}

// spendingTx returns an unsigned transaction spending the given previous
// output scripts, one input per script.
func spendingTx(t *testing.T, prevScripts [][]byte,
	values []btcutil.Amount) *wire.MsgTx {

	t.Helper()

	tx := wire.NewMsgTx(wire.TxVersion)
	for i := range prevScripts {
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: uint32(i)}, nil,
			nil))
	}

	dest := newTestKey(t)
	total := btcutil.Amount(0)
	for _, value := range values {
		total += value
	}
	tx.AddTxOut(wire.NewTxOut(int64(total-300), dest.pkScript))

	return tx
}

// TestSignTransactionWitness signs a p2wpkh input end to end, including
// script engine validation of the produced witness.
func TestSignTransactionWitness(t *testing.T) {
	t.Parallel()

	key := newTestKey(t)
	prevScripts := [][]byte{key.pkScript}
	values := []btcutil.Amount{100000}

	tx := spendingTx(t, prevScripts, values)
	result, err := SignTransaction(
		tx, prevScripts, values, newTestSecrets(key),
	)
	require.NoError(t, err)
	require.True(t, result.Complete)
	require.Empty(t, result.InputErrors)
	require.NotEmpty(t, tx.TxIn[0].Witness)
	require.Empty(t, tx.TxIn[0].SignatureScript)
}

// TestSignTransactionNested signs a p2sh nested p2wpkh input.
func TestSignTransactionNested(t *testing.T) {
	t.Parallel()

	key := newTestKey(t)

	// Build the p2sh script wrapping the key's witness program.
	scriptAddr, err := btcutil.NewAddressScriptHash(
		key.pkScript, testParams,
	)
	require.NoError(t, err)
	nestedScript, err := txscript.PayToAddrScript(scriptAddr)
	require.NoError(t, err)

	// The p2sh script hashes the witness program, so the key lookup
	// happens through the p2sh address.
	secrets := newTestSecrets()
	secrets.keys[scriptAddr.EncodeAddress()] = key.priv

	prevScripts := [][]byte{nestedScript}
	values := []btcutil.Amount{100000}

	tx := spendingTx(t, prevScripts, values)
	result, err := SignTransaction(tx, prevScripts, values, secrets)
	require.NoError(t, err)
	require.True(t, result.Complete)
	require.NotEmpty(t, tx.TxIn[0].Witness)
	require.NotEmpty(t, tx.TxIn[0].SignatureScript)
}

// TestSignTransactionMissingKey checks that signing continues past inputs
// the secrets source cannot serve.
func TestSignTransactionMissingKey(t *testing.T) {
	t.Parallel()

	known := newTestKey(t)
	unknown := newTestKey(t)

	prevScripts := [][]byte{unknown.pkScript, known.pkScript}
	values := []btcutil.Amount{50000, 100000}

	tx := spendingTx(t, prevScripts, values)
	result, err := SignTransaction(
		tx, prevScripts, values, newTestSecrets(known),
	)
	require.NoError(t, err)
	require.False(t, result.Complete)
	require.Len(t, result.InputErrors, 1)

	// The failed input is reported with its index and outpoint, and the
	// other input is still fully signed.
	inputErr := result.InputErrors[0]
	require.Equal(t, 0, inputErr.InputIndex)
	require.Equal(t, tx.TxIn[0].PreviousOutPoint, inputErr.OutPoint)
	require.ErrorIs(t, inputErr, errUnknownTestKey)
	require.NotEmpty(t, tx.TxIn[1].Witness)
}

// TestSignTransactionUncompressedKey checks that a witness spend backed by
// an uncompressed key is reported as unsignable instead of being hashed
// into a witness program nothing can spend.
func TestSignTransactionUncompressedKey(t *testing.T) {
	t.Parallel()

	key := newTestKey(t)
	secrets := newTestSecrets(key)
	secrets.uncompressed = true

	prevScripts := [][]byte{key.pkScript}
	values := []btcutil.Amount{100000}

	tx := spendingTx(t, prevScripts, values)
	result, err := SignTransaction(tx, prevScripts, values, secrets)
	require.NoError(t, err)
	require.False(t, result.Complete)
	require.Len(t, result.InputErrors, 1)
	require.ErrorIs(t, result.InputErrors[0], ErrUncompressedKey)
	require.Empty(t, tx.TxIn[0].Witness)
}

// TestSignTransactionLengthMismatch checks the argument shape guards.
func TestSignTransactionLengthMismatch(t *testing.T) {
	t.Parallel()

	key := newTestKey(t)
	tx := spendingTx(
		t, [][]byte{key.pkScript}, []btcutil.Amount{100000},
	)

	_, err := SignTransaction(tx, nil, []btcutil.Amount{100000},
		newTestSecrets(key))
	require.Error(t, err)

	_, err = SignTransaction(tx, [][]byte{key.pkScript}, nil,
		newTestSecrets(key))
	require.Error(t, err)
}
