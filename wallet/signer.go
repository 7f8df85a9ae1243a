// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SecretsSource provides private keys and redeem scripts necessary for
// constructing transaction input signatures.  Secrets are looked up by the
// corresponding Address for the previous output script.  Addresses for
// lookup are created using the source's blockchain parameters, so a single
// SecretsSource can only manage secrets for a single chain.
type SecretsSource interface {
	txscript.KeyDB
	txscript.ScriptDB
	ChainParams() *chaincfg.Params
}

// InputSignError describes the failure to sign one input.  Signing
// continues past failed inputs, so one result can carry several of these.
type InputSignError struct {
	// InputIndex is the index of the failed input within the
	// transaction.
	InputIndex int

	// OutPoint is the output the failed input spends.
	OutPoint wire.OutPoint

	// Err is the underlying failure.
	Err error
}

// Error describes the failed input and the underlying reason.
func (e *InputSignError) Error() string {
	return fmt.Sprintf("unable to sign input %d spending %v: %v",
		e.InputIndex, e.OutPoint, e.Err)
}

// Unwrap returns the underlying failure.
func (e *InputSignError) Unwrap() error {
	return e.Err
}

// SignResult reports the outcome of a signing pass over a transaction.
type SignResult struct {
	// Complete is true when every input carries a valid signature.
	Complete bool

	// InputErrors holds one entry per input that could not be signed
	// or whose finished script failed validation.
	InputErrors []*InputSignError
}

// SignTransaction adds input scripts and witnesses to every input of the
// unsigned transaction.  Previous output scripts and values must be index
// aligned with the inputs.
//
// Inputs that cannot be signed, because the secrets source has no key for
// them or their finished script does not validate, do not abort the pass;
// they are reported in the result so the caller can hand a partially
// signed transaction to the next signer.  A non-nil error is only
// returned for malformed arguments.
func SignTransaction(tx *wire.MsgTx, prevScripts [][]byte,
	inputValues []btcutil.Amount, secrets SecretsSource) (*SignResult,
	error) {

	if len(tx.TxIn) != len(prevScripts) {
		return nil, errors.New("tx.TxIn and prevScripts slices must " +
			"have equal length")
	}
	if len(tx.TxIn) != len(inputValues) {
		return nil, errors.New("tx.TxIn and inputValues slices must " +
			"have equal length")
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range tx.TxIn {
		fetcher.AddPrevOut(txIn.PreviousOutPoint, &wire.TxOut{
			Value:    int64(inputValues[idx]),
			PkScript: prevScripts[idx],
		})
	}

	hashCache := txscript.NewTxSigHashes(tx, fetcher)
	chainParams := secrets.ChainParams()

	result := &SignResult{}
	for i, txIn := range tx.TxIn {
		err := signInput(
			tx, i, prevScripts[i], int64(inputValues[i]),
			chainParams, secrets, hashCache,
		)
		if err == nil {
			err = validateInput(
				tx, i, prevScripts[i], int64(inputValues[i]),
				hashCache, fetcher,
			)
		}
		if err != nil {
			result.InputErrors = append(
				result.InputErrors, &InputSignError{
					InputIndex: i,
					OutPoint:   txIn.PreviousOutPoint,
					Err:        err,
				},
			)
		}
	}

	result.Complete = len(result.InputErrors) == 0
	return result, nil
}

// signInput generates and sets the signature script or witness for one
// input, dispatching on the kind of the previous output script.
func signInput(tx *wire.MsgTx, idx int, pkScript []byte, inputValue int64,
	chainParams *chaincfg.Params, secrets SecretsSource,
	hashCache *txscript.TxSigHashes) error {

	txIn := tx.TxIn[idx]

	switch {
	// A p2sh output whose script hash pre-image is a witness program
	// needs both a sigScript pushing the program and a p2wkh witness.
	case txscript.IsPayToScriptHash(pkScript):
		return spendNestedWitnessPubKeyHash(
			txIn, pkScript, inputValue, chainParams, secrets, tx,
			hashCache, idx,
		)

	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		return spendWitnessKeyHash(
			txIn, pkScript, inputValue, chainParams, secrets, tx,
			hashCache, idx,
		)

	case txscript.IsPayToTaproot(pkScript):
		return spendTaprootKey(
			txIn, pkScript, inputValue, chainParams, secrets, tx,
			hashCache, idx,
		)

	default:
		sigScript := txIn.SignatureScript
		script, err := txscript.SignTxOutput(
			chainParams, tx, idx, pkScript, txscript.SigHashAll,
			secrets, secrets, sigScript,
		)
		if err != nil {
			return err
		}
		txIn.SignatureScript = script
		return nil
	}
}

// validateInput executes the finished input script against the previous
// output script, proving the produced signature actually spends it.
func validateInput(tx *wire.MsgTx, idx int, pkScript []byte,
	inputValue int64, hashCache *txscript.TxSigHashes,
	fetcher txscript.PrevOutputFetcher) error {

	vm, err := txscript.NewEngine(
		pkScript, tx, idx, txscript.StandardVerifyFlags, nil,
		hashCache, inputValue, fetcher,
	)
	if err != nil {
		return err
	}
	return vm.Execute()
}

// witnessKeyData resolves the private key behind a witness address and
// derives the p2wkh witness program committing to it.  Witness programs
// are only defined over compressed keys, so an uncompressed key is
// rejected rather than hashed into a program nothing can spend.
func witnessKeyData(addr btcutil.Address, chainParams *chaincfg.Params,
	secrets SecretsSource) (*btcec.PrivateKey, []byte, error) {

	privKey, compressed, err := secrets.GetKey(addr)
	if err != nil {
		return nil, nil, err
	}
	if !compressed {
		return nil, nil, ErrUncompressedKey
	}

	pubKeyHash := btcutil.Hash160(privKey.PubKey().SerializeCompressed())
	p2wkhAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		pubKeyHash, chainParams,
	)
	if err != nil {
		return nil, nil, err
	}

	witnessProgram, err := txscript.PayToAddrScript(p2wkhAddr)
	if err != nil {
		return nil, nil, err
	}
	return privKey, witnessProgram, nil
}

// spendWitnessKeyHash generates and sets a valid witness for spending the
// passed pkScript with the specified input amount.  The input amount must
// correspond to the output value of the previous pkScript, since the
// sighash digest defined in BIP0143 commits to the input value.
func spendWitnessKeyHash(txIn *wire.TxIn, pkScript []byte,
	inputValue int64, chainParams *chaincfg.Params,
	secrets SecretsSource, tx *wire.MsgTx,
	hashCache *txscript.TxSigHashes, idx int) error {

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		pkScript, chainParams,
	)
	if err != nil {
		return err
	}
	privKey, witnessProgram, err := witnessKeyData(
		addrs[0], chainParams, secrets,
	)
	if err != nil {
		return err
	}

	witness, err := txscript.WitnessSignature(
		tx, hashCache, idx, inputValue, witnessProgram,
		txscript.SigHashAll, privKey, true,
	)
	if err != nil {
		return err
	}

	txIn.Witness = witness

	return nil
}

// spendTaprootKey generates and sets a valid witness for spending the
// passed pkScript with the specified input amount.  The input amount must
// correspond to the output value of the previous pkScript, since the
// sighash digest defined in BIP0341 commits to the input value.
func spendTaprootKey(txIn *wire.TxIn, pkScript []byte,
	inputValue int64, chainParams *chaincfg.Params,
	secrets SecretsSource, tx *wire.MsgTx,
	hashCache *txscript.TxSigHashes, idx int) error {

	// Obtain the key pair associated with this p2tr address.  If the
	// pkScript was derived from a different internal key or includes a
	// script root, no corresponding private key will be found.
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		pkScript, chainParams,
	)
	if err != nil {
		return err
	}
	privKey, _, err := secrets.GetKey(addrs[0])
	if err != nil {
		return err
	}

	witness, err := txscript.TaprootWitnessSignature(
		tx, hashCache, idx, inputValue, pkScript,
		txscript.SigHashDefault, privKey,
	)
	if err != nil {
		return err
	}

	txIn.Witness = witness

	return nil
}

// spendNestedWitnessPubKeyHash generates both a sigScript and a valid
// witness for spending the passed pkScript with the specified input
// amount.  The generated sigScript is the version 0 p2wkh witness program
// corresponding to the queried key, and the witness stack is identical to
// that of a regular p2wkh spend.
func spendNestedWitnessPubKeyHash(txIn *wire.TxIn, pkScript []byte,
	inputValue int64, chainParams *chaincfg.Params,
	secrets SecretsSource, tx *wire.MsgTx,
	hashCache *txscript.TxSigHashes, idx int) error {

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		pkScript, chainParams,
	)
	if err != nil {
		return err
	}
	privKey, witnessProgram, err := witnessKeyData(
		addrs[0], chainParams, secrets,
	)
	if err != nil {
		return err
	}

	// The sigScript contains only a single push of the p2wkh witness
	// program corresponding to the matching public key of this address.
	bldr := txscript.NewScriptBuilder()
	bldr.AddData(witnessProgram)
	sigScript, err := bldr.Script()
	if err != nil {
		return err
	}
	txIn.SignatureScript = sigScript

	// With the sigScript in place, generate the witness that spends the
	// nested p2wkh output.
	witness, err := txscript.WitnessSignature(
		tx, hashCache, idx, inputValue, witnessProgram,
		txscript.SigHashAll, privKey, true,
	)
	if err != nil {
		return err
	}

	txIn.Witness = witness

	return nil
}

// Sign adds input scripts to every input of an authored transaction,
// looking up secrets by the previous output scripts recorded at
// construction time.
func (tx *AuthoredTx) Sign(secrets SecretsSource) (*SignResult, error) {
	return SignTransaction(
		tx.Tx, tx.PrevScripts, tx.PrevInputValues, secrets,
	)
}
