// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet implements the transaction construction engine: coin
// selection, fee resolution, change handling, and signing over the coins
// tracked by a catalog.
package wallet

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/coinforge/coinforge/chain"
	"github.com/coinforge/coinforge/coindb"
)

// Config bundles the collaborators and tuning knobs of a wallet.
type Config struct {
	// ChainParams identifies the network the wallet operates on.
	ChainParams *chaincfg.Params

	// Catalog tracks the wallet's spendable coins.
	Catalog *coindb.Catalog

	// Chain answers queries the catalog cannot, most importantly the
	// current tip height.
	Chain chain.Query

	// FeeEstimator is consulted when a request carries no explicit fee
	// rate.
	FeeEstimator chain.FeeEstimator

	// ChangeSource produces change scripts.
	ChangeSource *ChangeSource

	// Session gates signing behind a passphrase.  A nil session makes
	// the wallet watch-only: transactions can be drafted but never
	// signed.
	Session *Session

	// MinRelayFee is the minimum fee rate accepted without an explicit
	// override.  Zero selects the network default.
	MinRelayFee SatPerKVByte

	// MaxFeeRate is the largest fee rate considered sane.  Zero selects
	// the default.
	MaxFeeRate SatPerKVByte

	// DefaultConfTarget and DefaultEstimateMode apply when a request
	// specifies neither a rate nor a target.
	DefaultConfTarget   uint32
	DefaultEstimateMode chain.EstimateMode

	// RandSeed pins the pseudo-random source used for input and change
	// shuffling.  Zero seeds from the clock; tests pin it to make
	// selection deterministic.
	RandSeed int64
}

// Wallet drafts, funds, and signs transactions over the catalog's coins.
// A coarse mutex serializes funding so two concurrent drafts cannot pick
// the same coin before the winner's reservation lands.
type Wallet struct {
	cfg Config

	fundMtx sync.Mutex
	shuf    *shuffler
}

// TxIntent describes one requested transaction.
type TxIntent struct {
	// Recipients are the requested payments.
	Recipients []Recipient

	// Fee determines the fee rate of the transaction.
	Fee FeePolicy

	// Policy restricts which catalog coins may be selected.
	Policy SelectionPolicy

	// Inputs are caller pre-selected outpoints that must fund the
	// transaction.  They are exempt from the selection policy.
	Inputs []wire.OutPoint

	// AddInputs permits selecting additional catalog coins when the
	// pre-selected inputs do not cover the request.  It is implied when
	// Inputs is empty.
	AddInputs bool

	// ChangePosition fixes the output index of the change output.  When
	// unset the position is randomized.  A transaction that ends up
	// without change ignores the requested position.
	ChangePosition fn.Option[int]

	// LockTime is the transaction lock time.
	LockTime uint32

	// Replaceable signals opt-in replace-by-fee.
	Replaceable bool
}

// New returns a wallet over the passed collaborators.
func New(cfg Config) (*Wallet, error) {
	if cfg.ChainParams == nil {
		return nil, errors.New("chain parameters are required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("a coin catalog is required")
	}
	if cfg.Chain == nil {
		return nil, errors.New("a chain query is required")
	}
	if cfg.FeeEstimator == nil {
		return nil, errors.New("a fee estimator is required")
	}
	if cfg.ChangeSource == nil ||
		cfg.ChangeSource.NewScript == nil ||
		cfg.ChangeSource.ScriptSize == 0 {

		return nil, errors.New("a change source is required")
	}

	if cfg.MinRelayFee == 0 {
		cfg.MinRelayFee = DefaultRelayFeeRate
	}
	if cfg.MaxFeeRate == 0 {
		cfg.MaxFeeRate = DefaultMaxFeeRate
	}
	if cfg.DefaultConfTarget == 0 {
		cfg.DefaultConfTarget = DefaultConfTarget
	}

	return &Wallet{
		cfg:  cfg,
		shuf: newShuffler(cfg.RandSeed),
	}, nil
}

// Catalog exposes the underlying coin catalog for lock and lease
// management.
func (w *Wallet) Catalog() *coindb.Catalog {
	return w.cfg.Catalog
}

// CreateTransaction funds and assembles an unsigned transaction paying the
// intent's recipients.
//
// The selected inputs are reserved with a lease recorded in the returned
// transaction, so a concurrent draft cannot pick them again.  The caller
// finishes the flow with either Commit, which marks the inputs spent, or
// Release, which frees the reservation.
func (w *Wallet) CreateTransaction(ctx context.Context,
	intent *TxIntent) (*AuthoredTx, error) {

	if intent == nil {
		return nil, ErrNilIntent
	}

	w.fundMtx.Lock()
	defer w.fundMtx.Unlock()

	rate, err := resolveFeeRate(
		ctx, intent.Fee, w.cfg.FeeEstimator, w.cfg.MinRelayFee,
		w.cfg.MaxFeeRate, w.cfg.DefaultConfTarget,
		w.cfg.DefaultEstimateMode,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := normalizeRecipients(
		intent.Recipients, w.cfg.MinRelayFee, w.cfg.ChainParams,
	)
	if err != nil {
		return nil, err
	}

	bestHeight, err := w.cfg.Chain.BestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to query tip height: %w", err)
	}

	coins, err := w.cfg.Catalog.Enumerate(coindb.FilterPolicy{
		BestHeight:    bestHeight,
		IncludeLocked: true,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to enumerate coins: %w", err)
	}

	byOutpoint := make(map[wire.OutPoint]*coindb.Coin, len(coins))
	for i := range coins {
		byOutpoint[coins[i].OutPoint] = &coins[i]
	}

	mandatory, err := w.resolveInputs(intent.Inputs, byOutpoint, rate)
	if err != nil {
		return nil, err
	}

	var (
		optional  []candidate
		available btcutil.Amount
	)
	for _, cand := range mandatory {
		available += cand.coin.Amount
		delete(byOutpoint, cand.coin.OutPoint)
	}

	if intent.AddInputs || len(intent.Inputs) == 0 {
		remaining := make([]*coindb.Coin, 0, len(byOutpoint))
		for _, coin := range byOutpoint {
			remaining = append(remaining, coin)
		}

		var policyTotal btcutil.Amount
		optional, policyTotal = buildCandidates(
			remaining, intent.Policy, rate,
		)
		available += policyTotal
	}

	// A populated catalog that yields no candidates at all means the
	// policy excluded everything, which is a different failure than
	// having candidates that fall short of the target.
	if len(mandatory) == 0 && len(optional) == 0 && len(coins) > 0 {
		return nil, ErrNoUsableInputs
	}

	builder := &txBuilder{
		outputs:            parsed,
		mandatory:          mandatory,
		optional:           optional,
		available:          available,
		rate:               rate,
		relayFee:           w.cfg.MinRelayFee,
		changeSource:       w.cfg.ChangeSource,
		changePos:          intent.ChangePosition,
		avoidPartialSpends: intent.Policy.AvoidPartialSpends,
		lockTime:           intent.LockTime,
		replaceable:        intent.Replaceable,
		shuf:               w.shuf,
	}

	authored, err := builder.build()
	if err != nil {
		return nil, err
	}

	log.Tracef("Constructed transaction: %v", newLogClosure(func() string {
		return spew.Sdump(authored.Tx)
	}))

	if err := w.reserveInputs(authored); err != nil {
		return nil, err
	}

	return authored, nil
}

// resolveInputs turns caller pre-selected outpoints into input candidates.
// Pre-selected inputs bypass the selection policy, including manual locks,
// since naming an outpoint outright is a stronger statement than any
// policy default.
func (w *Wallet) resolveInputs(outpoints []wire.OutPoint,
	byOutpoint map[wire.OutPoint]*coindb.Coin,
	rate SatPerKVByte) ([]candidate, error) {

	if len(outpoints) == 0 {
		return nil, nil
	}

	seen := fn.NewSet[wire.OutPoint]()
	mandatory := make([]candidate, 0, len(outpoints))

	for _, op := range outpoints {
		if seen.Contains(op) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateOutpoint,
				op)
		}
		seen.Add(op)

		coin, ok := byOutpoint[op]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrPreSelectedSpent,
				op)
		}

		kind := ScriptKindOf(coin.PkScript)
		inputSize := kind.EstimateInputSize()
		mandatory = append(mandatory, candidate{
			coin:      coin,
			kind:      kind,
			inputSize: inputSize,
			effective: coin.Amount - rate.FeeForVSize(inputSize),
		})
	}

	return mandatory, nil
}

// reserveInputs leases every input of the authored transaction under one
// fresh lease identifier.  On partial failure all acquired leases are
// released again before the error is returned.
func (w *Wallet) reserveInputs(authored *AuthoredTx) error {
	var id coindb.LeaseID
	if _, err := rand.Read(id[:]); err != nil {
		return fmt.Errorf("unable to generate lease id: %w", err)
	}

	leased := make([]wire.OutPoint, 0, len(authored.Tx.TxIn))
	for _, txIn := range authored.Tx.TxIn {
		op := txIn.PreviousOutPoint
		_, err := w.cfg.Catalog.LeaseOutput(
			id, op, coindb.DefaultLeaseDuration,
		)
		if err != nil {
			for _, held := range leased {
				if relErr := w.cfg.Catalog.ReleaseOutput(
					id, held,
				); relErr != nil {
					log.Errorf("Unable to release "+
						"%v during rollback: %v",
						held, relErr)
				}
			}
			return fmt.Errorf("unable to reserve %v: %w", op, err)
		}
		leased = append(leased, op)
	}

	authored.Reservation = id
	return nil
}

// Commit marks every input of the authored transaction as spent by it.
// The reservation placed at creation time is consumed in the process.
func (w *Wallet) Commit(authored *AuthoredTx) error {
	txHash := authored.Tx.TxHash()
	for _, txIn := range authored.Tx.TxIn {
		err := w.cfg.Catalog.MarkSpent(
			txIn.PreviousOutPoint, &txHash,
		)
		if err != nil {
			return fmt.Errorf("unable to mark %v spent: %w",
				txIn.PreviousOutPoint, err)
		}
	}

	log.Infof("Committed transaction %v: %d %s, fee %v", txHash,
		len(authored.Tx.TxIn),
		pickNoun(len(authored.Tx.TxIn), "input", "inputs"),
		authored.Fee)

	return nil
}

// Release frees the input reservation of an abandoned draft.  Releasing a
// draft whose reservation already expired is not an error.
func (w *Wallet) Release(authored *AuthoredTx) error {
	for _, txIn := range authored.Tx.TxIn {
		err := w.cfg.Catalog.ReleaseOutput(
			authored.Reservation, txIn.PreviousOutPoint,
		)
		if err != nil {
			return fmt.Errorf("unable to release %v: %w",
				txIn.PreviousOutPoint, err)
		}
	}
	return nil
}

// Sign adds signatures to every input of the authored transaction.  The
// session must be unlocked; a wallet without a session is watch-only and
// always reports ErrWalletLocked.
func (w *Wallet) Sign(authored *AuthoredTx,
	secrets SecretsSource) (*SignResult, error) {

	if w.cfg.Session == nil {
		return nil, ErrWalletLocked
	}
	if err := w.cfg.Session.CheckUnlocked(); err != nil {
		return nil, err
	}

	return authored.Sign(secrets)
}

// Balance returns the summed value of every coin usable under the passed
// selection policy.  Coins excluded by the policy, including reused ones
// under avoid-reuse, do not count towards the balance.
func (w *Wallet) Balance(ctx context.Context,
	policy SelectionPolicy) (btcutil.Amount, error) {

	bestHeight, err := w.cfg.Chain.BestHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("unable to query tip height: %w", err)
	}

	coins, err := w.cfg.Catalog.Enumerate(coindb.FilterPolicy{
		BestHeight: bestHeight,
	})
	if err != nil {
		return 0, err
	}

	coinPtrs := make([]*coindb.Coin, len(coins))
	for i := range coins {
		coinPtrs[i] = &coins[i]
	}

	// A zero rate disables effective value suppression, so the sum
	// counts full coin values.
	_, available := buildCandidates(coinPtrs, policy, 0)
	return available, nil
}

// ListUnspent returns the catalog coins within the passed confirmation
// window.  Locked coins are included and annotated when includeLocked is
// set.
func (w *Wallet) ListUnspent(ctx context.Context, minConf, maxConf int32,
	includeLocked bool) ([]coindb.Coin, error) {

	bestHeight, err := w.cfg.Chain.BestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to query tip height: %w", err)
	}

	return w.cfg.Catalog.Enumerate(coindb.FilterPolicy{
		MinConf:       minConf,
		MaxConf:       maxConf,
		BestHeight:    bestHeight,
		IncludeLocked: includeLocked,
	})
}

// LockOutpoint manually locks the passed output so no funding attempt
// selects it.  Locking an already locked output succeeds.  With persist
// set the lock survives restarts.
func (w *Wallet) LockOutpoint(op wire.OutPoint, persist bool) error {
	return w.cfg.Catalog.LockOutput(op, persist)
}

// UnlockOutpoint removes a manual lock.  With strict set, unlocking an
// output that is not locked fails with ErrExpectedLockedOutput.
func (w *Wallet) UnlockOutpoint(op wire.OutPoint, strict bool) error {
	return w.cfg.Catalog.UnlockOutput(op, strict)
}

// UnlockAllOutpoints removes every manual lock.
func (w *Wallet) UnlockAllOutpoints() error {
	return w.cfg.Catalog.UnlockAll()
}

// ListLockedOutpoints returns every manually locked outpoint.
func (w *Wallet) ListLockedOutpoints() ([]wire.OutPoint, error) {
	return w.cfg.Catalog.ListLockedOutpoints()
}

// LeaseOutput places a caller-managed expiring reservation on an output.
func (w *Wallet) LeaseOutput(id coindb.LeaseID, op wire.OutPoint,
	duration time.Duration) (time.Time, error) {

	return w.cfg.Catalog.LeaseOutput(id, op, duration)
}

// ReleaseOutput removes a caller-managed reservation.
func (w *Wallet) ReleaseOutput(id coindb.LeaseID, op wire.OutPoint) error {
	return w.cfg.Catalog.ReleaseOutput(id, op)
}
