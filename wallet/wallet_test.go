// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/coinforge/coinforge/chain"
	"github.com/coinforge/coinforge/coindb"
)

// testTipHeight is the chain tip every wallet test runs against.  Coins
// inserted by testCoin confirm at height 100, giving them 6 confirmations.
const testTipHeight int32 = 105

// testChainQuery is a chain.Query over a fixed tip with no coin lookup.
type testChainQuery struct {
	tip int32
}

func (q testChainQuery) FindCoin(_ context.Context,
	_ wire.OutPoint) (*chain.ConfirmedOutput, error) {

	return nil, chain.ErrCoinNotFound
}

func (q testChainQuery) BestHeight(_ context.Context) (int32, error) {
	return q.tip, nil
}

// newTestCatalog opens a fresh catalog over a throwaway database.
func newTestCatalog(t *testing.T) *coindb.Catalog {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "wallet.db")
	db, err := walletdb.Create("bdb", dbPath, true, 10*time.Second, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	catalog, err := coindb.Open(db, testParams, nil)
	require.NoError(t, err)

	return catalog
}

// newTestWallet returns a wallet over a fresh catalog with a pinned
// shuffle seed and a static fee estimator.
func newTestWallet(t *testing.T, session *Session) (*Wallet,
	*coindb.Catalog) {

	t.Helper()

	catalog := newTestCatalog(t)
	w, err := New(Config{
		ChainParams:  testParams,
		Catalog:      catalog,
		Chain:        testChainQuery{tip: testTipHeight},
		FeeEstimator: chain.StaticEstimator{Rate: 2000},
		ChangeSource: testChangeSource(t),
		Session:      session,
		RandSeed:     1,
	})
	require.NoError(t, err)

	return w, catalog
}

// insertTestCoin stores a fresh confirmed coin in the catalog and returns
// its outpoint.
func insertTestCoin(t *testing.T, catalog *coindb.Catalog, n uint32,
	amount btcutil.Amount,
	mutate ...func(*coindb.Coin)) wire.OutPoint {

	t.Helper()

	coin := testCoin(t, n, amount)
	for _, m := range mutate {
		m(coin)
	}
	require.NoError(t, catalog.InsertCoin(*coin))

	return coin.OutPoint
}

// paymentIntent returns an intent paying a fresh address at an explicit
// 1 sat/vb rate.
func paymentIntent(t *testing.T, amount btcutil.Amount) *TxIntent {
	t.Helper()

	return &TxIntent{
		Recipients: []Recipient{testRecipient(t, amount)},
		Fee: FeePolicy{
			ExplicitRate: fn.Some(SatPerKVByte(1000)),
		},
		Policy: SelectionPolicy{MinConf: 1},
	}
}

// TestWalletCreateTransaction drafts a funded transaction and checks the
// invariants every draft must satisfy.
func TestWalletCreateTransaction(t *testing.T) {
	t.Parallel()

	w, catalog := newTestWallet(t, nil)
	ctx := context.Background()

	insertTestCoin(t, catalog, 0, 1000000)
	insertTestCoin(t, catalog, 1, 500000)

	authored, err := w.CreateTransaction(ctx, paymentIntent(t, 300000))
	require.NoError(t, err)
	requireBalanced(t, authored)

	// Solving data is recorded per input.
	require.Len(t, authored.PrevScripts, len(authored.Tx.TxIn))
	require.Len(t, authored.PrevInputValues, len(authored.Tx.TxIn))

	// The draft produced change and reserved its inputs.
	require.GreaterOrEqual(t, authored.ChangeIndex, 0)
	require.NotEqual(t, coindb.LeaseID{}, authored.Reservation)

	// Every selected input shows up locked in the catalog.
	coins, err := w.ListUnspent(ctx, 1, 0, true)
	require.NoError(t, err)
	locked := make(map[wire.OutPoint]bool)
	for _, coin := range coins {
		locked[coin.OutPoint] = coin.Locked
	}
	for _, txIn := range authored.Tx.TxIn {
		require.True(t, locked[txIn.PreviousOutPoint])
	}

	require.NoError(t, w.Release(authored))
}

// TestWalletCreateTransactionEstimatedRate funds a draft without an
// explicit rate, falling back to the fee estimator.
func TestWalletCreateTransactionEstimatedRate(t *testing.T) {
	t.Parallel()

	w, catalog := newTestWallet(t, nil)
	insertTestCoin(t, catalog, 0, 1000000)

	authored, err := w.CreateTransaction(
		context.Background(), &TxIntent{
			Recipients: []Recipient{testRecipient(t, 300000)},
			Policy:     SelectionPolicy{MinConf: 1},
		},
	)
	require.NoError(t, err)
	requireBalanced(t, authored)

	// The static estimator returns 2 sat/vb, so the fee is twice the
	// transaction's virtual size or slightly above it.
	require.Greater(t, authored.Fee, btcutil.Amount(200))
}

// TestWalletNilIntent checks the guard against nil requests.
func TestWalletNilIntent(t *testing.T) {
	t.Parallel()

	w, _ := newTestWallet(t, nil)

	_, err := w.CreateTransaction(context.Background(), nil)
	require.ErrorIs(t, err, ErrNilIntent)
}

// TestWalletReservation checks that a draft's inputs cannot fund a second
// draft until the first is released.
func TestWalletReservation(t *testing.T) {
	t.Parallel()

	w, catalog := newTestWallet(t, nil)
	ctx := context.Background()

	insertTestCoin(t, catalog, 0, 1000000)

	first, err := w.CreateTransaction(ctx, paymentIntent(t, 300000))
	require.NoError(t, err)

	// The only coin is reserved, so a second draft finds nothing to
	// select from at all.
	_, err = w.CreateTransaction(ctx, paymentIntent(t, 300000))
	require.ErrorIs(t, err, ErrNoUsableInputs)

	// Releasing the first draft frees its inputs again.
	require.NoError(t, w.Release(first))

	second, err := w.CreateTransaction(ctx, paymentIntent(t, 300000))
	require.NoError(t, err)
	require.NoError(t, w.Release(second))
}

// TestWalletCommit checks that committing a draft removes its inputs from
// the catalog for good.
func TestWalletCommit(t *testing.T) {
	t.Parallel()

	w, catalog := newTestWallet(t, nil)
	ctx := context.Background()

	op := insertTestCoin(t, catalog, 0, 1000000)

	authored, err := w.CreateTransaction(ctx, paymentIntent(t, 300000))
	require.NoError(t, err)
	require.NoError(t, w.Commit(authored))

	// The spent coin is gone from the catalog.
	_, err = catalog.GetCoin(op, testTipHeight)
	require.ErrorIs(t, err, coindb.ErrUnknownOutput)

	coins, err := w.ListUnspent(ctx, 0, 0, true)
	require.NoError(t, err)
	require.Empty(t, coins)
}

// TestWalletPreSelectedInputs checks caller-provided input handling.
func TestWalletPreSelectedInputs(t *testing.T) {
	t.Parallel()

	w, catalog := newTestWallet(t, nil)
	ctx := context.Background()

	opA := insertTestCoin(t, catalog, 0, 100000)
	insertTestCoin(t, catalog, 1, 1000000)

	t.Run("exact input set", func(t *testing.T) {
		intent := paymentIntent(t, 50000)
		intent.Inputs = []wire.OutPoint{opA}

		authored, err := w.CreateTransaction(ctx, intent)
		require.NoError(t, err)
		defer func() {
			require.NoError(t, w.Release(authored))
		}()

		// Without AddInputs only the named outpoint funds the
		// transaction.
		require.Len(t, authored.Tx.TxIn, 1)
		require.Equal(t, opA, authored.Tx.TxIn[0].PreviousOutPoint)
		requireBalanced(t, authored)
	})

	t.Run("duplicate outpoint", func(t *testing.T) {
		intent := paymentIntent(t, 50000)
		intent.Inputs = []wire.OutPoint{opA, opA}

		_, err := w.CreateTransaction(ctx, intent)
		require.ErrorIs(t, err, ErrDuplicateOutpoint)
	})

	t.Run("unknown outpoint", func(t *testing.T) {
		intent := paymentIntent(t, 50000)
		intent.Inputs = []wire.OutPoint{testOutPoint(99)}

		_, err := w.CreateTransaction(ctx, intent)
		require.ErrorIs(t, err, ErrPreSelectedSpent)
	})

	t.Run("overrides manual lock", func(t *testing.T) {
		require.NoError(t, w.LockOutpoint(opA, false))
		defer func() {
			require.NoError(t, w.UnlockOutpoint(opA, true))
		}()

		intent := paymentIntent(t, 50000)
		intent.Inputs = []wire.OutPoint{opA}

		// Naming the outpoint outright beats the manual lock.
		authored, err := w.CreateTransaction(ctx, intent)
		require.NoError(t, err)
		require.NoError(t, w.Release(authored))
	})
}

// TestWalletAvoidReuse checks that reused coins never fund an avoid-reuse
// request, even when that fails the request.
func TestWalletAvoidReuse(t *testing.T) {
	t.Parallel()

	w, catalog := newTestWallet(t, nil)
	ctx := context.Background()

	insertTestCoin(t, catalog, 0, 1000000, func(c *coindb.Coin) {
		c.Reused = true
	})
	insertTestCoin(t, catalog, 1, 100000)

	intent := paymentIntent(t, 500000)
	intent.Policy.AvoidReuse = true

	_, err := w.CreateTransaction(ctx, intent)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Excluded coins do not even count as available.
	var insufficientErr *InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)
	require.Equal(t, btcutil.Amount(100000),
		insufficientErr.AvailableAmount)

	// The same request without avoid-reuse funds fine.
	authored, err := w.CreateTransaction(ctx, paymentIntent(t, 500000))
	require.NoError(t, err)
	require.NoError(t, w.Release(authored))
}

// TestWalletNoUsableInputs checks that a policy excluding every catalog
// coin is distinguished from a plain funding shortfall.
func TestWalletNoUsableInputs(t *testing.T) {
	t.Parallel()

	w, catalog := newTestWallet(t, nil)
	ctx := context.Background()

	// An empty catalog is a shortfall, not a policy exclusion.
	_, err := w.CreateTransaction(ctx, paymentIntent(t, 300000))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	var insufficientErr *InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)
	require.Equal(t, btcutil.Amount(0),
		insufficientErr.AvailableAmount)

	// With a coin present but too shallow for the depth requirement,
	// the policy has excluded everything.
	insertTestCoin(t, catalog, 0, 1000000)

	intent := paymentIntent(t, 300000)
	intent.Policy.MinConf = 1000

	_, err = w.CreateTransaction(ctx, intent)
	require.ErrorIs(t, err, ErrNoUsableInputs)
}

// TestWalletBalance checks policy-dependent balance reporting.
func TestWalletBalance(t *testing.T) {
	t.Parallel()

	w, catalog := newTestWallet(t, nil)
	ctx := context.Background()

	opNormal := insertTestCoin(t, catalog, 0, 100000)
	insertTestCoin(t, catalog, 1, 50000)
	insertTestCoin(t, catalog, 2, 25000, func(c *coindb.Coin) {
		c.Reused = true
	})
	insertTestCoin(t, catalog, 3, 40000, func(c *coindb.Coin) {
		c.Safe = false
	})

	balance, err := w.Balance(ctx, SelectionPolicy{MinConf: 1})
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(175000), balance)

	balance, err = w.Balance(ctx, SelectionPolicy{
		MinConf:    1,
		AvoidReuse: true,
	})
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(150000), balance)

	balance, err = w.Balance(ctx, SelectionPolicy{
		MinConf:       1,
		IncludeUnsafe: true,
	})
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(215000), balance)

	// Manually locked coins drop out of every balance.
	require.NoError(t, w.LockOutpoint(opNormal, false))
	balance, err = w.Balance(ctx, SelectionPolicy{MinConf: 1})
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(75000), balance)
}

// TestWalletSign checks the session gate and an end to end signing pass.
func TestWalletSign(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t, "passphrase")
	w, catalog := newTestWallet(t, session)
	ctx := context.Background()

	// Insert a coin whose key we control.
	key := newTestKey(t)
	coin := testCoin(t, 0, 1000000)
	coin.PkScript = key.pkScript
	coin.Address = key.addr
	require.NoError(t, catalog.InsertCoin(*coin))

	authored, err := w.CreateTransaction(ctx, paymentIntent(t, 300000))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, w.Release(authored))
	}()

	secrets := newTestSecrets(key)

	// A locked session never signs.
	_, err = w.Sign(authored, secrets)
	require.ErrorIs(t, err, ErrWalletLocked)

	require.NoError(t, session.Unlock([]byte("passphrase"), 0))

	result, err := w.Sign(authored, secrets)
	require.NoError(t, err)
	require.True(t, result.Complete)
	for _, txIn := range authored.Tx.TxIn {
		require.NotEmpty(t, txIn.Witness)
	}
}

// TestWalletSignWatchOnly checks that a wallet without a session refuses
// to sign.
func TestWalletSignWatchOnly(t *testing.T) {
	t.Parallel()

	w, catalog := newTestWallet(t, nil)
	insertTestCoin(t, catalog, 0, 1000000)

	authored, err := w.CreateTransaction(
		context.Background(), paymentIntent(t, 300000),
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, w.Release(authored))
	}()

	_, err = w.Sign(authored, newTestSecrets())
	require.ErrorIs(t, err, ErrWalletLocked)
}

// TestWalletLockedOutpoints checks the manual lock passthroughs.
func TestWalletLockedOutpoints(t *testing.T) {
	t.Parallel()

	w, catalog := newTestWallet(t, nil)

	op := insertTestCoin(t, catalog, 0, 100000)

	require.NoError(t, w.LockOutpoint(op, false))

	locked, err := w.ListLockedOutpoints()
	require.NoError(t, err)
	require.Equal(t, []wire.OutPoint{op}, locked)

	require.NoError(t, w.UnlockAllOutpoints())

	locked, err = w.ListLockedOutpoints()
	require.NoError(t, err)
	require.Empty(t, locked)

	// Strict unlock of an unlocked output reports the stale request.
	err = w.UnlockOutpoint(op, true)
	require.ErrorIs(t, err, coindb.ErrExpectedLockedOutput)
}
