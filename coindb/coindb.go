// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coindb implements the wallet's coin catalog: the durable set of
// spendable transaction outputs together with their lock and reservation
// state.  The catalog is the sole owner of coin lifecycle state; selection
// and transaction building operate on read-only snapshots produced by
// Enumerate.
package coindb

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// utxoBucketKey holds unspent coin records keyed by canonical
	// outpoint.
	utxoBucketKey = []byte("utxos")

	// spentBucketKey records which transaction consumed a previously
	// tracked output.
	spentBucketKey = []byte("spent")

	// lockBucketKey holds durable manual output locks.
	lockBucketKey = []byte("locks")
)

// FilterPolicy restricts which coins Enumerate returns.
type FilterPolicy struct {
	// MinConf is the minimum confirmation depth a coin must have.
	MinConf int32

	// MaxConf is the maximum confirmation depth a coin may have.  Zero
	// means no upper bound.
	MaxConf int32

	// BestHeight is the chain height confirmations are computed against.
	BestHeight int32

	// IncludeLocked also returns coins that are manually locked or
	// reserved by a lease.  Such coins are annotated with Locked true.
	IncludeLocked bool
}

// lease is one reservation entry of the in-memory side table.
type lease struct {
	id     LeaseID
	expiry time.Time
}

// Catalog is the walletdb-backed coin catalog.  All mutating operations are
// atomic database transactions; the manual memory-only locks and the
// reservation leases live in side tables guarded by the catalog mutex.
type Catalog struct {
	db          walletdb.DB
	chainParams *chaincfg.Params
	clock       clock.Clock

	mtx      sync.Mutex
	memLocks map[wire.OutPoint]struct{}
	leases   map[wire.OutPoint]lease
}

// Open returns a catalog over the passed database, creating the required
// buckets when they do not exist yet.  A nil clk selects the wall clock.
func Open(db walletdb.DB, chainParams *chaincfg.Params,
	clk clock.Clock) (*Catalog, error) {

	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		for _, key := range [][]byte{
			utxoBucketKey, spentBucketKey, lockBucketKey,
		} {
			if tx.ReadWriteBucket(key) != nil {
				continue
			}
			if _, err := tx.CreateTopLevelBucket(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Catalog{
		db:          db,
		chainParams: chainParams,
		clock:       clk,
		memLocks:    make(map[wire.OutPoint]struct{}),
		leases:      make(map[wire.OutPoint]lease),
	}, nil
}

// InsertCoin adds a new unspent coin to the catalog.  Inserting an outpoint
// that is already tracked returns ErrDuplicateOutput.
func (c *Catalog) InsertCoin(coin Coin) error {
	key := canonicalOutPoint(&coin.OutPoint)

	return walletdb.Update(c.db, func(tx walletdb.ReadWriteTx) error {
		utxos := tx.ReadWriteBucket(utxoBucketKey)
		if utxos.Get(key) != nil {
			return ErrDuplicateOutput
		}
		return utxos.Put(key, serializeCoin(&coin))
	})
}

// MarkSpent removes the coin from the unspent set and records the spending
// transaction.  Any manual lock or reservation lease held on the outpoint is
// dropped alongside; a spent coin can never return to selection.
func (c *Catalog) MarkSpent(op wire.OutPoint, by *chainhash.Hash) error {
	key := canonicalOutPoint(&op)

	err := walletdb.Update(c.db, func(tx walletdb.ReadWriteTx) error {
		utxos := tx.ReadWriteBucket(utxoBucketKey)
		if utxos.Get(key) == nil {
			return ErrUnknownOutput
		}
		if err := utxos.Delete(key); err != nil {
			return err
		}

		spent := tx.ReadWriteBucket(spentBucketKey)
		err := spent.Put(key, serializeSpent(by, c.clock.Now()))
		if err != nil {
			return err
		}

		return tx.ReadWriteBucket(lockBucketKey).Delete(key)
	})
	if err != nil {
		return err
	}

	c.mtx.Lock()
	delete(c.memLocks, op)
	delete(c.leases, op)
	c.mtx.Unlock()

	log.Debugf("Marked output %v spent by %v", op, by)
	return nil
}

// UpdateFlags rewrites the policy flags of a tracked coin.  This is how
// address reuse is recorded after an address is observed being spent from.
func (c *Catalog) UpdateFlags(op wire.OutPoint,
	update func(*Coin)) error {

	key := canonicalOutPoint(&op)

	return walletdb.Update(c.db, func(tx walletdb.ReadWriteTx) error {
		utxos := tx.ReadWriteBucket(utxoBucketKey)
		v := utxos.Get(key)
		if v == nil {
			return ErrUnknownOutput
		}

		var coin Coin
		if err := deserializeCoin(key, v, &coin); err != nil {
			return err
		}
		update(&coin)
		return utxos.Put(key, serializeCoin(&coin))
	})
}

// Enumerate returns a snapshot of the catalog's unspent coins matching the
// policy, annotated with confirmation depth, lock state and the extracted
// destination address.  The returned slice is owned by the caller.
func (c *Catalog) Enumerate(policy FilterPolicy) ([]Coin, error) {
	c.expireLeases()

	var coins []Coin
	err := walletdb.View(c.db, func(tx walletdb.ReadTx) error {
		utxos := tx.ReadBucket(utxoBucketKey)
		locks := tx.ReadBucket(lockBucketKey)

		return utxos.ForEach(func(k, v []byte) error {
			var coin Coin
			if err := deserializeCoin(k, v, &coin); err != nil {
				return err
			}

			confs := confirms(coin.Height, policy.BestHeight)
			coin.Confirmations = confs

			if confs < policy.MinConf {
				return nil
			}
			if policy.MaxConf > 0 && confs > policy.MaxConf {
				return nil
			}

			// Immature coinbase outputs are not spendable no
			// matter what the stored flag says.
			if coin.FromCoinBase {
				maturity := int32(
					c.chainParams.CoinbaseMaturity,
				)
				if confs < maturity {
					coin.Spendable = false
				}
			}

			coin.Locked = locks.Get(k) != nil ||
				c.outpointUnavailable(coin.OutPoint)
			if coin.Locked && !policy.IncludeLocked {
				return nil
			}

			coin.Address = extractAddress(
				coin.PkScript, c.chainParams,
			)

			coins = append(coins, coin)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Tracef("Enumerated %d coins at height %d", len(coins),
		policy.BestHeight)

	return coins, nil
}

// GetCoin returns the tracked coin for the given outpoint, annotated against
// the passed best height, or ErrUnknownOutput.
func (c *Catalog) GetCoin(op wire.OutPoint, bestHeight int32) (*Coin, error) {
	key := canonicalOutPoint(&op)

	var coin Coin
	err := walletdb.View(c.db, func(tx walletdb.ReadTx) error {
		v := tx.ReadBucket(utxoBucketKey).Get(key)
		if v == nil {
			return ErrUnknownOutput
		}
		if err := deserializeCoin(key, v, &coin); err != nil {
			return err
		}

		coin.Confirmations = confirms(coin.Height, bestHeight)
		coin.Locked = tx.ReadBucket(lockBucketKey).Get(key) != nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !coin.Locked {
		c.expireLeases()
		coin.Locked = c.outpointUnavailable(op)
	}
	coin.Address = extractAddress(coin.PkScript, c.chainParams)

	return &coin, nil
}

// outpointUnavailable reports whether the outpoint is held by a memory lock
// or an unexpired lease.  The catalog mutex is acquired internally.
func (c *Catalog) outpointUnavailable(op wire.OutPoint) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if _, ok := c.memLocks[op]; ok {
		return true
	}
	_, ok := c.leases[op]
	return ok
}

// expireLeases drops all reservation leases whose expiry has passed.
func (c *Catalog) expireLeases() {
	now := c.clock.Now()

	c.mtx.Lock()
	defer c.mtx.Unlock()

	for op, l := range c.leases {
		if now.After(l.expiry) {
			log.Debugf("Reservation lease on %v expired", op)
			delete(c.leases, op)
		}
	}
}
