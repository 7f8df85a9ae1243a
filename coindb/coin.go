// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coindb

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
)

// Coin represents one unspent transaction output tracked by the catalog,
// annotated with everything the selection policy needs to decide whether it
// may fund a transaction.
type Coin struct {
	// OutPoint is the transaction output identifier.
	OutPoint wire.OutPoint

	// Amount is the value of the output.  It is always positive.
	Amount btcutil.Amount

	// PkScript is the public key script of the output.
	PkScript []byte

	// Height is the height of the block the output confirmed in.  Zero
	// means the output is unconfirmed, a negative height means the
	// funding transaction conflicts with the current chain.
	Height int32

	// Received is the time the wallet first learned of the output.
	Received time.Time

	// FromCoinBase indicates the output was created by a coinbase
	// transaction and is subject to the maturity requirement.
	FromCoinBase bool

	// Spendable indicates the wallet holds the key material to spend the
	// output.  A coin with Spendable false is never selected.
	Spendable bool

	// Solvable indicates the wallet can produce a full solving script for
	// the output, even if it cannot sign (watch-only descriptors).
	Solvable bool

	// Safe indicates the output either confirmed or originates from a
	// transaction created by this wallet.  Unconfirmed outputs received
	// from untrusted sources are unsafe and excluded from selection
	// unless the caller opts in.
	Safe bool

	// Reused indicates the output pays to an address that was already
	// spent from.  Selecting it links otherwise unrelated payments, so
	// the avoid-reuse policy excludes it.
	Reused bool

	// Confirmations is the depth of the output relative to the height the
	// catalog was enumerated at.  It is computed per enumeration, not
	// stored.
	Confirmations int32

	// Locked reports whether the output was locked, manually or by a
	// reservation lease, at the time of enumeration.
	Locked bool

	// Address is the destination extracted from PkScript, when the script
	// has a canonical single destination.  It is computed per enumeration.
	Address btcutil.Address
}

// FromCredit builds a catalog Coin from a wtxmgr credit record.  The policy
// flags default to the safest interpretation: spendable, solvable and safe
// are set, reused is not.  Callers adjust them before insertion.
func FromCredit(c wtxmgr.Credit) Coin {
	return Coin{
		OutPoint:     c.OutPoint,
		Amount:       c.Amount,
		PkScript:     c.PkScript,
		Height:       c.Height,
		Received:     c.Received,
		FromCoinBase: c.FromCoinBase,
		Spendable:    true,
		Solvable:     true,
		Safe:         true,
	}
}

// Coin record flag bits.
const (
	flagFromCoinBase byte = 1 << iota
	flagSpendable
	flagSolvable
	flagSafe
	flagReused
)

// canonicalOutPoint serializes an outpoint as a fixed 36-byte key: the
// transaction hash followed by the big-endian output index.
func canonicalOutPoint(op *wire.OutPoint) []byte {
	k := make([]byte, 36)
	copy(k, op.Hash[:])
	binary.BigEndian.PutUint32(k[32:36], op.Index)
	return k
}

// readCanonicalOutPoint parses a key written by canonicalOutPoint.
func readCanonicalOutPoint(k []byte, op *wire.OutPoint) error {
	if len(k) != 36 {
		return fmt.Errorf("short outpoint key: %d bytes", len(k))
	}
	copy(op.Hash[:], k[:32])
	op.Index = binary.BigEndian.Uint32(k[32:36])
	return nil
}

// serializeCoin encodes the stored portion of a coin:
//
//	[8] amount
//	[4] height (two's complement, big endian)
//	[8] received unix seconds
//	[1] flags
//	[…] pkScript
func serializeCoin(c *Coin) []byte {
	v := make([]byte, 21+len(c.PkScript))
	binary.BigEndian.PutUint64(v[0:8], uint64(c.Amount))
	binary.BigEndian.PutUint32(v[8:12], uint32(c.Height))
	binary.BigEndian.PutUint64(v[12:20], uint64(c.Received.Unix()))

	var flags byte
	if c.FromCoinBase {
		flags |= flagFromCoinBase
	}
	if c.Spendable {
		flags |= flagSpendable
	}
	if c.Solvable {
		flags |= flagSolvable
	}
	if c.Safe {
		flags |= flagSafe
	}
	if c.Reused {
		flags |= flagReused
	}
	v[20] = flags

	copy(v[21:], c.PkScript)
	return v
}

// deserializeCoin decodes a value written by serializeCoin into c.  The
// outpoint is taken from the bucket key.
func deserializeCoin(k, v []byte, c *Coin) error {
	if err := readCanonicalOutPoint(k, &c.OutPoint); err != nil {
		return err
	}
	if len(v) < 21 {
		return fmt.Errorf("short coin record for %v: %d bytes",
			c.OutPoint, len(v))
	}

	c.Amount = btcutil.Amount(binary.BigEndian.Uint64(v[0:8]))
	c.Height = int32(binary.BigEndian.Uint32(v[8:12]))
	c.Received = time.Unix(int64(binary.BigEndian.Uint64(v[12:20])), 0)

	flags := v[20]
	c.FromCoinBase = flags&flagFromCoinBase != 0
	c.Spendable = flags&flagSpendable != 0
	c.Solvable = flags&flagSolvable != 0
	c.Safe = flags&flagSafe != 0
	c.Reused = flags&flagReused != 0

	c.PkScript = make([]byte, len(v)-21)
	copy(c.PkScript, v[21:])
	return nil
}

// confirms returns the number of confirmations for an output funded at
// txHeight given the current best height.  Unconfirmed outputs report zero
// and conflicted outputs report their (negative) stored height.
func confirms(txHeight, curHeight int32) int32 {
	switch {
	case txHeight == 0:
		return 0
	case txHeight < 0:
		return txHeight
	default:
		return curHeight - txHeight + 1
	}
}

// extractAddress returns the single canonical destination of a script, or
// nil when the script has no extractable single destination.
func extractAddress(pkScript []byte,
	params *chaincfg.Params) btcutil.Address {

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return nil
	}
	return addrs[0]
}

// spentRecord marks an outpoint as spent by the given transaction.
func serializeSpent(by *chainhash.Hash, at time.Time) []byte {
	v := make([]byte, 40)
	copy(v[0:32], by[:])
	binary.BigEndian.PutUint64(v[32:40], uint64(at.Unix()))
	return v
}
