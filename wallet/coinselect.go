// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/coinforge/coinforge/coindb"
)

// SelectionPolicy restricts which catalog coins may fund a transaction.
// The zero value admits every confirmed, safe, spendable coin.
type SelectionPolicy struct {
	// MinConf is the minimum number of confirmations a coin must have.
	// Zero admits unconfirmed coins.
	MinConf int32

	// MaxConf, when non-zero, is the maximum number of confirmations a
	// coin may have.
	MaxConf int32

	// IncludeUnsafe admits coins whose safety the catalog could not
	// establish, such as outputs of unconfirmed foreign transactions.
	IncludeUnsafe bool

	// AvoidReuse excludes coins paying to addresses that have already
	// been used more than once.  Such coins never fund a transaction,
	// appear in no balance presented for funding, and their exclusion
	// may surface as insufficient funds.
	AvoidReuse bool

	// AvoidPartialSpends groups coins by destination address and spends
	// each group all-or-nothing, so no address is left partially swept.
	AvoidPartialSpends bool
}

// candidate is a catalog coin annotated with its fee relevant properties
// under a concrete fee rate.
type candidate struct {
	coin *coindb.Coin
	kind ScriptKind

	// inputSize is the worst case virtual size the input adds.
	inputSize int

	// effective is the coin value minus the fee its own input costs at
	// the active rate.
	effective btcutil.Amount
}

// inputGroup is the unit of selection: a single candidate, or every
// candidate of one address when partial spend avoidance is active.
type inputGroup struct {
	candidates []candidate
	amount     btcutil.Amount
	effective  btcutil.Amount
}

// buildCandidates applies the selection policy to a catalog snapshot and
// prices the survivors at the given fee rate.  Coins whose value cannot
// pay for their own input at the active rate are suppressed, since adding
// them can only reduce the funded total.  The second return value is the
// summed value of every coin that passed the policy, which callers report
// when funding fails.
func buildCandidates(coins []*coindb.Coin, policy SelectionPolicy,
	rate SatPerKVByte) ([]candidate, btcutil.Amount) {

	candidates := make([]candidate, 0, len(coins))
	var available btcutil.Amount

	for _, coin := range coins {
		switch {
		case !coin.Spendable || !coin.Solvable:
			continue
		case coin.Locked:
			continue
		case coin.Confirmations < policy.MinConf:
			continue
		case policy.MaxConf != 0 &&
			coin.Confirmations > policy.MaxConf:
			continue
		case !coin.Safe && !policy.IncludeUnsafe:
			continue
		case policy.AvoidReuse && coin.Reused:
			continue
		}

		available += coin.Amount

		kind := ScriptKindOf(coin.PkScript)
		inputSize := kind.EstimateInputSize()
		effective := coin.Amount - rate.FeeForVSize(inputSize)
		if effective <= 0 {
			log.Debugf("Skipping coin %v: value %v cannot pay "+
				"for its own input at %v", coin.OutPoint,
				coin.Amount, rate)
			continue
		}

		candidates = append(candidates, candidate{
			coin:      coin,
			kind:      kind,
			inputSize: inputSize,
			effective: effective,
		})
	}

	return candidates, available
}

// groupCandidates arranges candidates into selection units.  Without
// address grouping every candidate forms its own unit.  With grouping all
// candidates paying the same address form one unit; candidates without a
// recognizable address stay individual.
func groupCandidates(candidates []candidate, byAddress bool) []inputGroup {
	if !byAddress {
		groups := make([]inputGroup, len(candidates))
		for i, cand := range candidates {
			groups[i] = inputGroup{
				candidates: []candidate{cand},
				amount:     cand.coin.Amount,
				effective:  cand.effective,
			}
		}
		return groups
	}

	grouped := make(map[string]*inputGroup)
	var groups []inputGroup
	for _, cand := range candidates {
		if cand.coin.Address == nil {
			groups = append(groups, inputGroup{
				candidates: []candidate{cand},
				amount:     cand.coin.Amount,
				effective:  cand.effective,
			})
			continue
		}

		key := cand.coin.Address.EncodeAddress()
		group, ok := grouped[key]
		if !ok {
			grouped[key] = &inputGroup{
				candidates: []candidate{cand},
				amount:     cand.coin.Amount,
				effective:  cand.effective,
			}
			continue
		}
		group.candidates = append(group.candidates, cand)
		group.amount += cand.coin.Amount
		group.effective += cand.effective
	}

	for _, group := range grouped {
		groups = append(groups, *group)
	}
	return groups
}

// selectGroups chooses input groups whose combined effective value covers
// the needed amount.
//
// Two passes run.  The first looks for a single group that covers the
// need with a surplus too small to be worth a change output; hitting one
// avoids change entirely, which both shrinks the transaction and improves
// privacy.  The group order is randomized first so equally good
// changeless matches do not always resolve to the same coin.  The second
// pass greedily accumulates groups in descending effective value order
// until the need is covered.
//
// The boolean result reports whether the changeless pass won.  When even
// the full candidate set cannot cover the need, ok is false and the
// caller converts the shortfall into an insufficient funds error.
func selectGroups(groups []inputGroup, needed btcutil.Amount,
	changeScriptSize int, relayFee SatPerKVByte,
	shuf *shuffler) (selected []candidate, total btcutil.Amount,
	changeless, ok bool) {

	shuf.shuffle(len(groups), func(i, j int) {
		groups[i], groups[j] = groups[j], groups[i]
	})

	for _, group := range groups {
		surplus := group.effective - needed
		if surplus >= 0 && isDustAmount(
			surplus, changeScriptSize, relayFee,
		) {

			for _, cand := range group.candidates {
				total += cand.coin.Amount
			}
			return group.candidates, total, true, true
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].effective > groups[j].effective
	})

	var effectiveSum btcutil.Amount
	for _, group := range groups {
		selected = append(selected, group.candidates...)
		for _, cand := range group.candidates {
			total += cand.coin.Amount
		}
		effectiveSum += group.effective

		if effectiveSum >= needed {
			return selected, total, false, true
		}
	}

	return nil, total, false, false
}
