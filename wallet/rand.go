// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"math/rand"
	"sync"
	"time"
)

// shuffler is the injected pseudo-random source behind every privacy
// relevant ordering decision: candidate shuffling during coin selection,
// input ordering, and change output placement.  It exists as an explicit
// type so tests can pin a seed and assert exact outcomes while production
// wallets keep a time-seeded source.
type shuffler struct {
	mtx sync.Mutex
	rng *rand.Rand
}

// newShuffler returns a shuffler seeded from the passed seed.  A zero seed
// selects a wall-clock seed.
func newShuffler(seed int64) *shuffler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &shuffler{rng: rand.New(rand.NewSource(seed))}
}

// intn returns a uniform value in [0, n).
func (s *shuffler) intn(n int) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.rng.Intn(n)
}

// shuffle randomizes the order of n elements using the provided swap
// function.
func (s *shuffler) shuffle(n int, swap func(i, j int)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.rng.Shuffle(n, swap)
}
