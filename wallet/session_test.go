// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

// fastScrypt are insecure derivation parameters that keep tests quick.
var fastScrypt = &ScryptOptions{
	N: 16,
	R: 8,
	P: 1,
}

// newTestSession returns a session driven by a test clock and a forced
// ticker.
func newTestSession(t *testing.T,
	passphrase string) (*Session, *clock.TestClock, *ticker.Force) {

	t.Helper()

	clk := clock.NewTestClock(time.Unix(1700000000, 0))
	tkr := ticker.NewForce(time.Hour)

	session, err := NewSession([]byte(passphrase), clk, tkr, fastScrypt)
	require.NoError(t, err)
	t.Cleanup(session.Close)

	return session, clk, tkr
}

// TestSessionUnlockLock covers the basic state machine transitions.
func TestSessionUnlockLock(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t, "passphrase")

	// Freshly created sessions are locked.
	require.True(t, session.Locked())
	require.ErrorIs(t, session.CheckUnlocked(), ErrWalletLocked)

	// The wrong passphrase does not unlock.
	err := session.Unlock([]byte("wrong"), 0)
	require.ErrorIs(t, err, ErrInvalidPassphrase)
	require.True(t, session.Locked())

	// The right one does.
	require.NoError(t, session.Unlock([]byte("passphrase"), 0))
	require.False(t, session.Locked())
	require.NoError(t, session.CheckUnlocked())

	// Unlocking an unlocked session succeeds.
	require.NoError(t, session.Unlock([]byte("passphrase"), 0))
	require.False(t, session.Locked())

	// Locking is idempotent.
	session.Lock()
	require.True(t, session.Locked())
	session.Lock()
	require.True(t, session.Locked())
}

// TestSessionTimeout checks that a timed unlock expires.
func TestSessionTimeout(t *testing.T) {
	t.Parallel()

	session, clk, _ := newTestSession(t, "passphrase")

	require.NoError(t, session.Unlock(
		[]byte("passphrase"), 10*time.Minute,
	))
	require.NoError(t, session.CheckUnlocked())

	// Before the deadline the session stays unlocked.
	clk.SetTime(clk.Now().Add(9 * time.Minute))
	require.NoError(t, session.CheckUnlocked())

	// Past the deadline any access check locks the session, even
	// without a watcher tick.
	clk.SetTime(clk.Now().Add(2 * time.Minute))
	require.ErrorIs(t, session.CheckUnlocked(), ErrWalletLocked)
	require.True(t, session.Locked())
}

// TestSessionTimeoutRefresh checks that re-unlocking replaces the
// deadline.
func TestSessionTimeoutRefresh(t *testing.T) {
	t.Parallel()

	session, clk, _ := newTestSession(t, "passphrase")

	require.NoError(t, session.Unlock(
		[]byte("passphrase"), 10*time.Minute,
	))

	clk.SetTime(clk.Now().Add(9 * time.Minute))
	require.NoError(t, session.Unlock(
		[]byte("passphrase"), 10*time.Minute,
	))

	// The original deadline has passed, but the refreshed one has not.
	clk.SetTime(clk.Now().Add(5 * time.Minute))
	require.NoError(t, session.CheckUnlocked())
}

// TestSessionWatcherExpiry checks the background watcher locks an expired
// session on its own.
func TestSessionWatcherExpiry(t *testing.T) {
	t.Parallel()

	session, clk, tkr := newTestSession(t, "passphrase")

	require.NoError(t, session.Unlock(
		[]byte("passphrase"), time.Minute,
	))

	clk.SetTime(clk.Now().Add(2 * time.Minute))
	tkr.Force <- clk.Now()

	// The watcher processes ticks asynchronously.
	require.Eventually(t, session.Locked, time.Second,
		10*time.Millisecond)
}
