// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/crypto/scrypt"

	"github.com/coinforge/coinforge/internal/zero"
)

// ScryptOptions holds the scrypt parameters used for passphrase key
// derivation.
type ScryptOptions struct {
	N, R, P int
}

// defaultScryptOptions is the hardness commonly used for wallet
// encryption keys.
var defaultScryptOptions = ScryptOptions{
	N: 262144,
	R: 8,
	P: 1,
}

const (
	scryptKeyLen  = 32
	scryptSaltLen = 32
)

// sessionTickInterval is how often the expiry of a timed unlock is
// checked.
const sessionTickInterval = time.Second

// Session gates access to signing keys behind a passphrase.
//
// A session is either locked or unlocked.  Unlocking verifies the
// passphrase and optionally arms a deadline after which the session locks
// itself.  Locking an already locked session and unlocking an already
// unlocked session are both no-ops beyond refreshing the deadline, so
// callers never need to inspect the state before acting on it.
type Session struct {
	mtx sync.Mutex

	scrypt  ScryptOptions
	salt    [scryptSaltLen]byte
	derived [scryptKeyLen]byte

	unlocked bool

	// expiry is the zero time for an unlock without deadline.
	expiry time.Time

	clk clock.Clock
	tkr ticker.Ticker

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewSession derives the session verifier from the passphrase and starts
// the expiry watcher.  The session begins locked.  The passed ticker
// drives deadline checks; tests inject a forced ticker and a test clock
// to step time manually.  A nil scryptOpts selects the default key
// derivation hardness, tests pass weak parameters to keep derivation
// fast.
func NewSession(passphrase []byte, clk clock.Clock, tkr ticker.Ticker,
	scryptOpts *ScryptOptions) (*Session, error) {

	if scryptOpts == nil {
		scryptOpts = &defaultScryptOptions
	}

	s := &Session{
		scrypt: *scryptOpts,
		clk:    clk,
		tkr:    tkr,
		quit:   make(chan struct{}),
	}

	if _, err := rand.Read(s.salt[:]); err != nil {
		return nil, fmt.Errorf("unable to generate session salt: %w",
			err)
	}

	derived, err := scrypt.Key(
		passphrase, s.salt[:], s.scrypt.N, s.scrypt.R, s.scrypt.P,
		scryptKeyLen,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to derive session key: %w",
			err)
	}
	copy(s.derived[:], derived)
	zero.Bytes(derived)

	s.wg.Add(1)
	go s.expiryWatcher()

	return s, nil
}

// Unlock verifies the passphrase and unlocks the session.  A non-zero
// timeout arms a deadline after which the session locks itself; a zero
// timeout keeps it unlocked until Lock is called.  Unlocking an already
// unlocked session re-verifies the passphrase and replaces the deadline.
func (s *Session) Unlock(passphrase []byte, timeout time.Duration) error {
	derived, err := scrypt.Key(
		passphrase, s.salt[:], s.scrypt.N, s.scrypt.R, s.scrypt.P,
		scryptKeyLen,
	)
	if err != nil {
		return fmt.Errorf("unable to derive session key: %w", err)
	}
	defer zero.Bytes(derived)

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if subtle.ConstantTimeCompare(derived, s.derived[:]) != 1 {
		return ErrInvalidPassphrase
	}

	s.unlocked = true
	if timeout > 0 {
		s.expiry = s.clk.Now().Add(timeout)
		s.tkr.Resume()
		log.Infof("Session unlocked until %v", s.expiry)
	} else {
		s.expiry = time.Time{}
		log.Info("Session unlocked without deadline")
	}

	return nil
}

// Lock locks the session.  Locking an already locked session is a no-op.
func (s *Session) Lock() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.lock()
}

// lock transitions to the locked state.  The caller must hold the mutex.
func (s *Session) lock() {
	if !s.unlocked {
		return
	}

	s.unlocked = false
	s.expiry = time.Time{}
	s.tkr.Pause()
	log.Info("Session locked")
}

// Locked reports whether the session is locked.
func (s *Session) Locked() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return !s.unlocked
}

// CheckUnlocked returns ErrWalletLocked when the session is locked.  It
// also enforces a deadline that has passed but has not been swept by the
// watcher yet, so an expired session can never sign.
func (s *Session) CheckUnlocked() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.unlocked && !s.expiry.IsZero() &&
		!s.clk.Now().Before(s.expiry) {

		s.lock()
	}
	if !s.unlocked {
		return ErrWalletLocked
	}
	return nil
}

// expiryWatcher locks the session once a timed unlock passes its
// deadline.
func (s *Session) expiryWatcher() {
	defer s.wg.Done()

	for {
		select {
		case <-s.tkr.Ticks():
			s.mtx.Lock()
			if s.unlocked && !s.expiry.IsZero() &&
				!s.clk.Now().Before(s.expiry) {

				s.lock()
			}
			s.mtx.Unlock()

		case <-s.quit:
			return
		}
	}
}

// Close stops the expiry watcher and locks the session.
func (s *Session) Close() {
	s.Lock()

	close(s.quit)
	s.wg.Wait()
	s.tkr.Stop()

	s.mtx.Lock()
	zero.Bytea32(&s.derived)
	s.mtx.Unlock()
}
