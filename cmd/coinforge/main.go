// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // Register bdb driver.
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/term"

	"github.com/coinforge/coinforge/chain"
	"github.com/coinforge/coinforge/coindb"
	"github.com/coinforge/coinforge/wallet"
)

const version = "0.1.0"

// staticChain is an offline chain query: the tip height comes from the
// command line and no on-chain lookups are available.
type staticChain struct {
	tip int32
}

func (s staticChain) FindCoin(_ context.Context,
	_ wire.OutPoint) (*chain.ConfirmedOutput, error) {

	return nil, chain.ErrCoinNotFound
}

func (s staticChain) BestHeight(_ context.Context) (int32, error) {
	return s.tip, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, args, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("coinforge version %s\n", version)
		return nil
	}

	err = initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err != nil {
		return err
	}
	defer logRotator.Close()

	if err := setLogLevels(cfg.DebugLevel); err != nil {
		return err
	}

	if len(args) == 0 {
		return errors.New("no command given; expected one of: " +
			"list, locked, lock, unlock, unlockall, import, draft")
	}

	w, catalog, cleanup, err := openWallet(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()

	switch args[0] {
	case "list":
		return listCoins(ctx, w)

	case "locked":
		return listLocked(w)

	case "lock", "unlock":
		if len(args) < 2 {
			return fmt.Errorf("%s requires an outpoint argument",
				args[0])
		}
		op, err := parseOutPoint(args[1])
		if err != nil {
			return err
		}
		if args[0] == "lock" {
			return w.LockOutpoint(op, true)
		}
		return w.UnlockOutpoint(op, true)

	case "unlockall":
		return w.UnlockAllOutpoints()

	case "import":
		if len(args) < 2 {
			return errors.New("import requires a coin " +
				"specification argument")
		}
		return importCoin(catalog, cfg, args[1])

	case "draft":
		return draft(ctx, w, cfg, args[1:])

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// openWallet opens the coin catalog database and assembles the wallet over
// it.  The returned cleanup closes the database.
func openWallet(cfg *config) (*wallet.Wallet, *coindb.Catalog,
	func(), error) {

	dbPath := cfg.dbPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, nil, nil, err
	}

	db, err := walletdb.Open("bdb", dbPath, true, 60*time.Second, false)
	if err != nil {
		db, err = walletdb.Create(
			"bdb", dbPath, true, 60*time.Second, false,
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("unable to open "+
				"coin database: %w", err)
		}
	}

	catalog, err := coindb.Open(db, cfg.chainParams(), nil)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	changeSource, err := makeChangeSource(cfg)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	estimator := chain.NewCachingEstimator(chain.StaticEstimator{
		Rate: btcutil.Amount(wallet.SatPerVByte(cfg.StaticFee)),
	}, 0)

	w, err := wallet.New(wallet.Config{
		ChainParams:  cfg.chainParams(),
		Catalog:      catalog,
		Chain:        staticChain{tip: cfg.TipHeight},
		FeeEstimator: estimator,
		ChangeSource: changeSource,
	})
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	return w, catalog, func() { db.Close() }, nil
}

// makeChangeSource builds a change source paying to the configured change
// address.  Drafting without a change address is allowed as long as no
// transaction actually needs change, so the script closure fails lazily.
func makeChangeSource(cfg *config) (*wallet.ChangeSource, error) {
	if cfg.ChangeAddress == "" {
		return &wallet.ChangeSource{
			NewScript: func() ([]byte, error) {
				return nil, errors.New("transaction " +
					"requires change but no change " +
					"address was configured")
			},
			// Assume a p2wpkh-sized change script for fee
			// estimation.
			ScriptSize: 22,
		}, nil
	}

	addr, err := btcutil.DecodeAddress(
		cfg.ChangeAddress, cfg.chainParams(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid change address: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return &wallet.ChangeSource{
		NewScript:  func() ([]byte, error) { return script, nil },
		ScriptSize: len(script),
	}, nil
}

func listCoins(ctx context.Context, w *wallet.Wallet) error {
	coins, err := w.ListUnspent(ctx, 0, 0, true)
	if err != nil {
		return err
	}

	for _, coin := range coins {
		state := ""
		switch {
		case coin.Locked:
			state = " (locked)"
		case !coin.Spendable:
			state = " (unspendable)"
		}
		fmt.Printf("%v  %v  %d confs%s\n", coin.OutPoint, coin.Amount,
			coin.Confirmations, state)
	}
	return nil
}

func listLocked(w *wallet.Wallet) error {
	outpoints, err := w.ListLockedOutpoints()
	if err != nil {
		return err
	}
	for _, op := range outpoints {
		fmt.Println(op)
	}
	return nil
}

// importCoin adds an externally known coin to the catalog.  The
// specification format is txid:index:amount:height:scripthex with the
// amount given in whole coins.
func importCoin(catalog *coindb.Catalog, cfg *config, spec string) error {
	parts := strings.Split(spec, ":")
	if len(parts) != 5 {
		return errors.New("coin specification must be " +
			"txid:index:amount:height:scripthex")
	}

	op, err := parseOutPoint(parts[0] + ":" + parts[1])
	if err != nil {
		return err
	}
	coins, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	amount, err := btcutil.NewAmount(coins)
	if err != nil {
		return err
	}
	height, err := strconv.ParseInt(parts[3], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid height: %w", err)
	}
	pkScript, err := hex.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("invalid script hex: %w", err)
	}

	err = catalog.InsertCoin(coindb.Coin{
		OutPoint:  op,
		Amount:    amount,
		PkScript:  pkScript,
		Height:    int32(height),
		Received:  time.Now(),
		Spendable: true,
		Solvable:  true,
		Safe:      true,
	})
	if err != nil {
		return err
	}

	log.Infof("Imported coin %v (%v)", op, amount)
	return nil
}

// draft funds a transaction paying the recipients given as addr=amount
// arguments, prints it, and releases the input reservation again.  With
// --sign set the inputs are signed with interactively provided WIF keys
// first.
func draft(ctx context.Context, w *wallet.Wallet, cfg *config,
	args []string) error {

	if len(args) == 0 {
		return errors.New("draft requires at least one " +
			"addr=amount argument")
	}

	recipients := make([]wallet.Recipient, 0, len(args))
	for _, arg := range args {
		addrStr, amtStr, found := strings.Cut(arg, "=")
		if !found {
			return fmt.Errorf("malformed recipient %q, expected "+
				"addr=amount", arg)
		}
		addr, err := btcutil.DecodeAddress(addrStr, cfg.chainParams())
		if err != nil {
			return fmt.Errorf("invalid recipient address %q: %w",
				addrStr, err)
		}
		coins, err := strconv.ParseFloat(amtStr, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", amtStr, err)
		}
		amount, err := btcutil.NewAmount(coins)
		if err != nil {
			return err
		}
		recipients = append(recipients, wallet.Recipient{
			Address: addr,
			Amount:  amount,
		})
	}

	if len(cfg.SubtractFee) > 0 {
		addrs := make([]btcutil.Address, 0, len(cfg.SubtractFee))
		for _, addrStr := range cfg.SubtractFee {
			addr, err := btcutil.DecodeAddress(
				addrStr, cfg.chainParams(),
			)
			if err != nil {
				return fmt.Errorf("invalid subtractfeefrom "+
					"address %q: %w", addrStr, err)
			}
			addrs = append(addrs, addr)
		}
		err := wallet.MarkSubtractFee(recipients, addrs)
		if err != nil {
			return err
		}
	}

	intent := &wallet.TxIntent{
		Recipients: recipients,
		Policy: wallet.SelectionPolicy{
			MinConf:            cfg.MinConf,
			AvoidReuse:         cfg.AvoidReuse,
			AvoidPartialSpends: cfg.AvoidPartialSpends,
		},
		AddInputs:   cfg.AddInputs,
		LockTime:    cfg.LockTime,
		Replaceable: cfg.Replaceable,
	}

	if cfg.FeeRate > 0 {
		intent.Fee.ExplicitRate = fn.Some(
			wallet.SatPerVByte(cfg.FeeRate),
		)
	}
	if cfg.ConfTarget > 0 {
		intent.Fee.ConfTarget = fn.Some(cfg.ConfTarget)
	}
	if cfg.EstimateMode != "" {
		mode, err := chain.EstimateModeFromString(cfg.EstimateMode)
		if err != nil {
			return err
		}
		intent.Fee.Mode = mode
	}
	if cfg.ChangePosition >= 0 {
		intent.ChangePosition = fn.Some(cfg.ChangePosition)
	}

	for _, opStr := range cfg.Inputs {
		op, err := parseOutPoint(opStr)
		if err != nil {
			return err
		}
		intent.Inputs = append(intent.Inputs, op)
	}

	if cfg.Psbt {
		packet, changeIndex, err := w.FundPsbt(ctx, intent)
		if err != nil {
			return err
		}
		b64, err := packet.B64Encode()
		if err != nil {
			return err
		}
		fmt.Println(b64)
		if changeIndex >= 0 {
			fmt.Printf("change output: %d\n", changeIndex)
		}
		return nil
	}

	authored, err := w.CreateTransaction(ctx, intent)
	if err != nil {
		return err
	}
	// The offline tool only prints the transaction, so the reservation
	// is released again instead of committed.
	defer func() {
		if err := w.Release(authored); err != nil {
			log.Warnf("Unable to release draft inputs: %v", err)
		}
	}()

	if cfg.Sign {
		if err := signDraft(cfg, authored); err != nil {
			return err
		}
	}

	var buf strings.Builder
	if err := authored.Tx.Serialize(hex.NewEncoder(&buf)); err != nil {
		return err
	}

	fmt.Printf("inputs: %d  outputs: %d  fee: %v\n",
		len(authored.Tx.TxIn), len(authored.Tx.TxOut), authored.Fee)
	fmt.Println(buf.String())
	return nil
}

// signDraft unlocks an ephemeral session and signs the draft with WIF
// keys read from the terminal, one per prompt, terminated by an empty
// line.
func signDraft(cfg *config, authored *wallet.AuthoredTx) error {

	passphrase, err := promptSecret("Session passphrase")
	if err != nil {
		return err
	}

	session, err := wallet.NewSession(
		passphrase, clock.NewDefaultClock(),
		ticker.New(time.Second), nil,
	)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Unlock(passphrase, time.Minute); err != nil {
		return err
	}

	secrets := &wifSecrets{
		params: cfg.chainParams(),
		keys:   make(map[string]*btcutil.WIF),
	}
	for {
		encoded, err := promptSecret(
			"WIF private key (empty to finish)",
		)
		if err != nil {
			return err
		}
		if len(encoded) == 0 {
			break
		}
		wif, err := btcutil.DecodeWIF(string(encoded))
		if err != nil {
			return fmt.Errorf("invalid WIF: %w", err)
		}
		if !wif.IsForNet(cfg.chainParams()) {
			return fmt.Errorf("WIF is for the wrong network")
		}
		secrets.add(wif)
	}

	if err := session.CheckUnlocked(); err != nil {
		return err
	}

	result, err := wallet.SignTransaction(
		authored.Tx, authored.PrevScripts, authored.PrevInputValues,
		secrets,
	)
	if err != nil {
		return err
	}
	for _, inputErr := range result.InputErrors {
		fmt.Fprintln(os.Stderr, inputErr)
	}
	if !result.Complete {
		return errors.New("not all inputs could be signed")
	}
	return nil
}

// wifSecrets implements the secrets source over a set of imported WIF
// keys, indexed by every address form their public keys can take.
type wifSecrets struct {
	params *chaincfg.Params
	keys   map[string]*btcutil.WIF
}

func (s *wifSecrets) add(wif *btcutil.WIF) {
	pubKeyBytes := wif.SerializePubKey()
	pubKeyHash := btcutil.Hash160(pubKeyBytes)

	if addr, err := btcutil.NewAddressPubKeyHash(
		pubKeyHash, s.params,
	); err == nil {
		s.keys[addr.EncodeAddress()] = wif
	}
	if addr, err := btcutil.NewAddressWitnessPubKeyHash(
		pubKeyHash, s.params,
	); err == nil {
		s.keys[addr.EncodeAddress()] = wif
	}
}

func (s *wifSecrets) GetKey(addr btcutil.Address) (*btcec.PrivateKey, bool,
	error) {

	wif, ok := s.keys[addr.EncodeAddress()]
	if !ok {
		return nil, false, fmt.Errorf("no key for address %v", addr)
	}
	return wif.PrivKey, wif.CompressPubKey, nil
}

func (s *wifSecrets) GetScript(addr btcutil.Address) ([]byte, error) {
	return nil, fmt.Errorf("no script for address %v", addr)
}

func (s *wifSecrets) ChainParams() *chaincfg.Params {
	return s.params
}

func promptSecret(what string) ([]byte, error) {
	fmt.Printf("%s: ", what)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	return secret, err
}

func parseOutPoint(s string) (wire.OutPoint, error) {
	txidStr, voutStr, found := strings.Cut(s, ":")
	if !found {
		return wire.OutPoint{}, fmt.Errorf("malformed outpoint %q, "+
			"expected txid:index", s)
	}
	txid, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid txid: %w", err)
	}
	vout, err := strconv.ParseUint(voutStr, 10, 32)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid output index: %w",
			err)
	}
	return wire.OutPoint{Hash: *txid, Index: uint32(vout)}, nil
}
