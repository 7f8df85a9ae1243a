// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultDebugLevel  = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "coinforge.log"
	defaultDBFilename  = "coins.db"
	defaultMinConf     = 1
)

var defaultDataDir = btcutil.AppDataDir("coinforge", false)

// config holds the parsed command line options.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     string `short:"A" long:"appdata" description:"Application data directory"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	TestNet3 bool `long:"testnet" description:"Use the test network (version 3)"`
	SimNet   bool `long:"simnet" description:"Use the simulation test network"`

	TipHeight int32 `long:"tipheight" description:"Chain tip height confirmations are computed against"`

	FeeRate      float64 `long:"feerate" description:"Explicit fee rate in sat/vB (conflicts with conftarget)"`
	ConfTarget   uint32  `long:"conftarget" description:"Confirmation target in blocks for fee estimation"`
	EstimateMode string  `long:"estimatemode" description:"Fee estimate mode {unset, economical, conservative}"`
	StaticFee    float64 `long:"staticfee" description:"Rate in sat/vB served by the offline fee estimator"`

	MinConf            int32    `long:"minconf" description:"Minimum confirmations required on selected coins"`
	AvoidReuse         bool     `long:"avoidreuse" description:"Never select coins on already used addresses"`
	AvoidPartialSpends bool     `long:"avoidpartialspends" description:"Spend all coins of an address together"`
	Inputs             []string `long:"input" description:"Outpoint (txid:index) that must fund the transaction; may be repeated"`
	AddInputs          bool     `long:"addinputs" description:"Allow adding wallet inputs beyond the provided ones"`

	ChangeAddress  string   `long:"changeaddress" description:"Address receiving transaction change"`
	ChangePosition int      `long:"changeposition" default:"-1" description:"Fixed output index of the change output"`
	SubtractFee    []string `long:"subtractfeefrom" description:"Recipient address paying its share of the fee; may be repeated"`

	LockTime    uint32 `long:"locktime" description:"Transaction lock time"`
	Replaceable bool   `long:"rbf" description:"Signal opt-in replace-by-fee"`

	Psbt bool `long:"psbt" description:"Print the funded transaction as a base64 PSBT"`
	Sign bool `long:"sign" description:"Sign the drafted transaction with interactively provided WIF keys"`
}

// loadConfig parses the command line into a config and the remaining
// positional arguments.
func loadConfig() (*config, []string, error) {
	cfg := config{
		DataDir:    defaultDataDir,
		DebugLevel: defaultDebugLevel,
		MinConf:    defaultMinConf,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	remaining, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) &&
			flagsErr.Type == flags.ErrHelp {

			os.Exit(0)
		}
		return nil, nil, err
	}

	if cfg.TestNet3 && cfg.SimNet {
		return nil, nil, errors.New("the testnet and simnet params " +
			"can't be used together -- choose one of the two")
	}

	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(
			cfg.DataDir, defaultLogDirname, cfg.netName(),
		)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("unable to create data "+
			"directory: %w", err)
	}

	return &cfg, remaining, nil
}

// chainParams returns the network parameters selected by the config.
func (c *config) chainParams() *chaincfg.Params {
	switch {
	case c.TestNet3:
		return &chaincfg.TestNet3Params
	case c.SimNet:
		return &chaincfg.SimNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// netName returns the directory name used to separate per-network data.
func (c *config) netName() string {
	return c.chainParams().Name
}

// dbPath returns the location of the coin catalog database.
func (c *config) dbPath() string {
	return filepath.Join(c.DataDir, c.netName(), defaultDBFilename)
}
