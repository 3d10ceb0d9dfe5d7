package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config keys. Each is also a command line flag on the commands reading it,
// and an environment variable with the GSA_ prefix, e.g. GSA_HTTP_ADDR.
const (
	listenAddrsKey  = "listen-addrs"
	remoteAddrsKey  = "remote-addrs"
	httpAddrKey     = "http-addr"
	httpAddrFileKey = "http-addr-file"
	sqlitePathKey   = "sqlite-path"
	compressKey     = "compress"

	provisionersKey = "provisioners"
	minStakeKey     = "min-stake"
	genesisSeedKey  = "genesis-seed"
	firstRoundKey   = "first-round"
	retainRoundsKey = "retain-rounds"

	maxIterationsKey      = "max-iterations"
	emergencyThresholdKey = "emergency-threshold"
)

const envPrefix = "GSA"

type provisionerConfig struct {
	PubKey        string `mapstructure:"pubkey"`
	Stake         uint64 `mapstructure:"stake"`
	EligibleSince uint64 `mapstructure:"eligible-since"`
}

// nodeConfig is the merged view of the config file, environment, and flags.
type nodeConfig struct {
	ListenAddrs  []string
	RemoteAddrs  []string
	HTTPAddr     string
	HTTPAddrFile string
	SQLitePath   string
	Compress     bool

	Provisioners []provisionerConfig
	MinStake     uint64
	GenesisSeed  string
	FirstRound   uint64
	RetainRounds uint64

	MaxIterations      uint8
	EmergencyThreshold uint8
}

func addNetworkFlags(fs *pflag.FlagSet) {
	fs.StringSliceP(listenAddrsKey, "l", []string{"/ip4/0.0.0.0/tcp/8888"}, "multiaddrs to listen on")
	fs.StringSlice(remoteAddrsKey, nil, "p2p multiaddrs to connect to at startup; if omitted, relies on incoming connections to discover peers")
	fs.String(httpAddrKey, "", "TCP address of the introspective HTTP server; if blank, server will not be started")
	fs.String(httpAddrFileKey, "", "Write the actual HTTP listen address to the given file (useful when listening on :0)")
	fs.String(sqlitePathKey, "", "Path to the attestation database; if blank, uses an in-memory store; if the exact string :memory:, uses SQLite in-memory database; otherwise path to on-disk SQLite database")
	fs.Bool(compressKey, false, "snappy-compress consensus messages on the wire; every node must agree")

	fs.Uint64(retainRoundsKey, 16, "rounds of fail attestations to keep in the database")
}

func addRoundFlags(fs *pflag.FlagSet) {
	fs.Uint64(minStakeKey, 1, "minimum stake for a provisioner to be eligible")
	fs.String(genesisSeedKey, "gsa-genesis", "seed of the first round")
	fs.Uint64(firstRoundKey, 1, "first round to run")

	defaults := saengine.DefaultConfig()
	fs.Uint8(maxIterationsKey, defaults.MaxIterations, "iterations per round")
	fs.Uint8(emergencyThresholdKey, defaults.EmergencyIterationThreshold, "first emergency iteration")
}

// newViper returns a viper reading configPath, if not empty,
// overridden by GSA_ environment variables and then by the set flags of fs.
func newViper(configPath string, fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

func loadNodeConfig(v *viper.Viper) (nodeConfig, error) {
	cfg := nodeConfig{
		ListenAddrs:  v.GetStringSlice(listenAddrsKey),
		RemoteAddrs:  v.GetStringSlice(remoteAddrsKey),
		HTTPAddr:     v.GetString(httpAddrKey),
		HTTPAddrFile: v.GetString(httpAddrFileKey),
		SQLitePath:   v.GetString(sqlitePathKey),
		Compress:     v.GetBool(compressKey),

		MinStake:     v.GetUint64(minStakeKey),
		GenesisSeed:  v.GetString(genesisSeedKey),
		FirstRound:   v.GetUint64(firstRoundKey),
		RetainRounds: v.GetUint64(retainRoundsKey),

		MaxIterations:      uint8(v.GetUint(maxIterationsKey)),
		EmergencyThreshold: uint8(v.GetUint(emergencyThresholdKey)),
	}

	if err := v.UnmarshalKey(provisionersKey, &cfg.Provisioners); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", provisionersKey, err)
	}
	if len(cfg.Provisioners) == 0 {
		return cfg, errors.New("config must list at least one provisioner")
	}
	if cfg.FirstRound == 0 {
		return cfg, errors.New("first-round must be at least 1")
	}

	return cfg, nil
}

// BuildProvisioners parses the configured BLS public keys.
func (c nodeConfig) BuildProvisioners() (*saconsensus.Provisioners, error) {
	ps := make([]saconsensus.Provisioner, len(c.Provisioners))
	for i, pc := range c.Provisioners {
		b, err := hex.DecodeString(pc.PubKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse provisioner pubkey at index %d: %w", i, err)
		}

		pubKey, err := gcrypto.NewBLSPubKey(b)
		if err != nil {
			return nil, fmt.Errorf("failed to build BLS public key at index %d: %w", i, err)
		}

		ps[i] = saconsensus.Provisioner{
			PubKey:        pubKey,
			Stake:         pc.Stake,
			EligibleSince: pc.EligibleSince,
		}
	}

	return saconsensus.NewProvisioners(c.MinStake, ps...)
}

// EngineConfig applies the configured overrides to the default protocol constants.
func (c nodeConfig) EngineConfig() (saengine.Config, error) {
	ec := saengine.DefaultConfig()
	ec.MaxIterations = c.MaxIterations
	ec.EmergencyIterationThreshold = c.EmergencyThreshold
	if err := ec.Validate(); err != nil {
		return ec, err
	}
	return ec, nil
}
