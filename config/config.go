// Package config loads the bot's JSON configuration file into typed
// structs, converting hex-encoded secrets into opaque signing handles
// and string-encoded big integers into *big.Int fields.
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
)

// SigningKey is an opaque handle around an operator's decoded secret
// key. The bot never inspects or logs the underlying bytes; nothing in
// this module signs with it.
type SigningKey struct {
	raw []byte
}

// String never reveals key material.
func (k SigningKey) String() string {
	if len(k.raw) == 0 {
		return "<empty-signing-key>"
	}
	return "<signing-key>"
}

// Bytes returns the decoded key material for handing to a signer.
func (k SigningKey) Bytes() []byte {
	return k.raw
}

func decodeSigningKey(raw string) (SigningKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SigningKey{}, errors.New("empty keypair")
	}
	raw = strings.TrimPrefix(raw, "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return SigningKey{}, fmt.Errorf("decode keypair: %w", err)
	}
	return SigningKey{raw: decoded}, nil
}

// BigIntString unmarshals a JSON string field into a *big.Int.
type BigIntString struct {
	Value *big.Int
}

// UnmarshalJSON accepts either a JSON string or number and parses it
// into a base-10 big integer.
func (b *BigIntString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Fall back to a bare JSON number.
		var n json.Number
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return fmt.Errorf("parse big integer field: %w", err)
		}
		s = n.String()
	}
	s = strings.TrimSpace(s)
	if s == "" {
		b.Value = big.NewInt(0)
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid big integer value %q", s)
	}
	b.Value = v
	return nil
}

// MarshalJSON round-trips the value as a decimal string.
func (b BigIntString) MarshalJSON() ([]byte, error) {
	if b.Value == nil {
		return json.Marshal("0")
	}
	return json.Marshal(b.Value.String())
}

// FillerConfig is one bot identity's recognized configuration options.
type FillerConfig struct {
	Name                 string       `json:"name"`
	Keypair              string       `json:"keypair"`
	DefaultProfitPct     float64      `json:"defaultProfitPct"`
	MinHealthFactor      float64      `json:"minHealthFactor"`
	ForceFill            bool         `json:"forceFill"`
	SupportedBid         []string     `json:"supportedBid"`
	SupportedLot         []string     `json:"supportedLot"`
	PrimaryAsset         string       `json:"primaryAsset,omitempty"`
	MinPrimaryCollateral BigIntString `json:"minPrimaryCollateral,omitempty"`

	SigningKey SigningKey `json:"-"`
}

// PoolConfig is a per-pool override applied across all fillers.
type PoolConfig struct {
	Name                 string       `json:"name"`
	PoolAddress          string       `json:"poolAddress"`
	PrimaryAsset         string       `json:"primaryAsset"`
	MinPrimaryCollateral BigIntString `json:"minPrimaryCollateral"`
}

// ProfitOverride is an operator-configured profit target for auctions
// whose bid/lot asset sets are a superset of the listed assets.
type ProfitOverride struct {
	ProfitPct    float64  `json:"profitPct"`
	SupportedBid []string `json:"supportedBid"`
	SupportedLot []string `json:"supportedLot"`
}

// PriceSource describes one externally configured price feed.
type PriceSource struct {
	Kind    string `json:"kind"`
	BaseURL string `json:"baseURL,omitempty"`
}

// Config is the bot's full startup configuration, loaded from a single
// JSON file per spec.md §6.
type Config struct {
	Name                 string           `json:"name"`
	RPCURL               string           `json:"rpcURL"`
	NetworkPassphrase    string           `json:"networkPassphrase"`
	BackstopTokenAddress string           `json:"backstopTokenAddress"`
	BackstopAddress      string           `json:"backstopAddress"`
	USDCAddress          string           `json:"usdcAddress"`
	BLNDAddress          string           `json:"blndAddress"`
	Keypair              string           `json:"keypair"`
	Fillers              []FillerConfig   `json:"fillers"`
	PoolConfigs          []PoolConfig     `json:"poolConfigs"`
	HorizonURL           string           `json:"horizonURL,omitempty"`
	PriceSources         []PriceSource    `json:"priceSources,omitempty"`
	Profits              []ProfitOverride `json:"profits,omitempty"`
	SlackWebhook         string           `json:"slackWebhook,omitempty"`
	DiscordWebhook       string           `json:"discordWebhook,omitempty"`

	// DatabasePath, DatabaseDriver, DatabaseDSN, and DeadLetterPath are
	// not part of the protocol config shape but control where this
	// implementation keeps its local state; defaulted if absent.
	// DatabaseDriver selects the persistence backend: "sqlite" (the
	// default, single-file, good for one filler identity) or
	// "postgres" (DatabaseDSN required, for multi-instance deployments
	// sharing one tracking database).
	DatabasePath   string `json:"databasePath,omitempty"`
	DatabaseDriver string `json:"databaseDriver,omitempty"`
	DatabaseDSN    string `json:"databaseDSN,omitempty"`
	DeadLetterPath string `json:"deadLetterPath,omitempty"`

	// AdminListenAddress serves the operator-local /healthz and
	// /metrics endpoints; defaulted if absent.
	AdminListenAddress string `json:"adminListenAddress,omitempty"`

	// LogFilePath, if set, turns on a rotated on-disk copy of every log
	// line alongside stdout. Left empty, logs go to stdout only.
	LogFilePath string `json:"logFilePath,omitempty"`

	OperatorSigningKey SigningKey `json:"-"`
}

const (
	defaultDatabasePath       = "./data/auctioneer.db"
	defaultDatabaseDriver     = "sqlite"
	defaultDeadLetterPath     = "./data/deadletter.txt"
	defaultAdminListenAddress = ":8090"
)

// Load reads and validates the JSON configuration file at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaultDatabasePath
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = defaultDatabaseDriver
	}
	if cfg.DeadLetterPath == "" {
		cfg.DeadLetterPath = defaultDeadLetterPath
	}
	if cfg.AdminListenAddress == "" {
		cfg.AdminListenAddress = defaultAdminListenAddress
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	key, err := decodeSigningKey(cfg.Keypair)
	if err != nil {
		return Config{}, fmt.Errorf("operator keypair: %w", err)
	}
	cfg.OperatorSigningKey = key

	for i := range cfg.Fillers {
		fk, err := decodeSigningKey(cfg.Fillers[i].Keypair)
		if err != nil {
			return Config{}, fmt.Errorf("filler %q keypair: %w", cfg.Fillers[i].Name, err)
		}
		cfg.Fillers[i].SigningKey = fk
	}

	return cfg, nil
}

// validate enforces the required fields from spec.md §6. A failure
// here is fatal per the error taxonomy's "pool config validation
// failure" case.
func (c Config) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("config: name is required")
	}
	if strings.TrimSpace(c.RPCURL) == "" {
		return errors.New("config: rpcURL is required")
	}
	if strings.TrimSpace(c.NetworkPassphrase) == "" {
		return errors.New("config: networkPassphrase is required")
	}
	switch c.DatabaseDriver {
	case "", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return errors.New("config: databaseDSN is required when databaseDriver is \"postgres\"")
		}
	default:
		return fmt.Errorf("config: unsupported databaseDriver %q", c.DatabaseDriver)
	}
	for _, addr := range []struct {
		name, value string
	}{
		{"backstopTokenAddress", c.BackstopTokenAddress},
		{"backstopAddress", c.BackstopAddress},
		{"usdcAddress", c.USDCAddress},
		{"blndAddress", c.BLNDAddress},
	} {
		if strings.TrimSpace(addr.value) == "" {
			return fmt.Errorf("config: %s is required", addr.name)
		}
	}
	if len(c.Fillers) == 0 {
		return errors.New("config: at least one filler is required")
	}
	for _, f := range c.Fillers {
		if strings.TrimSpace(f.Name) == "" {
			return errors.New("config: filler name is required")
		}
		if f.DefaultProfitPct < 0 || f.DefaultProfitPct > 1 {
			return fmt.Errorf("config: filler %q defaultProfitPct must be in [0,1]", f.Name)
		}
		if f.MinHealthFactor <= 1 {
			return fmt.Errorf("config: filler %q minHealthFactor must be > 1", f.Name)
		}
	}
	for _, p := range c.PoolConfigs {
		if strings.TrimSpace(p.PoolAddress) == "" {
			return errors.New("config: poolConfigs entry missing poolAddress")
		}
	}
	return nil
}
