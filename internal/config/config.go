// Package config loads the basket oracle configuration from a YAML file with
// environment overrides.
package config

import (
	stderrors "errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/basket_oracle/internal/chain"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Medianizer kinds.
const (
	MedianizerHTTP     = "http"
	MedianizerStatic   = "static"
	MedianizerContract = "contract"
)

// Data source kinds.
const (
	SourceLinearized = "linearized"
	SourceDirect     = "direct"
	SourceConstant   = "constant"
)

// Oracle kinds.
const (
	OracleLatest        = "latest"
	OracleMovingAverage = "moving_average"
	OracleRSI           = "rsi"
	OracleConstant      = "constant"
)

// Config is the complete daemon configuration.
type Config struct {
	HTTP        HTTPConfig         `yaml:"http"`
	Logging     LoggingConfig      `yaml:"logging"`
	Storage     StorageConfig      `yaml:"storage"`
	Neo         NeoConfig          `yaml:"neo"`
	Medianizers []MedianizerConfig `yaml:"medianizers"`
	Feeds       []FeedConfig       `yaml:"feeds"`
	Oracles     []OracleConfig     `yaml:"oracles"`
	Managers    []ManagerConfig    `yaml:"managers"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// NeoConfig points at a Neo N3 RPC node. SignerKey (hex or WIF) is needed
// only when managers propose to on-chain baskets.
type NeoConfig struct {
	RPCURL    string        `yaml:"rpc_url"`
	NetworkID uint32        `yaml:"network_id"`
	Timeout   time.Duration `yaml:"timeout"`
	SignerKey string        `yaml:"signer_key"`
	WaitForTx bool          `yaml:"wait_for_tx"`
}

// MedianizerConfig describes a raw price oracle.
type MedianizerConfig struct {
	Name          string        `yaml:"name"`
	Type          string        `yaml:"type"`
	URL           string        `yaml:"url"`
	ValuePath     string        `yaml:"value_path"`
	TimestampPath string        `yaml:"timestamp_path"`
	Token         string        `yaml:"token"`
	Timeout       time.Duration `yaml:"timeout"`
	Value         string        `yaml:"value"`
	Contract      string        `yaml:"contract"`
	Method        string        `yaml:"method"`
}

// SourceConfig selects the data source a feed pokes.
type SourceConfig struct {
	Type            string `yaml:"type"`
	Medianizer      string `yaml:"medianizer"`
	UpdateTolerance uint64 `yaml:"update_tolerance"`
	Value           string `yaml:"value"`
}

// FeedConfig describes a time-series feed. Seed values are oldest first.
type FeedConfig struct {
	ID                  string       `yaml:"id"`
	Owner               string       `yaml:"owner"`
	UpdateInterval      uint64       `yaml:"update_interval"`
	MaxDataPoints       int          `yaml:"max_data_points"`
	NextAvailableUpdate uint64       `yaml:"next_available_update"`
	Seed                []string     `yaml:"seed"`
	Source              SourceConfig `yaml:"source"`
	// Schedule enables keeper pokes, e.g. "@every 1h".
	Schedule string `yaml:"schedule"`
}

// OracleConfig derives a price from a feed.
type OracleConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Feed     string `yaml:"feed"`
	Window   int    `yaml:"window"`
	Periods  int    `yaml:"periods"`
	Decimals uint32 `yaml:"decimals"`
	Value    string `yaml:"value"`
}

type AssetConfig struct {
	Token      string `yaml:"token"`
	Decimals   uint32 `yaml:"decimals"`
	Multiplier uint64 `yaml:"multiplier"`
	Oracle     string `yaml:"oracle"`
}

// BasketConfig binds a basket token contract to a manager.
type BasketConfig struct {
	Contract string `yaml:"contract"`
	Schedule string `yaml:"schedule"`
}

type ManagerConfig struct {
	Name                 string         `yaml:"name"`
	AssetA               AssetConfig    `yaml:"asset_a"`
	AssetB               AssetConfig    `yaml:"asset_b"`
	AuctionLibrary       string         `yaml:"auction_library"`
	AuctionTimeToPivot   uint64         `yaml:"auction_time_to_pivot"`
	LowerThreshold       uint64         `yaml:"lower_threshold"`
	UpperThreshold       uint64         `yaml:"upper_threshold"`
	PriceDivisor         string         `yaml:"price_divisor"`
	PricePrecision       uint64         `yaml:"price_precision"`
	BaseNaturalUnit      string         `yaml:"base_natural_unit"`
	ConcurrentPriceReads bool           `yaml:"concurrent_price_reads"`
	Baskets              []BasketConfig `yaml:"baskets"`
}

// envOverrides are applied on top of the YAML file.
type envOverrides struct {
	HTTPAddr      string  `env:"BASKET_HTTP_ADDR"`
	RateLimitRPS  float64 `env:"BASKET_RATE_LIMIT_RPS"`
	LogLevel      string  `env:"BASKET_LOG_LEVEL"`
	LogFormat     string  `env:"BASKET_LOG_FORMAT"`
	StorageDriver string  `env:"BASKET_STORAGE_DRIVER"`
	PostgresDSN   string  `env:"DATABASE_URL"`
	RedisAddr     string  `env:"REDIS_ADDR"`
	RedisPassword string  `env:"REDIS_PASSWORD"`
	NeoRPCURL     string  `env:"NEO_RPC_URL"`
	NeoNetworkID  uint32  `env:"NEO_NETWORK_ID"`
	NeoSignerKey  string  `env:"NEO_SIGNER_KEY"`
}

// Default returns a configuration with every ambient default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path, applies a .env file if present, then environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// ApplyEnv overrides file values with any environment variables set.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("decode environment: %w", err)
	}
	setString(&c.HTTP.Addr, env.HTTPAddr)
	if env.RateLimitRPS > 0 {
		c.HTTP.RateLimitRPS = env.RateLimitRPS
	}
	setString(&c.Logging.Level, env.LogLevel)
	setString(&c.Logging.Format, env.LogFormat)
	setString(&c.Storage.Driver, env.StorageDriver)
	setString(&c.Storage.PostgresDSN, env.PostgresDSN)
	setString(&c.Storage.RedisAddr, env.RedisAddr)
	setString(&c.Storage.RedisPassword, env.RedisPassword)
	setString(&c.Neo.RPCURL, env.NeoRPCURL)
	setString(&c.Neo.SignerKey, env.NeoSignerKey)
	if env.NeoNetworkID != 0 {
		c.Neo.NetworkID = env.NeoNetworkID
	}
	return nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.HTTP.RateLimitRPS == 0 {
		c.HTTP.RateLimitRPS = 20
	}
	if c.HTTP.RateLimitBurst == 0 {
		c.HTTP.RateLimitBurst = 40
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.RedisPrefix == "" {
		c.Storage.RedisPrefix = "basket"
	}
	if c.Neo.Timeout == 0 {
		c.Neo.Timeout = 30 * time.Second
	}
	for i := range c.Feeds {
		if c.Feeds[i].Source.Type == "" {
			c.Feeds[i].Source.Type = SourceLinearized
		}
	}
	for i := range c.Medianizers {
		if c.Medianizers[i].Type == "" {
			c.Medianizers[i].Type = MedianizerHTTP
		}
	}
}

// Validate checks references, bounds, addresses and integer literals.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			add("storage: postgres_dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			add("storage: redis_addr is required for the redis driver")
		}
	default:
		add("storage: unknown driver %q", c.Storage.Driver)
	}
	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		add("http: rate limits must not be negative")
	}

	medianizers := make(map[string]bool)
	for _, m := range c.Medianizers {
		if m.Name == "" {
			add("medianizer: name is required")
			continue
		}
		if medianizers[m.Name] {
			add("medianizer %s: duplicate name", m.Name)
		}
		medianizers[m.Name] = true
		switch m.Type {
		case MedianizerHTTP:
			if m.URL == "" {
				add("medianizer %s: url is required", m.Name)
			}
		case MedianizerStatic:
			if _, err := ParseUint(m.Value); err != nil {
				add("medianizer %s: value: %v", m.Name, err)
			}
		case MedianizerContract:
			if _, err := chain.ParseHashString(m.Contract); err != nil {
				add("medianizer %s: contract: %v", m.Name, err)
			}
			if c.Neo.RPCURL == "" {
				add("medianizer %s: neo.rpc_url is required for contract medianizers", m.Name)
			}
		default:
			add("medianizer %s: unknown type %q", m.Name, m.Type)
		}
	}

	feeds := make(map[string]FeedConfig)
	for _, f := range c.Feeds {
		if f.ID == "" {
			add("feed: id is required")
			continue
		}
		if _, dup := feeds[f.ID]; dup {
			add("feed %s: duplicate id", f.ID)
		}
		feeds[f.ID] = f
		if f.UpdateInterval == 0 {
			add("feed %s: update_interval must be positive", f.ID)
		}
		if f.MaxDataPoints <= 0 {
			add("feed %s: max_data_points must be positive", f.ID)
		}
		if len(f.Seed) > f.MaxDataPoints {
			add("feed %s: %d seed values exceed max_data_points %d", f.ID, len(f.Seed), f.MaxDataPoints)
		}
		for i, v := range f.Seed {
			if _, err := ParseUint(v); err != nil {
				add("feed %s: seed[%d]: %v", f.ID, i, err)
			}
		}
		if f.Owner != "" {
			if _, err := chain.ParseHashString(f.Owner); err != nil {
				add("feed %s: owner: %v", f.ID, err)
			}
		}
		switch f.Source.Type {
		case SourceLinearized, SourceDirect:
			if !medianizers[f.Source.Medianizer] {
				add("feed %s: unknown medianizer %q", f.ID, f.Source.Medianizer)
			}
		case SourceConstant:
			if _, err := ParseUint(f.Source.Value); err != nil {
				add("feed %s: source value: %v", f.ID, err)
			}
		default:
			add("feed %s: unknown source type %q", f.ID, f.Source.Type)
		}
	}

	oracles := make(map[string]bool)
	for _, o := range c.Oracles {
		if o.Name == "" {
			add("oracle: name is required")
			continue
		}
		if oracles[o.Name] {
			add("oracle %s: duplicate name", o.Name)
		}
		oracles[o.Name] = true
		if o.Type == OracleConstant {
			if _, err := ParseUint(o.Value); err != nil {
				add("oracle %s: value: %v", o.Name, err)
			}
			continue
		}
		f, ok := feeds[o.Feed]
		if !ok {
			add("oracle %s: unknown feed %q", o.Name, o.Feed)
			continue
		}
		switch o.Type {
		case OracleLatest:
		case OracleMovingAverage:
			if o.Window <= 0 || o.Window > f.MaxDataPoints {
				add("oracle %s: window must be in [1, %d]", o.Name, f.MaxDataPoints)
			}
		case OracleRSI:
			if o.Periods <= 0 || o.Periods+1 > f.MaxDataPoints {
				add("oracle %s: periods must be in [1, %d]", o.Name, f.MaxDataPoints-1)
			}
		default:
			add("oracle %s: unknown type %q", o.Name, o.Type)
		}
	}

	managers := make(map[string]bool)
	for _, m := range c.Managers {
		if m.Name == "" {
			add("manager: name is required")
			continue
		}
		if managers[m.Name] {
			add("manager %s: duplicate name", m.Name)
		}
		managers[m.Name] = true
		for _, side := range []struct {
			label string
			asset AssetConfig
		}{{"asset_a", m.AssetA}, {"asset_b", m.AssetB}} {
			label, asset := side.label, side.asset
			if _, err := chain.ParseHashString(asset.Token); err != nil {
				add("manager %s: %s token: %v", m.Name, label, err)
			}
			if !oracles[asset.Oracle] {
				add("manager %s: %s unknown oracle %q", m.Name, label, asset.Oracle)
			}
			if asset.Multiplier == 0 {
				add("manager %s: %s multiplier must be positive", m.Name, label)
			}
		}
		if _, err := chain.ParseHashString(m.AuctionLibrary); err != nil {
			add("manager %s: auction_library: %v", m.Name, err)
		}
		if m.LowerThreshold >= m.UpperThreshold || m.UpperThreshold > 100 {
			add("manager %s: thresholds must satisfy lower < upper <= 100", m.Name)
		}
		if _, err := ParseUint(m.PriceDivisor); err != nil {
			add("manager %s: price_divisor: %v", m.Name, err)
		}
		if m.BaseNaturalUnit != "" {
			if _, err := ParseUint(m.BaseNaturalUnit); err != nil {
				add("manager %s: base_natural_unit: %v", m.Name, err)
			}
		}
		for i, b := range m.Baskets {
			if _, err := chain.ParseHashString(b.Contract); err != nil {
				add("manager %s: baskets[%d] contract: %v", m.Name, i, err)
			}
		}
		if len(m.Baskets) > 0 && (c.Neo.RPCURL == "" || c.Neo.SignerKey == "") {
			add("manager %s: neo.rpc_url and neo.signer_key are required for baskets", m.Name)
		}
	}

	return stderrors.Join(errs...)
}

// ParseUint parses a non-negative base-10 integer literal of any size.
// Underscores are accepted as digit separators.
func ParseUint(s string) (*big.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return nil, fmt.Errorf("empty integer")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative integer %q", s)
	}
	return v, nil
}
