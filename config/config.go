// Package config loads treasury service settings from an optional YAML file,
// .env files and environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable except the treasury and
// database variables, which are also read unprefixed.
const EnvPrefix = "B0ASE"

// Defaults for the b0ase treasury.
const (
	DefaultTreasuryAddress = "1BrbnQon4uZPSxNwt19ozwtgHPDbgvaeD1"
	DefaultTreasuryPaymail = "boase@handcash.io"
	DefaultTick            = "BOASE"
	DefaultTotalSupply     = 1_000_000_000
	DefaultForSale         = 500_000_000
	DefaultPriceSats       = 50
)

// Config is the full service configuration.
type Config struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
	LogLevel  string `mapstructure:"log_level"`
	Network   string `mapstructure:"network"`

	Treasury  TreasuryConfig  `mapstructure:"treasury"`
	Token     TokenConfig     `mapstructure:"token"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Transfer  TransferConfig  `mapstructure:"transfer"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Paymail   PaymailConfig   `mapstructure:"paymail"`
}

// TreasuryConfig identifies the treasury and where its signing key lives.
type TreasuryConfig struct {
	Address       string `mapstructure:"address"`
	Paymail       string `mapstructure:"paymail"`
	PrivateKey    string `mapstructure:"private_key"` // WIF
	KeyFile       string `mapstructure:"key_file"`
	KeyPassphrase string `mapstructure:"key_passphrase"`
}

// TokenConfig describes the BSV-20 token.
type TokenConfig struct {
	Tick        string `mapstructure:"tick"`
	ID          string `mapstructure:"id"` // deploy inscription id
	TotalSupply uint64 `mapstructure:"total_supply"`
	ForSale     uint64 `mapstructure:"for_sale"`
	PriceSats   uint64 `mapstructure:"price_sats"` // treasury sale price per token
}

// ChainConfig selects and configures the chain backend.
type ChainConfig struct {
	Backend  string         `mapstructure:"backend"` // explorer | rpc
	Timeout  time.Duration  `mapstructure:"timeout"`
	Explorer ExplorerConfig `mapstructure:"explorer"`
	RPC      RPCConfig      `mapstructure:"rpc"`
}

type ExplorerConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type RPCConfig struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type IndexerConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig enables the postgres ledger when URL is set.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LedgerConfig enables the bbolt ledger when BoltPath is set and no database is configured.
type LedgerConfig struct {
	BoltPath string `mapstructure:"bolt_path"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// ListenAddr returns host:port.
func (s ServerConfig) ListenAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

type ReconcileConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type TransferConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

type PaymentConfig struct {
	Verify           bool  `mapstructure:"verify"`
	MinConfirmations int64 `mapstructure:"min_confirmations"`
}

// Option adjusts the viper instance before configuration is read, e.g. to
// bind command-line flags.
type Option func(*viper.Viper)

// PaymailConfig selects how paymail host records are looked up.
type PaymailConfig struct {
	DNSSEC    bool   `mapstructure:"dnssec"`
	DNSServer string `mapstructure:"dns_server"` // comma-separated host:port list of validating resolvers
}

// Load reads configuration. configFile may be empty, in which case
// config.yaml is searched for in the working directory and config/. A
// missing file is not an error.
func Load(configFile, envPath string, opts ...Option) (*Config, error) {
	v := configureViper(configFile, envPath)
	setDefaults(v)
	for _, opt := range opts {
		opt(v)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("network", "main")
	v.SetDefault("treasury.address", DefaultTreasuryAddress)
	v.SetDefault("treasury.paymail", DefaultTreasuryPaymail)
	v.SetDefault("token.tick", DefaultTick)
	v.SetDefault("token.total_supply", DefaultTotalSupply)
	v.SetDefault("token.for_sale", DefaultForSale)
	v.SetDefault("token.price_sats", DefaultPriceSats)
	v.SetDefault("chain.backend", "explorer")
	v.SetDefault("chain.timeout", "30s")
	v.SetDefault("indexer.url", "https://ordinals.gorillapool.io")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.schedule", "@every 10m")
	v.SetDefault("transfer.max_retries", 3)
	v.SetDefault("payment.verify", false)
	v.SetDefault("payment.min_confirmations", 1)
	v.SetDefault("paymail.dnssec", false)
	v.SetDefault("paymail.dns_server", "8.8.8.8:53")
}

func configureViper(configFile, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// unprefixedEnv maps keys that are also read from their conventional names.
var unprefixedEnv = map[string]string{
	"treasury.address":     "TREASURY_ADDRESS",
	"treasury.paymail":     "TREASURY_PAYMAIL",
	"treasury.private_key": "TREASURY_PRIVATE_KEY",
	"database.url":         "DATABASE_URL",
	"sentry_dsn":           "SENTRY_DSN",
}

// bindAllEnvVars binds every key so that Unmarshal sees environment values
// even when no config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		"log_level",
		"network",
		"treasury.address",
		"treasury.paymail",
		"treasury.private_key",
		"treasury.key_file",
		"treasury.key_passphrase",
		"token.tick",
		"token.id",
		"token.total_supply",
		"token.for_sale",
		"token.price_sats",
		"chain.backend",
		"chain.timeout",
		"chain.explorer.url",
		"chain.explorer.api_key",
		"chain.rpc.url",
		"chain.rpc.user",
		"chain.rpc.password",
		"indexer.url",
		"database.url",
		"database.max_conns",
		"ledger.bolt_path",
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		"auth.api_keys",
		"reconcile.enabled",
		"reconcile.schedule",
		"transfer.max_retries",
		"payment.verify",
		"payment.min_confirmations",
		"paymail.dnssec",
		"paymail.dns_server",
	}

	replacer := strings.NewReplacer(".", "_")
	for _, key := range keys {
		prefixed := EnvPrefix + "_" + strings.ToUpper(replacer.Replace(key))
		if alias, ok := unprefixedEnv[key]; ok {
			_ = v.BindEnv(key, prefixed, alias)
			continue
		}
		_ = v.BindEnv(key, prefixed)
	}
}

// loadEnv overloads .env then .env.local from envPath (default: working directory).
func loadEnv(envPath string) {
	for _, name := range []string{".env", ".env.local"} {
		_ = godotenv.Overload(filepath.Join(envPath, name))
	}
}
