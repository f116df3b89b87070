// Package config loads mailvault settings from struct defaults, an optional
// YAML file and MAILVAULT_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// PathEnvVar names the variable pointing at a YAML config file.
	PathEnvVar = "MAILVAULT_CONFIG"
	envPrefix  = "MAILVAULT_"
)

// DefaultPaths are probed when PathEnvVar is unset.
var DefaultPaths = []string{"config.yaml", "/etc/mailvault/config.yaml"}

type Config struct {
	Server   Server   `koanf:"server"`
	Database Database `koanf:"database"`
	Ledger   Ledger   `koanf:"ledger"`
	Token    Token    `koanf:"token"`
	MFA      MFA      `koanf:"mfa"`
	Log      Log      `koanf:"log"`
}

type Server struct {
	Addr            string        `koanf:"addr" validate:"required"`
	GRPCAddr        string        `koanf:"grpc_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
	RateBurst       int           `koanf:"rate_burst" validate:"gte=0"`
	RatePerSecond   int           `koanf:"rate_per_second" validate:"gte=0"`
	// TrustedProxies lists peers (IPs or CIDRs) whose X-Forwarded-For is
	// honoured. Empty means the socket address is always the client.
	TrustedProxies []string `koanf:"trusted_proxies" validate:"dive,cidr|ip"`
}

type Database struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// Ledger selects the audit chain backend.
type Ledger struct {
	Backend    string `koanf:"backend" validate:"oneof=memory postgres badger"`
	BadgerPath string `koanf:"badger_path" validate:"required_if=Backend badger"`
}

type Token struct {
	Issuer     string        `koanf:"issuer" validate:"required"`
	Audience   string        `koanf:"audience" validate:"required"`
	SigningKey string        `koanf:"signing_key" validate:"required,min=32"`
	TTL        time.Duration `koanf:"ttl" validate:"gt=0"`
}

type MFA struct {
	// Issuer is the product name shown in authenticator apps.
	Issuer      string        `koanf:"issuer" validate:"required"`
	SessionTTL  time.Duration `koanf:"session_ttl" validate:"gt=0"`
	StepUpRoles []string      `koanf:"step_up_roles"`
	// SealingIdentity is an age X25519 identity (AGE-SECRET-KEY-1...) protecting TOTP secrets.
	SealingIdentity string `koanf:"sealing_identity" validate:"required,startswith=AGE-SECRET-KEY-1"`
}

type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Defaults returns the built-in configuration. SigningKey and SealingIdentity
// have no default and must be supplied.
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateBurst:       20,
			RatePerSecond:   10,
		},
		Database: Database{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Ledger: Ledger{Backend: "memory"},
		Token: Token{
			Issuer:   "mail-archive",
			Audience: "mail-archive-clients",
			TTL:      30 * time.Minute,
		},
		MFA: MFA{
			Issuer:      "mail-archive",
			SessionTTL:  480 * time.Minute,
			StepUpRoles: []string{"system_admin", "compliance_admin", "legal_user"},
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

// Load resolves the configuration. An explicit path takes precedence over
// PathEnvVar and DefaultPaths; a missing optional file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path == "" {
		path = findFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Ledger.Backend == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("invalid config: ledger backend postgres requires database.dsn")
	}
	return nil
}

// envKey maps MAILVAULT_TOKEN__SIGNING_KEY to token.signing_key.
func envKey(key string) string {
	key = strings.TrimPrefix(key, envPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
