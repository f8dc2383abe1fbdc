package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CLAIMLANE"

// Config holds service configuration.
type Config struct {
	Service     ServiceConfig     `mapstructure:"service"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	Governance  GovernanceConfig  `mapstructure:"governance"`
	Genesis     GenesisConfig     `mapstructure:"genesis"`
	Attestation AttestationConfig `mapstructure:"attestation"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Payout      PayoutConfig      `mapstructure:"payout"`
}

type ServiceConfig struct {
	Port string `mapstructure:"port"`
}

// StorageConfig selects the state backend: "memory" or "postgres".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GovernanceConfig struct {
	Owner string `mapstructure:"owner"`
}

// GenesisConfig seeds an empty store on first start.
type GenesisConfig struct {
	Threshold      uint64   `mapstructure:"threshold"`
	Fee            uint64   `mapstructure:"fee"`
	Quorum         uint64   `mapstructure:"quorum"`
	InitialBalance string   `mapstructure:"initial_balance"`
	Whitelist      []string `mapstructure:"whitelist"`
	Blacklist      []string `mapstructure:"blacklist"`
	Validators     []string `mapstructure:"validators"`
}

type AttestationConfig struct {
	Secret    string        `mapstructure:"secret"`
	Validator string        `mapstructure:"validator"`
	MaxSkew   time.Duration `mapstructure:"max_skew"`
}

// AuthConfig lists static bearer credentials as "identity:sha256-hex" pairs.
type AuthConfig struct {
	Tokens   []string      `mapstructure:"tokens"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

type PayoutConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", "8090")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.migrate_on_start", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("governance.owner", "")
	v.SetDefault("genesis.threshold", 80)
	v.SetDefault("genesis.fee", 5)
	v.SetDefault("genesis.quorum", 1)
	v.SetDefault("genesis.initial_balance", "0")
	v.SetDefault("genesis.whitelist", []string{})
	v.SetDefault("genesis.blacklist", []string{})
	v.SetDefault("genesis.validators", []string{})
	v.SetDefault("attestation.secret", "")
	v.SetDefault("attestation.validator", "")
	v.SetDefault("attestation.max_skew", 5*time.Minute)
	v.SetDefault("auth.tokens", []string{})
	v.SetDefault("auth.cache_ttl", time.Minute)
	v.SetDefault("ratelimit.per_second", 20.0)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("payout.base_url", "")
	v.SetDefault("payout.token", "")
	v.SetDefault("payout.timeout", 10*time.Second)
}

// Load reads defaults, an optional YAML file and CLAIMLANE_* environment
// overrides, in increasing precedence. An empty path falls back to
// $CLAIMLANE_CONFIG; a missing implicit file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/claimlane")
		v.SetConfigName("claimlane")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("service.port", EnvPrefix+"_SERVICE_PORT", "SERVICE_PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	return c, nil
}

// Validate checks settings the service cannot start without.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Governance.Owner) == "" {
		return errors.New("governance.owner is required")
	}
	if c.Attestation.Secret != "" && strings.TrimSpace(c.Attestation.Validator) == "" {
		return errors.New("attestation.validator is required when attestation.secret is set")
	}
	if _, err := c.Auth.TokenHashes(); err != nil {
		return err
	}
	return nil
}

// TokenHashes maps sha256 token hashes to identities.
func (a AuthConfig) TokenHashes() (map[string]string, error) {
	out := make(map[string]string, len(a.Tokens))
	for _, raw := range a.Tokens {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		identity, hash, ok := strings.Cut(raw, ":")
		identity, hash = strings.TrimSpace(identity), strings.ToLower(strings.TrimSpace(hash))
		if !ok || identity == "" || len(hash) != 64 {
			return nil, fmt.Errorf("auth.tokens entry %q must be identity:sha256-hex", raw)
		}
		out[hash] = identity
	}
	return out, nil
}
