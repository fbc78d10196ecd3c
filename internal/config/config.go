package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. TRUST_DATABASE_URL.
const EnvPrefix = "TRUST"

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN)
	DatabaseURL string `mapstructure:"database_url"`

	// Maximum database connection pool size (Postgres only)
	MaxDBConnections int `mapstructure:"max_db_connections"`

	// Enable debug logging (forces log.level=debug)
	Debug bool `mapstructure:"debug"`

	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dev   bool   `mapstructure:"dev"`
}

// SecurityConfig holds credential, lockout and session policy.
type SecurityConfig struct {
	// LockoutThreshold is the number of consecutive failures that locks an
	// identity. Zero disables automatic lockout.
	LockoutThreshold int `mapstructure:"lockout_threshold"`

	// ConcealLockout reports locked identities as invalid credentials to
	// callers. Logs and metrics keep the real reason.
	ConcealLockout bool `mapstructure:"conceal_lockout"`

	// BcryptCost is the work factor for secrets and challenge answers.
	BcryptCost int `mapstructure:"bcrypt_cost"`

	SessionLifetime          time.Duration `mapstructure:"session_lifetime"`
	LongLivedSessionLifetime time.Duration `mapstructure:"long_lived_session_lifetime"`

	// Session resolver cache. A size of zero disables caching.
	SessionCacheTTL  time.Duration `mapstructure:"session_cache_ttl"`
	SessionCacheSize int           `mapstructure:"session_cache_size"`

	// DefaultUserRole is joined by every new user identity.
	DefaultUserRole string `mapstructure:"default_user_role"`

	// Skeleton roles whose grants are copied onto new devices/applications.
	DeviceSkeletonRole      string `mapstructure:"device_skeleton_role"`
	ApplicationSkeletonRole string `mapstructure:"application_skeleton_role"`

	// DenyExpressions are go-bexpr expressions evaluated before every
	// authentication attempt; a match cancels the attempt.
	// Attributes: name, kind, method.
	DenyExpressions []string `mapstructure:"deny_expressions"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DatabaseURL:      "file:trust.db?cache=shared",
		MaxDBConnections: 25,
		Log:              LogConfig{Level: "info"},
		Security: SecurityConfig{
			LockoutThreshold:         5,
			BcryptCost:               10,
			SessionLifetime:          30 * time.Minute,
			LongLivedSessionLifetime: 30 * 24 * time.Hour,
			SessionCacheTTL:          30 * time.Second,
			SessionCacheSize:         1024,
			DefaultUserRole:          "USERS",
			DeviceSkeletonRole:       "SYNCHRONIZERS",
			ApplicationSkeletonRole:  "APPLICATIONS",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("max_db_connections", d.MaxDBConnections)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dev", d.Log.Dev)
	v.SetDefault("security.lockout_threshold", d.Security.LockoutThreshold)
	v.SetDefault("security.conceal_lockout", d.Security.ConcealLockout)
	v.SetDefault("security.bcrypt_cost", d.Security.BcryptCost)
	v.SetDefault("security.session_lifetime", d.Security.SessionLifetime)
	v.SetDefault("security.long_lived_session_lifetime", d.Security.LongLivedSessionLifetime)
	v.SetDefault("security.session_cache_ttl", d.Security.SessionCacheTTL)
	v.SetDefault("security.session_cache_size", d.Security.SessionCacheSize)
	v.SetDefault("security.default_user_role", d.Security.DefaultUserRole)
	v.SetDefault("security.device_skeleton_role", d.Security.DeviceSkeletonRole)
	v.SetDefault("security.application_skeleton_role", d.Security.ApplicationSkeletonRole)
	v.SetDefault("security.deny_expressions", []string{})
}

// Load reads configuration from the global viper instance: defaults, then any
// config file already read by the caller, then TRUST_ environment variables.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if cfg.Debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	s := c.Security
	if s.LockoutThreshold < 0 {
		return fmt.Errorf("security.lockout_threshold must not be negative")
	}
	if s.SessionLifetime <= 0 {
		return fmt.Errorf("security.session_lifetime must be positive")
	}
	if s.LongLivedSessionLifetime < s.SessionLifetime {
		return fmt.Errorf("security.long_lived_session_lifetime must be at least security.session_lifetime")
	}
	if s.SessionCacheSize < 0 || s.SessionCacheTTL < 0 {
		return fmt.Errorf("security.session_cache_size and security.session_cache_ttl must not be negative")
	}
	return nil
}
