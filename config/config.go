// Package config loads contentflow settings from an optional YAML file, a
// .env file and CONTENTFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/permissions"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/rules"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/storage"
)

// EnvPrefix prefixes every environment override, e.g. CONTENTFLOW_STORE_DRIVER.
const EnvPrefix = "CONTENTFLOW"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

var (
	// ErrUnknownDriver is returned for a store driver other than memory or redis.
	ErrUnknownDriver = errors.New("unknown store driver")
	// ErrMissingRedisAddr is returned when the redis driver has no address.
	ErrMissingRedisAddr = errors.New("redis address is required")
	// ErrMissingUserID is returned for a permissions.users entry without an id.
	ErrMissingUserID = errors.New("user id is required")
)

// Config is the full contentflow configuration.
type Config struct {
	Store       StoreConfig       `mapstructure:"store"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Backup      BackupConfig      `mapstructure:"backup"`
	Log         LogConfig         `mapstructure:"log"`
}

// StoreConfig selects where state and history live.
type StoreConfig struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig mirrors storage.RedisOptions.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// PermissionsConfig configures the permission policy.
type PermissionsConfig struct {
	Admins []string `mapstructure:"admins"`
	// Capabilities maps a capability name to the roles holding it. Empty means the defaults.
	Capabilities map[string][]string `mapstructure:"capabilities"`
	// Users assigns roles to user ids. Empty means user ids are used as role names.
	Users []UserRoles `mapstructure:"users"`
}

// UserRoles assigns roles to one user. It is a list entry rather than a map
// key so the id keeps its case.
type UserRoles struct {
	ID    string   `mapstructure:"id"`
	Roles []string `mapstructure:"roles"`
}

// ValidationConfig lists the expressions the contentIsValid guard checks.
type ValidationConfig struct {
	Rules []string `mapstructure:"rules"`
}

// BackupConfig configures archive backups. An empty bucket logs instead of uploading.
type BackupConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.pool_size", 10)
	v.SetDefault("store.redis.min_idle_conns", 0)
	v.SetDefault("store.redis.idle_timeout", 5*time.Minute)
	v.SetDefault("store.redis.key_prefix", "content:")
	v.SetDefault("permissions.admins", permissions.DefaultAdmins)
	v.SetDefault("validation.rules", []string{})
	v.SetDefault("backup.bucket", "")
	v.SetDefault("backup.prefix", "contentflow")
	v.SetDefault("backup.region", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads configuration. A .env file in the working directory is loaded
// first if present; path may be empty to rely on defaults and the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the store driver and capability names.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return ErrMissingRedisAddr
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Store.Driver)
	}
	for name := range c.Permissions.Capabilities {
		if _, err := permissions.ParseCapability(name); err != nil {
			return err
		}
	}
	for i, u := range c.Permissions.Users {
		if u.ID == "" {
			return fmt.Errorf("%w: permissions.users[%d]", ErrMissingUserID, i)
		}
	}
	return nil
}

// RedisOptions converts the redis section for storage.NewRedisStore.
func (c *Config) RedisOptions() storage.RedisOptions {
	r := c.Store.Redis
	return storage.RedisOptions{
		Addr:         r.Addr,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		MinIdleConns: r.MinIdleConns,
		IdleTimeout:  r.IdleTimeout,
		KeyPrefix:    r.KeyPrefix,
	}
}

// Policy builds the permission policy described by the permissions section.
func (c *Config) Policy() (*permissions.Policy, error) {
	var table map[permissions.Capability][]string
	if len(c.Permissions.Capabilities) > 0 {
		table = make(map[permissions.Capability][]string, len(c.Permissions.Capabilities))
		for name, roles := range c.Permissions.Capabilities {
			capability, err := permissions.ParseCapability(name)
			if err != nil {
				return nil, err
			}
			table[capability] = roles
		}
	}

	var lookup permissions.RoleLookup
	if len(c.Permissions.Users) > 0 {
		roles := permissions.NewStaticRoles(nil)
		for _, u := range c.Permissions.Users {
			roles.Assign(u.ID, u.Roles...)
		}
		lookup = roles
	}
	return permissions.NewPolicy(c.Permissions.Admins, table, lookup), nil
}

// Validator builds the content validator: every configured rule must hold.
func (c *Config) Validator() rules.Validator {
	if len(c.Validation.Rules) == 0 {
		return rules.AlwaysValid{}
	}
	return rules.NewRuleValidator(rules.NewExprEvaluator(), c.Validation.Rules...)
}
