package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mizan-grc/mizan/pkg/stores"
	"github.com/mizan-grc/mizan/pkg/telemetry"
)

// Defaults carried over from earlier releases.
const (
	DefaultDBPath        = "sentinel.db"
	DefaultAdminPassword = "admin123"
	DefaultEnvFile       = ".env"
)

// Config is the complete runtime configuration.
type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	Security  SecurityConfig   `yaml:"security"`
	Telemetry telemetry.Config `yaml:"telemetry"`

	// adminPasswordSet records whether the admin password came from a
	// source other than the built-in default.
	adminPasswordSet bool
}

// DatabaseConfig configures the embedded database.
type DatabaseConfig struct {
	Path            string        `yaml:"path" validate:"required"`
	BusyTimeout     time.Duration `yaml:"busy_timeout" validate:"gte=0"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// SecurityConfig configures accounts and authentication.
type SecurityConfig struct {
	AdminUsername    string        `yaml:"admin_username" validate:"required,min=3,max=50"`
	AdminPassword    string        `yaml:"admin_password"`
	BcryptCost       int           `yaml:"bcrypt_cost" validate:"gte=0,lte=31"`
	MaxLoginAttempts int           `yaml:"max_login_attempts" validate:"gte=0"`
	LockoutDuration  time.Duration `yaml:"lockout_duration" validate:"gte=0"`
	SessionTTL       time.Duration `yaml:"session_ttl" validate:"gte=0"`
}

// LoadOptions selects the files Load reads.
type LoadOptions struct {
	// ConfigFile is a YAML file. Empty skips it; a named file must exist.
	ConfigFile string

	// EnvFile is a dotenv file. Empty means DefaultEnvFile, which may be
	// absent.
	EnvFile string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			BusyTimeout:     stores.DefaultBusyTimeout,
			MaxOpenConns:    stores.DefaultMaxOpenConns,
			MaxIdleConns:    stores.DefaultMaxIdleConns,
			ConnMaxLifetime: stores.DefaultConnMaxLifetime,
		},
		Security: SecurityConfig{
			AdminUsername:    stores.DefaultAdminUsername,
			AdminPassword:    DefaultAdminPassword,
			MaxLoginAttempts: stores.DefaultMaxLoginAttempts,
			LockoutDuration:  stores.DefaultLockoutDuration,
			SessionTTL:       stores.DefaultSessionTTL,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load builds the configuration from defaults, files and the environment,
// then validates it.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigFile, err)
		}
		if cfg.Security.AdminPassword != DefaultAdminPassword {
			cfg.adminPasswordSet = true
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil {
		if opts.EnvFile != "" || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
		dotenv = map[string]string{}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("MIZAN_DB_PATH"); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup("MIZAN_DB_TIMEOUT"); ok && v != "" {
		d, err := parseSecondsOrDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MIZAN_DB_TIMEOUT: %w", err)
		}
		c.Database.BusyTimeout = d
	}
	if v, ok := lookup("MIZAN_ADMIN_USERNAME"); ok && v != "" {
		c.Security.AdminUsername = v
	}
	if v, ok := lookup("MIZAN_ADMIN_PASSWORD"); ok && v != "" {
		c.Security.AdminPassword = v
		c.adminPasswordSet = true
	}
	if v, ok := lookup("MIZAN_BCRYPT_COST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MIZAN_BCRYPT_COST: %w", err)
		}
		c.Security.BcryptCost = n
	}
	if v, ok := lookup("MIZAN_MAX_LOGIN_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MIZAN_MAX_LOGIN_ATTEMPTS: %w", err)
		}
		c.Security.MaxLoginAttempts = n
	}
	if v, ok := lookup("MIZAN_LOCKOUT_DURATION"); ok && v != "" {
		d, err := parseSecondsOrDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MIZAN_LOCKOUT_DURATION: %w", err)
		}
		c.Security.LockoutDuration = d
	}
	if v, ok := lookup("MIZAN_SESSION_TTL"); ok && v != "" {
		d, err := parseSecondsOrDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MIZAN_SESSION_TTL: %w", err)
		}
		c.Security.SessionTTL = d
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Telemetry.Logging.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Telemetry.Logging.Format = v
	}
	return nil
}

// parseSecondsOrDuration accepts a bare number of seconds or a Go duration.
func parseSecondsOrDuration(v string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

// UsesDefaultAdminPassword reports whether the admin password is the
// well-known built-in one. Callers should warn when it is.
func (c *Config) UsesDefaultAdminPassword() bool {
	return !c.adminPasswordSet && c.Security.AdminPassword == DefaultAdminPassword
}

// StoreConfig maps the configuration onto stores.Config.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{
		Path:             c.Database.Path,
		BusyTimeout:      c.Database.BusyTimeout,
		MaxOpenConns:     c.Database.MaxOpenConns,
		MaxIdleConns:     c.Database.MaxIdleConns,
		ConnMaxLifetime:  c.Database.ConnMaxLifetime,
		AdminUsername:    c.Security.AdminUsername,
		AdminPassword:    c.Security.AdminPassword,
		BcryptCost:       c.Security.BcryptCost,
		MaxLoginAttempts: c.Security.MaxLoginAttempts,
		LockoutDuration:  c.Security.LockoutDuration,
		SessionTTL:       c.Security.SessionTTL,
	}
}
