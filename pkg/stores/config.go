package stores

import (
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds store configuration.
type Config struct {
	// Path is the database file. It is created when missing.
	Path string `validate:"required"`

	// BusyTimeout bounds how long a statement waits on another
	// connection's lock before failing with a contention error.
	BusyTimeout time.Duration `validate:"gte=0"`

	MaxOpenConns    int           `validate:"gte=0"`
	MaxIdleConns    int           `validate:"gte=0"`
	ConnMaxLifetime time.Duration `validate:"gte=0"`

	// AdminUsername is the reserved, non-deletable administrator account.
	AdminUsername string `validate:"required"`

	// AdminPassword seeds the administrator account on first start. When
	// empty a random password is generated and logged once.
	AdminPassword string

	// BcryptCost is the cost of newly produced password hashes.
	BcryptCost int `validate:"gte=0,lte=31"`

	// MaxLoginAttempts failed verifications lock an account for
	// LockoutDuration. Zero disables lockout.
	MaxLoginAttempts int           `validate:"gte=0"`
	LockoutDuration  time.Duration `validate:"gte=0"`

	// SessionTTL is the lifetime of sessions created without an explicit TTL.
	SessionTTL time.Duration `validate:"gte=0"`
}

// Defaults. Open fills zero fields with all of them except
// DefaultMaxLoginAttempts, since a zero MaxLoginAttempts disables lockout.
const (
	DefaultBusyTimeout      = 30 * time.Second
	DefaultMaxOpenConns     = 25
	DefaultMaxIdleConns     = 5
	DefaultConnMaxLifetime  = 5 * time.Minute
	DefaultAdminUsername    = "admin"
	DefaultMaxLoginAttempts = 5
	DefaultLockoutDuration  = 15 * time.Minute
	DefaultSessionTTL       = time.Hour
)

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.BusyTimeout == 0 {
		c.BusyTimeout = DefaultBusyTimeout
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = DefaultMaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = DefaultConnMaxLifetime
	}
	if c.AdminUsername == "" {
		c.AdminUsername = DefaultAdminUsername
	}
	if c.LockoutDuration == 0 {
		c.LockoutDuration = DefaultLockoutDuration
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	return c
}

func (c Config) validate(v *validator.Validate) error {
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: store config: %v", ErrInvalidInput, err)
	}
	return nil
}

// dsn builds the modernc.org/sqlite connection string. The pragmas run on
// every new physical connection, in order.
func (c Config) dsn() string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	q.Set("_time_format", "sqlite")
	return c.Path + "?" + q.Encode()
}
