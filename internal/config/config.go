package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/illarion/pinvault/internal/crypto"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "PINVAULT_"

// Config contains pinvault configuration parameters.
type Config struct {
	Path     string   `env:"PATH" envDefault:".pinvault"`
	LogLevel string   `env:"LOG_LEVEL" envDefault:"warn"`
	LogFile  string   `env:"LOG_FILE"`
	Records  []string `env:"RECORDS" envDefault:"tasks,timetable" envSeparator:","`
	Lock     Lock     `envPrefix:"LOCK_"`
	KDF      KDF      `envPrefix:"KDF_"`
}

// Lock contains the lock state machine parameters.
type Lock struct {
	InactivityTimeout time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"5m"`
	InactivityCheck   time.Duration `env:"INACTIVITY_CHECK" envDefault:"3s"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	LockoutDuration   time.Duration `env:"LOCKOUT_DURATION" envDefault:"30s"`
	LockoutTick       time.Duration `env:"LOCKOUT_TICK" envDefault:"1s"`
	MinPINLength      int           `env:"MIN_PIN_LENGTH" envDefault:"4"`
	DigitsOnly        bool          `env:"DIGITS_ONLY" envDefault:"true"`
}

// KDF contains key derivation parameters for new vaults.
type KDF struct {
	Iterations int `env:"ITERATIONS" envDefault:"210000"`
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the vault cannot operate with.
func (c *Config) Validate() error {
	var errs []error
	if c.Path == "" {
		errs = append(errs, errors.New("vault path is empty"))
	}
	if len(c.Records) == 0 {
		errs = append(errs, errors.New("at least one record name is required"))
	}
	seen := make(map[string]bool, len(c.Records))
	for _, name := range c.Records {
		if name == "" {
			errs = append(errs, errors.New("record name is empty"))
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("duplicate record name %q", name))
		}
		seen[name] = true
	}
	if c.Lock.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be positive, got %d", c.Lock.MaxAttempts))
	}
	if c.Lock.LockoutDuration <= 0 || c.Lock.LockoutTick <= 0 {
		errs = append(errs, errors.New("lockout duration and tick must be positive"))
	}
	if c.Lock.InactivityTimeout <= 0 || c.Lock.InactivityCheck <= 0 {
		errs = append(errs, errors.New("inactivity timeout and check interval must be positive"))
	}
	if c.Lock.MinPINLength < 1 {
		errs = append(errs, fmt.Errorf("minimum PIN length must be positive, got %d", c.Lock.MinPINLength))
	}
	if c.KDF.Iterations < crypto.MinIters {
		errs = append(errs, fmt.Errorf("kdf iterations must be at least %d, got %d", crypto.MinIters, c.KDF.Iterations))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
