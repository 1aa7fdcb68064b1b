// Package config assembles runtime settings from defaults, an optional JSON
// file (-c / -config) and command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabasePath    string        `validate:"required"`
	Origin          string        `validate:"required"`
	KDFIterations   int           `validate:"min=100000"`
	DefaultTTL      time.Duration `validate:"gt=0"`
	MetadataBackend string        `validate:"oneof=sqlite badger"`
	BadgerPath      string

	SweepInterval       time.Duration `validate:"gt=0"`
	FailedSyncRetention time.Duration `validate:"gt=0"`

	AutosaveBaseDelay time.Duration `validate:"gt=0"`
	MaxVersions       int           `validate:"min=1,max=100"`

	// SigningSecret keys verification payloads (HS256).
	SigningSecret string `validate:"required,min=16"`

	ShareBackend        string  `validate:"oneof=sqlite redis"`
	RedisURL            string  `validate:"required_if=ShareBackend redis"`
	RedeemRatePerSecond float64 `validate:"gte=0"`
	RedeemBurst         int     `validate:"gte=0"`

	// AuditDSN selects a PostgreSQL audit sink; empty keeps the local table.
	AuditDSN string

	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	SyncInterval    time.Duration `validate:"gt=0"`
	SyncMaxAttempts int           `validate:"min=1"`

	LogLevel    string `validate:"oneof=debug info warn error"`
	LogFormat   string `validate:"oneof=text json"`
	MetricsAddr string
}

// LoadDefaults fills c with values suitable for a single workstation.
// SigningSecret has no default.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "medkeeper.db"
	c.Origin = "medkeeper://local"
	c.KDFIterations = 210_000
	c.DefaultTTL = 7 * 24 * time.Hour
	c.MetadataBackend = "sqlite"
	c.SweepInterval = time.Hour
	c.FailedSyncRetention = 30 * 24 * time.Hour
	c.AutosaveBaseDelay = 2 * time.Second
	c.MaxVersions = 10
	c.ShareBackend = "sqlite"
	c.RedeemRatePerSecond = 5
	c.RedeemBurst = 10
	c.S3Region = "us-east-1"
	c.SyncInterval = time.Minute
	c.SyncMaxAttempts = 5
	c.LogLevel = "info"
	c.LogFormat = "text"
}

// SyncEnabled reports whether records should be queued for upload.
func (c *Config) SyncEnabled() bool {
	return c.S3Bucket != ""
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: config: %w", common.ErrValidation, err)
	}
	return nil
}

// Load builds a validated Config from args (usually os.Args[1:]).
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
