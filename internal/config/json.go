package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/flagx"
	"github.com/dmitrijs2005/medkeeper/internal/timex"
)

// JsonConfig mirrors Config for decoding. Pointer fields distinguish "absent"
// from a zero value so a partial file only overrides what it names.
type JsonConfig struct {
	DatabasePath        *string         `json:"database_path"`
	Origin              *string         `json:"origin"`
	KDFIterations       *int            `json:"kdf_iterations"`
	DefaultTTL          *timex.Duration `json:"default_ttl"`
	MetadataBackend     *string         `json:"metadata_backend"`
	BadgerPath          *string         `json:"badger_path"`
	SweepInterval       *timex.Duration `json:"sweep_interval"`
	FailedSyncRetention *timex.Duration `json:"failed_sync_retention"`
	AutosaveBaseDelay   *timex.Duration `json:"autosave_base_delay"`
	MaxVersions         *int            `json:"max_versions"`
	SigningSecret       *string         `json:"signing_secret"`
	ShareBackend        *string         `json:"share_backend"`
	RedisURL            *string         `json:"redis_url"`
	RedeemRatePerSecond *float64        `json:"redeem_rate_per_second"`
	RedeemBurst         *int            `json:"redeem_burst"`
	AuditDSN            *string         `json:"audit_dsn"`
	S3Endpoint          *string         `json:"s3_endpoint"`
	S3Region            *string         `json:"s3_region"`
	S3Bucket            *string         `json:"s3_bucket"`
	S3AccessKey         *string         `json:"s3_access_key"`
	S3SecretKey         *string         `json:"s3_secret_key"`
	SyncInterval        *timex.Duration `json:"sync_interval"`
	SyncMaxAttempts     *int            `json:"sync_max_attempts"`
	LogLevel            *string         `json:"log_level"`
	LogFormat           *string         `json:"log_format"`
	MetricsAddr         *string         `json:"metrics_addr"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

// parseJson overlays cfg with the file named by -c/-config, if any.
func parseJson(cfg *Config, args []string) error {
	path := flagx.JsonConfigFlags(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	set(&cfg.DatabasePath, jc.DatabasePath)
	set(&cfg.Origin, jc.Origin)
	set(&cfg.KDFIterations, jc.KDFIterations)
	setDuration(&cfg.DefaultTTL, jc.DefaultTTL)
	set(&cfg.MetadataBackend, jc.MetadataBackend)
	set(&cfg.BadgerPath, jc.BadgerPath)
	setDuration(&cfg.SweepInterval, jc.SweepInterval)
	setDuration(&cfg.FailedSyncRetention, jc.FailedSyncRetention)
	setDuration(&cfg.AutosaveBaseDelay, jc.AutosaveBaseDelay)
	set(&cfg.MaxVersions, jc.MaxVersions)
	set(&cfg.SigningSecret, jc.SigningSecret)
	set(&cfg.ShareBackend, jc.ShareBackend)
	set(&cfg.RedisURL, jc.RedisURL)
	set(&cfg.RedeemRatePerSecond, jc.RedeemRatePerSecond)
	set(&cfg.RedeemBurst, jc.RedeemBurst)
	set(&cfg.AuditDSN, jc.AuditDSN)
	set(&cfg.S3Endpoint, jc.S3Endpoint)
	set(&cfg.S3Region, jc.S3Region)
	set(&cfg.S3Bucket, jc.S3Bucket)
	set(&cfg.S3AccessKey, jc.S3AccessKey)
	set(&cfg.S3SecretKey, jc.S3SecretKey)
	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	set(&cfg.SyncMaxAttempts, jc.SyncMaxAttempts)
	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.LogFormat, jc.LogFormat)
	set(&cfg.MetricsAddr, jc.MetricsAddr)
	return nil
}
