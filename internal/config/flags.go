package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/medkeeper/internal/flagx"
)

// Flags understood by parseFlags. Everything else on the command line
// belongs to the CLI.
//
//	-d string    database path
//	-o string    key derivation origin
//	-k int       KDF iterations
//	-t duration  default record TTL
//	-w duration  sweep interval
//	-s string    verification payload signing secret
//	-r string    Redis URL (switches share tokens to Redis)
//	-a string    PostgreSQL audit DSN
//	-b string    S3 bucket (enables sync)
//	-e string    S3 endpoint
//	-g string    S3 region
//	-u string    S3 access key
//	-p string    S3 secret key
//	-i duration  sync interval
//	-m string    metrics listen address
//	-l string    log level
//	-f string    log format (text, json)
var flagNames = []string{
	"-d", "-o", "-k", "-t", "-w", "-s", "-r", "-a",
	"-b", "-e", "-g", "-u", "-p", "-i", "-m", "-l", "-f",
}

func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("medkeeper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "database path")
	fs.StringVar(&cfg.Origin, "o", cfg.Origin, "key derivation origin")
	fs.IntVar(&cfg.KDFIterations, "k", cfg.KDFIterations, "KDF iterations")
	fs.DurationVar(&cfg.DefaultTTL, "t", cfg.DefaultTTL, "default record TTL")
	fs.DurationVar(&cfg.SweepInterval, "w", cfg.SweepInterval, "sweep interval")
	fs.StringVar(&cfg.SigningSecret, "s", cfg.SigningSecret, "signing secret")
	redisURL := fs.String("r", cfg.RedisURL, "redis URL")
	fs.StringVar(&cfg.AuditDSN, "a", cfg.AuditDSN, "audit DSN")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3Endpoint, "e", cfg.S3Endpoint, "S3 endpoint")
	fs.StringVar(&cfg.S3Region, "g", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3AccessKey, "u", cfg.S3AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "p", cfg.S3SecretKey, "S3 secret key")
	fs.DurationVar(&cfg.SyncInterval, "i", cfg.SyncInterval, "sync interval")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics address")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "f", cfg.LogFormat, "log format")

	if err := fs.Parse(flagx.FilterArgs(args, flagNames)); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	if *redisURL != cfg.RedisURL {
		cfg.RedisURL = *redisURL
		cfg.ShareBackend = "redis"
	}
	return nil
}
