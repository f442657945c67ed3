// Package config provides centralized configuration management for yanote.
// It loads configuration from CLI flags and environment variables, validates
// required fields, and provides sensible defaults.
//
// CLI flags control which services are mocked (--no-s3, --dev).
// Environment variables provide secrets and service configuration.
package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/yanote/internal/ratelimit"
)

const (
	defaultRegion       = "auto"
	defaultBackupRetain = 7

	// DevMasterKey is used with --dev only. Never use it for real data.
	DevMasterKey = "0000000000000000000000000000000000000000000000000000000000000000"
)

// trustedProxyHeaders maps TRUSTED_PROXY values to the header that proxy sets.
var trustedProxyHeaders = map[string]string{
	"":                "",
	"fly":             ratelimit.HeaderFlyClientIP,
	"x-forwarded-for": ratelimit.HeaderXForwardedFor,
}

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr string
	BaseURL    string
	LogLevel   string

	// Database and encryption
	MasterKey       string        // 64 hex characters (32 bytes)
	DatabasePath    string        // Path of the single notes database file
	SessionDuration time.Duration // How long sessions remain valid

	// Rate limiting for login/signup submissions
	RateLimitConfig ratelimit.Config
	TrustedProxy    string // TRUSTED_PROXY: "", "fly" or "x-forwarded-for"

	// Mock service flags (controlled by CLI flags, not env vars)
	Dev  bool // --dev: development master key, insecure cookies, in-memory S3
	NoS3 bool // --no-s3: in-memory S3 for backups

	// Backups to S3-compatible storage (AWS_ env vars, set by `fly storage create`)
	BackupInterval     time.Duration // BACKUP_INTERVAL, 0 disables
	BackupRetain       int           // BACKUP_RETAIN, snapshots kept in the bucket, 0 keeps all
	AWSEndpointS3      string        // AWS_ENDPOINT_URL_S3
	AWSRegion          string        // AWS_REGION
	AWSAccessKeyID     string        // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string        // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string        // BUCKET_NAME
}

// Flags are the parsed command line switches.
type Flags struct {
	NoS3 bool
	Dev  bool
	Addr string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags parses CLI flags from args (usually os.Args[1:]). Call before LoadConfig.
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("yanote", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&f.NoS3, "no-s3", false, "Use in-memory S3 storage for backups")
	fs.BoolVar(&f.Dev, "dev", false, "Development mode: implies --no-s3, uses a fixed master key and insecure cookies")
	fs.StringVar(&f.Addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if f.Dev {
		f.NoS3 = true
	}
	return f, nil
}

// LoadConfig loads configuration from environment variables and CLI flag values.
func LoadConfig(flags Flags) (*Config, error) {
	cfg := &Config{
		Dev:  flags.Dev,
		NoS3: flags.NoS3 || flags.Dev,
	}

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if flags.Addr != "" {
		cfg.ListenAddr = flags.Addr
	}
	cfg.BaseURL = strings.TrimSpace(os.Getenv("BASE_URL"))
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database and encryption
	cfg.MasterKey = strings.TrimSpace(os.Getenv("MASTER_KEY"))
	if cfg.MasterKey == "" && cfg.Dev {
		cfg.MasterKey = DevMasterKey
	}
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "./data/yanote.db")
	cfg.SessionDuration = parseDurationOrDefault("SESSION_DURATION", 14*24*time.Hour)

	// Rate limiting
	cfg.RateLimitConfig = ratelimit.Config{
		RPS:             parseFloat64OrDefault("RATE_LIMIT_RPS", ratelimit.DefaultConfig.RPS),
		Burst:           parseIntOrDefault("RATE_LIMIT_BURST", ratelimit.DefaultConfig.Burst),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),
	}
	cfg.TrustedProxy = strings.ToLower(strings.TrimSpace(os.Getenv("TRUSTED_PROXY")))
	cfg.RateLimitConfig.TrustedProxyHeader = trustedProxyHeaders[cfg.TrustedProxy]

	// Backups
	cfg.BackupInterval = parseDurationOrDefault("BACKUP_INTERVAL", 0)
	cfg.BackupRetain = parseIntOrDefault("BACKUP_RETAIN", defaultBackupRetain)
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultRegion)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSBucketName = strings.TrimSpace(os.Getenv("BUCKET_NAME"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
// S3 credentials are only required when backups are enabled against real storage.
func (c *Config) Validate() error {
	var errs []string

	if c.BackupsEnabled() && !c.NoS3 {
		if c.AWSEndpointS3 == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required when BACKUP_INTERVAL is set (set env var or use --no-s3)")
		}
		if c.AWSBucketName == "" {
			errs = append(errs, "BUCKET_NAME is required when BACKUP_INTERVAL is set (set env var or use --no-s3)")
		}
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when BACKUP_INTERVAL is set (set env var or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when BACKUP_INTERVAL is set (set env var or use --no-s3)")
		}
	}
	if c.BackupInterval < 0 {
		errs = append(errs, "BACKUP_INTERVAL must not be negative")
	}
	if c.BackupRetain < 0 {
		errs = append(errs, "BACKUP_RETAIN must not be negative")
	}

	// MasterKey: losing it makes the database unreadable
	if c.MasterKey == "" {
		errs = append(errs, "MASTER_KEY is required (generate with: openssl rand -hex 32, or use --dev)")
	} else if len(c.MasterKey) != 64 {
		errs = append(errs, "MASTER_KEY must be 64 hex characters (32 bytes)")
	} else if !isHex(c.MasterKey) {
		errs = append(errs, "MASTER_KEY must be hex encoded")
	}

	if c.DatabasePath == "" {
		errs = append(errs, "DATABASE_PATH must not be empty")
	}
	if c.SessionDuration <= 0 {
		errs = append(errs, "SESSION_DURATION must be positive")
	}

	if c.RateLimitConfig.RPS <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitConfig.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive")
	}
	if _, ok := trustedProxyHeaders[c.TrustedProxy]; !ok {
		errs = append(errs, fmt.Sprintf("TRUSTED_PROXY must be fly or x-forwarded-for, got %q", c.TrustedProxy))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// BackupsEnabled reports whether the periodic backup loop should run.
func (c *Config) BackupsEnabled() bool {
	return c.BackupInterval > 0
}

// RequireSecureCookies returns true if secure cookies should be required.
// Returns false in dev mode and for localhost development URLs.
func (c *Config) RequireSecureCookies() bool {
	if c.Dev {
		return false
	}
	return !strings.HasPrefix(c.BaseURL, "http://localhost") &&
		!strings.HasPrefix(c.BaseURL, "http://127.0.0.1")
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "yanote server starting...")

	if c.Dev {
		fmt.Fprintln(w, "  Mode:     development (--dev), DO NOT use for real data")
	}

	switch {
	case !c.BackupsEnabled():
		fmt.Fprintln(w, "  Backups:  disabled (BACKUP_INTERVAL unset)")
	case c.NoS3:
		fmt.Fprintf(w, "  Backups:  every %s to in-memory S3 (--no-s3)\n", c.BackupInterval)
	default:
		fmt.Fprintf(w, "  Backups:  every %s to %s/%s\n", c.BackupInterval, c.AWSEndpointS3, c.AWSBucketName)
	}

	fmt.Fprintf(w, "  Database: %s\n", c.DatabasePath)
	fmt.Fprintf(w, "  Listen:   %s\n", c.ListenAddr)
	fmt.Fprintf(w, "  Base:     %s\n", c.BaseURL)
	fmt.Fprintln(w, "")
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') && (ch < 'A' || ch > 'F') {
			return false
		}
	}
	return true
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
