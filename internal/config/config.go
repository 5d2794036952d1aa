// Package config defines the single configuration record for the DomainAlert
// server. It is constructed once at startup from CLI flags (with environment
// variable defaults) and threaded explicitly into every component — the
// scheduler, worker pool, and lookup engine each consume a subset. No package
// reads configuration from globals or from the environment after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for tunables. Flag definitions in cmd/domainalert reference these
// so the CLI help text and the validation logic cannot drift apart.
const (
	DefaultConcurrency  = 200
	DefaultWorkers      = 1
	DefaultBatchSize    = 1000
	DefaultStaleBatch   = 500
	DefaultFallbackCap  = 20
	DefaultScanInterval = time.Minute
	DefaultStaleAfter   = 24 * time.Hour
	DefaultPollInterval = 5 * time.Second

	DefaultBootstrapURL = "https://data.iana.org/rdap/dns.json"
)

// Config holds every runtime setting of the server. All fields are immutable
// after Validate has been called.
type Config struct {
	HTTPAddr  string // HTTP API listen address
	DBDriver  string // "sqlite" or "postgres"
	DBDSN     string // DSN, or file path for SQLite
	SecretKey string // HMAC key for access tokens; required
	LogLevel  string // debug, info, warn, error

	// Lookup engine tuning. Per-request timeouts are fixed in the rdap and
	// whois clients and are not configurable.
	Concurrency  int    // in-batch HTTP fan-out, 10–1000
	Workers      int    // engine shards, 1–32
	FallbackCap  int    // max WHOIS fallbacks per batch
	BootstrapURL string // IANA RDAP bootstrap endpoint

	// Worker pool tuning.
	BatchSize    int           // payload slice claimed per iteration, 1–5000
	PollInterval time.Duration // idle sleep between queue polls

	// Scheduler tuning.
	ScanInterval time.Duration // cadence of the expiry/stale scan
	StaleAfter   time.Duration // refresh horizon for stale domains
	StaleBatch   int           // max stale domains scanned per tick, ≥100

	// Notification channels. Ntfy is enabled when NtfyServer is set;
	// email when SMTPHost is set. Both are optional and independent.
	NtfyServer string
	NtfyTopic  string
	SMTPHost   string
	SMTPPort   int
	SMTPUser   string
	SMTPPass   string
	SMTPFrom   string

	// DefaultModel is forwarded to the assistant integration. The monitoring
	// pipeline does not read it.
	DefaultModel string
}

// Validate checks all range constraints and required fields. It is called
// once in main before any component is constructed; a validation error is a
// fatal initialization failure (exit code 1).
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("config: secret key is required")
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported db driver %q, use \"sqlite\" or \"postgres\"", c.DBDriver)
	}
	if c.Concurrency < 10 || c.Concurrency > 1000 {
		return fmt.Errorf("config: concurrency must be in [10, 1000], got %d", c.Concurrency)
	}
	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("config: workers must be in [1, 32], got %d", c.Workers)
	}
	if c.BatchSize < 1 || c.BatchSize > 5000 {
		return fmt.Errorf("config: batch size must be in [1, 5000], got %d", c.BatchSize)
	}
	if c.StaleBatch < 100 {
		return fmt.Errorf("config: stale batch must be at least 100, got %d", c.StaleBatch)
	}
	if c.FallbackCap < 0 {
		return fmt.Errorf("config: fallback cap must not be negative, got %d", c.FallbackCap)
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("config: scan interval must be positive, got %s", c.ScanInterval)
	}
	if c.BootstrapURL == "" {
		return fmt.Errorf("config: rdap bootstrap url is required")
	}
	if c.SMTPHost != "" {
		if c.SMTPPort < 1 || c.SMTPPort > 65535 {
			return fmt.Errorf("config: smtp port must be a valid port number, got %d", c.SMTPPort)
		}
		if c.SMTPFrom == "" {
			return fmt.Errorf("config: smtp from address is required when smtp host is set")
		}
	}
	return nil
}

// EnvOrDefault returns the value of the environment variable key, or
// defaultVal when unset or empty. Used by the CLI layer to give every flag an
// environment override.
func EnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// EnvOrDefaultInt is EnvOrDefault for integer-valued variables. A value that
// does not parse falls back to the default rather than failing startup —
// range violations are still caught by Validate.
func EnvOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
