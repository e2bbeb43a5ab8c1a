// Package config holds the relay's settings. Values are populated from
// command-line flags whose defaults come from RELAY_* environment variables;
// everything not set falls back to Default().
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Dedup store backends.
const (
	BackendMemory   = "memory"
	BackendDuckDB   = "duckdb"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

const (
	DefaultGraceWindow     = 3 * time.Second
	DefaultRecheckDelay    = 1 * time.Second
	DefaultDownloadWorkers = 5
	DefaultFetchTimeout    = 30 * time.Second
	DefaultWebhookPath     = "/telegram/webhook"
	DefaultDuckDBPath      = "./media-relay.duckdb"
)

// Config holds application settings.
type Config struct {
	BotToken      string
	TokenFile     string
	TokenSSMParam string
	TargetChat    string
	TargetFile    string

	// Aggregation engine.
	GraceWindow  time.Duration
	RecheckDelay time.Duration

	// Downloader.
	DownloadWorkers int
	FetchTimeout    time.Duration

	// Dedup store.
	DedupBackend string
	DedupTable   string
	DuckDBPath   string
	RedisAddr    string

	// Optional archive of delivered payloads.
	ArchiveBucket string

	// Webhook mode. WebhookURL is the public URL registered with setWebhook;
	// leave it empty when the webhook is registered out of band.
	WebhookAddr   string
	WebhookPath   string
	WebhookURL    string
	WebhookSecret string

	// Bot API endpoints; empty means the public api.telegram.org endpoints.
	APIEndpoint  string
	FileEndpoint string

	Metrics bool
}

// Default returns a Config with every tunable set to its default.
func Default() Config {
	return Config{
		GraceWindow:     DefaultGraceWindow,
		RecheckDelay:    DefaultRecheckDelay,
		DownloadWorkers: DefaultDownloadWorkers,
		FetchTimeout:    DefaultFetchTimeout,
		DedupBackend:    BackendMemory,
		DuckDBPath:      DefaultDuckDBPath,
		WebhookPath:     DefaultWebhookPath,
	}
}

// ResolveFiles fills BotToken and TargetChat from TokenFile and TargetFile
// when the direct values are empty.
func (c *Config) ResolveFiles() error {
	if c.BotToken == "" && c.TokenFile != "" {
		v, err := ReadValueFile(c.TokenFile)
		if err != nil {
			return fmt.Errorf("token file: %w", err)
		}
		c.BotToken = v
	}
	if c.TargetChat == "" && c.TargetFile != "" {
		v, err := ReadValueFile(c.TargetFile)
		if err != nil {
			return fmt.Errorf("target file: %w", err)
		}
		c.TargetChat = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("bot token is required (--token, --token-file or --token-ssm-param)"))
	}
	if c.TargetChat == "" {
		errs = append(errs, errors.New("target chat is required (--target or --target-file)"))
	}
	if c.GraceWindow <= 0 {
		errs = append(errs, fmt.Errorf("grace window must be positive, got %s", c.GraceWindow))
	}
	if c.RecheckDelay <= 0 {
		errs = append(errs, fmt.Errorf("recheck delay must be positive, got %s", c.RecheckDelay))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch timeout must be positive, got %s", c.FetchTimeout))
	}
	if c.DownloadWorkers <= 0 {
		errs = append(errs, fmt.Errorf("download workers must be positive, got %d", c.DownloadWorkers))
	}
	switch c.DedupBackend {
	case BackendMemory:
	case BackendDuckDB:
		if c.DuckDBPath == "" {
			errs = append(errs, errors.New("duckdb backend requires --duckdb-path"))
		}
	case BackendDynamoDB:
		if c.DedupTable == "" {
			errs = append(errs, errors.New("dynamodb backend requires --dedup-table"))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis backend requires --redis-addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dedup backend %q", c.DedupBackend))
	}
	if c.WebhookURL != "" && !strings.HasPrefix(c.WebhookURL, "https://") {
		errs = append(errs, fmt.Errorf("webhook URL must use https, got %q", c.WebhookURL))
	}
	return errors.Join(errs...)
}

// ReadValueFile reads a single trimmed value from a file, the way the bot
// token and target chat were traditionally kept on disk.
func ReadValueFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	return v, nil
}

// ParseDuration accepts Go duration syntax ("1500ms", "3s") or a bare
// number of seconds ("3", "0.5").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// DurationEnv returns the duration in envVar, or def when unset or invalid.
func DurationEnv(envVar string, def time.Duration) time.Duration {
	v := os.Getenv(envVar)
	if v == "" {
		return def
	}
	d, err := ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// IntEnv returns the integer in envVar, or def when unset or invalid.
func IntEnv(envVar string, def int) int {
	v := os.Getenv(envVar)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// BoolEnv returns the boolean in envVar, or def when unset or invalid.
func BoolEnv(envVar string, def bool) bool {
	v := os.Getenv(envVar)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
