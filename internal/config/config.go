package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Logging       LoggingConfig       `yaml:"logging"`
	Namespace     NamespaceConfig     `yaml:"namespace"`
	S3            S3Config            `yaml:"s3"`
	SQS           SQSConfig           `yaml:"sqs"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

type ServerConfig struct {
	Address             string    `yaml:"address"`
	Port                int       `yaml:"port"`
	ShutdownTimeoutSecs int       `yaml:"shutdown_timeout_secs"`
	MaxInFlight         int       `yaml:"max_in_flight"` // concurrent operations across all services
	TLS                 TLSConfig `yaml:"tls"`
}

// TLSConfig selects one certificate source: explicit files, a generated
// self-signed pair, or ACME certificates for Domains.
type TLSConfig struct {
	Enabled    bool     `yaml:"enabled"`
	CertFile   string   `yaml:"cert_file"`
	KeyFile    string   `yaml:"key_file"`
	SelfSigned bool     `yaml:"self_signed"`
	Domains    []string `yaml:"domains"`
	CacheDir   string   `yaml:"cache_dir"`
}

type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	MetadataDir string `yaml:"metadata_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	// AccessLog is a file receiving one JSON line per request. Empty disables it.
	AccessLog string `yaml:"access_log"`
}

// NamespaceConfig is the account and region used when a request names
// neither.
type NamespaceConfig struct {
	AccountID string `yaml:"account_id"`
	Region    string `yaml:"region"`
}

type S3Config struct {
	MinPartSizeBytes     int64 `yaml:"min_part_size_bytes"`
	MultipartExpiryHours int   `yaml:"multipart_expiry_hours"`
}

type SQSConfig struct {
	DefaultVisibilityTimeoutSecs int `yaml:"default_visibility_timeout_secs"`
	RetentionPeriodSecs          int `yaml:"retention_period_secs"`
	MaxWaitTimeSecs              int `yaml:"max_wait_time_secs"`
}

type NotificationsConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxWorkers  int  `yaml:"max_workers"`
	QueueSize   int  `yaml:"queue_size"`
	TimeoutSecs int  `yaml:"timeout_secs"`
	MaxRetries  int  `yaml:"max_retries"`
}

type MaintenanceConfig struct {
	ScanIntervalSecs int `yaml:"scan_interval_secs"`
	TempMaxAgeSecs   int `yaml:"temp_max_age_secs"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitConfig throttles calls per client address and per account. A
// zero rate turns that limit off.
type RateLimitConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ClientRPS    float64 `yaml:"client_rps"`
	ClientBurst  int     `yaml:"client_burst"`
	AccountRPS   float64 `yaml:"account_rps"`
	AccountBurst int     `yaml:"account_burst"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:             "0.0.0.0",
			Port:                4566,
			ShutdownTimeoutSecs: 30,
			MaxInFlight:         256,
		},
		Storage: StorageConfig{
			DataDir:     "./data",
			MetadataDir: "./metadata",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Namespace: NamespaceConfig{
			AccountID: "000000000000",
			Region:    "us-east-1",
		},
		S3: S3Config{
			MinPartSizeBytes:     5 << 20,
			MultipartExpiryHours: 7 * 24,
		},
		SQS: SQSConfig{
			DefaultVisibilityTimeoutSecs: 30,
			RetentionPeriodSecs:          4 * 24 * 3600,
			MaxWaitTimeSecs:              20,
		},
		Notifications: NotificationsConfig{
			Enabled:     true,
			MaxWorkers:  4,
			QueueSize:   1000,
			TimeoutSecs: 10,
			MaxRetries:  3,
		},
		Maintenance: MaintenanceConfig{
			ScanIntervalSecs: 3600,
			TempMaxAgeSecs:   3600,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			ClientRPS:    100,
			ClientBurst:  200,
			AccountRPS:   500,
			AccountBurst: 1000,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

var (
	accountRe = regexp.MustCompile(`^[0-9]{12}$`)
	regionRe  = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-[0-9]+$`)
)

// ValidAccountID reports whether id is a 12 digit account number.
func ValidAccountID(id string) bool { return accountRe.MatchString(id) }

// ValidRegion reports whether region is shaped like "us-east-1".
func ValidRegion(region string) bool { return regionRe.MatchString(region) }

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		fail("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxInFlight < 1 {
		fail("server.max_in_flight must be positive")
	}
	if t := c.Server.TLS; t.Enabled {
		switch {
		case t.CertFile != "" || t.KeyFile != "":
			if t.CertFile == "" || t.KeyFile == "" {
				fail("server.tls needs both cert_file and key_file")
			}
		case t.SelfSigned, len(t.Domains) > 0:
		default:
			fail("server.tls needs cert files, self_signed or domains")
		}
	}
	if c.Storage.DataDir == "" || c.Storage.MetadataDir == "" {
		fail("storage.data_dir and storage.metadata_dir are required")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		fail("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		fail("logging.format %q must be text or json", c.Logging.Format)
	}
	if !ValidAccountID(c.Namespace.AccountID) {
		fail("namespace.account_id %q must be 12 digits", c.Namespace.AccountID)
	}
	if !ValidRegion(c.Namespace.Region) {
		fail("namespace.region %q is not a region name", c.Namespace.Region)
	}
	if c.S3.MinPartSizeBytes < 1 {
		fail("s3.min_part_size_bytes must be positive")
	}
	if c.S3.MultipartExpiryHours < 1 {
		fail("s3.multipart_expiry_hours must be positive")
	}
	if v := c.SQS.DefaultVisibilityTimeoutSecs; v < 0 || v > 43200 {
		fail("sqs.default_visibility_timeout_secs %d out of range 0-43200", v)
	}
	if v := c.SQS.RetentionPeriodSecs; v < 60 || v > 14*24*3600 {
		fail("sqs.retention_period_secs %d out of range 60-1209600", v)
	}
	if v := c.SQS.MaxWaitTimeSecs; v < 1 || v > 20 {
		fail("sqs.max_wait_time_secs %d out of range 1-20", v)
	}
	if n := c.Notifications; n.Enabled && (n.MaxWorkers < 1 || n.QueueSize < 1) {
		fail("notifications need at least one worker and a positive queue size")
	}
	if rl := c.RateLimit; rl.Enabled {
		if rl.ClientRPS < 0 || rl.AccountRPS < 0 {
			fail("rate_limit rates must not be negative")
		}
		if (rl.ClientRPS > 0 && rl.ClientBurst < 1) || (rl.AccountRPS > 0 && rl.AccountBurst < 1) {
			fail("rate_limit bursts must be positive for every enabled rate")
		}
	}
	if c.Maintenance.ScanIntervalSecs < 1 {
		fail("maintenance.scan_interval_secs must be positive")
	}
	return result.ErrorOrNil()
}

// LoadOrDefault loads path, or returns the defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
