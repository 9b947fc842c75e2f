// Package config provides configuration loading and validation for the
// auditor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/m-pilli/aws-security-auditor/internal/notify"
	"github.com/m-pilli/aws-security-auditor/pkg/pathutil"
)

// Config is the complete auditor configuration.
type Config struct {
	AWS      AWSConfig      `yaml:"aws,omitempty"`
	Database DatabaseConfig `yaml:"database,omitempty"`
	Scan     ScanConfig     `yaml:"scan,omitempty"`
	Alerts   AlertConfig    `yaml:"alerts,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// AWSConfig selects the AWS account and region to audit.
type AWSConfig struct {
	Region  string `yaml:"region,omitempty"`
	Profile string `yaml:"profile,omitempty"`
}

// DatabaseConfig locates the findings database.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"`
}

// ScanConfig tunes checker behavior.
type ScanConfig struct {
	UnusedKeyDays      int      `yaml:"unused_key_days,omitempty"`
	RiskScoreThreshold int      `yaml:"risk_score_threshold,omitempty"`
	MaxWorkers         int      `yaml:"max_workers,omitempty"`
	CheckTimeout       Duration `yaml:"check_timeout,omitempty"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("check_timeout must be a duration string: %w", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// AlertConfig holds email alerting settings.
type AlertConfig struct {
	Email        string `yaml:"email,omitempty"`
	SMTPServer   string `yaml:"smtp_server,omitempty"`
	SMTPUsername string `yaml:"smtp_username,omitempty"`
	SMTPPassword string `yaml:"smtp_password,omitempty"`
	SMTPPort     int    `yaml:"smtp_port,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Format string `yaml:"format,omitempty"`
	Debug  bool   `yaml:"debug,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Database: DatabaseConfig{
			Path: "security_audit.db",
		},
		Scan: ScanConfig{
			UnusedKeyDays:      90,
			RiskScoreThreshold: 7,
			MaxWorkers:         3,
			CheckTimeout:       Duration(10 * time.Minute),
		},
		Alerts: AlertConfig{
			SMTPServer: "smtp.gmail.com",
			SMTPPort:   587,
		},
		Logging: LoggingConfig{
			Format: "text",
		},
	}
}

// Load reads the configuration. An empty path loads defaults. Environment
// variables override both defaults and file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		validated, err := pathutil.ValidateConfigPath(path)
		if err != nil {
			return nil, fmt.Errorf("validating config path: %w", err)
		}

		data, err := os.ReadFile(validated) //nolint:gosec // Validated above
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies the environment variables the auditor has
// always honored, taking precedence over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AWS_DEFAULT_REGION"); v != "" {
		c.AWS.Region = v
	}
	if v := os.Getenv("AWS_PROFILE"); v != "" {
		c.AWS.Profile = v
	}
	if v := os.Getenv("ALERT_EMAIL"); v != "" {
		c.Alerts.Email = v
	}
	if v := os.Getenv("SMTP_SERVER"); v != "" {
		c.Alerts.SMTPServer = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Alerts.SMTPPort = port
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.Alerts.SMTPUsername = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.Alerts.SMTPPassword = v
	}
	if v := os.Getenv("UNUSED_KEY_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.Scan.UnusedKeyDays = days
		}
	}
	if v := os.Getenv("RISK_SCORE_THRESHOLD"); v != "" {
		if threshold, err := strconv.Atoi(v); err == nil {
			c.Scan.RiskScoreThreshold = threshold
		}
	}
}

// Validate checks the configuration for values the auditor cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.Scan.UnusedKeyDays <= 0 {
		return fmt.Errorf("scan.unused_key_days must be positive, got %d", c.Scan.UnusedKeyDays)
	}
	if c.Scan.MaxWorkers < 1 {
		return fmt.Errorf("scan.max_workers must be at least 1, got %d", c.Scan.MaxWorkers)
	}
	if c.Scan.CheckTimeout <= 0 {
		return fmt.Errorf("scan.check_timeout must be positive, got %s", c.Scan.CheckTimeout)
	}
	if c.Scan.RiskScoreThreshold < 0 || c.Scan.RiskScoreThreshold > 10 {
		return fmt.Errorf("scan.risk_score_threshold must be between 0 and 10, got %d", c.Scan.RiskScoreThreshold)
	}
	if c.Alerts.SMTPPort < 0 || c.Alerts.SMTPPort > 65535 {
		return fmt.Errorf("alerts.smtp_port must be a valid port, got %d", c.Alerts.SMTPPort)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// DatabasePath returns the validated absolute path of the database file.
func (c *Config) DatabasePath() (string, error) {
	return pathutil.ValidateDatabasePath(c.Database.Path)
}

// EmailConfig converts the alert settings into the notifier's config.
func (c *Config) EmailConfig() notify.EmailConfig {
	return notify.EmailConfig{
		Server:     c.Alerts.SMTPServer,
		Port:       c.Alerts.SMTPPort,
		Username:   c.Alerts.SMTPUsername,
		Password:   c.Alerts.SMTPPassword,
		AlertEmail: c.Alerts.Email,
	}
}
