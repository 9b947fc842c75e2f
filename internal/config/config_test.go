package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "security_audit.db", cfg.Database.Path)
	assert.Equal(t, 90, cfg.Scan.UnusedKeyDays)
	assert.Equal(t, 7, cfg.Scan.RiskScoreThreshold)
	assert.Equal(t, 3, cfg.Scan.MaxWorkers)
	assert.Equal(t, 587, cfg.Alerts.SMTPPort)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auditor.yaml")

	content := `
aws:
  region: eu-west-1
  profile: audit
database:
  path: /tmp/audit.db
scan:
  unused_key_days: 30
  check_timeout: 5m
alerts:
  email: security@example.com
  smtp_server: mail.example.com
logging:
  debug: true
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, "audit", cfg.AWS.Profile)
	assert.Equal(t, "/tmp/audit.db", cfg.Database.Path)
	assert.Equal(t, 30, cfg.Scan.UnusedKeyDays)
	assert.Equal(t, 5*time.Minute, cfg.Scan.CheckTimeout.Std())
	assert.Equal(t, "security@example.com", cfg.Alerts.Email)
	assert.Equal(t, "mail.example.com", cfg.Alerts.SMTPServer)
	assert.True(t, cfg.Logging.Debug)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Values absent from the file keep their defaults.
	assert.Equal(t, 3, cfg.Scan.MaxWorkers)
	assert.Equal(t, 587, cfg.Alerts.SMTPPort)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Database.Path, cfg.Database.Path)
}

func TestLoadRejectsNonYAML(t *testing.T) {
	_, err := Load("auditor.json")
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AWS_DEFAULT_REGION", "ap-southeast-2")
	t.Setenv("ALERT_EMAIL", "oncall@example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("UNUSED_KEY_DAYS", "45")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ap-southeast-2", cfg.AWS.Region)
	assert.Equal(t, "oncall@example.com", cfg.Alerts.Email)
	assert.Equal(t, 2525, cfg.Alerts.SMTPPort)
	assert.Equal(t, 45, cfg.Scan.UnusedKeyDays)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		mutate  func(*Config)
		name    string
		wantErr bool
	}{
		{name: "defaults valid", mutate: func(*Config) {}},
		{name: "empty db path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "zero unused key days", mutate: func(c *Config) { c.Scan.UnusedKeyDays = 0 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Scan.MaxWorkers = 0 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.Scan.CheckTimeout = 0 }, wantErr: true},
		{name: "threshold out of range", mutate: func(c *Config) { c.Scan.RiskScoreThreshold = 11 }, wantErr: true},
		{name: "bad smtp port", mutate: func(c *Config) { c.Alerts.SMTPPort = 70000 }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEmailConfig(t *testing.T) {
	cfg := Default()
	cfg.Alerts = AlertConfig{
		Email:        "security@example.com",
		SMTPServer:   "mail.example.com",
		SMTPPort:     587,
		SMTPUsername: "auditor",
		SMTPPassword: "secret",
	}

	ec := cfg.EmailConfig()
	assert.Equal(t, "mail.example.com", ec.Server)
	assert.Equal(t, 587, ec.Port)
	assert.Equal(t, "security@example.com", ec.AlertEmail)
	assert.True(t, ec.Configured())
}

func TestDatabasePath(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.Database.Path = filepath.Join(dir, "audit.db")

	path, err := cfg.DatabasePath()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
}
