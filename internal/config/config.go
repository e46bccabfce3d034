package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the base server configuration.
type Config struct {
	Host         string `mapstructure:"HOST"`
	Port         string `mapstructure:"PORT"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	LogFormat    string `mapstructure:"LOG_FORMAT"`
	SQLiteDBPath string `mapstructure:"SQLITE_DB_PATH"`

	// Speaker bootstrap. When BoseHost is set the session is initialized at startup.
	BoseHost        string `mapstructure:"BOSE_HOST"`
	BoseDeviceID    string `mapstructure:"BOSE_DEVICE_ID"`
	BoseUsername    string `mapstructure:"BOSE_USERNAME"`
	BosePassword    string `mapstructure:"BOSE_PASSWORD"`
	BoseDevicePort  int    `mapstructure:"BOSE_DEVICE_PORT"`
	BoseInsecureTLS bool   `mapstructure:"BOSE_INSECURE_TLS"`
	BoseAuthURL     string `mapstructure:"BOSE_AUTH_URL"`
	VolumeStep      int    `mapstructure:"BOSE_VOLUME_STEP"`

	SpeakerCallTimeoutMs    int    `mapstructure:"SPEAKER_CALL_TIMEOUT_MS"`
	SpeakerConnectTimeoutMs int    `mapstructure:"SPEAKER_CONNECT_TIMEOUT_MS"`
	PresetInitiatorID       string `mapstructure:"PRESET_INITIATOR_ID"`

	// API bearer auth is disabled when APIJWTSecret is empty.
	APIJWTSecret    string `mapstructure:"API_JWT_SECRET"`
	APIJWTExpirySec int    `mapstructure:"API_JWT_EXPIRY"`

	AuditRetentionDays int    `mapstructure:"AUDIT_RETENTION_DAYS"`
	AuditPruneSchedule string `mapstructure:"AUDIT_PRUNE_SCHEDULE"`
}

var defaults = map[string]any{
	"HOST":                       "0.0.0.0",
	"PORT":                       "8000",
	"LOG_LEVEL":                  "info",
	"LOG_FORMAT":                 "text",
	"SQLITE_DB_PATH":             "./data/bose-hub.db",
	"BOSE_HOST":                  "",
	"BOSE_DEVICE_ID":             "",
	"BOSE_USERNAME":              "",
	"BOSE_PASSWORD":              "",
	"BOSE_DEVICE_PORT":           8082,
	"BOSE_INSECURE_TLS":          true,
	"BOSE_AUTH_URL":              "",
	"BOSE_VOLUME_STEP":           5,
	"SPEAKER_CALL_TIMEOUT_MS":    5000,
	"SPEAKER_CONNECT_TIMEOUT_MS": 10000,
	"PRESET_INITIATOR_ID":        "bose-hub",
	"API_JWT_SECRET":             "",
	"API_JWT_EXPIRY":             3600,
	"AUDIT_RETENTION_DAYS":       30,
	"AUDIT_PRUNE_SCHEDULE":       "0 3 * * *",
}

// Load reads configuration from environment variables, optionally layered over
// a YAML file. Environment always wins over the file.
func Load(configFile string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that would otherwise fail much later.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.VolumeStep <= 0 || c.VolumeStep > 100 {
		return fmt.Errorf("BOSE_VOLUME_STEP must be between 1 and 100")
	}
	if c.SpeakerCallTimeoutMs <= 0 {
		return fmt.Errorf("SPEAKER_CALL_TIMEOUT_MS must be positive")
	}
	if c.SpeakerConnectTimeoutMs <= 0 {
		return fmt.Errorf("SPEAKER_CONNECT_TIMEOUT_MS must be positive")
	}
	if secret := strings.TrimSpace(c.APIJWTSecret); secret != "" && len(secret) < 32 {
		return fmt.Errorf("API_JWT_SECRET must be at least 32 characters")
	}
	if c.AuditRetentionDays <= 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	return nil
}

// AutoInitialize reports whether a speaker session should be opened at startup.
func (c Config) AutoInitialize() bool {
	return c.BoseHost != ""
}

// APIAuthEnabled reports whether bearer tokens are required on the REST API.
func (c Config) APIAuthEnabled() bool {
	return c.APIJWTSecret != ""
}
