package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/vault"
)

type Config struct {
	Env      string `yaml:"env"` // "dev" | "prod"
	HTTPAddr string `yaml:"http_addr"`
	// GRPCAddr serves gRPC health.  Empty disables it.
	GRPCAddr string `yaml:"grpc_addr"`

	DBPath    string `yaml:"db_path"`
	SpoolPath string `yaml:"spool_path"`

	// Vault key material.  Previous keys only decrypt.
	VaultKey          string   `yaml:"vault_key"`
	VaultPreviousKeys []string `yaml:"vault_previous_keys"`

	AdminToken string `yaml:"admin_token"`
	// DeviceToken authenticates access producers on /v1/access.
	DeviceToken string `yaml:"device_token"`

	// Door controller
	SerialPort         string `yaml:"serial_port"` // "AUTO" probes USB serial adapters
	SerialBaud         int    `yaml:"serial_baud"`
	LinkTimeoutMs      int    `yaml:"link_timeout_ms"`
	LinkRetries        int    `yaml:"link_retries"`
	MonitorIntervalSec int    `yaml:"monitor_interval_s"`

	FaceThreshold        float64 `yaml:"face_threshold"`
	FingerprintThreshold float64 `yaml:"fingerprint_threshold"`

	// Passcode throttle across keypad and API
	PasscodeAttemptsPerMin int `yaml:"passcode_attempts_per_min"`
	PasscodeBurst          int `yaml:"passcode_burst"`

	// Expired code retention
	CodeRetentionDays  int `yaml:"code_retention_days"` // 0 = keep forever
	PruneIntervalHours int `yaml:"prune_interval_hours"`
}

func Defaults() Config {
	return Config{
		Env:                    "dev",
		HTTPAddr:               "127.0.0.1:8080",
		GRPCAddr:               ":9090",
		DBPath:                 "./data/smartdoor.db",
		SpoolPath:              "./data/access.spool",
		SerialPort:             "AUTO",
		SerialBaud:             57600,
		LinkTimeoutMs:          2000,
		LinkRetries:            2,
		MonitorIntervalSec:     10,
		FaceThreshold:          0.70,
		FingerprintThreshold:   0.5,
		PasscodeAttemptsPerMin: 10,
		PasscodeBurst:          5,
		CodeRetentionDays:      30,
		PruneIntervalHours:     6,
	}
}

// FromEnv returns the defaults overlaid with SMARTDOOR_* variables.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// Load applies, in order: defaults, the YAML file at path (if any), then
// SMARTDOOR_* variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Env = strings.ToLower(getenvDefault("SMARTDOOR_ENV", c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}

	c.HTTPAddr = getenvDefault("SMARTDOOR_HTTP_ADDR", c.HTTPAddr)
	if v, ok := os.LookupEnv("SMARTDOOR_GRPC_ADDR"); ok {
		c.GRPCAddr = strings.TrimSpace(v)
	}
	c.DBPath = getenvDefault("SMARTDOOR_DB_PATH", c.DBPath)
	c.SpoolPath = getenvDefault("SMARTDOOR_SPOOL_PATH", c.SpoolPath)

	c.VaultKey = getenvDefault("SMARTDOOR_VAULT_KEY", c.VaultKey)
	if prev := splitCSV(os.Getenv("SMARTDOOR_VAULT_PREVIOUS_KEYS")); prev != nil {
		c.VaultPreviousKeys = prev
	}
	c.AdminToken = getenvDefault("SMARTDOOR_ADMIN_TOKEN", c.AdminToken)
	c.DeviceToken = getenvDefault("SMARTDOOR_DEVICE_TOKEN", c.DeviceToken)

	c.SerialPort = getenvDefault("SMARTDOOR_SERIAL_PORT", c.SerialPort)
	c.SerialBaud = getenvInt("SMARTDOOR_SERIAL_BAUD", c.SerialBaud)
	c.LinkTimeoutMs = getenvInt("SMARTDOOR_LINK_TIMEOUT_MS", c.LinkTimeoutMs)
	c.LinkRetries = getenvInt("SMARTDOOR_LINK_RETRIES", c.LinkRetries)
	c.MonitorIntervalSec = getenvInt("SMARTDOOR_MONITOR_INTERVAL_S", c.MonitorIntervalSec)

	c.FaceThreshold = getenvFloat("SMARTDOOR_FACE_THRESHOLD", c.FaceThreshold)
	c.FingerprintThreshold = getenvFloat("SMARTDOOR_FINGERPRINT_THRESHOLD", c.FingerprintThreshold)

	c.PasscodeAttemptsPerMin = getenvInt("SMARTDOOR_PASSCODE_ATTEMPTS_PER_MIN", c.PasscodeAttemptsPerMin)
	c.PasscodeBurst = getenvInt("SMARTDOOR_PASSCODE_BURST", c.PasscodeBurst)

	c.CodeRetentionDays = getenvInt("SMARTDOOR_CODE_RETENTION_DAYS", c.CodeRetentionDays)
	c.PruneIntervalHours = getenvInt("SMARTDOOR_PRUNE_INTERVAL_HOURS", c.PruneIntervalHours)
}

var (
	ErrMissingVaultKey    = errors.New("SMARTDOOR_VAULT_KEY is required")
	ErrMissingAdminToken  = errors.New("SMARTDOOR_ADMIN_TOKEN is required in prod")
	ErrMissingDeviceToken = errors.New("SMARTDOOR_DEVICE_TOKEN is required in prod")
)

// Validate reports configuration the daemon must refuse to start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.VaultKey) == "" {
		errs = append(errs, ErrMissingVaultKey)
	}
	if c.Env == "prod" && c.AdminToken == "" {
		errs = append(errs, ErrMissingAdminToken)
	}
	if c.Env == "prod" && c.DeviceToken == "" {
		errs = append(errs, ErrMissingDeviceToken)
	}
	if c.SerialBaud <= 0 {
		errs = append(errs, fmt.Errorf("serial baud must be positive, got %d", c.SerialBaud))
	}
	for name, v := range map[string]float64{"face": c.FaceThreshold, "fingerprint": c.FingerprintThreshold} {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s threshold must be in (0, 1], got %v", name, v))
		}
	}
	return errors.Join(errs...)
}

// Vault builds the keyring from the configured key material.
func (c Config) Vault() (*vault.Vault, error) {
	active, err := vault.ParseKey(c.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("vault key: %w", err)
	}
	prev := make([]vault.Key, 0, len(c.VaultPreviousKeys))
	for i, s := range c.VaultPreviousKeys {
		k, err := vault.ParseKey(s)
		if err != nil {
			return nil, fmt.Errorf("previous vault key %d: %w", i+1, err)
		}
		prev = append(prev, k)
	}
	return vault.New(active, prev...)
}

func (c Config) LinkTimeout() time.Duration {
	return time.Duration(c.LinkTimeoutMs) * time.Millisecond
}

func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSec) * time.Second
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
