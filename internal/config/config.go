package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	TCP             TCPConfig       `yaml:"tcp"`
	OpsAddr         string          `yaml:"ops_addr"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	DatabaseURL     string          `yaml:"database_url"`
	Session         SessionConfig   `yaml:"session"`
	Auth            AuthConfig      `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	AuditLogFile    string          `yaml:"audit_log_file"`
	LogLevel        string          `yaml:"log_level"`
}

type TCPConfig struct {
	Addr          string        `yaml:"addr"`
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	MaxFrameBytes int           `yaml:"max_frame_bytes"`
}

type SessionConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

type AuthConfig struct {
	BootstrapUsername string `yaml:"bootstrap_username"`
	BootstrapPassword string `yaml:"bootstrap_password"`
	Argon2MemoryKB    uint32 `yaml:"argon2_memory_kb"`
	Argon2Time        uint32 `yaml:"argon2_time"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

func Defaults() Config {
	return Config{
		TCP: TCPConfig{
			Addr:          ":9000",
			Workers:       64,
			QueueSize:     128,
			MaxFrameBytes: 1 << 20,
		},
		OpsAddr:         ":9100",
		ShutdownTimeout: 20 * time.Second,
		Session: SessionConfig{
			Backend:   SessionBackendMemory,
			RedisAddr: "localhost:6379",
			KeyPrefix: "ratio:sess:",
		},
		Auth: AuthConfig{
			BootstrapUsername: "admin",
			BootstrapPassword: "admin123",
			Argon2MemoryKB:    64 * 1024,
			Argon2Time:        1,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     30,
			Burst:   60,
		},
		AuditLogFile: "./data/audit.log",
		LogLevel:     "info",
	}
}

// Load applies defaults, then the YAML file named by CONFIG_FILE, then the
// environment.
func Load() (Config, error) {
	cfg := Defaults()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := overlayYAML(&cfg, b); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := overlayEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayYAML(cfg *Config, b []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func overlayEnv(cfg *Config) error {
	var errs []error
	setString(&cfg.TCP.Addr, "TCP_ADDR")
	errs = append(errs,
		setInt(&cfg.TCP.Workers, "TCP_WORKERS"),
		setInt(&cfg.TCP.QueueSize, "TCP_QUEUE_SIZE"),
		setSeconds(&cfg.TCP.ReadTimeout, "TCP_READ_TIMEOUT_SEC"),
		setInt(&cfg.TCP.MaxFrameBytes, "TCP_MAX_FRAME_BYTES"),
	)
	setOptional(&cfg.OpsAddr, "OPS_ADDR")
	errs = append(errs, setSeconds(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT_SEC"))
	setString(&cfg.DatabaseURL, "DATABASE_URL")

	setString(&cfg.Session.Backend, "SESSION_BACKEND")
	setString(&cfg.Session.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Session.RedisPassword, "REDIS_PASSWORD")
	errs = append(errs, setInt(&cfg.Session.RedisDB, "REDIS_DB"))
	setString(&cfg.Session.KeyPrefix, "SESSION_KEY_PREFIX")

	setString(&cfg.Auth.BootstrapUsername, "AUTH_BOOTSTRAP_USERNAME")
	setString(&cfg.Auth.BootstrapPassword, "AUTH_BOOTSTRAP_PASSWORD")
	errs = append(errs,
		setUint32(&cfg.Auth.Argon2MemoryKB, "AUTH_ARGON2_MEMORY_KB"),
		setUint32(&cfg.Auth.Argon2Time, "AUTH_ARGON2_TIME"),
		setBool(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED"),
		setFloat(&cfg.RateLimit.RPS, "RATE_LIMIT_RPS"),
		setInt(&cfg.RateLimit.Burst, "RATE_LIMIT_BURST"),
	)

	setOptional(&cfg.AuditLogFile, "AUDIT_LOG_FILE")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	if c.TCP.Addr == "" {
		return fmt.Errorf("TCP_ADDR must not be empty")
	}
	if c.TCP.Workers <= 0 {
		return fmt.Errorf("TCP_WORKERS must be > 0")
	}
	if c.TCP.QueueSize < 0 {
		return fmt.Errorf("TCP_QUEUE_SIZE must be >= 0")
	}
	if c.TCP.ReadTimeout < 0 {
		return fmt.Errorf("TCP_READ_TIMEOUT_SEC must be >= 0")
	}
	if c.TCP.MaxFrameBytes < 64 {
		return fmt.Errorf("TCP_MAX_FRAME_BYTES must be >= 64")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT_SEC must be > 0")
	}
	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR must not be empty when SESSION_BACKEND=redis")
		}
		if c.Session.KeyPrefix == "" {
			return fmt.Errorf("SESSION_KEY_PREFIX must not be empty")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be %q or %q, got %q", SessionBackendMemory, SessionBackendRedis, c.Session.Backend)
	}
	if c.Auth.BootstrapUsername == "" {
		return fmt.Errorf("AUTH_BOOTSTRAP_USERNAME must not be empty")
	}
	if c.Auth.BootstrapPassword == "" {
		return fmt.Errorf("AUTH_BOOTSTRAP_PASSWORD must not be empty")
	}
	if c.Auth.Argon2MemoryKB < 8*1024 {
		return fmt.Errorf("AUTH_ARGON2_MEMORY_KB must be >= 8192")
	}
	if c.Auth.Argon2Time < 1 {
		return fmt.Errorf("AUTH_ARGON2_TIME must be >= 1")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0 when rate limiting is enabled")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func setString(dst *string, key string) {
	*dst = getEnv(key, *dst)
}

// setOptional lets an explicitly empty variable switch the setting off.
func setOptional(dst *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(val)
	}
}

func lookup(key string) (string, bool) {
	val, ok := os.LookupEnv(key)
	val = strings.TrimSpace(val)
	return val, ok && val != ""
}

func setInt(dst *int, key string) error {
	val, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setUint32(dst *uint32, key string) error {
	val, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = uint32(n)
	return nil
}

func setFloat(dst *float64, key string) error {
	val, ok := lookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	val, ok := lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setSeconds(dst *time.Duration, key string) error {
	var n int
	val, ok := lookup(key)
	if !ok {
		return nil
	}
	if err := setInt(&n, key); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%s: must be >= 0, got %s", key, val)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}
