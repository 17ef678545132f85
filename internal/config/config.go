// Package config loads client and server settings from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iudanet/farmkeeper/internal/client/outbox"
)

// LogConfig настройки логирования
type LogConfig struct {
	// File путь к файлу лога (пусто - stderr)
	File string `yaml:"file"`
	// Level debug, info, warn или error
	Level string `yaml:"level"`
	// MaxSizeMB размер файла до ротации
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups сколько старых файлов хранить
	MaxBackups int `yaml:"max_backups"`
}

// OutboxConfig tunes the pending operation queue and its reconciler.
type OutboxConfig struct {
	GracePeriod          time.Duration `yaml:"grace_period"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	BackoffMax           time.Duration `yaml:"backoff_max"`
	SubmitTimeout        time.Duration `yaml:"submit_timeout"`
	MaxAttempts          int           `yaml:"max_attempts"`
	BackoffJitterPercent uint64        `yaml:"backoff_jitter_percent"`
	Concurrency          int           `yaml:"concurrency"`
}

// ConnectivityConfig настройки presence соединения
type ConnectivityConfig struct {
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// ClientConfig is the farmkeeper CLI configuration.
type ClientConfig struct {
	ServerURL    string             `yaml:"server_url"`
	DBPath       string             `yaml:"db_path"`
	Log          LogConfig          `yaml:"log"`
	Outbox       OutboxConfig       `yaml:"outbox"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
}

// JWTConfig настройки токенов доступа
type JWTConfig struct {
	Secret         string        `yaml:"secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// RateLimitConfig ограничение запросов к эндпоинтам авторизации
type RateLimitConfig struct {
	Window   time.Duration `yaml:"window"`
	Requests int           `yaml:"requests"`
}

// ServerConfig is the record store server configuration.
type ServerConfig struct {
	Addr             string          `yaml:"addr"`
	DBPath           string          `yaml:"db_path"`
	JWT              JWTConfig       `yaml:"jwt"`
	Log              LogConfig       `yaml:"log"`
	AuthRateLimit    RateLimitConfig `yaml:"auth_rate_limit"`
	PresenceInterval time.Duration   `yaml:"presence_interval"`
	ShutdownTimeout  time.Duration   `yaml:"shutdown_timeout"`
}

// DefaultClient returns the client configuration used when no file is given.
func DefaultClient() ClientConfig {
	oc := outbox.DefaultConfig()
	return ClientConfig{
		ServerURL: "http://localhost:8080",
		DBPath:    "farmkeeper-client.db",
		Log: LogConfig{
			File:       "farmkeeper.log",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Outbox: OutboxConfig{
			GracePeriod:          oc.GracePeriod,
			MaxAttempts:          oc.MaxAttempts,
			BackoffBase:          oc.BackoffBase,
			BackoffMax:           oc.BackoffMax,
			BackoffJitterPercent: oc.BackoffJitterPercent,
			SubmitTimeout:        oc.SubmitTimeout,
			Concurrency:          oc.Concurrency,
		},
		Connectivity: ConnectivityConfig{
			ReconnectInterval: 5 * time.Second,
		},
	}
}

// DefaultServer returns the server configuration used when no file is given.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Addr:   ":8080",
		DBPath: "farmkeeper.db",
		JWT: JWTConfig{
			AccessTokenTTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
		AuthRateLimit: RateLimitConfig{
			Requests: 20,
			Window:   time.Minute,
		},
		PresenceInterval: 15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// LoadClient reads a client configuration file on top of DefaultClient.
// Отсутствующий файл не является ошибкой.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClient()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadServer reads a server configuration file on top of DefaultServer.
func LoadServer(path string) (ServerConfig, error) {
	cfg := DefaultServer()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func load(path string, dst any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks the client configuration.
func (c ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("server_url must start with http:// or https://")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Outbox.BackoffJitterPercent > 100 {
		return fmt.Errorf("outbox.backoff_jitter_percent must be at most 100")
	}
	if c.Outbox.MaxAttempts < 0 || c.Outbox.Concurrency < 0 {
		return fmt.Errorf("outbox.max_attempts and outbox.concurrency must not be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Validate checks the server configuration.
func (c ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.JWT.AccessTokenTTL <= 0 {
		return fmt.Errorf("jwt.access_token_ttl must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// OutboxConfig converts the file settings into reconciler settings.
// Нулевые значения заменяются значениями по умолчанию в самом outbox.
func (c ClientConfig) OutboxConfig() outbox.Config {
	return outbox.Config{
		GracePeriod:          c.Outbox.GracePeriod,
		MaxAttempts:          c.Outbox.MaxAttempts,
		BackoffBase:          c.Outbox.BackoffBase,
		BackoffMax:           c.Outbox.BackoffMax,
		BackoffJitterPercent: c.Outbox.BackoffJitterPercent,
		SubmitTimeout:        c.Outbox.SubmitTimeout,
		Concurrency:          c.Outbox.Concurrency,
	}
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}
