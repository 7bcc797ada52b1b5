// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

// TelegramConfig holds Telegram bot configuration.
type TelegramConfig struct {
	Token          string  `mapstructure:"token"`
	Debug          bool    `mapstructure:"debug"`
	AlertChannelID string  `mapstructure:"alert_channel_id"` // @username or numeric id
	AdminIDs       []int64 `mapstructure:"admin_ids"`        // users allowed to run bot commands
	BufferSize     int     `mapstructure:"buffer_size"`      // messages kept per chat
}

// MonitorConfig holds the polling loop settings.
type MonitorConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Window        time.Duration `mapstructure:"window"`
	PageSize      int           `mapstructure:"page_size"`
	CacheSize     int           `mapstructure:"cache_size"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	ExcludedChats []string      `mapstructure:"excluded_chats"` // ids or names never scanned
}

// NotifierConfig holds alert delivery settings.
type NotifierConfig struct {
	RatePerMinute int `mapstructure:"rate_per_minute"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AuthConfig holds admin panel credentials.
type AuthConfig struct {
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"` // plain text or bcrypt hash
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from a .env file, the config file and
// environment variables, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("database.path", "./data/tgator.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.alert_channel_id", "")
	v.SetDefault("telegram.admin_ids", []int64{})
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.buffer_size", 200)
	v.SetDefault("monitor.interval", 15*time.Second)
	v.SetDefault("monitor.window", 5*time.Minute)
	v.SetDefault("monitor.page_size", 20)
	v.SetDefault("monitor.cache_size", 1000)
	v.SetDefault("monitor.startup_delay", 2*time.Second)
	v.SetDefault("monitor.excluded_chats", []string{})
	v.SetDefault("notifier.rate_per_minute", 20)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "admin")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("TGATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if all required configuration fields are set.
// A missing bot token is not an error: the monitor keeps retrying until
// the operator provides one.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	if c.Monitor.Interval < time.Second {
		return fmt.Errorf("monitor interval must be at least 1s, got %s", c.Monitor.Interval)
	}
	if c.Monitor.Window <= 0 {
		return fmt.Errorf("monitor window must be positive, got %s", c.Monitor.Window)
	}
	if c.Monitor.PageSize <= 0 || c.Monitor.PageSize > 100 {
		return fmt.Errorf("monitor page_size must be between 1 and 100, got %d", c.Monitor.PageSize)
	}
	if c.Monitor.CacheSize <= 0 {
		return fmt.Errorf("monitor cache_size must be positive, got %d", c.Monitor.CacheSize)
	}
	if c.Notifier.RatePerMinute <= 0 {
		return fmt.Errorf("notifier rate_per_minute must be positive, got %d", c.Notifier.RatePerMinute)
	}
	return nil
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
