package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"taowatcher/internal/logging"
	"taowatcher/internal/storage"
)

// Config materialises application bootstrap configuration. Runtime
// settings (alert thresholds, poll period, notification flag) live in
// the persisted settings document, not here.
type Config struct {
	App       AppConfig             `mapstructure:"app"`
	Logging   logging.Config        `mapstructure:"logging"`
	Server    ServerConfig          `mapstructure:"server"`
	Data      DataConfig            `mapstructure:"data"`
	Database  storage.ArchiveConfig `mapstructure:"database"`
	Taostats  TaostatsConfig        `mapstructure:"taostats"`
	Coingecko CoingeckoConfig       `mapstructure:"coingecko"`
	Monitor   MonitorConfig         `mapstructure:"monitor"`
	Alerting  AlertingConfig        `mapstructure:"alerting"`
	Export    ExportConfig          `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig covers the HTTP/WS listener.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DataConfig locates the persisted JSON documents.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// TaostatsConfig covers Taostats API access.
type TaostatsConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	HistoryTimeout   time.Duration `mapstructure:"history_timeout"`
	HistoryPageLimit int           `mapstructure:"history_page_limit"`
}

// CoingeckoConfig covers the TAO/USD rate source.
type CoingeckoConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MonitorConfig governs the refresh cadences.
type MonitorConfig struct {
	USDRefreshInterval   time.Duration `mapstructure:"usd_refresh_interval"`
	CacheRefreshInterval time.Duration `mapstructure:"cache_refresh_interval"`
	RetentionHours       int           `mapstructure:"retention_hours"`
	StartupDelay         time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Desktop  bool           `mapstructure:"desktop"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TAOWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "taowatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.listen_addr", ":8888")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("data.dir", "data")

	v.SetDefault("taostats.base_url", "https://api.taostats.io")
	v.SetDefault("taostats.request_timeout", "15s")
	v.SetDefault("taostats.history_timeout", "30s")
	v.SetDefault("taostats.history_page_limit", 200)

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com")
	v.SetDefault("coingecko.request_timeout", "10s")

	v.SetDefault("monitor.usd_refresh_interval", "5m")
	v.SetDefault("monitor.cache_refresh_interval", "6h")
	v.SetDefault("monitor.retention_hours", 168)
	v.SetDefault("monitor.startup_delay", "0s")

	v.SetDefault("alerting.desktop", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Monitor.USDRefreshInterval <= 0 {
		return fmt.Errorf("monitor.usd_refresh_interval must be greater than zero")
	}
	if c.Monitor.CacheRefreshInterval <= 0 {
		return fmt.Errorf("monitor.cache_refresh_interval must be greater than zero")
	}
	if c.Monitor.RetentionHours <= 0 {
		return fmt.Errorf("monitor.retention_hours must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
