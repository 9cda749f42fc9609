// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/tathienbao/signal-trader/internal/alerting"
	"github.com/tathienbao/signal-trader/internal/broker/paper"
	"github.com/tathienbao/signal-trader/internal/broker/rest"
	"github.com/tathienbao/signal-trader/internal/engine"
	"github.com/tathienbao/signal-trader/internal/metrics"
	"github.com/tathienbao/signal-trader/internal/monitor"
	"github.com/tathienbao/signal-trader/internal/persistence"
	"github.com/tathienbao/signal-trader/internal/risk"
	"github.com/tathienbao/signal-trader/internal/source"
	"github.com/tathienbao/signal-trader/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Discord     DiscordConfig     `yaml:"discord"`
	Redis       RedisConfig       `yaml:"redis"`
	Broker      BrokerConfig      `yaml:"broker"`
	Risk        RiskConfig        `yaml:"risk"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
}

// DiscordConfig holds the Discord listener and message filter settings.
// The channel and user filters also apply to the Redis source.
type DiscordConfig struct {
	GatewayURL   string   `yaml:"gateway_url"`
	Token        string   `yaml:"token"` // listener disabled when empty
	ChannelIDs   []string `yaml:"channel_ids"`
	TrackedUsers []string `yaml:"tracked_users"`
}

// RedisConfig holds the relayed-message pub/sub settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// BrokerConfig holds brokerage settings.
type BrokerConfig struct {
	Type               string `yaml:"type"` // rest | paper
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	AccountID          string `yaml:"account_id"`
	Mode               string `yaml:"mode"` // paper | live
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
	RequestTimeoutSec  int    `yaml:"request_timeout_sec"`
	PaperFillDelayMs   int    `yaml:"paper_fill_delay_ms"`
}

// RiskConfig holds pre-trade check settings.
type RiskConfig struct {
	MaxPositionValue float64 `yaml:"max_position_value"`
	RejectUnpriced   *bool   `yaml:"reject_unpriced"` // default true
}

// ExecutionConfig holds order placement and monitoring settings.
type ExecutionConfig struct {
	DryRun               bool    `yaml:"dry_run"`
	TIF                  string  `yaml:"tif"`       // DAY | GTC
	BuyMode              string  `yaml:"buy_mode"`  // LIMIT | MARKET
	SellMode             string  `yaml:"sell_mode"` // LIMIT | MARKET
	BuyTimeoutSec        int     `yaml:"buy_timeout_sec"`
	SellTimeoutSec       int     `yaml:"sell_timeout_sec"`
	BuyLimitSlippagePct  float64 `yaml:"buy_limit_slippage_pct"`
	SellLimitSlippagePct float64 `yaml:"sell_limit_slippage_pct"`
	PollIntervalMs       int     `yaml:"poll_interval_ms"`
}

// PersistenceConfig holds ledger storage settings.
type PersistenceConfig struct {
	Type             string `yaml:"type"` // json | sqlite | postgres
	Path             string `yaml:"path"` // for json and sqlite
	DSN              string `yaml:"dsn"`  // for postgres
	FlushIntervalSec int    `yaml:"flush_interval_sec"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// Load reads .env (if present) into the environment, then loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate applies defaults and validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Sources
	if c.Discord.Token == "" && !c.Redis.Enabled {
		errs = append(errs, "either discord.token or redis.enabled is required")
	}
	if len(c.Discord.ChannelIDs) == 0 {
		errs = append(errs, "discord.channel_ids must not be empty")
	}
	if len(c.Discord.TrackedUsers) == 0 {
		errs = append(errs, "discord.tracked_users must not be empty")
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			c.Redis.Addr = "localhost:6379"
		}
		if c.Redis.Channel == "" {
			c.Redis.Channel = "signals"
		}
	}

	// Broker
	if c.Broker.Type == "" {
		c.Broker.Type = "paper"
	}
	switch c.Broker.Type {
	case "paper":
	case "rest":
		if c.Broker.APIKey == "" {
			errs = append(errs, "broker.api_key is required for rest")
		}
		if c.Broker.AccountID == "" {
			errs = append(errs, "broker.account_id is required for rest")
		}
	default:
		errs = append(errs, "broker.type must be 'rest' or 'paper'")
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = "paper"
	}
	if c.Broker.Mode != "paper" && c.Broker.Mode != "live" {
		errs = append(errs, "broker.mode must be 'paper' or 'live'")
	}
	if c.Broker.RateLimitPerSecond <= 0 {
		c.Broker.RateLimitPerSecond = 5 // default
	}
	if c.Broker.RequestTimeoutSec <= 0 {
		c.Broker.RequestTimeoutSec = 10 // default
	}
	if c.Broker.PaperFillDelayMs <= 0 {
		c.Broker.PaperFillDelayMs = 50 // default
	}

	// Risk
	if c.Risk.MaxPositionValue <= 0 {
		errs = append(errs, "risk.max_position_value must be positive")
	}
	if c.Risk.RejectUnpriced == nil {
		reject := true
		c.Risk.RejectUnpriced = &reject
	}

	// Execution
	c.Execution.TIF = strings.ToUpper(c.Execution.TIF)
	if c.Execution.TIF == "" {
		c.Execution.TIF = "DAY"
	}
	for _, m := range []*string{&c.Execution.BuyMode, &c.Execution.SellMode} {
		*m = strings.ToUpper(*m)
		if *m == "" {
			*m = "LIMIT"
		}
	}
	if !slices.Contains([]string{"LIMIT", "MARKET"}, c.Execution.BuyMode) {
		errs = append(errs, "execution.buy_mode must be 'LIMIT' or 'MARKET'")
	}
	if !slices.Contains([]string{"LIMIT", "MARKET"}, c.Execution.SellMode) {
		errs = append(errs, "execution.sell_mode must be 'LIMIT' or 'MARKET'")
	}
	if c.Execution.BuyTimeoutSec <= 0 {
		c.Execution.BuyTimeoutSec = 30 // default
	}
	if c.Execution.SellTimeoutSec <= 0 {
		c.Execution.SellTimeoutSec = 30 // default
	}
	if c.Execution.BuyLimitSlippagePct < 0 || c.Execution.BuyLimitSlippagePct >= 1 {
		errs = append(errs, "execution.buy_limit_slippage_pct must be between 0 and 1")
	}
	if c.Execution.SellLimitSlippagePct < 0 || c.Execution.SellLimitSlippagePct >= 1 {
		errs = append(errs, "execution.sell_limit_slippage_pct must be between 0 and 1")
	}
	if c.Execution.PollIntervalMs <= 0 {
		c.Execution.PollIntervalMs = 800 // default
	}

	// Persistence
	if c.Persistence.Type == "" {
		c.Persistence.Type = "json"
	}
	switch c.Persistence.Type {
	case "json":
		if c.Persistence.Path == "" {
			c.Persistence.Path = "state.json"
		}
	case "sqlite":
		if c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required for sqlite")
		}
	case "postgres":
		if c.Persistence.DSN == "" {
			errs = append(errs, "persistence.dsn is required for postgres")
		}
	default:
		errs = append(errs, "persistence.type must be 'json', 'sqlite' or 'postgres'")
	}
	if c.Persistence.FlushIntervalSec <= 0 {
		c.Persistence.FlushIntervalSec = 60 // default
	}

	// Alerting
	if c.Alerting.Enabled {
		for i, ch := range c.Alerting.Channels {
			switch ch.Type {
			case "console":
			case "telegram":
				if ch.BotToken == "" || ch.ChatID == "" {
					errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
				}
			default:
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: unsupported type '%s'", i, ch.Type))
			}
		}
	}

	// Metrics
	if c.Metrics.Port <= 0 {
		c.Metrics.Port = 9090 // default
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 30 // default
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

func orderType(mode string) types.OrderType {
	if mode == "MARKET" {
		return types.OrderTypeMarket
	}
	return types.OrderTypeLimit
}

// ToRiskConfig converts to risk.Config.
func (c *Config) ToRiskConfig() risk.Config {
	return risk.Config{
		MaxPositionValue: decimal.NewFromFloat(c.Risk.MaxPositionValue),
		RejectUnpriced:   c.Risk.RejectUnpriced == nil || *c.Risk.RejectUnpriced,
	}
}

// ToEngineConfig converts to engine.Config.
func (c *Config) ToEngineConfig() engine.Config {
	return engine.Config{
		DryRun:          c.Execution.DryRun,
		TIF:             types.ParseTimeInForce(c.Execution.TIF),
		BuyMode:         orderType(c.Execution.BuyMode),
		SellMode:        orderType(c.Execution.SellMode),
		BuySlippagePct:  decimal.NewFromFloat(c.Execution.BuyLimitSlippagePct),
		SellSlippagePct: decimal.NewFromFloat(c.Execution.SellLimitSlippagePct),
		ResyncInterval:  c.FlushInterval(),
	}
}

// ToMonitorConfig converts to monitor.Config.
func (c *Config) ToMonitorConfig() monitor.Config {
	return monitor.Config{
		PollInterval: time.Duration(c.Execution.PollIntervalMs) * time.Millisecond,
		BuyTimeout:   time.Duration(c.Execution.BuyTimeoutSec) * time.Second,
		SellTimeout:  time.Duration(c.Execution.SellTimeoutSec) * time.Second,
		TIF:          types.ParseTimeInForce(c.Execution.TIF),
	}
}

// ToRESTConfig converts to rest.Config.
func (c *Config) ToRESTConfig() rest.Config {
	cfg := rest.DefaultConfig()
	if c.Broker.BaseURL != "" {
		cfg.BaseURL = c.Broker.BaseURL
	}
	cfg.APIKey = c.Broker.APIKey
	cfg.AccountID = c.Broker.AccountID
	cfg.RequestTimeout = time.Duration(c.Broker.RequestTimeoutSec) * time.Second
	cfg.RateLimitPerSecond = c.Broker.RateLimitPerSecond
	cfg.Live = c.Broker.Mode == "live"
	return cfg
}

// ToPaperConfig converts to paper.Config.
func (c *Config) ToPaperConfig() paper.Config {
	cfg := paper.DefaultConfig()
	cfg.FillDelay = time.Duration(c.Broker.PaperFillDelayMs) * time.Millisecond
	return cfg
}

// ToPersistenceConfig converts to persistence.Config.
func (c *Config) ToPersistenceConfig() persistence.Config {
	return persistence.Config{
		Type: c.Persistence.Type,
		Path: c.Persistence.Path,
		DSN:  c.Persistence.DSN,
	}
}

// ToDiscordConfig converts to source.DiscordConfig.
func (c *Config) ToDiscordConfig() source.DiscordConfig {
	return source.DiscordConfig{
		GatewayURL: c.Discord.GatewayURL,
		Token:      c.Discord.Token,
	}
}

// ToRedisConfig converts to source.RedisConfig.
func (c *Config) ToRedisConfig() source.RedisConfig {
	return source.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Channel:  c.Redis.Channel,
	}
}

// Filter returns the channel/author message filter.
func (c *Config) Filter() source.Filter {
	return source.NewFilter(c.Discord.ChannelIDs, c.Discord.TrackedUsers)
}

// ToServerConfig converts to metrics.ServerConfig.
func (c *Config) ToServerConfig() metrics.ServerConfig {
	cfg := metrics.DefaultServerConfig()
	cfg.Port = c.Metrics.Port
	cfg.MetricsPath = c.Metrics.Path
	return cfg
}

// TelegramConfigs returns the configured Telegram channels.
func (c *Config) TelegramConfigs() []alerting.TelegramConfig {
	var out []alerting.TelegramConfig
	for _, ch := range c.Alerting.Channels {
		if ch.Type == "telegram" {
			out = append(out, alerting.TelegramConfig{BotToken: ch.BotToken, ChatID: ch.ChatID})
		}
	}
	return out
}

// FlushInterval returns the ledger flush and holdings resync interval.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Persistence.FlushIntervalSec) * time.Second
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
