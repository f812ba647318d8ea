// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Connections
	RPCURL         string `mapstructure:"rpc_url"`
	PostgresURL    string `mapstructure:"postgres_url"`
	JupiterBaseURL string `mapstructure:"jupiter_base_url"`
	RiskBaseURL    string `mapstructure:"risk_base_url"`
	PrivateKey     string `mapstructure:"private_key"`

	// Notifications
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`

	// Trading parameters
	TradeSizeUSD      float64 `mapstructure:"trade_size_usd"`
	TrailingStopPct   float64 `mapstructure:"trailing_stop_pct"`
	MaxPriceImpactPct float64 `mapstructure:"max_price_impact_pct"`
	SlippageBps       int     `mapstructure:"slippage_bps"`
	ConfirmTicks      int     `mapstructure:"confirm_ticks"`
	TimeoutLossPct    float64 `mapstructure:"timeout_loss_pct"`
	SellRetries       int     `mapstructure:"sell_retries"`
	MaxCloseFailures  int     `mapstructure:"max_close_failures"`

	// Timing
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	MaxHoldTime     time.Duration `mapstructure:"max_hold_time"`
	SafetyRecheck   time.Duration `mapstructure:"safety_recheck"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	SignalMaxAge    time.Duration `mapstructure:"signal_max_age"`
	ResumeMaxAge    time.Duration `mapstructure:"resume_max_age"`
	ErrorCooldown   time.Duration `mapstructure:"error_cooldown"`

	DebugLogging bool `mapstructure:"debug_logging"`
}

const (
	DefaultTradeSizeUSD      = 100.0
	DefaultTrailingStopPct   = 0.15
	DefaultMaxPriceImpactPct = 2.5
	DefaultConfirmTicks      = 3
	DefaultTimeoutLossPct    = -5.0
)

// Load reads configuration from an optional YAML file and the environment.
// Environment variables use the SNIPER_ prefix and override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := map[string]interface{}{
		"jupiter_base_url":     "https://quote-api.jup.ag/v6",
		"risk_base_url":        "https://api.rugcheck.xyz",
		"trade_size_usd":       DefaultTradeSizeUSD,
		"trailing_stop_pct":    DefaultTrailingStopPct,
		"max_price_impact_pct": DefaultMaxPriceImpactPct,
		"slippage_bps":         100,
		"confirm_ticks":        DefaultConfirmTicks,
		"timeout_loss_pct":     DefaultTimeoutLossPct,
		"sell_retries":         3,
		"max_close_failures":   3,
		"poll_interval":        "10s",
		"monitor_interval":     "15s",
		"grace_period":         "2m",
		"max_hold_time":        "4h",
		"safety_recheck":       "1h",
		"cooldown":             "1h",
		"signal_max_age":       "10m",
		"resume_max_age":       "12h",
		"error_cooldown":       "30s",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SNIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvKeys(v, defaults)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, Validate(&cfg)
}

// bindEnvKeys forces viper to consider env vars for keys that may be absent
// from the config file. AutomaticEnv alone only resolves keys it has seen.
func bindEnvKeys(v *viper.Viper, defaults map[string]interface{}) {
	keys := []string{"rpc_url", "postgres_url", "private_key", "telegram_token", "telegram_chat_id", "debug_logging"}
	for key := range defaults {
		keys = append(keys, key)
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

func Validate(cfg *Config) error {
	if cfg.RPCURL == "" {
		return errors.New("missing rpc_url in configuration")
	}
	if err := validateURL(cfg.RPCURL, "http"); err != nil {
		return errors.New("invalid RPC URL protocol")
	}
	if cfg.PostgresURL == "" {
		return errors.New("missing postgres_url in configuration")
	}
	if cfg.PrivateKey == "" {
		return errors.New("missing private_key in configuration")
	}
	if err := validateURL(cfg.JupiterBaseURL, "http"); err != nil {
		return errors.New("invalid Jupiter base URL")
	}
	if err := validateURL(cfg.RiskBaseURL, "http"); err != nil {
		return errors.New("invalid risk provider base URL")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.TradeSizeUSD <= 0 {
		return errors.New("invalid trade_size_usd")
	}
	if cfg.TrailingStopPct <= 0 || cfg.TrailingStopPct >= 1 {
		return errors.New("invalid trailing_stop_pct")
	}
	if cfg.MaxPriceImpactPct <= 0 {
		return errors.New("invalid max_price_impact_pct")
	}
	if cfg.ConfirmTicks <= 0 {
		return errors.New("invalid confirm_ticks")
	}
	if cfg.SellRetries <= 0 {
		return errors.New("invalid sell_retries")
	}
	if cfg.MaxCloseFailures <= 0 {
		return errors.New("invalid max_close_failures")
	}
	if cfg.PollInterval <= 0 || cfg.MonitorInterval <= 0 {
		return errors.New("invalid poll intervals")
	}
	if cfg.MaxHoldTime <= 0 || cfg.Cooldown <= 0 {
		return errors.New("invalid holding/cooldown durations")
	}
	if cfg.SignalMaxAge <= 0 || cfg.ResumeMaxAge <= 0 {
		return errors.New("invalid freshness windows")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}
