package config

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/viper"
)

// Config is the full application configuration, loaded once at startup and
// passed to every component that needs it.
type Config struct {
	Discord     Discord     `mapstructure:"discord"`
	Poll        Poll        `mapstructure:"poll"`
	Trade       Trade       `mapstructure:"trade"`
	Bybit       Bybit       `mapstructure:"bybit"`
	ThreeCommas ThreeCommas `mapstructure:"threecommas"`
	StateFile   string      `mapstructure:"state_file"`
	DryRun      bool        `mapstructure:"dry_run"`
	Log         Log         `mapstructure:"log"`
}

type Discord struct {
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
	// BaseURL is overridable for tests; empty means the public API.
	BaseURL    string  `mapstructure:"base_url"`
	FetchLimit int     `mapstructure:"fetch_limit"`
	RequestsPS float64 `mapstructure:"requests_per_second"`
}

type Poll struct {
	BaseSeconds     int `mapstructure:"base_seconds"`
	OffsetSeconds   int `mapstructure:"offset_seconds"`
	JitterMax       int `mapstructure:"jitter_max_seconds"`
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
	RecoverySeconds int `mapstructure:"recovery_seconds"`
}

func (p Poll) Base() time.Duration     { return time.Duration(p.BaseSeconds) * time.Second }
func (p Poll) Offset() time.Duration   { return time.Duration(p.OffsetSeconds) * time.Second }
func (p Poll) Cooldown() time.Duration { return time.Duration(p.CooldownSeconds) * time.Second }
func (p Poll) Recovery() time.Duration { return time.Duration(p.RecoverySeconds) * time.Second }

// Trade holds destination-independent order shaping parameters.
type Trade struct {
	Quote                   string  `mapstructure:"quote"`
	EntryTriggerBufferPct   float64 `mapstructure:"entry_trigger_buffer_pct"`
	EntryExpirationMin      int     `mapstructure:"entry_expiration_min"`
	EntryExpirationPricePct float64 `mapstructure:"entry_expiration_price_pct"`
	StopLossPct             float64 `mapstructure:"stop_loss_pct"`
}

type Bybit struct {
	APIKey    string  `mapstructure:"api_key"`
	APISecret string  `mapstructure:"api_secret"`
	Testnet   bool    `mapstructure:"testnet"`
	Leverage  float64 `mapstructure:"leverage"`
	RiskUSDT  float64 `mapstructure:"risk_usdt"`
}

// Enabled reports whether the Bybit destination is configured at all.
func (b Bybit) Enabled() bool { return b.APIKey != "" || b.APISecret != "" }

type ThreeCommas struct {
	WebhookURL       string `mapstructure:"webhook_url"`
	Secret           string `mapstructure:"secret"`
	BotUUID          string `mapstructure:"bot_uuid"`
	MaxLagSeconds    int    `mapstructure:"max_lag_seconds"`
	TVExchange       string `mapstructure:"tv_exchange"`
	InstrumentSuffix string `mapstructure:"instrument_suffix"`
}

// Enabled reports whether the 3Commas destination is configured at all.
func (t ThreeCommas) Enabled() bool { return t.WebhookURL != "" }

type Log struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads config.json (or the file at path) and SYSTEMIC_* environment
// overrides, applies defaults and validates. A validation failure is fatal
// to the caller: the poll loop must never start on a partial configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("systemic")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// The config file is optional; environment variables alone can
		// carry a complete configuration.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discord.fetch_limit", 50)
	v.SetDefault("discord.requests_per_second", 1.0)

	v.SetDefault("poll.base_seconds", 60)
	v.SetDefault("poll.offset_seconds", 3)
	v.SetDefault("poll.jitter_max_seconds", 7)
	v.SetDefault("poll.cooldown_seconds", 0)
	v.SetDefault("poll.recovery_seconds", 10)

	v.SetDefault("trade.quote", "USDT")
	v.SetDefault("trade.entry_trigger_buffer_pct", 0.0)
	v.SetDefault("trade.entry_expiration_min", 180)
	v.SetDefault("trade.entry_expiration_price_pct", 0.0)
	v.SetDefault("trade.stop_loss_pct", 19.0)

	v.SetDefault("bybit.testnet", true)
	v.SetDefault("bybit.leverage", 5.0)
	v.SetDefault("bybit.risk_usdt", 10.0)

	v.SetDefault("threecommas.max_lag_seconds", 300)
	v.SetDefault("threecommas.tv_exchange", "BINANCE")
	v.SetDefault("threecommas.instrument_suffix", ".P")

	v.SetDefault("state_file", "state.json")
	v.SetDefault("dry_run", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
}

// Validate checks that everything required to enter the poll loop is present.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return errors.New("discord.token is required")
	}
	if c.Discord.ChannelID == "" {
		return errors.New("discord.channel_id is required")
	}
	if c.Discord.FetchLimit < 1 {
		return errors.New("discord.fetch_limit must be >= 1")
	}
	if c.Poll.BaseSeconds < 1 {
		return errors.New("poll.base_seconds must be >= 1")
	}
	if c.Trade.Quote == "" {
		return errors.New("trade.quote is required")
	}
	if !c.Bybit.Enabled() && !c.ThreeCommas.Enabled() {
		return errors.New("no destination configured: set bybit or threecommas credentials")
	}
	if c.Bybit.Enabled() {
		if c.Bybit.APIKey == "" || c.Bybit.APISecret == "" {
			return errors.New("bybit.api_key and bybit.api_secret must both be set")
		}
		if c.Bybit.Leverage <= 0 {
			return errors.New("bybit.leverage must be > 0")
		}
		if c.Bybit.RiskUSDT <= 0 {
			return errors.New("bybit.risk_usdt must be > 0")
		}
	}
	if c.ThreeCommas.Enabled() {
		if c.ThreeCommas.Secret == "" || c.ThreeCommas.BotUUID == "" {
			return errors.New("threecommas.secret and threecommas.bot_uuid must both be set")
		}
	}
	if c.StateFile == "" {
		return errors.New("state_file is required")
	}
	return nil
}
