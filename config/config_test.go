package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `{
	"discord": {"token": "Bot abc", "channel_id": "123"},
	"threecommas": {"webhook_url": "https://hook", "secret": "s", "bot_uuid": "b"}
}`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Discord.FetchLimit != 50 {
		t.Errorf("fetch_limit = %d, want 50", cfg.Discord.FetchLimit)
	}
	if cfg.Poll.BaseSeconds != 60 || cfg.Poll.OffsetSeconds != 3 || cfg.Poll.JitterMax != 7 {
		t.Errorf("poll defaults = %+v", cfg.Poll)
	}
	if cfg.Trade.Quote != "USDT" || cfg.Trade.StopLossPct != 19 {
		t.Errorf("trade defaults = %+v", cfg.Trade)
	}
	if cfg.Bybit.Leverage != 5 || cfg.Bybit.RiskUSDT != 10 || !cfg.Bybit.Testnet {
		t.Errorf("bybit defaults = %+v", cfg.Bybit)
	}
	if cfg.ThreeCommas.MaxLagSeconds != 300 || cfg.ThreeCommas.TVExchange != "BINANCE" || cfg.ThreeCommas.InstrumentSuffix != ".P" {
		t.Errorf("threecommas defaults = %+v", cfg.ThreeCommas)
	}
	if cfg.StateFile != "state.json" {
		t.Errorf("state_file = %q, want state.json", cfg.StateFile)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q, want info", cfg.Log.Level)
	}
	if cfg.DryRun {
		t.Error("dry_run must default to false")
	}
}

func TestLoadExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"discord": {"token": "Bot abc", "channel_id": "123", "fetch_limit": 25},
		"poll": {"base_seconds": 30, "cooldown_seconds": 120},
		"trade": {"quote": "USDC", "entry_trigger_buffer_pct": 1.5},
		"bybit": {"api_key": "k", "api_secret": "s", "testnet": false},
		"dry_run": true
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Discord.FetchLimit != 25 {
		t.Errorf("fetch_limit = %d", cfg.Discord.FetchLimit)
	}
	if cfg.Poll.BaseSeconds != 30 || cfg.Poll.CooldownSeconds != 120 {
		t.Errorf("poll = %+v", cfg.Poll)
	}
	if cfg.Trade.Quote != "USDC" || cfg.Trade.EntryTriggerBufferPct != 1.5 {
		t.Errorf("trade = %+v", cfg.Trade)
	}
	if cfg.Bybit.Testnet {
		t.Error("testnet should be disabled explicitly")
	}
	if !cfg.DryRun {
		t.Error("dry_run not honored")
	}
	if !cfg.Bybit.Enabled() || cfg.ThreeCommas.Enabled() {
		t.Errorf("enablement wrong: bybit=%v threecommas=%v", cfg.Bybit.Enabled(), cfg.ThreeCommas.Enabled())
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SYSTEMIC_POLL_BASE_SECONDS", "90")
	t.Setenv("SYSTEMIC_TRADE_QUOTE", "USDC")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Poll.BaseSeconds != 90 {
		t.Errorf("base_seconds = %d, want env override 90", cfg.Poll.BaseSeconds)
	}
	if cfg.Trade.Quote != "USDC" {
		t.Errorf("quote = %q, want env override USDC", cfg.Trade.Quote)
	}
}

func TestLoadBadJSON(t *testing.T) {
	if _, err := Load(writeConfig(t, `{"discord":`)); err == nil {
		t.Fatal("expected error for malformed file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Discord:     Discord{Token: "Bot abc", ChannelID: "123", FetchLimit: 50},
			Poll:        Poll{BaseSeconds: 60},
			Trade:       Trade{Quote: "USDT"},
			ThreeCommas: ThreeCommas{WebhookURL: "https://hook", Secret: "s", BotUUID: "b"},
			StateFile:   "state.json",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing_token", func(c *Config) { c.Discord.Token = "" }, "discord.token"},
		{"missing_channel", func(c *Config) { c.Discord.ChannelID = "" }, "discord.channel_id"},
		{"bad_fetch_limit", func(c *Config) { c.Discord.FetchLimit = 0 }, "fetch_limit"},
		{"bad_poll_period", func(c *Config) { c.Poll.BaseSeconds = 0 }, "base_seconds"},
		{"missing_quote", func(c *Config) { c.Trade.Quote = "" }, "trade.quote"},
		{"no_destination", func(c *Config) { c.ThreeCommas = ThreeCommas{} }, "no destination"},
		{
			"bybit_key_without_secret",
			func(c *Config) { c.Bybit = Bybit{APIKey: "k", Leverage: 5, RiskUSDT: 10} },
			"api_secret",
		},
		{
			"bybit_bad_leverage",
			func(c *Config) { c.Bybit = Bybit{APIKey: "k", APISecret: "s", RiskUSDT: 10} },
			"leverage",
		},
		{
			"threecommas_without_secret",
			func(c *Config) { c.ThreeCommas.Secret = "" },
			"threecommas.secret",
		},
		{"missing_state_file", func(c *Config) { c.StateFile = "" }, "state_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
