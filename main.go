package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/candree7-rgb/Systemic.Systems/config"
	"github.com/candree7-rgb/Systemic.Systems/destinations"
	"github.com/candree7-rgb/Systemic.Systems/destinations/bybit"
	"github.com/candree7-rgb/Systemic.Systems/destinations/threecommas"
	"github.com/candree7-rgb/Systemic.Systems/discord"
	"github.com/candree7-rgb/Systemic.Systems/dispatch"
	"github.com/candree7-rgb/Systemic.Systems/poller"
	"github.com/candree7-rgb/Systemic.Systems/state"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var dests []destinations.Destination
	if cfg.Bybit.Enabled() {
		dests = append(dests, bybit.New(cfg.Bybit, cfg.Trade, logger.Named("bybit")))
	}
	if cfg.ThreeCommas.Enabled() {
		dests = append(dests, threecommas.New(cfg.ThreeCommas, cfg.Trade))
	}

	names := make([]string, 0, len(dests))
	for _, d := range dests {
		names = append(names, d.Name())
	}
	logger.Info("starting signal watcher",
		zap.Strings("destinations", names),
		zap.String("quote", cfg.Trade.Quote),
		zap.Float64("entry_trigger_buffer_pct", cfg.Trade.EntryTriggerBufferPct),
		zap.Int("entry_expiration_min", cfg.Trade.EntryExpirationMin),
		zap.Bool("dry_run", cfg.DryRun),
	)
	if cfg.DryRun {
		logger.Warn("dry run active, no payload will be delivered")
	}

	client := discord.NewClient(cfg.Discord, logger.Named("discord"))
	store := state.NewStore(cfg.StateFile, logger.Named("state"))
	dispatcher := dispatch.New(dests, cfg.DryRun, logger.Named("dispatch"))
	p := poller.New(cfg.Poll, cfg.Discord.FetchLimit, client, dispatcher, store, logger.Named("poller"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := p.Run(ctx); err != nil {
		logger.Error("poller exited", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sink := zapcore.AddSync(os.Stdout)
	if cfg.File != "" {
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level)
	return zap.New(core), nil
}
