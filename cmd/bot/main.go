// cmd/bot/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/bot"
	"github.com/rovshanmuradov/solana-copybot/internal/config"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/logger"
)

const (
	configPath = "configs/config.json"
	envFile    = ".env"
)

func main() {
	cfg, err := config.LoadConfig(configPath, envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "💥 Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "💥 Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("Starting copy-trade bot")

	runner := bot.NewRunner(cfg, log.Named("bot"))
	if err := runner.Run(context.Background()); err != nil {
		log.Error("Bot stopped with error", zap.Error(err))
		_ = log.Close()
		os.Exit(1)
	}
}
