// ==========================
// File: cmd/bot/main.go
// ==========================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/bot"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/config"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (env vars override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.DebugLogging)
	defer logger.Sync(log)

	runner := bot.New(cfg, log)
	if err := runner.Run(context.Background()); err != nil {
		log.Fatal("Engine terminated", zap.Error(err))
	}
}
