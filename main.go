package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"adxsync/internal/app"
	"adxsync/logger"
)

func main() {
	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Logger().WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config.json", "Path to configuration file (JSON or YAML)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := app.RunConfigJob(ctx, *configPath, os.Stdout)
	stop()
	os.Exit(code)
}
