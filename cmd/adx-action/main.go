// Command adx-action runs one sync configured entirely from the environment,
// as used by scheduled CI jobs that publish public/data.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"adxsync/internal/app"
	"adxsync/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Logger().WithError(err).Warn("Error loading .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := app.RunEnvJob(ctx, os.Stdout)
	stop()
	os.Exit(code)
}
