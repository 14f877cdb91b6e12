// Package app wires configuration, logging and the sync pipeline into the
// three entry points and maps their outcome to a process exit code.
package app

import (
	"context"
	"errors"
	"io"

	"adxsync/config"
	"adxsync/internal/metrics"
	"adxsync/internal/pipeline"
	"adxsync/internal/server"
	"adxsync/internal/window"
	"adxsync/logger"
	"adxsync/reader"
	"adxsync/writer"
)

// Exit codes returned by the entry points.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// RunConfigJob loads the config file at path, runs one persisting sync with
// logs going to out and to the daily log file, then prunes old log files.
func RunConfigJob(ctx context.Context, path string, out io.Writer) int {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		consoleLogger(out).WithError(err).WithField("config", path).Error("failed to load configuration")
		return ExitFailure
	}

	log, err := logger.New(logger.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Directory: cfg.Storage.LogDirectory,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		Now:       window.Now,
		Output:    out,
	})
	if err != nil {
		consoleLogger(out).WithError(err).Error("failed to configure logger")
		return ExitFailure
	}
	defer log.Close()

	code := runSync(ctx, cfg, log)

	removed := logger.PruneLogs(cfg.Storage.LogDirectory, logger.DefaultFilePrefix, cfg.Logging.RetentionDays, window.Now())
	if len(removed) > 0 {
		log.WithComponent("app").WithFields(logger.Fields{
			"removed":        removed,
			"retention_days": cfg.Logging.RetentionDays,
		}).Info("pruned old log files")
	}
	return code
}

// RunEnvJob runs one persisting sync configured from the environment, logging
// to out only.
func RunEnvJob(ctx context.Context, out io.Writer) int {
	cfg, log, ok := fromEnv(out)
	if !ok {
		return ExitFailure
	}
	return runSync(ctx, cfg, log)
}

// RunServer serves the fetch-only API until ctx is cancelled.
func RunServer(ctx context.Context, out io.Writer) int {
	cfg, log, ok := fromEnv(out)
	if !ok {
		return ExitFailure
	}
	alog := log.WithComponent("app")

	creds, ok := credentials(cfg, log)
	if !ok {
		alog.Error("refusing to start API server without upstream credentials")
		return ExitFailure
	}

	client, err := newClient(cfg, log)
	if err != nil {
		alog.WithError(err).Error("failed to create upstream client")
		return ExitFailure
	}

	p, err := pipeline.New(client, pipeline.Options{
		Mode:        pipeline.ModeFetchOnly,
		Credentials: creds,
		Log:         log,
	})
	if err != nil {
		alog.WithError(err).Error("failed to create pipeline")
		return ExitFailure
	}

	defer startCloudWatch(ctx, cfg, log)()

	srv := server.NewServer(p, server.Options{
		Address:   cfg.Server.Address,
		DataDir:   cfg.Storage.DataDirectory,
		RateLimit: cfg.Server.RateLimit,
		Log:       log,
	})
	if err := srv.Run(ctx); err != nil {
		alog.WithError(err).Error("api server failed")
		return ExitFailure
	}
	return ExitOK
}

func fromEnv(out io.Writer) (*config.Config, *logger.Log, bool) {
	cfg, err := config.FromEnv()
	if err != nil {
		consoleLogger(out).WithError(err).Error("invalid environment configuration")
		return nil, nil, false
	}
	log, err := logger.New(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: out,
	})
	if err != nil {
		consoleLogger(out).WithError(err).Error("failed to configure logger")
		return nil, nil, false
	}
	return cfg, log, true
}

// runSync executes the persisting pipeline. Only a missing credential or a
// failed fetch is fatal; file, metadata and upload problems are logged.
func runSync(ctx context.Context, cfg *config.Config, log *logger.Log) int {
	alog := log.WithComponent("app")

	creds, ok := credentials(cfg, log)
	if !ok {
		return ExitFailure
	}

	client, err := newClient(cfg, log)
	if err != nil {
		alog.WithError(err).Error("failed to create upstream client")
		return ExitFailure
	}

	defer startCloudWatch(ctx, cfg, log)()

	p, err := pipeline.New(client, pipeline.Options{
		Mode:        pipeline.ModePersist,
		Credentials: creds,
		DataDir:     cfg.Storage.DataDirectory,
		Mirror:      newMirror(ctx, cfg, log),
		Log:         log,
	})
	if err != nil {
		alog.WithError(err).Error("failed to create pipeline")
		return ExitFailure
	}

	result, err := p.Run(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoRecords) {
			alog.Error("no data received from API")
		} else {
			alog.WithError(err).Error("data sync failed")
		}
		return ExitFailure
	}

	if result.WriteErr != nil {
		alog.WithError(result.WriteErr).Warn("some snapshot files were not written")
	}
	alog.WithFields(logger.Fields{
		"run_id":        result.RunID,
		"files_updated": result.Files,
		"data_dir":      cfg.Storage.DataDirectory,
	}).Info("data sync completed")
	return ExitOK
}

func credentials(cfg *config.Config, log *logger.Log) (config.Credentials, bool) {
	creds, usedFallback, err := cfg.Credentials()
	if err != nil {
		log.WithComponent("app").WithError(err).Error("API credentials are not configured; set API_USERNAME and API_PASSWORD")
		return config.Credentials{}, false
	}
	if usedFallback {
		log.WithComponent("app").WithField("environment", config.AppEnvironment()).Warn("using fallback API credentials")
	}
	return creds, true
}

func newClient(cfg *config.Config, log *logger.Log) (*reader.Client, error) {
	agent := cfg.App.Name
	if cfg.App.Version != "" {
		agent += "/" + cfg.App.Version
	}
	return reader.NewClient(cfg.API.BaseURL,
		reader.WithTimeout(cfg.API.Timeout),
		reader.WithUserAgent(agent),
		reader.WithLogger(log),
	)
}

// newMirror returns nil when S3 is disabled or cannot be set up; the sync
// still runs against the local directory.
func newMirror(ctx context.Context, cfg *config.Config, log *logger.Log) pipeline.Mirror {
	if !cfg.Storage.S3.Enabled {
		return nil
	}
	m, err := writer.NewS3Mirror(ctx, cfg.Storage.S3, log)
	if err != nil {
		log.WithComponent("app").WithError(err).Warn("S3 mirror disabled")
		return nil
	}
	return m
}

func startCloudWatch(ctx context.Context, cfg *config.Config, log *logger.Log) func() {
	cw := cfg.Metrics.CloudWatch
	if !cw.Enabled {
		return func() {}
	}
	publisher, err := metrics.NewCloudWatch(ctx, cw.Region, cw.Namespace, log)
	if err != nil {
		log.WithComponent("app").WithError(err).Warn("CloudWatch metrics disabled")
		return func() {}
	}
	return publisher.Register()
}

func consoleLogger(out io.Writer) *logger.Log {
	log := logger.Logger()
	if out != nil {
		log.SetOutput(out)
	}
	return log
}
