package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/serverpop/internal/archive"
	"codeberg.org/mutker/serverpop/internal/collector"
	"codeberg.org/mutker/serverpop/internal/config"
	"codeberg.org/mutker/serverpop/internal/cyclemetrics"
	"codeberg.org/mutker/serverpop/internal/errors"
	"codeberg.org/mutker/serverpop/internal/influx"
	"codeberg.org/mutker/serverpop/internal/logger"
	"codeberg.org/mutker/serverpop/internal/pid"
	"codeberg.org/mutker/serverpop/internal/population"
	"codeberg.org/mutker/serverpop/internal/steam"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	logger.Debug().Str("config_file", cfg.ConfigFile).Msg("Config loaded")

	if cfg.Lock {
		pidPath := pid.DefaultPath()
		if err := pid.Write(pidPath); err != nil {
			logger.Error().Err(err).Str("path", pidPath).Msg(lockFailureMessage(err))
			return 1
		}
		defer func() {
			if err := pid.Remove(pidPath); err != nil {
				logger.Warn().Err(err).Msg("Failed to remove PID file")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	var metrics *cyclemetrics.Recorder
	if cfg.Metrics.Textfile != "" {
		metrics = cyclemetrics.New()
	}

	c, closeFn, err := build(cfg, metrics)
	if err != nil {
		logger.ErrorWithCode(errors.New().Wrap(errors.ErrInitApp, err)).Msg("Failed to initialize collector")
		return 1
	}
	defer closeFn()

	_, err = c.Run(ctx)

	if metrics != nil {
		if werr := metrics.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			logger.Error().Err(werr).Str("path", cfg.Metrics.Textfile).Msg("Failed to write metrics textfile")
		}
	}

	if err != nil {
		logger.Error().Err(err).Msg("Collection cycle failed")
		return 1
	}
	return 0
}

// lockFailureMessage tells a lock held by a live cycle apart from a PID file
// that could not be written.
func lockFailureMessage(err error) string {
	if errors.HasCode(err, errors.ErrAlreadyRunning) {
		return "Another collection cycle is still running"
	}
	return "Failed to write PID file"
}

// build wires the collector from cfg. metrics may be nil. The returned
// function releases the archive database.
func build(cfg *config.Config, metrics *cyclemetrics.Recorder) (*collector.Collector, func(), error) {
	apiKey, err := steam.LoadAPIKey(cfg.Steam.KeyFile)
	if err != nil {
		return nil, nil, err
	}

	var writer collector.Writer
	if cfg.DryRun {
		logger.Info().Msg("Dry run, measurements will not be written")
	} else {
		creds, err := influx.LoadCredentials(cfg.Influx.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		sink, err := influx.NewSink(creds, influx.Options{
			Measurement:     cfg.Influx.Measurement,
			BatchSize:       cfg.Influx.BatchSize,
			FlushInterval:   cfg.Influx.FlushInterval,
			JitterInterval:  cfg.Influx.JitterInterval,
			RetryInterval:   cfg.Influx.RetryInterval,
			MaxRetries:      cfg.Influx.MaxRetries,
			MaxRetryDelay:   cfg.Influx.MaxRetryDelay,
			ExponentialBase: cfg.Influx.ExponentialBase,
		}, influx.WithLogger(logger.Default().With("component", "influx")))
		if err != nil {
			return nil, nil, err
		}
		writer = sink
	}

	client, err := steam.NewClient(steam.Config{
		Endpoint: cfg.Steam.Endpoint,
		APIKey:   apiKey,
		Limit:    cfg.Steam.Limit,
		Timeout:  cfg.Steam.Timeout,
	}, steam.WithLogger(logger.Default().With("component", "steam")))
	if err != nil {
		return nil, nil, err
	}

	archiver, err := archive.NewService(archive.Config{
		Enabled: cfg.Archive.Enabled,
		DBPath:  cfg.Archive.DBPath,
	}, logger.Default().With("component", "archive"))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := archiver.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close archive")
		}
	}

	c, err := collector.New(
		client,
		steam.DefaultQueries(cfg.Steam.AppID, cfg.Steam.Maps),
		population.NewAggregator(population.MustDefaultRegionTable()),
		writer,
		collector.WithArchiver(archiver),
		collector.WithLogger(logger.Default()),
		collector.WithMetrics(metrics),
	)
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	return c, closeFn, nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
