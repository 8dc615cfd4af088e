package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lucid-vigil/ransomguard/pkg/api"
	"github.com/lucid-vigil/ransomguard/pkg/config"
	"github.com/lucid-vigil/ransomguard/pkg/engine"
	deterrors "github.com/lucid-vigil/ransomguard/pkg/errors"
	"github.com/lucid-vigil/ransomguard/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := config.NewFlagSet("ransomguard")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ransomguard [flags] [interval [count]]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	// Load configuration first
	cfg, err := config.LoadConfig(fs)
	if err != nil {
		logger.InitLogger("info", "json")
		failStartup(deterrors.NewConfigError("config", err, nil))
		return 1
	}

	// Initialize logger based on config
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info().Msg("Ransomguard starting...")
	log.Info().Msgf("Configuration loaded: LogLevel=%s, Source=%s, Interval=%s, Threshold=%d, Enforce=%t",
		cfg.LogLevel, cfg.Source.Type, cfg.Detector.Interval, cfg.Detector.Threshold, cfg.Actions.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng, err := engine.New(cfg, log.Logger, engine.WithRegistry(reg))
	if err != nil {
		failStartup(err)
		return 1
	}

	var wg sync.WaitGroup
	if cfg.APIPort != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.StartAPIServer(ctx, cfg.APIPort, api.NewRouter(eng, reg)); err != nil {
				log.Error().Err(err).Msg("API server failed")
			}
		}()
	}

	runErr := eng.Run(ctx)
	stop() // Stops the API server when the run ended on its own
	wg.Wait()

	if runErr != nil {
		log.Error().Err(runErr).Msg("Ransomguard stopped with an error")
		return 1
	}
	log.Info().Msg("Ransomguard stopped.")
	return 0
}

// failStartup logs a startup failure through the error handler.
func failStartup(err error) {
	var de *deterrors.DetectorError
	if !errors.As(err, &de) {
		de = deterrors.NewConfigError("main", err, nil)
	}
	deterrors.NewErrorHandler(log.Logger, nil).HandleError(context.Background(), de)
}
