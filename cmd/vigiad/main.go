package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/visiona/vigia/internal/config"
	"github.com/visiona/vigia/internal/core"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	source := flag.String("source", "", "Single-camera mode: stream URI (rtsp://, file://, ...)")
	monitor := flag.Bool("monitor", false, "Single-camera mode: expose the preview endpoint")
	timelapse := flag.Bool("timelapse", false, "Single-camera mode: record a timelapse")
	polygon := flag.String("polygon", "", "Single-camera mode: boundary polygon CSV file")
	detectorScript := flag.String("detector-script", "", "Single-camera mode: detector worker script")
	model := flag.String("model", "", "Single-camera mode: detector model file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded environment from .env")
	}

	cfg, err := loadConfig(*configPath, config.Flags{
		Source:    *source,
		Monitor:   *monitor,
		Timelapse: *timelapse,
		Polygon:   *polygon,
		Script:    *detectorScript,
		Model:     *model,
	})
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		flag.PrintDefaults()
		os.Exit(1)
	}

	slog.Info("starting vigia",
		"instance_id", cfg.InstanceID,
		"cameras", len(cfg.Cameras),
		"debug", *debug,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	vigia, err := core.New(cfg)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- vigia.Run(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case runErr = <-errChan:
		if runErr != nil {
			slog.Error("service error", "error", runErr)
		}
	}

	shutdownTimeout := vigia.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := vigia.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	if runErr != nil {
		os.Exit(1)
	}
	slog.Info("vigia stopped")
}

// loadConfig picks between the config file and single-camera flag mode.
func loadConfig(path string, flags config.Flags) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if flags.Source == "" {
		return nil, fmt.Errorf("either -config or -source is required")
	}
	return config.FromFlags(flags)
}
