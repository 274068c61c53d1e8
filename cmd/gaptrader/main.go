// Command gaptrader is the entry point of the gap trading execution core. It
// loads configuration, validates it, sets up signal handling, and starts the
// application in the configured mode.
//
// Usage:
//
//	gaptrader [-config config.toml]
//	gaptrader seal -out secret.json < api_secret.txt
//
// seal encrypts the broker API secret with the password in
// GAPTRADER_SEAL_PASSWORD for use as broker.secret_file.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/gaptrader/internal/app"
	"github.com/alanyoungcy/gaptrader/internal/config"
	"github.com/alanyoungcy/gaptrader/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "seal" {
		if err := seal(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "seal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("gap trader starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			application.Close()
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("gap trader stopped")
}

// seal reads one secret line from stdin and writes the sealed blob.
func seal(args []string) error {
	fs := flag.NewFlagSet("seal", flag.ContinueOnError)
	out := fs.String("out", "broker_secret.json", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password := os.Getenv("GAPTRADER_SEAL_PASSWORD")
	if password == "" {
		return errors.New("GAPTRADER_SEAL_PASSWORD is not set")
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read secret from stdin: %w", err)
	}
	blob, err := crypto.SealSecret(strings.TrimSpace(line), password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "sealed secret written to %s\n", *out)
	return nil
}
