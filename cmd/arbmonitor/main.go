// Command arbmonitor watches the Kalshi and Polymarket popular-vote markets
// and records the cross-venue arbitrage spreads. It loads configuration,
// validates it, sets up signal handling, and starts the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/arbmonitor/internal/app"
	"github.com/alanyoungcy/arbmonitor/internal/config"
	"github.com/alanyoungcy/arbmonitor/internal/crypto"
)

const keyPasswordEnv = "ARBMON_KALSHI_KEY_PASSWORD"

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKey := flag.String("encrypt-key", "", "encrypt a PEM private key and exit")
	encryptOut := flag.String("out", "", "output path for -encrypt-key (default <key>.enc)")
	flag.Parse()

	if *encryptKey != "" {
		if err := runEncryptKey(*encryptKey, *encryptOut); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Error("failed to open log file",
				slog.String("path", cfg.LogFile),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		defer f.Close()
		out = io.MultiWriter(os.Stdout, f)
	}

	logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("arbitrage monitor starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		application.Close()
		os.Exit(1)
	}

	logger.Info("arbitrage monitor stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runEncryptKey writes a password-protected envelope of the PEM key at
// path. The password comes from the environment so it never hits the shell
// history.
func runEncryptKey(path, out string) error {
	password := os.Getenv(keyPasswordEnv)
	if password == "" {
		return fmt.Errorf("%s must be set", keyPasswordEnv)
	}
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	envelope, err := crypto.EncryptKey(pemBytes, password)
	if err != nil {
		return err
	}
	if out == "" {
		out = path + ".enc"
	}
	if err := os.WriteFile(out, envelope, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(os.Stdout, "encrypted key written to %s\n", out)
	return nil
}
