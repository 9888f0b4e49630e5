// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/stablewatch, cmd/fetch-transactions, cmd/archive-worker and cmd/init-db.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stablewatch/internal/archive"
	"stablewatch/internal/backend"
	"stablewatch/internal/chain"
	"stablewatch/internal/config"
	"stablewatch/internal/log"
)

// ErrArchiveDisabled is returned by NewArchiver when no bucket is configured.
var ErrArchiveDisabled = errors.New("S3 archive disabled: S3_BUCKET not set")

// SetupLogger builds the application logger from configuration and installs
// it as the slog default. A nil cfg yields the defaults.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	lc := log.DefaultConfig()
	lc.Component = component
	if cfg != nil {
		lc.Level = log.ParseLevel(cfg.LogLevel)
		lc.Format = cfg.LogFormat
		lc.File = cfg.LogFile
		lc.MaxSizeMB = cfg.LogMaxSizeMB
		lc.MaxBackups = cfg.LogMaxBackups
	}
	logger := log.New(lc)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads and validates configuration.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg, err := LoadConfig()
	if err != nil {
		logger.Error("Configuration validation failed",
			log.FieldError, err.Error(),
			"error_type", log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	return cfg
}

// InitBackend creates the configured store and optional AMQP publisher.
// Exits the process on failure.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Slog()).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend",
			log.FieldError, err.Error(),
			"backend", bcfg.Type.String())
		os.Exit(1)
	}
	return res
}

// NewChainClient builds the transfer source from configuration.
func NewChainClient(cfg *config.Config, logger *log.Logger) (*chain.Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("RPC_URL is required to fetch transfers")
	}
	return chain.NewClient(chain.Config{
		URL:       cfg.RPCURL,
		Contract:  cfg.TokenContract,
		Decimals:  cfg.TokenDecimals,
		BatchSize: cfg.FetchBatchSize,
	}, logger.WithComponent(log.ComponentChain).Slog()), nil
}

// NewArchiver builds the S3 archiver, or returns ErrArchiveDisabled when no
// bucket is configured.
func NewArchiver(ctx context.Context, cfg *config.Config, logger *log.Logger) (*archive.S3Archiver, error) {
	if cfg.S3Bucket == "" {
		return nil, ErrArchiveDisabled
	}
	acfg := archive.Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Prefix:    cfg.S3Prefix,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	}
	client, err := archive.NewS3Client(ctx, acfg)
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}
	return archive.NewS3Archiver(client, acfg, logger.WithComponent(log.ComponentArchive).Slog()), nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Shutdown runs cleanup steps in order under a shared deadline and reports
// every failure.
func Shutdown(logger *log.Logger, timeout time.Duration, steps ...func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, step := range steps {
		if step == nil {
			continue
		}
		if err := step(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		logger.Error("Shutdown completed with errors",
			log.FieldError, err.Error(),
			log.FieldOperation, log.OpShutdown)
	} else {
		logger.Info("Shutdown complete", log.FieldOperation, log.OpShutdown)
	}
	return err
}
