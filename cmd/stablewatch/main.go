package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"stablewatch/internal/auth"
	"stablewatch/internal/cache"
	"stablewatch/internal/cli"
	"stablewatch/internal/detect"
	apphttp "stablewatch/internal/http"
	"stablewatch/internal/log"
	"stablewatch/internal/services"
	"stablewatch/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	boot := cli.SetupLogger(nil, log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(boot)
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	be := cli.InitBackend(ctx, logger, cfg)

	caches := cache.NewManager(logger.WithComponent(log.ComponentCache).Slog())
	caches.StartCleanup(5 * time.Minute)

	svc := services.NewTransactionService(be.Backend, detect.New(cfg.AnomalyContamination), be.Publisher, caches, logger)

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, sessions will not survive a restart")
	}
	authn, err := auth.NewAuthenticator(auth.Config{
		Username: cfg.AuthUsername,
		Password: cfg.AuthPassword,
		Secret:   cfg.JWTSecret,
		TTL:      cfg.TokenTTL,
	})
	if err != nil {
		logger.Error("Failed to initialize authenticator", log.FieldError, err.Error())
		os.Exit(1)
	}

	srv, err := apphttp.NewServer(apphttp.Config{
		Addr:              ":" + cfg.Port,
		DashboardWindow:   cfg.DashboardWindow,
		TransactionsLimit: cfg.TransactionsLimit,
		Location:          time.Local,
	}, apphttp.Deps{
		Store:    be.Backend,
		Ingester: svc,
		Auth:     authn,
		Caches:   caches,
		Ready:    be.Backend.Ping,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", log.FieldError, err.Error())
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting stablewatch server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"amqp_enabled", be.Publisher != nil,
			log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if chainClient, err := cli.NewChainClient(cfg, logger); err != nil {
		logger.Warn("Chain polling disabled", log.FieldError, err.Error())
	} else {
		poller := worker.NewPollWorker(chainClient, svc, cfg.PollInterval, logger)
		g.Go(func() error {
			logger.Info("Starting chain poller", "interval", cfg.PollInterval.String(), "contract", cfg.TokenContract)
			return poller.Run(gctx)
		})
	}

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("Server stopped with error", log.FieldError, runErr.Error())
	}

	_ = cli.Shutdown(logger, 10*time.Second,
		func(context.Context) error { caches.Stop(); return nil },
		func(context.Context) error { return svc.Close() },
	)

	if runErr != nil {
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
