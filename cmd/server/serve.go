package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/pto-service/api"
	"github.com/warp/pto-service/config"
	"github.com/warp/pto-service/logging"
	"github.com/warp/pto-service/metrics"
	"github.com/warp/pto-service/platform"
	"github.com/warp/pto-service/pto"
	"github.com/warp/pto-service/record"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadRuntime reads the configuration and builds the process logger.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Environment: cfg.Log.Environment})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	m := metrics.New()
	be, err := openBackend(cfg.Storage, logger, record.WithObserver(m.StoreObserver()))
	if err != nil {
		return err
	}
	defer be.close()

	svc := pto.New(pto.Deps{
		Records:     be.records,
		Directory:   directoryFor(cfg.Directory, logger),
		Notifier:    notifierFor(cfg.Integration, logger),
		Recorder:    m,
		Logger:      logger,
		MaxAttempts: cfg.Integration.MaxAttempts,
	})

	if svc.Outbox != nil {
		dispatcher := pto.NewDispatcher(svc.Outbox, cfg.Integration.RetryInterval, logger.Named("dispatcher"))
		dispatcher.Start()
		defer dispatcher.Stop()
	}

	handler := api.NewHandler(svc, be.ping, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Metrics:        m,
		Logger:         logger.Named("http"),
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func directoryFor(cfg config.DirectoryConfig, logger *zap.Logger) pto.Directory {
	if cfg.URL == "" {
		logger.Info("using static directory", zap.Int("accounts", len(cfg.Accounts)))
		return platform.NewStaticDirectory(cfg.Accounts)
	}
	return platform.NewDirectoryClient(cfg.URL, cfg.Timeout, logger.Named("directory"))
}

// notifierFor returns nil when the integration hook is disabled.
func notifierFor(cfg config.IntegrationConfig, logger *zap.Logger) pto.Notifier {
	if !cfg.Enabled {
		return nil
	}
	return platform.NewHookClient(cfg.URL, cfg.Timeout, logger.Named("hook"))
}
