package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/config"
	"github.com/ebogdum/hnsfs/core"
	hnslog "github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/server"
	"github.com/ebogdum/hnsfs/server/middleware"
)

var rootCmd = &cobra.Command{
	Use:   "hnsfs",
	Short: "hnsfs - hierarchical namespace file store",
	Long: `hnsfs serves a hierarchical file namespace over HTTP on top of memory,
local filesystem, S3 or SQL storage, and ships a client for it.`,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the hnsfs server",
	Long:  "Start the hnsfs server with the configured backend and API endpoints",
	RunE:  runServer,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the hnsfs configuration and display the loaded settings",
	RunE:  validateConfig,
}

var configFilePath string

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", "", "Path to configuration file")

	configCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serverCmd, configCmd, newDemoCmd())

	// If no command specified, default to server
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "server")
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// runServer starts the hnsfs server
func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := hnslog.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", err)
		}
	}()

	logger.Info("Starting hnsfs server",
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("backend", cfg.Backend.Type),
		zap.String("dlm", cfg.DLM.Type))

	storage, err := core.OpenStorage(cfg.Backend, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize %s backend: %w", cfg.Backend.Type, err)
	}

	lockManager, err := core.NewLockManager(cfg.DLM, logger)
	if err != nil {
		storage.Close()
		return fmt.Errorf("failed to initialize lock manager: %w", err)
	}

	engine := core.NewEngine(storage, cfg.Backend.Type, lockManager, core.Options{CacheTTL: cfg.Cache.TTL}, logger)
	defer engine.Close()

	authenticator := newAuthenticator(cfg.Auth)
	var authorizer auth.Authorizer
	if cfg.Auth.EnforcePermissions {
		authorizer = auth.NewPermissionAuthorizer(engine)
	}

	opts := server.Options{ServeMetrics: cfg.Metrics.ListenAddr == ""}
	if cfg.Server.RateLimit > 0 {
		opts.Limiters = middleware.NewClientLimiters(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}
	router := server.NewRouter(engine, authenticator, authorizer, &cfg.Server, opts, logger)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		var err error
		if cfg.Server.CertFile != "" {
			logger.Info("Starting HTTPS server", zap.String("addr", cfg.Server.ListenAddr))
			err = srv.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			logger.Warn("TLS disabled, serving plain HTTP", zap.String("addr", cfg.Server.ListenAddr))
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Starting metrics server", zap.String("addr", cfg.Metrics.ListenAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		logger.Info("Shutting down server...")
	case runErr = <-errCh:
		logger.Error("Server stopped unexpectedly", zap.Error(runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server forced to shutdown", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited")
	return runErr
}

// newAuthenticator accepts API keys and, when a secret is configured, shared-key JWTs.
func newAuthenticator(cfg config.AuthConfig) auth.Authenticator {
	var authenticators []auth.Authenticator
	if len(cfg.APIKeys) > 0 {
		authenticators = append(authenticators, auth.NewAPIKeyAuthenticator(cfg.APIKeys))
	}
	if cfg.JWTSecret != "" {
		authenticators = append(authenticators, auth.NewJWTAuthenticator([]byte(cfg.JWTSecret), cfg.JWTIssuer))
	}
	return auth.NewChainAuthenticator(authenticators...)
}

// validateConfig validates the hnsfs configuration and displays settings
func validateConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Validating configuration...")

	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		fmt.Fprintf(out, "Configuration validation failed: %v\n", err)
		return err
	}

	fmt.Fprintln(out, "Configuration is valid")
	fmt.Fprintf(out, "Listen Address: %s\n", cfg.Server.ListenAddr)
	fmt.Fprintf(out, "TLS: %t\n", cfg.Server.CertFile != "")
	fmt.Fprintf(out, "Backend: %s\n", cfg.Backend.Type)
	switch cfg.Backend.Type {
	case core.BackendLocalFS:
		fmt.Fprintf(out, "Local FS Root: %s\n", cfg.Backend.LocalFSRootPath)
	case core.BackendS3:
		fmt.Fprintf(out, "S3 Bucket: %s\n", cfg.Backend.S3BucketName)
		fmt.Fprintf(out, "S3 Region: %s\n", cfg.Backend.S3Region)
	case core.BackendSQLite:
		fmt.Fprintf(out, "SQLite Path: %s\n", cfg.Backend.SQLitePath)
	case core.BackendPostgres:
		fmt.Fprintf(out, "Postgres DSN: %s\n", maskDSN(cfg.Backend.PostgresDSN))
	}
	fmt.Fprintf(out, "Lock Manager: %s\n", cfg.DLM.Type)
	if cfg.DLM.Type == "redis" {
		fmt.Fprintf(out, "Redis Address: %s\n", cfg.DLM.RedisAddr)
	}
	fmt.Fprintf(out, "API Keys: %d, JWT: %t\n", len(cfg.Auth.APIKeys), cfg.Auth.JWTSecret != "")

	return nil
}

// maskDSN hides everything but the ends of a DSN
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if len(dsn) > 20 {
		return dsn[:10] + "***" + dsn[len(dsn)-7:]
	}
	return "***"
}
