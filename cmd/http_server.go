package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/guard"
	"github.com/frahmantamala/familyguard/internal/transport/rest"
	"github.com/frahmantamala/familyguard/internal/transport/swagger"
	"github.com/frahmantamala/familyguard/pkg/logger"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var shutdownTimeout time.Duration

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the security core and the HTTP API in front of it`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config *internal.Config
	DBs    *databases
	Core   *guard.Core
	Router *chi.Mux
	Logger *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	if err := deps.Core.Start(runCtx); err != nil {
		deps.Logger.Error("failed to start security core", "error", err)
		_ = deps.DBs.Close()
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr, "integration_mode", deps.Core.Protector.Mode())

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed", "error", err)
			exitCode = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		deps.Logger.Error("Server shutdown error", "error", err)
	}
	stopRun()
	if err := deps.Core.Shutdown(ctx); err != nil {
		deps.Logger.Error("Security core shutdown error", "error", err)
		exitCode = 1
	}
	if err := deps.DBs.Close(); err != nil {
		deps.Logger.Error("Database close error", "error", err)
	}

	deps.Logger.Info("Server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func setupRoutes(deps *Dependencies) {
	rd := rest.Dependencies{Core: deps.Core, Logger: deps.Logger}
	if deps.DBs != nil {
		rd.DB = deps.DBs.SQL
	}
	rest.RegisterAllRoutes(deps.Router, rd)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	lg := logger.LoggerWrapper()

	if _, err := swagger.Load(context.Background()); err != nil {
		return nil, err
	}

	dbs, err := openDatabases(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	core, err := newCore(config, dbs)
	if err != nil {
		_ = dbs.Close()
		return nil, fmt.Errorf("failed to assemble security core: %w", err)
	}

	return &Dependencies{
		Config: config,
		DBs:    dbs,
		Core:   core,
		Router: chi.NewRouter(),
		Logger: lg,
	}, nil
}

func init() {
	httpServerCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "grace period for draining requests and audit writes")
}
