package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskpilot/internal/api"
	"taskpilot/internal/config"
	"taskpilot/internal/core"
	"taskpilot/internal/logging"
	taskpilotmcp "taskpilot/internal/mcp"
	"taskpilot/internal/notify"
	"taskpilot/internal/sandbox"
	"taskpilot/internal/store"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// Stdio belongs to the MCP transport in mcp mode.
	logWriter := os.Stdout
	if cfg.Mode == "mcp" {
		logWriter = os.Stderr
	}
	logger := logging.NewWithWriter(logWriter, cfg.Log.Level)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir, "taskpilot.", logger)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.DB.Close()

	location := time.Local
	if cfg.UseUTC {
		location = time.UTC
	}

	tasks := store.NewTaskRepo(storeInst, logger, location)
	commands := store.NewCommandRepo(storeInst, logger)
	runs := store.NewRunRepo(storeInst, logger, cfg.Log.Retention)
	session := store.NewSessionStore()

	notifier := buildNotifier(cfg, logger)
	executor := sandbox.New(storeInst, notifier, logger)

	engine := core.NewEngine(core.EngineDeps{
		Tasks:    tasks,
		Commands: commands,
		Executor: executor,
		Runs:     runs,
		Session:  session,
		Notifier: notifier,
		Logger:   logger,
	}, core.EngineConfig{
		PollInterval: cfg.Scheduler.PollInterval,
		ExecTimeout:  cfg.Scheduler.ExecTimeout,
		Location:     location,
	})

	var syncer *store.RemoteSyncer
	if cfg.Remote.URL != "" {
		syncer = store.NewRemoteSyncer(commands, logger)
		if cfg.Remote.Enabled {
			commands.SetRemoteEnabled(baseCtx, true)
		}
		if cfg.Remote.SyncAt != "" {
			url := cfg.Remote.URL
			engine.RegisterDaily(cfg.Remote.SyncAt, func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				if _, err := syncer.Sync(ctx, url); err != nil {
					logger.Error("daily remote sync", "err", err)
				}
			}, "remote-command-sync")
		}
	}

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	engine.Start(ctx)

	switch cfg.Mode {
	case "http", "":
		runHTTPMode(cfg, tasks, commands, runs, engine, syncer, logger, location)
	case "mcp":
		runMCPMode(tasks, commands, runs, engine, logger, location, cancel)
	case "both":
		runBothMode(cfg, tasks, commands, runs, engine, syncer, logger, location)
	default:
		logger.Error("invalid mode", "mode", cfg.Mode, "valid", []string{"http", "mcp", "both"})
		os.Exit(1)
	}
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
	if cfg.Notification.Bark.Enabled && cfg.Notification.Bark.URL != "" {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			logger.Error("configure bark notifier", "err", err)
		} else {
			notifiers = append(notifiers, bark)
		}
	}
	return notify.NewMultiNotifier(notifiers...)
}

func newAPIServer(cfg *config.Config, tasks *store.TaskRepo, commands *store.CommandRepo, runs *store.RunRepo, engine *core.Engine, syncer *store.RemoteSyncer, logger *slog.Logger, location *time.Location) *api.Server {
	return api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, api.ServerDeps{
		Tasks:     tasks,
		Commands:  commands,
		Runs:      runs,
		Engine:    engine,
		Syncer:    syncer,
		RemoteURL: cfg.Remote.URL,
		Logger:    logger,
		Location:  location,
	})
}

// runHTTPMode starts only the HTTP server.
func runHTTPMode(cfg *config.Config, tasks *store.TaskRepo, commands *store.CommandRepo, runs *store.RunRepo, engine *core.Engine, syncer *store.RemoteSyncer, logger *slog.Logger, location *time.Location) {
	server := newAPIServer(cfg, tasks, commands, runs, engine, syncer, logger, location)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	engine.Stop()
}

// runMCPMode starts only the MCP server on stdio.
func runMCPMode(tasks *store.TaskRepo, commands *store.CommandRepo, runs *store.RunRepo, engine *core.Engine, logger *slog.Logger, location *time.Location, cancel context.CancelFunc) {
	mcpServer := taskpilotmcp.NewMCPServer(tasks, commands, runs, engine, logger, location)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("received signal, shutting down...")
		engine.Stop()
		cancel()
	}()

	if err := mcpServer.Run(); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}
}

// runBothMode starts the HTTP server with the MCP server alongside on stdio.
func runBothMode(cfg *config.Config, tasks *store.TaskRepo, commands *store.CommandRepo, runs *store.RunRepo, engine *core.Engine, syncer *store.RemoteSyncer, logger *slog.Logger, location *time.Location) {
	mcpServer := taskpilotmcp.NewMCPServer(tasks, commands, runs, engine, logger, location)
	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()

	server := newAPIServer(cfg, tasks, commands, runs, engine, syncer, logger, location)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	engine.Stop()
	logger.Info("shutdown complete")
}
