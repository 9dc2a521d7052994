package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/offline-go/api"
	"github.com/yourusername/offline-go/internal/app"
	"github.com/yourusername/offline-go/internal/daemon"
	"github.com/yourusername/offline-go/internal/events"
	"github.com/yourusername/offline-go/internal/infrastructure"
	"github.com/yourusername/offline-go/internal/plugin"
	"github.com/yourusername/offline-go/pkg/logger"
)

var (
	configPath = flag.String("config", "", "Path to the config file")
	daemonMode = flag.Bool("daemon", false, "Detach and run the server in the background")
)

// errIdleExit stops the server once every download is done
var errIdleExit = errors.New("orchestrator idle")

func main() {
	flag.Parse()

	if *daemonMode {
		startAsDaemon()
		return
	}

	if err := runServer(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// startAsDaemon re-executes the current binary detached from the terminal
func startAsDaemon() {
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	args := []string{}
	if *configPath != "" {
		args = append(args, "-config", *configPath)
	}
	pid, err := daemon.Start(execPath, args, os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", pid)
}

func runServer(configPath string) error {
	config, err := app.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Lifecycle and error files under logs_dir
	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Logging.LogsDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize file logs: %w", err)
	}
	defer multiLog.Close()

	log.Info("Starting offline download server",
		zap.String("version", "1.0.0"),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("database", config.Backend.DatabasePath))

	db, err := infrastructure.OpenDatabase(config.Backend.DatabasePath)
	if err != nil {
		return err
	}
	defer infrastructure.CloseDatabase(db)

	fetcher := infrastructure.NewTileFetcher(config.Backend.RequestTimeout, config.Backend.UserAgent)
	backend, err := infrastructure.NewTileBackend(db, fetcher, config.Backend, log.Named("backend"))
	if err != nil {
		return err
	}
	defer backend.Close()

	repo, err := infrastructure.NewSQLiteRecordRepository(db)
	if err != nil {
		return err
	}

	dispatcher := events.NewDispatcher(log.Named("events"))
	defer dispatcher.Close()

	orchestrator := app.NewOrchestrator(backend, dispatcher, log.Named("orchestrator"))
	defer orchestrator.Shutdown()

	notifier := infrastructure.NewNotificationService(&config.Notification, log.Named("notification"))
	presenter := infrastructure.NewPresenter(notifier, config.Notification.Snapshots, log.Named("presenter"))
	if config.Notification.Snapshots {
		orchestrator.SetPreviewRenderer(infrastructure.NewSnapshotRenderer(fetcher, log.Named("snapshot")), presenter)
	}

	offline := plugin.New(orchestrator, log.Named("plugin"))
	dispatcher.Subscribe(offline.Handle)
	dispatcher.Subscribe(infrastructure.NewHistoryRecorder(repo, log.Named("history")).Handle)
	dispatcher.Subscribe(presenter.Handle)
	dispatcher.Subscribe(app.NewEventLog(multiLog).Handle)

	router := api.SetupRouter(api.Dependencies{
		Plugin:        offline,
		Orchestrator:  orchestrator,
		History:       repo,
		Notifications: presenter,
		Regions:       backend,
		Events:        dispatcher,
		Ping: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Ping()
		},
		ErrorLog: multiLog,
		LogsDir:  config.Logging.LogsDir,
		Logger:   log.Named("http"),
	})

	addr := net.JoinHostPort(config.Server.Host, strconv.Itoa(config.Server.Port))
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if config.Orchestrator.AutoExitOnIdle {
		g.Go(func() error {
			return watchIdle(gctx, orchestrator, config.Orchestrator.IdleGrace, log)
		})
	}

	err = g.Wait()
	if errors.Is(err, errIdleExit) {
		err = nil
	}
	log.Info("Server exited")
	return err
}

// watchIdle returns errIdleExit once the orchestrator has stayed idle for
// the grace period.
func watchIdle(ctx context.Context, orchestrator *app.Orchestrator, grace time.Duration, log *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-orchestrator.Idle():
		}

		timer := time.NewTimer(grace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if !orchestrator.IsActive() {
			log.Info("All downloads done, exiting", zap.Duration("grace", grace))
			return errIdleExit
		}
	}
}
