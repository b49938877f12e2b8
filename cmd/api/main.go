package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emberhost/panel/internal/api"
	"github.com/emberhost/panel/internal/events"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/internal/remote"
	"github.com/emberhost/panel/internal/repository"
	"github.com/emberhost/panel/internal/service"
	"github.com/emberhost/panel/internal/storage"
	"github.com/emberhost/panel/pkg/config"
	"github.com/emberhost/panel/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	appLogger := logger.New(logger.ParseLevel(cfg.LogLevel), os.Stdout, cfg.LogJSON)
	logger.SetDefault(appLogger)

	logger.Info("Starting application", map[string]interface{}{
		"app":   cfg.AppName,
		"debug": cfg.Debug,
		"port":  cfg.Port,
	})

	// Initialize database
	if err := repository.InitDB(cfg); err != nil {
		logger.Fatal("Failed to initialize database", err, nil)
	}
	db := repository.GetDB()
	logger.Info("Database initialized", nil)

	// Activity events are always stored in the database; InfluxDB is an
	// optional second sink for time-series dashboards.
	dbStorage := events.NewDatabaseStorage(db)
	var eventStorage events.Storage = dbStorage
	if cfg.InfluxDBURL != "" && cfg.InfluxDBToken != "" {
		influxStorage, err := events.NewInfluxDBStorage(cfg)
		if err != nil {
			logger.Warn("Failed to initialize InfluxDB, falling back to database-only storage", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer influxStorage.Close()
			eventStorage = events.NewMultiStorage(dbStorage, influxStorage)
			logger.Info("Activity events using dual storage", map[string]interface{}{
				"influxdb_url": cfg.InfluxDBURL,
				"bucket":       cfg.InfluxDBBucket,
			})
		}
	}
	bus := events.NewBus(eventStorage)

	// Initialize repositories
	serverRepo := repository.NewServerRepository(db)
	userRepo := repository.NewUserRepository(db)
	nodeRepo := repository.NewNodeRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	backupRepo := repository.NewBackupRepository(db)

	// Object storage client, only needed for the s3 backup disk
	var objectStore service.ObjectStore
	if cfg.BackupDisk == string(models.BackupDiskS3) {
		s3Client, err := storage.NewS3Client(cfg)
		if err != nil {
			logger.Fatal("Failed to initialize object storage", err, nil)
		}
		objectStore = s3Client
	}

	daemonClient := remote.NewDaemonClient(time.Duration(cfg.DaemonRequestTimeoutSeconds) * time.Second)

	// Initialize services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.TokenLifetimeHours)
	sequencer := service.NewTaskSequencer(db, cfg.TaskLimitPerSchedule)
	backupService := service.NewBackupService(backupRepo, serverRepo, daemonClient, objectStore, bus, cfg)
	statusService := service.NewBackupStatusService(db, backupRepo, serverRepo, daemonClient, objectStore, bus)

	runner := service.NewScheduleRunner(
		scheduleRepo, taskRepo, serverRepo,
		daemonClient, backupService, bus,
		time.Duration(cfg.ScheduleTickSeconds)*time.Second,
	)

	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	go runner.Run(runnerCtx)

	// Initialize handlers
	authHandler := api.NewAuthHandler(authService)
	healthHandler := api.NewHealthHandler(db)
	scheduleHandler := api.NewScheduleHandler(scheduleRepo, serverRepo, runner)
	taskHandler := api.NewTaskHandler(sequencer, scheduleRepo, taskRepo, serverRepo, bus)
	backupHandler := api.NewBackupHandler(backupService, statusService, backupRepo, serverRepo)
	remoteHandler := api.NewRemoteHandler(statusService)
	activityWs := api.NewActivityWebSocket(serverRepo, bus)

	router := api.SetupRouter(
		authHandler, healthHandler,
		scheduleHandler, taskHandler,
		backupHandler, remoteHandler,
		activityWs,
		authService, nodeRepo,
		cfg,
	)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down gracefully...", nil)
		stopRunner()
		logger.Info("Shutdown complete", nil)
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("Server starting", map[string]interface{}{
		"address": addr,
	})
	if err := router.Run(addr); err != nil {
		logger.Fatal("Server failed", err, nil)
	}
}
