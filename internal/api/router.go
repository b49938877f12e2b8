package api

import (
	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/monitoring"
	"github.com/emberhost/panel/pkg/config"
	"github.com/gin-gonic/gin"
)

func SetupRouter(
	authHandler *AuthHandler,
	healthHandler *HealthHandler,
	scheduleHandler *ScheduleHandler,
	taskHandler *TaskHandler,
	backupHandler *BackupHandler,
	remoteHandler *RemoteHandler,
	activityWs *ActivityWebSocket,
	tokenValidator middleware.TokenValidator,
	nodeFinder middleware.NodeFinder,
	cfg *config.Config,
) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.RequestLogger())

	// Health and metrics endpoints, no auth required
	router.GET("/health", healthHandler.HealthCheck)
	router.HEAD("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/prometheus", monitoring.Handler())

	auth := router.Group("/api/auth")
	{
		auth.POST("/login", authHandler.Login)
	}

	// Client API, JWT-authenticated
	servers := router.Group("/api/servers/:server")
	servers.Use(middleware.AuthMiddleware(tokenValidator))
	{
		servers.GET("/events", activityWs.HandleWebSocket)
		servers.GET("/activity", activityWs.ListActivity)

		schedules := servers.Group("/schedules")
		{
			schedules.GET("", scheduleHandler.ListSchedules)
			schedules.POST("", scheduleHandler.CreateSchedule)
			schedules.GET("/:schedule", scheduleHandler.ViewSchedule)
			schedules.PUT("/:schedule", scheduleHandler.UpdateSchedule)
			schedules.DELETE("/:schedule", scheduleHandler.DeleteSchedule)
			schedules.POST("/:schedule/execute", scheduleHandler.ExecuteSchedule)

			schedules.POST("/:schedule/tasks", taskHandler.StoreTask)
			schedules.PUT("/:schedule/tasks/:task", taskHandler.UpdateTask)
			schedules.DELETE("/:schedule/tasks/:task", taskHandler.DeleteTask)
		}

		backups := servers.Group("/backups")
		{
			backups.GET("", backupHandler.ListBackups)
			backups.POST("", backupHandler.CreateBackup)
			backups.GET("/:backup", backupHandler.ViewBackup)
			backups.POST("/:backup/lock", backupHandler.ToggleLock)
			backups.DELETE("/:backup", backupHandler.DeleteBackup)
			backups.GET("/:backup/download", backupHandler.DownloadBackup)
			backups.POST("/:backup/restore", backupHandler.RestoreBackup)
		}
	}

	// Remote API, daemon-authenticated callbacks
	remote := router.Group("/api/remote")
	remote.Use(middleware.DaemonAuthMiddleware(nodeFinder))
	{
		remote.POST("/backups/:backup", remoteHandler.ReportBackupCompletion)
		remote.POST("/backups/:backup/restore", remoteHandler.ReportRestoreOutcome)
	}

	return router
}
