package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/offline-go/api/handlers"
	"github.com/yourusername/offline-go/api/middleware"
	"github.com/yourusername/offline-go/internal/domain"
	"github.com/yourusername/offline-go/internal/plugin"
)

// Dependencies are the services the HTTP API is built on
type Dependencies struct {
	Plugin        *plugin.Plugin
	Orchestrator  handlers.ActivityReporter
	History       domain.DownloadRecordRepository
	Notifications handlers.NotificationSource
	Regions       handlers.RegionLister
	Events        handlers.EventSource
	// Ping checks the database, nil skips the readiness check
	Ping     func() error
	ErrorLog middleware.ErrorLogger
	LogsDir  string
	Logger   *zap.Logger
}

// SetupRouter sets up the HTTP router
func SetupRouter(deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(deps.Logger, deps.ErrorLog))
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.CORS())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(deps.Orchestrator, deps.Ping)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		downloadHandler := handlers.NewDownloadHandler(deps.Plugin, deps.Logger)
		downloads := v1.Group("/downloads")
		{
			downloads.POST("", downloadHandler.AddDownload)
			downloads.GET("", downloadHandler.ListDownloads)
			downloads.GET("/:key", downloadHandler.GetDownload)
			downloads.POST("/:key/cancel", downloadHandler.CancelDownload)
		}

		groups := v1.Group("/groups")
		{
			groups.POST("", downloadHandler.StartGroup)
			groups.GET("/current", downloadHandler.GetGroup)
			groups.POST("/current/cancel", downloadHandler.CancelGroup)
		}

		historyHandler := handlers.NewHistoryHandler(deps.History, deps.Logger)
		history := v1.Group("/history")
		{
			history.GET("", historyHandler.ListHistory)
			history.GET("/stats", historyHandler.GetStats)
			history.GET("/:key", historyHandler.GetRecord)
		}

		notificationHandler := handlers.NewNotificationHandler(deps.Notifications)
		v1.GET("/notifications", notificationHandler.ListNotifications)
		v1.GET("/notifications/:id/preview", notificationHandler.GetPreview)

		if deps.Regions != nil {
			regionHandler := handlers.NewRegionHandler(deps.Regions, deps.Logger)
			v1.GET("/regions", regionHandler.ListRegions)
		}

		eventHandler := handlers.NewEventWebSocketHandler(deps.Events, deps.Logger)
		v1.GET("/events", eventHandler.HandleWebSocket)

		if deps.LogsDir != "" {
			logHandler := handlers.NewLogHandler(deps.LogsDir)
			logStream := handlers.NewLogWebSocketHandler(deps.LogsDir, deps.Logger)
			logs := v1.Group("/logs")
			{
				logs.GET("/categories", logHandler.GetCategories)
				logs.GET("/:category", logHandler.GetLogs)
				logs.GET("/:category/search", logHandler.SearchLogs)
				logs.GET("/:category/stream", logStream.HandleWebSocket)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "not found"})
	})

	return router
}
