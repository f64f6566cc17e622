package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Guna-13/xikolo-android/api/handlers"
	"github.com/Guna-13/xikolo-android/api/middleware"
	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/Guna-13/xikolo-android/pkg/logger"
)

// Downloads is what the router needs from the download manager
type Downloads interface {
	handlers.DownloadService
	handlers.ActivitySource
	handlers.EventSource
}

// RouterDeps are the components served over HTTP
type RouterDeps struct {
	Coordinator  handlers.Coordinator
	Store        handlers.ResourceEvictor
	Downloads    Downloads
	Progress     handlers.ProgressStreamer
	Preferences  domain.Preferences
	Connectivity handlers.NetworkReporter
	Health       handlers.HealthSource
	LogsDir      string
	Logger       *zap.Logger
	MultiLogger  *logger.MultiLogger
}

// SetupRouter sets up the HTTP router
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.Logger(deps.Logger, deps.MultiLogger))
	router.Use(middleware.Recovery(deps.Logger, deps.MultiLogger))

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(deps.Health, deps.Downloads)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		resourceHandler := handlers.NewResourceHandler(deps.Coordinator, deps.Store, deps.Logger)
		v1.GET("/resources/:type/:id", resourceHandler.GetResource)
		v1.DELETE("/resources/:type/:id", resourceHandler.DeleteResource)
		v1.POST("/jobs", resourceHandler.SendJob)
		v1.DELETE("/jobs/:id", resourceHandler.CancelJob)

		downloadHandler := handlers.NewDownloadHandler(deps.Downloads, deps.Logger)
		streamHandler := handlers.NewStreamHandler(deps.Progress, deps.Downloads, deps.Logger)
		downloads := v1.Group("/downloads")
		{
			downloads.POST("", downloadHandler.StartDownload)
			downloads.GET("", downloadHandler.ListDownloads)
			downloads.GET("/stats", downloadHandler.GetStats)

			one := downloads.Group("/:file_type/:course_id/:module_id/:item_id")
			one.GET("", downloadHandler.GetDownload)
			one.DELETE("", downloadHandler.DeleteDownload)
			one.POST("/pause", downloadHandler.PauseDownload)
			one.POST("/cancel", downloadHandler.CancelDownload)
			one.GET("/progress", streamHandler.Progress)
		}
		v1.GET("/events", streamHandler.Events)

		settingsHandler := handlers.NewSettingsHandler(deps.Preferences, deps.Connectivity)
		v1.GET("/preferences/mobile-downloads", settingsHandler.GetMobileDownloads)
		v1.PUT("/preferences/mobile-downloads", settingsHandler.SetMobileDownloads)
		v1.GET("/network", settingsHandler.GetNetwork)
		v1.PUT("/network", settingsHandler.SetNetwork)

		logHandler := handlers.NewLogHandler(deps.LogsDir)
		logs := v1.Group("/logs")
		{
			logs.GET("/categories", logHandler.GetCategories)
			logs.GET("/:category", logHandler.GetLogs)
			logs.GET("/:category/export", logHandler.ExportLogs)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
