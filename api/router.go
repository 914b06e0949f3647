package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/wallcache-go/api/handlers"
	"github.com/yourusername/wallcache-go/api/middleware"
	"github.com/yourusername/wallcache-go/internal/app"
)

// SetupRouter sets up the HTTP router over the shared runtime handles
func SetupRouter(rt *app.Runtime) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	log := rt.Logger.Named("http")
	router.Use(middleware.Logger(log, rt.MultiLogger))
	router.Use(middleware.Recovery(log, rt.MultiLogger))
	router.Use(middleware.CORS())

	healthHandler := handlers.NewHealthHandler(rt.Index, rt.Hub)
	router.GET("/health", healthHandler.Health)

	v1 := router.Group("/api/v1")
	{
		entryHandler := handlers.NewEntryHandler(rt.Index, rt.Batches, log)
		entries := v1.Group("/entries")
		{
			entries.GET("", entryHandler.ListEntries)
			entries.GET("/:key", entryHandler.GetEntry)
			entries.GET("/:key/history", entryHandler.GetEntryHistory)
			entries.DELETE("/:key", entryHandler.DeleteEntry)
		}

		indexHandler := handlers.NewIndexHandler(rt.Index, log)
		index := v1.Group("/index")
		{
			index.POST("/rebuild", indexHandler.Rebuild)
			index.POST("/prune", indexHandler.Prune)
		}

		batchHandler := handlers.NewBatchHandler(rt.Batches, log)
		batches := v1.Group("/batches")
		{
			batches.POST("", batchHandler.CreateBatch)
			batches.GET("", batchHandler.ListBatches)
			batches.GET("/stats", batchHandler.GetStats)
			batches.GET("/:id", batchHandler.GetBatch)
		}

		progressHandler := handlers.NewProgressWebSocketHandler(rt.Hub, log)
		v1.GET("/progress", progressHandler.HandleWebSocket)

		if logsDir := rt.MultiLogger.GetLogsDir(); logsDir != "" {
			logHandler := handlers.NewLogHandler(logsDir)
			logs := v1.Group("/logs")
			{
				logs.GET("/categories", logHandler.GetCategories)
				logs.GET("/:category", logHandler.GetLogs)
				logs.GET("/:category/search", logHandler.SearchLogs)
				logs.GET("/:category/export", logHandler.ExportLogs)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
