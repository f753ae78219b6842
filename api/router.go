package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter creates and configures the Gin router
func SetupRouter() *gin.Engine {
	router := gin.Default()

	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"} // Configure appropriately in production
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(config))

	// Health check
	router.GET("/health", HealthCheck)

	// API routes
	api := router.Group("/api")
	{
		api.POST("/transfers", SubmitTransfer)
		api.GET("/transfers", ListTransfers)
		api.GET("/transfers/:taskID", GetTransfer)
		api.DELETE("/transfers/:taskID", CancelTransfer)
		api.POST("/transfers/:taskID/retry", RetryTransfer)
		api.POST("/transfers/:taskID/ack", AckTransfer)

		api.GET("/limits", GetLimits)
		api.PUT("/limits", SetLimits)
	}

	return router
}
