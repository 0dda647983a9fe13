package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantflow-ai/quantflow/internal/database"
)

// HealthResponse reports service dependency status.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// SetupRoutes registers every endpoint on the router.
func SetupRoutes(router *gin.Engine, handlers *Handlers, db *database.PostgresDB, redis *database.RedisClient) {
	router.GET("/health", healthCheck(db, redis))

	v1 := router.Group("/api/v1")
	{
		indicators := v1.Group("/indicators")
		{
			indicators.GET("/:symbol/latest", handlers.GetLatestIndicator)
			indicators.GET("/:symbol/history", handlers.GetIndicatorHistory)
		}

		v1.GET("/forecast/:symbol", handlers.GetForecast)
		v1.GET("/accuracy/:symbol", handlers.GetAccuracy)

		v1.GET("/position/:symbol", handlers.GetPosition)
		v1.GET("/stats/:symbol", handlers.GetStats)
		v1.GET("/balance", handlers.GetBalance)

		v1.POST("/engine/tick/:symbol", handlers.TriggerTick)
	}
}

func healthCheck(db *database.PostgresDB, redis *database.RedisClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		services := make(map[string]string)

		if db != nil {
			if err := db.HealthCheck(c.Request.Context()); err != nil {
				services["database"] = "unhealthy: " + err.Error()
			} else {
				services["database"] = "healthy"
			}
		} else {
			services["database"] = "unhealthy: not configured"
		}

		if redis != nil {
			if err := redis.HealthCheck(c.Request.Context()); err != nil {
				services["redis"] = "unhealthy: " + err.Error()
			} else {
				services["redis"] = "healthy"
			}
		} else {
			services["redis"] = "unhealthy: not configured"
		}

		status := "healthy"
		code := http.StatusOK
		for _, s := range services {
			if s != "healthy" {
				status = "degraded"
				code = http.StatusServiceUnavailable
				break
			}
		}

		c.JSON(code, HealthResponse{
			Status:    status,
			Timestamp: time.Now(),
			Services:  services,
		})
	}
}
