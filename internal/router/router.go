package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"upqueue/internal/handler"
	"upqueue/internal/middleware"
)

// Setup configures the Gin engine with all routes and middleware.
func Setup(
	uploadH *handler.UploadHandler,
	eventsH *handler.EventsHandler,
	healthH *handler.HealthHandler,
	metricsH http.Handler,
	allowedOrigins []string,
) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger("/health", "/readyz", "/metrics"))
	r.Use(middleware.CORS(allowedOrigins))

	// Health checks
	r.GET("/health", healthH.Liveness)
	r.GET("/readyz", healthH.Readiness)
	if metricsH != nil {
		r.GET("/metrics", gin.WrapH(metricsH))
	}

	v1 := r.Group("/api/v1")

	uploads := v1.Group("/uploads")
	uploads.POST("", uploadH.Enqueue)
	uploads.GET("", uploadH.List)
	uploads.GET("/events", eventsH.Stream)
	uploads.GET("/:id", uploadH.Get)
	uploads.DELETE("/:id", uploadH.Cancel)

	return r
}
