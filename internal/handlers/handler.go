package handlers

import (
	"wifi_provisioner/internal/logger"
	"wifi_provisioner/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires the HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", h.health)

	h.registerAuthRoutes(router)
	h.registerAPIRoutes(router)

	// Attempt progress stream on the same port.
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.operatorMiddleware)
	{
		api.GET("/status", h.getStatus)
		h.registerProvisionRoutes(api)
		h.registerAttemptRoutes(api)
	}
}

func (h *Handler) registerProvisionRoutes(api *gin.RouterGroup) {
	prov := api.Group("/provision")
	{
		prov.GET("/available/:code", h.checkAvailable)
		// Body example: {"ssid":"home","pass":"secret","code":"a1b2"}
		prov.POST("", h.provision)
	}
}

func (h *Handler) registerAttemptRoutes(api *gin.RouterGroup) {
	attempts := api.Group("/attempts")
	{
		attempts.GET("", h.listAttempts)
		attempts.GET("/:id/events", h.attemptEvents)
	}
}
