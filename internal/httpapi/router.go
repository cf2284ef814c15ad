package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/scitix/netpulse/internal/httpapi/middleware"
	"github.com/scitix/netpulse/internal/logging"
)

// RouterConfig wires the handler set spec.md §6 describes into a gin
// engine, grounded on the teacher's internal/server.NewRouter
// (gin.Default + cors.New + grouped routes) generalized to the
// dispatch/job/worker/template surface.
type RouterConfig struct {
	APIKey     string
	APIKeyName string

	Device   *DeviceHandler
	Job      *JobHandler
	Worker   *WorkerHandler
	Health   *HealthHandler
	Template *TemplateHandler
}

func NewRouter(cfg RouterConfig, log *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("netpulse"))

	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{cfg.APIKeyName, "Content-Type"},
	}))

	router.GET("/health", cfg.Health.Health)

	protected := router.Group("/")
	protected.Use(middleware.RequireAPIKey(cfg.APIKey, cfg.APIKeyName, log))

	protected.POST("/device/execute", cfg.Device.Execute)
	protected.POST("/device/bulk", cfg.Device.Bulk)
	protected.POST("/device/test-connection", cfg.Device.TestConnection)

	protected.GET("/job", cfg.Job.Get)
	protected.DELETE("/job", cfg.Job.Delete)

	protected.GET("/worker", cfg.Worker.Get)
	protected.DELETE("/worker", cfg.Worker.Delete)

	protected.POST("/template/render", cfg.Template.Render)
	protected.POST("/template/render/:name", cfg.Template.Render)
	protected.POST("/template/parse", cfg.Template.Parse)
	protected.POST("/template/parse/:name", cfg.Template.Parse)

	return router
}
