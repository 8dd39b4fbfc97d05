package handler

import (
	"net/http"

	"github.com/SergeiKhy/affiliate-tracker/internal/middleware"
	"github.com/SergeiKhy/affiliate-tracker/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func NewRouter(
	linkService service.LinkService,
	clickService service.ClickService,
	metricsService service.MetricsService,
	analysisService service.AnalysisService,
	analysisFetch service.AnalysisFetchFunc,
	rateLimiter *middleware.RateLimiter,
	apiKeyMiddleware gin.HandlerFunc,
	logger *zap.Logger,
) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.Default()

	// Middleware для логгирования
	router.Use(func(c *gin.Context) {
		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
		)
		c.Next()
	})

	// Rate limiting для всех запросов
	router.Use(rateLimiter.Middleware())

	linkHandler := NewLinkHandler(linkService, clickService, logger)
	metricsHandler := NewMetricsHandler(linkService, metricsService, logger)
	analysisHandler := NewAnalysisHandler(analysisService, analysisFetch, logger)

	// API v.1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", HealthCheck)

		// Применяем API Key middleware только к защищённым эндпоинтам
		if apiKeyMiddleware != nil {
			v1.Use(apiKeyMiddleware)
		}

		v1.POST("/links", linkHandler.CreateLink)
		v1.POST("/links/:code/deactivate", linkHandler.Deactivate)
		v1.POST("/links/:code/reactivate", linkHandler.Reactivate)
		v1.GET("/links/:code/stats", linkHandler.GetStats)
		v1.GET("/links/:code/metrics", metricsHandler.GetMetrics)
		v1.POST("/links/:code/conversions", metricsHandler.RecordConversion)
		v1.GET("/dashboard", linkHandler.Dashboard)
		v1.GET("/analysis/niche", analysisHandler.AnalyzeNiche)
	}

	// Трекинговый редирект - без API key проверки
	router.GET("/t/:code", linkHandler.Track)

	return router
}

// HealthCheck простой liveness-эндпоинт
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
