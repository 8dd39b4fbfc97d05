package handler

import (
	"errors"
	"net/http"

	"github.com/SergeiKhy/affiliate-tracker/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AnalysisHandler struct {
	analysisService service.AnalysisService
	fetch           service.AnalysisFetchFunc
	logger          *zap.Logger
}

func NewAnalysisHandler(analysisService service.AnalysisService, fetch service.AnalysisFetchFunc, logger *zap.Logger) *AnalysisHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisHandler{
		analysisService: analysisService,
		fetch:           fetch,
		logger:          logger,
	}
}

// AnalyzeNiche возвращает AI-анализ ниши из кэша или от провайдера.
// Сбой провайдера отдаётся как 503 без подмены данных: лучше «попробуйте
// позже», чем устаревший или неверный анализ.
func (h *AnalysisHandler) AnalyzeNiche(c *gin.Context) {
	query := c.Query("q")

	payload, err := h.analysisService.GetOrFetch(c.Request.Context(), query, h.fetch)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "missing_query",
				Message: "q parameter is required",
			})
		case errors.Is(err, service.ErrUpstreamUnavailable):
			h.logger.Warn("Analysis provider unavailable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error:   "upstream_unavailable",
				Message: "Analysis provider is unavailable, try again shortly",
			})
		default:
			h.logger.Error("Failed to get analysis", zap.Error(err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to get analysis",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":    service.NormalizeQuery(query),
		"analysis": payload,
	})
}
