package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"github.com/SergeiKhy/affiliate-tracker/internal/repository"
	"github.com/SergeiKhy/affiliate-tracker/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type MetricsHandler struct {
	linkService    service.LinkService
	metricsService service.MetricsService
	logger         *zap.Logger
}

func NewMetricsHandler(linkService service.LinkService, metricsService service.MetricsService, logger *zap.Logger) *MetricsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsHandler{
		linkService:    linkService,
		metricsService: metricsService,
		logger:         logger,
	}
}

type RecordConversionRequest struct {
	Day     string  `json:"day,omitempty"` // YYYY-MM-DD, по умолчанию сегодня
	Revenue float64 `json:"revenue"`
}

// GetMetrics возвращает дневные метрики за включительный диапазон
// ?from=YYYY-MM-DD&to=YYYY-MM-DD, по умолчанию последние 7 дней.
// Метрики деактивированной ссылки остаются доступны: история не удаляется.
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	shortID := c.Param("code")

	link, err := h.linkService.Lookup(c.Request.Context(), shortID)
	if err != nil {
		h.respondLookupError(c, shortID, err)
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -6)
	to := now

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(models.DayFormat, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_range",
				Message: "from must be YYYY-MM-DD",
			})
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(models.DayFormat, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_range",
				Message: "to must be YYYY-MM-DD",
			})
			return
		}
		to = parsed
	}

	metrics, err := h.metricsService.Query(c.Request.Context(), link.ID, from, to)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRange) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_range",
				Message: "from must not be after to",
			})
			return
		}
		h.logger.Error("Failed to query metrics", zap.String("short_id", shortID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to query metrics",
		})
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// RecordConversion фиксирует конверсию с дельтой выручки.
// Для дня без единого клика — 404: конверсия не может предшествовать кликам.
func (h *MetricsHandler) RecordConversion(c *gin.Context) {
	shortID := c.Param("code")

	var req RecordConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	day := time.Now()
	if req.Day != "" {
		parsed, err := time.Parse(models.DayFormat, req.Day)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_day",
				Message: "day must be YYYY-MM-DD",
			})
			return
		}
		day = parsed
	}

	link, err := h.linkService.Lookup(c.Request.Context(), shortID)
	if err != nil {
		h.respondLookupError(c, shortID, err)
		return
	}

	if err := h.metricsService.RecordConversion(c.Request.Context(), link.ID, day, req.Revenue); err != nil {
		if errors.Is(err, repository.ErrMetricNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "no_clicks",
				Message: "No clicks recorded for that day yet",
			})
			return
		}
		h.logger.Error("Failed to record conversion", zap.String("short_id", shortID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to record conversion",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"short_id": shortID, "day": day.Format(models.DayFormat)})
}

func (h *MetricsHandler) respondLookupError(c *gin.Context, shortID string, err error) {
	if errors.Is(err, repository.ErrLinkNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Link not found",
		})
		return
	}
	h.logger.Error("Failed to look up link", zap.String("short_id", shortID), zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "Failed to look up link",
	})
}
