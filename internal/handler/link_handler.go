package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"github.com/SergeiKhy/affiliate-tracker/internal/repository"
	"github.com/SergeiKhy/affiliate-tracker/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LinkHandler struct {
	linkService  service.LinkService
	clickService service.ClickService
	logger       *zap.Logger
}

func NewLinkHandler(linkService service.LinkService, clickService service.ClickService, logger *zap.Logger) *LinkHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkHandler{
		linkService:  linkService,
		clickService: clickService,
		logger:       logger,
	}
}

type CreateLinkRequest struct {
	URL          string `json:"url" binding:"required,url"`
	AffiliateURL string `json:"affiliate_url,omitempty"`
	Title        string `json:"title" binding:"required"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
}

type CreateLinkResponse struct {
	ShortID      string    `json:"short_id"`
	TrackingURL  string    `json:"tracking_url"`
	OriginalURL  string    `json:"original_url"`
	AffiliateURL string    `json:"affiliate_url"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// requesterID извлекает идентичность запрашивающего из заголовка X-User-ID
func requesterID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// CreateLink регистрирует новую партнёрскую ссылку
func (h *LinkHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	ownerID, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_user",
			Message: "X-User-ID header is required",
		})
		return
	}

	input := &models.CreateLinkInput{
		OriginalURL:  req.URL,
		AffiliateURL: req.AffiliateURL,
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		OwnerID:      ownerID,
	}

	link, err := h.linkService.Register(c.Request.Context(), input)
	if err != nil {
		h.logger.Error("Failed to register link", zap.Error(err))

		switch {
		case errors.Is(err, service.ErrInvalidURL):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_url",
				Message: "URL must be absolute http(s)",
			})
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_input",
				Message: "Title is required; text fields exceed length limits",
			})
		case errors.Is(err, service.ErrIDSpaceExhausted):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error:   "id_space_exhausted",
				Message: "Could not allocate a short id, try again",
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to register link",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, CreateLinkResponse{
		ShortID:      link.ShortID,
		TrackingURL:  h.linkService.TrackingURL(link.ShortID),
		OriginalURL:  link.OriginalURL,
		AffiliateURL: link.AffiliateURL,
		Title:        link.Title,
		CreatedAt:    link.CreatedAt,
	})
}

// Track записывает клик и редиректит на партнёрский URL.
// Несуществующая ссылка — 404, деактивированная — 410: владелец может
// реактивировать вторую, но не первую.
func (h *LinkHandler) Track(c *gin.Context) {
	shortID := c.Param("code")

	event := &models.ClickEvent{
		ShortID:   shortID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
	}
	if userID, ok := requesterID(c); ok {
		event.UserID = &userID
	}

	click, err := h.clickService.Record(c.Request.Context(), event)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrLinkNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Link not found",
			})
			return
		case errors.Is(err, repository.ErrLinkInactive):
			c.JSON(http.StatusGone, ErrorResponse{
				Error:   "inactive",
				Message: "Link is disabled",
			})
			return
		}

		// Ссылка валидна, но запись клика сорвалась: пользователя всё равно
		// доводим до места назначения, потерю фиксируем в логе
		h.logger.Error("Failed to record click", zap.String("short_id", shortID), zap.Error(err))
		link, resolveErr := h.linkService.Resolve(c.Request.Context(), shortID)
		if resolveErr != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to track click",
			})
			return
		}
		c.Redirect(http.StatusFound, link.AffiliateURL)
		return
	}

	h.logger.Debug("Tracked click",
		zap.String("short_id", shortID),
		zap.Int64("click_id", click.ID),
		zap.Bool("unique", click.IsUnique),
	)

	link, err := h.linkService.Resolve(c.Request.Context(), shortID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to resolve link",
		})
		return
	}

	c.Redirect(http.StatusFound, link.AffiliateURL)
}

// Deactivate выключает ссылку, доступно только владельцу
func (h *LinkHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

// Reactivate включает ранее деактивированную ссылку
func (h *LinkHandler) Reactivate(c *gin.Context) {
	h.setActive(c, true)
}

func (h *LinkHandler) setActive(c *gin.Context, active bool) {
	shortID := c.Param("code")

	userID, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_user",
			Message: "X-User-ID header is required",
		})
		return
	}

	var err error
	if active {
		err = h.linkService.Reactivate(c.Request.Context(), shortID, userID)
	} else {
		err = h.linkService.Deactivate(c.Request.Context(), shortID, userID)
	}

	if err != nil {
		switch {
		case errors.Is(err, repository.ErrLinkNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Link not found",
			})
		case errors.Is(err, service.ErrForbidden):
			c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "forbidden",
				Message: "Only the link owner can change its state",
			})
		default:
			h.logger.Error("Failed to change link state", zap.String("short_id", shortID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to change link state",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"short_id": shortID, "is_active": active})
}

// GetStats возвращает суммарную статистику ссылки
func (h *LinkHandler) GetStats(c *gin.Context) {
	shortID := c.Param("code")

	stats, err := h.clickService.GetStats(c.Request.Context(), shortID)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Link not found",
			})
			return
		}
		h.logger.Error("Failed to get stats", zap.String("short_id", shortID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to get stats",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Dashboard возвращает сводку по ссылкам владельца
func (h *LinkHandler) Dashboard(c *gin.Context) {
	userID, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_user",
			Message: "X-User-ID header is required",
		})
		return
	}

	dashboard, err := h.linkService.Dashboard(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to build dashboard", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to build dashboard",
		})
		return
	}

	c.JSON(http.StatusOK, dashboard)
}
