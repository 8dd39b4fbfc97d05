package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"github.com/SergeiKhy/affiliate-tracker/internal/repository"
	"go.uber.org/zap"
)

// Ошибки сервиса
var (
	ErrInvalidURL       = errors.New("невалидный URL")
	ErrInvalidInput     = errors.New("невалидные данные ссылки")
	ErrForbidden        = errors.New("операция доступна только владельцу ссылки")
	ErrIDSpaceExhausted = errors.New("не удалось подобрать свободный short id")
)

// Константы сервиса
const (
	resolveCacheTTL = 24 * time.Hour
	shortIDLength   = 8
	maxIDAttempts   = 5 // попыток генерации при коллизии short id
	charset         = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Пауза перед повторной инвалидацией кэша после смены флага активности
	cacheInvalidateDelay  = 200 * time.Millisecond
	cacheInvalidateExpiry = 5 * time.Second

	maxURLLength         = 2048
	maxTitleLength       = 200
	maxDescriptionLength = 1000
	maxCategoryLength    = 100
)

// LinkService интерфейс реестра партнёрских ссылок
type LinkService interface {
	Register(ctx context.Context, input *models.CreateLinkInput) (*models.AffiliateLink, error)
	Resolve(ctx context.Context, shortID string) (*models.AffiliateLink, error)
	Lookup(ctx context.Context, shortID string) (*models.AffiliateLink, error)
	Deactivate(ctx context.Context, shortID string, requesterID int64) error
	Reactivate(ctx context.Context, shortID string, requesterID int64) error
	Dashboard(ctx context.Context, ownerID int64) (*models.Dashboard, error)
	TrackingURL(shortID string) string
}

// linkService реализация реестра ссылок
type linkService struct {
	linkRepo  repository.LinkRepository
	cacheRepo repository.CacheRepository
	baseURL   string
	logger    *zap.Logger
}

// NewLinkService создаёт новый экземпляр реестра
func NewLinkService(linkRepo repository.LinkRepository, cacheRepo repository.CacheRepository, baseURL string, logger *zap.Logger) LinkService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &linkService{
		linkRepo:  linkRepo,
		cacheRepo: cacheRepo,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// Register регистрирует новую партнёрскую ссылку и выдаёт ей short id.
// Short id уникален на всём пространстве ссылок, включая деактивированные:
// выданный идентификатор никогда не переиспользуется.
func (s *linkService) Register(ctx context.Context, input *models.CreateLinkInput) (*models.AffiliateLink, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	affiliateURL := input.AffiliateURL
	if affiliateURL == "" {
		affiliateURL = input.OriginalURL
	}

	// Генерация с ограниченным числом повторов: коллизия short id решается
	// новым кандидатом, а не ошибкой вызывающему
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		shortID, err := s.generateShortID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate short id: %w", err)
		}

		link := &models.AffiliateLink{
			ShortID:      shortID,
			OriginalURL:  input.OriginalURL,
			AffiliateURL: affiliateURL,
			Title:        input.Title,
			Description:  input.Description,
			Category:     input.Category,
			OwnerID:      input.OwnerID,
			IsActive:     true,
			CreatedAt:    time.Now(),
		}

		if err := s.linkRepo.Create(ctx, link); err != nil {
			if errors.Is(err, repository.ErrShortIDExists) {
				s.logger.Debug("Коллизия short id, пробуем новый",
					zap.String("short_id", shortID),
					zap.Int("attempt", attempt+1),
				)
				continue
			}
			return nil, err
		}

		// Кэширование: ошибка кэша не прерывает регистрацию
		if err := s.cacheRepo.SetLink(ctx, link.ShortID, link, resolveCacheTTL); err != nil {
			s.logger.Warn("Не удалось закэшировать ссылку", zap.Error(err))
		}

		return link, nil
	}

	// Сигнал для мониторинга: пространство идентификаторов на исходе
	s.logger.Error("Исчерпаны попытки генерации short id", zap.Int("attempts", maxIDAttempts))
	return nil, ErrIDSpaceExhausted
}

// Resolve находит ссылку по short id (сначала из кэша, затем из БД).
// Деактивированная ссылка возвращает ErrLinkInactive, отсутствующая —
// ErrLinkNotFound: владелец может исправить первое, но не второе.
func (s *linkService) Resolve(ctx context.Context, shortID string) (*models.AffiliateLink, error) {
	// Проверка кэша: кэшируются только активные ссылки
	link, err := s.cacheRepo.GetLink(ctx, shortID)
	if err == nil {
		return link, nil
	}

	// Запрос из БД
	link, err = s.linkRepo.GetByShortID(ctx, shortID)
	if err != nil {
		return nil, err
	}

	// Кэширование результата
	if err := s.cacheRepo.SetLink(ctx, shortID, link, resolveCacheTTL); err != nil {
		s.logger.Warn("Не удалось закэшировать ссылку", zap.Error(err))
	}

	return link, nil
}

// Lookup возвращает ссылку независимо от флага активности: история и метрики
// деактивированной ссылки остаются доступными. Кэш не используется.
func (s *linkService) Lookup(ctx context.Context, shortID string) (*models.AffiliateLink, error) {
	link, err := s.linkRepo.GetByShortID(ctx, shortID)
	if err != nil && !errors.Is(err, repository.ErrLinkInactive) {
		return nil, err
	}
	return link, nil
}

// Deactivate выключает ссылку. История кликов не затрагивается, строка
// остаётся в БД, short id навсегда остаётся занятым.
func (s *linkService) Deactivate(ctx context.Context, shortID string, requesterID int64) error {
	return s.setActive(ctx, shortID, requesterID, false)
}

// Reactivate включает ранее деактивированную ссылку
func (s *linkService) Reactivate(ctx context.Context, shortID string, requesterID int64) error {
	return s.setActive(ctx, shortID, requesterID, true)
}

func (s *linkService) setActive(ctx context.Context, shortID string, requesterID int64, active bool) error {
	link, err := s.linkRepo.GetByShortID(ctx, shortID)
	if err != nil && !errors.Is(err, repository.ErrLinkInactive) {
		return err
	}

	if link.OwnerID != requesterID {
		return ErrForbidden
	}

	if err := s.linkRepo.SetActive(ctx, shortID, active); err != nil {
		return err
	}

	// Инвалидация строго после записи в БД: удаление до неё оставило бы
	// конкурентному Resolve окно перечитать старую строку и закэшировать её
	// заново на весь TTL
	if err := s.cacheRepo.DeleteLink(ctx, shortID); err != nil {
		s.logger.Warn("Не удалось удалить ссылку из кэша", zap.Error(err))
	}

	// Повторное отложенное удаление: Resolve, прочитавший строку из БД до
	// записи флага, мог положить её в кэш уже после первой инвалидации
	time.AfterFunc(cacheInvalidateDelay, func() {
		delCtx, cancel := context.WithTimeout(context.Background(), cacheInvalidateExpiry)
		defer cancel()
		if err := s.cacheRepo.DeleteLink(delCtx, shortID); err != nil {
			s.logger.Warn("Не удалось повторно удалить ссылку из кэша", zap.Error(err))
		}
	})

	return nil
}

// Dashboard собирает сводку по ссылкам владельца
func (s *linkService) Dashboard(ctx context.Context, ownerID int64) (*models.Dashboard, error) {
	links, err := s.linkRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	top, err := s.linkRepo.TopByOwner(ctx, ownerID, 5)
	if err != nil {
		return nil, err
	}

	var totalClicks int64
	for _, l := range links {
		totalClicks += l.Clicks
	}

	dashboard := &models.Dashboard{
		TotalLinks:    int64(len(links)),
		TotalClicks:   totalClicks,
		RecentLinks:   links,
		TopPerforming: top,
	}
	if len(links) > 10 {
		dashboard.RecentLinks = links[:10]
	}
	if len(links) > 0 {
		dashboard.AvgClicksPerLink = float64(totalClicks) / float64(len(links))
	}

	return dashboard, nil
}

// TrackingURL возвращает полный трекинговый URL для short id
func (s *linkService) TrackingURL(shortID string) string {
	return s.baseURL + "/t/" + shortID
}

// generateShortID генерирует случайный short id длиной 8 символов
func (s *linkService) generateShortID() (string, error) {
	result := make([]byte, shortIDLength)
	for i := 0; i < shortIDLength; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[num.Int64()]
	}
	return string(result), nil
}

// validateInput проверяет URL и границы длины текстовых полей
func (s *linkService) validateInput(input *models.CreateLinkInput) error {
	if err := validateAbsoluteURL(input.OriginalURL); err != nil {
		return err
	}
	if input.AffiliateURL != "" {
		if err := validateAbsoluteURL(input.AffiliateURL); err != nil {
			return err
		}
	}

	switch {
	case input.Title == "" || len(input.Title) > maxTitleLength:
		return ErrInvalidInput
	case len(input.Description) > maxDescriptionLength:
		return ErrInvalidInput
	case len(input.Category) > maxCategoryLength:
		return ErrInvalidInput
	}

	return nil
}

// validateAbsoluteURL требует абсолютный http(s) URL с хостом
func validateAbsoluteURL(raw string) error {
	if raw == "" || len(raw) > maxURLLength {
		return ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}
