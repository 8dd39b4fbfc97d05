package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"github.com/SergeiKhy/affiliate-tracker/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrUpstreamUnavailable = errors.New("провайдер анализа недоступен")

// Таймаут обращений к кэшу анализов, настраивается независимо от таймаутов
// агрегатора метрик
const analysisCacheTimeout = 5 * time.Second

// AnalysisFetchFunc — вызов внешнего провайдера анализа: дорогой, медленный
// и с лимитом запросов
type AnalysisFetchFunc func(ctx context.Context, query string) (string, error)

// AnalysisService кэширует AI-анализы ниш с ограниченной свежестью
type AnalysisService interface {
	GetOrFetch(ctx context.Context, query string, fetch AnalysisFetchFunc) (string, error)
}

// analysisService реализация кэша поверх singleflight
type analysisService struct {
	analysisRepo    repository.AnalysisRepository
	group           singleflight.Group
	cacheTTL        time.Duration
	upstreamTimeout time.Duration
	logger          *zap.Logger
}

// NewAnalysisService создаёт новый экземпляр кэша анализов
func NewAnalysisService(analysisRepo repository.AnalysisRepository, cacheTTL, upstreamTimeout time.Duration, logger *zap.Logger) AnalysisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &analysisService{
		analysisRepo:    analysisRepo,
		cacheTTL:        cacheTTL,
		upstreamTimeout: upstreamTimeout,
		logger:          logger,
	}
}

// GetOrFetch возвращает анализ из кэша или выполняет ровно один запрос к
// провайдеру на ключ: конкурентные вызовы по одному ключу схлопываются в
// singleflight и все получают общий результат — или общую ошибку. Неудачный
// запрос не кэшируется, следующий вызов повторит попытку.
func (s *analysisService) GetOrFetch(ctx context.Context, query string, fetch AnalysisFetchFunc) (string, error) {
	key := NormalizeQuery(query)
	if key == "" {
		return "", ErrInvalidInput
	}

	payload, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.lookupOrFetch(key, fetch)
	})
	if err != nil {
		return "", err
	}

	if shared {
		s.logger.Debug("Результат анализа разделён между конкурентными вызовами",
			zap.String("key", key),
		)
	}

	return payload.(string), nil
}

func (s *analysisService) lookupOrFetch(key string, fetch AnalysisFetchFunc) (interface{}, error) {
	// Таймауты считаем от Background: отмена контекста одного из ожидающих
	// вызовов не должна ронять общий для всех запрос
	lookupCtx, cancel := context.WithTimeout(context.Background(), analysisCacheTimeout)
	entry, err := s.analysisRepo.Get(lookupCtx, key)
	cancel()

	if err == nil {
		return entry.Payload, nil
	}
	if !errors.Is(err, repository.ErrAnalysisNotCached) {
		s.logger.Warn("Сбой чтения кэша анализов, идём к провайдеру", zap.Error(err))
	}

	// Просроченная или отсутствующая запись: ровно один запрос к провайдеру,
	// ограниченный таймаутом
	fetchCtx, cancel := context.WithTimeout(context.Background(), s.upstreamTimeout)
	defer cancel()

	payload, err := fetch(fetchCtx, key)
	if err != nil {
		// Ошибки не кэшируются: никакого negative caching
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	now := time.Now()
	storeEntry := &models.AnalysisEntry{
		Query:     key,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cacheTTL),
	}

	storeCtx, cancel := context.WithTimeout(context.Background(), analysisCacheTimeout)
	defer cancel()
	if err := s.analysisRepo.Set(storeCtx, storeEntry); err != nil {
		// Результат уже получен: отдаём его, просто без кэша
		s.logger.Warn("Не удалось закэшировать анализ", zap.String("key", key), zap.Error(err))
	}

	return payload, nil
}

// NormalizeQuery приводит запрос к каноническому ключу кэша: нижний регистр,
// схлопнутые пробелы. Семантически одинаковые запросы делят одну запись.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}
