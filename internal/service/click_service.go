package service

import (
	"context"
	"strconv"
	"time"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"github.com/SergeiKhy/affiliate-tracker/internal/repository"
	"go.uber.org/zap"
)

const notifyTimeout = 5 * time.Second

// ClickService интерфейс записи кликов по трекинговым ссылкам
type ClickService interface {
	Record(ctx context.Context, event *models.ClickEvent) (*models.Click, error)
	GetStats(ctx context.Context, shortID string) (*models.ClickStats, error)
}

// clickService реализация записи кликов
type clickService struct {
	linkService LinkService
	clickRepo   repository.ClickRepository
	cacheRepo   repository.CacheRepository
	metrics     MetricsService
	notifier    Notifier
	dedupWindow time.Duration
	logger      *zap.Logger
}

// NewClickService создаёт новый экземпляр сервиса кликов
func NewClickService(
	linkService LinkService,
	clickRepo repository.ClickRepository,
	cacheRepo repository.CacheRepository,
	metrics MetricsService,
	notifier Notifier,
	dedupWindow time.Duration,
	logger *zap.Logger,
) ClickService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &clickService{
		linkService: linkService,
		clickRepo:   clickRepo,
		cacheRepo:   cacheRepo,
		metrics:     metrics,
		notifier:    notifier,
		dedupWindow: dedupWindow,
		logger:      logger,
	}
}

// Record записывает один клик. Сначала резолвится ссылка: клик по
// несуществующей или деактивированной ссылке не записывается вовсе.
// Пустые IP/user-agent/referrer не являются ошибкой — жёстко валидируется
// только сама ссылка.
func (s *clickService) Record(ctx context.Context, event *models.ClickEvent) (*models.Click, error) {
	link, err := s.linkService.Resolve(ctx, event.ShortID)
	if err != nil {
		return nil, err
	}

	click := &models.Click{
		LinkID:    link.ID,
		ShortID:   link.ShortID,
		UserID:    event.UserID,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Referrer:  event.Referrer,
		IsUnique:  s.dedupVerdict(ctx, link.ID, event),
		ClickedAt: time.Now(),
	}

	// Сырое событие пишется всегда, в том числе повтор внутри окна дедупликации:
	// повтор не попадает в уникальные, но остаётся в логе для аудита
	if err := s.clickRepo.RecordClick(ctx, click); err != nil {
		return nil, err
	}

	// Синхронная передача агрегатору: после успешного Record вызывающий сразу
	// видит обновлённые метрики своего клика. Ingest не возвращает ошибку —
	// при сбое агрегат пересобирается из уже записанного лога.
	s.metrics.Ingest(ctx, click)

	// Уведомление fire-and-forget: сбой коллаборатора не откатывает
	// и не задерживает запись клика
	if s.notifier != nil {
		go func(link models.AffiliateLink, click models.Click) {
			notifyCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			s.notifier.NotifyClick(notifyCtx, &link, &click)
		}(*link, *click)
	}

	return click, nil
}

// GetStats возвращает суммарную статистику ссылки
func (s *clickService) GetStats(ctx context.Context, shortID string) (*models.ClickStats, error) {
	return s.clickRepo.GetStats(ctx, shortID)
}

// dedupVerdict решает, попадает ли клик в уникальные: membership-тест в
// скользящем окне, а не вечный флаг. Тот же пользователь после истечения
// окна снова считается уникальным визитом. Вердикт принимается один раз
// и сохраняется на событии, чтобы пересчёт из лога дал те же числа.
func (s *clickService) dedupVerdict(ctx context.Context, linkID int64, event *models.ClickEvent) bool {
	identity := clickerIdentity(event)
	if identity == "" {
		// Ни user id, ни IP: дедуплицировать не по чему
		return true
	}

	first, err := s.cacheRepo.MarkSeen(ctx, linkID, identity, s.dedupWindow)
	if err != nil {
		// При недоступном окне считаем клик повтором, чтобы не завышать
		// счётчик уникальных
		s.logger.Warn("Сбой проверки окна дедупликации",
			zap.Int64("link_id", linkID),
			zap.Error(err),
		)
		return false
	}

	return first
}

// clickerIdentity выбирает идентичность кликера: user id, иначе IP
func clickerIdentity(event *models.ClickEvent) string {
	if event.UserID != nil {
		return "u:" + strconv.FormatInt(*event.UserID, 10)
	}
	if event.IPAddress != "" {
		return "ip:" + event.IPAddress
	}
	return ""
}
