package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"github.com/SergeiKhy/affiliate-tracker/internal/repository"
	"go.uber.org/zap"
)

var ErrInvalidRange = errors.New("невалидный диапазон дат")

// Константы воркера повторной агрегации
const (
	lockShardCount     = 64
	retryChannelBuffer = 1000
	retryWorkerCount   = 2
	maxRebuildRetries  = 3
	applyTimeout       = 5 * time.Second
)

// MetricsService агрегирует клики в дневные счётчики per (link, day).
// Агрегат — производное от лога кликов представление: пересчёт с нуля обязан
// давать те же числа, что и инкрементальное обновление.
type MetricsService interface {
	Start()
	Stop()
	Ingest(ctx context.Context, click *models.Click)
	Query(ctx context.Context, linkID int64, fromDay, toDay time.Time) ([]models.DailyMetric, error)
	RecordConversion(ctx context.Context, linkID int64, day time.Time, revenueDelta float64) error
	Rebuild(ctx context.Context, linkID int64) error
}

// metricsService реализация агрегатора с шардированными замками по ключу
type metricsService struct {
	metricRepo repository.MetricRepository
	logger     *zap.Logger

	// Шардированные мьютексы по ключу (link, day): обновления одного ключа
	// сериализуются, разные ключи не проходят через общий глобальный замок
	shards [lockShardCount]sync.Mutex

	retryChannel chan int64 // link id на пересборку после сбоя агрегации
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewMetricsService создаёт новый экземпляр агрегатора
func NewMetricsService(metricRepo repository.MetricRepository, logger *zap.Logger) MetricsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &metricsService{
		metricRepo:   metricRepo,
		logger:       logger,
		retryChannel: make(chan int64, retryChannelBuffer),
	}
}

// Start запускает воркеры повторной агрегации
func (s *metricsService) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Info("Запуск воркеров агрегации метрик", zap.Int("count", retryWorkerCount))

	for i := 0; i < retryWorkerCount; i++ {
		s.wg.Add(1)
		go s.retryWorker(i)
	}
}

// Stop корректно останавливает воркеры
func (s *metricsService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Агрегатор метрик остановлен")
}

// Ingest применяет один клик к дневному счётчику. Никогда не возвращает
// ошибку вызывающему: сырой клик уже записан и остаётся источником истины,
// при сбое агрегат пересобирается из лога асинхронно.
func (s *metricsService) Ingest(ctx context.Context, click *models.Click) {
	// Календарный день считается в UTC, как и в SQL пересборки: оба пути
	// обязаны класть клик в одну и ту же строку (link, day)
	day := click.ClickedAt.UTC().Format(models.DayFormat)

	applyCtx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	shard := s.shardFor(click.LinkID, day)
	shard.Lock()
	err := s.metricRepo.ApplyClick(applyCtx, click.LinkID, day, click.IsUnique)
	shard.Unlock()

	if err != nil {
		s.logger.Warn("Не удалось применить клик к агрегату, ставим пересборку в очередь",
			zap.Int64("link_id", click.LinkID),
			zap.String("day", day),
			zap.Error(err),
		)
		s.scheduleRebuild(click.LinkID)
	}
}

// Query возвращает метрики за включительный диапазон дней по возрастанию.
// Дни без единого клика синтезируются нулевыми строками, поэтому длина
// результата всегда равна числу дней в диапазоне.
func (s *metricsService) Query(ctx context.Context, linkID int64, fromDay, toDay time.Time) ([]models.DailyMetric, error) {
	from := truncateToDay(fromDay)
	to := truncateToDay(toDay)
	if to.Before(from) {
		return nil, ErrInvalidRange
	}

	rows, err := s.metricRepo.GetRange(ctx, linkID, from.Format(models.DayFormat), to.Format(models.DayFormat))
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]models.DailyMetric, len(rows))
	for _, row := range rows {
		byDay[row.Day] = row
	}

	var metrics []models.DailyMetric
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		key := day.Format(models.DayFormat)
		if m, ok := byDay[key]; ok {
			metrics = append(metrics, m)
		} else {
			metrics = append(metrics, models.DailyMetric{LinkID: linkID, Day: key})
		}
	}

	return metrics, nil
}

// RecordConversion инкрементирует конверсии и выручку атомарно относительно
// конкурентных Ingest по тому же ключу. Для дня без единого клика строки нет,
// и конверсия отклоняется: конверсия не может предшествовать кликам.
func (s *metricsService) RecordConversion(ctx context.Context, linkID int64, day time.Time, revenueDelta float64) error {
	key := truncateToDay(day).Format(models.DayFormat)

	applyCtx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	shard := s.shardFor(linkID, key)
	shard.Lock()
	defer shard.Unlock()

	return s.metricRepo.ApplyConversion(applyCtx, linkID, key, revenueDelta)
}

// Rebuild пересчитывает дневные счётчики ссылки из лога кликов с нуля.
// Операция идемпотентна: счётчики выставляются в пересчитанные значения,
// а не инкрементируются, поэтому её безопасно повторять.
func (s *metricsService) Rebuild(ctx context.Context, linkID int64) error {
	return s.metricRepo.RebuildLink(ctx, linkID)
}

// scheduleRebuild ставит ссылку в очередь на пересборку агрегата
func (s *metricsService) scheduleRebuild(linkID int64) {
	select {
	case s.retryChannel <- linkID:
	default:
		// Очередь заполнена: лог кликов не потерян, пересборку можно
		// запустить вручную через Rebuild
		s.logger.Error("Очередь пересборки метрик заполнена",
			zap.Int64("link_id", linkID),
		)
	}
}

// retryWorker пересобирает агрегаты из лога после сбоев записи
func (s *metricsService) retryWorker(id int) {
	defer s.wg.Done()

	s.logger.Debug("Воркер пересборки метрик запущен", zap.Int("id", id))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Воркер пересборки метрик остановлен", zap.Int("id", id))
			return

		case linkID, ok := <-s.retryChannel:
			if !ok {
				return
			}
			s.rebuildWithRetry(linkID)
		}
	}
}

// rebuildWithRetry повторяет пересборку с backoff. Инкремент не повторяется:
// после неоднозначного сбоя (например, таймаута) повторный инкремент мог бы
// удвоить счётчик, а пересчёт из лога детерминирован.
func (s *metricsService) rebuildWithRetry(linkID int64) {
	for i := 0; i < maxRebuildRetries; i++ {
		ctx, cancel := context.WithTimeout(s.ctx, applyTimeout)
		err := s.metricRepo.RebuildLink(ctx, linkID)
		cancel()

		if err == nil {
			return
		}

		if i < maxRebuildRetries-1 {
			s.logger.Debug("Повторная попытка пересборки метрик",
				zap.Int64("link_id", linkID),
				zap.Int("attempt", i+1),
				zap.Error(err),
			)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}

	s.logger.Error("Не удалось пересобрать метрики после всех попыток",
		zap.Int64("link_id", linkID),
	)
}

// shardFor выбирает мьютекс для ключа (link, day)
func (s *metricsService) shardFor(linkID int64, day string) *sync.Mutex {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(linkID >> (8 * i))
	}
	h.Write(buf[:])
	h.Write([]byte(day))
	return &s.shards[h.Sum32()%lockShardCount]
}

// truncateToDay обрезает момент времени до его календарного дня в UTC
func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
