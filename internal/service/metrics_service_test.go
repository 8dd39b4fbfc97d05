package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"github.com/SergeiKhy/affiliate-tracker/internal/repository"
	"github.com/SergeiKhy/affiliate-tracker/internal/service"
	"github.com/SergeiKhy/affiliate-tracker/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMetricsService создаёт агрегатор с моковым репозиторием метрик,
// лог кликов подключён для пересборки
func setupMetricsService() (service.MetricsService, *mocks.MockMetricRepository, *mocks.MockClickRepository) {
	clickRepo := mocks.NewMockClickRepository()
	metricRepo := mocks.NewMockMetricRepository()
	metricRepo.ClickLog = clickRepo
	logger, _ := zap.NewDevelopment()
	return service.NewMetricsService(metricRepo, logger), metricRepo, clickRepo
}

func day(s string) time.Time {
	t, err := time.Parse(models.DayFormat, s)
	if err != nil {
		panic(err)
	}
	return t
}

func clickAt(linkID int64, at time.Time, unique bool) *models.Click {
	return &models.Click{
		LinkID:    linkID,
		ShortID:   "testlink",
		IsUnique:  unique,
		ClickedAt: at,
	}
}

// TestMetricsService_Ingest_ConcurrentSameKey проверяет главный инвариант
// агрегатора: конкурентный Ingest N событий по одному ключу (link, day)
// не теряет ни одного инкремента
func TestMetricsService_Ingest_ConcurrentSameKey(t *testing.T) {
	metricsService, metricRepo, _ := setupMetricsService()

	const n = 200
	at := day("2026-08-27")

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			metricsService.Ingest(context.Background(), clickAt(1, at, i%2 == 0))
		}(i)
	}
	wg.Wait()

	row := metricRepo.Get(1, "2026-08-27")
	require.NotNil(t, row)
	assert.Equal(t, int64(n), row.Clicks, "итоговый счётчик должен быть ровно N")
	assert.Equal(t, int64(n/2), row.UniqueUsers)
}

// TestMetricsService_Ingest_SeparateKeys проверяет независимость счётчиков
// разных ключей (link, day)
func TestMetricsService_Ingest_SeparateKeys(t *testing.T) {
	metricsService, metricRepo, _ := setupMetricsService()

	ctx := context.Background()
	metricsService.Ingest(ctx, clickAt(1, day("2026-08-26"), true))
	metricsService.Ingest(ctx, clickAt(1, day("2026-08-27"), true))
	metricsService.Ingest(ctx, clickAt(2, day("2026-08-27"), true))

	assert.Equal(t, int64(1), metricRepo.Get(1, "2026-08-26").Clicks)
	assert.Equal(t, int64(1), metricRepo.Get(1, "2026-08-27").Clicks)
	assert.Equal(t, int64(1), metricRepo.Get(2, "2026-08-27").Clicks)
}

// TestMetricsService_Query_ZeroFill проверяет, что дни без кликов синтезируются
// нулевыми строками и результат отсортирован по возрастанию
func TestMetricsService_Query_ZeroFill(t *testing.T) {
	metricsService, _, _ := setupMetricsService()

	ctx := context.Background()
	metricsService.Ingest(ctx, clickAt(1, day("2026-08-22"), true))
	metricsService.Ingest(ctx, clickAt(1, day("2026-08-25"), true))
	metricsService.Ingest(ctx, clickAt(1, day("2026-08-25"), false))

	metrics, err := metricsService.Query(ctx, 1, day("2026-08-21"), day("2026-08-27"))
	require.NoError(t, err)

	// Включительный диапазон: 7 дней, включая оба конца
	require.Len(t, metrics, 7)
	assert.Equal(t, "2026-08-21", metrics[0].Day)
	assert.Equal(t, "2026-08-27", metrics[6].Day)
	assert.Equal(t, int64(0), metrics[0].Clicks)
	assert.Equal(t, int64(1), metrics[1].Clicks)
	assert.Equal(t, int64(2), metrics[4].Clicks)
	assert.Equal(t, int64(1), metrics[4].UniqueUsers)
}

// TestMetricsService_Query_SingleDay проверяет диапазон из одного дня
func TestMetricsService_Query_SingleDay(t *testing.T) {
	metricsService, _, _ := setupMetricsService()

	metrics, err := metricsService.Query(context.Background(), 1, day("2026-08-27"), day("2026-08-27"))
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, "2026-08-27", metrics[0].Day)
}

// TestMetricsService_Query_InvalidRange проверяет отклонение перевёрнутого диапазона
func TestMetricsService_Query_InvalidRange(t *testing.T) {
	metricsService, _, _ := setupMetricsService()

	metrics, err := metricsService.Query(context.Background(), 1, day("2026-08-27"), day("2026-08-20"))

	assert.ErrorIs(t, err, service.ErrInvalidRange)
	assert.Nil(t, metrics)
}

// TestMetricsService_RecordConversion проверяет учёт конверсий и выручки
func TestMetricsService_RecordConversion(t *testing.T) {
	metricsService, metricRepo, _ := setupMetricsService()

	ctx := context.Background()
	at := day("2026-08-27")
	metricsService.Ingest(ctx, clickAt(1, at, true))

	require.NoError(t, metricsService.RecordConversion(ctx, 1, at, 49.90))
	require.NoError(t, metricsService.RecordConversion(ctx, 1, at, 10.10))

	row := metricRepo.Get(1, "2026-08-27")
	require.NotNil(t, row)
	assert.Equal(t, int64(2), row.Conversions)
	assert.InDelta(t, 60.0, row.Revenue, 0.001)
}

// TestMetricsService_RecordConversion_BeforeClicks проверяет, что конверсия
// не может предшествовать кликам: для дня без строки она отклоняется
func TestMetricsService_RecordConversion_BeforeClicks(t *testing.T) {
	metricsService, _, _ := setupMetricsService()

	err := metricsService.RecordConversion(context.Background(), 1, day("2026-08-27"), 49.90)

	assert.ErrorIs(t, err, repository.ErrMetricNotFound)
}

// TestMetricsService_Rebuild_MatchesIncremental проверяет эквивалентность
// пересчёта: пересборка из лога даёт те же числа, что и инкрементальный путь
func TestMetricsService_Rebuild_MatchesIncremental(t *testing.T) {
	metricsService, metricRepo, clickRepo := setupMetricsService()

	ctx := context.Background()
	days := []string{"2026-08-25", "2026-08-26", "2026-08-27"}
	for i, d := range days {
		for j := 0; j <= i; j++ {
			click := clickAt(1, day(d), j == 0)
			require.NoError(t, clickRepo.RecordClick(ctx, click))
			metricsService.Ingest(ctx, click)
		}
	}

	incremental := make(map[string]models.DailyMetric)
	for _, d := range days {
		incremental[d] = *metricRepo.Get(1, d)
	}

	require.NoError(t, metricsService.Rebuild(ctx, 1))

	for _, d := range days {
		rebuilt := metricRepo.Get(1, d)
		require.NotNil(t, rebuilt)
		assert.Equal(t, incremental[d].Clicks, rebuilt.Clicks, "день %s", d)
		assert.Equal(t, incremental[d].UniqueUsers, rebuilt.UniqueUsers, "день %s", d)
	}
}

// TestMetricsService_UTCDayBucketing проверяет, что инкрементальный путь и
// пересборка из лога кладут клик в один и тот же UTC-день: поздний вечерний
// клик в западной таймзоне — это уже следующий день по UTC, и расхождение
// в выборе дня развело бы два пути по разным строкам агрегата
func TestMetricsService_UTCDayBucketing(t *testing.T) {
	metricsService, metricRepo, clickRepo := setupMetricsService()

	ctx := context.Background()
	// 23:30 в UTC-05:00 - это 04:30 следующего дня по UTC
	zone := time.FixedZone("UTC-5", -5*60*60)
	at := time.Date(2026, 8, 27, 23, 30, 0, 0, zone)

	click := clickAt(1, at, true)
	require.NoError(t, clickRepo.RecordClick(ctx, click))
	metricsService.Ingest(ctx, click)

	// Инкрементальный путь выбрал UTC-день, не локальный
	assert.Nil(t, metricRepo.Get(1, "2026-08-27"))
	incremental := metricRepo.Get(1, "2026-08-28")
	require.NotNil(t, incremental)
	assert.Equal(t, int64(1), incremental.Clicks)

	// Пересборка попадает в ту же строку и даёт те же числа
	require.NoError(t, metricsService.Rebuild(ctx, 1))
	rebuilt := metricRepo.Get(1, "2026-08-28")
	require.NotNil(t, rebuilt)
	assert.Equal(t, incremental.Clicks, rebuilt.Clicks)
	assert.Equal(t, incremental.UniqueUsers, rebuilt.UniqueUsers)
	assert.Nil(t, metricRepo.Get(1, "2026-08-27"), "строки в локальном дне быть не должно")
}

// TestMetricsService_Ingest_RebuildsAfterFailure проверяет восстановление после
// сбоя агрегации: воркер пересобирает счётчики из лога, ничего не теряя
// и не удваивая
func TestMetricsService_Ingest_RebuildsAfterFailure(t *testing.T) {
	metricsService, metricRepo, clickRepo := setupMetricsService()
	metricsService.Start()
	defer metricsService.Stop()

	ctx := context.Background()
	at := day("2026-08-27")

	// Первый клик успешно попадает в агрегат
	first := clickAt(1, at, true)
	require.NoError(t, clickRepo.RecordClick(ctx, first))
	metricsService.Ingest(ctx, first)

	// Второй клик записан в лог, но агрегация падает
	metricRepo.FailNextApplies = 1
	metricRepo.FailErr = errors.New("connection reset")

	failed := clickAt(1, at, false)
	require.NoError(t, clickRepo.RecordClick(ctx, failed))
	metricsService.Ingest(ctx, failed)

	// Воркер пересборки должен довести агрегат до состояния лога
	assert.Eventually(t, func() bool {
		row := metricRepo.Get(1, "2026-08-27")
		return row != nil && row.Clicks == 2 && row.UniqueUsers == 1
	}, 3*time.Second, 20*time.Millisecond, "агрегат должен сойтись с логом кликов")
}

// TestMetricsService_StartStop проверяет корректную остановку воркеров
func TestMetricsService_StartStop(t *testing.T) {
	metricsService, _, _ := setupMetricsService()

	metricsService.Start()
	metricsService.Stop()

	// Повторный Stop не должен паниковать
	metricsService.Stop()
}
