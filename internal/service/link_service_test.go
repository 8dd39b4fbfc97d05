package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

const testBaseURL = "http://localhost:8080"

// setupLinkService создаёт тестовое окружение с моковыми репозиториями
func setupLinkService() (service.LinkService, *mocks.MockLinkRepository, *mocks.MockCacheRepository) {
	linkRepo := mocks.NewMockLinkRepository()
	cacheRepo := mocks.NewMockCacheRepository()
	logger, _ := zap.NewDevelopment()
	linkService := service.NewLinkService(linkRepo, cacheRepo, testBaseURL, logger)
	return linkService, linkRepo, cacheRepo
}

func validInput(ownerID int64) *models.CreateLinkInput {
	return &models.CreateLinkInput{
		OriginalURL:  "https://shop.example.com/product/42",
		AffiliateURL: "https://shop.example.com/product/42?ref=partner",
		Title:        "Беспроводные наушники",
		Category:     "electronics",
		OwnerID:      ownerID,
	}
}

// TestLinkService_Register_Success проверяет успешную регистрацию ссылки
func TestLinkService_Register_Success(t *testing.T) {
	linkService, _, _ := setupLinkService()

	ctx := context.Background()
	link, err := linkService.Register(ctx, validInput(1))

	require.NoError(t, err)
	assert.Len(t, link.ShortID, 8)
	assert.True(t, link.IsActive)
	assert.Equal(t, "https://shop.example.com/product/42", link.OriginalURL)
	assert.Equal(t, "https://shop.example.com/product/42?ref=partner", link.AffiliateURL)
	assert.NotZero(t, link.ID)
	assert.NotZero(t, link.CreatedAt)
}

// TestLinkService_Register_DefaultAffiliateURL проверяет, что при пустом
// affiliate URL редирект идёт на исходный URL
func TestLinkService_Register_DefaultAffiliateURL(t *testing.T) {
	linkService, _, _ := setupLinkService()

	input := validInput(1)
	input.AffiliateURL = ""

	ctx := context.Background()
	link, err := linkService.Register(ctx, input)

	require.NoError(t, err)
	assert.Equal(t, input.OriginalURL, link.AffiliateURL)
}

// TestLinkService_Register_InvalidURL проверяет отклонение невалидных URL
func TestLinkService_Register_InvalidURL(t *testing.T) {
	invalidURLs := []string{
		"",
		"not-a-url",
		"ftp://example.com/file",
		"example.com/no-scheme",
		"https://",
	}

	for _, url := range invalidURLs {
		linkService, _, _ := setupLinkService()
		input := validInput(1)
		input.OriginalURL = url

		ctx := context.Background()
		link, err := linkService.Register(ctx, input)

		assert.ErrorIs(t, err, service.ErrInvalidURL, "URL должен быть отклонён: %s", url)
		assert.Nil(t, link)
	}
}

// TestLinkService_Register_InvalidInput проверяет границы длины текстовых полей
func TestLinkService_Register_InvalidInput(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.CreateLinkInput)
	}{
		{"пустой заголовок", func(in *models.CreateLinkInput) { in.Title = "" }},
		{"слишком длинный заголовок", func(in *models.CreateLinkInput) { in.Title = strings.Repeat("a", 201) }},
		{"слишком длинное описание", func(in *models.CreateLinkInput) { in.Description = strings.Repeat("a", 1001) }},
		{"слишком длинная категория", func(in *models.CreateLinkInput) { in.Category = strings.Repeat("a", 101) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			linkService, _, _ := setupLinkService()
			input := validInput(1)
			tc.mutate(input)

			link, err := linkService.Register(context.Background(), input)

			assert.ErrorIs(t, err, service.ErrInvalidInput)
			assert.Nil(t, link)
		})
	}
}

// TestLinkService_Register_UniqueShortIDs проверяет уникальность выдаваемых short id
func TestLinkService_Register_UniqueShortIDs(t *testing.T) {
	linkService, _, _ := setupLinkService()

	ctx := context.Background()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		input := validInput(1)
		input.OriginalURL = fmt.Sprintf("https://shop.example.com/product/%d", i)

		link, err := linkService.Register(ctx, input)
		require.NoError(t, err)
		assert.NotContains(t, seen, link.ShortID, "short id должны быть уникальными")
		seen[link.ShortID] = true
	}
}

// collidingLinkRepo всегда отвечает коллизией short id
type collidingLinkRepo struct {
	mocks.MockLinkRepository
	attempts int
}

func (r *collidingLinkRepo) Create(ctx context.Context, link *models.AffiliateLink) error {
	r.attempts++
	return repository.ErrShortIDExists
}

// TestLinkService_Register_IDSpaceExhausted проверяет поведение при исчерпании
// попыток генерации short id
func TestLinkService_Register_IDSpaceExhausted(t *testing.T) {
	linkRepo := &collidingLinkRepo{}
	cacheRepo := mocks.NewMockCacheRepository()
	logger, _ := zap.NewDevelopment()
	linkService := service.NewLinkService(linkRepo, cacheRepo, testBaseURL, logger)

	link, err := linkService.Register(context.Background(), validInput(1))

	assert.ErrorIs(t, err, service.ErrIDSpaceExhausted)
	assert.Nil(t, link)
	assert.Equal(t, 5, linkRepo.attempts, "каждая коллизия должна давать новую попытку")
}

// TestLinkService_Resolve_FromCache проверяет, что регистрация кэширует ссылку
// и резолв читает её из кэша
func TestLinkService_Resolve_FromCache(t *testing.T) {
	linkService, _, cacheRepo := setupLinkService()

	ctx := context.Background()
	created, err := linkService.Register(ctx, validInput(1))
	require.NoError(t, err)

	cached, err := cacheRepo.GetLink(ctx, created.ShortID)
	require.NoError(t, err)
	assert.Equal(t, created.ShortID, cached.ShortID)

	resolved, err := linkService.Resolve(ctx, created.ShortID)
	require.NoError(t, err)
	assert.Equal(t, created.AffiliateURL, resolved.AffiliateURL)
}

// TestLinkService_Resolve_NotFound проверяет резолв несуществующей ссылки
func TestLinkService_Resolve_NotFound(t *testing.T) {
	linkService, _, _ := setupLinkService()

	link, err := linkService.Resolve(context.Background(), "nonexistent")

	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
	assert.Nil(t, link)
}

// TestLinkService_Deactivate_StopsResolve проверяет, что деактивированная
// ссылка различимо отклоняется при резолве, но остаётся доступной через Lookup
func TestLinkService_Deactivate_StopsResolve(t *testing.T) {
	linkService, _, _ := setupLinkService()

	ctx := context.Background()
	created, err := linkService.Register(ctx, validInput(1))
	require.NoError(t, err)

	require.NoError(t, linkService.Deactivate(ctx, created.ShortID, 1))

	// Резолв различает "выключена" и "не существует"
	_, err = linkService.Resolve(ctx, created.ShortID)
	assert.ErrorIs(t, err, repository.ErrLinkInactive)

	// История и метаданные остаются доступными
	link, err := linkService.Lookup(ctx, created.ShortID)
	require.NoError(t, err)
	assert.False(t, link.IsActive)
}

// TestLinkService_Deactivate_CacheCannotResurrect проверяет, что конкурентный
// Resolve не может надолго вернуть в кэш активную копию деактивированной
// ссылки: отложенная повторная инвалидация вычищает её
func TestLinkService_Deactivate_CacheCannotResurrect(t *testing.T) {
	linkService, _, cacheRepo := setupLinkService()

	ctx := context.Background()
	created, err := linkService.Register(ctx, validInput(1))
	require.NoError(t, err)
	require.NoError(t, linkService.Deactivate(ctx, created.ShortID, 1))

	// Имитация гонки: Resolve прочитал ещё активную строку из БД до записи
	// флага и кэширует её уже после первой инвалидации
	stale := *created
	stale.IsActive = true
	require.NoError(t, cacheRepo.SetLink(ctx, created.ShortID, &stale, time.Hour))

	// Отложенное повторное удаление вычищает устаревшую копию
	assert.Eventually(t, func() bool {
		_, err := cacheRepo.GetLink(ctx, created.ShortID)
		return errors.Is(err, repository.ErrLinkNotFound)
	}, 2*time.Second, 20*time.Millisecond, "устаревшая активная копия должна быть удалена из кэша")

	// После зачистки резолв снова отражает состояние БД
	_, err = linkService.Resolve(ctx, created.ShortID)
	assert.ErrorIs(t, err, repository.ErrLinkInactive)
}

// TestLinkService_SetActive_Idempotent проверяет, что перевод в уже текущее
// состояние - no-op, а не ошибка: конкурентная пара деактиваций не должна
// мешать друг другу
func TestLinkService_SetActive_Idempotent(t *testing.T) {
	linkService, _, _ := setupLinkService()

	ctx := context.Background()
	created, err := linkService.Register(ctx, validInput(1))
	require.NoError(t, err)

	require.NoError(t, linkService.Deactivate(ctx, created.ShortID, 1))
	require.NoError(t, linkService.Deactivate(ctx, created.ShortID, 1))

	require.NoError(t, linkService.Reactivate(ctx, created.ShortID, 1))
	require.NoError(t, linkService.Reactivate(ctx, created.ShortID, 1))

	resolved, err := linkService.Resolve(ctx, created.ShortID)
	require.NoError(t, err)
	assert.True(t, resolved.IsActive)
}

// TestLinkService_Reactivate проверяет повторное включение ссылки
func TestLinkService_Reactivate(t *testing.T) {
	linkService, _, _ := setupLinkService()

	ctx := context.Background()
	created, err := linkService.Register(ctx, validInput(1))
	require.NoError(t, err)

	require.NoError(t, linkService.Deactivate(ctx, created.ShortID, 1))
	require.NoError(t, linkService.Reactivate(ctx, created.ShortID, 1))

	resolved, err := linkService.Resolve(ctx, created.ShortID)
	require.NoError(t, err)
	assert.True(t, resolved.IsActive)
}

// TestLinkService_Deactivate_Forbidden проверяет, что деактивация доступна
// только владельцу ссылки
func TestLinkService_Deactivate_Forbidden(t *testing.T) {
	linkService, _, _ := setupLinkService()

	ctx := context.Background()
	created, err := linkService.Register(ctx, validInput(1))
	require.NoError(t, err)

	err = linkService.Deactivate(ctx, created.ShortID, 2)
	assert.ErrorIs(t, err, service.ErrForbidden)

	resolved, err := linkService.Resolve(ctx, created.ShortID)
	require.NoError(t, err)
	assert.True(t, resolved.IsActive)
}

// TestLinkService_Deactivate_NotFound проверяет деактивацию несуществующей ссылки
func TestLinkService_Deactivate_NotFound(t *testing.T) {
	linkService, _, _ := setupLinkService()

	err := linkService.Deactivate(context.Background(), "nonexistent", 1)
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}

// TestLinkService_ShortID_NotReusedAfterDeactivate проверяет, что short id
// деактивированной ссылки никогда не выдаётся заново
func TestLinkService_ShortID_NotReusedAfterDeactivate(t *testing.T) {
	linkService, linkRepo, _ := setupLinkService()

	ctx := context.Background()
	created, err := linkService.Register(ctx, validInput(1))
	require.NoError(t, err)
	require.NoError(t, linkService.Deactivate(ctx, created.ShortID, 1))

	// Попытка занять тот же short id напрямую упирается в уникальность,
	// которая распространяется и на неактивные строки
	err = linkRepo.Create(ctx, &models.AffiliateLink{
		ShortID:     created.ShortID,
		OriginalURL: "https://other.example.com",
		OwnerID:     2,
	})
	assert.ErrorIs(t, err, repository.ErrShortIDExists)
}

// TestLinkService_Dashboard проверяет сводку по ссылкам владельца
func TestLinkService_Dashboard(t *testing.T) {
	linkService, linkRepo, _ := setupLinkService()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		input := validInput(7)
		input.OriginalURL = fmt.Sprintf("https://shop.example.com/product/%d", i)
		link, err := linkService.Register(ctx, input)
		require.NoError(t, err)
		linkRepo.ClickCounts[link.ShortID] = int64((i + 1) * 10)
	}

	// Чужая ссылка не попадает в сводку
	_, err := linkService.Register(ctx, validInput(99))
	require.NoError(t, err)

	dashboard, err := linkService.Dashboard(ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, int64(3), dashboard.TotalLinks)
	assert.Equal(t, int64(60), dashboard.TotalClicks)
	assert.InDelta(t, 20.0, dashboard.AvgClicksPerLink, 0.001)
	require.NotEmpty(t, dashboard.TopPerforming)
	assert.Equal(t, int64(30), dashboard.TopPerforming[0].Clicks)
}

// TestLinkService_TrackingURL проверяет построение трекингового URL
func TestLinkService_TrackingURL(t *testing.T) {
	linkService, _, _ := setupLinkService()

	assert.Equal(t, testBaseURL+"/t/abc123", linkService.TrackingURL("abc123"))
}
