package mocks

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"github.com/SergeiKhy/affiliate-tracker/internal/repository"
)

// MockLinkRepository implements repository.LinkRepository for testing
type MockLinkRepository struct {
	mu     sync.RWMutex
	links  map[string]*models.AffiliateLink
	nextID int64

	// ClickCounts lets tests control the click totals reported by
	// ListByOwner/TopByOwner without a real clicks table
	ClickCounts map[string]int64
}

func NewMockLinkRepository() *MockLinkRepository {
	return &MockLinkRepository{
		links:       make(map[string]*models.AffiliateLink),
		nextID:      1,
		ClickCounts: make(map[string]int64),
	}
}

func (m *MockLinkRepository) Create(ctx context.Context, link *models.AffiliateLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Uniqueness spans inactive rows too: a soft-deleted link keeps its id
	if _, exists := m.links[link.ShortID]; exists {
		return repository.ErrShortIDExists
	}

	link.ID = m.nextID
	m.nextID++
	m.links[link.ShortID] = link
	return nil
}

func (m *MockLinkRepository) GetByShortID(ctx context.Context, shortID string) (*models.AffiliateLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.links[shortID]
	if !exists {
		return nil, repository.ErrLinkNotFound
	}
	if !link.IsActive {
		return link, repository.ErrLinkInactive
	}
	return link, nil
}

func (m *MockLinkRepository) SetActive(ctx context.Context, shortID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, exists := m.links[shortID]
	if !exists {
		return repository.ErrLinkNotFound
	}
	// Compare-and-set like the real repository: flipping to the state the
	// row is already in is a distinct no-op, not a write
	if link.IsActive == active {
		return nil
	}
	link.IsActive = active
	return nil
}

func (m *MockLinkRepository) ListByOwner(ctx context.Context, ownerID int64) ([]models.LinkSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summaries []models.LinkSummary
	for _, link := range m.links {
		if link.OwnerID != ownerID || !link.IsActive {
			continue
		}
		summaries = append(summaries, models.LinkSummary{
			ShortID:   link.ShortID,
			Title:     link.Title,
			Category:  link.Category,
			Clicks:    m.ClickCounts[link.ShortID],
			CreatedAt: link.CreatedAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func (m *MockLinkRepository) TopByOwner(ctx context.Context, ownerID int64, limit int) ([]models.LinkSummary, error) {
	summaries, err := m.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Clicks > summaries[j].Clicks
	})
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// MockCacheRepository implements repository.CacheRepository for testing
type MockCacheRepository struct {
	mu    sync.Mutex
	cache map[string]*models.AffiliateLink
	seen  map[string]time.Time // dedup key -> window expiry
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		cache: make(map[string]*models.AffiliateLink),
		seen:  make(map[string]time.Time),
	}
}

func (m *MockCacheRepository) GetLink(ctx context.Context, shortID string) (*models.AffiliateLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, exists := m.cache[shortID]
	if !exists {
		return nil, repository.ErrLinkNotFound
	}
	return link, nil
}

func (m *MockCacheRepository) SetLink(ctx context.Context, shortID string, link *models.AffiliateLink, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[shortID] = link
	return nil
}

func (m *MockCacheRepository) DeleteLink(ctx context.Context, shortID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, shortID)
	return nil
}

func (m *MockCacheRepository) MarkSeen(ctx context.Context, linkID int64, identity string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dedupKey(linkID, identity)
	now := time.Now()
	if expiry, exists := m.seen[key]; exists && now.Before(expiry) {
		return false, nil
	}
	m.seen[key] = now.Add(window)
	return true, nil
}

func dedupKey(linkID int64, identity string) string {
	return strconv.FormatInt(linkID, 10) + ":" + identity
}

// MockClickRepository implements repository.ClickRepository for testing
type MockClickRepository struct {
	mu     sync.Mutex
	clicks []*models.Click
	nextID int64
}

func NewMockClickRepository() *MockClickRepository {
	return &MockClickRepository{nextID: 1}
}

func (m *MockClickRepository) RecordClick(ctx context.Context, click *models.Click) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	click.ID = m.nextID
	m.nextID++
	stored := *click
	m.clicks = append(m.clicks, &stored)
	return nil
}

func (m *MockClickRepository) GetStats(ctx context.Context, shortID string) (*models.ClickStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &models.ClickStats{ShortID: shortID}
	days := make(map[string]bool)
	for _, click := range m.clicks {
		if click.ShortID != shortID {
			continue
		}
		stats.TotalClicks++
		if click.IsUnique {
			stats.UniqueUsers++
		}
		days[click.ClickedAt.UTC().Format(models.DayFormat)] = true
	}
	stats.ActiveDays = int64(len(days))
	return stats, nil
}

func (m *MockClickRepository) CountByDay(ctx context.Context, linkID int64, day string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var clicks, uniques int64
	for _, click := range m.clicks {
		if click.LinkID != linkID || click.ClickedAt.UTC().Format(models.DayFormat) != day {
			continue
		}
		clicks++
		if click.IsUnique {
			uniques++
		}
	}
	return clicks, uniques, nil
}

// All returns a copy of the recorded click log
func (m *MockClickRepository) All() []models.Click {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Click, 0, len(m.clicks))
	for _, click := range m.clicks {
		out = append(out, *click)
	}
	return out
}

// MockMetricRepository implements repository.MetricRepository for testing
type MockMetricRepository struct {
	mu      sync.Mutex
	metrics map[string]*models.DailyMetric // "linkID:day" -> row

	// ClickLog, when set, backs RebuildLink the way the real clicks table does
	ClickLog *MockClickRepository

	// FailNextApplies makes the next N ApplyClick calls fail, for testing
	// the rebuild-from-log recovery path
	FailNextApplies int
	FailErr         error
}

func NewMockMetricRepository() *MockMetricRepository {
	return &MockMetricRepository{
		metrics: make(map[string]*models.DailyMetric),
	}
}

func metricKey(linkID int64, day string) string {
	return strconv.FormatInt(linkID, 10) + ":" + day
}

func (m *MockMetricRepository) ApplyClick(ctx context.Context, linkID int64, day string, unique bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNextApplies > 0 {
		m.FailNextApplies--
		return m.FailErr
	}

	row := m.row(linkID, day)
	row.Clicks++
	if unique {
		row.UniqueUsers++
	}
	return nil
}

func (m *MockMetricRepository) ApplyConversion(ctx context.Context, linkID int64, day string, revenueDelta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, exists := m.metrics[metricKey(linkID, day)]
	if !exists {
		return repository.ErrMetricNotFound
	}
	row.Conversions++
	row.Revenue += revenueDelta
	return nil
}

func (m *MockMetricRepository) GetRange(ctx context.Context, linkID int64, fromDay, toDay string) ([]models.DailyMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []models.DailyMetric
	for _, row := range m.metrics {
		if row.LinkID == linkID && row.Day >= fromDay && row.Day <= toDay {
			rows = append(rows, *row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Day < rows[j].Day })
	return rows, nil
}

func (m *MockMetricRepository) RebuildLink(ctx context.Context, linkID int64) error {
	if m.ClickLog == nil {
		return nil
	}

	// Days are bucketed in UTC, same as the real rebuild SQL
	counts := make(map[string][2]int64)
	for _, click := range m.ClickLog.All() {
		if click.LinkID != linkID {
			continue
		}
		day := click.ClickedAt.UTC().Format(models.DayFormat)
		c := counts[day]
		c[0]++
		if click.IsUnique {
			c[1]++
		}
		counts[day] = c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for day, c := range counts {
		row := m.row(linkID, day)
		row.Clicks = c[0]
		row.UniqueUsers = c[1]
	}
	return nil
}

// Get returns a copy of the row for assertions, or nil if absent
func (m *MockMetricRepository) Get(linkID int64, day string) *models.DailyMetric {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, exists := m.metrics[metricKey(linkID, day)]
	if !exists {
		return nil
	}
	copied := *row
	return &copied
}

// row returns the live row, creating it lazily. Caller must hold mu.
func (m *MockMetricRepository) row(linkID int64, day string) *models.DailyMetric {
	key := metricKey(linkID, day)
	row, exists := m.metrics[key]
	if !exists {
		row = &models.DailyMetric{LinkID: linkID, Day: day}
		m.metrics[key] = row
	}
	return row
}

// MockAnalysisRepository implements repository.AnalysisRepository for testing
type MockAnalysisRepository struct {
	mu      sync.Mutex
	entries map[string]*models.AnalysisEntry
}

func NewMockAnalysisRepository() *MockAnalysisRepository {
	return &MockAnalysisRepository{
		entries: make(map[string]*models.AnalysisEntry),
	}
}

func (m *MockAnalysisRepository) Get(ctx context.Context, key string) (*models.AnalysisEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		return nil, repository.ErrAnalysisNotCached
	}
	return entry, nil
}

func (m *MockAnalysisRepository) Set(ctx context.Context, entry *models.AnalysisEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Query] = entry
	return nil
}
