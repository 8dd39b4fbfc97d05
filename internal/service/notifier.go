package service

import (
	"context"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"go.uber.org/zap"
)

// Notifier — опциональный коллаборатор, вызываемый после успешной записи
// клика. Вызов best-effort: реализация не должна полагаться на то, что её
// ошибки кто-то увидит, кроме собственного лога.
type Notifier interface {
	NotifyClick(ctx context.Context, link *models.AffiliateLink, click *models.Click)
}

// logNotifier пишет уведомления в лог
type logNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logNotifier{logger: logger}
}

func (n *logNotifier) NotifyClick(_ context.Context, link *models.AffiliateLink, click *models.Click) {
	n.logger.Info("Клик по партнёрской ссылке",
		zap.String("short_id", link.ShortID),
		zap.String("title", link.Title),
		zap.Int64("click_id", click.ID),
		zap.Bool("unique", click.IsUnique),
	)
}
