// Package webhook реализует реконсайлер событий платёжного провайдера.
//
// Провайдер доставляет события как минимум один раз и без гарантий
// порядка. Реконсайлер применяет каждое событие не более одного раза
// (журнал webhook_events) и отбрасывает устаревшие события по их
// временной метке: старое "renewed" не перезапишет более позднее
// "canceled".
package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/entitlement-service/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-service/internal/models"
	"github.com/magabrotheeeer/entitlement-service/internal/services/entitlement"
	"github.com/magabrotheeeer/entitlement-service/internal/storage/repository"
)

// Типы событий провайдера, которые меняют состояние подписки.
const (
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionRenewed  = "subscription.renewed"
	EventSubscriptionCanceled = "subscription.canceled"
	EventPaymentFailed        = "payment.failed"
)

// Event нормализованное событие провайдера, разобранное обработчиком.
type Event struct {
	ID             string    // Внешний идентификатор события
	Type           string    // Тип события
	OccurredAt     time.Time // Время события по данным провайдера
	UserUID        string    // UID пользователя из метаданных
	SubscriptionID string    // Идентификатор подписки у провайдера
	PlanTier       string    // Тариф
	ExpiresAt      time.Time // Конец оплаченного периода
}

// Repository определяет методы хранилища, нужные реконсайлеру.
type Repository interface {
	MarkEventProcessed(ctx context.Context, event models.WebhookEvent) (bool, error)
	ApplySubscriptionEvent(ctx context.Context, event models.WebhookEvent, change repository.SubscriptionChange) (bool, bool, error)
}

// Cache нужен реконсайлеру только для инвалидации подписок.
type Cache interface {
	Invalidate(key string) error
}

// AuditPublisher публикует аудиторские события применённых изменений.
type AuditPublisher interface {
	Publish(routingKey string, event any) error
}

// Service реконсайлер событий провайдера.
type Service struct {
	repo  Repository
	cache Cache
	audit AuditPublisher
	log   *slog.Logger
}

// New создает новый Service.
func New(repo Repository, cache Cache, audit AuditPublisher, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		audit: audit,
		log:   log,
	}
}

// Process применяет событие провайдера к локальному состоянию подписки.
// Повторная доставка уже применённого события подтверждается без
// изменений, неизвестный тип события подтверждается и игнорируется.
func (s *Service) Process(ctx context.Context, event Event) error {
	const op = "services.webhook.Process"
	log := s.log.With(
		slog.String("op", op),
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
	)

	journalRow := models.WebhookEvent{
		EventID:   event.ID,
		EventType: event.Type,
		EventTime: event.OccurredAt,
	}

	change, ok := s.changeFor(event)
	if !ok {
		// Неизвестный тип журналируется, чтобы гасить повторные доставки.
		if _, err := s.repo.MarkEventProcessed(ctx, journalRow); err != nil {
			return err
		}
		log.Info("ignored unknown event type")
		return nil
	}

	// Журнал и изменение подписки фиксируются одной транзакцией: сбой
	// применения не оставляет событие в журнале, повторная доставка
	// применит его заново.
	firstTime, applied, err := s.repo.ApplySubscriptionEvent(ctx, journalRow, change)
	if err != nil {
		return err
	}
	if !firstTime {
		log.Info("duplicate event delivery acknowledged")
		return nil
	}
	if !applied {
		log.Info("stale event discarded", slog.Time("occurred_at", event.OccurredAt))
		return nil
	}

	if err := s.cache.Invalidate(entitlement.SubscriptionCacheKey(event.UserUID)); err != nil {
		log.Warn("failed to invalidate subscription cache", sl.Err(err))
	}
	if err := s.audit.Publish("subscription", map[string]any{
		"user_uid": event.UserUID,
		"action":   event.Type,
		"at":       event.OccurredAt,
	}); err != nil {
		log.Warn("failed to publish subscription audit event", sl.Err(err))
	}
	log.Info("event applied")
	return nil
}

// changeFor переводит тип события в изменение состояния подписки.
func (s *Service) changeFor(event Event) (repository.SubscriptionChange, bool) {
	change := repository.SubscriptionChange{
		UserUID:     event.UserUID,
		PlanTier:    event.PlanTier,
		StartedAt:   event.OccurredAt,
		ExpiresAt:   event.ExpiresAt,
		ExternalRef: event.SubscriptionID,
		EventTime:   event.OccurredAt,
	}

	switch event.Type {
	case EventSubscriptionCreated:
		change.NewStatus = models.SubscriptionActive
		change.Supersede = true
	case EventSubscriptionRenewed:
		change.NewStatus = models.SubscriptionActive
	case EventSubscriptionCanceled:
		change.NewStatus = models.SubscriptionCanceled
	case EventPaymentFailed:
		// Неоплаченное продление: подписка гаснет сразу, оплаченного
		// остатка к этому моменту уже нет.
		change.NewStatus = models.SubscriptionExpired
	default:
		return repository.SubscriptionChange{}, false
	}
	return change, true
}
