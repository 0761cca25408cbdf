package models

import "time"

// WebhookEvent запись журнала обработанных событий провайдера.
// Уникальность EventID гарантирует, что одно и то же событие
// никогда не применяется к состоянию подписки дважды.
type WebhookEvent struct {
	EventID     string    // Внешний идентификатор события
	EventType   string    // Тип события провайдера
	EventTime   time.Time // Время события по данным провайдера
	ProcessedAt time.Time // Время применения события сервисом
}
