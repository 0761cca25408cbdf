package rabbitmq

import "github.com/streadway/amqp"

// AuditPublisher публикует аудиторские события в exchange "audit".
type AuditPublisher struct {
	ch *amqp.Channel
}

// NewAuditPublisher создаёт паблишер поверх открытого канала.
func NewAuditPublisher(ch *amqp.Channel) *AuditPublisher {
	return &AuditPublisher{ch: ch}
}

// Publish отправляет событие с указанным ключом маршрутизации.
func (p *AuditPublisher) Publish(routingKey string, event any) error {
	return PublishMessage(p.ch, "audit", routingKey, event)
}
