package models

import "time"

// Статусы подписки. Записи никогда не удаляются физически:
// отменённые и истёкшие подписки остаются для аудита.
const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
	SubscriptionExpired  = "expired"
)

// Subscription подписка пользователя. У пользователя в любой момент
// не больше одной активной подписки, это закреплено частичным
// уникальным индексом в хранилище.
type Subscription struct {
	ID          int        // Внутренний идентификатор
	UserUID     string     // UID владельца
	Status      string     // active, canceled или expired
	PlanTier    string     // Тариф подписки
	StartedAt   time.Time  // Дата начала
	ExpiresAt   time.Time  // Дата окончания оплаченного периода
	ExternalRef string     // Идентификатор подписки у платёжного провайдера
	LastEventAt *time.Time // Время последнего применённого события провайдера
}

// IsActive сообщает, действует ли подписка на момент now.
// Истёкшая по сроку подписка считается отсутствующей, даже если
// событие провайдера о её истечении ещё не пришло.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == SubscriptionActive && s.ExpiresAt.After(now)
}
