package models

import "time"

// Purchase успешная разовая покупка материала. Пара (IdentityKey, ContentSlug)
// уникальна: повторная покупка возвращает существующую запись, а не создаёт
// новую и не списывает деньги второй раз.
type Purchase struct {
	ID          int         `json:"id"`
	IdentityKey string      `json:"identity_key"` // UID пользователя или ID анонимной сессии
	ContentSlug string      `json:"content_slug"`
	ContentType ContentType `json:"content_type"`
	PricePaid   int         `json:"price_paid"`
	CreatedAt   time.Time   `json:"created_at"`
}
