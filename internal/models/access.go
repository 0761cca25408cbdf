// Package models содержит доменные структуры сервиса энтайтлментов:
// результат проверки доступа, покупки, подписки, счётчики бесплатной квоты
// и события платёжного провайдера.
package models

// AccessReason причина, по которой доступ к контенту разрешён или запрещён.
type AccessReason string

const (
	// ReasonOwned — контент куплен этим пользователем или сессией.
	ReasonOwned AccessReason = "OWNED"
	// ReasonSubscribed — у пользователя активная подписка.
	ReasonSubscribed AccessReason = "SUBSCRIBED"
	// ReasonFreeQuota — доступ выдан в рамках бесплатной квоты периода.
	ReasonFreeQuota AccessReason = "FREE_QUOTA"
	// ReasonDenied — доступ запрещён.
	ReasonDenied AccessReason = "DENIED"
)

// AccessResult результат резолва доступа к одному материалу.
// RemainingQuota заполняется только для причины FREE_QUOTA.
type AccessResult struct {
	Granted        bool         `json:"granted"`
	Reason         AccessReason `json:"reason"`
	RemainingQuota *int         `json:"remaining_quota,omitempty"`
}
