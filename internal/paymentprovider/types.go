package paymentprovider

// CreateChargeRequest запрос на разовое списание за покупку контента.
type CreateChargeRequest struct {
	Amount struct {
		Value    string `json:"value"`    // сумма в строке, например "100.00"
		Currency string `json:"currency"` // валюта
	} `json:"amount"`
	Description string            `json:"description"`
	Capture     bool              `json:"capture"`
	Metadata    map[string]string `json:"metadata"` // identity_key, content_slug и др.
}

// CreateChargeResponse ответ провайдера на списание.
type CreateChargeResponse struct {
	ID     string `json:"id"`     // payment ID провайдера
	Status string `json:"status"` // succeeded, pending, canceled
}

// Succeeded сообщает, что списание прошло.
func (r *CreateChargeResponse) Succeeded() bool {
	return r.Status == "succeeded"
}

// CreateCheckoutSessionRequest запрос на создание checkout-сессии подписки.
type CreateCheckoutSessionRequest struct {
	PlanTier  string            `json:"plan_tier"`
	ReturnURL string            `json:"return_url"`
	Metadata  map[string]string `json:"metadata"` // user_uid обязателен, вернётся в webhook
}

// Confirmation блок подтверждения checkout-сессии.
type Confirmation struct {
	ConfirmationURL string `json:"confirmation_url"`
}

// CreateCheckoutSessionResponse ответ с URL подтверждения.
type CreateCheckoutSessionResponse struct {
	ID           string       `json:"id"`
	Confirmation Confirmation `json:"confirmation"`
}
