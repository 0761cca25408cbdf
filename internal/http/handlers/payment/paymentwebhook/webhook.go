// Package paymentwebhook реализует HTTP-обработчик вебхуков платёжного
// провайдера. Подпись проверяется по сырому телу запроса до разбора JSON,
// запрос с невалидной подписью не приводит ни к каким изменениям.
package paymentwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/entitlement-service/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-service/internal/services/webhook"
)

// Service описывает интерфейс применения события провайдера.
type Service interface {
	Process(ctx context.Context, event webhook.Event) error
}

// Handler обрабатывает вебхуки провайдера.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string // Секрет для проверки подписи
}

// New создает новый Handler с переданными логгером, сервисом и секретом подписи.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
	}
}

// Payload формат тела вебхука провайдера.
type Payload struct {
	ID         string    `json:"id"`          // идентификатор события
	Event      string    `json:"event"`       // тип события
	OccurredAt time.Time `json:"occurred_at"` // время события по часам провайдера
	Object     struct {
		ID        string            `json:"id"`         // идентификатор подписки у провайдера
		PlanTier  string            `json:"plan_tier"`  // тариф
		ExpiresAt time.Time         `json:"expires_at"` // конец оплаченного периода
		Metadata  map[string]string `json:"metadata"`   // для user_uid и др.
	} `json:"object"`
}

// Проверка подписи webhook (X-Api-Signature)
func (h *Handler) verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

// ServeHTTP godoc
// @Summary Принять вебхук платёжного провайдера
// @Description Проверяет подпись по сырому телу, применяет событие подписки.
// Повторная доставка и неизвестные типы событий подтверждаются 200.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Success 200 "Событие подтверждено"
// @Failure 400 {string} string "Невалидная подпись или тело"
// @Failure 500 {string} string "Ошибка применения события"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Api-Signature")
	if signature == "" || !h.verifySignature(h.webhookSecret, body, signature) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if payload.ID == "" || payload.Event == "" {
		log.Error("webhook payload without event id or type")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event := webhook.Event{
		ID:             payload.ID,
		Type:           payload.Event,
		OccurredAt:     payload.OccurredAt,
		UserUID:        payload.Object.Metadata["user_uid"],
		SubscriptionID: payload.Object.ID,
		PlanTier:       payload.Object.PlanTier,
		ExpiresAt:      payload.Object.ExpiresAt,
	}
	if err := h.service.Process(r.Context(), event); err != nil {
		log.Error("failed to process webhook event", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	log.Info("webhook processed successfully",
		slog.String("event", payload.Event), slog.String("event_id", payload.ID))
	w.WriteHeader(http.StatusOK)
}
