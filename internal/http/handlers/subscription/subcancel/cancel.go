// Package subcancel реализует HTTP-обработчик отмены подписки.
package subcancel

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-service/internal/http/response"
	"github.com/magabrotheeeer/entitlement-service/internal/lib/sl"
)

// Service описывает интерфейс отмены подписки.
type Service interface {
	CancelSubscription(ctx context.Context, userUID string) (bool, error)
}

// Handler обрабатывает запросы отмены подписки.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Отменить подписку
// @Description Переводит активную подписку пользователя в статус canceled.
// Повторная отмена и отмена без активной подписки возвращают 200 без изменений.
// @Tags Subscriptions
// @Produce  json
// @Success 200 {object} map[string]any "Результат отмены"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка"
// @Router /subscriptions/cancel [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.cancel"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	identity := middlewarectx.IdentityFromContext(r.Context())
	if identity.IsAnonymous() {
		log.Error("user uid not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized", response.CodeUnauthorized))
		return
	}

	canceled, err := h.service.CancelSubscription(r.Context(), identity.UserUID)
	if err != nil {
		log.Error("failed to cancel subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not cancel subscription", response.CodeInternal))
		return
	}

	log.Info("cancel subscription handled", slog.Bool("canceled", canceled))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"canceled": canceled,
	}))
}
