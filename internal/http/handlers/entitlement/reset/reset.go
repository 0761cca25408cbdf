// Package reset реализует административный HTTP-обработчик сброса
// бесплатной квоты субъекта.
package reset

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/entitlement-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-service/internal/http/response"
	"github.com/magabrotheeeer/entitlement-service/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-service/internal/models"
	"github.com/magabrotheeeer/entitlement-service/internal/services/purchase"
)

// Request тело запроса сброса квоты.
// IdentityKey — ключ субъекта: UID пользователя либо идентификатор
// анонимной сессии.
type Request struct {
	IdentityKey string `json:"identity_key" validate:"required"`
}

// Service описывает интерфейс сброса квоты.
type Service interface {
	ResetEntitlements(ctx context.Context, actor models.Identity, identityKey string) (int, error)
}

// Handler обрабатывает административные запросы сброса квоты.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Сбросить бесплатную квоту
// @Description Удаляет записи об использовании бесплатной квоты субъекта
// за текущий период. Доступно только оператору.
// @Tags Entitlements
// @Accept  json
// @Produce  json
// @Param request body Request true "Субъект сброса"
// @Success 200 {object} map[string]any "Число удалённых записей"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 403 {object} response.ErrorResponse "Недостаточно прав"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка"
// @Router /entitlements/reset [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.reset"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body", response.CodeValidationError))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	actor := middlewarectx.IdentityFromContext(r.Context())
	removed, err := h.service.ResetEntitlements(r.Context(), actor, req.IdentityKey)
	if err != nil {
		if errors.Is(err, purchase.ErrForbidden) {
			log.Error("reset denied", slog.String("actor_uid", actor.UserUID))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error("operator role required", response.CodeForbidden))
			return
		}
		log.Error("failed to reset entitlements", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not reset entitlements", response.CodeInternal))
		return
	}

	log.Info("entitlements reset", slog.String("identity_key", req.IdentityKey), slog.Int("removed", removed))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"removed": removed,
	}))
}
