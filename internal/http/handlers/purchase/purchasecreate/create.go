// Package purchasecreate реализует HTTP-обработчик разовой покупки материала.
//
// Повторная покупка того же материала не создаёт дубликата и не списывает
// деньги второй раз: клиент получает уже существующую запись как успех.
package purchasecreate

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
	purchaseservice "github.com/magabrotheeeer/entitlement-service/internal/services/purchase"
)

// Request тело запроса покупки.
type Request struct {
	ContentSlug string `json:"content_slug" validate:"required"`
}

// Service описывает интерфейс мутатора покупок.
type Service interface {
	Purchase(ctx context.Context, identity models.Identity, slug string) (*models.Purchase, error)
}

// Handler обрабатывает запросы покупки контента.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Мутатор покупок
	validate *validator.Validate // Валидатор структуры входящих данных
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
// @Summary Купить материал
// @Description Выполняет разовую покупку материала для текущего субъекта.
// @Tags Purchases
// @Accept  json
// @Produce  json
// @Param request body Request true "Слаг материала"
// @Success 200 {object} map[string]any "Покупка создана или уже существовала"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 402 {object} response.ErrorResponse "Платёж отклонён"
// @Failure 404 {object} response.ErrorResponse "Неизвестный слаг"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /purchases [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.purchase.create"
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

	identity := middlewarectx.IdentityFromContext(r.Context())

	purchase, err := h.service.Purchase(r.Context(), identity, req.ContentSlug)
	switch {
	case errors.Is(err, purchaseservice.ErrAlreadyOwned):
		// Успех-эквивалент: возвращаем существующую запись, не дубликат.
		log.Info("repeat purchase returned existing record", slog.Int("purchase_id", purchase.ID))
		render.JSON(w, r, response.OKWithData(purchase))
		return
	case errors.Is(err, purchaseservice.ErrInvalidSlug):
		log.Error("invalid content slug", slog.String("slug", req.ContentSlug))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("unknown content", response.CodeNotFound))
		return
	case errors.Is(err, purchaseservice.ErrPaymentFailed):
		log.Error("payment failed", slog.String("slug", req.ContentSlug))
		w.WriteHeader(http.StatusPaymentRequired)
		render.JSON(w, r, response.Error("payment failed", response.CodePaymentFailed))
		return
	case err != nil:
		log.Error("failed to create purchase", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not create purchase", response.CodeInternal))
		return
	}

	log.Info("purchase created", slog.Int("purchase_id", purchase.ID))
	render.JSON(w, r, response.OKWithData(purchase))
}
