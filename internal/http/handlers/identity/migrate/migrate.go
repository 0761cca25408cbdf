// Package migrate реализует HTTP-обработчик переноса анонимной сессии
// на пользователя после логина.
package migrate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/entitlement-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-service/internal/http/response"
	"github.com/magabrotheeeer/entitlement-service/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-service/internal/models"
)

// Request тело запроса переноса сессии.
type Request struct {
	SessionID string `json:"session_id" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
}

// Service описывает интерфейс переноса анонимной сессии.
type Service interface {
	MigrateIdentity(ctx context.Context, sessionID string, user models.User) error
}

// Handler обрабатывает запросы переноса сессии.
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
// @Summary Перенести анонимную сессию на пользователя
// @Description Перекладывает покупки и засчитанную бесплатную квоту
// анонимной сессии на авторизованного пользователя.
// @Tags Identity
// @Accept  json
// @Produce  json
// @Param request body Request true "Идентификатор сессии"
// @Success 200 {object} response.Response "Сессия перенесена"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка"
// @Router /identity/migrate [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.identity.migrate"
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
	if identity.IsAnonymous() {
		log.Error("user uid not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized", response.CodeUnauthorized))
		return
	}

	user := models.User{
		UID:   identity.UserUID,
		Email: req.Email,
		Role:  identity.Role,
	}
	if err := h.service.MigrateIdentity(r.Context(), req.SessionID, user); err != nil {
		log.Error("failed to migrate identity", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not migrate session", response.CodeInternal))
		return
	}

	log.Info("session migrated", slog.String("session_id", req.SessionID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"migrated": true,
	}))
}
