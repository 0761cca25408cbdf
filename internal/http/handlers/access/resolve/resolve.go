// Package resolve реализует HTTP-обработчик проверки доступа к материалу.
//
// Handler извлекает субъект из контекста, валидирует слаг из query-параметра
// и возвращает решение резолвера: выдан ли доступ и по какой причине.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-service/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-service/internal/http/response"
	"github.com/magabrotheeeer/entitlement-service/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-service/internal/models"
	"github.com/magabrotheeeer/entitlement-service/internal/services/entitlement"
)

// Service описывает интерфейс резолвера доступа.
type Service interface {
	Resolve(ctx context.Context, identity models.Identity, slug string) (models.AccessResult, error)
}

// Handler обрабатывает запросы проверки доступа.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Резолвер энтайтлментов
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Проверить доступ к материалу
// @Description Возвращает решение о доступе текущего субъекта к материалу и причину.
// @Tags Access
// @Produce  json
// @Param slug query string true "Слаг материала"
// @Success 200 {object} map[string]any "Решение о доступе"
// @Failure 400 {object} response.ErrorResponse "Отсутствует слаг"
// @Failure 404 {object} response.ErrorResponse "Неизвестный слаг"
// @Router /access [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.resolve"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	slug := r.URL.Query().Get("slug")
	if slug == "" {
		log.Error("missing slug query parameter")
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("missing slug", response.CodeValidationError))
		return
	}

	identity := middlewarectx.IdentityFromContext(r.Context())

	result, err := h.service.Resolve(r.Context(), identity, slug)
	if err != nil {
		if errors.Is(err, entitlement.ErrUnknownContent) {
			log.Error("unknown content slug", slog.String("slug", slug))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("unknown content", response.CodeNotFound))
			return
		}
		log.Error("failed to resolve access", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not resolve access", response.CodeInternal))
		return
	}

	log.Info("access resolved",
		slog.String("slug", slug),
		slog.Bool("granted", result.Granted),
		slog.String("reason", string(result.Reason)))
	render.JSON(w, r, response.OKWithData(result))
}
