// Package middlewarectx содержит HTTP middleware извлечения идентичности.
//
// IdentityMiddleware проверяет JWT внешнего провайдера аутентификации в
// заголовке Authorization. Если токена нет, субъект определяется по
// заголовку X-Session-ID (анонимная сессия). Запрос без того и другого
// отклоняется с 401: без субъекта нечего резолвить и не на кого писать
// покупки.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-service/internal/http/response"
	"github.com/magabrotheeeer/entitlement-service/internal/lib/jwt"
	"github.com/magabrotheeeer/entitlement-service/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-service/internal/models"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// UserUID — ключ UID пользователя в контексте
	UserUID Key = "user_uid"
	// Role — ключ роли пользователя в контексте
	Role Key = "role"
	// SessionID — ключ анонимной сессии в контексте
	SessionID Key = "session_id"
)

// TokenParser описывает интерфейс проверки JWT токена.
type TokenParser interface {
	ParseToken(tokenStr string) (*jwt.CustomClaims, error)
}

// IdentityMiddleware возвращает HTTP middleware, определяющий субъект запроса.
//
// Валидный Bearer-токен кладёт в контекст UID и роль пользователя,
// его отсутствие — идентификатор анонимной сессии из X-Session-ID.
// Невалидный токен и запрос без субъекта отклоняются с 401.
func IdentityMiddleware(parser TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.IdentityMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				if !strings.HasPrefix(authHeader, "Bearer ") {
					log.Error("invalid authorization header")
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, response.Error("missing or invalid authorization header", response.CodeUnauthorized))
					return
				}
				tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
				claims, err := parser.ParseToken(tokenStr)
				if err != nil {
					log.Error("invalid or expired token", sl.Err(err))
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, response.Error("invalid or expired token", response.CodeUnauthorized))
					return
				}
				ctx := context.WithValue(r.Context(), UserUID, claims.UserUID)
				ctx = context.WithValue(ctx, Role, claims.Role)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			sessionID := r.Header.Get("X-Session-ID")
			if sessionID == "" {
				log.Error("request without user token or session id")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("identity required", response.CodeUnauthorized))
				return
			}
			ctx := context.WithValue(r.Context(), SessionID, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext собирает models.Identity из контекста запроса.
func IdentityFromContext(ctx context.Context) models.Identity {
	identity := models.Identity{}
	if uid, ok := ctx.Value(UserUID).(string); ok {
		identity.UserUID = uid
	}
	if role, ok := ctx.Value(Role).(string); ok {
		identity.Role = role
	}
	if sessionID, ok := ctx.Value(SessionID).(string); ok {
		identity.SessionID = sessionID
	}
	return identity
}
