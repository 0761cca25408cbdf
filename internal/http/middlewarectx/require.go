package middlewarectx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-service/internal/http/response"
)

// RequireUser отклоняет запросы без авторизованного пользователя.
// Анонимной сессии недостаточно для операций с подписками.
func RequireUser(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, ok := r.Context().Value(UserUID).(string)
			if !ok || uid == "" {
				log.Error("authenticated user required")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("authenticated user required", response.CodeUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin пропускает только операторов. Единственный источник
// роли — claim токена провайдера аутентификации: легаси-флаг в cookie
// из старого админского контура здесь не признаётся.
func RequireAdmin(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := r.Context().Value(Role).(string)
			if !ok || role != "admin" {
				log.Error("operator role required", slog.String("role", role))
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("operator role required", response.CodeForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
