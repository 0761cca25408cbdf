// Package entitlementservice предоставляет маршруты основного приложения.
package entitlementservice

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/entitlement-service/internal/http/handlers/access/resolve"
	"github.com/magabrotheeeer/entitlement-service/internal/http/handlers/entitlement/reset"
	"github.com/magabrotheeeer/entitlement-service/internal/http/handlers/health"
	"github.com/magabrotheeeer/entitlement-service/internal/http/handlers/identity/migrate"
	"github.com/magabrotheeeer/entitlement-service/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/entitlement-service/internal/http/handlers/purchase/purchasecreate"
	"github.com/magabrotheeeer/entitlement-service/internal/http/handlers/subscription/subcancel"
	"github.com/magabrotheeeer/entitlement-service/internal/http/handlers/subscription/subcreate"
	"github.com/magabrotheeeer/entitlement-service/internal/http/middlewarectx"
	entitlementsvc "github.com/magabrotheeeer/entitlement-service/internal/services/entitlement"
	purchasesvc "github.com/magabrotheeeer/entitlement-service/internal/services/purchase"
	webhooksvc "github.com/magabrotheeeer/entitlement-service/internal/services/webhook"
)

// RouteDeps зависимости маршрутов приложения.
type RouteDeps struct {
	Entitlements  *entitlementsvc.Service
	Purchases     *purchasesvc.Service
	Webhooks      *webhooksvc.Service
	TokenParser   middlewarectx.TokenParser
	WebhookSecret string
	Ready         func() error
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, deps RouteDeps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Группа с определением субъекта: пользователь по JWT либо
		// анонимная сессия по X-Session-ID
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.IdentityMiddleware(deps.TokenParser, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Get("/access", resolve.New(logger, deps.Entitlements).ServeHTTP)
			r.Post("/purchases", purchasecreate.New(logger, deps.Purchases).ServeHTTP)

			// Операции только для авторизованных пользователей
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireUser(logger))
				r.Post("/subscriptions", subcreate.New(logger, deps.Purchases).ServeHTTP)
				r.Post("/subscriptions/cancel", subcancel.New(logger, deps.Purchases).ServeHTTP)
				r.Post("/identity/migrate", migrate.New(logger, deps.Purchases).ServeHTTP)
			})

			// Административные операции
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireAdmin(logger))
				r.Post("/entitlements/reset", reset.New(logger, deps.Purchases).ServeHTTP)
			})
		})

		// Webhook endpoint (без аутентификации, подпись проверяется по телу)
		r.Post("/payments/webhook", paymentwebhook.New(logger, deps.Webhooks, deps.WebhookSecret).ServeHTTP)
	})

	r.Get("/health", health.New(logger, deps.Ready).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
