// Package entitlementservice собирает приложение: хранилище, миграции,
// кэш, очередь аудита, платёжный провайдер, сервисы и HTTP-сервер.
package entitlementservice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/entitlement-service/internal/cache"
	"github.com/magabrotheeeer/entitlement-service/internal/config"
	"github.com/magabrotheeeer/entitlement-service/internal/lib/jwt"
	"github.com/magabrotheeeer/entitlement-service/internal/migrations"
	"github.com/magabrotheeeer/entitlement-service/internal/paymentprovider"
	"github.com/magabrotheeeer/entitlement-service/internal/rabbitmq"
	entitlementsvc "github.com/magabrotheeeer/entitlement-service/internal/services/entitlement"
	purchasesvc "github.com/magabrotheeeer/entitlement-service/internal/services/purchase"
	webhooksvc "github.com/magabrotheeeer/entitlement-service/internal/services/webhook"
	"github.com/magabrotheeeer/entitlement-service/internal/storage/repository"
)

// App инкапсулирует зависимости приложения и его жизненный цикл.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	rabbit *amqp.Connection
}

// New собирает приложение из конфигурации: подключает Postgres и
// накатывает миграции, поднимает Redis и RabbitMQ, создает сервисы
// и регистрирует маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	rabbitConn, err := rabbitmq.Connect(cfg.AddressRabbit, cfg.Retries, cfg.RetryDelay)
	if err != nil {
		return nil, err
	}
	rabbitChan, err := rabbitmq.SetupChannel(rabbitConn, rabbitmq.GetAuditQueues())
	if err != nil {
		return nil, err
	}
	auditPublisher := rabbitmq.NewAuditPublisher(rabbitChan)

	providerClient := paymentprovider.NewClient(cfg.ShopID, cfg.SecretKey, cfg.APIURL)
	tokenMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)

	entitlementService := entitlementsvc.New(db, cacheRedis, logger, cfg.FreeQuotaLimit)
	purchaseService := purchasesvc.New(db, providerClient, auditPublisher, cacheRedis, logger, cfg.ReturnURL)
	webhookService := webhooksvc.New(db, cacheRedis, auditPublisher, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, RouteDeps{
		Entitlements:  entitlementService,
		Purchases:     purchaseService,
		Webhooks:      webhookService,
		TokenParser:   tokenMaker,
		WebhookSecret: cfg.WebhookSecret,
		Ready: func() error {
			return repository.CheckDatabaseReady(db)
		},
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		rabbit: rabbitConn,
	}, nil
}

// Run запускает HTTP-сервер и блокируется до отмены контекста либо
// ошибки сервера. Завершение graceful, с таймаутом.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if cerr := a.rabbit.Close(); cerr != nil {
			a.logger.Error("failed to close rabbitmq connection", slog.String("error", cerr.Error()))
		}
		a.db.DB.Close()
		return err
	}
}
