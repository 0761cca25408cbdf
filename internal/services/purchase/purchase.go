// Package purchase реализует мутатор покупок и подписок: разовые покупки
// контента с идемпотентностью по паре (субъект, слаг), оформление и отмену
// подписок, операторский сброс квоты и перенос анонимной сессии на
// пользователя после логина.
package purchase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/entitlement-service/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-service/internal/models"
	"github.com/magabrotheeeer/entitlement-service/internal/paymentprovider"
	"github.com/magabrotheeeer/entitlement-service/internal/services/entitlement"
	"github.com/magabrotheeeer/entitlement-service/internal/storage/repository"
)

// Ошибки мутатора, которые обработчики различают через errors.Is.
var (
	// ErrInvalidSlug — слаг отсутствует в каталоге или материал не продаётся.
	ErrInvalidSlug = errors.New("invalid content slug")
	// ErrAlreadyOwned — покупка уже существует; вызывающий получает её же.
	ErrAlreadyOwned = errors.New("content already owned")
	// ErrPaymentFailed — провайдер отклонил списание.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrForbidden — операция доступна только оператору.
	ErrForbidden = errors.New("operator role required")
)

// Repository определяет методы хранилища, нужные мутатору.
type Repository interface {
	GetContent(ctx context.Context, slug string) (*models.Content, error)
	FindPurchase(ctx context.Context, identityKey, slug string) (*models.Purchase, bool, error)
	CreatePurchase(ctx context.Context, purchase models.Purchase) (*models.Purchase, bool, error)
	CancelActiveSubscription(ctx context.Context, userUID string) (int, error)
	ResetFreeAccesses(ctx context.Context, identityKey string) (int, error)
	MigratePurchases(ctx context.Context, sessionID, userUID string) (int, error)
	MigrateFreeAccesses(ctx context.Context, sessionID, userUID string) (int, error)
	UpsertUser(ctx context.Context, user models.User) error
}

// ProviderClient описывает вызовы платёжного провайдера.
type ProviderClient interface {
	CreateCharge(reqParams paymentprovider.CreateChargeRequest, idempotenceKey string) (*paymentprovider.CreateChargeResponse, error)
	CreateCheckoutSession(reqParams paymentprovider.CreateCheckoutSessionRequest, idempotenceKey string) (*paymentprovider.CreateCheckoutSessionResponse, error)
}

// AuditPublisher публикует аудиторские события операций.
type AuditPublisher interface {
	Publish(routingKey string, event any) error
}

// Cache нужен мутатору только для инвалидации подписок.
type Cache interface {
	Invalidate(key string) error
}

// Service мутатор покупок и подписок.
type Service struct {
	repo      Repository
	provider  ProviderClient
	audit     AuditPublisher
	cache     Cache
	log       *slog.Logger
	returnURL string
}

// New создает новый Service.
func New(repo Repository, provider ProviderClient, audit AuditPublisher, cache Cache, log *slog.Logger, returnURL string) *Service {
	return &Service{
		repo:      repo,
		provider:  provider,
		audit:     audit,
		cache:     cache,
		log:       log,
		returnURL: returnURL,
	}
}

// chargeIdempotenceKey детерминированно выводит ключ идемпотентности
// списания из пары (субъект, слаг).
func chargeIdempotenceKey(identityKey, slug string) string {
	sum := sha256.Sum256([]byte(identityKey + ":" + slug))
	return hex.EncodeToString(sum[:])
}

// Purchase выполняет разовую покупку материала. Повторный вызов для той же
// пары (субъект, слаг) возвращает существующую запись с ErrAlreadyOwned,
// конкурентный дубликат сходится к одной строке: проигравший получает
// строку победителя как успех, а одинаковый Idempotence-Key не даёт
// провайдеру провести второе списание.
func (s *Service) Purchase(ctx context.Context, identity models.Identity, slug string) (*models.Purchase, error) {
	const op = "services.purchase.Purchase"
	log := s.log.With(slog.String("op", op), slog.String("slug", slug))

	content, err := s.repo.GetContent(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrContentNotFound) {
			return nil, ErrInvalidSlug
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !content.IsPremium || content.Price <= 0 {
		return nil, ErrInvalidSlug
	}

	existing, owned, err := s.repo.FindPurchase(ctx, identity.Key(), slug)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if owned {
		return existing, ErrAlreadyOwned
	}

	chargeReq := paymentprovider.CreateChargeRequest{
		Description: "content purchase: " + slug,
		Capture:     true,
		Metadata: map[string]string{
			"identity_key": identity.Key(),
			"content_slug": slug,
		},
	}
	chargeReq.Amount.Value = strconv.FormatFloat(float64(content.Price)/100, 'f', 2, 64)
	chargeReq.Amount.Currency = "RUB"

	// Ключ идемпотентности детерминирован парой (субъект, слаг):
	// конкурентные запросы отправляют одинаковый ключ, провайдер
	// дедуплицирует их в одно списание.
	charge, err := s.provider.CreateCharge(chargeReq, chargeIdempotenceKey(identity.Key(), slug))
	if err != nil {
		log.Error("provider charge failed", sl.Err(err))
		return nil, ErrPaymentFailed
	}
	if !charge.Succeeded() {
		log.Error("provider charge not succeeded", slog.String("status", charge.Status))
		return nil, ErrPaymentFailed
	}

	created, isNew, err := s.repo.CreatePurchase(ctx, models.Purchase{
		IdentityKey: identity.Key(),
		ContentSlug: slug,
		ContentType: content.Type,
		PricePaid:   content.Price,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !isNew {
		// Конкурентный запрос успел первым, возвращаем его строку.
		log.Info("concurrent purchase converged to existing row", slog.Int("purchase_id", created.ID))
		return created, nil
	}

	log.Info("purchase created", slog.Int("purchase_id", created.ID))
	if err := s.audit.Publish("purchase", map[string]any{
		"identity_key": identity.Key(),
		"content_slug": slug,
		"price_paid":   content.Price,
		"payment_id":   charge.ID,
		"at":           time.Now().UTC(),
	}); err != nil {
		log.Warn("failed to publish purchase audit event", sl.Err(err))
	}
	return created, nil
}

// CreateCheckout создаёт checkout-сессию подписки у провайдера и возвращает
// URL подтверждения. Сама подписка появится после события provider'а
// subscription.created: оформление новой подписки поверх действующей
// атомарно заменяет её (политика supersede, применяется реконсайлером).
func (s *Service) CreateCheckout(ctx context.Context, userUID, planTier string) (string, error) {
	const op = "services.purchase.CreateCheckout"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	session, err := s.provider.CreateCheckoutSession(paymentprovider.CreateCheckoutSessionRequest{
		PlanTier:  planTier,
		ReturnURL: s.returnURL,
		Metadata: map[string]string{
			"user_uid": userUID,
		},
	}, uuid.NewString())
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("checkout session created", slog.String("session_id", session.ID))
	return session.Confirmation.ConfirmationURL, nil
}

// CancelSubscription отменяет активную подписку пользователя и сообщает,
// была ли подписка отменена. Повторная отмена — no-op успех, не ошибка.
func (s *Service) CancelSubscription(ctx context.Context, userUID string) (bool, error) {
	const op = "services.purchase.CancelSubscription"
	log := s.log.With(slog.String("op", op))

	count, err := s.repo.CancelActiveSubscription(ctx, userUID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if count == 0 {
		log.Info("no active subscription to cancel")
		return false, nil
	}

	if err := s.cache.Invalidate(entitlement.SubscriptionCacheKey(userUID)); err != nil {
		log.Warn("failed to invalidate subscription cache", sl.Err(err))
	}
	if err := s.audit.Publish("subscription", map[string]any{
		"user_uid": userUID,
		"action":   "canceled",
		"at":       time.Now().UTC(),
	}); err != nil {
		log.Warn("failed to publish cancel audit event", sl.Err(err))
	}
	log.Info("subscription canceled")
	return true, nil
}

// ResetEntitlements обнуляет бесплатную квоту субъекта. Доступно только
// оператору, роль проверяется и здесь, а не только в middleware.
// Операция попадает в аудиторский журнал.
func (s *Service) ResetEntitlements(ctx context.Context, actor models.Identity, identityKey string) (int, error) {
	const op = "services.purchase.ResetEntitlements"
	log := s.log.With(slog.String("op", op))

	if !actor.IsAdmin() {
		return 0, ErrForbidden
	}

	count, err := s.repo.ResetFreeAccesses(ctx, identityKey)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.audit.Publish("entitlement", map[string]any{
		"actor_uid":    actor.UserUID,
		"identity_key": identityKey,
		"action":       "reset",
		"removed":      count,
		"at":           time.Now().UTC(),
	}); err != nil {
		log.Warn("failed to publish reset audit event", sl.Err(err))
	}
	log.Info("entitlements reset", slog.String("identity_key", identityKey), slog.Int("removed", count))
	return count, nil
}

// MigrateIdentity переносит покупки и засчитанную квоту анонимной сессии
// на пользователя после логина.
func (s *Service) MigrateIdentity(ctx context.Context, sessionID string, user models.User) error {
	const op = "services.purchase.MigrateIdentity"
	log := s.log.With(slog.String("op", op))

	if err := s.repo.UpsertUser(ctx, user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	purchases, err := s.repo.MigratePurchases(ctx, sessionID, user.UID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	accesses, err := s.repo.MigrateFreeAccesses(ctx, sessionID, user.UID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("identity migrated",
		slog.Int("purchases", purchases), slog.Int("free_accesses", accesses))
	return nil
}
