// Package entitlement реализует резолвер доступа к контенту.
//
// Порядок проверок фиксированный, выигрывает первое совпадение:
// покупка → активная подписка → бесплатная квота → отказ.
// Любая ошибка хранилища трактуется как отказ (fail-closed):
// сбой персистентного слоя никогда не выдаёт доступ.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/entitlement-service/internal/lib/period"
	"github.com/magabrotheeeer/entitlement-service/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-service/internal/models"
	"github.com/magabrotheeeer/entitlement-service/internal/storage/repository"
)

// ErrUnknownContent возвращается для слага, отсутствующего в каталоге.
var ErrUnknownContent = errors.New("unknown content")

// Repository определяет методы хранилища, нужные резолверу.
type Repository interface {
	// GetContent возвращает запись каталога по слагу.
	GetContent(ctx context.Context, slug string) (*models.Content, error)
	// FindPurchase ищет покупку по паре (ключ владения, слаг).
	FindPurchase(ctx context.Context, identityKey, slug string) (*models.Purchase, bool, error)
	// GetActiveSubscription возвращает действующую подписку пользователя.
	GetActiveSubscription(ctx context.Context, userUID string) (*models.Subscription, bool, error)
	// GrantFreeAccess атомарно засчитывает бесплатный доступ в рамках лимита.
	GrantFreeAccess(ctx context.Context, identityKey, slug string, periodStart time.Time, limit int) (bool, int, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Service резолвер энтайтлментов.
type Service struct {
	repo       Repository
	cache      Cache
	log        *slog.Logger
	quotaLimit int
}

// New создает новый Service с переданным лимитом бесплатной квоты.
func New(repo Repository, cache Cache, log *slog.Logger, quotaLimit int) *Service {
	return &Service{
		repo:       repo,
		cache:      cache,
		log:        log,
		quotaLimit: quotaLimit,
	}
}

// SubscriptionCacheKey ключ кеша активной подписки пользователя.
// Инвалидируется мутатором и вебхук-реконсайлером.
func SubscriptionCacheKey(userUID string) string {
	return fmt.Sprintf("subscription:active:%s", userUID)
}

func contentCacheKey(slug string) string {
	return fmt.Sprintf("content:%s", slug)
}

var denied = models.AccessResult{Granted: false, Reason: models.ReasonDenied}

// Resolve решает, может ли субъект открыть материал, и по какой причине.
// Для неизвестного слага возвращается ErrUnknownContent; любая другая
// ошибка хранилища логируется и превращается в отказ.
func (s *Service) Resolve(ctx context.Context, identity models.Identity, slug string) (models.AccessResult, error) {
	const op = "services.entitlement.Resolve"
	log := s.log.With(slog.String("op", op), slog.String("slug", slug))

	content, err := s.getContent(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrContentNotFound) {
			return denied, ErrUnknownContent
		}
		log.Error("content lookup failed, denying access", sl.Err(err))
		return denied, nil
	}

	// Бесплатный материал открыт всем и квоту не расходует.
	if !content.IsPremium {
		return models.AccessResult{Granted: true, Reason: models.ReasonFreeQuota}, nil
	}

	purchase, owned, err := s.repo.FindPurchase(ctx, identity.Key(), slug)
	if err != nil {
		log.Error("purchase lookup failed, denying access", sl.Err(err))
		return denied, nil
	}
	if owned {
		log.Info("access granted by purchase", slog.Int("purchase_id", purchase.ID))
		return models.AccessResult{Granted: true, Reason: models.ReasonOwned}, nil
	}

	// Подписка возможна только у авторизованного пользователя.
	if !identity.IsAnonymous() {
		subscribed, err := s.hasActiveSubscription(ctx, identity.UserUID)
		if err != nil {
			log.Error("subscription lookup failed, denying access", sl.Err(err))
			return denied, nil
		}
		if subscribed {
			return models.AccessResult{Granted: true, Reason: models.ReasonSubscribed}, nil
		}
	}

	if content.FreeEligible {
		granted, used, err := s.repo.GrantFreeAccess(ctx, identity.Key(), slug, period.Start(time.Now()), s.quotaLimit)
		if err != nil {
			log.Error("free quota check failed, denying access", sl.Err(err))
			return denied, nil
		}
		if granted {
			counter := models.UsageCounter{
				IdentityKey: identity.Key(),
				PeriodStart: period.Start(time.Now()),
				Used:        used,
				Limit:       s.quotaLimit,
			}
			remaining := counter.Remaining()
			return models.AccessResult{
				Granted:        true,
				Reason:         models.ReasonFreeQuota,
				RemainingQuota: &remaining,
			}, nil
		}
	}

	return denied, nil
}

func (s *Service) getContent(ctx context.Context, slug string) (*models.Content, error) {
	var cached models.Content
	found, err := s.cache.Get(contentCacheKey(slug), &cached)
	if err != nil {
		s.log.Warn("content cache read failed", slog.String("slug", slug), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	content, err := s.repo.GetContent(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(contentCacheKey(slug), content, time.Hour); err != nil {
		s.log.Warn("failed to cache content", slog.String("slug", slug), sl.Err(err))
	}
	return content, nil
}

func (s *Service) hasActiveSubscription(ctx context.Context, userUID string) (bool, error) {
	var cached models.Subscription
	found, err := s.cache.Get(SubscriptionCacheKey(userUID), &cached)
	if err != nil {
		s.log.Warn("subscription cache read failed", sl.Err(err))
	}
	if found && cached.IsActive(time.Now()) {
		return true, nil
	}

	sub, ok, err := s.repo.GetActiveSubscription(ctx, userUID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := s.cache.Set(SubscriptionCacheKey(userUID), sub, 5*time.Minute); err != nil {
		s.log.Warn("failed to cache subscription", sl.Err(err))
	}
	return true, nil
}
