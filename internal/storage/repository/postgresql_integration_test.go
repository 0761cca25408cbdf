package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-service/internal/lib/period"
	"github.com/magabrotheeeer/entitlement-service/internal/models"
)

func TestStorage_GetContent(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	factory.CreateContent(t, "go-generics", "article", 19900, true, true)

	content, err := storage.GetContent(context.Background(), "go-generics")
	require.NoError(t, err)
	assert.Equal(t, "go-generics", content.Slug)
	assert.Equal(t, models.ContentTypeArticle, content.Type)
	assert.True(t, content.IsPremium)
	assert.True(t, content.FreeEligible)

	_, err = storage.GetContent(context.Background(), "missing")
	require.ErrorIs(t, err, ErrContentNotFound)
}

func TestStorage_CreatePurchase_Idempotent(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	factory.CreateContent(t, "quiz-42", "quiz", 9900, true, false)

	purchase := models.Purchase{
		IdentityKey: "sess-42",
		ContentSlug: "quiz-42",
		ContentType: models.ContentTypeQuiz,
		PricePaid:   9900,
	}

	first, isNew, err := storage.CreatePurchase(context.Background(), purchase)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotZero(t, first.ID)

	// Повторная вставка той же пары сходится к существующей строке.
	second, isNew, err := storage.CreatePurchase(context.Background(), purchase)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)

	var count int
	err = storage.DB.QueryRow(`SELECT COUNT(*) FROM purchases WHERE identity_key = $1`, "sess-42").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	found, ok, err := storage.FindPurchase(context.Background(), "sess-42", "quiz-42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first.ID, found.ID)
}

func TestStorage_GrantFreeAccess_DistinctSlugSemantics(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	periodStart := period.Start(time.Now())
	const limit = 1

	// Первый слаг проходит и занимает весь лимит.
	granted, used, err := storage.GrantFreeAccess(ctx, "sess-42", "quiz-42", periodStart, limit)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 1, used)

	// Повторный доступ к тому же слагу разрешён и квоту не расходует.
	granted, used, err = storage.GrantFreeAccess(ctx, "sess-42", "quiz-42", periodStart, limit)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 1, used)

	// Другой слаг сверх лимита получает отказ.
	granted, _, err = storage.GrantFreeAccess(ctx, "sess-42", "quiz-99", periodStart, limit)
	require.NoError(t, err)
	assert.False(t, granted)

	count, err := storage.CountFreeAccesses(ctx, "sess-42", periodStart)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Квота считается на субъект: другой сессии лимит не тронут.
	granted, _, err = storage.GrantFreeAccess(ctx, "sess-43", "quiz-99", periodStart, limit)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestStorage_GrantFreeAccess_ConcurrentDistinctSlugs(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	periodStart := period.Start(time.Now())
	const limit = 2
	const callers = 8

	// Параллельные первые доступы к разным слагам: advisory-лок
	// сериализует проверку счётчика, сверх лимита не проходит никто.
	var wg sync.WaitGroup
	grants := make([]bool, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slug := fmt.Sprintf("quiz-%d", i)
			grants[i], _, errs[i] = storage.GrantFreeAccess(ctx, "sess-42", slug, periodStart, limit)
		}(i)
	}
	wg.Wait()

	grantedTotal := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if grants[i] {
			grantedTotal++
		}
	}
	assert.Equal(t, limit, grantedTotal)

	count, err := storage.CountFreeAccesses(ctx, "sess-42", periodStart)
	require.NoError(t, err)
	assert.Equal(t, limit, count)
}

func TestStorage_CreatePurchase_Concurrent(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	factory.CreateContent(t, "quiz-42", "quiz", 9900, true, false)
	purchase := models.Purchase{
		IdentityKey: "sess-42",
		ContentSlug: "quiz-42",
		ContentType: models.ContentTypeQuiz,
		PricePaid:   9900,
	}

	const callers = 8
	var wg sync.WaitGroup
	rows := make([]*models.Purchase, callers)
	fresh := make([]bool, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rows[i], fresh[i], errs[i] = storage.CreatePurchase(context.Background(), purchase)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, rows[0].ID, rows[i].ID)
		if fresh[i] {
			winners++
		}
	}
	// Уникальное ограничение пропускает ровно одного победителя.
	assert.Equal(t, 1, winners)

	var count int
	err := storage.DB.QueryRow(`SELECT COUNT(*) FROM purchases WHERE identity_key = $1`, "sess-42").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStorage_GrantFreeAccess_NewPeriodResetsCounter(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	june := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	july := period.Next(june)

	granted, _, err := storage.GrantFreeAccess(ctx, "sess-42", "quiz-42", june, 1)
	require.NoError(t, err)
	require.True(t, granted)

	granted, _, err = storage.GrantFreeAccess(ctx, "sess-42", "quiz-99", june, 1)
	require.NoError(t, err)
	require.False(t, granted)

	// Новый период — счётчик с нуля.
	granted, used, err := storage.GrantFreeAccess(ctx, "sess-42", "quiz-99", july, 1)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 1, used)
}

func TestStorage_ResetFreeAccesses(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	periodStart := period.Start(time.Now())
	factory := NewTestDataFactory(storage)
	factory.CreateFreeAccess(t, "sess-42", periodStart, "quiz-42")
	factory.CreateFreeAccess(t, "sess-42", periodStart, "quiz-99")
	factory.CreateFreeAccess(t, "sess-43", periodStart, "quiz-42")

	removed, err := storage.ResetFreeAccesses(ctx, "sess-42")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := storage.CountFreeAccesses(ctx, "sess-42", periodStart)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Чужая квота не затронута.
	count, err = storage.CountFreeAccesses(ctx, "sess-43", periodStart)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStorage_ApplySubscriptionChange(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	eventTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Первое событие создаёт активную подписку.
	applied, err := storage.ApplySubscriptionChange(ctx, SubscriptionChange{
		UserUID:     "user-1",
		NewStatus:   models.SubscriptionActive,
		PlanTier:    "monthly",
		StartedAt:   eventTime,
		ExpiresAt:   eventTime.AddDate(0, 1, 0),
		ExternalRef: "sub-ext-7",
		EventTime:   eventTime,
		Supersede:   true,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	sub, ok, err := storage.GetActiveSubscription(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "monthly", sub.PlanTier)

	// Более позднее canceled применяется.
	cancelTime := eventTime.Add(48 * time.Hour)
	applied, err = storage.ApplySubscriptionChange(ctx, SubscriptionChange{
		UserUID:   "user-1",
		NewStatus: models.SubscriptionCanceled,
		EventTime: cancelTime,
		ExpiresAt: eventTime.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// Запоздавшее renewed со старой меткой отбрасывается.
	applied, err = storage.ApplySubscriptionChange(ctx, SubscriptionChange{
		UserUID:   "user-1",
		NewStatus: models.SubscriptionActive,
		EventTime: eventTime.Add(24 * time.Hour),
		ExpiresAt: eventTime.AddDate(0, 2, 0),
	})
	require.NoError(t, err)
	assert.False(t, applied)

	// Подписка осталась отменённой.
	sub, ok, err = storage.ReadSubscription(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.SubscriptionCanceled, sub.Status)
}

func TestStorage_ApplySubscriptionChange_Supersede(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(72 * time.Hour)

	applied, err := storage.ApplySubscriptionChange(ctx, SubscriptionChange{
		UserUID:   "user-1",
		NewStatus: models.SubscriptionActive,
		PlanTier:  "monthly",
		StartedAt: first,
		ExpiresAt: first.AddDate(0, 1, 0),
		EventTime: first,
		Supersede: true,
	})
	require.NoError(t, err)
	require.True(t, applied)

	// Новая подписка отменяет прежнюю активную и занимает её место:
	// частичный уникальный индекс не даёт двум активным сосуществовать.
	applied, err = storage.ApplySubscriptionChange(ctx, SubscriptionChange{
		UserUID:   "user-1",
		NewStatus: models.SubscriptionActive,
		PlanTier:  "yearly",
		StartedAt: second,
		ExpiresAt: second.AddDate(1, 0, 0),
		EventTime: second,
		Supersede: true,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	sub, ok, err := storage.GetActiveSubscription(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "yearly", sub.PlanTier)

	var activeCount int
	err = storage.DB.QueryRow(`SELECT COUNT(*) FROM subscriptions WHERE user_uid = $1 AND status = 'active'`,
		"user-1").Scan(&activeCount)
	require.NoError(t, err)
	assert.Equal(t, 1, activeCount)
}

func TestStorage_CancelActiveSubscription(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	now := time.Now().UTC()
	factory.CreateSubscription(t, "user-1", models.SubscriptionActive, "monthly",
		now, now.AddDate(0, 1, 0), nil)

	count, err := storage.CancelActiveSubscription(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Повторная отмена — ноль изменённых строк.
	count, err = storage.CancelActiveSubscription(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStorage_MarkEventProcessed(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	event := models.WebhookEvent{
		EventID:   "evt-100",
		EventType: "subscription.renewed",
		EventTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	firstTime, err := storage.MarkEventProcessed(ctx, event)
	require.NoError(t, err)
	assert.True(t, firstTime)

	// Та же доставка второй раз — журнал её узнаёт.
	firstTime, err = storage.MarkEventProcessed(ctx, event)
	require.NoError(t, err)
	assert.False(t, firstTime)
}

func TestStorage_ApplySubscriptionEvent(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	factory.CreateUser(t, "user-1", "user@example.com", "user")

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := models.WebhookEvent{
		EventID:   "evt-200",
		EventType: "subscription.created",
		EventTime: created,
	}
	change := SubscriptionChange{
		UserUID:     "user-1",
		NewStatus:   models.SubscriptionActive,
		PlanTier:    "monthly",
		StartedAt:   created,
		ExpiresAt:   created.AddDate(0, 1, 0),
		ExternalRef: "sub-ext-7",
		EventTime:   created,
		Supersede:   true,
	}

	fresh, applied, err := storage.ApplySubscriptionEvent(ctx, event, change)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.True(t, applied)

	sub, ok, err := storage.GetActiveSubscription(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "monthly", sub.PlanTier)

	// Повторная доставка узнаётся по журналу, состояние не трогается.
	fresh, applied, err = storage.ApplySubscriptionEvent(ctx, event, change)
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.False(t, applied)

	// Запоздавшее событие с новым id журналируется, но отбрасывается
	// по временной метке.
	stale := models.WebhookEvent{
		EventID:   "evt-199",
		EventType: "subscription.canceled",
		EventTime: created.Add(-time.Hour),
	}
	staleChange := change
	staleChange.NewStatus = models.SubscriptionCanceled
	staleChange.Supersede = false
	staleChange.EventTime = stale.EventTime

	fresh, applied, err = storage.ApplySubscriptionEvent(ctx, stale, staleChange)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.False(t, applied)

	_, ok, err = storage.GetActiveSubscription(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStorage_MigrateIdentityData(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	periodStart := period.Start(time.Now())
	factory := NewTestDataFactory(storage)

	factory.CreateContent(t, "quiz-42", "quiz", 9900, true, false)
	factory.CreateContent(t, "quiz-99", "quiz", 9900, true, false)
	factory.CreateUser(t, "user-1", "user@example.com", "user")

	// У сессии две покупки, одна из них уже есть и у пользователя.
	factory.CreatePurchase(t, "sess-42", "quiz-42", 9900)
	factory.CreatePurchase(t, "sess-42", "quiz-99", 9900)
	factory.CreatePurchase(t, "user-1", "quiz-42", 9900)
	factory.CreateFreeAccess(t, "sess-42", periodStart, "quiz-42")

	moved, err := storage.MigratePurchases(ctx, "sess-42", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	_, ok, err := storage.FindPurchase(ctx, "user-1", "quiz-99")
	require.NoError(t, err)
	assert.True(t, ok)

	movedAccesses, err := storage.MigrateFreeAccesses(ctx, "sess-42", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, movedAccesses)

	count, err := storage.CountFreeAccesses(ctx, "user-1", periodStart)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStorage_UpsertUser(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, storage.UpsertUser(ctx, models.User{
		UID: "user-1", Email: "old@example.com", Role: "user",
	}))
	// Повторный login обновляет почту, роль остаётся операторской заботой.
	require.NoError(t, storage.UpsertUser(ctx, models.User{
		UID: "user-1", Email: "new@example.com", Role: "admin",
	}))

	user, ok, err := storage.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, "user", user.Role)
}
