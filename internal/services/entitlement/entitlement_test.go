package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-service/internal/models"
	"github.com/magabrotheeeer/entitlement-service/internal/storage/repository"
)

// MockRepository реализует интерфейс entitlement.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetContent(ctx context.Context, slug string) (*models.Content, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Content), args.Error(1)
}

func (m *MockRepository) FindPurchase(ctx context.Context, identityKey, slug string) (*models.Purchase, bool, error) {
	args := m.Called(ctx, identityKey, slug)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Purchase), args.Bool(1), args.Error(2)
}

func (m *MockRepository) GetActiveSubscription(ctx context.Context, userUID string) (*models.Subscription, bool, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Subscription), args.Bool(1), args.Error(2)
}

func (m *MockRepository) GrantFreeAccess(ctx context.Context, identityKey, slug string, periodStart time.Time, limit int) (bool, int, error) {
	args := m.Called(ctx, identityKey, slug, periodStart, limit)
	return args.Bool(0), args.Int(1), args.Error(2)
}

// noopCache всегда промахивается, резолвер идёт в хранилище.
type noopCache struct{}

func (noopCache) Get(_ string, _ any) (bool, error)          { return false, nil }
func (noopCache) Set(_ string, _ any, _ time.Duration) error { return nil }
func (noopCache) Invalidate(_ string) error                  { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func premiumArticle(slug string) *models.Content {
	return &models.Content{
		Slug:         slug,
		Type:         models.ContentTypeArticle,
		Price:        19900,
		IsPremium:    true,
		FreeEligible: true,
	}
}

func TestResolve_PurchaseWins(t *testing.T) {
	repo := new(MockRepository)
	identity := models.Identity{UserUID: "user-1"}

	repo.On("GetContent", mock.Anything, "go-generics").Return(premiumArticle("go-generics"), nil)
	repo.On("FindPurchase", mock.Anything, "user-1", "go-generics").
		Return(&models.Purchase{ID: 7, IdentityKey: "user-1", ContentSlug: "go-generics"}, true, nil)

	svc := New(repo, noopCache{}, testLogger(), 3)
	result, err := svc.Resolve(context.Background(), identity, "go-generics")

	require.NoError(t, err)
	assert.True(t, result.Granted)
	assert.Equal(t, models.ReasonOwned, result.Reason)
	assert.Nil(t, result.RemainingQuota)
	// Покупка решает раньше подписки и квоты, в хранилище за ними не ходим.
	repo.AssertNotCalled(t, "GetActiveSubscription", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "GrantFreeAccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_ActiveSubscription(t *testing.T) {
	repo := new(MockRepository)
	identity := models.Identity{UserUID: "user-1"}
	sub := &models.Subscription{
		UserUID:   "user-1",
		Status:    models.SubscriptionActive,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}

	repo.On("GetContent", mock.Anything, "go-generics").Return(premiumArticle("go-generics"), nil)
	repo.On("FindPurchase", mock.Anything, "user-1", "go-generics").Return(nil, false, nil)
	repo.On("GetActiveSubscription", mock.Anything, "user-1").Return(sub, true, nil)

	svc := New(repo, noopCache{}, testLogger(), 3)
	result, err := svc.Resolve(context.Background(), identity, "go-generics")

	require.NoError(t, err)
	assert.True(t, result.Granted)
	assert.Equal(t, models.ReasonSubscribed, result.Reason)
	repo.AssertNotCalled(t, "GrantFreeAccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_AnonymousSkipsSubscription(t *testing.T) {
	repo := new(MockRepository)
	identity := models.Identity{SessionID: "sess-42"}

	repo.On("GetContent", mock.Anything, "go-generics").Return(premiumArticle("go-generics"), nil)
	repo.On("FindPurchase", mock.Anything, "sess-42", "go-generics").Return(nil, false, nil)
	repo.On("GrantFreeAccess", mock.Anything, "sess-42", "go-generics", mock.Anything, 3).
		Return(true, 1, nil)

	svc := New(repo, noopCache{}, testLogger(), 3)
	result, err := svc.Resolve(context.Background(), identity, "go-generics")

	require.NoError(t, err)
	assert.True(t, result.Granted)
	assert.Equal(t, models.ReasonFreeQuota, result.Reason)
	require.NotNil(t, result.RemainingQuota)
	assert.Equal(t, 2, *result.RemainingQuota)
	// У анонимной сессии не может быть подписки.
	repo.AssertNotCalled(t, "GetActiveSubscription", mock.Anything, mock.Anything)
}

func TestResolve_QuotaExhausted(t *testing.T) {
	repo := new(MockRepository)
	identity := models.Identity{SessionID: "sess-42"}

	repo.On("GetContent", mock.Anything, "go-generics").Return(premiumArticle("go-generics"), nil)
	repo.On("FindPurchase", mock.Anything, "sess-42", "go-generics").Return(nil, false, nil)
	repo.On("GrantFreeAccess", mock.Anything, "sess-42", "go-generics", mock.Anything, 3).
		Return(false, 3, nil)

	svc := New(repo, noopCache{}, testLogger(), 3)
	result, err := svc.Resolve(context.Background(), identity, "go-generics")

	require.NoError(t, err)
	assert.False(t, result.Granted)
	assert.Equal(t, models.ReasonDenied, result.Reason)
}

func TestResolve_NotFreeEligibleDenied(t *testing.T) {
	repo := new(MockRepository)
	identity := models.Identity{SessionID: "sess-42"}
	content := premiumArticle("premium-quiz")
	content.Type = models.ContentTypeQuiz
	content.FreeEligible = false

	repo.On("GetContent", mock.Anything, "premium-quiz").Return(content, nil)
	repo.On("FindPurchase", mock.Anything, "sess-42", "premium-quiz").Return(nil, false, nil)

	svc := New(repo, noopCache{}, testLogger(), 3)
	result, err := svc.Resolve(context.Background(), identity, "premium-quiz")

	require.NoError(t, err)
	assert.False(t, result.Granted)
	// Недоступный для бесплатного тира материал не расходует квоту.
	repo.AssertNotCalled(t, "GrantFreeAccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_NonPremiumOpenToEveryone(t *testing.T) {
	repo := new(MockRepository)
	identity := models.Identity{SessionID: "sess-42"}

	repo.On("GetContent", mock.Anything, "intro").Return(&models.Content{
		Slug: "intro", Type: models.ContentTypeArticle, IsPremium: false,
	}, nil)

	svc := New(repo, noopCache{}, testLogger(), 3)
	result, err := svc.Resolve(context.Background(), identity, "intro")

	require.NoError(t, err)
	assert.True(t, result.Granted)
	repo.AssertNotCalled(t, "FindPurchase", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "GrantFreeAccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_UnknownContent(t *testing.T) {
	repo := new(MockRepository)
	identity := models.Identity{UserUID: "user-1"}

	repo.On("GetContent", mock.Anything, "missing").Return(nil, repository.ErrContentNotFound)

	svc := New(repo, noopCache{}, testLogger(), 3)
	result, err := svc.Resolve(context.Background(), identity, "missing")

	require.ErrorIs(t, err, ErrUnknownContent)
	assert.False(t, result.Granted)
}

func TestResolve_StoreFailureFailsClosed(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(*MockRepository)
	}{
		{
			name: "ошибка каталога",
			setupMock: func(m *MockRepository) {
				m.On("GetContent", mock.Anything, "go-generics").Return(nil, errors.New("db down"))
			},
		},
		{
			name: "ошибка поиска покупки",
			setupMock: func(m *MockRepository) {
				m.On("GetContent", mock.Anything, "go-generics").Return(premiumArticle("go-generics"), nil)
				m.On("FindPurchase", mock.Anything, "user-1", "go-generics").Return(nil, false, errors.New("db down"))
			},
		},
		{
			name: "ошибка поиска подписки",
			setupMock: func(m *MockRepository) {
				m.On("GetContent", mock.Anything, "go-generics").Return(premiumArticle("go-generics"), nil)
				m.On("FindPurchase", mock.Anything, "user-1", "go-generics").Return(nil, false, nil)
				m.On("GetActiveSubscription", mock.Anything, "user-1").Return(nil, false, errors.New("db down"))
			},
		},
		{
			name: "ошибка квоты",
			setupMock: func(m *MockRepository) {
				m.On("GetContent", mock.Anything, "go-generics").Return(premiumArticle("go-generics"), nil)
				m.On("FindPurchase", mock.Anything, "user-1", "go-generics").Return(nil, false, nil)
				m.On("GetActiveSubscription", mock.Anything, "user-1").Return(nil, false, nil)
				m.On("GrantFreeAccess", mock.Anything, "user-1", "go-generics", mock.Anything, 3).
					Return(false, 0, errors.New("db down"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			tt.setupMock(repo)

			svc := New(repo, noopCache{}, testLogger(), 3)
			result, err := svc.Resolve(context.Background(), models.Identity{UserUID: "user-1"}, "go-generics")

			// Недоступное хранилище — отказ, а не грант и не 500.
			require.NoError(t, err)
			assert.False(t, result.Granted)
			assert.Equal(t, models.ReasonDenied, result.Reason)
		})
	}
}
