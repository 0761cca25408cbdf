package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/entitlement-service/internal/models"
)

// GetActiveSubscription возвращает действующую подписку пользователя.
// Подписка с истёкшим сроком считается отсутствующей, даже если событие
// провайдера о её истечении ещё не применено.
func (s *Storage) GetActiveSubscription(ctx context.Context, userUID string) (*models.Subscription, bool, error) {
	const op = "storage.GetActiveSubscription"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, status, plan_tier, started_at, expires_at, external_ref, last_event_at
			  FROM subscriptions
			  WHERE user_uid = $1 AND status = $2 AND expires_at > now()`
	row := s.DB.QueryRowContext(ctx, query, userUID, models.SubscriptionActive)

	var result models.Subscription
	err := row.Scan(&result.ID, &result.UserUID, &result.Status, &result.PlanTier,
		&result.StartedAt, &result.ExpiresAt, &result.ExternalRef, &result.LastEventAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &result, true, nil
}

// CancelActiveSubscription помечает активную подписку пользователя отменённой.
// Возвращает количество изменённых строк: ноль означает, что активной
// подписки не было, повторная отмена — no-op.
func (s *Storage) CancelActiveSubscription(ctx context.Context, userUID string) (int, error) {
	const op = "storage.CancelActiveSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions SET status = $2
			  WHERE user_uid = $1 AND status = $3`
	result, err := s.DB.ExecContext(ctx, query, userUID, models.SubscriptionCanceled, models.SubscriptionActive)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// SubscriptionChange описывает применяемое к подписке изменение,
// выведенное из события платёжного провайдера.
type SubscriptionChange struct {
	UserUID     string
	NewStatus   string
	PlanTier    string
	StartedAt   time.Time
	ExpiresAt   time.Time
	ExternalRef string
	EventTime   time.Time
	Supersede   bool // создать новую запись, отменив прежнюю активную
}

// ApplySubscriptionChange применяет изменение в одной транзакции,
// сериализуясь с конкурентами через блокировку строки. Изменение со
// временем события не новее уже применённого отбрасывается: устаревшее
// "renewed" не может перезаписать более позднее "canceled".
func (s *Storage) ApplySubscriptionChange(ctx context.Context, change SubscriptionChange) (bool, error) {
	const op = "storage.ApplySubscriptionChange"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := applyChangeTx(ctx, tx, change)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return applied, nil
}

// applyChangeTx применяет изменение внутри уже открытой транзакции.
func applyChangeTx(ctx context.Context, tx *sql.Tx, change SubscriptionChange) (bool, error) {
	var (
		currentID   int
		lastEventAt *time.Time
	)
	row := tx.QueryRowContext(ctx,
		`SELECT id, last_event_at FROM subscriptions
		 WHERE user_uid = $1 ORDER BY id DESC LIMIT 1 FOR UPDATE`, change.UserUID)
	err := row.Scan(&currentID, &lastEventAt)
	hasCurrent := true
	if errors.Is(err, sql.ErrNoRows) {
		hasCurrent = false
	} else if err != nil {
		return false, err
	}

	if hasCurrent && lastEventAt != nil && !change.EventTime.After(*lastEventAt) {
		return false, nil
	}

	switch {
	case change.Supersede || !hasCurrent:
		if hasCurrent {
			_, err = tx.ExecContext(ctx,
				`UPDATE subscriptions SET status = $2
				 WHERE user_uid = $1 AND status = $3`,
				change.UserUID, models.SubscriptionCanceled, models.SubscriptionActive)
			if err != nil {
				return false, err
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO subscriptions (user_uid, status, plan_tier, started_at, expires_at, external_ref, last_event_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			change.UserUID, change.NewStatus, change.PlanTier,
			change.StartedAt, change.ExpiresAt, change.ExternalRef, change.EventTime)
		if err != nil {
			return false, err
		}
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE subscriptions
			 SET status = $2, expires_at = $3, last_event_at = $4
			 WHERE id = $1`,
			currentID, change.NewStatus, change.ExpiresAt, change.EventTime)
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// ReadSubscription возвращает последнюю по времени подписку пользователя
// независимо от статуса. Используется админским контуром и тестами.
func (s *Storage) ReadSubscription(ctx context.Context, userUID string) (*models.Subscription, bool, error) {
	const op = "storage.ReadSubscription"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, status, plan_tier, started_at, expires_at, external_ref, last_event_at
			  FROM subscriptions WHERE user_uid = $1 ORDER BY id DESC LIMIT 1`
	row := s.DB.QueryRowContext(ctx, query, userUID)

	var result models.Subscription
	err := row.Scan(&result.ID, &result.UserUID, &result.Status, &result.PlanTier,
		&result.StartedAt, &result.ExpiresAt, &result.ExternalRef, &result.LastEventAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &result, true, nil
}
