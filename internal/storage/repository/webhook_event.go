package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/entitlement-service/internal/models"
)

// MarkEventProcessed записывает событие провайдера в журнал обработанных.
// Вставка идёт под первичным ключом event_id: возврат false означает,
// что событие уже применялось и повторная доставка должна быть
// подтверждена без повторного применения.
func (s *Storage) MarkEventProcessed(ctx context.Context, event models.WebhookEvent) (bool, error) {
	const op = "storage.MarkEventProcessed"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO webhook_events (event_id, event_type, event_time)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (event_id) DO NOTHING`
	result, err := s.DB.ExecContext(ctx, query, event.EventID, event.EventType, event.EventTime)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}

// ApplySubscriptionEvent записывает событие в журнал и применяет изменение
// подписки в одной транзакции: фиксируются либо обе записи, либо ни одной.
// Сбой применения откатывает и журнальную запись, так что повторная
// доставка того же события применит изменение заново, а не подтвердится
// как дубликат. Возвращает (новое ли событие, применено ли изменение).
func (s *Storage) ApplySubscriptionEvent(ctx context.Context, event models.WebhookEvent, change SubscriptionChange) (bool, bool, error) {
	const op = "storage.ApplySubscriptionEvent"
	select {
	case <-ctx.Done():
		return false, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, event_time)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.EventType, event.EventTime)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return false, false, nil
	}

	applied, err := applyChangeTx(ctx, tx, change)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return false, false, fmt.Errorf("%s: %w", op, err)
	}
	return true, applied, nil
}
