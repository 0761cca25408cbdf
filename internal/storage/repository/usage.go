package repository

import (
	"context"
	"fmt"
	"time"
)

// GrantFreeAccess пытается засчитать бесплатный доступ к слагу в текущем
// периоде. Конкурентные запросы одного субъекта сериализуются advisory-локом
// транзакции на паре (субъект, период): счётчик периода читается уже под
// блокировкой и не может превысить лимит при параллельных первых доступах
// к разным слагам. Повторный доступ к уже засчитанному слагу всегда
// разрешён и квоту не расходует. Возвращает, выдан ли доступ, и сколько
// слагов засчитано после операции.
func (s *Storage) GrantFreeAccess(ctx context.Context, identityKey, slug string, periodStart time.Time, limit int) (bool, int, error) {
	const op = "storage.GrantFreeAccess"
	select {
	case <-ctx.Done():
		return false, 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1 || ':' || $2::date::text, 0))`,
		identityKey, periodStart)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}

	var alreadyCounted bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM free_accesses
		 WHERE identity_key = $1 AND period_start = $2 AND content_slug = $3)`,
		identityKey, periodStart, slug).Scan(&alreadyCounted)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	var used int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM free_accesses
		 WHERE identity_key = $1 AND period_start = $2`,
		identityKey, periodStart).Scan(&used)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}

	if alreadyCounted {
		if err = tx.Commit(); err != nil {
			return false, 0, fmt.Errorf("%s: %w", op, err)
		}
		return true, used, nil
	}
	if used >= limit {
		if err = tx.Commit(); err != nil {
			return false, 0, fmt.Errorf("%s: %w", op, err)
		}
		return false, used, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO free_accesses (identity_key, period_start, content_slug)
		 VALUES ($1, $2, $3)`,
		identityKey, periodStart, slug)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	return true, used + 1, nil
}

// CountFreeAccesses возвращает число засчитанных слагов за период.
func (s *Storage) CountFreeAccesses(ctx context.Context, identityKey string, periodStart time.Time) (int, error) {
	const op = "storage.CountFreeAccesses"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT COUNT(*) FROM free_accesses
			  WHERE identity_key = $1 AND period_start = $2`
	var count int
	if err := s.DB.QueryRowContext(ctx, query, identityKey, periodStart).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// ResetFreeAccesses обнуляет квоту субъекта во всех периодах.
// Операторская операция, вызывается только из админского контура.
func (s *Storage) ResetFreeAccesses(ctx context.Context, identityKey string) (int, error) {
	const op = "storage.ResetFreeAccesses"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx,
		`DELETE FROM free_accesses WHERE identity_key = $1`, identityKey)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// MigrateFreeAccesses переносит засчитанные бесплатные доступы анонимной
// сессии на пользователя. Дубликаты слагов у пользователя пропускаются.
func (s *Storage) MigrateFreeAccesses(ctx context.Context, sessionID, userUID string) (int, error) {
	const op = "storage.MigrateFreeAccesses"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE free_accesses SET identity_key = $2
			  WHERE identity_key = $1
			    AND NOT EXISTS (
			        SELECT 1 FROM free_accesses f2
			        WHERE f2.identity_key = $2
			          AND f2.period_start = free_accesses.period_start
			          AND f2.content_slug = free_accesses.content_slug
			    )`
	result, err := s.DB.ExecContext(ctx, query, sessionID, userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}
