package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/entitlement-service/internal/models"
)

// FindPurchase ищет покупку по паре (ключ владения, слаг).
func (s *Storage) FindPurchase(ctx context.Context, identityKey, slug string) (*models.Purchase, bool, error) {
	const op = "storage.FindPurchase"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, identity_key, content_slug, content_type, price_paid, created_at
			  FROM purchases WHERE identity_key = $1 AND content_slug = $2`
	row := s.DB.QueryRowContext(ctx, query, identityKey, slug)

	var result models.Purchase
	err := row.Scan(&result.ID, &result.IdentityKey, &result.ContentSlug,
		&result.ContentType, &result.PricePaid, &result.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &result, true, nil
}

// CreatePurchase вставляет покупку под уникальным ограничением
// (identity_key, content_slug). При конфликте вставка не происходит,
// возвращается существующая запись и created = false: конкурентные
// дубликаты сходятся к одной строке.
func (s *Storage) CreatePurchase(ctx context.Context, purchase models.Purchase) (*models.Purchase, bool, error) {
	const op = "storage.CreatePurchase"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO purchases (identity_key, content_slug, content_type, price_paid)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (identity_key, content_slug) DO NOTHING
			  RETURNING id, created_at`
	row := s.DB.QueryRowContext(ctx, query,
		purchase.IdentityKey, purchase.ContentSlug, purchase.ContentType, purchase.PricePaid)

	err := row.Scan(&purchase.ID, &purchase.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		existing, found, ferr := s.FindPurchase(ctx, purchase.IdentityKey, purchase.ContentSlug)
		if ferr != nil {
			return nil, false, fmt.Errorf("%s: %w", op, ferr)
		}
		if !found {
			return nil, false, fmt.Errorf("%s: conflict without existing row", op)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &purchase, true, nil
}

// MigratePurchases переносит покупки анонимной сессии на пользователя
// после логина. Покупки, уже существующие у пользователя, не трогаются,
// чтобы не нарушить уникальность.
func (s *Storage) MigratePurchases(ctx context.Context, sessionID, userUID string) (int, error) {
	const op = "storage.MigratePurchases"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE purchases SET identity_key = $2
			  WHERE identity_key = $1
			    AND NOT EXISTS (
			        SELECT 1 FROM purchases p2
			        WHERE p2.identity_key = $2 AND p2.content_slug = purchases.content_slug
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
