package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/entitlement-service/internal/models"
)

// ErrContentNotFound возвращается, когда слаг отсутствует в каталоге.
var ErrContentNotFound = errors.New("content not found")

// GetContent возвращает запись каталога по слагу.
func (s *Storage) GetContent(ctx context.Context, slug string) (*models.Content, error) {
	const op = "storage.GetContent"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT slug, content_type, price, is_premium, free_eligible
			  FROM contents WHERE slug = $1`
	row := s.DB.QueryRowContext(ctx, query, slug)

	var result models.Content
	if err := row.Scan(&result.Slug, &result.Type, &result.Price,
		&result.IsPremium, &result.FreeEligible); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrContentNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// CreateContent добавляет материал в каталог. Используется админским
// контуром и тестами.
func (s *Storage) CreateContent(ctx context.Context, content models.Content) error {
	const op = "storage.CreateContent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO contents (slug, content_type, price, is_premium, free_eligible)
			  VALUES ($1, $2, $3, $4, $5)`
	_, err := s.DB.ExecContext(ctx, query,
		content.Slug, content.Type, content.Price, content.IsPremium, content.FreeEligible)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
