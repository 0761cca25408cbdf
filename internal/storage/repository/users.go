package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/entitlement-service/internal/models"
)

// GetUser возвращает пользователя по UID.
func (s *Storage) GetUser(ctx context.Context, uid string) (*models.User, bool, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT uid, email, role, created_at FROM users WHERE uid = $1`
	row := s.DB.QueryRowContext(ctx, query, uid)

	var result models.User
	err := row.Scan(&result.UID, &result.Email, &result.Role, &result.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &result, true, nil
}

// UpsertUser синхронизирует учётную запись, заведённую внешним провайдером
// аутентификации. Роль обновляется только оператором, поэтому при
// конфликте обновляем лишь email.
func (s *Storage) UpsertUser(ctx context.Context, user models.User) error {
	const op = "storage.UpsertUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (uid, email, role)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (uid) DO UPDATE SET email = EXCLUDED.email`
	_, err := s.DB.ExecContext(ctx, query, user.UID, user.Email, user.Role)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
