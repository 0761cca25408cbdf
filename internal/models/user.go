// Package models содержит доменную модель пользователя.
// Учётные записи создаёт внешний провайдер аутентификации,
// сервис хранит только то, что нужно для энтайтлментов.
package models

import "time"

// User зарегистрированный пользователь платформы.
type User struct {
	UID       string    // Уникальный идентификатор пользователя
	Email     string    // Электронная почта
	Role      string    // Роль пользователя, admin или user
	CreatedAt time.Time // Дата регистрации
}
