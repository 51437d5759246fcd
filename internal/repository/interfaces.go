package repository

import (
	"context"
	"encoding/json"
	"time"

	"AuthPlatform/internal/domain"
	"AuthPlatform/pkg/database"
)

// CredentialRepository хранилище учетных данных.
// Промах поиска возвращает ошибку вида AuthNotFound
type CredentialRepository interface {
	// Create сохраняет учетные данные в транзакции tx; nil означает собственную транзакцию
	Create(ctx context.Context, credential *domain.Credential, tx database.DBTX) error
	FindByID(ctx context.Context, id string) (*domain.Credential, error)
	FindByEmail(ctx context.Context, email string) (*domain.Credential, error)
	FindAll(ctx context.Context) ([]*domain.Credential, error)
}

// UserRepository каталог профилей пользователей.
// Промах поиска возвращает ошибку вида UserNotFound
type UserRepository interface {
	// Create сохраняет профиль в транзакции tx; nil означает собственную транзакцию
	Create(ctx context.Context, user *domain.User, tx database.DBTX) error
	Update(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByAuthID(ctx context.Context, authID string) (*domain.User, error)
	FindAll(ctx context.Context, page domain.Page) (*domain.UserPage, error)
}

// IdempotencyStore хранилище журнала идемпотентности с TTL
type IdempotencyStore interface {
	// Reserve атомарно создает запись в статусе pending; false, если ключ уже занят
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Complete сохраняет результат операции, сохраняя оставшийся TTL
	Complete(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error
	// Get возвращает запись или nil, если ключа нет
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Delete(ctx context.Context, key string) error
}
