package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"AuthPlatform/internal/domain"
	"AuthPlatform/internal/repository"
	"AuthPlatform/pkg/errors"
)

// IdempotencyRepository журнал идемпотентности в Redis.
// Срок жизни записи задается TTL ключа, других способов вытеснения нет
type IdempotencyRepository struct {
	client *redis.Client
	now    func() time.Time
}

// NewIdempotencyRepository создает новый экземпляр IdempotencyRepository
func NewIdempotencyRepository(client *redis.Client) repository.IdempotencyStore {
	return &IdempotencyRepository{client: client, now: time.Now}
}

// Reserve занимает ключ через SETNX
func (r *IdempotencyRepository) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(&domain.IdempotencyRecord{
		Status:    domain.IdempotencyPending,
		CreatedAt: r.now().UTC(),
	})
	if err != nil {
		return false, errors.Wrap(err, errors.ErrInternal, "failed to marshal idempotency record")
	}

	ok, err := r.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrInternal, "failed to reserve idempotency key")
	}
	return ok, nil
}

// Complete записывает результат. Оставшийся TTL сохраняется; если ключ
// уже истек, запись создается заново со сроком ttl
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error {
	data, err := json.Marshal(&domain.IdempotencyRecord{
		Status:    domain.IdempotencyCompleted,
		Result:    result,
		CreatedAt: r.now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to marshal idempotency record")
	}

	updated, err := r.client.SetXX(ctx, key, data, redis.KeepTTL).Result()
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to complete idempotency record")
	}
	if updated {
		return nil
	}

	if err := r.client.SetNX(ctx, key, data, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to store idempotency record")
	}
	return nil
}

// Get возвращает запись или nil, если ключа нет
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get idempotency record")
	}

	var record domain.IdempotencyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to unmarshal idempotency record")
	}
	return &record, nil
}

// Delete удаляет запись
func (r *IdempotencyRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to delete idempotency record")
	}
	return nil
}
