package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"AuthPlatform/internal/repository"
	"AuthPlatform/pkg/errors"
)

const (
	idempotencyPrefix = "idempotency"
	anonymousSubject  = "anonymous"
)

// IdempotencyLedger журнал уже выполненных небезопасных операций
type IdempotencyLedger interface {
	IsProcessed(ctx context.Context, key string) (bool, error)
	MarkAsProcessed(ctx context.Context, key string, result interface{}) error
	GetProcessedResult(ctx context.Context, key string) (json.RawMessage, error)
	GenerateKey(principalID, operation, token string) string
	// Reserve занимает ключ до выполнения операции; false, если ключ уже есть
	Reserve(ctx context.Context, key string) (bool, error)
	// Release освобождает ключ после неудачной операции
	Release(ctx context.Context, key string) error
	Remove(ctx context.Context, key string) error
}

// Ledger реализация IdempotencyLedger поверх IdempotencyStore
type Ledger struct {
	store repository.IdempotencyStore
	ttl   time.Duration
}

// NewIdempotencyLedger создает журнал с заданным TTL записей
func NewIdempotencyLedger(store repository.IdempotencyStore, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Ledger{store: store, ttl: ttl}
}

// GenerateKey собирает ключ из трех частей через ':'.
// Двоеточие внутри частей экранируется, чтобы разные тройки не совпадали
func (l *Ledger) GenerateKey(principalID, operation, token string) string {
	if principalID == "" {
		principalID = anonymousSubject
	}
	escape := strings.NewReplacer(`\`, `\\`, ":", `\:`)
	return strings.Join([]string{
		idempotencyPrefix,
		escape.Replace(principalID),
		escape.Replace(operation),
		escape.Replace(token),
	}, ":")
}

// IsProcessed сообщает, есть ли запись для ключа
func (l *Ledger) IsProcessed(ctx context.Context, key string) (bool, error) {
	record, err := l.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

// MarkAsProcessed сохраняет результат операции
func (l *Ledger) MarkAsProcessed(ctx context.Context, key string, result interface{}) error {
	var raw json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return errors.Wrap(err, errors.ErrInternal, "failed to marshal operation result")
		}
		raw = data
	}
	return l.store.Complete(ctx, key, raw, l.ttl)
}

// GetProcessedResult возвращает сохраненный результат или nil
func (l *Ledger) GetProcessedResult(ctx context.Context, key string) (json.RawMessage, error) {
	record, err := l.store.Get(ctx, key)
	if err != nil || record == nil {
		return nil, err
	}
	return record.Result, nil
}

// Reserve занимает ключ на время выполнения операции
func (l *Ledger) Reserve(ctx context.Context, key string) (bool, error) {
	return l.store.Reserve(ctx, key, l.ttl)
}

// Release снимает резерв, если операция не завершилась.
// Завершенная запись не трогается
func (l *Ledger) Release(ctx context.Context, key string) error {
	record, err := l.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if record == nil || record.Completed() {
		return nil
	}
	return l.store.Delete(ctx, key)
}

// Remove удаляет запись независимо от статуса
func (l *Ledger) Remove(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}
