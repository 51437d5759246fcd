package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"AuthPlatform/internal/domain"
	"AuthPlatform/pkg/database"
)

// MockCredentialRepository мок для CredentialRepository
type MockCredentialRepository struct {
	mock.Mock
}

func (m *MockCredentialRepository) Create(ctx context.Context, credential *domain.Credential, tx database.DBTX) error {
	args := m.Called(ctx, credential, tx)
	return args.Error(0)
}

func (m *MockCredentialRepository) FindByID(ctx context.Context, id string) (*domain.Credential, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Credential), args.Error(1)
}

func (m *MockCredentialRepository) FindByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Credential), args.Error(1)
}

func (m *MockCredentialRepository) FindAll(ctx context.Context) ([]*domain.Credential, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Credential), args.Error(1)
}

// MockUserRepository мок для UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User, tx database.DBTX) error {
	args := m.Called(ctx, user, tx)
	return args.Error(0)
}

func (m *MockUserRepository) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) FindByAuthID(ctx context.Context, authID string) (*domain.User, error) {
	args := m.Called(ctx, authID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) FindAll(ctx context.Context, page domain.Page) (*domain.UserPage, error) {
	args := m.Called(ctx, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserPage), args.Error(1)
}

// fakeTx заглушка транзакции; репозитории-моки ее только сравнивают
type fakeTx struct {
	database.DBTX
}

// memoryStore IdempotencyStore в памяти с учетом TTL
type memoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]memoryEntry
}

type memoryEntry struct {
	record    domain.IdempotencyRecord
	expiresAt time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{now: time.Now, records: make(map[string]memoryEntry)}
}

func (s *memoryStore) live(key string) (memoryEntry, bool) {
	entry, ok := s.records[key]
	if !ok {
		return entry, false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.records, key)
		return entry, false
	}
	return entry, true
}

func (s *memoryStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.records[key] = memoryEntry{
		record:    domain.IdempotencyRecord{Status: domain.IdempotencyPending, CreatedAt: s.now()},
		expiresAt: s.now().Add(ttl),
	}
	return true, nil
}

func (s *memoryStore) Complete(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt := s.now().Add(ttl)
	if entry, ok := s.live(key); ok {
		expiresAt = entry.expiresAt
	}
	s.records[key] = memoryEntry{
		record:    domain.IdempotencyRecord{Status: domain.IdempotencyCompleted, Result: result, CreatedAt: s.now()},
		expiresAt: expiresAt,
	}
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key)
	if !ok {
		return nil, nil
	}
	record := entry.record
	return &record, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
