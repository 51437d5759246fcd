package http_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"AuthPlatform/internal/domain"
	"AuthPlatform/pkg/database"
	"AuthPlatform/pkg/errors"
)

// memoryDB хранилище в памяти; WithinTx откатывает изменения при ошибке
type memoryDB struct {
	mu             sync.Mutex
	credentials    map[string]*domain.Credential
	users          map[string]*domain.User
	failUserCreate bool
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		credentials: make(map[string]*domain.Credential),
		users:       make(map[string]*domain.User),
	}
}

func (db *memoryDB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx database.DBTX) error) error {
	db.mu.Lock()
	credentials := make(map[string]*domain.Credential, len(db.credentials))
	for k, v := range db.credentials {
		credentials[k] = v
	}
	users := make(map[string]*domain.User, len(db.users))
	for k, v := range db.users {
		users[k] = v
	}
	db.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		db.mu.Lock()
		db.credentials = credentials
		db.users = users
		db.mu.Unlock()
		return err
	}
	return nil
}

func (db *memoryDB) credentialCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.credentials)
}

type memoryCredentials struct{ db *memoryDB }

func (r memoryCredentials) Create(ctx context.Context, c *domain.Credential, tx database.DBTX) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.credentials {
		if existing.Email == c.Email {
			return errors.New(errors.ErrEmailAlreadyExists, "email already registered")
		}
	}
	cp := *c
	r.db.credentials[c.ID] = &cp
	return nil
}

func (r memoryCredentials) FindByID(ctx context.Context, id string) (*domain.Credential, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if c, ok := r.db.credentials[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, errors.New(errors.ErrAuthNotFound, "credential not found")
}

func (r memoryCredentials) FindByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.credentials {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errors.New(errors.ErrAuthNotFound, "credential not found")
}

func (r memoryCredentials) FindAll(ctx context.Context) ([]*domain.Credential, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]*domain.Credential, 0, len(r.db.credentials))
	for _, c := range r.db.credentials {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

type memoryUsers struct{ db *memoryDB }

func (r memoryUsers) Create(ctx context.Context, u *domain.User, tx database.DBTX) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failUserCreate {
		return errors.New(errors.ErrUserCreationFailed, "failed to create user").WithDetails("forced")
	}
	cp := *u
	r.db.users[u.ID] = &cp
	return nil
}

func (r memoryUsers) Update(ctx context.Context, u *domain.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[u.ID]; !ok {
		return errors.New(errors.ErrUserNotFound, "user not found")
	}
	cp := *u
	r.db.users[u.ID] = &cp
	return nil
}

func (r memoryUsers) FindByID(ctx context.Context, id string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if u, ok := r.db.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, errors.New(errors.ErrUserNotFound, "user not found")
}

func (r memoryUsers) FindByAuthID(ctx context.Context, authID string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.AuthID == authID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, errors.New(errors.ErrUserNotFound, "user not found")
}

func (r memoryUsers) FindAll(ctx context.Context, page domain.Page) (*domain.UserPage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	all := make([]*domain.User, 0, len(r.db.users))
	for _, u := range r.db.users {
		cp := *u
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := min(page.Offset, len(all))
	end := min(start+page.Limit, len(all))
	return domain.NewUserPage(all[start:end], len(all), page), nil
}

// memoryStore IdempotencyStore в памяти без учета TTL
type memoryStore struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]domain.IdempotencyRecord)}
}

func (s *memoryStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.records[key] = domain.IdempotencyRecord{Status: domain.IdempotencyPending, CreatedAt: time.Now()}
	return true, nil
}

func (s *memoryStore) Complete(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = domain.IdempotencyRecord{Status: domain.IdempotencyCompleted, Result: result, CreatedAt: time.Now()}
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.records[key]; ok {
		return &record, nil
	}
	return nil, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// recordingPublisher запоминает опубликованные события
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(ctx context.Context, eventType string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}
