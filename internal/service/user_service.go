package service

import (
	"context"
	"time"

	"AuthPlatform/internal/domain"
	"AuthPlatform/internal/repository"
	"AuthPlatform/pkg/errors"
)

// UpdateProfileInput изменяемые поля профиля; nil означает "не менять"
type UpdateProfileInput struct {
	Name *string
	Role *domain.Role
}

// UserService сценарии каталога пользователей
type UserService interface {
	List(ctx context.Context, page domain.Page) (*domain.UserPage, error)
	Get(ctx context.Context, id string) (*domain.User, error)
	UpdateProfile(ctx context.Context, id string, in UpdateProfileInput) (*domain.User, error)
	ChangeRole(ctx context.Context, id string, role domain.Role) (*domain.User, error)
}

// UserDirectory реализация UserService
type UserDirectory struct {
	users repository.UserRepository
	now   func() time.Time
}

// NewUserService создает новый экземпляр UserService
func NewUserService(users repository.UserRepository) *UserDirectory {
	return &UserDirectory{
		users: users,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// List возвращает страницу профилей
func (s *UserDirectory) List(ctx context.Context, page domain.Page) (*domain.UserPage, error) {
	return s.users.FindAll(ctx, page)
}

// Get возвращает профиль по ID
func (s *UserDirectory) Get(ctx context.Context, id string) (*domain.User, error) {
	return s.users.FindByID(ctx, id)
}

// UpdateProfile меняет имя и роль профиля
func (s *UserDirectory) UpdateProfile(ctx context.Context, id string, in UpdateProfileInput) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if in.Name != nil {
		if err := user.ChangeName(*in.Name, now); err != nil {
			return nil, err
		}
	}
	if in.Role != nil {
		if err := user.ChangeRole(*in.Role, now); err != nil {
			return nil, err
		}
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ChangeRole назначает роль другому пользователю
func (s *UserDirectory) ChangeRole(ctx context.Context, id string, role domain.Role) (*domain.User, error) {
	if !role.Valid() {
		return nil, errors.Newf(errors.ErrValidation, "invalid role: %s", role)
	}
	return s.UpdateProfile(ctx, id, UpdateProfileInput{Role: &role})
}
