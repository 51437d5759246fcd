package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"AuthPlatform/internal/domain"
	"AuthPlatform/internal/pkg/jwt"
	"AuthPlatform/internal/pkg/password"
	"AuthPlatform/internal/repository"
	"AuthPlatform/pkg/database"
	"AuthPlatform/pkg/errors"
)

// SignupInput данные регистрации
type SignupInput struct {
	Email    string
	Password string
	Name     string
	Role     domain.Role
}

// AuthService сценарии аутентификации
type AuthService interface {
	// Signup создает учетные данные и профиль в транзакции tx.
	// Фиксацию и откат выполняет тот, кто открыл tx
	Signup(ctx context.Context, tx database.DBTX, in SignupInput) (*domain.User, error)
	// ValidateCredentials проверяет email и пароль и возвращает профиль
	ValidateCredentials(ctx context.Context, email, password string) (*domain.User, error)
	// IssueToken выпускает токен доступа для проверенного профиля
	IssueToken(user *domain.User) (string, error)
	// LookupIdentity проверяет токен и строит принципала из его claims
	LookupIdentity(ctx context.Context, token string) (*domain.Principal, error)
}

// Service реализация AuthService
type Service struct {
	credentials repository.CredentialRepository
	users       repository.UserRepository
	hasher      password.Hasher
	tokens      jwt.TokenManager
	now         func() time.Time
	newID       func() string
}

// NewAuthService создает новый экземпляр AuthService
func NewAuthService(
	credentials repository.CredentialRepository,
	users repository.UserRepository,
	hasher password.Hasher,
	tokens jwt.TokenManager,
) *Service {
	return &Service{
		credentials: credentials,
		users:       users,
		hasher:      hasher,
		tokens:      tokens,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// Signup регистрирует пользователя
func (s *Service) Signup(ctx context.Context, tx database.DBTX, in SignupInput) (*domain.User, error) {
	if !s.hasher.ValidatePolicy(in.Password) {
		return nil, errors.Newf(errors.ErrWeakPassword, "password must be at least %d characters", domain.MinPasswordLength)
	}
	if in.Role != "" && !in.Role.Valid() {
		return nil, errors.Newf(errors.ErrValidation, "invalid role: %s", in.Role)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to hash password")
	}

	now := s.now()
	credential, err := domain.NewCredential(s.newID(), in.Email, hash, now)
	if err != nil {
		return nil, err
	}
	user, err := domain.NewUser(s.newID(), in.Name, credential.ID, in.Role, now)
	if err != nil {
		return nil, err
	}

	if err := s.credentials.Create(ctx, credential, tx); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user, tx); err != nil {
		return nil, err
	}

	return user, nil
}

// ValidateCredentials реализует проверку при входе:
// нет email -> AuthNotFound, неверный пароль -> InvalidCredentials
func (s *Service) ValidateCredentials(ctx context.Context, email, password string) (*domain.User, error) {
	credential, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if !s.hasher.Compare(password, credential.PasswordHash) {
		return nil, errors.New(errors.ErrInvalidCredentials, "invalid email or password")
	}

	user, err := s.users.FindByAuthID(ctx, credential.ID)
	if err != nil {
		// учетные данные без профиля означают нарушение целостности
		if errors.IsCode(err, errors.ErrUserNotFound) {
			return nil, errors.Wrap(err, errors.ErrInternal, "user profile is missing for credential").
				WithDetails("auth_id=" + credential.ID)
		}
		return nil, err
	}

	return user, nil
}

// IssueToken строит claims из профиля и подписывает токен
func (s *Service) IssueToken(user *domain.User) (string, error) {
	token, err := s.tokens.Issue(domain.TokenClaims{
		AuthID: user.AuthID,
		UserID: user.ID,
		Role:   user.Role,
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrInternal, "failed to issue token")
	}
	return token, nil
}

// LookupIdentity проверяет подпись и срок токена и наличие учетных данных.
// Профиль заново не читается: id и роль берутся из claims
func (s *Service) LookupIdentity(ctx context.Context, token string) (*domain.Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	if _, err := s.credentials.FindByID(ctx, claims.AuthID); err != nil {
		return nil, err
	}

	return &domain.Principal{
		ID:     claims.UserID,
		AuthID: claims.AuthID,
		Role:   claims.Role,
	}, nil
}
