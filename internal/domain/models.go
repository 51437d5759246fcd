package domain

import (
	"encoding/json"
	"strings"
	"time"

	"AuthPlatform/pkg/errors"
	"AuthPlatform/pkg/validation"
)

// MinPasswordLength минимальная длина пароля
const MinPasswordLength = 6

// Role роль пользователя
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Roles допустимые значения роли
var Roles = []string{string(RoleUser), string(RoleAdmin)}

// Valid проверяет, что роль входит в перечисление
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Credential учетные данные для аутентификации.
// Email уникален глобально, PasswordHash никогда не содержит открытый пароль
type Credential struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PasswordHasher то, что нужно сущности для смены пароля
type PasswordHasher interface {
	Hash(password string) (string, error)
	ValidatePolicy(password string) bool
}

// NewCredential создает учетные данные с проверкой инвариантов
func NewCredential(id, email, passwordHash string, now time.Time) (*Credential, error) {
	if id == "" || email == "" || passwordHash == "" {
		return nil, errors.New(errors.ErrValidation, "id, email and password are required")
	}
	if !validation.IsEmail(email) {
		return nil, errors.New(errors.ErrValidation, "invalid email format")
	}
	return &Credential{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ChangePassword хеширует и сохраняет новый пароль.
// Пароль короче MinPasswordLength отклоняется как WeakPassword
func (c *Credential) ChangePassword(newPassword string, hasher PasswordHasher, now time.Time) error {
	if len([]rune(newPassword)) < MinPasswordLength || !hasher.ValidatePolicy(newPassword) {
		return errors.Newf(errors.ErrWeakPassword, "password must be at least %d characters", MinPasswordLength)
	}
	hash, err := hasher.Hash(newPassword)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to hash password")
	}
	return c.ChangePasswordHash(hash, now)
}

// ChangePasswordHash заменяет хеш пароля
func (c *Credential) ChangePasswordHash(hash string, now time.Time) error {
	if hash == "" {
		return errors.New(errors.ErrValidation, "password hash is required")
	}
	c.PasswordHash = hash
	c.UpdatedAt = now
	return nil
}

// User профиль пользователя, связанный 1:1 с Credential
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AuthID    string    `json:"authId"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewUser создает профиль; пустая роль заменяется на USER
func NewUser(id, name, authID string, role Role, now time.Time) (*User, error) {
	if id == "" || strings.TrimSpace(name) == "" || authID == "" {
		return nil, errors.New(errors.ErrValidation, "id, name and authId are required")
	}
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		return nil, errors.Newf(errors.ErrValidation, "invalid role: %s", role)
	}
	return &User{
		ID:        id,
		Name:      name,
		AuthID:    authID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ChangeName меняет имя; пустое имя недопустимо
func (u *User) ChangeName(name string, now time.Time) error {
	if strings.TrimSpace(name) == "" {
		return errors.New(errors.ErrValidation, "name must not be empty")
	}
	u.Name = name
	u.UpdatedAt = now
	return nil
}

// ChangeRole меняет роль
func (u *User) ChangeRole(role Role, now time.Time) error {
	if !role.Valid() {
		return errors.Newf(errors.ErrValidation, "invalid role: %s", role)
	}
	u.Role = role
	u.UpdatedAt = now
	return nil
}

// IsAdmin проверяет роль администратора
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Principal аутентифицированная личность запроса.
// Заполняется из claims токена, без повторного чтения профиля
type Principal struct {
	ID     string `json:"id"`
	AuthID string `json:"authId"`
	Role   Role   `json:"role"`
}

// HasRole проверяет принадлежность роли к набору
func (p *Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// TokenClaims полезная нагрузка токена доступа
type TokenClaims struct {
	AuthID string
	UserID string
	Role   Role
}

// Page параметры постраничной выборки
type Page struct {
	Limit  int
	Offset int
}

// UserPage результат постраничной выборки профилей
type UserPage struct {
	Data    []*User
	Total   int
	HasMore bool
}

// NewUserPage вычисляет HasMore как offset + limit < total
func NewUserPage(data []*User, total int, page Page) *UserPage {
	return &UserPage{
		Data:    data,
		Total:   total,
		HasMore: page.Offset+page.Limit < total,
	}
}

// Статусы записи журнала идемпотентности
const (
	IdempotencyPending   = "pending"
	IdempotencyCompleted = "completed"
)

// IdempotencyRecord запись журнала идемпотентности.
// Завершенная запись неизменна до истечения TTL
type IdempotencyRecord struct {
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Completed сообщает, что операция выполнена и результат сохранен
func (r *IdempotencyRecord) Completed() bool {
	return r != nil && r.Status == IdempotencyCompleted
}
