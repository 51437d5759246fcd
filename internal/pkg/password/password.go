package password

import (
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"AuthPlatform/internal/domain"
)

const (
	// MinLength минимальная длина пароля в символах
	MinLength = domain.MinPasswordLength
	// MaxBytes предел bcrypt; более длинный ввод отклоняется политикой
	MaxBytes = 72
)

// Hasher интерфейс для работы с паролями
type Hasher interface {
	Hash(password string) (string, error)
	Compare(password, hash string) bool
	ValidatePolicy(password string) bool
}

// BcryptHasher реализация Hasher с использованием bcrypt.
// Соль случайная и хранится внутри хеша
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher создает новый BcryptHasher
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash хеширует пароль с использованием bcrypt
func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Compare проверяет, соответствует ли пароль хешу.
// Сравнение выполняет bcrypt за постоянное время.
// bcrypt читает только первые MaxBytes байт, поэтому более длинный ввод
// никогда не совпадает
func (h *BcryptHasher) Compare(password, hash string) bool {
	if len(password) > MaxBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePolicy проверяет минимальную длину; пустой пароль не проходит
func (h *BcryptHasher) ValidatePolicy(password string) bool {
	if password == "" || len(password) > MaxBytes {
		return false
	}
	return utf8.RuneCountInString(password) >= MinLength
}
