package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"AuthPlatform/internal/domain"
	"AuthPlatform/pkg/errors"
)

// TokenClaims структура для хранения идентичности и роли в JWT токене
type TokenClaims struct {
	AuthID string `json:"authId"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager выпускает и проверяет токены доступа
type TokenManager interface {
	Issue(claims domain.TokenClaims) (string, error)
	Verify(token string) (*domain.TokenClaims, error)
}

// Manager реализация TokenManager на HS256.
// Ключ подписи задается при старте и не меняется
type Manager struct {
	secretKey []byte
	ttl       time.Duration
	issuer    string
	now       func() time.Time
}

// NewManager создает новый экземпляр JWT менеджера
func NewManager(secretKey string, ttl time.Duration, issuer string) *Manager {
	return &Manager{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		issuer:    issuer,
		now:       time.Now,
	}
}

// WithClock подменяет источник времени
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Issue подписывает токен с claims и сроком жизни ttl от момента выпуска
func (m *Manager) Issue(claims domain.TokenClaims) (string, error) {
	issuedAt := m.now().UTC()
	tokenClaims := &TokenClaims{
		AuthID: claims.AuthID,
		UserID: claims.UserID,
		Role:   string(claims.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrInternal, "failed to sign token")
	}
	return signed, nil
}

// Verify проверяет подпись, формат и срок действия.
// Любой отказ возвращается как InvalidToken без подробностей
func (m *Manager) Verify(token string) (*domain.TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &TokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidToken, "invalid or expired token")
	}

	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New(errors.ErrInvalidToken, "invalid or expired token")
	}
	if claims.AuthID == "" || claims.UserID == "" || !domain.Role(claims.Role).Valid() {
		return nil, errors.New(errors.ErrInvalidToken, "token payload is incomplete")
	}

	return &domain.TokenClaims{
		AuthID: claims.AuthID,
		UserID: claims.UserID,
		Role:   domain.Role(claims.Role),
	}, nil
}
