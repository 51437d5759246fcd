package middleware

import (
	"context"
	"net/http"
	"strings"

	"AuthPlatform/internal/domain"
	"AuthPlatform/pkg/errors"
)

const bearerPrefix = "Bearer "

// IdentityResolver восстанавливает принципала по токену доступа
type IdentityResolver interface {
	LookupIdentity(ctx context.Context, token string) (*domain.Principal, error)
}

// Authenticate требует заголовок "Authorization: Bearer <token>".
// Схема сравнивается с учетом регистра
func Authenticate(resolver IdentityResolver) Stage {
	return func(next Endpoint) Endpoint {
		return func(r *http.Request) (*Response, error) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				return nil, errors.New(errors.ErrUnauthorized, "missing bearer token")
			}
			token := strings.TrimSpace(header[len(bearerPrefix):])
			if token == "" {
				return nil, errors.New(errors.ErrUnauthorized, "missing bearer token")
			}

			principal, err := resolver.LookupIdentity(r.Context(), token)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrUnauthorized, "invalid or expired token")
			}

			stateFrom(r.Context()).setUser(principal.ID)
			return next(r.WithContext(WithPrincipal(r.Context(), principal)))
		}
	}
}

// RequireRoles пропускает принципала с одной из ролей.
// Пустой набор ролей ничего не проверяет
func RequireRoles(roles ...domain.Role) Stage {
	return func(next Endpoint) Endpoint {
		return func(r *http.Request) (*Response, error) {
			if len(roles) == 0 {
				return next(r)
			}

			principal := PrincipalFrom(r.Context())
			if principal == nil {
				return nil, errors.New(errors.ErrUnauthorized, "authentication required")
			}
			if !principal.HasRole(roles...) {
				return nil, errors.New(errors.ErrForbidden, "insufficient role for this operation")
			}

			return next(r)
		}
	}
}
