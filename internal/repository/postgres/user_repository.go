package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"AuthPlatform/internal/domain"
	"AuthPlatform/internal/repository"
	"AuthPlatform/pkg/database"
	"AuthPlatform/pkg/errors"
)

const userColumns = `id, name, auth_id, role, created_at, updated_at`

// UserRepository реализация каталога профилей для PostgreSQL
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository создает новый экземпляр UserRepository
func NewUserRepository(db database.DBTX) repository.UserRepository {
	return &UserRepository{db: db}
}

// Create сохраняет профиль. Любая ошибка хранилища становится
// UserCreationFailed, исходный текст уходит только в Details
func (r *UserRepository) Create(ctx context.Context, user *domain.User, tx database.DBTX) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := database.Pick(r.db, tx).Exec(ctx, query,
		user.ID,
		user.Name,
		user.AuthID,
		string(user.Role),
		user.CreatedAt,
		user.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrUserCreationFailed, "failed to create user").
			WithDetails(err.Error())
	}

	return nil
}

// Update сохраняет имя и роль профиля
func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	query := `UPDATE users SET name = $2, role = $3, updated_at = $4 WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		user.ID,
		user.Name,
		string(user.Role),
		user.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to update user")
	}

	if result.RowsAffected() == 0 {
		return errors.New(errors.ErrUserNotFound, "user not found")
	}

	return nil
}

// FindByID возвращает профиль по ID
func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.findOne(ctx, query, id)
}

// FindByAuthID возвращает профиль, связанный с учетными данными
func (r *UserRepository) FindByAuthID(ctx context.Context, authID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE auth_id = $1`
	return r.findOne(ctx, query, authID)
}

// FindAll возвращает страницу профилей, новые первыми.
// Границы limit и offset проверяет вызывающая сторона
func (r *UserRepository) FindAll(ctx context.Context, page domain.Page) (*domain.UserPage, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to count users")
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, page.Limit, page.Offset)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to list users")
	}
	defer rows.Close()

	users := make([]*domain.User, 0, page.Limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to scan user")
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to iterate users")
	}

	return domain.NewUserPage(users, total, page), nil
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg string) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.New(errors.ErrUserNotFound, "user not found")
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get user")
	}
	return user, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u    domain.User
		role string
	)
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.AuthID,
		&role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}
