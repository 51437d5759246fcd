package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"AuthPlatform/internal/domain"
	"AuthPlatform/internal/repository"
	"AuthPlatform/pkg/database"
	"AuthPlatform/pkg/errors"
)

const credentialColumns = `id, email, password_hash, created_at, updated_at`

// CredentialRepository реализация хранилища учетных данных для PostgreSQL
type CredentialRepository struct {
	db database.DBTX
}

// NewCredentialRepository создает новый экземпляр CredentialRepository
func NewCredentialRepository(db database.DBTX) repository.CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create сохраняет учетные данные. Нарушение уникальности email
// переводится в EmailAlreadyExists
func (r *CredentialRepository) Create(ctx context.Context, credential *domain.Credential, tx database.DBTX) error {
	query := `INSERT INTO auths (` + credentialColumns + `) VALUES ($1, $2, $3, $4, $5)`

	_, err := database.Pick(r.db, tx).Exec(ctx, query,
		credential.ID,
		credential.Email,
		credential.PasswordHash,
		credential.CreatedAt,
		credential.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.New(errors.ErrEmailAlreadyExists, "email already registered")
		}
		return errors.Wrap(err, errors.ErrInternal, "failed to create credential")
	}

	return nil
}

// FindByID возвращает учетные данные по ID
func (r *CredentialRepository) FindByID(ctx context.Context, id string) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM auths WHERE id = $1`
	return r.findOne(ctx, query, id)
}

// FindByEmail возвращает учетные данные по email
func (r *CredentialRepository) FindByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM auths WHERE email = $1`
	return r.findOne(ctx, query, email)
}

// FindAll возвращает все учетные данные, новые первыми
func (r *CredentialRepository) FindAll(ctx context.Context) ([]*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM auths ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to list credentials")
	}
	defer rows.Close()

	var credentials []*domain.Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to scan credential")
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to iterate credentials")
	}

	return credentials, nil
}

func (r *CredentialRepository) findOne(ctx context.Context, query string, arg string) (*domain.Credential, error) {
	credential, err := scanCredential(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.New(errors.ErrAuthNotFound, "credential not found")
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get credential")
	}
	return credential, nil
}

func scanCredential(row pgx.Row) (*domain.Credential, error) {
	var c domain.Credential
	err := row.Scan(
		&c.ID,
		&c.Email,
		&c.PasswordHash,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
