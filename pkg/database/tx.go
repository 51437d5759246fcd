package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX подмножество pgx, которым пользуются репозитории.
// Ему удовлетворяют и *pgxpool.Pool, и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager открывает единицу работы и передает ее обработчику.
// Обработчик только участвует в транзакции: фиксация и откат остаются за менеджером.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error
}

// PgxTxManager реализация TxManager поверх пула pgx
type PgxTxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager создает менеджер транзакций
func NewTxManager(pool *pgxpool.Pool) *PgxTxManager {
	return &PgxTxManager{pool: pool}
}

// WithinTx выполняет fn в транзакции: commit при успехе, rollback при ошибке или панике.
// Паника пробрасывается дальше после отката.
func (m *PgxTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(ctx, tx)
}

// Pick возвращает tx, если он передан, иначе пул
func Pick(pool DBTX, tx DBTX) DBTX {
	if tx != nil {
		return tx
	}
	return pool
}
