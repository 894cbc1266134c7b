package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories — набор репозиториев, работающих через один DBTX
// (пул вне транзакции или pgx.Tx внутри неё).
type Repositories struct {
	LinkGroups LinkGroupRepository
	Spaces     SpaceRepository
	Files      FileRepository
}

// NewRepositories создаёт набор репозиториев поверх db.
func NewRepositories(db DBTX) *Repositories {
	return &Repositories{
		LinkGroups: NewLinkGroupRepository(db),
		Spaces:     NewSpaceRepository(db),
		Files:      NewFileRepository(db),
	}
}

// Store — точка доступа сервисов к хранилищу.
// Repos возвращает репозитории для чтения без блокировок,
// InTx выполняет fn в одной учётной транзакции.
type Store interface {
	Repos() *Repositories
	InTx(ctx context.Context, fn func(r *Repositories) error) error
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
// lockTimeout > 0 ограничивает ожидание row lock внутри каждой транзакции.
func NewTxRunner(pool *pgxpool.Pool, lockTimeout time.Duration) *TxRunner {
	return &TxRunner{pool: pool, lockTimeout: lockTimeout}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if r.lockTimeout > 0 {
		// SET LOCAL не принимает параметры, значение подставляется в миллисекундах
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка установки lock_timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// PgStore — реализация Store поверх PostgreSQL.
type PgStore struct {
	runner *TxRunner
	repos  *Repositories
}

// NewPgStore создаёт Store поверх пула подключений.
func NewPgStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PgStore {
	return &PgStore{
		runner: NewTxRunner(pool, lockTimeout),
		repos:  NewRepositories(pool),
	}
}

// Repos возвращает репозитории, работающие через пул (без транзакции).
func (s *PgStore) Repos() *Repositories {
	return s.repos
}

// InTx выполняет fn в транзакции с репозиториями, привязанными к pgx.Tx.
func (s *PgStore) InTx(ctx context.Context, fn func(r *Repositories) error) error {
	return s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewRepositories(tx))
	})
}
