package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PgKiteRepository struct {
	conn *sql.DB
}

func NewPgKiteRepository(dsn string) (*PgKiteRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgKiteRepository{conn: db}, nil
}

// NewPgKiteRepositoryFromDB wraps an open connection pool.
func NewPgKiteRepositoryFromDB(db *sql.DB) *PgKiteRepository {
	return &PgKiteRepository{conn: db}
}

func (db *PgKiteRepository) DB() *sql.DB {
	return db.conn
}

func (db *PgKiteRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgKiteRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *PgKiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback: %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
