package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	connectAttempts = 3
	connectBackoff  = 500 * time.Millisecond
)

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	// Transient connection errors get a small fixed retry budget.
	var pingErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(connectBackoff):
			}
		}
		if pingErr = db.PingContext(ctx); pingErr == nil {
			return db, nil
		}
	}
	return nil, fmt.Errorf("ping db: %w", pingErr)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation. The constraint is the authoritative signal for duplicate
// phones and doubly-assigned lead brokers under concurrent writers.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
