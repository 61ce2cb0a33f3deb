package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the querying surface shared by *pgxpool.Pool and pgx.Tx. Repositories
// are constructed over it so the same code runs standalone or inside a
// transaction opened by a service.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool adds transaction support on top of DB.
type Pool interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}
