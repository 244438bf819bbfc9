package db

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Querier is the query surface shared by pools and pooled connections.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrRequestDone is returned when a request connection is asked for after
// its request has finished.
var ErrRequestDone = errors.New("db: request already finished")

type contextKey string

const DBConnKey contextKey = "db_conn"

// requestConn acquires its connection on first use so requests that never
// query the database hold none.
type requestConn struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	conn     *pgxpool.Conn
	released bool
}

func (rc *requestConn) get(ctx context.Context) (*pgxpool.Conn, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.released {
		return nil, ErrRequestDone
	}
	if rc.conn == nil {
		conn, err := rc.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		rc.conn = conn
	}
	return rc.conn, nil
}

func (rc *requestConn) release() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.released = true
	if rc.conn != nil {
		rc.conn.Release()
		rc.conn = nil
	}
}

// ConnMiddleware gives each request one pooled connection, acquired when a
// repository first asks for it and released when the handler returns.
func ConnMiddleware(pool *pgxpool.Pool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rc := &requestConn{pool: pool}
			defer rc.release()

			ctx := context.WithValue(c.Request().Context(), DBConnKey, rc)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// Conn returns the request's connection, or fallback when ctx was not
// created by ConnMiddleware.
func Conn(ctx context.Context, fallback Querier) (Querier, error) {
	rc, ok := ctx.Value(DBConnKey).(*requestConn)
	if !ok {
		return fallback, nil
	}
	return rc.get(ctx)
}
