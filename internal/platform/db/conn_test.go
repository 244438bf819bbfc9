package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

func TestConn_FallbackWithoutMiddleware(t *testing.T) {
	var pool *pgxpool.Pool
	for _, ctx := range []context.Context{
		context.Background(),
		context.WithValue(context.Background(), DBConnKey, "not-a-conn"),
	} {
		q, err := Conn(ctx, pool)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if q != Querier(pool) {
			t.Errorf("expected the fallback querier, got %v", q)
		}
	}
}

func TestConnMiddleware_AcquiresNothingUnused(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/kiosk/sessions", nil), httptest.NewRecorder())

	var rc *requestConn
	err := ConnMiddleware(nil)(func(c echo.Context) error {
		rc, _ = c.Request().Context().Value(DBConnKey).(*requestConn)
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc == nil {
		t.Fatal("expected a request connection on the context")
	}
	if rc.conn != nil || !rc.released {
		t.Errorf("expected no connection and a released holder, got %+v", rc)
	}
}

func TestConn_AfterRequestDone(t *testing.T) {
	rc := &requestConn{}
	rc.release()
	ctx := context.WithValue(context.Background(), DBConnKey, rc)
	if _, err := Conn(ctx, nil); !errors.Is(err, ErrRequestDone) {
		t.Fatalf("expected ErrRequestDone, got %v", err)
	}
}
