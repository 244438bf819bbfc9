package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func callAs(userID string, roles []string, mw echo.MiddlewareFunc) (int, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/kiosk/sessions", nil)
	if userID != "" || roles != nil {
		req = req.WithContext(withIdentity(req.Context(), userID, roles, "", ""))
	}
	rec := httptest.NewRecorder()
	err := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})(e.NewContext(req, rec))
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code, err
	}
	return rec.Code, err
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name   string
		userID string
		roles  []string
		want   int
	}{
		{"kiosk terminal", "kiosk-1", []string{RoleKiosk}, http.StatusNoContent},
		{"admin passes every check", "desk-1", []string{RoleAdmin}, http.StatusNoContent},
		{"doctor on kiosk route", "dr-1", []string{RoleDoctor}, http.StatusForbidden},
		{"signed in without roles", "kiosk-2", nil, http.StatusForbidden},
		{"anonymous", "", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := callAs(tc.userID, tc.roles, RequireRole(RoleKiosk))
			if code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, code)
			}
		})
	}
}

func TestRequireRole_MessageNamesRoles(t *testing.T) {
	_, err := callAs("dr-1", []string{RoleDoctor}, RequireRole(RoleKiosk, RoleAdmin))
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if he.Message != "required role: kiosk or admin" {
		t.Errorf("unexpected message %v", he.Message)
	}
}

func TestHasRole(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserRolesKey, []string{RoleDoctor})
	if !HasRole(ctx, RoleKiosk, RoleDoctor) {
		t.Error("expected doctor to match")
	}
	if HasRole(ctx, RoleKiosk) {
		t.Error("expected doctor not to hold kiosk")
	}
	if HasRole(context.Background(), RoleKiosk) {
		t.Error("expected empty context to hold no role")
	}
}
