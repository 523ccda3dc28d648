package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestMiddlewareResolvesUserHeader(t *testing.T) {
	userID := uuid.New()
	var got uuid.UUID
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeader, userID.String())
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != userID {
		t.Fatalf("expected user %s, got %s", userID, got)
	}
}

func TestMiddlewareIgnoresMalformedHeader(t *testing.T) {
	var ok bool
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeader, "not-a-uuid")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if ok {
		t.Fatalf("expected no user for malformed header")
	}
}

func TestRequireUser(t *testing.T) {
	if _, err := RequireUser(context.Background()); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("expected ErrMissingUser, got %v", err)
	}
	if _, err := RequireUser(ContextWithUserID(context.Background(), uuid.Nil)); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("expected ErrMissingUser for nil id, got %v", err)
	}
	id := uuid.New()
	got, err := RequireUser(ContextWithUserID(context.Background(), id))
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}
}
