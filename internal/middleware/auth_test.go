package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahub/wahub/internal/database"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/store"
	"github.com/wahub/wahub/internal/users"
)

func newAuthFixture(t *testing.T) (*AuthMiddleware, *model.User) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	global, err := store.New(db, "", 64)
	require.NoError(t, err)

	svc := users.NewService(global)
	user, err := svc.Create(context.Background(), model.CreateUserParams{
		Username: "alice", Password: "long enough",
	})
	require.NoError(t, err)

	return NewAuthMiddleware(svc), user
}

func protected(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		require.NotNil(t, user)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthAcceptsHeaderKey(t *testing.T) {
	mw, user := newAuthFixture(t)
	handler := mw.Handler(protected(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("X-Api-Key", user.APIKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	mw, user := newAuthFixture(t)
	handler := mw.Handler(protected(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+user.APIKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthAcceptsQueryKey(t *testing.T) {
	mw, user := newAuthFixture(t)
	handler := mw.Handler(protected(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/events?apiKey="+user.APIKey, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthRejectsMissingKey(t *testing.T) {
	mw, _ := newAuthFixture(t)
	handler := mw.Handler(protected(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsBadKey(t *testing.T) {
	mw, _ := newAuthFixture(t)
	handler := mw.Handler(protected(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("X-Api-Key", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireAdmin(next)

	admin := &model.User{ID: "a", Role: model.UserRoleAdmin}
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/activity", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserContextKey, admin))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	regular := &model.User{ID: "u", Role: model.UserRoleUser}
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/activity", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserContextKey, regular))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/admin/activity", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
