package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
	"github.com/andrasnagy-data/gatekeep/internal/components/session"
)

type fixture struct {
	svc    *service
	store  credential.Store
	issuer *session.Issuer
	now    time.Time
}

func newFixture(t *testing.T, store credential.Store) *fixture {
	t.Helper()
	f := &fixture{store: store, now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
	f.issuer = session.New(session.NewMemoryStore(), 30*time.Minute, 12*time.Hour,
		session.WithClock(func() time.Time { return f.now }))
	f.svc = newService(store, f.issuer, zerolog.Nop())
	return f
}

func (f *fixture) addUser(t *testing.T, username string, role credential.Role) *credential.UserRecord {
	t.Helper()
	user, err := f.store.Create(context.Background(), credential.UserRecord{
		Username:     username,
		PasswordHash: []byte("digest-" + username),
		Salt:         []byte("salt-" + username),
		AlgorithmTag: "argon2id",
		Role:         role,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) token(t *testing.T, user *credential.UserRecord) string {
	t.Helper()
	token, err := f.issuer.Issue(context.Background(), user.ID, user.Role)
	require.NoError(t, err)
	return token.ID
}

func TestListUsers_Admin(t *testing.T) {
	f := newFixture(t, credential.NewMemoryStore())
	root := f.addUser(t, "root", credential.RoleAdmin)
	f.addUser(t, "alice", credential.RoleUser)
	f.addUser(t, "Bob", credential.RoleUser)

	users, err := f.svc.ListUsers(context.Background(), f.token(t, root))
	require.NoError(t, err)

	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
		assert.False(t, u.CreatedAt.IsZero())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"Bob", "alice", "root"}, names)
}

func TestListUsers_Unauthorized(t *testing.T) {
	f := newFixture(t, credential.NewMemoryStore())
	admin := f.addUser(t, "root", credential.RoleAdmin)
	user := f.addUser(t, "alice", credential.RoleUser)
	userToken := f.token(t, user)
	expiring := f.token(t, admin)

	f.now = f.now.Add(13 * time.Hour)

	for name, token := range map[string]string{
		"no token":  "",
		"garbage":   "not-a-token",
		"non-admin": f.token(t, user),
		"expired":   expiring,
		"stale":     userToken,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.ListUsers(context.Background(), token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

type failingStore struct {
	credential.Store
}

func (failingStore) List(context.Context) ([]credential.UserRecord, error) {
	return nil, errors.Join(credential.ErrStoreUnavailable, context.DeadlineExceeded)
}

func TestListUsers_StoreUnavailable(t *testing.T) {
	f := newFixture(t, failingStore{})
	token, err := f.issuer.Issue(context.Background(), uuid.New(), credential.RoleAdmin)
	require.NoError(t, err)

	_, err = f.svc.ListUsers(context.Background(), token.ID)
	assert.ErrorIs(t, err, credential.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestRouter_ListUsers(t *testing.T) {
	f := newFixture(t, credential.NewMemoryStore())
	root := f.addUser(t, "root", credential.RoleAdmin)
	alice := f.addUser(t, "alice", credential.RoleUser)
	router := NewRouter(f.svc)

	t.Run("admin cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: f.token(t, root)})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var rows []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
		require.Len(t, rows, 2)
		for _, row := range rows {
			assert.Len(t, row, 2)
			assert.Contains(t, row, "username")
			assert.Contains(t, row, "created_at")
		}
		assert.NotContains(t, rec.Body.String(), "digest-")
		assert.NotContains(t, rec.Body.String(), "salt-")
	})

	t.Run("admin bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		req.Header.Set("Authorization", "Bearer "+f.token(t, root))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("non-admin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: f.token(t, alice)})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())
	})

	t.Run("anonymous", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())
	})
}

func TestRouter_StoreUnavailable(t *testing.T) {
	f := newFixture(t, failingStore{})
	token, err := f.issuer.Issue(context.Background(), uuid.New(), credential.RoleAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: token.ID})
	rec := httptest.NewRecorder()
	NewRouter(f.svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
