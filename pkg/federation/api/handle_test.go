package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-federation/pkg/federation"
	"github.com/tendant/simple-federation/pkg/usercache"
	"github.com/tendant/simple-federation/pkg/userstore"
)

func setupRouter(t *testing.T, opts ...Option) http.Handler {
	t.Helper()
	store := userstore.NewInMemoryStore()
	store.Seed(
		&userstore.Record{ID: "a", Username: "alice", Email: userstore.StringPtr("alice@example.com"), Password: userstore.StringPtr("secret")},
		&userstore.Record{ID: "b", Username: "bob"},
	)
	p, err := federation.NewProvider(federation.ComponentModel{ID: "p1"}, store, nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandle(p, opts...).RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, DefaultPrefix+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandle_GetUser(t *testing.T) {
	h := setupRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/users/f:p1:a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "f:p1:a", resp.ID)
	assert.Equal(t, "a", resp.ExternalID)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "alice@example.com", userstore.StringValue(resp.Email))
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = doRequest(t, h, http.MethodGet, "/users/f:p1:zzz", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/users/by-username/bob", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/users/by-email/alice@example.com", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/users/by-email/nobody@example.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandle_SearchAndCount(t *testing.T) {
	h := setupRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/users?search=ALI", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list UserListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Users, 1)
	assert.Equal(t, "alice", list.Users[0].Username)

	rec = doRequest(t, h, http.MethodGet, "/users?first=1&max=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Users, 1)
	assert.Equal(t, "bob", list.Users[0].Username)

	rec = doRequest(t, h, http.MethodGet, "/users/count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var count CountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &count))
	assert.Equal(t, 2, count.Count)
}

func TestHandle_CreateUser(t *testing.T) {
	h := setupRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/users", CreateUserRequest{
		Username: "carol",
		Email:    "carol@example.com",
		Phone:    "+15550100",
		Password: "pw",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "+15550100", userstore.StringValue(created.Phone))

	rec = doRequest(t, h, http.MethodPost, "/users/"+created.ID+"/credentials/validate",
		ValidateCredentialRequest{Type: federation.PasswordType, Value: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true}`, rec.Body.String())

	rec = doRequest(t, h, http.MethodPost, "/users", CreateUserRequest{Username: "carol"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/users", CreateUserRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/users", CreateUserRequest{Username: "dave", Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandle_Credentials(t *testing.T) {
	cache, err := usercache.New(usercache.DefaultConfig())
	require.NoError(t, err)
	defer cache.Close()

	for name, opts := range map[string][]Option{
		"live":   nil,
		"cached": {WithUserCache(cache)},
	} {
		t.Run(name, func(t *testing.T) {
			cache.Clear()
			h := setupRouter(t, opts...)

			validate := func(id, value string) bool {
				rec := doRequest(t, h, http.MethodPost, "/users/"+id+"/credentials/validate",
					ValidateCredentialRequest{Type: federation.PasswordType, Value: value})
				require.Equal(t, http.StatusOK, rec.Code)
				var resp ValidateCredentialResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				return resp.Valid
			}

			assert.True(t, validate("f:p1:a", "secret"))
			assert.False(t, validate("f:p1:a", "wrong"))
			assert.False(t, validate("f:p1:b", ""))
			assert.False(t, validate("f:p1:zzz", "secret"))

			rec := doRequest(t, h, http.MethodPut, "/users/f:p1:b/credentials/password", PasswordRequest{Value: "bobpw"})
			require.Equal(t, http.StatusNoContent, rec.Code)
			assert.True(t, validate("f:p1:b", "bobpw"))

			rec = doRequest(t, h, http.MethodGet, "/users/f:p1:b/credentials", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"types":["password"]}`, rec.Body.String())

			rec = doRequest(t, h, http.MethodDelete, "/users/f:p1:b/credentials/password", nil)
			require.Equal(t, http.StatusNoContent, rec.Code)
			assert.False(t, validate("f:p1:b", "bobpw"))

			rec = doRequest(t, h, http.MethodGet, "/users/f:p1:b/credentials", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"types":[]}`, rec.Body.String())

			rec = doRequest(t, h, http.MethodPut, "/users/f:p1:zzz/credentials/password", PasswordRequest{Value: "x"})
			assert.Equal(t, http.StatusNotFound, rec.Code)

			rec = doRequest(t, h, http.MethodPut, "/users/f:p1:b/credentials/password", PasswordRequest{})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandle_AttributesAndDelete(t *testing.T) {
	h := setupRouter(t)

	rec := doRequest(t, h, http.MethodPut, "/users/f:p1:a/attributes/phone",
		AttributeRequest{Values: []string{"555-1234", "555-9999"}})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodPut, "/users/f:p1:a/attributes/color",
		AttributeRequest{Values: []string{"red"}})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/users/f:p1:a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, map[string][]string{
		"phone": {"555-1234"},
		"color": {"red"},
	}, resp.Attributes)

	rec = doRequest(t, h, http.MethodDelete, "/users/f:p1:a/attributes/phone", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodPut, "/users/f:p1:zzz/attributes/color", AttributeRequest{Values: []string{"x"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodDelete, "/users/f:p1:a", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodDelete, "/users/f:p1:a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandle_CachedWritesByExternalID(t *testing.T) {
	ctx := context.Background()
	cache, err := usercache.New(usercache.DefaultConfig())
	require.NoError(t, err)
	defer cache.Close()

	store := userstore.NewInMemoryStore()
	store.Seed(&userstore.Record{ID: "a", Username: "alice", Password: userstore.StringPtr("secret"), Phone: userstore.StringPtr("555-0000")})
	p, err := federation.NewProvider(federation.ComponentModel{ID: "p1"}, store, nil)
	require.NoError(t, err)
	r := chi.NewRouter()
	NewHandle(p, WithUserCache(cache)).RegisterRoutes(r)

	validate := func(id, value string) bool {
		rec := doRequest(t, r, http.MethodPost, "/users/"+id+"/credentials/validate",
			ValidateCredentialRequest{Type: federation.PasswordType, Value: value})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ValidateCredentialResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Valid
	}
	cachedPhone := func() string {
		var phone string
		require.NoError(t, p.Do(ctx, func(sess *federation.Session) error {
			user, err := cache.Session(sess).UserByID(ctx, "f:p1:a")
			require.NoError(t, err)
			require.NotNil(t, user)
			phone = user.Phone()
			return nil
		}))
		return phone
	}

	require.True(t, validate("f:p1:a", "secret"))
	assert.Equal(t, "555-0000", cachedPhone())

	rec := doRequest(t, r, http.MethodPut, "/users/a/attributes/phone", AttributeRequest{Values: []string{"555-1234"}})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "555-1234", cachedPhone())

	rec = doRequest(t, r, http.MethodDelete, "/users/f:other:a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, validate("f:p1:a", "secret"))

	rec = doRequest(t, r, http.MethodDelete, "/users/a", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/users/f:p1:a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, validate("f:p1:a", "secret"))
	assert.False(t, validate("a", "secret"))
}
