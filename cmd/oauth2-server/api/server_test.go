package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ghtak/stardust/internal/directory"
	"github.com/ghtak/stardust/internal/errorx"
	"github.com/ghtak/stardust/internal/oauth"
)

const goodIDToken = "good-id-token"

type stubVerifier struct {
	principal *directory.Principal
}

func (v *stubVerifier) VerifyToken(ctx context.Context, token string) (*directory.Principal, error) {
	if token != goodIDToken {
		return nil, errorx.Unauthorized("invalid login token")
	}
	return v.principal, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store := oauth.NewMemoryStore()
	alice := &directory.Principal{ID: 42, Username: "alice", Email: "alice@example.com"}
	dir := directory.NewStaticDirectory(alice)

	clients := oauth.NewClientService(store, oauth.BcryptHasher{Cost: bcrypt.MinCost}, nil, nil)
	authz := oauth.NewAuthorizationService(clients, store, dir, oauth.TokenTTL{}, nil, nil)

	return NewServer(clients, authz, store, &stubVerifier{principal: alice}, "https://login.example.com/", nil)
}

func registerTestClient(t *testing.T, mux *http.ServeMux) oauth.ClientView {
	t.Helper()

	body, _ := json.Marshal(map[string]any{
		"name":          "web app",
		"client_id":     "client-a",
		"client_secret": "s3cret",
		"redirect_uris": []string{"https://app.example.com/callback"},
		"grant_types":   []string{"authorization_code", "refresh_token"},
		"auth_methods":  []string{"client_secret_post"},
		"scopes":        []string{"read"},
	})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth2/client", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var view oauth.ClientView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view
}

func authorizeURL() string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", "client-a")
	q.Set("redirect_uri", "https://app.example.com/callback")
	q.Set("scope", "read")
	q.Set("state", "xyz")
	return "/oauth2/authorize?" + q.Encode()
}

func TestCreateAndListClients(t *testing.T) {
	mux := newTestServer(t).Routes()
	view := registerTestClient(t, mux)

	assert.Equal(t, "client-a", view.ClientID)
	assert.NotZero(t, view.ID)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2/client", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var views []oauth.ClientView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "client-a", views[0].ClientID)
}

func TestCreateClientDuplicate(t *testing.T) {
	mux := newTestServer(t).Routes()
	registerTestClient(t, mux)

	body, _ := json.Marshal(map[string]any{"client_id": "client-a", "client_secret": "other"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth2/client", bytes.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteClient(t *testing.T) {
	mux := newTestServer(t).Routes()
	registerTestClient(t, mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/oauth2/client/1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2/client", nil))
	var views []oauth.ClientView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Empty(t, views)
}

func TestAuthorizeAuthenticated(t *testing.T) {
	mux := newTestServer(t).Routes()
	registerTestClient(t, mux)

	req := httptest.NewRequest(http.MethodGet, authorizeURL(), nil)
	req.Header.Set("Authorization", "Bearer "+goodIDToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Len(t, loc.Query().Get("code"), 32)
	assert.Equal(t, "xyz", loc.Query().Get("state"))
}

func TestAuthorizeUnauthenticatedParksRequest(t *testing.T) {
	mux := newTestServer(t).Routes()
	registerTestClient(t, mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, authorizeURL(), nil))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "login.example.com", loc.Host)
	requestID := loc.Query().Get("request_id")
	require.NotEmpty(t, requestID)

	// Finish login and complete the parked request.
	body, _ := json.Marshal(map[string]string{"request_id": requestID, "id_token": goodIDToken})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth2/authorize/complete", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		RedirectTo string `json:"redirect_to"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	redirect, err := url.Parse(payload.RedirectTo)
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", redirect.Host)
	assert.NotEmpty(t, redirect.Query().Get("code"))

	// The parked request is single-use.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth2/authorize/complete", bytes.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthorizeBadRedirectURI(t *testing.T) {
	mux := newTestServer(t).Routes()
	registerTestClient(t, mux)

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", "client-a")
	q.Set("redirect_uri", "https://evil.example.com/callback")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2/authorize?"+q.Encode(), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func obtainCode(t *testing.T, mux *http.ServeMux) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, authorizeURL(), nil)
	req.Header.Set("Authorization", "Bearer "+goodIDToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("code")
}

func exchangeToken(t *testing.T, mux *http.ServeMux, form url.Values) (*httptest.ResponseRecorder, oauth.Token) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var token oauth.Token
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
	}
	return rec, token
}

func TestTokenEndpointFlow(t *testing.T) {
	mux := newTestServer(t).Routes()
	registerTestClient(t, mux)
	code := obtainCode(t, mux)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", "client-a")
	form.Set("client_secret", "s3cret")
	form.Set("code", code)

	rec, token := exchangeToken(t, mux, form)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, int64(3600), token.ExpiresIn)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.NotEmpty(t, token.AccessToken)
	assert.NotEmpty(t, token.RefreshToken)

	// Replay must fail: the code is spent.
	rec, _ = exchangeToken(t, mux, form)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Refresh keeps the refresh token and swaps the access token.
	refresh := url.Values{}
	refresh.Set("grant_type", "refresh_token")
	refresh.Set("client_id", "client-a")
	refresh.Set("client_secret", "s3cret")
	refresh.Set("refresh_token", token.RefreshToken)

	rec, refreshed := exchangeToken(t, mux, refresh)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, token.AccessToken, refreshed.AccessToken)
	assert.Equal(t, token.RefreshToken, refreshed.RefreshToken)

	// Resolve the fresh access token.
	req := httptest.NewRequest(http.MethodGet, "/oauth2/me", nil)
	req.Header.Set("Authorization", "Bearer "+refreshed.AccessToken)
	meRec := httptest.NewRecorder()
	mux.ServeHTTP(meRec, req)
	require.Equal(t, http.StatusOK, meRec.Code)

	var me struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		Client        oauth.ClientView        `json:"client"`
		Authorization oauth.AuthorizationView `json:"authorization"`
		Scope         string                  `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(meRec.Body.Bytes(), &me))
	assert.Equal(t, "alice", me.User.Username)
	assert.Equal(t, "client-a", me.Client.ClientID)
	assert.Equal(t, "read", me.Scope)
	assert.Equal(t, oauth.GrantAuthorizationCode, me.Authorization.GrantType)
	assert.Equal(t, int64(42), me.Authorization.PrincipalID)
	assert.False(t, me.Authorization.AccessTokenExpiresAt.IsZero())

	// Token material stays out of the introspection payload.
	body := meRec.Body.String()
	assert.NotContains(t, body, refreshed.AccessToken)
	refreshHash, err := oauth.SHA256Hasher{}.Hash(token.RefreshToken)
	require.NoError(t, err)
	assert.NotContains(t, body, refreshHash)
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	mux := newTestServer(t).Routes()
	registerTestClient(t, mux)
	code := obtainCode(t, mux)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)

	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("client-a", "s3cret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenEndpointBadSecret(t *testing.T) {
	mux := newTestServer(t).Routes()
	registerTestClient(t, mux)
	code := obtainCode(t, mux)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", "client-a")
	form.Set("client_secret", "wrong")
	form.Set("code", code)

	rec, _ := exchangeToken(t, mux, form)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenEndpointUnsupportedGrant(t *testing.T) {
	mux := newTestServer(t).Routes()
	registerTestClient(t, mux)

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", "client-a")
	form.Set("client_secret", "s3cret")

	rec, _ := exchangeToken(t, mux, form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMeRequiresBearer(t *testing.T) {
	mux := newTestServer(t).Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/oauth2/me", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeAfterClientDeletion(t *testing.T) {
	mux := newTestServer(t).Routes()
	view := registerTestClient(t, mux)
	code := obtainCode(t, mux)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", "client-a")
	form.Set("client_secret", "s3cret")
	form.Set("code", code)
	rec, token := exchangeToken(t, mux, form)
	require.Equal(t, http.StatusOK, rec.Code)

	// Resolve once so the aggregate lands in the memoization cache.
	req := httptest.NewRequest(http.MethodGet, "/oauth2/me", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/oauth2/client/%d", view.ID), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The deleted client's tokens stop resolving immediately.
	req = httptest.NewRequest(http.MethodGet, "/oauth2/me", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMethodGuards(t *testing.T) {
	mux := newTestServer(t).Routes()

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPut, "/oauth2/client"},
		{http.MethodGet, "/oauth2/client/1"},
		{http.MethodPost, "/oauth2/authorize"},
		{http.MethodGet, "/oauth2/authorize/complete"},
		{http.MethodGet, "/oauth2/token"},
		{http.MethodPost, "/oauth2/me"},
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestHealth(t *testing.T) {
	mux := newTestServer(t).Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
