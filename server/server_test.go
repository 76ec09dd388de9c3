package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jrsteele09/go-identity-session/cookiestore"
	"github.com/jrsteele09/go-identity-session/internal/config"
	"github.com/jrsteele09/go-identity-session/provider"
	"github.com/jrsteele09/go-identity-session/provider/providerfake"
	"github.com/jrsteele09/go-identity-session/server"
	"github.com/jrsteele09/go-identity-session/sessions"
	"github.com/jrsteele09/go-identity-session/token"
	"github.com/jrsteele09/go-identity-session/tokenconfig"
	"github.com/stretchr/testify/require"
)

const (
	clientID      = "abc123"
	clientSecret  = "secret"
	secretKeyBase = "0123456789abcdef0123456789abcdef0123456789abcdef"
)

var signInTime = time.Unix(1_700_000_000, 0)

type fixture struct {
	server   *server.Server
	fake     *providerfake.Provider
	manager  *sessions.Manager
	store    *cookiestore.Store
	signedIn []*sessions.Session
}

func setupTestFixture(t *testing.T, clientOptions ...provider.ClientOption) *fixture {
	t.Helper()
	token.NowTimeFunc = func() time.Time { return signInTime }
	t.Cleanup(func() { token.NowTimeFunc = time.Now })

	fake := providerfake.New(clientID, clientSecret)
	t.Cleanup(fake.Close)

	client, err := provider.NewClient(fake.URL, clientID, clientSecret, clientOptions...)
	require.NoError(t, err)

	registry := tokenconfig.New("client", fake.URL, []config.SisterConfig{{Name: "etsister", URI: "https://sister"}})
	manager, err := sessions.NewManager(fake.URL, registry, client)
	require.NoError(t, err)

	store, err := cookiestore.New(secretKeyBase)
	require.NoError(t, err)

	f := &fixture{fake: fake, manager: manager, store: store}
	f.server, err = server.New(config.EnvVars{Env: "TEST"}, manager, store, client,
		server.WithOnSignIn(func(s *sessions.Session) { f.signedIn = append(f.signedIn, s) }))
	require.NoError(t, err)
	return f
}

// signIn completes a sign-in and returns the session cookie.
func (f *fixture) signIn(t *testing.T, roles []any, extra ...*http.Cookie) (*http.Cookie, *httptest.ResponseRecorder) {
	t.Helper()
	accessToken, refreshToken := f.fake.IssueToken()

	req := httptest.NewRequest(http.MethodGet, "/auth/identity/callback", nil)
	for _, c := range extra {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	err := f.server.CompleteSignIn(rec, req,
		token.Credentials{Token: accessToken, RefreshToken: refreshToken, ExpiresIn: 3600},
		map[string]any{"sub": "123", "email": "hello@example.org", "name": "John Doe", "roles": roles},
	)
	require.NoError(t, err)

	return findCookie(t, rec, f.store.CookieName()), rec
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (f *fixture) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "text/html")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	f := setupTestFixture(t)

	_, err := server.New(config.EnvVars{}, nil, f.store, &providerLogout{})
	require.Error(t, err)
	_, err = server.New(config.EnvVars{}, f.manager, nil, &providerLogout{})
	require.Error(t, err)
	_, err = server.New(config.EnvVars{}, f.manager, f.store, nil)
	require.Error(t, err)
}

type providerLogout struct{}

func (providerLogout) LogoutURL(string) string { return "https://issuer/logout" }

func TestCompleteSignIn(t *testing.T) {
	f := setupTestFixture(t)

	cookie, rec := f.signIn(t, []any{"admin"})
	require.NotNil(t, cookie)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))

	require.Len(t, f.signedIn, 1)
	require.True(t, f.signedIn[0].User().Admin())

	payload, sessionID, err := f.store.Decode(cookie.Value)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)
	require.Equal(t, f.fake.URL, payload["issuer"])

	t.Run("session id changes on every sign in", func(t *testing.T) {
		other, _ := f.signIn(t, []any{"admin"})
		_, otherID, err := f.store.Decode(other.Value)
		require.NoError(t, err)
		require.NotEqual(t, sessionID, otherID)
	})
}

func TestMe(t *testing.T) {
	t.Run("signed out", func(t *testing.T) {
		f := setupTestFixture(t)

		rec := f.get(server.RouteMe)
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.NotNil(t, findCookie(t, rec, "identity_return_to"))
	})

	t.Run("signed in", func(t *testing.T) {
		f := setupTestFixture(t)
		cookie, _ := f.signIn(t, []any{"admin"})

		rec := f.get(server.RouteMe, cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

		var body server.MeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "123", body.ID)
		require.Equal(t, "hello@example.org", *body.Email)
		require.True(t, body.Admin)
		require.Equal(t, []config.SisterConfig{{Name: "etsister", URI: "https://sister"}}, body.UnregisteredTokens)

		require.Nil(t, findCookie(t, rec, f.store.CookieName()), "fresh sessions are not rewritten")
		require.Equal(t, 0, f.fake.RefreshCount())
	})

	t.Run("expired token is refreshed", func(t *testing.T) {
		f := setupTestFixture(t)
		cookie, _ := f.signIn(t, []any{"admin"})
		f.fake.SetClaims(map[string]any{"sub": "123", "email": "changed@example.org", "roles": []string{"admin"}})
		token.NowTimeFunc = func() time.Time { return signInTime.Add(2 * time.Hour) }

		rec := f.get(server.RouteMe, cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 1, f.fake.RefreshCount())

		var body server.MeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "changed@example.org", *body.Email)

		rewritten := findCookie(t, rec, f.store.CookieName())
		require.NotNil(t, rewritten)
		_, oldID, err := f.store.Decode(cookie.Value)
		require.NoError(t, err)
		_, newID, err := f.store.Decode(rewritten.Value)
		require.NoError(t, err)
		require.Equal(t, oldID, newID)
	})

	t.Run("revoked grant signs the user out", func(t *testing.T) {
		f := setupTestFixture(t)
		cookie, _ := f.signIn(t, []any{"admin"})
		f.fake.RevokeAll()
		token.NowTimeFunc = func() time.Time { return signInTime.Add(2 * time.Hour) }

		rec := f.get(server.RouteMe, cookie)
		require.Equal(t, http.StatusNotFound, rec.Code)
		cleared := findCookie(t, rec, f.store.CookieName())
		require.NotNil(t, cleared)
		require.Equal(t, -1, cleared.MaxAge)
	})

	t.Run("provider failure is an error", func(t *testing.T) {
		f := setupTestFixture(t)
		cookie, _ := f.signIn(t, []any{"admin"})
		f.fake.RotateClientSecret("rotated")
		token.NowTimeFunc = func() time.Time { return signInTime.Add(2 * time.Hour) }

		rec := f.get(server.RouteMe, cookie)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		cleared := findCookie(t, rec, f.store.CookieName())
		require.NotNil(t, cleared)
		require.Equal(t, -1, cleared.MaxAge)
	})

	t.Run("session from another issuer", func(t *testing.T) {
		f := setupTestFixture(t)
		cookie, _ := f.signIn(t, []any{"admin"})
		payload, sessionID, err := f.store.Decode(cookie.Value)
		require.NoError(t, err)
		payload["issuer"] = "https://staging.example.org"
		value, err := f.store.Encode(payload, sessionID)
		require.NoError(t, err)

		rec := f.get(server.RouteMe, &http.Cookie{Name: f.store.CookieName(), Value: value})
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, -1, findCookie(t, rec, f.store.CookieName()).MaxAge)
	})

	t.Run("tampered cookie", func(t *testing.T) {
		f := setupTestFixture(t)

		rec := f.get(server.RouteMe, &http.Cookie{Name: f.store.CookieName(), Value: "forged"})
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, -1, findCookie(t, rec, f.store.CookieName()).MaxAge)
	})
}

func TestReturnTo(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.get(server.RouteMe + "?format=full")
	returnTo := findCookie(t, rec, "identity_return_to")
	require.NotNil(t, returnTo)

	_, signInRec := f.signIn(t, []any{}, returnTo)
	require.Equal(t, "/me?format=full", signInRec.Header().Get("Location"))

	t.Run("other hosts are ignored", func(t *testing.T) {
		_, rec := f.signIn(t, []any{}, &http.Cookie{Name: "identity_return_to", Value: "//evil.example.org/"})
		require.Equal(t, "/", rec.Header().Get("Location"))
	})
}

func TestRequireAdmin(t *testing.T) {
	f := setupTestFixture(t)

	user, _ := f.signIn(t, []any{"user"})
	require.Equal(t, http.StatusNotFound, f.get(server.RouteAdminIdentity, user).Code)

	admin, _ := f.signIn(t, []any{"admin"})
	rec := f.get(server.RouteAdminIdentity, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	var body server.AdminIdentityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, f.fake.URL, body.Issuer)
	require.Equal(t, []string{"client", "etsister"}, body.TokenNames)
}

func TestSignOut(t *testing.T) {
	t.Run("signed out", func(t *testing.T) {
		f := setupTestFixture(t)

		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, server.RouteSignOut, nil))
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/", rec.Header().Get("Location"))
	})

	t.Run("signed in", func(t *testing.T) {
		f := setupTestFixture(t)
		cookie, _ := f.signIn(t, []any{})

		req := httptest.NewRequest(http.MethodPost, "http://www.example.com"+server.RouteSignOut, nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		require.Equal(t, f.fake.URL+"/logout", location.Scheme+"://"+location.Host+location.Path)
		require.Equal(t, url.Values{
			"client_id": {clientID},
			"return_to": {"http://www.example.com/"},
		}, location.Query())

		require.Equal(t, -1, findCookie(t, rec, f.store.CookieName()).MaxAge)
		require.NotNil(t, findCookie(t, rec, "identity_notice"))
	})
}

func TestFailure(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.get(server.RouteFailure + "?message=access_denied")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "access_denied")
}
