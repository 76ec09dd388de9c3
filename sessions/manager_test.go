package sessions_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jrsteele09/go-identity-session/autherrors"
	"github.com/jrsteele09/go-identity-session/internal/config"
	"github.com/jrsteele09/go-identity-session/internal/utils"
	"github.com/jrsteele09/go-identity-session/sessions"
	"github.com/jrsteele09/go-identity-session/token"
	"github.com/jrsteele09/go-identity-session/tokenconfig"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const issuer = "https://issuer"

var signInTime = time.Unix(1_700_000_000, 0)

// fakeProvider answers refreshes and user-info requests from canned values.
type fakeProvider struct {
	refreshCalls  []string
	userInfoCalls []string

	tok        *oauth2.Token
	refreshErr error
	claims     map[string]any
	userErr    error
}

func (f *fakeProvider) RefreshToken(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	f.refreshCalls = append(f.refreshCalls, refreshToken)
	return f.tok, f.refreshErr
}

func (f *fakeProvider) UserInfo(_ context.Context, accessToken string) (map[string]any, error) {
	f.userInfoCalls = append(f.userInfoCalls, accessToken)
	return f.claims, f.userErr
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		tok: &oauth2.Token{AccessToken: "__new_access_token__", RefreshToken: "__new_refresh_token__", ExpiresIn: 3600},
		claims: map[string]any{
			"sub":   "123",
			"email": "new@example.org",
			"name":  "John Doe",
			"roles": []any{"user"},
		},
	}
}

func setClock(t *testing.T, now time.Time) {
	t.Helper()
	token.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { token.NowTimeFunc = time.Now })
}

type fixture struct {
	manager  *sessions.Manager
	provider *fakeProvider
}

func setupTestFixture(t *testing.T, options ...sessions.ManagerOption) *fixture {
	t.Helper()
	setClock(t, signInTime)

	registry := tokenconfig.New("client", issuer, []config.SisterConfig{
		{Name: "etsister", URI: "https://sister"},
		{Name: "etbrother", URI: "https://brother"},
	})
	provider := newFakeProvider()

	options = append([]sessions.ManagerOption{sessions.WithLogger(zerolog.New(zerolog.NewTestWriter(t)))}, options...)
	m, err := sessions.NewManager(issuer, registry, provider, options...)
	require.NoError(t, err)
	return &fixture{manager: m, provider: provider}
}

func signInCredentials() token.Credentials {
	return token.Credentials{Token: "__access_token__", RefreshToken: "__refresh_token__", ExpiresIn: 3600}
}

func signInClaims() map[string]any {
	return map[string]any{"sub": "123", "email": "hello@example.org", "roles": []any{"admin"}}
}

func (f *fixture) signIn(t *testing.T) *sessions.Session {
	t.Helper()
	s, err := f.manager.FromProviderCredentials(signInCredentials(), signInClaims())
	require.NoError(t, err)
	return s
}

func accessTokens(t *testing.T, dump map[string]any) map[string]any {
	t.Helper()
	tokens, ok := dump["accessTokens"].(map[string]any)
	require.True(t, ok)
	return tokens
}

func tokenString(t *testing.T, dump map[string]any, name string) string {
	t.Helper()
	entry, ok := accessTokens(t, dump)[name].(map[string]any)
	require.True(t, ok, "no token named %q", name)
	return entry["token"].(string)
}

func TestNewManager(t *testing.T) {
	registry := tokenconfig.New("client", issuer, nil)

	_, err := sessions.NewManager("", registry, newFakeProvider())
	require.Error(t, err)

	_, err = sessions.NewManager(issuer, nil, newFakeProvider())
	require.Error(t, err)

	_, err = sessions.NewManager(issuer, registry, nil)
	require.Error(t, err)

	m, err := sessions.NewManager(issuer, registry, newFakeProvider())
	require.NoError(t, err)
	require.Equal(t, issuer, m.Issuer())
}

func TestFromProviderCredentials(t *testing.T) {
	f := setupTestFixture(t)
	s := f.signIn(t)

	require.True(t, s.User().Admin())
	require.Equal(t, "123", s.User().ID())
	require.Equal(t, "client", s.AccessToken().Name())
	require.Equal(t, signInTime.Unix(), s.AccessToken().CreatedAt())
	require.Equal(t, signInTime.Add(time.Hour).Unix(), utils.Value(s.AccessToken().ExpiresAt()))
	require.Empty(t, s.SisterTokens())

	dump := f.manager.Dump(s)
	require.Equal(t, issuer, dump["issuer"])
	require.Equal(t, "__access_token__", tokenString(t, dump, "client"))
}

func TestLoad(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))

		s, err := f.manager.Load(dump)
		require.NoError(t, err)
		require.Equal(t, "123", s.User().ID())
		require.Equal(t, "__access_token__", s.AccessToken().Token())
		require.True(t, s.AccessToken().Refreshable())
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))
		dump["issuer"] = "nope"

		_, err := f.manager.Load(dump)
		var mismatch *autherrors.IssuerMismatchError
		require.ErrorAs(t, err, &mismatch)
		require.Equal(t, "https://issuer", mismatch.Expected)
		require.Equal(t, "nope", mismatch.Actual)
		require.True(t, autherrors.IsRecoverable(err))
	})

	t.Run("missing key", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))
		delete(dump, "issuer")

		_, err := f.manager.Load(dump)
		require.ErrorIs(t, err, autherrors.ErrSchemaMismatch)
	})

	t.Run("extra key", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))
		dump["version"] = 2

		_, err := f.manager.Load(dump)
		require.ErrorIs(t, err, autherrors.ErrSchemaMismatch)
	})

	t.Run("outdated user schema", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))
		user := dump["user"].(map[string]any)
		delete(user, "name")

		_, err := f.manager.Load(dump)
		require.ErrorIs(t, err, autherrors.ErrSchemaMismatch)
	})

	t.Run("missing primary token", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))
		dump["accessTokens"] = map[string]any{}

		_, err := f.manager.Load(dump)
		require.ErrorIs(t, err, autherrors.ErrSchemaMismatch)
	})

	t.Run("user is not a map", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))
		dump["user"] = "123"

		_, err := f.manager.Load(dump)
		require.ErrorIs(t, err, autherrors.ErrIdentity)
		require.False(t, autherrors.IsRecoverable(err))
	})

	t.Run("undeclared sister tokens are dropped", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))
		tokens := accessTokens(t, dump)
		sister := map[string]any{"token": "__sister__", "refreshToken": nil, "expiresAt": nil, "createdAt": int64(1)}
		tokens["etsister"] = sister
		tokens["retired"] = sister

		s, err := f.manager.Load(dump)
		require.NoError(t, err)
		require.Len(t, s.SisterTokens(), 1)
		require.Equal(t, "__sister__", s.SisterTokenFor("etsister").Token())
		require.Equal(t, "https://sister", s.SisterTokenFor("etsister").SourceURI())
		require.False(t, s.SisterTokenFor("etsister").Refreshable())
		require.Nil(t, s.SisterTokenFor("retired"))
	})
}

func TestLoadFresh(t *testing.T) {
	t.Run("token still valid", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))

		s, refreshed, err := f.manager.LoadFresh(context.Background(), dump)
		require.NoError(t, err)
		require.False(t, refreshed)
		require.Equal(t, "__access_token__", s.AccessToken().Token())
		require.Empty(t, f.provider.refreshCalls)
	})

	t.Run("expired token is refreshed", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))
		setClock(t, signInTime.Add(time.Hour+time.Second))

		s, refreshed, err := f.manager.LoadFresh(context.Background(), dump)
		require.NoError(t, err)
		require.True(t, refreshed)

		require.Equal(t, []string{"__refresh_token__"}, f.provider.refreshCalls)
		require.Equal(t, []string{"__new_access_token__"}, f.provider.userInfoCalls)

		newDump := f.manager.Dump(s)
		require.Equal(t, "__new_access_token__", tokenString(t, newDump, "client"))
		require.NotEqual(t, tokenString(t, dump, "client"), tokenString(t, newDump, "client"))
		require.Equal(t, "new@example.org", utils.Value(s.User().Email()))
		require.False(t, s.User().Admin())
	})

	t.Run("sister tokens survive a refresh", func(t *testing.T) {
		f := setupTestFixture(t)
		s, err := f.manager.AddSisterToken(f.signIn(t), "etsister", token.Credentials{Token: "__sister__"})
		require.NoError(t, err)
		dump := f.manager.Dump(s)
		setClock(t, signInTime.Add(2*time.Hour))

		s, refreshed, err := f.manager.LoadFresh(context.Background(), dump)
		require.NoError(t, err)
		require.True(t, refreshed)
		require.Equal(t, "__sister__", s.SisterTokenFor("etsister").Token())
	})

	t.Run("lead time refreshes before expiry", func(t *testing.T) {
		f := setupTestFixture(t, sessions.WithRefreshLeadTime(utils.Ptr(5*time.Minute)))
		dump := f.manager.Dump(f.signIn(t))
		setClock(t, signInTime.Add(56*time.Minute))

		_, refreshed, err := f.manager.LoadFresh(context.Background(), dump)
		require.NoError(t, err)
		require.True(t, refreshed)
	})

	t.Run("no lead time waits for expiry", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))
		setClock(t, signInTime.Add(59*time.Minute))

		_, refreshed, err := f.manager.LoadFresh(context.Background(), dump)
		require.NoError(t, err)
		require.False(t, refreshed)
	})

	t.Run("invalid grant", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))
		setClock(t, signInTime.Add(2*time.Hour))
		f.provider.refreshErr = &oauth2.RetrieveError{
			Response: &http.Response{StatusCode: http.StatusBadRequest},
			Body:     []byte(`{"error":"invalid_grant","error_description":"The provided authorization grant is invalid"}`),
		}

		s, refreshed, err := f.manager.LoadFresh(context.Background(), dump)
		require.Nil(t, s)
		require.False(t, refreshed)
		require.ErrorIs(t, err, autherrors.ErrInvalidGrant)
		require.True(t, autherrors.IsRecoverable(err))
		require.Empty(t, f.provider.userInfoCalls)
	})

	t.Run("no refresh token", func(t *testing.T) {
		f := setupTestFixture(t)
		creds := signInCredentials()
		creds.RefreshToken = ""
		s, err := f.manager.FromProviderCredentials(creds, signInClaims())
		require.NoError(t, err)
		dump := f.manager.Dump(s)
		setClock(t, signInTime.Add(2*time.Hour))

		_, _, err = f.manager.LoadFresh(context.Background(), dump)
		require.EqualError(t, err, "A refresh token is not available")
		require.Empty(t, f.provider.refreshCalls)
	})

	t.Run("user info failure", func(t *testing.T) {
		f := setupTestFixture(t)
		dump := f.manager.Dump(f.signIn(t))
		setClock(t, signInTime.Add(2*time.Hour))
		f.provider.userErr = errors.New("connection refused")

		_, _, err := f.manager.LoadFresh(context.Background(), dump)
		require.ErrorIs(t, err, autherrors.ErrIdentity)
		require.Contains(t, err.Error(), "connection refused")
		require.False(t, autherrors.IsRecoverable(err))
	})

	t.Run("stale payload", func(t *testing.T) {
		f := setupTestFixture(t)

		_, _, err := f.manager.LoadFresh(context.Background(), map[string]any{"user_id": "123"})
		require.ErrorIs(t, err, autherrors.ErrSchemaMismatch)
	})
}

func TestDumpRoundTrip(t *testing.T) {
	f := setupTestFixture(t)
	s, err := f.manager.AddSisterToken(f.signIn(t), "etbrother", token.Credentials{Token: "__brother__", ExpiresIn: 60})
	require.NoError(t, err)
	dump := f.manager.Dump(s)

	// Stored payloads come back through JSON, so numbers and lists lose their Go types.
	data, err := json.Marshal(dump)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	loaded, err := f.manager.Load(raw)
	require.NoError(t, err)
	require.True(t, s.User().Equal(loaded.User()))
	require.True(t, s.AccessToken().Equal(loaded.AccessToken()))

	if diff := cmp.Diff(dump, f.manager.Dump(loaded)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDumpDropsRetiredTokens(t *testing.T) {
	f := setupTestFixture(t)
	s, err := f.manager.AddSisterToken(f.signIn(t), "etsister", token.Credentials{Token: "__sister__"})
	require.NoError(t, err)

	retired, err := sessions.NewManager(issuer, tokenconfig.New("client", issuer, nil), f.provider)
	require.NoError(t, err)

	tokens := accessTokens(t, retired.Dump(s))
	require.Contains(t, tokens, "client")
	require.NotContains(t, tokens, "etsister")
}

func TestAddSisterToken(t *testing.T) {
	f := setupTestFixture(t)
	s := f.signIn(t)

	s, err := f.manager.AddSisterToken(s, "etbrother", token.Credentials{Token: "__brother__"})
	require.NoError(t, err)
	s, err = f.manager.AddSisterToken(s, "etsister", token.Credentials{Token: "__sister__"})
	require.NoError(t, err)

	names := []string{}
	for _, tok := range s.Tokens() {
		names = append(names, tok.Name())
	}
	require.Equal(t, []string{"client", "etsister", "etbrother"}, names)

	t.Run("replaces an existing token", func(t *testing.T) {
		replaced, err := f.manager.AddSisterToken(s, "etsister", token.Credentials{Token: "__sister2__"})
		require.NoError(t, err)
		require.Len(t, replaced.SisterTokens(), 2)
		require.Equal(t, "__sister2__", replaced.SisterTokenFor("etsister").Token())
		require.Equal(t, "__sister__", s.SisterTokenFor("etsister").Token())
	})

	t.Run("undeclared name", func(t *testing.T) {
		_, err := f.manager.AddSisterToken(s, "unknown", token.Credentials{Token: "x"})
		require.ErrorIs(t, err, autherrors.ErrIdentity)
	})
}

func TestUnregisteredTokensFor(t *testing.T) {
	f := setupTestFixture(t)
	s := f.signIn(t)

	require.Equal(t, []config.SisterConfig{
		{Name: "etsister", URI: "https://sister"},
		{Name: "etbrother", URI: "https://brother"},
	}, f.manager.UnregisteredTokensFor(s))

	s, err := f.manager.AddSisterToken(s, "etsister", token.Credentials{Token: "__sister__"})
	require.NoError(t, err)
	require.Equal(t, []config.SisterConfig{{Name: "etbrother", URI: "https://brother"}}, f.manager.UnregisteredTokensFor(s))
}

func TestNewSessionRejectsDuplicateNames(t *testing.T) {
	f := setupTestFixture(t)
	s := f.signIn(t)

	_, err := sessions.New(s.User(), s.AccessToken(), []*token.AccessToken{s.AccessToken()})
	require.ErrorIs(t, err, autherrors.ErrIdentity)
}
