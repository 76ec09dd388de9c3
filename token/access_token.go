package token

import (
	"context"
	"time"

	"github.com/jrsteele09/go-identity-session/autherrors"
	"github.com/jrsteele09/go-identity-session/internal/utils"
	"github.com/jrsteele09/go-identity-session/serializer"
	"golang.org/x/oauth2"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Refresher performs the refresh_token grant against the provider's token
// endpoint. Implementations authenticate with the application's client
// credentials, never with the (possibly expired) access token.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Provenance describes where a token came from. It isn't part of the stored
// payload; it is reattached from configuration when a token is loaded.
type Provenance struct {
	Name        string // Key of the token in the session, e.g. "client"
	SourceURI   string // Base URL the token authenticates against
	Refreshable bool   // Whether LoadFresh may refresh this token
}

// AccessToken is one OAuth2 credential held by a session. It is immutable;
// Refresh returns a new value.
type AccessToken struct {
	token        string
	refreshToken *string
	expiresAt    *int64 // Unix seconds, nil when the token never expires
	createdAt    int64  // Unix seconds

	provenance Provenance
}

var accessTokenSerializer = serializer.New(
	serializer.Field[*AccessToken]{Name: "token", Extract: func(t *AccessToken) any { return t.token }},
	serializer.Field[*AccessToken]{Name: "refreshToken", Extract: func(t *AccessToken) any { return optionalString(t.refreshToken) }},
	serializer.Field[*AccessToken]{Name: "expiresAt", Extract: func(t *AccessToken) any { return optionalInt(t.expiresAt) }},
	serializer.Field[*AccessToken]{Name: "createdAt", Extract: func(t *AccessToken) any { return t.createdAt }},
)

// New validates and builds an AccessToken.
func New(token string, refreshToken *string, expiresAt *int64, createdAt int64, p Provenance) (*AccessToken, error) {
	if token == "" {
		return nil, autherrors.New("token must be a non-empty string")
	}
	return &AccessToken{
		token:        token,
		refreshToken: refreshToken,
		expiresAt:    expiresAt,
		createdAt:    createdAt,
		provenance:   p,
	}, nil
}

// Load builds a token from its stored form. The key set must match the schema
// exactly; type violations are reported as a generic identity Error.
func Load(raw map[string]any, p Provenance) (*AccessToken, error) {
	hash, err := accessTokenSerializer.LoadableHash(raw)
	if err != nil {
		return nil, err
	}

	tok, ok := hash["token"].(string)
	if !ok {
		return nil, autherrors.New("token: %#v violates constraints (type?(String))", hash["token"])
	}

	var refreshToken *string
	if v := hash["refreshToken"]; v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, autherrors.New("refreshToken: %#v violates constraints (type?(String))", v)
		}
		refreshToken = &s
	}

	var expiresAt *int64
	if v := hash["expiresAt"]; v != nil {
		i, ok := utils.ToInt64(v)
		if !ok {
			return nil, autherrors.New("expiresAt: %#v violates constraints (type?(Integer))", v)
		}
		expiresAt = &i
	}

	createdAt, ok := utils.ToInt64(hash["createdAt"])
	if !ok {
		return nil, autherrors.New("createdAt: %#v violates constraints (type?(Integer))", hash["createdAt"])
	}

	return New(tok, refreshToken, expiresAt, createdAt, p)
}

// FromCredentials builds a token from the credentials handed over by the
// provider's authorization-code exchange.
func FromCredentials(c Credentials, p Provenance) (*AccessToken, error) {
	createdAt := c.CreatedAt
	if createdAt == 0 {
		createdAt = NowTimeFunc().Unix()
	}

	var expiresAt *int64
	switch {
	case c.ExpiresIn > 0:
		expiresAt = utils.Ptr(createdAt + c.ExpiresIn)
	case c.ExpiresAt > 0:
		expiresAt = utils.Ptr(c.ExpiresAt)
	}

	return New(c.Token, utils.NilIfEmpty(c.RefreshToken), expiresAt, createdAt, p)
}

// Refresh exchanges the refresh token for a new AccessToken with the same
// provenance. It fails without any network call when no refresh token is held.
func (t *AccessToken) Refresh(ctx context.Context, r Refresher) (*AccessToken, error) {
	if t.refreshToken == nil {
		return nil, autherrors.New("A refresh token is not available")
	}

	tok, err := r.RefreshToken(ctx, *t.refreshToken)
	if err != nil {
		return nil, autherrors.FromRefreshError(err)
	}

	refreshed, err := FromOAuth2Token(tok, t.provenance)
	if err != nil {
		return nil, autherrors.Wrapf(err, "Failed to refresh token")
	}
	return refreshed, nil
}

func (t *AccessToken) Token() string        { return t.token }
func (t *AccessToken) RefreshToken() *string { return t.refreshToken }
func (t *AccessToken) ExpiresAt() *int64     { return t.expiresAt }
func (t *AccessToken) CreatedAt() int64      { return t.createdAt }
func (t *AccessToken) Name() string          { return t.provenance.Name }
func (t *AccessToken) SourceURI() string     { return t.provenance.SourceURI }
func (t *AccessToken) Refreshable() bool     { return t.provenance.Refreshable }
func (t *AccessToken) Provenance() Provenance {
	return t.provenance
}

// Expires reports whether the token has an expiry at all.
func (t *AccessToken) Expires() bool {
	return t.expiresAt != nil
}

// Expired reports whether the expiry time has passed.
func (t *AccessToken) Expired() bool {
	return t.Expires() && *t.expiresAt < NowTimeFunc().Unix()
}

// ExpiresSoon reports whether a refreshable token expires within leadTime.
// A nil leadTime disables proactive refresh and always returns false.
func (t *AccessToken) ExpiresSoon(leadTime *time.Duration) bool {
	if !t.provenance.Refreshable || !t.Expires() || leadTime == nil {
		return false
	}
	return *t.expiresAt <= NowTimeFunc().Add(*leadTime).Unix()
}

// NeedsRefresh reports whether a refreshable token is expired or, with a lead
// time configured, about to expire.
func (t *AccessToken) NeedsRefresh(leadTime *time.Duration) bool {
	return t.provenance.Refreshable && (t.Expired() || t.ExpiresSoon(leadTime))
}

// Equal compares tokens by their token string.
func (t *AccessToken) Equal(other *AccessToken) bool {
	return other != nil && t.token == other.token
}

// Dump returns the stored form of the token.
func (t *AccessToken) Dump() map[string]any {
	return accessTokenSerializer.Dump(t)
}

func optionalString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optionalInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}
