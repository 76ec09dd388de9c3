// Package provider talks to the OpenID Connect identity provider on behalf of
// the session manager: refreshing tokens and fetching user info.
package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-identity-session/autherrors"
	"github.com/jrsteele09/go-identity-session/internal/config"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// Client is built once at startup and shared between requests.
type Client struct {
	issuer       string
	clientID     string
	clientSecret string
	scopes       []string
	resolver     EndpointResolver
	httpClient   *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient sets the client used for every outbound request.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithResolver replaces OpenID discovery with another endpoint strategy.
func WithResolver(resolver EndpointResolver) ClientOption {
	return func(c *Client) {
		c.resolver = resolver
	}
}

func WithScopes(scopes ...string) ClientOption {
	return func(c *Client) {
		c.scopes = scopes
	}
}

func NewClient(issuer, clientID, clientSecret string, options ...ClientOption) (*Client, error) {
	if issuer == "" {
		return nil, autherrors.New("[NewClient] issuer is required")
	}
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[NewClient] invalid issuer")
	}

	c := &Client{
		issuer:       strings.TrimSuffix(issuer, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
	for _, opt := range options {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.resolver == nil {
		c.resolver = NewCachingResolver(&DiscoveryResolver{
			Issuer:         c.issuer,
			HTTPClient:     c.httpClient,
			PreserveScheme: u.Scheme == "http",
		})
	}
	return c, nil
}

// NewClientFromConfig builds a client for the configured issuer and credentials.
func NewClientFromConfig(cfg config.IdentityConfig, options ...ClientOption) (*Client, error) {
	options = append([]ClientOption{WithScopes(strings.Fields(cfg.GetScope())...)}, options...)
	return NewClient(cfg.GetIssuer(), cfg.GetClientID(), cfg.GetClientSecret(), options...)
}

func (c *Client) Issuer() string { return c.issuer }

func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// OAuth2Config returns the application's OAuth2 client configuration against
// the resolved endpoints.
func (c *Client) OAuth2Config(ctx context.Context) (*oauth2.Config, error) {
	endpoints, err := c.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   endpoints.AuthURL,
			TokenURL:  endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: c.scopes,
	}, nil
}

// RefreshToken performs the refresh_token grant, authenticating with the
// application's client credentials.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	oauthConfig, err := c.OAuth2Config(ctx)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// UserInfo fetches the claims of the user the access token belongs to. The
// response is decoded as-is so numeric subjects reach the caller unchanged.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	endpoints, err := c.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if endpoints.UserInfoURL == "" {
		return nil, autherrors.New("[UserInfo] provider has no userinfo endpoint")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoints.UserInfoURL, nil)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[UserInfo] invalid request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[UserInfo] request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, autherrors.New("[UserInfo] request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var claims map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return nil, autherrors.Wrapf(err, "[UserInfo] unreadable claims")
	}
	if claims == nil {
		return nil, autherrors.New("[UserInfo] empty claims")
	}
	return claims, nil
}

// LogoutURL is where the browser is sent to end the provider session.
func (c *Client) LogoutURL(returnTo string) string {
	query := url.Values{}
	query.Set("client_id", c.clientID)
	query.Set("return_to", returnTo)
	return c.issuer + "/logout?" + query.Encode()
}
