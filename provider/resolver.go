package provider

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-identity-session/autherrors"
)

// EndpointResolver finds the provider endpoints the client talks to.
type EndpointResolver interface {
	Resolve(ctx context.Context) (*oidc.ProviderConfig, error)
}

// DiscoveryResolver reads the endpoints from the issuer's OpenID discovery
// document.
type DiscoveryResolver struct {
	Issuer     string
	HTTPClient *http.Client // nil uses http.DefaultClient

	// PreserveScheme rewrites every discovered endpoint to the issuer's scheme.
	// Providers running behind a TLS-terminating proxy in development advertise
	// https endpoints even when only http is reachable.
	PreserveScheme bool
}

// discoveryMetadata holds the discovery fields ProviderConfig can carry.
type discoveryMetadata struct {
	Issuer        string   `json:"issuer"`
	AuthURL       string   `json:"authorization_endpoint"`
	TokenURL      string   `json:"token_endpoint"`
	DeviceAuthURL string   `json:"device_authorization_endpoint"`
	UserInfoURL   string   `json:"userinfo_endpoint"`
	JWKSURL       string   `json:"jwks_uri"`
	Algorithms    []string `json:"id_token_signing_alg_values_supported"`
}

func (d *DiscoveryResolver) Resolve(ctx context.Context) (*oidc.ProviderConfig, error) {
	if d.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, d.HTTPClient)
	}
	if d.PreserveScheme {
		ctx = oidc.InsecureIssuerURLContext(ctx, d.Issuer)
	}

	p, err := oidc.NewProvider(ctx, d.Issuer)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[DiscoveryResolver] discovery failed for %s", d.Issuer)
	}

	var meta discoveryMetadata
	if err := p.Claims(&meta); err != nil {
		return nil, autherrors.Wrapf(err, "[DiscoveryResolver] unreadable discovery document")
	}

	cfg := &oidc.ProviderConfig{
		IssuerURL:     meta.Issuer,
		AuthURL:       meta.AuthURL,
		TokenURL:      meta.TokenURL,
		DeviceAuthURL: meta.DeviceAuthURL,
		UserInfoURL:   meta.UserInfoURL,
		JWKSURL:       meta.JWKSURL,
		Algorithms:    meta.Algorithms,
	}
	if d.PreserveScheme {
		if err := rewriteSchemes(cfg, d.Issuer); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func rewriteSchemes(cfg *oidc.ProviderConfig, issuer string) error {
	base, err := url.Parse(issuer)
	if err != nil {
		return autherrors.Wrapf(err, "[DiscoveryResolver] invalid issuer")
	}

	for _, endpoint := range []*string{&cfg.IssuerURL, &cfg.AuthURL, &cfg.TokenURL, &cfg.DeviceAuthURL, &cfg.UserInfoURL, &cfg.JWKSURL} {
		if *endpoint == "" {
			continue
		}
		u, err := url.Parse(*endpoint)
		if err != nil {
			return autherrors.Wrapf(err, "[DiscoveryResolver] invalid endpoint %q", *endpoint)
		}
		u.Scheme = base.Scheme
		*endpoint = u.String()
	}
	return nil
}

// StaticResolver returns fixed endpoints without any network access.
type StaticResolver struct {
	Config oidc.ProviderConfig
}

func (s *StaticResolver) Resolve(context.Context) (*oidc.ProviderConfig, error) {
	cfg := s.Config
	return &cfg, nil
}

// DoorkeeperEndpoints returns the default endpoint layout of a Doorkeeper
// provider mounted at issuer.
func DoorkeeperEndpoints(issuer string) oidc.ProviderConfig {
	return oidc.ProviderConfig{
		IssuerURL:   issuer,
		AuthURL:     issuer + "/oauth/authorize",
		TokenURL:    issuer + "/oauth/token",
		UserInfoURL: issuer + "/oauth/userinfo",
		JWKSURL:     issuer + "/oauth/discovery/keys",
	}
}

// CachingResolver memoizes the first successful resolution. Failures are not
// cached; concurrent first calls may each resolve.
type CachingResolver struct {
	next EndpointResolver

	lock   sync.RWMutex
	cached *oidc.ProviderConfig
}

func NewCachingResolver(next EndpointResolver) *CachingResolver {
	return &CachingResolver{next: next}
}

func (c *CachingResolver) Resolve(ctx context.Context) (*oidc.ProviderConfig, error) {
	c.lock.RLock()
	cached := c.cached
	c.lock.RUnlock()
	if cached != nil {
		cfg := *cached
		return &cfg, nil
	}

	cfg, err := c.next.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	c.lock.Lock()
	if c.cached == nil {
		c.cached = cfg
	}
	cached = c.cached
	c.lock.Unlock()

	out := *cached
	return &out, nil
}
