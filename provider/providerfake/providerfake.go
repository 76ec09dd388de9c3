// Package providerfake runs an in-process identity provider serving the
// discovery, token and user-info endpoints, for tests.
package providerfake

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TokenPath    = "/oauth/token"
	UserInfoPath = "/oauth/userinfo"
)

// Provider is a fake identity provider. Its URL is the issuer.
type Provider struct {
	*httptest.Server

	ClientID     string
	ClientSecret string
	ExpiresIn    int64            // Lifetime of issued tokens in seconds
	Now          func() time.Time // Clock used for created_at

	lock           sync.Mutex
	claims         map[string]any
	accessTokens   map[string]struct{}
	refreshTokens  map[string]struct{}
	refreshCount   int
	userInfoCount  int
	advertiseHTTPS bool
}

func New(clientID, clientSecret string) *Provider {
	p := &Provider{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		ExpiresIn:     3600,
		Now:           time.Now,
		claims:        map[string]any{"sub": "123"},
		accessTokens:  map[string]struct{}{},
		refreshTokens: map[string]struct{}{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("POST "+TokenPath, p.token)
	mux.HandleFunc("GET "+UserInfoPath, p.userInfo)
	p.Server = httptest.NewServer(mux)
	return p
}

// SetClaims replaces the claims returned by the user-info endpoint.
func (p *Provider) SetClaims(claims map[string]any) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.claims = maps.Clone(claims)
}

// IssueToken registers a new access/refresh token pair as if the user had
// just signed in.
func (p *Provider) IssueToken() (accessToken, refreshToken string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.issue()
}

// RevokeAll invalidates every issued token, so refreshes fail with invalid_grant.
func (p *Provider) RevokeAll() {
	p.lock.Lock()
	defer p.lock.Unlock()
	clear(p.accessTokens)
	clear(p.refreshTokens)
}

// RotateClientSecret makes the token endpoint reject the old client secret.
func (p *Provider) RotateClientSecret(secret string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.ClientSecret = secret
}

// AdvertiseHTTPS makes discovery report https endpoints while the server only
// speaks http.
func (p *Provider) AdvertiseHTTPS() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.advertiseHTTPS = true
}

func (p *Provider) RefreshCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.refreshCount
}

func (p *Provider) UserInfoCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.userInfoCount
}

func (p *Provider) issue() (string, string) {
	accessToken := uuid.NewString()
	refreshToken := uuid.NewString()
	p.accessTokens[accessToken] = struct{}{}
	p.refreshTokens[refreshToken] = struct{}{}
	return accessToken, refreshToken
}

func (p *Provider) discovery(w http.ResponseWriter, _ *http.Request) {
	p.lock.Lock()
	base := p.URL
	if p.advertiseHTTPS {
		base = "https" + strings.TrimPrefix(base, "http")
	}
	p.lock.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/oauth/authorize",
		"token_endpoint":                        base + TokenPath,
		"userinfo_endpoint":                     base + UserInfoPath,
		"jwks_uri":                              base + "/oauth/discovery/keys",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}
	p.lock.Lock()
	validClient := r.PostForm.Get("client_id") == p.ClientID && r.PostForm.Get("client_secret") == p.ClientSecret
	p.lock.Unlock()
	if !validClient {
		writeError(w, http.StatusUnauthorized, "invalid_client", "Client authentication failed due to unknown client, no client authentication included, or unsupported authentication method.")
		return
	}
	if r.PostForm.Get("grant_type") != "refresh_token" {
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "The authorization grant type is not supported by the authorization server.")
		return
	}

	p.lock.Lock()
	refreshToken := r.PostForm.Get("refresh_token")
	if _, ok := p.refreshTokens[refreshToken]; !ok {
		p.lock.Unlock()
		writeError(w, http.StatusBadRequest, "invalid_grant", "The provided authorization grant is invalid, expired, revoked, does not match the redirection URI used in the authorization request, or was issued to another client.")
		return
	}
	delete(p.refreshTokens, refreshToken)
	accessToken, newRefreshToken := p.issue()
	p.refreshCount++
	p.lock.Unlock()

	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    p.ExpiresIn,
		CreatedAt:    p.Now().Unix(),
		Scope:        "openid public",
	})
}

func (p *Provider) userInfo(w http.ResponseWriter, r *http.Request) {
	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")

	p.lock.Lock()
	_, known := p.accessTokens[bearer]
	p.userInfoCount++
	claims := maps.Clone(p.claims)
	p.lock.Unlock()

	if !ok || !known {
		writeError(w, http.StatusUnauthorized, "invalid_token", "The access token is invalid")
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
