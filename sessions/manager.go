package sessions

import (
	"context"
	"time"

	"github.com/jrsteele09/go-identity-session/autherrors"
	"github.com/jrsteele09/go-identity-session/internal/config"
	"github.com/jrsteele09/go-identity-session/internal/utils"
	"github.com/jrsteele09/go-identity-session/serializer"
	"github.com/jrsteele09/go-identity-session/token"
	"github.com/jrsteele09/go-identity-session/tokenconfig"
	"github.com/jrsteele09/go-identity-session/users"
	"github.com/rs/zerolog"
)

// Provider is the part of the identity provider a Manager talks to: the token
// endpoint for refreshes and the user-info endpoint for fresh claims.
type Provider interface {
	token.Refresher
	UserInfo(ctx context.Context, accessToken string) (map[string]any, error)
}

// Manager owns the load / refresh / dump lifecycle of sessions for one issuer.
// It holds no per-request state and is safe for concurrent use.
type Manager struct {
	issuer   string
	registry *tokenconfig.Registry
	provider Provider
	leadTime *time.Duration // nil disables proactive refresh
	logger   zerolog.Logger
}

type ManagerOption func(*Manager)

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRefreshLeadTime refreshes the primary token once it is within leadTime of
// expiring. A nil leadTime refreshes only expired tokens.
func WithRefreshLeadTime(leadTime *time.Duration) ManagerOption {
	return func(m *Manager) {
		m.leadTime = leadTime
	}
}

func NewManager(issuer string, registry *tokenconfig.Registry, provider Provider, options ...ManagerOption) (*Manager, error) {
	if issuer == "" {
		return nil, autherrors.New("[NewManager] issuer is required")
	}
	if registry == nil {
		return nil, autherrors.New("[NewManager] token registry is required")
	}
	if provider == nil {
		return nil, autherrors.New("[NewManager] provider is required")
	}

	m := &Manager{
		issuer:   issuer,
		registry: registry,
		provider: provider,
		logger:   zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// NewManagerFromConfig wires a Manager from the identity configuration.
func NewManagerFromConfig(cfg config.IdentityConfig, provider Provider, options ...ManagerOption) (*Manager, error) {
	options = append([]ManagerOption{WithRefreshLeadTime(cfg.GetRefreshLeadTime())}, options...)
	return NewManager(cfg.GetIssuer(), tokenconfig.NewFromConfig(cfg), provider, options...)
}

func (m *Manager) Issuer() string                  { return m.issuer }
func (m *Manager) Registry() *tokenconfig.Registry { return m.registry }

// stored pairs a session with the manager that dumps it, since the issuer and
// the declared token names come from configuration rather than the session.
type stored struct {
	session *Session
	manager *Manager
}

var sessionSerializer = serializer.New(
	serializer.Field[stored]{Name: "user", Extract: func(s stored) any { return s.session.user.Dump() }},
	serializer.Field[stored]{Name: "accessTokens", Extract: func(s stored) any {
		return s.manager.registry.DumpTokens(s.session.Tokens())
	}},
	serializer.Field[stored]{Name: "issuer", Extract: func(s stored) any { return s.manager.issuer }},
)

// FromProviderCredentials builds a new session from the result of a sign-in
// with the identity provider. Sister tokens start empty.
func (m *Manager) FromProviderCredentials(credentials token.Credentials, claims map[string]any) (*Session, error) {
	user, err := users.FromProviderClaims(claims)
	if err != nil {
		return nil, err
	}
	accessToken, err := m.registry.PrimaryFromCredentials(credentials)
	if err != nil {
		return nil, err
	}
	return New(user, accessToken, nil)
}

// Load rebuilds a session from its stored form. Payloads written under a
// different schema or a different issuer are rejected.
func (m *Manager) Load(raw map[string]any) (*Session, error) {
	hash, err := sessionSerializer.LoadableHash(raw)
	if err != nil {
		return nil, err
	}

	issuer, _ := utils.ToScalarString(hash["issuer"])
	if issuer != m.issuer {
		return nil, &autherrors.IssuerMismatchError{Expected: m.issuer, Actual: issuer}
	}

	rawUser, ok := serializer.AsMap(hash["user"])
	if !ok {
		return nil, autherrors.New("user: %#v violates constraints (type?(Hash))", hash["user"])
	}
	user, err := users.Load(rawUser)
	if err != nil {
		return nil, err
	}

	tokens, ok := serializer.AsMap(hash["accessTokens"])
	if !ok {
		return nil, autherrors.New("accessTokens: %#v violates constraints (type?(Hash))", hash["accessTokens"])
	}
	accessToken, err := m.registry.LoadPrimary(tokens)
	if err != nil {
		return nil, err
	}
	sisters, err := m.registry.LoadSisters(tokens)
	if err != nil {
		return nil, err
	}

	return New(user, accessToken, sisters)
}

// LoadFresh loads a session and refreshes it when the primary token needs it.
// The boolean reports whether a refresh happened, in which case the caller
// must persist the returned session again.
func (m *Manager) LoadFresh(ctx context.Context, raw map[string]any) (*Session, bool, error) {
	session, err := m.Load(raw)
	if err != nil {
		return nil, false, err
	}

	if !session.accessToken.NeedsRefresh(m.leadTime) {
		return session, false, nil
	}

	refreshed, err := m.Refresh(ctx, session)
	if err != nil {
		return nil, false, err
	}
	return refreshed, true, nil
}

// Refresh refreshes the primary token and then fetches the user's claims again
// with the new token. Sister tokens are carried over unchanged.
func (m *Manager) Refresh(ctx context.Context, session *Session) (*Session, error) {
	logger := m.logger.With().
		Str("user_id", session.user.ID()).
		Str("token", session.accessToken.Name()).
		Logger()
	logger.Debug().Msg("refreshing access token")

	accessToken, err := session.accessToken.Refresh(ctx, m.provider)
	if err != nil {
		m.logFailure(logger, err, "access token refresh failed")
		return nil, err
	}

	claims, err := m.provider.UserInfo(ctx, accessToken.Token())
	if err != nil {
		err = &autherrors.Error{Msg: "Failed to fetch user info: " + err.Error(), Err: err}
		m.logFailure(logger, err, "user info fetch failed")
		return nil, err
	}
	user, err := users.FromProviderClaims(claims)
	if err != nil {
		m.logFailure(logger, err, "user info claims rejected")
		return nil, err
	}

	refreshed, err := New(user, accessToken, session.sisterTokens)
	if err != nil {
		return nil, err
	}

	event := logger.Info()
	if exp := accessToken.ExpiresAt(); exp != nil {
		event = event.Time("expires_at", time.Unix(*exp, 0))
	}
	event.Msg("access token refreshed")
	return refreshed, nil
}

// Dump returns the storable form of a session.
func (m *Manager) Dump(session *Session) map[string]any {
	return sessionSerializer.Dump(stored{session: session, manager: m})
}

// AddSisterToken returns a copy of session holding a token for the declared
// sister slot name, replacing any token already in that slot.
func (m *Manager) AddSisterToken(session *Session, name string, credentials token.Credentials) (*Session, error) {
	sister, err := m.registry.SisterFromCredentials(name, credentials)
	if err != nil {
		return nil, err
	}

	sisters := make([]*token.AccessToken, 0, len(session.sisterTokens)+1)
	for _, cfg := range m.registry.SisterConfigs() {
		if cfg.Name == name {
			sisters = append(sisters, sister)
		} else if existing := session.SisterTokenFor(cfg.Name); existing != nil {
			sisters = append(sisters, existing)
		}
	}
	return New(session.user, session.accessToken, sisters)
}

// UnregisteredTokensFor returns the declared sister slots the session has no token for.
func (m *Manager) UnregisteredTokensFor(session *Session) []config.SisterConfig {
	return m.registry.UnregisteredTokensFor(session.Tokens())
}

func (m *Manager) logFailure(logger zerolog.Logger, err error, msg string) {
	if autherrors.IsRecoverable(err) {
		logger.Warn().Err(err).Msg(msg)
		return
	}
	logger.Error().Err(err).Msg(msg)
}
