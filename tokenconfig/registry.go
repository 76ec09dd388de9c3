// Package tokenconfig describes which named tokens a session carries: the
// primary client token plus the sister tokens declared in configuration.
package tokenconfig

import (
	"slices"

	"github.com/jrsteele09/go-identity-session/autherrors"
	"github.com/jrsteele09/go-identity-session/internal/config"
	"github.com/jrsteele09/go-identity-session/serializer"
	"github.com/jrsteele09/go-identity-session/token"
)

// Registry is read-only after construction and safe to share between requests.
type Registry struct {
	clientName string
	issuer     string
	sisters    []config.SisterConfig
}

func New(clientName, issuer string, sisters []config.SisterConfig) *Registry {
	return &Registry{
		clientName: clientName,
		issuer:     issuer,
		sisters:    slices.Clone(sisters),
	}
}

func NewFromConfig(cfg config.IdentityConfig) *Registry {
	return New(cfg.GetClientName(), cfg.GetIssuer(), cfg.GetSisters())
}

func (r *Registry) ClientName() string { return r.clientName }

// SisterConfigs returns the declared sister slots in declaration order.
func (r *Registry) SisterConfigs() []config.SisterConfig {
	return slices.Clone(r.sisters)
}

// Names returns every token name a fully populated session may carry, the
// client name first.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sisters)+1)
	names = append(names, r.clientName)
	for _, s := range r.sisters {
		names = append(names, s.Name)
	}
	return names
}

func (r *Registry) PrimaryProvenance() token.Provenance {
	return token.Provenance{Name: r.clientName, SourceURI: r.issuer, Refreshable: true}
}

func (r *Registry) sisterProvenance(s config.SisterConfig) token.Provenance {
	return token.Provenance{Name: s.Name, SourceURI: s.URI, Refreshable: false}
}

// LoadPrimary loads the client token from the stored token map.
func (r *Registry) LoadPrimary(tokens map[string]any) (*token.AccessToken, error) {
	entry, ok := tokens[r.clientName]
	if !ok {
		return nil, autherrors.NewSchemaMismatch([]string{r.clientName}, keys(tokens))
	}
	raw, ok := serializer.AsMap(entry)
	if !ok {
		return nil, autherrors.New("%s: %#v violates constraints (type?(Hash))", r.clientName, entry)
	}
	return token.Load(raw, r.PrimaryProvenance())
}

// PrimaryFromCredentials builds the client token from a provider exchange.
func (r *Registry) PrimaryFromCredentials(c token.Credentials) (*token.AccessToken, error) {
	return token.FromCredentials(c, r.PrimaryProvenance())
}

// LoadSisters loads every declared sister token present in the stored map, in
// declaration order. Stored tokens that are no longer declared are ignored.
func (r *Registry) LoadSisters(tokens map[string]any) ([]*token.AccessToken, error) {
	loaded := make([]*token.AccessToken, 0, len(r.sisters))
	for _, s := range r.sisters {
		entry, ok := tokens[s.Name]
		if !ok {
			continue
		}
		raw, ok := serializer.AsMap(entry)
		if !ok {
			return nil, autherrors.New("%s: %#v violates constraints (type?(Hash))", s.Name, entry)
		}
		tok, err := token.Load(raw, r.sisterProvenance(s))
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, tok)
	}
	return loaded, nil
}

// SisterFromCredentials builds a sister token for a declared slot.
func (r *Registry) SisterFromCredentials(name string, c token.Credentials) (*token.AccessToken, error) {
	s, ok := r.sister(name)
	if !ok {
		return nil, autherrors.New("no sister token named %q is configured", name)
	}
	return token.FromCredentials(c, r.sisterProvenance(s))
}

// DumpTokens returns the stored form of every token whose name is still
// declared. Retired names are dropped silently.
func (r *Registry) DumpTokens(tokens []*token.AccessToken) map[string]any {
	names := r.Names()
	out := make(map[string]any, len(tokens))
	for _, t := range tokens {
		if slices.Contains(names, t.Name()) {
			out[t.Name()] = t.Dump()
		}
	}
	return out
}

// UnregisteredTokensFor returns the declared sister slots not yet filled by tokens.
func (r *Registry) UnregisteredTokensFor(tokens []*token.AccessToken) []config.SisterConfig {
	present := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		present[t.Name()] = struct{}{}
	}

	missing := make([]config.SisterConfig, 0)
	for _, s := range r.sisters {
		if _, ok := present[s.Name]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

func (r *Registry) sister(name string) (config.SisterConfig, bool) {
	for _, s := range r.sisters {
		if s.Name == name {
			return s, true
		}
	}
	return config.SisterConfig{}, false
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
