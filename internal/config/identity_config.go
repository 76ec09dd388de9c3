package config

import (
	"slices"
	"time"
)

const (
	defaultIssuer     = "https://engine.energytransitionmodel.com"
	defaultClientName = "client"
	defaultScope      = "public"
)

// Identity holds the identity provider settings.
type Identity struct {
	Issuer          string         `yaml:"issuer"`        // Base URL, no path/query/fragment
	ClientID        string         `yaml:"client_id"`     // OAuth2 client id
	ClientSecret    string         `yaml:"client_secret"` // OAuth2 client secret; never log
	ClientURI       string         `yaml:"client_uri"`    // Base URL of this application
	ClientName      string         `yaml:"client_name"`   // Name of the primary token
	Scope           string         `yaml:"scope"`
	RefreshLeadTime string         `yaml:"refresh_lead_time"` // Go duration; empty disables proactive refresh
	Sisters         []SisterConfig `yaml:"sisters"`
	ValidateConfig  *bool          `yaml:"validate_config"`
}

var _ IdentityConfig = Identity{}

func (i Identity) GetIssuer() string       { return i.Issuer }
func (i Identity) GetClientID() string     { return i.ClientID }
func (i Identity) GetClientSecret() string { return i.ClientSecret }
func (i Identity) GetClientURI() string    { return i.ClientURI }
func (i Identity) GetClientName() string   { return i.ClientName }
func (i Identity) GetScope() string        { return i.Scope }

// GetRefreshLeadTime returns nil when proactive refresh is disabled or the
// configured value is unusable.
func (i Identity) GetRefreshLeadTime() *time.Duration {
	if i.RefreshLeadTime == "" {
		return nil
	}
	d, err := time.ParseDuration(i.RefreshLeadTime)
	if err != nil || d < 0 {
		return nil
	}
	return &d
}

func (i Identity) GetSisters() []SisterConfig {
	return slices.Clone(i.Sisters)
}

func (i Identity) GetValidateConfig() bool {
	return i.ValidateConfig == nil || *i.ValidateConfig
}

func (i Identity) rawLeadTime() string { return i.RefreshLeadTime }
