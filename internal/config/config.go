package config

import "time"

type Config interface {
	EnvConfig
	IdentityConfig
	CookieConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
}

type IdentityConfig interface {
	GetIssuer() string
	GetClientID() string
	GetClientSecret() string
	GetClientURI() string
	GetClientName() string
	GetScope() string
	GetRefreshLeadTime() *time.Duration
	GetSisters() []SisterConfig
	GetValidateConfig() bool
}

// SisterConfig declares a federated token slot.
type SisterConfig struct {
	Name string `yaml:"name" json:"name"`
	URI  string `yaml:"uri" json:"uri"`
}

// Settings is the configuration snapshot taken once at startup. It is passed by
// value to constructors and never mutated afterwards.
type Settings struct {
	EnvVars  `yaml:",inline"`
	Identity `yaml:"identity"`
	Security `yaml:"security"`
}

var _ Config = Settings{}

// New reads configuration from the environment only.
func New() Config {
	s := defaults()
	s.applyEnv()
	return s
}

func defaults() Settings {
	return Settings{
		EnvVars: EnvVars{
			Port:    "8080",
			AppName: "Identity Session",
			Env:     "DEV",
		},
		Identity: Identity{
			Issuer:     defaultIssuer,
			ClientName: defaultClientName,
			Scope:      defaultScope,
		},
		Security: Security{
			CookieName:    defaultCookieName,
			MaxSessionAge: defaultMaxSessionAge,
		},
	}
}
