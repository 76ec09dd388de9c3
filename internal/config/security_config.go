package config

import "time"

const (
	defaultCookieName    = "identity_session"
	defaultMaxSessionAge = 30 * 24 * time.Hour
)

type CookieConfig interface {
	GetSecretKeyBase() string
	GetCookieName() string
	GetSecureCookies() bool
	GetMaxSessionAge() time.Duration
}

type Security struct {
	SecretKeyBase string        `yaml:"secret_key_base"`
	CookieName    string        `yaml:"cookie_name"`
	SecureCookies bool          `yaml:"secure_cookies"`
	MaxSessionAge time.Duration `yaml:"max_session_age"`
}

var _ CookieConfig = Security{}

func (s Security) GetSecretKeyBase() string {
	return s.SecretKeyBase
}

func (s Security) GetCookieName() string {
	return s.CookieName
}

func (s Security) GetSecureCookies() bool {
	return s.SecureCookies
}

// GetMaxSessionAge bounds the cookie lifetime; the tokens inside are refreshed
// independently.
func (s Security) GetMaxSessionAge() time.Duration {
	return s.MaxSessionAge
}
