package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	portEnvVar   = "PORT"
	appNameVar   = "APP_NAME"
	envVar       = "ENV"
	configFile   = "IDENTITY_CONFIG_FILE"
	issuerVar    = "IDENTITY_ISSUER"
	clientIDVar  = "IDENTITY_CLIENT_ID"
	secretVar    = "IDENTITY_CLIENT_SECRET"
	clientURIVar = "IDENTITY_CLIENT_URI"
	nameVar      = "IDENTITY_CLIENT_NAME"
	scopeVar     = "IDENTITY_SCOPE"
	leadTimeVar  = "IDENTITY_REFRESH_LEAD_TIME"
	sistersVar   = "IDENTITY_SISTERS"
	validateVar  = "IDENTITY_VALIDATE_CONFIG"
	keyBaseVar   = "SECRET_KEY_BASE"
	cookieVar    = "SESSION_COOKIE_NAME"
	secureVar    = "SESSION_COOKIE_SECURE"
	maxAgeVar    = "SESSION_MAX_AGE"
)

type EnvVars struct {
	Port    string `yaml:"port"`
	AppName string `yaml:"app_name"`
	Env     string `yaml:"env"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.Port
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	return e.Env
}

// applyEnv overrides file or default values with any variables that are set.
func (s *Settings) applyEnv() {
	s.Port = GetEnv(portEnvVar, s.Port)
	s.AppName = GetEnv(appNameVar, s.AppName)
	s.Env = GetEnv(envVar, s.Env)

	s.Issuer = GetEnv(issuerVar, s.Issuer)
	s.ClientID = GetEnv(clientIDVar, s.ClientID)
	s.ClientSecret = GetEnv(secretVar, s.ClientSecret)
	s.ClientURI = GetEnv(clientURIVar, s.ClientURI)
	s.ClientName = GetEnv(nameVar, s.ClientName)
	s.Scope = GetEnv(scopeVar, s.Scope)
	s.RefreshLeadTime = GetEnv(leadTimeVar, s.RefreshLeadTime)
	if v := os.Getenv(sistersVar); v != "" {
		s.Sisters = ParseSisters(v)
	}
	if v, err := strconv.ParseBool(os.Getenv(validateVar)); err == nil {
		s.ValidateConfig = &v
	}

	s.SecretKeyBase = GetEnv(keyBaseVar, s.SecretKeyBase)
	s.CookieName = GetEnv(cookieVar, s.CookieName)
	if v, err := strconv.ParseBool(os.Getenv(secureVar)); err == nil {
		s.SecureCookies = v
	}
	if v, err := time.ParseDuration(os.Getenv(maxAgeVar)); err == nil {
		s.MaxSessionAge = v
	}
}

// ParseSisters reads "name=uri,name=uri" pairs. Entries without "=" keep an
// empty uri so validation can report them.
func ParseSisters(v string) []SisterConfig {
	var sisters []SisterConfig
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, uri, _ := strings.Cut(pair, "=")
		sisters = append(sisters, SisterConfig{Name: strings.TrimSpace(name), URI: strings.TrimSpace(uri)})
	}
	return sisters
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
