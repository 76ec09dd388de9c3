package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/jrsteele09/go-identity-session/autherrors"
)

// Validate checks the identity settings and returns an InvalidConfigError
// listing every violation.
func Validate(cfg IdentityConfig) error {
	var violations []autherrors.Violation
	fail := func(path, text string) {
		violations = append(violations, autherrors.Violation{Path: path, Text: text})
	}

	required := []struct {
		path  string
		value string
	}{
		{"issuer", cfg.GetIssuer()},
		{"client_id", cfg.GetClientID()},
		{"client_secret", cfg.GetClientSecret()},
		{"client_uri", cfg.GetClientURI()},
	}
	for _, r := range required {
		if r.value == "" {
			fail(r.path, "must be filled")
		}
	}

	if cfg.GetIssuer() != "" {
		for _, text := range baseURIViolations(cfg.GetIssuer()) {
			fail("issuer", text)
		}
	}
	if cfg.GetClientName() == "" {
		fail("client_name", "must be filled")
	}

	if i, ok := cfg.(interface{ rawLeadTime() string }); ok && i.rawLeadTime() != "" {
		d, err := time.ParseDuration(i.rawLeadTime())
		switch {
		case err != nil:
			fail("refresh_lead_time", "must be a duration")
		case d < 0:
			fail("refresh_lead_time", "must be greater than or equal to 0")
		}
	}

	seen := map[string]bool{cfg.GetClientName(): true}
	for idx, s := range cfg.GetSisters() {
		path := fmt.Sprintf("sisters.%d", idx)
		if s.Name == "" {
			fail(path+".name", "must be filled")
		} else if seen[s.Name] {
			fail(path+".name", "must be unique")
		}
		seen[s.Name] = true

		if s.URI == "" {
			fail(path+".uri", "must be filled")
			continue
		}
		for _, text := range baseURIViolations(s.URI) {
			fail(path+".uri", text)
		}
	}

	if len(violations) > 0 {
		return &autherrors.InvalidConfigError{Violations: violations}
	}
	return nil
}

func baseURIViolations(value string) []string {
	u, err := url.Parse(value)
	if err != nil {
		return []string{"must be a valid URI"}
	}

	var out []string
	if u.Scheme != "http" && u.Scheme != "https" {
		out = append(out, "must have a http:// or https:// scheme")
	}
	if u.Path != "" {
		out = append(out, "must not have a path")
	}
	if u.RawQuery != "" || u.ForceQuery {
		out = append(out, "must not have a query")
	}
	if u.Fragment != "" {
		out = append(out, "must not have a fragment")
	}
	return out
}
