package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load reads an optional YAML file and then applies environment overrides.
// An empty path falls back to IDENTITY_CONFIG_FILE; when neither is set only the
// environment is used.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(configFile)
	}

	s := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "[config Load] reading %s", path)
		}
		if err := Parse(data, &s); err != nil {
			return nil, errors.Wrapf(err, "[config Load] parsing %s", path)
		}
	}
	s.applyEnv()
	return s, nil
}

// Parse decodes YAML on top of the values already held by s. Unknown keys are
// rejected so typos don't silently fall back to defaults.
func Parse(data []byte, s *Settings) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return errors.Wrap(err, "decoding yaml")
	}
	return nil
}
