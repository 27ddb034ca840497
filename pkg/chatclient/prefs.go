package chatclient

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ClientPreferences is the small persisted key-value state outside the
// conversation model: the selected API key, theme, language, and last-used
// store. Loaded once per operation and passed in, never re-read mid-flight.
type ClientPreferences struct {
	APIKey    string `yaml:"api_key,omitempty"`
	Theme     string `yaml:"theme,omitempty"`
	Language  string `yaml:"language,omitempty"`
	LastStore string `yaml:"last_store,omitempty"`
}

// LoadPreferences reads the preferences file; a missing file yields the zero
// value without error.
func LoadPreferences(path string) (ClientPreferences, error) {
	var prefs ClientPreferences
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return prefs, nil
		}
		return prefs, errors.Wrap(err, "read preferences")
	}
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return ClientPreferences{}, errors.Wrap(err, "parse preferences")
	}
	return prefs, nil
}

// SavePreferences writes the preferences file, creating parent directories.
func SavePreferences(path string, prefs ClientPreferences) error {
	data, err := yaml.Marshal(prefs)
	if err != nil {
		return errors.Wrap(err, "marshal preferences")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create preferences dir")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write preferences")
}
