package chatclient

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreferences_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.yaml")

	prefs, err := LoadPreferences(path)
	require.NoError(t, err)
	require.Equal(t, ClientPreferences{}, prefs)

	want := ClientPreferences{APIKey: "k1", Theme: "dark", Language: "zh-TW", LastStore: "docs"}
	require.NoError(t, SavePreferences(path, want))

	got, err := LoadPreferences(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
