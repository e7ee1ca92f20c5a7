package routeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclia/gateway/pkg/types"
)

func writeProfiles(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleProfiles = `
[[profile]]
scheme = "openai-compat"
id = "default"
apiKey = "sk-file-key"
baseURL = "https://api.openai.example"
defaultModel = "gpt-4o"

[[profile]]
scheme = "anthropic"
id = "default"
apiKey = "sk-ant-file"
defaultModel = "claude-3-5-sonnet"
`

func TestResolveBareKeyUsesDefaultScheme(t *testing.T) {
	path := writeProfiles(t, t.TempDir(), sampleProfiles)
	store, err := Load(path, types.ProviderOpenAICompat)
	require.NoError(t, err)

	sel, err := store.Resolve("default")
	require.NoError(t, err)
	require.Equal(t, types.ProviderOpenAICompat, sel.ProviderKind)
	require.Equal(t, "gpt-4o", sel.UpstreamModelID)
}

func TestResolveScopedKey(t *testing.T) {
	path := writeProfiles(t, t.TempDir(), sampleProfiles)
	store, err := Load(path, types.ProviderOpenAICompat)
	require.NoError(t, err)

	sel, err := store.Resolve("anthropic:default")
	require.NoError(t, err)
	require.Equal(t, types.ProviderAnthropic, sel.ProviderKind)
	require.Equal(t, "sk-ant-file", sel.APIKey)
}

func TestResolveUnknownProfileFails(t *testing.T) {
	path := writeProfiles(t, t.TempDir(), sampleProfiles)
	store, err := Load(path, types.ProviderOpenAICompat)
	require.NoError(t, err)

	_, err = store.Resolve("anthropic:staging")
	require.Error(t, err)
}

func TestMissingFileStartsEmpty(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"), types.ProviderOpenAICompat)
	require.NoError(t, err)

	_, err = store.Resolve("default")
	require.Error(t, err)
}

func TestEnvOverrideWinsOverFileAPIKey(t *testing.T) {
	t.Setenv("ECLIA_OPENAI_COMPAT_API_KEY", "sk-env-key")
	path := writeProfiles(t, t.TempDir(), sampleProfiles)
	store, err := Load(path, types.ProviderOpenAICompat)
	require.NoError(t, err)

	sel, err := store.Resolve("openai-compat:default")
	require.NoError(t, err)
	require.Equal(t, "sk-env-key", sel.APIKey)
}

func TestAPIKeyEnvIndirection(t *testing.T) {
	t.Setenv("MY_SECRET", "sk-indirect")
	content := `
[[profile]]
scheme = "anthropic"
id = "default"
apiKeyEnv = "MY_SECRET"
defaultModel = "claude-3-5-sonnet"
`
	path := writeProfiles(t, t.TempDir(), content)
	store, err := Load(path, types.ProviderAnthropic)
	require.NoError(t, err)

	sel, err := store.Resolve("anthropic:default")
	require.NoError(t, err)
	require.Equal(t, "sk-indirect", sel.APIKey)
}

func TestReloadPicksUpFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeProfiles(t, dir, sampleProfiles)
	store, err := Load(path, types.ProviderOpenAICompat)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
[[profile]]
scheme = "openai-compat"
id = "default"
apiKey = "sk-updated"
defaultModel = "gpt-4o"
`), 0o644))
	require.NoError(t, store.Reload())

	sel, err := store.Resolve("openai-compat:default")
	require.NoError(t, err)
	require.Equal(t, "sk-updated", sel.APIKey)
}
