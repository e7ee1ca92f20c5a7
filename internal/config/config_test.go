package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMergesRootOverGlobal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")

	globalPath := GlobalConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(globalPath), 0o755))
	require.NoError(t, os.WriteFile(globalPath, []byte(`{
		"webSearch": {"endpoint": "https://global.example/search", "apiKey": "global-key"},
		"adapters": {"discord": {"port": 9001, "key": "k1"}}
	}`), 0o644))

	root := t.TempDir()
	rootPath := RootConfigPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(rootPath), 0o755))
	require.NoError(t, os.WriteFile(rootPath, []byte(`{
		"webSearch": {"endpoint": "https://root.example/search"},
		"execRules": [{"kind": "matchPrefix", "command": "ls"}]
	}`), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)

	require.Equal(t, "https://root.example/search", cfg.WebSearch.Endpoint)
	require.Equal(t, "global-key", cfg.WebSearch.APIKey, "root config didn't set apiKey, global value should survive")
	require.Equal(t, 9001, cfg.Adapters["discord"].Port)
	require.Len(t, cfg.ExecRules, 1)
}

func TestLoadStripsJSONComments(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")

	root := t.TempDir()
	rootPath := RootConfigPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(rootPath), 0o755))
	require.NoError(t, os.WriteFile(rootPath, []byte(`{
		// a comment
		"webSearch": {"endpoint": "https://example/search" /* inline */}
	}`), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, "https://example/search", cfg.WebSearch.Endpoint)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("ECLIA_WEB_SEARCH_ENDPOINT", "https://env.example/search")

	root := t.TempDir()
	rootPath := RootConfigPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(rootPath), 0o755))
	require.NoError(t, os.WriteFile(rootPath, []byte(`{"webSearch": {"endpoint": "https://file.example/search"}}`), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, "https://env.example/search", cfg.WebSearch.Endpoint)
}

func TestExecAllowRulesConversion(t *testing.T) {
	cfg := &Config{ExecRules: []ExecRule{
		{Kind: "matchExact", Command: "git", Args: []string{"status"}},
	}}
	rules := cfg.ExecAllowRules()
	require.Len(t, rules, 1)
	require.Equal(t, "git", rules[0].Command)
	require.Equal(t, []string{"status"}, rules[0].Args)
}

func TestLoadGatewayTokenMissingFileIsEmptyNotError(t *testing.T) {
	root := t.TempDir()
	token, err := LoadGatewayToken(root)
	require.NoError(t, err)
	require.Equal(t, "", token)
}

func TestLoadGatewayTokenTrimsWhitespace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Dir(GatewayTokenPath(root)), 0o755))
	require.NoError(t, os.WriteFile(GatewayTokenPath(root), []byte("  secret-token\n"), 0o644))

	token, err := LoadGatewayToken(root)
	require.NoError(t, err)
	require.Equal(t, "secret-token", token)
}
