package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/eclia/gateway/internal/tool"
)

// ExecRule is the JSON-config shape of one exec-tool allowlist entry; it
// converts to tool.AllowRule once loaded.
type ExecRule struct {
	Kind    string   `json:"kind"` // "matchPrefix" | "matchExact"
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// WebSearchConfig configures the "web" tool's upstream search provider.
type WebSearchConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
}

// AdapterConfig is one chat-adapter loopback target for the "send" tool.
type AdapterConfig struct {
	Port int    `json:"port"`
	Key  string `json:"key,omitempty"`
}

// Config is the gateway's own ambient configuration: tool wiring, not
// upstream provider profiles (those live in internal/routeconfig).
type Config struct {
	ExecRules []ExecRule               `json:"execRules,omitempty"`
	WebSearch WebSearchConfig          `json:"webSearch,omitempty"`
	Adapters  map[string]AdapterConfig `json:"adapters,omitempty"`
}

// ExecAllowRules converts the loaded JSON rules to tool.AllowRule.
func (c *Config) ExecAllowRules() []tool.AllowRule {
	rules := make([]tool.AllowRule, 0, len(c.ExecRules))
	for _, r := range c.ExecRules {
		rules = append(rules, tool.AllowRule{
			Kind:    tool.MatchKind(r.Kind),
			Command: r.Command,
			Args:    r.Args,
		})
	}
	return rules
}

// AdapterTargets converts the loaded adapter config to tool.AdapterTarget.
func (c *Config) AdapterTargets() map[string]tool.AdapterTarget {
	targets := make(map[string]tool.AdapterTarget, len(c.Adapters))
	for kind, a := range c.Adapters {
		targets[kind] = tool.AdapterTarget{Port: a.Port, Key: a.Key}
	}
	return targets
}

// Load loads configuration from, in priority order: the global config file,
// a per-root override file, then environment variables.
func Load(root string) (*Config, error) {
	cfg := &Config{Adapters: make(map[string]AdapterConfig)}

	loadConfigFile(GlobalConfigPath(), cfg)
	if root != "" {
		loadConfigFile(RootConfigPath(root), cfg)
	}
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadGatewayToken reads the root-scoped bearer token file, trimming
// surrounding whitespace. A missing file is not an error: it means no
// bearer-token auth is configured, and every endpoint is open.
func LoadGatewayToken(root string) (string, error) {
	data, err := os.ReadFile(GatewayTokenPath(root))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // file doesn't exist, skip
	}
	data = stripJSONComments(data)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}
	mergeConfig(cfg, &fileConfig)
	return nil
}

// stripJSONComments removes // and /* */ comments from JSONC.
func stripJSONComments(data []byte) []byte {
	singleLine := regexp.MustCompile(`//.*$`)
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = singleLine.ReplaceAll(line, nil)
	}
	data = bytes.Join(lines, []byte("\n"))

	multiLine := regexp.MustCompile(`/\*[\s\S]*?\*/`)
	return multiLine.ReplaceAll(data, nil)
}

// mergeConfig merges source into target; later sources win on scalars,
// extend on maps/slices.
func mergeConfig(target, source *Config) {
	if len(source.ExecRules) > 0 {
		target.ExecRules = append(target.ExecRules, source.ExecRules...)
	}
	if source.WebSearch.Endpoint != "" {
		target.WebSearch.Endpoint = source.WebSearch.Endpoint
	}
	if source.WebSearch.APIKey != "" {
		target.WebSearch.APIKey = source.WebSearch.APIKey
	}
	if source.Adapters != nil {
		if target.Adapters == nil {
			target.Adapters = make(map[string]AdapterConfig)
		}
		for k, v := range source.Adapters {
			target.Adapters[k] = v
		}
	}
}

// applyEnvOverrides applies environment variable overrides, taking
// precedence over every config file.
func applyEnvOverrides(cfg *Config) {
	if endpoint := os.Getenv("ECLIA_WEB_SEARCH_ENDPOINT"); endpoint != "" {
		cfg.WebSearch.Endpoint = endpoint
	}
	if apiKey := os.Getenv("ECLIA_WEB_SEARCH_API_KEY"); apiKey != "" {
		cfg.WebSearch.APIKey = apiKey
	}
}

// Save writes cfg as indented JSON to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
