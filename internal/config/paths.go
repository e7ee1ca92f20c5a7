package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths are the standard XDG locations for the gateway's global (not
// per-root) configuration.
type Paths struct {
	Config string // ~/.config/eclia
}

// GetPaths returns the standard paths for gateway data.
func GetPaths() *Paths {
	return &Paths{
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "eclia"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	return os.MkdirAll(p.Config, 0o755)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

// GlobalConfigPath returns the path to the global gateway config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "gateway.json")
}

// RootConfigPath returns the path to a root-scoped gateway config override.
func RootConfigPath(root string) string {
	return filepath.Join(root, ".eclia", "gateway.json")
}

// GatewayTokenPath returns the path to the root-scoped bearer token file.
func GatewayTokenPath(root string) string {
	return filepath.Join(root, ".eclia", "gateway.token")
}
