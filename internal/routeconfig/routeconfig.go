// Package routeconfig resolves route keys to upstream provider selections.
// It reads the profile/credentials TOML file the gateway only ever reads
// (the REST editing surface over that file is an external collaborator),
// merges in environment-variable overrides, and reloads on SIGHUP.
package routeconfig

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/eclia/gateway/pkg/types"
)

// Profile is one named credential bundle from the profile file.
type Profile struct {
	Scheme       string `toml:"scheme"`
	ID           string `toml:"id"`
	APIKey       string `toml:"apiKey"`
	APIKeyEnv    string `toml:"apiKeyEnv"`
	BaseURL      string `toml:"baseURL"`
	DefaultModel string `toml:"defaultModel"`
}

type profileFile struct {
	Profile []Profile `toml:"profile"`
}

// Store holds the loaded profile table and the configured default provider
// scheme used to canonicalize bare (scheme-less) route keys.
type Store struct {
	mu            sync.RWMutex
	profiles      map[string]Profile // keyed by "<scheme>:<id>"
	defaultScheme types.ProviderKind
	path          string
}

// Load reads path (a profiles.toml file) and applies environment overrides.
// A missing file is not an error: the store starts empty and profiles can
// arrive on the next SIGHUP-triggered Reload.
func Load(path string, defaultScheme types.ProviderKind) (*Store, error) {
	s := &Store{path: path, defaultScheme: defaultScheme, profiles: map[string]Profile{}}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the profile file from disk and re-applies environment
// overrides, replacing the in-memory table atomically.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.profiles = map[string]Profile{}
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("routeconfig: read %s: %w", s.path, err)
	}

	var pf profileFile
	if err := toml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("routeconfig: parse %s: %w", s.path, err)
	}

	profiles := make(map[string]Profile, len(pf.Profile))
	for _, p := range pf.Profile {
		if p.APIKeyEnv != "" {
			if v := os.Getenv(p.APIKeyEnv); v != "" {
				p.APIKey = v
			}
		}
		applyEnvOverride(&p)
		profiles[p.Scheme+":"+p.ID] = p
	}

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()

	log.Debug().Str("component", "routeconfig").Int("profiles", len(profiles)).Msg("loaded profile file")
	return nil
}

// applyEnvOverride lets ECLIA_<SCHEME>_API_KEY (scheme upper-cased, hyphens
// to underscores) win over whatever the file specified, so deployments can
// keep secrets out of the TOML file entirely.
func applyEnvOverride(p *Profile) {
	envName := "ECLIA_" + strings.ToUpper(strings.ReplaceAll(p.Scheme, "-", "_")) + "_API_KEY"
	if v := os.Getenv(envName); v != "" {
		p.APIKey = v
	}
}

// Resolve parses routeKey and looks up the matching profile, canonicalizing
// a bare (scheme-less) key to the store's configured default scheme.
func (s *Store) Resolve(routeKey string) (types.UpstreamSelection, error) {
	key, err := types.ParseRouteKey(routeKey)
	if err != nil {
		return types.UpstreamSelection{}, err
	}
	if key.Scheme == "" {
		key.Scheme = s.defaultScheme
	}

	s.mu.RLock()
	p, ok := s.profiles[string(key.Scheme)+":"+key.ProfileID]
	s.mu.RUnlock()
	if !ok {
		return types.UpstreamSelection{}, fmt.Errorf("invalid_request: no profile for route key %q", routeKey)
	}

	return types.UpstreamSelection{
		ProviderKind:    key.Scheme,
		UpstreamModelID: p.DefaultModel,
		BaseURL:         p.BaseURL,
		APIKey:          p.APIKey,
	}, nil
}
