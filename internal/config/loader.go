package config

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader loads and holds the active configuration. Until Load succeeds it
// serves defaults, so a missing config file never blocks startup paths that
// tolerate it.
type Loader struct {
	mu       sync.RWMutex
	config   *Config
	filePath string
}

// NewLoader creates a Loader serving DefaultConfig.
func NewLoader() *Loader {
	return &Loader{config: DefaultConfig()}
}

// Load reads, substitutes environment variables in, and parses the YAML file
// at path. Parse errors leave the previous config active.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := substituteEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	l.mu.Lock()
	l.config = cfg
	l.filePath = path
	l.mu.Unlock()
	return nil
}

// Reload re-reads the file from the last Load.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.filePath
	l.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no config file loaded, nothing to reload")
	}
	return l.Load(path)
}

// Get returns the active configuration. The returned pointer must be treated
// as read-only; Load swaps the whole value.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// FilePath returns the path of the loaded config file, or "" before Load.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// substituteEnvVars expands ${VAR} references in raw config text. An unset
// variable without a default expands to the empty string.
func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		groups := envVarPattern.FindStringSubmatch(m)
		name, def := groups[1], groups[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

// GenerateDefault writes the default configuration as YAML to path.
func GenerateDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
