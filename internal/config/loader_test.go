package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_LoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "sentinel.yaml")

	yamlContent := `
server:
  port: 8080
  log_level: debug
  cors: true
  auth:
    enabled: true
    tokens:
      - name: ops
        secret: s3cret
        role: operator

pipeline:
  dom_timeout: 1s
  analyzer_timeout: 500ms

forensics:
  capacity: 240
  archive_path: ./test-forensics.db

confirmation:
  timeout: 30s
  timeout_effect: deny

policy_path: ./policies/global.yaml
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg := loader.Get()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Server.LogLevel = %q, want \"debug\"", cfg.Server.LogLevel)
	}
	if !cfg.Server.CORS {
		t.Error("Server.CORS = false, want true")
	}
	if !cfg.Server.Auth.Enabled || len(cfg.Server.Auth.Tokens) != 1 {
		t.Errorf("Auth = %+v, want enabled with one token", cfg.Server.Auth)
	}
	if cfg.Server.Auth.Tokens[0].Role != "operator" {
		t.Errorf("token role = %q, want operator", cfg.Server.Auth.Tokens[0].Role)
	}

	if cfg.Pipeline.DOMTimeout != time.Second {
		t.Errorf("Pipeline.DOMTimeout = %v, want 1s", cfg.Pipeline.DOMTimeout)
	}
	if cfg.Pipeline.AnalyzerTimeout != 500*time.Millisecond {
		t.Errorf("Pipeline.AnalyzerTimeout = %v, want 500ms", cfg.Pipeline.AnalyzerTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Pipeline.ScreenshotTimeout != 3*time.Second {
		t.Errorf("Pipeline.ScreenshotTimeout = %v, want default 3s", cfg.Pipeline.ScreenshotTimeout)
	}

	if cfg.Forensics.Capacity != 240 {
		t.Errorf("Forensics.Capacity = %d, want 240", cfg.Forensics.Capacity)
	}
	if cfg.Confirmation.Timeout != 30*time.Second {
		t.Errorf("Confirmation.Timeout = %v, want 30s", cfg.Confirmation.Timeout)
	}
	if cfg.PolicyPath != "./policies/global.yaml" {
		t.Errorf("PolicyPath = %q", cfg.PolicyPath)
	}
}

func TestLoader_DefaultConfig(t *testing.T) {
	loader := NewLoader()
	cfg := loader.Get()

	if cfg.Server.Port != 7717 {
		t.Errorf("default Server.Port = %d, want 7717", cfg.Server.Port)
	}
	if cfg.Server.Auth.Enabled {
		t.Error("default auth should be disabled")
	}
	if cfg.Pipeline.DOMTimeout != 2*time.Second {
		t.Errorf("default DOMTimeout = %v, want 2s", cfg.Pipeline.DOMTimeout)
	}
	if cfg.Forensics.Capacity != 120 {
		t.Errorf("default Forensics.Capacity = %d, want 120", cfg.Forensics.Capacity)
	}
	if cfg.Confirmation.TimeoutEffect != "deny" {
		t.Errorf("default TimeoutEffect = %q, want deny", cfg.Confirmation.TimeoutEffect)
	}
}

func TestLoader_LoadNonExistentFile(t *testing.T) {
	loader := NewLoader()
	if err := loader.Load("/nonexistent/path/to/config.yaml"); err == nil {
		t.Error("Load() with nonexistent file should return error")
	}
}

func TestLoader_LoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(configPath, []byte(`{{{invalid yaml`), 0644); err != nil {
		t.Fatalf("failed to write bad config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err == nil {
		t.Error("Load() with invalid YAML should return error")
	}
	// Defaults stay active after a failed load.
	if loader.Get().Server.Port != 7717 {
		t.Errorf("port after failed load = %d, want default 7717", loader.Get().Server.Port)
	}
}

func TestLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "sentinel.yaml")

	if err := os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loader.Get().Server.Port != 8080 {
		t.Errorf("initial port = %d, want 8080", loader.Get().Server.Port)
	}

	if err := os.WriteFile(configPath, []byte("server:\n  port: 9999\n"), 0644); err != nil {
		t.Fatalf("failed to overwrite config: %v", err)
	}
	if err := loader.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if loader.Get().Server.Port != 9999 {
		t.Errorf("reloaded port = %d, want 9999", loader.Get().Server.Port)
	}
}

func TestLoader_ReloadWithoutLoad(t *testing.T) {
	loader := NewLoader()
	if err := loader.Reload(); err == nil {
		t.Error("Reload() without prior Load() should return error")
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("TEST_SENTINEL_PORT", "9999")
	os.Setenv("TEST_SENTINEL_SECRET", "my-secret")
	defer os.Unsetenv("TEST_SENTINEL_PORT")
	defer os.Unsetenv("TEST_SENTINEL_SECRET")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "port: ${TEST_SENTINEL_PORT}",
			want:  "port: 9999",
		},
		{
			name:  "multiple substitutions",
			input: "port: ${TEST_SENTINEL_PORT}\nsecret: ${TEST_SENTINEL_SECRET}",
			want:  "port: 9999\nsecret: my-secret",
		},
		{
			name:  "undefined variable",
			input: "value: ${UNDEFINED_TEST_VAR_XYZ}",
			want:  "value: ",
		},
		{
			name:  "default value syntax",
			input: "value: ${UNDEFINED_TEST_VAR_XYZ:-default-val}",
			want:  "value: default-val",
		},
		{
			name:  "default value not used when env var set",
			input: "port: ${TEST_SENTINEL_PORT:-1234}",
			want:  "port: 9999",
		},
		{
			name:  "no env vars",
			input: "port: 8080",
			want:  "port: 8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSubstituteEnvVars_InConfigLoad(t *testing.T) {
	os.Setenv("TEST_SENTINEL_CFG_PORT", "7777")
	defer os.Unsetenv("TEST_SENTINEL_CFG_PORT")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "sentinel.yaml")

	yamlContent := `
server:
  port: ${TEST_SENTINEL_CFG_PORT}
  log_level: info
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loader.Get().Server.Port != 7777 {
		t.Errorf("Server.Port with env var = %d, want 7777", loader.Get().Server.Port)
	}
}

func TestGenerateDefault(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "sentinel.yaml")

	if err := GenerateDefault(configPath); err != nil {
		t.Fatalf("GenerateDefault() error: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("generated config is not valid YAML: %v", err)
	}
	if loader.Get().Server.Port != 7717 {
		t.Errorf("generated config port = %d, want 7717", loader.Get().Server.Port)
	}
}

func TestWatcher_ReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "sentinel.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	w, err := NewWatcher(loader, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnReload(func(c *Config) { reloaded <- c })
	w.Start()

	if err := os.WriteFile(configPath, []byte("server:\n  port: 9090\n"), 0644); err != nil {
		t.Fatalf("failed to overwrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Server.Port != 9090 {
			t.Errorf("reloaded port = %d, want 9090", cfg.Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}
}
