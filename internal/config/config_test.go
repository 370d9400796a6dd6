package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFrontendConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg FrontendConfig
	cfg.SetDefaults()

	if cfg.Server != "127.0.0.1" {
		t.Errorf("Server = %q, want 127.0.0.1", cfg.Server)
	}
	if cfg.Port != 29168 {
		t.Errorf("Port = %d, want 29168", cfg.Port)
	}
	if cfg.Timeout != "5s" {
		t.Errorf("Timeout = %q, want 5s", cfg.Timeout)
	}
}

func TestFrontendConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := FrontendConfig{Server: "10.0.0.5", Port: 9999, Timeout: "30s"}
	cfg.SetDefaults()

	if cfg.Server != "10.0.0.5" {
		t.Errorf("Server overwritten: got %q", cfg.Server)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port overwritten: got %d", cfg.Port)
	}
	if cfg.Timeout != "30s" {
		t.Errorf("Timeout overwritten: got %q", cfg.Timeout)
	}
}

func TestFrontendConfig_TimeoutDuration(t *testing.T) {
	t.Parallel()

	cfg := FrontendConfig{Timeout: "15s"}
	if got := cfg.TimeoutDuration(); got.Seconds() != 15 {
		t.Errorf("TimeoutDuration = %v, want 15s", got)
	}

	bad := FrontendConfig{Timeout: "not-a-duration"}
	if got := bad.TimeoutDuration(); got.Seconds() != 5 {
		t.Errorf("TimeoutDuration for malformed input = %v, want 5s fallback", got)
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "consoled.yaml")
	_ = os.WriteFile(cfgPath, []byte("server: 127.0.0.1\nport: 29168\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "consoled.yml")
	_ = os.WriteFile(cfgPath, []byte("server: 127.0.0.1\nport: 29168\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "consoled"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "consoled.yaml")
	ymlPath := filepath.Join(dir, "consoled.yml")
	_ = os.WriteFile(yamlPath, []byte("server: 127.0.0.1\nport: 29168\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server: 10.0.0.1\nport: 1\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
