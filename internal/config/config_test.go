package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GeorgePearse/mcp-tui-test/internal/harness"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Defaults.Dimensions != "80x24" {
		t.Errorf("Dimensions = %q, want 80x24", cfg.Defaults.Dimensions)
	}
	if cfg.Defaults.Mode != "stream" {
		t.Errorf("Mode = %q, want stream", cfg.Defaults.Mode)
	}
	if cfg.Defaults.LaunchTimeout.Duration() != 30*time.Second {
		t.Errorf("LaunchTimeout = %v, want 30s", cfg.Defaults.LaunchTimeout)
	}
	if cfg.Defaults.ExpectTimeout.Duration() != 10*time.Second {
		t.Errorf("ExpectTimeout = %v, want 10s", cfg.Defaults.ExpectTimeout)
	}
	if cfg.Defaults.KeyDelay.Duration() != 100*time.Millisecond {
		t.Errorf("KeyDelay = %v, want 100ms", cfg.Defaults.KeyDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestPath(t *testing.T) {
	t.Run("with TUITEST_HOME", func(t *testing.T) {
		t.Setenv("TUITEST_HOME", "/custom/tuitest")
		if got := Path(); got != "/custom/tuitest/config.yaml" {
			t.Errorf("Path() = %q, want /custom/tuitest/config.yaml", got)
		}
	})

	t.Run("without TUITEST_HOME", func(t *testing.T) {
		t.Setenv("TUITEST_HOME", "")
		got := Path()
		if !strings.HasSuffix(got, filepath.Join(".tuitest", "config.yaml")) {
			t.Errorf("Path() = %q, want suffix .tuitest/config.yaml", got)
		}
	})
}

func TestLoadNonExistent(t *testing.T) {
	t.Setenv("TUITEST_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.Defaults.Dimensions != "80x24" {
		t.Errorf("Dimensions = %q, want default", cfg.Defaults.Dimensions)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile() on a missing file should fail")
	}
}

func TestLoadValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("TUITEST_HOME", tmpDir)

	yamlContent := `
version: 1
defaults:
  dimensions: 120x40
  mode: buffer
  expect_timeout: 3s
  key_delay: 0s
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Defaults.Dimensions != "120x40" {
		t.Errorf("Dimensions = %q, want 120x40", cfg.Defaults.Dimensions)
	}
	if cfg.Defaults.Mode != "buffer" {
		t.Errorf("Mode = %q, want buffer", cfg.Defaults.Mode)
	}
	if cfg.Defaults.ExpectTimeout.Duration() != 3*time.Second {
		t.Errorf("ExpectTimeout = %v, want 3s", cfg.Defaults.ExpectTimeout)
	}
	if cfg.Defaults.KeyDelay != 0 {
		t.Errorf("KeyDelay = %v, want 0", cfg.Defaults.KeyDelay)
	}
	// Unset keys keep their defaults.
	if cfg.Defaults.LaunchTimeout.Duration() != 30*time.Second {
		t.Errorf("LaunchTimeout = %v, want 30s", cfg.Defaults.LaunchTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}

	d := cfg.HarnessDefaults()
	if d.ExpectTimeout != 3*time.Second || d.Mode != "buffer" {
		t.Errorf("HarnessDefaults() = %+v", d)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "defaults: [unclosed"},
		{"bad dimensions", "defaults:\n  dimensions: huge\n"},
		{"zero width", "defaults:\n  dimensions: 0x24\n"},
		{"bad mode", "defaults:\n  mode: auto\n"},
		{"negative duration", "defaults:\n  key_delay: -1s\n"},
		{"bad duration", "defaults:\n  expect_timeout: soon\n"},
		{"zero poll interval", "defaults:\n  poll_interval: 0s\n"},
		{"empty shell", "defaults:\n  shell: \"\"\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"bad version", "version: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFile(path); err == nil {
				t.Errorf("LoadFile() with %s should fail", tt.name)
			}
		})
	}
}

func TestValidateErrorsAreConfigErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Defaults.Mode = "grid"
	if err := cfg.Validate(); !errors.Is(err, harness.ErrConfig) {
		t.Errorf("Validate() = %v, want ErrConfig", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TUITEST_DIMENSIONS", "100x30")
	t.Setenv("TUITEST_MODE", "buffer")
	t.Setenv("TUITEST_EXPECT_TIMEOUT", "2s")
	t.Setenv("TUITEST_KEY_DELAY", "not-a-duration")
	t.Setenv("TUITEST_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Defaults.Dimensions != "100x30" {
		t.Errorf("Dimensions = %q, want 100x30", cfg.Defaults.Dimensions)
	}
	if cfg.Defaults.Mode != "buffer" {
		t.Errorf("Mode = %q, want buffer", cfg.Defaults.Mode)
	}
	if cfg.Defaults.ExpectTimeout.Duration() != 2*time.Second {
		t.Errorf("ExpectTimeout = %v, want 2s", cfg.Defaults.ExpectTimeout)
	}
	if cfg.Defaults.KeyDelay.Duration() != 100*time.Millisecond {
		t.Errorf("KeyDelay = %v, want unchanged 100ms", cfg.Defaults.KeyDelay)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Defaults.Dimensions = "132x43"
	cfg.Defaults.CloseGrace = Duration(250 * time.Millisecond)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# tuitest configuration") {
		t.Error("saved config is missing its header")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if loaded.Defaults.Dimensions != "132x43" {
		t.Errorf("Dimensions = %q, want 132x43", loaded.Defaults.Dimensions)
	}
	if loaded.Defaults.CloseGrace.Duration() != 250*time.Millisecond {
		t.Errorf("CloseGrace = %v, want 250ms", loaded.Defaults.CloseGrace)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Defaults.Dimensions = "x"
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.Save(path); err == nil {
		t.Error("Save() should reject an invalid config")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("invalid config should not be written")
	}
}

func TestDurationMarshalUnmarshal(t *testing.T) {
	type wrapper struct {
		D Duration `yaml:"d" json:"d"`
	}

	out, err := yaml.Marshal(wrapper{D: Duration(1500 * time.Millisecond)})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(out)) != "d: 1.5s" {
		t.Errorf("yaml = %q, want d: 1.5s", out)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"d":"250ms"}`), &w); err != nil {
		t.Fatal(err)
	}
	if w.D.Duration() != 250*time.Millisecond {
		t.Errorf("json D = %v, want 250ms", w.D)
	}

	if err := yaml.Unmarshal([]byte("d: -3s"), &w); err == nil {
		t.Error("negative duration should be rejected")
	}

	for _, bad := range []string{`{"d":"-3s"}`, `{"d":30}`, `{"d":"soon"}`} {
		if err := json.Unmarshal([]byte(bad), &w); err == nil {
			t.Errorf("json %s should be rejected", bad)
		}
	}

	js, err := json.Marshal(wrapper{D: Duration(2 * time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if string(js) != `{"d":"2m0s"}` {
		t.Errorf("json = %s, want {\"d\":\"2m0s\"}", js)
	}
}
