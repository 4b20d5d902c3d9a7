package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env var when set", func(t *testing.T) {
		t.Setenv("AMBER_CONFIG", "/custom/site/amber.toml")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		want := filepath.FromSlash("/custom/site/amber.toml")
		if defaults["config_path"] != want {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], want)
		}
		if defaults["project_root"] != filepath.Dir(want) {
			t.Errorf("project_root = %q, want %q", defaults["project_root"], filepath.Dir(want))
		}
	})

	t.Run("falls back to working directory", func(t *testing.T) {
		t.Setenv("AMBER_CONFIG", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		wd, _ := os.Getwd()

		wantConfig := filepath.Join(wd, ConfigFileName)
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}
		if defaults["project_root"] != wd {
			t.Errorf("project_root = %q, want %q", defaults["project_root"], wd)
		}
	})

	t.Run("relative env var is made absolute", func(t *testing.T) {
		t.Setenv("AMBER_CONFIG", filepath.Join("site", "amber.toml"))

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		wd, _ := os.Getwd()
		want := filepath.Join(wd, "site", "amber.toml")
		if defaults["config_path"] != want {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], want)
		}
	})
}
