package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if len(cfg.Displays) != 1 || cfg.Displays[0].Class != "builtin" {
		t.Fatalf("expected one builtin display, got %#v", cfg.Displays)
	}
	modes := cfg.Displays[0].PlatformConfigs()
	if len(modes) != 3 {
		t.Fatalf("expected 3 modes, got %d", len(modes))
	}
	if modes[0].Group != modes[1].Group || modes[1].Group == modes[2].Group {
		t.Fatalf("unexpected groups: %v", modes)
	}
}

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	res, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Config.Engine != EngineSim {
		t.Fatalf("expected sim engine, got %q", res.Config.Engine)
	}
	if len(res.Files) != 0 {
		t.Fatalf("expected no files, got %v", res.Files)
	}
}

func TestLoadFromPath_EmptyFileUsesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "# empty\n")

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Config.Driver.ReconcileInterval != DefaultReconcileInterval {
		t.Fatalf("expected reconcile interval %v, got %v", DefaultReconcileInterval, res.Config.Driver.ReconcileInterval)
	}
}

func TestLoadFromPath_DisplaysStartFromTemplate(t *testing.T) {
	data := strings.Join([]string{
		"engine: sim",
		"driver:",
		"  reconcile_interval: 250ms",
		"displays:",
		"  - id: 0",
		"    vsyncs_to_apply_rate_change: 2",
		"  - id: 3",
		"    name: tv",
		"    class: pluggable",
		"    configs:",
		"      - {id: 7, width: 3840, height: 2160, refresh_rate: 30, group: 4}",
		"",
	}, "\n")
	path := writeConfig(t, t.TempDir(), "config.yaml", data)

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := res.Config
	if cfg.Driver.ReconcileInterval != 250*time.Millisecond {
		t.Fatalf("reconcile interval = %v", cfg.Driver.ReconcileInterval)
	}
	if len(cfg.Displays) != 2 {
		t.Fatalf("expected 2 displays, got %d", len(cfg.Displays))
	}
	panel, _ := cfg.Display(0)
	if panel.VsyncsToApply != 2 || len(panel.Configs) != 3 {
		t.Fatalf("panel = %#v", panel)
	}
	tv, ok := cfg.Display(3)
	if !ok {
		t.Fatal("display 3 missing")
	}
	if tv.Class != "pluggable" || tv.Name != "tv" || len(tv.Configs) != 1 {
		t.Fatalf("tv = %#v", tv)
	}
	if tv.MaxDeviceLayers != DefaultDisplay().MaxDeviceLayers {
		t.Fatalf("expected template max_device_layers, got %d", tv.MaxDeviceLayers)
	}
	if got := tv.PlatformConfigs()[0].RefreshRate(); got < 29.9 || got > 30.1 {
		t.Fatalf("tv refresh = %v", got)
	}
}

func TestLoadFromPath_StrictUnknownKeyErrors(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "unknown_key: 1\n")

	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "unknown_key") && !strings.Contains(err.Error(), "field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Fatalf("expected error to include file path, got %v", err)
	}
}

func TestLoadFromPath_IncludeDirectoryOrderAndMainOverrides(t *testing.T) {
	dir := t.TempDir()

	configD := filepath.Join(dir, "config.d")
	if err := os.MkdirAll(configD, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeConfig(t, configD, "10-base.yaml", "journal:\n  max_files: 5\n  max_size_mb: 2\n")
	writeConfig(t, configD, "20-override.yaml", "journal:\n  max_files: 6\n")
	writeConfig(t, configD, "notes.txt", "not yaml: [")

	main := strings.Join([]string{
		"include:",
		"  - config.d",
		"journal:",
		"  max_files: 7",
		"",
	}, "\n")
	path := writeConfig(t, dir, "config.yaml", main)

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Config.Journal.MaxFiles != 7 {
		t.Fatalf("expected max_files 7, got %d", res.Config.Journal.MaxFiles)
	}
	if res.Config.Journal.MaxSizeMB != 2 {
		t.Fatalf("expected max_size_mb from include, got %d", res.Config.Journal.MaxSizeMB)
	}
	if len(res.Files) != 3 {
		t.Fatalf("expected 3 loaded files, got %v", res.Files)
	}
}

func TestLoadFromPath_IncludedDisplayMergesByID(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "panel.yaml", "displays:\n  - id: 0\n    name: internal\n    max_device_layers: 2\n")
	path := writeConfig(t, dir, "config.yaml", "include: panel.yaml\ndisplays:\n  - id: 0\n    max_device_layers: 6\n")

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, _ := res.Config.Display(0)
	if d.Name != "internal" || d.MaxDeviceLayers != 6 {
		t.Fatalf("display = %#v", d)
	}
}

func TestLoadFromPath_IncludeMissingPathHasContext(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "include:\n  - missing.yaml\n")

	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "include") || !strings.Contains(err.Error(), "missing.yaml") {
		t.Fatalf("expected include error, got %v", err)
	}
	if !strings.Contains(err.Error(), path+":") {
		t.Fatalf("expected error to include file:line:col prefix, got %v", err)
	}
}

func TestLoadFromPath_IncludeCycleDetection(t *testing.T) {
	dir := t.TempDir()
	a := writeConfig(t, dir, "a.yaml", "include: b.yaml\n")
	writeConfig(t, dir, "b.yaml", "include: a.yaml\n")

	_, err := LoadFromPath(a)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if !strings.Contains(err.Error(), "include cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadFromPath_ValidationErrorHasSource(t *testing.T) {
	data := strings.Join([]string{
		"displays:",
		"  - id: 0",
		"    class: hologram",
		"",
	}, "\n")
	path := writeConfig(t, t.TempDir(), "config.yaml", data)

	_, err := LoadFromPath(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Path != "displays.0.class" {
		t.Fatalf("path = %q", verr.Path)
	}
	if verr.Source.Kind != SourceFile || verr.Source.Line != 3 {
		t.Fatalf("source = %#v", verr.Source)
	}
	if !strings.HasPrefix(err.Error(), path+":3:") {
		t.Fatalf("expected file:line prefix, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"engine", func(c *Config) { c.Engine = "drm" }, "engine"},
		{"reconcile", func(c *Config) { c.Driver.ReconcileInterval = -time.Second }, "driver.reconcile_interval"},
		{"journal level", func(c *Config) { c.Journal.Enabled = true; c.Journal.Level = "chatty" }, "journal.level"},
		{"journal size", func(c *Config) { c.Journal.Enabled = true; c.Journal.MaxSizeMB = 0 }, "journal.max_size_mb"},
		{"no displays", func(c *Config) { c.Displays = nil }, "displays"},
		{"duplicate display", func(c *Config) { c.Displays = append(c.Displays, DefaultDisplay()) }, "displays.1.id"},
		{"negative layers", func(c *Config) { c.Displays[0].MaxDeviceLayers = -1 }, "displays.0.max_device_layers"},
		{"rate bounds", func(c *Config) { c.Displays[0].MinRefreshRate = 90; c.Displays[0].MaxRefreshRate = 60 }, "displays.0.max_refresh_rate"},
		{"idle timeout", func(c *Config) { c.Displays[0].IdleTimeout = -time.Second }, "displays.0.idle_timeout"},
		{"no modes", func(c *Config) { c.Displays[0].Configs = nil }, "displays.0.configs"},
		{"duplicate mode", func(c *Config) { c.Displays[0].Configs[1].ID = 0 }, "displays.0.configs.1.id"},
		{"zero rate", func(c *Config) { c.Displays[0].Configs[2].RefreshRate = 0 }, "displays.0.configs.2.refresh_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Path != tt.path {
				t.Fatalf("path = %q, want %q", verr.Path, tt.path)
			}
		})
	}
}

func TestValidate_X11NeedsNoModes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine = EngineX11
	cfg.Displays[0].Configs = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("x11 config without modes: %v", err)
	}
}

func TestExplain(t *testing.T) {
	data := strings.Join([]string{
		"log_level: debug",
		"displays:",
		"  - id: 0",
		"    max_device_layers: 3",
		"",
	}, "\n")
	path := writeConfig(t, t.TempDir(), "config.yaml", data)
	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tests := []struct {
		path  string
		value string
		kind  SourceKind
	}{
		{"log_level", "debug", SourceFile},
		{"displays.0.max_device_layers", "3", SourceFile},
		{"displays.0.configs.1.refresh_rate", "90", SourceBuiltin},
		{"driver.reconcile_interval", "5s", SourceDefault},
	}
	for _, tt := range tests {
		val, src, err := Explain(res, tt.path)
		if err != nil {
			t.Fatalf("explain %s: %v", tt.path, err)
		}
		if got := fmt.Sprint(val); got != tt.value {
			t.Fatalf("explain %s = %q, want %q", tt.path, got, tt.value)
		}
		if src.Kind != tt.kind {
			t.Fatalf("explain %s source = %v, want %v", tt.path, src.Kind, tt.kind)
		}
	}

	for _, bad := range []string{"", "nope", "displays.9", "log_level.x"} {
		if _, _, err := Explain(res, bad); err == nil {
			t.Fatalf("explain %q succeeded", bad)
		}
	}
}

func TestJournalSettings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Journal.Enabled = true
	cfg.Journal.File = "~/journal.log"

	js := cfg.JournalSettings()
	if !js.Enabled || js.MaxFiles != DefaultJournalMaxFiles {
		t.Fatalf("settings = %#v", js)
	}
	if strings.HasPrefix(js.FilePath, "~") || filepath.Base(js.FilePath) != "journal.log" {
		t.Fatalf("file path not expanded: %q", js.FilePath)
	}

	cfg.Journal.File = ""
	if got := cfg.JournalSettings().FilePath; !strings.HasSuffix(got, filepath.Join("vsyncd", "journal.log")) {
		t.Fatalf("default file path = %q", got)
	}
}
