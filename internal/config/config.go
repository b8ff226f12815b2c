package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1broseidon/vsyncd/internal/display"
	"github.com/1broseidon/vsyncd/internal/journal"
	"github.com/1broseidon/vsyncd/internal/platform"
	"github.com/1broseidon/vsyncd/internal/refresh"
)

// EngineKind selects the display engine backend.
type EngineKind string

const (
	EngineSim EngineKind = "sim" // in-process simulation, no hardware
	EngineX11 EngineKind = "x11" // RandR modes and DPMS on an X server
)

const (
	DefaultReconcileInterval = 5 * time.Second
	DefaultJournalMaxSizeMB  = 10
	DefaultJournalMaxFiles   = 3
)

// ModeConfig is one timing mode offered by a simulated display.
type ModeConfig struct {
	ID          uint32  `yaml:"id"`
	Width       uint32  `yaml:"width"`
	Height      uint32  `yaml:"height"`
	RefreshRate float64 `yaml:"refresh_rate"`
	Group       uint32  `yaml:"group"`
}

// DisplayConfig describes one display the daemon drives.
type DisplayConfig struct {
	ID    int    `yaml:"id"`
	Name  string `yaml:"name"`
	Class string `yaml:"class"`
	// Output is the RandR output name for the x11 engine. Empty picks the
	// first connected output.
	Output            string       `yaml:"output,omitempty"`
	MaxDeviceLayers   int          `yaml:"max_device_layers"`
	VsyncsToApply     int          `yaml:"vsyncs_to_apply_rate_change"`
	ModeSetLeadVsyncs int          `yaml:"mode_set_lead_vsyncs"`
	TransientHistory  int          `yaml:"transient_history"`
	MinRefreshRate    float64      `yaml:"min_refresh_rate"`
	MaxRefreshRate    float64      `yaml:"max_refresh_rate"`
	Writeback         bool         `yaml:"writeback"`
	// IdleTimeout lets the display stop committing unchanged frames once
	// no client has touched it for this long. Zero disables it.
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`
	// VsyncEvents starts the display with vsync reporting enabled.
	VsyncEvents bool         `yaml:"vsync_events,omitempty"`
	Configs     []ModeConfig `yaml:"configs,omitempty"`
}

// PlatformConfigs converts the configured modes for the sim engine.
func (d DisplayConfig) PlatformConfigs() []platform.DisplayConfig {
	out := make([]platform.DisplayConfig, 0, len(d.Configs))
	for _, m := range d.Configs {
		out = append(out, platform.DisplayConfig{
			ID:          platform.ConfigID(m.ID),
			Width:       m.Width,
			Height:      m.Height,
			VsyncPeriod: platform.PeriodForRate(m.RefreshRate),
			Group:       m.Group,
		})
	}
	return out
}

// RefreshOptions returns the refresh controller tuning for the display.
func (d DisplayConfig) RefreshOptions() refresh.Options {
	return refresh.Options{
		VsyncsToApply:     d.VsyncsToApply,
		ModeSetLeadVsyncs: d.ModeSetLeadVsyncs,
		TransientCapacity: d.TransientHistory,
		MinRefreshRate:    d.MinRefreshRate,
		MaxRefreshRate:    d.MaxRefreshRate,
	}
}

// DisplayClass parses Class.
func (d DisplayConfig) DisplayClass() (display.Class, error) {
	return display.ParseClass(d.Class)
}

// WritebackConfig controls the shared capture block.
type WritebackConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DriverConfig tunes the frame driver.
type DriverConfig struct {
	// ReconcileInterval is how often engine configs are re-read to pick up
	// hotplugged modes. Zero disables reconciliation.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	// TestPattern feeds every display a single full-screen layer with a new
	// buffer each frame, so frames reach the engine without a compositor.
	TestPattern bool `yaml:"test_pattern"`
}

// JournalConfig controls the event journal.
type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// Config is the effective daemon configuration.
type Config struct {
	LogLevel   string          `yaml:"log_level"`
	Engine     EngineKind      `yaml:"engine"`
	X11Display string          `yaml:"x11_display,omitempty"`
	SocketPath string          `yaml:"socket_path,omitempty"`
	Writeback  WritebackConfig `yaml:"writeback"`
	Driver     DriverConfig    `yaml:"driver"`
	Journal    JournalConfig   `yaml:"journal"`
	Displays   []DisplayConfig `yaml:"displays"`
}

// DefaultDisplay is a phone-like panel with two seamless rates and one
// rate in a different timing group.
func DefaultDisplay() DisplayConfig {
	return DisplayConfig{
		ID:                0,
		Name:              "panel",
		Class:             "builtin",
		MaxDeviceLayers:   4,
		VsyncsToApply:     refresh.DefaultVsyncsToApply,
		ModeSetLeadVsyncs: refresh.DefaultModeSetLeadVsyncs,
		TransientHistory:  refresh.DefaultTransientCapacity,
		Writeback:         true,
		Configs: []ModeConfig{
			{ID: 0, Width: 1080, Height: 2400, RefreshRate: 60, Group: 1},
			{ID: 1, Width: 1080, Height: 2400, RefreshRate: 90, Group: 1},
			{ID: 2, Width: 1080, Height: 2400, RefreshRate: 120, Group: 2},
		},
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		Engine:    EngineSim,
		Writeback: WritebackConfig{Enabled: true},
		Driver:    DriverConfig{ReconcileInterval: DefaultReconcileInterval, TestPattern: true},
		Journal: JournalConfig{
			Enabled:   false,
			Level:     "info",
			MaxSizeMB: DefaultJournalMaxSizeMB,
			MaxFiles:  DefaultJournalMaxFiles,
		},
		Displays: []DisplayConfig{DefaultDisplay()},
	}
}

// SlogLevel maps log_level to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// JournalSettings returns the journal configuration with the default file
// location filled in.
func (c *Config) JournalSettings() journal.Config {
	j := c.Journal
	file := j.File
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			home = os.Getenv("HOME")
		}
		if home == "" {
			home = "."
		}
		file = filepath.Join(home, ".local", "state", "vsyncd", "journal.log")
	} else if expanded, err := expandHome(file); err == nil {
		file = expanded
	}
	return journal.Config{
		Enabled:   j.Enabled,
		Level:     journal.ParseLevel(j.Level),
		FilePath:  file,
		MaxSizeMB: j.MaxSizeMB,
		MaxFiles:  j.MaxFiles,
	}
}

// Display returns the display with the given id.
func (c *Config) Display(id int) (DisplayConfig, bool) {
	for _, d := range c.Displays {
		if d.ID == id {
			return d, true
		}
	}
	return DisplayConfig{}, false
}

// Marshal renders the effective config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return &ValidationError{Path: "log_level", Err: fmt.Errorf("log_level must be one of: debug, info, warning, error")}
	}
	switch c.Engine {
	case EngineSim, EngineX11:
	default:
		return &ValidationError{Path: "engine", Err: fmt.Errorf("engine must be one of: sim, x11")}
	}
	if c.Driver.ReconcileInterval < 0 {
		return &ValidationError{Path: "driver.reconcile_interval", Err: fmt.Errorf("reconcile_interval must be >= 0")}
	}

	if c.Journal.Enabled {
		switch strings.ToLower(c.Journal.Level) {
		case "debug", "info", "warn", "warning", "error":
		default:
			return &ValidationError{Path: "journal.level", Err: fmt.Errorf("level must be one of: debug, info, warning, error")}
		}
		if c.Journal.MaxSizeMB <= 0 {
			return &ValidationError{Path: "journal.max_size_mb", Err: fmt.Errorf("max_size_mb must be > 0")}
		}
	}
	if c.Journal.MaxFiles < 0 {
		return &ValidationError{Path: "journal.max_files", Err: fmt.Errorf("max_files must be >= 0")}
	}

	if len(c.Displays) == 0 {
		return &ValidationError{Path: "displays", Err: fmt.Errorf("at least one display is required")}
	}
	ids := make(map[int]struct{}, len(c.Displays))
	for i, d := range c.Displays {
		if err := c.validateDisplay(d); err != nil {
			err.Path = fmt.Sprintf("displays.%d.%s", i, err.Path)
			return err
		}
		if _, dup := ids[d.ID]; dup {
			return &ValidationError{Path: fmt.Sprintf("displays.%d.id", i), Err: fmt.Errorf("duplicate display id %d", d.ID)}
		}
		ids[d.ID] = struct{}{}
	}
	return nil
}

func (c *Config) validateDisplay(d DisplayConfig) *ValidationError {
	if d.ID < 0 {
		return &ValidationError{Path: "id", Err: fmt.Errorf("id must be >= 0")}
	}
	if _, err := d.DisplayClass(); err != nil {
		return &ValidationError{Path: "class", Err: fmt.Errorf("class must be one of: builtin, pluggable, virtual, null")}
	}
	nonNegative := []struct {
		path  string
		value int
	}{
		{"max_device_layers", d.MaxDeviceLayers},
		{"vsyncs_to_apply_rate_change", d.VsyncsToApply},
		{"mode_set_lead_vsyncs", d.ModeSetLeadVsyncs},
		{"transient_history", d.TransientHistory},
	}
	for _, f := range nonNegative {
		if f.value < 0 {
			return &ValidationError{Path: f.path, Err: fmt.Errorf("%s must be >= 0", f.path)}
		}
	}
	if d.IdleTimeout < 0 {
		return &ValidationError{Path: "idle_timeout", Err: fmt.Errorf("idle_timeout must be >= 0")}
	}
	if d.MinRefreshRate < 0 || d.MaxRefreshRate < 0 {
		return &ValidationError{Path: "min_refresh_rate", Err: fmt.Errorf("refresh rate bounds must be >= 0")}
	}
	if d.MinRefreshRate > 0 && d.MaxRefreshRate > 0 && d.MinRefreshRate > d.MaxRefreshRate {
		return &ValidationError{Path: "max_refresh_rate", Err: fmt.Errorf("max_refresh_rate must be >= min_refresh_rate")}
	}

	if c.Engine != EngineSim {
		return nil
	}
	if len(d.Configs) == 0 {
		return &ValidationError{Path: "configs", Err: fmt.Errorf("the sim engine needs at least one config per display")}
	}
	seen := make(map[uint32]struct{}, len(d.Configs))
	for j, m := range d.Configs {
		path := fmt.Sprintf("configs.%d", j)
		if _, dup := seen[m.ID]; dup {
			return &ValidationError{Path: path + ".id", Err: fmt.Errorf("duplicate config id %d", m.ID)}
		}
		seen[m.ID] = struct{}{}
		if m.Width == 0 || m.Height == 0 {
			return &ValidationError{Path: path, Err: fmt.Errorf("width and height must be > 0")}
		}
		if m.RefreshRate <= 0 {
			return &ValidationError{Path: path + ".refresh_rate", Err: fmt.Errorf("refresh_rate must be > 0")}
		}
	}
	return nil
}
