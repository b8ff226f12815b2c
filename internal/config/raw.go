package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// IncludeList supports either:
//
//	include: "/path/to/file.yaml"
//
// or:
//
//	include:
//	  - "/path/to/file.yaml"
//	  - "/path/to/dir"
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

type RawWritebackConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type RawDriverConfig struct {
	ReconcileInterval *time.Duration `yaml:"reconcile_interval"`
	TestPattern       *bool          `yaml:"test_pattern"`
}

type RawJournalConfig struct {
	Enabled   *bool   `yaml:"enabled"`
	Level     *string `yaml:"level"`
	File      *string `yaml:"file"`
	MaxSizeMB *int    `yaml:"max_size_mb"`
	MaxFiles  *int    `yaml:"max_files"`
}

// RawDisplay is a partial display entry. Entries are keyed by id; a later
// file only overrides the fields it sets.
type RawDisplay struct {
	ID                *int           `yaml:"id"`
	Name              *string        `yaml:"name"`
	Class             *string        `yaml:"class"`
	Output            *string        `yaml:"output"`
	MaxDeviceLayers   *int           `yaml:"max_device_layers"`
	VsyncsToApply     *int           `yaml:"vsyncs_to_apply_rate_change"`
	ModeSetLeadVsyncs *int           `yaml:"mode_set_lead_vsyncs"`
	TransientHistory  *int           `yaml:"transient_history"`
	MinRefreshRate    *float64       `yaml:"min_refresh_rate"`
	MaxRefreshRate    *float64       `yaml:"max_refresh_rate"`
	Writeback         *bool          `yaml:"writeback"`
	IdleTimeout       *time.Duration `yaml:"idle_timeout"`
	VsyncEvents       *bool          `yaml:"vsync_events"`
	Configs           []ModeConfig   `yaml:"configs"`
}

func (d RawDisplay) merge(overlay RawDisplay) RawDisplay {
	out := d
	if overlay.Name != nil {
		out.Name = overlay.Name
	}
	if overlay.Class != nil {
		out.Class = overlay.Class
	}
	if overlay.Output != nil {
		out.Output = overlay.Output
	}
	if overlay.MaxDeviceLayers != nil {
		out.MaxDeviceLayers = overlay.MaxDeviceLayers
	}
	if overlay.VsyncsToApply != nil {
		out.VsyncsToApply = overlay.VsyncsToApply
	}
	if overlay.ModeSetLeadVsyncs != nil {
		out.ModeSetLeadVsyncs = overlay.ModeSetLeadVsyncs
	}
	if overlay.TransientHistory != nil {
		out.TransientHistory = overlay.TransientHistory
	}
	if overlay.MinRefreshRate != nil {
		out.MinRefreshRate = overlay.MinRefreshRate
	}
	if overlay.MaxRefreshRate != nil {
		out.MaxRefreshRate = overlay.MaxRefreshRate
	}
	if overlay.Writeback != nil {
		out.Writeback = overlay.Writeback
	}
	if overlay.IdleTimeout != nil {
		out.IdleTimeout = overlay.IdleTimeout
	}
	if overlay.VsyncEvents != nil {
		out.VsyncEvents = overlay.VsyncEvents
	}
	if overlay.Configs != nil {
		out.Configs = overlay.Configs
	}
	return out
}

type RawConfig struct {
	Include    IncludeList         `yaml:"include"`
	LogLevel   *string             `yaml:"log_level"`
	Engine     *EngineKind         `yaml:"engine"`
	X11Display *string             `yaml:"x11_display"`
	SocketPath *string             `yaml:"socket_path"`
	Writeback  *RawWritebackConfig `yaml:"writeback"`
	Driver     *RawDriverConfig    `yaml:"driver"`
	Journal    *RawJournalConfig   `yaml:"journal"`
	Displays   []RawDisplay        `yaml:"displays"`
}

func (c RawConfig) merge(overlay RawConfig) RawConfig {
	out := c

	if overlay.LogLevel != nil {
		out.LogLevel = overlay.LogLevel
	}
	if overlay.Engine != nil {
		out.Engine = overlay.Engine
	}
	if overlay.X11Display != nil {
		out.X11Display = overlay.X11Display
	}
	if overlay.SocketPath != nil {
		out.SocketPath = overlay.SocketPath
	}
	if overlay.Writeback != nil {
		if out.Writeback == nil {
			out.Writeback = &RawWritebackConfig{}
		}
		merged := *out.Writeback
		if overlay.Writeback.Enabled != nil {
			merged.Enabled = overlay.Writeback.Enabled
		}
		out.Writeback = &merged
	}
	if overlay.Driver != nil {
		if out.Driver == nil {
			out.Driver = &RawDriverConfig{}
		}
		merged := *out.Driver
		if overlay.Driver.ReconcileInterval != nil {
			merged.ReconcileInterval = overlay.Driver.ReconcileInterval
		}
		if overlay.Driver.TestPattern != nil {
			merged.TestPattern = overlay.Driver.TestPattern
		}
		out.Driver = &merged
	}
	if overlay.Journal != nil {
		if out.Journal == nil {
			out.Journal = &RawJournalConfig{}
		}
		merged := *out.Journal
		if overlay.Journal.Enabled != nil {
			merged.Enabled = overlay.Journal.Enabled
		}
		if overlay.Journal.Level != nil {
			merged.Level = overlay.Journal.Level
		}
		if overlay.Journal.File != nil {
			merged.File = overlay.Journal.File
		}
		if overlay.Journal.MaxSizeMB != nil {
			merged.MaxSizeMB = overlay.Journal.MaxSizeMB
		}
		if overlay.Journal.MaxFiles != nil {
			merged.MaxFiles = overlay.Journal.MaxFiles
		}
		out.Journal = &merged
	}
	if overlay.Displays != nil {
		out.Displays = mergeDisplays(out.Displays, overlay.Displays)
	}

	return out
}

// mergeDisplays overlays entries with a matching id and appends the rest in
// overlay order. Entries without an id are treated as id 0.
func mergeDisplays(base, overlay []RawDisplay) []RawDisplay {
	out := append([]RawDisplay(nil), base...)
	for _, o := range overlay {
		id := derefInt(o.ID, 0)
		merged := false
		for i := range out {
			if derefInt(out[i].ID, 0) == id {
				out[i] = out[i].merge(o)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, o)
		}
	}
	return out
}

func derefInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
