package config

import (
	"fmt"
)

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BuildEffectiveConfig applies a merged raw config over DefaultConfig.
// When the raw config lists displays they replace the default display;
// each listed display starts from DefaultDisplay, so an entry only needs
// the fields it changes.
func BuildEffectiveConfig(raw RawConfig) (*Config, error) {
	cfg := DefaultConfig()

	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
	}
	if raw.Engine != nil {
		cfg.Engine = *raw.Engine
	}
	if raw.X11Display != nil {
		cfg.X11Display = *raw.X11Display
	}
	if raw.SocketPath != nil {
		cfg.SocketPath = *raw.SocketPath
	}
	if raw.Writeback != nil && raw.Writeback.Enabled != nil {
		cfg.Writeback.Enabled = *raw.Writeback.Enabled
	}
	if raw.Driver != nil {
		if raw.Driver.ReconcileInterval != nil {
			cfg.Driver.ReconcileInterval = *raw.Driver.ReconcileInterval
		}
		if raw.Driver.TestPattern != nil {
			cfg.Driver.TestPattern = *raw.Driver.TestPattern
		}
	}
	if raw.Journal != nil {
		if raw.Journal.Enabled != nil {
			cfg.Journal.Enabled = *raw.Journal.Enabled
		}
		if raw.Journal.Level != nil {
			cfg.Journal.Level = *raw.Journal.Level
		}
		if raw.Journal.File != nil {
			cfg.Journal.File = *raw.Journal.File
		}
		if raw.Journal.MaxSizeMB != nil {
			cfg.Journal.MaxSizeMB = *raw.Journal.MaxSizeMB
		}
		if raw.Journal.MaxFiles != nil {
			cfg.Journal.MaxFiles = *raw.Journal.MaxFiles
		}
	}

	if raw.Displays != nil {
		cfg.Displays = make([]DisplayConfig, 0, len(raw.Displays))
		for _, rd := range raw.Displays {
			cfg.Displays = append(cfg.Displays, buildDisplay(rd))
		}
	}

	return cfg, nil
}

func buildDisplay(rd RawDisplay) DisplayConfig {
	d := DefaultDisplay()
	d.ID = derefInt(rd.ID, 0)
	if rd.Name != nil {
		d.Name = *rd.Name
	} else {
		d.Name = fmt.Sprintf("display-%d", d.ID)
	}
	if rd.Class != nil {
		d.Class = *rd.Class
	}
	if rd.Output != nil {
		d.Output = *rd.Output
	}
	if rd.MaxDeviceLayers != nil {
		d.MaxDeviceLayers = *rd.MaxDeviceLayers
	}
	if rd.VsyncsToApply != nil {
		d.VsyncsToApply = *rd.VsyncsToApply
	}
	if rd.ModeSetLeadVsyncs != nil {
		d.ModeSetLeadVsyncs = *rd.ModeSetLeadVsyncs
	}
	if rd.TransientHistory != nil {
		d.TransientHistory = *rd.TransientHistory
	}
	if rd.MinRefreshRate != nil {
		d.MinRefreshRate = *rd.MinRefreshRate
	}
	if rd.MaxRefreshRate != nil {
		d.MaxRefreshRate = *rd.MaxRefreshRate
	}
	if rd.Writeback != nil {
		d.Writeback = *rd.Writeback
	}
	if rd.IdleTimeout != nil {
		d.IdleTimeout = *rd.IdleTimeout
	}
	if rd.VsyncEvents != nil {
		d.VsyncEvents = *rd.VsyncEvents
	}
	if rd.Configs != nil {
		d.Configs = append([]ModeConfig(nil), rd.Configs...)
	}
	return d
}
