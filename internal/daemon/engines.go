package daemon

import (
	"errors"
	"time"

	"github.com/1broseidon/vsyncd/internal/config"
	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/platform"
	"github.com/1broseidon/vsyncd/internal/x11"
)

// engineSet opens engines and shares one X connection between x11 engines.
type engineSet struct {
	conn    *x11.Connection
	engines []platform.DisplayEngine
}

func (s *engineSet) open(cfg *config.Config, dc config.DisplayConfig, fences *fence.Registry, clock func() time.Time) (platform.DisplayEngine, error) {
	switch cfg.Engine {
	case config.EngineX11:
		return s.openX11(cfg.X11Display, dc, fences)
	default:
		return platform.NewSimEngine(fences, platform.SimOptions{
			Configs:         dc.PlatformConfigs(),
			MaxDeviceLayers: dc.MaxDeviceLayers,
			Writeback:       dc.Writeback,
			Clock:           clock,
		})
	}
}

func (s *engineSet) track(e platform.DisplayEngine) {
	s.engines = append(s.engines, e)
}

func (s *engineSet) close() error {
	var errs []error
	for _, e := range s.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.engines = nil
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return errors.Join(errs...)
}
