//go:build linux

package daemon

import (
	"github.com/1broseidon/vsyncd/internal/config"
	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/platform"
	"github.com/1broseidon/vsyncd/internal/x11"
)

func (s *engineSet) openX11(xdisplay string, dc config.DisplayConfig, fences *fence.Registry) (platform.DisplayEngine, error) {
	if s.conn == nil {
		conn, err := x11.NewConnection(xdisplay)
		if err != nil {
			return nil, err
		}
		s.conn = conn
	}
	return platform.NewX11Engine(s.conn, fences, dc.Output, dc.MaxDeviceLayers)
}
