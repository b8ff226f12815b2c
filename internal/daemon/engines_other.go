//go:build !linux

package daemon

import (
	"fmt"
	"runtime"

	"github.com/1broseidon/vsyncd/internal/config"
	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/platform"
)

func (s *engineSet) openX11(string, config.DisplayConfig, *fence.Registry) (platform.DisplayEngine, error) {
	return nil, fmt.Errorf("x11 engine is not supported on %s", runtime.GOOS)
}
