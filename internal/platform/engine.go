package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/layer"
)

// ErrEngineLost is returned once the engine handle can no longer be used.
var ErrEngineLost = fmt.Errorf("%w: engine handle lost", hwerr.ErrTerminal)

// ConfigID identifies a display timing configuration.
type ConfigID uint32

// DisplayConfig is an immutable timing descriptor.
type DisplayConfig struct {
	ID          ConfigID      `json:"id"`
	Width       uint32        `json:"width"`
	Height      uint32        `json:"height"`
	VsyncPeriod time.Duration `json:"vsync_period"`
	// Group is the panel-timing family. Configs that share resolution and
	// group can be switched without a full mode set.
	Group uint32 `json:"group"`
}

// RefreshRate returns the refresh rate in Hz.
func (c DisplayConfig) RefreshRate() float64 {
	if c.VsyncPeriod <= 0 {
		return 0
	}
	return float64(time.Second) / float64(c.VsyncPeriod)
}

// SameGroup reports whether a switch between c and o can be seamless.
func (c DisplayConfig) SameGroup(o DisplayConfig) bool {
	return c.Width == o.Width && c.Height == o.Height && c.Group == o.Group
}

func (c DisplayConfig) String() string {
	return fmt.Sprintf("%d: %dx%d@%.2fHz group=%d", c.ID, c.Width, c.Height, c.RefreshRate(), c.Group)
}

// PeriodForRate converts a refresh rate in Hz into a vsync period.
func PeriodForRate(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// PowerMode is the panel power state.
type PowerMode int

const (
	PowerOff PowerMode = iota
	PowerDozeSuspend
	PowerDoze
	PowerOn
)

func (m PowerMode) String() string {
	switch m {
	case PowerOff:
		return "off"
	case PowerDozeSuspend:
		return "doze_suspend"
	case PowerDoze:
		return "doze"
	case PowerOn:
		return "on"
	default:
		return fmt.Sprintf("power(%d)", int(m))
	}
}

// ParsePowerMode parses the names produced by PowerMode.String.
func ParsePowerMode(s string) (PowerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return PowerOff, nil
	case "doze_suspend", "doze-suspend":
		return PowerDozeSuspend, nil
	case "doze":
		return PowerDoze, nil
	case "on":
		return PowerOn, nil
	default:
		return PowerOff, fmt.Errorf("%w: unknown power mode %q", hwerr.ErrInvalidArgument, s)
	}
}

// Capabilities describes fixed limits of an engine.
type Capabilities struct {
	MaxDeviceLayers int
	Writeback       bool
}

// CaptureRequest attaches a writeback capture to a committed frame.
type CaptureRequest struct {
	Buffer       uint64
	AcquireFence fence.ID
	TapPoint     string
	ROI          layer.Rect
}

// Frame is what the engine sees of one display frame.
type Frame struct {
	Display           int
	Layers            []*layer.Layer // bottom to top, buffers only
	ClientTarget      *layer.ClientTarget
	ClientComposition bool
	Capture           *CaptureRequest
}

// CommitResult carries the fences produced by a commit.
type CommitResult struct {
	Retire   fence.ID
	Readback fence.ID // NoFence unless the frame carried a capture
}

// DisplayEngine is the hardware side of a display. Implementations return
// errors wrapping hwerr.ErrHardwareRejected for refusals the frame can
// recover from and ErrEngineLost when the handle is gone for good.
type DisplayEngine interface {
	Capabilities() Capabilities
	Configs(ctx context.Context) ([]DisplayConfig, ConfigID, error)
	QueryLayerCapability(l *layer.Layer) bool
	Prepare(ctx context.Context, f *Frame) error
	Commit(ctx context.Context, f *Frame) (CommitResult, error)
	VsyncPeriod() time.Duration
	LastVsync(now time.Time) time.Time
	ResourceExhausted() bool
	SetActiveConfig(ctx context.Context, id ConfigID) error
	SetPowerMode(ctx context.Context, mode PowerMode) error
	Close() error
}
