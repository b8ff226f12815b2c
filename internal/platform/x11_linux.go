//go:build linux

package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/layer"
	"github.com/1broseidon/vsyncd/internal/x11"
)

// X11Engine drives one RandR output. Mode switches and power go to the X
// server; scanout itself is emulated on the output's vsync grid since core
// X has no atomic plane commit.
type X11Engine struct {
	conn   *x11.Connection
	fences *fence.Registry
	caps   Capabilities

	mu     sync.Mutex
	output x11.Output
	epoch  time.Time
	lost   bool
}

var _ DisplayEngine = (*X11Engine)(nil)

// NewX11Engine binds to the named output, or the first connected one when
// name is empty.
func NewX11Engine(conn *x11.Connection, fences *fence.Registry, name string, maxDeviceLayers int) (*X11Engine, error) {
	outputs, err := conn.Outputs()
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no connected outputs")
	}

	chosen := outputs[0]
	if name != "" {
		found := false
		for _, o := range outputs {
			if o.Name == name {
				chosen = o
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("output %q not connected", name)
		}
	}
	if maxDeviceLayers <= 0 {
		maxDeviceLayers = 1
	}

	return &X11Engine{
		conn:   conn,
		fences: fences,
		caps:   Capabilities{MaxDeviceLayers: maxDeviceLayers},
		output: chosen,
		epoch:  time.Now(),
	}, nil
}

// OutputName returns the RandR output this engine drives.
func (e *X11Engine) OutputName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.output.Name
}

func (e *X11Engine) Capabilities() Capabilities {
	return e.caps
}

// modeConfig maps a RandR mode to a DisplayConfig. Modes sharing a pixel
// clock and line length differ only in vertical blanking, which panels can
// stretch without a full mode set.
func modeConfig(m x11.Mode) DisplayConfig {
	return DisplayConfig{
		ID:          ConfigID(m.ID),
		Width:       uint32(m.Width),
		Height:      uint32(m.Height),
		VsyncPeriod: m.VsyncPeriod(),
		Group:       uint32(m.Htotal)<<16 ^ m.DotClock/1000,
	}
}

func (e *X11Engine) Configs(_ context.Context) ([]DisplayConfig, ConfigID, error) {
	outputs, err := e.conn.Outputs()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrEngineLost, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range outputs {
		if o.ID == e.output.ID {
			e.output = o
			configs := make([]DisplayConfig, 0, len(o.Modes))
			for _, m := range o.Modes {
				configs = append(configs, modeConfig(m))
			}
			return configs, ConfigID(o.ActiveMode), nil
		}
	}
	e.lost = true
	return nil, 0, fmt.Errorf("output %s disconnected: %w", e.output.Name, ErrEngineLost)
}

func (e *X11Engine) QueryLayerCapability(l *layer.Layer) bool {
	if l.Frame.Empty() {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	mode, ok := e.activeModeLocked()
	if !ok {
		return false
	}
	// Only unscaled, on-screen layers can be handed to the server as-is.
	return l.Frame.X >= 0 && l.Frame.Y >= 0 &&
		l.Frame.X+l.Frame.W <= int32(mode.Width) &&
		l.Frame.Y+l.Frame.H <= int32(mode.Height)
}

func (e *X11Engine) activeModeLocked() (x11.Mode, bool) {
	for _, m := range e.output.Modes {
		if m.ID == e.output.ActiveMode {
			return m, true
		}
	}
	return x11.Mode{}, false
}

func (e *X11Engine) Prepare(_ context.Context, f *Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lost {
		return ErrEngineLost
	}
	device := 0
	for _, l := range f.Layers {
		if l.Decided == layer.CompositionDevice {
			device++
		}
	}
	if device > e.caps.MaxDeviceLayers {
		return fmt.Errorf("x11 prepare: %d device layers: %w", device, hwerr.ErrHardwareRejected)
	}
	return nil
}

func (e *X11Engine) Commit(_ context.Context, f *Frame) (CommitResult, error) {
	e.mu.Lock()
	lost := e.lost
	e.mu.Unlock()
	if lost {
		return CommitResult{}, ErrEngineLost
	}
	if f.Capture != nil {
		return CommitResult{}, fmt.Errorf("x11 commit: no writeback path: %w", hwerr.ErrHardwareRejected)
	}

	// The frame leaves the screen at the next vsync; the kernel signals
	// the retire fence from a timerfd armed for that edge.
	now := time.Now()
	next := e.LastVsync(now).Add(e.VsyncPeriod())
	retire, err := e.fences.TimerFence(next.Sub(now))
	if err != nil {
		return CommitResult{}, fmt.Errorf("x11 commit: %v: %w", err, hwerr.ErrHardwareRejected)
	}
	return CommitResult{Retire: retire, Readback: fence.NoFence}, nil
}

func (e *X11Engine) VsyncPeriod() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.activeModeLocked(); ok {
		return m.VsyncPeriod()
	}
	return 0
}

func (e *X11Engine) LastVsync(now time.Time) time.Time {
	period := e.VsyncPeriod()
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()
	if period <= 0 || now.Before(epoch) {
		return epoch
	}
	return epoch.Add(now.Sub(epoch) / period * period)
}

func (e *X11Engine) ResourceExhausted() bool {
	return false
}

func (e *X11Engine) SetActiveConfig(_ context.Context, id ConfigID) error {
	e.mu.Lock()
	out := e.output
	e.mu.Unlock()

	if err := e.conn.SetMode(out, uint32(id)); err != nil {
		return fmt.Errorf("%w: %v", hwerr.ErrHardwareRejected, err)
	}

	e.mu.Lock()
	e.output.ActiveMode = uint32(id)
	e.epoch = time.Now()
	e.mu.Unlock()
	return nil
}

func (e *X11Engine) SetPowerMode(_ context.Context, mode PowerMode) error {
	level := uint16(x11.DPMSOn)
	switch mode {
	case PowerOff:
		level = x11.DPMSOff
	case PowerDozeSuspend:
		level = x11.DPMSSuspend
	case PowerDoze:
		level = x11.DPMSStandby
	}
	if err := e.conn.ForceDPMS(level); err != nil {
		return fmt.Errorf("%w: %v", hwerr.ErrHardwareRejected, err)
	}
	return nil
}

func (e *X11Engine) Close() error {
	e.conn.Close()
	return nil
}
