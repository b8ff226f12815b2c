package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/layer"
)

// SimEngine is an in-process engine that keeps a vsync grid and hands out
// retire fences without touching hardware. Retire fences signal when the
// following frame is committed, as they do on real scanout, unless fences
// are held for manual signaling.
type SimEngine struct {
	mu     sync.Mutex
	fences *fence.Registry
	clock  func() time.Time
	epoch  time.Time
	caps   Capabilities

	configs []DisplayConfig
	active  ConfigID
	power   PowerMode

	outstanding []fence.ID
	holdFences  bool

	rejectPrepare int
	rejectCommit  int
	rejectConfig  bool
	lost          bool
	exhausted     bool

	unsupported map[uint64]bool

	prepares  int
	commits   int
	lastFrame Frame
	configLog []ConfigID
	powerLog  []PowerMode
}

var _ DisplayEngine = (*SimEngine)(nil)

// SimOptions configures a SimEngine.
type SimOptions struct {
	Configs         []DisplayConfig
	Active          ConfigID
	MaxDeviceLayers int
	Writeback       bool
	Clock           func() time.Time
}

// NewSimEngine creates a simulated engine. Configs must not be empty.
func NewSimEngine(fences *fence.Registry, opts SimOptions) (*SimEngine, error) {
	if len(opts.Configs) == 0 {
		return nil, fmt.Errorf("%w: sim engine needs at least one config", hwerr.ErrInvalidArgument)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	maxLayers := opts.MaxDeviceLayers
	if maxLayers <= 0 {
		maxLayers = 4
	}

	e := &SimEngine{
		fences:      fences,
		clock:       clock,
		epoch:       clock(),
		caps:        Capabilities{MaxDeviceLayers: maxLayers, Writeback: opts.Writeback},
		configs:     append([]DisplayConfig(nil), opts.Configs...),
		active:      opts.Configs[0].ID,
		power:       PowerOn,
		unsupported: make(map[uint64]bool),
	}
	if _, ok := e.configLocked(opts.Active); ok {
		e.active = opts.Active
	}
	return e, nil
}

func (e *SimEngine) configLocked(id ConfigID) (DisplayConfig, bool) {
	for _, c := range e.configs {
		if c.ID == id {
			return c, true
		}
	}
	return DisplayConfig{}, false
}

func (e *SimEngine) Capabilities() Capabilities {
	return e.caps
}

func (e *SimEngine) Configs(_ context.Context) ([]DisplayConfig, ConfigID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lost {
		return nil, 0, ErrEngineLost
	}
	return append([]DisplayConfig(nil), e.configs...), e.active, nil
}

func (e *SimEngine) QueryLayerCapability(l *layer.Layer) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.unsupported[l.Buffer]
}

func (e *SimEngine) Prepare(_ context.Context, f *Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lost {
		return ErrEngineLost
	}
	e.prepares++
	if e.rejectPrepare > 0 {
		e.rejectPrepare--
		return fmt.Errorf("sim prepare: %w", hwerr.ErrHardwareRejected)
	}
	device := 0
	for _, l := range f.Layers {
		if l.Decided == layer.CompositionDevice {
			device++
		}
	}
	if device > e.caps.MaxDeviceLayers {
		return fmt.Errorf("sim prepare: %d device layers exceeds %d: %w", device, e.caps.MaxDeviceLayers, hwerr.ErrHardwareRejected)
	}
	return nil
}

func (e *SimEngine) Commit(_ context.Context, f *Frame) (CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lost {
		return CommitResult{}, ErrEngineLost
	}
	if e.rejectCommit > 0 {
		e.rejectCommit--
		return CommitResult{}, fmt.Errorf("sim commit: %w", hwerr.ErrHardwareRejected)
	}
	if f.Capture != nil && !e.caps.Writeback {
		return CommitResult{}, fmt.Errorf("sim commit: writeback unsupported: %w", hwerr.ErrHardwareRejected)
	}

	// The previous frame leaves the screen now.
	if !e.holdFences {
		for _, id := range e.outstanding {
			_ = e.fences.Signal(id)
		}
		e.outstanding = e.outstanding[:0]
	}

	res := CommitResult{Retire: e.fences.Create(), Readback: fence.NoFence}
	e.outstanding = append(e.outstanding, res.Retire)
	if f.Capture != nil {
		res.Readback = e.fences.Create()
		e.outstanding = append(e.outstanding, res.Readback)
	}

	e.commits++
	e.lastFrame = *f
	e.lastFrame.Layers = append([]*layer.Layer(nil), f.Layers...)
	return res, nil
}

func (e *SimEngine) VsyncPeriod() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, _ := e.configLocked(e.active)
	return c.VsyncPeriod
}

// LastVsync returns the most recent vsync at or before now on the grid
// anchored at engine creation.
func (e *SimEngine) LastVsync(now time.Time) time.Time {
	period := e.VsyncPeriod()
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()
	if period <= 0 || now.Before(epoch) {
		return epoch
	}
	n := now.Sub(epoch) / period
	return epoch.Add(n * period)
}

func (e *SimEngine) ResourceExhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exhausted
}

func (e *SimEngine) SetActiveConfig(_ context.Context, id ConfigID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lost {
		return ErrEngineLost
	}
	if e.rejectConfig {
		return fmt.Errorf("sim set config %d: %w", id, hwerr.ErrHardwareRejected)
	}
	if _, ok := e.configLocked(id); !ok {
		return fmt.Errorf("sim set config %d: %w", id, hwerr.ErrInvalidArgument)
	}
	e.active = id
	e.epoch = e.clock()
	e.configLog = append(e.configLog, id)
	return nil
}

func (e *SimEngine) SetPowerMode(_ context.Context, mode PowerMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lost {
		return ErrEngineLost
	}
	e.power = mode
	e.powerLog = append(e.powerLog, mode)
	return nil
}

func (e *SimEngine) Close() error {
	return nil
}

// Fault injection and inspection.

// RejectNextPrepares makes the next n prepares fail as hardware rejections.
func (e *SimEngine) RejectNextPrepares(n int) {
	e.mu.Lock()
	e.rejectPrepare = n
	e.mu.Unlock()
}

// RejectNextCommits makes the next n commits fail as hardware rejections.
func (e *SimEngine) RejectNextCommits(n int) {
	e.mu.Lock()
	e.rejectCommit = n
	e.mu.Unlock()
}

// RejectConfigChanges makes SetActiveConfig fail while set.
func (e *SimEngine) RejectConfigChanges(reject bool) {
	e.mu.Lock()
	e.rejectConfig = reject
	e.mu.Unlock()
}

// Lose makes every later call fail with ErrEngineLost.
func (e *SimEngine) Lose() {
	e.mu.Lock()
	e.lost = true
	e.mu.Unlock()
}

// SetResourceExhausted toggles the resource pressure flag.
func (e *SimEngine) SetResourceExhausted(v bool) {
	e.mu.Lock()
	e.exhausted = v
	e.mu.Unlock()
}

// SetLayerSupported marks buffers the engine cannot scan out.
func (e *SimEngine) SetLayerSupported(buffer uint64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ok {
		delete(e.unsupported, buffer)
	} else {
		e.unsupported[buffer] = true
	}
}

// HoldFences stops automatic signaling of retire and readback fences.
func (e *SimEngine) HoldFences(hold bool) {
	e.mu.Lock()
	e.holdFences = hold
	e.mu.Unlock()
}

// SignalOutstanding signals every fence the engine has handed out.
func (e *SimEngine) SignalOutstanding() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.outstanding {
		_ = e.fences.Signal(id)
	}
	e.outstanding = e.outstanding[:0]
}

// SetConfigs replaces the advertised configs, as a hotplug would.
func (e *SimEngine) SetConfigs(configs []DisplayConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append([]DisplayConfig(nil), configs...)
	if _, ok := e.configLocked(e.active); !ok && len(e.configs) > 0 {
		e.active = e.configs[0].ID
	}
}

// SimStats reports counters for tests and status output.
type SimStats struct {
	Prepares  int
	Commits   int
	Active    ConfigID
	Power     PowerMode
	ConfigLog []ConfigID
	PowerLog  []PowerMode
	LastFrame Frame
}

func (e *SimEngine) Stats() SimStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SimStats{
		Prepares:  e.prepares,
		Commits:   e.commits,
		Active:    e.active,
		Power:     e.power,
		ConfigLog: append([]ConfigID(nil), e.configLog...),
		PowerLog:  append([]PowerMode(nil), e.powerLog...),
		LastFrame: e.lastFrame,
	}
}
