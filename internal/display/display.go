// Package display ties one output's layer stack, frame lifecycle and
// refresh controller to the process-wide writeback arbiter and secure
// guard, and exposes the typed operations clients use.
package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/frame"
	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/journal"
	"github.com/1broseidon/vsyncd/internal/layer"
	"github.com/1broseidon/vsyncd/internal/platform"
	"github.com/1broseidon/vsyncd/internal/refresh"
	"github.com/1broseidon/vsyncd/internal/secure"
	"github.com/1broseidon/vsyncd/internal/writeback"
)

var ErrUnsupported = fmt.Errorf("%w: not supported by this display", hwerr.ErrInvalidArgument)

// Options configures a Display.
type Options struct {
	ID      int
	Name    string
	Class   Class
	Engine  platform.DisplayEngine
	Fences  *fence.Registry
	Refresh refresh.Options

	// Writeback and Guard are shared by every display in the process.
	// Writeback may be nil when no capture hardware exists.
	Writeback *writeback.Arbiter
	Guard     *secure.Guard

	// IdleTimeout stops unchanged frames from being committed once the
	// display has gone that long without a client update. Zero disables it.
	IdleTimeout time.Duration
	// VsyncEnabled starts the display with vsync reporting on.
	VsyncEnabled bool

	Journal *journal.Journal
	Logger  *slog.Logger
	Clock   func() time.Time
}

// CommitResult is what a client sees of a commit.
type CommitResult struct {
	Retire   fence.ID `json:"retire"`
	Readback fence.ID `json:"readback"`
	Flushed  bool     `json:"flushed"`
	// Skipped is set when the display is not scanning out (paused,
	// offline, powered off or a null display).
	Skipped bool `json:"skipped"`
}

// Display is safe for concurrent use. Frame operations are serialised by
// the display lock; config requests only take the refresh controller's
// lock and capture requests only the arbiter's.
type Display struct {
	id      int
	name    string
	class   Class
	traits  traits
	engine  platform.DisplayEngine
	fences  *fence.Registry
	refresh *refresh.Controller
	wb      *writeback.Arbiter
	guard   *secure.Guard
	journal *journal.Journal
	logger  *slog.Logger
	clock   func() time.Time

	mu                 sync.Mutex
	stack              *layer.Stack
	frame              *frame.Controller
	status             Status
	power              platform.PowerMode
	pendingPower       *platform.PowerMode
	pendingFirstConfig *platform.ConfigID
	commitSkipped      bool
	prepareSkipped     bool

	vsyncEnabled bool
	vsyncEvents  uint64
	lastVsync    time.Time

	idleTimeout time.Duration
	lastUpdate  time.Time
	idleSkips   uint64

	lostMu sync.Mutex
	lost   error
}

// New queries the engine for its configs and builds the display.
func New(ctx context.Context, opts Options) (*Display, error) {
	if opts.Engine == nil || opts.Fences == nil || opts.Guard == nil {
		return nil, fmt.Errorf("display %d: %w: engine, fences and guard are required", opts.ID, hwerr.ErrInvalidArgument)
	}
	if _, ok := classTraits[opts.Class]; !ok {
		return nil, fmt.Errorf("display %d: %w: class %d", opts.ID, hwerr.ErrInvalidArgument, int(opts.Class))
	}

	d := &Display{
		id:      opts.ID,
		name:    opts.Name,
		class:   opts.Class,
		traits:  opts.Class.traits(),
		engine:  opts.Engine,
		fences:  opts.Fences,
		wb:      opts.Writeback,
		guard:   opts.Guard,
		journal: opts.Journal,
		logger:  opts.Logger,
		clock:   opts.Clock,
		stack:   layer.NewStack(),
		status:  StatusOnline,
		power:   platform.PowerOn,

		vsyncEnabled: opts.VsyncEnabled,
		idleTimeout:  opts.IdleTimeout,
	}
	if d.idleTimeout < 0 {
		return nil, fmt.Errorf("display %d: %w: negative idle timeout", opts.ID, hwerr.ErrInvalidArgument)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d.logger = d.logger.With("display", d.id)
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.name == "" {
		d.name = fmt.Sprintf("display-%d", d.id)
	}
	d.lastUpdate = d.clock()

	configs, active, err := d.engine.Configs(ctx)
	if err != nil {
		return nil, fmt.Errorf("display %d configs: %w", d.id, err)
	}
	ropts := opts.Refresh
	if ropts.Clock == nil {
		ropts.Clock = d.clock
	}
	if ropts.Logger == nil {
		ropts.Logger = d.logger
	}
	d.refresh, err = refresh.NewController(configs, active, d.engine, ropts)
	if err != nil {
		return nil, fmt.Errorf("display %d: %w", d.id, err)
	}
	d.frame = frame.New(d.engine, d.stack, d.fences, frame.Options{
		Display: d.id,
		Gate:    commitGate{d},
		Logger:  d.logger,
	})
	return d, nil
}

// commitGate runs with the display lock held.
type commitGate struct{ d *Display }

func (g commitGate) CommitReady() error {
	if g.d.pendingPower != nil {
		return fmt.Errorf("display %d: power change to %s pending: %w", g.d.id, *g.d.pendingPower, hwerr.ErrNotReady)
	}
	if g.d.guard.TUIExiting() {
		return fmt.Errorf("display %d: trusted UI tearing down: %w", g.d.id, hwerr.ErrNotReady)
	}
	return nil
}

// ID returns the display id.
func (d *Display) ID() int { return d.id }

// Name returns the display name.
func (d *Display) Name() string { return d.name }

// Class returns the display class.
func (d *Display) Class() Class { return d.class }

func (d *Display) lostError() error {
	d.lostMu.Lock()
	defer d.lostMu.Unlock()
	return d.lost
}

// checkTerminal records err as the display's terminal error when it is one.
func (d *Display) checkTerminal(err error) error {
	if err == nil || !errors.Is(err, hwerr.ErrTerminal) {
		return err
	}
	d.lostMu.Lock()
	first := d.lost == nil
	if first {
		d.lost = err
	}
	lost := d.lost
	d.lostMu.Unlock()
	if first {
		d.logger.Error("display lost", "error", err)
		d.journal.Record(journal.EventDisplayLost, d.id, map[string]interface{}{"error": err.Error()})
	}
	return lost
}

// Lost returns the terminal error, or nil while the display is usable.
func (d *Display) Lost() error {
	return d.lostError()
}

// Layer operations.

// CreateLayer adds a layer and returns its id.
func (d *Display) CreateLayer() (layer.ID, error) {
	if err := d.lostError(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUpdate = d.clock()
	return d.stack.Create(), nil
}

// DestroyLayer removes a layer.
func (d *Display) DestroyLayer(id layer.ID) error {
	return d.withStack(func(s *layer.Stack) error { return s.Destroy(id) })
}

// SetLayerBuffer attaches a buffer with its acquire fence.
func (d *Display) SetLayerBuffer(id layer.ID, buffer uint64, acquire fence.ID) error {
	return d.withStack(func(s *layer.Stack) error { return s.SetBuffer(id, buffer, acquire) })
}

// SetLayerZ changes the stacking order key.
func (d *Display) SetLayerZ(id layer.ID, z int32) error {
	return d.withStack(func(s *layer.Stack) error { return s.SetZ(id, z) })
}

// SetLayerFrame sets the destination rectangle.
func (d *Display) SetLayerFrame(id layer.ID, r layer.Rect) error {
	return d.withStack(func(s *layer.Stack) error { return s.SetFrame(id, r) })
}

// SetLayerDamage replaces the damage region.
func (d *Display) SetLayerDamage(id layer.ID, damage []layer.Rect) error {
	return d.withStack(func(s *layer.Stack) error { return s.SetDamage(id, damage) })
}

// SetLayerComposition sets the requested composition.
func (d *Display) SetLayerComposition(id layer.ID, c layer.Composition) error {
	return d.withStack(func(s *layer.Stack) error { return s.SetComposition(id, c) })
}

// SetLayerSingleBuffered marks a front-buffer rendered layer.
func (d *Display) SetLayerSingleBuffered(id layer.ID, single bool) error {
	return d.withStack(func(s *layer.Stack) error { return s.SetSingleBuffered(id, single) })
}

// SetClientTarget replaces the client target buffer.
func (d *Display) SetClientTarget(buffer uint64, acquire fence.ID, damage []layer.Rect) error {
	return d.withStack(func(s *layer.Stack) error {
		s.SetClientTarget(buffer, acquire, damage)
		return nil
	})
}

// Layer returns a copy of a layer.
func (d *Display) Layer(id layer.ID) (layer.Layer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stack.Get(id)
}

func (d *Display) withStack(fn func(*layer.Stack) error) error {
	if err := d.lostError(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := fn(d.stack); err != nil {
		return err
	}
	d.lastUpdate = d.clock()
	return nil
}

// Frame cycle.

// BeginFrame is the safe point at the top of every frame. In order it
// applies a pending power mode, settles secure-session transitions,
// arbitrates writeback and submits a due config change.
func (d *Display) BeginFrame(ctx context.Context) error {
	if err := d.lostError(); err != nil {
		return err
	}
	vsync := d.engine.LastVsync(d.clock())
	d.refresh.OnVsync(vsync)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.vsyncEnabled && vsync.After(d.lastVsync) {
		d.vsyncEvents++
		d.lastVsync = vsync
	}

	if err := d.applyPowerLocked(ctx); err != nil {
		return d.checkTerminal(err)
	}

	wbStatus := writeback.StatusAvailable
	if d.wb != nil {
		wbStatus = d.wb.Status()
	}
	phase := d.guard.Settle(wbStatus)
	if d.wb != nil {
		// A capture configured after the status read above slipped past
		// Settle; it must not run alongside trusted UI.
		if phase != secure.PhaseInactive && d.wb.Status() == writeback.StatusConfigured {
			d.wb.ForceTeardown("trusted UI " + phase.String())
		}
		d.wb.Arbitrate()
	}

	if d.pendingFirstConfig != nil && d.frame.FirstCommitDone() {
		id := *d.pendingFirstConfig
		d.pendingFirstConfig = nil
		if err := d.refresh.SetActiveConfigNow(ctx, id); err != nil {
			d.journal.Record(journal.EventConfigFailed, d.id, map[string]interface{}{"to": id, "error": err.Error()})
			return d.checkTerminal(err)
		}
		d.stack.MarkGeometryChanged()
		d.journal.Record(journal.EventConfigApplied, d.id, map[string]interface{}{"to": id, "first_commit": true})
	}

	if d.traits.configSwitch {
		before := d.refresh.Active().ID
		applied, err := d.refresh.SubmitActiveConfigChange(ctx)
		if err != nil {
			d.logger.Warn("config switch failed", "error", err)
			d.journal.Record(journal.EventConfigFailed, d.id, map[string]interface{}{"error": err.Error()})
			if terr := d.checkTerminal(err); errors.Is(terr, hwerr.ErrTerminal) {
				return terr
			}
		}
		if applied {
			d.stack.MarkGeometryChanged()
			d.journal.Record(journal.EventConfigApplied, d.id, map[string]interface{}{
				"from": before,
				"to":   d.refresh.Active().ID,
			})
		}
	}
	return nil
}

func (d *Display) applyPowerLocked(ctx context.Context) error {
	if d.pendingPower == nil {
		return nil
	}
	if d.guard.TUIExiting() {
		return nil
	}
	mode := *d.pendingPower
	if err := d.engine.SetPowerMode(ctx, mode); err != nil {
		d.logger.Warn("power mode change failed", "mode", mode, "error", err)
		return fmt.Errorf("display %d power %s: %w", d.id, mode, err)
	}
	from := d.power
	d.power = mode
	d.pendingPower = nil
	d.lastUpdate = d.clock()
	d.stack.MarkGeometryChanged()
	d.logger.Info("power mode applied", "from", from, "to", mode)
	d.journal.Record(journal.EventPower, d.id, map[string]interface{}{"from": from.String(), "to": mode.String()})
	return nil
}

func (d *Display) scanningOutLocked() bool {
	return d.traits.scanout && d.status == StatusOnline && d.power != platform.PowerOff
}

// Prepare runs the decision pass and has the engine check it.
func (d *Display) Prepare(ctx context.Context) (frame.PrepareResult, error) {
	if err := d.lostError(); err != nil {
		return frame.PrepareResult{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.frame.Prepare(ctx)
	if err != nil {
		return res, d.checkTerminal(err)
	}
	d.prepareSkipped = res.Skipped
	if res.Flushed {
		d.journal.Record(journal.EventFlush, d.id, map[string]interface{}{"stage": "prepare"})
	}
	return res, nil
}

// Commit presents the prepared frame, attaching the writeback capture when
// this display owns one. It returns an error wrapping hwerr.ErrNotReady
// while a power change or trusted-UI teardown is in progress.
func (d *Display) Commit(ctx context.Context) (CommitResult, error) {
	if err := d.lostError(); err != nil {
		return CommitResult{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.scanningOutLocked() || d.idleSkipLocked() {
		d.commitSkipped = true
		return CommitResult{Retire: fence.NoFence, Readback: fence.NoFence, Skipped: true}, nil
	}

	var capture *platform.CaptureRequest
	if d.wb != nil && d.traits.writeback {
		if s, ok := d.wb.Capture(d.id); ok {
			capture = &platform.CaptureRequest{
				Buffer:       s.Buffer,
				AcquireFence: s.AcquireFence,
				TapPoint:     string(s.Config.TapPoint),
				ROI:          s.Config.ROI,
			}
		}
	}

	res, err := d.frame.Commit(ctx, capture)
	if err != nil {
		return CommitResult{}, d.checkTerminal(err)
	}
	d.commitSkipped = false
	if d.wb != nil {
		d.wb.OnFrameCommitted(d.id, res.Retire, res.Readback)
	}
	if res.Flushed {
		d.journal.Record(journal.EventFlush, d.id, map[string]interface{}{"stage": "commit"})
	}
	return CommitResult{Retire: res.Retire, Readback: res.Readback, Flushed: res.Flushed}, nil
}

// idleSkipLocked reports whether an idle display can leave the screen as
// it is: nothing changed since the last commit and no capture on this
// display is waiting for frames.
func (d *Display) idleSkipLocked() bool {
	if !d.prepareSkipped || !d.frame.FirstCommitDone() || !d.idleLocked(d.clock()) {
		return false
	}
	if d.wb != nil {
		if s := d.wb.Snapshot(); s.Display == d.id && s.Status != writeback.StatusAvailable {
			return false
		}
	}
	d.idleSkips++
	return true
}

func (d *Display) idleLocked(now time.Time) bool {
	return d.idleTimeout > 0 && now.Sub(d.lastUpdate) >= d.idleTimeout
}

// Retire hands the commit's retire fence to the layers that were composed.
func (d *Display) Retire() (fence.ID, error) {
	if err := d.lostError(); err != nil {
		return fence.NoFence, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.commitSkipped {
		d.commitSkipped = false
		return fence.NoFence, nil
	}
	id, err := d.frame.Retire()
	if err != nil {
		return id, d.checkTerminal(err)
	}
	return id, nil
}

// ReleaseFences returns per-layer release fences from the last retire.
func (d *Display) ReleaseFences() map[layer.ID]fence.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame.ReleaseFences()
}

// Configs.

// RequestActiveConfig asks for a switch to id and returns the estimated
// timeline. The switch is submitted by BeginFrame once its refresh time
// arrives.
func (d *Display) RequestActiveConfig(id platform.ConfigID, cons refresh.Constraints) (refresh.Timeline, error) {
	if err := d.lostError(); err != nil {
		return refresh.Timeline{}, err
	}
	if !d.traits.configSwitch {
		return refresh.Timeline{}, fmt.Errorf("request config on %s display: %w", d.class, ErrUnsupported)
	}
	period := d.refresh.VsyncPeriod(d.clock())
	tl, err := d.refresh.RequestActiveConfigChange(id, period, cons)
	if err != nil {
		return tl, err
	}
	d.journal.Record(journal.EventConfigRequest, d.id, map[string]interface{}{
		"to":       id,
		"seamless": tl.Seamless,
		"refresh":  tl.RefreshTime.Format(time.RFC3339Nano),
		"apply":    tl.ApplyTime.Format(time.RFC3339Nano),
	})
	return tl, nil
}

// SetActiveConfig switches as soon as possible. Before the first frame has
// reached the screen the id is remembered and applied right after it.
func (d *Display) SetActiveConfig(id platform.ConfigID) error {
	if err := d.lostError(); err != nil {
		return err
	}
	if _, err := d.refresh.Config(id); err != nil {
		return err
	}

	d.mu.Lock()
	if !d.frame.FirstCommitDone() {
		d.pendingFirstConfig = &id
		d.mu.Unlock()
		d.logger.Debug("config deferred until first commit", "config", id)
		return nil
	}
	d.mu.Unlock()

	_, err := d.RequestActiveConfig(id, refresh.Constraints{})
	return err
}

// VsyncPeriod returns the period clients should assume right now.
func (d *Display) VsyncPeriod() time.Duration {
	return d.refresh.VsyncPeriod(d.clock())
}

// ActiveConfig returns the active config.
func (d *Display) ActiveConfig() platform.DisplayConfig {
	return d.refresh.Active()
}

// Configs returns every config the display offers.
func (d *Display) Configs() []platform.DisplayConfig {
	return d.refresh.Configs()
}

// ConfigForRate returns the config at the active resolution closest to hz.
func (d *Display) ConfigForRate(hz float64) (platform.DisplayConfig, error) {
	return d.refresh.ConfigForRate(hz)
}

// SupportedRefreshRates lists refresh rates within the configured bounds.
func (d *Display) SupportedRefreshRates() []float64 {
	return d.refresh.SupportedRefreshRates()
}

// UpdateConfigs re-reads the engine's config list, e.g. after a hotplug.
// It reports whether the list changed.
func (d *Display) UpdateConfigs(ctx context.Context) (bool, error) {
	if err := d.lostError(); err != nil {
		return false, err
	}
	configs, active, err := d.engine.Configs(ctx)
	if err != nil {
		return false, d.checkTerminal(fmt.Errorf("display %d configs: %w", d.id, err))
	}
	if sameConfigs(d.refresh.Configs(), configs) {
		return false, nil
	}
	if err := d.refresh.UpdateConfigs(configs, active); err != nil {
		return false, err
	}
	d.journal.Record(journal.EventConfigsChanged, d.id, map[string]interface{}{
		"count":  len(configs),
		"active": active,
	})
	return true, nil
}

func sameConfigs(have, got []platform.DisplayConfig) bool {
	if len(have) != len(got) {
		return false
	}
	byID := make(map[platform.ConfigID]platform.DisplayConfig, len(have))
	for _, c := range have {
		byID[c.ID] = c
	}
	for _, c := range got {
		if byID[c.ID] != c {
			return false
		}
	}
	return true
}

// Writeback.

// ConfigureCapture asks for this display's output to be written into
// req.Buffer.
func (d *Display) ConfigureCapture(req writeback.Request) (uuid.UUID, error) {
	if err := d.lostError(); err != nil {
		return uuid.Nil, err
	}
	if d.wb == nil || !d.traits.writeback || !d.engine.Capabilities().Writeback {
		return uuid.Nil, fmt.Errorf("capture on %s display: %w", d.class, ErrUnsupported)
	}
	req.Display = d.id
	id, err := d.wb.Configure(req)
	if err != nil {
		d.journal.Record(journal.EventCaptureReject, d.id, map[string]interface{}{
			"client": req.Client.String(),
			"kind":   hwerr.Kind(err),
		})
		return uuid.Nil, err
	}
	return id, nil
}

// TeardownCapture ends client's capture.
func (d *Display) TeardownCapture(client writeback.Client) error {
	if d.wb == nil {
		return fmt.Errorf("teardown capture: %w", ErrUnsupported)
	}
	return d.wb.Teardown(client)
}

// ReadbackFence returns the output fence of client's latest captured frame.
func (d *Display) ReadbackFence(client writeback.Client) (fence.ID, error) {
	if d.wb == nil {
		return fence.NoFence, fmt.Errorf("readback fence: %w", ErrUnsupported)
	}
	return d.wb.ReadbackFence(client)
}

// Secure sessions and power.

// NotifySecureEvent forwards a protected-content event to the guard. When
// the guard asks for a refresh the next prepare revalidates every layer.
func (d *Display) NotifySecureEvent(kind secure.Kind, entering bool) (bool, error) {
	if err := d.lostError(); err != nil {
		return false, err
	}
	force, err := d.guard.HandleSecureEvent(kind, entering)
	if err != nil {
		return false, err
	}
	d.journal.Record(journal.EventSecure, d.id, map[string]interface{}{
		"kind":     kind.String(),
		"entering": entering,
		"refresh":  force,
	})
	if force {
		d.ForceRefresh()
	}
	return force, nil
}

// ForceRefresh makes the next prepare revalidate every layer. Used when a
// secure event on another display changes what may be composed here.
func (d *Display) ForceRefresh() {
	d.mu.Lock()
	d.lastUpdate = d.clock()
	d.stack.MarkGeometryChanged()
	d.mu.Unlock()
}

// SetVsyncEnabled turns vsync reporting on or off.
func (d *Display) SetVsyncEnabled(enabled bool) error {
	if err := d.lostError(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vsyncEnabled == enabled {
		return nil
	}
	d.vsyncEnabled = enabled
	d.logger.Debug("vsync reporting", "enabled", enabled)
	d.journal.Record(journal.EventVsync, d.id, map[string]interface{}{"enabled": enabled})
	return nil
}

// SetIdleTimeout changes the idle timeout; zero disables idle detection.
func (d *Display) SetIdleTimeout(timeout time.Duration) error {
	if err := d.lostError(); err != nil {
		return err
	}
	if timeout < 0 {
		return fmt.Errorf("%w: idle timeout %s", hwerr.ErrInvalidArgument, timeout)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idleTimeout = timeout
	return nil
}

// IsIdle reports whether the display has gone the idle timeout without a
// client update.
func (d *Display) IsIdle() bool {
	now := d.clock()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idleLocked(now)
}

// SetPowerMode queues a power mode change for the next safe point.
func (d *Display) SetPowerMode(mode platform.PowerMode) error {
	if err := d.lostError(); err != nil {
		return err
	}
	if mode < platform.PowerOff || mode > platform.PowerOn {
		return fmt.Errorf("%w: power mode %d", hwerr.ErrInvalidArgument, int(mode))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if mode == d.power {
		d.pendingPower = nil
		return nil
	}
	d.pendingPower = &mode
	d.logger.Debug("power mode pending", "mode", mode)
	return nil
}

// SetStatus takes the display online, offline or pauses it.
func (d *Display) SetStatus(s Status) error {
	if err := d.lostError(); err != nil {
		return err
	}
	if s < StatusOnline || s > StatusPaused {
		return fmt.Errorf("%w: display status %d", hwerr.ErrInvalidArgument, int(s))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == s {
		return nil
	}
	from := d.status
	d.status = s
	if s == StatusOnline {
		d.lastUpdate = d.clock()
		d.stack.MarkGeometryChanged()
	}
	d.journal.Record(journal.EventDisplayStatus, d.id, map[string]interface{}{"from": from.String(), "to": s.String()})
	return nil
}

// Snapshot is the display state for status output.
type Snapshot struct {
	ID           int                    `json:"id"`
	Name         string                 `json:"name"`
	Class        Class                  `json:"class"`
	Status       Status                 `json:"status"`
	Power        string                 `json:"power"`
	PendingPower string                 `json:"pending_power,omitempty"`
	Layers       int                    `json:"layers"`
	Refresh      refresh.Snapshot       `json:"refresh"`
	Configs      int                    `json:"configs"`
	Frame        frame.Snapshot         `json:"frame"`
	Writeback    *writeback.Session     `json:"writeback,omitempty"`
	Secure       secure.Snapshot        `json:"secure"`
	Fences       fence.Stats            `json:"fences"`
	Vsync        VsyncSnapshot          `json:"vsync"`
	Idle         IdleSnapshot           `json:"idle"`
	Error        string                 `json:"error,omitempty"`
}

// VsyncSnapshot is the vsync reporting state.
type VsyncSnapshot struct {
	Enabled bool      `json:"enabled"`
	Events  uint64    `json:"events"`
	Last    time.Time `json:"last"`
}

// IdleSnapshot is the idle detection state.
type IdleSnapshot struct {
	Timeout time.Duration `json:"timeout"`
	Idle    bool          `json:"idle"`
	Skips   uint64        `json:"skips"`
}

// Snapshot returns the current state.
func (d *Display) Snapshot() Snapshot {
	now := d.clock()
	d.mu.Lock()
	s := Snapshot{
		ID:     d.id,
		Name:   d.name,
		Class:  d.class,
		Status: d.status,
		Power:  d.power.String(),
		Layers: d.stack.Len(),
		Frame:  d.frame.Snapshot(),
	}
	if d.pendingPower != nil {
		s.PendingPower = d.pendingPower.String()
	}
	s.Vsync = VsyncSnapshot{Enabled: d.vsyncEnabled, Events: d.vsyncEvents, Last: d.lastVsync}
	s.Idle = IdleSnapshot{Timeout: d.idleTimeout, Idle: d.idleLocked(now), Skips: d.idleSkips}
	d.mu.Unlock()

	s.Refresh = d.refresh.Snapshot(now)
	s.Configs = len(d.refresh.Configs())
	if d.wb != nil {
		if ws := d.wb.Snapshot(); ws.Status != writeback.StatusAvailable && ws.Display == d.id {
			s.Writeback = &ws
		}
	}
	s.Secure = d.guard.Snapshot()
	s.Fences = d.fences.Stats()
	if err := d.lostError(); err != nil {
		s.Error = err.Error()
	}
	return s
}
