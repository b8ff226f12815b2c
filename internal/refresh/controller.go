// Package refresh owns a display's active timing configuration and the
// protocol for switching it: timeline estimation, seamless eligibility,
// deferred submission on a vsync boundary and the transient period history
// clients consult while a switch is in flight.
package refresh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/platform"
)

var ErrInvalidConfig = fmt.Errorf("%w: unknown config", hwerr.ErrInvalidArgument)

// vsyncDrift is how early a vsync timestamp may be observed and still count
// as having reached a target time.
const vsyncDrift = time.Millisecond

const (
	DefaultVsyncsToApply     = 1
	DefaultModeSetLeadVsyncs = 1
	DefaultTransientCapacity = 8
)

// Applier programs the hardware with a new active config.
type Applier interface {
	SetActiveConfig(ctx context.Context, id platform.ConfigID) error
}

// Constraints accompany a config change request.
type Constraints struct {
	DesiredTime      time.Time // zero means as soon as possible
	SeamlessRequired bool
}

// Timeline is the estimate returned for an accepted request.
type Timeline struct {
	RefreshTime time.Time `json:"refresh_time"`
	ApplyTime   time.Time `json:"apply_time"`
	Seamless    bool      `json:"seamless"`
}

// Request is the pending transition.
type Request struct {
	Target        platform.ConfigID `json:"target"`
	Constraints   Constraints       `json:"-"`
	CurrentPeriod time.Duration     `json:"current_period"`
	Timeline      Timeline          `json:"timeline"`

	generation uint64
}

type transient struct {
	period time.Duration
	until  time.Time
}

type groupKey struct {
	width, height, group uint32
}

func keyOf(c platform.DisplayConfig) groupKey {
	return groupKey{c.Width, c.Height, c.Group}
}

// Options tune a Controller.
type Options struct {
	VsyncsToApply     int
	ModeSetLeadVsyncs int
	TransientCapacity int
	MinRefreshRate    float64
	MaxRefreshRate    float64
	Clock             func() time.Time
	Logger            *slog.Logger
}

// Controller is safe for concurrent use. Its lock is never held across
// calls into the Applier.
type Controller struct {
	applier Applier
	clock   func() time.Time
	logger  *slog.Logger

	vsyncsToApply int
	modeSetLead   int
	minRate       float64
	maxRate       float64

	mu          sync.Mutex
	configs     map[platform.ConfigID]platform.DisplayConfig
	active      platform.ConfigID
	pending     *Request
	generation  uint64
	vsyncAnchor time.Time
	lastRefresh map[groupKey]time.Time
	seamlessEnd time.Time
	transients  *ring[transient]
	submitted   uint64
}

// NewController creates a controller over configs with active selected.
func NewController(configs []platform.DisplayConfig, active platform.ConfigID, applier Applier, opts Options) (*Controller, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no display configs", hwerr.ErrInvalidArgument)
	}

	capacity := opts.TransientCapacity
	if capacity <= 0 {
		capacity = DefaultTransientCapacity
	}

	c := &Controller{
		applier:       applier,
		clock:         opts.Clock,
		logger:        opts.Logger,
		vsyncsToApply: opts.VsyncsToApply,
		modeSetLead:   opts.ModeSetLeadVsyncs,
		minRate:       opts.MinRefreshRate,
		maxRate:       opts.MaxRefreshRate,
		lastRefresh:   make(map[groupKey]time.Time),
		transients:    newRing[transient](capacity),
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.vsyncsToApply <= 0 {
		c.vsyncsToApply = DefaultVsyncsToApply
	}
	if c.modeSetLead < 0 {
		c.modeSetLead = 0
	}

	c.setConfigsLocked(configs)
	if _, ok := c.configs[active]; !ok {
		return nil, fmt.Errorf("active config %d: %w", active, ErrInvalidConfig)
	}
	c.active = active
	return c, nil
}

func (c *Controller) setConfigsLocked(configs []platform.DisplayConfig) {
	c.configs = make(map[platform.ConfigID]platform.DisplayConfig, len(configs))
	for _, cfg := range configs {
		c.configs[cfg.ID] = cfg
	}
}

// OnVsync records a hardware vsync timestamp; boundaries are computed on
// the grid it anchors.
func (c *Controller) OnVsync(ts time.Time) {
	c.mu.Lock()
	c.vsyncAnchor = ts
	c.mu.Unlock()
}

// nextBoundaryLocked returns the first vsync at or after t.
func (c *Controller) nextBoundaryLocked(t time.Time, period time.Duration) time.Time {
	anchor := c.vsyncAnchor
	if anchor.IsZero() || period <= 0 {
		return t
	}
	d := t.Sub(anchor)
	k := d / period
	if d > 0 && d%period != 0 {
		k++
	}
	return anchor.Add(k * period)
}

// allowSeamlessLocked is false across groups and while an earlier seamless
// switch has not reached its apply time.
func (c *Controller) allowSeamlessLocked(target platform.DisplayConfig, now time.Time) bool {
	active := c.configs[c.active]
	if !active.SameGroup(target) {
		return false
	}
	return !now.Before(c.seamlessEnd)
}

// AllowSeamless reports whether target can be reached without a mode set.
func (c *Controller) AllowSeamless(target platform.ConfigID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, ok := c.configs[target]
	if !ok {
		return false, fmt.Errorf("config %d: %w", target, ErrInvalidConfig)
	}
	return c.allowSeamlessLocked(cfg, c.clock()), nil
}

// RequestActiveConfigChange records target as the pending config and
// returns when it will be latched and when its period takes effect. A
// newer request replaces any pending one.
func (c *Controller) RequestActiveConfigChange(target platform.ConfigID, currentPeriod time.Duration, cons Constraints) (Timeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, ok := c.configs[target]
	if !ok {
		return Timeline{}, fmt.Errorf("request config %d: %w", target, ErrInvalidConfig)
	}

	now := c.clock()
	if target == c.active {
		if c.pending != nil {
			c.logger.Debug("pending config change cancelled", "target", c.pending.Target)
			c.pending = nil
		}
		at := now
		if last, ok := c.lastRefresh[keyOf(cfg)]; ok && at.Before(last) {
			at = last
		}
		return Timeline{RefreshTime: at, ApplyTime: at, Seamless: true}, nil
	}

	seamless := c.allowSeamlessLocked(cfg, now)
	if cons.SeamlessRequired && !seamless {
		return Timeline{}, fmt.Errorf("request config %d: %w", target, hwerr.ErrSeamlessNotAllowed)
	}

	period := currentPeriod
	if period <= 0 {
		period = c.configs[c.active].VsyncPeriod
	}
	n := c.vsyncsToApply
	if !seamless {
		n += c.modeSetLead
	}
	lead := time.Duration(n) * period

	desired := cons.DesiredTime
	if desired.IsZero() {
		desired = now
	}
	earliest := desired.Add(-lead)
	if earliest.Before(now) {
		earliest = now
	}

	refresh := c.nextBoundaryLocked(earliest, period)
	key := keyOf(cfg)
	if last, ok := c.lastRefresh[key]; ok && refresh.Before(last) {
		refresh = last
	}
	c.lastRefresh[key] = refresh

	tl := Timeline{
		RefreshTime: refresh,
		ApplyTime:   refresh.Add(lead),
		Seamless:    seamless,
	}

	c.generation++
	if c.pending != nil {
		c.logger.Debug("pending config change superseded", "old", c.pending.Target, "new", target)
	}
	c.pending = &Request{
		Target:        target,
		Constraints:   cons,
		CurrentPeriod: period,
		Timeline:      tl,
		generation:    c.generation,
	}
	return tl, nil
}

// IsReadyToSubmit reports whether the pending request's refresh time has
// been reached.
func (c *Controller) IsReadyToSubmit(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyLocked(now)
}

func (c *Controller) readyLocked(now time.Time) bool {
	if c.pending == nil {
		return false
	}
	return !now.Add(vsyncDrift).Before(c.pending.Timeline.RefreshTime)
}

// SubmitActiveConfigChange programs the pending config once its refresh
// time has arrived. It reports whether a switch was applied. A request
// that arrives while the hardware is being programmed stays pending.
func (c *Controller) SubmitActiveConfigChange(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.readyLocked(c.clock()) {
		c.mu.Unlock()
		return false, nil
	}
	req := *c.pending
	c.mu.Unlock()

	var err error
	if c.applier != nil {
		err = c.applier.SetActiveConfig(ctx, req.Target)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if c.pending != nil && c.pending.generation == req.generation {
			c.pending = nil
		}
		return false, fmt.Errorf("apply config %d: %w", req.Target, err)
	}

	old := c.configs[c.active]
	c.active = req.Target
	if c.pending != nil && c.pending.generation == req.generation {
		c.pending = nil
	}
	c.transients.Push(transient{period: old.VsyncPeriod, until: req.Timeline.ApplyTime})
	if req.Timeline.Seamless {
		c.seamlessEnd = req.Timeline.ApplyTime
	}
	c.vsyncAnchor = req.Timeline.ApplyTime
	c.submitted++

	c.logger.Info("active config applied",
		"from", old.ID,
		"to", req.Target,
		"seamless", req.Timeline.Seamless,
		"apply_time", req.Timeline.ApplyTime)
	return true, nil
}

// SetActiveConfigNow switches immediately, dropping any pending request.
// Used before the first frame reaches the screen, when there is nothing to
// tear.
func (c *Controller) SetActiveConfigNow(ctx context.Context, id platform.ConfigID) error {
	c.mu.Lock()
	if _, ok := c.configs[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("set config %d: %w", id, ErrInvalidConfig)
	}
	c.mu.Unlock()

	if c.applier != nil {
		if err := c.applier.SetActiveConfig(ctx, id); err != nil {
			return fmt.Errorf("apply config %d: %w", id, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = id
	c.pending = nil
	c.vsyncAnchor = time.Time{}
	return nil
}

// VsyncPeriod returns the period clients should assume at now: the
// pre-switch period until a submitted switch's apply time, the active
// config's period afterwards.
func (c *Controller) VsyncPeriod(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		t, ok := c.transients.Front()
		if !ok || now.Before(t.until) {
			break
		}
		c.transients.PopFront()
	}
	if t, ok := c.transients.Front(); ok {
		return t.period
	}
	return c.configs[c.active].VsyncPeriod
}

// Active returns the active config.
func (c *Controller) Active() platform.DisplayConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configs[c.active]
}

// Pending returns a copy of the pending request, if any.
func (c *Controller) Pending() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Request{}, false
	}
	return *c.pending, true
}

// Configs returns all configs sorted by id.
func (c *Controller) Configs() []platform.DisplayConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]platform.DisplayConfig, 0, len(c.configs))
	for _, cfg := range c.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Config looks up one config.
func (c *Controller) Config(id platform.ConfigID) (platform.DisplayConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.configs[id]
	if !ok {
		return platform.DisplayConfig{}, fmt.Errorf("config %d: %w", id, ErrInvalidConfig)
	}
	return cfg, nil
}

// UpdateConfigs replaces the config table after a hotplug or mode list
// change. A pending request for a config that vanished is dropped.
func (c *Controller) UpdateConfigs(configs []platform.DisplayConfig, active platform.ConfigID) error {
	if len(configs) == 0 {
		return fmt.Errorf("%w: no display configs", hwerr.ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for _, cfg := range configs {
		if cfg.ID == active {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("active config %d: %w", active, ErrInvalidConfig)
	}

	c.setConfigsLocked(configs)
	c.active = active
	if c.pending != nil {
		if _, ok := c.configs[c.pending.Target]; !ok {
			c.logger.Info("pending config dropped after config update", "target", c.pending.Target)
			c.pending = nil
		}
	}
	return nil
}

// SanitizeRefreshRate clamps hz into the configured range. Zero bounds
// are open.
func (c *Controller) SanitizeRefreshRate(hz float64) float64 {
	if c.minRate > 0 && hz < c.minRate {
		return c.minRate
	}
	if c.maxRate > 0 && hz > c.maxRate {
		return c.maxRate
	}
	return hz
}

// SupportedRefreshRates lists the distinct refresh rates reachable at the
// active resolution, ascending, after clamping.
func (c *Controller) SupportedRefreshRates() []float64 {
	c.mu.Lock()
	active := c.configs[c.active]
	var rates []float64
	seen := make(map[int]bool)
	for _, cfg := range c.configs {
		if cfg.Width != active.Width || cfg.Height != active.Height {
			continue
		}
		r := cfg.RefreshRate()
		key := int(r*100 + 0.5)
		if seen[key] {
			continue
		}
		seen[key] = true
		rates = append(rates, r)
	}
	c.mu.Unlock()

	sort.Float64s(rates)
	out := rates[:0]
	for _, r := range rates {
		if c.inRange(r) {
			out = append(out, r)
		}
	}
	return out
}

// rateTolerance absorbs the rounding in periods derived from mode timings.
const rateTolerance = 0.05

func (c *Controller) inRange(hz float64) bool {
	if c.minRate > 0 && hz < c.minRate-rateTolerance {
		return false
	}
	if c.maxRate > 0 && hz > c.maxRate+rateTolerance {
		return false
	}
	return true
}

// ConfigForRate returns the config at the active resolution whose refresh
// rate is closest to hz after sanitising.
func (c *Controller) ConfigForRate(hz float64) (platform.DisplayConfig, error) {
	hz = c.SanitizeRefreshRate(hz)

	c.mu.Lock()
	defer c.mu.Unlock()
	active := c.configs[c.active]

	var best platform.DisplayConfig
	bestDiff := -1.0
	for _, cfg := range c.configs {
		if cfg.Width != active.Width || cfg.Height != active.Height {
			continue
		}
		diff := cfg.RefreshRate() - hz
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff || (diff == bestDiff && cfg.ID < best.ID) {
			best, bestDiff = cfg, diff
		}
	}
	if bestDiff < 0 {
		return platform.DisplayConfig{}, fmt.Errorf("rate %.2f: %w", hz, ErrInvalidConfig)
	}
	return best, nil
}

// Snapshot is a consistent view for status output.
type Snapshot struct {
	Active      platform.DisplayConfig `json:"active"`
	Pending     *Request               `json:"pending,omitempty"`
	VsyncPeriod time.Duration          `json:"vsync_period"`
	Transients  int                    `json:"transients"`
	Submitted   uint64                 `json:"submitted"`
}

// Snapshot returns the controller state at now.
func (c *Controller) Snapshot(now time.Time) Snapshot {
	period := c.VsyncPeriod(now)

	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Active:      c.configs[c.active],
		VsyncPeriod: period,
		Transients:  c.transients.Len(),
		Submitted:   c.submitted,
	}
	if c.pending != nil {
		p := *c.pending
		s.Pending = &p
	}
	return s
}
