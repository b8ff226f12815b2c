package display

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/layer"
	"github.com/1broseidon/vsyncd/internal/platform"
	"github.com/1broseidon/vsyncd/internal/refresh"
	"github.com/1broseidon/vsyncd/internal/secure"
	"github.com/1broseidon/vsyncd/internal/writeback"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type harness struct {
	display *Display
	engine  *platform.SimEngine
	fences  *fence.Registry
	wb      *writeback.Arbiter
	guard   *secure.Guard
	clock   *fakeClock
}

func newHarness(t *testing.T, class Class) *harness {
	t.Helper()
	return newHarnessWithChecker(t, class, nil)
}

// newHarnessWithChecker lets a test stand between the arbiter and the
// guard; wrap receives the guard and returns the arbiter's checker.
func newHarnessWithChecker(t *testing.T, class Class, wrap func(*secure.Guard) writeback.SecureChecker) *harness {
	t.Helper()
	clk := &fakeClock{t: time.Unix(5000, 0)}
	reg := fence.NewRegistry()
	engine, err := platform.NewSimEngine(reg, platform.SimOptions{
		Configs: []platform.DisplayConfig{
			{ID: 0, Width: 1080, Height: 2400, VsyncPeriod: platform.PeriodForRate(60), Group: 1},
			{ID: 1, Width: 1080, Height: 2400, VsyncPeriod: platform.PeriodForRate(90), Group: 1},
		},
		Writeback: true,
		Clock:     clk.Now,
	})
	if err != nil {
		t.Fatalf("NewSimEngine: %v", err)
	}
	guard := secure.NewGuard(nil)
	var checker writeback.SecureChecker = guard
	if wrap != nil {
		checker = wrap(guard)
	}
	wb := writeback.NewArbiter(reg, checker)
	d, err := New(context.Background(), Options{
		ID:        0,
		Class:     class,
		Engine:    engine,
		Fences:    reg,
		Writeback: wb,
		Guard:     guard,
		Clock:     clk.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{display: d, engine: engine, fences: reg, wb: wb, guard: guard, clock: clk}
}

func (h *harness) addLayer(t *testing.T, z int32, buffer uint64) layer.ID {
	t.Helper()
	id, err := h.display.CreateLayer()
	if err != nil {
		t.Fatalf("CreateLayer: %v", err)
	}
	if err := h.display.SetLayerZ(id, z); err != nil {
		t.Fatalf("SetLayerZ: %v", err)
	}
	if err := h.display.SetLayerBuffer(id, buffer, fence.NoFence); err != nil {
		t.Fatalf("SetLayerBuffer: %v", err)
	}
	return id
}

// cycle runs one full frame and returns the commit result.
func (h *harness) cycle(t *testing.T) CommitResult {
	t.Helper()
	ctx := context.Background()
	if err := h.display.BeginFrame(ctx); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if _, err := h.display.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	res, err := h.display.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := h.display.Retire(); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	return res
}

func TestFrameCycle(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	a := h.addLayer(t, 0, 10)
	b := h.addLayer(t, 1, 11)

	res := h.cycle(t)
	if res.Retire == fence.NoFence || res.Skipped || res.Flushed {
		t.Fatalf("Commit = %+v", res)
	}
	rel := h.display.ReleaseFences()
	if rel[a] != res.Retire || rel[b] != res.Retire {
		t.Fatalf("release fences = %v, want %d for both", rel, res.Retire)
	}
	if got := len(h.engine.Stats().LastFrame.Layers); got != 2 {
		t.Fatalf("engine saw %d layers", got)
	}
	if !h.display.Snapshot().Frame.FirstCommitDone {
		t.Fatal("first commit not recorded")
	}
}

func TestConfigSwitchTimeline(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	ctx := context.Background()
	t0 := h.clock.Now()
	p60 := platform.PeriodForRate(60)
	p90 := platform.PeriodForRate(90)

	if err := h.display.BeginFrame(ctx); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	tl, err := h.display.RequestActiveConfig(1, refresh.Constraints{})
	if err != nil {
		t.Fatalf("RequestActiveConfig: %v", err)
	}
	if !tl.RefreshTime.Equal(t0) || !tl.ApplyTime.Equal(t0.Add(p60)) || !tl.Seamless {
		t.Fatalf("timeline = %+v", tl)
	}

	if err := h.display.BeginFrame(ctx); err != nil {
		t.Fatalf("BeginFrame at refresh time: %v", err)
	}
	if got := h.engine.Stats().ConfigLog; len(got) != 1 || got[0] != 1 {
		t.Fatalf("engine config log = %v", got)
	}

	h.clock.Set(tl.RefreshTime.Add(time.Millisecond))
	if got := h.display.VsyncPeriod(); got != p60 {
		t.Fatalf("VsyncPeriod inside switch window = %v, want %v", got, p60)
	}
	h.clock.Set(tl.ApplyTime.Add(time.Millisecond))
	if got := h.display.VsyncPeriod(); got != p90 {
		t.Fatalf("VsyncPeriod after apply = %v, want %v", got, p90)
	}
	if h.display.ActiveConfig().ID != 1 {
		t.Fatalf("active config = %d", h.display.ActiveConfig().ID)
	}

	if _, err := h.display.RequestActiveConfig(7, refresh.Constraints{}); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Fatalf("unknown config error = %v", err)
	}
}

func TestSetActiveConfigBeforeFirstCommit(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	h.addLayer(t, 0, 1)

	if err := h.display.SetActiveConfig(1); err != nil {
		t.Fatalf("SetActiveConfig: %v", err)
	}
	h.cycle(t)
	if n := len(h.engine.Stats().ConfigLog); n != 0 {
		t.Fatalf("config applied before first commit retired: %d", n)
	}
	h.cycle(t)
	if got := h.engine.Stats().ConfigLog; len(got) != 1 || got[0] != 1 {
		t.Fatalf("config log = %v, want [1]", got)
	}
	if h.display.ActiveConfig().ID != 1 {
		t.Fatalf("active config = %d", h.display.ActiveConfig().ID)
	}
}

func TestPowerModeAppliedAtSafePoint(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	h.addLayer(t, 0, 1)
	ctx := context.Background()
	h.cycle(t)

	if _, err := h.display.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := h.display.SetPowerMode(platform.PowerOff); err != nil {
		t.Fatalf("SetPowerMode: %v", err)
	}
	if _, err := h.display.Commit(ctx); !errors.Is(err, hwerr.ErrNotReady) {
		t.Fatalf("Commit with pending power error = %v, want not ready", err)
	}
	if got := h.engine.Stats().PowerLog; len(got) != 0 {
		t.Fatalf("power applied mid-frame: %v", got)
	}

	if err := h.display.BeginFrame(ctx); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	res, err := h.display.Commit(ctx)
	if err != nil || !res.Skipped {
		t.Fatalf("Commit while off = %+v, %v; want skipped", res, err)
	}
	if id, err := h.display.Retire(); err != nil || id != fence.NoFence {
		t.Fatalf("Retire after skipped commit = %d, %v", id, err)
	}

	if err := h.display.SetPowerMode(platform.PowerOn); err != nil {
		t.Fatalf("SetPowerMode(on): %v", err)
	}
	if res := h.cycle(t); res.Skipped {
		t.Fatal("commit still skipped after power on")
	}
	if got := h.engine.Stats().PowerLog; len(got) != 2 || got[0] != platform.PowerOff || got[1] != platform.PowerOn {
		t.Fatalf("power log = %v", got)
	}
}

func TestPausedDisplaySkipsCommit(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	h.addLayer(t, 0, 1)
	if err := h.display.SetStatus(StatusPaused); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if res := h.cycle(t); !res.Skipped {
		t.Fatal("paused display committed")
	}
	if h.engine.Stats().Commits != 0 {
		t.Fatal("engine saw a commit while paused")
	}
	_ = h.display.SetStatus(StatusOnline)
	if res := h.cycle(t); res.Skipped {
		t.Fatal("resumed display still skipping")
	}
}

func TestCaptureLifecycle(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	h.addLayer(t, 0, 1)

	if _, err := h.display.ConfigureCapture(writeback.Request{Client: writeback.ClientExternal, Buffer: 77}); err != nil {
		t.Fatalf("ConfigureCapture: %v", err)
	}
	res := h.cycle(t)
	if res.Readback == fence.NoFence {
		t.Fatal("captured frame has no readback fence")
	}
	if c := h.engine.Stats().LastFrame.Capture; c == nil || c.Buffer != 77 {
		t.Fatalf("engine capture = %+v", c)
	}
	if rb, err := h.display.ReadbackFence(writeback.ClientExternal); err != nil || rb != res.Readback {
		t.Fatalf("ReadbackFence = %d, %v", rb, err)
	}

	if err := h.display.TeardownCapture(writeback.ClientExternal); err != nil {
		t.Fatalf("TeardownCapture: %v", err)
	}
	h.cycle(t)
	if h.wb.Status() != writeback.StatusPostTeardown {
		t.Fatalf("status = %v, want post_teardown", h.wb.Status())
	}
	if h.engine.Stats().LastFrame.Capture != nil {
		t.Fatal("capture attached after teardown")
	}
	if _, err := h.display.ConfigureCapture(writeback.Request{Client: writeback.ClientColor, Buffer: 78}); !errors.Is(err, hwerr.ErrResourceBusy) {
		t.Fatalf("ConfigureCapture before drain error = %v", err)
	}

	for i := 0; i < 3 && h.wb.Status() != writeback.StatusAvailable; i++ {
		h.cycle(t)
	}
	if h.wb.Status() != writeback.StatusAvailable {
		t.Fatalf("status = %v, want available after the teardown frame retired", h.wb.Status())
	}
}

func TestClassTraits(t *testing.T) {
	pluggable := newHarness(t, ClassPluggable)
	if _, err := pluggable.display.ConfigureCapture(writeback.Request{Client: writeback.ClientExternal, Buffer: 1}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("capture on pluggable error = %v", err)
	}

	virtual := newHarness(t, ClassVirtual)
	if _, err := virtual.display.RequestActiveConfig(1, refresh.Constraints{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("config switch on virtual error = %v", err)
	}

	null := newHarness(t, ClassNull)
	null.addLayer(t, 0, 1)
	if res := null.cycle(t); !res.Skipped {
		t.Fatal("null display committed")
	}
	if null.engine.Stats().Commits != 0 {
		t.Fatal("null display reached the engine")
	}
}

func TestTrustedUIEntryDrainsCapture(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	h.addLayer(t, 0, 1)
	ctx := context.Background()

	if _, err := h.display.ConfigureCapture(writeback.Request{Client: writeback.ClientFrameDump, Buffer: 9}); err != nil {
		t.Fatalf("ConfigureCapture: %v", err)
	}
	force, err := h.display.NotifySecureEvent(secure.KindTUI, true)
	if err != nil || !force {
		t.Fatalf("NotifySecureEvent(enter) = %v, %v", force, err)
	}
	if _, err := h.display.ConfigureCapture(writeback.Request{Client: writeback.ClientColor, Buffer: 10}); !errors.Is(err, hwerr.ErrRejectedSecure) {
		t.Fatalf("ConfigureCapture during trusted UI entry error = %v", err)
	}

	for i := 0; i < 5 && h.guard.Snapshot().TUI != "active"; i++ {
		h.cycle(t)
	}
	if got := h.guard.Snapshot().TUI; got != "active" {
		t.Fatalf("trusted UI phase = %s, want active", got)
	}
	if st := h.wb.Status(); st == writeback.StatusConfigured || st == writeback.StatusTeardown {
		t.Fatalf("trusted UI active with writeback %v", st)
	}

	if _, err := h.display.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := h.display.NotifySecureEvent(secure.KindTUI, false); err != nil {
		t.Fatalf("NotifySecureEvent(exit): %v", err)
	}
	if _, err := h.display.Commit(ctx); !errors.Is(err, hwerr.ErrNotReady) {
		t.Fatalf("Commit during trusted UI exit error = %v, want not ready", err)
	}
	if err := h.display.BeginFrame(ctx); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if _, err := h.display.Commit(ctx); err != nil {
		t.Fatalf("Commit after exit settled: %v", err)
	}
	if _, err := h.display.Retire(); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if _, err := h.display.ConfigureCapture(writeback.Request{Client: writeback.ClientColor, Buffer: 10}); err != nil && !errors.Is(err, hwerr.ErrResourceBusy) {
		t.Fatalf("ConfigureCapture after exit error = %v", err)
	}
}

// lateEntryChecker lets trusted UI enter and settle right after the guard
// approved a capture, the interleaving a concurrent BeginFrame can produce.
type lateEntryChecker struct {
	guard *secure.Guard
	once  sync.Once
}

func (c *lateEntryChecker) CheckWritebackAllowed() error {
	if err := c.guard.CheckWritebackAllowed(); err != nil {
		return err
	}
	c.once.Do(func() {
		_, _ = c.guard.HandleSecureEvent(secure.KindTUI, true)
		c.guard.Settle(writeback.StatusAvailable)
	})
	return nil
}

func TestCaptureConfiguredDuringTrustedUIEntryIsTornDown(t *testing.T) {
	h := newHarnessWithChecker(t, ClassBuiltin, func(g *secure.Guard) writeback.SecureChecker {
		return &lateEntryChecker{guard: g}
	})
	h.addLayer(t, 0, 1)

	if _, err := h.display.ConfigureCapture(writeback.Request{Client: writeback.ClientExternal, Buffer: 5}); err != nil {
		t.Fatalf("ConfigureCapture: %v", err)
	}
	if got := h.guard.Snapshot().TUI; got != "active" || h.wb.Status() != writeback.StatusConfigured {
		t.Fatalf("setup: tui=%s writeback=%v", got, h.wb.Status())
	}

	h.cycle(t)
	if c := h.engine.Stats().LastFrame.Capture; c != nil {
		t.Fatalf("frame captured while trusted UI active: %+v", c)
	}
	if st := h.wb.Status(); st == writeback.StatusConfigured {
		t.Fatal("capture still configured after the safe point")
	}
}

func TestCapturedFramesReleaseReadbackFences(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	h.addLayer(t, 0, 1)
	if _, err := h.display.ConfigureCapture(writeback.Request{Client: writeback.ClientFrameDump, Buffer: 3}); err != nil {
		t.Fatalf("ConfigureCapture: %v", err)
	}

	for i := 0; i < 10; i++ {
		h.cycle(t)
	}
	early := h.fences.Stats().Live
	for i := 0; i < 100; i++ {
		h.cycle(t)
	}
	if late := h.fences.Stats().Live; late > early {
		t.Fatalf("live fences grew from %d to %d over 100 captured frames", early, late)
	}
}

func TestTrustedUIEntryWaitsForTeardown(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	h.addLayer(t, 0, 1)
	h.cycle(t)

	if _, err := h.display.ConfigureCapture(writeback.Request{Client: writeback.ClientColor, Buffer: 4}); err != nil {
		t.Fatalf("ConfigureCapture: %v", err)
	}
	if err := h.display.SetStatus(StatusPaused); err != nil {
		t.Fatalf("SetStatus(paused): %v", err)
	}
	if _, err := h.display.NotifySecureEvent(secure.KindTUI, true); err != nil {
		t.Fatalf("NotifySecureEvent(enter): %v", err)
	}

	// Paused frames never reach the screen, so the capture cannot drain.
	for i := 0; i < 3; i++ {
		h.cycle(t)
	}
	if err := h.guard.ValidateTUITransition(true, h.wb.Status()); !errors.Is(err, hwerr.ErrResourceBusy) {
		t.Fatalf("ValidateTUITransition with writeback %v = %v", h.wb.Status(), err)
	}
	if got := h.guard.Snapshot().TUI; got != "entering" {
		t.Fatalf("trusted UI phase = %s while writeback %v, want entering", got, h.wb.Status())
	}

	if err := h.display.SetStatus(StatusOnline); err != nil {
		t.Fatalf("SetStatus(online): %v", err)
	}
	for i := 0; i < 5 && h.guard.Snapshot().TUI != "active"; i++ {
		h.cycle(t)
	}
	if got := h.guard.Snapshot().TUI; got != "active" {
		t.Fatalf("trusted UI phase = %s after drain, want active", got)
	}
}

func TestVsyncReporting(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	h.addLayer(t, 0, 1)
	period := platform.PeriodForRate(60)

	h.cycle(t)
	if got := h.display.Snapshot().Vsync.Events; got != 0 {
		t.Fatalf("vsync events with reporting off = %d", got)
	}

	if err := h.display.SetVsyncEnabled(true); err != nil {
		t.Fatalf("SetVsyncEnabled: %v", err)
	}
	for i := 1; i <= 3; i++ {
		h.clock.Set(time.Unix(5000, 0).Add(time.Duration(i) * period))
		h.cycle(t)
	}
	// Two frames inside one vsync count once.
	h.cycle(t)
	if got := h.display.Snapshot().Vsync.Events; got != 3 {
		t.Fatalf("vsync events = %d, want 3", got)
	}

	if err := h.display.SetVsyncEnabled(false); err != nil {
		t.Fatalf("SetVsyncEnabled(false): %v", err)
	}
	h.clock.Set(time.Unix(5000, 0).Add(10 * period))
	h.cycle(t)
	if s := h.display.Snapshot().Vsync; s.Enabled || s.Events != 3 {
		t.Fatalf("vsync after disable = %+v", s)
	}
}

func TestIdleTimeoutSkipsUnchangedCommits(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	id := h.addLayer(t, 0, 1)
	start := time.Unix(5000, 0)

	if err := h.display.SetIdleTimeout(-time.Second); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Fatalf("SetIdleTimeout(negative) error = %v", err)
	}
	if err := h.display.SetIdleTimeout(100 * time.Millisecond); err != nil {
		t.Fatalf("SetIdleTimeout: %v", err)
	}
	h.cycle(t)
	if h.display.IsIdle() {
		t.Fatal("display idle right after an update")
	}

	h.clock.Set(start.Add(time.Second))
	if !h.display.IsIdle() {
		t.Fatal("display not idle after the timeout")
	}
	commits := h.engine.Stats().Commits
	if res := h.cycle(t); !res.Skipped {
		t.Fatalf("idle unchanged frame committed: %+v", res)
	}
	if h.engine.Stats().Commits != commits {
		t.Fatal("idle frame reached the engine")
	}

	// A client update ends idleness and the next frame is committed.
	if err := h.display.SetLayerBuffer(id, 2, fence.NoFence); err != nil {
		t.Fatalf("SetLayerBuffer: %v", err)
	}
	if h.display.IsIdle() {
		t.Fatal("display still idle after an update")
	}
	if res := h.cycle(t); res.Skipped {
		t.Fatal("frame after update skipped")
	}

	// A capture on this display keeps frames flowing even when idle.
	if _, err := h.display.ConfigureCapture(writeback.Request{Client: writeback.ClientFrameDump, Buffer: 6}); err != nil {
		t.Fatalf("ConfigureCapture: %v", err)
	}
	h.clock.Set(start.Add(2 * time.Second))
	h.cycle(t)
	if res := h.cycle(t); res.Skipped || res.Readback == fence.NoFence {
		t.Fatalf("idle frame with capture = %+v, want committed with readback", res)
	}
	if s := h.display.Snapshot().Idle; s.Skips != 1 || !s.Idle {
		t.Fatalf("idle snapshot = %+v", s)
	}
}

func TestEngineLossIsTerminal(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	id := h.addLayer(t, 0, 1)
	h.cycle(t)

	// A new buffer keeps the next prepare from being skipped.
	if err := h.display.SetLayerBuffer(id, 2, fence.NoFence); err != nil {
		t.Fatalf("SetLayerBuffer: %v", err)
	}
	h.engine.Lose()
	ctx := context.Background()
	_ = h.display.BeginFrame(ctx)
	if _, err := h.display.Prepare(ctx); !errors.Is(err, hwerr.ErrTerminal) {
		t.Fatalf("Prepare after loss error = %v", err)
	}

	calls := map[string]func() error{
		"CreateLayer": func() error { _, err := h.display.CreateLayer(); return err },
		"Commit":      func() error { _, err := h.display.Commit(ctx); return err },
		"Request": func() error {
			_, err := h.display.RequestActiveConfig(1, refresh.Constraints{})
			return err
		},
		"Power":   func() error { return h.display.SetPowerMode(platform.PowerOff) },
		"Capture": func() error { _, err := h.display.ConfigureCapture(writeback.Request{Client: writeback.ClientColor, Buffer: 2}); return err },
		"Secure":  func() error { _, err := h.display.NotifySecureEvent(secure.KindCamera, true); return err },
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, hwerr.ErrTerminal) {
			t.Fatalf("%s after loss error = %v, want terminal", name, err)
		}
	}
	if h.display.Snapshot().Error == "" {
		t.Fatal("snapshot does not report the loss")
	}
}

func TestUpdateConfigs(t *testing.T) {
	h := newHarness(t, ClassPluggable)
	ctx := context.Background()

	if changed, err := h.display.UpdateConfigs(ctx); err != nil || changed {
		t.Fatalf("UpdateConfigs unchanged = %v, %v", changed, err)
	}
	h.engine.SetConfigs([]platform.DisplayConfig{
		{ID: 0, Width: 1920, Height: 1080, VsyncPeriod: platform.PeriodForRate(60), Group: 4},
		{ID: 5, Width: 3840, Height: 2160, VsyncPeriod: platform.PeriodForRate(30), Group: 5},
	})
	changed, err := h.display.UpdateConfigs(ctx)
	if err != nil || !changed {
		t.Fatalf("UpdateConfigs after hotplug = %v, %v", changed, err)
	}
	if n := len(h.display.Configs()); n != 2 {
		t.Fatalf("configs = %d, want 2", n)
	}
	if h.display.ActiveConfig().Width != 1920 {
		t.Fatalf("active config = %v", h.display.ActiveConfig())
	}
}

func TestDump(t *testing.T) {
	h := newHarness(t, ClassBuiltin)
	h.addLayer(t, 3, 0x42)
	h.cycle(t)

	var buf bytes.Buffer
	if err := h.display.Dump(&buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`display 0 "display-0" (builtin)`, "layer 1 z=3 buffer=0x42", "first_commit=true", "tui=inactive"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump missing %q:\n%s", want, out)
		}
	}
}

func TestParseClassAndStatus(t *testing.T) {
	for _, c := range []Class{ClassBuiltin, ClassPluggable, ClassVirtual, ClassNull} {
		got, err := ParseClass(c.String())
		if err != nil || got != c {
			t.Fatalf("ParseClass(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseClass("projector"); err == nil {
		t.Fatal("ParseClass(projector) succeeded")
	}
	if s, err := ParseStatus("resume"); err != nil || s != StatusOnline {
		t.Fatalf("ParseStatus(resume) = %v, %v", s, err)
	}
}
