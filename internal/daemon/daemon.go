package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/1broseidon/vsyncd/internal/config"
	"github.com/1broseidon/vsyncd/internal/display"
	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/journal"
	"github.com/1broseidon/vsyncd/internal/secure"
	"github.com/1broseidon/vsyncd/internal/writeback"
)

// Options configures a Daemon.
type Options struct {
	Config *config.Config
	// ConfigPath is re-read on Reload. Empty uses the default location.
	ConfigPath string
	Logger     *slog.Logger
	// LogLevel, when set, is updated from log_level on Reload.
	LogLevel *slog.LevelVar
	Clock    func() time.Time
}

// Daemon owns every display and the process-wide capture block and
// secure-session guard.
type Daemon struct {
	configPath string
	logger     *slog.Logger
	logLevel   *slog.LevelVar
	clock      func() time.Time
	start      time.Time

	cfgMu sync.RWMutex
	cfg   *config.Config

	fences   *fence.Registry
	guard    *secure.Guard
	wb       *writeback.Arbiter
	journal  *journal.Journal
	engines  *engineSet
	displays []*display.Display
	byID     map[int]*display.Display
}

// New opens an engine per configured display and builds the pipeline.
func New(ctx context.Context, opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("daemon: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg := opts.Config

	jr, err := journal.Open(cfg.JournalSettings())
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		configPath: opts.ConfigPath,
		logger:     logger,
		logLevel:   opts.LogLevel,
		clock:      clock,
		start:      clock(),
		cfg:        cfg,
		fences:     fence.NewRegistry(fence.WithLogger(logger.With("component", "fence"))),
		guard:      secure.NewGuard(logger.With("component", "secure")),
		journal:    jr,
		engines:    &engineSet{},
		byID:       make(map[int]*display.Display),
	}

	if cfg.Writeback.Enabled {
		d.wb = writeback.NewArbiter(d.fences, d.guard,
			writeback.WithLogger(logger.With("component", "writeback")),
			writeback.WithObserver(d.onCaptureEvent),
			writeback.WithClock(clock),
		)
	}

	for _, dc := range cfg.Displays {
		if err := d.addDisplay(ctx, cfg, dc); err != nil {
			d.Close()
			return nil, err
		}
	}
	sort.Slice(d.displays, func(i, j int) bool { return d.displays[i].ID() < d.displays[j].ID() })

	logger.Info("daemon ready", "engine", cfg.Engine, "displays", len(d.displays), "writeback", d.wb != nil)
	return d, nil
}

func (d *Daemon) addDisplay(ctx context.Context, cfg *config.Config, dc config.DisplayConfig) error {
	class, err := dc.DisplayClass()
	if err != nil {
		return fmt.Errorf("display %d: %w", dc.ID, err)
	}
	engine, err := d.engines.open(cfg, dc, d.fences, d.clock)
	if err != nil {
		return fmt.Errorf("display %d: open %s engine: %w", dc.ID, cfg.Engine, err)
	}

	refreshOpts := dc.RefreshOptions()
	refreshOpts.Clock = d.clock
	refreshOpts.Logger = d.logger.With("component", "refresh", "display", dc.ID)

	disp, err := display.New(ctx, display.Options{
		ID:           dc.ID,
		Name:         dc.Name,
		Class:        class,
		Engine:       engine,
		Fences:       d.fences,
		Refresh:      refreshOpts,
		Writeback:    d.wb,
		Guard:        d.guard,
		IdleTimeout:  dc.IdleTimeout,
		VsyncEnabled: dc.VsyncEvents,
		Journal:      d.journal,
		Logger:       d.logger.With("display", dc.ID),
		Clock:        d.clock,
	})
	if err != nil {
		engine.Close()
		return fmt.Errorf("display %d: %w", dc.ID, err)
	}
	d.engines.track(engine)
	d.displays = append(d.displays, disp)
	d.byID[dc.ID] = disp
	return nil
}

// onCaptureEvent runs under the arbiter lock; it only logs.
func (d *Daemon) onCaptureEvent(ev writeback.Event) {
	d.logger.Debug("capture status", "session", ev.Session, "client", ev.Client, "from", ev.From, "to", ev.To, "reason", ev.Reason)
	d.journal.Record(journal.EventCaptureStatus, ev.Display, map[string]interface{}{
		"client": ev.Client.String(),
		"from":   ev.From.String(),
		"to":     ev.To.String(),
		"reason": ev.Reason,
	})
}

// Displays returns the displays ordered by id.
func (d *Daemon) Displays() []*display.Display {
	return append([]*display.Display(nil), d.displays...)
}

// Display returns the display with id.
func (d *Daemon) Display(id int) (*display.Display, error) {
	disp, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: no display %d", errInvalid, id)
	}
	return disp, nil
}

// Config returns the current effective config.
func (d *Daemon) Config() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// Run drives every display and reconciles engine configs until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.Config()

	var source FrameSource
	if cfg.Driver.TestPattern {
		source = NewTestPattern()
	}
	driver := NewDriver(d.displays, source, d.logger.With("component", "driver"))

	// The reconciler has nothing left to do once the driver gives up.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.Driver.ReconcileInterval > 0 {
		r := NewReconciler(ReconcilerConfig{
			Interval: cfg.Driver.ReconcileInterval,
			Logger:   d.logger.With("component", "reconciler"),
		}, d.displays)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(ctx)
		}()
	}

	driver.Run(ctx)
	cancel()
	wg.Wait()
	return nil
}

// Close releases engines, fences and the journal.
func (d *Daemon) Close() error {
	err := d.engines.close()
	d.fences.Close()
	if jerr := d.journal.Close(); err == nil {
		err = jerr
	}
	return err
}
