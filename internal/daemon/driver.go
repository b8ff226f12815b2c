package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/vsyncd/internal/display"
	"github.com/1broseidon/vsyncd/internal/hwerr"
)

const minFrameInterval = time.Millisecond

// FrameSource updates a display's layers before each frame. It stands in
// for the compositor client that would normally do so.
type FrameSource interface {
	Frame(d *display.Display, n uint64) error
}

// Driver runs the frame cycle of every display on its own goroutine.
type Driver struct {
	displays []*display.Display
	source   FrameSource
	logger   *slog.Logger
}

// NewDriver creates a driver. source may be nil.
func NewDriver(displays []*display.Display, source FrameSource, logger *slog.Logger) *Driver {
	return &Driver{displays: displays, source: source, logger: logger}
}

// Run blocks until ctx is cancelled or every display is lost.
func (dr *Driver) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range dr.displays {
		wg.Add(1)
		go func(d *display.Display) {
			defer wg.Done()
			dr.runDisplay(ctx, d)
		}(d)
	}
	wg.Wait()
}

func (dr *Driver) runDisplay(ctx context.Context, d *display.Display) {
	logger := dr.logger.With("display", d.ID())
	logger.Info("frame loop started", "name", d.Name(), "class", d.Class())

	timer := time.NewTimer(0)
	defer timer.Stop()

	var n uint64
	for {
		select {
		case <-ctx.Done():
			logger.Info("frame loop stopped")
			return
		case <-timer.C:
		}

		if err := dr.Tick(ctx, d, n); err != nil {
			if errors.Is(err, hwerr.ErrTerminal) {
				logger.Error("display lost, frame loop exiting", "error", err)
				return
			}
			logger.Warn("frame failed", "frame", n, "error", err)
		}
		n++

		period := d.VsyncPeriod()
		if period < minFrameInterval {
			period = minFrameInterval
		}
		timer.Reset(period)
	}
}

// Tick runs one frame on d: the source update, BeginFrame, Prepare,
// Commit and Retire. A not-ready commit is retried on the next frame and
// is not an error.
func (dr *Driver) Tick(ctx context.Context, d *display.Display, n uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			dr.logger.Error("frame panic recovered", "display", d.ID(), "panic", r)
			err = fmt.Errorf("frame %d panicked: %v", n, r)
		}
	}()

	if dr.source != nil {
		if err := dr.source.Frame(d, n); err != nil {
			if errors.Is(err, hwerr.ErrTerminal) {
				return err
			}
			dr.logger.Warn("frame source failed", "display", d.ID(), "error", err)
		}
	}

	if err := d.BeginFrame(ctx); err != nil {
		return err
	}
	if _, err := d.Prepare(ctx); err != nil {
		return err
	}
	res, err := d.Commit(ctx)
	if err != nil {
		if errors.Is(err, hwerr.ErrNotReady) {
			dr.logger.Debug("commit deferred", "display", d.ID(), "reason", err)
			return nil
		}
		return err
	}
	if _, err := d.Retire(); err != nil {
		return err
	}
	if res.Flushed {
		dr.logger.Debug("frame flushed", "display", d.ID(), "frame", n)
	}
	return nil
}
