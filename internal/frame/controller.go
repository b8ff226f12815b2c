// Package frame runs the per-frame lifecycle of one display:
// validate, prepare, commit and retire.
package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/layer"
	"github.com/1broseidon/vsyncd/internal/platform"
)

// State is the lifecycle position of the current frame.
type State int

const (
	StateIdle State = iota
	StateValidated
	StatePrepared
	StateCommitted
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidated:
		return "validated"
	case StatePrepared:
		return "prepared"
	case StateCommitted:
		return "committed"
	case StateRetired:
		return "retired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrOutOfOrder is returned when an operation is called in the wrong state.
var ErrOutOfOrder = fmt.Errorf("%w: frame operation out of order", hwerr.ErrInvalidArgument)

// Gate decides whether a commit may go ahead this cycle. It returns an
// error wrapping hwerr.ErrNotReady to defer the commit.
type Gate interface {
	CommitReady() error
}

// Options configures a Controller.
type Options struct {
	Display int
	Gate    Gate
	Logger  *slog.Logger
}

// ValidateResult reports the outcome of the decision pass.
type ValidateResult struct {
	ChangedTypes      int
	ChangedRequests   int
	NeedsRevalidate   bool
	ClientComposition bool
	DeviceLayers      int
	ClientLayers      int
}

// PrepareResult reports the outcome of Prepare.
type PrepareResult struct {
	ValidateResult
	// Skipped is set when the previous decisions were reused.
	Skipped bool
	// Flushed is set when the engine rejected the frame and every layer
	// was moved to client composition for this frame.
	Flushed bool
}

// CommitResult carries the fences of a committed frame.
type CommitResult struct {
	Retire   fence.ID
	Readback fence.ID
	Flushed  bool
}

// retireHistory is how many retire fences the controller keeps referenced.
// Clients poll release fences of the previous frame after the next commit.
const retireHistory = 2

// Controller is not safe for concurrent use; the owning display serialises
// calls.
type Controller struct {
	display int
	engine  platform.DisplayEngine
	stack   *layer.Stack
	fences  *fence.Registry
	gate    Gate
	logger  *slog.Logger

	state State
	lost  error

	validated         bool
	needsRevalidate   bool
	flushed           bool
	clientComposition bool
	last              ValidateResult
	prevTypes         map[layer.ID]layer.Composition
	prevRequests      map[layer.ID]layer.Request

	commitOK        bool
	committed       CommitResult
	retired         [retireHistory]fence.ID
	firstCommitDone bool

	frames  uint64
	skips   uint64
	flushes uint64
}

// New creates a controller for one display.
func New(engine platform.DisplayEngine, stack *layer.Stack, fences *fence.Registry, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		display:      opts.Display,
		engine:       engine,
		stack:        stack,
		fences:       fences,
		gate:         opts.Gate,
		logger:       logger,
		prevTypes:    make(map[layer.ID]layer.Composition),
		prevRequests: make(map[layer.ID]layer.Request),
	}
}

// Validate classifies every layer with a buffer as device or client
// composed and counts the decisions that differ from the previous frame.
func (c *Controller) Validate() (ValidateResult, error) {
	if c.lost != nil {
		return ValidateResult{}, c.lost
	}
	if c.state == StateCommitted {
		return ValidateResult{}, fmt.Errorf("validate: previous frame not retired: %w", ErrOutOfOrder)
	}
	res := c.validate()
	c.state = StateValidated
	return res, nil
}

func (c *Controller) validate() ValidateResult {
	var res ValidateResult
	budget := c.engine.Capabilities().MaxDeviceLayers
	ordered := c.stack.Ordered()

	types := make(map[layer.ID]layer.Composition, len(ordered))
	requests := make(map[layer.ID]layer.Request, len(ordered))
	single := false

	for _, l := range ordered {
		if !l.HasBuffer() {
			continue
		}
		decided := layer.CompositionDevice
		switch {
		case l.Requested == layer.CompositionClient,
			l.SingleBuffered,
			!c.engine.QueryLayerCapability(l),
			budget > 0 && res.DeviceLayers >= budget:
			decided = layer.CompositionClient
		}
		if l.SingleBuffered {
			single = true
		}
		l.Decided = decided
		if decided == layer.CompositionClient {
			res.ClientLayers++
		} else {
			res.DeviceLayers++
		}
	}
	res.ClientComposition = res.ClientLayers > 0

	for _, l := range ordered {
		if !l.HasBuffer() {
			l.Request = layer.RequestNone
			continue
		}
		l.Request = layer.RequestNone
		if res.ClientComposition && l.Decided == layer.CompositionDevice {
			l.Request = layer.RequestClearClientTarget
		}

		if prev, ok := c.prevTypes[l.ID]; ok {
			if prev != l.Decided {
				res.ChangedTypes++
			}
		} else if l.Decided != l.Requested {
			res.ChangedTypes++
		}
		if prev, ok := c.prevRequests[l.ID]; ok {
			if prev != l.Request {
				res.ChangedRequests++
			}
		} else if l.Request != layer.RequestNone {
			res.ChangedRequests++
		}
		types[l.ID] = l.Decided
		requests[l.ID] = l.Request
	}

	res.NeedsRevalidate = single || res.ClientComposition
	c.prevTypes = types
	c.prevRequests = requests
	c.needsRevalidate = res.NeedsRevalidate
	c.clientComposition = res.ClientComposition
	c.flushed = false
	c.validated = true
	c.last = res
	return res
}

// canSkip reports whether the previous decisions are still valid.
func (c *Controller) canSkip() bool {
	return c.validated &&
		!c.stack.Changes().Any() &&
		!c.needsRevalidate &&
		!c.flushed &&
		!c.engine.ResourceExhausted()
}

// Prepare validates the stack and has the engine check the result. When
// nothing changed since the last prepare, the previous decisions are reused
// without asking the engine. A hardware rejection turns the frame into a
// client composition flush rather than an error.
func (c *Controller) Prepare(ctx context.Context) (PrepareResult, error) {
	if c.lost != nil {
		return PrepareResult{}, c.lost
	}
	if c.state == StateCommitted {
		return PrepareResult{}, fmt.Errorf("prepare: previous frame not retired: %w", ErrOutOfOrder)
	}

	if c.state != StateValidated && c.canSkip() {
		c.skips++
		c.state = StatePrepared
		res := PrepareResult{ValidateResult: c.last, Skipped: true}
		res.ChangedTypes, res.ChangedRequests = 0, 0
		return res, nil
	}

	if c.state != StateValidated {
		c.validate()
	}
	res := PrepareResult{ValidateResult: c.last}

	if err := c.engine.Prepare(ctx, c.buildFrame()); err != nil {
		if errors.Is(err, hwerr.ErrTerminal) {
			return PrepareResult{}, c.lose(err)
		}
		c.flush("prepare", err)
		res.Flushed = true
		res.ClientComposition = true
	}

	c.stack.ClearChanges()
	c.state = StatePrepared
	return res, nil
}

// Commit pushes the prepared frame to the engine. capture, when non-nil,
// asks the engine to write the composed frame back into a buffer. A gate
// refusal leaves the frame prepared so the caller can retry next cycle.
func (c *Controller) Commit(ctx context.Context, capture *platform.CaptureRequest) (CommitResult, error) {
	if c.lost != nil {
		return CommitResult{}, c.lost
	}
	if c.state != StatePrepared {
		return CommitResult{}, fmt.Errorf("commit in state %s: %w", c.state, ErrOutOfOrder)
	}
	if c.gate != nil {
		if err := c.gate.CommitReady(); err != nil {
			return CommitResult{}, err
		}
	}

	f := c.buildFrame()
	f.Capture = capture
	out, err := c.engine.Commit(ctx, f)
	if err != nil {
		if errors.Is(err, hwerr.ErrTerminal) {
			return CommitResult{}, c.lose(err)
		}
		c.flush("commit", err)
		c.commitOK = false
		c.committed = CommitResult{Retire: fence.NoFence, Readback: fence.NoFence, Flushed: true}
		c.state = StateCommitted
		return c.committed, nil
	}

	c.frames++
	c.commitOK = true
	c.committed = CommitResult{Retire: out.Retire, Readback: out.Readback, Flushed: c.flushed}
	c.state = StateCommitted
	return c.committed, nil
}

// Retire hands the retire fence to every layer that reached the screen:
// device layers, and the client target when anything was client composed.
// Layers without a buffer and client layers get no release fence.
func (c *Controller) Retire() (fence.ID, error) {
	if c.lost != nil {
		return fence.NoFence, c.lost
	}
	if c.state != StateCommitted {
		return fence.NoFence, fmt.Errorf("retire in state %s: %w", c.state, ErrOutOfOrder)
	}

	retire := c.committed.Retire
	if !c.commitOK {
		retire = fence.NoFence
	}
	for _, l := range c.stack.Ordered() {
		if l.HasBuffer() && l.Decided == layer.CompositionDevice {
			l.ReleaseFence = retire
		} else {
			l.ReleaseFence = fence.NoFence
		}
	}
	target := c.stack.ClientTarget()
	if c.clientComposition {
		target.ReleaseFence = retire
	} else {
		target.ReleaseFence = fence.NoFence
	}

	if retire != fence.NoFence {
		c.fences.Release(c.retired[0])
		copy(c.retired[:], c.retired[1:])
		c.retired[retireHistory-1] = retire
	}
	if c.commitOK && !c.firstCommitDone {
		c.firstCommitDone = true
		c.logger.Debug("first commit", "display", c.display)
	}
	c.state = StateRetired
	return retire, nil
}

// ReleaseFences returns the release fence of every layer that has one.
func (c *Controller) ReleaseFences() map[layer.ID]fence.ID {
	out := make(map[layer.ID]fence.ID)
	for _, l := range c.stack.Ordered() {
		if l.ReleaseFence != fence.NoFence {
			out[l.ID] = l.ReleaseFence
		}
	}
	return out
}

func (c *Controller) buildFrame() *platform.Frame {
	f := &platform.Frame{
		Display:           c.display,
		ClientTarget:      c.stack.ClientTarget(),
		ClientComposition: c.clientComposition,
	}
	for _, l := range c.stack.Ordered() {
		if l.HasBuffer() {
			f.Layers = append(f.Layers, l)
		}
	}
	return f
}

func (c *Controller) flush(stage string, cause error) {
	for _, l := range c.stack.Ordered() {
		if l.HasBuffer() {
			l.Decided = layer.CompositionClient
			l.Request = layer.RequestNone
		}
	}
	c.clientComposition = true
	c.flushed = true
	c.flushes++
	c.logger.Warn("frame flushed to client composition", "display", c.display, "stage", stage, "error", cause)
}

func (c *Controller) lose(cause error) error {
	c.lost = fmt.Errorf("display %d: %w", c.display, cause)
	c.logger.Error("display engine lost", "display", c.display, "error", cause)
	return c.lost
}

// Lost returns the terminal error once the engine is gone, nil before.
func (c *Controller) Lost() error {
	return c.lost
}

// MarkLost makes every later call fail with cause, which should wrap
// hwerr.ErrTerminal.
func (c *Controller) MarkLost(cause error) error {
	if c.lost != nil {
		return c.lost
	}
	return c.lose(cause)
}

// FirstCommitDone reports whether a commit has ever succeeded.
func (c *Controller) FirstCommitDone() bool {
	return c.firstCommitDone
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.state
}

// Snapshot is the controller state for status output.
type Snapshot struct {
	State             string `json:"state"`
	FirstCommitDone   bool   `json:"first_commit_done"`
	Frames            uint64 `json:"frames"`
	Skips             uint64 `json:"skipped_prepares"`
	Flushes           uint64 `json:"flushes"`
	DeviceLayers      int    `json:"device_layers"`
	ClientLayers      int    `json:"client_layers"`
	ClientComposition bool   `json:"client_composition"`
	NeedsRevalidate   bool   `json:"needs_revalidate"`
	LastRetire        uint64 `json:"last_retire"`
	Lost              bool   `json:"lost"`
}

// Snapshot returns counters and the last decision summary.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		State:             c.state.String(),
		FirstCommitDone:   c.firstCommitDone,
		Frames:            c.frames,
		Skips:             c.skips,
		Flushes:           c.flushes,
		DeviceLayers:      c.last.DeviceLayers,
		ClientLayers:      c.last.ClientLayers,
		ClientComposition: c.clientComposition,
		NeedsRevalidate:   c.needsRevalidate,
		LastRetire:        uint64(c.committed.Retire),
		Lost:              c.lost != nil,
	}
}
