// Package writeback arbitrates the single concurrent-writeback (capture to
// buffer) block shared by every display. Sessions cycle
// Available -> Configured -> Teardown -> PostTeardown -> Available, and the
// last step waits for the retire fence of the first frame committed without
// the capture, so the block is never reused while still draining.
package writeback

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/hwerr"
)

var (
	ErrBusy      = fmt.Errorf("%w: writeback in use", hwerr.ErrResourceBusy)
	ErrNoSession = fmt.Errorf("%w: no writeback session", hwerr.ErrInvalidArgument)
	ErrNotOwner  = fmt.Errorf("%w: writeback owned by another client", hwerr.ErrInvalidArgument)
)

// Fences is the part of the fence registry the arbiter needs.
type Fences interface {
	Poll(id fence.ID) (fence.State, error)
	Dup(id fence.ID) (fence.ID, error)
	Release(id fence.ID)
}

// SecureChecker vetoes captures while protected content may be on screen.
type SecureChecker interface {
	CheckWritebackAllowed() error
}

// Observer is told about every status change. It is called with the
// arbiter lock held and must not call back into the arbiter.
type Observer func(Event)

// Event describes one status change.
type Event struct {
	Session uuid.UUID
	Client  Client
	Display int
	From    Status
	To      Status
	Reason  string
}

// Request asks for a capture.
type Request struct {
	Client       Client
	Display      int
	Buffer       uint64
	AcquireFence fence.ID
	Config       CaptureConfig
	// FrameLimit tears the session down after that many captured frames.
	// Zero captures until explicitly torn down.
	FrameLimit int
}

// Session is the state of the writeback block.
type Session struct {
	ID             uuid.UUID     `json:"id"`
	Client         Client        `json:"client"`
	Display        int           `json:"display"`
	Status         Status        `json:"status"`
	Buffer         uint64        `json:"buffer"`
	AcquireFence   fence.ID      `json:"acquire_fence"`
	Config         CaptureConfig `json:"config"`
	ReadbackFence  fence.ID      `json:"readback_fence"`
	TeardownFence  fence.ID      `json:"teardown_fence"`
	FramesCaptured int           `json:"frames_captured"`
	FrameLimit     int           `json:"frame_limit"`
	ConfiguredAt   time.Time     `json:"configured_at"`
}

// Arbiter is shared by all displays in the process. Each instance is an
// independent writeback block.
type Arbiter struct {
	fences   Fences
	secure   SecureChecker
	logger   *slog.Logger
	observer Observer
	clock    func() time.Time

	mu      sync.Mutex
	session Session
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithLogger sets the arbiter logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Arbiter) { a.logger = l }
}

// WithObserver registers a status-change observer.
func WithObserver(o Observer) Option {
	return func(a *Arbiter) { a.observer = o }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(a *Arbiter) { a.clock = clock }
}

// NewArbiter creates an arbiter. secure may be nil when no protected
// content paths exist.
func NewArbiter(fences Fences, secure SecureChecker, opts ...Option) *Arbiter {
	a := &Arbiter{
		fences: fences,
		secure: secure,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a.session.Status = StatusAvailable
	return a
}

func (a *Arbiter) transitionLocked(to Status, reason string) {
	from := a.session.Status
	a.session.Status = to
	a.logger.Debug("writeback status",
		"session", a.session.ID,
		"client", a.session.Client,
		"from", from,
		"to", to,
		"reason", reason)
	if a.observer != nil {
		a.observer(Event{
			Session: a.session.ID,
			Client:  a.session.Client,
			Display: a.session.Display,
			From:    from,
			To:      to,
			Reason:  reason,
		})
	}
}

// Configure claims the writeback block for req.Client. The secure checker
// is consulted with the arbiter lock held, so a protected session that
// starts after the check finds the session already Configured.
func (a *Arbiter) Configure(req Request) (uuid.UUID, error) {
	if req.Client == ClientNone {
		return uuid.Nil, fmt.Errorf("configure capture: %w: client required", hwerr.ErrInvalidArgument)
	}
	if req.Buffer == 0 {
		return uuid.Nil, fmt.Errorf("configure capture: %w: buffer required", hwerr.ErrInvalidArgument)
	}
	if req.FrameLimit < 0 {
		return uuid.Nil, fmt.Errorf("configure capture: %w: negative frame limit", hwerr.ErrInvalidArgument)
	}
	if err := req.Config.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("configure capture: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.secure != nil {
		if err := a.secure.CheckWritebackAllowed(); err != nil {
			return uuid.Nil, fmt.Errorf("configure capture for %s: %w", req.Client, err)
		}
	}
	a.arbitrateLocked()
	if a.session.Status != StatusAvailable {
		return uuid.Nil, fmt.Errorf("configure capture for %s: held by %s (%s): %w",
			req.Client, a.session.Client, a.session.Status, ErrBusy)
	}

	a.session = Session{
		ID:            uuid.New(),
		Client:        req.Client,
		Display:       req.Display,
		Status:        StatusAvailable,
		Buffer:        req.Buffer,
		AcquireFence:  req.AcquireFence,
		Config:        req.Config,
		ReadbackFence: fence.NoFence,
		TeardownFence: fence.NoFence,
		FrameLimit:    req.FrameLimit,
		ConfiguredAt:  a.clock(),
	}
	a.transitionLocked(StatusConfigured, "configure")
	return a.session.ID, nil
}

// Teardown releases client's session. The block stays unusable until the
// retire fence of the next frame on its display has signaled. Tearing down
// a session that is already on its way out is a no-op for its owner.
func (a *Arbiter) Teardown(client Client) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.Status == StatusAvailable {
		return fmt.Errorf("teardown capture for %s: %w", client, ErrNoSession)
	}
	if a.session.Client != client {
		return fmt.Errorf("teardown capture for %s: session belongs to %s: %w", client, a.session.Client, ErrNotOwner)
	}
	if a.session.Status == StatusConfigured {
		a.transitionLocked(StatusTeardown, "teardown")
	}
	return nil
}

// ForceTeardown ends a configured session regardless of owner. It reports
// whether a session was torn down.
func (a *Arbiter) ForceTeardown(reason string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.Status != StatusConfigured {
		return false
	}
	a.logger.Info("writeback session force torn down", "client", a.session.Client, "reason", reason)
	a.transitionLocked(StatusTeardown, reason)
	return true
}

// Capture returns the capture to attach to display's next frame, if any.
func (a *Arbiter) Capture(display int) (Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.Status != StatusConfigured || a.session.Display != display {
		return Session{}, false
	}
	return a.session, true
}

// OnFrameCommitted advances the session after a frame on display reached
// the engine. retire is the frame's retire fence; readback is the capture
// output fence when the frame carried the capture.
func (a *Arbiter) OnFrameCommitted(display int, retire, readback fence.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.Display != display {
		a.fences.Release(readback)
		return
	}

	switch a.session.Status {
	case StatusConfigured:
		if readback == fence.NoFence {
			return
		}
		a.replaceReadbackLocked(readback)
		a.session.FramesCaptured++
		if a.session.FrameLimit > 0 && a.session.FramesCaptured >= a.session.FrameLimit {
			a.transitionLocked(StatusTeardown, "frame limit reached")
		}
	case StatusTeardown:
		// A frame that picked up the capture just before teardown.
		a.replaceReadbackLocked(readback)
		if retire == fence.NoFence {
			// Nothing reached the screen; wait for a real frame.
			return
		}
		held, err := a.fences.Dup(retire)
		if err != nil {
			// The fence is already gone, so the frame it tracked is too.
			held = fence.NoFence
		}
		a.session.TeardownFence = held
		a.transitionLocked(StatusPostTeardown, "teardown frame committed")
	default:
		a.fences.Release(readback)
	}
}

// replaceReadbackLocked keeps only the newest readback fence; the session
// holds one reference to it.
func (a *Arbiter) replaceReadbackLocked(readback fence.ID) {
	if readback == fence.NoFence {
		return
	}
	a.fences.Release(a.session.ReadbackFence)
	a.session.ReadbackFence = readback
}

// Arbitrate performs the once-per-frame check of the cached teardown
// fence. It never blocks. It returns the resulting status.
func (a *Arbiter) Arbitrate() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.arbitrateLocked()
	return a.session.Status
}

func (a *Arbiter) arbitrateLocked() {
	if a.session.Status != StatusPostTeardown {
		return
	}
	st, err := a.fences.Poll(a.session.TeardownFence)
	if err != nil || st != fence.Signaled {
		// An unknown fence never signals; the block stays closed.
		return
	}
	a.fences.Release(a.session.TeardownFence)
	a.fences.Release(a.session.ReadbackFence)
	a.session.TeardownFence = fence.NoFence
	a.session.ReadbackFence = fence.NoFence
	a.transitionLocked(StatusAvailable, "teardown fence signaled")
}

// ReadbackFence returns the output fence of client's latest captured frame.
func (a *Arbiter) ReadbackFence(client Client) (fence.ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.Status == StatusAvailable {
		return fence.NoFence, fmt.Errorf("readback fence for %s: %w", client, ErrNoSession)
	}
	if a.session.Client != client {
		return fence.NoFence, fmt.Errorf("readback fence for %s: %w", client, ErrNotOwner)
	}
	return a.session.ReadbackFence, nil
}

// Status returns the current status.
func (a *Arbiter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.Status
}

// Snapshot returns a copy of the session.
func (a *Arbiter) Snapshot() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}
