// Package fence tracks completion tokens handed between the display pipeline
// and its clients. A fence starts pending and signals exactly once; waiters
// never hold the registry lock while blocked.
package fence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/vsyncd/internal/hwerr"
)

// ID identifies a fence. NoFence means "no fence" and is always signaled.
type ID uint64

const NoFence ID = 0

// State is the observable state of a fence.
type State int

const (
	Pending State = iota
	Signaled
)

func (s State) String() string {
	if s == Signaled {
		return "signaled"
	}
	return "pending"
}

var (
	ErrUnknownFence = fmt.Errorf("%w: unknown fence", hwerr.ErrInvalidArgument)
	ErrTimeout      = errors.New("fence wait timed out")
)

type entry struct {
	signaled bool
	done     chan struct{}
	refs     int
	created  time.Time
}

// Registry owns every live fence in the process.
type Registry struct {
	logger *slog.Logger

	mu     sync.Mutex
	next   ID
	fences map[ID]*entry

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used by kernel fence watchers.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		fences: make(map[ID]*entry),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

// Create allocates a new pending fence with one reference.
func (r *Registry) Create() ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	id := r.next
	r.fences[id] = &entry{
		done:    make(chan struct{}),
		refs:    1,
		created: time.Now(),
	}
	return id
}

// Signal marks the fence complete and wakes all waiters. Signaling an
// already signaled fence is a no-op.
func (r *Registry) Signal(id ID) error {
	if id == NoFence {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.fences[id]
	if !ok {
		return fmt.Errorf("signal %d: %w", id, ErrUnknownFence)
	}
	if !e.signaled {
		e.signaled = true
		close(e.done)
	}
	return nil
}

// Poll reports the fence state without blocking.
func (r *Registry) Poll(id ID) (State, error) {
	if id == NoFence {
		return Signaled, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.fences[id]
	if !ok {
		return Pending, fmt.Errorf("poll %d: %w", id, ErrUnknownFence)
	}
	if e.signaled {
		return Signaled, nil
	}
	return Pending, nil
}

// Wait blocks until the fence signals, the timeout elapses, or ctx is done.
// A non-positive timeout waits on ctx alone.
func (r *Registry) Wait(ctx context.Context, id ID, timeout time.Duration) error {
	if id == NoFence {
		return nil
	}

	r.mu.Lock()
	e, ok := r.fences[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("wait %d: %w", id, ErrUnknownFence)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-e.done:
		return nil
	case <-timer:
		return fmt.Errorf("wait %d after %s: %w", id, timeout, ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dup adds a reference to id so it survives one more Release. The same ID
// is returned; NoFence dups to NoFence.
func (r *Registry) Dup(id ID) (ID, error) {
	if id == NoFence {
		return NoFence, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.fences[id]
	if !ok {
		return NoFence, fmt.Errorf("dup %d: %w", id, ErrUnknownFence)
	}
	e.refs++
	return id, nil
}

// Release drops one reference. The fence is forgotten when the last
// reference goes away; pending waiters still wake if it is signaled later
// through a channel they already hold.
func (r *Registry) Release(id ID) {
	if id == NoFence {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.fences[id]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.fences, id)
	}
}

// Stats summarises the registry for status output.
type Stats struct {
	Live    int
	Pending int
	Oldest  time.Duration
}

// Stats returns a snapshot of live fence counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Stats
	now := time.Now()
	for _, e := range r.fences {
		s.Live++
		if !e.signaled {
			s.Pending++
			if age := now.Sub(e.created); age > s.Oldest {
				s.Oldest = age
			}
		}
	}
	return s
}

// Close stops background watchers started by ImportSyncFile. Fences stay
// queryable.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
}
