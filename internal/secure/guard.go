// Package secure tracks protected-content sessions and the constraints they
// put on capture and commit. Other components call into the guard; the
// guard never calls out.
package secure

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/writeback"
)

// Kind is one protected-content session type.
type Kind uint8

const (
	KindDisplay Kind = 1 << iota // protected display mirroring
	KindCamera
	KindTUI // trusted user interface
)

// highSecurity kinds forbid writeback while set.
const highSecurity = KindDisplay | KindTUI

var kindNames = map[Kind]string{
	KindDisplay: "display",
	KindCamera:  "camera",
	KindTUI:     "tui",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind parses a session kind name.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown secure session kind %q", hwerr.ErrInvalidArgument, s)
}

// Phase is where the trusted-UI session is in its lifecycle.
type Phase int

const (
	PhaseInactive Phase = iota
	PhaseEntering
	PhaseActive
	PhaseExiting
)

func (p Phase) String() string {
	switch p {
	case PhaseInactive:
		return "inactive"
	case PhaseEntering:
		return "entering"
	case PhaseActive:
		return "active"
	case PhaseExiting:
		return "exiting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var ErrInvalidTransition = fmt.Errorf("%w: invalid trusted UI transition", hwerr.ErrInvalidArgument)

// Guard is shared by every display in the process.
type Guard struct {
	logger *slog.Logger

	mu     sync.Mutex
	active Kind
	tui    Phase
}

// NewGuard returns a guard with no active sessions. A nil logger discards.
func NewGuard(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Guard{logger: logger}
}

// HandleSecureEvent records a session entering or leaving and reports
// whether displays must be refreshed because the set of protected content
// changed. Trusted UI entry only starts the transition; the session becomes
// active at the next safe point (see Settle).
func (g *Guard) HandleSecureEvent(kind Kind, entering bool) (bool, error) {
	if _, ok := kindNames[kind]; !ok {
		return false, fmt.Errorf("secure event: %w: kind %d", hwerr.ErrInvalidArgument, uint8(kind))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if kind == KindTUI {
		return g.handleTUILocked(entering)
	}

	before := g.active
	if entering {
		g.active |= kind
	} else {
		g.active &^= kind
	}
	changed := before != g.active
	if changed {
		g.logger.Info("secure session", "kind", kind, "entering", entering, "active", g.active.names())
	}
	return changed, nil
}

func (g *Guard) handleTUILocked(entering bool) (bool, error) {
	if entering {
		if g.tui != PhaseInactive {
			return false, fmt.Errorf("enter trusted UI while %s: %w", g.tui, ErrInvalidTransition)
		}
		g.tui = PhaseEntering
		g.active |= KindTUI
		g.logger.Info("trusted UI entering")
		return true, nil
	}

	switch g.tui {
	case PhaseEntering, PhaseActive:
		g.tui = PhaseExiting
		g.logger.Info("trusted UI exiting")
		return true, nil
	default:
		return false, fmt.Errorf("exit trusted UI while %s: %w", g.tui, ErrInvalidTransition)
	}
}

// ValidateTUITransition checks that the trusted UI may move in the given
// direction with writeback in wb. A session may not begin while a capture
// is configured or still tearing down.
func (g *Guard) ValidateTUITransition(entering bool, wb writeback.Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateTUILocked(entering, wb)
}

func (g *Guard) validateTUILocked(entering bool, wb writeback.Status) error {
	phase := g.tui
	if entering {
		if phase != PhaseInactive && phase != PhaseEntering {
			return fmt.Errorf("enter trusted UI while %s: %w", phase, ErrInvalidTransition)
		}
		if wb == writeback.StatusConfigured || wb == writeback.StatusTeardown {
			return fmt.Errorf("enter trusted UI with writeback %s: %w", wb, hwerr.ErrResourceBusy)
		}
		return nil
	}
	if phase != PhaseEntering && phase != PhaseActive && phase != PhaseExiting {
		return fmt.Errorf("exit trusted UI while %s: %w", phase, ErrInvalidTransition)
	}
	return nil
}

// Settle advances a pending trusted-UI transition at a frame safe point.
// Entry completes once ValidateTUITransition accepts it, i.e. after
// writeback has drained; exit completes here. The returned phase is the
// one in force for the coming frame.
func (g *Guard) Settle(wb writeback.Status) Phase {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.tui {
	case PhaseEntering:
		if err := g.validateTUILocked(true, wb); err != nil {
			g.logger.Debug("trusted UI entry deferred", "error", err)
			break
		}
		g.tui = PhaseActive
		g.logger.Info("trusted UI active")
	case PhaseExiting:
		g.tui = PhaseInactive
		g.active &^= KindTUI
		g.logger.Info("trusted UI exited")
	}
	return g.tui
}

// CheckWritebackAllowed rejects capture while a high-security session is
// active or in transition.
func (g *Guard) CheckWritebackAllowed() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if set := g.active & highSecurity; set != 0 {
		return fmt.Errorf("%w: %s", hwerr.ErrRejectedSecure, strings.Join(set.names(), ","))
	}
	return nil
}

// TUIExiting reports whether a trusted-UI teardown is in progress. Commits
// must wait for the next cycle while it is.
func (g *Guard) TUIExiting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tui == PhaseExiting
}

// Active reports whether kind is currently set.
func (g *Guard) Active(kind Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active&kind != 0
}

// Snapshot is the guard state for status output.
type Snapshot struct {
	Active []string `json:"active"`
	TUI    string   `json:"tui"`
}

// Snapshot returns the current state.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{Active: g.active.names(), TUI: g.tui.String()}
}

func (k Kind) names() []string {
	out := []string{}
	for bit, name := range kindNames {
		if k&bit != 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
