package secure

import (
	"errors"
	"testing"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/writeback"
)

func TestHandleSecureEventForceRefresh(t *testing.T) {
	g := NewGuard(nil)

	tests := []struct {
		kind     Kind
		entering bool
		want     bool
	}{
		{KindCamera, true, true},
		{KindCamera, true, false},
		{KindDisplay, true, true},
		{KindCamera, false, true},
		{KindCamera, false, false},
		{KindDisplay, false, true},
	}
	for i, tt := range tests {
		got, err := g.HandleSecureEvent(tt.kind, tt.entering)
		if err != nil {
			t.Fatalf("step %d: HandleSecureEvent(%v, %v): %v", i, tt.kind, tt.entering, err)
		}
		if got != tt.want {
			t.Fatalf("step %d: forceRefresh = %v, want %v", i, got, tt.want)
		}
	}
	if len(g.Snapshot().Active) != 0 {
		t.Fatalf("active = %v, want none", g.Snapshot().Active)
	}
}

func TestWritebackAllowedByKind(t *testing.T) {
	tests := []struct {
		kind    Kind
		blocked bool
	}{
		{KindDisplay, true},
		{KindCamera, false},
		{KindTUI, true},
	}
	for _, tt := range tests {
		g := NewGuard(nil)
		if _, err := g.HandleSecureEvent(tt.kind, true); err != nil {
			t.Fatalf("enter %v: %v", tt.kind, err)
		}
		err := g.CheckWritebackAllowed()
		if blocked := errors.Is(err, hwerr.ErrRejectedSecure); blocked != tt.blocked {
			t.Fatalf("%v: CheckWritebackAllowed = %v, want blocked=%v", tt.kind, err, tt.blocked)
		}
	}
}

func TestTUIInvalidSequences(t *testing.T) {
	g := NewGuard(nil)
	if _, err := g.HandleSecureEvent(KindTUI, false); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("exit while inactive error = %v", err)
	}
	if _, err := g.HandleSecureEvent(KindTUI, true); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := g.HandleSecureEvent(KindTUI, true); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double enter error = %v", err)
	}
	if !errors.Is(ErrInvalidTransition, hwerr.ErrInvalidArgument) {
		t.Fatal("ErrInvalidTransition must be an invalid argument")
	}
	if _, err := g.HandleSecureEvent(Kind(64), true); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Fatalf("unknown kind error = %v", err)
	}
}

func TestTUILifecycle(t *testing.T) {
	g := NewGuard(nil)

	if _, err := g.HandleSecureEvent(KindTUI, true); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if p := g.Settle(writeback.StatusConfigured); p != PhaseEntering {
		t.Fatalf("phase with capture configured = %v, want entering", p)
	}
	if p := g.Settle(writeback.StatusTeardown); p != PhaseEntering {
		t.Fatalf("phase with capture tearing down = %v, want entering", p)
	}
	if p := g.Settle(writeback.StatusPostTeardown); p != PhaseActive {
		t.Fatalf("phase after drain = %v, want active", p)
	}
	if g.TUIExiting() {
		t.Fatal("TUIExiting while active")
	}

	if _, err := g.HandleSecureEvent(KindTUI, false); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if !g.TUIExiting() {
		t.Fatal("TUIExiting false during exit")
	}
	if err := g.CheckWritebackAllowed(); err == nil {
		t.Fatal("writeback allowed while trusted UI is exiting")
	}
	if p := g.Settle(writeback.StatusAvailable); p != PhaseInactive {
		t.Fatalf("phase after exit settle = %v", p)
	}
	if err := g.CheckWritebackAllowed(); err != nil {
		t.Fatalf("writeback blocked after exit: %v", err)
	}
}

func TestValidateTUITransition(t *testing.T) {
	g := NewGuard(nil)

	for _, wb := range []writeback.Status{writeback.StatusConfigured, writeback.StatusTeardown} {
		if err := g.ValidateTUITransition(true, wb); !errors.Is(err, hwerr.ErrResourceBusy) {
			t.Fatalf("enter with writeback %v error = %v, want busy", wb, err)
		}
	}
	for _, wb := range []writeback.Status{writeback.StatusAvailable, writeback.StatusPostTeardown} {
		if err := g.ValidateTUITransition(true, wb); err != nil {
			t.Fatalf("enter with writeback %v: %v", wb, err)
		}
	}
	if err := g.ValidateTUITransition(false, writeback.StatusAvailable); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("exit while inactive error = %v", err)
	}
}

// Entering trusted UI while a capture is configured rejects every new
// configure until the session exits, even after the old capture drains.
func TestSecureExclusivity(t *testing.T) {
	reg := fence.NewRegistry()
	g := NewGuard(nil)
	a := writeback.NewArbiter(reg, g)

	req := writeback.Request{Client: writeback.ClientExternal, Buffer: 3}
	if _, err := a.Configure(req); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if _, err := g.HandleSecureEvent(KindTUI, true); err != nil {
		t.Fatalf("enter trusted UI: %v", err)
	}

	other := writeback.Request{Client: writeback.ClientColor, Buffer: 4}
	frames := 0
	for g.Settle(a.Status()) != PhaseActive {
		if frames > 10 {
			t.Fatal("trusted UI never became active")
		}
		if a.Status() == writeback.StatusConfigured {
			a.ForceTeardown("trusted UI")
		}
		retire := reg.Create()
		a.OnFrameCommitted(0, retire, fence.NoFence)
		_ = reg.Signal(retire)
		a.Arbitrate()

		if _, err := a.Configure(other); !errors.Is(err, hwerr.ErrRejectedSecure) {
			t.Fatalf("frame %d: Configure error = %v, want rejected secure", frames, err)
		}
		frames++
	}

	if err := a.Teardown(writeback.ClientExternal); err != nil && !errors.Is(err, writeback.ErrNoSession) {
		t.Fatalf("owner teardown after force: %v", err)
	}
	if _, err := a.Configure(other); !errors.Is(err, hwerr.ErrRejectedSecure) {
		t.Fatalf("Configure while trusted UI active error = %v", err)
	}

	if _, err := g.HandleSecureEvent(KindTUI, false); err != nil {
		t.Fatalf("exit trusted UI: %v", err)
	}
	g.Settle(a.Status())
	if _, err := a.Configure(other); err != nil {
		t.Fatalf("Configure after trusted UI exit: %v", err)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindDisplay, KindCamera, KindTUI} {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Fatalf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("hdcp"); err == nil {
		t.Fatal("ParseKind(hdcp) succeeded")
	}
}
