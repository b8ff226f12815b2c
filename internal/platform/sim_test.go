package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/layer"
)

func testConfigs() []DisplayConfig {
	return []DisplayConfig{
		{ID: 0, Width: 1080, Height: 2400, VsyncPeriod: PeriodForRate(60), Group: 1},
		{ID: 1, Width: 1080, Height: 2400, VsyncPeriod: PeriodForRate(90), Group: 1},
	}
}

func TestSimEngineRetireSignalsOnNextCommit(t *testing.T) {
	reg := fence.NewRegistry()
	e, err := NewSimEngine(reg, SimOptions{Configs: testConfigs()})
	if err != nil {
		t.Fatalf("NewSimEngine: %v", err)
	}

	first, err := e.Commit(context.Background(), &Frame{})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if st, _ := reg.Poll(first.Retire); st != fence.Pending {
		t.Fatalf("retire fence signaled before the next frame")
	}
	if _, err := e.Commit(context.Background(), &Frame{}); err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if st, _ := reg.Poll(first.Retire); st != fence.Signaled {
		t.Fatalf("retire fence still pending after the next frame")
	}
}

func TestSimEngineHeldFences(t *testing.T) {
	reg := fence.NewRegistry()
	e, _ := NewSimEngine(reg, SimOptions{Configs: testConfigs()})
	e.HoldFences(true)

	res, _ := e.Commit(context.Background(), &Frame{})
	_, _ = e.Commit(context.Background(), &Frame{})
	if st, _ := reg.Poll(res.Retire); st != fence.Pending {
		t.Fatal("held fence signaled")
	}
	e.SignalOutstanding()
	if st, _ := reg.Poll(res.Retire); st != fence.Signaled {
		t.Fatal("SignalOutstanding did not signal")
	}
}

func TestSimEngineFaults(t *testing.T) {
	reg := fence.NewRegistry()
	e, _ := NewSimEngine(reg, SimOptions{Configs: testConfigs(), MaxDeviceLayers: 1})
	ctx := context.Background()

	e.RejectNextPrepares(1)
	if err := e.Prepare(ctx, &Frame{}); !errors.Is(err, hwerr.ErrHardwareRejected) {
		t.Fatalf("Prepare error = %v, want hardware rejected", err)
	}
	if err := e.Prepare(ctx, &Frame{}); err != nil {
		t.Fatalf("Prepare after one rejection: %v", err)
	}

	two := &Frame{Layers: []*layer.Layer{{ID: 1, Buffer: 1}, {ID: 2, Buffer: 2}}}
	if err := e.Prepare(ctx, two); !errors.Is(err, hwerr.ErrHardwareRejected) {
		t.Fatalf("Prepare over plane budget error = %v", err)
	}

	if _, err := e.Commit(ctx, &Frame{Capture: &CaptureRequest{Buffer: 7}}); !errors.Is(err, hwerr.ErrHardwareRejected) {
		t.Fatalf("capture without writeback support error = %v", err)
	}

	e.Lose()
	if _, err := e.Commit(ctx, &Frame{}); !errors.Is(err, hwerr.ErrTerminal) {
		t.Fatalf("Commit after Lose error = %v, want terminal", err)
	}
}

func TestSimEngineLastVsync(t *testing.T) {
	base := time.Unix(100, 0)
	now := base
	reg := fence.NewRegistry()
	e, _ := NewSimEngine(reg, SimOptions{
		Configs: []DisplayConfig{{ID: 0, Width: 10, Height: 10, VsyncPeriod: 10 * time.Millisecond}},
		Clock:   func() time.Time { return now },
	})

	got := e.LastVsync(base.Add(25 * time.Millisecond))
	if want := base.Add(20 * time.Millisecond); !got.Equal(want) {
		t.Fatalf("LastVsync = %v, want %v", got, want)
	}
}

func TestParsePowerMode(t *testing.T) {
	for _, m := range []PowerMode{PowerOff, PowerDozeSuspend, PowerDoze, PowerOn} {
		got, err := ParsePowerMode(m.String())
		if err != nil || got != m {
			t.Fatalf("ParsePowerMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParsePowerMode("standby"); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Fatalf("ParsePowerMode(standby) error = %v", err)
	}
}

func TestSameGroup(t *testing.T) {
	c := testConfigs()
	if !c[0].SameGroup(c[1]) {
		t.Fatal("60/90 Hz configs with equal resolution and group should match")
	}
	other := c[1]
	other.Width = 720
	if c[0].SameGroup(other) {
		t.Fatal("different resolution should not share a group")
	}
}
