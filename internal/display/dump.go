package display

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/1broseidon/vsyncd/internal/fence"
)

// Dump writes a human-readable description of the display for debugging.
func (d *Display) Dump(w io.Writer) error {
	s := d.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "display %d %q (%s)\n", s.ID, s.Name, s.Class)
	fmt.Fprintf(&b, "  status=%s power=%s", s.Status, s.Power)
	if s.PendingPower != "" {
		fmt.Fprintf(&b, " pending_power=%s", s.PendingPower)
	}
	b.WriteString("\n")
	if s.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", s.Error)
	}

	fmt.Fprintf(&b, "  active config: %s\n", s.Refresh.Active)
	fmt.Fprintf(&b, "  vsync period: %s (%d configs, %d transients, %d switches)\n",
		s.Refresh.VsyncPeriod, s.Configs, s.Refresh.Transients, s.Refresh.Submitted)
	if p := s.Refresh.Pending; p != nil {
		fmt.Fprintf(&b, "  pending config %d: refresh=%s apply=%s seamless=%v\n",
			p.Target, p.Timeline.RefreshTime.Format(time.RFC3339Nano),
			p.Timeline.ApplyTime.Format(time.RFC3339Nano), p.Timeline.Seamless)
	}

	fmt.Fprintf(&b, "  vsync events: enabled=%v count=%d\n", s.Vsync.Enabled, s.Vsync.Events)
	if s.Idle.Timeout > 0 {
		fmt.Fprintf(&b, "  idle: timeout=%s idle=%v skipped_commits=%d\n", s.Idle.Timeout, s.Idle.Idle, s.Idle.Skips)
	}

	f := s.Frame
	fmt.Fprintf(&b, "  frame: state=%s first_commit=%v frames=%d skipped=%d flushes=%d\n",
		f.State, f.FirstCommitDone, f.Frames, f.Skips, f.Flushes)
	fmt.Fprintf(&b, "  composition: device=%d client=%d client_target=%v revalidate=%v\n",
		f.DeviceLayers, f.ClientLayers, f.ClientComposition, f.NeedsRevalidate)

	d.mu.Lock()
	for _, l := range d.stack.Ordered() {
		fmt.Fprintf(&b, "    layer %d z=%d buffer=%#x %s/%s", l.ID, l.Z, l.Buffer, l.Requested, l.Decided)
		if l.SingleBuffered {
			b.WriteString(" single-buffered")
		}
		if l.ReleaseFence != fence.NoFence {
			fmt.Fprintf(&b, " release=%d", l.ReleaseFence)
		}
		b.WriteString("\n")
	}
	d.mu.Unlock()

	if ws := s.Writeback; ws != nil {
		fmt.Fprintf(&b, "  writeback: %s client=%s session=%s frames=%d tap=%s\n",
			ws.Status, ws.Client, ws.ID, ws.FramesCaptured, ws.Config.TapPoint)
	}
	fmt.Fprintf(&b, "  secure: active=%v tui=%s\n", s.Secure.Active, s.Secure.TUI)
	fmt.Fprintf(&b, "  fences: live=%d pending=%d oldest=%s\n", s.Fences.Live, s.Fences.Pending, s.Fences.Oldest)

	_, err := io.WriteString(w, b.String())
	return err
}
