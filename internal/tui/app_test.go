package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/1broseidon/vsyncd/internal/ipc"
)

type fakeSource struct {
	status  *ipc.StatusData
	err     error
	dumped  *int
	dumpOut string
}

func (f *fakeSource) GetStatus() (*ipc.StatusData, error) { return f.status, f.err }

func (f *fakeSource) Dump(display *int) (string, error) {
	f.dumped = display
	return f.dumpOut, f.err
}

func sampleStatus() *ipc.StatusData {
	return &ipc.StatusData{
		UptimeSeconds: 42,
		Engine:        "sim",
		Capture:       ipc.CaptureInfo{Status: "configured", Client: "external", Display: 1, FramesCaptured: 3, FrameLimit: 10},
		Displays: []ipc.DisplayInfo{
			{ID: 0, Name: "panel", Class: "builtin", Status: "online", Power: "on",
				ActiveConfig: ipc.ConfigInfo{Width: 1080, Height: 2400, RefreshRate: 60}, Frames: 120},
			{ID: 1, Name: "hdmi", Class: "external", Status: "online", Power: "on", PendingPower: "off",
				ActiveConfig: ipc.ConfigInfo{Width: 1920, Height: 1080, RefreshRate: 30},
				PendingConfig: &ipc.PendingInfo{Target: 2, Timeline: ipc.TimelineInfo{Seamless: true}}},
		},
	}
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestPollStoresStatus(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	m := newModel(src, time.Second)

	msg := m.poll()()
	m, _ = update(t, m, msg)
	if m.status == nil || len(m.status.Displays) != 2 {
		t.Fatalf("status = %#v", m.status)
	}

	src.err = errors.New("connection refused")
	m, _ = update(t, m, m.poll()())
	if m.lastErr == nil {
		t.Fatal("poll error not recorded")
	}
	if m.status == nil {
		t.Fatal("last good status dropped on error")
	}
}

func TestSelectionWraps(t *testing.T) {
	m := newModel(&fakeSource{}, time.Second)
	m, _ = update(t, m, statusMsg{data: sampleStatus()})

	tests := []struct {
		key  string
		want int
	}{
		{"j", 1},
		{"j", 0},
		{"k", 1},
		{"down", 0},
	}
	for _, tt := range tests {
		m, _ = update(t, m, key(tt.key))
		if m.selected != tt.want {
			t.Fatalf("after %q selected = %d, want %d", tt.key, m.selected, tt.want)
		}
	}

	m.selected = 1
	shrunk := sampleStatus()
	shrunk.Displays = shrunk.Displays[:1]
	m, _ = update(t, m, statusMsg{data: shrunk})
	if m.selected != 0 {
		t.Fatalf("selection not clamped: %d", m.selected)
	}
}

func TestPauseSkipsPolling(t *testing.T) {
	m := newModel(&fakeSource{status: sampleStatus()}, time.Millisecond)
	m, _ = update(t, m, key("p"))
	if !m.paused {
		t.Fatal("not paused")
	}
	_, cmd := update(t, m, tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("tick not rescheduled while paused")
	}
}

func TestDumpOverlay(t *testing.T) {
	src := &fakeSource{status: sampleStatus(), dumpOut: "display 1 hdmi\n  layers 0\n"}
	m := newModel(src, time.Second)
	m, _ = update(t, m, statusMsg{data: src.status})
	m, _ = update(t, m, key("j"))

	m, cmd := update(t, m, key("d"))
	if cmd == nil {
		t.Fatal("d issued no command")
	}
	m, _ = update(t, m, cmd())
	if src.dumped == nil || *src.dumped != 1 {
		t.Fatalf("dumped display = %v", src.dumped)
	}
	if !m.showDump {
		t.Fatal("dump overlay not shown")
	}

	m.width, m.height = 80, 20
	if v := m.View(); !strings.Contains(v, "display 1 hdmi") {
		t.Fatalf("dump view = %q", v)
	}

	m, _ = update(t, m, key("esc"))
	if m.showDump {
		t.Fatal("esc did not close dump")
	}
}

func TestView(t *testing.T) {
	m := newModel(&fakeSource{}, time.Second)
	if v := m.View(); v != "" {
		t.Fatalf("view before size = %q", v)
	}

	m.width, m.height = 120, 30
	if v := m.View(); !strings.Contains(v, "waiting for daemon") {
		t.Fatalf("view without status = %q", v)
	}

	m, _ = update(t, m, statusMsg{data: sampleStatus()})
	m, _ = update(t, m, key("j"))
	v := m.View()
	for _, want := range []string{"panel", "hdmi", "engine:sim", "on>off", "30.0*", "pending config 2 (seamless)", "capture configured by external"} {
		if !strings.Contains(v, want) {
			t.Fatalf("view missing %q:\n%s", want, v)
		}
	}
}

func TestQuit(t *testing.T) {
	m := newModel(&fakeSource{}, time.Second)
	_, cmd := update(t, m, key("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q did not quit")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"panel", 10, "panel"},
		{"external-monitor", 8, "externa…"},
		{"abc", 1, "a"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
