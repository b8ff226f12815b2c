package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/1broseidon/vsyncd/internal/ipc"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("250")).
			Padding(0, 1)

	columnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("245"))

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("62"))

	rowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	detailStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			MarginTop(1)

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func renderHeader(s *ipc.StatusData, err error, paused bool, width int) string {
	var parts []string
	switch {
	case err != nil:
		parts = append(parts, errorStyle.Render("●")+" daemon unreachable: "+err.Error())
	case s == nil:
		parts = append(parts, mutedStyle.Render("●")+" connecting")
	default:
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
		parts = append(parts,
			dot+" vsyncd",
			"engine:"+s.Engine,
			"up:"+(time.Duration(s.UptimeSeconds)*time.Second).String(),
			"capture:"+s.Capture.Status,
		)
		if len(s.Secure.Active) > 0 {
			parts = append(parts, "secure:"+strings.Join(s.Secure.Active, ","))
		}
	}
	if paused {
		parts = append(parts, "[paused]")
	}
	return headerStyle.Width(width).Render(strings.Join(parts, "  "))
}

const rowFormat = "%-3s %-12s %-8s %-12s %-14s %-7s %-10s %8s %6s %6s"

func renderDisplayTable(displays []ipc.DisplayInfo, selected, width int) string {
	lines := []string{
		columnStyle.Render(fmt.Sprintf(rowFormat, "ID", "NAME", "STATUS", "POWER", "MODE", "HZ", "FRAME", "FRAMES", "SKIP", "LAYERS")),
	}
	for i, d := range displays {
		power := d.Power
		if d.PendingPower != "" {
			power += ">" + d.PendingPower
		}
		hz := fmt.Sprintf("%.1f", d.ActiveConfig.RefreshRate)
		if d.PendingConfig != nil {
			hz += "*"
		}
		line := fmt.Sprintf(rowFormat,
			fmt.Sprint(d.ID),
			truncate(d.Name, 12),
			d.Status,
			power,
			fmt.Sprintf("%dx%d", d.ActiveConfig.Width, d.ActiveConfig.Height),
			hz,
			d.FrameState,
			fmt.Sprint(d.Frames),
			fmt.Sprint(d.SkippedPrepares),
			fmt.Sprint(d.Layers),
		)
		line = truncate(line, width)
		if i == selected {
			lines = append(lines, selectedRowStyle.Width(width).Render(line))
		} else {
			lines = append(lines, rowStyle.Render(line))
		}
	}
	return strings.Join(lines, "\n")
}

func renderDetail(s *ipc.StatusData, selected, width int) string {
	if len(s.Displays) == 0 {
		return mutedStyle.Render("no displays")
	}
	d := s.Displays[selected]

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)  config %d  group %d  vsync %v\n",
		d.Name, d.Class, d.ActiveConfig.ID, d.ActiveConfig.Group, d.VsyncPeriod)
	if p := d.PendingConfig; p != nil {
		mode := "full mode set"
		if p.Timeline.Seamless {
			mode = "seamless"
		}
		fmt.Fprintf(&b, "pending config %d (%s) applies in %v\n",
			p.Target, mode, time.Until(p.Timeline.ApplyTime).Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "flushes %d  client layers %d  live fences %d  first commit %v",
		d.Flushes, d.ClientLayers, d.LiveFences, d.FirstCommitDone)
	if s.Capture.Status != "available" && s.Capture.Status != "unsupported" && s.Capture.Display == d.ID {
		fmt.Fprintf(&b, "\ncapture %s by %s  frames %d", s.Capture.Status, s.Capture.Client, s.Capture.FramesCaptured)
		if s.Capture.FrameLimit > 0 {
			fmt.Fprintf(&b, "/%d", s.Capture.FrameLimit)
		}
	}
	if d.Error != "" {
		b.WriteString("\n" + errorStyle.Render("error: "+d.Error))
	}

	w := width - 2
	if w < 10 {
		w = 10
	}
	return detailStyle.Width(w).Render(b.String())
}

func renderDump(text string, width, height int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for i, l := range lines {
		lines[i] = truncate(l, width)
	}
	return lipgloss.NewStyle().Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func renderPlaceholder(msg string, width, height int) string {
	return mutedStyle.
		Width(width).
		Height(height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(msg)
}

func renderHelpBar(dump bool, width int) string {
	help := "j/k: select  d: dump  r: refresh  p: pause  q/ctrl-c: quit"
	if dump {
		help = "esc/d: back  q/ctrl-c: quit"
	}
	return mutedStyle.Width(width).Padding(0, 1).Render(help)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return string(r[:1])
	}
	return string(r[:n-1]) + "…"
}
