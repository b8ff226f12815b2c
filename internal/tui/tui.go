package tui

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/1broseidon/vsyncd/internal/ipc"
)

// DefaultInterval is how often the monitor polls the daemon.
const DefaultInterval = 500 * time.Millisecond

// Source is what the monitor polls. *ipc.Client satisfies it.
type Source interface {
	GetStatus() (*ipc.StatusData, error)
	Dump(display *int) (string, error)
}

var _ Source = (*ipc.Client)(nil)

// Run starts the live display monitor and blocks until the user quits.
func Run(src Source, interval time.Duration) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("top requires an interactive terminal (stdin/stdout must be TTYs)")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	m := newModel(src, interval)
	// Seed the size so the first frame renders before WindowSizeMsg arrives.
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		m.width, m.height = w, h
	}

	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
