package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/1broseidon/vsyncd/internal/tui"
)

func runTop(args []string) int {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := socketFlag(fs)
	interval := fs.Duration("interval", tui.DefaultInterval, "Poll interval")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vsyncd top [--interval DUR]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Live per-display monitor.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Keybindings:")
		fmt.Fprintln(os.Stderr, "  j/k, ↑/↓  Select display")
		fmt.Fprintln(os.Stderr, "  d         Dump selected display")
		fmt.Fprintln(os.Stderr, "  r         Refresh now")
		fmt.Fprintln(os.Stderr, "  p, space  Pause polling")
		fmt.Fprintln(os.Stderr, "  q, Ctrl+C Quit")
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	client, err := newClient(*socket)
	if err != nil {
		return printErr(err)
	}
	if err := tui.Run(client, *interval); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
