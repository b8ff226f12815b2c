package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/1broseidon/vsyncd/internal/ipc"
)

func runConfigs(args []string) int {
	fs := flag.NewFlagSet("configs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := socketFlag(fs)
	displayID := fs.Int("display", 0, "Display id")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	client, err := newClient(*socket)
	if err != nil {
		return printErr(err)
	}
	data, err := client.ListConfigs(*displayID)
	if err != nil {
		return printErr(err)
	}

	fmt.Printf("%-4s %-12s %-9s %-12s %s\n", "ID", "MODE", "HZ", "PERIOD", "GROUP")
	for _, c := range data.Configs {
		marker := " "
		if c.ID == data.Active {
			marker = "*"
		}
		fmt.Printf("%s%-3d %-12s %-9.2f %-12v %d\n",
			marker, c.ID, fmt.Sprintf("%dx%d", c.Width, c.Height), c.RefreshRate, c.VsyncPeriod, c.Group)
	}
	if len(data.SupportedRates) > 0 {
		rates := make([]string, len(data.SupportedRates))
		for i, r := range data.SupportedRates {
			rates[i] = fmt.Sprintf("%.2f", r)
		}
		fmt.Printf("supported rates: %s\n", strings.Join(rates, " "))
	}
	return 0
}

func runSetConfig(args []string) int {
	fs := flag.NewFlagSet("set-config", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := socketFlag(fs)
	displayID := fs.Int("display", 0, "Display id")
	configID := fs.Int("config", -1, "Target config id")
	rate := fs.Float64("rate", 0, "Target refresh rate in Hz (closest config at the current resolution)")
	seamless := fs.Bool("seamless", false, "Fail rather than do a full mode set")
	within := fs.Duration("within", 0, "Desired time from now for the new period to take effect")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vsyncd set-config [--display N] (--config ID | --rate HZ) [--seamless] [--within DUR]")
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *configID < 0 && *rate <= 0 {
		fmt.Fprintln(os.Stderr, "set-config requires --config or --rate")
		fs.Usage()
		return 2
	}

	p := ipc.RequestConfigPayload{
		Display:          *displayID,
		RefreshRate:      *rate,
		SeamlessRequired: *seamless,
	}
	if *configID >= 0 {
		id := uint32(*configID)
		p.Config = &id
	}
	if *within > 0 {
		p.DesiredTime = time.Now().Add(*within)
	}

	client, err := newClient(*socket)
	if err != nil {
		return printErr(err)
	}
	tl, err := client.RequestConfig(p)
	if err != nil {
		return printErr(err)
	}
	fmt.Printf("seamless:     %v\n", tl.Seamless)
	fmt.Printf("refresh_time: %s\n", tl.RefreshTime.Format(time.RFC3339Nano))
	fmt.Printf("apply_time:   %s\n", tl.ApplyTime.Format(time.RFC3339Nano))
	return 0
}

func printCaptureUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  vsyncd capture configure [--display N] --client NAME --buffer H [--tap mixer|dspp|demura] [--frames N]")
	fmt.Fprintln(w, "  vsyncd capture teardown [--display N] --client NAME")
}

func runCapture(args []string) int {
	if len(args) == 0 {
		printCaptureUsage(os.Stderr)
		return 2
	}

	fs := flag.NewFlagSet("capture "+args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := socketFlag(fs)
	displayID := fs.Int("display", 0, "Display id")
	clientName := fs.String("client", "", "Capture client: frame_dump, color, external or composer")

	switch args[0] {
	case "configure":
		buffer := fs.Uint64("buffer", 0, "Destination buffer handle")
		tap := fs.String("tap", "", "Tap point (default: mixer)")
		frames := fs.Int("frames", 0, "Frame limit (0: until teardown)")
		if code, ok := parseFlags(fs, args[1:]); !ok {
			return code
		}
		if *clientName == "" {
			fmt.Fprintln(os.Stderr, "capture configure requires --client")
			return 2
		}
		client, err := newClient(*socket)
		if err != nil {
			return printErr(err)
		}
		data, err := client.ConfigureCapture(ipc.CapturePayload{
			Display:    *displayID,
			Client:     *clientName,
			Buffer:     *buffer,
			TapPoint:   *tap,
			FrameLimit: *frames,
		})
		if err != nil {
			return printErr(err)
		}
		fmt.Printf("session: %s\n", data.Session)
		return 0

	case "teardown":
		if code, ok := parseFlags(fs, args[1:]); !ok {
			return code
		}
		if *clientName == "" {
			fmt.Fprintln(os.Stderr, "capture teardown requires --client")
			return 2
		}
		client, err := newClient(*socket)
		if err != nil {
			return printErr(err)
		}
		if err := client.TeardownCapture(ipc.TeardownPayload{Display: *displayID, Client: *clientName}); err != nil {
			return printErr(err)
		}
		return 0

	case "help", "-h", "--help":
		printCaptureUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown capture command: %s\n\n", args[0])
		printCaptureUsage(os.Stderr)
		return 2
	}
}

func runSecure(args []string) int {
	usage := func(w io.Writer) {
		fmt.Fprintln(w, "Usage: vsyncd secure enter|exit <display|camera|tui>")
	}
	if len(args) == 0 {
		usage(os.Stderr)
		return 2
	}
	var entering bool
	switch args[0] {
	case "enter":
		entering = true
	case "exit":
	case "help", "-h", "--help":
		usage(os.Stdout)
		return 0
	default:
		usage(os.Stderr)
		return 2
	}

	fs := flag.NewFlagSet("secure", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := socketFlag(fs)
	if code, ok := parseFlags(fs, args[1:]); !ok {
		return code
	}
	if fs.NArg() != 1 {
		usage(os.Stderr)
		return 2
	}

	client, err := newClient(*socket)
	if err != nil {
		return printErr(err)
	}
	data, err := client.SecureEvent(ipc.SecureEventPayload{Kind: fs.Arg(0), Entering: entering})
	if err != nil {
		return printErr(err)
	}
	fmt.Printf("refreshed displays: %v\n", data.Refreshed)
	return 0
}

func runPower(args []string) int {
	fs := flag.NewFlagSet("power", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := socketFlag(fs)
	displayID := fs.Int("display", 0, "Display id")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vsyncd power [--display N] <off|doze_suspend|doze|on>")
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	client, err := newClient(*socket)
	if err != nil {
		return printErr(err)
	}
	if err := client.SetPowerMode(ipc.PowerModePayload{Display: *displayID, Mode: fs.Arg(0)}); err != nil {
		return printErr(err)
	}
	return 0
}

func runDisplayStatus(args []string) int {
	fs := flag.NewFlagSet("display-status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := socketFlag(fs)
	displayID := fs.Int("display", 0, "Display id")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vsyncd display-status [--display N] <online|offline|paused>")
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	client, err := newClient(*socket)
	if err != nil {
		return printErr(err)
	}
	if err := client.SetDisplayStatus(ipc.DisplayStatusPayload{Display: *displayID, Status: fs.Arg(0)}); err != nil {
		return printErr(err)
	}
	return 0
}

func runVsync(args []string) int {
	fs := flag.NewFlagSet("vsync", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := socketFlag(fs)
	displayID := fs.Int("display", 0, "Display id")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vsyncd vsync [--display N] <on|off>")
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 || (fs.Arg(0) != "on" && fs.Arg(0) != "off") {
		fs.Usage()
		return 2
	}

	client, err := newClient(*socket)
	if err != nil {
		return printErr(err)
	}
	if err := client.SetVsync(ipc.VsyncPayload{Display: *displayID, Enabled: fs.Arg(0) == "on"}); err != nil {
		return printErr(err)
	}
	return 0
}

func runIdle(args []string) int {
	fs := flag.NewFlagSet("idle", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := socketFlag(fs)
	displayID := fs.Int("display", 0, "Display id")
	timeout := fs.Duration("timeout", 0, "Idle timeout (0 disables)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vsyncd idle [--display N] --timeout DURATION")
		fs.PrintDefaults()
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 || *timeout < 0 {
		fs.Usage()
		return 2
	}

	client, err := newClient(*socket)
	if err != nil {
		return printErr(err)
	}
	if err := client.SetIdleTimeout(ipc.IdleTimeoutPayload{Display: *displayID, Timeout: *timeout}); err != nil {
		return printErr(err)
	}
	return 0
}
