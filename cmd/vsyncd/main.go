package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/1broseidon/vsyncd/internal/config"
	"github.com/1broseidon/vsyncd/internal/daemon"
	"github.com/1broseidon/vsyncd/internal/ipc"
	"github.com/1broseidon/vsyncd/internal/runtimepath"
	"gopkg.in/yaml.v3"
)

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "daemon":
		os.Exit(runDaemon(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "reload":
		os.Exit(runReload(os.Args[2:]))
	case "configs":
		os.Exit(runConfigs(os.Args[2:]))
	case "set-config":
		os.Exit(runSetConfig(os.Args[2:]))
	case "capture":
		os.Exit(runCapture(os.Args[2:]))
	case "secure":
		os.Exit(runSecure(os.Args[2:]))
	case "power":
		os.Exit(runPower(os.Args[2:]))
	case "display-status":
		os.Exit(runDisplayStatus(os.Args[2:]))
	case "vsync":
		os.Exit(runVsync(os.Args[2:]))
	case "idle":
		os.Exit(runIdle(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "top":
		os.Exit(runTop(os.Args[2:]))
	case "mcp":
		os.Exit(runMCP(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: vsyncd <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  daemon                   Start the display pipeline daemon (foreground)")
	fmt.Fprintln(w, "  status                   Show per-display pipeline status")
	fmt.Fprintln(w, "  reload                   Re-read the config file")
	fmt.Fprintln(w, "  top                      Live display monitor")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  configs                  List display configs")
	fmt.Fprintln(w, "  set-config               Request an active config change")
	fmt.Fprintln(w, "  power                    Queue a power mode change")
	fmt.Fprintln(w, "  display-status           Take a display online, offline or pause it")
	fmt.Fprintln(w, "  vsync on|off             Toggle vsync reporting")
	fmt.Fprintln(w, "  idle                     Set the idle timeout")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  capture configure        Claim the writeback block")
	fmt.Fprintln(w, "  capture teardown         Release a capture")
	fmt.Fprintln(w, "  secure enter|exit        Report a secure session transition")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config validate          Validate configuration")
	fmt.Fprintln(w, "  config print             Print configuration")
	fmt.Fprintln(w, "  config explain           Explain a config value")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  mcp serve                Start MCP server (stdio transport)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'vsyncd <command> --help' for command-specific options.")
}

// parseFlags wraps FlagSet.Parse with the exit codes every subcommand uses.
func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

func socketFlag(fs *flag.FlagSet) *string {
	return fs.String("socket", "", "Daemon socket path (default: $XDG_RUNTIME_DIR/vsyncd/vsyncd.sock)")
}

func newClient(socket string) (*ipc.Client, error) {
	path, err := runtimepath.SocketPath(socket)
	if err != nil {
		return nil, err
	}
	return ipc.NewClient(path), nil
}

func printErr(err error) int {
	var re *ipc.RemoteError
	if errors.As(err, &re) && re.Kind != "" {
		fmt.Fprintf(os.Stderr, "%s: %s\n", re.Kind, re.Message)
		return 1
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("path", "", "Config file path (default: ~/.config/vsyncd/config.yaml)")
	socket := socketFlag(fs)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vsyncd daemon [--path PATH] [--socket PATH]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Run the display pipeline in the foreground. SIGHUP reloads the config.")
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon takes no arguments")
		fs.Usage()
		return 2
	}

	var res *config.LoadResult
	var err error
	if *path == "" {
		res, err = config.LoadWithSources()
	} else {
		res, err = config.LoadFromPath(*path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	cfg := res.Config

	level := new(slog.LevelVar)
	level.Set(cfg.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	logger.Info("configuration loaded", "engine", cfg.Engine, "displays", len(cfg.Displays), "files", len(res.Files))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := daemon.New(ctx, daemon.Options{
		Config:     cfg,
		ConfigPath: *path,
		Logger:     logger,
		LogLevel:   level,
	})
	if err != nil {
		logger.Error("failed to start pipeline", "err", err)
		return 1
	}
	defer d.Close()

	override := *socket
	if override == "" {
		override = cfg.SocketPath
	}
	sockPath, err := runtimepath.SocketPath(override)
	if err != nil {
		logger.Error("failed to resolve socket path", "err", err)
		return 1
	}
	server := ipc.NewServer(sockPath, d, logger.With("component", "ipc"))
	if err := server.Start(); err != nil {
		logger.Error("failed to start IPC server", "err", err)
		return 1
	}
	defer server.Stop()

	if pidPath, err := runtimepath.PIDPath(); err == nil {
		if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
			logger.Warn("failed to write pid file", "path", pidPath, "err", err)
		} else {
			defer os.Remove(pidPath)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					logger.Info("received SIGHUP, reloading config")
					if err := d.Reload(); err != nil {
						logger.Error("config reload failed", "err", err)
					}
					continue
				}
				logger.Info("shutting down", "signal", sig.String())
				cancel()
				return
			}
		}
	}()

	logger.Info("vsyncd started", "socket", sockPath)
	if err := d.Run(ctx); err != nil {
		logger.Error("pipeline stopped", "err", err)
		return 1
	}
	return 0
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := socketFlag(fs)
	asJSON := fs.Bool("json", false, "Print raw JSON")
	dump := fs.Bool("dump", false, "Print the full pipeline dump")
	displayID := fs.Int("display", -1, "Limit --dump to one display")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vsyncd status [--json] [--dump [--display N]]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Show daemon status via IPC.")
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "status takes no arguments")
		fs.Usage()
		return 2
	}

	client, err := newClient(*socket)
	if err != nil {
		return printErr(err)
	}

	if *dump {
		var sel *int
		if *displayID >= 0 {
			sel = displayID
		}
		text, err := client.Dump(sel)
		if err != nil {
			return printErr(err)
		}
		fmt.Print(text)
		return 0
	}

	status, err := client.GetStatus()
	if err != nil {
		return printErr(err)
	}
	if *asJSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return printErr(err)
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("engine:         %s\n", status.Engine)
	fmt.Printf("uptime_seconds: %d\n", status.UptimeSeconds)
	fmt.Printf("capture:        %s", status.Capture.Status)
	if status.Capture.Client != "" {
		fmt.Printf(" (%s on display %d, %d frames)", status.Capture.Client, status.Capture.Display, status.Capture.FramesCaptured)
	}
	fmt.Println()
	if len(status.Secure.Active) > 0 {
		fmt.Printf("secure:         %v (trusted ui %s)\n", status.Secure.Active, status.Secure.TrustedUI)
	}
	for _, d := range status.Displays {
		fmt.Printf("display %d %s: %s power=%s config=%d %dx%d@%.2f frames=%d layers=%d\n",
			d.ID, d.Name, d.Status, d.Power, d.ActiveConfig.ID,
			d.ActiveConfig.Width, d.ActiveConfig.Height, d.ActiveConfig.RefreshRate,
			d.Frames, d.Layers)
		if d.VsyncEnabled {
			fmt.Printf("  vsync events: %d\n", d.VsyncEvents)
		}
		if d.IdleTimeout > 0 {
			fmt.Printf("  idle timeout %s idle=%v skipped=%d\n", d.IdleTimeout, d.Idle, d.IdleSkips)
		}
		if d.PendingConfig != nil {
			fmt.Printf("  pending config %d applies at %s\n", d.PendingConfig.Target, d.PendingConfig.Timeline.ApplyTime.Format(time.RFC3339Nano))
		}
		if d.Error != "" {
			fmt.Printf("  error: %s\n", d.Error)
		}
	}
	return 0
}

func runReload(args []string) int {
	fs := flag.NewFlagSet("reload", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := socketFlag(fs)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	client, err := newClient(*socket)
	if err != nil {
		return printErr(err)
	}
	if err := client.Reload(); err != nil {
		return printErr(err)
	}
	fmt.Println("reloaded")
	return 0
}

func runConfig(args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  vsyncd config validate [--path PATH]")
		fmt.Fprintln(os.Stderr, "  vsyncd config print [--path PATH] [--effective|--defaults]")
		fmt.Fprintln(os.Stderr, "  vsyncd config explain [--path PATH] <yaml.path>")
		return 2
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("path", "", "Config file path (default: ~/.config/vsyncd/config.yaml)")

	load := func() (*config.LoadResult, error) {
		if *path == "" {
			return config.LoadWithSources()
		}
		return config.LoadFromPath(*path)
	}

	switch args[0] {
	case "validate":
		if code, ok := parseFlags(fs, args[1:]); !ok {
			return code
		}
		if _, err := load(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println("config: ok")
		return 0

	case "print":
		printDefaults := fs.Bool("defaults", false, "Print built-in defaults (no files)")
		_ = fs.Bool("effective", false, "Print effective config (default)")
		if code, ok := parseFlags(fs, args[1:]); !ok {
			return code
		}

		cfg := config.DefaultConfig()
		if !*printDefaults {
			res, err := load()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			cfg = res.Config
		}
		data, err := cfg.Marshal()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Print(string(data))
		return 0

	case "explain":
		if code, ok := parseFlags(fs, args[1:]); !ok {
			return code
		}
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "explain requires <yaml.path>")
			return 2
		}
		queryPath := fs.Arg(0)

		res, err := load()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		value, src, err := config.Explain(res, queryPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		out, err := yaml.Marshal(value)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}

		fmt.Printf("path: %s\n", queryPath)
		fmt.Printf("source: %s\n", formatSource(src))
		fmt.Printf("value:\n%s", string(out))
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", args[0])
		return 2
	}
}

func formatSource(src config.Source) string {
	switch src.Kind {
	case config.SourceFile:
		if src.File == "" {
			return "file"
		}
		if src.Line > 0 {
			return fmt.Sprintf("file:%s:%d:%d", src.File, src.Line, src.Column)
		}
		return "file:" + src.File
	case config.SourceBuiltin:
		if src.Name != "" {
			return "builtin:" + src.Name
		}
		return "builtin"
	case config.SourceDefault:
		if src.Name != "" {
			return "default:" + src.Name
		}
		return "default"
	default:
		return string(src.Kind)
	}
}
