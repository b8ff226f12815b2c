package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/1broseidon/vsyncd/internal/config"
)

func TestFormatSource(t *testing.T) {
	tests := []struct {
		src  config.Source
		want string
	}{
		{config.Source{Kind: config.SourceFile, File: "/etc/v.yaml", Line: 3, Column: 5}, "file:/etc/v.yaml:3:5"},
		{config.Source{Kind: config.SourceFile, File: "/etc/v.yaml"}, "file:/etc/v.yaml"},
		{config.Source{Kind: config.SourceFile}, "file"},
		{config.Source{Kind: config.SourceBuiltin, Name: "display template"}, "builtin:display template"},
		{config.Source{Kind: config.SourceDefault}, "default"},
	}
	for _, tt := range tests {
		if got := formatSource(tt.src); got != tt.want {
			t.Fatalf("formatSource(%#v) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestParseFlagsExitCodes(t *testing.T) {
	newFS := func() *flag.FlagSet {
		fs := flag.NewFlagSet("x", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.Bool("json", false, "")
		return fs
	}
	if code, ok := parseFlags(newFS(), []string{"--json"}); !ok || code != 0 {
		t.Fatalf("valid flags = %d, %v", code, ok)
	}
	if code, ok := parseFlags(newFS(), []string{"-h"}); ok || code != 0 {
		t.Fatalf("help = %d, %v", code, ok)
	}
	if code, ok := parseFlags(newFS(), []string{"--nope"}); ok || code != 2 {
		t.Fatalf("unknown flag = %d, %v", code, ok)
	}
}

func TestConfigCommands(t *testing.T) {
	stdout := os.Stdout
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = devnull
	t.Cleanup(func() {
		os.Stdout = stdout
		devnull.Close()
	})

	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(good, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("log_level: debug\nrefresh: 90\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		args []string
		want int
	}{
		{[]string{"validate", "--path", good}, 0},
		{[]string{"validate", "--path", bad}, 1},
		{[]string{"print", "--defaults"}, 0},
		{[]string{"explain", "--path", good, "log_level"}, 0},
		{[]string{"explain", "--path", good}, 2},
		{[]string{"frobnicate"}, 2},
	}
	for _, tt := range tests {
		if got := runConfig(tt.args); got != tt.want {
			t.Fatalf("runConfig(%v) = %d, want %d", tt.args, got, tt.want)
		}
	}
}

func TestClientCommandsWithoutDaemon(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "missing.sock")
	if got := runStatus([]string{"--socket", sock}); got != 1 {
		t.Fatalf("runStatus = %d, want 1", got)
	}
	if got := runSetConfig([]string{"--socket", sock}); got != 2 {
		t.Fatalf("runSetConfig without target = %d, want 2", got)
	}
	if got := runPower([]string{"--socket", sock, "on"}); got != 1 {
		t.Fatalf("runPower = %d, want 1", got)
	}
	if got := runVsync([]string{"--socket", sock, "sometimes"}); got != 2 {
		t.Fatalf("runVsync with bad state = %d, want 2", got)
	}
	if got := runVsync([]string{"--socket", sock, "on"}); got != 1 {
		t.Fatalf("runVsync = %d, want 1", got)
	}
	if got := runIdle([]string{"--socket", sock, "--timeout", "-1s"}); got != 2 {
		t.Fatalf("runIdle with negative timeout = %d, want 2", got)
	}
	if got := runIdle([]string{"--socket", sock, "--timeout", "2s"}); got != 1 {
		t.Fatalf("runIdle = %d, want 1", got)
	}
}
