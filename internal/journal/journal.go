// Package journal writes a human-readable record of display state changes
// (config switches, captures, secure sessions, power) to a rotated file.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is the journal verbosity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Event names a journaled state change.
type Event string

const (
	EventConfigRequest  Event = "CONFIG-REQUEST"
	EventConfigApplied  Event = "CONFIG-APPLIED"
	EventConfigFailed   Event = "CONFIG-FAILED"
	EventCaptureStatus  Event = "CAPTURE-STATUS"
	EventCaptureReject  Event = "CAPTURE-REJECT"
	EventSecure         Event = "SECURE"
	EventPower          Event = "POWER"
	EventDisplayStatus  Event = "DISPLAY-STATUS"
	EventFlush          Event = "FLUSH"
	EventDisplayLost    Event = "DISPLAY-LOST"
	EventConfigsChanged Event = "CONFIGS-CHANGED"
	EventVsync          Event = "VSYNC"
)

func eventLevel(e Event) Level {
	switch e {
	case EventCaptureStatus, EventFlush:
		return LevelDebug
	case EventConfigFailed, EventCaptureReject:
		return LevelWarn
	case EventDisplayLost:
		return LevelError
	default:
		return LevelInfo
	}
}

// Config holds journal settings.
type Config struct {
	Enabled   bool
	Level     Level
	FilePath  string
	MaxSizeMB int
	MaxFiles  int
}

// Journal is safe for concurrent use. A nil *Journal discards everything.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	config   Config
	size     int64
	maxBytes int64
	now      func() time.Time
}

// Open creates the journal file's directory and opens it for appending.
// A disabled config yields a journal that writes nothing.
func Open(cfg Config) (*Journal, error) {
	j := &Journal{
		config:   cfg,
		maxBytes: int64(cfg.MaxSizeMB) * 1024 * 1024,
		now:      time.Now,
	}
	if !cfg.Enabled {
		return j, nil
	}

	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", cfg.FilePath, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat journal: %w", err)
	}
	j.file = f
	j.size = st.Size()
	return j, nil
}

// Record appends one line for event on display. display < 0 omits the
// display field. Details are written sorted by key.
func (j *Journal) Record(event Event, display int, details map[string]interface{}) {
	if j == nil || !j.config.Enabled {
		return
	}
	if eventLevel(event) < j.config.Level {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return
	}
	if j.maxBytes > 0 && j.size >= j.maxBytes {
		if err := j.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "journal rotation failed: %v\n", err)
		}
		if j.file == nil {
			return
		}
	}

	var sb strings.Builder
	sb.WriteString(j.now().Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(string(event))
	sb.WriteString("]")
	if display >= 0 {
		fmt.Fprintf(&sb, " display=%d", display)
	}

	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := details[k].(type) {
		case string:
			fmt.Fprintf(&sb, " %s=%q", k, v)
		case fmt.Stringer:
			fmt.Fprintf(&sb, " %s=%q", k, v.String())
		default:
			fmt.Fprintf(&sb, " %s=%v", k, v)
		}
	}
	sb.WriteString("\n")

	n, err := j.file.WriteString(sb.String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal write failed: %v\n", err)
		return
	}
	j.size += int64(n)
}

// Reconfigure switches to cfg in place, so holders of j keep writing to
// the new file.
func (j *Journal) Reconfigure(cfg Config) error {
	next, err := Open(cfg)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		j.file.Close()
	}
	j.config = next.config
	j.file = next.file
	j.size = next.size
	j.maxBytes = next.maxBytes
	return nil
}

// Close flushes and closes the file.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// rotate shifts journal.log.N-1 to .N (dropping the oldest) and reopens an
// empty journal.log.
func (j *Journal) rotate() error {
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}

	base := j.config.FilePath
	for i := j.config.MaxFiles; i >= 1; i-- {
		older := fmt.Sprintf("%s.%d", base, i)
		if i == j.config.MaxFiles {
			os.Remove(older)
			continue
		}
		os.Rename(older, fmt.Sprintf("%s.%d", base, i+1))
	}
	if j.config.MaxFiles > 0 {
		if err := os.Rename(base, base+".1"); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("rotate journal: %w", err)
		}
	} else if err := os.Truncate(base, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncate journal: %w", err)
	}

	f, err := os.OpenFile(base, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("reopen journal: %w", err)
	}
	j.file = f
	j.size = 0
	return nil
}

// ParseLevel converts a level name. Unknown names map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
