package display

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/1broseidon/vsyncd/internal/hwerr"
)

// Class is the kind of display. The set is closed; behavior differences
// live in the traits table rather than in per-class types.
type Class int

const (
	ClassBuiltin Class = iota
	ClassPluggable
	ClassVirtual
	ClassNull
)

type traits struct {
	name string
	// writeback: the display can be the source of a capture.
	writeback bool
	// configSwitch: the active config can change after creation.
	configSwitch bool
	// scanout: frames are committed to the engine. Null displays validate
	// but never commit.
	scanout bool
}

var classTraits = map[Class]traits{
	ClassBuiltin:   {name: "builtin", writeback: true, configSwitch: true, scanout: true},
	ClassPluggable: {name: "pluggable", writeback: false, configSwitch: true, scanout: true},
	ClassVirtual:   {name: "virtual", writeback: true, configSwitch: false, scanout: true},
	ClassNull:      {name: "null", writeback: false, configSwitch: false, scanout: false},
}

func (c Class) traits() traits {
	return classTraits[c]
}

func (c Class) String() string {
	if t, ok := classTraits[c]; ok {
		return t.name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

func (c Class) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// ParseClass parses a class name.
func ParseClass(s string) (Class, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, t := range classTraits {
		if t.name == s {
			return c, nil
		}
	}
	return ClassBuiltin, fmt.Errorf("%w: unknown display class %q", hwerr.ErrInvalidArgument, s)
}

// Status is whether the display is taking frames.
type Status int

const (
	StatusOnline Status = iota
	StatusOffline
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	case StatusPaused:
		return "paused"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ParseStatus parses a status name. "resume" is accepted for online.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online", "resume":
		return StatusOnline, nil
	case "offline":
		return StatusOffline, nil
	case "paused", "pause":
		return StatusPaused, nil
	default:
		return StatusOnline, fmt.Errorf("%w: unknown display status %q", hwerr.ErrInvalidArgument, s)
	}
}
