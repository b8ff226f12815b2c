package writeback

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/1broseidon/vsyncd/internal/hwerr"
	"github.com/1broseidon/vsyncd/internal/layer"
)

// Client identifies who asked for a capture.
type Client int

const (
	ClientNone Client = iota
	ClientFrameDump
	ClientColor
	ClientExternal
	ClientComposer
)

var clientNames = map[Client]string{
	ClientNone:      "none",
	ClientFrameDump: "frame_dump",
	ClientColor:     "color",
	ClientExternal:  "external",
	ClientComposer:  "composer",
}

func (c Client) String() string {
	if s, ok := clientNames[c]; ok {
		return s
	}
	return fmt.Sprintf("client(%d)", int(c))
}

// ParseClient parses a client name.
func ParseClient(s string) (Client, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range clientNames {
		if name == s && c != ClientNone {
			return c, nil
		}
	}
	return ClientNone, fmt.Errorf("%w: unknown capture client %q", hwerr.ErrInvalidArgument, s)
}

func (c Client) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Status is the writeback block state.
type Status int

const (
	StatusAvailable Status = iota
	StatusConfigured
	StatusTeardown
	StatusPostTeardown
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusConfigured:
		return "configured"
	case StatusTeardown:
		return "teardown"
	case StatusPostTeardown:
		return "post_teardown"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// TapPoint is where in the pipeline the capture is taken.
type TapPoint string

const (
	TapMixer  TapPoint = "mixer"  // after blending, before color processing
	TapDSPP   TapPoint = "dspp"   // after color processing
	TapDemura TapPoint = "demura" // after panel correction
)

// CaptureConfig describes what to capture.
type CaptureConfig struct {
	TapPoint TapPoint   `json:"tap_point"`
	ROI      layer.Rect `json:"roi"` // empty means full frame
}

// Validate checks the tap point.
func (c CaptureConfig) Validate() error {
	switch c.TapPoint {
	case "", TapMixer, TapDSPP, TapDemura:
	default:
		return fmt.Errorf("%w: unknown tap point %q", hwerr.ErrInvalidArgument, c.TapPoint)
	}
	if c.ROI.W < 0 || c.ROI.H < 0 {
		return fmt.Errorf("%w: negative capture region", hwerr.ErrInvalidArgument)
	}
	return nil
}
