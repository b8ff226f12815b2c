// Package layer holds the per-display stack of client layers and the client
// target the GPU composes into when the engine cannot take a layer directly.
package layer

import (
	"fmt"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/hwerr"
)

// ID identifies a layer within one display.
type ID uint64

// Composition is how a layer reaches the screen.
type Composition int

const (
	// CompositionDevice means the display engine scans the layer out directly.
	CompositionDevice Composition = iota
	// CompositionClient means the layer is drawn into the client target.
	CompositionClient
)

func (c Composition) String() string {
	switch c {
	case CompositionDevice:
		return "device"
	case CompositionClient:
		return "client"
	default:
		return fmt.Sprintf("composition(%d)", int(c))
	}
}

// ParseComposition maps "device"/"client" to a Composition.
func ParseComposition(s string) (Composition, error) {
	switch s {
	case "device":
		return CompositionDevice, nil
	case "client":
		return CompositionClient, nil
	default:
		return CompositionDevice, fmt.Errorf("%w: unknown composition %q", hwerr.ErrInvalidArgument, s)
	}
}

// Request is a hint returned to the client together with the decided type.
type Request int

const (
	RequestNone Request = iota
	// RequestClearClientTarget asks the client to clear the area under a
	// device layer in the client target.
	RequestClearClientTarget
)

// Rect is an integer rectangle in display coordinates.
type Rect struct {
	X, Y int32
	W, H int32
}

// Empty reports whether r covers no pixels.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Layer is one client buffer on the display.
type Layer struct {
	ID     ID
	Buffer uint64 // 0 when no buffer is attached
	Z      int32
	Frame  Rect
	Damage []Rect

	Requested Composition
	Decided   Composition
	Request   Request

	AcquireFence   fence.ID
	ReleaseFence   fence.ID
	SingleBuffered bool

	seq uint64
}

// HasBuffer reports whether the layer has content to show this frame.
func (l *Layer) HasBuffer() bool {
	return l.Buffer != 0
}

// ClientTarget is the buffer client-composed layers are flattened into.
type ClientTarget struct {
	Buffer       uint64
	AcquireFence fence.ID
	Damage       []Rect
	ReleaseFence fence.ID
}
