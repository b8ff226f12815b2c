package layer

import (
	"fmt"
	"sort"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/hwerr"
)

var ErrUnknownLayer = fmt.Errorf("%w: unknown layer", hwerr.ErrInvalidArgument)

// Changes records what moved since the flags were last cleared.
type Changes struct {
	Geometry    bool // add, remove, Z or frame changes
	Content     bool // buffer or damage changes
	Composition bool // requested composition changes
}

// Any reports whether anything changed.
func (c Changes) Any() bool {
	return c.Geometry || c.Content || c.Composition
}

// Stack owns a display's layers. It is not safe for concurrent use; the
// owning display serialises access.
type Stack struct {
	layers  map[ID]*Layer
	ordered []*Layer
	dirty   bool

	nextID  ID
	nextSeq uint64
	changes Changes

	target ClientTarget
}

// NewStack returns an empty stack.
func NewStack() *Stack {
	return &Stack{layers: make(map[ID]*Layer)}
}

// Create adds a layer with default properties and returns its id.
func (s *Stack) Create() ID {
	s.nextID++
	s.nextSeq++
	l := &Layer{
		ID:           s.nextID,
		Requested:    CompositionDevice,
		Decided:      CompositionDevice,
		AcquireFence: fence.NoFence,
		ReleaseFence: fence.NoFence,
		seq:          s.nextSeq,
	}
	s.layers[l.ID] = l
	s.markGeometry()
	return l.ID
}

// Destroy removes a layer.
func (s *Stack) Destroy(id ID) error {
	if _, ok := s.layers[id]; !ok {
		return fmt.Errorf("destroy layer %d: %w", id, ErrUnknownLayer)
	}
	delete(s.layers, id)
	s.markGeometry()
	return nil
}

// Len is the number of client layers; the client target is not counted.
func (s *Stack) Len() int {
	return len(s.layers)
}

// Get returns a copy of the layer.
func (s *Stack) Get(id ID) (Layer, error) {
	l, ok := s.layers[id]
	if !ok {
		return Layer{}, fmt.Errorf("layer %d: %w", id, ErrUnknownLayer)
	}
	cp := *l
	cp.Damage = append([]Rect(nil), l.Damage...)
	return cp, nil
}

func (s *Stack) lookup(id ID) (*Layer, error) {
	l, ok := s.layers[id]
	if !ok {
		return nil, fmt.Errorf("layer %d: %w", id, ErrUnknownLayer)
	}
	return l, nil
}

// SetBuffer attaches a buffer and its acquire fence. A zero buffer detaches.
func (s *Stack) SetBuffer(id ID, buffer uint64, acquire fence.ID) error {
	l, err := s.lookup(id)
	if err != nil {
		return err
	}
	l.Buffer = buffer
	l.AcquireFence = acquire
	s.changes.Content = true
	return nil
}

// SetZ moves a layer in the stacking order.
func (s *Stack) SetZ(id ID, z int32) error {
	l, err := s.lookup(id)
	if err != nil {
		return err
	}
	if l.Z != z {
		l.Z = z
		s.markGeometry()
	}
	return nil
}

// SetFrame sets the layer's destination rectangle.
func (s *Stack) SetFrame(id ID, r Rect) error {
	l, err := s.lookup(id)
	if err != nil {
		return err
	}
	if l.Frame != r {
		l.Frame = r
		s.markGeometry()
	}
	return nil
}

// SetDamage replaces the damage region.
func (s *Stack) SetDamage(id ID, damage []Rect) error {
	l, err := s.lookup(id)
	if err != nil {
		return err
	}
	l.Damage = append(l.Damage[:0], damage...)
	s.changes.Content = true
	return nil
}

// SetComposition sets the composition the client asks for.
func (s *Stack) SetComposition(id ID, c Composition) error {
	l, err := s.lookup(id)
	if err != nil {
		return err
	}
	if c != CompositionDevice && c != CompositionClient {
		return fmt.Errorf("layer %d: %w: composition %d", id, hwerr.ErrInvalidArgument, int(c))
	}
	if l.Requested != c {
		l.Requested = c
		s.changes.Composition = true
	}
	return nil
}

// SetSingleBuffered flags a front-buffer-rendered layer.
func (s *Stack) SetSingleBuffered(id ID, single bool) error {
	l, err := s.lookup(id)
	if err != nil {
		return err
	}
	if l.SingleBuffered != single {
		l.SingleBuffered = single
		s.changes.Composition = true
	}
	return nil
}

// SetClientTarget replaces the client target buffer.
func (s *Stack) SetClientTarget(buffer uint64, acquire fence.ID, damage []Rect) {
	s.target.Buffer = buffer
	s.target.AcquireFence = acquire
	s.target.Damage = append(s.target.Damage[:0], damage...)
	s.changes.Content = true
}

// ClientTarget returns the client target. The pointer stays valid for the
// lifetime of the stack.
func (s *Stack) ClientTarget() *ClientTarget {
	return &s.target
}

// Ordered returns layers bottom to top: ascending Z, ties broken by creation
// order. The view is rebuilt from scratch after any geometry change. The
// returned slice is owned by the stack and is valid until the next mutation.
func (s *Stack) Ordered() []*Layer {
	if s.dirty || len(s.ordered) != len(s.layers) {
		s.rebuild()
	}
	return s.ordered
}

func (s *Stack) rebuild() {
	s.ordered = s.ordered[:0]
	for _, l := range s.layers {
		s.ordered = append(s.ordered, l)
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		a, b := s.ordered[i], s.ordered[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.seq < b.seq
	})
	s.dirty = false
}

func (s *Stack) markGeometry() {
	s.dirty = true
	s.changes.Geometry = true
}

// Changes returns the accumulated change flags.
func (s *Stack) Changes() Changes {
	return s.changes
}

// ClearChanges resets the change flags after a prepare consumed them.
func (s *Stack) ClearChanges() {
	s.changes = Changes{}
}

// MarkGeometryChanged forces a full revalidation, e.g. after a mode switch.
func (s *Stack) MarkGeometryChanged() {
	s.markGeometry()
}
