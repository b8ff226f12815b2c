package layer

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/hwerr"
)

func checkOrder(t *testing.T, s *Stack) {
	t.Helper()

	ordered := s.Ordered()
	if len(ordered) != s.Len() {
		t.Fatalf("ordered view has %d layers, stack has %d", len(ordered), s.Len())
	}
	seen := make(map[ID]bool, len(ordered))
	for i, l := range ordered {
		if seen[l.ID] {
			t.Fatalf("layer %d appears twice in ordered view", l.ID)
		}
		seen[l.ID] = true
		if i == 0 {
			continue
		}
		prev := ordered[i-1]
		if prev.Z > l.Z || (prev.Z == l.Z && prev.seq > l.seq) {
			t.Fatalf("order broken at %d: (z=%d seq=%d) before (z=%d seq=%d)", i, prev.Z, prev.seq, l.Z, l.seq)
		}
	}
}

func TestOrderedByZThenCreation(t *testing.T) {
	s := NewStack()
	a := s.Create()
	b := s.Create()
	c := s.Create()

	_ = s.SetZ(a, 5)
	_ = s.SetZ(b, 1)
	_ = s.SetZ(c, 5)

	ordered := s.Ordered()
	want := []ID{b, a, c}
	for i, id := range want {
		if ordered[i].ID != id {
			t.Fatalf("ordered[%d] = %d, want %d", i, ordered[i].ID, id)
		}
	}
}

func TestOrderedSurvivesRandomMutations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewStack()
	var live []ID

	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(4); {
		case op == 0 || len(live) == 0:
			live = append(live, s.Create())
		case op == 1:
			i := rng.Intn(len(live))
			if err := s.Destroy(live[i]); err != nil {
				t.Fatalf("Destroy: %v", err)
			}
			live = append(live[:i], live[i+1:]...)
		default:
			id := live[rng.Intn(len(live))]
			if err := s.SetZ(id, int32(rng.Intn(9)-4)); err != nil {
				t.Fatalf("SetZ: %v", err)
			}
		}
		if step%7 == 0 {
			checkOrder(t, s)
		}
	}
	checkOrder(t, s)
}

func TestClientTargetNotCounted(t *testing.T) {
	s := NewStack()
	s.Create()
	s.SetClientTarget(99, fence.NoFence, nil)

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	for _, l := range s.Ordered() {
		if l.Buffer == 99 {
			t.Fatal("client target leaked into ordered view")
		}
	}
	if s.ClientTarget().Buffer != 99 {
		t.Fatalf("client target buffer = %d, want 99", s.ClientTarget().Buffer)
	}
}

func TestUnknownLayer(t *testing.T) {
	s := NewStack()
	err := s.SetZ(12, 1)
	if !errors.Is(err, ErrUnknownLayer) || !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Fatalf("SetZ(unknown) error = %v, want ErrUnknownLayer", err)
	}
}

func TestChangeFlags(t *testing.T) {
	s := NewStack()
	id := s.Create()
	if !s.Changes().Geometry {
		t.Fatal("Create should flag a geometry change")
	}
	s.ClearChanges()

	_ = s.SetZ(id, 0)
	if s.Changes().Any() {
		t.Fatal("setting the same Z should not flag a change")
	}

	_ = s.SetBuffer(id, 3, fence.NoFence)
	if c := s.Changes(); !c.Content || c.Geometry {
		t.Fatalf("SetBuffer changes = %+v, want content only", c)
	}

	_ = s.SetComposition(id, CompositionClient)
	if !s.Changes().Composition {
		t.Fatal("SetComposition should flag a composition change")
	}
}

func TestParseComposition(t *testing.T) {
	if c, err := ParseComposition("client"); err != nil || c != CompositionClient {
		t.Fatalf("ParseComposition(client) = %v, %v", c, err)
	}
	if _, err := ParseComposition("sideband"); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Fatalf("ParseComposition(sideband) error = %v", err)
	}
}
