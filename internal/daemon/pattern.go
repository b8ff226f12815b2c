package daemon

import (
	"sync"

	"github.com/1broseidon/vsyncd/internal/display"
	"github.com/1broseidon/vsyncd/internal/fence"
	"github.com/1broseidon/vsyncd/internal/layer"
)

// TestPattern keeps one full-screen layer per display and gives it a new
// buffer every frame.
type TestPattern struct {
	mu     sync.Mutex
	layers map[int]layer.ID
}

// NewTestPattern creates an empty pattern source.
func NewTestPattern() *TestPattern {
	return &TestPattern{layers: make(map[int]layer.ID)}
}

// Frame implements FrameSource.
func (p *TestPattern) Frame(d *display.Display, n uint64) error {
	p.mu.Lock()
	id, ok := p.layers[d.ID()]
	p.mu.Unlock()

	if !ok {
		var err error
		id, err = d.CreateLayer()
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.layers[d.ID()] = id
		p.mu.Unlock()
	}

	active := d.ActiveConfig()
	if err := d.SetLayerFrame(id, layer.Rect{W: int32(active.Width), H: int32(active.Height)}); err != nil {
		return err
	}
	// Buffer handles are never zero; zero means no buffer.
	return d.SetLayerBuffer(id, n+1, fence.NoFence)
}
