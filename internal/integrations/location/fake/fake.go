package fake

import (
	"context"
	"sync"

	"github.com/HomePlate/OrderTrack/internal/geo"
)

// FakeProvider returns a scripted position. Useful in tests and for running
// the courier flow without a real positioning backend.
type FakeProvider struct {
	mu  sync.Mutex
	pos geo.Coordinate
	err error
}

func New(pos geo.Coordinate) *FakeProvider {
	return &FakeProvider{pos: pos}
}

func (f *FakeProvider) SetPosition(pos geo.Coordinate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = pos
	f.err = nil
}

func (f *FakeProvider) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeProvider) CurrentPosition(ctx context.Context) (geo.Coordinate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return geo.Coordinate{}, f.err
	}
	return f.pos, nil
}
