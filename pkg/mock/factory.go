package mock

import (
	"sync"

	"github.com/fako1024/scalelink/pkg/radio"
	"github.com/fako1024/scalelink/pkg/scale"
)

// Factory denotes a driver factory handing out Mock scales, keeping track of all
// instances it created
type Factory struct {
	mu      sync.Mutex
	created []*Mock
	options []func(*Mock)

	// Err is returned by Create, if set
	Err error
}

// NewFactory instantiates a new factory, applying the provided options to every
// created Mock scale
func NewFactory(options ...func(*Mock)) *Factory {
	return &Factory{
		options: options,
	}
}

// Create instantiates a new Mock scale for the device
func (f *Factory) Create(dev radio.Device) (scale.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	m := New(dev, f.options...)
	f.created = append(f.created, m)
	return m, nil
}

// Created returns all Mock scales created so far
func (f *Factory) Created() []*Mock {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*Mock(nil), f.created...)
}

// Last returns the most recently created Mock scale, if any
func (f *Factory) Last() *Mock {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}
