// Package factory instantiates scale drivers for discovered devices
package factory

import (
	"errors"
	"fmt"
	"time"

	"github.com/fako1024/scalelink/pkg/acaia"
	"github.com/fako1024/scalelink/pkg/felicita"
	"github.com/fako1024/scalelink/pkg/radio"
	"github.com/fako1024/scalelink/pkg/scale"
)

var (
	// ErrUnsupported is returned for devices of an unknown or unregistered family
	ErrUnsupported = errors.New("unsupported device")

	// ErrNoAddress is returned for devices without an address to connect to
	ErrNoAddress = errors.New("device has no address")
)

// Constructor instantiates a (not yet connected) driver for a device
type Constructor func(dev radio.Device) scale.Driver

// Factory denotes a registry of driver constructors per scale family
type Factory struct {
	constructors map[scale.Family]Constructor

	connectTimeout time.Duration
	logger         scale.Logger
}

// New instantiates a new, empty Factory, executing functional options, if any
func New(options ...func(*Factory)) *Factory {

	f := &Factory{
		constructors: make(map[scale.Family]Constructor),
		logger:       &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(f)
	}

	return f
}

// NewDefault instantiates a new Factory providing the built-in drivers, connecting via
// the provided dialer
func NewDefault(dialer radio.Dialer, options ...func(*Factory)) *Factory {

	f := New(options...)

	f.Register(scale.FamilyAcaia, func(dev radio.Device) scale.Driver {
		opts := []func(*acaia.Acaia){acaia.WithLogger(f.logger)}
		if f.connectTimeout > 0 {
			opts = append(opts, acaia.WithConnectTimeout(f.connectTimeout))
		}
		return acaia.New(dev, dialer, opts...)
	})
	f.Register(scale.FamilyFelicita, func(dev radio.Device) scale.Driver {
		opts := []func(*felicita.Felicita){felicita.WithLogger(f.logger)}
		if f.connectTimeout > 0 {
			opts = append(opts, felicita.WithConnectTimeout(f.connectTimeout))
		}
		return felicita.New(dev, dialer, opts...)
	})

	return f
}

// Register sets the constructor of a scale family, replacing any previous one
func (f *Factory) Register(family scale.Family, c Constructor) {
	f.constructors[family] = c
}

// Families returns the families a driver is registered for, in classification order
func (f *Factory) Families() []scale.Family {
	var families []scale.Family
	for _, family := range scale.Families() {
		if _, exists := f.constructors[family]; exists {
			families = append(families, family)
		}
	}
	return families
}

// Create instantiates a driver for the device
func (f *Factory) Create(dev radio.Device) (scale.Driver, error) {

	family := scale.Classify(dev.Name)
	if family == scale.FamilyUnknown {
		return nil, fmt.Errorf("%w: `%s`", ErrUnsupported, dev)
	}
	if dev.Address == "" {
		return nil, fmt.Errorf("%w: `%s`", ErrNoAddress, dev)
	}

	c, exists := f.constructors[family]
	if !exists {
		return nil, fmt.Errorf("%w: no driver for family %s", ErrUnsupported, family)
	}

	f.logger.Debugf("instantiating %s driver for `%s`", family, dev)
	return c(dev), nil
}
