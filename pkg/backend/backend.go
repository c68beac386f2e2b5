// Package backend assembles the scanner and driver factory for a configured radio
package backend

import (
	"fmt"

	"github.com/fako1024/scalelink/pkg/config"
	"github.com/fako1024/scalelink/pkg/factory"
	"github.com/fako1024/scalelink/pkg/mock"
	"github.com/fako1024/scalelink/pkg/radio"
	"github.com/fako1024/scalelink/pkg/radio/bluez"
	"github.com/fako1024/scalelink/pkg/radio/gattradio"
	"github.com/fako1024/scalelink/pkg/scale"
)

const mockDrift = 0.1

// Backend denotes an opened radio backend
type Backend struct {
	Scanner radio.Scanner
	Factory *factory.Factory

	closer func() error
}

// Open instantiates the backend selected by the configuration
func Open(cfg config.Config, logger scale.Logger) (*Backend, error) {

	factoryOpts := []func(*factory.Factory){
		factory.WithLogger(logger),
		factory.WithConnectTimeout(cfg.ConnectTimeout),
	}

	switch cfg.Backend {
	case config.BackendGATT:
		adapter, err := gattradio.New(
			gattradio.WithLogger(logger),
			gattradio.WithTTL(cfg.DiscoveryTTL),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GATT backend: %w", err)
		}
		return &Backend{
			Scanner: adapter,
			Factory: factory.NewDefault(adapter, factoryOpts...),
			closer:  adapter.Close,
		}, nil

	case config.BackendBlueZ:
		adapter := bluez.New(
			bluez.WithLogger(logger),
			bluez.WithTTL(cfg.DiscoveryTTL),
		)
		return &Backend{
			Scanner: adapter,
			Factory: factory.NewDefault(adapter, factoryOpts...),
			closer:  adapter.Close,
		}, nil

	case config.BackendMock:
		devices := make([]radio.Device, 0, len(cfg.Mock.Devices))
		for i, name := range cfg.Mock.Devices {
			devices = append(devices, radio.Device{
				Name:        name,
				Address:     fmt.Sprintf("mock-%d", i),
				Connectable: true,
			})
		}

		f := factory.New(factoryOpts...)
		for _, family := range scale.Families() {
			f.Register(family, func(dev radio.Device) scale.Driver {
				return mock.New(dev, mock.WithDrift(mockDrift))
			})
		}
		return &Backend{
			Scanner: mock.NewScanner(devices...),
			Factory: f,
		}, nil
	}

	return nil, fmt.Errorf("%w: unknown backend `%s`", config.ErrInvalid, cfg.Backend)
}

// Close releases the radio
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}
