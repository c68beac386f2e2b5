package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fako1024/scalelink/pkg/api"
	"github.com/fako1024/scalelink/pkg/backend"
	"github.com/fako1024/scalelink/pkg/config"
	"github.com/fako1024/scalelink/pkg/console"
	"github.com/fako1024/scalelink/pkg/manager"
	"github.com/fako1024/scalelink/pkg/scale"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run() (err error) {

	// Parse command line options
	var (
		cfgPath     string
		debug       bool
		backendName string
	)

	flag.StringVar(&cfgPath, "config", "", "path to YAML configuration file (optional)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.StringVar(&backendName, "backend", "", "radio backend (gatt, bluez, mock), overrides configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Log.Debug = true
	}
	if backendName != "" {
		cfg.Backend = config.Backend(backendName)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	// Mirror all log output to the serial console, if configured
	var sinks []io.Writer
	if cfg.Log.Serial.Port != "" {
		c, err := console.Open(cfg.Log.Serial.Port, cfg.Log.Serial.Baud)
		if err != nil {
			ports, _ := console.Ports()
			return fmt.Errorf("%w (available ports: %v)", err, ports)
		}
		defer func() {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		sinks = append(sinks, c)
	}

	logger := scale.NewDefaultLogger(cfg.Log.Debug, sinks...)
	defer func() {
		_ = logger.Sync()
	}()

	b, err := backend.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.Warnf("failed to close %s backend: %s", cfg.Backend, cerr)
		}
	}()

	m := manager.New(b.Scanner, b.Factory,
		manager.WithLogger(logger),
		manager.WithRescanInterval(cfg.RescanInterval),
		manager.WithReportInterval(cfg.ReportInterval),
		manager.WithTickBudget(cfg.TickBudget),
	)
	m.SetWeightHandler(func(data scale.DataPoint) {
		logger.Debugf("weight updated: %.2f %s", data.Weight, data.Unit)
	})
	m.SetLogHandler(func(msg string) {
		logger.Info(msg)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	if cfg.API.Listen != "" {
		a := api.New(m, api.WithLogger(logger))
		go func() {
			if err := a.Listen(cfg.API.Listen); err != nil {
				logger.Errorf("failed to serve API: %s", err)
			}
		}()
		defer func() {
			if cerr := a.Close(); cerr != nil {
				logger.Warnf("failed to shut down API: %s", cerr)
			}
		}()

		if cfg.API.MDNS {
			hostname, _ := os.Hostname()
			if err := a.Announce("scalelink-"+hostname, cfg.API.Listen); err != nil {
				logger.Warnf("failed to announce API: %s", err)
			}
		}
	}

	logger.Infof("starting connection manager (backend: %s, tick: %v)", cfg.Backend, cfg.Tick)
	if err := m.Run(ctx, cfg.Tick); err != nil {
		return fmt.Errorf("failed to terminate connection to device: %w", err)
	}
	logger.Infof("got signal, terminated connection manager")

	return nil
}
