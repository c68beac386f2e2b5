package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fako1024/scalelink/pkg/backend"
	"github.com/fako1024/scalelink/pkg/config"
	"github.com/fako1024/scalelink/pkg/manager"
	"github.com/fako1024/scalelink/pkg/scale"
)

type options struct {
	cfgPath     string
	backendName string
	debug       bool
	scanFor     time.Duration
	connectFor  time.Duration

	tare            bool
	togglePrecision bool
	toggleBuzzer    bool
	startTimer      bool
	stopTimer       bool
	resetTimer      bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run() (err error) {

	// Parse command line options
	var opts options

	flag.StringVar(&opts.cfgPath, "config", "", "path to YAML configuration file (optional)")
	flag.StringVar(&opts.backendName, "backend", "", "radio backend (gatt, bluez, mock), overrides configuration")
	flag.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flag.DurationVar(&opts.scanFor, "scan", 10*time.Second, "duration to scan for devices")
	flag.DurationVar(&opts.connectFor, "timeout", 30*time.Second, "maximum duration to wait for a connection")

	flag.BoolVar(&opts.tare, "t", false, "Tare the scale")
	flag.BoolVar(&opts.togglePrecision, "p", false, "Toggle the scale precision")
	flag.BoolVar(&opts.toggleBuzzer, "b", false, "Toggle the buzzer on touch / action feature")
	flag.BoolVar(&opts.resetTimer, "reset-timer", false, "Reset the scale timer")
	flag.BoolVar(&opts.startTimer, "start-timer", false, "Start the scale timer")
	flag.BoolVar(&opts.stopTimer, "stop-timer", false, "Stop the scale timer")
	flag.Parse()

	cfg, err := config.Load(opts.cfgPath)
	if err != nil {
		return err
	}
	if opts.backendName != "" {
		cfg.Backend = config.Backend(opts.backendName)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := scale.NewDefaultLogger(opts.debug)
	defer func() {
		_ = logger.Sync()
	}()

	b, err := backend.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := scan(b, opts.scanFor); err != nil {
		return err
	}

	var cmds []manager.Command
	if opts.tare {
		cmds = append(cmds, manager.Tare)
	}
	if opts.togglePrecision {
		cmds = append(cmds, manager.TogglePrecision)
	}
	if opts.toggleBuzzer {
		cmds = append(cmds, manager.ToggleBuzzer)
	}
	if opts.resetTimer {
		cmds = append(cmds, manager.ResetTimer)
	}
	if opts.startTimer {
		cmds = append(cmds, manager.StartTimer)
	}
	if opts.stopTimer {
		cmds = append(cmds, manager.StopTimer)
	}
	if len(cmds) == 0 {
		return nil
	}

	return execute(b, cfg, logger, opts.connectFor, cmds)
}

func scan(b *backend.Backend, d time.Duration) error {
	if err := b.Scanner.Start(); err != nil {
		return fmt.Errorf("failed to start scanning: %w", err)
	}

	fmt.Printf("Scanning for %v, turn on your scale now...\n", d)
	time.Sleep(d)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tFAMILY")
	for _, dev := range b.Scanner.Discovered() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", dev.Name, dev.Address, dev.RSSI, scale.Classify(dev.Name))
	}

	return w.Flush()
}

func execute(b *backend.Backend, cfg config.Config, logger scale.Logger, timeout time.Duration, cmds []manager.Command) (err error) {

	m := manager.New(b.Scanner, b.Factory,
		manager.WithLogger(logger),
		manager.WithRescanInterval(cfg.RescanInterval),
		manager.WithReportInterval(cfg.ReportInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, cfg.Tick)
	}()
	defer func() {
		cancel()
		if cerr := <-done; cerr != nil && err == nil {
			err = cerr
		}
	}()

	deadline := time.Now().Add(timeout)
	for m.State() != manager.StateConnected {
		if time.Now().After(deadline) {
			return fmt.Errorf("no supported scale connected within %v", timeout)
		}
		time.Sleep(cfg.Tick)
	}

	for _, cmd := range cmds {
		cmdCtx, cmdCancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		err := m.Do(cmdCtx, cmd)
		cmdCancel()
		if err != nil {
			return fmt.Errorf("failed to execute command: %w", err)
		}
	}

	status := m.Status()
	fmt.Printf("Executed %d command(s) on %s\n", len(cmds), status.Device)
	if status.BatteryLevel != nil {
		fmt.Printf("Battery level: %.0f%%\n", *status.BatteryLevel*100.)
	}
	if status.TimerSeconds != nil {
		fmt.Printf("Timer: %.1fs\n", *status.TimerSeconds)
	}

	return nil
}
