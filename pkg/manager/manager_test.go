package manager

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/scalelink/pkg/mock"
	"github.com/fako1024/scalelink/pkg/radio"
	"github.com/fako1024/scalelink/pkg/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testTick = 100 * time.Millisecond

var (
	unknownGadget = radio.Device{Name: "Unknown Gadget", Address: "00:00:00:00:00:01"}
	acaiaLunar    = radio.Device{Name: "Acaia Lunar", Address: "00:1c:97:00:00:02"}
	felicitaArc   = radio.Device{Name: "FELICITA ARC", Address: "00:1c:97:00:00:03"}
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

type testEnv struct {
	clock   *manualClock
	scanner *mock.Scanner
	factory *mock.Factory
	manager *Manager
}

func newTestEnv(t *testing.T, devices []radio.Device, options ...func(*Manager)) *testEnv {
	env := &testEnv{
		clock:   newManualClock(),
		scanner: mock.NewScanner(devices...),
	}
	env.factory = mock.NewFactory(mock.WithClock(env.clock.Now))
	env.manager = New(env.scanner, env.factory, append([]func(*Manager){WithClock(env.clock)}, options...)...)

	require.Nil(t, env.manager.Start())
	require.Equal(t, StateScanning, env.manager.State())
	require.Equal(t, 1, env.scanner.Starts())

	return env
}

func (env *testEnv) tick() {
	env.clock.Advance(testTick)
	env.manager.Tick()
}

func (env *testEnv) connectedDrivers() int {
	n := 0
	for _, m := range env.factory.Created() {
		if m.IsConnected() {
			n++
		}
	}
	return n
}

func TestClassifyAndConnect(t *testing.T) {
	env := newTestEnv(t, []radio.Device{unknownGadget, acaiaLunar})

	env.tick()
	assert.Equal(t, StateConnected, env.manager.State())

	created := env.factory.Created()
	require.Len(t, created, 1)
	assert.Equal(t, acaiaLunar, created[0].Device())
	assert.Equal(t, 1, created[0].Connects())

	status := env.manager.Status()
	require.NotNil(t, status.Device)
	assert.Equal(t, acaiaLunar.Address, status.Device.Address)
	assert.Equal(t, "Acaia", status.Family)
	assert.Equal(t, 2, status.Discovered)

	devices := env.manager.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "Unknown", devices[0].Family)
	assert.Equal(t, "Acaia", devices[1].Family)

	// No further attempts while connected
	for i := 0; i < 10; i++ {
		env.tick()
	}
	assert.Len(t, env.factory.Created(), 1)
	assert.Equal(t, 10, created[0].Updates())
}

func TestFirstMatchWins(t *testing.T) {
	env := newTestEnv(t, []radio.Device{felicitaArc, acaiaLunar})

	env.tick()
	require.Len(t, env.factory.Created(), 1)
	assert.Equal(t, felicitaArc, env.factory.Last().Device())
	assert.Equal(t, "Felicita", env.manager.Status().Family)
}

func TestStartRetry(t *testing.T) {
	clock := newManualClock()
	scanner := mock.NewScanner(acaiaLunar)
	scanner.StartErr = errors.New("adapter not powered on")
	m := New(scanner, mock.NewFactory(), WithClock(clock))

	assert.NotNil(t, m.Start())
	m.Tick()
	assert.Equal(t, StateIdle, m.State())

	scanner.StartErr = nil
	m.Tick()
	assert.Equal(t, StateScanning, m.State())
	m.Tick()
	assert.Equal(t, StateConnected, m.State())

	require.Nil(t, m.Start())
	assert.Equal(t, 1, scanner.Starts())
}

func TestWeightDelivery(t *testing.T) {
	env := newTestEnv(t, []radio.Device{acaiaLunar})

	var (
		events  []string
		weights []float64
	)
	env.manager.SetWeightHandler(func(data scale.DataPoint) {
		weights = append(weights, data.Weight)
		events = append(events, "weight")
	})
	env.manager.SetLogHandler(func(msg string) {
		events = append(events, msg)
	})

	env.tick()
	require.Equal(t, StateConnected, env.manager.State())
	driver := env.factory.Last()

	var expected []float64
	for i := 0; i < 50; i++ {
		for j := 0; j <= i%4; j++ {
			w := float64(i*10 + j)
			expected = append(expected, w)
			driver.Emit(w)
		}
		env.tick()
	}
	assert.Equal(t, expected, weights)

	// Log and weight events keep the order the driver reported them in
	events = events[:0]
	driver.Emit(1)
	driver.Log("first")
	driver.Emit(2)
	driver.Log("second")
	env.tick()
	assert.Equal(t, []string{"weight", "first", "weight", "second"}, events)

	status := env.manager.Status()
	require.NotNil(t, status.LastSample)
	assert.Equal(t, 2., status.LastSample.Weight)
}

func TestRoutesRegisteredBeforeConnect(t *testing.T) {
	env := newTestEnv(t, []radio.Device{acaiaLunar})

	var logs []string
	env.manager.SetLogHandler(func(msg string) {
		logs = append(logs, msg)
	})

	// The mock queues a log message upon connection, which must reach the sink
	env.tick()
	env.tick()
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "connected")
}

func TestLastHandlerWins(t *testing.T) {
	env := newTestEnv(t, []radio.Device{acaiaLunar})

	var first, second int
	env.manager.SetWeightHandler(func(data scale.DataPoint) { first++ })
	env.manager.SetWeightHandler(func(data scale.DataPoint) { second++ })

	env.tick()
	env.factory.Last().Emit(1)
	env.tick()

	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}

func TestLivenessLoss(t *testing.T) {
	env := newTestEnv(t, []radio.Device{acaiaLunar})

	env.tick()
	require.Equal(t, StateConnected, env.manager.State())
	driver := env.factory.Last()

	driver.Drop()
	env.tick()

	assert.Equal(t, StateScanning, env.manager.State())
	assert.Equal(t, 1, driver.Disconnects())
	assert.Equal(t, 1, env.scanner.Restarts())
	assert.Nil(t, env.manager.Status().Device)
	assert.Nil(t, env.manager.Status().LastSample)

	// The device is still advertised, hence a new driver is connected
	env.tick()
	assert.Equal(t, StateConnected, env.manager.State())
	require.Len(t, env.factory.Created(), 2)
	assert.NotSame(t, driver, env.factory.Last())
	assert.Equal(t, 1, driver.Disconnects())
	assert.Equal(t, 1, driver.Updates())
}

func TestRescanInterval(t *testing.T) {
	for _, cs := range []struct {
		name    string
		devices []radio.Device
	}{
		{"empty", nil},
		{"unsupported", []radio.Device{unknownGadget}},
	} {
		t.Run(cs.name, func(t *testing.T) {
			env := newTestEnv(t, cs.devices)

			for i := 0; i < 99; i++ {
				env.tick()
			}
			assert.Zero(t, env.scanner.Restarts())

			env.tick()
			assert.Equal(t, 1, env.scanner.Restarts())

			for i := 0; i < 99; i++ {
				env.tick()
			}
			assert.Equal(t, 1, env.scanner.Restarts())

			env.tick()
			assert.Equal(t, 2, env.scanner.Restarts())
			assert.Equal(t, StateScanning, env.manager.State())
			assert.Empty(t, env.factory.Created())
		})
	}
}

func TestRescanAfterDeviceVanishes(t *testing.T) {
	env := newTestEnv(t, []radio.Device{acaiaLunar}, WithRescanInterval(time.Second))

	env.tick()
	env.factory.Last().Drop()
	env.scanner.SetDevices()
	env.tick()
	require.Equal(t, 1, env.scanner.Restarts())

	for i := 0; i < 9; i++ {
		env.tick()
	}
	assert.Equal(t, 1, env.scanner.Restarts())
	env.tick()
	assert.Equal(t, 2, env.scanner.Restarts())
}

func TestConnectFailureRetry(t *testing.T) {
	env := newTestEnv(t, []radio.Device{acaiaLunar})
	env.factory = mock.NewFactory(mock.WithConnectErr(errors.New("connection refused")))
	env.manager.factory = env.factory

	env.tick()
	assert.Equal(t, StateScanning, env.manager.State())
	require.Len(t, env.factory.Created(), 1)
	assert.Equal(t, 1, env.factory.Last().Connects())
	assert.Equal(t, 1, env.factory.Last().Disconnects(), "failed driver must be released")

	// One attempt per tick, the candidate is never blacklisted
	env.tick()
	assert.Len(t, env.factory.Created(), 2)

	env.scanner.SetDevices()
	env.tick()
	assert.Len(t, env.factory.Created(), 2)

	env.scanner.SetDevices(acaiaLunar)
	env.tick()
	assert.Len(t, env.factory.Created(), 3)
	assert.Zero(t, env.connectedDrivers())
	assert.Zero(t, env.scanner.Restarts())
}

func TestCreateFailureRetry(t *testing.T) {
	env := newTestEnv(t, []radio.Device{acaiaLunar})

	env.factory.Err = errors.New("GATT service mismatch")
	env.tick()
	env.tick()
	assert.Equal(t, StateScanning, env.manager.State())
	assert.Empty(t, env.factory.Created())

	env.factory.Err = nil
	env.tick()
	assert.Equal(t, StateConnected, env.manager.State())
	assert.Len(t, env.factory.Created(), 1)
}

func TestAtMostOneConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		switch rnd.Intn(6) {
		case 0:
			env.scanner.SetDevices(unknownGadget, acaiaLunar, felicitaArc)
		case 1:
			env.scanner.SetDevices()
		case 2:
			if last := env.factory.Last(); last != nil {
				last.Drop()
			}
		case 3:
			if rnd.Intn(2) == 0 {
				env.factory.Err = errors.New("unavailable")
			} else {
				env.factory.Err = nil
			}
		case 4:
			if last := env.factory.Last(); last != nil {
				last.Emit(float64(i))
			}
		}
		env.tick()

		connected := env.connectedDrivers()
		require.LessOrEqual(t, connected, 1)
		if env.manager.State() == StateConnected {
			require.Equal(t, 1, connected)
		} else {
			require.Zero(t, connected)
		}
	}
}

func TestPeriodicReport(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	env := newTestEnv(t, []radio.Device{acaiaLunar}, WithLogger(zap.New(core).Sugar()))

	env.tick()
	env.factory.Last().Emit(12.5)

	for i := 0; i < 49; i++ {
		env.tick()
	}
	assert.Zero(t, logs.FilterMessageSnippet("weight:").Len())

	env.tick()
	reports := logs.FilterMessageSnippet("weight:")
	require.Equal(t, 1, reports.Len())
	assert.Equal(t, "weight: 12.50", reports.All()[0].Message)

	for i := 0; i < 100; i++ {
		env.tick()
	}
	assert.Equal(t, 3, logs.FilterMessageSnippet("weight:").Len())
}

func TestDiscoveryLogThrottling(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	env := newTestEnv(t, []radio.Device{unknownGadget}, WithLogger(zap.New(core).Sugar()), WithDiscoveryLogInterval(time.Second))

	for i := 0; i < 25; i++ {
		env.tick()
	}
	assert.Equal(t, 3, logs.FilterMessageSnippet("discovered 1 device(s)").Len())
}

func TestCommands(t *testing.T) {
	env := newTestEnv(t, nil)

	// Not connected yet
	result := env.manager.Submit(Tare)
	env.tick()
	assert.ErrorIs(t, <-result, scale.ErrNotConnected)

	env.scanner.SetDevices(acaiaLunar)
	env.tick()
	require.Equal(t, StateConnected, env.manager.State())

	result = env.manager.Submit(Tare)
	toggle := env.manager.Submit(ToggleBuzzer)
	precision := env.manager.Submit(TogglePrecision)
	env.tick()
	assert.Nil(t, <-result)
	assert.Nil(t, <-toggle)
	assert.Nil(t, <-precision)

	driver := env.factory.Last()
	assert.Equal(t, 1, driver.Tares())
	assert.True(t, driver.IsBuzzingOnTouch())
	assert.True(t, driver.IsHighPrecision())

	errCustom := errors.New("custom")
	result = env.manager.Submit(func(d scale.Driver) error {
		return errCustom
	})
	env.tick()
	assert.ErrorIs(t, <-result, errCustom)
}

func TestCommandQueueFull(t *testing.T) {
	env := newTestEnv(t, nil, WithQueueSize(1))

	first := env.manager.Submit(Tare)
	assert.ErrorIs(t, <-env.manager.Submit(Tare), ErrQueueFull)

	env.tick()
	assert.ErrorIs(t, <-first, scale.ErrNotConnected)
}

func TestCommandDo(t *testing.T) {
	env := newTestEnv(t, []radio.Device{acaiaLunar})
	env.tick()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.manager.Do(ctx, Tare), context.DeadlineExceeded)
}

type bareDriver struct {
	scale.Driver
}

func TestUnsupportedCommands(t *testing.T) {
	for _, cmd := range []Command{Tare, ToggleBuzzer, TogglePrecision, StartTimer, StopTimer, ResetTimer} {
		assert.ErrorIs(t, cmd(bareDriver{}), ErrUnsupportedCommand)
	}
}

func TestTimerCommands(t *testing.T) {
	env := newTestEnv(t, []radio.Device{acaiaLunar})
	env.tick()
	require.Equal(t, StateConnected, env.manager.State())

	status := env.manager.Status()
	require.NotNil(t, status.TimerSeconds)
	assert.Zero(t, *status.TimerSeconds)

	result := env.manager.Submit(StartTimer)
	env.tick()
	require.Nil(t, <-result)
	time.Sleep(5 * time.Millisecond)

	result = env.manager.Submit(StopTimer)
	env.tick()
	require.Nil(t, <-result)

	driver := env.factory.Last()
	elapsed := driver.ElapsedTime()
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
	status = env.manager.Status()
	require.NotNil(t, status.TimerSeconds)
	assert.Equal(t, elapsed.Seconds(), *status.TimerSeconds)

	result = env.manager.Submit(ResetTimer)
	env.tick()
	require.Nil(t, <-result)
	assert.Zero(t, driver.ElapsedTime())
	assert.Zero(t, *env.manager.Status().TimerSeconds)
}

func TestStatusCapabilities(t *testing.T) {
	env := newTestEnv(t, []radio.Device{acaiaLunar})

	status := env.manager.Status()
	assert.Nil(t, status.BatteryLevel)
	assert.Nil(t, status.TimerSeconds)

	env.tick()
	status = env.manager.Status()
	require.NotNil(t, status.BatteryLevel)
	assert.Equal(t, 1., *status.BatteryLevel)

	// The snapshot is a copy
	*status.BatteryLevel = 0.5
	assert.Equal(t, 1., *env.manager.Status().BatteryLevel)

	env.factory.Last().Drop()
	env.tick()
	status = env.manager.Status()
	assert.Equal(t, StateScanning, status.State)
	assert.Nil(t, status.BatteryLevel)
	assert.Nil(t, status.TimerSeconds)
}

func TestStateChanges(t *testing.T) {
	clock := newManualClock()
	scanner := mock.NewScanner(acaiaLunar)
	factory := mock.NewFactory()
	m := New(scanner, factory, WithClock(clock))

	stateChan := make(chan State, 16)
	m.SetStateChangeChannel(stateChan)
	var states []State
	m.SetStateChangeHandler(func(state State) {
		states = append(states, state)
	})

	m.Tick()
	m.Tick()
	factory.Last().Drop()
	m.Tick()
	require.Nil(t, m.Close())

	expected := []State{StateScanning, StateAttemptingConnect, StateConnected, StateReconnecting, StateScanning, StateIdle}
	assert.Equal(t, expected, states)
	require.Len(t, stateChan, len(expected))
	for _, state := range expected {
		assert.Equal(t, state, <-stateChan)
	}
	assert.Equal(t, "attempting connect", StateAttemptingConnect.String())
	assert.Equal(t, "invalid", State(42).String())
}

func TestClose(t *testing.T) {
	env := newTestEnv(t, []radio.Device{acaiaLunar})
	env.tick()
	driver := env.factory.Last()

	require.Nil(t, env.manager.Close())
	assert.Equal(t, StateIdle, env.manager.State())
	assert.Equal(t, 1, driver.Disconnects())
	assert.False(t, driver.IsConnected())

	require.Nil(t, env.manager.Close())
	assert.Equal(t, 1, driver.Disconnects())

	env.tick()
	assert.Equal(t, StateScanning, env.manager.State())
	assert.Equal(t, 2, env.scanner.Starts())
}

func TestRun(t *testing.T) {
	scanner := mock.NewScanner(acaiaLunar)
	factory := mock.NewFactory(mock.WithDrift(0.5))
	m := New(scanner, factory)

	var (
		mu      sync.Mutex
		samples int
	)
	m.SetWeightHandler(func(data scale.DataPoint) {
		mu.Lock()
		samples++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- m.Run(ctx, time.Millisecond)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return samples >= 5
	}, 5*time.Second, time.Millisecond)

	cancel()
	require.Nil(t, <-errChan)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, factory.Last().Disconnects())
}
