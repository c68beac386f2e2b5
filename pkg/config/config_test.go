package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.Nil(t, err)
	require.Nil(t, cfg.Validate())

	assert.Equal(t, BackendGATT, cfg.Backend)
	assert.Equal(t, 100*time.Millisecond, cfg.Tick)
	assert.Equal(t, 10*time.Second, cfg.RescanInterval)
	assert.Equal(t, 5*time.Second, cfg.ReportInterval)
	assert.Equal(t, 115200, cfg.Log.Serial.Baud)
	assert.Empty(t, cfg.API.Listen)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.Nil(t, os.WriteFile(path, []byte(`
backend: mock
rescan_interval: 30s
log:
  debug: true
  serial:
    port: /dev/ttyUSB0
api:
  listen: ":8080"
  mdns: true
mock:
  devices:
    - PEARL S
    - FELICITA
`), 0600))

	cfg, err := Load(path)
	require.Nil(t, err)

	assert.Equal(t, BackendMock, cfg.Backend)
	assert.Equal(t, 30*time.Second, cfg.RescanInterval)
	assert.Equal(t, 5*time.Second, cfg.ReportInterval)
	assert.True(t, cfg.Log.Debug)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Log.Serial.Port)
	assert.Equal(t, 115200, cfg.Log.Serial.Baud)
	assert.Equal(t, ":8080", cfg.API.Listen)
	assert.True(t, cfg.API.MDNS)
	assert.Equal(t, []string{"PEARL S", "FELICITA"}, cfg.Mock.Devices)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)

	_, err = Parse([]byte("backend: [broken"))
	assert.NotNil(t, err)
}

func TestValidate(t *testing.T) {
	for _, cs := range []struct {
		name string
		doc  string
	}{
		{"unknown backend", "backend: usb"},
		{"zero tick", "tick: 0s"},
		{"negative rescan", "rescan_interval: -1s"},
		{"negative budget", "tick_budget: -1s"},
		{"serial baud", "log:\n  serial:\n    port: /dev/ttyS0\n    baud: 0"},
		{"mdns without listen", "api:\n  mdns: true"},
		{"mock without devices", "backend: mock\nmock:\n  devices: []"},
	} {
		t.Run(cs.name, func(t *testing.T) {
			_, err := Parse([]byte(cs.doc))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
