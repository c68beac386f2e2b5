package radio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOrderAndExpiry(t *testing.T) {
	start := time.Unix(1000, 0)
	s := NewSet(5 * time.Second)

	s.Observe(Device{Name: "Unknown Gadget", Address: "aa"}, start)
	s.Observe(Device{Name: "LUNAR-1234", Address: "bb"}, start.Add(time.Second))
	s.Observe(Device{Name: "Unknown Gadget", Address: "aa", RSSI: -40}, start.Add(2*time.Second))

	devices := s.Snapshot(start.Add(3 * time.Second))
	require.Len(t, devices, 2)
	assert.Equal(t, "aa", devices[0].Address)
	assert.Equal(t, -40, devices[0].RSSI)
	assert.Equal(t, "bb", devices[1].Address)

	// "bb" was last seen at +1s and expires after +6s, "aa" survives until +7s
	devices = s.Snapshot(start.Add(6500 * time.Millisecond))
	require.Len(t, devices, 1)
	assert.Equal(t, "aa", devices[0].Address)

	// A device coming back is appended at the end
	s.Observe(Device{Name: "LUNAR-1234", Address: "bb"}, start.Add(7*time.Second))
	devices = s.Snapshot(start.Add(7 * time.Second))
	require.Len(t, devices, 2)
	assert.Equal(t, []string{"aa", "bb"}, []string{devices[0].Address, devices[1].Address})

	s.Reset()
	assert.Empty(t, s.Snapshot(start.Add(7*time.Second)))
}

func TestSetKeepsNameAndIgnoresAnonymous(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewSet(0)

	s.Observe(Device{Name: "PYXIS-ABCD", Address: "cc"}, now)
	s.Observe(Device{Address: "cc", RSSI: -70}, now)
	s.Observe(Device{Name: "no address"}, now)

	devices := s.Snapshot(now)
	require.Len(t, devices, 1)
	assert.Equal(t, "PYXIS-ABCD", devices[0].Name)
	assert.Equal(t, -70, devices[0].RSSI)
}

func TestSetSnapshotIsCopy(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewSet(0)
	s.Observe(Device{Name: "LUNAR", Address: "dd", Services: []string{"1820"}, ManufacturerData: []byte{1, 2}}, now)

	devices := s.Snapshot(now)
	devices[0].Services[0] = "ffff"
	devices[0].ManufacturerData[0] = 0xff

	devices = s.Snapshot(now)
	assert.Equal(t, []string{"1820"}, devices[0].Services)
	assert.Equal(t, []byte{1, 2}, devices[0].ManufacturerData)
}

func TestInbox(t *testing.T) {
	in := NewInbox(2)

	payload := []byte{1}
	in.Push(payload)
	payload[0] = 9
	in.Push([]byte{2})
	in.Push([]byte{3})

	pending, dropped := in.Drain()
	assert.Equal(t, [][]byte{{2}, {3}}, pending)
	assert.Equal(t, 1, dropped)

	pending, dropped = in.Drain()
	assert.Empty(t, pending)
	assert.Zero(t, dropped)

	in.Push([]byte{4})
	in.Reset()
	pending, _ = in.Drain()
	assert.Empty(t, pending)
}

func TestUUIDs(t *testing.T) {
	assert.Equal(t, "ffe0", ShortUUID("0000FFE0-0000-1000-8000-00805F9B34FB"))
	assert.Equal(t, "ffe0", ShortUUID("ffe0"))
	assert.Equal(t, "49535343fe7d4ae58fa99fafd205e455", ShortUUID("49535343-FE7D-4AE5-8FA9-9FAFD205E455"))

	assert.Equal(t, "0000ffe0-0000-1000-8000-00805f9b34fb", LongUUID("FFE0"))
	assert.Equal(t, "49535343-fe7d-4ae5-8fa9-9fafd205e455", LongUUID("49535343fe7d4ae58fa99fafd205e455"))

	assert.True(t, SameUUID("2a80", "00002a80-0000-1000-8000-00805f9b34fb"))
	assert.False(t, SameUUID("2a80", "1820"))
}

func TestDeviceClone(t *testing.T) {
	d := Device{Name: "LUNAR", Address: "aa", Services: []string{"1820"}}
	c := d.Clone()
	c.Services[0] = "x"
	assert.Equal(t, "1820", d.Services[0])
	assert.Equal(t, "LUNAR/aa", d.String())
}
