package device

import (
	"testing"

	adb "github.com/basiooo/goadb"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	devices []*adb.DeviceInfo
	err     error
}

func (f *fakeLister) ListDevices() ([]*adb.DeviceInfo, error) {
	return f.devices, f.err
}

func newTestManager(devices ...*adb.DeviceInfo) *Manager {
	return &Manager{client: &fakeLister{devices: devices}}
}

func TestListClassifiesConnections(t *testing.T) {
	m := newTestManager(
		&adb.DeviceInfo{Serial: "192.168.1.100:5555", Model: "Pixel_7"},
		&adb.DeviceInfo{Serial: "adb-A4RYVB3A20008848._adb._tcp"},
		&adb.DeviceInfo{Serial: "R58M123ABC", Model: "SM_G970F", Usb: "1-1"},
	)
	infos, err := m.List()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, ConnectionIP, infos[0].ConnectionType)
	assert.Equal(t, "Pixel_7", infos[0].Model)
	assert.Equal(t, ConnectionMDNS, infos[1].ConnectionType)
	assert.Equal(t, ConnectionUSB, infos[2].ConnectionType)
	assert.True(t, infos[2].IsUSB())
}

func TestResolveFirstUSBDevice(t *testing.T) {
	m := newTestManager(
		&adb.DeviceInfo{Serial: "10.0.0.2:5555"},
		&adb.DeviceInfo{Serial: "FIRSTUSB", Usb: "1-1"},
		&adb.DeviceInfo{Serial: "SECONDUSB", Usb: "1-2"},
	)
	info, err := m.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "FIRSTUSB", info.Serial)
}

func TestResolveBySerial(t *testing.T) {
	m := newTestManager(
		&adb.DeviceInfo{Serial: "10.0.0.2:5555"},
		&adb.DeviceInfo{Serial: "00008020001A", Usb: "1-1"},
	)
	info, err := m.Resolve("10.0.0.2:5555")
	require.NoError(t, err)
	assert.Equal(t, ConnectionIP, info.ConnectionType)

	info, err = m.Resolve("00008020-001a")
	require.NoError(t, err)
	assert.Equal(t, "00008020001A", info.Serial)
}

func TestResolveNoDevice(t *testing.T) {
	m := newTestManager(&adb.DeviceInfo{Serial: "10.0.0.2:5555"})
	_, err := m.Resolve("")
	assert.True(t, errors.Is(err, ErrNoDevice))

	_, err = m.Resolve("MISSING")
	assert.True(t, errors.Is(err, ErrNoDevice))
	assert.Contains(t, err.Error(), "MISSING")
}

func TestListPropagatesAdbErrors(t *testing.T) {
	m := &Manager{client: &fakeLister{err: errors.New("adb server unreachable")}}
	_, err := m.Resolve("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adb server unreachable")
}
