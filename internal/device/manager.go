// Package device resolves a device identifier to an attached Android
// device through the local adb server.
package device

import (
	"context"
	"strings"

	"github.com/babelcloud/screenrelay/internal/util"
	adb "github.com/basiooo/goadb"
	"github.com/pkg/errors"
)

// ErrNoDevice is returned when no attached device matches the request.
var ErrNoDevice = errors.New("no matching device attached")

// Connection types reported in Info.
const (
	ConnectionUSB  = "usb"
	ConnectionIP   = "ip"
	ConnectionMDNS = "mdns"
)

// Info describes one device known to the adb server.
type Info struct {
	Serial         string
	Model          string
	Product        string
	ConnectionType string
}

// IsUSB reports whether the device is attached over a USB cable.
func (i Info) IsUSB() bool { return i.ConnectionType == ConnectionUSB }

type deviceLister interface {
	ListDevices() ([]*adb.DeviceInfo, error)
}

// Manager lists and resolves devices.
type Manager struct {
	client deviceLister
	adb    *adb.Adb
}

// NewManager connects to the adb server on the given port, starting it if
// necessary. Port 0 selects the default adb port.
func NewManager(port int) (*Manager, error) {
	if port == 0 {
		port = adb.AdbPort
	}
	client, err := adb.NewWithConfig(adb.ServerConfig{
		Port: port,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create adb client on port %d", port)
	}
	if err := client.StartServer(); err != nil {
		return nil, errors.Wrap(err, "failed to start adb server")
	}
	return &Manager{client: client, adb: client}, nil
}

// Client exposes the underlying adb client for device level operations.
func (m *Manager) Client() *adb.Adb { return m.adb }

// Device returns a handle for device level commands on serial.
func (m *Manager) Device(serial string) *adb.Device {
	return m.adb.Device(adb.DeviceWithSerial(serial))
}

// WatchGone returns a channel that is closed once serial leaves the online
// state or the adb server connection breaks. The watcher stops with ctx.
func (m *Manager) WatchGone(ctx context.Context, serial string) <-chan struct{} {
	gone := make(chan struct{})
	watcher := m.adb.NewDeviceWatcher()
	go func() {
		<-ctx.Done()
		watcher.Shutdown()
	}()
	go func() {
		defer close(gone)
		for event := range watcher.C() {
			if event.Serial != serial {
				continue
			}
			logger := util.GetLogger().With("serial", serial)
			logger.Debug("Device state changed", "from", event.OldState, "to", event.NewState)
			if event.WentOffline() {
				logger.Warn("Device went offline")
				return
			}
		}
		if err := watcher.Err(); err != nil && ctx.Err() == nil {
			util.GetLogger().Error("adb device watcher error", "error", err)
		}
	}()
	return gone
}

// List returns all devices the adb server reports.
func (m *Manager) List() ([]Info, error) {
	devices, err := m.client.ListDevices()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list adb devices")
	}
	infos := make([]Info, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, Info{
			Serial:         d.Serial,
			Model:          d.Model,
			Product:        d.Product,
			ConnectionType: connectionType(d.Serial, d.Usb),
		})
	}
	return infos, nil
}

// Resolve returns the device with the given serial. An empty serial
// selects the first USB-attached device; network devices are never picked
// implicitly.
func (m *Manager) Resolve(serial string) (Info, error) {
	infos, err := m.List()
	if err != nil {
		return Info{}, err
	}
	for _, info := range infos {
		if serial != "" {
			if info.Serial == serial || normalizeSerial(info.Serial) == normalizeSerial(serial) {
				return info, nil
			}
			continue
		}
		if info.IsUSB() {
			return info, nil
		}
	}
	if serial != "" {
		return Info{}, errors.Wrapf(ErrNoDevice, "device %s not found", serial)
	}
	return Info{}, errors.Wrap(ErrNoDevice, "no USB device attached")
}

func connectionType(serial, usb string) string {
	switch {
	case strings.Contains(serial, "._adb._tcp"):
		// mDNS service name (e.g., "adb-A4RYVB3A20008848._adb._tcp")
		return ConnectionMDNS
	case strings.Contains(serial, ":"):
		return ConnectionIP
	case usb != "":
		return ConnectionUSB
	}
	// Emulators and some hubs omit the usb field; treat a bare serial as
	// locally attached.
	return ConnectionUSB
}

// normalizeSerial lets identifiers copied with dashes match, e.g.
// "0000-8020-001A" against "00008020001A".
func normalizeSerial(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "-", ""))
}
