package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/google/gousb"
)

// Interface class codes
// Reference: http://www.usb.org/developers/defined_class
const (
	IfaceClassAudio   = 0x01
	IfaceClassHID     = 0x03
	IfaceClassPrinter = 0x07
	IfaceClassHub     = 0x09
)

// USBRadio exposes USB-attached ESC/POS printers through the same boundary
// as the Bluetooth radio so the link manager stays transport-agnostic.
// Device addresses take the form "vid:pid" (hex, e.g. "04b8:0202").
type USBRadio struct {
	ctx *gousb.Context
}

// NewUSBRadio creates a radio backed by a process-wide USB context.
func NewUSBRadio() *USBRadio {
	return &USBRadio{ctx: gousb.NewContext()}
}

// Powered always reports true: a reachable USB bus has no power toggle.
func (r *USBRadio) Powered() bool { return true }

// CancelDiscovery is a no-op: USB enumeration does not conflict with opens.
func (r *USBRadio) CancelDiscovery() error { return nil }

// BondedDevices enumerates attached printer-class devices. They are
// reported with an imaging printer class-of-device so the same candidate
// filter applies to both transports.
func (r *USBRadio) BondedDevices() ([]DeviceInfo, error) {
	var infos []DeviceInfo

	devices, err := r.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("usb enumeration failed: %w", err)
	}

	for _, dev := range devices {
		if isUSBPrinter(dev) {
			name, _ := dev.Product()
			infos = append(infos, DeviceInfo{
				Name:    name,
				Address: fmt.Sprintf("%04x:%04x", uint16(dev.Desc.Vendor), uint16(dev.Desc.Product)),
				Class:   MajorClassImaging<<8 | ImagingBitPrinter,
			})
		}
		dev.Close()
	}
	return infos, nil
}

// ResolveDevice parses a "vid:pid" address and checks that a matching
// device is attached.
func (r *USBRadio) ResolveDevice(address string) (Device, error) {
	vid, pid, err := parseUSBAddress(address)
	if err != nil {
		return nil, err
	}

	dev, err := r.ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		return nil, fmt.Errorf("usb device %s: %w", address, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("usb device %s not attached", address)
	}
	dev.Close()

	return &usbDevice{ctx: r.ctx, address: address, vid: vid, pid: pid}, nil
}

// Close releases the USB context.
func (r *USBRadio) Close() error {
	return r.ctx.Close()
}

func parseUSBAddress(address string) (gousb.ID, gousb.ID, error) {
	parts := strings.SplitN(address, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed usb address %q, want vid:pid", address)
	}
	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed usb vendor id %q: %w", parts[0], err)
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed usb product id %q: %w", parts[1], err)
	}
	return gousb.ID(vid), gousb.ID(pid), nil
}

// isUSBPrinter checks if a device carries a printer-class interface.
func isUSBPrinter(dev *gousb.Device) bool {
	if dev == nil {
		return false
	}

	cfg, err := dev.ActiveConfigNum()
	if err != nil {
		return false
	}
	cfgDesc, err := dev.Config(cfg)
	if err != nil {
		return false
	}
	defer cfgDesc.Close()

	for _, iface := range cfgDesc.Desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == IfaceClassPrinter {
				return true
			}
		}
	}
	return false
}

type usbDevice struct {
	ctx     *gousb.Context
	address string
	vid     gousb.ID
	pid     gousb.ID
}

func (d *usbDevice) Address() string { return d.address }

// DialSPP opens the device, claims its printer interface and resolves the
// bulk endpoints. USB opens are quick, so ctx is only consulted before the
// claim starts.
func (d *usbDevice) DialSPP(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := d.ctx.OpenDeviceWithVIDPID(d.vid, d.pid)
	if err != nil || dev == nil {
		return nil, fmt.Errorf("usb device %s vanished: %w", d.address, err)
	}

	if runtime.GOOS == "linux" {
		dev.SetAutoDetach(true)
	}

	cfgNum, err := dev.ActiveConfigNum()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to get active config: %w", err)
	}
	cfg, err := dev.Config(cfgNum)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	defer cfg.Close()

	ifaceNum := -1
	for _, iface := range cfg.Desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == IfaceClassPrinter {
				ifaceNum = iface.Number
				break
			}
		}
		if ifaceNum >= 0 {
			break
		}
	}
	if ifaceNum < 0 {
		dev.Close()
		return nil, errors.New("no printer interface found")
	}

	iface, err := cfg.Interface(ifaceNum, 0)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to claim interface: %w", err)
	}

	stream := &usbStream{device: dev, iface: iface}
	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut && stream.out == nil {
			if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
				stream.out = ep
			}
		}
		if epDesc.Direction == gousb.EndpointDirectionIn && stream.in == nil {
			if ep, err := iface.InEndpoint(epDesc.Number); err == nil {
				stream.in = ep
			}
		}
	}
	if stream.out == nil {
		stream.Close()
		return nil, errors.New("cannot find output endpoint from printer")
	}

	return stream, nil
}

type usbStream struct {
	device *gousb.Device
	iface  *gousb.Interface
	out    *gousb.OutEndpoint
	in     *gousb.InEndpoint
	mu     sync.Mutex
	closed bool
}

func (s *usbStream) Write(p []byte) (int, error) {
	n, err := s.out.Write(p)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

func (s *usbStream) Read(p []byte) (int, error) {
	if s.in == nil {
		return 0, errors.New("input endpoint not available")
	}
	n, err := s.in.Read(p)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}
	return n, nil
}

// Flush is a no-op: bulk transfers complete synchronously.
func (s *usbStream) Flush() error { return nil }

// Probe issues a control query for the active configuration. It fails when
// the device has been unplugged.
func (s *usbStream) Probe() error {
	if _, err := s.device.ActiveConfigNum(); err != nil {
		return fmt.Errorf("usb device unresponsive: %w", err)
	}
	return nil
}

func (s *usbStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.iface != nil {
		s.iface.Close()
		s.iface = nil
	}
	if s.device != nil {
		return s.device.Close()
	}
	return nil
}
