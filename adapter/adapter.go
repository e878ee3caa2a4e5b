package adapter

import (
	"context"
	"io"
	"regexp"
)

// SPPServiceUUID is the well-known serial-port-profile service identifier
// used when opening a byte stream to the printer.
const SPPServiceUUID = "00001101-0000-1000-8000-00805F9B34FB"

// Bluetooth class-of-device layout: the major device class sits in bits 8-12,
// minor class bits for the imaging major are a bitmask in bits 4-7.
const (
	MajorClassImaging = 0x06
	ImagingBitPrinter = 0x80
)

// IsPrinterClass reports whether a class-of-device value advertises an
// imaging-class printer.
func IsPrinterClass(class uint32) bool {
	return (class>>8)&0x1F == MajorClassImaging && class&ImagingBitPrinter != 0
}

var addressPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// ValidAddress reports whether s looks like an AA:BB:CC:DD:EE:FF device
// address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// DeviceInfo describes a bonded peripheral.
type DeviceInfo struct {
	Name    string
	Address string
	Class   uint32
}

// Radio is the local adapter boundary: device enumeration, resolution and
// discovery control. Implementations must be safe for concurrent use.
type Radio interface {
	// Powered reports whether the radio is powered on.
	Powered() bool

	// BondedDevices returns the already-paired peripherals known to the radio.
	BondedDevices() ([]DeviceInfo, error)

	// ResolveDevice returns a handle for the peripheral with the given
	// address, or an error if the radio cannot produce one.
	ResolveDevice(address string) (Device, error)

	// CancelDiscovery aborts any in-progress discovery scan. Discovery and
	// connection attempts are mutually exclusive on most stacks.
	CancelDiscovery() error
}

// Device is a resolved remote peripheral.
type Device interface {
	// Address returns the stable address of the peripheral.
	Address() string

	// DialSPP opens a serial-profile byte stream to the peripheral. The
	// attempt is abandoned when ctx expires or is cancelled.
	DialSPP(ctx context.Context) (Stream, error)
}

// Stream is an open serial-profile link to the printer.
type Stream interface {
	io.ReadWriteCloser

	// Flush blocks until buffered output has been handed to the transport.
	Flush() error

	// Probe performs a cheap non-destructive liveness check. A returned
	// error means the link is dead even if the transport still reports it
	// as open.
	Probe() error
}
