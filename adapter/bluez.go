package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Errors reported by the BlueZ radio.
var (
	ErrNoAdapter     = errors.New("no bluetooth adapter present")
	ErrRFCOMMMissing = errors.New("rfcomm not found - install with: sudo apt install bluez")
)

// BluezRadio drives the local adapter through the BlueZ userland tools:
// bluetoothctl for enumeration and discovery control, rfcomm to bind the
// serial-profile channel, and a serial port for the byte stream.
type BluezRadio struct{}

// NewBluezRadio resolves the local radio. It fails if the BlueZ tooling is
// not installed, which is the closest observable proxy for "no adapter".
func NewBluezRadio() (*BluezRadio, error) {
	if _, err := exec.LookPath("bluetoothctl"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAdapter, err)
	}
	return &BluezRadio{}, nil
}

// Powered reports whether the adapter is powered on.
func (r *BluezRadio) Powered() bool {
	out, err := exec.Command("bluetoothctl", "show").Output()
	if err != nil {
		return false
	}
	return parsePoweredOutput(string(out))
}

func parsePoweredOutput(out string) bool {
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "Powered:") {
			return strings.Contains(line, "yes")
		}
	}
	return false
}

// BondedDevices returns all paired peripherals with their class-of-device.
func (r *BluezRadio) BondedDevices() ([]DeviceInfo, error) {
	out, err := exec.Command("bluetoothctl", "devices", "Paired").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list paired devices: %w", err)
	}

	devices := parsePairedOutput(string(out))
	for i := range devices {
		devices[i].Class = deviceClass(devices[i].Address)
	}
	return devices, nil
}

func parsePairedOutput(out string) []DeviceInfo {
	var devices []DeviceInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Device ") {
			continue
		}
		// Format: "Device XX:XX:XX:XX:XX:XX DeviceName"
		parts := strings.SplitN(strings.TrimPrefix(line, "Device "), " ", 2)
		if len(parts) != 2 || !ValidAddress(parts[0]) {
			continue
		}
		devices = append(devices, DeviceInfo{Address: parts[0], Name: parts[1]})
	}
	return devices
}

// deviceClass reads the class-of-device from bluetoothctl info output.
// Unknown or unparsable classes come back as 0.
func deviceClass(address string) uint32 {
	out, err := exec.Command("bluetoothctl", "info", address).Output()
	if err != nil {
		return 0
	}
	return parseClassOutput(string(out))
}

func parseClassOutput(out string) uint32 {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Class:") {
			continue
		}
		// Format: "Class: 0x00060680"
		raw := strings.TrimSpace(strings.TrimPrefix(line, "Class:"))
		raw = strings.TrimPrefix(raw, "0x")
		class, err := strconv.ParseUint(raw, 16, 32)
		if err != nil {
			return 0
		}
		return uint32(class)
	}
	return 0
}

// ResolveDevice returns a handle for the paired peripheral at address.
func (r *BluezRadio) ResolveDevice(address string) (Device, error) {
	if !ValidAddress(address) {
		return nil, fmt.Errorf("malformed device address %q", address)
	}
	if err := exec.Command("bluetoothctl", "info", address).Run(); err != nil {
		return nil, fmt.Errorf("device %s not known to adapter: %w", address, err)
	}
	return &bluezDevice{address: address}, nil
}

// CancelDiscovery stops any in-progress scan. Best effort: an already idle
// adapter makes bluetoothctl exit nonzero.
func (r *BluezRadio) CancelDiscovery() error {
	exec.Command("bluetoothctl", "scan", "off").Run()
	return nil
}

type bluezDevice struct {
	address string
}

func (d *bluezDevice) Address() string { return d.address }

// DialSPP binds a free /dev/rfcommN node to the device's SPP channel and
// opens it as a serial port. The rfcomm connect process stays alive for the
// lifetime of the stream; killing it drops the link.
func (d *bluezDevice) DialSPP(ctx context.Context) (Stream, error) {
	if _, err := exec.LookPath("rfcomm"); err != nil {
		return nil, ErrRFCOMMMissing
	}

	devPath, err := freeRFCOMMSlot()
	if err != nil {
		return nil, err
	}

	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, "rfcomm", "connect", devPath, d.address)
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start rfcomm: %w", err)
	}

	// Wait for the device node to appear; rfcomm creates it once the
	// channel is up.
	for {
		if _, err := os.Stat(devPath); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			cancel()
			cmd.Wait()
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(devPath, mode)
	if err != nil {
		cancel()
		cmd.Wait()
		return nil, fmt.Errorf("failed to open port %s: %w", devPath, err)
	}
	port.SetReadTimeout(3 * time.Second)

	return &bluezStream{
		port:    port,
		devPath: devPath,
		cancel:  cancel,
		cmd:     cmd,
	}, nil
}

// freeRFCOMMSlot finds an unused /dev/rfcommN device number.
func freeRFCOMMSlot() (string, error) {
	for i := 0; i < 10; i++ {
		devPath := fmt.Sprintf("/dev/rfcomm%d", i)
		if _, err := os.Stat(devPath); os.IsNotExist(err) {
			return devPath, nil
		}
	}
	return "", errors.New("no available rfcomm device slots")
}

type bluezStream struct {
	port    serial.Port
	devPath string
	cancel  context.CancelFunc
	cmd     *exec.Cmd
}

func (s *bluezStream) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *bluezStream) Write(p []byte) (int, error) { return s.port.Write(p) }

func (s *bluezStream) Flush() error { return s.port.Drain() }

// Probe checks that the rfcomm node still exists. BlueZ removes it when the
// peer drops the link, so a vanished node is authoritative death. A node
// that is still present does not guarantee a responsive peer.
func (s *bluezStream) Probe() error {
	if _, err := os.Stat(s.devPath); err != nil {
		return fmt.Errorf("rfcomm device gone: %w", err)
	}
	return nil
}

func (s *bluezStream) Close() error {
	err := s.port.Close()
	s.cancel()
	s.cmd.Wait()
	exec.Command("rfcomm", "release", s.devPath).Run()
	return err
}
