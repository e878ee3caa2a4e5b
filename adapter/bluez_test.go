package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePairedOutput(t *testing.T) {
	out := "Device AA:BB:CC:DD:EE:FF PT-210 Thermal Printer\n" +
		"Device 11:22:33:44:55:66 Headset\n" +
		"garbage line\n" +
		"Device not-an-address Bogus\n"

	devices := parsePairedOutput(out)
	require.Len(t, devices, 2)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", devices[0].Address)
	assert.Equal(t, "PT-210 Thermal Printer", devices[0].Name)
	assert.Equal(t, "11:22:33:44:55:66", devices[1].Address)
}

func TestParsePairedOutputEmpty(t *testing.T) {
	assert.Empty(t, parsePairedOutput(""))
	assert.Empty(t, parsePairedOutput("No default controller available\n"))
}

func TestParseClassOutput(t *testing.T) {
	out := "Device AA:BB:CC:DD:EE:FF (public)\n" +
		"\tName: PT-210\n" +
		"\tClass: 0x00060680\n" +
		"\tPaired: yes\n"
	assert.Equal(t, uint32(0x00060680), parseClassOutput(out))

	assert.Zero(t, parseClassOutput("Name: PT-210\n"))
	assert.Zero(t, parseClassOutput("Class: zzz\n"))
}

func TestParsePoweredOutput(t *testing.T) {
	on := "Controller AA:BB:CC:DD:EE:FF (public)\n\tPowered: yes\n"
	off := "Controller AA:BB:CC:DD:EE:FF (public)\n\tPowered: no\n"

	assert.True(t, parsePoweredOutput(on))
	assert.False(t, parsePoweredOutput(off))
	assert.False(t, parsePoweredOutput(""))
}

func TestBluezRadioHardware(t *testing.T) {
	radio, err := NewBluezRadio()
	if err != nil {
		t.Skip("bluez tooling not installed, skipping test")
	}

	if !radio.Powered() {
		t.Skip("adapter powered off, skipping test")
	}

	devices, err := radio.BondedDevices()
	require.NoError(t, err)
	for _, d := range devices {
		t.Logf("bonded: %q at %s class 0x%08x", d.Name, d.Address, d.Class)
		assert.True(t, ValidAddress(d.Address))
	}
}

func TestBluezResolveDeviceRejectsBadAddress(t *testing.T) {
	radio, err := NewBluezRadio()
	if err != nil {
		t.Skip("bluez tooling not installed, skipping test")
	}

	_, err = radio.ResolveDevice("not-a-mac")
	assert.Error(t, err)
}
