package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidAddress(t *testing.T) {
	valid := []string{
		"AA:BB:CC:DD:EE:FF",
		"aa:bb:cc:dd:ee:ff",
		"00:11:22:33:44:55",
	}
	for _, a := range valid {
		assert.True(t, ValidAddress(a), a)
	}

	invalid := []string{
		"",
		"AA:BB:CC:DD:EE",
		"AA:BB:CC:DD:EE:FF:00",
		"AA-BB-CC-DD-EE-FF",
		"GG:BB:CC:DD:EE:FF",
		"AA:BB:CC:DD:EE:F",
		"/dev/rfcomm0",
	}
	for _, a := range invalid {
		assert.False(t, ValidAddress(a), a)
	}
}

func TestIsPrinterClass(t *testing.T) {
	cases := []struct {
		name  string
		class uint32
		want  bool
	}{
		// Real class-of-device values observed from bluetoothctl.
		{"ThermalPrinter", 0x00060680, true},
		{"PrinterOnly", 0x000680, true},
		{"Headset", 0x00240404, false},
		{"ImagingScanner", 0x000610, false},
		{"Phone", 0x005A020C, false},
		{"Unknown", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsPrinterClass(tc.class))
		})
	}
}
