package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensetian/LimaPrint/adapter"
	"github.com/mensetian/LimaPrint/link"
)

const printerAddr = "AA:BB:CC:DD:EE:FF"

// stubRadio resolves a single device whose stream records everything
// written to it.
type stubRadio struct {
	device *stubDevice
}

func newStubRadio() *stubRadio {
	return &stubRadio{device: &stubDevice{stream: &stubStream{}}}
}

func (r *stubRadio) Powered() bool { return true }

func (r *stubRadio) BondedDevices() ([]adapter.DeviceInfo, error) { return nil, nil }

func (r *stubRadio) CancelDiscovery() error { return nil }

func (r *stubRadio) ResolveDevice(address string) (adapter.Device, error) {
	if address != printerAddr {
		return nil, fmt.Errorf("unknown device %s", address)
	}
	return r.device, nil
}

type stubDevice struct {
	stream *stubStream
}

func (d *stubDevice) Address() string { return printerAddr }

func (d *stubDevice) DialSPP(ctx context.Context) (adapter.Stream, error) {
	return d.stream, nil
}

type stubStream struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (s *stubStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, p...)
	return len(p), nil
}

func (s *stubStream) Read(p []byte) (int, error) { return 0, io.EOF }

func (s *stubStream) Flush() error { return nil }

func (s *stubStream) Probe() error { return nil }

func (s *stubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// written returns everything after the connect-time init sequence.
func (s *stubStream) written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) < 2 {
		return nil
	}
	return append([]byte(nil), s.data[2:]...)
}

func newTestServer(t *testing.T, address string) (*Server, *stubRadio) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	radio := newStubRadio()
	manager := link.New(func() (adapter.Radio, error) { return radio, nil }, logger)
	require.NoError(t, manager.Init())

	opts := link.DefaultTransferOptions()
	opts.ChunkDelay = 0
	return New(manager, address, printerAddr, opts, logger), radio
}

func TestNewServer(t *testing.T) {
	address := "localhost:9100"
	svr, _ := newTestServer(t, address)

	assert.NotNil(t, svr)
	assert.Equal(t, address, svr.Address())
	assert.False(t, svr.IsRunning())
}

func TestServerStartStop(t *testing.T) {
	svr, _ := newTestServer(t, "localhost:9101")

	err := svr.StartAsync()
	require.NoError(t, err)
	assert.True(t, svr.IsRunning())

	// Double start
	err = svr.StartAsync()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	err = svr.Stop()
	require.NoError(t, err)
	assert.False(t, svr.IsRunning())

	// Double stop (should not error)
	err = svr.Stop()
	assert.NoError(t, err)
}

func TestServerForwardsJobThroughLink(t *testing.T) {
	svr, radio := newTestServer(t, "localhost:9102")

	require.NoError(t, svr.StartAsync())
	defer svr.Stop()
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", svr.Address())
	require.NoError(t, err)

	job := []byte{0x1B, 0x40, 'h', 'e', 'l', 'l', 'o', '\n'}
	_, err = conn.Write(job)
	require.NoError(t, err)
	// The job is submitted once the client closes its side.
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(radio.device.stream.written()) > 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, job, radio.device.stream.written())
}

func TestServerSequentialClients(t *testing.T) {
	svr, radio := newTestServer(t, "localhost:9103")

	require.NoError(t, svr.StartAsync())
	defer svr.Stop()
	time.Sleep(100 * time.Millisecond)

	var want []byte
	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", svr.Address())
		require.NoError(t, err)

		job := []byte{byte('a' + i)}
		want = append(want, job...)
		_, err = conn.Write(job)
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		require.Eventually(t, func() bool {
			return len(radio.device.stream.written()) == len(want)
		}, time.Second, 10*time.Millisecond)
	}

	assert.Equal(t, want, radio.device.stream.written())
}

func TestServerEmptyJobIsDropped(t *testing.T) {
	svr, radio := newTestServer(t, "localhost:9104")

	require.NoError(t, svr.StartAsync())
	defer svr.Stop()
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", svr.Address())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, radio.device.stream.written())
}

func TestServerInvalidAddress(t *testing.T) {
	svr, _ := newTestServer(t, "invalid:address:9100")

	err := svr.StartAsync()
	assert.Error(t, err)
	assert.False(t, svr.IsRunning())
}

func TestServerStartBlocking(t *testing.T) {
	svr, radio := newTestServer(t, "localhost:9105")

	started := make(chan error)
	go func() {
		started <- svr.Start()
	}()
	time.Sleep(100 * time.Millisecond)
	assert.True(t, svr.IsRunning())

	conn, err := net.Dial("tcp", svr.Address())
	require.NoError(t, err)
	_, err = conn.Write([]byte("blocking test"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(radio.device.stream.written()) > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, svr.Stop())

	select {
	case err := <-started:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}
