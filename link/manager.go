package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mensetian/LimaPrint/adapter"
)

// initSequence is the ESC/POS initialize command (ESC @), written once at
// connect time and as the first bytes of the diagnostic page.
var initSequence = []byte{0x1B, 0x40}

// backoffStep is the base of the linear backoff between connect attempts.
const backoffStep = 200 * time.Millisecond

// RadioProvider resolves the platform radio. It is called once, on Init.
type RadioProvider func() (adapter.Radio, error)

// Manager owns the single outbound link to the printer. Every operation
// that touches the session serializes through one exclusive gate, so at
// most one caller uses the physical channel at any time; a second caller
// blocks (or is cancelled via its context) rather than racing. On any I/O
// failure the session is torn down so the next call reconnects from
// scratch.
//
// Known limitation: only the connect step is time-bounded. The chunked
// write loop observes context cancellation between chunks but has no
// per-write deadline, so a peer that stalls mid-write holds the gate until
// the transport gives up.
type Manager struct {
	provider RadioProvider
	log      *logrus.Entry

	initMu sync.Mutex
	radio  adapter.Radio

	// gate is a 1-slot semaphore rather than a mutex so that waiting for
	// exclusive access can be abandoned when the caller's context ends.
	gate    chan struct{}
	session *session
}

// session is the single active connection. It is only ever touched while
// the gate is held.
type session struct {
	address string
	stream  adapter.Stream
}

// New creates a manager. The radio is not resolved until Init.
func New(provider RadioProvider, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		provider: provider,
		log:      logger.WithField("component", "link"),
		gate:     make(chan struct{}, 1),
	}
}

// Init resolves and caches the radio handle. Idempotent: once resolved,
// repeated calls are no-ops. A provider failure leaves the manager
// unavailable; callers observe that through IsAvailable.
func (m *Manager) Init() error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.radio != nil {
		return nil
	}
	radio, err := m.provider()
	if err != nil {
		m.log.WithError(err).Warn("no radio available")
		return fmt.Errorf("%w: %w", ErrUninitialized, err)
	}
	m.radio = radio
	m.log.Info("radio resolved")
	return nil
}

func (m *Manager) radioHandle() adapter.Radio {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.radio
}

// IsAvailable reports whether a radio handle was obtained.
func (m *Manager) IsAvailable() bool {
	return m.radioHandle() != nil
}

// IsEnabled reports whether the radio is powered on. An unavailable radio
// reports false, not an error.
func (m *Manager) IsEnabled() bool {
	r := m.radioHandle()
	return r != nil && r.Powered()
}

// ListCandidateDevices returns the bonded peripherals whose device class
// marks them as imaging printers. The set is empty when the radio is
// unavailable or powered off.
func (m *Manager) ListCandidateDevices() ([]adapter.DeviceInfo, error) {
	devices, err := m.ListBondedDevices()
	if err != nil {
		return nil, err
	}
	var printers []adapter.DeviceInfo
	for _, d := range devices {
		if adapter.IsPrinterClass(d.Class) {
			printers = append(printers, d)
		}
	}
	return printers, nil
}

// ListBondedDevices returns all bonded peripherals, unfiltered.
func (m *Manager) ListBondedDevices() ([]adapter.DeviceInfo, error) {
	r := m.radioHandle()
	if r == nil || !r.Powered() {
		return nil, nil
	}
	devices, err := r.BondedDevices()
	if err != nil {
		return nil, fmt.Errorf("bonded device enumeration failed: %w", err)
	}
	return devices, nil
}

// ConnectedAddress returns the address of the live session, if any. The
// cached session is probed first: the transport can report "connected"
// while the link is actually dead, in which case the session is torn down
// and absence is reported.
func (m *Manager) ConnectedAddress(ctx context.Context) (string, bool) {
	if err := m.acquire(ctx); err != nil {
		return "", false
	}
	defer m.release()

	if m.session == nil {
		return "", false
	}
	if err := m.session.stream.Probe(); err != nil {
		m.log.WithError(err).WithField("addr", m.session.address).Warn("session dead on probe")
		m.teardownLocked()
		return "", false
	}
	return m.session.address, true
}

// EstablishConnection pre-warms a link to the given address with default
// timeout and retries, keeping the session alive afterward.
func (m *Manager) EstablishConnection(ctx context.Context, address string) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	_, err := m.connectLocked(ctx, address, DefaultConnectTimeout, DefaultConnectRetries)
	return err
}

// SendBytes connects to address (reusing a live session when possible) and
// streams payload in paced chunks. On any I/O fault the session is torn
// down and ErrWriteFailed is returned; the call is never partially retried
// internally. A successful send with opts.KeepAlive unset also tears the
// session down.
func (m *Manager) SendBytes(ctx context.Context, address string, payload []byte, opts TransferOptions) error {
	opts = opts.withDefaults()

	if address == "" {
		return fmt.Errorf("%w: empty address", ErrDeviceNotFound)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	sess, err := m.connectLocked(ctx, address, opts.ConnectTimeout, opts.ConnectRetries)
	if err != nil {
		return err
	}
	if err := m.streamLocked(ctx, sess, payload, opts); err != nil {
		return err
	}
	if !opts.KeepAlive {
		m.teardownLocked()
	}
	return nil
}

// TestPrint streams a fixed diagnostic page. It requires a pre-existing
// live session to the exact address and never establishes one implicitly.
func (m *Manager) TestPrint(ctx context.Context, address string) error {
	payload, err := testPagePayload()
	if err != nil {
		return err
	}

	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if m.session == nil || m.session.address != address {
		return fmt.Errorf("%w: no live session to %s", ErrNotConnected, address)
	}
	if err := m.session.stream.Probe(); err != nil {
		m.teardownLocked()
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return m.streamLocked(ctx, m.session, payload, DefaultTransferOptions())
}

// CloseConnection tears down the session if one exists. It queues behind
// any in-flight operation on the same gate rather than racing it. Closing
// is best effort: close-time I/O errors are swallowed and the session
// state is cleared regardless. Safe to call with no session.
func (m *Manager) CloseConnection(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	m.teardownLocked()
	return nil
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.gate
}

// connectLocked produces a live session to address or fails. Caller holds
// the gate.
func (m *Manager) connectLocked(ctx context.Context, address string, timeout time.Duration, retries int) (*session, error) {
	r := m.radioHandle()
	if r == nil {
		return nil, ErrUninitialized
	}

	dev, err := r.ResolveDevice(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	}

	// Fast path: a live session to the same address is reused as is.
	if m.session != nil && m.session.address == address {
		if err := m.session.stream.Probe(); err == nil {
			return m.session, nil
		}
		m.log.WithField("addr", address).Debug("cached session dead, reconnecting")
	}
	m.teardownLocked()

	attempts := retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		r.CancelDiscovery()

		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		stream, err := dev.DialSPP(dialCtx)
		cancel()

		if err == nil {
			// Prime the printer. Some peripherals accept the sequence
			// lazily on the first real write, so a failure here is logged
			// and swallowed.
			if _, werr := stream.Write(initSequence); werr != nil {
				m.log.WithError(werr).WithField("addr", address).Warn("init sequence not accepted")
			}
			m.session = &session{address: address, stream: stream}
			m.log.WithFields(logrus.Fields{"addr": address, "attempt": attempt}).Info("link established")
			return m.session, nil
		}

		lastErr = err
		m.log.WithError(err).WithFields(logrus.Fields{"addr": address, "attempt": attempt}).Warn("connect attempt failed")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < attempts {
			backoff := time.Duration(attempt) * backoffStep
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnectTimeout, attempts, lastErr)
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnectFailed, attempts, lastErr)
}

// streamLocked writes payload to the session in paced chunks. Caller holds
// the gate. Any fault, including cancellation mid-pace, routes through
// teardown so the link is never left in an indeterminate state.
func (m *Manager) streamLocked(ctx context.Context, sess *session, payload []byte, opts TransferOptions) error {
	for offset := 0; offset < len(payload); offset += opts.ChunkSize {
		end := offset + opts.ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if err := writeFull(sess.stream, payload[offset:end]); err != nil {
			m.teardownLocked()
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		if err := sess.stream.Flush(); err != nil {
			m.teardownLocked()
			return fmt.Errorf("%w: flush: %w", ErrWriteFailed, err)
		}
		if end < len(payload) && opts.ChunkDelay > 0 {
			t := time.NewTimer(opts.ChunkDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				m.teardownLocked()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	m.log.WithFields(logrus.Fields{"addr": sess.address, "bytes": len(payload)}).Info("payload streamed")
	return nil
}

// teardownLocked closes the session stream best effort and clears the
// session unconditionally. Caller holds the gate.
func (m *Manager) teardownLocked() {
	sess := m.session
	if sess == nil {
		return
	}
	defer func() { m.session = nil }()
	if err := sess.stream.Close(); err != nil {
		m.log.WithError(err).WithField("addr", sess.address).Debug("close failed")
	}
	m.log.WithField("addr", sess.address).Info("link closed")
}

func writeFull(s adapter.Stream, p []byte) error {
	for len(p) > 0 {
		n, err := s.Write(p)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
