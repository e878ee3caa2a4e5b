package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mensetian/LimaPrint/link"
)

// maxJobSize caps a single network print job.
const maxJobSize = 8 << 20

// Server is a raw-print TCP front end (JetDirect style): each client
// connection's bytes become one print job submitted through the link
// manager, so network prints serialize with every other use of the link.
type Server struct {
	manager  *link.Manager
	printer  string
	opts     link.TransferOptions
	listener net.Listener
	address  string
	mu       sync.Mutex
	running  bool
	wg       sync.WaitGroup
	log      *logrus.Entry
}

// New creates a server printing to the given device address.
func New(manager *link.Manager, address, printerAddress string, opts link.TransferOptions, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		manager: manager,
		printer: printerAddress,
		opts:    opts,
		address: address,
		log:     logger.WithField("component", "server"),
	}
}

// Start starts the TCP server and blocks until Stop is called.
func (s *Server) Start() error {
	if err := s.listen(); err != nil {
		return err
	}
	s.log.Info("ready to accept connections")
	s.acceptConnections()
	return nil
}

// StartAsync starts the TCP server in a goroutine (non-blocking).
func (s *Server) StartAsync() error {
	if err := s.listen(); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptConnections()
	}()
	s.log.Info("server started in background")
	return nil
}

func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Error("server already running")
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.log.WithError(err).Error("failed to start server")
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.listener = listener
	s.running = true
	s.log.WithField("address", s.address).Info("server listening")
	return nil
}

// acceptConnections handles incoming client connections.
func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()

			if !running {
				s.log.Info("server shutting down, stopping accept loop")
				return
			}
			s.log.WithError(err).Error("error accepting connection")
			continue
		}

		s.log.WithField("client", conn.RemoteAddr().String()).Info("client connected")
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection drains one client connection into a job and submits it.
// The job is handed to the link manager only once the client has sent
// everything: a half-received job must not hold the printer link.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	client := conn.RemoteAddr().String()
	clog := s.log.WithField("client", client)

	job, err := io.ReadAll(io.LimitReader(conn, maxJobSize))
	if err != nil {
		clog.WithError(err).Error("error reading from client")
		return
	}
	if len(job) == 0 {
		clog.Info("client sent empty job")
		return
	}

	clog.WithField("bytes", len(job)).Info("job received")
	if err := s.manager.SendBytes(context.Background(), s.printer, job, s.opts); err != nil {
		clog.WithError(err).Error("print failed")
		return
	}
	clog.Info("job printed")
}

// Stop stops the TCP server and waits for in-flight jobs.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.log.Info("stop called but server is not running")
		return nil
	}

	s.running = false
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	s.log.Info("waiting for active connections to close")
	s.wg.Wait()
	s.log.Info("server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.address
}
