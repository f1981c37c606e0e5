package httpman

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"
)

// Server is a live server instance bound to one listen address. Instances
// are created and owned by a ServerManager; multiple subsystems hold
// references to the same instance and mount their routes on its router.
type Server interface {
	// Start binds the listen address and begins serving. The worker count
	// bounds how many connections are served concurrently; pass
	// UseDefaultWorkerCount to use the configured default, negative counts
	// fail with ErrInvalidWorkerCount. Binding happens synchronously so
	// address conflicts surface to the caller.
	Start(addr SocketAddress, workerCount int, http2Enabled bool) error

	// Stop gracefully shuts the server down.
	Stop() error

	// Name returns the instance name given at creation.
	Name() string

	// Addr returns the listen address the server was started on.
	Addr() SocketAddress

	// PhysicalPort describes the bound port, or nil before Start.
	PhysicalPort() *PhysicalPort

	// Router is the handler subsystems mount their routes on.
	Router() chi.Router
}

// SecureServer is the TLS-capable server variant. Certificates can be
// attached and detached while the server is running.
type SecureServer interface {
	Server

	// AppendCertificate adds a certificate to the SNI store. Appending a
	// certificate whose name is already registered fails.
	AppendCertificate(cert *Certificate) error

	// RemoveCertificate detaches a certificate by name.
	RemoveCertificate(cert *Certificate) error

	// ReplaceCertificate swaps the certificate registered under the same
	// name in one step, so handshakes never see an empty slot mid-swap.
	// Replacing a name that is not attached fails.
	ReplaceCertificate(cert *Certificate) error

	// Certificates returns the currently attached certificates.
	Certificates() []*Certificate

	// HTTP2Enabled reports whether HTTP/2 was enabled at start time.
	HTTP2Enabled() bool
}

// PhysicalPort describes the bound listener of a running server.
type PhysicalPort struct {
	address     SocketAddress
	workerCount int
	listener    net.Listener
}

// Address returns the listen address.
func (p *PhysicalPort) Address() SocketAddress {
	return p.address
}

// WorkerCount returns the connection worker count fixed at bind time.
func (p *PhysicalPort) WorkerCount() int {
	return p.workerCount
}

// HTTPServer is the plain (unencrypted) server implementation. With HTTP/2
// enabled it serves h2c alongside HTTP/1.1.
type HTTPServer struct {
	name   string
	config *Config
	logger Logger
	router chi.Router

	mu           sync.Mutex
	srv          *http.Server
	port         *PhysicalPort
	addr         SocketAddress
	http2Enabled bool
	started      bool
}

var _ Server = (*HTTPServer)(nil)

// NewHTTPServer creates a plain server instance. It does not bind anything
// until Start is called.
func NewHTTPServer(name string, config *Config, logger Logger) *HTTPServer {
	return &HTTPServer{
		name:   name,
		config: config,
		logger: logger,
		router: chi.NewRouter(),
	}
}

// Name returns the instance name.
func (s *HTTPServer) Name() string {
	return s.name
}

// Router returns the router requests are dispatched to.
func (s *HTTPServer) Router() chi.Router {
	return s.router
}

// Addr returns the address the server was started on.
func (s *HTTPServer) Addr() SocketAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// PhysicalPort returns the bound port description, or nil before Start.
func (s *HTTPServer) PhysicalPort() *PhysicalPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Start binds the address and begins serving in a background goroutine.
func (s *HTTPServer) Start(addr SocketAddress, workerCount int, http2Enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrServerAlreadyStarted
	}

	if workerCount < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkerCount, workerCount)
	}
	if workerCount == UseDefaultWorkerCount {
		workerCount = s.config.DefaultWorkerCount
	}

	listener, err := s.bind(addr, workerCount)
	if err != nil {
		return err
	}

	handler := http.Handler(s.router)
	if http2Enabled {
		handler = h2c.NewHandler(s.router, &http2.Server{})
	}

	s.srv = s.newHTTPServer(handler)
	s.addr = addr
	s.http2Enabled = http2Enabled
	s.port = &PhysicalPort{address: addr, workerCount: workerCount, listener: listener}
	s.started = true

	go s.serve(s.srv, listener)

	s.logger.Info("HTTP server started", "name", s.name, "address", addr.String(), "workers", workerCount, "http2", http2Enabled)
	return nil
}

// Stop shuts the server down gracefully, bounded by the configured
// shutdown timeout.
func (s *HTTPServer) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrServerNotStarted
	}
	srv := s.srv
	s.started = false
	s.srv = nil
	s.port = nil
	s.mu.Unlock()

	return s.shutdown(srv)
}

// bind opens the TCP listener and wraps it with the concurrency limit.
func (s *HTTPServer) bind(addr SocketAddress, workerCount int) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr.String())
	if err != nil {
		return nil, err
	}
	return netutil.LimitListener(listener, workerCount), nil
}

func (s *HTTPServer) newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		ReadTimeout:  s.config.Timeout(s.config.ReadTimeout),
		WriteTimeout: s.config.Timeout(s.config.WriteTimeout),
		IdleTimeout:  s.config.Timeout(s.config.IdleTimeout),
	}
}

func (s *HTTPServer) serve(srv *http.Server, listener net.Listener) {
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server error", "name", s.name, "address", s.Addr().String(), "error", err)
	}
}

func (s *HTTPServer) shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout(s.config.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "name", s.name, "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped", "name", s.name)
	return nil
}
