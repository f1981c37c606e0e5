package httpman

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

// HTTPSServer is the TLS-capable server implementation. Certificates are
// kept in an SNI store that can be mutated while the server is running;
// the TLS handshake resolves the certificate per connection.
type HTTPSServer struct {
	HTTPServer

	certMu sync.RWMutex
	certs  []*Certificate
}

var _ SecureServer = (*HTTPSServer)(nil)

// NewHTTPSServer creates an HTTPS server instance. Certificates can be
// attached before or after Start.
func NewHTTPSServer(name string, config *Config, logger Logger) *HTTPSServer {
	return &HTTPSServer{
		HTTPServer: HTTPServer{
			name:   name,
			config: config,
			logger: logger,
			router: chi.NewRouter(),
		},
	}
}

// Start binds the address and begins serving TLS in a background
// goroutine. With HTTP/2 enabled, h2 is offered through ALPN.
func (s *HTTPSServer) Start(addr SocketAddress, workerCount int, http2Enabled bool) error {
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

	tlsConfig := &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: s.getCertificate,
	}
	if http2Enabled {
		tlsConfig.NextProtos = []string{"h2", "http/1.1"}
	} else {
		tlsConfig.NextProtos = []string{"http/1.1"}
	}

	s.srv = s.newHTTPServer(s.router)
	if !http2Enabled {
		// An empty map disables the standard library's automatic h2 upgrade.
		s.srv.TLSNextProto = map[string]func(*http.Server, *tls.Conn, http.Handler){}
	}

	s.addr = addr
	s.http2Enabled = http2Enabled
	s.port = &PhysicalPort{address: addr, workerCount: workerCount, listener: listener}
	s.started = true

	go s.serve(s.srv, tls.NewListener(listener, tlsConfig))

	s.logger.Info("HTTPS server started", "name", s.name, "address", addr.String(), "workers", workerCount, "http2", http2Enabled)
	return nil
}

// HTTP2Enabled reports whether HTTP/2 was enabled when the server started.
func (s *HTTPSServer) HTTP2Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.http2Enabled
}

// AppendCertificate adds a certificate to the SNI store.
func (s *HTTPSServer) AppendCertificate(cert *Certificate) error {
	if cert == nil {
		return ErrNilCertificate
	}

	s.certMu.Lock()
	defer s.certMu.Unlock()

	for _, existing := range s.certs {
		if existing.Name() == cert.Name() {
			return fmt.Errorf("%w: %q", ErrCertificateExists, cert.Name())
		}
	}

	s.certs = append(s.certs, cert)
	s.logger.Info("Certificate attached", "name", s.name, "certificate", cert.Name(), "domains", cert.Domains())
	return nil
}

// RemoveCertificate detaches a certificate by name.
func (s *HTTPSServer) RemoveCertificate(cert *Certificate) error {
	if cert == nil {
		return ErrNilCertificate
	}

	s.certMu.Lock()
	defer s.certMu.Unlock()

	for i, existing := range s.certs {
		if existing.Name() == cert.Name() {
			s.certs = append(s.certs[:i], s.certs[i+1:]...)
			s.logger.Info("Certificate detached", "name", s.name, "certificate", cert.Name())
			return nil
		}
	}

	return fmt.Errorf("%w: %q", ErrCertificateNotFound, cert.Name())
}

// ReplaceCertificate swaps the attached certificate with the same name in
// place. The slot is never empty during the swap, so concurrent handshakes
// resolve either the old or the new certificate.
func (s *HTTPSServer) ReplaceCertificate(cert *Certificate) error {
	if cert == nil {
		return ErrNilCertificate
	}

	s.certMu.Lock()
	defer s.certMu.Unlock()

	for i, existing := range s.certs {
		if existing.Name() == cert.Name() {
			s.certs[i] = cert
			s.logger.Info("Certificate replaced", "name", s.name, "certificate", cert.Name(), "domains", cert.Domains())
			return nil
		}
	}

	return fmt.Errorf("%w: %q", ErrCertificateNotFound, cert.Name())
}

// Certificates returns a snapshot of the attached certificates.
func (s *HTTPSServer) Certificates() []*Certificate {
	s.certMu.RLock()
	defer s.certMu.RUnlock()

	certs := make([]*Certificate, len(s.certs))
	copy(certs, s.certs)
	return certs
}

// getCertificate resolves the certificate for a TLS handshake: exact or
// wildcard SNI match first, then the first attached certificate as the
// default for clients that send no server name.
func (s *HTTPSServer) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.certMu.RLock()
	defer s.certMu.RUnlock()

	if len(s.certs) == 0 {
		return nil, fmt.Errorf("%w: no certificates attached to %q", ErrCertificateNotFound, s.name)
	}

	if hello.ServerName != "" {
		for _, cert := range s.certs {
			if cert.MatchesDomain(hello.ServerName) {
				return cert.TLSCertificate(), nil
			}
		}
	}

	return s.certs[0].TLSCertificate(), nil
}
