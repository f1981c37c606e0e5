package httpman

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

var errStubBindRefused = errors.New("stub bind refused")

// testLogger records log entries so tests can assert on warnings and
// errors. Safe for concurrent use; events are emitted from goroutines.
type testLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (l *testLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *testLogger) Info(msg string, args ...any)  { l.log("info", msg, args...) }
func (l *testLogger) Error(msg string, args ...any) { l.log("error", msg, args...) }
func (l *testLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args...) }
func (l *testLogger) Debug(msg string, args ...any) { l.log("debug", msg, args...) }

func (l *testLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var msgs []string
	for _, e := range l.entries {
		if e.level == level {
			msgs = append(msgs, e.msg)
		}
	}
	return msgs
}

func (l *testLogger) containsMessage(level, substring string) bool {
	for _, msg := range l.messages(level) {
		if strings.Contains(msg, substring) {
			return true
		}
	}
	return false
}

// stubServer is a Server implementation that binds nothing. It records
// lifecycle calls so registry behavior can be tested without sockets.
type stubServer struct {
	name string

	mu         sync.Mutex
	addr       SocketAddress
	port       *PhysicalPort
	started    bool
	startCalls int
	stopCalls  int
	failStart  bool
	failStop   bool
	router     chi.Router
}

var _ Server = (*stubServer)(nil)

func newStubServer(name string) *stubServer {
	return &stubServer{name: name, router: chi.NewRouter()}
}

func (s *stubServer) Start(addr SocketAddress, workerCount int, http2Enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.startCalls++
	if s.failStart {
		return errStubBindRefused
	}
	if s.started {
		return ErrServerAlreadyStarted
	}
	if workerCount < 0 {
		return ErrInvalidWorkerCount
	}
	if workerCount == UseDefaultWorkerCount {
		workerCount = 4
	}

	s.addr = addr
	s.port = &PhysicalPort{address: addr, workerCount: workerCount}
	s.started = true
	return nil
}

func (s *stubServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopCalls++
	if s.failStop {
		return errors.New("stub stop failed")
	}
	if !s.started {
		return ErrServerNotStarted
	}
	s.started = false
	return nil
}

func (s *stubServer) Name() string { return s.name }

func (s *stubServer) Addr() SocketAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *stubServer) PhysicalPort() *PhysicalPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *stubServer) Router() chi.Router { return s.router }

func (s *stubServer) starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls
}

func (s *stubServer) stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

// stubSecureServer extends stubServer with the certificate surface.
type stubSecureServer struct {
	stubServer

	http2      bool
	certs      []*Certificate
	failAppend bool
}

var _ SecureServer = (*stubSecureServer)(nil)

func newStubSecureServer(name string) *stubSecureServer {
	return &stubSecureServer{stubServer: *newStubServer(name)}
}

func (s *stubSecureServer) Start(addr SocketAddress, workerCount int, http2Enabled bool) error {
	if err := s.stubServer.Start(addr, workerCount, http2Enabled); err != nil {
		return err
	}
	s.mu.Lock()
	s.http2 = http2Enabled
	s.mu.Unlock()
	return nil
}

func (s *stubSecureServer) HTTP2Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.http2
}

func (s *stubSecureServer) AppendCertificate(cert *Certificate) error {
	if cert == nil {
		return ErrNilCertificate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAppend {
		return errors.New("stub append refused")
	}
	for _, existing := range s.certs {
		if existing.Name() == cert.Name() {
			return ErrCertificateExists
		}
	}
	s.certs = append(s.certs, cert)
	return nil
}

func (s *stubSecureServer) ReplaceCertificate(cert *Certificate) error {
	if cert == nil {
		return ErrNilCertificate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.certs {
		if existing.Name() == cert.Name() {
			s.certs[i] = cert
			return nil
		}
	}
	return ErrCertificateNotFound
}

func (s *stubSecureServer) RemoveCertificate(cert *Certificate) error {
	if cert == nil {
		return ErrNilCertificate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.certs {
		if existing.Name() == cert.Name() {
			s.certs = append(s.certs[:i], s.certs[i+1:]...)
			return nil
		}
	}
	return ErrCertificateNotFound
}

func (s *stubSecureServer) Certificates() []*Certificate {
	s.mu.Lock()
	defer s.mu.Unlock()

	certs := make([]*Certificate, len(s.certs))
	copy(certs, s.certs)
	return certs
}

// newStubManager builds a manager whose factories hand out the given
// stubs in order, so tests control every created instance.
func newStubManager(t *testing.T, cfg *Config, logger *testLogger, plain []*stubServer, secure []*stubSecureServer) *ServerManager {
	t.Helper()

	plainIdx, secureIdx := 0, 0
	var mu sync.Mutex

	manager, err := NewServerManager(cfg, logger,
		WithHTTPServerFactory(func(name string, _ *Config, _ Logger) Server {
			mu.Lock()
			defer mu.Unlock()
			if plainIdx >= len(plain) {
				t.Fatalf("factory asked for plain server %d, only %d prepared", plainIdx+1, len(plain))
			}
			s := plain[plainIdx]
			plainIdx++
			return s
		}),
		WithHTTPSServerFactory(func(name string, _ *Config, _ Logger) SecureServer {
			mu.Lock()
			defer mu.Unlock()
			if secureIdx >= len(secure) {
				t.Fatalf("factory asked for secure server %d, only %d prepared", secureIdx+1, len(secure))
			}
			s := secure[secureIdx]
			secureIdx++
			return s
		}),
	)
	if err != nil {
		t.Fatalf("NewServerManager: %v", err)
	}
	return manager
}

// generateCertificatePEM creates a self-signed certificate for the given
// domains and returns it PEM-encoded.
func generateCertificatePEM(t *testing.T, notAfter time.Time, domains ...string) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("generating serial: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: domains[0],
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	for _, domain := range domains {
		if ip := net.ParseIP(domain); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, domain)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// generateTestCertificate creates an in-memory Certificate.
func generateTestCertificate(t *testing.T, name string, domains ...string) *Certificate {
	t.Helper()

	certPEM, keyPEM := generateCertificatePEM(t, time.Now().Add(365*24*time.Hour), domains...)
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("building key pair: %v", err)
	}

	cert, err := NewCertificate(name, nil, tlsCert)
	if err != nil {
		t.Fatalf("NewCertificate: %v", err)
	}
	return cert
}

// writeCertificateFiles writes a self-signed certificate pair into dir and
// returns the file paths.
func writeCertificateFiles(t *testing.T, dir string, notAfter time.Time, domains ...string) (certFile, keyFile string) {
	t.Helper()

	certPEM, keyPEM := generateCertificatePEM(t, notAfter, domains...)
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("writing cert file: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	return certFile, keyFile
}

// freeAddress reserves an ephemeral localhost port and returns it as a
// SocketAddress. The listener is closed so the port is free for the test.
func freeAddress(t *testing.T) SocketAddress {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if err := listener.Close(); err != nil {
		t.Fatalf("closing reservation: %v", err)
	}
	return NewSocketAddress("127.0.0.1", uint16(port))
}
