// Package httpman hands out shared, address-keyed HTTP and HTTPS server
// instances. Independent subsystems (streaming endpoints, admin APIs, ...)
// ask the manager for the server bound to an address; the first request
// creates and binds it, later requests for the same address reuse it. The
// manager also mediates certificate attach/detach on HTTPS instances and
// provides an all-or-nothing batch creation path over host lists.
package httpman

import (
	"context"
	"fmt"
	"sync"
)

// serverEntry is one registry slot. The variant is fixed at creation time:
// secure is non-nil exactly when the entry holds an HTTPS server. refs
// counts the acquisitions that have not been released yet.
type serverEntry struct {
	server Server
	secure SecureServer
	refs   int
}

// ServerManager owns the process-wide address-to-server registry. One
// mutex guards the whole lookup-or-create path, including the bind, so two
// concurrent callers can never race a double bind for the same address.
// Server creation is a startup-time operation; serializing it is cheap.
type ServerManager struct {
	config *Config
	logger Logger

	mu      sync.Mutex
	servers map[SocketAddress]*serverEntry

	observerMu sync.RWMutex
	observers  map[string]*observerRegistration

	newHTTPServer  func(name string, config *Config, logger Logger) Server
	newHTTPSServer func(name string, config *Config, logger Logger) SecureServer
}

// ManagerOption configures a ServerManager at construction time.
type ManagerOption func(*ServerManager)

// WithHTTPServerFactory overrides how plain server instances are
// constructed. Used by tests and by callers embedding their own handle
// implementation.
func WithHTTPServerFactory(factory func(name string, config *Config, logger Logger) Server) ManagerOption {
	return func(m *ServerManager) {
		m.newHTTPServer = factory
	}
}

// WithHTTPSServerFactory overrides how HTTPS server instances are
// constructed.
func WithHTTPSServerFactory(factory func(name string, config *Config, logger Logger) SecureServer) ManagerOption {
	return func(m *ServerManager) {
		m.newHTTPSServer = factory
	}
}

// NewServerManager creates a manager with the given configuration. A nil
// config gets the documented defaults.
func NewServerManager(config *Config, logger Logger, opts ...ManagerOption) (*ServerManager, error) {
	if config == nil {
		config = &Config{}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m := &ServerManager{
		config:    config,
		logger:    logger,
		servers:   make(map[SocketAddress]*serverEntry),
		observers: make(map[string]*observerRegistration),
		newHTTPServer: func(name string, config *Config, logger Logger) Server {
			return NewHTTPServer(name, config, logger)
		},
		newHTTPSServer: func(name string, config *Config, logger Logger) SecureServer {
			return NewHTTPSServer(name, config, logger)
		},
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateHTTPServer returns the plain server bound to addr, creating and
// starting it on first request. Requesting an address already held by an
// HTTPS instance fails. A worker count differing from the running
// instance's is tolerated with a warning; the first-established count wins.
func (m *ServerManager) CreateHTTPServer(name string, addr SocketAddress, workerCount int) (Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.servers[addr]; ok {
		if entry.secure != nil {
			m.logger.Error("Cannot reuse instance: requested HTTP server, but previous instance is an HTTPS server", "address", addr.String())
			return nil, fmt.Errorf("%w: %s holds an HTTPS server", ErrVariantConflict, addr)
		}

		if workerCount != UseDefaultWorkerCount {
			if port := entry.server.PhysicalPort(); port != nil && port.WorkerCount() != workerCount {
				m.logger.Warn("Worker count differs from the running instance; keeping the first-established count",
					"address", addr.String(), "established", port.WorkerCount(), "requested", workerCount)
			}
		}

		entry.refs++
		m.emitServerEvent(EventTypeServerReused, name, addr)
		return entry.server, nil
	}

	server := m.newHTTPServer(name, m.config, m.logger)
	if err := server.Start(addr, workerCount, m.config.HTTP2Enabled); err != nil {
		m.logger.Error("Failed to start HTTP server", "name", name, "address", addr.String(), "error", err)
		return nil, fmt.Errorf("starting HTTP server on %s: %w", addr, err)
	}

	m.servers[addr] = &serverEntry{server: server, refs: 1}
	m.emitServerEvent(EventTypeServerCreated, name, addr)
	return server, nil
}

// CreateHTTPSServer returns the HTTPS server bound to addr, creating and
// starting it on first request. HTTP/2 comes from the configuration unless
// disableHTTP2 forces it off for this call; a capability mismatch against a
// running instance only warns, because the protocol was fixed at first bind.
func (m *ServerManager) CreateHTTPSServer(name string, addr SocketAddress, disableHTTP2 bool, workerCount int) (SecureServer, error) {
	http2Enabled := m.config.HTTP2Enabled
	if disableHTTP2 {
		http2Enabled = false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.servers[addr]; ok {
		if entry.secure == nil {
			m.logger.Error("Cannot reuse instance: requested HTTPS server, but previous instance is an HTTP server", "address", addr.String())
			return nil, fmt.Errorf("%w: %s holds an HTTP server", ErrVariantConflict, addr)
		}

		if entry.secure.HTTP2Enabled() && !http2Enabled {
			m.logger.Warn("Requested HTTP/1.1 only on an address already serving HTTP/2", "address", addr.String())
		} else if !entry.secure.HTTP2Enabled() && http2Enabled {
			m.logger.Warn("Requested HTTP/2 on an address already serving HTTP/1.1 only", "address", addr.String())
		}

		entry.refs++
		m.emitServerEvent(EventTypeServerReused, name, addr)
		return entry.secure, nil
	}

	server := m.newHTTPSServer(name, m.config, m.logger)
	if err := server.Start(addr, workerCount, http2Enabled); err != nil {
		m.logger.Error("Failed to start HTTPS server", "name", name, "address", addr.String(), "error", err)
		return nil, fmt.Errorf("starting HTTPS server on %s: %w", addr, err)
	}

	m.servers[addr] = &serverEntry{server: server, secure: server, refs: 1}
	m.emitServerEvent(EventTypeServerCreated, name, addr)
	return server, nil
}

// CreateHTTPSServerWithCertificate acquires the HTTPS server for addr and
// attaches the certificate. If the attach fails the acquisition is rolled
// back: the reference is released, and a server created by this very call
// is stopped and removed from the registry.
func (m *ServerManager) CreateHTTPSServerWithCertificate(name string, addr SocketAddress, cert *Certificate, disableHTTP2 bool, workerCount int) (SecureServer, error) {
	server, err := m.CreateHTTPSServer(name, addr, disableHTTP2, workerCount)
	if err != nil {
		return nil, err
	}

	if err := server.AppendCertificate(cert); err != nil {
		m.logger.Error("Could not attach certificate", "name", name, "address", addr.String(), "error", err)
		m.ReleaseServer(server)
		return nil, fmt.Errorf("attaching certificate to %s: %w", addr, err)
	}

	m.emitCertificateEvent(EventTypeCertificateAdded, addr, cert)
	return server, nil
}

// GetHTTPSServer returns the HTTPS server registered for addr without
// acquiring a new reference. It fails when the address is unknown or held
// by a plain server.
func (m *ServerManager) GetHTTPSServer(addr SocketAddress) (SecureServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.servers[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, addr)
	}
	if entry.secure == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotSecureServer, addr)
	}
	return entry.secure, nil
}

// AppendCertificate attaches a certificate to the HTTPS server registered
// for addr. Failures are logged and collapsed into the boolean result.
func (m *ServerManager) AppendCertificate(addr SocketAddress, cert *Certificate) bool {
	server, err := m.GetHTTPSServer(addr)
	if err != nil {
		m.logger.Error("Could not find HTTPS server to append certificate", "address", addr.String(), "error", err)
		return false
	}

	if err := server.AppendCertificate(cert); err != nil {
		m.logger.Error("Could not set certificate on HTTPS server", "address", addr.String(), "error", err)
		return false
	}

	m.emitCertificateEvent(EventTypeCertificateAdded, addr, cert)
	return true
}

// RemoveCertificate detaches a certificate from the HTTPS server registered
// for addr.
func (m *ServerManager) RemoveCertificate(addr SocketAddress, cert *Certificate) bool {
	server, err := m.GetHTTPSServer(addr)
	if err != nil {
		m.logger.Error("Could not find HTTPS server to remove certificate", "address", addr.String(), "error", err)
		return false
	}

	if err := server.RemoveCertificate(cert); err != nil {
		m.logger.Error("Could not remove certificate from HTTPS server", "address", addr.String(), "error", err)
		return false
	}

	m.emitCertificateEvent(EventTypeCertificateRemoved, addr, cert)
	return true
}

// ReplaceCertificate swaps a certificate on the HTTPS server registered
// for addr with a fresh one carrying the same name. Used by the
// certificate watcher so a reload never leaves the server without the
// certificate.
func (m *ServerManager) ReplaceCertificate(addr SocketAddress, cert *Certificate) bool {
	server, err := m.GetHTTPSServer(addr)
	if err != nil {
		m.logger.Error("Could not find HTTPS server to replace certificate", "address", addr.String(), "error", err)
		return false
	}

	if err := server.ReplaceCertificate(cert); err != nil {
		m.logger.Error("Could not replace certificate on HTTPS server", "address", addr.String(), "error", err)
		return false
	}

	m.emitCertificateEvent(EventTypeCertificateReloaded, addr, cert)
	return true
}

// ReleaseServer gives back one reference to a server obtained from an
// acquisition call. When the last reference is released the server is
// stopped (outside the registry lock) and its registry entry removed.
// Releasing a nil or unmanaged server returns false.
func (m *ServerManager) ReleaseServer(server Server) bool {
	if server == nil {
		return false
	}

	addr := server.Addr()

	m.mu.Lock()
	entry, ok := m.servers[addr]
	if !ok || entry.server != server {
		m.mu.Unlock()
		m.logger.Warn("Release of a server not held by the registry", "address", addr.String())
		return false
	}

	entry.refs--
	if entry.refs > 0 {
		m.mu.Unlock()
		m.emitServerEvent(EventTypeServerReleased, server.Name(), addr)
		return true
	}

	delete(m.servers, addr)
	m.mu.Unlock()

	m.emitServerEvent(EventTypeServerReleased, server.Name(), addr)

	if err := server.Stop(); err != nil {
		m.logger.Error("Failed to stop released server", "address", addr.String(), "error", err)
		return false
	}

	m.emitServerEvent(EventTypeServerStopped, server.Name(), addr)
	return true
}

// ReleaseServers releases every server in the list, reporting false if any
// single release failed.
func (m *ServerManager) ReleaseServers(servers []Server) bool {
	ok := true
	for _, server := range servers {
		if !m.ReleaseServer(server) {
			ok = false
		}
	}
	return ok
}

// ServerCount returns the number of registered addresses.
func (m *ServerManager) ServerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.servers)
}

// Addresses returns a snapshot of the registered listen addresses.
func (m *ServerManager) Addresses() []SocketAddress {
	m.mu.Lock()
	defer m.mu.Unlock()

	addresses := make([]SocketAddress, 0, len(m.servers))
	for addr := range m.servers {
		addresses = append(addresses, addr)
	}
	return addresses
}

// secureServers returns a snapshot of the registered HTTPS servers, keyed
// by address. Used by the expiry monitor.
func (m *ServerManager) secureServers() map[SocketAddress]SecureServer {
	m.mu.Lock()
	defer m.mu.Unlock()

	servers := make(map[SocketAddress]SecureServer)
	for addr, entry := range m.servers {
		if entry.secure != nil {
			servers[addr] = entry.secure
		}
	}
	return servers
}

func (m *ServerManager) emitServerEvent(eventType, name string, addr SocketAddress) {
	data := map[string]interface{}{
		"name":    name,
		"address": addr.String(),
	}
	m.emitEvent(context.Background(), eventType, data, nil)
}

func (m *ServerManager) emitCertificateEvent(eventType string, addr SocketAddress, cert *Certificate) {
	data := map[string]interface{}{
		"address": addr.String(),
	}
	if cert != nil {
		data["certificate"] = cert.Name()
		data["domains"] = cert.Domains()
	}
	m.emitEvent(context.Background(), eventType, data, nil)
}
