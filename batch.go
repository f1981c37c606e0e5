package httpman

// CreateServers resolves every host in hosts against port, invokes create
// for each resolved address, and appends all created servers to out. The
// batch is all-or-nothing: a resolution failure aborts before anything is
// created, and a creation failure releases every server created by this
// call before returning. Servers that were already registered before the
// call (and are merely reused by create) are released too, which for them
// just gives back the reference this batch took.
func CreateServers[T Server](
	m *ServerManager,
	name string,
	hosts []string,
	port uint16,
	create func(addr SocketAddress) (T, error),
	onCreated func(addr SocketAddress, server T),
	out *[]T,
) error {
	var resolved []SocketAddress
	for _, host := range hosts {
		addresses, err := ResolveSocketAddresses(host, port)
		if err != nil {
			m.logger.Error("Could not listen for server", "name", name, "host", host, "error", err)
			return err
		}
		resolved = append(resolved, addresses...)
	}

	var created []T
	for _, addr := range resolved {
		m.logger.Debug("Attempting to create server instance", "name", name, "address", addr.String())

		server, err := create(addr)
		if err != nil {
			m.logger.Error("Could not initialize server", "name", name, "address", addr.String(), "error", err)
			releaseAll(m, created)
			return err
		}

		if onCreated != nil {
			onCreated(addr, server)
		}
		created = append(created, server)
	}

	*out = append(*out, created...)
	return nil
}

// CreateHTTPServers creates (or reuses) a plain server for every address
// the host list resolves to. See CreateServers for the rollback semantics.
func (m *ServerManager) CreateHTTPServers(
	out *[]Server,
	name string,
	hosts []string,
	port uint16,
	workerCount int,
	onCreated func(addr SocketAddress, server Server),
) error {
	return CreateServers(m, name, hosts, port,
		func(addr SocketAddress) (Server, error) {
			return m.CreateHTTPServer(name, addr, workerCount)
		},
		onCreated, out)
}

// CreateHTTPSServers creates (or reuses) an HTTPS server for every address
// the host list resolves to, attaching the certificate to each.
func (m *ServerManager) CreateHTTPSServers(
	out *[]SecureServer,
	name string,
	hosts []string,
	port uint16,
	cert *Certificate,
	disableHTTP2 bool,
	workerCount int,
	onCreated func(addr SocketAddress, server SecureServer),
) error {
	return CreateServers(m, name, hosts, port,
		func(addr SocketAddress) (SecureServer, error) {
			return m.CreateHTTPSServerWithCertificate(name, addr, cert, disableHTTP2, workerCount)
		},
		onCreated, out)
}

func releaseAll[T Server](m *ServerManager, servers []T) {
	for _, server := range servers {
		m.ReleaseServer(server)
	}
}
