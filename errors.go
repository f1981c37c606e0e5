package httpman

import (
	"errors"
)

// Static errors returned by the server manager and the server handles.
var (
	// Registry errors
	ErrVariantConflict = errors.New("address is already bound to a different server variant")
	ErrServerNotFound  = errors.New("no server registered for address")
	ErrNotSecureServer = errors.New("server registered for address is not an HTTPS server")

	// Server lifecycle errors
	ErrServerAlreadyStarted = errors.New("server already started")
	ErrServerNotStarted     = errors.New("server not started")

	// Certificate errors
	ErrNilCertificate            = errors.New("certificate is nil")
	ErrCertificateExists         = errors.New("certificate already registered")
	ErrCertificateNotFound       = errors.New("certificate not found")
	ErrCertificateNoBackingFiles = errors.New("certificate was not loaded from files")

	// Address resolution errors
	ErrAddressResolution = errors.New("could not resolve host to listen addresses")

	// Configuration errors
	ErrConfigLoadFailed   = errors.New("failed to load configuration")
	ErrInvalidWorkerCount = errors.New("worker count must not be negative")

	// Watcher errors
	ErrWatcherClosed = errors.New("certificate watcher is closed")
)
