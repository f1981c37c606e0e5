package httpman

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// watchedCertificate ties a loaded certificate to the HTTPS server address
// it is attached to.
type watchedCertificate struct {
	addr SocketAddress
	cert *Certificate
}

// CertificateWatcher watches the PEM files behind loaded certificates and
// swaps the certificate on the owning HTTPS server when a file changes.
// The swap goes through the manager's mediation path as a single replace,
// so the server is never without the certificate and observers see
// reloaded certificates like any other certificate change.
type CertificateWatcher struct {
	manager *ServerManager
	logger  Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	byFile  map[string]*watchedCertificate
	closed  bool
	done    chan struct{}
}

// NewCertificateWatcher creates a watcher and starts its event loop.
func NewCertificateWatcher(manager *ServerManager, logger Logger) (*CertificateWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &CertificateWatcher{
		manager: manager,
		logger:  logger,
		watcher: fsWatcher,
		byFile:  make(map[string]*watchedCertificate),
		done:    make(chan struct{}),
	}

	go w.run()
	return w, nil
}

// Watch starts watching the backing files of cert, which must have been
// loaded with LoadCertificate and attached to the HTTPS server at addr.
func (w *CertificateWatcher) Watch(addr SocketAddress, cert *Certificate) error {
	if cert == nil {
		return ErrNilCertificate
	}
	if cert.certFile == "" || cert.keyFile == "" {
		return fmt.Errorf("%w: %q", ErrCertificateNoBackingFiles, cert.Name())
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	entry := &watchedCertificate{addr: addr, cert: cert}
	for _, file := range []string{cert.certFile, cert.keyFile} {
		file = filepath.Clean(file)
		if err := w.watcher.Add(file); err != nil {
			return fmt.Errorf("watching %s: %w", file, err)
		}
		w.byFile[file] = entry
	}

	w.logger.Info("Watching certificate files", "certificate", cert.Name(), "address", addr.String())
	return nil
}

// Close stops the watcher. Certificates already attached keep serving.
func (w *CertificateWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *CertificateWatcher) run() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload(filepath.Clean(event.Name))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Certificate watcher error", "error", err)
		}
	}
}

// reload re-reads the certificate whose backing file changed and swaps it
// on the owning server. Key and certificate are usually rewritten together;
// a torn read of the pair fails to load and is retried when the second
// file's event arrives.
func (w *CertificateWatcher) reload(file string) {
	w.mu.Lock()
	entry, ok := w.byFile[file]
	w.mu.Unlock()
	if !ok {
		return
	}

	reloaded, err := entry.cert.Reload()
	if err != nil {
		w.logger.Warn("Certificate reload failed, keeping the current certificate",
			"certificate", entry.cert.Name(), "file", file, "error", err)
		return
	}

	if !w.manager.ReplaceCertificate(entry.addr, reloaded) {
		w.logger.Error("Could not swap reloaded certificate, keeping the current certificate",
			"certificate", reloaded.Name(), "address", entry.addr.String())
		return
	}

	w.mu.Lock()
	for f, e := range w.byFile {
		if e == entry {
			w.byFile[f] = &watchedCertificate{addr: entry.addr, cert: reloaded}
		}
	}
	w.mu.Unlock()

	w.logger.Info("Certificate reloaded", "certificate", reloaded.Name(), "address", entry.addr.String())
}
