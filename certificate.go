package httpman

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
	"time"
)

// Certificate is a named TLS certificate attached to HTTPS server
// instances. The domain list drives SNI selection; when it is empty the
// domains are derived from the leaf certificate's common name and SANs.
type Certificate struct {
	name     string
	domains  []string
	tlsCert  tls.Certificate
	leaf     *x509.Certificate
	certFile string
	keyFile  string
}

// NewCertificate wraps an already-parsed tls.Certificate. The name must be
// unique among the certificates attached to one server.
func NewCertificate(name string, domains []string, tlsCert tls.Certificate) (*Certificate, error) {
	leaf := tlsCert.Leaf
	if leaf == nil && len(tlsCert.Certificate) > 0 {
		parsed, err := x509.ParseCertificate(tlsCert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parsing leaf certificate %q: %w", name, err)
		}
		leaf = parsed
	}

	if len(domains) == 0 && leaf != nil {
		domains = domainsFromLeaf(leaf)
	}

	return &Certificate{
		name:    name,
		domains: domains,
		tlsCert: tlsCert,
		leaf:    leaf,
	}, nil
}

// LoadCertificate reads a certificate and key from PEM files. Certificates
// loaded this way can be watched for changes with a CertificateWatcher.
func LoadCertificate(name, certFile, keyFile string) (*Certificate, error) {
	tlsCert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading certificate %q: %w", name, err)
	}

	cert, err := NewCertificate(name, nil, tlsCert)
	if err != nil {
		return nil, err
	}
	cert.certFile = certFile
	cert.keyFile = keyFile
	return cert, nil
}

// Name returns the certificate's registration name.
func (c *Certificate) Name() string {
	return c.name
}

// Domains returns a copy of the domain names this certificate serves.
func (c *Certificate) Domains() []string {
	domains := make([]string, len(c.domains))
	copy(domains, c.domains)
	return domains
}

// TLSCertificate returns the underlying certificate for the TLS handshake.
func (c *Certificate) TLSCertificate() *tls.Certificate {
	return &c.tlsCert
}

// NotAfter returns the leaf certificate's expiry time, or the zero time if
// no leaf is available.
func (c *Certificate) NotAfter() time.Time {
	if c.leaf == nil {
		return time.Time{}
	}
	return c.leaf.NotAfter
}

// MatchesDomain reports whether this certificate serves the given SNI
// server name, honoring single-label wildcards like "*.example.com".
func (c *Certificate) MatchesDomain(serverName string) bool {
	serverName = strings.ToLower(strings.TrimSuffix(serverName, "."))

	for _, domain := range c.domains {
		domain = strings.ToLower(domain)
		if domain == serverName {
			return true
		}
		if strings.HasPrefix(domain, "*.") {
			suffix := domain[1:] // ".example.com"
			if strings.HasSuffix(serverName, suffix) &&
				!strings.Contains(strings.TrimSuffix(serverName, suffix), ".") {
				return true
			}
		}
	}
	return false
}

// Reload re-reads the certificate from its backing PEM files and returns a
// fresh Certificate with the same name. It fails for certificates that were
// not created through LoadCertificate.
func (c *Certificate) Reload() (*Certificate, error) {
	if c.certFile == "" || c.keyFile == "" {
		return nil, fmt.Errorf("%w: %q", ErrCertificateNoBackingFiles, c.name)
	}
	return LoadCertificate(c.name, c.certFile, c.keyFile)
}

func domainsFromLeaf(leaf *x509.Certificate) []string {
	domains := make([]string, 0, len(leaf.DNSNames)+1)
	if leaf.Subject.CommonName != "" {
		domains = append(domains, leaf.Subject.CommonName)
	}
	for _, name := range leaf.DNSNames {
		if name != leaf.Subject.CommonName {
			domains = append(domains, name)
		}
	}
	return domains
}
