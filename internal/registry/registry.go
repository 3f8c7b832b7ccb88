package registry

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fediverse-devnet/feditest-sub000/internal/clock"
	"github.com/fediverse-devnet/feditest-sub000/pkg/logging"
)

const (
	// DefaultDomain is used when no domain is configured.
	DefaultDomain = "feditest.local"

	keyBits          = 2048
	certValidity     = 365 * 24 * time.Hour
	unnamedPrefix    = "unnamed"
	otherPrefix      = "other"
	rootKeyFlightKey = "ca"
)

var errRootKeyCleared = errors.New("registry CA key was cleared while issuing a certificate")

// Root is the certificate authority of a registry. Key and Cert are PEM
// text; an empty string means absent.
type Root struct {
	Domain string `yaml:"domain" json:"domain"`
	Key    string `yaml:"key,omitempty" json:"key,omitempty"`
	Cert   string `yaml:"cert,omitempty" json:"cert,omitempty"`
}

// HostInfo is the key material issued for one hostname.
type HostInfo struct {
	Host string `yaml:"host" json:"host"`
	Key  string `yaml:"key,omitempty" json:"key,omitempty"`
	Cert string `yaml:"cert,omitempty" json:"cert,omitempty"`
}

// TLSCertificate parses the host's key pair for use in a tls.Config.
func (h HostInfo) TLSCertificate() (tls.Certificate, error) {
	if h.Key == "" || h.Cert == "" {
		return tls.Certificate{}, fmt.Errorf("host %s has no issued certificate", h.Host)
	}
	return tls.X509KeyPair([]byte(h.Cert), []byte(h.Key))
}

// Registry allocates hostnames under one domain and acts as the minimal CA
// for them. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	root  Root
	hosts map[string]*HostInfo

	clock clock.Clock
	keys  singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for certificate validity periods.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// New creates an empty registry for domain.
func New(domain string, opts ...Option) *Registry {
	if domain == "" {
		domain = DefaultDomain
	}
	r := &Registry{
		root:  Root{Domain: strings.ToLower(domain)},
		hosts: make(map[string]*HostInfo),
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Domain returns the domain all hostnames are allocated under.
func (r *Registry) Domain() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root.Domain
}

// Hosts returns the known hostnames in sorted order.
func (r *Registry) Hosts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.hosts))
	for h := range r.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// HostInfo returns the current record for host without issuing anything.
func (r *Registry) HostInfo(host string) (HostInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.hosts[strings.ToLower(host)]
	if !ok {
		return HostInfo{}, false
	}
	return *info, true
}

// RootCertPEM returns the CA certificate, or "" if none has been issued.
func (r *Registry) RootCertPEM() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root.Cert
}

// ObtainNewHostname allocates and registers a fresh hostname whose first
// label is derived from appHint, e.g. "Mastodon" -> "mastodon-3.<domain>".
func (r *Registry) ObtainNewHostname(appHint string) string {
	prefix := hostnamePrefix(appHint)

	r.mu.Lock()
	defer r.mu.Unlock()

	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `-(\d+)\.` + regexp.QuoteMeta(r.root.Domain) + "$")
	highest := 0
	for h := range r.hosts {
		m := pattern.FindStringSubmatch(h)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	host := fmt.Sprintf("%s-%d.%s", prefix, highest+1, r.root.Domain)
	r.hosts[host] = &HostInfo{Host: host}
	logging.Debug("Registry", "Allocated hostname %s", host)
	return host
}

func hostnamePrefix(hint string) string {
	if hint == "" {
		return unnamedPrefix
	}
	end := 0
	for end < len(hint) && isASCIIAlnum(hint[end]) {
		end++
	}
	if end == 0 {
		return otherPrefix
	}
	return strings.ToLower(hint[:end])
}

func isASCIIAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ObtainRegistryRoot returns the CA, generating its key and self-signed
// certificate on first use. Issuing a new CA certificate discards every
// host certificate so they are re-issued against it.
func (r *Registry) ObtainRegistryRoot() (Root, error) {
	if err := r.ensureKey(rootKeyFlightKey, func() *string { return &r.root.Key }); err != nil {
		return Root{}, fmt.Errorf("failed to generate CA key: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureRootCertLocked(); err != nil {
		return Root{}, err
	}
	return r.root, nil
}

// ObtainHostInfo returns the key and certificate for host, issuing them on
// first use. Unknown hosts are registered.
func (r *Registry) ObtainHostInfo(host string) (HostInfo, error) {
	host = strings.ToLower(host)
	if host == "" {
		return HostInfo{}, errors.New("hostname must not be empty")
	}

	r.mu.Lock()
	if _, ok := r.hosts[host]; !ok {
		r.hosts[host] = &HostInfo{Host: host}
		logging.Debug("Registry", "Registered external hostname %s", host)
	}
	r.mu.Unlock()

	if _, err := r.ObtainRegistryRoot(); err != nil {
		return HostInfo{}, err
	}
	err := r.ensureKey("host:"+host, func() *string {
		info, ok := r.hosts[host]
		if !ok {
			info = &HostInfo{Host: host}
			r.hosts[host] = info
		}
		return &info.Key
	})
	if err != nil {
		return HostInfo{}, fmt.Errorf("failed to generate key for %s: %w", host, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	info := r.hosts[host]
	if info.Cert == "" {
		// The CA may have been cleared since ObtainRegistryRoot returned.
		if err := r.ensureRootCertLocked(); err != nil {
			return HostInfo{}, err
		}
		if info.Cert == "" {
			cert, err := r.issueHostCertLocked(host, info.Key)
			if err != nil {
				return HostInfo{}, fmt.Errorf("failed to issue certificate for %s: %w", host, err)
			}
			info.Cert = cert
			logging.Debug("Registry", "Issued certificate for %s", host)
		}
	}
	return *info, nil
}

// ClearRootKey forgets the CA key and, with it, the CA certificate. The
// next issuance generates a new CA.
func (r *Registry) ClearRootKey() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root.Key = ""
	r.root.Cert = ""
	logging.Info("Registry", "Cleared CA key for %s", r.root.Domain)
}

// ensureKey generates a key for the slot returned by field (evaluated
// under r.mu) if it is empty. Concurrent callers for the same flight key
// share one generation.
func (r *Registry) ensureKey(flightKey string, field func() *string) error {
	r.mu.Lock()
	present := *field() != ""
	r.mu.Unlock()
	if present {
		return nil
	}

	_, err, _ := r.keys.Do(flightKey, func() (interface{}, error) {
		r.mu.Lock()
		present := *field() != ""
		r.mu.Unlock()
		if present {
			return nil, nil
		}

		keyPEM, err := generateKeyPEM()
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if slot := field(); *slot == "" {
			*slot = keyPEM
		}
		return nil, nil
	})
	return err
}

func (r *Registry) ensureRootCertLocked() error {
	if r.root.Cert != "" {
		return nil
	}
	if r.root.Key == "" {
		return errRootKeyCleared
	}
	key, err := parseKeyPEM(r.root.Key)
	if err != nil {
		return fmt.Errorf("invalid CA key: %w", err)
	}
	serial, err := newSerial()
	if err != nil {
		return err
	}

	now := r.clock.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"feditest"},
			CommonName:   "feditest CA " + r.root.Domain,
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create CA certificate: %w", err)
	}
	r.root.Cert = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	for _, info := range r.hosts {
		info.Cert = ""
	}
	logging.Info("Registry", "Issued new CA certificate for %s", r.root.Domain)
	return nil
}

func (r *Registry) issueHostCertLocked(host, keyPEM string) (string, error) {
	caKey, err := parseKeyPEM(r.root.Key)
	if err != nil {
		return "", fmt.Errorf("invalid CA key: %w", err)
	}
	caCert, err := parseCertPEM(r.root.Cert)
	if err != nil {
		return "", fmt.Errorf("invalid CA certificate: %w", err)
	}
	hostKey, err := parseKeyPEM(keyPEM)
	if err != nil {
		return "", fmt.Errorf("invalid host key: %w", err)
	}
	serial, err := newSerial()
	if err != nil {
		return "", err
	}

	now := r.clock.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &hostKey.PublicKey, caKey)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})), nil
}

func generateKeyPEM() (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

func parseKeyPEM(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	var parsed interface{}
	var err error
	switch block.Type {
	case "RSA PRIVATE KEY":
		parsed, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", parsed)
	}
	return key, nil
}

func parseCertPEM(s string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("no CERTIFICATE PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}

var (
	currentMu sync.RWMutex
	current   *Registry
)

// Current returns the process-wide registry, or nil if none was installed.
func Current() *Registry {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// Replace installs r as the process-wide registry and returns the previous
// one.
func Replace(r *Registry) *Registry {
	currentMu.Lock()
	defer currentMu.Unlock()
	prev := current
	current = r
	return prev
}
