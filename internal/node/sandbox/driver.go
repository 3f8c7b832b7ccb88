package sandbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fediverse-devnet/feditest-sub000/internal/node"
	"github.com/fediverse-devnet/feditest-sub000/internal/plan"
	"github.com/fediverse-devnet/feditest-sub000/internal/registry"
	"github.com/fediverse-devnet/feditest-sub000/pkg/logging"
)

// DriverName is the name plans use to select this driver.
const DriverName = "sandbox"

// Driver provisions in-process nodes. Servers listen on loopback; the
// driver keeps the hostname to address table its clients dial through, so
// no DNS or /etc/hosts changes are needed.
type Driver struct {
	registry *registry.Registry

	mu    sync.RWMutex
	hosts map[string]string
}

// NewDriver returns a driver that obtains hostnames and certificates from
// reg, or from registry.Current() when reg is nil.
func NewDriver(reg *registry.Registry) *Driver {
	return &Driver{registry: reg, hosts: make(map[string]string)}
}

func (d *Driver) Name() string { return DriverName }

func (d *Driver) reg() (*registry.Registry, error) {
	if d.registry != nil {
		return d.registry, nil
	}
	if r := registry.Current(); r != nil {
		return r, nil
	}
	return nil, errors.New("no registry available")
}

func (d *Driver) CreateConfigurationAndAccountManager(role string, spec plan.NodeSpec) (node.Configuration, node.AccountManager, error) {
	cfg, err := parseConfig(role, spec)
	if err != nil {
		return nil, nil, err
	}
	am, err := node.NewStaticAccountManager(role, spec.Accounts, spec.NonExistingAccounts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, am, nil
}

func (d *Driver) ProvisionNode(ctx context.Context, role string, c node.Configuration, accounts node.AccountManager) (node.Node, error) {
	cfg, ok := c.(*Config)
	if !ok {
		return nil, fmt.Errorf("sandbox driver cannot use configuration of type %T", c)
	}
	reg, err := d.reg()
	if err != nil {
		return nil, err
	}

	hostname := cfg.Hostname
	if hostname == "" {
		hostname = reg.ObtainNewHostname(cfg.App)
	}

	n := &Node{
		role:     role,
		hostname: hostname,
		driver:   d,
		config:   cfg,
		accounts: accounts,
		trusted:  make(map[string]bool),
	}

	if cfg.Serve {
		if err := d.startServer(ctx, reg, n); err != nil {
			return nil, err
		}
	}
	logging.Info("Sandbox", "Provisioned %s as %s", role, hostname)
	return n, nil
}

func (d *Driver) startServer(ctx context.Context, reg *registry.Registry, n *Node) error {
	info, err := reg.ObtainHostInfo(n.hostname)
	if err != nil {
		return fmt.Errorf("failed to obtain certificate for %s: %w", n.hostname, err)
	}
	cert, err := info.TLSCertificate()
	if err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen for %s: %w", n.hostname, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/webfinger", n.handleWebFinger)

	n.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
	}
	n.addr = ln.Addr().String()

	go func() {
		if err := n.server.ServeTLS(ln, "", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Sandbox", err, "Server for %s stopped", n.hostname)
		}
	}()

	d.mu.Lock()
	d.hosts[n.hostname] = n.addr
	d.mu.Unlock()
	logging.Debug("Sandbox", "Serving %s on %s", n.hostname, n.addr)
	return nil
}

func (d *Driver) UnprovisionNode(ctx context.Context, nd node.Node) error {
	n, ok := nd.(*Node)
	if !ok || n.driver != d {
		return fmt.Errorf("node %s was not provisioned by this sandbox driver", nd.Role())
	}

	d.mu.Lock()
	delete(d.hosts, n.hostname)
	d.mu.Unlock()

	if n.server != nil {
		if err := n.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server for %s: %w", n.hostname, err)
		}
	}
	logging.Info("Sandbox", "Unprovisioned %s (%s)", n.role, n.hostname)
	return nil
}

// lookup returns the loopback address serving hostname.
func (d *Driver) lookup(hostname string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.hosts[hostname]
	return addr, ok
}

func (d *Driver) dialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	target, ok := d.lookup(host)
	if !ok {
		return nil, &net.DNSError{Err: "no such sandbox host", Name: host, IsNotFound: true}
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, network, target)
}
