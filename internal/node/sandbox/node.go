package sandbox

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fediverse-devnet/feditest-sub000/internal/node"
	"github.com/fediverse-devnet/feditest-sub000/internal/outcome"
)

// Node is a sandbox node. It can act as an HTTPS client and, unless
// configured otherwise, as a WebFinger server.
type Node struct {
	role     string
	hostname string
	driver   *Driver
	config   *Config
	accounts node.AccountManager

	server *http.Server
	addr   string

	mu      sync.Mutex
	trusted map[string]bool
}

var (
	_ node.HTTPSClient     = (*Node)(nil)
	_ node.WebFingerServer = (*Node)(nil)
)

func (n *Node) Role() string     { return n.role }
func (n *Node) Hostname() string { return n.hostname }

func (n *Node) AddCertToTrustStore(_ context.Context, certPEM string) error {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(certPEM)) {
		return fmt.Errorf("no certificate found in PEM for %s", n.hostname)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trusted[certPEM] = true
	return nil
}

func (n *Node) RemoveCertFromTrustStore(_ context.Context, certPEM string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.trusted[certPEM] {
		return fmt.Errorf("certificate not in trust store of %s", n.hostname)
	}
	delete(n.trusted, certPEM)
	return nil
}

// TrustedCount returns the number of certificates in the trust store.
func (n *Node) TrustedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.trusted)
}

// HTTPClient returns a client that trusts only this node's trust store and
// resolves sandbox hostnames.
func (n *Node) HTTPClient() *http.Client {
	pool := x509.NewCertPool()
	n.mu.Lock()
	for pemText := range n.trusted {
		pool.AppendCertsFromPEM([]byte(pemText))
	}
	n.mu.Unlock()

	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialContext:       n.driver.dialContext,
			TLSClientConfig:   &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
			ForceAttemptHTTP2: true,
		},
	}
}

func (n *Node) AccountURI() (string, error) {
	if n.accounts == nil || len(n.accounts.Accounts()) == 0 {
		return "", outcome.NotImplementedByNode(n.role, "an existing account")
	}
	return fmt.Sprintf("acct:%s@%s", n.accounts.Accounts()[0].UserID, n.hostname), nil
}

func (n *Node) NonExistingAccountURI() (string, error) {
	if n.accounts != nil && len(n.accounts.NonExistingAccounts()) > 0 {
		return fmt.Sprintf("acct:%s@%s", n.accounts.NonExistingAccounts()[0].UserID, n.hostname), nil
	}
	return fmt.Sprintf("acct:does-not-exist-%d@%s", time.Now().UnixNano(), n.hostname), nil
}

type jrdLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

type jrd struct {
	Subject string    `json:"subject"`
	Aliases []string  `json:"aliases,omitempty"`
	Links   []jrdLink `json:"links,omitempty"`
}

func (n *Node) hasAccount(userID string) bool {
	if n.accounts == nil {
		return false
	}
	for _, a := range n.accounts.Accounts() {
		if a.UserID == userID {
			return true
		}
	}
	return false
}

func (n *Node) handleWebFinger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		http.Error(w, "resource parameter required", http.StatusBadRequest)
		return
	}

	user, host, ok := splitAcct(resource)
	if !ok || host != n.hostname || !n.hasAccount(user) {
		http.NotFound(w, r)
		return
	}

	actor := fmt.Sprintf("https://%s/users/%s", n.hostname, user)
	doc := jrd{Subject: resource, Aliases: []string{actor}}
	if !n.config.OmitLinks {
		doc.Links = []jrdLink{
			{Rel: "self", Type: "application/activity+json", Href: actor},
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: fmt.Sprintf("https://%s/@%s", n.hostname, user)},
		}
	}

	w.Header().Set("Content-Type", n.config.JRDContentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(doc)
}

func splitAcct(resource string) (user, host string, ok bool) {
	rest, found := strings.CutPrefix(resource, "acct:")
	if !found {
		return "", "", false
	}
	at := strings.LastIndex(rest, "@")
	if at <= 0 || at == len(rest)-1 {
		return "", "", false
	}
	return rest[:at], strings.ToLower(rest[at+1:]), true
}
