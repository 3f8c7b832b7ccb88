package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fediverse-devnet/feditest-sub000/internal/node"
	"github.com/fediverse-devnet/feditest-sub000/internal/outcome"
	"github.com/fediverse-devnet/feditest-sub000/internal/plan"
	"github.com/fediverse-devnet/feditest-sub000/internal/registry"
)

func provision(t *testing.T, d *Driver, role string, spec plan.NodeSpec) *Node {
	t.Helper()
	cfg, am, err := d.CreateConfigurationAndAccountManager(role, spec)
	require.NoError(t, err)
	n, err := d.ProvisionNode(context.Background(), role, cfg, am)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.UnprovisionNode(context.Background(), n) })
	return n.(*Node)
}

func webfingerURL(host, resource string) string {
	return "https://" + host + "/.well-known/webfinger?resource=" + url.QueryEscape(resource)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig("server", plan.NodeSpec{Driver: DriverName, Parameters: map[string]string{
		"app":         "Mastodon",
		"start_delay": "2s",
	}})
	require.NoError(t, err)
	assert.Equal(t, "Mastodon", cfg.App)
	assert.Equal(t, 2*time.Second, cfg.StartDelay())
	assert.True(t, cfg.Serve)
	assert.Equal(t, defaultJRDContentType, cfg.JRDContentType)
	assert.Equal(t, "server", cfg.Role())
	assert.Equal(t, DriverName, cfg.DriverName())

	cfg, err = parseConfig("client", plan.NodeSpec{Driver: DriverName})
	require.NoError(t, err)
	assert.Equal(t, "client", cfg.App, "app defaults to the role name")
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		field  string
	}{
		{"bad delay", map[string]string{"start_delay": "later"}, "start_delay"},
		{"bad hostname", map[string]string{"hostname": "not a host"}, "hostname"},
		{"bad serve", map[string]string{"serve": "perhaps"}, "serve"},
		{"unknown parameter", map[string]string{"colour": "blue"}, "colour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewDriver(registry.New("sandbox.test")).CreateConfigurationAndAccountManager("server",
				plan.NodeSpec{Driver: DriverName, Parameters: tt.params})
			var ce *node.ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestWebFingerOverTLS(t *testing.T) {
	reg := registry.New("sandbox.test")
	d := NewDriver(reg)

	server := provision(t, d, "server", plan.NodeSpec{
		Driver:     DriverName,
		Parameters: map[string]string{"app": "Mastodon"},
		Accounts:   []map[string]string{{"userid": "alice"}},
	})
	client := provision(t, d, "client", plan.NodeSpec{Driver: DriverName, Parameters: map[string]string{"serve": "false"}})

	assert.Regexp(t, `^mastodon-\d+\.sandbox\.test$`, server.Hostname())
	acct, err := server.AccountURI()
	require.NoError(t, err)
	assert.Equal(t, "acct:alice@"+server.Hostname(), acct)

	// Without the CA in its trust store the client must refuse the server.
	_, err = client.HTTPClient().Get(webfingerURL(server.Hostname(), acct))
	require.Error(t, err)

	require.NoError(t, client.AddCertToTrustStore(context.Background(), reg.RootCertPEM()))
	assert.Equal(t, 1, client.TrustedCount())

	resp, err := client.HTTPClient().Get(webfingerURL(server.Hostname(), acct))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/jrd+json", resp.Header.Get("Content-Type"))

	var doc jrd
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, acct, doc.Subject)
	assert.NotEmpty(t, doc.Links)

	missing, err := server.NonExistingAccountURI()
	require.NoError(t, err)
	resp2, err := client.HTTPClient().Get(webfingerURL(server.Hostname(), missing))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)

	require.NoError(t, client.RemoveCertFromTrustStore(context.Background(), reg.RootCertPEM()))
	assert.Error(t, client.RemoveCertFromTrustStore(context.Background(), reg.RootCertPEM()))
}

func TestUnprovisionStopsServing(t *testing.T) {
	reg := registry.New("sandbox.test")
	d := NewDriver(reg)

	cfg, am, err := d.CreateConfigurationAndAccountManager("server", plan.NodeSpec{Driver: DriverName})
	require.NoError(t, err)
	n, err := d.ProvisionNode(context.Background(), "server", cfg, am)
	require.NoError(t, err)

	_, ok := d.lookup(n.Hostname())
	require.True(t, ok)

	require.NoError(t, d.UnprovisionNode(context.Background(), n))
	_, ok = d.lookup(n.Hostname())
	assert.False(t, ok)

	other := NewDriver(reg)
	assert.Error(t, other.UnprovisionNode(context.Background(), n))
}

func TestAccountURIWithoutAccounts(t *testing.T) {
	d := NewDriver(registry.New("sandbox.test"))
	n := provision(t, d, "server", plan.NodeSpec{Driver: DriverName, Parameters: map[string]string{"serve": "false"}})

	_, err := n.AccountURI()
	assert.Equal(t, outcome.Skipped, outcome.FromError(err).Kind)
}

func TestFixedHostnameIsRegistered(t *testing.T) {
	reg := registry.New("sandbox.test")
	d := NewDriver(reg)
	n := provision(t, d, "server", plan.NodeSpec{Driver: DriverName, Parameters: map[string]string{"hostname": "Fixed.Sandbox.Test"}})

	assert.Equal(t, "fixed.sandbox.test", n.Hostname())
	assert.Contains(t, reg.Hosts(), "fixed.sandbox.test")
}

func TestProvisionUsesCurrentRegistry(t *testing.T) {
	prev := registry.Replace(registry.New("current.test"))
	t.Cleanup(func() { registry.Replace(prev) })

	d := NewDriver(nil)
	n := provision(t, d, "server", plan.NodeSpec{Driver: DriverName, Parameters: map[string]string{"serve": "false"}})
	assert.Regexp(t, `\.current\.test$`, n.Hostname())
}

func TestSplitAcct(t *testing.T) {
	user, host, ok := splitAcct("acct:alice@Example.Test")
	assert.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "example.test", host)

	for _, bad := range []string{"alice@example.test", "acct:@x", "acct:alice@", "acct:alice"} {
		_, _, ok := splitAcct(bad)
		assert.False(t, ok, bad)
	}
}
