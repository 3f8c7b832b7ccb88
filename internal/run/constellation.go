package run

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fediverse-devnet/feditest-sub000/internal/node"
	"github.com/fediverse-devnet/feditest-sub000/internal/outcome"
	"github.com/fediverse-devnet/feditest-sub000/internal/plan"
	"github.com/fediverse-devnet/feditest-sub000/pkg/logging"
)

// RoleRecord describes a role that was provisioned. It survives teardown so
// the transcript can show what the session ran against.
type RoleRecord struct {
	Role     string
	Driver   string
	Hostname string
}

// TestRunConstellation binds the roles of one session's constellation to
// provisioned nodes.
type TestRunConstellation struct {
	Name  string
	Roles []RoleRecord

	spec    plan.Constellation
	env     *Engine
	nodes   map[string]node.Node
	drivers map[string]node.Driver

	caPEM           string
	bundleInstalled bool
}

func newConstellation(env *Engine, spec plan.Constellation) *TestRunConstellation {
	return &TestRunConstellation{
		Name:    spec.Name,
		spec:    spec,
		env:     env,
		nodes:   make(map[string]node.Node),
		drivers: make(map[string]node.Driver),
	}
}

// Node returns the live node for role.
func (c *TestRunConstellation) Node(role string) (node.Node, bool) {
	n, ok := c.nodes[role]
	return n, ok
}

// Remaining lists the roles still provisioned, sorted.
func (c *TestRunConstellation) Remaining() []string {
	roles := make([]string, 0, len(c.nodes))
	for r := range c.nodes {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

type checkedRole struct {
	role     string
	driver   node.Driver
	cfg      node.Configuration
	accounts node.AccountManager
}

// Setup checks every role's configuration, then provisions all of them,
// waits for the longest start delay and distributes the registry CA.
// Nodes provisioned before an error stay tracked for Teardown.
func (c *TestRunConstellation) Setup(ctx context.Context) error {
	checked, err := c.env.checkConstellation(c.spec)
	if err != nil {
		return err
	}

	var settle time.Duration
	for _, cr := range checked {
		if err := ctx.Err(); err != nil {
			return outcome.AbortRun(fmt.Sprintf("run cancelled during setup: %v", err))
		}
		logging.Info("Constellation", "Provisioning role %s with driver %s", cr.role, cr.driver.Name())
		n, err := cr.driver.ProvisionNode(ctx, cr.role, cr.cfg, cr.accounts)
		if err != nil {
			return fmt.Errorf("failed to provision role %s: %w", cr.role, err)
		}
		c.nodes[cr.role] = n
		c.drivers[cr.role] = cr.driver
		c.Roles = append(c.Roles, RoleRecord{Role: cr.role, Driver: cr.driver.Name(), Hostname: n.Hostname()})
		if d := cr.cfg.StartDelay(); d > settle {
			settle = d
		}
	}

	if settle > 0 {
		logging.Info("Constellation", "Waiting %s for nodes to settle", settle)
		done := c.env.settleHook(settle)
		err := c.env.clock.Sleep(ctx, settle)
		done()
		if err != nil {
			return outcome.AbortRun(fmt.Sprintf("run cancelled while nodes settled: %v", err))
		}
	}

	ca := c.env.registry.RootCertPEM()
	if ca == "" {
		return nil
	}
	c.caPEM = ca
	if c.env.bundle.Patchable() {
		if err := c.env.bundle.Install(ca); err != nil {
			logging.Warn("Constellation", "Could not install registry CA in trust bundle: %v", err)
		}
		c.bundleInstalled = c.env.bundle.Installed()
	}
	for _, role := range c.Remaining() {
		if err := c.nodes[role].AddCertToTrustStore(ctx, ca); err != nil {
			return fmt.Errorf("failed to add registry CA to trust store of role %s: %w", role, err)
		}
	}
	return nil
}

// Teardown unprovisions every tracked role. Failures are logged and leave
// the role tracked; Remaining reports them afterwards.
func (c *TestRunConstellation) Teardown(ctx context.Context) {
	for _, role := range c.Remaining() {
		n := c.nodes[role]
		if c.caPEM != "" {
			sig := outcome.Guard(func() error { return n.RemoveCertFromTrustStore(ctx, c.caPEM) })
			if sig.Kind != outcome.Continue {
				logging.Warn("Constellation", "Could not remove registry CA from trust store of role %s: %s", role, sig.Result)
			}
		}
		sig := outcome.Guard(func() error { return c.drivers[role].UnprovisionNode(ctx, n) })
		if sig.Kind != outcome.Continue {
			logging.Warn("Constellation", "Failed to unprovision role %s: %s", role, sig.Result)
			continue
		}
		logging.Info("Constellation", "Unprovisioned role %s", role)
		delete(c.nodes, role)
		delete(c.drivers, role)
	}

	if c.bundleInstalled {
		if err := c.env.bundle.Restore(); err != nil {
			logging.Warn("Constellation", "Could not restore trust bundle: %v", err)
		}
		c.bundleInstalled = false
	}
}
