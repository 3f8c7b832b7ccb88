package sandbox

import (
	"strings"
	"time"

	"github.com/fediverse-devnet/feditest-sub000/internal/node"
	"github.com/fediverse-devnet/feditest-sub000/internal/plan"
)

const (
	paramApp            = "app"
	paramHostname       = "hostname"
	paramStartDelay     = "start_delay"
	paramServe          = "serve"
	paramJRDContentType = "jrd_content_type"
	paramOmitLinks      = "omit_links"

	defaultJRDContentType = "application/jrd+json"
)

// Config is the checked configuration of one sandbox node.
type Config struct {
	role string

	// App is the hint used to allocate a hostname.
	App string
	// Hostname is fixed by the plan; empty means allocate one.
	Hostname   string
	startDelay time.Duration
	// Serve starts a WebFinger server on the node.
	Serve bool
	// JRDContentType and OmitLinks let a plan provision a deliberately
	// non-conforming server.
	JRDContentType string
	OmitLinks      bool
}

func (c *Config) Role() string              { return c.role }
func (c *Config) DriverName() string        { return DriverName }
func (c *Config) StartDelay() time.Duration { return c.startDelay }

// parseConfig builds a Config from the plan's string parameters, checking
// each field.
func parseConfig(role string, spec plan.NodeSpec) (*Config, error) {
	p := node.NewParams(role, spec.Parameters)
	cfg := &Config{role: role}

	cfg.App = p.String(paramApp, role)

	cfg.Hostname = strings.ToLower(p.String(paramHostname, ""))
	if cfg.Hostname != "" && !validHostname(cfg.Hostname) {
		return nil, &node.ConfigError{Role: role, Field: paramHostname, Message: "is not a valid hostname"}
	}

	var err error
	if cfg.startDelay, err = p.Duration(paramStartDelay, 0); err != nil {
		return nil, err
	}
	if cfg.Serve, err = p.Bool(paramServe, true); err != nil {
		return nil, err
	}
	cfg.JRDContentType = p.String(paramJRDContentType, defaultJRDContentType)
	if cfg.OmitLinks, err = p.Bool(paramOmitLinks, false); err != nil {
		return nil, err
	}

	if unused := p.Unused(); len(unused) > 0 {
		return nil, &node.ConfigError{Role: role, Field: unused[0], Message: "unknown parameter for the sandbox driver"}
	}
	return cfg, nil
}

func validHostname(h string) bool {
	if len(h) > 253 || strings.HasPrefix(h, ".") || strings.HasSuffix(h, ".") {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		if label == "" || len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' {
				return false
			}
		}
	}
	return true
}
