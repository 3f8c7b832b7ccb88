package node

import (
	"context"
	"net/http"
	"time"

	"github.com/fediverse-devnet/feditest-sub000/internal/plan"
)

// Node is a provisioned protocol participant. The engine only needs its
// identity and trust store; tests reach further capabilities through the
// optional interfaces below.
type Node interface {
	Role() string
	Hostname() string
	AddCertToTrustStore(ctx context.Context, certPEM string) error
	RemoveCertFromTrustStore(ctx context.Context, certPEM string) error
}

// Configuration is a driver's checked, typed view of a NodeSpec.
type Configuration interface {
	Role() string
	DriverName() string
	// StartDelay is how long the node needs after provisioning before it
	// can be used.
	StartDelay() time.Duration
}

// Driver provisions and unprovisions nodes of one kind.
type Driver interface {
	Name() string
	// CreateConfigurationAndAccountManager validates spec without side
	// effects. The account manager may be nil.
	CreateConfigurationAndAccountManager(role string, spec plan.NodeSpec) (Configuration, AccountManager, error)
	ProvisionNode(ctx context.Context, role string, cfg Configuration, accounts AccountManager) (Node, error)
	UnprovisionNode(ctx context.Context, n Node) error
}

// HTTPSClient is implemented by nodes that can make HTTPS requests to other
// nodes of the constellation, trusting only their own trust store.
type HTTPSClient interface {
	Node
	HTTPClient() *http.Client
}

// WebFingerServer is implemented by nodes that answer WebFinger queries.
type WebFingerServer interface {
	Node
	// AccountURI returns an acct: URI of an account that exists on the node.
	AccountURI() (string, error)
	// NonExistingAccountURI returns an acct: URI known not to exist.
	NonExistingAccountURI() (string, error)
}
