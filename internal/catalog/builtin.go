package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"

	"github.com/fediverse-devnet/feditest-sub000/internal/node"
	"github.com/fediverse-devnet/feditest-sub000/internal/outcome"
)

const (
	roleClient = "client"
	roleServer = "server"

	jrdContentType = "application/jrd+json"
)

// Builtin returns a catalog holding the tests shipped with feditest.
func Builtin() *Catalog {
	return New().MustRegister(
		NewFunction("tls/certificate-chain",
			"The client verifies the server's certificate chain against its trust store",
			[]string{roleClient, roleServer},
			certificateChain),
		NewClass("webfinger/discovery",
			"The client discovers an existing account on the server via WebFinger",
			[]string{roleClient, roleServer},
			newDiscovery,
			Step[*discovery]{Name: "subject", Fn: func(ctx context.Context, d *discovery) error { return d.subjectMatches(ctx) }},
			Step[*discovery]{Name: "content_type", Fn: func(ctx context.Context, d *discovery) error { return d.contentType(ctx) }},
			Step[*discovery]{Name: "links", Fn: func(ctx context.Context, d *discovery) error { return d.linksPresent(ctx) }},
			Step[*discovery]{Name: "unknown_account", Fn: func(ctx context.Context, d *discovery) error { return d.unknownAccount(ctx) }},
		),
	)
}

func httpsClient(nodes Nodes, role string) (node.HTTPSClient, error) {
	c, ok := nodes[role].(node.HTTPSClient)
	if !ok {
		return nil, outcome.NotImplementedByNode(role, "HTTPS client")
	}
	return c, nil
}

func webFingerServer(nodes Nodes, role string) (node.WebFingerServer, error) {
	s, ok := nodes[role].(node.WebFingerServer)
	if !ok {
		return nil, outcome.NotImplementedByNode(role, "WebFinger server")
	}
	return s, nil
}

func webFingerURL(host, resource string) string {
	return "https://" + host + "/.well-known/webfinger?resource=" + url.QueryEscape(resource)
}

func get(ctx context.Context, c *http.Client, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", jrdContentType)
	return c.Do(req)
}

func certificateChain(ctx context.Context, nodes Nodes) error {
	client, err := httpsClient(nodes, roleClient)
	if err != nil {
		return err
	}
	server := nodes[roleServer]
	if server == nil {
		return fmt.Errorf("no node for role %s", roleServer)
	}

	resp, err := get(ctx, client.HTTPClient(), "https://"+server.Hostname()+"/.well-known/webfinger")
	if err != nil {
		return outcome.HardFailure(outcome.SpecMust, outcome.InteropProblem,
			"TLS connection from %s to %s failed: %v", client.Hostname(), server.Hostname(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.TLS == nil || len(resp.TLS.VerifiedChains) == 0 {
		return outcome.HardFailure(outcome.SpecMust, outcome.InteropProblem,
			"connection to %s has no verified certificate chain", server.Hostname())
	}
	leaf := resp.TLS.VerifiedChains[0][0]
	if err := leaf.VerifyHostname(server.Hostname()); err != nil {
		return outcome.HardFailure(outcome.SpecMust, outcome.InteropProblem,
			"certificate does not cover %s: %v", server.Hostname(), err)
	}
	return nil
}

type jrdLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type jrdDocument struct {
	Subject string    `json:"subject"`
	Links   []jrdLink `json:"links"`
}

type discovery struct {
	client   node.HTTPSClient
	server   node.WebFingerServer
	resource string
	respType string
	doc      jrdDocument
}

func newDiscovery(ctx context.Context, nodes Nodes) (*discovery, error) {
	client, err := httpsClient(nodes, roleClient)
	if err != nil {
		return nil, err
	}
	server, err := webFingerServer(nodes, roleServer)
	if err != nil {
		return nil, err
	}
	resource, err := server.AccountURI()
	if err != nil {
		return nil, err
	}

	resp, err := get(ctx, client.HTTPClient(), webFingerURL(server.Hostname(), resource))
	if err != nil {
		return nil, fmt.Errorf("WebFinger query for %s failed: %w", resource, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, outcome.HardFailure(outcome.SpecMust, outcome.InteropProblem,
			"WebFinger query for %s returned status %d", resource, resp.StatusCode)
	}

	d := &discovery{client: client, server: server, resource: resource, respType: resp.Header.Get("Content-Type")}
	if err := json.NewDecoder(resp.Body).Decode(&d.doc); err != nil {
		return nil, outcome.HardFailure(outcome.SpecMust, outcome.InteropProblem,
			"WebFinger response for %s is not JSON: %v", resource, err)
	}
	return d, nil
}

func (d *discovery) subjectMatches(context.Context) error {
	if d.doc.Subject != d.resource {
		return outcome.HardFailure(outcome.SpecMust, outcome.InteropProblem,
			"subject is %q, expected %q", d.doc.Subject, d.resource)
	}
	return nil
}

func (d *discovery) contentType(context.Context) error {
	mediaType, _, err := mime.ParseMediaType(d.respType)
	if err != nil || mediaType != jrdContentType {
		return outcome.SoftFailure(outcome.SpecShould, outcome.InteropUnaffected,
			"content type is %q, expected %s", d.respType, jrdContentType)
	}
	return nil
}

func (d *discovery) linksPresent(context.Context) error {
	if len(d.doc.Links) == 0 {
		return outcome.DegradeFailure(outcome.SpecImplied, outcome.InteropDegraded,
			"JRD for %s has no links", d.resource)
	}
	if !slices.ContainsFunc(d.doc.Links, func(l jrdLink) bool { return l.Rel == "self" }) {
		return outcome.DegradeFailure(outcome.SpecImplied, outcome.InteropDegraded,
			"JRD for %s has no self link", d.resource)
	}
	return nil
}

func (d *discovery) unknownAccount(ctx context.Context) error {
	missing, err := d.server.NonExistingAccountURI()
	if err != nil {
		return err
	}
	resp, err := get(ctx, d.client.HTTPClient(), webFingerURL(d.server.Hostname(), missing))
	if err != nil {
		return fmt.Errorf("WebFinger query for %s failed: %w", missing, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusNotFound {
		return outcome.HardFailure(outcome.SpecMust, outcome.InteropProblem,
			"WebFinger query for unknown account %s returned status %d, expected 404", missing, resp.StatusCode)
	}
	return nil
}
