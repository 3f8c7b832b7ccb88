// Package registry allocates hostnames for the nodes of a constellation and
// issues their TLS certificates from a private certificate authority.
//
// A Registry is created explicitly with New or Load. The process-wide
// instance used by the run engine is installed with Replace and fetched
// with Current; tests construct their own.
//
// Keys and certificates are generated lazily and memoized. Issuing a new
// CA certificate, for example after ClearRootKey, discards every host
// certificate so that each is re-issued against the new CA on next use;
// host keys are kept.
//
// TrustBundle patches a certificate bundle file (typically $SSL_CERT_FILE)
// with the CA while a constellation is up. It refuses to touch bundles under
// system directories.
package registry
