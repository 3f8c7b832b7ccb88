package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fediverse-devnet/feditest-sub000/pkg/logging"
)

// Document is the persisted form of a Registry.
type Document struct {
	CA    Root                `yaml:"ca" json:"ca"`
	Hosts map[string]HostInfo `yaml:"hosts" json:"hosts"`
}

// Document returns a snapshot of the registry state.
func (r *Registry) Document() Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := Document{CA: r.root, Hosts: make(map[string]HostInfo, len(r.hosts))}
	for h, info := range r.hosts {
		doc.Hosts[h] = *info
	}
	return doc
}

// FromDocument builds a registry from a persisted snapshot.
func FromDocument(doc Document, opts ...Option) (*Registry, error) {
	if doc.CA.Cert != "" && doc.CA.Key == "" {
		return nil, errors.New("registry document has a CA cert without a CA key")
	}
	r := New(doc.CA.Domain, opts...)
	r.root.Key = doc.CA.Key
	r.root.Cert = doc.CA.Cert
	for name, info := range doc.Hosts {
		if info.Cert != "" && info.Key == "" {
			return nil, fmt.Errorf("registry document has a cert without a key for %s", name)
		}
		if info.Host == "" {
			info.Host = name
		}
		copied := info
		r.hosts[strings.ToLower(name)] = &copied
	}
	return r, nil
}

// Save writes the registry to path as YAML, or as JSON if path ends in
// ".json". The parent directory is created if needed.
func (r *Registry) Save(path string) error {
	doc := r.Document()

	var data []byte
	var err error
	if isJSONPath(path) {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create registry directory: %w", err)
		}
	}
	// Keys are private; keep the file private too.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	logging.Debug("Registry", "Saved registry with %d hosts to %s", len(doc.Hosts), path)
	return nil
}

// Load reads a registry saved by Save. A missing file is reported with an
// error wrapping os.ErrNotExist.
func Load(path string, opts ...Option) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var doc Document
	if isJSONPath(path) {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry file %s: %w", path, err)
	}
	if doc.CA.Domain == "" {
		return nil, fmt.Errorf("registry file %s has no ca.domain", path)
	}
	return FromDocument(doc, opts...)
}

// LoadOrNew loads the registry at path, or creates a new one for domain if
// the file does not exist yet.
func LoadOrNew(path, domain string, opts ...Option) (*Registry, error) {
	r, err := Load(path, opts...)
	if err == nil {
		return r, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		logging.Info("Registry", "No registry at %s, starting a new one for %s", path, domain)
		return New(domain, opts...), nil
	}
	return nil, err
}

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
