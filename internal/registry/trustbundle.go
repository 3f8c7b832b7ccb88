package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fediverse-devnet/feditest-sub000/pkg/logging"
)

// SSLCertFileEnv names the environment variable consulted for the bundle
// path when none is configured.
const SSLCertFileEnv = "SSL_CERT_FILE"

// systemPrefixes are never patched.
var systemPrefixes = []string{"/etc/", "/usr/", "/System/", "/Library/"}

// IsSystemPath reports whether path lies under an OS-owned directory.
func IsSystemPath(path string) bool {
	clean := filepath.Clean(path)
	for _, p := range systemPrefixes {
		if strings.HasPrefix(clean+"/", p) {
			return true
		}
	}
	return false
}

// TrustBundle patches a certificate bundle file with the registry CA for
// the duration of a session. It keeps exactly one backup.
type TrustBundle struct {
	mu        sync.Mutex
	path      string
	backup    []byte
	existed   bool
	hasBackup bool
}

// NewTrustBundle returns a bundle for path, falling back to $SSL_CERT_FILE
// when path is empty.
func NewTrustBundle(path string) *TrustBundle {
	if path == "" {
		path = os.Getenv(SSLCertFileEnv)
	}
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return &TrustBundle{path: path}
}

// Path returns the bundle path, or "" if none is configured.
func (b *TrustBundle) Path() string {
	return b.path
}

// Patchable reports whether Install would modify the file.
func (b *TrustBundle) Patchable() bool {
	return b != nil && b.path != "" && !IsSystemPath(b.path)
}

// Installed reports whether a backup is currently held.
func (b *TrustBundle) Installed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasBackup
}

// Install remembers the current bundle content and appends certPEM. A
// second Install before Restore does nothing.
func (b *TrustBundle) Install(certPEM string) error {
	if !b.Patchable() {
		if b != nil && b.path != "" {
			logging.Debug("TrustBundle", "Not patching system bundle %s", b.path)
		}
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasBackup {
		logging.Warn("TrustBundle", "Bundle %s already patched, not installing again", b.path)
		return nil
	}

	original, err := os.ReadFile(b.path)
	existed := true
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read trust bundle: %w", err)
		}
		existed = false
	}

	patched := make([]byte, 0, len(original)+len(certPEM)+1)
	patched = append(patched, original...)
	if len(patched) > 0 && patched[len(patched)-1] != '\n' {
		patched = append(patched, '\n')
	}
	patched = append(patched, certPEM...)

	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("failed to create trust bundle directory: %w", err)
	}
	if err := os.WriteFile(b.path, patched, 0644); err != nil {
		return fmt.Errorf("failed to write trust bundle: %w", err)
	}

	b.backup = original
	b.existed = existed
	b.hasBackup = true
	logging.Info("TrustBundle", "Added registry CA to %s", b.path)
	return nil
}

// Restore puts back the content saved by Install and forgets the backup.
// Without a backup it does nothing.
func (b *TrustBundle) Restore() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasBackup {
		return nil
	}

	var err error
	if b.existed {
		err = os.WriteFile(b.path, b.backup, 0644)
	} else {
		err = os.Remove(b.path)
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to restore trust bundle: %w", err)
	}

	b.backup = nil
	b.existed = false
	b.hasBackup = false
	logging.Info("TrustBundle", "Restored %s", b.path)
	return nil
}
