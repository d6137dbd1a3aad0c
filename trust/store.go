package trust

import (
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Store is a known_hosts file. Lock must be held across a lookup and the
// append that follows a first-trust decision.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

// Lookup checks key for hostname. A missing file is an empty store.
func (s *Store) Lookup(hostname string, remote net.Addr, key ssh.PublicKey) error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return &knownhosts.KeyError{}
	}

	callback, err := knownhosts.New(s.path)
	if err != nil {
		return errors.Wrapf(err, "read %s", s.path)
	}
	return callback(hostname, remote, key)
}

// Add appends key for hostname.
func (s *Store) Add(hostname string, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "create known_hosts directory")
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrapf(err, "open %s", s.path)
	}

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", s.path)
	}
	return f.Close()
}
