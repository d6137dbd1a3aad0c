// Package connections persists the list of saved connections.
package connections

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/b1naryth1ef/sshexplorer/transport"
	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound    = errors.New("connection not found")
	ErrInvalidUser = errors.New("user must not be empty")
	ErrInvalidHost = errors.New("host must not be empty")
	ErrInvalidPort = errors.New("port must be between 1 and 65535")
)

// Connection is a saved connection record, keyed by Name (user@host).
type Connection struct {
	Name string `yaml:"name"`
	User string `yaml:"user"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// New builds a validated record. A zero port means the default.
func New(user, host string, port int) (Connection, error) {
	user = strings.TrimSpace(user)
	host = strings.TrimSpace(host)
	if port == 0 {
		port = int(transport.DefaultPort)
	}

	c := Connection{Name: user + "@" + host, User: user, Host: host, Port: port}
	return c, c.Validate()
}

func (c Connection) Validate() error {
	if c.User == "" {
		return ErrInvalidUser
	}
	if c.Host == "" {
		return ErrInvalidHost
	}
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

func (c Connection) Target() transport.Target {
	return transport.Target{User: c.User, Host: c.Host, Port: uint16(c.Port)}
}

type file struct {
	Connections []Connection `yaml:"connections"`
}

type Store struct {
	path  string
	conns map[string]Connection
}

// Open loads the store at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, conns: make(map[string]Connection)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for _, c := range f.Connections {
		if c.Port == 0 {
			c.Port = int(transport.DefaultPort)
		}
		s.conns[c.Name] = c
	}
	return s, nil
}

func (s *Store) List() []Connection {
	result := make([]Connection, 0, len(s.conns))
	for _, c := range s.conns {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (s *Store) Get(name string) (Connection, bool) {
	c, ok := s.conns[name]
	return c, ok
}

// Add stores c, replacing any record with the same name, and saves.
func (s *Store) Add(c Connection) error {
	c.Name = c.User + "@" + c.Host
	if err := c.Validate(); err != nil {
		return err
	}
	s.conns[c.Name] = c
	return s.save()
}

func (s *Store) Remove(name string) error {
	if _, ok := s.conns[name]; !ok {
		return ErrNotFound
	}
	delete(s.conns, name)
	return s.save()
}

func (s *Store) save() error {
	data, err := yaml.Marshal(file{Connections: s.List()})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
