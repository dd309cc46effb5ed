package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// UserConfig is one credential the server accepts.
type UserConfig struct {
	Key         string `yaml:"key"`
	DisplayName string `yaml:"displayName"`
}

// ServerPorts holds the two listener ports.
type ServerPorts struct {
	HTTPPort int `yaml:"httpPort"`
	WSPort   int `yaml:"wsPort"`
}

// ServerConfig is the on-disk server configuration.
type ServerConfig struct {
	Users                    []UserConfig `yaml:"users"`
	Server                   ServerPorts  `yaml:"server"`
	TokenExpirySeconds       int          `yaml:"tokenExpirySeconds"`
	InactivityTimeoutSeconds int          `yaml:"inactivityTimeoutSeconds"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Server:                   ServerPorts{HTTPPort: 8080, WSPort: 8081},
		TokenExpirySeconds:       86400,
		InactivityTimeoutSeconds: 300,
	}
}

func (c *ServerConfig) normalize() {
	d := defaultServerConfig()
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = d.Server.HTTPPort
	}
	if c.Server.WSPort == 0 {
		c.Server.WSPort = d.Server.WSPort
	}
	if c.TokenExpirySeconds <= 0 {
		c.TokenExpirySeconds = d.TokenExpirySeconds
	}
	if c.InactivityTimeoutSeconds <= 0 {
		c.InactivityTimeoutSeconds = d.InactivityTimeoutSeconds
	}
}

// Store holds the live server configuration and hot-reloads it when the
// backing file changes. Ports are fixed at startup; users and timeout knobs
// take effect on reload.
type Store struct {
	path string

	mu  sync.RWMutex
	cfg ServerConfig

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// WriteDefaultConfig writes a starter config file with one placeholder
// user. Refuses to overwrite an existing file.
func WriteDefaultConfig(path string) error {
	if FileExists(path) {
		return fmt.Errorf("%s already exists", path)
	}
	cfg := defaultServerConfig()
	cfg.Users = []UserConfig{{Key: "change-me", DisplayName: "Example User"}}
	return SaveYAML(path, &cfg)
}

// NewStore wraps an in-memory configuration without a backing file. Hot
// reload is unavailable; values are taken as given, so port 0 means dynamic
// listener allocation.
func NewStore(cfg ServerConfig) *Store {
	return &Store{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// LoadStore reads the config file. A missing or malformed initial config is
// fatal to the caller; this is the only process-fatal error in the system.
func LoadStore(path string) (*Store, error) {
	var cfg ServerConfig
	if err := LoadYAML(path, &cfg); err != nil {
		return nil, fmt.Errorf("initial config: %w", err)
	}
	cfg.normalize()
	return &Store{
		path: path,
		cfg:  cfg,
		done: make(chan struct{}),
	}, nil
}

// Watch starts hot reloading. Reload failures keep the last good config.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace the file, which drops a watch
	// on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case <-s.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				s.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[config] watch error: %v", err)
			}
		}
	}()
	return nil
}

// Stop halts hot reloading.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
}

func (s *Store) reload() {
	var cfg ServerConfig
	if err := LoadYAML(s.path, &cfg); err != nil {
		log.Printf("[config] reload failed, keeping previous config: %v", err)
		return
	}
	cfg.normalize()

	s.mu.Lock()
	// Ports cannot be hot-swapped; pin the ones the listeners bound.
	cfg.Server = s.cfg.Server
	s.cfg = cfg
	s.mu.Unlock()
	log.Printf("[config] reloaded (%d user(s))", len(cfg.Users))
}

// Ports returns the listener ports fixed at startup.
func (s *Store) Ports() ServerPorts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Server
}

// LookupUser resolves an API key to its user config.
func (s *Store) LookupUser(key string) (UserConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.cfg.Users {
		if u.Key == key {
			return u, true
		}
	}
	return UserConfig{}, false
}

// TokenExpiry returns the configured token lifetime.
func (s *Store) TokenExpiry() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.cfg.TokenExpirySeconds) * time.Second
}

// InactivityTimeout returns the configured owner inactivity window.
func (s *Store) InactivityTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.cfg.InactivityTimeoutSeconds) * time.Second
}
