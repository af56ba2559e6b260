package session

import (
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/gluk-w/shellmux/internal/hosts"
	"github.com/gluk-w/shellmux/internal/logutil"
)

const (
	// DefaultSessionName is used when a caller does not name a session.
	DefaultSessionName = "default"

	// localHost stands in for the host part of local session keys.
	localHost = "local"
)

// Key derives the session key for a host and session name. An empty host
// means a local session.
func Key(host, name string) string {
	if host == "" {
		host = localHost
	}
	if name == "" {
		name = DefaultSessionName
	}
	return host + ":" + name
}

// Config configures a Manager. Zero durations and empty shells fall back to
// the package defaults.
type Config struct {
	// KeyPath is the private key used for hosts without their own key.
	KeyPath string
	// Hosts resolves host names to dial addresses. May be nil.
	Hosts *hosts.Inventory
	// Dialer opens transports. Nil uses an SSHDialer built from the fields
	// below.
	Dialer Dialer

	IdleTimeout       time.Duration
	CommandTimeout    time.Duration
	KeepaliveInterval time.Duration
	ConnectTimeout    time.Duration

	// LoginShell wraps one-shot remote commands.
	LoginShell string
	// LocalShell interprets local commands.
	LocalShell string

	// Recorder receives one Activity per connect attempt and execution.
	// May be nil.
	Recorder Recorder
}

// Manager owns every session and dispatches commands to them.
type Manager struct {
	cfg      Config
	dialer   Dialer
	registry *Registry
	locks    *keyedMutex
	connects singleflight.Group
	local    localRunner
}

// NewManager creates a Manager with cfg, applying defaults.
func NewManager(cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.LoginShell == "" {
		cfg.LoginShell = DefaultLoginShell
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &SSHDialer{
			KeepaliveInterval: cfg.KeepaliveInterval,
			Timeout:           cfg.ConnectTimeout,
		}
	}
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		registry: NewRegistry(),
		locks:    newKeyedMutex(),
		local:    localRunner{shell: cfg.LocalShell},
	}
}

// SessionInfo describes one registered session.
type SessionInfo struct {
	Key          string            `json:"key"`
	Host         string            `json:"host,omitempty"`
	Username     string            `json:"username,omitempty"`
	Name         string            `json:"name"`
	State        string            `json:"state"`
	Mode         string            `json:"mode"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	EnvKeys      int               `json:"env_keys"`
	Transitions  []StateTransition `json:"transitions,omitempty"`
}

// Sessions lists every registered session ordered by key.
func (m *Manager) Sessions() []SessionInfo {
	recs := m.registry.Snapshot()
	infos := make([]SessionInfo, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, SessionInfo{
			Key:          rec.Key,
			Host:         rec.Host,
			Username:     rec.Username,
			Name:         rec.Name,
			State:        rec.State().String(),
			Mode:         rec.Mode(),
			CreatedAt:    rec.CreatedAt,
			LastActivity: rec.LastActivity(),
			EnvKeys:      len(rec.Env()),
			Transitions:  rec.Transitions(),
		})
	}
	return infos
}

// Lookup returns the record registered under key, or nil.
func (m *Manager) Lookup(key string) *Record {
	return m.registry.Get(key)
}

// DisconnectSession tears down a single session.
func (m *Manager) DisconnectSession(key string) error {
	rec := m.registry.Get(key)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	return m.teardown(rec, "disconnected")
}

// Disconnect tears down every registered session concurrently and waits for
// all of them. Each record is removed once its shell and transport are closed.
func (m *Manager) Disconnect() error {
	recs := m.registry.Snapshot()
	var g errgroup.Group
	for _, rec := range recs {
		g.Go(func() error {
			log.Printf("[session] disconnecting session %s", logutil.SanitizeForLog(rec.Key))
			return m.teardown(rec, "disconnected")
		})
	}
	err := g.Wait()
	log.Printf("[session] all sessions disconnected (%d total)", len(recs))
	return err
}

// teardown closes rec's shell and transport, then removes rec from the
// registry if it is still the registered record for its key.
func (m *Manager) teardown(rec *Record, reason string) error {
	err := rec.close(reason)
	m.registry.RemoveIf(rec.Key, rec)
	return err
}
