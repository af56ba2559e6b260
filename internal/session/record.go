package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/shellmux/internal/logutil"
)

// connection is the transport shape of a session. Exactly one variant holds
// at a time, so a "ready" shell without a channel cannot be represented.
type connection interface {
	transport() Transport
	mode() string
}

// noConnection is used by local sessions.
type noConnection struct{}

// shellSession is a transport with an open interactive shell.
type shellSession struct {
	tr    Transport
	shell Shell
}

// oneShotOnly is a transport without a usable shell; commands run on fresh
// exec channels.
type oneShotOnly struct {
	tr Transport
}

func (noConnection) transport() Transport   { return nil }
func (c shellSession) transport() Transport { return c.tr }
func (c oneShotOnly) transport() Transport  { return c.tr }

func (noConnection) mode() string { return ModeLocal }
func (shellSession) mode() string { return ModeShell }
func (oneShotOnly) mode() string  { return ModeExec }

// Execution modes, also used as audit activity kinds.
const (
	ModeLocal = "local"
	ModeShell = "shell"
	ModeExec  = "exec"
)

// Record is the state of one session slot. The transport, shell and idle
// timer are owned by the record and released exactly once by close.
type Record struct {
	Key       string
	Host      string
	Username  string
	Name      string
	CreatedAt time.Time

	mu           sync.Mutex
	conn         connection
	state        ConnectionState
	transitions  transitionLog
	env          map[string]string
	lastActivity time.Time
	timer        *time.Timer
	closed       bool

	closeOnce sync.Once
	closeErr  error
}

func newRecord(key, host, username, name string) *Record {
	now := time.Now()
	return &Record{
		Key:          key,
		Host:         host,
		Username:     username,
		Name:         name,
		CreatedAt:    now,
		conn:         noConnection{},
		state:        StateConnecting,
		env:          make(map[string]string),
		lastActivity: now,
	}
}

// State returns the current connection state.
func (r *Record) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Record) setState(state ConnectionState, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setStateLocked(state, reason)
}

func (r *Record) setStateLocked(state ConnectionState, reason string) {
	if r.state == state {
		return
	}
	from := r.state
	r.state = state
	r.transitions.record(from, state, reason)
	log.Printf("[session] %s: %s -> %s (%s)", logutil.SanitizeForLog(r.Key), from, state, reason)
}

// Transitions returns the state history oldest first.
func (r *Record) Transitions() []StateTransition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions.history()
}

func (r *Record) connection() connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// ShellReady reports whether the record currently holds an interactive shell.
func (r *Record) ShellReady() bool {
	_, ok := r.connection().(shellSession)
	return ok
}

// Mode returns the execution mode the next command would use.
func (r *Record) Mode() string {
	return r.connection().mode()
}

func (r *Record) attach(c connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = c
}

// dropShell downgrades a shell session to one-shot execution if sh is still
// the record's shell. The record itself is kept.
func (r *Record) dropShell(sh Shell) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conn.(shellSession)
	if !ok || c.shell != sh {
		return false
	}
	r.conn = oneShotOnly{tr: c.tr}
	return true
}

// mergeEnv merges overrides into the stored environment and returns a copy of
// the result. Existing keys are overwritten; unrelated keys are kept.
func (r *Record) mergeEnv(overrides map[string]string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range overrides {
		r.env[k] = v
	}
	merged := make(map[string]string, len(r.env))
	for k, v := range r.env {
		merged[k] = v
	}
	return merged
}

// Env returns a copy of the accumulated environment.
func (r *Record) Env() map[string]string {
	return r.mergeEnv(nil)
}

// LastActivity returns the time of the last recorded activity.
func (r *Record) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// close tears the record down: shell first, then transport, then the idle
// timer. It is safe to call more than once; only the first call does work.
func (r *Record) close(reason string) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		conn := r.conn
		r.conn = noConnection{}
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
		r.mu.Unlock()

		if c, ok := conn.(shellSession); ok {
			log.Printf("[session] closing interactive shell for %s", logutil.SanitizeForLog(r.Key))
			c.shell.Close()
		}
		if tr := conn.transport(); tr != nil {
			log.Printf("[session] closing transport for %s", logutil.SanitizeForLog(r.Key))
			if err := tr.Close(); err != nil {
				r.closeErr = fmt.Errorf("close transport for %s: %w", r.Key, err)
			}
		}
		r.setState(StateClosed, reason)
	})
	return r.closeErr
}
