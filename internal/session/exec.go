package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gluk-w/shellmux/internal/logutil"
)

// DefaultLoginShell wraps one-shot remote commands.
const DefaultLoginShell = "/bin/bash"

// Options selects where a command runs. An empty Host runs it locally.
type Options struct {
	Host     string            `json:"host,omitempty"`
	Username string            `json:"username,omitempty"`
	Session  string            `json:"session,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

// Execute runs command in the session selected by opts.
//
// Errors are returned only when execution could not start: a missing
// username, credential, transport or shell failures, or a failed one-shot
// channel. A timed-out shell command or a non-zero exit is reported through
// the Result instead.
func (m *Manager) Execute(ctx context.Context, command string, opts Options) (Result, error) {
	name := opts.Session
	if name == "" {
		name = DefaultSessionName
	}
	if opts.Host == "" {
		return m.executeLocal(ctx, command, name, opts.Env), nil
	}
	if opts.Username == "" {
		return Result{}, ErrUsernameRequired
	}

	key := Key(opts.Host, name)
	unlock := m.locks.Lock(key)
	defer unlock()

	rec, err := m.acquire(ctx, key, opts.Host, opts.Username, name)
	if err != nil {
		return Result{}, err
	}
	m.touch(rec)

	started := time.Now()
	res, mode, err := m.dispatch(ctx, rec, command, opts.Env)
	m.record(Activity{
		Key:      key,
		Host:     opts.Host,
		Username: opts.Username,
		Kind:     mode,
		Command:  command,
		Duration: time.Since(started),
		TimedOut: res.TimedOut,
		Err:      err,
	})
	return res, err
}

// acquire returns a ready record for key, connecting when there is none or
// the existing transport has closed.
func (m *Manager) acquire(ctx context.Context, key, host, username, name string) (*Record, error) {
	if rec := m.registry.Get(key); rec != nil && rec.State() == StateReady {
		log.Printf("[session] reusing existing session for command execution: %s", logutil.SanitizeForLog(key))
		return rec, nil
	}
	log.Printf("[session] creating new connection for command execution: %s", logutil.SanitizeForLog(key))
	if err := m.Connect(ctx, host, username, name); err != nil {
		return nil, err
	}
	rec := m.registry.Get(key)
	if rec == nil {
		return nil, fmt.Errorf("session %s: no session after connect", key)
	}
	return rec, nil
}

// dispatch runs command over the record's shell when it has one, otherwise
// over a one-shot channel. It returns the mode actually used.
func (m *Manager) dispatch(ctx context.Context, rec *Record, command string, env map[string]string) (Result, string, error) {
	switch c := rec.connection().(type) {
	case shellSession:
		log.Printf("[session] %s: executing command using interactive shell: %s", logutil.SanitizeForLog(rec.Key), logutil.Command(command))
		res, err := runMarked(ctx, c.shell, command, env, m.cfg.CommandTimeout)
		if !errors.Is(err, errShellWrite) {
			return res, ModeShell, err
		}
		log.Printf("[session] %s: %v, falling back to exec channel", logutil.SanitizeForLog(rec.Key), err)
		rec.dropShell(c.shell)
		c.shell.Close()
		res, err = m.runOneShot(ctx, rec, c.tr, command, env)
		return res, ModeExec, err
	case oneShotOnly:
		log.Printf("[session] %s: executing command using exec: %s", logutil.SanitizeForLog(rec.Key), logutil.Command(command))
		res, err := m.runOneShot(ctx, rec, c.tr, command, env)
		return res, ModeExec, err
	default:
		return Result{}, ModeExec, fmt.Errorf("session %s: no transport", rec.Key)
	}
}

// runOneShot runs command on a fresh exec channel inside a login shell.
// Every stdout chunk counts as activity for the idle timer.
func (m *Manager) runOneShot(ctx context.Context, rec *Record, tr Transport, command string, env map[string]string) (Result, error) {
	full, err := buildCommand(command, env)
	if err != nil {
		return Result{}, err
	}
	wrapped := fmt.Sprintf("%s -l -c %s", m.cfg.LoginShell, shellQuote(full))
	stdout, stderr, err := tr.Exec(ctx, wrapped, func([]byte) { m.touch(rec) })
	if err != nil {
		return Result{}, &ChannelError{Key: rec.Key, Err: err}
	}
	return Result{Stdout: trimTrailingNewlines(stdout), Stderr: stderr}, nil
}

// executeLocal runs command on this machine with the session's accumulated
// environment.
func (m *Manager) executeLocal(ctx context.Context, command, name string, env map[string]string) Result {
	key := Key("", name)
	unlock := m.locks.Lock(key)
	defer unlock()

	rec := m.registry.Get(key)
	if rec == nil {
		log.Printf("[session] creating new local session: %s", logutil.SanitizeForLog(key))
		rec = newRecord(key, "", "", name)
		rec.setState(StateReady, "local session")
		m.registry.Put(key, rec)
	} else {
		log.Printf("[session] reusing existing local session: %s", logutil.SanitizeForLog(key))
	}
	merged := rec.mergeEnv(env)
	m.touch(rec)

	log.Printf("[session] %s: executing local command: %s", logutil.SanitizeForLog(key), logutil.Command(command))
	started := time.Now()
	res := m.local.run(ctx, command, merged)
	m.record(Activity{
		Key:      key,
		Kind:     ModeLocal,
		Command:  command,
		Duration: time.Since(started),
	})
	return res
}
