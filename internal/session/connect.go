package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gluk-w/shellmux/internal/logutil"
	"github.com/gluk-w/shellmux/internal/sshkeys"
)

// readinessProbe is written to every new shell. It folds stderr into stdout
// so error output reaches the stream ahead of the completion marker. Its
// output is not awaited.
const readinessProbe = "exec 2>&1\necho \"Shell ready\"\n"

// Connect establishes the session for host and name, or reuses it when its
// transport is still ready. Concurrent calls for the same key share a single
// attempt and its outcome. The shared attempt is bounded by the connect
// timeout rather than by ctx, so a caller that gives up returns ctx.Err()
// without failing the others.
func (m *Manager) Connect(ctx context.Context, host, username, name string) error {
	if host == "" {
		return fmt.Errorf("connect: host is empty")
	}
	if username == "" {
		return ErrUsernameRequired
	}
	if name == "" {
		name = DefaultSessionName
	}
	key := Key(host, name)
	shared := context.WithoutCancel(ctx)
	ch := m.connects.DoChan(key, func() (any, error) {
		cctx, cancel := context.WithTimeout(shared, m.cfg.ConnectTimeout)
		defer cancel()
		return nil, m.establish(cctx, key, host, username, name)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) establish(ctx context.Context, key, host, username, name string) error {
	if rec := m.registry.Get(key); rec != nil {
		if rec.State() == StateReady {
			log.Printf("[session] reusing existing session %s", logutil.SanitizeForLog(key))
			return nil
		}
		log.Printf("[session] session %s disconnected, creating new session", logutil.SanitizeForLog(key))
		if err := m.teardown(rec, "replaced after disconnect"); err != nil {
			log.Printf("[session] teardown of %s: %v", logutil.SanitizeForLog(key), err)
		}
	}

	started := time.Now()
	err := m.open(ctx, key, host, username, name)
	m.record(Activity{
		Key:      key,
		Host:     host,
		Username: username,
		Kind:     KindConnect,
		Duration: time.Since(started),
		Err:      err,
	})
	return err
}

// open dials the transport, opens the shell and registers the record.
func (m *Manager) open(ctx context.Context, key, host, username, name string) error {
	addr, keyPath := m.cfg.Hosts.Resolve(host)
	if keyPath == "" {
		keyPath = m.cfg.KeyPath
	}
	if keyPath == "" {
		p, err := sshkeys.DefaultKeyPath()
		if err != nil {
			return fmt.Errorf("session %s: %w", key, err)
		}
		keyPath = p
	}
	signer, err := sshkeys.LoadSigner(keyPath)
	if err != nil {
		if errors.Is(err, sshkeys.ErrKeyNotFound) {
			return fmt.Errorf("%w (looked in %s)", ErrCredentialsNotFound, keyPath)
		}
		return fmt.Errorf("session %s: load credentials: %w", key, err)
	}

	log.Printf("[session] creating new session %s", logutil.SanitizeForLog(key))
	rec := newRecord(key, host, username, name)
	tr, err := m.dialer.Dial(ctx, addr, username, signer)
	if err != nil {
		rec.setState(StateClosed, err.Error())
		log.Printf("[session] %s: connect failed: %v", logutil.SanitizeForLog(key), err)
		return &TransportError{Key: key, Addr: addr, Err: err}
	}
	rec.attach(oneShotOnly{tr: tr})
	rec.setState(StateReady, "connected to "+addr)
	go m.watchTransport(rec, tr)

	sh, err := tr.OpenShell()
	if err != nil {
		log.Printf("[session] failed to create interactive shell for %s: %v", logutil.SanitizeForLog(key), err)
		m.registry.Put(key, rec)
		m.touch(rec)
		return &ShellCreationError{Key: key, Err: err}
	}
	if _, err := sh.Write([]byte(readinessProbe)); err != nil {
		log.Printf("[session] readiness probe for %s failed: %v", logutil.SanitizeForLog(key), err)
	}
	rec.attach(shellSession{tr: tr, shell: sh})
	go m.watchShell(rec, sh)

	m.registry.Put(key, rec)
	m.touch(rec)
	log.Printf("[session] session %s connected with interactive shell", logutil.SanitizeForLog(key))
	return nil
}

// watchTransport marks rec closed once its transport goes away. The record
// stays registered so the next call replaces it.
func (m *Manager) watchTransport(rec *Record, tr Transport) {
	<-tr.Done()
	rec.setState(StateClosed, "transport closed")
}

// watchShell downgrades rec to one-shot execution when its shell ends.
func (m *Manager) watchShell(rec *Record, sh Shell) {
	<-sh.Done()
	if rec.dropShell(sh) {
		log.Printf("[session] interactive shell for %s closed", logutil.SanitizeForLog(rec.Key))
	}
}
