package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/shellmux/internal/logutil"
)

const (
	// DefaultKeepaliveInterval is how often keepalive requests are sent.
	DefaultKeepaliveInterval = 60 * time.Second

	// DefaultConnectTimeout bounds dial plus handshake.
	DefaultConnectTimeout = 30 * time.Second
)

// SSHDialer opens transports with golang.org/x/crypto/ssh using public key
// authentication.
type SSHDialer struct {
	KeepaliveInterval time.Duration
	Timeout           time.Duration
	// HostKeyCallback verifies server host keys. Nil accepts any host key.
	HostKeyCallback ssh.HostKeyCallback
}

// Dial connects to addr and authenticates as username with signer. The
// returned transport sends keepalives and closes itself when one fails.
func (d *SSHDialer) Dial(ctx context.Context, addr, username string, signer ssh.Signer) (Transport, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	hostKeyCallback := d.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// Bound the handshake by both the context and the timeout.
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	netConn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { netConn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	stop()
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	netConn.SetDeadline(time.Time{})

	interval := d.KeepaliveInterval
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	t := newSSHTransport(ssh.NewClient(sshConn, chans, reqs), addr)
	go t.keepalive(interval)
	log.Printf("[ssh] connected to %s as %s", logutil.SanitizeForLog(addr), logutil.SanitizeForLog(username))
	return t, nil
}

type sshTransport struct {
	client *ssh.Client
	addr   string

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newSSHTransport(client *ssh.Client, addr string) *sshTransport {
	t := &sshTransport{
		client: client,
		addr:   addr,
		done:   make(chan struct{}),
	}
	go func() {
		err := client.Wait()
		log.Printf("[ssh] connection to %s ended: %v", logutil.SanitizeForLog(addr), err)
		t.doneOnce.Do(func() { close(t.done) })
	}()
	return t
}

// keepalive sends periodic keepalive requests and closes the transport when
// one fails, which moves the owning record to StateClosed.
func (t *sshTransport) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if _, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				log.Printf("[ssh] keepalive failed for %s: %v, closing connection", logutil.SanitizeForLog(t.addr), err)
				t.Close()
				return
			}
		}
	}
}

func (t *sshTransport) Exec(ctx context.Context, command string, onStdout func([]byte)) (string, string, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("open exec channel: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = chunkWriter{buf: &stdout, fn: onStdout}
	session.Stderr = &stderr

	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	err = session.Run(command)
	if err != nil {
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr), errors.As(err, &missingErr):
			err = nil
		case ctx.Err() != nil:
			err = ctx.Err()
		}
	}
	return stdout.String(), stderr.String(), err
}

func (t *sshTransport) OpenShell() (Shell, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open shell channel: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	// No PTY is requested: the remote shell does not echo input or print
	// prompts, so only command output reaches the stream.
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}
	return newStreamShell(stdin, stdout, stderr, func() error {
		if err := session.Close(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}), nil
}

func (t *sshTransport) Done() <-chan struct{} { return t.done }

func (t *sshTransport) Close() error {
	t.closeOnce.Do(func() {
		if err := t.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.closeErr = err
		}
		t.doneOnce.Do(func() { close(t.done) })
	})
	return t.closeErr
}

// chunkWriter appends to buf and reports every chunk to fn.
type chunkWriter struct {
	buf *bytes.Buffer
	fn  func([]byte)
}

func (w chunkWriter) Write(p []byte) (int, error) {
	if w.fn != nil {
		w.fn(p)
	}
	return w.buf.Write(p)
}
