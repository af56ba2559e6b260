package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Dialer opens authenticated transports to remote hosts.
type Dialer interface {
	Dial(ctx context.Context, addr, username string, signer ssh.Signer) (Transport, error)
}

// Transport is an authenticated connection on which one-shot command channels
// and interactive shells can be opened.
type Transport interface {
	// Exec runs command on a fresh channel and returns its output once the
	// channel closes. onStdout is called for every stdout chunk. A non-zero
	// exit status is not an error.
	Exec(ctx context.Context, command string, onStdout func([]byte)) (stdout, stderr string, err error)
	// OpenShell starts a persistent interactive shell.
	OpenShell() (Shell, error)
	// Done is closed once the transport is gone, whatever the cause.
	Done() <-chan struct{}
	Close() error
}

// Shell is a persistent bidirectional shell stream with no message
// boundaries.
type Shell interface {
	Write(p []byte) (int, error)
	// Listen installs the data and error handlers, replacing any previous
	// ones. Output arriving while no handler is installed is discarded. The
	// returned detach func is idempotent.
	Listen(onData func([]byte), onError func(error)) (detach func())
	// Done is closed once the stream has ended.
	Done() <-chan struct{}
	Close() error
}

// streamShell adapts a stdin writer and stdout/stderr readers into a Shell.
// stdout and stderr are delivered to the same data handler, the way a
// terminal would interleave them.
type streamShell struct {
	stdin   io.WriteCloser
	closeFn func() error

	wmu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	onData  func([]byte)
	onError func(error)

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newStreamShell(stdin io.WriteCloser, stdout, stderr io.Reader, closeFn func() error) *streamShell {
	s := &streamShell{
		stdin:   stdin,
		closeFn: closeFn,
		done:    make(chan struct{}),
	}
	go s.pump(stdout, true)
	if stderr != nil {
		go s.pump(stderr, false)
	}
	return s
}

// pump copies one output stream into the current data handler. The primary
// stream ends the shell when it reaches EOF or fails.
func (s *streamShell) pump(r io.Reader, primary bool) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.mu.Lock()
			onData := s.onData
			s.mu.Unlock()
			if onData != nil {
				onData(data)
			}
		}
		if err != nil {
			if primary {
				if !errors.Is(err, io.EOF) {
					s.mu.Lock()
					onError := s.onError
					s.mu.Unlock()
					if onError != nil {
						onError(err)
					}
				}
				s.finish()
			}
			return
		}
	}
}

func (s *streamShell) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *streamShell) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	select {
	case <-s.done:
		return 0, io.ErrClosedPipe
	default:
	}
	return s.stdin.Write(p)
}

func (s *streamShell) Listen(onData func([]byte), onError func(error)) func() {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.onData = onData
	s.onError = onError
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.gen == gen {
				s.onData = nil
				s.onError = nil
			}
		})
	}
}

func (s *streamShell) Done() <-chan struct{} { return s.done }

func (s *streamShell) Close() error {
	s.closeOnce.Do(func() {
		s.stdin.Close()
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
		s.finish()
	})
	return s.closeErr
}
