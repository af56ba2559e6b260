package session

import (
	"context"
	"strings"
	"sync"
)

// fakeShell is an in-memory Shell. onWrite, when set, runs on its own
// goroutine for every write and can emit output through the shell.
type fakeShell struct {
	mu       sync.Mutex
	onData   func([]byte)
	onError  func(error)
	writes   []string
	writeErr error
	onWrite  func(s *fakeShell, p string)
	onClose  func()

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeShell() *fakeShell {
	return &fakeShell{done: make(chan struct{})}
}

func (s *fakeShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return 0, err
	}
	s.writes = append(s.writes, string(p))
	onWrite := s.onWrite
	s.mu.Unlock()
	if onWrite != nil {
		go onWrite(s, string(p))
	}
	return len(p), nil
}

func (s *fakeShell) Listen(onData func([]byte), onError func(error)) func() {
	s.mu.Lock()
	s.onData = onData
	s.onError = onError
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.onData = nil
			s.onError = nil
			s.mu.Unlock()
		})
	}
}

func (s *fakeShell) emit(p string) {
	s.mu.Lock()
	fn := s.onData
	s.mu.Unlock()
	if fn != nil {
		fn([]byte(p))
	}
}

func (s *fakeShell) fail(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (s *fakeShell) listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onData != nil || s.onError != nil
}

func (s *fakeShell) Done() <-chan struct{} { return s.done }

func (s *fakeShell) Close() error {
	s.doneOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
	return nil
}

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	mu         sync.Mutex
	execFn     func(command string, onStdout func([]byte)) (string, string, error)
	shellFn    func() (Shell, error)
	onClose    func()
	closeErr   error
	execs      []string
	closeCount int

	done     chan struct{}
	doneOnce sync.Once
}

func (t *fakeTransport) Exec(_ context.Context, command string, onStdout func([]byte)) (string, string, error) {
	t.mu.Lock()
	t.execs = append(t.execs, command)
	fn := t.execFn
	t.mu.Unlock()
	if fn == nil {
		return "", "", nil
	}
	return fn(command, onStdout)
}

func (t *fakeTransport) OpenShell() (Shell, error) {
	if t.shellFn == nil {
		return newFakeShell(), nil
	}
	return t.shellFn()
}

func (t *fakeTransport) Done() <-chan struct{} { return t.done }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closeCount++
	t.mu.Unlock()
	t.doneOnce.Do(func() {
		if t.onClose != nil {
			t.onClose()
		}
		close(t.done)
	})
	return t.closeErr
}

// scriptedResponder emulates a non-echoing shell for framed commands: it
// prints the start announcement, respond(full) and the marker, split into
// chunks of chunkSize bytes.
func scriptedResponder(chunkSize int, respond func(full string) string) func(s *fakeShell, p string) {
	return func(s *fakeShell, p string) {
		lines := strings.Split(strings.TrimSuffix(p, "\n"), "\n")
		if len(lines) < 3 {
			return
		}
		full := strings.Join(lines[1:len(lines)-1], "\n")
		markerLine := lines[len(lines)-1]
		marker := strings.TrimSuffix(strings.TrimPrefix(markerLine, `echo "`), `"`)

		out := startAnnouncement + singleLine(full) + "\n" + respond(full) + marker + "\n"
		for len(out) > 0 {
			n := chunkSize
			if n > len(out) {
				n = len(out)
			}
			s.emit(out[:n])
			out = out[n:]
		}
	}
}
