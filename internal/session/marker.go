package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCommandTimeout bounds how long a shell command may run before
	// its partial output is returned.
	DefaultCommandTimeout = 30 * time.Second

	// startAnnouncement prefixes the line echoed before each command.
	startAnnouncement = "Starting command execution: "

	timeoutNotice   = "Command execution timed out"
	shellEndNotice  = "Shell closed before command completed"
	cancelledNotice = "Command execution cancelled"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// errShellWrite means the command never reached the shell.
var errShellWrite = errors.New("write to interactive shell")

// Result is the outcome of one command execution.
type Result struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	// TimedOut is set when the completion marker was not observed in time.
	TimedOut bool `json:"-"`
}

// buildCommand prefixes command with an export statement per env entry.
// Keys are sorted so the same inputs always produce the same text.
func buildCommand(command string, env map[string]string) (string, error) {
	if len(env) == 0 {
		return command, nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		if !envNamePattern.MatchString(k) {
			return "", fmt.Errorf("%w: %q", ErrInvalidEnvName, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`export %s="%s"`, k, strings.ReplaceAll(env[k], `"`, `\"`)))
	}
	parts = append(parts, command)
	return strings.Join(parts, " && "), nil
}

// newMarker returns a completion token unique to one call.
func newMarker() string {
	return fmt.Sprintf("CMD_END_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// shellQuote wraps s in single quotes so a POSIX shell passes it through
// literally.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// singleLine folds line breaks into spaces so the start announcement for a
// multi-line command occupies exactly one output line.
func singleLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}

// extractOutput returns the lines between the first line containing start
// and the first later line containing marker. found reports whether the
// start line was seen.
func extractOutput(buf, start, marker string) (out string, found bool) {
	var collected []string
	for _, line := range strings.Split(buf, "\n") {
		if found {
			if strings.Contains(line, marker) {
				break
			}
			collected = append(collected, strings.TrimRight(line, "\r"))
			continue
		}
		if strings.Contains(line, start) {
			found = true
		}
	}
	return strings.TrimSpace(strings.Join(collected, "\n")), found
}

// collector accumulates shell output for one call.
type collector struct {
	mu     sync.Mutex
	buf    strings.Builder
	errs   strings.Builder
	failed bool
	notify chan struct{}
}

func (c *collector) onData(p []byte) {
	c.mu.Lock()
	c.buf.Write(p)
	c.mu.Unlock()
	c.signal()
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	c.errs.WriteString(err.Error())
	c.failed = true
	c.mu.Unlock()
	c.signal()
}

func (c *collector) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *collector) snapshot() (out, errs string, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String(), c.errs.String(), c.failed
}

// runMarked executes command on sh and frames its output with a start
// announcement and a unique end marker. The result is always returned, with
// partial output on timeout, shell end or stream error. An error is returned
// only when the command could not be written to the shell.
func runMarked(ctx context.Context, sh Shell, command string, env map[string]string, timeout time.Duration) (Result, error) {
	full, err := buildCommand(command, env)
	if err != nil {
		return Result{}, err
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	marker := newMarker()
	start := startAnnouncement + singleLine(full)

	c := &collector{notify: make(chan struct{}, 1)}
	detach := sh.Listen(c.onData, c.onError)
	defer detach()

	// printf rather than echo: some shells expand backslash escapes in echo.
	script := fmt.Sprintf("printf '%%s\\n' %s\n%s\necho \"%s\"\n", shellQuote(start), full, marker)
	if _, err := sh.Write([]byte(script)); err != nil {
		return Result{}, fmt.Errorf("%w: %v", errShellWrite, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	partial := func(notice string) Result {
		buf, errs, _ := c.snapshot()
		out, found := extractOutput(buf, start, marker)
		if !found {
			out = strings.TrimSpace(buf)
		}
		return Result{Stdout: out, Stderr: errs + notice}
	}

	for {
		select {
		case <-c.notify:
			buf, errs, failed := c.snapshot()
			if strings.Contains(buf, marker) {
				out, _ := extractOutput(buf, start, marker)
				return Result{Stdout: out, Stderr: errs}, nil
			}
			if failed {
				return partial(""), nil
			}
		case <-timer.C:
			res := partial(timeoutNotice)
			res.TimedOut = true
			return res, nil
		case <-sh.Done():
			// Drain anything that raced with the end of the stream.
			buf, errs, _ := c.snapshot()
			if strings.Contains(buf, marker) {
				out, _ := extractOutput(buf, start, marker)
				return Result{Stdout: out, Stderr: errs}, nil
			}
			return partial(shellEndNotice), nil
		case <-ctx.Done():
			return partial(cancelledNotice), nil
		}
	}
}
