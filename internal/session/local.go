package session

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// DefaultLocalShell interprets local commands.
const DefaultLocalShell = "/bin/sh"

// localRunner executes commands on this machine through the OS command
// interpreter.
type localRunner struct {
	shell string
}

// run executes command with env layered over the process environment. It
// always returns a result: a failed command reports its stderr, or the error
// message when nothing was written to stderr.
func (l localRunner) run(ctx context.Context, command string, env map[string]string) Result {
	shell := l.shell
	if shell == "" {
		shell = DefaultLocalShell
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Env = mergeEnviron(os.Environ(), env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: trimTrailingNewlines(stdout.String()), Stderr: stderr.String()}
	if err != nil && res.Stderr == "" {
		res.Stderr = err.Error()
	}
	return res
}

// mergeEnviron overlays env onto a KEY=VALUE list. Overridden entries are
// dropped from base and the overrides are appended in key order.
func mergeEnviron(base []string, env map[string]string) []string {
	merged := make([]string, 0, len(base)+len(env))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, overridden := env[k]; overridden {
			continue
		}
		merged = append(merged, kv)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+env[k])
	}
	return merged
}

func trimTrailingNewlines(s string) string {
	return strings.TrimRight(s, "\r\n")
}
