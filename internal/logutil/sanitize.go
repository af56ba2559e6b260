// Package logutil holds helpers for writing user-controlled strings (commands,
// host names, session names) into log lines.
package logutil

import "strings"

// maxLoggedCommand caps how much of a command is written to a single log line.
const maxLoggedCommand = 256

// SanitizeForLog replaces newlines, carriage returns and tabs with spaces and
// drops remaining control characters, so a command string cannot forge extra
// log entries.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 0x7f:
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Command sanitizes a shell command and truncates it to a loggable length.
func Command(cmd string) string {
	cmd = SanitizeForLog(cmd)
	if len(cmd) <= maxLoggedCommand {
		return cmd
	}
	return cmd[:maxLoggedCommand] + "...(truncated)"
}
