// Package session runs shell commands on remote hosts over reused SSH
// sessions, or on the local machine, keeping per-session state between calls.
//
// # Sessions
//
// A session is identified by a key of the form "<host>:<name>", where host is
// "local" for local sessions and name defaults to "default". The [Manager]
// keeps at most one [Record] per key in its [Registry]. A remote record owns
// one SSH transport and, when it could be opened, one interactive shell; a
// local record owns only an accumulated environment.
//
// # Remote execution
//
// [Manager.Execute] reuses the record's transport while its state is
// [StateReady]. Once the transport reports it is gone (keepalive failure or
// connection loss) the state becomes [StateClosed] and the next call performs
// a fresh handshake.
//
// Commands on a record with an interactive shell are framed in-band: the
// manager writes a start announcement, the command and an echo of a unique
// completion marker, then collects the lines between the announcement and the
// marker. New shells start with "exec 2>&1", so command error output is part
// of the collected stream. A command that does not finish within the command timeout (30s by
// default) returns its partial output with a notice in Stderr. Records
// without a shell run each command on a fresh exec channel inside a login
// shell.
//
// Executions on the same key are serialized; connects for the same key share
// one attempt.
//
// # Idle eviction
//
// Every record has an idle timer (20 minutes by default) that is re-armed by
// each accepted execution, each successful connect and each stdout chunk of a
// one-shot command. On expiry the shell, then the transport, are closed and
// the record is removed.
//
// # Errors
//
// Execute returns an error only when execution could not start:
// [ErrUsernameRequired], [ErrCredentialsNotFound], [*TransportError],
// [*ShellCreationError], [ErrInvalidEnvName] or [*ChannelError]. Timeouts
// and non-zero exit statuses are reported in the [Result].
//
// # Log Prefixes
//
// Session lifecycle logs use the [session] prefix; transport logs use [ssh].
package session
