package session

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialsNotFound is returned when no private key exists at the
	// configured key path. It is never retried.
	ErrCredentialsNotFound = errors.New("ssh key file does not exist, please ensure SSH key-based authentication is set up")

	// ErrUsernameRequired is returned when a remote execution is requested
	// without a username. No network attempt is made.
	ErrUsernameRequired = errors.New("username is required when using SSH")

	// ErrInvalidEnvName is returned when an environment override key is not a
	// valid shell identifier.
	ErrInvalidEnvName = errors.New("invalid environment variable name")

	// ErrSessionNotFound is returned when a session key has no record.
	ErrSessionNotFound = errors.New("session not found")
)

// TransportError reports a dial, handshake or authentication failure. The
// session is not registered when this error is returned.
type TransportError struct {
	Key  string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session %s: connect to %s: %v", e.Key, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ShellCreationError reports that the transport connected but no interactive
// shell could be opened. The session stays registered without a shell, so a
// retried execution runs over one-shot channels.
type ShellCreationError struct {
	Key string
	Err error
}

func (e *ShellCreationError) Error() string {
	return fmt.Sprintf("session %s: failed to create interactive shell: %v", e.Key, e.Err)
}

func (e *ShellCreationError) Unwrap() error { return e.Err }

// ChannelError reports a failure of a one-shot command channel.
type ChannelError struct {
	Key string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("session %s: exec channel: %v", e.Key, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
