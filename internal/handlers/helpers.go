package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gluk-w/shellmux/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeSessionError maps session errors onto HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	var (
		transportErr *session.TransportError
		shellErr     *session.ShellCreationError
		channelErr   *session.ChannelError
	)
	switch {
	case errors.Is(err, session.ErrUsernameRequired), errors.Is(err, session.ErrInvalidEnvName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrCredentialsNotFound):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.As(err, &transportErr), errors.As(err, &shellErr), errors.As(err, &channelErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
