package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/shellmux/internal/logutil"
	"github.com/gluk-w/shellmux/internal/session"
)

// Sessions is set from main.go during init.
var Sessions *session.Manager

type connectRequest struct {
	Host     string `json:"host"`
	Username string `json:"username"`
	Session  string `json:"session"`
}

type execRequest struct {
	Command string `json:"command"`
	session.Options
}

type execResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out"`
}

func requireManager(w http.ResponseWriter) bool {
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return false
	}
	return true
}

// Connect establishes (or reuses) a remote session.
// POST /api/v1/connect
func Connect(w http.ResponseWriter, r *http.Request) {
	if !requireManager(w) {
		return
	}
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Host) == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}

	if err := Sessions.Connect(r.Context(), req.Host, req.Username, req.Session); err != nil {
		log.Printf("[api] connect %s failed: %v", logutil.SanitizeForLog(req.Host), err)
		writeSessionError(w, err)
		return
	}
	key := session.Key(req.Host, req.Session)
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

// Execute runs a command locally or in a remote session.
// POST /api/v1/exec
func Execute(w http.ResponseWriter, r *http.Request) {
	if !requireManager(w) {
		return
	}
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	res, err := Sessions.Execute(r.Context(), req.Command, req.Options)
	if err != nil {
		log.Printf("[api] exec on %s failed: %v", logutil.SanitizeForLog(session.Key(req.Host, req.Session)), err)
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execResponse{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		TimedOut: res.TimedOut,
	})
}

// ListSessions returns every registered session.
// GET /api/v1/sessions
func ListSessions(w http.ResponseWriter, r *http.Request) {
	if !requireManager(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": Sessions.Sessions()})
}

// DisconnectSession tears down one session.
// DELETE /api/v1/sessions/{key}
func DisconnectSession(w http.ResponseWriter, r *http.Request) {
	if !requireManager(w) {
		return
	}
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		writeError(w, http.StatusBadRequest, "Invalid session key")
		return
	}
	if err := Sessions.DisconnectSession(key); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DisconnectAll tears down every session.
// DELETE /api/v1/sessions
func DisconnectAll(w http.ResponseWriter, r *http.Request) {
	if !requireManager(w) {
		return
	}
	count := len(Sessions.Sessions())
	if err := Sessions.Disconnect(); err != nil {
		log.Printf("[api] disconnect all: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]int{"disconnected": count})
}
