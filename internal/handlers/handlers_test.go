package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/shellmux/internal/audit"
	"github.com/gluk-w/shellmux/internal/config"
	"github.com/gluk-w/shellmux/internal/database"
	"github.com/gluk-w/shellmux/internal/session"
)

// setupTestEnv wires a fresh database, auditor and session manager into the
// package globals.
func setupTestEnv(t *testing.T) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test DB: %v", err)
	}
	database.DB = db
	AuditLog = audit.NewAuditor(db, 30)
	Sessions = session.NewManager(session.Config{
		KeyPath:  filepath.Join(t.TempDir(), "missing_key"),
		Recorder: AuditLog,
	})
	t.Cleanup(func() {
		Sessions.Disconnect()
		Sessions = nil
		AuditLog = nil
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		database.DB = nil
	})
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	return httptest.NewRequest(method, target, &buf)
}

func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestHealthCheck(t *testing.T) {
	setupTestEnv(t)

	w := httptest.NewRecorder()
	HealthCheck(w, httptest.NewRequest("GET", "/health", nil))

	var body map[string]interface{}
	decode(t, w, &body)
	if body["status"] != "healthy" || body["database"] != "connected" {
		t.Fatalf("unexpected health: %v", body)
	}
}

func TestHealthCheck_NoDatabase(t *testing.T) {
	database.DB = nil
	w := httptest.NewRecorder()
	HealthCheck(w, httptest.NewRequest("GET", "/health", nil))

	var body map[string]interface{}
	decode(t, w, &body)
	if body["status"] != "unhealthy" {
		t.Fatalf("expected unhealthy, got %v", body)
	}
}

func TestExecute_Local(t *testing.T) {
	setupTestEnv(t)

	w := httptest.NewRecorder()
	Execute(w, jsonRequest(t, "POST", "/api/v1/exec", map[string]interface{}{
		"command": "echo $X",
		"env":     map[string]string{"X": "42"},
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res execResponse
	decode(t, w, &res)
	if res.Stdout != "42" || res.Stderr != "" || res.TimedOut {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecute_NonZeroExitIsOK(t *testing.T) {
	setupTestEnv(t)

	w := httptest.NewRecorder()
	Execute(w, jsonRequest(t, "POST", "/api/v1/exec", map[string]string{"command": "echo bad >&2; exit 2"}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res execResponse
	decode(t, w, &res)
	if strings.TrimSpace(res.Stderr) != "bad" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestExecute_Validation(t *testing.T) {
	setupTestEnv(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing command", `{"command": "  "}`, http.StatusBadRequest},
		{"missing username", `{"command": "ls", "host": "h1"}`, http.StatusBadRequest},
		{"missing key", `{"command": "ls", "host": "h1", "username": "bob"}`, http.StatusPreconditionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Execute(w, httptest.NewRequest("POST", "/api/v1/exec", strings.NewReader(tc.body)))
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestConnect_Validation(t *testing.T) {
	setupTestEnv(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "nope", http.StatusBadRequest},
		{"missing host", `{"username": "bob"}`, http.StatusBadRequest},
		{"missing username", `{"host": "h1"}`, http.StatusBadRequest},
		{"missing key", `{"host": "h1", "username": "bob"}`, http.StatusPreconditionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Connect(w, httptest.NewRequest("POST", "/api/v1/connect", strings.NewReader(tc.body)))
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestSessionsLifecycle(t *testing.T) {
	setupTestEnv(t)

	for _, name := range []string{"one", "two"} {
		w := httptest.NewRecorder()
		Execute(w, jsonRequest(t, "POST", "/api/v1/exec", map[string]string{"command": "true", "session": name}))
		if w.Code != http.StatusOK {
			t.Fatalf("exec %s: %d", name, w.Code)
		}
	}

	w := httptest.NewRecorder()
	ListSessions(w, httptest.NewRequest("GET", "/api/v1/sessions", nil))
	var list struct {
		Sessions []session.SessionInfo `json:"sessions"`
	}
	decode(t, w, &list)
	if len(list.Sessions) != 2 || list.Sessions[0].Key != "local:one" || list.Sessions[0].Mode != session.ModeLocal {
		t.Fatalf("unexpected sessions: %+v", list.Sessions)
	}

	w = httptest.NewRecorder()
	r := withURLParams(httptest.NewRequest("DELETE", "/api/v1/sessions/local:one", nil), map[string]string{"key": "local:one"})
	DisconnectSession(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	DisconnectSession(w, withURLParams(httptest.NewRequest("DELETE", "/", nil), map[string]string{"key": "local:one"}))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown key, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	DisconnectAll(w, httptest.NewRequest("DELETE", "/api/v1/sessions", nil))
	var out map[string]int
	decode(t, w, &out)
	if out["disconnected"] != 1 {
		t.Fatalf("disconnected = %d, want 1", out["disconnected"])
	}
	if len(Sessions.Sessions()) != 0 {
		t.Fatal("sessions left after DisconnectAll")
	}
}

func TestDisconnectSession_EscapedKey(t *testing.T) {
	setupTestEnv(t)
	Execute(httptest.NewRecorder(), jsonRequest(t, "POST", "/api/v1/exec", map[string]string{"command": "true", "session": "a b"}))

	w := httptest.NewRecorder()
	DisconnectSession(w, withURLParams(httptest.NewRequest("DELETE", "/", nil), map[string]string{"key": "local%3Aa%20b"}))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandlers_ManagerNotInitialized(t *testing.T) {
	Sessions = nil
	handlers := map[string]http.HandlerFunc{
		"connect":  Connect,
		"exec":     Execute,
		"list":     ListSessions,
		"delete":   DisconnectSession,
		"clearAll": DisconnectAll,
	}
	for name, h := range handlers {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest("POST", "/", strings.NewReader("{}")))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", name, w.Code)
		}
	}
}

func TestGetAuditLogs(t *testing.T) {
	setupTestEnv(t)
	for i := 0; i < 3; i++ {
		Execute(httptest.NewRecorder(), jsonRequest(t, "POST", "/api/v1/exec", map[string]string{"command": fmt.Sprintf("echo %d", i)}))
	}

	w := httptest.NewRecorder()
	GetAuditLogs(w, httptest.NewRequest("GET", "/api/v1/audit?kind=local&limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result audit.QueryResult
	decode(t, w, &result)
	if result.Total != 3 || len(result.Entries) != 2 {
		t.Fatalf("total=%d len=%d", result.Total, len(result.Entries))
	}
	if result.Entries[0].Command != "echo 2" {
		t.Errorf("newest entry = %q", result.Entries[0].Command)
	}
}

func TestGetAuditLogs_BadParams(t *testing.T) {
	setupTestEnv(t)
	for _, q := range []string{"since=yesterday", "until=1", "limit=0", "offset=-1"} {
		w := httptest.NewRecorder()
		GetAuditLogs(w, httptest.NewRequest("GET", "/api/v1/audit?"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestGetAuditLogs_NotInitialized(t *testing.T) {
	AuditLog = nil
	w := httptest.NewRecorder()
	GetAuditLogs(w, httptest.NewRequest("GET", "/api/v1/audit", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestPurgeAuditLogs(t *testing.T) {
	setupTestEnv(t)
	Execute(httptest.NewRecorder(), jsonRequest(t, "POST", "/api/v1/exec", map[string]string{"command": "true"}))

	w := httptest.NewRecorder()
	PurgeAuditLogs(w, httptest.NewRequest("POST", "/api/v1/audit/purge?days=1", nil))
	var out map[string]interface{}
	decode(t, w, &out)
	if out["deleted"].(float64) != 0 || out["retention_days"].(float64) != 30 {
		t.Fatalf("unexpected purge result: %v", out)
	}

	w = httptest.NewRecorder()
	PurgeAuditLogs(w, httptest.NewRequest("POST", "/api/v1/audit/purge?days=x", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetServerLogs(t *testing.T) {
	orig := config.Cfg
	t.Cleanup(func() { config.Cfg = orig })

	path := filepath.Join(t.TempDir(), "shellmux.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0644); err != nil {
		t.Fatal(err)
	}
	config.Cfg.LogPath = path

	w := httptest.NewRecorder()
	GetServerLogs(w, httptest.NewRequest("GET", "/api/v1/logs?lines=2", nil))
	var out map[string]string
	decode(t, w, &out)
	if !strings.Contains(out["logs"], "three") || strings.Contains(out["logs"], "one") {
		t.Fatalf("unexpected tail: %q", out["logs"])
	}
}
