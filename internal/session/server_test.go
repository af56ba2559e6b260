package session

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/shellmux/internal/sshkeys"
)

// testServer is an in-process SSH server that runs exec and shell requests
// with the local /bin/sh.
type testServer struct {
	addr        string
	rejectShell bool
	accepted    atomic.Int32
	cleanup     func()

	mu       sync.Mutex
	netConns []net.Conn
}

// closeAllConns forcefully closes every accepted TCP connection.
func (ts *testServer) closeAllConns() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.netConns {
		c.Close()
	}
	ts.netConns = nil
}

func (ts *testServer) handshakes() int {
	return int(ts.accepted.Load())
}

func startTestServer(t *testing.T, authorizedKey ssh.PublicKey, rejectShell bool) *testServer {
	t.Helper()

	_, hostKeyPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := sshkeys.ParsePrivateKey(hostKeyPEM)
	if err != nil {
		t.Fatalf("parse host key: %v", err)
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(authorizedKey) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ts := &testServer{addr: listener.Addr().String(), rejectShell: rejectShell}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			ts.accepted.Add(1)
			ts.mu.Lock()
			ts.netConns = append(ts.netConns, netConn)
			ts.mu.Unlock()
			go ts.handleConn(netConn, config)
		}
	}()

	ts.cleanup = func() {
		listener.Close()
		ts.closeAllConns()
		<-done
	}
	t.Cleanup(ts.cleanup)
	return ts
}

func (ts *testServer) handleConn(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go ts.handleSession(ch, requests)
	}
}

func (ts *testServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go runChannelProcess(ch, exec.Command("/bin/sh", "-c", payload.Command), false)
		case "shell":
			if ts.rejectShell {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go runChannelProcess(ch, exec.Command("/bin/sh"), true)
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// runChannelProcess wires cmd to ch, reports its exit status and closes ch.
func runChannelProcess(ch ssh.Channel, cmd *exec.Cmd, interactive bool) {
	defer ch.Close()
	cmd.Stdout = ch
	cmd.Stderr = ch.Stderr()
	if interactive {
		cmd.Stdin = ch
	}
	cmd.WaitDelay = time.Second

	status := uint32(0)
	if err := cmd.Run(); err != nil {
		status = 1
		if cmd.ProcessState != nil {
			status = uint32(cmd.ProcessState.ExitCode())
		}
	}
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
}

// newTestKeyFile writes a fresh private key to a temp dir and returns its
// path and signer.
func newTestKeyFile(t *testing.T) (string, ssh.Signer) {
	t.Helper()
	pub, priv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_test")
	if err := sshkeys.SaveKeyPair(path, priv, pub); err != nil {
		t.Fatalf("save key pair: %v", err)
	}
	signer, err := sshkeys.LoadSigner(path)
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}
	return path, signer
}

// testEnv bundles a server and a manager configured to reach it.
type testEnv struct {
	server  *testServer
	manager *Manager
	host    string
}

func newTestEnv(t *testing.T, rejectShell bool, mutate func(*Config)) *testEnv {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	keyPath, signer := newTestKeyFile(t)
	ts := startTestServer(t, signer.PublicKey(), rejectShell)

	cfg := Config{
		KeyPath:        keyPath,
		LoginShell:     "/bin/sh",
		CommandTimeout: 5 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr := NewManager(cfg)
	t.Cleanup(func() { mgr.Disconnect() })
	return &testEnv{server: ts, manager: mgr, host: ts.addr}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
