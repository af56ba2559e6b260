package session

import (
	"time"

	"github.com/google/uuid"
)

// KindConnect marks connect attempts in Activity.Kind. Executions use the
// mode they ran in (ModeShell, ModeExec or ModeLocal).
const KindConnect = "connect"

// Activity describes one connect attempt or command execution.
type Activity struct {
	ID       string
	Key      string
	Host     string
	Username string
	Kind     string
	Command  string
	Duration time.Duration
	TimedOut bool
	Err      error
}

// Recorder receives activities, typically to persist an audit trail.
// Implementations must be safe for concurrent use.
type Recorder interface {
	Record(Activity)
}

func (m *Manager) record(a Activity) {
	if m.cfg.Recorder == nil {
		return
	}
	a.ID = uuid.NewString()
	m.cfg.Recorder.Record(a)
}
