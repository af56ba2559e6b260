package session

import (
	"log"
	"time"

	"github.com/gluk-w/shellmux/internal/logutil"
)

// DefaultIdleTimeout is how long a session may stay inactive before it is
// evicted.
const DefaultIdleTimeout = 20 * time.Minute

// touch records activity on rec and re-arms its idle timer.
func (m *Manager) touch(rec *Record) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closed {
		return
	}
	rec.lastActivity = time.Now()
	if rec.timer == nil {
		rec.timer = time.AfterFunc(m.cfg.IdleTimeout, func() { m.expire(rec) })
		return
	}
	rec.timer.Reset(m.cfg.IdleTimeout)
}

// expire evicts rec unless activity arrived after the timer fired.
func (m *Manager) expire(rec *Record) {
	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		return
	}
	if idle := time.Since(rec.lastActivity); idle < m.cfg.IdleTimeout {
		rec.timer.Reset(m.cfg.IdleTimeout - idle)
		rec.mu.Unlock()
		return
	}
	rec.mu.Unlock()

	log.Printf("[session] session %s idle for %s, disconnecting", logutil.SanitizeForLog(rec.Key), m.cfg.IdleTimeout)
	if err := m.teardown(rec, "idle timeout"); err != nil {
		log.Printf("[session] idle teardown of %s: %v", logutil.SanitizeForLog(rec.Key), err)
	}
}
