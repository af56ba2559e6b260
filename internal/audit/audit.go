package audit

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/gluk-w/shellmux/internal/database"
	"github.com/gluk-w/shellmux/internal/logutil"
	"github.com/gluk-w/shellmux/internal/session"
)

// DefaultRetentionDays is the default number of days to keep execution logs.
const DefaultRetentionDays = 30

// Auditor records session activities and queries them back.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time // injectable clock for testing
}

// NewAuditor creates an Auditor writing to db. If retentionDays is 0,
// DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

var _ session.Recorder = (*Auditor)(nil)

// Record stores a and emits a log line. Write failures are logged, never
// returned, so auditing cannot fail an execution.
func (a *Auditor) Record(act session.Activity) {
	if err := a.Log(act); err != nil {
		log.Printf("[audit] failed to write execution log: %v", err)
	}
}

// Log stores act as an execution log row.
func (a *Auditor) Log(act session.Activity) error {
	entry := database.ExecutionLog{
		ActivityID: act.ID,
		SessionKey: act.Key,
		Host:       act.Host,
		Username:   act.Username,
		Kind:       act.Kind,
		Command:    logutil.Command(act.Command),
		DurationMs: act.Duration.Milliseconds(),
		TimedOut:   act.TimedOut,
	}
	if act.Err != nil {
		entry.Error = act.Err.Error()
	}

	a.mu.Lock()
	err := a.db.Create(&entry).Error
	a.mu.Unlock()
	if err != nil {
		return err
	}

	log.Printf("[audit] %s key=%s user=%s duration=%dms timed_out=%v command=%s",
		entry.Kind,
		logutil.SanitizeForLog(entry.SessionKey),
		logutil.SanitizeForLog(entry.Username),
		entry.DurationMs,
		entry.TimedOut,
		entry.Command,
	)
	return nil
}

// QueryOptions specifies filters for retrieving execution logs.
type QueryOptions struct {
	SessionKey string
	Host       string
	Username   string
	Kind       string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// QueryResult contains execution log entries and pagination metadata.
type QueryResult struct {
	Entries []database.ExecutionLog `json:"entries"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// Query retrieves execution log entries matching opts, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tx := a.db.Model(&database.ExecutionLog{})

	if opts.SessionKey != "" {
		tx = tx.Where("session_key = ?", opts.SessionKey)
	}
	if opts.Host != "" {
		tx = tx.Where("host = ?", opts.Host)
	}
	if opts.Username != "" {
		tx = tx.Where("username = ?", opts.Username)
	}
	if opts.Kind != "" {
		tx = tx.Where("kind = ?", opts.Kind)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []database.ExecutionLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes entries older than days, or older than the
// configured retention period when days is 0. Returns the number of rows
// deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)

	a.mu.Lock()
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.ExecutionLog{})
	a.mu.Unlock()
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d execution log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// StartPurge runs PurgeOlderThan with the configured retention on schedule,
// a cron spec or descriptor such as "@daily". Stop the returned scheduler on
// shutdown.
func (a *Auditor) StartPurge(schedule string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := a.PurgeOlderThan(0); err != nil {
			log.Printf("[audit] scheduled purge: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	c.Start()
	log.Printf("[audit] purge scheduled (%s, retention %d days)", schedule, a.retentionDays)
	return c, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
