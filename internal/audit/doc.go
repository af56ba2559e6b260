// Package audit persists a trail of session activity: every connect attempt
// and every command execution handled by the session manager.
//
// The Auditor implements session.Recorder, so it is plugged into the manager
// through session.Config.Recorder. Each activity becomes one
// database.ExecutionLog row and one "[audit]" log line. Commands are
// sanitized and truncated before they are stored.
//
// # Retention
//
// Rows older than the retention period (SHELLMUX_AUDIT_RETENTION_DAYS,
// default 30) are removed by PurgeOlderThan. StartPurge runs it on a cron
// schedule (SHELLMUX_AUDIT_PURGE_SCHEDULE, default "@daily").
//
// # Querying
//
// Query filters by session key, host, username, kind and time range, and
// pages results newest first:
//
//	res, err := auditor.Query(audit.QueryOptions{Host: "build-box", Limit: 20})
package audit
