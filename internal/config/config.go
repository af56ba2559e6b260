package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	// DatabasePath defaults to shellmux.db under DataPath.
	DataPath     string `envconfig:"DATA_PATH" default:"/var/lib/shellmux"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8080"`

	// SSH credentials and host inventory. An empty KeyPath means ~/.ssh/id_rsa.
	KeyPath   string `envconfig:"KEY_PATH" default:""`
	HostsFile string `envconfig:"HOSTS_FILE" default:""`

	// Session settings
	IdleTimeout       string `envconfig:"IDLE_TIMEOUT" default:"20m"`
	CommandTimeout    string `envconfig:"COMMAND_TIMEOUT" default:"30s"`
	KeepaliveInterval string `envconfig:"KEEPALIVE_INTERVAL" default:"60s"`
	ConnectTimeout    string `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	LoginShell        string `envconfig:"LOGIN_SHELL" default:"/bin/bash"`
	LocalShell        string `envconfig:"LOCAL_SHELL" default:"/bin/sh"`

	// Audit settings
	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" default:"30"`
	AuditPurgeSchedule string `envconfig:"AUDIT_PURGE_SCHEDULE" default:"@daily"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SHELLMUX", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.DatabasePath == "" {
		Cfg.DatabasePath = filepath.Join(Cfg.DataPath, "shellmux.db")
	}
}

// Duration parses a duration setting, returning fallback when the value is
// empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("WARNING: invalid duration %q, using %s", value, fallback)
		return fallback
	}
	return d
}
