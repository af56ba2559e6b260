package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/shellmux/internal/audit"
	"github.com/gluk-w/shellmux/internal/config"
	"github.com/gluk-w/shellmux/internal/database"
	"github.com/gluk-w/shellmux/internal/handlers"
	"github.com/gluk-w/shellmux/internal/hosts"
	"github.com/gluk-w/shellmux/internal/logging"
	"github.com/gluk-w/shellmux/internal/session"
	"github.com/gluk-w/shellmux/internal/sshkeys"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--keygen":
			runKeygen()
			return
		}
	}

	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	auditor := audit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
	handlers.AuditLog = auditor
	purger, err := auditor.StartPurge(config.Cfg.AuditPurgeSchedule)
	if err != nil {
		log.Fatalf("Audit purge: %v", err)
	}

	inventory := &hosts.Inventory{}
	if config.Cfg.HostsFile != "" {
		inventory, err = hosts.Load(config.Cfg.HostsFile)
		if err != nil {
			log.Fatalf("Hosts file: %v", err)
		}
		log.Printf("Loaded %d hosts from %s", inventory.Len(), config.Cfg.HostsFile)
	}

	sessCfg := session.Config{
		KeyPath:           config.Cfg.KeyPath,
		Hosts:             inventory,
		IdleTimeout:       config.Duration(config.Cfg.IdleTimeout, session.DefaultIdleTimeout),
		CommandTimeout:    config.Duration(config.Cfg.CommandTimeout, session.DefaultCommandTimeout),
		KeepaliveInterval: config.Duration(config.Cfg.KeepaliveInterval, session.DefaultKeepaliveInterval),
		ConnectTimeout:    config.Duration(config.Cfg.ConnectTimeout, session.DefaultConnectTimeout),
		LoginShell:        config.Cfg.LoginShell,
		LocalShell:        config.Cfg.LocalShell,
		Recorder:          auditor,
	}
	mgr := session.NewManager(sessCfg)
	handlers.Sessions = mgr
	log.Printf("Session manager initialized (idle_timeout=%s, command_timeout=%s, keepalive=%s)",
		sessCfg.IdleTimeout, sessCfg.CommandTimeout, sessCfg.KeepaliveInterval)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/connect", handlers.Connect)
		r.Post("/exec", handlers.Execute)

		r.Get("/sessions", handlers.ListSessions)
		r.Delete("/sessions", handlers.DisconnectAll)
		r.Delete("/sessions/{key}", handlers.DisconnectSession)

		r.Get("/audit", handlers.GetAuditLogs)
		r.Post("/audit/purge", handlers.PurgeAuditLogs)

		r.Get("/logs", handlers.GetServerLogs)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	<-purger.Stop().Done()

	if err := mgr.Disconnect(); err != nil {
		log.Printf("Session manager shutdown: %v", err)
	}
	log.Println("Server stopped")
}

func runKeygen() {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	path := fs.String("path", "", "Private key output path (default ~/.ssh/id_rsa)")
	force := fs.Bool("force", false, "Overwrite an existing key")
	fs.Parse(os.Args[2:])

	if *path == "" {
		p, err := sshkeys.DefaultKeyPath()
		if err != nil {
			log.Fatalf("Resolve default key path: %v", err)
		}
		*path = p
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Key %s already exists. Usage: shellmux --keygen [--path <file>] [--force]\n", *path)
		os.Exit(1)
	}

	pub, priv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		log.Fatalf("Failed to generate key pair: %v", err)
	}
	if err := sshkeys.SaveKeyPair(*path, priv, pub); err != nil {
		log.Fatalf("Failed to save key pair: %v", err)
	}
	fmt.Printf("Key pair written to %s (public key %s.pub)\n", *path, *path)
	fmt.Print(string(pub))
}
