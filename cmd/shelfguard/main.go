// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package main is the entry point for the Shelfguard agent.
//
// Shelfguard runs next to a bookstore's point-of-sale application. It
// snapshots the live SQLite database on a schedule and on demand, keeps a
// week of local copies, and mirrors them to Google Drive whenever the
// shop has an internet connection. Backups taken while offline are queued
// and uploaded, oldest first, once the connection returns.
//
// # Startup
//
//  1. Configuration (koanf: defaults, YAML file, environment)
//  2. Logging
//  3. POS database, state store, audit trail, authorizer
//  4. Remote store (optional) behind a circuit breaker
//  5. Backup manager Start: missed retention, pending re-derivation, jobs
//  6. Supervisor tree: scheduler, drain loop, connectivity probe, HTTP API
//
// # Usage
//
//	shelfguard                 run the agent
//	shelfguard verify FILE     check that FILE is an intact SQLite snapshot
//
// The agent stops on SIGINT or SIGTERM. In-flight snapshots finish; an
// interrupted upload is retried on the next start.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/shelfguard/internal/api"
	"github.com/tomtom215/shelfguard/internal/audit"
	"github.com/tomtom215/shelfguard/internal/authz"
	"github.com/tomtom215/shelfguard/internal/backup"
	"github.com/tomtom215/shelfguard/internal/config"
	"github.com/tomtom215/shelfguard/internal/connectivity"
	"github.com/tomtom215/shelfguard/internal/database"
	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/remote"
	"github.com/tomtom215/shelfguard/internal/state"
	"github.com/tomtom215/shelfguard/internal/supervisor"
	"github.com/tomtom215/shelfguard/internal/supervisor/services"
)

func main() {
	if len(os.Args) > 1 {
		os.Exit(runCommand(os.Args[1:]))
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Shelfguard stopped with an error")
	}
	logging.Info().Msg("Shelfguard stopped")
}

func runCommand(args []string) int {
	switch args[0] {
	case "verify":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: shelfguard verify FILE")
			return 2
		}
		if err := database.Verify(context.Background(), args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", args[1], err)
			return 1
		}
		fmt.Printf("%s: ok\n", args[1])
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\nusage: shelfguard [verify FILE]\n", args[0])
		return 2
	}
}

//nolint:gocyclo // Sequential wiring of every component.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("backup_dir", cfg.Backup.Dir).
		Bool("remote_enabled", cfg.Remote.Enabled).
		Msg("Starting Shelfguard")

	db, err := database.Open(cfg.Database.Path, cfg.Database.BusyTimeout,
		database.WithExportTables(cfg.Backup.ExportTables...))
	if err != nil {
		return fmt.Errorf("open POS database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing POS database")
		}
	}()

	st, err := state.Open(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing state store")
		}
	}()

	enforcer, err := authz.NewEnforcer(authz.Config{
		ModelPath:  cfg.Security.CasbinModelPath,
		PolicyPath: cfg.Security.CasbinPolicyPath,
	})
	if err != nil {
		return fmt.Errorf("load authorization policy: %w", err)
	}

	auditStore, auditLog, err := openAudit(cfg.Audit)
	if err != nil {
		return err
	}
	defer func() {
		if err := auditLog.Close(); err != nil {
			logging.Error().Err(err).Msg("Error flushing audit log")
		}
		if closer, ok := auditStore.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing audit log")
			}
		}
	}()

	store, err := openRemote(ctx, cfg.Remote, st)
	if err != nil {
		return err
	}

	signalCh := connectivity.NewSignal()
	monitor := connectivity.NewMonitor(connectivity.Config{
		Interval: cfg.Connectivity.Interval,
		Timeout:  cfg.Connectivity.Timeout,
	}, &connectivity.HTTPProber{URL: cfg.Connectivity.ProbeURL}, nil, signalCh)

	manager, err := backup.NewManager(backup.Config{
		Dir:                cfg.Backup.Dir,
		ExportMetadata:     cfg.Backup.ExportMetadata,
		AutoBackupSchedule: cfg.Schedule.AutoBackup,
		RetentionSchedule:  cfg.Schedule.Retention,
		Retention: backup.RetentionConfig{
			Window:           cfg.Retention.Window,
			MissedAfter:      cfg.Schedule.MissedRetentionAfter,
			KeepLatestRemote: cfg.Retention.KeepLatestRemote,
		},
		RetryInterval: cfg.Queue.RetryInterval,
	}, backup.Deps{
		Database:     db,
		Remote:       store,
		Authorizer:   enforcer,
		Recorder:     auditLog,
		Settings:     st,
		Checkpoints:  st,
		Connectivity: monitor,
	})
	if err != nil {
		return fmt.Errorf("create backup manager: %w", err)
	}
	manager.SetReconnectNotifier(signalCh.Notify)

	// Probe once so Start can reconcile with the remote right away when
	// the shop is online.
	monitor.Check(ctx)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start backup manager: %w", err)
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}
	tree.AddBackupService(services.NewSchedulerService(manager.Scheduler()))
	tree.AddBackupService(services.NewDrainService(manager, signalCh))
	tree.AddBackupService(services.NewPruneService("audit-prune", auditStore, cfg.Audit.Retention, 24*time.Hour, nil))
	tree.AddNetworkService(services.NewConnectivityService(monitor))

	if cfg.Server.Enabled {
		mw := api.NewChiMiddleware(&api.ChiMiddlewareConfig{
			CORSAllowedOrigins: cfg.Security.CORSOrigins,
			CORSMaxAge:         86400,
			RateLimitRequests:  cfg.Security.RateLimitReqs,
			RateLimitWindow:    cfg.Security.RateLimitWindow,
		})
		server := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           api.NewRouter(api.NewHandler(manager), mw).Setup(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Server.Timeout,
			WriteTimeout:      cfg.Server.Timeout,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("Local API enabled")
	}

	logging.Info().Msg("Supervisor tree starting")
	err = tree.Serve(ctx)

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return err
}

func openAudit(cfg config.AuditConfig) (audit.Store, *audit.Logger, error) {
	var store audit.Store
	if cfg.Path != "" {
		fs, err := audit.NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}
		store = fs
	} else {
		store = audit.NewMemoryStore(0)
	}
	return store, audit.NewLogger(store, &audit.Config{
		Enabled:     cfg.Enabled,
		BufferSize:  cfg.BufferSize,
		LogToStdout: cfg.LogToStdout,
	}), nil
}

// openRemote returns nil when remote storage is disabled. The Manager
// treats a nil store as local-only operation.
func openRemote(ctx context.Context, cfg config.RemoteConfig, tokens remote.TokenStore) (remote.Store, error) {
	if !cfg.Enabled {
		logging.Info().Msg("Remote storage disabled, backups stay local")
		return nil, nil
	}

	drive, err := remote.NewDriveStore(ctx, remote.DriveConfig{
		ClientID:          cfg.ClientID,
		ClientSecret:      cfg.ClientSecret,
		RedirectURL:       cfg.RedirectURL,
		FolderID:          cfg.FolderID,
		APIBaseURL:        cfg.APIBaseURL,
		UploadBaseURL:     cfg.UploadBaseURL,
		RequestTimeout:    cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, tokens)
	if err != nil {
		return nil, fmt.Errorf("create drive store: %w", err)
	}
	logging.Info().Bool("connected", drive.IsConnected()).Msg("Google Drive storage enabled")

	if !cfg.CircuitBreaker {
		return drive, nil
	}
	return remote.NewBreakerStore(drive, remote.BreakerSettings{Name: "gdrive"}), nil
}
