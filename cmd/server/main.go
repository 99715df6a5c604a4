// Package main is the entry point for the unified CMDB core service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unifiedcmdb/cmdb-core/internal/api"
	"github.com/unifiedcmdb/cmdb-core/internal/api/handlers"
	"github.com/unifiedcmdb/cmdb-core/internal/approval"
	"github.com/unifiedcmdb/cmdb-core/internal/auth"
	"github.com/unifiedcmdb/cmdb-core/internal/cache"
	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/config"
	"github.com/unifiedcmdb/cmdb-core/internal/drift"
	"github.com/unifiedcmdb/cmdb-core/internal/governance"
	"github.com/unifiedcmdb/cmdb-core/internal/integrations"
	"github.com/unifiedcmdb/cmdb-core/internal/issuetracker"
	"github.com/unifiedcmdb/cmdb-core/internal/lifecycle"
	"github.com/unifiedcmdb/cmdb-core/internal/logging"
	"github.com/unifiedcmdb/cmdb-core/internal/queue"
	"github.com/unifiedcmdb/cmdb-core/internal/ratelimit"
	"github.com/unifiedcmdb/cmdb-core/internal/realtime"
	"github.com/unifiedcmdb/cmdb-core/internal/reconciler"
	"github.com/unifiedcmdb/cmdb-core/internal/scheduler"
	"github.com/unifiedcmdb/cmdb-core/internal/store/postgres"
	"github.com/unifiedcmdb/cmdb-core/internal/telemetry"
)

const serviceName = "cmdb-core"

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()
	if *showVersion {
		fmt.Printf("%s\n", serviceName)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("starting service", "service", serviceName, "environment", cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real{}

	st, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConnections,
		MinConns:        cfg.Database.MinConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	redisCfg := cache.Config{LocalEntries: 256}
	if cfg.Redis.Enabled {
		redisCfg.Addr = cfg.Redis.Addr
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
	}
	ristretto, err := cache.New(redisCfg, logger)
	if err != nil {
		logger.Error("failed to build cache", "error", err)
		os.Exit(1)
	}

	tracker := issuetracker.New(issuetracker.Config{Enabled: false}, logger)

	authn := auth.New(auth.Config{
		Mode:           auth.Mode(cfg.Auth.ServiceAuthMode),
		OperatorTokens: cfg.Auth.OperatorTokens,
		ApproverTokens: cfg.Auth.ApproverTokens,
		ViewerTokens:   cfg.Auth.ViewerTokens,
	})

	recon, err := reconciler.New(st, clk, cfg.App.SourcePrecedence, tracker, logger, 2048)
	if err != nil {
		logger.Error("failed to build reconciler", "error", err)
		os.Exit(1)
	}
	gov := governance.New(st, clk)
	life := lifecycle.New(st, clk, lifecycle.Thresholds{
		StagingDays: cfg.Lifecycle.StagingDays,
		ReviewDays:  cfg.Lifecycle.RetirementReviewDays,
		RetiredDays: cfg.Lifecycle.RetiredDays,
	}, tracker, 1000)

	publisher := integrations.New(integrations.Config{
		SourceSystemName: cfg.App.Name,
		Environment:      cfg.App.Environment,
		NetBoxPush: integrations.NetBoxPushConfig{
			Enabled: cfg.Integrations.NetBoxSyncEnabled,
			URL:     cfg.Integrations.NetBoxBaseURL,
			Token:   cfg.Integrations.NetBoxToken,
		},
		Backstage: integrations.BackstageConfig{
			Enabled: cfg.Integrations.BackstageSyncEnabled,
			URL:     cfg.Integrations.BackstageBaseURL,
			Token:   cfg.Integrations.BackstageToken,
			Secret:  cfg.Integrations.BackstageSigningKey,
		},
	}, clk, logger)

	var netboxImport *integrations.NetBoxImporter
	if cfg.Integrations.NetBoxBaseURL != "" {
		netboxImport = integrations.NewNetBoxImporter(st, clk, integrations.NetBoxConfig{
			APIURL:   cfg.Integrations.NetBoxBaseURL,
			APIToken: cfg.Integrations.NetBoxToken,
		}, cfg.App.Name, logger)
	}

	driftDetector := drift.New(st, clk, drift.Config{
		NetBoxAPIURL:          cfg.Integrations.NetBoxBaseURL,
		NetBoxAPIToken:        cfg.Integrations.NetBoxToken,
		BackstageCatalogURL:   cfg.Integrations.BackstageBaseURL,
		BackstageCatalogToken: cfg.Integrations.BackstageToken,
		Environment:           cfg.App.Environment,
	})

	recorder := telemetry.New(telemetry.DefaultRules())

	metrics := realtime.NewRealtimeMetrics(serviceName)
	eventBus := realtime.NewEventBus(logger, metrics)
	eventPub := realtime.NewEventPublisher(eventBus, logger, metrics)

	worker := queue.New(st, clk, cfg.SyncJob.WorkerPollInterval, cfg.SyncJob.RetryBaseSeconds, logger)
	worker.Register(queue.JobTypeNetBoxImport, queue.NewNetBoxImportHandler(netboxImport, recon, cfg.App.MaxBulkItems))
	worker.Register(queue.JobTypeBackstageSync, queue.NewBackstageSyncHandler(st, publisher, cfg.App.MaxBulkItems))
	worker.OnTerminalFailure(func(event string) {
		recorder.Record(event)
		_ = eventPub.PublishSystemNotification("error", event)
	})

	schedules := []scheduler.ScheduleDefinition{
		{
			Name:            scheduler.ScheduleNetBoxImport,
			JobType:         queue.JobTypeNetBoxImport,
			Enabled:         cfg.Integrations.NetBoxSyncEnabled && cfg.SyncJob.SchedulerEnabled,
			IntervalSeconds: 300,
			Payload:         map[string]any{"limit": cfg.App.MaxBulkItems},
			Ready: func() (bool, string) {
				if cfg.Integrations.NetBoxBaseURL == "" || cfg.Integrations.NetBoxToken == "" {
					return false, "netbox base url or token not configured"
				}
				return true, ""
			},
		},
		{
			Name:            scheduler.ScheduleBackstageSync,
			JobType:         queue.JobTypeBackstageSync,
			Enabled:         cfg.Integrations.BackstageSyncEnabled && cfg.SyncJob.SchedulerEnabled,
			IntervalSeconds: 600,
			Payload:         map[string]any{"limit": cfg.App.MaxBulkItems},
			Ready: func() (bool, string) {
				if cfg.Integrations.BackstageBaseURL == "" || cfg.Integrations.BackstageToken == "" {
					return false, "backstage base url or token not configured"
				}
				return true, ""
			},
		},
	}
	sched := scheduler.New(st, clk, worker, schedules,
		cfg.SyncJob.WorkerPollInterval, cfg.MakerChecker.CleanupInterval, logger)

	approvalSvc := approval.New(st, clk, approval.Config{
		DefaultTTL:    cfg.MakerChecker.DefaultTTL,
		BindRequester: true,
	})

	globalLimiter := ratelimit.New(cfg.RateLimit.GlobalLimit, cfg.RateLimit.GlobalWindow)
	// The configured mutating_limit applies uniformly across path groups;
	// no per-prefix overrides are exposed through config yet, so every
	// group shares one limit except approver decisions, which spec.md
	// §4.7 tightens to half since an approver's blast radius per call is
	// larger (consuming another principal's approval).
	mutatingLimit := cfg.RateLimit.MutatingLimit
	mutatingLimiters := ratelimit.NewMutatingLimiterSet(ratelimit.MutatingPathLimits{
		Default:           mutatingLimit,
		Ingest:            mutatingLimit,
		Integrations:      mutatingLimit,
		Relationships:     mutatingLimit,
		CIs:               mutatingLimit,
		Governance:        mutatingLimit,
		Lifecycle:         mutatingLimit,
		Approvals:         mutatingLimit,
		ApproverApprovals: max(1, mutatingLimit/2),
	})

	srv := &handlers.Server{
		Store:         st,
		Reconciler:    recon,
		Governance:    gov,
		Lifecycle:     life,
		Publisher:     publisher,
		NetBoxImport:  netboxImport,
		Drift:         driftDetector,
		Queue:         worker,
		Scheduler:     sched,
		Approval:      approvalSvc,
		Telemetry:     recorder,
		Cache:         ristretto,
		EventBus:      eventBus,
		EventPub:      eventPub,
		Authenticator: authn,
		Clock:         clk,
		Logger:        logger,
		App:           cfg.App,
		Integrations:  cfg.Integrations,
	}

	routerCfg := api.DefaultRouterConfig()
	routerCfg.APIDocsEnabled = cfg.Server.APIDocsEnabled
	routerCfg.MaxRequestBodyBytes = cfg.Server.MaxRequestBodyBytes
	router := api.NewRouter(routerCfg, api.Dependencies{
		Logger:             logger,
		Authenticator:      authn,
		GlobalLimiter:      globalLimiter,
		MutatingLimiters:   mutatingLimiters,
		Approval:           approvalSvc,
		MakerCheckerEnable: cfg.MakerChecker.Enabled,
	}, srv)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	worker.Start(ctx)
	if cfg.SyncJob.SchedulerEnabled {
		sched.Start(ctx)
	}

	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	worker.Stop(5 * time.Second)
	if cfg.SyncJob.SchedulerEnabled {
		sched.Stop(5 * time.Second)
	}
	logger.Info("server exited")
}
