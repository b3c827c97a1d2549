// Package main wires together the lead engine service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/api"
	"github.com/DavidSuperwave/leadengine/internal/app"
	"github.com/DavidSuperwave/leadengine/internal/artifact"
	"github.com/DavidSuperwave/leadengine/internal/auth"
	"github.com/DavidSuperwave/leadengine/internal/billing/whop"
	"github.com/DavidSuperwave/leadengine/internal/clock/system"
	"github.com/DavidSuperwave/leadengine/internal/config"
	"github.com/DavidSuperwave/leadengine/internal/enrich"
	"github.com/DavidSuperwave/leadengine/internal/exporter"
	"github.com/DavidSuperwave/leadengine/internal/exporter/instantly"
	"github.com/DavidSuperwave/leadengine/internal/exporter/smartlead"
	"github.com/DavidSuperwave/leadengine/internal/hash/sha256"
	"github.com/DavidSuperwave/leadengine/internal/id/uuid"
	"github.com/DavidSuperwave/leadengine/internal/keypool"
	"github.com/DavidSuperwave/leadengine/internal/leads"
	"github.com/DavidSuperwave/leadengine/internal/logging"
	"github.com/DavidSuperwave/leadengine/internal/metrics"
	memorypublisher "github.com/DavidSuperwave/leadengine/internal/publisher/memory"
	pubsubpublisher "github.com/DavidSuperwave/leadengine/internal/publisher/pubsub"
	memoryqueue "github.com/DavidSuperwave/leadengine/internal/queue/memory"
	"github.com/DavidSuperwave/leadengine/internal/scraper/gologin"
	"github.com/DavidSuperwave/leadengine/internal/storage"
	memorystorage "github.com/DavidSuperwave/leadengine/internal/storage/memory"
	"github.com/DavidSuperwave/leadengine/internal/storage/postgres"
	"github.com/DavidSuperwave/leadengine/internal/verifier"
	"github.com/DavidSuperwave/leadengine/internal/verifier/mailtester"
	"github.com/DavidSuperwave/leadengine/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	var jobStore leads.JobStore
	var ledger leads.CreditLedger
	if cfg.DB.DSN != "" {
		pgStore, err := postgres.NewStore(ctx, postgres.Config{DSN: cfg.DB.DSN}, clock)
		if err != nil {
			logger.Fatal("connect database failed", zap.Error(err))
		}
		defer pgStore.Close()
		jobStore, ledger = pgStore, pgStore
		logger.Info("using postgres store")
	} else {
		memStore := memorystorage.NewStore(clock)
		jobStore, ledger = memStore, memStore
		logger.Warn("no db.dsn configured, using in-memory store")
	}

	blobs, err := storage.Build(ctx, storage.Config{
		Backend:  cfg.Storage.Backend,
		LocalDir: cfg.Storage.LocalDir,
		Bucket:   cfg.Storage.Bucket,
	})
	if err != nil {
		logger.Fatal("build blob store failed", zap.Error(err))
	}

	var publisher leads.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("create pubsub client failed", zap.Error(err))
		}
		psPublisher := pubsubpublisher.New(client)
		defer psPublisher.Close()
		publisher = psPublisher
	} else {
		publisher = memorypublisher.New()
	}

	pool := keypool.New(cfg.MailTester.APIKeys)
	verifyClient := mailtester.New(mailtester.Config{
		BaseURL:        cfg.MailTester.BaseURL,
		RequestsPerSec: cfg.MailTester.RequestsPerSec,
	}, pool, logger.Named("mailtester"))
	verifyRunner := verifier.NewRunner(verifyClient, jobStore, clock, verifier.Config{
		BatchSize:  cfg.MailTester.BatchSize,
		BatchDelay: cfg.MailTester.BatchDelay(),
	}, logger.Named("verifier"))

	var enricher gologin.Enricher
	if cfg.Enrich.Enabled {
		enricher = enrich.New(enrich.Config{UserAgent: cfg.Enrich.UserAgent}, logger.Named("enrich"))
	}
	browser := gologin.NewClient(gologin.Config{
		BaseURL: cfg.GoLogin.BaseURL,
		Token:   cfg.GoLogin.Token,
	}, logger.Named("gologin"))
	scrapeRunner := gologin.NewRunner(browser, jobStore, enricher, clock, gologin.RunnerConfig{
		DefaultProfileID:  cfg.GoLogin.ProfileID,
		NavigationTimeout: cfg.GoLogin.NavTimeout(),
		SettleDelay:       cfg.GoLogin.SettleDelay(),
	}, logger)

	scrapeQueue := memoryqueue.New("scrape")
	verifyQueue := memoryqueue.New("verification")

	// Persisted state outlives the process; orphaned jobs get requeued
	// before the workers start claiming.
	orphanThreshold := cfg.Queue.OrphanThreshold()
	for _, rec := range []*worker.Reconciler{
		worker.NewReconciler(scrapeQueue, jobStore, leads.KindScrape, orphanThreshold, clock, logger.Named("reconcile")),
		worker.NewReconciler(verifyQueue, jobStore, leads.KindVerify, orphanThreshold, clock, logger.Named("reconcile")),
	} {
		if _, err := rec.Run(ctx); err != nil {
			logger.Error("startup reconciliation failed", zap.Error(err))
		}
	}

	workerCfg := worker.Config{
		PollInterval: cfg.Queue.PollInterval(),
		Topic:        cfg.PubSub.TopicName,
	}
	workers := []*worker.Worker{
		worker.New(scrapeQueue, jobStore, scrapeRunner, publisher, clock, workerCfg, logger.Named("worker.scrape")),
		worker.New(verifyQueue, jobStore, verifyRunner, publisher, clock, workerCfg, logger.Named("worker.verify")),
	}

	builder := artifact.NewBuilder(jobStore, blobs, hasher, logger.Named("artifact"))

	tools := make(map[string]exporter.Exporter)
	if cfg.Instantly.APIKey != "" {
		tools["instantly"] = instantly.New(instantly.Config{
			BaseURL: cfg.Instantly.BaseURL,
			APIKey:  cfg.Instantly.APIKey,
		}, logger.Named("instantly"))
	}
	if cfg.Smartlead.APIKey != "" {
		tools["smartlead"] = smartlead.New(smartlead.Config{
			BaseURL: cfg.Smartlead.BaseURL,
			APIKey:  cfg.Smartlead.APIKey,
		}, logger.Named("smartlead"))
	}
	registry := exporter.NewRegistry(tools)

	service := app.NewService(
		jobStore, ledger, scrapeQueue, verifyQueue,
		builder, registry, idGen, clock,
		app.Config{
			ScrapeCostPerPage:  cfg.Jobs.ScrapeCostPerPage,
			VerifyCostPerEmail: cfg.Jobs.VerifyCostPerEmail,
			MaxPages:           cfg.Jobs.MaxPages,
			MaxEmails:          cfg.Jobs.MaxEmails,
		},
		logger.Named("service"),
	)

	var billing api.BillingWebhook
	if cfg.Whop.WebhookSecret != "" {
		billing = whop.NewProcessor(cfg.Whop.WebhookSecret, ledger, logger.Named("whop"))
	}

	authorizer := auth.NewStatic(cfg.Auth.AdminUsers)
	apiServer := api.NewServer(service, authorizer, billing, api.Config{
		APIKey:         cfg.Auth.APIKey,
		AuthEnabled:    cfg.Auth.Enabled,
		RequestTimeout: cfg.RequestTimeout(),
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	scrapeQueue.Close()
	verifyQueue.Close()
	wg.Wait()
	logger.Info("shutdown complete")
}
