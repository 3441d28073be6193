// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kgraph/controlplane/internal/artifact"
	"github.com/kgraph/controlplane/internal/authz"
	"github.com/kgraph/controlplane/internal/blobstore"
	"github.com/kgraph/controlplane/internal/breaker"
	"github.com/kgraph/controlplane/internal/checkpoint"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/config"
	"github.com/kgraph/controlplane/internal/embedding"
	"github.com/kgraph/controlplane/internal/epoch"
	"github.com/kgraph/controlplane/internal/graph"
	"github.com/kgraph/controlplane/internal/httpapi"
	"github.com/kgraph/controlplane/internal/ingestion"
	"github.com/kgraph/controlplane/internal/llm"
	"github.com/kgraph/controlplane/internal/maintenance"
	"github.com/kgraph/controlplane/internal/oauth"
	"github.com/kgraph/controlplane/internal/obs"
	"github.com/kgraph/controlplane/internal/progress"
	"github.com/kgraph/controlplane/internal/queue"
	"github.com/kgraph/controlplane/internal/ratelimit"
	"github.com/kgraph/controlplane/internal/reaper"
	"github.com/kgraph/controlplane/internal/redisclient"
	"github.com/kgraph/controlplane/internal/scheduler"
	"github.com/kgraph/controlplane/internal/vocabulary"
	"github.com/kgraph/controlplane/internal/worker"
)

var version = "dev"

// OAuth authorization-code and device-code lifetimes are fixed rather than
// config-driven: spec.md §4.9 names them as short-lived, single-use grants,
// not a tunable operator knob the way access/refresh TTLs are.
const (
	authCodeTTL = 10 * time.Minute
	deviceTTL   = 10 * time.Minute
)

func main() {
	var role string
	var configPath string
	var schedulerInterval time.Duration
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "all", "Role to run: server|worker|scheduler|all")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.DurationVar(&schedulerInterval, "scheduler-interval", 30*time.Second, "Scheduled-jobs dispatcher tick interval")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	rdb := redisclient.New(cfg)
	defer rdb.Close()

	clk := clock.SystemClock{}

	facade := graph.NewMemory()
	tracker := epoch.New(facade)
	blobs, err := blobstore.New(cfg.BlobStore.Backend, rdb, blobstore.BlobStoreConfig{
		Bucket: cfg.BlobStore.Bucket, Region: cfg.BlobStore.Region,
		Endpoint: cfg.BlobStore.Endpoint, KeyPrefix: cfg.BlobStore.KeyPrefix,
	})
	if err != nil {
		logger.Fatal("failed to init blob store", obs.Err(err))
	}
	artifacts := artifact.NewManager(artifact.NewRedisStore(rdb), blobs, tracker, clk, cfg.Artifacts.InlineThresholdBytes)
	q := queue.New(queue.NewRedisStore(rdb), cfg, logger)
	broker := progress.New()
	guard := checkpoint.New(facade, clk, logger)

	authzKernel := authz.New()
	authz.SeedBuiltinPermissions(authzKernel)

	oauthMgr, err := oauth.New(clk, cfg.Auth.TokenTTL, cfg.Auth.RefreshTokenTTL, authCodeTTL, deviceTTL, fmt.Sprintf("http://%s/auth/device", cfg.HTTP.Addr))
	if err != nil {
		logger.Fatal("failed to init oauth manager", obs.Err(err))
	}

	llmBreaker := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	llmLimiter := ratelimit.New(float64(cfg.LLM.Concurrency), cfg.LLM.Concurrency)
	extractor := llm.NewHTTPExtractor(cfg.LLM.BaseURL, cfg.LLM.Timeout, cfg.LLM.MaxRetries, llmBreaker, llmLimiter)

	embedBreaker := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	embedLimiter := ratelimit.New(10, 10)
	embedSvc := embedding.NewHTTPService(cfg.Embedding.ServiceURL, cfg.Embedding.Timeout, 3, embedBreaker, embedLimiter, embedding.Profile{
		Dimensions: cfg.Embedding.Dimensions, Normalize: cfg.Embedding.Normalize,
		QueryPrefix: cfg.Embedding.QueryPrefix, DocumentPrefix: cfg.Embedding.DocumentPrefix,
	})

	vocab := vocabulary.New(clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	var httpSrv *http.Server
	if role == "server" || role == "all" {
		readyCheck := func(c context.Context) error {
			_, err := rdb.Ping(c).Result()
			return err
		}
		httpSrv = obs.StartHTTPServer(cfg, readyCheck)
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
		obs.StartQueueLengthUpdater(ctx, cfg, rdb, logger)
	}

	switch role {
	case "server":
		runServer(ctx, cfg, q, artifacts, broker, authzKernel, oauthMgr, facade, embedSvc, blobs, guard, clk, logger)
	case "worker":
		runWorker(ctx, cfg, q, facade, extractor, embedSvc, vocab, artifacts, tracker, blobs, guard, clk, logger)
	case "scheduler":
		runScheduler(ctx, q, tracker, schedulerInterval, clk, logger)
	case "all":
		go runWorker(ctx, cfg, q, facade, extractor, embedSvc, vocab, artifacts, tracker, blobs, guard, clk, logger)
		go runScheduler(ctx, q, tracker, schedulerInterval, clk, logger)
		runServer(ctx, cfg, q, artifacts, broker, authzKernel, oauthMgr, facade, embedSvc, blobs, guard, clk, logger)
	default:
		logger.Fatal("unknown role", obs.String("role", role))
	}
}

func runServer(ctx context.Context, cfg *config.Config, q *queue.Queue, artifacts *artifact.Manager, broker *progress.Broker, authzKernel *authz.Kernel, oauthMgr *oauth.Manager, facade graph.Facade, embedSvc embedding.Service, blobs blobstore.Store, guard *checkpoint.Guard, clk clock.Clock, logger *zap.Logger) {
	srv := httpapi.New(q, artifacts, broker, authzKernel, oauthMgr, facade, embedSvc, blobs, guard, clk, cfg, logger)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()
	logger.Info("controlplane HTTP/SSE surface listening", obs.String("addr", cfg.HTTP.Addr))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server error", obs.Err(err))
	}
}

func runWorker(ctx context.Context, cfg *config.Config, q *queue.Queue, facade graph.Facade, extractor llm.Extractor, embedSvc embedding.Service, vocab *vocabulary.Vocabulary, artifacts *artifact.Manager, tracker *epoch.Tracker, blobs blobstore.Store, guard *checkpoint.Guard, clk clock.Clock, logger *zap.Logger) {
	pool := worker.New(cfg, q, logger)

	ingestCfg := ingestion.Config{
		ChunkSizeChars:       cfg.Ingestion.ChunkSizeChars,
		ChunkOverlapChars:    cfg.Ingestion.ChunkOverlapChars,
		MinConceptSimilarity: cfg.Ingestion.MinConceptSimilarity,
	}
	pipeline := ingestion.New(facade, extractor, embedSvc, vocab, artifacts, tracker, q, clk, ingestCfg, logger)
	pool.Register(queue.TypeIngestion, pipeline)

	restoreHandler := maintenance.NewRestoreHandler(facade, blobs, guard, tracker, logger)
	pool.Register(queue.TypeRestore, restoreHandler)

	backupHandler := maintenance.NewBackupHandler(facade, blobs, clk)
	pool.Register(queue.TypeBackup, backupHandler)

	cleanupHandler := maintenance.NewArtifactCleanupHandler(artifacts)
	pool.Register(queue.TypeArtifactCleanup, cleanupHandler)

	metricsHandler := maintenance.NewMetricsRefreshHandler(tracker)
	for _, t := range []queue.Type{
		queue.TypeProjectionRefresh,
		queue.TypeVocabConsolidation,
		queue.TypeCategoryRefresh,
		queue.TypeEpistemicRemeasure,
		queue.TypeOntologyAnnealing,
		queue.TypeEmbeddingRegen,
	} {
		pool.Register(t, metricsHandler)
	}

	rep := reaper.New(q, logger)
	go rep.Run(ctx)

	logger.Info("worker pool starting")
	if err := pool.Run(ctx); err != nil {
		logger.Fatal("worker pool error", obs.Err(err))
	}
}

func runScheduler(ctx context.Context, q *queue.Queue, tracker *epoch.Tracker, interval time.Duration, clk clock.Clock, logger *zap.Logger) {
	now := clk.Now()
	var jobs []*scheduler.ScheduledJob
	for _, spec := range scheduler.DefaultScheduledJobs() {
		job, err := scheduler.NewScheduledJob(spec.Name, spec.LauncherClass, spec.ScheduleCron, 3, now)
		if err != nil {
			logger.Fatal("invalid scheduled job cron expression", obs.String("name", spec.Name), obs.Err(err))
		}
		jobs = append(jobs, job)
	}

	dispatcher := scheduler.NewDispatcher(jobs, scheduler.Registry(q, tracker), clk, logger)
	logger.Info("scheduled-jobs dispatcher starting", obs.Int("jobs", len(jobs)))
	dispatcher.Run(ctx, interval)
}
