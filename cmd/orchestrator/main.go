package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/example/bgp-orchestrator/internal/anomaly"
	"github.com/example/bgp-orchestrator/internal/api"
	"github.com/example/bgp-orchestrator/internal/breaker"
	"github.com/example/bgp-orchestrator/internal/config"
	"github.com/example/bgp-orchestrator/internal/db"
	"github.com/example/bgp-orchestrator/internal/external"
	"github.com/example/bgp-orchestrator/internal/feature"
	orchhttp "github.com/example/bgp-orchestrator/internal/http"
	"github.com/example/bgp-orchestrator/internal/incident"
	"github.com/example/bgp-orchestrator/internal/kafka"
	"github.com/example/bgp-orchestrator/internal/maintenance"
	"github.com/example/bgp-orchestrator/internal/metrics"
	"github.com/example/bgp-orchestrator/internal/peering"
	"github.com/example/bgp-orchestrator/internal/rules"
	"github.com/example/bgp-orchestrator/internal/stream"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "maintenance":
		runMaintenance()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: orchestrator <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve         Start the orchestrator service")
	fmt.Println("  migrate       Run database migrations")
	fmt.Println("  maintenance   Run retention maintenance (trim old rows, refresh summaries)")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// migrationsDir returns the path to the migrations directory relative to the binary.
func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

// catalogPrefix is the RPKI rule's Prefix resolver: a peering row carries
// no single announced prefix to validate, so the rule is a no-op until a
// resolver backed by announced-prefix data is wired in.
func catalogPrefix(rules.Candidate) (string, bool) { return "", false }

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting orchestrator",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
		zap.String("api_listen", cfg.Service.APIListen),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	tlsCfg, err := cfg.Broker.BuildTLSConfig()
	if err != nil {
		logger.Fatal("failed to build broker TLS config", zap.Error(err))
	}
	saslMech := cfg.Broker.BuildSASLMechanism()

	// --- External clients ---
	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.Breaker.RecoverySeconds) * time.Second,
	}
	retryCfg := external.RetryConfig{
		MaxAttempts: cfg.External.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.External.RetryBaseDelayMs) * time.Millisecond,
	}
	httpClient := &http.Client{Timeout: time.Duration(cfg.External.TimeoutSeconds) * time.Second}

	analyzer := external.NewConfigAnalyzerClient(cfg.External.AnalyzerEndpoint, httpClient, breakerCfg, retryCfg, logger.Named("external.analyzer"))
	liveState := external.NewLiveStatePoller(cfg.External.LiveStateEndpoint, httpClient, breakerCfg, retryCfg, logger.Named("external.live_state"))

	var prefixValidator *external.PrefixOriginValidator
	var rpkiValidator rules.RPKIValidator
	if cfg.External.PrefixOriginEnabled {
		prefixValidator = external.NewPrefixOriginValidator(
			cfg.External.PrefixOriginEndpoint,
			time.Duration(cfg.External.PrefixOriginCacheTTLS)*time.Second,
			httpClient, breakerCfg, retryCfg, logger.Named("external.prefix_origin"),
		)
		rpkiValidator = prefixValidator
	}

	// --- Rule evaluator ---
	evaluator := rules.NewEvaluator(
		rules.EvaluatorConfig{RuleTimeout: time.Duration(cfg.Rules.TimeoutSeconds) * time.Second},
		logger.Named("rules"),
		rules.DefaultRules(rpkiValidator, catalogPrefix)...,
	)

	// --- Peering catalog / mutation API backing store ---
	peeringStore := peering.New(pool, evaluator, []byte(cfg.Audit.HMACKey), logger.Named("peering"))

	// --- Feature sink / materializer ---
	memStore := feature.NewMemStore(time.Duration(cfg.Feature.TTLMinutes) * time.Minute)
	featureSink := feature.NewSink(memStore, logger.Named("feature.sink"))

	// --- Durable stream store ---
	streamStore := stream.NewStore(pool, logger.Named("stream.store"), cfg.Ingest.StoreRawBytes, cfg.Ingest.StoreRawBytesCompress)

	materializer := feature.NewMaterializer(streamStore, memStore, time.Duration(cfg.Feature.MaterializeInterval)*time.Minute, logger.Named("feature.materializer"))
	go materializer.Run(ctx)

	// --- Incident dispatcher ---
	var onCall incident.OnCallChannel
	if cfg.Incident.OnCallEnabled {
		onCall = incident.NewHTTPOnCallChannel(cfg.Incident.OnCallURL, cfg.Incident.OnCallToken, nil)
	}
	var chat incident.ChatChannel
	if cfg.Incident.ChatWebhookURL != "" {
		chat = incident.NewHTTPChatChannel(cfg.Incident.ChatWebhookURL, nil)
	}
	dispatcher := incident.NewDispatcher(onCall, chat, logger.Named("incident"))

	// --- Stream consumer + pipeline ---
	consumer, err := kafka.NewConsumer(
		cfg.Broker.Brokers, cfg.Broker.GroupID, cfg.Broker.Topics,
		cfg.Broker.ClientID, cfg.Broker.FetchMaxBytes, tlsCfg, saslMech, logger.Named("kafka"),
	)
	if err != nil {
		logger.Fatal("failed to create stream consumer", zap.Error(err))
	}
	defer consumer.Close()

	pipeline := stream.NewPipeline(
		stream.PipelineConfig{
			BatchSize:     cfg.Ingest.BatchSize,
			FlushInterval: time.Duration(cfg.Ingest.FlushIntervalMs) * time.Millisecond,
		},
		consumer, evaluator, peeringStore, streamStore, featureSink, dispatcher, logger.Named("stream.pipeline"),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		topic := ""
		if len(cfg.Broker.Topics) > 0 {
			topic = cfg.Broker.Topics[0]
		}
		if err := pipeline.Run(ctx, topic); err != nil && err != context.Canceled {
			logger.Error("stream pipeline stopped with error", zap.Error(err))
		}
	}()

	logger.Info("stream pipeline started", zap.Strings("topics", cfg.Broker.Topics), zap.String("group_id", cfg.Broker.GroupID))

	// --- Anomaly detection ---
	anomalyDetector := anomaly.NewDetector()
	anomalyStore := anomaly.NewStore(pool)

	// --- Health/readiness server ---
	breakers := []orchhttp.BreakerStatus{analyzer.Breaker(), liveState.Breaker()}
	if prefixValidator != nil {
		breakers = append(breakers, prefixValidator.Breaker())
	}
	healthServer := orchhttp.NewServer(cfg.Service.HTTPListen, pool, consumer, breakers, logger.Named("http"))
	if err := healthServer.Start(); err != nil {
		logger.Fatal("failed to start health server", zap.Error(err))
	}

	// --- Mutation API server ---
	apiHandler := api.NewServer(peeringStore, anomalyStore, anomalyDetector, logger.Named("api"))
	apiServer := &http.Server{Addr: cfg.Service.APIListen, Handler: apiHandler}
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	logger.Info("all components started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", zap.Error(err))
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", zap.Error(err))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all pipelines stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some goroutines may not have finished")
	}

	logger.Info("orchestrator stopped")
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("running migrations", zap.String("dsn", redactDSN(cfg.Postgres.DSN)))

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}

func runMaintenance() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("running retention maintenance",
		zap.Int("retention_days", cfg.Retention.Days),
		zap.String("timezone", cfg.Retention.Timezone),
	)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	rm := maintenance.NewRetentionManager(pool, cfg.Retention.Days, cfg.Retention.Timezone, logger)
	if err := rm.Run(ctx); err != nil {
		logger.Fatal("maintenance failed", zap.Error(err))
	}

	logger.Info("retention maintenance complete")
}

func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		re := regexp.MustCompile(`password\s*=\s*\S+`)
		return re.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
