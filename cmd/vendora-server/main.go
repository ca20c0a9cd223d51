// cmd/vendora-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vendora/internal/agents/masteranalyst"
	"vendora/internal/agents/orchestrator"
	"vendora/internal/agents/specialist"
	"vendora/internal/common/config"
	"vendora/internal/common/database"
	"vendora/internal/common/logger"
	"vendora/internal/common/observability"
	"vendora/internal/flow"
	"vendora/internal/ingest"
	"vendora/internal/llm"
	"vendora/internal/notify"
	"vendora/internal/query"
	"vendora/internal/store"
	"vendora/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting vendora server...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New("vendora-server")
	defer obs.Shutdown()

	tracing, err := observability.NewTracing("vendora-server", os.Getenv("JAEGER_COLLECTOR_ENDPOINT"))
	if err != nil {
		zapLog.Fatal("tracing init failed", zap.Error(err))
	}
	defer tracing.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Data source registry ---
	reg, err := registry.LoadRegistry(cfg.Registry.Path)
	if err != nil {
		zapLog.Warn("registry load failed, using built-in sources", zap.Error(err))
		reg = registry.Default()
	}

	// --- Model client ---
	model, err := llm.New(cfg.Model, log)
	if err != nil {
		zapLog.Fatal("model client init failed", zap.Error(err))
	}

	// --- Stores and query engine ---
	archive := store.NewInsightArchive(esClient.Client, cfg.Database.Elasticsearch.InsightIndex, log)
	memory := store.NewMemoryStore(redis.GetClient(), log)
	builder := query.NewBuilder(reg, cfg.Query.MaxRows)
	engine := query.NewEngine(pg.GetDB(), redis, log, cfg.Query)

	// --- Agent tiers ---
	orch := orchestrator.New(model, reg, log)
	standard := specialist.New(flow.AgentDataAnalyst, cfg.Agents.Standard, model, builder, engine, archive, memory, log)
	senior := specialist.New(flow.AgentSeniorAnalyst, cfg.Agents.Senior, model, builder, engine, archive, memory, log)
	analyst := masteranalyst.New(cfg.Validation, model, engine, log)
	defer analyst.LogAuditSummary()

	manager := flow.NewManager(cfg.Flow, orch, []flow.Specialist{standard, senior}, analyst, log)

	// --- Post-delivery hooks ---
	manager.AddDeliveryHook(func(ctx context.Context, task *flow.AnalyticalTask, resp *flow.Response) {
		doc := store.InsightDocument{
			TaskID:          task.ID,
			DealershipID:    task.DealershipID,
			Kind:            "insight",
			Summary:         resp.Summary,
			DetailedInsight: resp.DetailedInsight,
			Recommendations: resp.Recommendations,
			QualityScore:    resp.QualityScore,
			Complexity:      string(task.Complexity),
		}
		if err := archive.Store(ctx, doc); err != nil {
			log.Error("Insight archive write failed", map[string]interface{}{
				"taskId": task.ID,
				"error":  err.Error(),
			})
		}
	})
	manager.AddDeliveryHook(func(ctx context.Context, task *flow.AnalyticalTask, resp *flow.Response) {
		obs.RecordTaskProcessed(ctx, string(task.State))
		obs.RecordStageDuration(ctx, "pipeline", time.Since(task.CreatedAt))
	})
	manager.AddDeliveryHook(func(ctx context.Context, task *flow.AnalyticalTask, resp *flow.Response) {
		interaction := store.Interaction{
			TaskID:     task.ID,
			Query:      task.UserQuery,
			Context:    task.Metadata,
			Complexity: string(task.Complexity),
			State:      string(task.State),
			Timestamp:  time.Now().UTC(),
		}
		if err := memory.StoreInteraction(ctx, task.DealershipID, interaction); err != nil {
			log.Error("Interaction memory write failed", map[string]interface{}{
				"taskId": task.ID,
				"error":  err.Error(),
			})
		}
	})

	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		notifier, err := notify.NewNotifier(ctx, cfg.Notifications, pg.GetDB(), log)
		if err != nil {
			zapLog.Fatal("notifier init failed", zap.Error(err))
		}
		manager.AddDeliveryHook(notifier.DeliveryHook())
		zapLog.Info("Delivery notifications enabled")
	}

	// --- Ingestion webhook ---
	var ingestHandler *ingest.Handler
	if cfg.Ingest.Enabled {
		ingestHandler = ingest.NewHandler(cfg.Ingest, archive, log, ingest.NewCSVProcessor())
		zapLog.Info("Report ingestion enabled")
	}

	// --- API server ---
	api := newAPIServer(manager, ingestHandler, log)
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.routes(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}
	go func() {
		zapLog.Info("API server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("API server failed", zap.Error(err))
		}
	}()

	// --- Health & Metrics Server ---
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", api.handleHealth)
		mux.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.MetricsAddress))
		if err := http.ListenAndServe(cfg.Server.MetricsAddress, mux); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("API server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Vendora server stopped gracefully")
}
