// Command api serves the member-facing search endpoint and the operator
// indexing endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pavilion-app/pavilion-search/engine/answer"
	"github.com/pavilion-app/pavilion-search/engine/embedding"
	"github.com/pavilion-app/pavilion-search/engine/query"
	"github.com/pavilion-app/pavilion-search/engine/semantic"
	"github.com/pavilion-app/pavilion-search/pkg/cache"
	"github.com/pavilion-app/pavilion-search/pkg/docstore"
	"github.com/pavilion-app/pavilion-search/pkg/metrics"
	"github.com/pavilion-app/pavilion-search/pkg/mid"
	"github.com/pavilion-app/pavilion-search/pkg/natsutil"
	"github.com/pavilion-app/pavilion-search/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	MetricsPort  int
	Neo4jURL     string
	Neo4jUser    string
	Neo4jPass    string
	QdrantURL    string
	Collection   string
	NATSURL      string
	OpenAIKey    string
	OpenAIBase   string
	EmbedModel   string
	ChatModel    string
	MediaBaseURL string
	CORSOrigin   string

	RateQuota    int
	RateWindow   time.Duration
	QueryTimeout time.Duration
	TopK         int
	ResultTTL    time.Duration
	EmbedTTL     time.Duration
}

func loadConfig() Config {
	return Config{
		Port:         envOr("PORT", "8080"),
		MetricsPort:  envIntOr("METRICS_PORT", 9090),
		Neo4jURL:     envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:    envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:    envOr("NEO4J_PASS", "password"),
		QdrantURL:    envOr("QDRANT_URL", "localhost:6334"),
		Collection:   envOr("QDRANT_COLLECTION", "pavilion_content"),
		NATSURL:      envOr("NATS_URL", nats.DefaultURL),
		OpenAIKey:    envOr("OPENAI_API_KEY", ""),
		OpenAIBase:   envOr("OPENAI_BASE_URL", ""),
		EmbedModel:   envOr("EMBED_MODEL", embedding.DefaultModel),
		ChatModel:    envOr("CHAT_MODEL", answer.DefaultModel),
		MediaBaseURL: envOr("MEDIA_BASE_URL", ""),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
		RateQuota:    envIntOr("RATE_QUOTA", 30),
		RateWindow:   envDurOr("RATE_WINDOW", time.Minute),
		QueryTimeout: envDurOr("QUERY_TIMEOUT", query.DefaultTimeout),
		TopK:         envIntOr("SEARCH_TOP_K", query.DefaultTopK),
		ResultTTL:    envDurOr("RESULT_CACHE_TTL", 15*time.Minute),
		EmbedTTL:     envDurOr("EMBED_CACHE_TTL", 30*24*time.Hour),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	met.ServeAsync(cfg.MetricsPort)

	// --- Connect to Neo4j ---
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j verify: %w", err)
	}
	store := docstore.New(driver, cfg.MediaBaseURL)

	// --- Connect to Qdrant ---
	vectors, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectors.Close()

	// --- Connect to NATS (caches + messaging) ---
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("pavilion-search-api"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	embCache, err := cache.NewKV(nc, "pavilion-embeddings", cfg.EmbedTTL)
	if err != nil {
		return fmt.Errorf("embedding cache: %w", err)
	}
	resultCache, err := cache.NewKV(nc, "pavilion-results", cfg.ResultTTL)
	if err != nil {
		return fmt.Errorf("result cache: %w", err)
	}

	// --- OpenAI providers ---
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIKey)}
	if cfg.OpenAIBase != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.OpenAIBase))
	}
	oai := openai.NewClient(clientOpts...)

	embedder := embedding.New(embedding.NewOpenAIProvider(oai), embCache, embedding.Options{
		Model: cfg.EmbedModel,
		Log:   logger,
	})

	// --- Rate limiter ---
	limiter := resilience.NewKeyedLimiter(resilience.LimiterOpts{
		Quota:  cfg.RateQuota,
		Window: cfg.RateWindow,
	})
	go pruneLoop(ctx, limiter)

	// --- Query pipeline ---
	synth := &guardedSynth{
		breaker: resilience.NewBreaker("synthesis", resilience.BreakerOpts{Log: logger}),
		inner:   answer.NewOpenAI(oai, cfg.ChatModel),
	}
	pipeline := query.New(
		limiter,
		resultCache,
		embedder,
		vectors,
		synth,
		store,
		store,
		&natsEvents{nc: nc},
		query.Options{
			TopK:    cfg.TopK,
			Timeout: cfg.QueryTimeout,
			Log:     logger,
			Metrics: met,
		},
	)

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/search/query", handleSearch(pipeline, logger))
	mux.HandleFunc("POST /api/admin/reindex", handleReindex(nc, logger))
	mux.HandleFunc("GET /api/admin/index-status", handleIndexStatus(store, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("pavilion-search-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// pruneLoop drops idle per-client limiter buckets so the map does not grow
// with every address ever seen.
func pruneLoop(ctx context.Context, limiter *resilience.KeyedLimiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune(30 * time.Minute)
		}
	}
}

// guardedSynth runs answer synthesis through a circuit breaker. An open
// breaker short-circuits with ErrCircuitOpen, which the pipeline treats like
// any other synthesis failure and degrades to sources.
type guardedSynth struct {
	breaker *resilience.Breaker
	inner   answer.Synthesizer
}

func (s *guardedSynth) Synthesize(ctx context.Context, q string, passages []string) (string, error) {
	var text string
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		text, err = s.inner.Synthesize(ctx, q, passages)
		return err
	})
	return text, err
}

// natsEvents publishes analytics events onto the bus.
type natsEvents struct {
	nc *nats.Conn
}

func (p *natsEvents) PublishQueryEvent(ctx context.Context, ev query.QueryEvent) error {
	return natsutil.Publish(ctx, p.nc, natsutil.SubjectQueryAnalytics, ev)
}
