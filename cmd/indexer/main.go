// Command indexer runs the content indexing daemon: a recurring incremental
// pass over every collection, plus on-demand reindex triggers from the
// message bus.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pavilion-app/pavilion-search/engine/chunker"
	"github.com/pavilion-app/pavilion-search/engine/embedding"
	"github.com/pavilion-app/pavilion-search/engine/index"
	"github.com/pavilion-app/pavilion-search/engine/semantic"
	"github.com/pavilion-app/pavilion-search/pkg/cache"
	"github.com/pavilion-app/pavilion-search/pkg/docstore"
	"github.com/pavilion-app/pavilion-search/pkg/metrics"
	"github.com/pavilion-app/pavilion-search/pkg/natsutil"
)

func main() {
	_ = godotenv.Load()

	var (
		neo4jURL    = flag.String("neo4j", envOr("NEO4J_URL", "neo4j://localhost:7687"), "Neo4j bolt URL")
		neo4jUser   = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", envOr("NEO4J_PASS", "password"), "Neo4j password")
		qdrantAddr  = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("QDRANT_COLLECTION", "pavilion_content"), "Qdrant collection name")
		natsURL     = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
		mediaBase   = flag.String("media-base", envOr("MEDIA_BASE_URL", ""), "public blob-store URL prefix")
		interval    = flag.Duration("interval", 6*time.Hour, "incremental indexing interval")
		maxTokens   = flag.Int("chunk-tokens", chunker.DefaultMaxTokens, "fresh tokens per chunk")
		overlap     = flag.Int("chunk-overlap", chunker.DefaultOverlap, "overlap tokens between chunks")
		workers     = flag.Int("workers", 4, "concurrent entities per collection")
		metricsPort = flag.Int("metrics-port", 9091, "metrics listen port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	met.ServeAsync(*metricsPort)

	// Connect Neo4j.
	driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
	if err != nil {
		logger.Error("neo4j connect failed", "error", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		logger.Error("neo4j verify failed", "error", err)
		os.Exit(1)
	}
	store := docstore.New(driver, *mediaBase)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("neo4j schema setup failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to Neo4j")

	// Connect Qdrant. The daemon often starts alongside the store, so gate
	// on health with exponential backoff before creating the collection.
	vectors, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		logger.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vectors.Close()
	if err := waitForVectorStore(ctx, vectors); err != nil {
		logger.Error("qdrant unreachable", "error", err)
		os.Exit(1)
	}
	if err := vectors.EnsureCollection(ctx, embedding.Dimension); err != nil {
		logger.Error("qdrant ensure collection failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to Qdrant", "collection", *collection, "dims", embedding.Dimension)

	// Connect NATS: embedding cache bucket + reindex trigger subject.
	nc, err := nats.Connect(*natsURL, nats.Name("pavilion-search-indexer"))
	if err != nil {
		logger.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	embCache, err := cache.NewKV(nc, "pavilion-embeddings", 30*24*time.Hour)
	if err != nil {
		logger.Error("embedding cache setup failed", "error", err)
		os.Exit(1)
	}

	oai := openai.NewClient(option.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
	embedder := embedding.New(embedding.NewOpenAIProvider(oai), embCache, embedding.Options{
		Model: envOr("EMBED_MODEL", embedding.DefaultModel),
		Log:   logger,
	})

	chunks, err := chunker.New(chunker.Options{MaxTokens: *maxTokens, Overlap: *overlap}, logger)
	if err != nil {
		logger.Error("chunker config invalid", "error", err)
		os.Exit(1)
	}

	coordinator := index.New(store, &stateAdapter{Store: store}, chunks, embedder, vectors, index.Options{
		Workers: *workers,
		Log:     logger,
		Metrics: met,
	})

	scheduler := index.NewScheduler(coordinator, *interval, logger)

	// On-demand triggers from the API.
	sub, err := natsutil.Subscribe(nc, natsutil.SubjectReindex, func(_ context.Context, req index.ReindexRequest) {
		scheduler.Trigger(req)
	})
	if err != nil {
		logger.Error("reindex subscription failed", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	logger.Info("indexer starting", "interval", *interval)
	scheduler.Run(ctx)
	logger.Info("indexer stopped")
}

// waitForVectorStore retries the health probe with exponential backoff until
// the store answers or the budget runs out.
func waitForVectorStore(ctx context.Context, vectors *semantic.Store) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(func() error {
		return vectors.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// stateAdapter maps the coordinator's run records onto the docstore schema.
type stateAdapter struct {
	*docstore.Store
}

func (a *stateAdapter) PutRun(ctx context.Context, run index.Run) error {
	return a.Store.PutRunRecord(ctx, docstore.RunRecord{
		Collection: run.Collection,
		Indexed:    run.Summary.Indexed,
		Skipped:    run.Summary.Skipped,
		Errors:     run.Summary.Errors,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
