// Command evermemd is the composition root: it wires configuration,
// persistence backends, LLM/embedding/rerank capabilities, the work queue,
// and the internal/memory façade into a long-running worker that drains
// deliver_memorize requests off the partitioned queue, fed by the
// internal/ingress HTTP producer started alongside it.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"evermemcore/internal/config"
	"evermemcore/internal/ingress"
	"evermemcore/internal/llm/providers"
	"evermemcore/internal/memory"
	"evermemcore/internal/memory/agentic"
	"evermemcore/internal/memory/boundary"
	"evermemcore/internal/memory/cache"
	"evermemcore/internal/memory/episode"
	"evermemcore/internal/memory/errs"
	"evermemcore/internal/memory/eventlog"
	"evermemcore/internal/memory/fetchmem"
	"evermemcore/internal/memory/llmcap"
	"evermemcore/internal/memory/memcell"
	"evermemcore/internal/memory/profile"
	"evermemcore/internal/memory/queue"
	"evermemcore/internal/memory/retrieval"
	"evermemcore/internal/observability"
	"evermemcore/internal/persistence/databases"
	"evermemcore/internal/persistence/repo"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("evermemd")
	}
}

func run() error {
	_ = godotenv.Overload()

	logPath := getenv("EVERMEM_LOG_PATH", "")
	logLevel := getenv("EVERMEM_LOG_LEVEL", "info")
	observability.InitLogger(logPath, logLevel)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := errs.Validate(); err != nil {
		return fmt.Errorf("error taxonomy self-check: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	mgr, err := databases.NewManager(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("init database manager: %w", err)
	}
	defer mgr.Close()

	httpClient := observability.NewHTTPClient(nil)
	provider, err := providers.Build(ctx, cfg.LLM, httpClient)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}
	capability := llmcap.Build(cfg, provider)

	redisClient, err := newRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				log.Error().Err(cerr).Msg("error closing redis client")
			}
		}()
	}

	svc, err := buildService(cfg, mgr, capability)
	if err != nil {
		return fmt.Errorf("build memory service: %w", err)
	}

	if redisClient == nil {
		log.Warn().Msg("redis disabled, running without the delivery queue")
		httpServer := startIngress(ctx, svc, nil, cfg.Queue)
		<-ctx.Done()
		return shutdownIngress(httpServer)
	}

	q := queue.New(redisClient, cfg.Queue)
	lifecycle := queue.NewLifecycle(q)
	if err := lifecycle.Start(ctx); err != nil {
		return fmt.Errorf("start queue lifecycle: %w", err)
	}

	recent := cache.New(redisClient, cfg.Cache, cache.Windowed, "worker_recent_activity")

	w := &worker{
		queue:   q,
		svc:     svc,
		recent:  recent,
		workers: getenvInt("EVERMEM_WORKER_COUNT", 4),
	}

	httpServer := startIngress(ctx, svc, q, cfg.Queue)

	log.Info().Int("workers", w.workers).Msg("evermemd started")
	w.run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx, false); err != nil {
		log.Error().Err(err).Msg("queue lifecycle shutdown")
	}
	return shutdownIngress(httpServer)
}

// startIngress starts the deliver_memorize/retrieve_*/fetch_mem HTTP
// producer (internal/ingress) in the background, bound to
// EVERMEM_HTTP_ADDR. q may be nil (redis disabled); ingress.Server falls
// back to running deliver_memorize synchronously in that case.
func startIngress(ctx context.Context, svc *memory.Service, q *queue.Queue, cfg config.QueueConfig) *http.Server {
	addr := getenv("EVERMEM_HTTP_ADDR", ":8089")
	srv := &http.Server{Addr: addr, Handler: ingress.NewServer(svc, q, cfg)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("evermemd: ingress server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("evermemd: ingress listening")
	return srv
}

func shutdownIngress(srv *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRedisClient builds a go-redis/v9 UniversalClient from RedisConfig,
// returning nil (not an error) when Redis is disabled.
func newRedisClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// buildService assembles every extractor, engine, and repository behind the
// internal/memory façade from already-constructed backends.
func buildService(cfg config.Config, mgr databases.Manager, capability *llmcap.Capability) (*memory.Service, error) {
	entity := mgr.Entity
	vector := mgr.Vector
	search := mgr.Search

	memCellRepo := repo.NewMemCellRepo(entity)
	episodeRepo := repo.NewEpisodeRepo(entity, vector, search)
	eventLogRepo := repo.NewEventLogRepo(entity, vector, search)
	userProfileRepo := repo.NewUserProfileRepo(entity)
	groupProfileRepo := repo.NewGroupProfileRepo(entity)
	groupImportanceRepo := repo.NewGroupImportanceRepo(entity)
	clusterRepo := repo.NewClusterRepo(entity)

	boundaryDetector := boundary.New(capability, 5)
	cellExtractor := memcell.New(boundaryDetector, "conversation")
	buffer := memcell.NewBuffer()

	episodeExtractor := episode.New(capability, cfg.Vectorize.Model, cfg.TZ)
	eventLogExtractor := eventlog.New(capability)
	userProfileExtractor := profile.NewUserProfileExtractor(capability)
	groupProfileExtractor := profile.NewGroupProfileExtractor(capability, 20)

	backends := retrieval.SourceBackends{Vector: vector, Search: search, Store: entity}
	engine := retrieval.NewEngine(backends, backends, backends, capability, userProfileRepo)
	agenticLoop := agentic.New(engine, capability, cfg.Agentic)
	fetchSvc := fetchmem.New(entity)

	svc := memory.New(memory.Deps{
		Cells:  cellExtractor,
		Buffer: buffer,

		Episodes:      episodeExtractor,
		EventLogs:     eventLogExtractor,
		UserProfiles:  userProfileExtractor,
		GroupProfiles: groupProfileExtractor,

		Retrieval: engine,
		Agentic:   agenticLoop,
		Fetch:     fetchSvc,

		MemCellRepo:         memCellRepo,
		EpisodeRepo:         episodeRepo,
		EventLogRepo:        eventLogRepo,
		UserProfileRepo:     userProfileRepo,
		GroupProfileRepo:    groupProfileRepo,
		GroupImportanceRepo: groupImportanceRepo,
		ClusterRepo:         clusterRepo,
	})
	return svc, nil
}
