// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/markdave123-py/studykb/internal/config"
	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/core/cache"
	db "github.com/markdave123-py/studykb/internal/core/database"
	"github.com/markdave123-py/studykb/internal/core/ingestion_engine"
	"github.com/markdave123-py/studykb/internal/core/llm"
	objectclient "github.com/markdave123-py/studykb/internal/core/object-client"
	"github.com/markdave123-py/studykb/internal/core/ocr"
	"github.com/markdave123-py/studykb/internal/core/retrieval"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/metrics"
	"github.com/markdave123-py/studykb/internal/services"
)

type App struct {
	Config    *config.Config
	Log       logger.Logger
	Metrics   *metrics.Metrics
	DBClient  core.DbClient
	Objects   core.ObjectClient
	Ingestor  *ingestion_engine.DocumentIngestor
	Knowledge *services.KnowledgeService

	closers []io.Closer
}

func NewApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg, Log: log}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(reg)

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient)
	log.Info("database initialized and ready")

	s3Client, err := objectclient.NewS3Client(appCtx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Objects = s3Client

	limiter := llm.NewRateLimiter(cfg.LLMRequestsPerSecond)
	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel, limiter)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	a.closers = append(a.closers, embedder)

	gemini, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel, limiter)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the llm, %w", err)
	}
	a.closers = append(a.closers, gemini)
	model := llm.NewBreakerLLM(gemini, llm.DefaultBreakerConfig(), log)

	ocrProvider, err := newOCR(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	chunkCache, err := a.newChunkCache(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	tokens := ingestion_engine.NewTiktokenCounter(cfg.GenModel)
	extractor := ingestion_engine.NewExtractor(ingestion_engine.ExtractorConfig{
		WordSegmentation: cfg.WordSegmentation,
		MaxImages:        cfg.MaxOCRImages,
		ImageLanguages:   cfg.OCRLanguages,
	}, ocrProvider, log)

	a.Ingestor = ingestion_engine.NewDocumentIngestor(ingestion_engine.Deps{
		DB:        dbClient,
		Objects:   s3Client,
		Extractor: extractor,
		OCR:       ocrProvider,
		Chunker:   ingestion_engine.NewSemanticChunker(model, chunkCache, tokens, log),
		Batcher:   ingestion_engine.NewEmbeddingBatcher(embedder, cfg.EmbedBatchSize, a.Metrics),
		Tokens:    tokens,
		Log:       log,
		Metrics:   a.Metrics,
	}, ingestion_engine.IngestConfig{
		Chunk: ingestion_engine.ChunkOptions{
			MinTokens:    cfg.ChunkMinTokens,
			MaxTokens:    cfg.ChunkMaxTokens,
			TargetTokens: cfg.ChunkTargetTokens,
		},
		Timeout: cfg.IngestTimeout,
	})

	engine := retrieval.NewEngine(dbClient, model, retrieval.Config{
		CostPer1KTokens: cfg.AnswerCostPer1KTokens,
		Temperature:     retrieval.DefaultConfig().Temperature,
	}, log, a.Metrics)

	a.Knowledge = services.NewKnowledgeService(dbClient, s3Client, cfg.BucketName, a.Ingestor, engine, log)
	return a, nil
}

func newOCR(ctx context.Context, cfg *config.Config) (core.OCRProvider, error) {
	switch strings.ToLower(cfg.OCRProvider) {
	case "", "tesseract":
		tc := ocr.DefaultTesseractConfig()
		tc.Languages = cfg.OCRLanguages
		return ocr.NewTesseract(tc), nil
	case "textract":
		awsCfg, err := objectclient.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return ocr.NewTextract(awsCfg), nil
	default:
		return nil, fmt.Errorf("unknown OCR_PROVIDER %q", cfg.OCRProvider)
	}
}

func (a *App) newChunkCache(ctx context.Context, cfg *config.Config) (core.ChunkCache, error) {
	switch strings.ToLower(cfg.ChunkCache) {
	case "", "lru":
		return cache.NewLRU(cfg.ChunkCacheSize, cfg.ChunkCacheTTL), nil
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, client)
		return cache.NewRedis(client, cfg.ChunkCacheTTL, a.Log), nil
	case "none", "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown CHUNK_CACHE %q", cfg.ChunkCache)
	}
}

// Handler builds the HTTP handler over the knowledge service.
func (a *App) Handler() http.Handler {
	return NewRouter(a.Knowledge, RouterConfig{
		JWTSecret: a.Config.JWTSecret,
		Metrics:   a.Metrics,
		Log:       a.Log,
	})
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Log.Warn("close failed", logger.Error(err))
		}
	}
	a.closers = nil
}
