package ingestion_engine

import (
	"time"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/metrics"
)

// IngestConfig tunes the pipeline.
//
// Chunk:          token bounds handed to the semantic chunker.
// Timeout:        deadline for one document, from fetch to final write.
// OCRConcurrency: embedded images recognised in parallel within a document.
type IngestConfig struct {
	Chunk          ChunkOptions
	Timeout        time.Duration
	OCRConcurrency int
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Chunk:          DefaultChunkOptions(),
		Timeout:        10 * time.Minute,
		OCRConcurrency: 4,
	}
}

// Deps are the collaborators of a DocumentIngestor.
type Deps struct {
	DB        core.DbClient
	Objects   core.ObjectClient
	Extractor core.DocumentExtractor
	OCR       core.OCRProvider
	Chunker   *SemanticChunker
	Batcher   *EmbeddingBatcher
	Tokens    TokenCounter
	Log       logger.Logger
	Metrics   *metrics.Metrics
}

// DocumentIngestor runs documents through extraction, OCR, chunking,
// embedding and persistence, driven by a bounded worker pool.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	extractor core.DocumentExtractor
	ocr       core.OCRProvider
	chunker   *SemanticChunker
	batcher   *EmbeddingBatcher
	tokens    TokenCounter
	cfg       IngestConfig
	log       logger.Logger
	metrics   *metrics.Metrics
	queue     *JobQueue
	now       func() time.Time
}
