package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/studykb/internal/core"
	objectclient "github.com/markdave123-py/studykb/internal/core/object-client"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/models"
)

// Progress checkpoints reported while processing.
const (
	progressExtracted = 25
	progressOCR       = 40
	progressAnalyzed  = 45
	progressChunked   = 65
	progressEmbedded  = 85
	progressSaved     = 95
)

// pageProbeRunes is how much of a chunk's head is used to locate it in the
// corpus when attributing a page.
const pageProbeRunes = 40

// NewDocumentIngestor wires the pipeline and its job queue.
func NewDocumentIngestor(d Deps, cfg IngestConfig) *DocumentIngestor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultIngestConfig().Timeout
	}
	if cfg.OCRConcurrency <= 0 {
		cfg.OCRConcurrency = DefaultIngestConfig().OCRConcurrency
	}
	if cfg.Chunk.TargetTokens <= 0 {
		cfg.Chunk = DefaultChunkOptions()
	}
	if d.Tokens == nil {
		d.Tokens = ApproxCounter{}
	}
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	i := &DocumentIngestor{
		db:        d.DB,
		obj:       d.Objects,
		extractor: d.Extractor,
		ocr:       d.OCR,
		chunker:   d.Chunker,
		batcher:   d.Batcher,
		tokens:    d.Tokens,
		cfg:       cfg,
		log:       d.Log.Named("ingestor"),
		metrics:   d.Metrics,
		now:       time.Now,
	}
	i.queue = NewJobQueue(i.handle, i.handlePanic, i.log, d.Metrics)
	return i
}

// Start runs numWorkers workers over the job queue.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	i.log.Info("starting ingestion workers", logger.Int("workers", numWorkers))
	i.queue.Start(ctx, numWorkers)
}

// Enqueue schedules a pending document. It never blocks.
func (i *DocumentIngestor) Enqueue(docID string) {
	i.queue.Enqueue(docID)
}

// Wait blocks until every enqueued document has reached a terminal state or
// been dropped on shutdown.
func (i *DocumentIngestor) Wait() {
	i.queue.Wait()
}

// Reingest resets a completed or failed document to pending and enqueues it.
// Its chunks are replaced when the new run saves.
func (i *DocumentIngestor) Reingest(ctx context.Context, docID string) error {
	doc, err := i.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return err
	}
	if doc.Processing.Status == models.StatusPending {
		i.Enqueue(docID)
		return nil
	}
	st, err := doc.Processing.Reset()
	if err != nil {
		return err
	}
	if err := i.db.UpdateDocument(ctx, docID, models.DocumentPatch{Processing: &st}); err != nil {
		return &core.PersistenceError{Op: "reset status", Err: err}
	}
	i.log.Info("document reset for re-ingestion", logger.String("document_id", docID))
	i.Enqueue(docID)
	return nil
}

func (i *DocumentIngestor) handle(ctx context.Context, docID string) {
	if err := i.ProcessOne(ctx, docID); err != nil {
		i.log.Warn("document ingestion ended with error",
			logger.String("document_id", docID),
			logger.String("category", core.ErrorCategory(err)),
			logger.Error(err))
	}
}

func (i *DocumentIngestor) handlePanic(ctx context.Context, docID string, recovered any) {
	err := fmt.Errorf("panic: %v", recovered)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	doc, gerr := i.db.GetDocumentByID(ctx, docID)
	if gerr != nil {
		i.log.Error("could not load document after panic", logger.String("document_id", docID), logger.Error(gerr))
		return
	}
	i.fail(ctx, docID, doc.Processing, err)
}

// ProcessOne runs the whole pipeline for one document. Once started the run
// is not cancelled by ctx; it ends on completion, failure or the per-document
// timeout. Every failure after the document left pending is recorded on the
// document and also returned.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, docID string) error {
	proctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.Timeout)
	defer cancel()

	doc, err := i.db.GetDocumentByID(proctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	st, err := doc.Processing.Start(i.now())
	if err != nil {
		i.log.Info("document not pending, skipping",
			logger.String("document_id", docID),
			logger.String("status", string(doc.Processing.Status)))
		return err
	}
	if err := i.saveState(proctx, docID, st); err != nil {
		return err
	}

	log := i.log.With(logger.String("document_id", docID))
	log.Info("ingestion started", logger.String("type", string(doc.Type)))
	started := i.now()

	final, err := i.run(proctx, doc, st, log)
	if err != nil {
		i.fail(proctx, docID, final, err)
		i.metrics.IngestFinished(string(models.StatusFailed), time.Since(started))
		log.Error("ingestion failed",
			logger.String("step", final.CurrentStep),
			logger.String("category", core.ErrorCategory(err)),
			logger.Error(err))
		return err
	}

	i.metrics.IngestFinished(string(models.StatusCompleted), time.Since(started))
	log.Info("ingestion completed", logger.Duration("took", time.Since(started)))
	return nil
}

// run returns the last state it reached so a failure can be recorded on top
// of it with progress frozen.
func (i *DocumentIngestor) run(ctx context.Context, doc *models.Document, st models.ProcessingState, log logger.Logger) (models.ProcessingState, error) {
	advance := func(step string, progress int, msg string) error {
		next, err := st.Advance(step, progress, msg)
		if err != nil {
			return err
		}
		if err := i.saveState(ctx, doc.ID, next); err != nil {
			return err
		}
		st = next
		return nil
	}

	// 1. Extract.
	stepStart := time.Now()
	extracted, err := i.fetchAndExtract(ctx, doc)
	if err != nil {
		return st, err
	}
	i.metrics.ObserveStep(models.StepExtracting, time.Since(stepStart))
	pages := extracted.Pages
	if len(pages) == 0 && strings.TrimSpace(extracted.FullText) != "" {
		pages = []models.Page{{Number: 1, Text: extracted.FullText}}
	}
	images := countOCRImages(pages)
	if err := advance(models.StepOCR, progressExtracted, fmt.Sprintf("Extracted %d pages, recognising %d images", len(pages), images)); err != nil {
		return st, err
	}

	// 2. OCR embedded images, each in isolation.
	stepStart = time.Now()
	i.ocrImages(ctx, pages, ocrHints(DetectLanguage(extracted.FullText)), log)
	i.metrics.ObserveStep(models.StepOCR, time.Since(stepStart))
	if err := advance(models.StepAnalyzing, progressOCR, "Analysing text"); err != nil {
		return st, err
	}

	// 3. Corpus, word count and language, persisted right away.
	corpus := buildCorpus(pages, extracted.FullText)
	content := models.ExtractedContent{
		FullText:     corpus.text,
		Pages:        pages,
		WordCount:    WordCount(corpus.text),
		Language:     DetectLanguage(corpus.text),
		PageCount:    extracted.Metadata.PageCount,
		Author:       extracted.Metadata.Author,
		CreatedDate:  extracted.Metadata.CreatedDate,
		ModifiedDate: extracted.Metadata.ModifiedDate,
	}
	if content.PageCount == 0 {
		content.PageCount = len(pages)
	}
	if err := i.db.UpdateDocument(ctx, doc.ID, models.DocumentPatch{Content: &content}); err != nil {
		return st, &core.PersistenceError{Op: "save metadata", Err: err}
	}
	if err := advance(models.StepChunking, progressAnalyzed, "Splitting into chunks"); err != nil {
		return st, err
	}

	// 4. Chunk.
	var (
		chunks []models.Chunk
		source ChunkSource
	)
	if strings.TrimSpace(corpus.text) == "" {
		log.Warn("no text content extracted")
	} else {
		stepStart = time.Now()
		var proposals []models.ChunkProposal
		proposals, source = i.chunker.Chunk(ctx, corpus.text, i.cfg.Chunk)
		i.metrics.ObserveStep(models.StepChunking, time.Since(stepStart))
		chunks = i.buildChunks(doc.ID, proposals, source, corpus)
		log.Info("chunked", logger.String("source", string(source)), logger.Int("chunks", len(chunks)))
	}
	if err := advance(models.StepEmbedding, progressChunked, fmt.Sprintf("Embedding %d chunks", len(chunks))); err != nil {
		return st, err
	}

	// 5. Embed. Nothing is written unless every batch succeeds.
	if len(chunks) > 0 {
		stepStart = time.Now()
		texts := make([]string, len(chunks))
		for k := range chunks {
			texts[k] = chunks[k].Content
		}
		vecs, err := i.batcher.EmbedAll(ctx, texts)
		if err != nil {
			return st, err
		}
		for k := range chunks {
			chunks[k].Embedding = vecs[k]
		}
		i.metrics.ObserveStep(models.StepEmbedding, time.Since(stepStart))
	}
	if err := advance(models.StepSaving, progressEmbedded, "Saving chunks"); err != nil {
		return st, err
	}

	// 6. Replace chunks atomically.
	stepStart = time.Now()
	if err := i.db.ReplaceDocumentChunks(ctx, doc.ID, chunks); err != nil {
		return st, &core.PersistenceError{Op: "insert chunks", Err: err}
	}

	// 7 and 8. Compact the stored content and complete in a single write.
	done, err := st.Complete(i.now(), completionMessage(len(chunks)))
	if err != nil {
		return st, err
	}
	content.FullText = ""
	content.Pages = nil
	content.Summary = summarize(content.PageCount, chunks)
	if err := i.db.UpdateDocument(ctx, doc.ID, models.DocumentPatch{Processing: &done, Content: &content}); err != nil {
		if derr := i.db.DeleteChunksByDocument(ctx, doc.ID); derr != nil {
			log.Error("could not remove chunks after failed completion", logger.Error(derr))
		}
		// Report the failure at the saving checkpoint.
		if next, aerr := st.Advance(models.StepSaving, progressSaved, "Saving chunks"); aerr == nil {
			st = next
		}
		return st, &core.PersistenceError{Op: "complete document", Err: err}
	}
	i.metrics.ObserveStep(models.StepSaving, time.Since(stepStart))
	if source != "" {
		i.metrics.Chunked(string(source), len(chunks))
	}
	return done, nil
}

func (i *DocumentIngestor) fetchAndExtract(ctx context.Context, doc *models.Document) (*core.ExtractedText, error) {
	bucket, key, err := objectclient.ParseStorageURL(doc.StorageURL)
	if err != nil {
		return nil, &core.StorageError{Key: doc.StorageURL, Err: err}
	}
	data, err := i.obj.GetFile(ctx, bucket, key)
	if err != nil {
		var se *core.StorageError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &core.StorageError{Key: key, Err: err}
	}
	return i.extractor.Extract(ctx, doc, data)
}

type imageRef struct{ page, image int }

// ocrImages fills in every image flagged for OCR. A failing image keeps empty
// text and zero confidence; it never fails the document.
func (i *DocumentIngestor) ocrImages(ctx context.Context, pages []models.Page, hints []string, log logger.Logger) {
	var refs []imageRef
	for p := range pages {
		for k := range pages[p].Images {
			if pages[p].Images[k].NeedsOCR {
				refs = append(refs, imageRef{p, k})
			}
		}
	}
	if len(refs) == 0 {
		return
	}
	if i.ocr == nil {
		log.Warn("images need OCR but no OCR service is configured", logger.Int("images", len(refs)))
		return
	}

	var g errgroup.Group
	g.SetLimit(i.cfg.OCRConcurrency)
	for _, ref := range refs {
		ref := ref
		img := &pages[ref.page].Images[ref.image]
		g.Go(func() error {
			res, err := i.ocr.Recognize(ctx, img.Data, hints)
			img.Data = nil
			if err != nil {
				img.OCRText, img.Confidence = "", 0
				i.metrics.OCRImage(false)
				log.Warn("ocr failed for image",
					logger.Int("page", pages[ref.page].Number),
					logger.Error(&core.OcrError{Image: img.Name, Err: err}))
				return nil
			}
			img.OCRText = strings.TrimSpace(res.Text)
			img.Confidence = res.Confidence
			i.metrics.OCRImage(true)
			return nil
		})
	}
	_ = g.Wait()
}

func countOCRImages(pages []models.Page) int {
	n := 0
	for _, p := range pages {
		for _, img := range p.Images {
			if img.NeedsOCR {
				n++
			}
		}
	}
	return n
}

// corpus is the concatenated document text with the byte offset at which
// each page record starts.
type corpus struct {
	text   string
	starts []int
	pages  []int
}

// buildCorpus joins page texts and, after each page, the OCR text of its
// images. Image text identical to its page text is not repeated.
func buildCorpus(pages []models.Page, fullText string) corpus {
	if len(pages) == 0 {
		return corpus{text: strings.TrimSpace(fullText)}
	}
	var (
		b strings.Builder
		c corpus
	)
	write := func(s string) {
		if s = strings.TrimSpace(s); s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s)
	}
	for _, p := range pages {
		c.starts = append(c.starts, b.Len())
		c.pages = append(c.pages, p.Number)
		write(p.Text)
		for _, img := range p.Images {
			if img.OCRText != p.Text {
				write(img.OCRText)
			}
		}
	}
	c.text = b.String()
	return c
}

// pageAt maps a byte offset to the page record it falls in.
func (c corpus) pageAt(offset int) (int, bool) {
	if len(c.starts) == 0 {
		return 0, false
	}
	k := sort.Search(len(c.starts), func(j int) bool { return c.starts[j] > offset }) - 1
	if k < 0 {
		return 0, false
	}
	return c.pages[k], true
}

// locate finds the chunk's head in the corpus, searching forward from the
// previous chunk first so repeated passages resolve in reading order.
func (c corpus) locate(content string, from int) (int, bool) {
	probe := strings.TrimSpace(content)
	if utf8.RuneCountInString(probe) > pageProbeRunes {
		probe = string([]rune(probe)[:pageProbeRunes])
	}
	if probe == "" {
		return 0, false
	}
	if from < len(c.text) {
		if idx := strings.Index(c.text[from:], probe); idx >= 0 {
			return from + idx, true
		}
	}
	if idx := strings.Index(c.text, probe); idx >= 0 {
		return idx, true
	}
	return 0, false
}

func (i *DocumentIngestor) buildChunks(docID string, proposals []models.ChunkProposal, source ChunkSource, c corpus) []models.Chunk {
	kind, score := models.ChunkTypeSemantic, 1.0
	if source == SourceFallback {
		kind, score = models.ChunkTypeParagraph, 0.5
	}

	out := make([]models.Chunk, 0, len(proposals))
	from := 0
	for _, p := range proposals {
		content := strings.TrimSpace(p.Content)
		if content == "" {
			continue
		}
		ch := models.Chunk{
			ID:            uuid.NewString(),
			DocumentID:    docID,
			ChunkIndex:    len(out),
			Content:       content,
			Summary:       p.Summary,
			TokenCount:    i.tokens.Count(content),
			CharCount:     utf8.RuneCountInString(content),
			Type:          kind,
			SemanticScore: score,
		}
		if off, ok := c.locate(content, from); ok {
			from = off + 1
			if page, ok := c.pageAt(off); ok {
				ch.PageNumber = &page
			}
		}
		out = append(out, ch)
	}
	return out
}

func summarize(pageCount int, chunks []models.Chunk) *models.ContentSummary {
	s := &models.ContentSummary{PageCount: pageCount, TotalChunks: len(chunks)}
	if len(chunks) > 0 {
		total := 0
		for _, ch := range chunks {
			total += ch.TokenCount
		}
		s.AvgTokensPerChunk = float64(total) / float64(len(chunks))
	}
	return s
}

func completionMessage(n int) string {
	if n == 0 {
		return "Processed, no text content found"
	}
	return fmt.Sprintf("Processed into %d chunks", n)
}

func (i *DocumentIngestor) saveState(ctx context.Context, docID string, st models.ProcessingState) error {
	if err := i.db.UpdateDocument(ctx, docID, models.DocumentPatch{Processing: &st}); err != nil {
		return &core.PersistenceError{Op: "update status", Err: err}
	}
	return nil
}

// fail records err on the document. It uses its own deadline so a run that
// timed out still gets its failure written.
func (i *DocumentIngestor) fail(ctx context.Context, docID string, st models.ProcessingState, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	failed, err := st.Fail(i.now(), core.ErrorCategory(cause), cause.Error())
	if err != nil {
		i.log.Error("cannot mark document failed", logger.String("document_id", docID), logger.Error(err))
		return
	}
	if err := i.db.UpdateDocument(wctx, docID, models.DocumentPatch{Processing: &failed}); err != nil {
		i.log.Error("could not record failure", logger.String("document_id", docID), logger.Error(err))
	}
}
