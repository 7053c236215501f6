package ingestion_engine

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/models"
)

const (
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimePptx = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// Word-processor page segmentation modes.
const (
	SegmentLines      = "line"
	SegmentParagraphs = "paragraph"
)

var slideSep = regexp.MustCompile(`\n\s*\n\s*\n`)

var _ core.DocumentExtractor = (*Extractor)(nil)

// ExtractorConfig tunes the format adapters.
type ExtractorConfig struct {
	WordSegmentation string
	// MaxImages caps how many embedded office images are queued for OCR.
	MaxImages int
	// ImageLanguages are OCR hints for image documents.
	ImageLanguages []string
}

// Extractor turns stored binaries into page records. PDF goes through
// ledongthuc/pdf, office formats through docconv, images through OCR.
type Extractor struct {
	cfg ExtractorConfig
	ocr core.OCRProvider
	log logger.Logger
}

func NewExtractor(cfg ExtractorConfig, ocr core.OCRProvider, log logger.Logger) *Extractor {
	if cfg.WordSegmentation == "" {
		cfg.WordSegmentation = SegmentLines
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 20
	}
	if len(cfg.ImageLanguages) == 0 {
		cfg.ImageLanguages = []string{"zh", "en"}
	}
	return &Extractor{cfg: cfg, ocr: ocr, log: log.Named("extractor")}
}

func (e *Extractor) Extract(ctx context.Context, doc *models.Document, data []byte) (*core.ExtractedText, error) {
	kind := resolveType(doc)
	var (
		out *core.ExtractedText
		err error
	)
	switch kind {
	case models.DocumentTypePDF:
		out, err = extractPDF(data)
	case models.DocumentTypeSlide:
		out, err = e.extractOffice(data, officeMime(doc.ContentType, mimePptx), splitSlides)
	case models.DocumentTypeWord:
		out, err = e.extractOffice(data, officeMime(doc.ContentType, mimeDocx), e.splitWord)
	case models.DocumentTypeImage:
		out, err = e.extractImage(ctx, doc, data)
	default:
		return nil, &core.ExtractionError{Format: string(doc.Type), Err: core.ErrUnsupportedType}
	}
	if err != nil {
		var ee *core.ExtractionError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, &core.ExtractionError{Format: string(kind), Err: err}
	}
	if out.Metadata.PageCount == 0 {
		out.Metadata.PageCount = len(out.Pages)
	}
	return out, nil
}

// resolveType trusts the declared type and falls back to content type and
// file extension for documents created without one.
func resolveType(doc *models.Document) models.DocumentType {
	if doc.Type != "" {
		return doc.Type
	}
	return models.DetectDocumentType(doc.FileName, doc.ContentType)
}

func officeMime(declared, def string) string {
	if declared == "" || declared == "application/octet-stream" {
		return def
	}
	return declared
}

func extractPDF(data []byte) (out *core.ExtractedText, err error) {
	// ledongthuc/pdf panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	n := r.NumPage()
	pages := make([]models.Page, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Number: i, Text: strings.TrimSpace(text)})
	}

	meta := core.ExtractMetadata{PageCount: n}
	if trailer := r.Trailer(); !trailer.IsNull() {
		if info := trailer.Key("Info"); !info.IsNull() {
			meta.Author = strings.TrimSpace(info.Key("Author").Text())
			meta.CreatedDate = parsePDFDate(info.Key("CreationDate").Text())
			meta.ModifiedDate = parsePDFDate(info.Key("ModDate").Text())
		}
	}

	return &core.ExtractedText{FullText: joinPages(pages), Pages: pages, Metadata: meta}, nil
}

// parsePDFDate reads "D:YYYYMMDDHHmmSS" with an optional zone suffix such
// as "Z" or "+08'00'".
func parsePDFDate(s string) *time.Time {
	s = strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(s), "D:"), "'", "")
	if t, err := time.Parse("20060102150405Z0700", s); err == nil {
		return &t
	}
	for _, l := range []string{"20060102150405", "20060102"} {
		if len(s) >= len(l) {
			if t, err := time.Parse(l, s[:len(l)]); err == nil {
				return &t
			}
		}
	}
	return nil
}

func (e *Extractor) extractOffice(data []byte, mime string, split func(string) []string) (*core.ExtractedText, error) {
	res, err := docconv.Convert(bytes.NewReader(data), mime, false)
	if err != nil {
		return nil, err
	}

	var pages []models.Page
	for i, seg := range split(res.Body) {
		pages = append(pages, models.Page{Number: i + 1, Text: seg})
	}

	images := e.harvestImages(data)
	if len(images) > 0 {
		if len(pages) == 0 {
			pages = append(pages, models.Page{Number: 1})
		}
		pages[0].Images = images
	}

	out := &core.ExtractedText{FullText: joinPages(pages), Pages: pages}
	if author := res.Meta["Author"]; author != "" {
		out.Metadata.Author = author
	}
	return out, nil
}

// splitSlides splits on runs of two or more blank lines, and on single blank
// lines when that finds nothing to split.
func splitSlides(text string) []string {
	segs := nonEmpty(slideSep.Split(text, -1))
	if len(segs) <= 1 {
		segs = nonEmpty(paragraphSep.Split(text, -1))
	}
	return segs
}

func (e *Extractor) splitWord(text string) []string {
	if e.cfg.WordSegmentation == SegmentParagraphs {
		return nonEmpty(paragraphSep.Split(text, -1))
	}
	return nonEmpty(strings.Split(text, "\n"))
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var ocrImageExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// harvestImages collects media embedded in an OOXML package, in name order,
// flagged for the pipeline's OCR step. Non-zip input has no media.
func (e *Extractor) harvestImages(data []byte) []models.EmbeddedImage {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}

	var files []*zip.File
	for _, f := range zr.File {
		dir := path.Dir(f.Name)
		if dir != "word/media" && dir != "ppt/media" {
			continue
		}
		if ocrImageExt[strings.ToLower(path.Ext(f.Name))] {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	if len(files) > e.cfg.MaxImages {
		e.log.Info("embedded images capped",
			logger.Int("found", len(files)), logger.Int("kept", e.cfg.MaxImages))
		files = files[:e.cfg.MaxImages]
	}

	out := make([]models.EmbeddedImage, 0, len(files))
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			e.log.Warn("skipping unreadable embedded image", logger.String("name", f.Name), logger.Error(err))
			continue
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			e.log.Warn("skipping unreadable embedded image", logger.String("name", f.Name), logger.Error(err))
			continue
		}
		out = append(out, models.EmbeddedImage{Name: path.Base(f.Name), NeedsOCR: true, Data: b})
	}
	return out
}

func (e *Extractor) extractImage(ctx context.Context, doc *models.Document, data []byte) (*core.ExtractedText, error) {
	if e.ocr == nil {
		return nil, errors.New("no OCR service configured")
	}
	res, err := e.ocr.Recognize(ctx, data, e.cfg.ImageLanguages)
	if err != nil {
		return nil, &core.ExtractionError{Format: string(models.DocumentTypeImage), Err: &core.OcrError{Image: doc.FileName, Err: err}}
	}
	text := strings.TrimSpace(res.Text)
	page := models.Page{
		Number: 1,
		Text:   text,
		Images: []models.EmbeddedImage{{
			Name:       doc.FileName,
			OCRText:    text,
			Confidence: res.Confidence,
		}},
	}
	return &core.ExtractedText{
		FullText: text,
		Pages:    []models.Page{page},
		Metadata: core.ExtractMetadata{PageCount: 1},
	}, nil
}

func joinPages(pages []models.Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
