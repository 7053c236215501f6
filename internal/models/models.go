package models

import (
	"path"
	"strings"
	"time"
)

// DocumentType is the declared format of an uploaded file.
type DocumentType string

const (
	DocumentTypePDF   DocumentType = "pdf"
	DocumentTypeSlide DocumentType = "slideshow"
	DocumentTypeWord  DocumentType = "word-document"
	DocumentTypeImage DocumentType = "image"
)

// DetectDocumentType infers a document type from its content type and file
// extension. It returns "" when neither is recognised.
func DetectDocumentType(fileName, contentType string) DocumentType {
	ct := strings.ToLower(contentType)
	ext := strings.ToLower(path.Ext(fileName))
	switch {
	case ct == "application/pdf" || ext == ".pdf":
		return DocumentTypePDF
	case strings.Contains(ct, "presentation") || ext == ".pptx":
		return DocumentTypeSlide
	case strings.Contains(ct, "wordprocessing") || ct == "application/msword" || ext == ".docx" || ext == ".doc":
		return DocumentTypeWord
	case strings.HasPrefix(ct, "image/"):
		return DocumentTypeImage
	}
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff":
		return DocumentTypeImage
	}
	return ""
}

// Visibility controls who may see a document. Enforcement lives outside the
// knowledge base.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilitySubject Visibility = "subject"
	VisibilityPublic  Visibility = "public"
)

// Document represents one uploaded study material.
type Document struct {
	ID          string       `db:"id" json:"id"`
	OwnerID     string       `db:"owner_id" json:"owner_id"`
	SubjectID   string       `db:"subject_id" json:"subject_id"`
	Title       string       `db:"title" json:"title"`
	Description string       `db:"description" json:"description"`
	Type        DocumentType `db:"doc_type" json:"type"`
	FileName    string       `db:"file_name" json:"file_name"`
	StorageURL  string       `db:"storage_url" json:"storage_url"` // S3 URL
	FileSize    int64        `db:"file_size" json:"file_size"`
	ContentType string       `db:"content_type" json:"content_type"`

	Content    *ExtractedContent `db:"extracted_content" json:"extracted_content,omitempty"`
	Processing ProcessingState   `json:"processing"`

	Visibility Visibility `db:"visibility" json:"visibility"`
	SharedWith []string   `db:"shared_with" json:"shared_with"`

	ViewCount      int        `db:"view_count" json:"view_count"`
	LastAccessedAt *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`

	Deleted   bool      `db:"is_deleted" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ExtractedContent is what ingestion learned about a document. While a
// document is being processed it carries the raw page texts; once completed
// they are dropped and only the Summary is kept.
type ExtractedContent struct {
	FullText     string          `json:"full_text,omitempty"`
	Pages        []Page          `json:"pages,omitempty"`
	WordCount    int             `json:"word_count"`
	Language     Language        `json:"language"`
	PageCount    int             `json:"page_count"`
	Author       string          `json:"author,omitempty"`
	CreatedDate  *time.Time      `json:"created_date,omitempty"`
	ModifiedDate *time.Time      `json:"modified_date,omitempty"`
	Summary      *ContentSummary `json:"summary,omitempty"`
}

// ContentSummary is retained after ingestion in place of the raw text.
type ContentSummary struct {
	PageCount         int     `json:"page_count"`
	TotalChunks       int     `json:"total_chunks"`
	AvgTokensPerChunk float64 `json:"avg_tokens_per_chunk"`
}

// Page is one page-record produced by extraction.
type Page struct {
	Number int             `json:"page_number"`
	Text   string          `json:"text"`
	Images []EmbeddedImage `json:"images,omitempty"`
}

// EmbeddedImage is an image found inside a page. Data is only held in memory
// between extraction and the OCR step.
type EmbeddedImage struct {
	Name       string  `json:"name,omitempty"`
	NeedsOCR   bool    `json:"needs_ocr"`
	OCRText    string  `json:"ocr_text"`
	Confidence float64 `json:"confidence"`
	Data       []byte  `json:"-"`
}

// Language is the coarse language classification of extracted text.
type Language string

const (
	LanguageChinese Language = "zh"
	LanguageEnglish Language = "en"
	LanguageMixed   Language = "mixed"
	LanguageNone    Language = "none"
)

// ChunkType records how a chunk boundary was decided.
type ChunkType string

const (
	ChunkTypeParagraph ChunkType = "paragraph"
	ChunkTypeSection   ChunkType = "section"
	ChunkTypeSemantic  ChunkType = "semantic"
)

// Chunk represents one embedded span of a document's text.
type Chunk struct {
	ID            string    `db:"id" json:"id"`
	DocumentID    string    `db:"document_id" json:"document_id"`
	ChunkIndex    int       `db:"chunk_index" json:"chunk_index"`
	Content       string    `db:"content" json:"content"`
	Embedding     []float32 `db:"embedding" json:"-"` // pgvector column
	Summary       string    `db:"summary" json:"summary,omitempty"`
	PageNumber    *int      `db:"page_number" json:"page_number,omitempty"`
	TokenCount    int       `db:"token_count" json:"token_count"`
	CharCount     int       `db:"char_count" json:"char_count"`
	Type          ChunkType `db:"chunk_type" json:"chunk_type"`
	SemanticScore float64   `db:"semantic_score" json:"semantic_score"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ChunkProposal is one chunk suggested by the chunker, before embedding.
type ChunkProposal struct {
	Content string `json:"content"`
	Summary string `json:"summary"`
}

// DocumentPatch carries the fields ingestion is allowed to change. Nil
// fields are left untouched.
type DocumentPatch struct {
	Processing *ProcessingState
	Content    *ExtractedContent
}

// DocumentSearch selects completed documents by keyword relevance.
type DocumentSearch struct {
	Keywords  []string
	SubjectID string
	Limit     int
}

// DocumentMatch is a document with its text-relevance score.
type DocumentMatch struct {
	Document Document
	Score    float64
}
