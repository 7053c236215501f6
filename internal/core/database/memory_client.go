package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/models"
)

// Ensure MemoryClient implements the interface.
var _ core.DbClient = (*MemoryClient)(nil)

// MemoryClient is an in-memory implementation of core.DbClient.
type MemoryClient struct {
	mu     sync.RWMutex
	docs   map[string]models.Document
	chunks map[string][]models.Chunk
	now    func() time.Time
}

// NewMemoryClient creates an empty in-memory store.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		docs:   make(map[string]models.Document),
		chunks: make(map[string][]models.Chunk),
		now:    time.Now,
	}
}

func (m *MemoryClient) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil {
		return fmt.Errorf("nil document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	if doc.Processing.Status == "" {
		doc.Processing = models.NewProcessingState()
	}
	if doc.Visibility == "" {
		doc.Visibility = models.VisibilityPrivate
	}
	now := m.now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	m.docs[doc.ID] = cloneDocument(*doc)
	return nil
}

func (m *MemoryClient) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok || d.Deleted {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	out := cloneDocument(d)
	return &out, nil
}

func (m *MemoryClient) GetDocumentsByIDs(_ context.Context, ids []string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Document
	for _, id := range ids {
		if d, ok := m.docs[id]; ok && !d.Deleted {
			out = append(out, cloneDocument(d))
		}
	}
	return out, nil
}

func (m *MemoryClient) UpdateDocument(_ context.Context, id string, patch models.DocumentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.Deleted {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if patch.Processing != nil {
		d.Processing = *patch.Processing
	}
	if patch.Content != nil {
		c := *patch.Content
		c.Pages = append([]models.Page(nil), c.Pages...)
		d.Content = &c
	}
	d.UpdatedAt = m.now()
	m.docs[id] = d
	return nil
}

// SearchDocuments scores completed documents by the number of keywords found
// in their title or chunk content.
func (m *MemoryClient) SearchDocuments(_ context.Context, s models.DocumentSearch) ([]models.DocumentMatch, error) {
	if len(s.Keywords) == 0 {
		return nil, nil
	}
	limit := s.Limit
	if limit <= 0 {
		limit = 3
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.DocumentMatch
	for id, d := range m.docs {
		if d.Deleted || d.Processing.Status != models.StatusCompleted {
			continue
		}
		if s.SubjectID != "" && d.SubjectID != s.SubjectID {
			continue
		}
		var b strings.Builder
		b.WriteString(strings.ToLower(d.Title))
		for _, ch := range m.chunks[id] {
			b.WriteByte(' ')
			b.WriteString(strings.ToLower(ch.Content))
		}
		text := b.String()

		hits := 0
		for _, k := range s.Keywords {
			if strings.Contains(text, strings.ToLower(k)) {
				hits++
			}
		}
		if hits > 0 {
			out = append(out, models.DocumentMatch{Document: cloneDocument(d), Score: float64(hits)})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Document.CreatedAt.After(out[j].Document.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryClient) RecordDocumentAccess(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, id := range ids {
		d, ok := m.docs[id]
		if !ok || d.Deleted {
			continue
		}
		d.ViewCount++
		d.LastAccessedAt = &now
		m.docs[id] = d
	}
	return nil
}

func (m *MemoryClient) SoftDeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.Deleted {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	d.Deleted = true
	d.UpdatedAt = m.now()
	m.docs[id] = d
	return nil
}

func (m *MemoryClient) InsertDocumentChunks(_ context.Context, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range chunks {
		for _, existing := range m.chunks[ch.DocumentID] {
			if existing.ChunkIndex == ch.ChunkIndex {
				return fmt.Errorf("duplicate chunk index %d for document %s", ch.ChunkIndex, ch.DocumentID)
			}
		}
	}
	now := m.now()
	for _, ch := range chunks {
		ch.CreatedAt = now
		m.chunks[ch.DocumentID] = append(m.chunks[ch.DocumentID], ch)
	}
	return nil
}

func (m *MemoryClient) ReplaceDocumentChunks(_ context.Context, documentID string, chunks []models.Chunk) error {
	seen := make(map[int]bool, len(chunks))
	for _, ch := range chunks {
		if ch.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to document %s", ch.ID, ch.DocumentID)
		}
		if seen[ch.ChunkIndex] {
			return fmt.Errorf("duplicate chunk index %d for document %s", ch.ChunkIndex, documentID)
		}
		seen[ch.ChunkIndex] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]models.Chunk, len(chunks))
	for i, ch := range chunks {
		ch.CreatedAt = now
		out[i] = ch
	}
	if len(out) == 0 {
		delete(m.chunks, documentID)
		return nil
	}
	m.chunks[documentID] = out
	return nil
}

func (m *MemoryClient) GetChunksByDocument(_ context.Context, documentID string) ([]models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.Chunk(nil), m.chunks[documentID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *MemoryClient) DeleteChunksByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, documentID)
	return nil
}

func (m *MemoryClient) Close() error { return nil }

func cloneDocument(d models.Document) models.Document {
	d.SharedWith = append([]string(nil), d.SharedWith...)
	if d.Content != nil {
		c := *d.Content
		c.Pages = append([]models.Page(nil), c.Pages...)
		d.Content = &c
	}
	return d
}
