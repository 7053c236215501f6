package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/studykb/internal/config"
	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db    *sql.DB
	types *pgtype.Map
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		// Append SSL params to the provided DATABASE_URL safely.
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, types: pgtype.NewMap()}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Documents

const documentColumns = `
	id, owner_id, subject_id, title, description, doc_type, file_name, storage_url, file_size, content_type,
	status, progress, current_step, status_message, error_category, error_message, started_at, completed_at,
	extracted_content, visibility, shared_with, view_count, last_accessed_at, is_deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (c *DatabaseClient) scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d                      models.Document
		errCategory, errMsg    sql.NullString
		startedAt, completedAt sql.NullTime
		lastAccessed           sql.NullTime
		content                []byte
	)
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.SubjectID, &d.Title, &d.Description, &d.Type, &d.FileName, &d.StorageURL, &d.FileSize, &d.ContentType,
		&d.Processing.Status, &d.Processing.Progress, &d.Processing.CurrentStep, &d.Processing.Message,
		&errCategory, &errMsg, &startedAt, &completedAt,
		&content, &d.Visibility, c.types.SQLScanner(&d.SharedWith), &d.ViewCount, &lastAccessed, &d.Deleted, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if errCategory.Valid {
		d.Processing.Error = &models.ProcessingError{Category: errCategory.String, Message: errMsg.String}
	}
	if startedAt.Valid {
		d.Processing.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		d.Processing.CompletedAt = &completedAt.Time
	}
	if lastAccessed.Valid {
		d.LastAccessedAt = &lastAccessed.Time
	}
	if len(content) > 0 {
		var ec models.ExtractedContent
		if err := json.Unmarshal(content, &ec); err != nil {
			return nil, fmt.Errorf("decode extracted_content: %w", err)
		}
		d.Content = &ec
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if doc.Processing.Status == "" {
		doc.Processing = models.NewProcessingState()
	}
	if doc.Visibility == "" {
		doc.Visibility = models.VisibilityPrivate
	}
	if doc.SharedWith == nil {
		doc.SharedWith = []string{}
	}
	const q = `
		INSERT INTO documents
			(id, owner_id, subject_id, title, description, doc_type, file_name, storage_url, file_size, content_type,
			 status, progress, current_step, status_message, visibility, shared_with, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.OwnerID, doc.SubjectID, doc.Title, doc.Description, string(doc.Type), doc.FileName, doc.StorageURL,
		doc.FileSize, doc.ContentType, string(doc.Processing.Status), doc.Processing.Progress, doc.Processing.CurrentStep,
		doc.Processing.Message, string(doc.Visibility), doc.SharedWith)
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND NOT is_deleted`
	d, err := c.scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetDocumentsByIDs returns the live documents among ids, in the order given.
func (c *DatabaseClient) GetDocumentsByIDs(ctx context.Context, ids []string) ([]models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE id = ANY($1) AND NOT is_deleted
		ORDER BY array_position($1, id)`
	rows, err := c.db.QueryContext(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := c.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocument(ctx context.Context, id string, patch models.DocumentPatch) error {
	var (
		sets []string
		args = []any{id}
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p := patch.Processing; p != nil {
		add("status", string(p.Status))
		add("progress", p.Progress)
		add("current_step", p.CurrentStep)
		add("status_message", p.Message)
		if p.Error != nil {
			add("error_category", p.Error.Category)
			add("error_message", p.Error.Message)
		} else {
			add("error_category", nil)
			add("error_message", nil)
		}
		add("started_at", nullTime(p.StartedAt))
		add("completed_at", nullTime(p.CompletedAt))
	}
	if patch.Content != nil {
		raw, err := json.Marshal(patch.Content)
		if err != nil {
			return fmt.Errorf("encode extracted_content: %w", err)
		}
		args = append(args, string(raw))
		sets = append(sets, fmt.Sprintf("extracted_content = $%d::jsonb", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	q := `UPDATE documents SET ` + strings.Join(sets, ", ") + `, updated_at = now() WHERE id = $1 AND NOT is_deleted`
	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// SearchDocuments ranks completed documents by full-text relevance of their
// title and chunk content against any of the keywords.
func (c *DatabaseClient) SearchDocuments(ctx context.Context, s models.DocumentSearch) ([]models.DocumentMatch, error) {
	if len(s.Keywords) == 0 {
		return nil, nil
	}
	limit := s.Limit
	if limit <= 0 {
		limit = 3
	}

	q := `
		WITH q AS (SELECT to_tsquery('simple', $1) AS query),
		ranked AS (
			SELECT c.document_id, MAX(ts_rank(to_tsvector('simple', d.title || ' ' || c.content), q.query)) AS score
			FROM document_chunks c
			JOIN documents d ON d.id = c.document_id, q
			WHERE d.status = 'completed' AND NOT d.is_deleted
			  AND ($2 = '' OR d.subject_id = $2)
			  AND to_tsvector('simple', d.title || ' ' || c.content) @@ q.query
			GROUP BY c.document_id
		)
		SELECT ` + prefixColumns("d") + `, r.score
		FROM ranked r JOIN documents d ON d.id = r.document_id
		ORDER BY r.score DESC, d.created_at DESC
		LIMIT $3`

	rows, err := c.db.QueryContext(ctx, q, tsQuery(s.Keywords), s.SubjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentMatch
	for rows.Next() {
		var score float64
		d, err := c.scanDocument(scoreScanner{rows: rows, score: &score})
		if err != nil {
			return nil, err
		}
		out = append(out, models.DocumentMatch{Document: *d, Score: score})
	}
	return out, rows.Err()
}

func (c *DatabaseClient) RecordDocumentAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
		UPDATE documents
		SET view_count = view_count + 1, last_accessed_at = now()
		WHERE id = ANY($1) AND NOT is_deleted
	`
	_, err := c.db.ExecContext(ctx, q, ids)
	return err
}

func (c *DatabaseClient) SoftDeleteDocument(ctx context.Context, id string) error {
	const q = `UPDATE documents SET is_deleted = true, updated_at = now() WHERE id = $1 AND NOT is_deleted`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Chunks

const insertChunkSQL = `
	INSERT INTO document_chunks
		(id, document_id, chunk_index, content, embedding, summary, page_number, token_count, char_count, chunk_type, semantic_score, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
`

// InsertDocumentChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return c.withTx(ctx, func(tx *sql.Tx) error {
		return insertChunks(ctx, tx, chunks)
	})
}

func (c *DatabaseClient) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		return insertChunks(ctx, tx, chunks)
	})
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, insertChunkSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		var page sql.NullInt64
		if ch.PageNumber != nil {
			page = sql.NullInt64{Int64: int64(*ch.PageNumber), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.ChunkIndex, ch.Content, pgvector.NewVector(ch.Embedding), ch.Summary,
			page, ch.TokenCount, ch.CharCount, string(ch.Type), ch.SemanticScore,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
		}
	}
	return nil
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	const q = `
		SELECT id, document_id, chunk_index, content, embedding, summary, page_number, token_count, char_count,
		       chunk_type, semantic_score, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch   models.Chunk
			emb  *pgvector.Vector
			page sql.NullInt64
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.ChunkIndex, &ch.Content, &emb, &ch.Summary, &page, &ch.TokenCount,
			&ch.CharCount, &ch.Type, &ch.SemanticScore, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		if emb != nil {
			ch.Embedding = emb.Slice()
		}
		if page.Valid {
			p := int(page.Int64)
			ch.PageNumber = &p
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	return err
}

func (c *DatabaseClient) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// scoreScanner appends the trailing score column to a document scan.
type scoreScanner struct {
	rows  *sql.Rows
	score *float64
}

func (s scoreScanner) Scan(dest ...any) error {
	return s.rows.Scan(append(dest, s.score)...)
}

func prefixColumns(alias string) string {
	cols := strings.Split(documentColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// tsQuery ORs the keywords together. Keywords only ever contain letters,
// so no tsquery operator can leak in.
func tsQuery(keywords []string) string {
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.Map(func(r rune) rune {
			if r == '\'' || r == '&' || r == '|' || r == '!' || r == ':' || r == '(' || r == ')' || r == ' ' {
				return -1
			}
			return r
		}, k)
		if k != "" {
			parts = append(parts, k+":*")
		}
	}
	return strings.Join(parts, " | ")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
