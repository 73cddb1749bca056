package book

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chaptr/backend/internal/rag"
	"chaptr/backend/internal/text"

	"github.com/lib/pq"
)

// PostgresRepo stores books and their chunks.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, b New) (int64, error) {
	var id int64
	query := `INSERT INTO books (title, author, raw_text) VALUES ($1, $2, $3) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, b.Title, nullString(b.Author), nullString(b.RawText)).Scan(&id)
	return id, err
}

func (r *PostgresRepo) GetBook(ctx context.Context, id int64) (*rag.Book, error) {
	var (
		b                             rag.Book
		status                        string
		author, procErr, embeddingMdl sql.NullString
	)
	query := `SELECT id, title, author, processing_status, processing_error, is_embedded, embedding_model, chunk_count FROM books WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.Title, &author, &status, &procErr, &b.IsEmbedded, &embeddingMdl, &b.ChunkCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d: %w", id, rag.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	b.Status = rag.Status(status)
	b.Author = author.String
	b.ProcessingError = procErr.String
	b.EmbeddingModel = embeddingMdl.String
	return &b, nil
}

// GetBookText returns the cleaned text, or the raw text when no cleaned copy exists.
func (r *PostgresRepo) GetBookText(ctx context.Context, id int64) (string, error) {
	var body string
	query := `SELECT COALESCE(NULLIF(cleaned_text, ''), raw_text, '') FROM books WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("book %d: %w", id, rag.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	if body == "" {
		return "", ErrNoText
	}
	return body, nil
}

// ClaimProcessing moves a pending or failed book to processing in a single
// statement so only one caller can win.
func (r *PostgresRepo) ClaimProcessing(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE books SET processing_status = 'processing', processing_error = NULL, updated_at = NOW()
		WHERE id = $1 AND is_embedded = FALSE AND processing_status IN ('pending', 'failed')`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("book %d: %w", id, rag.ErrNotFound)
	}
	return false, nil
}

// SaveChunks replaces every chunk of the book inside one transaction and
// returns the new ids in input order.
func (r *PostgresRepo) SaveChunks(ctx context.Context, bookID int64, chunks []text.Chunk) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM book_chunks WHERE book_id = $1`, bookID); err != nil {
		return nil, fmt.Errorf("delete chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO book_chunks
		(book_id, content, chunk_index, token_count, chapter_title, chapter_number, page_number, start_char, end_char, keywords)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		m := c.Metadata
		var id int64
		err := stmt.QueryRowContext(ctx,
			bookID, c.Content, m.ChunkIndex, m.TokenCount,
			nullString(m.ChapterTitle), nullInt(m.ChapterNumber), nullInt(m.PageNumber),
			m.StartChar, m.EndChar, pq.Array(keywords(m.Keywords)),
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", m.ChunkIndex, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresRepo) SetBookStatus(ctx context.Context, id int64, status rag.Status, errMsg string) error {
	query := `UPDATE books SET processing_status = $1, processing_error = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, string(status), nullString(errMsg), id)
	return err
}

func (r *PostgresRepo) MarkEmbedded(ctx context.Context, id int64, model string, chunkCount int) error {
	query := `UPDATE books SET is_embedded = TRUE, embedding_model = $1, chunk_count = $2,
		processing_status = 'completed', processing_error = NULL, updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, model, chunkCount, id)
	return err
}

func (r *PostgresRepo) ResetEmbedding(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM book_chunks WHERE book_id = $1`, id); err != nil {
		return err
	}
	query := `UPDATE books SET is_embedded = FALSE, embedding_model = NULL, chunk_count = 0,
		processing_status = 'pending', processing_error = NULL, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return err
	}
	return tx.Commit()
}

// CountChunks returns how many chunk rows the book has.
func (r *PostgresRepo) CountChunks(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM book_chunks WHERE book_id = $1`, bookID).Scan(&n)
	return n, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func keywords(k []string) []string {
	if k == nil {
		return []string{}
	}
	return k
}
