package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/lawgpt/lawgpt/engine/domain"
)

// pgPool is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PGVector is an Index backed by a PostgreSQL table with a pgvector column.
// The seq column records first insertion and breaks score ties.
type PGVector struct {
	pool   pgPool
	table  string
	dim    int
	logger *slog.Logger
}

// OpenPGVector connects to dsn and ensures the chunk table exists.
func OpenPGVector(ctx context.Context, dsn, table string, dim int, logger *slog.Logger) (*PGVector, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("semantic: connect postgres: %w", err)
	}
	return openPGVector(ctx, pool, table, dim, logger)
}

// openPGVector runs the schema bootstrap once; the pool is closed if it fails.
func openPGVector(ctx context.Context, pool pgPool, table string, dim int, logger *slog.Logger) (*PGVector, error) {
	p := NewPGVector(pool, table, dim, logger)
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPGVector wraps an existing pool. The table name is quoted as an identifier.
func NewPGVector(pool pgPool, table string, dim int, logger *slog.Logger) *PGVector {
	if logger == nil {
		logger = slog.Default()
	}
	if table == "" {
		table = "chunks"
	}
	return &PGVector{
		pool:   pool,
		table:  pgx.Identifier{table}.Sanitize(),
		dim:    dim,
		logger: logger,
	}
}

func (p *PGVector) Dimension() int { return p.dim }

// EnsureSchema creates the extension, table and document index if missing.
func (p *PGVector) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("semantic: enable pgvector: %w", err)
	}
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	document_id TEXT NOT NULL,
	text TEXT NOT NULL,
	char_offset INTEGER NOT NULL,
	page INTEGER,
	embedding vector(%d) NOT NULL,
	metadata JSONB,
	updated_at TIMESTAMPTZ DEFAULT NOW()
)`, p.table, p.dim)
	if _, err := p.pool.Exec(ctx, create); err != nil {
		return fmt.Errorf("semantic: create table: %w", err)
	}
	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (document_id)",
		pgx.Identifier{unquote(p.table) + "_document_idx"}.Sanitize(), p.table)
	if _, err := p.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("semantic: create document index: %w", err)
	}
	return nil
}

// Upsert writes the batch in one transaction so no chunk row lands without its vector.
func (p *PGVector) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, p.dim); err != nil {
		return err
	}
	return p.inTx(ctx, func(tx pgx.Tx) error {
		return p.upsertTx(ctx, tx, records)
	})
}

// ReplaceDocument deletes the document's rows and writes records in the same
// transaction. A failed write rolls the delete back.
func (p *PGVector) ReplaceDocument(ctx context.Context, docID string, records []Record) error {
	if err := validateRecords(records, p.dim); err != nil {
		return err
	}
	return p.inTx(ctx, func(tx pgx.Tx) error {
		sql := fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", p.table)
		if _, err := tx.Exec(ctx, sql, docID); err != nil {
			return fmt.Errorf("semantic: replace document %s: %w", docID, err)
		}
		return p.upsertTx(ctx, tx, records)
	})
}

func (p *PGVector) inTx(ctx context.Context, f func(pgx.Tx) error) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("semantic: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				p.logger.Error("semantic: rollback failed", "err", rbErr)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("semantic: commit: %w", commitErr)
		}
	}()
	return f(tx)
}

func (p *PGVector) upsertTx(ctx context.Context, tx pgx.Tx, records []Record) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (id, document_id, text, char_offset, page, embedding, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	document_id = excluded.document_id,
	text = excluded.text,
	char_offset = excluded.char_offset,
	page = excluded.page,
	embedding = excluded.embedding,
	metadata = excluded.metadata,
	updated_at = excluded.updated_at`, p.table)

	now := time.Now().UTC()
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("semantic: marshal metadata for %s: %w", r.ID, err)
		}
		if _, err := tx.Exec(ctx, stmt, r.ID, r.DocumentID, r.Text, r.Offset, r.Page, pgvector.NewVector(r.Embedding), meta, now); err != nil {
			return fmt.Errorf("semantic: upsert %s: %w", r.ID, err)
		}
	}
	return nil
}

func (p *PGVector) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}
	if err := domain.CheckDimension(query, p.dim); err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	sql := fmt.Sprintf(`SELECT id, document_id, text, char_offset, page, metadata, 1 - (embedding <=> $1) AS score
FROM %s
ORDER BY embedding <=> $1 ASC, seq ASC
LIMIT $2`, p.table)
	rows, err := p.pool.Query(ctx, sql, pgvector.NewVector(query), topK)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, topK)
	for rows.Next() {
		var (
			h    Hit
			meta []byte
		)
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.Text, &h.Offset, &h.Page, &meta, &h.Score); err != nil {
			return nil, fmt.Errorf("semantic: scan: %w", err)
		}
		if err := decodeMeta(meta, &h.Metadata); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("semantic: search rows: %w", err)
	}
	return hits, nil
}

func (p *PGVector) Get(ctx context.Context, id string) (Record, bool, error) {
	sql := fmt.Sprintf(`SELECT id, document_id, text, char_offset, page, metadata, embedding FROM %s WHERE id = $1`, p.table)
	var (
		r    Record
		meta []byte
		vec  pgvector.Vector
	)
	err := p.pool.QueryRow(ctx, sql, id).Scan(&r.ID, &r.DocumentID, &r.Text, &r.Offset, &r.Page, &meta, &vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("semantic: get %s: %w", id, err)
	}
	if err := decodeMeta(meta, &r.Metadata); err != nil {
		return Record{}, false, err
	}
	r.Embedding = vec.Slice()
	return r, true, nil
}

func (p *PGVector) DeleteDocument(ctx context.Context, docID string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", p.table)
	if _, err := p.pool.Exec(ctx, sql, docID); err != nil {
		return fmt.Errorf("semantic: delete document %s: %w", docID, err)
	}
	return nil
}

func (p *PGVector) Close() error {
	p.pool.Close()
	return nil
}

func decodeMeta(raw []byte, dst *map[string]string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("semantic: decode metadata: %w", err)
	}
	return nil
}

// unquote strips the surrounding quotes Identifier.Sanitize adds.
func unquote(ident string) string {
	if len(ident) >= 2 && ident[0] == '"' && ident[len(ident)-1] == '"' {
		return ident[1 : len(ident)-1]
	}
	return ident
}
