// Package pgvector provides a retriever backed by a PostgreSQL documents
// table with a pgvector HNSW index.
//
// Retrieve embeds the query through the configured embeddings provider and
// runs an approximate nearest-neighbour search by cosine distance. Index
// maintenance is an offline concern; [Store.IndexDocument] exists for
// ingestion tooling and tests, the voice path only reads.
//
// The pgvector extension must be available in the target database; [New]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := pgvector.New(ctx, dsn, embedder)
//	defer store.Close()
//	chunks, err := store.Retrieve(ctx, "when are you open", 4)
package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxloop/voxloop/pkg/provider/embeddings"
	"github.com/voxloop/voxloop/pkg/provider/retriever"
	"github.com/voxloop/voxloop/pkg/types"
)

// Compile-time assertion that Store implements retriever.Provider.
var _ retriever.Provider = (*Store)(nil)

// ddlDocuments returns the documents DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlDocuments(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
    id          TEXT         PRIMARY KEY,
    content     TEXT         NOT NULL,
    source      TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_embedding
    ON documents USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Store is a PostgreSQL-backed retrieval index. It holds a single
// [pgxpool.Pool] and an embeddings provider used to vectorise queries and
// documents. All methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure the documents table and extension exist.
//
// The vector column dimension is taken from embedder.Dimensions(), so the
// embedder must report a non-zero dimension at construction time. Changing
// the embedding model after the first migration requires a manual schema
// change.
func New(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("pgvector retriever: embedder must not be nil")
	}
	dims := embedder.Dimensions()
	if dims <= 0 {
		return nil, fmt.Errorf("pgvector retriever: embedder %q reports no dimension", embedder.ModelID())
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector retriever: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvec.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector retriever: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector retriever: ping: %w", err)
	}

	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector retriever: migrate: %w", err)
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// Migrate creates or ensures the documents table and vector extension exist.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlDocuments(embeddingDimensions)); err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return nil
}

// IndexDocument upserts a document into the index, embedding its content
// through the configured provider. If a document with the same ID already
// exists it is completely replaced.
func (s *Store) IndexDocument(ctx context.Context, id, content, source string) error {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("pgvector retriever: embed document: %w", err)
	}

	const q = `
		INSERT INTO documents (id, content, source, embedding, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
		    content    = EXCLUDED.content,
		    source     = EXCLUDED.source,
		    embedding  = EXCLUDED.embedding,
		    updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, q, id, content, source, pgvec.NewVector(vec)); err != nil {
		return fmt.Errorf("pgvector retriever: index document: %w", err)
	}
	return nil
}

// Retrieve implements retriever.Provider. It embeds the query and returns
// the topK documents closest by cosine distance, most similar first. Scores
// are cosine similarity (1 - distance) so that higher means more relevant.
func (s *Store) Retrieve(ctx context.Context, query string, topK int) ([]types.ContextChunk, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgvector retriever: embed query: %w", err)
	}

	const q = `
		SELECT id, content, embedding <=> $1 AS distance
		FROM   documents
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvec.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector retriever: search: %w", err)
	}

	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ContextChunk, error) {
		var (
			chunk    types.ContextChunk
			distance float64
		)
		if err := row.Scan(&chunk.DocumentID, &chunk.Snippet, &distance); err != nil {
			return types.ContextChunk{}, err
		}
		chunk.Score = 1 - distance
		return chunk, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector retriever: scan rows: %w", err)
	}
	if chunks == nil {
		chunks = []types.ContextChunk{}
	}
	return chunks, nil
}

// Ping verifies database connectivity. Readiness probes call this.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
