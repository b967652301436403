package rag

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ahammedyusufb/exsa-engine/pkg/provider/embeddings"
)

// PostgresConfig configures a [PostgresRetriever].
type PostgresConfig struct {
	// DatabaseURL is a libpq-style connection string.
	DatabaseURL string
	// Table and Columns name the passages table the ingestion pipeline
	// (external to this core) is assumed to already populate.
	Table         string
	ContentColumn string
	EmbeddingColumn string
	SourceColumn  string
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.Table == "" {
		c.Table = "rag_passages"
	}
	if c.ContentColumn == "" {
		c.ContentColumn = "content"
	}
	if c.EmbeddingColumn == "" {
		c.EmbeddingColumn = "embedding"
	}
	if c.SourceColumn == "" {
		c.SourceColumn = "source"
	}
	return c
}

// PostgresRetriever performs nearest-neighbor similarity search over a
// pgvector-backed table. The query text is embedded through embedder
// before the search; the table schema and document ingestion are assumed
// to already exist (supplying and maintaining them is out of the core's
// scope).
type PostgresRetriever struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	cfg      PostgresConfig
}

// NewPostgresRetriever connects to cfg.DatabaseURL and returns a retriever
// that embeds queries with embedder.
func NewPostgresRetriever(ctx context.Context, embedder embeddings.Provider, cfg PostgresConfig) (*PostgresRetriever, error) {
	cfg = cfg.withDefaults()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("rag: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rag: ping: %w", err)
	}
	return &PostgresRetriever{pool: pool, embedder: embedder, cfg: cfg}, nil
}

// Retrieve embeds query and returns the topK nearest passages by cosine
// distance.
func (r *PostgresRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	sql := fmt.Sprintf(
		`SELECT %s, %s, 1 - (%s <=> $1) AS score FROM %s ORDER BY %s <=> $1 LIMIT $2`,
		r.cfg.ContentColumn, r.cfg.SourceColumn, r.cfg.EmbeddingColumn, r.cfg.Table, r.cfg.EmbeddingColumn,
	)
	rows, err := r.pool.Query(ctx, sql, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("rag: query: %w", err)
	}
	defer rows.Close()

	var out []Passage
	for rows.Next() {
		var p Passage
		if err := rows.Scan(&p.Content, &p.Source, &p.Score); err != nil {
			return nil, fmt.Errorf("rag: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rag: rows: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (r *PostgresRetriever) Close() { r.pool.Close() }
