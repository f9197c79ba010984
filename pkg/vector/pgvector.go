package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgvectorStore backs retrieval with Postgres + pgvector, the store the
// ingestion pipeline writes to in production deployments.
type PgvectorStore struct {
	pool  *pgxpool.Pool
	table string
}

// PgvectorConfig configures the Postgres-backed store.
type PgvectorConfig struct {
	DSN string `yaml:"dsn"`

	// Table holds the documents. Defaults to "knowledge_chunks".
	Table string `yaml:"table,omitempty"`

	// Dimensions of the stored embeddings. Defaults to 1536.
	Dimensions int `yaml:"dimensions,omitempty"`
}

// NewPgvectorStore connects and ensures the schema exists.
func NewPgvectorStore(ctx context.Context, cfg PgvectorConfig) (*PgvectorStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	if cfg.Table == "" {
		cfg.Table = "knowledge_chunks"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		);
	`, cfg.Table, cfg.Dimensions)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PgvectorStore{pool: pool, table: cfg.Table}, nil
}

func (s *PgvectorStore) Upsert(ctx context.Context, docs []Document) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4::vector)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    metadata = EXCLUDED.metadata,
		    embedding = EXCLUDED.embedding
	`, s.table)

	for _, d := range docs {
		meta := d.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		if _, err := s.pool.Exec(ctx, sql, d.ID, d.Content, meta, vectorLiteral(d.Embedding)); err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", d.ID, err)
		}
	}
	return nil
}

func (s *PgvectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]Result, error) {
	// <=> is cosine distance; similarity = 1 - distance.
	sql := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, s.table)

	rows, err := s.pool.Query(ctx, sql, vectorLiteral(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var score float64
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		r.Score = float32(score)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PgvectorStore) Delete(ctx context.Context, id string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table)
	if _, err := s.pool.Exec(ctx, sql, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (s *PgvectorStore) Close() error {
	s.pool.Close()
	return nil
}

// vectorLiteral renders an embedding in pgvector's input format.
func vectorLiteral(embedding []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
