package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"notes-rag/internal/config"
	"notes-rag/internal/models"
)

type Document struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ID            string          `bun:"id,pk"`
	Filename      string          `bun:"filename,notnull"`
	ChunkIndex    int             `bun:"chunk_index,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
}

type scoredDocument struct {
	ID         string  `bun:"id"`
	Filename   string  `bun:"filename"`
	ChunkIndex int     `bun:"chunk_index"`
	Content    string  `bun:"content"`
	Distance   float64 `bun:"distance"`
}

// Store keeps chunks in a Postgres table with a pgvector column
type Store struct {
	db *bun.DB
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN))), nil
}

// NewStore connects to Postgres and makes sure the chunks table exists
func NewStore(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: NewDB(sqldb, cfg.Debug)}
	if err := InitDB(ctx, s.db); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}
	return s, nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return err
	}
	_, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return err
	}
	_, err = db.NewCreateIndex().
		Model((*Document)(nil)).
		Index("chunks_filename_idx").
		Column("filename").
		IfNotExists().
		Exec(ctx)
	return err
}

func (s *Store) AddChunks(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("got %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = Document{
			ID:         chunk.ID,
			Filename:   chunk.Filename,
			ChunkIndex: chunk.Index,
			Content:    chunk.Content,
			Embedding:  pgvector.NewVector(embeddings[i]),
		}
	}

	_, err := s.db.NewInsert().
		Model(&docs).
		On("CONFLICT (id) DO UPDATE").
		Set("filename = EXCLUDED.filename").
		Set("chunk_index = EXCLUDED.chunk_index").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	return err
}

// Query orders by pgvector cosine distance
func (s *Store) Query(ctx context.Context, embedding []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}

	var rows []scoredDocument
	err := s.db.NewSelect().
		Model((*Document)(nil)).
		Column("id", "filename", "chunk_index", "content").
		ColumnExpr("embedding <=> ? AS distance", pgvector.NewVector(embedding)).
		OrderExpr("distance ASC").
		Limit(k).
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	hits := make([]models.ScoredChunk, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, models.ScoredChunk{
			Chunk: models.Chunk{
				ID:       r.ID,
				Filename: r.Filename,
				Index:    r.ChunkIndex,
				Content:  r.Content,
			},
			Distance: float32(r.Distance),
		})
	}
	return hits, nil
}

func (s *Store) HasDocument(ctx context.Context, filename string) (bool, error) {
	return s.db.NewSelect().
		Model((*Document)(nil)).
		Where("filename = ?", filename).
		Exists(ctx)
}

// DeleteChunksFrom removes the chunks of filename whose index is >= from
func (s *Store) DeleteChunksFrom(ctx context.Context, filename string, from int) error {
	res, err := s.db.NewDelete().
		Model((*Document)(nil)).
		Where("filename = ?", filename).
		Where("chunk_index >= ?", from).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		log.Debug().Str("filename", filename).Int64("rows", n).Msg("Deleted chunks")
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*Document)(nil)).Count(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DropDocuments removes the chunks table
func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}
