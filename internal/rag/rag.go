package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"notes-rag/internal/config"
	"notes-rag/internal/embedding"
	"notes-rag/internal/models"
	"notes-rag/internal/parser"
)

// Store persists chunks with their embeddings and finds nearest neighbours.
type Store interface {
	AddChunks(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error
	Query(ctx context.Context, embedding []float32, k int) ([]models.ScoredChunk, error)
	HasDocument(ctx context.Context, filename string) (bool, error)
	// DeleteChunksFrom removes the chunks of filename with index >= from.
	DeleteChunksFrom(ctx context.Context, filename string, from int) error
	Count(ctx context.Context) (int, error)
	Close() error
}

type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question, contextText string) (string, error)
}

// RAG owns the process-wide handles used by both pipelines.
type RAG struct {
	store     Store
	embedder  embeddings.Embedder
	generator AnswerGenerator
	parser    *parser.Parser
	cfg       *config.RAGConfig
}

func NewRAG(store Store, embedder embeddings.Embedder, generator AnswerGenerator, cfg *config.RAGConfig) *RAG {
	return &RAG{
		store:     store,
		embedder:  embedder,
		generator: generator,
		parser:    parser.New(cfg),
		cfg:       cfg,
	}
}

// Chunk extracts and splits a document without touching the embedder or the store.
func (r *RAG) Chunk(filename, contentType string, data []byte) ([]models.Chunk, error) {
	text, err := r.parser.Extract(data, contentType)
	if err != nil {
		return nil, err
	}
	return models.NewChunks(filename, parser.ChunkText(text, r.cfg.ChunkSize)), nil
}

// Ingest extracts, chunks, embeds and stores one uploaded file.
func (r *RAG) Ingest(ctx context.Context, filename, contentType string, data []byte) (*models.IngestResult, error) {
	chunks, err := r.Chunk(filename, contentType, data)
	if err != nil {
		return nil, err
	}

	exists, err := r.store.HasDocument(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: check existing document: %v", models.ErrUpstream, err)
	}
	if exists {
		if r.cfg.OnDuplicate == config.DuplicateReject {
			return nil, fmt.Errorf("%w: %s", models.ErrDuplicateDocument, filename)
		}
		log.Info().Str("filename", filename).Msg("Replacing previously uploaded document")
	}

	vectors, err := embedding.GenerateEmbedding(ctx, r.embedder, chunks)
	if err != nil {
		return nil, err
	}

	// New chunks overwrite the old ones by id; only the stale tail is deleted afterwards,
	// so a failed write leaves the previous upload in place.
	if err := r.store.AddChunks(ctx, chunks, vectors); err != nil {
		return nil, fmt.Errorf("%w: store chunks: %v", models.ErrUpstream, err)
	}
	if exists {
		if err := r.store.DeleteChunksFrom(ctx, filename, len(chunks)); err != nil {
			return nil, fmt.Errorf("%w: delete stale chunks: %v", models.ErrUpstream, err)
		}
	}

	result := &models.IngestResult{Filename: filename, Chunks: make([]string, len(chunks))}
	for i, c := range chunks {
		result.Chunks[i] = c.Content
	}
	log.Info().Str("filename", filename).Int("chunks", len(chunks)).Msg("Stored document")
	return result, nil
}

// Query retrieves the closest chunks and asks the model to answer from them.
func (r *RAG) Query(ctx context.Context, question string) (*models.QueryResponse, error) {
	vector, err := embedding.EmbedQuestion(ctx, r.embedder, question)
	if err != nil {
		return nil, err
	}

	hits, err := r.store.Query(ctx, vector, r.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: query store: %v", models.ErrUpstream, err)
	}

	answer, err := r.generator.GenerateAnswer(ctx, question, BuildContext(hits))
	if err != nil {
		return nil, err
	}

	resp := &models.QueryResponse{
		Question:  question,
		Answer:    answer,
		TopChunks: make([]models.TopChunk, 0, len(hits)),
	}
	for _, h := range hits {
		resp.TopChunks = append(resp.TopChunks, models.TopChunk{
			Chunk: h.Chunk.Content,
			Metadata: models.ChunkMetadata{
				Filename: h.Chunk.Filename,
				Chunk:    h.Chunk.Index,
			},
			Distance: h.Distance,
		})
	}
	return resp, nil
}

// Count returns the number of stored chunks
func (r *RAG) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

func (r *RAG) Close() error {
	return r.store.Close()
}

// BuildContext joins the retrieved chunk texts, each followed by a newline.
func BuildContext(hits []models.ScoredChunk) string {
	var sb strings.Builder
	for _, h := range hits {
		sb.WriteString(h.Chunk.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Sources lists hits as filename#chunk for display
func Sources(hits []models.TopChunk) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Metadata.Filename + "#" + strconv.Itoa(h.Metadata.Chunk)
	}
	return strings.Join(parts, ", ")
}
