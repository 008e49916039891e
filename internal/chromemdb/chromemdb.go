package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"notes-rag/internal/config"
	"notes-rag/internal/helper"
	"notes-rag/internal/models"
)

// VectorDBManager stores chunks in a single chromem-go collection.
// mu keeps the size check in Query consistent with concurrent writes.
type VectorDBManager struct {
	mu            sync.RWMutex
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	inMemory      bool
	compress      bool
	encryptionKey string
	backupPath    string
}

// NewVectorDBManager opens (or creates) the database and the named collection.
// An in-memory database is restored from the backup file when one exists.
func NewVectorDBManager(cfg *config.VectorStoreConfig, collectionName string) (*VectorDBManager, error) {
	if cfg.EncryptionKey != "" && len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(cfg.EncryptionKey))
	}

	m := &VectorDBManager{
		dbPath:        cfg.Path,
		inMemory:      cfg.InMemory,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
		backupPath:    cfg.BackupPath,
	}

	if m.inMemory {
		m.db = chromem.NewDB()
		if err := m.restore(); err != nil {
			return nil, err
		}
	} else {
		if err := helper.CreateFolder(m.dbPath); err != nil {
			return nil, fmt.Errorf("failed to create database folder: %v", err)
		}
		db, err := chromem.NewPersistentDB(m.dbPath, m.compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
		m.db = db
	}

	c, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}
	m.collection = c

	log.Debug().
		Str("collection", collectionName).
		Bool("in_memory", m.inMemory).
		Int("documents", c.Count()).
		Msg("Opened vector database")
	return m, nil
}

// AddChunks stores chunks with their embeddings. Records with an existing id are replaced.
func (m *VectorDBManager) AddChunks(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("got %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:      chunk.ID,
			Content: chunk.Content,
			Metadata: map[string]string{
				models.MetaFilename: chunk.Filename,
				models.MetaChunk:    strconv.Itoa(chunk.Index),
			},
			Embedding: embeddings[i],
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}
	return nil
}

// Query returns up to k chunks ordered by ascending cosine distance
func (m *VectorDBManager) Query(ctx context.Context, embedding []float32, k int) ([]models.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// chromem rejects nResults larger than the collection
	count := m.collection.Count()
	if k > count {
		k = count
	}
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}

	results, err := m.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	hits := make([]models.ScoredChunk, 0, len(results))
	for _, r := range results {
		index, _ := strconv.Atoi(r.Metadata[models.MetaChunk])
		hits = append(hits, models.ScoredChunk{
			Chunk: models.Chunk{
				ID:       r.ID,
				Filename: r.Metadata[models.MetaFilename],
				Index:    index,
				Content:  r.Content,
			},
			Distance: 1 - r.Similarity,
		})
	}
	return hits, nil
}

// HasDocument reports whether the first chunk of filename is stored
func (m *VectorDBManager) HasDocument(ctx context.Context, filename string) (bool, error) {
	if _, err := m.collection.GetByID(ctx, models.ChunkID(filename, 0)); err != nil {
		return false, nil
	}
	return true, nil
}

// DeleteChunksFrom removes the chunks of filename whose index is >= from.
// from == 0 removes the whole document.
func (m *VectorDBManager) DeleteChunksFrom(ctx context.Context, filename string, from int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if from <= 0 {
		err = m.collection.Delete(ctx, map[string]string{models.MetaFilename: filename}, nil)
	} else {
		// chunk ids are contiguous, so the tail ends at the first missing id
		var ids []string
		for i := from; ; i++ {
			id := models.ChunkID(filename, i)
			if _, getErr := m.collection.GetByID(ctx, id); getErr != nil {
				break
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil
		}
		err = m.collection.Delete(ctx, nil, nil, ids...)
	}
	if err != nil {
		return fmt.Errorf("failed to delete chunks of %s from %d: %v", filename, from, err)
	}
	return nil
}

func (m *VectorDBManager) Count(_ context.Context) (int, error) {
	return m.collection.Count(), nil
}

// Close writes the backup file when one is configured
func (m *VectorDBManager) Close() error {
	if m.backupPath == "" {
		return nil
	}
	return m.Export()
}

// Export writes the collection to the backup file, encrypted when a key is set
func (m *VectorDBManager) Export() error {
	if m.backupPath == "" {
		return errors.New("backup path is required")
	}
	if err := helper.CreateFolder(filepath.Dir(m.backupPath)); err != nil {
		return fmt.Errorf("failed to create backup folder: %v", err)
	}

	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", m.backupPath).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	err := m.db.ExportToFile(m.backupPath, m.compress, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	return nil
}

func (m *VectorDBManager) restore() error {
	if m.backupPath == "" {
		return nil
	}
	if _, err := os.Stat(m.backupPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := m.db.ImportFromFile(m.backupPath, m.encryptionKey); err != nil {
		return fmt.Errorf("failed to import database: %v", err)
	}
	log.Info().Str("file", m.backupPath).Msg("Restored vector database from backup")
	return nil
}
