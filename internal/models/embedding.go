package models

import "fmt"

// Chunk represents a stored slice of a document with its position metadata
type Chunk struct {
	ID       string
	Filename string
	Index    int
	Content  string
}

// ChunkID returns the identity of the index-th chunk of filename.
func ChunkID(filename string, index int) string {
	return fmt.Sprintf("%s_%d", filename, index)
}

// NewChunks turns raw chunk strings of a file into Chunk records.
func NewChunks(filename string, contents []string) []Chunk {
	chunks := make([]Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = Chunk{
			ID:       ChunkID(filename, i),
			Filename: filename,
			Index:    i,
			Content:  content,
		}
	}
	return chunks
}

// ScoredChunk is a retrieval hit; lower distance is closer.
type ScoredChunk struct {
	Chunk    Chunk
	Distance float32
}

type IngestResult struct {
	Filename string   `json:"filename"`
	Chunks   []string `json:"chunks"`
}

type ChunkMetadata struct {
	Filename string `json:"filename"`
	Chunk    int    `json:"chunk"`
}

type TopChunk struct {
	Chunk    string        `json:"chunk"`
	Metadata ChunkMetadata `json:"metadata"`
	Distance float32       `json:"distance"`
}

type QueryResponse struct {
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
	TopChunks []TopChunk `json:"top_chunks"`
}
