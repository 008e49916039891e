package parser

import "notes-rag/internal/models"

// ChunkText splits content into consecutive, non-overlapping windows of at most
// size characters. Joining the result gives back content unchanged.
func ChunkText(content string, size int) []string {
	if size <= 0 {
		size = models.DefaultChunkSize
	}

	var chunks []string
	start, count := 0, 0
	for i := range content {
		if count == size {
			chunks = append(chunks, content[start:i])
			start, count = i, 0
		}
		count++
	}
	if start < len(content) {
		chunks = append(chunks, content[start:])
	}
	return chunks
}
