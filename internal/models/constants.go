package models

const (
	DefaultChunkSize  = 500
	DefaultTopK       = 5
	DefaultMaxTokens  = 300
	DefaultCollection = "notes"

	// metadata keys stored alongside every chunk
	MetaFilename = "filename"
	MetaChunk    = "chunk"
)

var (
	SystemPrompt = "You are a helpful assistant for answering questions about lecture notes."

	QueryPromptTemplate = `You are an assistant helping a student with their lecture notes. Use the following context to answer the question.

Context:
%s

Question: %s
Answer:`
)
