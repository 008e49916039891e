package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"notes-rag/internal/config"
	"notes-rag/internal/models"
)

// Generator answers questions from retrieved context with a hosted chat model.
// Without an API key it is still constructed, but every call fails with
// models.ErrMissingCredential.
type Generator struct {
	llm       llms.Model
	model     string
	maxTokens int
}

func NewGenerator(llmConfig *config.LLMConfig) (*Generator, error) {
	g := &Generator{model: llmConfig.Model, maxTokens: llmConfig.MaxTokens}
	if llmConfig.Key == "" {
		log.Warn().Msg("No inference API key configured, queries will fail")
		return g, nil
	}

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client: %w", err)
	}
	g.llm = llm
	return g, nil
}

// NewGeneratorWithModel wraps an existing model, mostly for tests.
func NewGeneratorWithModel(llm llms.Model, maxTokens int) *Generator {
	return &Generator{llm: llm, maxTokens: maxTokens}
}

// BuildMessages returns the system instruction and the user prompt for a question.
func BuildMessages(question, contextText string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, models.SystemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, fmt.Sprintf(models.QueryPromptTemplate, contextText, question)),
	}
}

func (g *Generator) GenerateAnswer(ctx context.Context, question, contextText string) (string, error) {
	if g.llm == nil {
		return "", models.ErrMissingCredential
	}

	log.Debug().Str("model", g.model).Int("context_chars", len(contextText)).Msg("Generating answer")
	res, err := GenerateContent(ctx, g.llm, BuildMessages(question, contextText), llms.WithMaxTokens(g.maxTokens))
	if err != nil {
		return "", fmt.Errorf("%w: generate answer: %v", models.ErrUpstream, err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("%w: model returned no choices", models.ErrUpstream)
	}
	return strings.TrimSpace(res.Choices[0].Content), nil
}

// call llm
func GenerateContent(ctx context.Context, llm llms.Model, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	log.Debug().Int("messages", len(messages)).Msg("Generating content")
	return llm.GenerateContent(ctx, messages, options...)
}
