package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"notes-rag/internal/models"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	StoreChromem  = "chromem"
	StorePgvector = "pgvector"

	DuplicateReplace = "replace"
	DuplicateReject  = "reject"
)

type Config struct {
	Server       ServerConfig      `yaml:"server"`
	RAG          RAGConfig         `yaml:"rag"`
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	Database     DatabaseConfig    `yaml:"database"`
	Log          LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxUploadMB     int64         `yaml:"max_upload_mb"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RAGConfig struct {
	ChunkSize       int    `yaml:"chunk_size"`
	TopK            int    `yaml:"top_k"`
	Collection      string `yaml:"collection"`
	OnDuplicate     string `yaml:"on_duplicate"`
	ExtendedFormats bool   `yaml:"extended_formats"`
}

// LLMConfig describes one model endpoint, either for embeddings or for chat.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type VectorStoreConfig struct {
	Type          string `yaml:"type"`
	Path          string `yaml:"path"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	BackupPath    string `yaml:"backup_path"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// LoadConfig reads the yaml file at path, falling back to defaults when it does
// not exist, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			MaxUploadMB:     32,
			ShutdownTimeout: 5 * time.Second,
		},
		RAG: RAGConfig{
			ChunkSize:   models.DefaultChunkSize,
			TopK:        models.DefaultTopK,
			Collection:  models.DefaultCollection,
			OnDuplicate: DuplicateReplace,
		},
		EmbedLLM: LLMConfig{
			Provider: ProviderOllama,
			BaseURL:  "http://localhost:11434",
			Model:    "all-minilm",
		},
		InferenceLLM: LLMConfig{
			Provider:  ProviderOpenAI,
			Model:     "gpt-3.5-turbo",
			MaxTokens: models.DefaultMaxTokens,
		},
		VectorStore: VectorStoreConfig{
			Type: StoreChromem,
			Path: ".chroma_db",
		},
		Log: LogConfig{
			Level:  "debug",
			Pretty: true,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.InferenceLLM.Key = v
		if cfg.EmbedLLM.Provider == ProviderOpenAI && cfg.EmbedLLM.Key == "" {
			cfg.EmbedLLM.Key = v
		}
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.InferenceLLM.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" && cfg.EmbedLLM.Provider == ProviderOllama {
		cfg.EmbedLLM.BaseURL = v
	}
	if v := os.Getenv("VECTOR_STORE_PATH"); v != "" {
		cfg.VectorStore.Path = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// applyDefaults fills zero values left by a partial yaml file.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = def.Server.MaxUploadMB
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = def.RAG.ChunkSize
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = def.RAG.TopK
	}
	if cfg.RAG.Collection == "" {
		cfg.RAG.Collection = def.RAG.Collection
	}
	if cfg.RAG.OnDuplicate == "" {
		cfg.RAG.OnDuplicate = def.RAG.OnDuplicate
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = def.EmbedLLM.Provider
	}
	if cfg.EmbedLLM.Model == "" && cfg.EmbedLLM.Provider == ProviderOllama {
		cfg.EmbedLLM.Model = def.EmbedLLM.Model
	}
	if cfg.EmbedLLM.BaseURL == "" && cfg.EmbedLLM.Provider == ProviderOllama {
		cfg.EmbedLLM.BaseURL = def.EmbedLLM.BaseURL
	}
	if cfg.InferenceLLM.Model == "" {
		cfg.InferenceLLM.Model = def.InferenceLLM.Model
	}
	if cfg.InferenceLLM.MaxTokens <= 0 {
		cfg.InferenceLLM.MaxTokens = def.InferenceLLM.MaxTokens
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = def.VectorStore.Type
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = def.VectorStore.Path
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.InferenceLLM.Key != "" {
		c.InferenceLLM.Key = "***"
	}
	if c.EmbedLLM.Key != "" {
		c.EmbedLLM.Key = "***"
	}
	if c.VectorStore.EncryptionKey != "" {
		c.VectorStore.EncryptionKey = "***"
	}
	if c.Database.DSN != "" {
		c.Database.DSN = "***"
	}
	return c
}
