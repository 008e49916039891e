package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"notes-rag/internal/chromemdb"
	"notes-rag/internal/config"
	"notes-rag/internal/db"
	"notes-rag/internal/embedding"
	"notes-rag/internal/helper"
	"notes-rag/internal/llmservice"
	"notes-rag/internal/parser"
	"notes-rag/internal/rag"
	"notes-rag/internal/server"
)

const (
	configFilePath = "./configs/config.yaml"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", configFilePath, "Path to the YAML config file")
	addr := flag.String("addr", "", "Listen address, overrides server.addr")
	filePath := flag.String("file", "", "Path to a document file to ingest")
	query := flag.String("query", "", "Query to be answered")
	dryRun := flag.Bool("dry-run", false, "Dry run, only print the chunks of -file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogger(&cfg.Log)
	log.Debug().Interface("config", cfg.Redacted()).Msg("Loaded config")

	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either a document file using the -file flag or a query using the -query flag, but not both")
	}

	ctx := context.Background()

	if *filePath != "" && *dryRun {
		printChunks(*filePath, cfg)
		return
	}

	svc, err := newRAG(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing pipeline")
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing vector store")
		}
	}()

	switch {
	case *filePath != "":
		storeFile(ctx, svc, *filePath)
	case *query != "":
		performRAG(ctx, svc, *query)
	default:
		runServer(svc, cfg)
	}
}

func setupLogger(logCfg *config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(logCfg.Level)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if logCfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}
}

// newRAG wires the store, embedder and generator named by cfg
func newRAG(ctx context.Context, cfg *config.Config) (*rag.RAG, error) {
	var store rag.Store
	switch cfg.VectorStore.Type {
	case config.StoreChromem:
		m, err := chromemdb.NewVectorDBManager(&cfg.VectorStore, cfg.RAG.Collection)
		if err != nil {
			return nil, err
		}
		store = m
	case config.StorePgvector:
		s, err := db.NewStore(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown vector store type %q", cfg.VectorStore.Type)
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		store.Close()
		return nil, err
	}

	generator, err := llmservice.NewGenerator(&cfg.InferenceLLM)
	if err != nil {
		store.Close()
		return nil, err
	}

	return rag.NewRAG(store, embedder, generator, &cfg.RAG), nil
}

func runServer(svc *rag.RAG, cfg *config.Config) {
	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(server.NewHandler(svc, &cfg.Server))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	log.Info().Str("addr", cfg.Server.Addr).Msg("Starting server")
	if err := serveUntilSignal(srv, quit, cfg.Server.ShutdownTimeout); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}
	log.Info().Msg("Server exited")
}

// serveUntilSignal runs srv until a signal arrives on quit or the listener fails.
// Listener errors are returned so the caller's deferred cleanup still runs.
func serveUntilSignal(srv *http.Server, quit <-chan os.Signal, timeout time.Duration) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func readDocument(filePath string) ([]byte, string) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Str("file", filePath).Msg("Error reading document")
	}
	return data, parser.ContentTypeFromPath(filePath)
}

func printChunks(filePath string, cfg *config.Config) {
	data, contentType := readDocument(filePath)
	chunks, err := rag.NewRAG(nil, nil, nil, &cfg.RAG).Chunk(filepath.Base(filePath), contentType, data)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing document")
	}
	log.Info().Int("chunks", len(chunks)).Msg("Parsed content")
	helper.PrettyPrint(chunks)
}

func storeFile(ctx context.Context, svc *rag.RAG, filePath string) {
	data, contentType := readDocument(filePath)
	result, err := svc.Ingest(ctx, filepath.Base(filePath), contentType, data)
	if err != nil {
		log.Fatal().Err(err).Msg("Error storing document")
	}
	log.Info().Str("filename", result.Filename).Int("chunks", len(result.Chunks)).Msg("Stored document")
}

func performRAG(ctx context.Context, svc *rag.RAG, query string) {
	response, err := svc.Query(ctx, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", rag.Sources(response.TopChunks))

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Answer)
}
