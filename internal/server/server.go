package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"notes-rag/internal/config"
	"notes-rag/internal/helper"
	"notes-rag/internal/models"
)

const (
	MsgUnsupportedMediaType = "Unsupported file type. Only PDF and TXT are supported."
	MsgMissingCredential    = "OpenAI API key not set in environment variable OPENAI_API_KEY."
	MsgUpstream             = "Upstream service error"
	MsgUploadTooLarge       = "Uploaded file is too large"

	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// Service is the pipeline the handlers drive.
type Service interface {
	Ingest(ctx context.Context, filename, contentType string, data []byte) (*models.IngestResult, error)
	Query(ctx context.Context, question string) (*models.QueryResponse, error)
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	svc            Service
	maxUploadBytes int64
}

func NewHandler(svc Service, cfg *config.ServerConfig) *Handler {
	return &Handler{svc: svc, maxUploadBytes: cfg.MaxUploadMB << 20}
}

// NewRouter builds the gin engine with CORS, request ids and access logging.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = h.maxUploadBytes
	r.Use(gin.Recovery(), requestID(), accessLog(), cors.New(corsConfig()))
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/upload", h.Upload)
	r.POST("/query", h.Query)
	r.GET("/health", h.Health)
}

type UploadResponse struct {
	Filename  string   `json:"filename"`
	NumChunks int      `json:"num_chunks"`
	Chunks    []string `json:"chunks"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		sendError(c, fmt.Errorf("%w: file upload required: %v", models.ErrMalformedInput, err), err)
		return
	}
	file, err := header.Open()
	if err != nil {
		sendError(c, fmt.Errorf("%w: failed to open upload: %v", models.ErrMalformedInput, err), err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		sendError(c, fmt.Errorf("%w: failed to read upload: %v", models.ErrMalformedInput, err), err)
		return
	}

	result, err := h.svc.Ingest(c.Request.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		sendError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		Filename:  result.Filename,
		NumChunks: len(result.Chunks),
		Chunks:    result.Chunks,
	})
}

func (h *Handler) Query(c *gin.Context) {
	question := c.PostForm("question")
	if strings.TrimSpace(question) == "" {
		sendError(c, fmt.Errorf("%w: question is required", models.ErrMalformedInput), nil)
		return
	}

	resp, err := h.svc.Query(c.Request.Context(), question)
	if err != nil {
		sendError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Health(c *gin.Context) {
	n, err := h.svc.Count(c.Request.Context())
	if err != nil {
		sendError(c, fmt.Errorf("%w: count chunks: %v", models.ErrUpstream, err), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "chunks": n})
}

// sendError maps pipeline errors to status codes. cause is the raw transport
// error, when there is one, used to detect oversized bodies.
func sendError(c *gin.Context, err error, cause error) {
	status := http.StatusInternalServerError
	detail := MsgUpstream

	var tooLarge *http.MaxBytesError
	switch {
	case cause != nil && errors.As(cause, &tooLarge):
		status, detail = http.StatusRequestEntityTooLarge, MsgUploadTooLarge
	case errors.Is(err, models.ErrUnsupportedMediaType):
		status, detail = http.StatusBadRequest, MsgUnsupportedMediaType
	case errors.Is(err, models.ErrMalformedInput):
		status, detail = http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrDuplicateDocument):
		status, detail = http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrMissingCredential):
		detail = MsgMissingCredential
	}

	log.Error().
		Err(err).
		Int("status", status).
		Str(requestIDKey, c.GetString(requestIDKey)).
		Msg("Request failed")
	c.AbortWithStatusJSON(status, ErrorResponse{Detail: detail})
}

func corsConfig() cors.Config {
	return cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			var err error
			if id, err = helper.GenerateUUID(); err != nil {
				log.Warn().Err(err).Msg("Could not generate request id")
			}
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str(requestIDKey, c.GetString(requestIDKey)).
			Msg("Handled request")
	}
}
