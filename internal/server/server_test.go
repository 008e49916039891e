package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tmc/langchaingo/llms"

	"notes-rag/internal/chromemdb"
	"notes-rag/internal/config"
	"notes-rag/internal/llmservice"
	"notes-rag/internal/models"
	"notes-rag/internal/rag"
	"notes-rag/internal/server"
)

type lengthEmbedder struct{}

func (lengthEmbedder) vector(text string) []float32 {
	return []float32{float32(len(text)%7) + 1, float32(strings.Count(text, "e")) + 1, 1}
}

func (e lengthEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e lengthEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

type cannedModel struct{}

func (cannedModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: " It depends. "}}}, nil
}

func (m cannedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type testEnv struct {
	router *gin.Engine
	svc    *rag.RAG
}

func newTestEnv(t *testing.T, generator rag.AnswerGenerator, mutate func(*config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	store, err := chromemdb.NewVectorDBManager(&config.VectorStoreConfig{InMemory: true}, cfg.RAG.Collection)
	if err != nil {
		t.Fatalf("NewVectorDBManager() error = %v", err)
	}
	if generator == nil {
		generator = llmservice.NewGeneratorWithModel(cannedModel{}, cfg.InferenceLLM.MaxTokens)
	}
	svc := rag.NewRAG(store, lengthEmbedder{}, generator, &cfg.RAG)
	t.Cleanup(func() { svc.Close() })

	return &testEnv{
		router: server.NewRouter(server.NewHandler(svc, &cfg.Server)),
		svc:    svc,
	}
}

func uploadRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func queryRequest(question string) *http.Request {
	form := url.Values{"question": {question}}
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func serve(env *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body server.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body %q: %v", rec.Body.String(), err)
	}
	return body.Detail
}

func TestUploadText(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	content := strings.Repeat("lecture notes ", 50) // 700 characters

	rec := serve(env, uploadRequest(t, "week1.txt", "text/plain", []byte(content)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got server.UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Filename != "week1.txt" || got.NumChunks != 2 || len(got.Chunks) != 2 {
		t.Errorf("unexpected response: %+v", got)
	}
	if strings.Join(got.Chunks, "") != content {
		t.Error("chunks do not reassemble the upload")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestUploadUnsupportedType(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := serve(env, uploadRequest(t, "diagram.png", "image/png", []byte{0x89, 'P', 'N', 'G'}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decodeDetail(t, rec); got != server.MsgUnsupportedMediaType {
		t.Errorf("detail = %q", got)
	}
}

func TestUploadBadInput(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{
			name: "missing file field",
			req:  queryRequest("not a file"),
		},
		{
			name: "invalid utf-8",
			req:  uploadRequest(t, "bad.txt", "text/plain", []byte{0xff, 0xfe}),
		},
		{
			name: "broken pdf",
			req:  uploadRequest(t, "bad.pdf", "application/pdf", []byte("%PDF-garbage")),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.URL.Path = "/upload"
			rec := serve(env, tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.Config) { c.Server.MaxUploadMB = 1 })

	rec := serve(env, uploadRequest(t, "big.txt", "text/plain", bytes.Repeat([]byte("a"), 2<<20)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestUploadDuplicateRejected(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.Config) { c.RAG.OnDuplicate = config.DuplicateReject })

	if rec := serve(env, uploadRequest(t, "a.txt", "text/plain", []byte("one"))); rec.Code != http.StatusOK {
		t.Fatalf("first upload status = %d", rec.Code)
	}
	rec := serve(env, uploadRequest(t, "a.txt", "text/plain", []byte("two")))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestQueryEmptyStore(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := serve(env, queryRequest("What is recursion?"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["top_chunks"]) != "[]" {
		t.Errorf("top_chunks = %s, want []", raw["top_chunks"])
	}
	if string(raw["answer"]) != `"It depends."` {
		t.Errorf("answer = %s", raw["answer"])
	}
	if string(raw["question"]) != `"What is recursion?"` {
		t.Errorf("question = %s", raw["question"])
	}
}

func TestQueryAfterUpload(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	content := strings.Repeat("x", 2900) // six chunks

	if rec := serve(env, uploadRequest(t, "notes.txt", "text/plain; charset=utf-8", []byte(content))); rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec := serve(env, queryRequest("x"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got models.QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.TopChunks) != 5 {
		t.Fatalf("got %d top chunks, want 5", len(got.TopChunks))
	}
	for _, tc := range got.TopChunks {
		if tc.Metadata.Filename != "notes.txt" {
			t.Errorf("unexpected metadata: %+v", tc.Metadata)
		}
	}
}

func TestQueryMissingCredential(t *testing.T) {
	generator, err := llmservice.NewGenerator(&config.LLMConfig{Model: "gpt-3.5-turbo", MaxTokens: 300})
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, generator, nil)

	rec := serve(env, queryRequest("anything"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decodeDetail(t, rec); got != server.MsgMissingCredential {
		t.Errorf("detail = %q", got)
	}
}

func TestQueryMissingQuestion(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := serve(env, queryRequest("   "))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/query", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := serve(env, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSAllowedHeadersAreExplicit(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
	req.Header.Set("Origin", "https://notes.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type,X-Request-ID")
	rec := serve(env, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q", got)
	}
	allowed := strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers"))
	if strings.Contains(allowed, "*") {
		t.Errorf("Access-Control-Allow-Headers = %q, wildcard is ignored on credentialed requests", allowed)
	}
	for _, h := range []string{"content-type", "x-request-id"} {
		if !strings.Contains(allowed, h) {
			t.Errorf("Access-Control-Allow-Headers = %q, missing %s", allowed, h)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	serve(env, uploadRequest(t, "a.txt", "text/plain", []byte("short")))

	rec := serve(env, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Chunks int    `json:"chunks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Chunks != 1 {
		t.Errorf("unexpected health body: %+v", body)
	}
}
