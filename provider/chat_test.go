package provider_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuber-it/heinzel-ki/config"
	"github.com/cuber-it/heinzel-ki/costs"
	"github.com/cuber-it/heinzel-ki/dialog"
	"github.com/cuber-it/heinzel-ki/model"
	"github.com/cuber-it/heinzel-ki/provider"
	"github.com/cuber-it/heinzel-ki/retry"
)

// echoTranslator speaks a trivial JSON protocol: the canonical types go over
// the wire unchanged. That keeps these tests about the base plumbing, not
// about any one upstream dialect.
type echoTranslator struct {
	url string
}

func (tr *echoTranslator) Headers() http.Header {
	h := http.Header{}
	h.Set("X-Api-Key", "test-key")
	return h
}

func (tr *echoTranslator) Endpoint(model string, stream bool) string {
	if stream {
		return tr.url + "/stream"
	}
	return tr.url + "/chat"
}

func (tr *echoTranslator) EncodeRequest(req *model.ChatRequest, stream bool) (any, error) {
	return map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   stream,
	}, nil
}

func (tr *echoTranslator) DecodeResponse(body []byte) (*model.ChatResponse, error) {
	var resp model.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (tr *echoTranslator) ParseStreamLine(data string) (*model.StreamChunk, error) {
	var chunk model.StreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, err
	}
	if chunk.Type == "" {
		return nil, nil
	}
	return &chunk, nil
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries:    2,
		InitialDelayS: 0.001,
		BackoffFactor: 2.0,
		MaxDelayS:     0.01,
		RetryOn:       []int{429, 500, 502, 503, 504},
	}
}

func newTestBase(t *testing.T, name, upstream string, opts ...provider.Option) (*provider.Base, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Provider{
		Name:         name,
		APIBase:      upstream,
		DefaultModel: "test-model",
		Models:       []string{"test-model", "test-model-mini"},
		Retry:        fastRetry(),
	}
	opts = append(opts, provider.WithDialogLogger(dialog.NewLogger(name, dir, true)))
	return provider.NewBase(cfg, &echoTranslator{url: upstream}, opts...), dir
}

func openStore(t *testing.T) *costs.Store {
	t.Helper()
	url := fmt.Sprintf("sqlite:///%s", filepath.Join(t.TempDir(), "costs.db"))
	s, err := costs.Open(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func chatRequest(text string) *model.ChatRequest {
	return &model.ChatRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: model.Text(text)}},
		Context:  &model.RequestContext{SessionID: "s1", HeinzelID: "h1"},
	}
}

func TestChatSuccess(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("X-Api-Key"))
		json.NewEncoder(w).Encode(model.ChatResponse{
			Content: "hello back",
			Model:   "test-model-2026",
			Usage:   model.Usage{InputTokens: 12, OutputTokens: 7},
		})
	}))
	defer srv.Close()

	store := openStore(t)
	b, dir := newTestBase(t, "anthropic", srv.URL, provider.WithCostStore(store))

	resp, err := b.Chat(context.Background(), chatRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, "test-key", gotAuth.Load())

	// Request and response both land in the dialog log, newest first.
	entries, err := dialog.Read(dir, "anthropic", dialog.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, dialog.TypeResponse, entries[0].Type)
	assert.Equal(t, dialog.TypeRequest, entries[1].Type)
	assert.Equal(t, "s1", entries[0].SessionID)

	// One cost row carrying the upstream-reported model and usage.
	rows, err := store.Query(context.Background(), costs.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "test-model-2026", rows[0].Model)
	assert.Equal(t, 12, rows[0].InputTokens)
	assert.Equal(t, 7, rows[0].OutputTokens)
	assert.Equal(t, costs.StatusSuccess, rows[0].Status)
	assert.Equal(t, "h1", rows[0].HeinzelID)
}

func TestChatValidation(t *testing.T) {
	b, _ := newTestBase(t, "anthropic", "http://127.0.0.1:1")
	_, err := b.Chat(context.Background(), &model.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "messages are required")
}

func TestChatRecoversFromTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "try later", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(model.ChatResponse{Content: "ok"})
	}))
	defer srv.Close()

	b, _ := newTestBase(t, "anthropic", srv.URL)
	resp, err := b.Chat(context.Background(), chatRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.EqualValues(t, 3, calls.Load())
}

func TestChatRateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := openStore(t)
	b, _ := newTestBase(t, "anthropic", srv.URL, provider.WithCostStore(store))

	_, err := b.Chat(context.Background(), chatRequest("hi"))
	var rl *retry.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3, rl.Attempts)
	assert.Len(t, b.RateLimitHits(), 2)

	rows, qerr := store.Query(context.Background(), costs.Filter{})
	require.NoError(t, qerr)
	require.Len(t, rows, 1)
	assert.Equal(t, costs.StatusRateLimit, rows[0].Status)
}

func TestChatNonRetryableBecomesUpstreamError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"unknown model"}}`))
	}))
	defer srv.Close()

	store := openStore(t)
	b, _ := newTestBase(t, "anthropic", srv.URL, provider.WithCostStore(store))

	_, err := b.Chat(context.Background(), chatRequest("hi"))
	ue, ok := model.AsUpstreamError(err)
	require.True(t, ok)
	assert.Equal(t, 400, ue.Status())
	assert.Equal(t, "unknown model", ue.Message())
	assert.EqualValues(t, 1, calls.Load())

	rows, qerr := store.Query(context.Background(), costs.Filter{})
	require.NoError(t, qerr)
	require.Len(t, rows, 1)
	assert.Equal(t, costs.StatusError, rows[0].Status)
	assert.Contains(t, rows[0].ErrorMessage, "unknown model")
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"content_delta","content":"Hel","model":"test-model-2026"}`)
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"content_delta","content":"lo"}`)
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"usage","usage":{"input_tokens":10,"output_tokens":5}}`)
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"done"}`)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	store := openStore(t)
	b, dir := newTestBase(t, "anthropic", srv.URL, provider.WithCostStore(store))

	var chunks []model.StreamChunk
	err := b.ChatStream(context.Background(), chatRequest("hi"), func(c model.StreamChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, chunks, 4)
	assert.Equal(t, model.ChunkTypeContentDelta, chunks[0].Type)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.Equal(t, model.ChunkTypeUsage, chunks[2].Type)
	assert.Equal(t, model.ChunkTypeDone, chunks[3].Type)

	// Accumulated usage and the upstream-reported model end up in the cost row.
	rows, err := store.Query(context.Background(), costs.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "test-model-2026", rows[0].Model)
	assert.Equal(t, 10, rows[0].InputTokens)
	assert.Equal(t, 5, rows[0].OutputTokens)

	// The streaming summary is written as a response entry.
	entries, err := dialog.Read(dir, "anthropic", dialog.Filter{Type: dialog.TypeResponse})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestChatStreamUpstreamFailureYieldsErrorChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	b, _ := newTestBase(t, "anthropic", srv.URL)

	var chunks []model.StreamChunk
	err := b.ChatStream(context.Background(), chatRequest("hi"), func(c model.StreamChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, model.ChunkTypeError, chunks[0].Type)
	assert.Contains(t, chunks[0].Error, "bad request")
}

func TestBaseDefaultsReportNotAvailable(t *testing.T) {
	b, _ := newTestBase(t, "anthropic", "http://127.0.0.1:1")
	ctx := context.Background()

	_, err := b.CountTokens(ctx, &model.TokenCountRequest{})
	var na *provider.NotAvailableError
	require.ErrorAs(t, err, &na)
	assert.Equal(t, "POST /tokens/count", na.Endpoint)
	assert.Equal(t, "anthropic", na.Provider)

	_, err = b.CreateEmbedding(ctx, &model.EmbeddingRequest{})
	assert.ErrorAs(t, err, &na)
	_, err = b.ListBatches(ctx)
	assert.ErrorAs(t, err, &na)
	_, err = b.CreateSpeech(ctx, &model.AudioSpeechRequest{})
	assert.ErrorAs(t, err, &na)
}

func TestAdaptBlocks(t *testing.T) {
	pdf := model.DocumentBlock{
		MediaType: model.MediaTypePDF,
		Data:      base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
	}
	text := model.TextBlock{Text: "keep me"}

	// Native PDF providers pass documents through untouched.
	native, _ := newTestBase(t, "anthropic", "http://127.0.0.1:1")
	out := native.AdaptBlocks([]model.ContentBlock{text, pdf})
	require.Len(t, out, 2)
	assert.Equal(t, pdf, out[1])

	// Others get the extracted-text placeholder instead.
	openai, _ := newTestBase(t, "openai", "http://127.0.0.1:1")
	out = openai.AdaptBlocks([]model.ContentBlock{text, pdf})
	require.Len(t, out, 2)
	assert.Equal(t, text, out[0])
	tb, ok := out[1].(model.TextBlock)
	require.True(t, ok)
	assert.Contains(t, tb.Text, "No PDF extractor installed")

	out = openai.AdaptBlocks([]model.ContentBlock{model.DocumentBlock{MediaType: model.MediaTypePDF, Data: "!!!"}})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].(model.TextBlock).Text, "invalid base64")
}

func TestConnectionLifecycle(t *testing.T) {
	b, _ := newTestBase(t, "anthropic", "http://127.0.0.1:1")

	assert.False(t, b.Connected())
	assert.Equal(t, "disconnected", b.Health().Status)

	st := b.Connect()
	assert.Equal(t, "connected", st.Status)
	assert.Equal(t, "anthropic", st.Provider)
	assert.True(t, b.Connected())
	assert.Equal(t, "ok", b.Health().Status)

	st = b.Disconnect()
	assert.Equal(t, "disconnected", st.Status)
	assert.False(t, b.Connected())

	st = b.Reset()
	assert.True(t, st.Reset)
	assert.True(t, b.Connected())
}
