package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuber-it/heinzel-ki/config"
	"github.com/cuber-it/heinzel-ki/model"
	"github.com/cuber-it/heinzel-ki/retry"
)

func testTranslator() *translator {
	return &translator{
		name:       "anthropic",
		apiBase:    "https://api.anthropic.com/v1",
		apiKey:     "test-key",
		apiVersion: DefaultAPIVersion,
		defModel:   "claude-sonnet-4",
	}
}

func TestHeaders(t *testing.T) {
	h := testTranslator().Headers()
	assert.Equal(t, "test-key", h.Get("x-api-key"))
	assert.Equal(t, DefaultAPIVersion, h.Get("anthropic-version"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
}

func TestEncodeRequest(t *testing.T) {
	tr := testTranslator()
	temp := 0.7
	req := &model.ChatRequest{
		Messages:    []model.ChatMessage{{Role: "user", Content: model.Text("hi")}},
		MaxTokens:   256,
		System:      "be terse",
		Temperature: &temp,
		Tools:       []map[string]any{{"name": "search"}},
	}

	payload, err := tr.EncodeRequest(req, false)
	require.NoError(t, err)
	m := payload.(map[string]any)

	// No model on the request falls back to the configured default.
	assert.Equal(t, "claude-sonnet-4", m["model"])
	assert.Equal(t, 256, m["max_tokens"])
	assert.Equal(t, "be terse", m["system"])
	assert.Equal(t, 0.7, m["temperature"])
	assert.Len(t, m["tools"], 1)
	assert.NotContains(t, m, "stream")
	assert.NotContains(t, m, "top_p")
	assert.NotContains(t, m, "stop_sequences")

	// A single text block collapses to a bare string.
	msgs := m["messages"].([]map[string]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0]["content"])

	payload, err = tr.EncodeRequest(req, true)
	require.NoError(t, err)
	assert.Equal(t, true, payload.(map[string]any)["stream"])
}

func TestEncodeContentBlocks(t *testing.T) {
	msgs := encodeMessages([]model.ChatMessage{{
		Role: "user",
		Content: model.Blocks(
			model.TextBlock{Text: "what is this?"},
			model.ImageBlock{MediaType: "image/png", Data: "aW1n"},
			model.DocumentBlock{MediaType: model.MediaTypePDF, Data: "cGRm"},
		),
	}})
	require.Len(t, msgs, 1)
	blocks := msgs[0]["content"].([]map[string]any)
	require.Len(t, blocks, 3)

	assert.Equal(t, "text", blocks[0]["type"])
	assert.Equal(t, "image", blocks[1]["type"])
	src := blocks[1]["source"].(map[string]any)
	assert.Equal(t, "base64", src["type"])
	assert.Equal(t, "image/png", src["media_type"])
	assert.Equal(t, "document", blocks[2]["type"])
}

func TestEncodeToolBlocks(t *testing.T) {
	msgs := encodeMessages([]model.ChatMessage{
		{Role: "assistant", Content: model.Blocks(
			model.ToolUseBlock{ID: "tu_1", Name: "search", Input: map[string]any{"q": "go"}},
		)},
		{Role: "user", Content: model.Blocks(
			model.ToolResultBlock{ToolUseID: "tu_1", Content: "42 results"},
		)},
	})
	use := msgs[0]["content"].([]map[string]any)[0]
	assert.Equal(t, "tool_use", use["type"])
	assert.Equal(t, "search", use["name"])
	res := msgs[1]["content"].([]map[string]any)[0]
	assert.Equal(t, "tool_result", res["type"])
	assert.Equal(t, "tu_1", res["tool_use_id"])
}

func TestDecodeResponse(t *testing.T) {
	body := `{
		"model": "claude-sonnet-4-20250514",
		"stop_reason": "end_turn",
		"content": [
			{"type": "text", "text": "Hello"},
			{"type": "text", "text": " there"}
		],
		"usage": {"input_tokens": 10, "output_tokens": 4}
	}`
	resp, err := testTranslator().DecodeResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, "claude-sonnet-4-20250514", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Len(t, resp.ContentBlocks, 2)
}

func TestParseStreamLine(t *testing.T) {
	tr := testTranslator()
	cases := []struct {
		name string
		data string
		want *model.StreamChunk
	}{
		{
			name: "message start carries model and input tokens",
			data: `{"type":"message_start","message":{"model":"claude-sonnet-4","usage":{"input_tokens":9}}}`,
			want: &model.StreamChunk{Type: model.ChunkTypeUsage, Model: "claude-sonnet-4", Usage: model.UsageOf(9, 0)},
		},
		{
			name: "content delta",
			data: `{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`,
			want: &model.StreamChunk{Type: model.ChunkTypeContentDelta, Content: "Hi"},
		},
		{
			name: "empty delta skipped",
			data: `{"type":"content_block_delta","delta":{"type":"text_delta","text":""}}`,
		},
		{
			name: "message delta reports output tokens",
			data: `{"type":"message_delta","usage":{"output_tokens":21}}`,
			want: &model.StreamChunk{Type: model.ChunkTypeUsage, Usage: model.OutputOnly(21)},
		},
		{
			name: "message stop ends the stream",
			data: `{"type":"message_stop"}`,
			want: &model.StreamChunk{Type: model.ChunkTypeDone},
		},
		{name: "ping skipped", data: `{"type":"ping"}`},
		{name: "garbage skipped", data: `{not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunk, err := tr.ParseStreamLine(tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, chunk)
		})
	}
}

func newTestProvider(t *testing.T, upstream string) *Provider {
	t.Helper()
	cfg := &config.Provider{
		Name:         "anthropic",
		APIBase:      upstream,
		DefaultModel: "claude-sonnet-4",
		Models:       []string{"claude-sonnet-4", "claude-3-5-haiku"},
		Retry:        retry.DefaultConfig(),
	}
	return New(cfg, "test-key")
}

func TestCreateBatchDefaults(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/batches", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"id":"batch_1","processing_status":"in_progress","request_counts":{"total":2}}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	st, err := p.CreateBatch(context.Background(), &model.BatchCreateRequest{
		Requests: []model.BatchRequestItem{
			{CustomID: "req-1", Params: map[string]any{"model": "claude-3-5-haiku"}},
			{Params: map[string]any{"max_tokens": 100}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "batch_1", st.ID)
	assert.Equal(t, "in_progress", st.Status)
	assert.Equal(t, 2, st.TotalRequests)

	items := got["requests"].([]any)
	require.Len(t, items, 2)

	first := items[0].(map[string]any)
	assert.Equal(t, "req-1", first["custom_id"])
	assert.Equal(t, "claude-3-5-haiku", first["params"].(map[string]any)["model"])

	// A missing custom id is filled with a generated one, and the params
	// inherit the default model.
	second := items[1].(map[string]any)
	assert.Len(t, second["custom_id"], 36)
	assert.Equal(t, "claude-sonnet-4", second["params"].(map[string]any)["model"])
}

func TestBatchResultsParsesJSONLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/batches/batch_1/results", r.URL.Path)
		w.Write([]byte(`{"custom_id":"a","result":{"type":"succeeded"}}
{"custom_id":"b","error":{"type":"invalid_request"}}
`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res, err := p.BatchResults(context.Background(), "batch_1")
	require.NoError(t, err)
	assert.Equal(t, "batch_1", res.BatchID)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "a", res.Results[0].CustomID)
	assert.Equal(t, "succeeded", res.Results[0].Result["type"])
	assert.Equal(t, "invalid_request", res.Results[1].Error["type"])
}

func TestCountTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/count_tokens", r.URL.Path)
		w.Write([]byte(`{"input_tokens": 42}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res, err := p.CountTokens(context.Background(), &model.TokenCountRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: model.Text("hi")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res.InputTokens)
	assert.Equal(t, "claude-sonnet-4", res.Model)
}
