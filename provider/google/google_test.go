package google

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuber-it/heinzel-ki/model"
)

func testTranslator() *translator {
	return &translator{
		name:     "google",
		apiBase:  "https://generativelanguage.googleapis.com/v1beta",
		apiKey:   "test-key",
		defModel: "gemini-2.0-flash",
	}
}

func TestMapRole(t *testing.T) {
	assert.Equal(t, "model", MapRole("assistant"))
	assert.Equal(t, "user", MapRole("user"))
	assert.Equal(t, "user", MapRole("system"))
	assert.Equal(t, "user", MapRole("tool"))
}

func TestMergeContents(t *testing.T) {
	contents := MergeContents([]model.ChatMessage{
		{Role: "user", Content: model.Text("a")},
		{Role: "tool", Content: model.Text("b")},
		{Role: "assistant", Content: model.Text("c")},
		{Role: "assistant", Content: model.Text("d")},
		{Role: "user", Content: model.Text("e")},
	})
	require.Len(t, contents, 3)

	// user+tool merge, the two assistant turns merge.
	assert.Equal(t, "user", contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "a", contents[0].Parts[0]["text"])
	assert.Equal(t, "b", contents[0].Parts[1]["text"])

	assert.Equal(t, "model", contents[1].Role)
	assert.Len(t, contents[1].Parts, 2)

	assert.Equal(t, "user", contents[2].Role)
	assert.Len(t, contents[2].Parts, 1)
}

func TestMergeContentsProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	roleGen := gen.SliceOf(gen.OneConstOf("user", "assistant", "system", "tool"))

	properties.Property("merged roles alternate and no part is lost", prop.ForAll(
		func(roles []string) bool {
			msgs := make([]model.ChatMessage, len(roles))
			for i, r := range roles {
				msgs[i] = model.ChatMessage{Role: r, Content: model.Text("x")}
			}
			contents := MergeContents(msgs)
			parts := 0
			for i, c := range contents {
				if c.Role != "user" && c.Role != "model" {
					return false
				}
				if i > 0 && c.Role == contents[i-1].Role {
					return false
				}
				parts += len(c.Parts)
			}
			return parts == len(msgs)
		},
		roleGen,
	))

	properties.TestingRun(t)
}

func TestEncodeParts(t *testing.T) {
	parts := encodeParts(model.Blocks(
		model.TextBlock{Text: "look"},
		model.ImageBlock{MediaType: "image/png", Data: "aW1n"},
		model.DocumentBlock{MediaType: model.MediaTypePDF, Data: "cGRm"},
	))
	require.Len(t, parts, 3)
	assert.Equal(t, "look", parts[0]["text"])

	img := parts[1]["inline_data"].(map[string]any)
	assert.Equal(t, "image/png", img["mime_type"])
	assert.Equal(t, "aW1n", img["data"])

	doc := parts[2]["inline_data"].(map[string]any)
	assert.Equal(t, model.MediaTypePDF, doc["mime_type"])
}

func TestEncodeRequest(t *testing.T) {
	tr := testTranslator()
	temp := 0.5
	req := &model.ChatRequest{
		Messages:    []model.ChatMessage{{Role: "user", Content: model.Text("hi")}},
		MaxTokens:   128,
		System:      "be terse",
		Temperature: &temp,
		Tools:       []map[string]any{{"name": "search"}},
	}

	payload, err := tr.EncodeRequest(req, false)
	require.NoError(t, err)
	m := payload.(map[string]any)

	sys := m["system_instruction"].(map[string]any)
	assert.Equal(t, "be terse", sys["parts"].([]map[string]any)[0]["text"])

	genConfig := m["generationConfig"].(map[string]any)
	assert.Equal(t, 128, genConfig["maxOutputTokens"])
	assert.Equal(t, 0.5, genConfig["temperature"])
	assert.NotContains(t, genConfig, "topP")

	tools := m["tools"].([]map[string]any)
	require.Len(t, tools, 1)
	assert.Len(t, tools[0]["function_declarations"], 1)
}

func TestEncodeRequestOmitsEmptySections(t *testing.T) {
	payload, err := testTranslator().EncodeRequest(&model.ChatRequest{
		Messages: []model.ChatMessage{{Role: "user", Content: model.Text("hi")}},
	}, false)
	require.NoError(t, err)
	m := payload.(map[string]any)
	assert.NotContains(t, m, "generationConfig")
	assert.NotContains(t, m, "system_instruction")
	assert.NotContains(t, m, "tools")
}

func TestEndpoint(t *testing.T) {
	tr := testTranslator()
	assert.Equal(t,
		tr.apiBase+"/models/gemini-2.5-pro:generateContent?key=test-key",
		tr.Endpoint("gemini-2.5-pro", false))
	assert.Equal(t,
		tr.apiBase+"/models/gemini-2.0-flash:streamGenerateContent?alt=sse&key=test-key",
		tr.Endpoint("", true))
}

func TestDecodeResponse(t *testing.T) {
	body := `{
		"modelVersion": "gemini-2.0-flash-001",
		"candidates": [{
			"finishReason": "STOP",
			"content": {"parts": [
				{"text": "Hello"},
				{"functionCall": {"name": "search", "args": {"q": "go"}}}
			]}
		}],
		"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 3}
	}`
	resp, err := testTranslator().DecodeResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "gemini-2.0-flash-001", resp.Model)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 8, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)

	require.Len(t, resp.ContentBlocks, 2)
	assert.Equal(t, "text", resp.ContentBlocks[0]["type"])
	assert.Equal(t, "tool_use", resp.ContentBlocks[1]["type"])
	assert.Equal(t, "search", resp.ContentBlocks[1]["name"])
}

func TestDecodeResponseFallbacks(t *testing.T) {
	resp, err := testTranslator().DecodeResponse([]byte(`{"candidates":[{"content":{"parts":[{"text":"x"}]}}]}`))
	require.NoError(t, err)
	// No modelVersion falls back to the configured default; no finishReason
	// reads as a normal stop.
	assert.Equal(t, "gemini-2.0-flash", resp.Model)
	assert.Equal(t, "stop", resp.StopReason)
}

func TestParseStreamLine(t *testing.T) {
	tr := testTranslator()
	cases := []struct {
		name string
		data string
		want *model.StreamChunk
	}{
		{
			name: "content delta",
			data: `{"modelVersion":"gemini-2.0-flash-001","candidates":[{"content":{"parts":[{"text":"Hi"}]}}]}`,
			want: &model.StreamChunk{Type: model.ChunkTypeContentDelta, Content: "Hi", Model: "gemini-2.0-flash-001"},
		},
		{
			name: "finish reason ends the stream",
			data: `{"candidates":[{"finishReason":"STOP","content":{"parts":[]}}]}`,
			want: &model.StreamChunk{Type: model.ChunkTypeDone},
		},
		{
			name: "max tokens ends the stream",
			data: `{"candidates":[{"finishReason":"MAX_TOKENS","content":{"parts":[]}}]}`,
			want: &model.StreamChunk{Type: model.ChunkTypeDone},
		},
		{
			name: "usage-only frame",
			data: `{"usageMetadata":{"promptTokenCount":8,"candidatesTokenCount":3}}`,
			want: &model.StreamChunk{Type: model.ChunkTypeUsage, Usage: model.UsageOf(8, 3)},
		},
		{name: "empty frame skipped", data: `{}`},
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
