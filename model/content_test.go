package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContentStringForm(t *testing.T) {
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(`"hello"`), &c))
	assert.False(t, c.IsBlocks())
	assert.Equal(t, "hello", c.PlainText())

	parts := c.Parts()
	require.Len(t, parts, 1)
	assert.Equal(t, TextBlock{Text: "hello"}, parts[0])
}

func TestMessageContentBlockForm(t *testing.T) {
	raw := `[
		{"type": "text", "text": "look at this"},
		{"type": "image", "media_type": "image/png", "data": "aGk="},
		{"type": "document", "data": "cGRm"}
	]`
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	require.True(t, c.IsBlocks())

	parts := c.Parts()
	require.Len(t, parts, 3)
	assert.Equal(t, TextBlock{Text: "look at this"}, parts[0])
	assert.Equal(t, ImageBlock{MediaType: "image/png", Data: "aGk="}, parts[1])
	// Documents default to PDF.
	assert.Equal(t, DocumentBlock{MediaType: MediaTypePDF, Data: "cGRm"}, parts[2])

	assert.Equal(t, "look at this", c.PlainText())
}

func TestMessageContentToolBlocks(t *testing.T) {
	raw := `[
		{"type": "tool_use", "id": "call_1", "name": "get_weather", "input": {"city": "Berlin"}},
		{"type": "tool_result", "tool_use_id": "call_1", "content": "12 degrees"}
	]`
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	parts := c.Parts()
	require.Len(t, parts, 2)

	use, ok := parts[0].(ToolUseBlock)
	require.True(t, ok)
	assert.Equal(t, "call_1", use.ID)
	assert.Equal(t, "get_weather", use.Name)
	assert.Equal(t, map[string]any{"city": "Berlin"}, use.Input)

	res, ok := parts[1].(ToolResultBlock)
	require.True(t, ok)
	assert.Equal(t, "call_1", res.ToolUseID)
	assert.Equal(t, "12 degrees", res.Content)
}

func TestMessageContentRejectsBadBlocks(t *testing.T) {
	cases := []string{
		`[{"type": "image", "media_type": "image/tiff", "data": "x"}]`,
		`[{"type": "document", "media_type": "text/plain", "data": "x"}]`,
		`[{"type": "hologram"}]`,
		`[{"text": "missing type"}]`,
		`42`,
	}
	for _, raw := range cases {
		var c MessageContent
		assert.Error(t, json.Unmarshal([]byte(raw), &c), "input %s", raw)
	}
}

func TestMessageContentMarshalRoundTrip(t *testing.T) {
	c := Blocks(
		TextBlock{Text: "hi"},
		ImageBlock{MediaType: "image/jpeg", Data: "aGk="},
	)
	data, err := json.Marshal(c)
	require.NoError(t, err)

	var back MessageContent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, c.Parts(), back.Parts())

	// The string form stays a bare string on the wire.
	data, err = json.Marshal(Text("plain"))
	require.NoError(t, err)
	assert.Equal(t, `"plain"`, string(data))
}

func TestChatRequestValidate(t *testing.T) {
	req := &ChatRequest{}
	assert.Error(t, req.Validate())

	req.Messages = []ChatMessage{{Role: "user", Content: Text("hi")}}
	assert.NoError(t, req.Validate())

	bad := 2.5
	req.Temperature = &bad
	assert.Error(t, req.Validate())

	ok := 2.0
	req.Temperature = &ok
	assert.NoError(t, req.Validate())
}

func TestChatRequestApplyDefaults(t *testing.T) {
	req := &ChatRequest{}
	req.ApplyDefaults()
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)

	req = &ChatRequest{MaxTokens: 100}
	req.ApplyDefaults()
	assert.Equal(t, 100, req.MaxTokens)
}

func TestUsageDeltaApplyLastWriterWins(t *testing.T) {
	var usage Usage
	InputOnly(25).Apply(&usage)
	assert.Equal(t, Usage{InputTokens: 25}, usage)

	// Output-only delta keeps the earlier input value.
	OutputOnly(10).Apply(&usage)
	assert.Equal(t, Usage{InputTokens: 25, OutputTokens: 10}, usage)

	// A later complete report overwrites both fields.
	UsageOf(30, 40).Apply(&usage)
	assert.Equal(t, Usage{InputTokens: 30, OutputTokens: 40}, usage)

	var nilDelta *UsageDelta
	nilDelta.Apply(&usage)
	assert.Equal(t, Usage{InputTokens: 30, OutputTokens: 40}, usage)
}

func TestStreamChunkTerminal(t *testing.T) {
	assert.True(t, StreamChunk{Type: ChunkTypeDone}.Terminal())
	assert.True(t, StreamChunk{Type: ChunkTypeError}.Terminal())
	assert.False(t, StreamChunk{Type: ChunkTypeContentDelta}.Terminal())
	assert.False(t, StreamChunk{Type: ChunkTypeCommandResponse}.Terminal())
}
