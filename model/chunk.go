package model

import "encoding/json"

type (
	// StreamChunk is one canonical streaming event. Type selects which of the
	// optional fields are populated. Allowed Type values are "content_delta",
	// "usage", "done", "error" and "command_response".
	StreamChunk struct {
		Type    string         `json:"type"`
		Content string         `json:"content,omitempty"`
		Model   string         `json:"model,omitempty"`
		Usage   *UsageDelta    `json:"usage,omitempty"`
		Error   string         `json:"error,omitempty"`
		Command string         `json:"command,omitempty"`
		Result  map[string]any `json:"result,omitempty"`
	}

	// UsageDelta is a partial usage report. Fields are pointers so an absent
	// field never clobbers a previously reported value: consumers reduce
	// deltas last-writer-wins per field.
	UsageDelta struct {
		InputTokens  *int `json:"input_tokens,omitempty"`
		OutputTokens *int `json:"output_tokens,omitempty"`
	}
)

// Stream chunk kinds.
const (
	ChunkTypeContentDelta    = "content_delta"
	ChunkTypeUsage           = "usage"
	ChunkTypeDone            = "done"
	ChunkTypeError           = "error"
	ChunkTypeCommandResponse = "command_response"
)

// Terminal reports whether the chunk ends a stream.
func (c StreamChunk) Terminal() bool {
	return c.Type == ChunkTypeDone || c.Type == ChunkTypeError
}

// Apply folds the delta into the accumulated usage, overwriting only the
// fields the delta carries.
func (d *UsageDelta) Apply(u *Usage) {
	if d == nil {
		return
	}
	if d.InputTokens != nil {
		u.InputTokens = *d.InputTokens
	}
	if d.OutputTokens != nil {
		u.OutputTokens = *d.OutputTokens
	}
}

// UsageOf builds a delta carrying both fields. Helper for translators that
// always report complete usage.
func UsageOf(input, output int) *UsageDelta {
	return &UsageDelta{InputTokens: &input, OutputTokens: &output}
}

// InputOnly builds a delta carrying only the input token count.
func InputOnly(input int) *UsageDelta {
	return &UsageDelta{InputTokens: &input}
}

// OutputOnly builds a delta carrying only the output token count.
func OutputOnly(output int) *UsageDelta {
	return &UsageDelta{OutputTokens: &output}
}

// Encode renders the chunk as its SSE JSON payload.
func (c StreamChunk) Encode() []byte {
	data, err := json.Marshal(c)
	if err != nil {
		// StreamChunk contains only marshalable fields; this is unreachable
		// for chunks built by the gateway.
		return []byte(`{"type":"error","error":"chunk encoding failed"}`)
	}
	return data
}
