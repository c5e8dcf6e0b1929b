// Package openai adapts the canonical gateway surface to the OpenAI API.
// Tier 1: chat, chat_stream, models, model detail, token count (local BPE).
// Tier 2: embeddings, batches.
// Tier 3: moderation, audio transcription/translation/speech, images.
package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cuber-it/heinzel-ki/config"
	"github.com/cuber-it/heinzel-ki/model"
	"github.com/cuber-it/heinzel-ki/provider"
)

type (
	// Provider is the OpenAI adapter.
	Provider struct {
		*provider.Base
		tr *translator
	}

	translator struct {
		name     string
		apiBase  string
		apiKey   string
		defModel string
		adapt    func([]model.ContentBlock) []model.ContentBlock
	}
)

var features = map[string]bool{
	"tool_use": true, "vision": true, "web_search": false,
	"citations": false, "thinking": true, "cache_control": false,
	"embeddings": true, "audio": true, "images": true, "moderation": true,
}

// New builds the OpenAI provider from its config.
func New(cfg *config.Provider, apiKey string, opts ...provider.Option) *Provider {
	tr := &translator{
		name:     cfg.Name,
		apiBase:  cfg.APIBase,
		apiKey:   apiKey,
		defModel: cfg.DefaultModel,
	}
	opts = append(opts,
		provider.WithAPIKey(apiKey),
		provider.WithCapabilities(provider.Tiers{
			Core:     []string{"chat", "chat_stream", "models_list", "model_detail", "token_count"},
			Extended: []string{"embeddings", "batches"},
			Specialized: []string{
				"moderation", "audio_transcription", "audio_translation",
				"audio_speech", "image_generation", "image_edit", "image_variation",
			},
		}, features),
	)
	p := &Provider{Base: provider.NewBase(cfg, tr, opts...), tr: tr}
	// Document blocks are pre-adapted to extracted text; OpenAI has no
	// native PDF input.
	tr.adapt = p.AdaptBlocks
	return p
}

// ─── Translator ───

func (t *translator) Headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+t.apiKey)
	h.Set("Content-Type", "application/json")
	return h
}

// bareHeaders returns auth without a content type, for GETs and multipart
// calls where the body sets its own.
func (t *translator) bareHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+t.apiKey)
	return h
}

func (t *translator) Endpoint(string, bool) string {
	return t.apiBase + "/chat/completions"
}

func (t *translator) url(path string) string {
	return t.apiBase + path
}

// UsesCompletionTokenKey reports whether the model takes its token limit as
// max_completion_tokens instead of max_tokens.
func UsesCompletionTokenKey(modelID string) bool {
	return strings.Contains(modelID, "gpt-5") ||
		strings.Contains(modelID, "o3") ||
		strings.Contains(modelID, "o4")
}

func (t *translator) EncodeRequest(req *model.ChatRequest, stream bool) (any, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = t.defModel
	}
	var msgs []map[string]any
	if req.System != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, t.encodeMessage(m)...)
	}

	tokenKey := "max_tokens"
	if UsesCompletionTokenKey(modelID) {
		tokenKey = "max_completion_tokens"
	}
	payload := map[string]any{
		"model":   modelID,
		tokenKey:  req.MaxTokens,
		"messages": msgs,
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		payload["top_p"] = *req.TopP
	}
	if len(req.StopSequences) > 0 {
		payload["stop"] = req.StopSequences
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
	}
	if stream {
		payload["stream"] = true
		payload["stream_options"] = map[string]any{"include_usage": true}
	}
	return payload, nil
}

// encodeMessage reshapes one canonical message. Assistant tool-use blocks
// become tool_calls; user tool-result blocks fan out to one role:tool
// message per result.
func (t *translator) encodeMessage(m model.ChatMessage) []map[string]any {
	if !m.Content.IsBlocks() {
		return []map[string]any{{"role": m.Role, "content": m.Content.PlainText()}}
	}
	parts := m.Content.Parts()

	if m.Role == "assistant" && hasBlock(parts, model.BlockTypeToolUse) {
		var (
			texts     []string
			toolCalls []map[string]any
		)
		for _, p := range parts {
			switch v := p.(type) {
			case model.TextBlock:
				texts = append(texts, v.Text)
			case model.ToolUseBlock:
				args, err := json.Marshal(v.Input)
				if err != nil {
					args = []byte("{}")
				}
				toolCalls = append(toolCalls, map[string]any{
					"id":   v.ID,
					"type": "function",
					"function": map[string]any{
						"name":      v.Name,
						"arguments": string(args),
					},
				})
			}
		}
		msg := map[string]any{"role": "assistant"}
		if joined := strings.Join(texts, "\n"); joined != "" {
			msg["content"] = joined
		} else {
			msg["content"] = nil
		}
		if len(toolCalls) > 0 {
			msg["tool_calls"] = toolCalls
		}
		return []map[string]any{msg}
	}

	if m.Role == "user" && hasBlock(parts, model.BlockTypeToolResult) {
		var out []map[string]any
		for _, p := range parts {
			if v, ok := p.(model.ToolResultBlock); ok {
				out = append(out, map[string]any{
					"role":         "tool",
					"tool_call_id": v.ToolUseID,
					"content":      v.Content,
				})
			}
		}
		return out
	}

	return []map[string]any{{"role": m.Role, "content": t.encodeContent(parts)}}
}

func (t *translator) encodeContent(parts []model.ContentBlock) any {
	if t.adapt != nil {
		parts = t.adapt(parts)
	}
	if len(parts) == 1 {
		if v, ok := parts[0].(model.TextBlock); ok {
			return v.Text
		}
	}
	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case model.TextBlock:
			out = append(out, map[string]any{"type": "text", "text": v.Text})
		case model.ImageBlock:
			out = append(out, map[string]any{"type": "image_url", "image_url": map[string]any{
				"url": fmt.Sprintf("data:%s;base64,%s", v.MediaType, v.Data),
			}})
		}
	}
	return out
}

func hasBlock(parts []model.ContentBlock, blockType string) bool {
	for _, p := range parts {
		if p.BlockType() == blockType {
			return true
		}
	}
	return false
}

type toolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (t *translator) DecodeResponse(body []byte) (*model.ChatResponse, error) {
	var raw struct {
		Model   string `json:"model"`
		Choices []struct {
			FinishReason string `json:"finish_reason"`
			Message      struct {
				Content   string     `json:"content"`
				ToolCalls []toolCall `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if len(raw.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}
	choice := raw.Choices[0]

	var blocks []map[string]any
	if choice.Message.Content != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = map[string]any{}
			}
		}
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Function.Name,
			"input": input,
		})
	}

	stopReason := choice.FinishReason
	if stopReason == "tool_calls" {
		stopReason = "tool_use"
	}
	return &model.ChatResponse{
		Content: choice.Message.Content,
		Model:   raw.Model,
		Usage: model.Usage{
			InputTokens:  raw.Usage.PromptTokens,
			OutputTokens: raw.Usage.CompletionTokens,
		},
		Provider:      t.name,
		StopReason:    stopReason,
		ContentBlocks: blocks,
	}, nil
}

func (t *translator) ParseStreamLine(data string) (*model.StreamChunk, error) {
	var ev struct {
		Model string `json:"model"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
		Choices []struct {
			FinishReason string `json:"finish_reason"`
			Delta        struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, nil
	}
	if ev.Usage != nil {
		return &model.StreamChunk{
			Type:  model.ChunkTypeUsage,
			Model: ev.Model,
			Usage: model.UsageOf(ev.Usage.PromptTokens, ev.Usage.CompletionTokens),
		}, nil
	}
	if len(ev.Choices) == 0 {
		return nil, nil
	}
	choice := ev.Choices[0]
	if choice.FinishReason == "stop" {
		return &model.StreamChunk{Type: model.ChunkTypeDone, Model: ev.Model}, nil
	}
	if choice.Delta.Content != "" {
		return &model.StreamChunk{
			Type:    model.ChunkTypeContentDelta,
			Content: choice.Delta.Content,
			Model:   ev.Model,
		}, nil
	}
	return nil, nil
}
