// Package google adapts the canonical gateway surface to the Gemini API.
// Tier 1: chat, chat_stream, models, model detail, token count.
// Tier 2: embeddings.
//
// Gemini quirks: roles are reduced to "user" and "model" with consecutive
// same-role messages merged, the API key travels as a query parameter, and
// the model is part of the URL (":generateContent", ":streamGenerateContent").
package google

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cuber-it/heinzel-ki/config"
	"github.com/cuber-it/heinzel-ki/model"
	"github.com/cuber-it/heinzel-ki/provider"
)

const defaultEmbeddingModel = "text-embedding-004"

type (
	// Provider is the Gemini adapter.
	Provider struct {
		*provider.Base
		tr *translator
	}

	translator struct {
		name     string
		apiBase  string
		apiKey   string
		defModel string
	}

	// content is one Gemini turn.
	content struct {
		Role  string           `json:"role"`
		Parts []map[string]any `json:"parts"`
	}
)

var features = map[string]bool{
	"tool_use": true, "vision": true, "web_search": true,
	"citations": false, "thinking": true, "cache_control": false,
	"embeddings": true, "audio": false, "images": false, "moderation": false,
}

// New builds the Gemini provider from its config.
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
			Core:        []string{"chat", "chat_stream", "models_list", "model_detail", "token_count"},
			Extended:    []string{"embeddings"},
			Specialized: []string{},
		}, features),
	)
	return &Provider{Base: provider.NewBase(cfg, tr, opts...), tr: tr}
}

// ─── Translator ───

func (t *translator) Headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}

func (t *translator) Endpoint(modelID string, stream bool) string {
	if modelID == "" {
		modelID = t.defModel
	}
	if stream {
		return t.apiBase + "/models/" + modelID + ":streamGenerateContent?alt=sse&key=" + t.apiKey
	}
	return t.apiBase + "/models/" + modelID + ":generateContent?key=" + t.apiKey
}

// MapRole reduces canonical roles to the two Gemini knows.
func MapRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// MergeContents converts canonical messages into Gemini contents, merging
// consecutive same-role messages into one element.
func MergeContents(msgs []model.ChatMessage) []content {
	var contents []content
	for _, m := range msgs {
		role := MapRole(m.Role)
		parts := encodeParts(m.Content)
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, content{Role: role, Parts: parts})
	}
	return contents
}

func encodeParts(c model.MessageContent) []map[string]any {
	parts := c.Parts()
	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case model.TextBlock:
			out = append(out, map[string]any{"text": v.Text})
		case model.ImageBlock:
			out = append(out, map[string]any{"inline_data": map[string]any{
				"mime_type": v.MediaType,
				"data":      v.Data,
			}})
		case model.DocumentBlock:
			out = append(out, map[string]any{"inline_data": map[string]any{
				"mime_type": model.MediaTypePDF,
				"data":      v.Data,
			}})
		default:
			raw, err := json.Marshal(p)
			if err != nil {
				continue
			}
			out = append(out, map[string]any{"text": string(raw)})
		}
	}
	return out
}

func (t *translator) EncodeRequest(req *model.ChatRequest, _ bool) (any, error) {
	payload := map[string]any{"contents": MergeContents(req.Messages)}
	if req.System != "" {
		payload["system_instruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.System}},
		}
	}
	genConfig := map[string]any{}
	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		genConfig["topP"] = *req.TopP
	}
	if len(req.StopSequences) > 0 {
		genConfig["stopSequences"] = req.StopSequences
	}
	if len(genConfig) > 0 {
		payload["generationConfig"] = genConfig
	}
	if len(req.Tools) > 0 {
		payload["tools"] = []map[string]any{{"function_declarations": req.Tools}}
	}
	return payload, nil
}

type candidatePayload struct {
	FinishReason string `json:"finishReason"`
	Content      struct {
		Parts []struct {
			Text         string `json:"text"`
			FunctionCall *struct {
				Name string         `json:"name"`
				Args map[string]any `json:"args"`
			} `json:"functionCall"`
		} `json:"parts"`
	} `json:"content"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

func (t *translator) DecodeResponse(body []byte) (*model.ChatResponse, error) {
	var raw struct {
		ModelVersion  string             `json:"modelVersion"`
		Candidates    []candidatePayload `json:"candidates"`
		UsageMetadata usageMetadata      `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	var (
		text       string
		blocks     []map[string]any
		stopReason string
	)
	if len(raw.Candidates) > 0 {
		cand := raw.Candidates[0]
		stopReason = strings.ToLower(cand.FinishReason)
		if stopReason == "" {
			stopReason = "stop"
		}
		for _, part := range cand.Content.Parts {
			if part.FunctionCall != nil {
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"name":  part.FunctionCall.Name,
					"input": part.FunctionCall.Args,
				})
				continue
			}
			if part.Text != "" {
				text += part.Text
				blocks = append(blocks, map[string]any{"type": "text", "text": part.Text})
			}
		}
	}
	modelID := raw.ModelVersion
	if modelID == "" {
		modelID = t.defModel
	}
	return &model.ChatResponse{
		Content: text,
		Model:   modelID,
		Usage: model.Usage{
			InputTokens:  raw.UsageMetadata.PromptTokenCount,
			OutputTokens: raw.UsageMetadata.CandidatesTokenCount,
		},
		Provider:      t.name,
		StopReason:    stopReason,
		ContentBlocks: blocks,
	}, nil
}

func (t *translator) ParseStreamLine(data string) (*model.StreamChunk, error) {
	var ev struct {
		ModelVersion  string             `json:"modelVersion"`
		Candidates    []candidatePayload `json:"candidates"`
		UsageMetadata *usageMetadata     `json:"usageMetadata"`
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, nil
	}
	if len(ev.Candidates) == 0 {
		if ev.UsageMetadata != nil {
			return &model.StreamChunk{
				Type:  model.ChunkTypeUsage,
				Usage: model.UsageOf(ev.UsageMetadata.PromptTokenCount, ev.UsageMetadata.CandidatesTokenCount),
			}, nil
		}
		return nil, nil
	}
	cand := ev.Candidates[0]
	var text string
	for _, part := range cand.Content.Parts {
		text += part.Text
	}
	if cand.FinishReason == "STOP" || cand.FinishReason == "MAX_TOKENS" {
		return &model.StreamChunk{Type: model.ChunkTypeDone}, nil
	}
	if text != "" {
		return &model.StreamChunk{
			Type:    model.ChunkTypeContentDelta,
			Content: text,
			Model:   ev.ModelVersion,
		}, nil
	}
	return nil, nil
}

// ─── Tier 1 extras ───

// ModelDetail fetches one model description.
func (p *Provider) ModelDetail(ctx context.Context, id string) (*model.ModelDetail, error) {
	var raw struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	}
	url := p.tr.apiBase + "/models/" + id + "?key=" + p.tr.apiKey
	if err := p.DoJSON(ctx, "GET /models/{id}", http.MethodGet, url, p.tr.Headers(), nil, &raw); err != nil {
		return nil, err
	}
	name := raw.Name
	if name == "" {
		name = id
	}
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	display := raw.DisplayName
	if display == "" {
		display = id
	}
	return &model.ModelDetail{
		ID:       name,
		Name:     display,
		Provider: p.Name(),
		OwnedBy:  "google",
	}, nil
}

// CountTokens counts input tokens via the countTokens endpoint.
func (p *Provider) CountTokens(ctx context.Context, req *model.TokenCountRequest) (*model.TokenCountResponse, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.DefaultModel()
	}
	payload := map[string]any{"contents": MergeContents(req.Messages)}
	if req.System != "" {
		payload["system_instruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.System}},
		}
	}
	var raw struct {
		TotalTokens int `json:"totalTokens"`
	}
	url := p.tr.apiBase + "/models/" + modelID + ":countTokens?key=" + p.tr.apiKey
	if err := p.DoJSON(ctx, "POST /tokens/count", http.MethodPost, url, p.tr.Headers(), payload, &raw); err != nil {
		return nil, err
	}
	return &model.TokenCountResponse{
		InputTokens: raw.TotalTokens,
		Model:       modelID,
		Provider:    p.Name(),
	}, nil
}

// ─── Tier 2: embeddings ───

// CreateEmbedding embeds each input text with one embedContent call.
func (p *Provider) CreateEmbedding(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.Config().EmbeddingModel
	}
	if modelID == "" {
		modelID = defaultEmbeddingModel
	}
	url := p.tr.apiBase + "/models/" + modelID + ":embedContent?key=" + p.tr.apiKey
	out := &model.EmbeddingResponse{
		Model:    modelID,
		Provider: p.Name(),
		Usage: map[string]int{
			"prompt_tokens": len(req.Input),
			"total_tokens":  len(req.Input),
		},
	}
	for i, text := range req.Input {
		payload := map[string]any{
			"content": map[string]any{"parts": []map[string]any{{"text": text}}},
		}
		var raw struct {
			Embedding struct {
				Values []float64 `json:"values"`
			} `json:"embedding"`
		}
		if err := p.DoJSON(ctx, "POST /embeddings", http.MethodPost, url, p.tr.Headers(), payload, &raw); err != nil {
			return nil, err
		}
		out.Data = append(out.Data, model.EmbeddingData{
			Index:     i,
			Embedding: raw.Embedding.Values,
			Object:    "embedding",
		})
	}
	return out, nil
}
