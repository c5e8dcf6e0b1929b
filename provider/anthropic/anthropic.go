// Package anthropic adapts the canonical gateway surface to the Anthropic
// Messages API.
// Tier 1: chat, chat_stream, models, model detail, token count.
// Tier 2: batches.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/cuber-it/heinzel-ki/config"
	"github.com/cuber-it/heinzel-ki/model"
	"github.com/cuber-it/heinzel-ki/provider"
)

// DefaultAPIVersion is sent as anthropic-version when the config is silent.
const DefaultAPIVersion = "2023-06-01"

type (
	// Provider is the Anthropic adapter.
	Provider struct {
		*provider.Base
		tr *translator
	}

	translator struct {
		name       string
		apiBase    string
		apiKey     string
		apiVersion string
		defModel   string
	}
)

var features = map[string]bool{
	"tool_use": true, "vision": true, "web_search": true,
	"citations": true, "thinking": true, "cache_control": true,
	"embeddings": false, "audio": false, "images": false, "moderation": false,
}

// New builds the Anthropic provider from its config.
func New(cfg *config.Provider, apiKey string, opts ...provider.Option) *Provider {
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	tr := &translator{
		name:       cfg.Name,
		apiBase:    cfg.APIBase,
		apiKey:     apiKey,
		apiVersion: version,
		defModel:   cfg.DefaultModel,
	}
	opts = append(opts,
		provider.WithAPIKey(apiKey),
		provider.WithCapabilities(provider.Tiers{
			Core:        []string{"chat", "chat_stream", "models_list", "model_detail", "token_count"},
			Extended:    []string{"batches"},
			Specialized: []string{},
		}, features),
	)
	return &Provider{Base: provider.NewBase(cfg, tr, opts...), tr: tr}
}

// ─── Translator ───

func (t *translator) Headers() http.Header {
	h := http.Header{}
	h.Set("x-api-key", t.apiKey)
	h.Set("anthropic-version", t.apiVersion)
	h.Set("Content-Type", "application/json")
	return h
}

func (t *translator) Endpoint(string, bool) string {
	return t.apiBase + "/messages"
}

func (t *translator) url(path string) string {
	return t.apiBase + path
}

func (t *translator) EncodeRequest(req *model.ChatRequest, stream bool) (any, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = t.defModel
	}
	payload := map[string]any{
		"model":      modelID,
		"max_tokens": req.MaxTokens,
		"messages":   encodeMessages(req.Messages),
	}
	if req.System != "" {
		payload["system"] = req.System
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		payload["top_p"] = *req.TopP
	}
	if len(req.StopSequences) > 0 {
		payload["stop_sequences"] = req.StopSequences
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
	}
	if stream {
		payload["stream"] = true
	}
	return payload, nil
}

func encodeMessages(msgs []model.ChatMessage) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{
			"role":    m.Role,
			"content": encodeContent(m.Content),
		})
	}
	return out
}

// encodeContent renders MessageContent in the Messages API shape. A single
// text block collapses to a plain string.
func encodeContent(c model.MessageContent) any {
	parts := c.Parts()
	if len(parts) == 1 {
		if t, ok := parts[0].(model.TextBlock); ok {
			return t.Text
		}
	}
	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case model.TextBlock:
			out = append(out, map[string]any{"type": "text", "text": v.Text})
		case model.ImageBlock:
			out = append(out, map[string]any{"type": "image", "source": map[string]any{
				"type":       "base64",
				"media_type": v.MediaType,
				"data":       v.Data,
			}})
		case model.DocumentBlock:
			out = append(out, map[string]any{"type": "document", "source": map[string]any{
				"type":       "base64",
				"media_type": model.MediaTypePDF,
				"data":       v.Data,
			}})
		case model.ToolUseBlock:
			out = append(out, map[string]any{"type": "tool_use", "id": v.ID, "name": v.Name, "input": v.Input})
		case model.ToolResultBlock:
			out = append(out, map[string]any{"type": "tool_result", "tool_use_id": v.ToolUseID, "content": v.Content})
		}
	}
	return out
}

func (t *translator) DecodeResponse(body []byte) (*model.ChatResponse, error) {
	var raw struct {
		Model      string           `json:"model"`
		StopReason string           `json:"stop_reason"`
		Content    []map[string]any `json:"content"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	var text string
	for _, block := range raw.Content {
		if block["type"] == "text" {
			if s, ok := block["text"].(string); ok {
				text += s
			}
		}
	}
	return &model.ChatResponse{
		Content: text,
		Model:   raw.Model,
		Usage: model.Usage{
			InputTokens:  raw.Usage.InputTokens,
			OutputTokens: raw.Usage.OutputTokens,
		},
		Provider:      t.name,
		StopReason:    raw.StopReason,
		ContentBlocks: raw.Content,
	}, nil
}

func (t *translator) ParseStreamLine(data string) (*model.StreamChunk, error) {
	var ev struct {
		Type    string `json:"type"`
		Message struct {
			Model string `json:"model"`
			Usage struct {
				InputTokens int `json:"input_tokens"`
			} `json:"usage"`
		} `json:"message"`
		Delta struct {
			Text string `json:"text"`
		} `json:"delta"`
		Usage struct {
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, nil
	}
	switch ev.Type {
	case "message_start":
		return &model.StreamChunk{
			Type:  model.ChunkTypeUsage,
			Model: ev.Message.Model,
			Usage: model.UsageOf(ev.Message.Usage.InputTokens, 0),
		}, nil
	case "content_block_delta":
		if ev.Delta.Text == "" {
			return nil, nil
		}
		return &model.StreamChunk{Type: model.ChunkTypeContentDelta, Content: ev.Delta.Text}, nil
	case "message_delta":
		return &model.StreamChunk{
			Type:  model.ChunkTypeUsage,
			Usage: model.OutputOnly(ev.Usage.OutputTokens),
		}, nil
	case "message_stop":
		return &model.StreamChunk{Type: model.ChunkTypeDone}, nil
	}
	return nil, nil
}

// ─── Tier 1 extras ───

// ModelDetail fetches one model description.
func (p *Provider) ModelDetail(ctx context.Context, id string) (*model.ModelDetail, error) {
	var raw struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		CreatedAt   string `json:"created_at"`
	}
	if err := p.DoJSON(ctx, "GET /models/{id}", http.MethodGet, p.tr.url("/models/"+id), p.tr.Headers(), nil, &raw); err != nil {
		return nil, err
	}
	detail := &model.ModelDetail{
		ID:       raw.ID,
		Name:     raw.DisplayName,
		Provider: p.Name(),
		OwnedBy:  "anthropic",
	}
	if detail.ID == "" {
		detail.ID = id
	}
	if detail.Name == "" {
		detail.Name = detail.ID
	}
	return detail, nil
}

// CountTokens counts input tokens via the count_tokens endpoint.
func (p *Provider) CountTokens(ctx context.Context, req *model.TokenCountRequest) (*model.TokenCountResponse, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.DefaultModel()
	}
	payload := map[string]any{
		"model":    modelID,
		"messages": encodeMessages(req.Messages),
	}
	if req.System != "" {
		payload["system"] = req.System
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
	}
	var raw struct {
		InputTokens int `json:"input_tokens"`
	}
	if err := p.DoJSON(ctx, "POST /tokens/count", http.MethodPost, p.tr.url("/messages/count_tokens"), p.tr.Headers(), payload, &raw); err != nil {
		return nil, err
	}
	return &model.TokenCountResponse{
		InputTokens: raw.InputTokens,
		Model:       modelID,
		Provider:    p.Name(),
	}, nil
}

// ─── Tier 2: batches ───

type batchPayload struct {
	ID               string `json:"id"`
	ProcessingStatus string `json:"processing_status"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
	EndedAt          string `json:"ended_at"`
	RequestCounts    struct {
		Total     int `json:"total"`
		Succeeded int `json:"succeeded"`
		Errored   int `json:"errored"`
	} `json:"request_counts"`
}

// CreateBatch submits a message batch, defaulting each request's model.
func (p *Provider) CreateBatch(ctx context.Context, req *model.BatchCreateRequest) (*model.BatchStatus, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.DefaultModel()
	}
	items := make([]map[string]any, 0, len(req.Requests))
	for _, item := range req.Requests {
		params := make(map[string]any, len(item.Params)+1)
		for k, v := range item.Params {
			params[k] = v
		}
		if _, ok := params["model"]; !ok {
			params["model"] = modelID
		}
		customID := item.CustomID
		if customID == "" {
			customID = uuid.NewString()
		}
		items = append(items, map[string]any{"custom_id": customID, "params": params})
	}
	var raw batchPayload
	if err := p.DoJSON(ctx, "POST /batches", http.MethodPost, p.tr.url("/messages/batches"), p.tr.Headers(),
		map[string]any{"requests": items}, &raw); err != nil {
		return nil, err
	}
	return p.batchStatus(raw), nil
}

// ListBatches lists known message batches.
func (p *Provider) ListBatches(ctx context.Context) (*model.BatchListResponse, error) {
	var raw struct {
		Data []batchPayload `json:"data"`
	}
	if err := p.DoJSON(ctx, "GET /batches", http.MethodGet, p.tr.url("/messages/batches"), p.tr.Headers(), nil, &raw); err != nil {
		return nil, err
	}
	out := &model.BatchListResponse{Provider: p.Name(), Batches: make([]model.BatchStatus, 0, len(raw.Data))}
	for _, b := range raw.Data {
		out.Batches = append(out.Batches, *p.batchStatus(b))
	}
	return out, nil
}

// GetBatch fetches one batch by id.
func (p *Provider) GetBatch(ctx context.Context, id string) (*model.BatchStatus, error) {
	var raw batchPayload
	if err := p.DoJSON(ctx, "GET /batches/{id}", http.MethodGet, p.tr.url("/messages/batches/"+id), p.tr.Headers(), nil, &raw); err != nil {
		return nil, err
	}
	return p.batchStatus(raw), nil
}

// CancelBatch requests cancellation of one batch.
func (p *Provider) CancelBatch(ctx context.Context, id string) (*model.BatchStatus, error) {
	var raw batchPayload
	if err := p.DoJSON(ctx, "POST /batches/{id}/cancel", http.MethodPost, p.tr.url("/messages/batches/"+id+"/cancel"), p.tr.Headers(), nil, &raw); err != nil {
		return nil, err
	}
	return p.batchStatus(raw), nil
}

// BatchResults fetches per-request outcomes. The upstream returns JSON
// lines, one result per line.
func (p *Provider) BatchResults(ctx context.Context, id string) (*model.BatchResultsResponse, error) {
	body, err := p.DoBody(ctx, "GET /batches/{id}/results", http.MethodGet,
		p.tr.url("/messages/batches/"+id+"/results"), p.tr.Headers(), "", nil)
	if err != nil {
		return nil, err
	}
	out := &model.BatchResultsResponse{BatchID: id, Provider: p.Name()}
	dec := json.NewDecoder(bytes.NewReader(body))
	for dec.More() {
		var item struct {
			CustomID string         `json:"custom_id"`
			Result   map[string]any `json:"result"`
			Error    map[string]any `json:"error"`
		}
		if err := dec.Decode(&item); err != nil {
			return nil, fmt.Errorf("anthropic: decode batch result line: %w", err)
		}
		out.Results = append(out.Results, model.BatchResultItem{
			CustomID: item.CustomID,
			Result:   item.Result,
			Error:    item.Error,
		})
	}
	return out, nil
}

func (p *Provider) batchStatus(raw batchPayload) *model.BatchStatus {
	status := raw.ProcessingStatus
	if status == "" {
		status = raw.Status
	}
	if status == "" {
		status = "unknown"
	}
	return &model.BatchStatus{
		ID:                raw.ID,
		Status:            status,
		TotalRequests:     raw.RequestCounts.Total,
		CompletedRequests: raw.RequestCounts.Succeeded,
		FailedRequests:    raw.RequestCounts.Errored,
		CreatedAt:         raw.CreatedAt,
		EndedAt:           raw.EndedAt,
		Provider:          p.Name(),
	}
}
