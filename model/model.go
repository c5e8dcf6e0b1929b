// Package model defines the canonical request, response and streaming shapes
// exposed at the gateway boundary. It is provider-agnostic: translators
// convert these normalized types into the wire formats of the configured
// upstream (Anthropic Messages, OpenAI Chat Completions, Gemini
// generateContent) and back.
package model

import (
	"errors"
	"fmt"
)

type (
	// ChatMessage mirrors one chat turn. Role is free-form; canonical values
	// are "user", "assistant", "system" and "tool". System instructions may
	// alternatively be lifted to ChatRequest.System.
	ChatMessage struct {
		Role    string         `json:"role"`
		Content MessageContent `json:"content"`
	}

	// RequestContext carries correlation identifiers. It never affects model
	// selection; it is stamped into dialog log entries and cost rows.
	RequestContext struct {
		HeinzelID string `json:"heinzel_id,omitempty"`
		SessionID string `json:"session_id,omitempty"`
		TaskID    string `json:"task_id,omitempty"`
	}

	// ChatRequest is the normalized chat invocation. Zero MaxTokens means the
	// default of 1024 (applied by ApplyDefaults).
	ChatRequest struct {
		Messages      []ChatMessage    `json:"messages"`
		Model         string           `json:"model,omitempty"`
		MaxTokens     int              `json:"max_tokens,omitempty"`
		System        string           `json:"system,omitempty"`
		Temperature   *float64         `json:"temperature,omitempty"`
		TopP          *float64         `json:"top_p,omitempty"`
		StopSequences []string         `json:"stop_sequences,omitempty"`
		Tools         []map[string]any `json:"tools,omitempty"`
		Context       *RequestContext  `json:"context,omitempty"`
	}

	// Usage reports token consumption for one upstream call.
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	}

	// ChatResponse is the canonical chat result. ContentBlocks preserves the
	// raw block list (including tool-use blocks) when the upstream returned
	// structured content.
	ChatResponse struct {
		Content       string           `json:"content"`
		Model         string           `json:"model"`
		Usage         Usage            `json:"usage"`
		Provider      string           `json:"provider"`
		StopReason    string           `json:"stop_reason,omitempty"`
		ContentBlocks []map[string]any `json:"content_blocks,omitempty"`
	}

	// TokenCountRequest asks for the input token count of a prospective chat.
	TokenCountRequest struct {
		Messages []ChatMessage    `json:"messages"`
		Model    string           `json:"model,omitempty"`
		System   string           `json:"system,omitempty"`
		Tools    []map[string]any `json:"tools,omitempty"`
	}

	// TokenCountResponse reports the counted input tokens.
	TokenCountResponse struct {
		InputTokens int    `json:"input_tokens"`
		Model       string `json:"model"`
		Provider    string `json:"provider"`
	}

	// ModelDetail describes a single upstream model.
	ModelDetail struct {
		ID              string `json:"id"`
		Name            string `json:"name,omitempty"`
		Provider        string `json:"provider"`
		Created         int64  `json:"created,omitempty"`
		OwnedBy         string `json:"owned_by,omitempty"`
		ContextWindow   int    `json:"context_window,omitempty"`
		MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
	}

	// ModelsResponse lists the models an instance serves.
	ModelsResponse struct {
		Models   []string `json:"models"`
		Default  string   `json:"default"`
		Provider string   `json:"provider"`
	}

	// ModelDetailResponse wraps a ModelDetail with its provider.
	ModelDetailResponse struct {
		Model    ModelDetail `json:"model"`
		Provider string      `json:"provider"`
	}

	// HealthResponse is the gateway health probe payload.
	HealthResponse struct {
		Status    string `json:"status"`
		Provider  string `json:"provider"`
		Timestamp string `json:"timestamp"`
	}

	// ConnectionStatus reports the outcome of connect/disconnect/reset.
	ConnectionStatus struct {
		Status    string `json:"status"`
		Provider  string `json:"provider"`
		Timestamp string `json:"timestamp"`
		Reset     bool   `json:"reset,omitempty"`
	}
)

// DefaultMaxTokens is applied when a chat request does not cap completion
// tokens.
const DefaultMaxTokens = 1024

// ApplyDefaults fills unset request fields with their canonical defaults.
func (r *ChatRequest) ApplyDefaults() {
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
}

// Validate checks the request invariants that hold for every provider.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("model: messages are required")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("model: temperature %v out of range [0, 2]", *r.Temperature)
	}
	return nil
}

// Ctx returns the request context, never nil.
func (r *ChatRequest) Ctx() RequestContext {
	if r.Context == nil {
		return RequestContext{}
	}
	return *r.Context
}
