package model

import "encoding/json"

type (
	// EmbeddingInput is a single text or a list of texts. It mirrors the
	// string-or-array union the embeddings endpoints accept.
	EmbeddingInput []string

	// EmbeddingRequest asks for vector embeddings of one or more texts.
	EmbeddingRequest struct {
		Input          EmbeddingInput  `json:"input"`
		Model          string          `json:"model,omitempty"`
		EncodingFormat string          `json:"encoding_format,omitempty"`
		Dimensions     int             `json:"dimensions,omitempty"`
		Context        *RequestContext `json:"context,omitempty"`
	}

	// EmbeddingData is one embedding vector with its input index.
	EmbeddingData struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
		Object    string    `json:"object"`
	}

	// EmbeddingResponse carries the embedding vectors and usage.
	EmbeddingResponse struct {
		Data     []EmbeddingData `json:"data"`
		Model    string          `json:"model"`
		Usage    map[string]int  `json:"usage"`
		Provider string          `json:"provider"`
	}

	// BatchRequestItem is one request inside a batch, keyed by caller id.
	BatchRequestItem struct {
		CustomID string         `json:"custom_id"`
		Params   map[string]any `json:"params"`
	}

	// BatchCreateRequest submits a batch of chat requests.
	BatchCreateRequest struct {
		Requests []BatchRequestItem `json:"requests"`
		Model    string             `json:"model,omitempty"`
		Context  *RequestContext    `json:"context,omitempty"`
	}

	// BatchStatus reports the state of one batch.
	BatchStatus struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		TotalRequests     int    `json:"total_requests,omitempty"`
		CompletedRequests int    `json:"completed_requests,omitempty"`
		FailedRequests    int    `json:"failed_requests,omitempty"`
		CreatedAt         string `json:"created_at,omitempty"`
		EndedAt           string `json:"ended_at,omitempty"`
		Provider          string `json:"provider"`
	}

	// BatchListResponse lists known batches.
	BatchListResponse struct {
		Batches  []BatchStatus `json:"batches"`
		Provider string        `json:"provider"`
	}

	// BatchResultItem is one per-request batch outcome.
	BatchResultItem struct {
		CustomID string         `json:"custom_id"`
		Result   map[string]any `json:"result,omitempty"`
		Error    map[string]any `json:"error,omitempty"`
	}

	// BatchResultsResponse carries the per-request outcomes of a batch.
	BatchResultsResponse struct {
		BatchID  string            `json:"batch_id"`
		Results  []BatchResultItem `json:"results"`
		Provider string            `json:"provider"`
	}

	// ModerationRequest asks for a content policy classification.
	ModerationRequest struct {
		Input   EmbeddingInput  `json:"input"`
		Model   string          `json:"model,omitempty"`
		Context *RequestContext `json:"context,omitempty"`
	}

	// ModerationResult is the classification of one input.
	ModerationResult struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	}

	// ModerationResponse carries the moderation verdicts.
	ModerationResponse struct {
		ID       string             `json:"id"`
		Results  []ModerationResult `json:"results"`
		Model    string             `json:"model"`
		Provider string             `json:"provider"`
	}

	// AudioOptions tunes transcription and translation calls.
	AudioOptions struct {
		Model          string
		Language       string
		Prompt         string
		ResponseFormat string
		Temperature    *float64
	}

	// AudioSpeechRequest asks for text-to-speech synthesis.
	AudioSpeechRequest struct {
		Input          string          `json:"input"`
		Model          string          `json:"model,omitempty"`
		Voice          string          `json:"voice"`
		ResponseFormat string          `json:"response_format,omitempty"`
		Speed          *float64        `json:"speed,omitempty"`
		Context        *RequestContext `json:"context,omitempty"`
	}

	// AudioResponse carries a transcription or translation result.
	AudioResponse struct {
		Text     string `json:"text"`
		Model    string `json:"model"`
		Provider string `json:"provider"`
	}

	// ImageGenerationRequest asks for image synthesis from a prompt.
	ImageGenerationRequest struct {
		Prompt         string          `json:"prompt"`
		Model          string          `json:"model,omitempty"`
		N              int             `json:"n,omitempty"`
		Size           string          `json:"size,omitempty"`
		Quality        string          `json:"quality,omitempty"`
		Style          string          `json:"style,omitempty"`
		ResponseFormat string          `json:"response_format,omitempty"`
		Context        *RequestContext `json:"context,omitempty"`
	}

	// ImageData is one generated image, by URL or inline base64.
	ImageData struct {
		URL           string `json:"url,omitempty"`
		B64JSON       string `json:"b64_json,omitempty"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	}

	// ImageResponse carries generated or edited images.
	ImageResponse struct {
		Data     []ImageData `json:"data"`
		Model    string      `json:"model"`
		Provider string      `json:"provider"`
	}

	// ImageEditRequest asks for a prompted edit of an uploaded image.
	ImageEditRequest struct {
		Prompt         string `json:"prompt"`
		Model          string `json:"model,omitempty"`
		N              int    `json:"n,omitempty"`
		Size           string `json:"size,omitempty"`
		ResponseFormat string `json:"response_format,omitempty"`
	}

	// ImageVariationRequest asks for variations of an uploaded image.
	ImageVariationRequest struct {
		Model          string `json:"model,omitempty"`
		N              int    `json:"n,omitempty"`
		Size           string `json:"size,omitempty"`
		ResponseFormat string `json:"response_format,omitempty"`
	}
)

// UnmarshalJSON accepts a bare string or an array of strings.
func (e *EmbeddingInput) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = EmbeddingInput{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*e = list
	return nil
}
