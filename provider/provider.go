// Package provider defines the upstream adapter contract and the shared
// base implementation. A concrete provider supplies a Translator for the
// wire conversion and opts into endpoint tiers by overriding the base
// defaults, which report the endpoint as not available.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/cuber-it/heinzel-ki/dialog"
	"github.com/cuber-it/heinzel-ki/model"
	"github.com/cuber-it/heinzel-ki/retry"
)

type (
	// Provider is the full adapter surface the gateway delegates to.
	// Tier 1 (core): chat, chat_stream, models, model detail, token count.
	// Tier 2 (extended): embeddings, batches.
	// Tier 3 (specialized): moderation, audio, images.
	Provider interface {
		Name() string
		Models() []string
		DefaultModel() string
		Connect() model.ConnectionStatus
		Disconnect() model.ConnectionStatus
		Reset() model.ConnectionStatus
		Health() model.HealthResponse
		Connected() bool
		Capabilities() Capabilities
		DialogLogger() *dialog.Logger
		RetryConfig() retry.Config
		RateLimitHits() []time.Time

		Chat(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error)
		ChatStream(ctx context.Context, req *model.ChatRequest, send func(model.StreamChunk) error) error
		CountTokens(ctx context.Context, req *model.TokenCountRequest) (*model.TokenCountResponse, error)
		ModelDetail(ctx context.Context, id string) (*model.ModelDetail, error)

		CreateEmbedding(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error)
		CreateBatch(ctx context.Context, req *model.BatchCreateRequest) (*model.BatchStatus, error)
		ListBatches(ctx context.Context) (*model.BatchListResponse, error)
		GetBatch(ctx context.Context, id string) (*model.BatchStatus, error)
		CancelBatch(ctx context.Context, id string) (*model.BatchStatus, error)
		BatchResults(ctx context.Context, id string) (*model.BatchResultsResponse, error)

		CreateModeration(ctx context.Context, req *model.ModerationRequest) (*model.ModerationResponse, error)
		TranscribeAudio(ctx context.Context, data []byte, filename string, opts model.AudioOptions) (*model.AudioResponse, error)
		TranslateAudio(ctx context.Context, data []byte, filename string, opts model.AudioOptions) (*model.AudioResponse, error)
		CreateSpeech(ctx context.Context, req *model.AudioSpeechRequest) ([]byte, error)
		GenerateImage(ctx context.Context, req *model.ImageGenerationRequest) (*model.ImageResponse, error)
		EditImage(ctx context.Context, image, mask []byte, req *model.ImageEditRequest) (*model.ImageResponse, error)
		CreateImageVariation(ctx context.Context, image []byte, req *model.ImageVariationRequest) (*model.ImageResponse, error)
	}

	// Tiers lists the endpoints a provider implements, grouped by tier.
	Tiers struct {
		Core        []string `json:"core"`
		Extended    []string `json:"extended"`
		Specialized []string `json:"specialized"`
	}

	// Capabilities is the advertised surface of one provider.
	Capabilities struct {
		Provider string          `json:"provider"`
		Tiers    Tiers           `json:"tiers"`
		Features map[string]bool `json:"features"`
	}

	// NotAvailableError reports that a provider does not implement an
	// endpoint. The gateway maps it to HTTP 501.
	NotAvailableError struct {
		Endpoint string
		Provider string
	}
)

func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("%q is not available for provider %q", e.Endpoint, e.Provider)
}

// notAvailable builds the sentinel for an unimplemented endpoint.
func notAvailable(endpoint, provider string) error {
	return &NotAvailableError{Endpoint: endpoint, Provider: provider}
}
