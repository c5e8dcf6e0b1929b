package provider

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuber-it/heinzel-ki/config"
	"github.com/cuber-it/heinzel-ki/costs"
	"github.com/cuber-it/heinzel-ki/dialog"
	"github.com/cuber-it/heinzel-ki/ingest"
	"github.com/cuber-it/heinzel-ki/model"
	"github.com/cuber-it/heinzel-ki/retry"
)

// DefaultTimeout bounds every upstream request.
const DefaultTimeout = 120 * time.Second

type (
	// Translator is the wire conversion a concrete provider supplies. The
	// base implements chat and streaming once on top of these hooks.
	Translator interface {
		// Headers returns the request headers including auth.
		Headers() http.Header

		// Endpoint resolves the chat URL. Some upstreams encode the model
		// and streaming mode in the path.
		Endpoint(model string, stream bool) string

		// EncodeRequest builds the upstream payload. stream selects the
		// streaming variant of the payload.
		EncodeRequest(req *model.ChatRequest, stream bool) (any, error)

		// DecodeResponse converts a successful upstream body into the
		// canonical response.
		DecodeResponse(body []byte) (*model.ChatResponse, error)

		// ParseStreamLine converts one SSE data line (prefix stripped) into
		// a chunk. A nil chunk with nil error skips the line.
		ParseStreamLine(data string) (*model.StreamChunk, error)
	}

	// Base carries the shared provider state: HTTP client, retry policy,
	// observability sinks and capability declaration. Concrete providers
	// embed *Base and override the endpoints they implement.
	Base struct {
		name       string
		cfg        *config.Provider
		apiKey     string
		translator Translator
		caps       Capabilities

		client    *http.Client
		connected atomic.Bool
		limiter   *rate.Limiter

		retryCfg retry.Config
		tracker  *retry.Tracker
		dlg      *dialog.Logger
		store    *costs.Store
		files    *ingest.Processor
	}

	// Option configures a Base.
	Option func(*Base)
)

// WithHTTPClient overrides the upstream HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Base) { b.client = c }
}

// WithDialogLogger attaches the dialog log sink.
func WithDialogLogger(l *dialog.Logger) Option {
	return func(b *Base) { b.dlg = l }
}

// WithCostStore attaches the cost row sink.
func WithCostStore(s *costs.Store) Option {
	return func(b *Base) { b.store = s }
}

// WithAPIKey sets the upstream credential.
func WithAPIKey(key string) Option {
	return func(b *Base) { b.apiKey = key }
}

// WithIngest attaches the file processor used to pre-adapt document blocks
// for providers without native PDF support.
func WithIngest(p *ingest.Processor) Option {
	return func(b *Base) { b.files = p }
}

// WithCapabilities declares the provider's tiers and feature flags.
func WithCapabilities(tiers Tiers, features map[string]bool) Option {
	return func(b *Base) {
		b.caps = Capabilities{Provider: b.name, Tiers: tiers, Features: features}
	}
}

// NewBase builds the shared provider state. tr must not be nil.
func NewBase(cfg *config.Provider, tr Translator, opts ...Option) *Base {
	b := &Base{
		name:       cfg.Name,
		cfg:        cfg,
		translator: tr,
		retryCfg:   cfg.Retry,
		tracker:    &retry.Tracker{},
		caps:       Capabilities{Provider: cfg.Name},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		b.client = &http.Client{Timeout: DefaultTimeout}
	}
	if b.dlg == nil {
		b.dlg = dialog.NewLogger(b.name, config.LogDir(), false)
	}
	if b.files == nil {
		b.files = ingest.NewProcessor()
	}
	if cfg.RateLimitRPM > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPM)/60, 1)
	}
	return b
}

// Name returns the provider name from the config.
func (b *Base) Name() string { return b.name }

// Config returns the provider configuration.
func (b *Base) Config() *config.Provider { return b.cfg }

// APIKey returns the upstream credential.
func (b *Base) APIKey() string { return b.apiKey }

// Models lists the served model ids, falling back to the default model.
func (b *Base) Models() []string {
	if len(b.cfg.Models) > 0 {
		return b.cfg.Models
	}
	return []string{b.DefaultModel()}
}

// DefaultModel returns the configured default model id.
func (b *Base) DefaultModel() string { return b.cfg.DefaultModel }

// DialogLogger returns the dialog log sink.
func (b *Base) DialogLogger() *dialog.Logger { return b.dlg }

// RetryConfig returns the active retry policy.
func (b *Base) RetryConfig() retry.Config { return b.retryCfg }

// RateLimitHits returns the recorded 429 timestamps, oldest first.
func (b *Base) RateLimitHits() []time.Time { return b.tracker.Hits() }

// Capabilities returns the advertised surface.
func (b *Base) Capabilities() Capabilities { return b.caps }

// Connect marks the provider connected. Idempotent.
func (b *Base) Connect() model.ConnectionStatus {
	b.connected.Store(true)
	return model.ConnectionStatus{Status: "connected", Provider: b.name, Timestamp: ts()}
}

// Disconnect marks the provider disconnected. The HTTP client is kept; a
// later call reconnects lazily.
func (b *Base) Disconnect() model.ConnectionStatus {
	b.connected.Store(false)
	return model.ConnectionStatus{Status: "disconnected", Provider: b.name, Timestamp: ts()}
}

// Reset cycles the connection state.
func (b *Base) Reset() model.ConnectionStatus {
	b.Disconnect()
	st := b.Connect()
	st.Reset = true
	return st
}

// Health reports the connection state.
func (b *Base) Health() model.HealthResponse {
	status := "ok"
	if !b.connected.Load() {
		status = "disconnected"
	}
	return model.HealthResponse{Status: status, Provider: b.name, Timestamp: ts()}
}

// Connected reports whether the provider is marked connected.
func (b *Base) Connected() bool { return b.connected.Load() }

func (b *Base) ensureConnected() {
	if !b.connected.Load() {
		b.Connect()
	}
}

// pace waits for the upstream pacing limiter when one is configured.
func (b *Base) pace(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// AdaptBlocks rewrites content blocks the provider cannot handle natively.
// Document blocks become extracted text when the provider has no native PDF
// support; everything else passes through.
func (b *Base) AdaptBlocks(blocks []model.ContentBlock) []model.ContentBlock {
	if ingest.NativePDF(b.name) {
		return blocks
	}
	out := make([]model.ContentBlock, 0, len(blocks))
	for _, blk := range blocks {
		doc, ok := blk.(model.DocumentBlock)
		if !ok {
			out = append(out, blk)
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(doc.Data)
		if err != nil {
			out = append(out, model.TextBlock{Text: "[document.pdf] invalid base64 payload, content skipped."})
			continue
		}
		out = append(out, b.files.ExtractPDFText(raw, "document.pdf"))
	}
	return out
}

// Default endpoint implementations. Concrete providers shadow the ones they
// support.

func (b *Base) CountTokens(context.Context, *model.TokenCountRequest) (*model.TokenCountResponse, error) {
	return nil, notAvailable("POST /tokens/count", b.name)
}

func (b *Base) ModelDetail(context.Context, string) (*model.ModelDetail, error) {
	return nil, notAvailable("GET /models/{id}", b.name)
}

func (b *Base) CreateEmbedding(context.Context, *model.EmbeddingRequest) (*model.EmbeddingResponse, error) {
	return nil, notAvailable("POST /embeddings", b.name)
}

func (b *Base) CreateBatch(context.Context, *model.BatchCreateRequest) (*model.BatchStatus, error) {
	return nil, notAvailable("POST /batches", b.name)
}

func (b *Base) ListBatches(context.Context) (*model.BatchListResponse, error) {
	return nil, notAvailable("GET /batches", b.name)
}

func (b *Base) GetBatch(context.Context, string) (*model.BatchStatus, error) {
	return nil, notAvailable("GET /batches/{id}", b.name)
}

func (b *Base) CancelBatch(context.Context, string) (*model.BatchStatus, error) {
	return nil, notAvailable("POST /batches/{id}/cancel", b.name)
}

func (b *Base) BatchResults(context.Context, string) (*model.BatchResultsResponse, error) {
	return nil, notAvailable("GET /batches/{id}/results", b.name)
}

func (b *Base) CreateModeration(context.Context, *model.ModerationRequest) (*model.ModerationResponse, error) {
	return nil, notAvailable("POST /moderations", b.name)
}

func (b *Base) TranscribeAudio(context.Context, []byte, string, model.AudioOptions) (*model.AudioResponse, error) {
	return nil, notAvailable("POST /audio/transcriptions", b.name)
}

func (b *Base) TranslateAudio(context.Context, []byte, string, model.AudioOptions) (*model.AudioResponse, error) {
	return nil, notAvailable("POST /audio/translations", b.name)
}

func (b *Base) CreateSpeech(context.Context, *model.AudioSpeechRequest) ([]byte, error) {
	return nil, notAvailable("POST /audio/speech", b.name)
}

func (b *Base) GenerateImage(context.Context, *model.ImageGenerationRequest) (*model.ImageResponse, error) {
	return nil, notAvailable("POST /images/generations", b.name)
}

func (b *Base) EditImage(context.Context, []byte, []byte, *model.ImageEditRequest) (*model.ImageResponse, error) {
	return nil, notAvailable("POST /images/edits", b.name)
}

func (b *Base) CreateImageVariation(context.Context, []byte, *model.ImageVariationRequest) (*model.ImageResponse, error) {
	return nil, notAvailable("POST /images/variations", b.name)
}

func ts() string {
	return time.Now().UTC().Format(time.RFC3339)
}
