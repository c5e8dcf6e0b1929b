package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/cuber-it/heinzel-ki/model"
)

// Fallback models when the config does not pin them.
const (
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultAudioModel     = "whisper-1"
	defaultTTSModel       = "tts-1"
	defaultImageModel     = "dall-e-3"
	defaultEditModel      = "dall-e-2"
)

// ─── Tier 1 extras ───

// ModelDetail fetches one model description.
func (p *Provider) ModelDetail(ctx context.Context, id string) (*model.ModelDetail, error) {
	var raw struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	if err := p.DoJSON(ctx, "GET /models/{id}", http.MethodGet, p.tr.url("/models/"+id), p.tr.bareHeaders(), nil, &raw); err != nil {
		return nil, err
	}
	if raw.ID == "" {
		raw.ID = id
	}
	return &model.ModelDetail{
		ID:       raw.ID,
		Name:     raw.ID,
		Provider: p.Name(),
		Created:  raw.Created,
		OwnedBy:  raw.OwnedBy,
	}, nil
}

// CountTokens counts input tokens locally via BPE tables keyed on the model
// family, falling back to the cl100k_base encoding.
func (p *Provider) CountTokens(_ context.Context, req *model.TokenCountRequest) (*model.TokenCountResponse, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.DefaultModel()
	}
	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("openai: load token encoding: %w", err)
		}
	}
	total := 0
	for _, m := range req.Messages {
		total += 4
		total += len(enc.Encode(m.Content.PlainText(), nil, nil))
		total += len(enc.Encode(m.Role, nil, nil))
	}
	if req.System != "" {
		total += 4 + len(enc.Encode(req.System, nil, nil))
	}
	total += 2
	return &model.TokenCountResponse{
		InputTokens: total,
		Model:       modelID,
		Provider:    p.Name(),
	}, nil
}

// ─── Tier 2: embeddings ───

// CreateEmbedding requests vector embeddings.
func (p *Provider) CreateEmbedding(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.Config().EmbeddingModel
	}
	if modelID == "" {
		modelID = defaultEmbeddingModel
	}
	payload := map[string]any{"model": modelID, "input": []string(req.Input)}
	if req.EncodingFormat != "" {
		payload["encoding_format"] = req.EncodingFormat
	}
	if req.Dimensions > 0 {
		payload["dimensions"] = req.Dimensions
	}
	var raw struct {
		Model string `json:"model"`
		Data  []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Usage struct {
			PromptTokens int `json:"prompt_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := p.DoJSON(ctx, "POST /embeddings", http.MethodPost, p.tr.url("/embeddings"), p.tr.Headers(), payload, &raw); err != nil {
		return nil, err
	}
	out := &model.EmbeddingResponse{
		Model:    raw.Model,
		Provider: p.Name(),
		Usage: map[string]int{
			"prompt_tokens": raw.Usage.PromptTokens,
			"total_tokens":  raw.Usage.TotalTokens,
		},
	}
	if out.Model == "" {
		out.Model = modelID
	}
	for _, d := range raw.Data {
		out.Data = append(out.Data, model.EmbeddingData{
			Index:     d.Index,
			Embedding: d.Embedding,
			Object:    "embedding",
		})
	}
	return out, nil
}

// ─── Tier 2: batches ───

type batchPayload struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
	CompletedAt   int64  `json:"completed_at"`
	OutputFileID  string `json:"output_file_id"`
	RequestCounts struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
}

// CreateBatch uploads the requests as a JSONL file and creates a batch
// referencing it.
func (p *Provider) CreateBatch(ctx context.Context, req *model.BatchCreateRequest) (*model.BatchStatus, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.DefaultModel()
	}
	var jsonl bytes.Buffer
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
		line, err := json.Marshal(map[string]any{
			"custom_id": customID,
			"method":    "POST",
			"url":       "/v1/chat/completions",
			"body":      params,
		})
		if err != nil {
			return nil, fmt.Errorf("openai: marshal batch line: %w", err)
		}
		jsonl.Write(line)
		jsonl.WriteByte('\n')
	}

	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	part, err := w.CreateFormFile("file", "batch.jsonl")
	if err != nil {
		return nil, fmt.Errorf("openai: build upload form: %w", err)
	}
	if _, err := part.Write(jsonl.Bytes()); err != nil {
		return nil, fmt.Errorf("openai: build upload form: %w", err)
	}
	if err := w.WriteField("purpose", "batch"); err != nil {
		return nil, fmt.Errorf("openai: build upload form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("openai: build upload form: %w", err)
	}
	body, err := p.DoBody(ctx, "POST /batches", http.MethodPost, p.tr.url("/files"),
		p.tr.bareHeaders(), w.FormDataContentType(), &form)
	if err != nil {
		return nil, err
	}
	var file struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("openai: decode file upload response: %w", err)
	}

	var raw batchPayload
	if err := p.DoJSON(ctx, "POST /batches", http.MethodPost, p.tr.url("/batches"), p.tr.Headers(), map[string]any{
		"input_file_id":     file.ID,
		"endpoint":          "/v1/chat/completions",
		"completion_window": "24h",
	}, &raw); err != nil {
		return nil, err
	}
	return p.batchStatus(raw), nil
}

// ListBatches lists known batches.
func (p *Provider) ListBatches(ctx context.Context) (*model.BatchListResponse, error) {
	var raw struct {
		Data []batchPayload `json:"data"`
	}
	if err := p.DoJSON(ctx, "GET /batches", http.MethodGet, p.tr.url("/batches"), p.tr.bareHeaders(), nil, &raw); err != nil {
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
	if err := p.DoJSON(ctx, "GET /batches/{id}", http.MethodGet, p.tr.url("/batches/"+id), p.tr.bareHeaders(), nil, &raw); err != nil {
		return nil, err
	}
	return p.batchStatus(raw), nil
}

// CancelBatch requests cancellation of one batch.
func (p *Provider) CancelBatch(ctx context.Context, id string) (*model.BatchStatus, error) {
	var raw batchPayload
	if err := p.DoJSON(ctx, "POST /batches/{id}/cancel", http.MethodPost, p.tr.url("/batches/"+id+"/cancel"), p.tr.Headers(), nil, &raw); err != nil {
		return nil, err
	}
	return p.batchStatus(raw), nil
}

// BatchResults fetches the batch, then downloads its output file and parses
// the JSON lines.
func (p *Provider) BatchResults(ctx context.Context, id string) (*model.BatchResultsResponse, error) {
	var raw batchPayload
	if err := p.DoJSON(ctx, "GET /batches/{id}/results", http.MethodGet, p.tr.url("/batches/"+id), p.tr.bareHeaders(), nil, &raw); err != nil {
		return nil, err
	}
	out := &model.BatchResultsResponse{BatchID: id, Provider: p.Name()}
	if raw.OutputFileID == "" {
		return out, nil
	}
	body, err := p.DoBody(ctx, "GET /batches/{id}/results", http.MethodGet,
		p.tr.url("/files/"+raw.OutputFileID+"/content"), p.tr.bareHeaders(), "", nil)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	for dec.More() {
		var item struct {
			CustomID string `json:"custom_id"`
			Response struct {
				Body map[string]any `json:"body"`
			} `json:"response"`
			Error map[string]any `json:"error"`
		}
		if err := dec.Decode(&item); err != nil {
			return nil, fmt.Errorf("openai: decode batch result line: %w", err)
		}
		out.Results = append(out.Results, model.BatchResultItem{
			CustomID: item.CustomID,
			Result:   item.Response.Body,
			Error:    item.Error,
		})
	}
	return out, nil
}

func (p *Provider) batchStatus(raw batchPayload) *model.BatchStatus {
	status := raw.Status
	if status == "" {
		status = "unknown"
	}
	out := &model.BatchStatus{
		ID:                raw.ID,
		Status:            status,
		TotalRequests:     raw.RequestCounts.Total,
		CompletedRequests: raw.RequestCounts.Completed,
		FailedRequests:    raw.RequestCounts.Failed,
		Provider:          p.Name(),
	}
	if raw.CreatedAt > 0 {
		out.CreatedAt = strconv.FormatInt(raw.CreatedAt, 10)
	}
	if raw.CompletedAt > 0 {
		out.EndedAt = strconv.FormatInt(raw.CompletedAt, 10)
	}
	return out
}

// ─── Tier 3: moderation ───

// CreateModeration classifies the input against the content policy.
func (p *Provider) CreateModeration(ctx context.Context, req *model.ModerationRequest) (*model.ModerationResponse, error) {
	payload := map[string]any{"input": []string(req.Input)}
	if req.Model != "" {
		payload["model"] = req.Model
	}
	var raw struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Results []struct {
			Flagged        bool               `json:"flagged"`
			Categories     map[string]bool    `json:"categories"`
			CategoryScores map[string]float64 `json:"category_scores"`
		} `json:"results"`
	}
	if err := p.DoJSON(ctx, "POST /moderations", http.MethodPost, p.tr.url("/moderations"), p.tr.Headers(), payload, &raw); err != nil {
		return nil, err
	}
	out := &model.ModerationResponse{ID: raw.ID, Model: raw.Model, Provider: p.Name()}
	for _, r := range raw.Results {
		out.Results = append(out.Results, model.ModerationResult{
			Flagged:        r.Flagged,
			Categories:     r.Categories,
			CategoryScores: r.CategoryScores,
		})
	}
	return out, nil
}

// ─── Tier 3: audio ───

// TranscribeAudio converts speech to text via a multipart upload.
func (p *Provider) TranscribeAudio(ctx context.Context, data []byte, filename string, opts model.AudioOptions) (*model.AudioResponse, error) {
	return p.audioCall(ctx, "POST /audio/transcriptions", "/audio/transcriptions", data, filename, opts, true)
}

// TranslateAudio converts speech to English text via a multipart upload.
func (p *Provider) TranslateAudio(ctx context.Context, data []byte, filename string, opts model.AudioOptions) (*model.AudioResponse, error) {
	return p.audioCall(ctx, "POST /audio/translations", "/audio/translations", data, filename, opts, false)
}

func (p *Provider) audioCall(ctx context.Context, op, path string, data []byte, filename string, opts model.AudioOptions, withLanguage bool) (*model.AudioResponse, error) {
	modelID := opts.Model
	if modelID == "" {
		modelID = p.Config().AudioModel
	}
	if modelID == "" {
		modelID = defaultAudioModel
	}
	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("openai: build audio form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("openai: build audio form: %w", err)
	}
	fields := map[string]string{"model": modelID}
	if withLanguage && opts.Language != "" {
		fields["language"] = opts.Language
	}
	if opts.Prompt != "" {
		fields["prompt"] = opts.Prompt
	}
	if opts.ResponseFormat != "" {
		fields["response_format"] = opts.ResponseFormat
	}
	if opts.Temperature != nil {
		fields["temperature"] = strconv.FormatFloat(*opts.Temperature, 'f', -1, 64)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("openai: build audio form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("openai: build audio form: %w", err)
	}
	body, err := p.DoBody(ctx, op, http.MethodPost, p.tr.url(path), p.tr.bareHeaders(), w.FormDataContentType(), &form)
	if err != nil {
		return nil, err
	}
	text := string(body)
	var raw struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &raw); err == nil && raw.Text != "" {
		text = raw.Text
	}
	return &model.AudioResponse{Text: text, Model: modelID, Provider: p.Name()}, nil
}

// CreateSpeech synthesizes speech and returns the binary audio body.
func (p *Provider) CreateSpeech(ctx context.Context, req *model.AudioSpeechRequest) ([]byte, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.Config().TTSModel
	}
	if modelID == "" {
		modelID = defaultTTSModel
	}
	payload := map[string]any{"model": modelID, "input": req.Input, "voice": req.Voice}
	if req.ResponseFormat != "" {
		payload["response_format"] = req.ResponseFormat
	}
	if req.Speed != nil {
		payload["speed"] = *req.Speed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal speech payload: %w", err)
	}
	return p.DoBody(ctx, "POST /audio/speech", http.MethodPost, p.tr.url("/audio/speech"),
		p.tr.bareHeaders(), "application/json", bytes.NewReader(data))
}

// ─── Tier 3: images ───

// GenerateImage synthesizes images from a prompt.
func (p *Provider) GenerateImage(ctx context.Context, req *model.ImageGenerationRequest) (*model.ImageResponse, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.Config().ImageModel
	}
	if modelID == "" {
		modelID = defaultImageModel
	}
	n := req.N
	if n <= 0 {
		n = 1
	}
	payload := map[string]any{"model": modelID, "prompt": req.Prompt, "n": n}
	if req.Size != "" {
		payload["size"] = req.Size
	}
	if req.Quality != "" {
		payload["quality"] = req.Quality
	}
	if req.Style != "" {
		payload["style"] = req.Style
	}
	if req.ResponseFormat != "" {
		payload["response_format"] = req.ResponseFormat
	}
	var raw imagePayload
	if err := p.DoJSON(ctx, "POST /images/generations", http.MethodPost, p.tr.url("/images/generations"), p.tr.Headers(), payload, &raw); err != nil {
		return nil, err
	}
	return p.imageResponse(raw, modelID), nil
}

// EditImage performs a prompted edit of the uploaded image, with an
// optional mask.
func (p *Provider) EditImage(ctx context.Context, image, mask []byte, req *model.ImageEditRequest) (*model.ImageResponse, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = defaultEditModel
	}
	n := req.N
	if n <= 0 {
		n = 1
	}
	fields := map[string]string{"prompt": req.Prompt, "model": modelID, "n": strconv.Itoa(n)}
	if req.Size != "" {
		fields["size"] = req.Size
	}
	files := map[string][]byte{"image": image}
	if len(mask) > 0 {
		files["mask"] = mask
	}
	raw, err := p.imageForm(ctx, "POST /images/edits", "/images/edits", files, fields)
	if err != nil {
		return nil, err
	}
	return p.imageResponse(*raw, modelID), nil
}

// CreateImageVariation requests variations of the uploaded image.
func (p *Provider) CreateImageVariation(ctx context.Context, image []byte, req *model.ImageVariationRequest) (*model.ImageResponse, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = defaultEditModel
	}
	n := req.N
	if n <= 0 {
		n = 1
	}
	fields := map[string]string{"model": modelID, "n": strconv.Itoa(n)}
	if req.Size != "" {
		fields["size"] = req.Size
	}
	raw, err := p.imageForm(ctx, "POST /images/variations", "/images/variations",
		map[string][]byte{"image": image}, fields)
	if err != nil {
		return nil, err
	}
	return p.imageResponse(*raw, modelID), nil
}

type imagePayload struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

func (p *Provider) imageForm(ctx context.Context, op, path string, files map[string][]byte, fields map[string]string) (*imagePayload, error) {
	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	for name, data := range files {
		part, err := w.CreateFormFile(name, name+".png")
		if err != nil {
			return nil, fmt.Errorf("openai: build image form: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, fmt.Errorf("openai: build image form: %w", err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("openai: build image form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("openai: build image form: %w", err)
	}
	body, err := p.DoBody(ctx, op, http.MethodPost, p.tr.url(path), p.tr.bareHeaders(), w.FormDataContentType(), &form)
	if err != nil {
		return nil, err
	}
	var raw imagePayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("openai: decode image response: %w", err)
	}
	return &raw, nil
}

func (p *Provider) imageResponse(raw imagePayload, modelID string) *model.ImageResponse {
	out := &model.ImageResponse{Model: modelID, Provider: p.Name()}
	for _, d := range raw.Data {
		out.Data = append(out.Data, model.ImageData{
			URL:           d.URL,
			B64JSON:       d.B64JSON,
			RevisedPrompt: d.RevisedPrompt,
		})
	}
	return out
}
