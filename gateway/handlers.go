package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cuber-it/heinzel-ki/command"
	"github.com/cuber-it/heinzel-ki/model"
)

// ─── Lifecycle and introspection ───

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Connect())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Disconnect())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Reset())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Health())
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Capabilities())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p := s.provider
	status := "ok"
	if !p.Connected() {
		status = "disconnected"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":         p.Name(),
		"connected":        p.Connected(),
		"status":           status,
		"default_model":    p.DefaultModel(),
		"available_models": p.Models(),
		"dialog_logging":   p.DialogLogger().Enabled(),
		"rate_limit_hits":  len(p.RateLimitHits()),
		"retry_config":     p.RetryConfig(),
	})
}

// ─── Tier 1: core ───

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.ModelsResponse{
		Models:   s.provider.Models(),
		Default:  s.provider.DefaultModel(),
		Provider: s.provider.Name(),
	})
}

func (s *Server) handleModelDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "model_id")
	detail, err := s.provider.ModelDetail(r.Context(), id)
	if err != nil {
		s.writeError(w, r, "GET /models/{id}", err)
		return
	}
	writeJSON(w, http.StatusOK, model.ModelDetailResponse{
		Model:    *detail,
		Provider: s.provider.Name(),
	})
}

// interceptCommand runs the in-band command protocol when the last message
// is a user-sent "!" command. The upstream is never contacted.
func (s *Server) interceptCommand(req *model.ChatRequest) (string, command.Result, bool) {
	if len(req.Messages) == 0 {
		return "", nil, false
	}
	last := req.Messages[len(req.Messages)-1]
	content := last.Content.PlainText()
	if last.Role != "user" || !command.IsCommand(content) {
		return "", nil, false
	}
	cmd, args := command.Extract(content)
	params := s.sessions.Get(req.Ctx().SessionID)
	return cmd, command.Execute(cmd, args, s.provider, params), true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if cmd, result, ok := s.interceptCommand(&req); ok {
		encoded, _ := json.Marshal(result)
		writeJSON(w, http.StatusOK, model.ChatResponse{
			Content:  fmt.Sprintf("[!%s] %s", cmd, encoded),
			Model:    s.provider.DefaultModel(),
			Usage:    model.Usage{},
			Provider: s.provider.Name(),
		})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	s.sessions.Get(req.Ctx().SessionID).Apply(&req)

	resp, err := s.provider.Chat(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, "POST /chat", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sse := newSSEWriter(w)
	if cmd, result, ok := s.interceptCommand(&req); ok {
		_ = sse.send(model.StreamChunk{
			Type:    model.ChunkTypeCommandResponse,
			Command: cmd,
			Result:  result,
		})
		sse.done()
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	s.sessions.Get(req.Ctx().SessionID).Apply(&req)

	err := s.provider.ChatStream(r.Context(), &req, sse.send)
	if err != nil && !sse.started {
		s.writeError(w, r, "POST /chat/stream", err)
		return
	}
	if err == nil {
		sse.done()
	}
}

func (s *Server) handleTokenCount(w http.ResponseWriter, r *http.Request) {
	var req model.TokenCountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.provider.CountTokens(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, "POST /tokens/count", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Tier 2: extended ───

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req model.EmbeddingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.provider.CreateEmbedding(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, "POST /embeddings", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req model.BatchCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.provider.CreateBatch(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, "POST /batches", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	resp, err := s.provider.ListBatches(r.Context())
	if err != nil {
		s.writeError(w, r, "GET /batches", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.provider.GetBatch(r.Context(), chi.URLParam(r, "batch_id"))
	if err != nil {
		s.writeError(w, r, "GET /batches/{id}", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.provider.CancelBatch(r.Context(), chi.URLParam(r, "batch_id"))
	if err != nil {
		s.writeError(w, r, "POST /batches/{id}/cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBatchResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.provider.BatchResults(r.Context(), chi.URLParam(r, "batch_id"))
	if err != nil {
		s.writeError(w, r, "GET /batches/{id}/results", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Tier 3: specialized ───

func (s *Server) handleModerations(w http.ResponseWriter, r *http.Request) {
	var req model.ModerationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.provider.CreateModeration(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, "POST /moderations", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// formFile reads one uploaded file from a multipart form.
func formFile(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("missing %q upload: %w", field, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("read %q upload: %w", field, err)
	}
	return data, header.Filename, nil
}

func audioOptions(r *http.Request, withLanguage bool) model.AudioOptions {
	opts := model.AudioOptions{
		Model:          r.FormValue("model"),
		Prompt:         r.FormValue("prompt"),
		ResponseFormat: r.FormValue("response_format"),
	}
	if withLanguage {
		opts.Language = r.FormValue("language")
	}
	if raw := r.FormValue("temperature"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			opts.Temperature = &v
		}
	}
	return opts
}

func (s *Server) handleAudioTranscriptions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	data, filename, err := formFile(r, "file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	resp, err := s.provider.TranscribeAudio(r.Context(), data, filename, audioOptions(r, true))
	if err != nil {
		s.writeError(w, r, "POST /audio/transcriptions", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudioTranslations(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	data, filename, err := formFile(r, "file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	resp, err := s.provider.TranslateAudio(r.Context(), data, filename, audioOptions(r, false))
	if err != nil {
		s.writeError(w, r, "POST /audio/translations", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

var speechMediaTypes = map[string]string{
	"mp3": "audio/mpeg", "opus": "audio/opus", "aac": "audio/aac",
	"flac": "audio/flac", "wav": "audio/wav", "pcm": "audio/pcm",
}

func (s *Server) handleAudioSpeech(w http.ResponseWriter, r *http.Request) {
	var req model.AudioSpeechRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	audio, err := s.provider.CreateSpeech(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, "POST /audio/speech", err)
		return
	}
	format := req.ResponseFormat
	if format == "" {
		format = "mp3"
	}
	mt, ok := speechMediaTypes[format]
	if !ok {
		mt = "audio/mpeg"
	}
	w.Header().Set("Content-Type", mt)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "speech."+format))
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

func (s *Server) handleImageGenerations(w http.ResponseWriter, r *http.Request) {
	var req model.ImageGenerationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.provider.GenerateImage(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, "POST /images/generations", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleImageEdits(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	image, _, err := formFile(r, "image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	var mask []byte
	if file, _, err := r.FormFile("mask"); err == nil {
		mask, _ = readAll(file)
	}
	req := &model.ImageEditRequest{
		Prompt:         r.FormValue("prompt"),
		Model:          r.FormValue("model"),
		N:              formInt(r, "n", 1),
		Size:           r.FormValue("size"),
		ResponseFormat: r.FormValue("response_format"),
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "prompt is required"})
		return
	}
	resp, err := s.provider.EditImage(r.Context(), image, mask, req)
	if err != nil {
		s.writeError(w, r, "POST /images/edits", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleImageVariations(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	image, _, err := formFile(r, "image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	req := &model.ImageVariationRequest{
		Model:          r.FormValue("model"),
		N:              formInt(r, "n", 1),
		Size:           r.FormValue("size"),
		ResponseFormat: r.FormValue("response_format"),
	}
	resp, err := s.provider.CreateImageVariation(r.Context(), image, req)
	if err != nil {
		s.writeError(w, r, "POST /images/variations", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func readAll(file multipart.File) ([]byte, error) {
	defer file.Close()
	return io.ReadAll(file)
}

func formInt(r *http.Request, field string, def int) int {
	if raw := r.FormValue(field); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}
